package models

import "time"

// ContactReply is an admin reply to a contact form message.
type ContactReply struct {
	ID               string    `json:"id"`
	ContactMessageID string    `json:"contact_message_id"`
	Body             string    `json:"body"`
	CreatedAt        time.Time `json:"created_at"`
}
