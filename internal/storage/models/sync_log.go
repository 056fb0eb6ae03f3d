package models

import "time"

// Job kinds recorded in the sync log.
const (
	JobKindMySideline            = "mysideline"
	JobKindContactReplyRetention = "contact_reply_retention"
)

// SyncLog status constants.
const (
	SyncStatusRunning   = "RUNNING"
	SyncStatusCompleted = "COMPLETED"
	SyncStatusFailed    = "FAILED"
)

// Trigger sources.
const (
	TriggerScheduled = "scheduled"
	TriggerManual    = "manual"
	TriggerStartup   = "startup"
)

// SyncLog records one attempt of a scheduled job.
type SyncLog struct {
	ID              string     `json:"id"`
	JobKind         string     `json:"job_kind"`
	StartedAt       time.Time  `json:"started_at"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	Status          string     `json:"status"`
	TriggerSource   string     `json:"trigger_source"`
	EventsProcessed int        `json:"events_processed"`
	EventsCreated   int        `json:"events_created"`
	EventsUpdated   int        `json:"events_updated"`
	ErrorMessage    *string    `json:"error_message,omitempty"`
	Environment     string     `json:"environment"`
}

// SyncCounters are recorded on a completed sync.
type SyncCounters struct {
	EventsProcessed int `json:"events_processed"`
	EventsCreated   int `json:"events_created"`
	EventsUpdated   int `json:"events_updated"`
}

// SyncMeta describes how a sync was started.
type SyncMeta struct {
	TriggerSource string
	Environment   string
}
