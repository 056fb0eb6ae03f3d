package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/old-man-footy/backend/internal/storage/models"
)

// ContactReplyRepository provides data access for contact form replies.
type ContactReplyRepository struct {
	BaseRepository
}

// NewContactReplyRepository creates a new contact reply repository.
func NewContactReplyRepository(db *DB) *ContactReplyRepository {
	return &ContactReplyRepository{
		BaseRepository: NewBaseRepository(db),
	}
}

// Create inserts a reply, assigning its ID and, when unset, its timestamp.
func (r *ContactReplyRepository) Create(ctx context.Context, reply *models.ContactReply) error {
	reply.ID = GenerateID()
	if reply.CreatedAt.IsZero() {
		reply.CreatedAt = r.Now()
	}

	_, err := r.DB().ExecContext(ctx, `
		INSERT INTO contact_replies (id, contact_message_id, body, created_at)
		VALUES (?, ?, ?, ?)
	`, reply.ID, reply.ContactMessageID, reply.Body, reply.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("inserting contact reply: %w", err)
	}
	return nil
}

// DeleteOlderThan removes replies created before cutoff.
func (r *ContactReplyRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := r.DB().ExecContext(ctx,
		`DELETE FROM contact_replies WHERE created_at < ?`, cutoff.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("deleting contact replies: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("counting deleted contact replies: %w", err)
	}
	return n, nil
}

// Count returns the number of stored replies.
func (r *ContactReplyRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM contact_replies`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting contact replies: %w", err)
	}
	return n, nil
}
