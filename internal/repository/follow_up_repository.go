package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

// FollowUpRepository stores reminders delivered by the notification queue.
type FollowUpRepository struct {
	db *sqlx.DB
}

// NewFollowUpRepository constructs a FollowUpRepository.
func NewFollowUpRepository(db *sqlx.DB) *FollowUpRepository {
	return &FollowUpRepository{db: db}
}

// Create inserts a follow-up.
func (r *FollowUpRepository) Create(ctx context.Context, f *models.FollowUp) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO follow_ups (id, tenant_id, user_id, note, created_at) VALUES ($1, $2, $3, $4, $5)`
	if _, err := r.db.ExecContext(ctx, query, f.ID, f.TenantID, f.UserID, f.Note, f.CreatedAt); err != nil {
		return fmt.Errorf("create follow up: %w", err)
	}
	return nil
}
