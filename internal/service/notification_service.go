package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/pkg/jobs"
)

const followUpJobType = "follow_up"

// Notifier schedules follow-ups for users. Delivery is fire-and-forget.
type Notifier interface {
	ScheduleFollowUp(ctx context.Context, tenantID, userID, note string)
}

type jobSubmitter interface {
	Submit(job jobs.Job) error
}

type followUpWriter interface {
	Create(ctx context.Context, f *models.FollowUp) error
}

// QueueNotifier hands follow-ups to the background job queue.
type QueueNotifier struct {
	queue   jobSubmitter
	metrics *MetricsService
	logger  *zap.Logger
}

// NewQueueNotifier constructs a QueueNotifier.
func NewQueueNotifier(queue jobSubmitter, metrics *MetricsService, logger *zap.Logger) *QueueNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueNotifier{queue: queue, metrics: metrics, logger: logger}
}

// ScheduleFollowUp enqueues the note. Empty recipients are ignored and queue failures are only logged.
func (n *QueueNotifier) ScheduleFollowUp(ctx context.Context, tenantID, userID, note string) {
	if userID == "" {
		return
	}
	job := jobs.Job{
		ID:       uuid.NewString(),
		Type:     followUpJobType,
		TenantID: tenantID,
		Payload:  models.FollowUp{TenantID: tenantID, UserID: userID, Note: note},
	}
	if err := n.queue.Submit(job); err != nil {
		n.metrics.RecordFollowUp("dropped")
		n.logger.Warn("follow up not queued", zap.String("tenant_id", tenantID), zap.String("user_id", userID), zap.Error(err))
		return
	}
	n.metrics.RecordFollowUp("queued")
}

// FollowUpHandler persists queued follow-ups.
func FollowUpHandler(store followUpWriter, metrics *MetricsService) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		if job.Type != followUpJobType {
			return fmt.Errorf("unexpected job type %q", job.Type)
		}
		payload, ok := job.Payload.(models.FollowUp)
		if !ok {
			return errors.New("follow up payload malformed")
		}
		if err := store.Create(ctx, &payload); err != nil {
			metrics.RecordFollowUp("failed")
			return err
		}
		metrics.RecordFollowUp("delivered")
		return nil
	}
}
