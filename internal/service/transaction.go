package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/repository"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// txRunner wraps one service operation in a database transaction.
type txRunner struct {
	db      txProvider
	metrics *MetricsService
}

// run commits when fn returns nil and rolls back otherwise. fn's error is returned unchanged.
func (r txRunner) run(ctx context.Context, operation string, fn func(tx *sqlx.Tx) error) (err error) {
	if r.db == nil {
		return appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	start := time.Now()
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
		r.metrics.ObserveTransaction(operation, committed, time.Since(start))
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit transaction")
	}
	committed = true
	return nil
}

func internalError(err error, message string) error {
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, message)
}

// loadError maps sql.ErrNoRows to a not-found error naming the entity.
func loadError(err error, entity string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, entity+" not found")
	}
	return internalError(err, "failed to load "+entity)
}

// writeError maps unique violations to DuplicateRecord.
func writeError(err error, entity, message string) error {
	if errors.Is(err, repository.ErrDuplicate) {
		e := appErrors.Clone(appErrors.ErrDuplicateRecord, message)
		e.Err = err
		return e.With("entity", entity)
	}
	return internalError(err, "failed to save "+entity)
}

// transitionError maps a lost conditional update to InvalidStateTransition.
func transitionError(err error, entity, id, state, action string) error {
	if errors.Is(err, repository.ErrStaleState) {
		return appErrors.Transition(entity, id, state, action)
	}
	return internalError(err, "failed to update "+entity)
}

func validationError(err error, message string) error {
	return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, message)
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
