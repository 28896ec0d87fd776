package repository

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrDuplicate reports a unique constraint violation.
	ErrDuplicate = errors.New("duplicate record")
	// ErrStaleState reports a conditional update that matched no row because the state moved.
	ErrStaleState = errors.New("row is no longer in the expected state")
)

const pqUniqueViolation = "23505"

// DuplicateConstraint returns the violated constraint name when err wraps a unique violation.
func DuplicateConstraint(err error) (string, bool) {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == pqUniqueViolation {
		return pqErr.Constraint, true
	}
	return "", false
}

func writeError(op string, err error) error {
	if constraint, ok := DuplicateConstraint(err); ok {
		return fmt.Errorf("%s: %w (%s)", op, ErrDuplicate, constraint)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func expectOne(res sql.Result, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", op, ErrStaleState)
	}
	return nil
}

func pick(db *sqlx.DB, exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return db
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

func newWhere(tenantCol, tenantID string) *where {
	return &where{conds: []string{tenantCol + " = $1"}, args: []interface{}{tenantID}}
}

// add appends a condition; format receives the next placeholder index as %[1]d.
func (w *where) add(format string, value interface{}) {
	w.args = append(w.args, value)
	w.conds = append(w.conds, fmt.Sprintf(format, len(w.args)))
}

func (w *where) String() string {
	return "WHERE " + strings.Join(w.conds, " AND ")
}

func likePattern(search string) string {
	return "%" + strings.ToLower(strings.TrimSpace(search)) + "%"
}
