package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const attendanceColumns = `id, tenant_id, student_id, class_id, enrollment_id, date, state, check_in, check_out, teacher_user_id, notes, created_at`

// AttendanceRepository persists attendance rows.
type AttendanceRepository struct {
	db *sqlx.DB
}

// NewAttendanceRepository constructs an AttendanceRepository.
func NewAttendanceRepository(db *sqlx.DB) *AttendanceRepository {
	return &AttendanceRepository{db: db}
}

// Create inserts an attendance row. An existing (student, class, date) row yields ErrDuplicate.
func (r *AttendanceRepository) Create(ctx context.Context, exec sqlx.ExtContext, a *models.Attendance) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = time.Now().UTC()
	const query = `INSERT INTO attendance (` + attendanceColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		a.ID, a.TenantID, a.StudentID, a.ClassID, a.EnrollmentID, a.Date, a.State, a.CheckIn, a.CheckOut,
		a.TeacherUserID, a.Notes, a.CreatedAt); err != nil {
		return writeError("create attendance", err)
	}
	return nil
}

// Exists reports whether the student already has a row for the class on date.
func (r *AttendanceRepository) Exists(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID, classID string, date time.Time) (bool, error) {
	const query = `SELECT 1 FROM attendance WHERE tenant_id = $1 AND student_id = $2 AND class_id = $3 AND date = $4 LIMIT 1`
	return r.exists(ctx, exec, query, tenantID, studentID, classID, date)
}

// ExistsForClassDate reports whether any attendance was taken for the class on date.
func (r *AttendanceRepository) ExistsForClassDate(ctx context.Context, exec sqlx.ExtContext, tenantID, classID string, date time.Time) (bool, error) {
	const query = `SELECT 1 FROM attendance WHERE tenant_id = $1 AND class_id = $2 AND date = $3 LIMIT 1`
	return r.exists(ctx, exec, query, tenantID, classID, date)
}

func (r *AttendanceRepository) exists(ctx context.Context, exec sqlx.ExtContext, query string, args ...interface{}) (bool, error) {
	var one int
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &one, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("check attendance: %w", err)
	}
	return true, nil
}

func attendanceWhere(tenantID string, filter models.AttendanceFilter) *where {
	w := newWhere("tenant_id", tenantID)
	if filter.StudentID != "" {
		w.add("student_id = $%[1]d", filter.StudentID)
	}
	if filter.ClassID != "" {
		w.add("class_id = $%[1]d", filter.ClassID)
	}
	if filter.EnrollmentID != "" {
		w.add("enrollment_id = $%[1]d", filter.EnrollmentID)
	}
	if filter.State != "" {
		w.add("state = $%[1]d", filter.State)
	}
	if filter.DateFrom != nil {
		w.add("date >= $%[1]d", *filter.DateFrom)
	}
	if filter.DateTo != nil {
		w.add("date <= $%[1]d", *filter.DateTo)
	}
	return w
}

// List returns attendance rows matching the filter, latest date first.
func (r *AttendanceRepository) List(ctx context.Context, tenantID string, filter models.AttendanceFilter) ([]models.Attendance, int, error) {
	w := attendanceWhere(tenantID, filter)
	limit, offset := filter.Normalize()

	query := fmt.Sprintf(`SELECT %s FROM attendance %s ORDER BY date DESC, created_at DESC LIMIT %d OFFSET %d`, attendanceColumns, w, limit, offset)
	var rows []models.Attendance
	if err := r.db.SelectContext(ctx, &rows, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM attendance %s`, w), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance: %w", err)
	}
	return rows, total, nil
}

// Summary counts rows per state for the filter. Pagination fields are ignored.
func (r *AttendanceRepository) Summary(ctx context.Context, exec sqlx.ExtContext, tenantID string, filter models.AttendanceFilter) (models.AttendanceSummary, error) {
	w := attendanceWhere(tenantID, filter)
	query := fmt.Sprintf(`SELECT COUNT(*) AS total,
        COUNT(*) FILTER (WHERE state = 'present') AS present,
        COUNT(*) FILTER (WHERE state = 'absent') AS absent,
        COUNT(*) FILTER (WHERE state = 'late') AS late,
        COUNT(*) FILTER (WHERE state = 'excused') AS excused
        FROM attendance %s`, w)
	var summary models.AttendanceSummary
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &summary, query, w.args...); err != nil {
		return summary, fmt.Errorf("summarise attendance: %w", err)
	}
	summary.Percentage = models.Percentage(summary.Present, summary.Total)
	return summary, nil
}
