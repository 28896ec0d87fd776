package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const enrollmentColumns = `id, tenant_id, student_id, course_id, enrollment_date, state, invoice_id, grade, score, completion_date, cancellation_reason, notes, created_at, updated_at`

// EnrollmentRepository handles persistence for course enrollments.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs an EnrollmentRepository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

// Create inserts a draft enrollment. An existing (student, course) pair yields ErrDuplicate.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, e *models.Enrollment) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.State == "" {
		e.State = models.EnrollmentDraft
	}
	now := time.Now().UTC()
	if e.EnrollmentDate.IsZero() {
		e.EnrollmentDate = now
	}
	e.CreatedAt, e.UpdatedAt = now, now
	const query = `INSERT INTO enrollments (` + enrollmentColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		e.ID, e.TenantID, e.StudentID, e.CourseID, e.EnrollmentDate, e.State, e.InvoiceID, e.Grade, e.Score,
		e.CompletionDate, e.CancellationReason, e.Notes, e.CreatedAt, e.UpdatedAt); err != nil {
		return writeError("create enrollment", err)
	}
	return nil
}

// FindByID fetches an enrollment scoped to the tenant.
func (r *EnrollmentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE tenant_id = $1 AND id = $2`
	var e models.Enrollment
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &e, query, tenantID, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// LockByID fetches the enrollment with FOR UPDATE. exec must be a transaction.
func (r *EnrollmentRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	var e models.Enrollment
	if err := sqlx.GetContext(ctx, exec, &e, query, tenantID, id); err != nil {
		return nil, err
	}
	return &e, nil
}

// FindDetailByID fetches an enrollment with student and course names.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error) {
	const query = `SELECT e.id, e.tenant_id, e.student_id, e.course_id, e.enrollment_date, e.state, e.invoice_id, e.grade,
        e.score, e.completion_date, e.cancellation_reason, e.notes, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS course_name
        FROM enrollments e
        JOIN students s ON s.id = e.student_id
        JOIN courses c ON c.id = e.course_id
        WHERE e.tenant_id = $1 AND e.id = $2`
	var detail models.EnrollmentDetail
	if err := r.db.GetContext(ctx, &detail, query, tenantID, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// List returns enrollments matching the filter, newest first.
func (r *EnrollmentRepository) List(ctx context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	w := newWhere("e.tenant_id", tenantID)
	if filter.StudentID != "" {
		w.add("e.student_id = $%[1]d", filter.StudentID)
	}
	if filter.CourseID != "" {
		w.add("e.course_id = $%[1]d", filter.CourseID)
	}
	if filter.State != "" {
		w.add("e.state = $%[1]d", filter.State)
	}
	limit, offset := filter.Normalize()

	base := fmt.Sprintf(`FROM enrollments e JOIN students s ON s.id = e.student_id JOIN courses c ON c.id = e.course_id %s`, w)
	query := fmt.Sprintf(`SELECT e.id, e.tenant_id, e.student_id, e.course_id, e.enrollment_date, e.state, e.invoice_id, e.grade,
        e.score, e.completion_date, e.cancellation_reason, e.notes, e.created_at, e.updated_at,
        s.full_name AS student_name, c.name AS course_name
        %s ORDER BY e.created_at DESC LIMIT %d OFFSET %d`, base, limit, offset)

	var items []models.EnrollmentDetail
	if err := r.db.SelectContext(ctx, &items, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) `+base, w.args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return items, total, nil
}

// UpdateLifecycle persists the mutable columns of e, guarded on the state it was read in.
// ErrStaleState means a concurrent writer moved the row first.
func (r *EnrollmentRepository) UpdateLifecycle(ctx context.Context, exec sqlx.ExtContext, e *models.Enrollment, from models.EnrollmentState) error {
	e.UpdatedAt = time.Now().UTC()
	const query = `UPDATE enrollments SET state = $4, enrollment_date = $5, grade = $6, score = $7,
        completion_date = $8, cancellation_reason = $9, notes = $10, updated_at = $11
        WHERE tenant_id = $1 AND id = $2 AND state = $3`
	res, err := pick(r.db, exec).ExecContext(ctx, query,
		e.TenantID, e.ID, from, e.State, e.EnrollmentDate, e.Grade, e.Score, e.CompletionDate,
		e.CancellationReason, e.Notes, e.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update enrollment: %w", err)
	}
	return expectOne(res, "update enrollment")
}

// AttachInvoice links an invoice once. ErrStaleState means an invoice was already attached.
func (r *EnrollmentRepository) AttachInvoice(ctx context.Context, exec sqlx.ExtContext, tenantID, id, invoiceID string) error {
	const query = `UPDATE enrollments SET invoice_id = $3, updated_at = $4 WHERE tenant_id = $1 AND id = $2 AND invoice_id IS NULL`
	res, err := pick(r.db, exec).ExecContext(ctx, query, tenantID, id, invoiceID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("attach invoice: %w", err)
	}
	return expectOne(res, "attach invoice")
}

// Delete removes a draft or cancelled enrollment. ErrStaleState means the row is in another state.
func (r *EnrollmentRepository) Delete(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) error {
	const query = `DELETE FROM enrollments WHERE tenant_id = $1 AND id = $2 AND state IN ('draft', 'cancelled')`
	res, err := pick(r.db, exec).ExecContext(ctx, query, tenantID, id)
	if err != nil {
		return fmt.Errorf("delete enrollment: %w", err)
	}
	return expectOne(res, "delete enrollment")
}

// CountActiveByCourse counts confirmed and enrolled enrollments of a course.
func (r *EnrollmentRepository) CountActiveByCourse(ctx context.Context, exec sqlx.ExtContext, tenantID, courseID string) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE tenant_id = $1 AND course_id = $2 AND state = ANY($3)`
	var count int
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &count, query, tenantID, courseID, pq.Array(models.ActiveEnrollmentStates)); err != nil {
		return 0, fmt.Errorf("count active enrollments: %w", err)
	}
	return count, nil
}

// CompletedCourseIDs returns the courses a student has completed.
func (r *EnrollmentRepository) CompletedCourseIDs(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID string) ([]string, error) {
	const query = `SELECT course_id FROM enrollments WHERE tenant_id = $1 AND student_id = $2 AND state = 'completed'`
	ids := []string{}
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &ids, query, tenantID, studentID); err != nil {
		return nil, fmt.Errorf("list completed courses: %w", err)
	}
	return ids, nil
}

// FindEnrolled returns the student's enrolled enrollment in a course.
func (r *EnrollmentRepository) FindEnrolled(ctx context.Context, exec sqlx.ExtContext, tenantID, studentID, courseID string) (*models.Enrollment, error) {
	const query = `SELECT ` + enrollmentColumns + ` FROM enrollments
        WHERE tenant_id = $1 AND student_id = $2 AND course_id = $3 AND state = 'enrolled'`
	var e models.Enrollment
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &e, query, tenantID, studentID, courseID); err != nil {
		return nil, err
	}
	return &e, nil
}

// Stats recomputes attendance totals over the rows linked to an enrollment.
func (r *EnrollmentRepository) Stats(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (models.EnrollmentStats, error) {
	const query = `SELECT COUNT(*) AS total_classes, COUNT(*) FILTER (WHERE state = 'present') AS attended_classes
        FROM attendance WHERE tenant_id = $1 AND enrollment_id = $2`
	var stats models.EnrollmentStats
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &stats, query, tenantID, id); err != nil {
		return stats, fmt.Errorf("compute enrollment stats: %w", err)
	}
	stats.AttendancePercentage = models.Percentage(stats.AttendedClasses, stats.TotalClasses)
	return stats, nil
}

// CountsForStudent returns the total and enrolled-state enrollment counts of a student.
func (r *EnrollmentRepository) CountsForStudent(ctx context.Context, tenantID, studentID string) (total, active int, err error) {
	const query = `SELECT COUNT(*) AS total, COUNT(*) FILTER (WHERE state = 'enrolled') AS active
        FROM enrollments WHERE tenant_id = $1 AND student_id = $2`
	var row struct {
		Total  int `db:"total"`
		Active int `db:"active"`
	}
	if err := r.db.GetContext(ctx, &row, query, tenantID, studentID); err != nil {
		return 0, 0, fmt.Errorf("count student enrollments: %w", err)
	}
	return row.Total, row.Active, nil
}
