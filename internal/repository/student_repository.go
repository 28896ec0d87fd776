package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const studentColumns = `id, tenant_id, party_id, code, full_name, gender, birth_date, class_id, state, enrollment_date, graduation_date, suspension_reason, guardian_party_ids, created_at, updated_at`

// StudentRepository manages persistence for student records.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Create inserts a new student record. A code already used by the tenant yields ErrDuplicate.
func (r *StudentRepository) Create(ctx context.Context, exec sqlx.ExtContext, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	if student.State == "" {
		student.State = models.StudentDraft
	}
	if student.GuardianPartyIDs == nil {
		student.GuardianPartyIDs = []string{}
	}
	now := time.Now().UTC()
	student.CreatedAt, student.UpdatedAt = now, now
	const query = `INSERT INTO students (` + studentColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		student.ID, student.TenantID, student.PartyID, student.Code, student.FullName, student.Gender,
		student.BirthDate, student.ClassID, student.State, student.EnrollmentDate, student.GraduationDate,
		student.SuspensionReason, student.GuardianPartyIDs, student.CreatedAt, student.UpdatedAt); err != nil {
		return writeError("create student", err)
	}
	return nil
}

// FindByID fetches a student scoped to the tenant.
func (r *StudentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE tenant_id = $1 AND id = $2`
	var student models.Student
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &student, query, tenantID, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// LockByID fetches the student with FOR UPDATE. exec must be a transaction.
func (r *StudentRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	var student models.Student
	if err := sqlx.GetContext(ctx, exec, &student, query, tenantID, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// UpdateLifecycle persists the lifecycle columns of student, guarded on the state it was read in.
func (r *StudentRepository) UpdateLifecycle(ctx context.Context, exec sqlx.ExtContext, student *models.Student, from models.StudentState) error {
	student.UpdatedAt = time.Now().UTC()
	const query = `UPDATE students SET state = $4, class_id = $5, enrollment_date = $6, graduation_date = $7,
        suspension_reason = $8, updated_at = $9
        WHERE tenant_id = $1 AND id = $2 AND state = $3`
	res, err := pick(r.db, exec).ExecContext(ctx, query,
		student.TenantID, student.ID, from, student.State, student.ClassID, student.EnrollmentDate,
		student.GraduationDate, student.SuspensionReason, student.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update student lifecycle: %w", err)
	}
	return expectOne(res, "update student lifecycle")
}

// CountSeated counts enrolled and suspended students of a class, excluding excludeID.
func (r *StudentRepository) CountSeated(ctx context.Context, exec sqlx.ExtContext, tenantID, classID, excludeID string) (int, error) {
	const query = `SELECT COUNT(*) FROM students
        WHERE tenant_id = $1 AND class_id = $2 AND state IN ('enrolled', 'suspended') AND id::text <> $3`
	var count int
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &count, query, tenantID, classID, excludeID); err != nil {
		return 0, fmt.Errorf("count class students: %w", err)
	}
	return count, nil
}

// ListEnrolledInClass returns the enrolled students of a class ordered by name.
func (r *StudentRepository) ListEnrolledInClass(ctx context.Context, exec sqlx.ExtContext, tenantID, classID string) ([]models.Student, error) {
	const query = `SELECT ` + studentColumns + ` FROM students
        WHERE tenant_id = $1 AND class_id = $2 AND state = 'enrolled' ORDER BY full_name`
	var students []models.Student
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &students, query, tenantID, classID); err != nil {
		return nil, fmt.Errorf("list class students: %w", err)
	}
	return students, nil
}

// List returns students matching the provided filters.
func (r *StudentRepository) List(ctx context.Context, tenantID string, filter models.StudentFilter) ([]models.Student, int, error) {
	w := newWhere("tenant_id", tenantID)
	if filter.ClassID != "" {
		w.add("class_id = $%[1]d", filter.ClassID)
	}
	if filter.State != "" {
		w.add("state = $%[1]d", filter.State)
	}
	if filter.Search != "" {
		w.add("(LOWER(full_name) LIKE $%[1]d OR LOWER(code) LIKE $%[1]d)", likePattern(filter.Search))
	}

	allowedSorts := map[string]string{
		"full_name":  "full_name",
		"code":       "code",
		"created_at": "created_at",
	}
	column, ok := allowedSorts[filter.SortBy]
	if !ok {
		column = "created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	limit, offset := filter.Normalize()

	query := fmt.Sprintf(`SELECT %s FROM students %s ORDER BY %s %s LIMIT %d OFFSET %d`, studentColumns, w, column, order, limit, offset)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM students %s`, w), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	return students, total, nil
}
