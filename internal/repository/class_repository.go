package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const classColumns = `id, tenant_id, name, code, department_id, academic_year_id, teacher_user_id, capacity, gender, active, created_at, updated_at`

// ClassRepository persists classes.
type ClassRepository struct {
	db *sqlx.DB
}

// NewClassRepository constructs a ClassRepository.
func NewClassRepository(db *sqlx.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

// Create inserts a class.
func (r *ClassRepository) Create(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error {
	if class.ID == "" {
		class.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	class.CreatedAt, class.UpdatedAt = now, now
	const query = `INSERT INTO classes (` + classColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		class.ID, class.TenantID, class.Name, class.Code, class.DepartmentID, class.AcademicYearID,
		class.TeacherUserID, class.Capacity, class.Gender, class.Active, class.CreatedAt, class.UpdatedAt); err != nil {
		return writeError("create class", err)
	}
	return nil
}

// FindByID fetches a class scoped to the tenant.
func (r *ClassRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Class, error) {
	const query = `SELECT ` + classColumns + ` FROM classes WHERE tenant_id = $1 AND id = $2`
	var class models.Class
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &class, query, tenantID, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// LockByID fetches the class with FOR UPDATE, serialising seat checks on it. exec must be a transaction.
func (r *ClassRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Class, error) {
	const query = `SELECT ` + classColumns + ` FROM classes WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	var class models.Class
	if err := sqlx.GetContext(ctx, exec, &class, query, tenantID, id); err != nil {
		return nil, err
	}
	return &class, nil
}

// List returns classes matching the filter.
func (r *ClassRepository) List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Class, int, error) {
	w := newWhere("tenant_id", tenantID)
	if filter.DepartmentID != "" {
		w.add("department_id = $%[1]d", filter.DepartmentID)
	}
	if filter.AcademicYearID != "" {
		w.add("academic_year_id = $%[1]d", filter.AcademicYearID)
	}
	if filter.Active != nil {
		w.add("active = $%[1]d", *filter.Active)
	}
	if filter.Search != "" {
		w.add("(LOWER(name) LIKE $%[1]d OR LOWER(COALESCE(code, '')) LIKE $%[1]d)", likePattern(filter.Search))
	}
	limit, offset := filter.Normalize()

	query := fmt.Sprintf(`SELECT %s FROM classes %s ORDER BY name ASC LIMIT %d OFFSET %d`, classColumns, w, limit, offset)
	var classes []models.Class
	if err := r.db.SelectContext(ctx, &classes, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list classes: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM classes %s`, w), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count classes: %w", err)
	}
	return classes, total, nil
}

// Stats recomputes class occupancy from enrolled and suspended students.
func (r *ClassRepository) Stats(ctx context.Context, tenantID, id string) (*models.ClassStats, error) {
	const query = `SELECT c.id AS class_id, c.capacity,
        (SELECT COUNT(*) FROM students s WHERE s.class_id = c.id AND s.state IN ('enrolled', 'suspended')) AS total_students
        FROM classes c WHERE c.tenant_id = $1 AND c.id = $2`
	var stats models.ClassStats
	if err := r.db.GetContext(ctx, &stats, query, tenantID, id); err != nil {
		return nil, err
	}
	if stats.Capacity != nil && *stats.Capacity > 0 {
		available := *stats.Capacity - stats.TotalStudents
		if available < 0 {
			available = 0
		}
		stats.AvailableCapacity = &available
	}
	return &stats, nil
}
