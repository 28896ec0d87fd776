package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const schoolColumns = `id, tenant_id, name, code, address, phone, email, active, created_at, updated_at`

// SchoolRepository persists schools.
type SchoolRepository struct {
	db *sqlx.DB
}

// NewSchoolRepository constructs a SchoolRepository.
func NewSchoolRepository(db *sqlx.DB) *SchoolRepository {
	return &SchoolRepository{db: db}
}

// Create inserts a school. A code already used by the tenant yields ErrDuplicate.
func (r *SchoolRepository) Create(ctx context.Context, exec sqlx.ExtContext, school *models.School) error {
	if school.ID == "" {
		school.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	school.CreatedAt, school.UpdatedAt = now, now
	const query = `INSERT INTO schools (` + schoolColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		school.ID, school.TenantID, school.Name, school.Code, school.Address, school.Phone, school.Email,
		school.Active, school.CreatedAt, school.UpdatedAt); err != nil {
		return writeError("create school", err)
	}
	return nil
}

// FindByID fetches a school scoped to the tenant.
func (r *SchoolRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.School, error) {
	const query = `SELECT ` + schoolColumns + ` FROM schools WHERE tenant_id = $1 AND id = $2`
	var school models.School
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &school, query, tenantID, id); err != nil {
		return nil, err
	}
	return &school, nil
}

// List returns schools matching the filter.
func (r *SchoolRepository) List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.School, int, error) {
	w := newWhere("tenant_id", tenantID)
	if filter.Active != nil {
		w.add("active = $%[1]d", *filter.Active)
	}
	if filter.Search != "" {
		w.add("(LOWER(name) LIKE $%[1]d OR LOWER(code) LIKE $%[1]d)", likePattern(filter.Search))
	}
	limit, offset := filter.Normalize()

	query := fmt.Sprintf(`SELECT %s FROM schools %s ORDER BY name ASC LIMIT %d OFFSET %d`, schoolColumns, w, limit, offset)
	var schools []models.School
	if err := r.db.SelectContext(ctx, &schools, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list schools: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM schools %s`, w), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count schools: %w", err)
	}
	return schools, total, nil
}

// Stats recomputes the school rollup. Students count while enrolled or suspended in one of the school's classes.
func (r *SchoolRepository) Stats(ctx context.Context, tenantID, id string) (*models.SchoolStats, error) {
	const query = `SELECT sc.id AS school_id,
        (SELECT COUNT(*) FROM departments d WHERE d.school_id = sc.id) AS total_departments,
        (SELECT COUNT(*) FROM students s
            JOIN classes c ON c.id = s.class_id
            JOIN departments d ON d.id = c.department_id
            WHERE d.school_id = sc.id AND s.state IN ('enrolled', 'suspended')) AS total_students
        FROM schools sc WHERE sc.tenant_id = $1 AND sc.id = $2`
	var stats models.SchoolStats
	if err := r.db.GetContext(ctx, &stats, query, tenantID, id); err != nil {
		return nil, err
	}
	return &stats, nil
}
