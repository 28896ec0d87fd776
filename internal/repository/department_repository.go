package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const departmentColumns = `id, tenant_id, school_id, name, code, active, created_at, updated_at`

// DepartmentRepository persists departments.
type DepartmentRepository struct {
	db *sqlx.DB
}

// NewDepartmentRepository constructs a DepartmentRepository.
func NewDepartmentRepository(db *sqlx.DB) *DepartmentRepository {
	return &DepartmentRepository{db: db}
}

// Create inserts a department.
func (r *DepartmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, dept *models.Department) error {
	if dept.ID == "" {
		dept.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	dept.CreatedAt, dept.UpdatedAt = now, now
	const query = `INSERT INTO departments (` + departmentColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		dept.ID, dept.TenantID, dept.SchoolID, dept.Name, dept.Code, dept.Active, dept.CreatedAt, dept.UpdatedAt); err != nil {
		return writeError("create department", err)
	}
	return nil
}

// FindByID fetches a department scoped to the tenant.
func (r *DepartmentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Department, error) {
	const query = `SELECT ` + departmentColumns + ` FROM departments WHERE tenant_id = $1 AND id = $2`
	var dept models.Department
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &dept, query, tenantID, id); err != nil {
		return nil, err
	}
	return &dept, nil
}

// List returns departments matching the filter.
func (r *DepartmentRepository) List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Department, int, error) {
	w := newWhere("tenant_id", tenantID)
	if filter.SchoolID != "" {
		w.add("school_id = $%[1]d", filter.SchoolID)
	}
	if filter.Active != nil {
		w.add("active = $%[1]d", *filter.Active)
	}
	if filter.Search != "" {
		w.add("LOWER(name) LIKE $%[1]d", likePattern(filter.Search))
	}
	limit, offset := filter.Normalize()

	query := fmt.Sprintf(`SELECT %s FROM departments %s ORDER BY name ASC LIMIT %d OFFSET %d`, departmentColumns, w, limit, offset)
	var depts []models.Department
	if err := r.db.SelectContext(ctx, &depts, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list departments: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM departments %s`, w), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count departments: %w", err)
	}
	return depts, total, nil
}

// Stats recomputes the department rollup.
func (r *DepartmentRepository) Stats(ctx context.Context, tenantID, id string) (*models.DepartmentStats, error) {
	const query = `SELECT d.id AS department_id,
        (SELECT COUNT(*) FROM classes c WHERE c.department_id = d.id) AS total_classes,
        (SELECT COUNT(*) FROM courses co WHERE co.department_id = d.id) AS total_courses,
        (SELECT COUNT(*) FROM students s JOIN classes c ON c.id = s.class_id
            WHERE c.department_id = d.id AND s.state IN ('enrolled', 'suspended')) AS total_students
        FROM departments d WHERE d.tenant_id = $1 AND d.id = $2`
	var stats models.DepartmentStats
	if err := r.db.GetContext(ctx, &stats, query, tenantID, id); err != nil {
		return nil, err
	}
	return &stats, nil
}
