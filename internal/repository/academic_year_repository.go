package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

const academicYearColumns = `id, tenant_id, school_id, name, code, start_date, end_date, state, created_at, updated_at`

// AcademicYearRepository persists academic years.
type AcademicYearRepository struct {
	db *sqlx.DB
}

// NewAcademicYearRepository constructs an AcademicYearRepository.
func NewAcademicYearRepository(db *sqlx.DB) *AcademicYearRepository {
	return &AcademicYearRepository{db: db}
}

// Create inserts an academic year. A name already used by the school yields ErrDuplicate.
func (r *AcademicYearRepository) Create(ctx context.Context, exec sqlx.ExtContext, year *models.AcademicYear) error {
	if year.ID == "" {
		year.ID = uuid.NewString()
	}
	if year.State == "" {
		year.State = models.AcademicYearDraft
	}
	now := time.Now().UTC()
	year.CreatedAt, year.UpdatedAt = now, now
	const query = `INSERT INTO academic_years (` + academicYearColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		year.ID, year.TenantID, year.SchoolID, year.Name, year.Code, year.StartDate, year.EndDate,
		year.State, year.CreatedAt, year.UpdatedAt); err != nil {
		return writeError("create academic year", err)
	}
	return nil
}

// FindByID fetches an academic year scoped to the tenant.
func (r *AcademicYearRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.AcademicYear, error) {
	const query = `SELECT ` + academicYearColumns + ` FROM academic_years WHERE tenant_id = $1 AND id = $2`
	var year models.AcademicYear
	if err := sqlx.GetContext(ctx, pick(r.db, exec), &year, query, tenantID, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// LockByID fetches the row with FOR UPDATE. exec must be a transaction.
func (r *AcademicYearRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.AcademicYear, error) {
	const query = `SELECT ` + academicYearColumns + ` FROM academic_years WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	var year models.AcademicYear
	if err := sqlx.GetContext(ctx, exec, &year, query, tenantID, id); err != nil {
		return nil, err
	}
	return &year, nil
}

// UpdateState moves the year from one state to another, returning ErrStaleState when it was not in from.
func (r *AcademicYearRepository) UpdateState(ctx context.Context, exec sqlx.ExtContext, tenantID, id string, from, to models.AcademicYearState) error {
	const query = `UPDATE academic_years SET state = $4, updated_at = $5 WHERE tenant_id = $1 AND id = $2 AND state = $3`
	res, err := pick(r.db, exec).ExecContext(ctx, query, tenantID, id, from, to, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update academic year state: %w", err)
	}
	return expectOne(res, "update academic year state")
}

// List returns academic years matching the filter, newest first.
func (r *AcademicYearRepository) List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.AcademicYear, int, error) {
	w := newWhere("tenant_id", tenantID)
	if filter.SchoolID != "" {
		w.add("school_id = $%[1]d", filter.SchoolID)
	}
	if filter.Search != "" {
		w.add("LOWER(name) LIKE $%[1]d", likePattern(filter.Search))
	}
	limit, offset := filter.Normalize()

	query := fmt.Sprintf(`SELECT %s FROM academic_years %s ORDER BY start_date DESC LIMIT %d OFFSET %d`, academicYearColumns, w, limit, offset)
	var years []models.AcademicYear
	if err := r.db.SelectContext(ctx, &years, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list academic years: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM academic_years %s`, w), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count academic years: %w", err)
	}
	return years, total, nil
}

// Stats recomputes the year rollup.
func (r *AcademicYearRepository) Stats(ctx context.Context, tenantID, id string) (*models.AcademicYearStats, error) {
	const query = `SELECT y.id AS academic_year_id,
        (SELECT COUNT(*) FROM classes c WHERE c.academic_year_id = y.id) AS total_classes,
        (SELECT COUNT(*) FROM students s JOIN classes c ON c.id = s.class_id
            WHERE c.academic_year_id = y.id AND s.state IN ('enrolled', 'suspended')) AS total_students
        FROM academic_years y WHERE y.tenant_id = $1 AND y.id = $2`
	var stats models.AcademicYearStats
	if err := r.db.GetContext(ctx, &stats, query, tenantID, id); err != nil {
		return nil, err
	}
	return &stats, nil
}
