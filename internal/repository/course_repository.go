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

const courseColumns = `id, tenant_id, name, code, department_id, teacher_user_id, product_ref, fee_amount, capacity, required, credits, duration_hours, active, created_at, updated_at`

// CourseRepository persists courses and their prerequisite adjacency.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs a CourseRepository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Create inserts a course without prerequisites.
func (r *CourseRepository) Create(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error {
	if course.ID == "" {
		course.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	course.CreatedAt, course.UpdatedAt = now, now
	const query = `INSERT INTO courses (` + courseColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`
	if _, err := pick(r.db, exec).ExecContext(ctx, query,
		course.ID, course.TenantID, course.Name, course.Code, course.DepartmentID, course.TeacherUserID,
		course.ProductRef, course.FeeAmount, course.Capacity, course.Required, course.Credits,
		course.DurationHours, course.Active, course.CreatedAt, course.UpdatedAt); err != nil {
		return writeError("create course", err)
	}
	return nil
}

// FindByID fetches a course with its prerequisite ids.
func (r *CourseRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Course, error) {
	const query = `SELECT ` + courseColumns + ` FROM courses WHERE tenant_id = $1 AND id = $2`
	return r.get(ctx, pick(r.db, exec), query, tenantID, id)
}

// LockByID fetches the course with FOR UPDATE, serialising capacity checks on it. exec must be a transaction.
func (r *CourseRepository) LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Course, error) {
	const query = `SELECT ` + courseColumns + ` FROM courses WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	return r.get(ctx, exec, query, tenantID, id)
}

func (r *CourseRepository) get(ctx context.Context, exec sqlx.ExtContext, query, tenantID, id string) (*models.Course, error) {
	var course models.Course
	if err := sqlx.GetContext(ctx, exec, &course, query, tenantID, id); err != nil {
		return nil, err
	}
	prereqs, err := r.PrerequisiteIDs(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	course.Prerequisites = prereqs
	return &course, nil
}

// PrerequisiteIDs returns the direct prerequisites of a course.
func (r *CourseRepository) PrerequisiteIDs(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]string, error) {
	const query = `SELECT prerequisite_id FROM course_prerequisites WHERE course_id = $1 ORDER BY prerequisite_id`
	ids := []string{}
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &ids, query, courseID); err != nil {
		return nil, fmt.Errorf("list prerequisites: %w", err)
	}
	return ids, nil
}

// FindByIDs returns the tenant's courses among ids.
func (r *CourseRepository) FindByIDs(ctx context.Context, exec sqlx.ExtContext, tenantID string, ids []string) ([]models.Course, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	const query = `SELECT ` + courseColumns + ` FROM courses WHERE tenant_id = $1 AND id = ANY($2) ORDER BY name`
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &courses, query, tenantID, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("find courses: %w", err)
	}
	return courses, nil
}

// LockPrerequisiteGraph takes a transaction scoped advisory lock on the tenant's prerequisite graph.
// Writers holding it see a stable graph while checking for cycles. exec must be a transaction.
func (r *CourseRepository) LockPrerequisiteGraph(ctx context.Context, exec sqlx.ExtContext, tenantID string) error {
	if _, err := pick(r.db, exec).ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "course_prerequisites:"+tenantID); err != nil {
		return fmt.Errorf("lock prerequisite graph: %w", err)
	}
	return nil
}

// PrerequisiteGraph loads the tenant's whole prerequisite adjacency set keyed by course id.
func (r *CourseRepository) PrerequisiteGraph(ctx context.Context, exec sqlx.ExtContext, tenantID string) (map[string][]string, error) {
	const query = `SELECT cp.course_id, cp.prerequisite_id FROM course_prerequisites cp
        JOIN courses c ON c.id = cp.course_id WHERE c.tenant_id = $1`
	var edges []struct {
		CourseID       string `db:"course_id"`
		PrerequisiteID string `db:"prerequisite_id"`
	}
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &edges, query, tenantID); err != nil {
		return nil, fmt.Errorf("load prerequisite graph: %w", err)
	}
	graph := make(map[string][]string)
	for _, e := range edges {
		graph[e.CourseID] = append(graph[e.CourseID], e.PrerequisiteID)
	}
	return graph, nil
}

// ReplacePrerequisites overwrites the prerequisite set of a course.
func (r *CourseRepository) ReplacePrerequisites(ctx context.Context, exec sqlx.ExtContext, courseID string, prerequisiteIDs []string) error {
	target := pick(r.db, exec)
	if _, err := target.ExecContext(ctx, `DELETE FROM course_prerequisites WHERE course_id = $1`, courseID); err != nil {
		return fmt.Errorf("clear prerequisites: %w", err)
	}
	for _, id := range prerequisiteIDs {
		if _, err := target.ExecContext(ctx, `INSERT INTO course_prerequisites (course_id, prerequisite_id) VALUES ($1, $2)`, courseID, id); err != nil {
			return writeError("insert prerequisite", err)
		}
	}
	return nil
}

// RequiredByDepartment lists the required courses of a department.
func (r *CourseRepository) RequiredByDepartment(ctx context.Context, exec sqlx.ExtContext, tenantID, departmentID string) ([]models.Course, error) {
	const query = `SELECT ` + courseColumns + ` FROM courses WHERE tenant_id = $1 AND department_id = $2 AND required = TRUE ORDER BY name`
	var courses []models.Course
	if err := sqlx.SelectContext(ctx, pick(r.db, exec), &courses, query, tenantID, departmentID); err != nil {
		return nil, fmt.Errorf("list required courses: %w", err)
	}
	return courses, nil
}

// List returns courses matching the filter.
func (r *CourseRepository) List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Course, int, error) {
	w := newWhere("tenant_id", tenantID)
	if filter.DepartmentID != "" {
		w.add("department_id = $%[1]d", filter.DepartmentID)
	}
	if filter.Active != nil {
		w.add("active = $%[1]d", *filter.Active)
	}
	if filter.Search != "" {
		w.add("(LOWER(name) LIKE $%[1]d OR LOWER(COALESCE(code, '')) LIKE $%[1]d)", likePattern(filter.Search))
	}
	limit, offset := filter.Normalize()

	query := fmt.Sprintf(`SELECT %s FROM courses %s ORDER BY name ASC LIMIT %d OFFSET %d`, courseColumns, w, limit, offset)
	var courses []models.Course
	if err := r.db.SelectContext(ctx, &courses, query, w.args...); err != nil {
		return nil, 0, fmt.Errorf("list courses: %w", err)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf(`SELECT COUNT(*) FROM courses %s`, w), w.args...); err != nil {
		return nil, 0, fmt.Errorf("count courses: %w", err)
	}
	return courses, total, nil
}

// Stats recomputes enrollment counts for a course. Active means confirmed or enrolled.
func (r *CourseRepository) Stats(ctx context.Context, tenantID, id string) (*models.CourseStats, error) {
	const query = `SELECT c.id AS course_id, c.capacity,
        (SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id) AS total_enrollments,
        (SELECT COUNT(*) FROM enrollments e WHERE e.course_id = c.id AND e.state IN ('confirmed', 'enrolled')) AS active_enrollments
        FROM courses c WHERE c.tenant_id = $1 AND c.id = $2`
	var stats models.CourseStats
	if err := r.db.GetContext(ctx, &stats, query, tenantID, id); err != nil {
		return nil, err
	}
	if stats.Capacity > 0 {
		available := stats.Capacity - stats.ActiveEnrollments
		if available < 0 {
			available = 0
		}
		stats.AvailableCapacity = &available
	}
	return &stats, nil
}
