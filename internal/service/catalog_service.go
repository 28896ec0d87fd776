package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

type schoolStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, school *models.School) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.School, error)
	List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.School, int, error)
	Stats(ctx context.Context, tenantID, id string) (*models.SchoolStats, error)
}

type departmentStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, dept *models.Department) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Department, error)
	List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Department, int, error)
	Stats(ctx context.Context, tenantID, id string) (*models.DepartmentStats, error)
}

type academicYearStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, year *models.AcademicYear) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.AcademicYear, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.AcademicYear, error)
	UpdateState(ctx context.Context, exec sqlx.ExtContext, tenantID, id string, from, to models.AcademicYearState) error
	List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.AcademicYear, int, error)
	Stats(ctx context.Context, tenantID, id string) (*models.AcademicYearStats, error)
}

type classStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, class *models.Class) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Class, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Class, error)
	List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Class, int, error)
	Stats(ctx context.Context, tenantID, id string) (*models.ClassStats, error)
}

type courseStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, course *models.Course) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Course, error)
	LockByID(ctx context.Context, exec sqlx.ExtContext, tenantID, id string) (*models.Course, error)
	FindByIDs(ctx context.Context, exec sqlx.ExtContext, tenantID string, ids []string) ([]models.Course, error)
	LockPrerequisiteGraph(ctx context.Context, exec sqlx.ExtContext, tenantID string) error
	PrerequisiteGraph(ctx context.Context, exec sqlx.ExtContext, tenantID string) (map[string][]string, error)
	ReplacePrerequisites(ctx context.Context, exec sqlx.ExtContext, courseID string, prerequisiteIDs []string) error
	RequiredByDepartment(ctx context.Context, exec sqlx.ExtContext, tenantID, departmentID string) ([]models.Course, error)
	List(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Course, int, error)
	Stats(ctx context.Context, tenantID, id string) (*models.CourseStats, error)
}

// CreateSchoolRequest is the payload for registering a school.
type CreateSchoolRequest struct {
	Name    string  `json:"name" validate:"required"`
	Code    string  `json:"code" validate:"required,max=32"`
	Address *string `json:"address"`
	Phone   *string `json:"phone"`
	Email   *string `json:"email" validate:"omitempty,email"`
}

// CreateDepartmentRequest is the payload for a department.
type CreateDepartmentRequest struct {
	SchoolID string  `json:"school_id" validate:"required"`
	Name     string  `json:"name" validate:"required"`
	Code     *string `json:"code"`
}

// CreateAcademicYearRequest is the payload for an academic year.
type CreateAcademicYearRequest struct {
	SchoolID  string    `json:"school_id" validate:"required"`
	Name      string    `json:"name" validate:"required"`
	Code      *string   `json:"code"`
	StartDate time.Time `json:"start_date" validate:"required"`
	EndDate   time.Time `json:"end_date" validate:"required"`
}

// CreateClassRequest is the payload for a class.
type CreateClassRequest struct {
	Name           string  `json:"name" validate:"required"`
	Code           *string `json:"code"`
	DepartmentID   string  `json:"department_id" validate:"required"`
	AcademicYearID string  `json:"academic_year_id" validate:"required"`
	TeacherUserID  *string `json:"teacher_user_id"`
	Capacity       *int    `json:"capacity" validate:"omitempty,min=0"`
	Gender         *string `json:"gender" validate:"omitempty,oneof=male female mixed"`
}

// CreateCourseRequest is the payload for a course.
type CreateCourseRequest struct {
	Name            string   `json:"name" validate:"required"`
	Code            *string  `json:"code"`
	DepartmentID    string   `json:"department_id" validate:"required"`
	TeacherUserID   *string  `json:"teacher_user_id"`
	ProductRef      *string  `json:"product_ref"`
	FeeAmount       float64  `json:"fee_amount" validate:"min=0"`
	Capacity        int      `json:"capacity" validate:"min=0"`
	Required        bool     `json:"required"`
	Credits         int      `json:"credits" validate:"min=0"`
	DurationHours   float64  `json:"duration_hours" validate:"min=0"`
	PrerequisiteIDs []string `json:"prerequisite_ids"`
}

// CatalogService manages schools, departments, academic years, classes and courses.
type CatalogService struct {
	schools     schoolStore
	departments departmentStore
	years       academicYearStore
	classes     classStore
	courses     courseStore
	tx          txRunner
	validator   *validator.Validate
	logger      *zap.Logger
}

// NewCatalogService constructs CatalogService.
func NewCatalogService(db txProvider, schools schoolStore, departments departmentStore, years academicYearStore, classes classStore, courses courseStore, metrics *MetricsService, validate *validator.Validate, logger *zap.Logger) *CatalogService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CatalogService{
		schools:     schools,
		departments: departments,
		years:       years,
		classes:     classes,
		courses:     courses,
		tx:          txRunner{db: db, metrics: metrics},
		validator:   validate,
		logger:      logger,
	}
}

// CreateSchool registers a school. Codes are unique per tenant.
func (s *CatalogService) CreateSchool(ctx context.Context, tenantID string, req CreateSchoolRequest) (*models.School, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid school payload")
	}
	school := &models.School{
		TenantID: tenantID,
		Name:     strings.TrimSpace(req.Name),
		Code:     strings.TrimSpace(req.Code),
		Address:  req.Address,
		Phone:    req.Phone,
		Email:    req.Email,
		Active:   true,
	}
	if err := s.schools.Create(ctx, nil, school); err != nil {
		return nil, writeError(err, "school", "school code already exists")
	}
	s.logger.Info("school created", zap.String("tenant_id", tenantID), zap.String("school_id", school.ID))
	return school, nil
}

// ListSchools returns schools with pagination metadata.
func (s *CatalogService) ListSchools(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.School, *models.Pagination, error) {
	filter.Normalize()
	items, total, err := s.schools.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list schools")
	}
	return items, filter.Paginate(total), nil
}

// CreateDepartment adds a department to an existing school.
func (s *CatalogService) CreateDepartment(ctx context.Context, tenantID string, req CreateDepartmentRequest) (*models.Department, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid department payload")
	}
	if _, err := s.schools.FindByID(ctx, nil, tenantID, req.SchoolID); err != nil {
		return nil, loadError(err, "school")
	}
	dept := &models.Department{
		TenantID: tenantID,
		SchoolID: req.SchoolID,
		Name:     strings.TrimSpace(req.Name),
		Code:     req.Code,
		Active:   true,
	}
	if err := s.departments.Create(ctx, nil, dept); err != nil {
		return nil, writeError(err, "department", "department code already exists")
	}
	return dept, nil
}

// ListDepartments returns departments with pagination metadata.
func (s *CatalogService) ListDepartments(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Department, *models.Pagination, error) {
	filter.Normalize()
	items, total, err := s.departments.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list departments")
	}
	return items, filter.Paginate(total), nil
}

// SchoolStats rolls up a school.
func (s *CatalogService) SchoolStats(ctx context.Context, tenantID, id string) (*models.SchoolStats, error) {
	if _, err := s.schools.FindByID(ctx, nil, tenantID, id); err != nil {
		return nil, loadError(err, "school")
	}
	stats, err := s.schools.Stats(ctx, tenantID, id)
	if err != nil {
		return nil, internalError(err, "failed to compute school stats")
	}
	return stats, nil
}

// DepartmentStats rolls up a department.
func (s *CatalogService) DepartmentStats(ctx context.Context, tenantID, id string) (*models.DepartmentStats, error) {
	if _, err := s.departments.FindByID(ctx, nil, tenantID, id); err != nil {
		return nil, loadError(err, "department")
	}
	stats, err := s.departments.Stats(ctx, tenantID, id)
	if err != nil {
		return nil, internalError(err, "failed to compute department stats")
	}
	return stats, nil
}

// CreateAcademicYear adds a draft academic year. Names are unique per school.
func (s *CatalogService) CreateAcademicYear(ctx context.Context, tenantID string, req CreateAcademicYearRequest) (*models.AcademicYear, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid academic year payload")
	}
	start, end := dateOnly(req.StartDate), dateOnly(req.EndDate)
	if !end.After(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "end date must be after start date").
			With("start_date", start.Format("2006-01-02")).
			With("end_date", end.Format("2006-01-02"))
	}
	if _, err := s.schools.FindByID(ctx, nil, tenantID, req.SchoolID); err != nil {
		return nil, loadError(err, "school")
	}
	year := &models.AcademicYear{
		TenantID:  tenantID,
		SchoolID:  req.SchoolID,
		Name:      strings.TrimSpace(req.Name),
		Code:      req.Code,
		StartDate: start,
		EndDate:   end,
		State:     models.AcademicYearDraft,
	}
	if err := s.years.Create(ctx, nil, year); err != nil {
		return nil, writeError(err, "academic_year", "academic year name already exists for school")
	}
	return year, nil
}

// ActivateAcademicYear moves a draft year to active.
func (s *CatalogService) ActivateAcademicYear(ctx context.Context, tenantID, id string) (*models.AcademicYear, error) {
	return s.moveAcademicYear(ctx, tenantID, id, "activate", models.AcademicYearDraft, models.AcademicYearActive)
}

// CloseAcademicYear moves an active year to closed.
func (s *CatalogService) CloseAcademicYear(ctx context.Context, tenantID, id string) (*models.AcademicYear, error) {
	return s.moveAcademicYear(ctx, tenantID, id, "close", models.AcademicYearActive, models.AcademicYearClosed)
}

func (s *CatalogService) moveAcademicYear(ctx context.Context, tenantID, id, action string, from, to models.AcademicYearState) (*models.AcademicYear, error) {
	var year *models.AcademicYear
	err := s.tx.run(ctx, "academic_year."+action, func(tx *sqlx.Tx) error {
		var err error
		year, err = s.years.LockByID(ctx, tx, tenantID, id)
		if err != nil {
			return loadError(err, "academic year")
		}
		if year.State != from {
			return appErrors.Transition("academic_year", id, string(year.State), action)
		}
		if err := s.years.UpdateState(ctx, tx, tenantID, id, from, to); err != nil {
			return transitionError(err, "academic_year", id, string(from), action)
		}
		year.State = to
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("academic year transitioned", zap.String("tenant_id", tenantID), zap.String("academic_year_id", id), zap.String("state", string(to)))
	return year, nil
}

// ListAcademicYears returns academic years with pagination metadata.
func (s *CatalogService) ListAcademicYears(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.AcademicYear, *models.Pagination, error) {
	filter.Normalize()
	items, total, err := s.years.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list academic years")
	}
	return items, filter.Paginate(total), nil
}

// AcademicYearStats rolls up an academic year.
func (s *CatalogService) AcademicYearStats(ctx context.Context, tenantID, id string) (*models.AcademicYearStats, error) {
	if _, err := s.years.FindByID(ctx, nil, tenantID, id); err != nil {
		return nil, loadError(err, "academic year")
	}
	stats, err := s.years.Stats(ctx, tenantID, id)
	if err != nil {
		return nil, internalError(err, "failed to compute academic year stats")
	}
	return stats, nil
}

// CreateClass adds a class to a department and academic year.
func (s *CatalogService) CreateClass(ctx context.Context, tenantID string, req CreateClassRequest) (*models.Class, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid class payload")
	}
	if _, err := s.departments.FindByID(ctx, nil, tenantID, req.DepartmentID); err != nil {
		return nil, loadError(err, "department")
	}
	year, err := s.years.FindByID(ctx, nil, tenantID, req.AcademicYearID)
	if err != nil {
		return nil, loadError(err, "academic year")
	}
	if year.State == models.AcademicYearClosed {
		return nil, appErrors.Transition("academic_year", year.ID, string(year.State), "add class")
	}
	class := &models.Class{
		TenantID:       tenantID,
		Name:           strings.TrimSpace(req.Name),
		Code:           req.Code,
		DepartmentID:   req.DepartmentID,
		AcademicYearID: req.AcademicYearID,
		TeacherUserID:  req.TeacherUserID,
		Capacity:       req.Capacity,
		Gender:         req.Gender,
		Active:         true,
	}
	if err := s.classes.Create(ctx, nil, class); err != nil {
		return nil, writeError(err, "class", "class code already exists")
	}
	return class, nil
}

// ListClasses returns classes with pagination metadata.
func (s *CatalogService) ListClasses(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Class, *models.Pagination, error) {
	filter.Normalize()
	items, total, err := s.classes.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list classes")
	}
	return items, filter.Paginate(total), nil
}

// ClassStats reports the occupancy of a class.
func (s *CatalogService) ClassStats(ctx context.Context, tenantID, id string) (*models.ClassStats, error) {
	if _, err := s.classes.FindByID(ctx, nil, tenantID, id); err != nil {
		return nil, loadError(err, "class")
	}
	stats, err := s.classes.Stats(ctx, tenantID, id)
	if err != nil {
		return nil, internalError(err, "failed to compute class stats")
	}
	return stats, nil
}

// CreateCourse adds a course and its prerequisite set in one transaction.
func (s *CatalogService) CreateCourse(ctx context.Context, tenantID string, req CreateCourseRequest) (*models.Course, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, validationError(err, "invalid course payload")
	}
	if _, err := s.departments.FindByID(ctx, nil, tenantID, req.DepartmentID); err != nil {
		return nil, loadError(err, "department")
	}
	course := &models.Course{
		TenantID:      tenantID,
		Name:          strings.TrimSpace(req.Name),
		Code:          req.Code,
		DepartmentID:  req.DepartmentID,
		TeacherUserID: req.TeacherUserID,
		ProductRef:    req.ProductRef,
		FeeAmount:     req.FeeAmount,
		Capacity:      req.Capacity,
		Required:      req.Required,
		Credits:       req.Credits,
		DurationHours: req.DurationHours,
		Active:        true,
	}
	err := s.tx.run(ctx, "course.create", func(tx *sqlx.Tx) error {
		if err := s.courses.Create(ctx, tx, course); err != nil {
			return writeError(err, "course", "course code already exists")
		}
		ids, err := s.checkPrerequisites(ctx, tx, tenantID, course.ID, req.PrerequisiteIDs)
		if err != nil {
			return err
		}
		if err := s.courses.ReplacePrerequisites(ctx, tx, course.ID, ids); err != nil {
			return writeError(err, "course_prerequisite", "prerequisite already linked")
		}
		course.Prerequisites = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("course created", zap.String("tenant_id", tenantID), zap.String("course_id", course.ID))
	return course, nil
}

// GetCourse returns a course with its prerequisite ids.
func (s *CatalogService) GetCourse(ctx context.Context, tenantID, id string) (*models.Course, error) {
	course, err := s.courses.FindByID(ctx, nil, tenantID, id)
	if err != nil {
		return nil, loadError(err, "course")
	}
	return course, nil
}

// SetPrerequisites replaces the prerequisite set of a course, rejecting self references and cycles.
func (s *CatalogService) SetPrerequisites(ctx context.Context, tenantID, courseID string, prerequisiteIDs []string) (*models.Course, error) {
	var course *models.Course
	err := s.tx.run(ctx, "course.prerequisites", func(tx *sqlx.Tx) error {
		if err := s.courses.LockPrerequisiteGraph(ctx, tx, tenantID); err != nil {
			return internalError(err, "failed to lock prerequisite graph")
		}
		var err error
		course, err = s.courses.LockByID(ctx, tx, tenantID, courseID)
		if err != nil {
			return loadError(err, "course")
		}
		ids, err := s.checkPrerequisites(ctx, tx, tenantID, courseID, prerequisiteIDs)
		if err != nil {
			return err
		}
		if err := s.courses.ReplacePrerequisites(ctx, tx, courseID, ids); err != nil {
			return writeError(err, "course_prerequisite", "prerequisite already linked")
		}
		course.Prerequisites = ids
		return nil
	})
	if err != nil {
		return nil, err
	}
	return course, nil
}

// checkPrerequisites deduplicates ids and verifies they exist and keep the graph acyclic.
func (s *CatalogService) checkPrerequisites(ctx context.Context, exec sqlx.ExtContext, tenantID, courseID string, prerequisiteIDs []string) ([]string, error) {
	ids := uniqueSorted(prerequisiteIDs)
	if len(ids) == 0 {
		return ids, nil
	}
	for _, id := range ids {
		if id == courseID {
			return nil, appErrors.Clone(appErrors.ErrPrerequisiteCycle, "course cannot be its own prerequisite").
				With("course_id", courseID)
		}
	}
	found, err := s.courses.FindByIDs(ctx, exec, tenantID, ids)
	if err != nil {
		return nil, internalError(err, "failed to load prerequisite courses")
	}
	if len(found) != len(ids) {
		known := make(map[string]bool, len(found))
		for _, c := range found {
			known[c.ID] = true
		}
		var missing []string
		for _, id := range ids {
			if !known[id] {
				missing = append(missing, id)
			}
		}
		return nil, appErrors.Clone(appErrors.ErrNotFound, "prerequisite course not found").With("course_ids", missing)
	}
	graph, err := s.courses.PrerequisiteGraph(ctx, exec, tenantID)
	if err != nil {
		return nil, internalError(err, "failed to load prerequisite graph")
	}
	graph[courseID] = ids
	if path := findCycle(graph, courseID); path != nil {
		return nil, appErrors.Clone(appErrors.ErrPrerequisiteCycle, "").
			With("course_id", courseID).
			With("cycle", path)
	}
	return ids, nil
}

// findCycle returns a path from start back to start through the adjacency set, or nil.
func findCycle(graph map[string][]string, start string) []string {
	visited := make(map[string]bool)
	var walk func(node string, path []string) []string
	walk = func(node string, path []string) []string {
		for _, next := range graph[node] {
			if next == start {
				return append(path, next)
			}
			if visited[next] {
				continue
			}
			visited[next] = true
			if found := walk(next, append(path, next)); found != nil {
				return found
			}
		}
		return nil
	}
	return walk(start, []string{start})
}

// ListCourses returns courses with pagination metadata.
func (s *CatalogService) ListCourses(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Course, *models.Pagination, error) {
	filter.Normalize()
	items, total, err := s.courses.List(ctx, tenantID, filter)
	if err != nil {
		return nil, nil, internalError(err, "failed to list courses")
	}
	return items, filter.Paginate(total), nil
}

// CourseStats reports enrollment counts for a course.
func (s *CatalogService) CourseStats(ctx context.Context, tenantID, id string) (*models.CourseStats, error) {
	if _, err := s.courses.FindByID(ctx, nil, tenantID, id); err != nil {
		return nil, loadError(err, "course")
	}
	stats, err := s.courses.Stats(ctx, tenantID, id)
	if err != nil {
		return nil, internalError(err, fmt.Sprintf("failed to compute stats for course %s", id))
	}
	return stats, nil
}

func uniqueSorted(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
