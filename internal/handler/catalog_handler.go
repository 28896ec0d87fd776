package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/service"
	"github.com/noah-isme/sma-enrollment-api/pkg/response"
)

type catalogService interface {
	CreateSchool(ctx context.Context, tenantID string, req service.CreateSchoolRequest) (*models.School, error)
	ListSchools(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.School, *models.Pagination, error)
	CreateDepartment(ctx context.Context, tenantID string, req service.CreateDepartmentRequest) (*models.Department, error)
	ListDepartments(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Department, *models.Pagination, error)
	SchoolStats(ctx context.Context, tenantID, id string) (*models.SchoolStats, error)
	DepartmentStats(ctx context.Context, tenantID, id string) (*models.DepartmentStats, error)
	CreateAcademicYear(ctx context.Context, tenantID string, req service.CreateAcademicYearRequest) (*models.AcademicYear, error)
	ActivateAcademicYear(ctx context.Context, tenantID, id string) (*models.AcademicYear, error)
	CloseAcademicYear(ctx context.Context, tenantID, id string) (*models.AcademicYear, error)
	ListAcademicYears(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.AcademicYear, *models.Pagination, error)
	AcademicYearStats(ctx context.Context, tenantID, id string) (*models.AcademicYearStats, error)
	CreateClass(ctx context.Context, tenantID string, req service.CreateClassRequest) (*models.Class, error)
	ListClasses(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Class, *models.Pagination, error)
	ClassStats(ctx context.Context, tenantID, id string) (*models.ClassStats, error)
	CreateCourse(ctx context.Context, tenantID string, req service.CreateCourseRequest) (*models.Course, error)
	GetCourse(ctx context.Context, tenantID, id string) (*models.Course, error)
	SetPrerequisites(ctx context.Context, tenantID, courseID string, prerequisiteIDs []string) (*models.Course, error)
	ListCourses(ctx context.Context, tenantID string, filter models.CatalogFilter) ([]models.Course, *models.Pagination, error)
	CourseStats(ctx context.Context, tenantID, id string) (*models.CourseStats, error)
}

// CatalogHandler exposes schools, departments, academic years, classes and courses.
type CatalogHandler struct {
	catalog catalogService
}

// NewCatalogHandler constructs CatalogHandler.
func NewCatalogHandler(catalog catalogService) *CatalogHandler {
	return &CatalogHandler{catalog: catalog}
}

// SetPrerequisitesRequest replaces a course's prerequisite set.
type SetPrerequisitesRequest struct {
	PrerequisiteIDs []string `json:"prerequisite_ids"`
}

func catalogFilter(c *gin.Context) models.CatalogFilter {
	return models.CatalogFilter{
		SchoolID:       c.Query("schoolId"),
		DepartmentID:   c.Query("departmentId"),
		AcademicYearID: c.Query("academicYearId"),
		Active:         queryBool(c, "active"),
		Search:         strings.TrimSpace(c.Query("search")),
		PageRequest:    pageRequest(c),
	}
}

// CreateSchool godoc
// @Summary Create school
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateSchoolRequest true "School payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /schools [post]
func (h *CatalogHandler) CreateSchool(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.CreateSchoolRequest
	if !bindJSON(c, &req) {
		return
	}
	school, err := h.catalog.CreateSchool(c.Request.Context(), tenantID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, school)
}

// ListSchools godoc
// @Summary List schools
// @Tags Catalog
// @Produce json
// @Param search query string false "Search by name or code"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /schools [get]
func (h *CatalogHandler) ListSchools(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	items, pagination, err := h.catalog.ListSchools(c.Request.Context(), tenantID, catalogFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// CreateDepartment godoc
// @Summary Create department
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateDepartmentRequest true "Department payload"
// @Success 201 {object} response.Envelope
// @Router /departments [post]
func (h *CatalogHandler) CreateDepartment(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.CreateDepartmentRequest
	if !bindJSON(c, &req) {
		return
	}
	dept, err := h.catalog.CreateDepartment(c.Request.Context(), tenantID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dept)
}

// ListDepartments godoc
// @Summary List departments
// @Tags Catalog
// @Produce json
// @Param schoolId query string false "Filter by school"
// @Success 200 {object} response.Envelope
// @Router /departments [get]
func (h *CatalogHandler) ListDepartments(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	items, pagination, err := h.catalog.ListDepartments(c.Request.Context(), tenantID, catalogFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// SchoolStats godoc
// @Summary School roll-up
// @Tags Catalog
// @Produce json
// @Param id path string true "School ID"
// @Success 200 {object} response.Envelope
// @Router /schools/{id}/stats [get]
func (h *CatalogHandler) SchoolStats(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	stats, err := h.catalog.SchoolStats(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// DepartmentStats godoc
// @Summary Department roll-up
// @Tags Catalog
// @Produce json
// @Param id path string true "Department ID"
// @Success 200 {object} response.Envelope
// @Router /departments/{id}/stats [get]
func (h *CatalogHandler) DepartmentStats(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	stats, err := h.catalog.DepartmentStats(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// CreateAcademicYear godoc
// @Summary Create academic year
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateAcademicYearRequest true "Academic year payload"
// @Success 201 {object} response.Envelope
// @Router /academic-years [post]
func (h *CatalogHandler) CreateAcademicYear(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.CreateAcademicYearRequest
	if !bindJSON(c, &req) {
		return
	}
	year, err := h.catalog.CreateAcademicYear(c.Request.Context(), tenantID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, year)
}

// ActivateAcademicYear godoc
// @Summary Activate academic year
// @Tags Catalog
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /academic-years/{id}/activate [post]
func (h *CatalogHandler) ActivateAcademicYear(c *gin.Context) {
	h.moveAcademicYear(c, h.catalog.ActivateAcademicYear)
}

// CloseAcademicYear godoc
// @Summary Close academic year
// @Tags Catalog
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /academic-years/{id}/close [post]
func (h *CatalogHandler) CloseAcademicYear(c *gin.Context) {
	h.moveAcademicYear(c, h.catalog.CloseAcademicYear)
}

func (h *CatalogHandler) moveAcademicYear(c *gin.Context, move func(ctx context.Context, tenantID, id string) (*models.AcademicYear, error)) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	year, err := move(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, year, nil)
}

// ListAcademicYears godoc
// @Summary List academic years
// @Tags Catalog
// @Produce json
// @Param schoolId query string false "Filter by school"
// @Success 200 {object} response.Envelope
// @Router /academic-years [get]
func (h *CatalogHandler) ListAcademicYears(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	items, pagination, err := h.catalog.ListAcademicYears(c.Request.Context(), tenantID, catalogFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// AcademicYearStats godoc
// @Summary Academic year roll-up
// @Tags Catalog
// @Produce json
// @Param id path string true "Academic year ID"
// @Success 200 {object} response.Envelope
// @Router /academic-years/{id}/stats [get]
func (h *CatalogHandler) AcademicYearStats(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	stats, err := h.catalog.AcademicYearStats(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// CreateClass godoc
// @Summary Create class
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateClassRequest true "Class payload"
// @Success 201 {object} response.Envelope
// @Router /classes [post]
func (h *CatalogHandler) CreateClass(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.CreateClassRequest
	if !bindJSON(c, &req) {
		return
	}
	class, err := h.catalog.CreateClass(c.Request.Context(), tenantID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, class)
}

// ListClasses godoc
// @Summary List classes
// @Tags Catalog
// @Produce json
// @Param departmentId query string false "Filter by department"
// @Param academicYearId query string false "Filter by academic year"
// @Success 200 {object} response.Envelope
// @Router /classes [get]
func (h *CatalogHandler) ListClasses(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	items, pagination, err := h.catalog.ListClasses(c.Request.Context(), tenantID, catalogFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// ClassStats godoc
// @Summary Class occupancy
// @Tags Catalog
// @Produce json
// @Param id path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /classes/{id}/stats [get]
func (h *CatalogHandler) ClassStats(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	stats, err := h.catalog.ClassStats(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// CreateCourse godoc
// @Summary Create course
// @Tags Catalog
// @Accept json
// @Produce json
// @Param payload body service.CreateCourseRequest true "Course payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses [post]
func (h *CatalogHandler) CreateCourse(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.CreateCourseRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.catalog.CreateCourse(c.Request.Context(), tenantID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, course)
}

// GetCourse godoc
// @Summary Get course
// @Tags Catalog
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id} [get]
func (h *CatalogHandler) GetCourse(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	course, err := h.catalog.GetCourse(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// SetPrerequisites godoc
// @Summary Replace course prerequisites
// @Tags Catalog
// @Accept json
// @Produce json
// @Param id path string true "Course ID"
// @Param payload body SetPrerequisitesRequest true "Prerequisite ids"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /courses/{id}/prerequisites [put]
func (h *CatalogHandler) SetPrerequisites(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req SetPrerequisitesRequest
	if !bindJSON(c, &req) {
		return
	}
	course, err := h.catalog.SetPrerequisites(c.Request.Context(), tenantID, c.Param("id"), req.PrerequisiteIDs)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, course, nil)
}

// ListCourses godoc
// @Summary List courses
// @Tags Catalog
// @Produce json
// @Param departmentId query string false "Filter by department"
// @Param active query bool false "Filter by active flag"
// @Success 200 {object} response.Envelope
// @Router /courses [get]
func (h *CatalogHandler) ListCourses(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	items, pagination, err := h.catalog.ListCourses(c.Request.Context(), tenantID, catalogFilter(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// CourseStats godoc
// @Summary Course enrollment counts
// @Tags Catalog
// @Produce json
// @Param id path string true "Course ID"
// @Success 200 {object} response.Envelope
// @Router /courses/{id}/stats [get]
func (h *CatalogHandler) CourseStats(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	stats, err := h.catalog.CourseStats(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}
