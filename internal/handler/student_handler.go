package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
	"github.com/noah-isme/sma-enrollment-api/pkg/response"
)

type studentService interface {
	Create(ctx context.Context, tenantID string, req service.CreateStudentRequest, opts service.CreateStudentOptions) (*models.Student, error)
	Get(ctx context.Context, tenantID, id string) (*models.StudentDetail, error)
	Stats(ctx context.Context, tenantID, id string) (*models.StudentStats, error)
	List(ctx context.Context, tenantID string, filter models.StudentFilter) ([]models.Student, *models.Pagination, error)
	Enroll(ctx context.Context, tenantID, id string, opts service.StudentEnrollOptions) (*models.Student, error)
	Register(ctx context.Context, tenantID string, req service.RegisterStudentRequest) (*models.Student, error)
	Transfer(ctx context.Context, tenantID, id string, req service.TransferStudentRequest) (*models.TransferRequest, error)
	Graduate(ctx context.Context, tenantID, id string) (*models.Student, error)
	Suspend(ctx context.Context, tenantID, id, reason string) (*models.Student, error)
	Reactivate(ctx context.Context, tenantID, id string) (*models.Student, error)
	Dropout(ctx context.Context, tenantID, id string) (*models.Student, error)
}

type studentBatcher interface {
	NewStudentBatch(tenantID, classID string) *service.StudentBatch
}

// StudentHandler exposes student lifecycle endpoints.
type StudentHandler struct {
	students studentService
	bulk     studentBatcher
}

// NewStudentHandler constructs StudentHandler.
func NewStudentHandler(students studentService, bulk studentBatcher) *StudentHandler {
	return &StudentHandler{students: students, bulk: bulk}
}

// CreateStudentBody extends the student payload with creation options.
type CreateStudentBody struct {
	service.CreateStudentRequest
	AutoEnroll bool `json:"auto_enroll"`
}

// EnrollStudentBody tunes the enroll transition.
type EnrollStudentBody struct {
	SkipValidation bool `json:"skip_validation"`
	MinAge         int  `json:"min_age"`
}

// SuspendStudentBody carries the suspension reason.
type SuspendStudentBody struct {
	Reason string `json:"reason"`
}

// StudentBatchBody registers many draft students into one class.
type StudentBatchBody struct {
	ClassID  string                     `json:"class_id" binding:"required"`
	Students []service.StudentBatchLine `json:"students" binding:"required,min=1"`
}

// List godoc
// @Summary List students
// @Tags Students
// @Produce json
// @Param search query string false "Search by name or code"
// @Param classId query string false "Filter by class"
// @Param state query string false "Filter by lifecycle state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /students [get]
func (h *StudentHandler) List(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	filter := models.StudentFilter{
		ClassID:     c.Query("classId"),
		State:       models.StudentState(strings.ToLower(c.Query("state"))),
		Search:      strings.TrimSpace(c.Query("search")),
		SortBy:      c.Query("sort"),
		SortOrder:   c.Query("order"),
		PageRequest: pageRequest(c),
	}
	students, pagination, err := h.students.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, students, pagination)
}

// Get godoc
// @Summary Get student detail
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id} [get]
func (h *StudentHandler) Get(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	student, err := h.students.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Stats godoc
// @Summary Student statistics
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/stats [get]
func (h *StudentHandler) Stats(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	stats, err := h.students.Stats(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// Create godoc
// @Summary Create student
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body CreateStudentBody true "Student payload"
// @Success 201 {object} response.Envelope
// @Router /students [post]
func (h *StudentHandler) Create(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var body CreateStudentBody
	if !bindJSON(c, &body) {
		return
	}
	student, err := h.students.Create(c.Request.Context(), tenantID, body.CreateStudentRequest, service.CreateStudentOptions{AutoEnroll: body.AutoEnroll})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Register godoc
// @Summary Enroll an existing or new student into a class
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body service.RegisterStudentRequest true "Registration payload"
// @Success 201 {object} response.Envelope
// @Router /students/register [post]
func (h *StudentHandler) Register(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.RegisterStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	student, err := h.students.Register(c.Request.Context(), tenantID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, student)
}

// Batch godoc
// @Summary Register draft students in bulk
// @Tags Students
// @Accept json
// @Produce json
// @Param payload body StudentBatchBody true "Batch payload"
// @Success 201 {object} response.Envelope
// @Router /students/batch [post]
func (h *StudentHandler) Batch(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var body StudentBatchBody
	if !bindJSON(c, &body) {
		return
	}
	batch := h.bulk.NewStudentBatch(tenantID, body.ClassID)
	for _, line := range body.Students {
		if err := batch.Add(line.FullName, line.PartyID); err != nil {
			response.Error(c, err)
			return
		}
	}
	created, err := batch.Commit(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, created, nil, map[string]interface{}{"count": len(created)})
}

// Enroll godoc
// @Summary Enroll a draft student into their class
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body EnrollStudentBody false "Options"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /students/{id}/enroll [post]
func (h *StudentHandler) Enroll(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var body EnrollStudentBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	student, err := h.students.Enroll(c.Request.Context(), tenantID, c.Param("id"), service.StudentEnrollOptions{
		SkipValidation: body.SkipValidation,
		MinAge:         body.MinAge,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}

// Transfer godoc
// @Summary Prepare a transfer request
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body service.TransferStudentRequest true "Transfer target"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/transfer [post]
func (h *StudentHandler) Transfer(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.TransferStudentRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.TargetClassID == nil && req.TargetSchoolID == nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "target_class_id or target_school_id is required"))
		return
	}
	transfer, err := h.students.Transfer(c.Request.Context(), tenantID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, transfer, nil)
}

// Graduate godoc
// @Summary Graduate a student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /students/{id}/graduate [post]
func (h *StudentHandler) Graduate(c *gin.Context) {
	h.transition(c, h.students.Graduate)
}

// Suspend godoc
// @Summary Suspend a student
// @Tags Students
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param payload body SuspendStudentBody false "Reason"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/suspend [post]
func (h *StudentHandler) Suspend(c *gin.Context) {
	var body SuspendStudentBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	h.transition(c, func(ctx context.Context, tenantID, id string) (*models.Student, error) {
		return h.students.Suspend(ctx, tenantID, id, body.Reason)
	})
}

// Reactivate godoc
// @Summary Reactivate a suspended student
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/reactivate [post]
func (h *StudentHandler) Reactivate(c *gin.Context) {
	h.transition(c, h.students.Reactivate)
}

// Dropout godoc
// @Summary Record a dropout
// @Tags Students
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/dropout [post]
func (h *StudentHandler) Dropout(c *gin.Context) {
	h.transition(c, h.students.Dropout)
}

func (h *StudentHandler) transition(c *gin.Context, run func(ctx context.Context, tenantID, id string) (*models.Student, error)) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	student, err := run(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, student, nil)
}
