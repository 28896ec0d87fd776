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

type enrollmentService interface {
	Create(ctx context.Context, tenantID string, req service.CreateEnrollmentRequest, opts service.CreateEnrollmentOptions) (*models.Enrollment, error)
	Confirm(ctx context.Context, tenantID, id string, opts service.ConfirmOptions) (*models.Enrollment, error)
	Enroll(ctx context.Context, tenantID, id string, opts service.EnrollOptions) (*models.Enrollment, error)
	GenerateInvoice(ctx context.Context, tenantID, id string) (*models.Enrollment, error)
	Complete(ctx context.Context, tenantID, id string, opts service.CompleteOptions) (*models.Enrollment, error)
	Cancel(ctx context.Context, tenantID, id string, opts service.CancelOptions) (*models.Enrollment, error)
	Fail(ctx context.Context, tenantID, id string) (*models.Enrollment, error)
	SetScore(ctx context.Context, tenantID, id string, score float64) (*models.Enrollment, error)
	Get(ctx context.Context, tenantID, id string) (*models.EnrollmentDetail, error)
	List(ctx context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// EnrollmentHandler exposes the enrollment engine.
type EnrollmentHandler struct {
	enrollments enrollmentService
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(enrollments enrollmentService) *EnrollmentHandler {
	return &EnrollmentHandler{enrollments: enrollments}
}

// ConfirmEnrollmentBody tunes the confirm transition.
type ConfirmEnrollmentBody struct {
	SkipPrerequisites bool `json:"skip_prerequisites"`
	SkipCapacity      bool `json:"skip_capacity"`
	NotifyTeacher     bool `json:"notify_teacher"`
}

func (b ConfirmEnrollmentBody) options() service.ConfirmOptions {
	return service.ConfirmOptions{SkipPrerequisites: b.SkipPrerequisites, SkipCapacity: b.SkipCapacity, NotifyTeacher: b.NotifyTeacher}
}

// CreateEnrollmentBody extends the enrollment payload with creation options.
type CreateEnrollmentBody struct {
	service.CreateEnrollmentRequest
	AutoConfirm bool `json:"auto_confirm"`
	ConfirmEnrollmentBody
}

// EnrollEnrollmentBody tunes the enroll transition.
type EnrollEnrollmentBody struct {
	GenerateInvoice *bool `json:"generate_invoice"`
}

// CompleteEnrollmentBody tunes the complete transition.
type CompleteEnrollmentBody struct {
	MinAttendancePercentage *float64 `json:"min_attendance_percentage"`
	AutoGrade               *bool    `json:"auto_grade"`
}

// CancelEnrollmentBody tunes the cancel transition.
type CancelEnrollmentBody struct {
	Reason        string `json:"reason"`
	ProcessRefund bool   `json:"process_refund"`
}

// SetScoreBody carries the score to record.
type SetScoreBody struct {
	Score *float64 `json:"score" binding:"required"`
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param courseId query string false "Filter by course"
// @Param state query string false "Filter by state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	filter := models.EnrollmentFilter{
		StudentID:   c.Query("studentId"),
		CourseID:    c.Query("courseId"),
		State:       models.EnrollmentState(strings.ToLower(c.Query("state"))),
		PageRequest: pageRequest(c),
	}
	items, pagination, err := h.enrollments.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	detail, err := h.enrollments.Get(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, detail, nil)
}

// Create godoc
// @Summary Create enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body CreateEnrollmentBody true "Enrollment payload"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Create(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var body CreateEnrollmentBody
	if !bindJSON(c, &body) {
		return
	}
	enrollment, err := h.enrollments.Create(c.Request.Context(), tenantID, body.CreateEnrollmentRequest, service.CreateEnrollmentOptions{
		AutoConfirm: body.AutoConfirm,
		Confirm:     body.ConfirmEnrollmentBody.options(),
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Delete godoc
// @Summary Delete a draft or cancelled enrollment
// @Tags Enrollments
// @Param id path string true "Enrollment ID"
// @Success 204
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id} [delete]
func (h *EnrollmentHandler) Delete(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	if err := h.enrollments.Delete(c.Request.Context(), tenantID, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}

// SetScore godoc
// @Summary Record a score
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body SetScoreBody true "Score between 0 and 100"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/score [put]
func (h *EnrollmentHandler) SetScore(c *gin.Context) {
	var body SetScoreBody
	if !bindJSON(c, &body) {
		return
	}
	h.transition(c, func(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
		return h.enrollments.SetScore(ctx, tenantID, id, *body.Score)
	})
}

// Confirm godoc
// @Summary Confirm a draft enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body ConfirmEnrollmentBody false "Options"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollments/{id}/confirm [post]
func (h *EnrollmentHandler) Confirm(c *gin.Context) {
	var body ConfirmEnrollmentBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	h.transition(c, func(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
		return h.enrollments.Confirm(ctx, tenantID, id, body.options())
	})
}

// Enroll godoc
// @Summary Start a confirmed enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body EnrollEnrollmentBody false "Options"
// @Success 200 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Router /enrollments/{id}/enroll [post]
func (h *EnrollmentHandler) Enroll(c *gin.Context) {
	var body EnrollEnrollmentBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	h.transition(c, func(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
		return h.enrollments.Enroll(ctx, tenantID, id, service.EnrollOptions{GenerateInvoice: body.GenerateInvoice})
	})
}

// GenerateInvoice godoc
// @Summary Invoice an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/invoice [post]
func (h *EnrollmentHandler) GenerateInvoice(c *gin.Context) {
	h.transition(c, h.enrollments.GenerateInvoice)
}

// Complete godoc
// @Summary Complete an enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body CompleteEnrollmentBody false "Options"
// @Success 200 {object} response.Envelope
// @Failure 422 {object} response.Envelope
// @Router /enrollments/{id}/complete [post]
func (h *EnrollmentHandler) Complete(c *gin.Context) {
	var body CompleteEnrollmentBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	h.transition(c, func(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
		return h.enrollments.Complete(ctx, tenantID, id, service.CompleteOptions{
			MinAttendancePercentage: body.MinAttendancePercentage,
			AutoGrade:               body.AutoGrade,
		})
	})
}

// Cancel godoc
// @Summary Cancel an enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body CancelEnrollmentBody false "Options"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/cancel [post]
func (h *EnrollmentHandler) Cancel(c *gin.Context) {
	var body CancelEnrollmentBody
	if !bindOptionalJSON(c, &body) {
		return
	}
	h.transition(c, func(ctx context.Context, tenantID, id string) (*models.Enrollment, error) {
		return h.enrollments.Cancel(ctx, tenantID, id, service.CancelOptions{Reason: body.Reason, ProcessRefund: body.ProcessRefund})
	})
}

// Fail godoc
// @Summary Fail an enrollment
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/fail [post]
func (h *EnrollmentHandler) Fail(c *gin.Context) {
	h.transition(c, h.enrollments.Fail)
}

func (h *EnrollmentHandler) transition(c *gin.Context, run func(ctx context.Context, tenantID, id string) (*models.Enrollment, error)) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	enrollment, err := run(c.Request.Context(), tenantID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
