package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/service"
	"github.com/noah-isme/sma-enrollment-api/pkg/export"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
	"github.com/noah-isme/sma-enrollment-api/pkg/response"
)

type attendanceService interface {
	Record(ctx context.Context, tenantID string, req service.RecordAttendanceRequest) (*models.Attendance, error)
	List(ctx context.Context, tenantID string, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error)
	StudentSummary(ctx context.Context, tenantID, studentID string, from, to *time.Time) (*models.AttendanceSummary, error)
}

type sessionStarter interface {
	NewAttendanceSession(tenantID, classID string, date time.Time, opts service.AttendanceSessionOptions) *service.AttendanceSession
}

// AttendanceHandler exposes the attendance ledger.
type AttendanceHandler struct {
	attendance attendanceService
	sessions   sessionStarter
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance attendanceService, sessions sessionStarter) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, sessions: sessions}
}

// AttendanceSessionBody records one class on one date.
type AttendanceSessionBody struct {
	ClassID          string                   `json:"class_id" binding:"required"`
	Date             string                   `json:"date" binding:"required"`
	CourseID         string                   `json:"course_id"`
	TrackTime        bool                     `json:"track_time"`
	NotifyAbsences   bool                     `json:"notify_absences"`
	NotifyGuardians  bool                     `json:"notify_guardians"`
	AllowDuplicate   bool                     `json:"allow_duplicate"`
	PrefillFromClass bool                     `json:"prefill_from_class"`
	MarkAll          models.AttendanceState   `json:"mark_all"`
	Lines            []service.AttendanceLine `json:"lines"`
}

// Record godoc
// @Summary Record attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body service.RecordAttendanceRequest true "Attendance line"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance [post]
func (h *AttendanceHandler) Record(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var req service.RecordAttendanceRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.TeacherUserID == nil {
		if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleTeacher {
			req.TeacherUserID = &claims.UserID
		}
	}
	record, err := h.attendance.Record(c.Request.Context(), tenantID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// List godoc
// @Summary List attendance
// @Tags Attendance
// @Produce json
// @Param studentId query string false "Filter by student"
// @Param classId query string false "Filter by class"
// @Param enrollmentId query string false "Filter by enrollment"
// @Param state query string false "Filter by state"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /attendance [get]
func (h *AttendanceHandler) List(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	filter, ok := attendanceFilter(c)
	if !ok {
		return
	}
	rows, pagination, err := h.attendance.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, rows, pagination)
}

// Export godoc
// @Summary Export attendance as CSV
// @Tags Attendance
// @Produce text/csv
// @Param studentId query string false "Filter by student"
// @Param classId query string false "Filter by class"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {file} file
// @Router /attendance/export [get]
func (h *AttendanceHandler) Export(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	filter, ok := attendanceFilter(c)
	if !ok {
		return
	}
	filter.Page, filter.PageSize = 1, maxExportRows
	rows, _, err := h.attendance.List(c.Request.Context(), tenantID, filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	table := attendanceTable(rows)
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=attendance-%s.csv", time.Now().UTC().Format("20060102")))
	c.Status(http.StatusOK)
	if err := export.WriteCSV(c.Writer, table); err != nil {
		_ = c.Error(err)
	}
}

// maxExportRows matches the largest page the repositories serve.
const maxExportRows = 200

func attendanceFilter(c *gin.Context) (models.AttendanceFilter, bool) {
	from, ok := queryDate(c, "from")
	if !ok {
		return models.AttendanceFilter{}, false
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return models.AttendanceFilter{}, false
	}
	return models.AttendanceFilter{
		StudentID:    c.Query("studentId"),
		ClassID:      c.Query("classId"),
		EnrollmentID: c.Query("enrollmentId"),
		State:        models.AttendanceState(strings.ToLower(c.Query("state"))),
		DateFrom:     from,
		DateTo:       to,
		PageRequest:  pageRequest(c),
	}, true
}

func attendanceTable(rows []models.Attendance) *export.Table {
	table := export.NewTable("date", "student_id", "class_id", "enrollment_id", "state", "check_in", "check_out", "duration_hours", "notes")
	for _, row := range rows {
		_ = table.Append(
			row.Date.Format(dateLayout),
			row.StudentID,
			row.ClassID,
			deref(row.EnrollmentID),
			string(row.State),
			clock(row.CheckIn),
			clock(row.CheckOut),
			strconv.FormatFloat(row.DurationHours(), 'f', 2, 64),
			deref(row.Notes),
		)
	}
	return table
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func clock(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format("15:04")
}

// StudentSummary godoc
// @Summary Attendance summary of a student
// @Tags Attendance
// @Produce json
// @Param id path string true "Student ID"
// @Param from query string false "From date (YYYY-MM-DD)"
// @Param to query string false "To date (YYYY-MM-DD)"
// @Success 200 {object} response.Envelope
// @Router /students/{id}/attendance-summary [get]
func (h *AttendanceHandler) StudentSummary(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	from, ok := queryDate(c, "from")
	if !ok {
		return
	}
	to, ok := queryDate(c, "to")
	if !ok {
		return
	}
	summary, err := h.attendance.StudentSummary(c.Request.Context(), tenantID, c.Param("id"), from, to)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// Session godoc
// @Summary Record a class attendance session
// @Tags Attendance
// @Accept json
// @Produce json
// @Param payload body AttendanceSessionBody true "Session"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /attendance/sessions [post]
func (h *AttendanceHandler) Session(c *gin.Context) {
	tenantID, ok := tenantFromContext(c)
	if !ok {
		return
	}
	var body AttendanceSessionBody
	if !bindJSON(c, &body) {
		return
	}
	date, err := time.Parse(dateLayout, strings.TrimSpace(body.Date))
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid date").With("date", body.Date))
		return
	}
	opts := service.AttendanceSessionOptions{
		CourseID:        body.CourseID,
		TrackTime:       body.TrackTime,
		NotifyAbsences:  body.NotifyAbsences,
		NotifyGuardians: body.NotifyGuardians,
		AllowDuplicate:  body.AllowDuplicate,
	}
	if claims := claimsFromContext(c); claims != nil && claims.Role == models.RoleTeacher {
		opts.TeacherUserID = claims.UserID
	}

	session := h.sessions.NewAttendanceSession(tenantID, body.ClassID, date, opts)
	if body.PrefillFromClass {
		if err := session.PrefillFromClass(c.Request.Context()); err != nil {
			response.Error(c, err)
			return
		}
	}
	if body.MarkAll != "" {
		if err := session.MarkAll(body.MarkAll); err != nil {
			response.Error(c, err)
			return
		}
	}
	for _, line := range body.Lines {
		if err := session.Add(line.StudentID, line.State, line.Notes); err != nil {
			response.Error(c, err)
			return
		}
	}
	records, err := session.Commit(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusCreated, records, nil, map[string]interface{}{"summary": session.Summary()})
}
