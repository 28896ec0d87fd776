package handler

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/service"
)

type attendanceListMock struct {
	attendanceServiceMock

	lastFilter models.AttendanceFilter
	rows       []models.Attendance
}

func (m *attendanceListMock) List(_ context.Context, tenantID string, filter models.AttendanceFilter) ([]models.Attendance, *models.Pagination, error) {
	m.lastTenant, m.lastFilter = tenantID, filter
	return m.rows, filter.Paginate(len(m.rows)), nil
}

func TestAttendanceExportWritesCSV(t *testing.T) {
	in := time.Date(2026, 3, 9, 8, 0, 0, 0, time.UTC)
	out := time.Date(2026, 3, 9, 12, 30, 0, 0, time.UTC)
	note := "bus late"
	mock := &attendanceListMock{rows: []models.Attendance{
		{StudentID: "s-1", ClassID: "class-1", Date: in, State: models.AttendancePresent, CheckIn: &in, CheckOut: &out},
		{StudentID: "s-2", ClassID: "class-1", Date: in, State: models.AttendanceLate, Notes: &note},
	}}
	h := NewAttendanceHandler(mock, nil)

	c, w := newTestContext(http.MethodGet, "/attendance/export?classId=class-1&from=2026-03-01", "", staffClaims())
	h.Export(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/csv")
	assert.Equal(t, "tenant-a", mock.lastTenant)
	assert.Equal(t, "class-1", mock.lastFilter.ClassID)
	require.NotNil(t, mock.lastFilter.DateFrom)
	assert.Equal(t, maxExportRows, mock.lastFilter.PageSize)

	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "date,student_id,class_id,enrollment_id,state,check_in,check_out,duration_hours,notes", lines[0])
	assert.Equal(t, "2026-03-09,s-1,class-1,,present,08:00,12:30,4.50,", lines[1])
	assert.Equal(t, "2026-03-09,s-2,class-1,,late,,,0.00,bus late", lines[2])
}

func TestAttendanceExportRejectsBadDate(t *testing.T) {
	mock := &attendanceListMock{}
	h := NewAttendanceHandler(mock, nil)

	c, w := newTestContext(http.MethodGet, "/attendance/export?from=03-01-2026", "", staffClaims())
	h.Export(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Empty(t, mock.lastTenant)
}

type sessionStarterMock struct {
	opts service.AttendanceSessionOptions
}

func (m *sessionStarterMock) NewAttendanceSession(tenantID, classID string, date time.Time, opts service.AttendanceSessionOptions) *service.AttendanceSession {
	m.opts = opts
	return (&service.BulkService{}).NewAttendanceSession(tenantID, classID, date, opts)
}

func TestAttendanceSessionPassesNotificationOptions(t *testing.T) {
	starter := &sessionStarterMock{}
	h := NewAttendanceHandler(&attendanceListMock{}, starter)
	teacher := &models.JWTClaims{UserID: "user-2", TenantID: "tenant-a", Role: models.RoleTeacher}

	c, w := newTestContext(http.MethodPost, "/attendance/sessions",
		`{"class_id":"class-1","date":"2026-03-09","notify_absences":true,"notify_guardians":true}`, teacher)
	h.Session(c)

	// An empty session is rejected at commit, after the options were built.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.True(t, starter.opts.NotifyAbsences)
	assert.True(t, starter.opts.NotifyGuardians)
	assert.Equal(t, "user-2", starter.opts.TeacherUserID)
}
