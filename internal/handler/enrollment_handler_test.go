package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enrollment-api/internal/middleware"
	"github.com/noah-isme/sma-enrollment-api/internal/models"
	"github.com/noah-isme/sma-enrollment-api/internal/service"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

type enrollmentServiceMock struct {
	enrollmentService

	lastTenant   string
	lastID       string
	lastCreate   service.CreateEnrollmentRequest
	lastCreateOp service.CreateEnrollmentOptions
	lastComplete service.CompleteOptions
	lastCancel   service.CancelOptions
	lastScore    float64
	lastFilter   models.EnrollmentFilter
	result       *models.Enrollment
	err          error
}

func (m *enrollmentServiceMock) Create(_ context.Context, tenantID string, req service.CreateEnrollmentRequest, opts service.CreateEnrollmentOptions) (*models.Enrollment, error) {
	m.lastTenant, m.lastCreate, m.lastCreateOp = tenantID, req, opts
	return m.result, m.err
}

func (m *enrollmentServiceMock) Complete(_ context.Context, tenantID, id string, opts service.CompleteOptions) (*models.Enrollment, error) {
	m.lastTenant, m.lastID, m.lastComplete = tenantID, id, opts
	return m.result, m.err
}

func (m *enrollmentServiceMock) Cancel(_ context.Context, tenantID, id string, opts service.CancelOptions) (*models.Enrollment, error) {
	m.lastTenant, m.lastID, m.lastCancel = tenantID, id, opts
	return m.result, m.err
}

func (m *enrollmentServiceMock) SetScore(_ context.Context, tenantID, id string, score float64) (*models.Enrollment, error) {
	m.lastTenant, m.lastID, m.lastScore = tenantID, id, score
	return m.result, m.err
}

func (m *enrollmentServiceMock) List(_ context.Context, tenantID string, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, *models.Pagination, error) {
	m.lastTenant, m.lastFilter = tenantID, filter
	return []models.EnrollmentDetail{}, &models.Pagination{Page: 1, PageSize: 20}, m.err
}

func (m *enrollmentServiceMock) Delete(_ context.Context, tenantID, id string) error {
	m.lastTenant, m.lastID = tenantID, id
	return m.err
}

func staffClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "user-1", TenantID: "tenant-a", Role: models.RoleStaff}
}

func newTestContext(method, target, body string, claims *models.JWTClaims) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	var reader *bytes.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	} else {
		reader = bytes.NewReader(nil)
	}
	req, _ := http.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	c.Request = req
	if claims != nil {
		c.Set(middleware.ContextUserKey, claims)
	}
	return c, w
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestEnrollmentHandlerCreatePassesOptions(t *testing.T) {
	mock := &enrollmentServiceMock{result: &models.Enrollment{ID: "enrollment-1", State: models.EnrollmentConfirmed}}
	h := NewEnrollmentHandler(mock)

	c, w := newTestContext(http.MethodPost, "/enrollments",
		`{"student_id":"s-1","course_id":"c-1","auto_confirm":true,"skip_capacity":true}`, staffClaims())
	h.Create(c)

	require.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "tenant-a", mock.lastTenant)
	assert.Equal(t, "s-1", mock.lastCreate.StudentID)
	assert.True(t, mock.lastCreateOp.AutoConfirm)
	assert.True(t, mock.lastCreateOp.Confirm.SkipCapacity)
	assert.False(t, mock.lastCreateOp.Confirm.SkipPrerequisites)
}

func TestEnrollmentHandlerRequiresTenant(t *testing.T) {
	mock := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mock)

	c, w := newTestContext(http.MethodGet, "/enrollments", "", nil)
	h.List(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, mock.lastTenant)
}

func TestEnrollmentHandlerCompleteWithoutBody(t *testing.T) {
	mock := &enrollmentServiceMock{result: &models.Enrollment{ID: "enrollment-1", State: models.EnrollmentCompleted}}
	h := NewEnrollmentHandler(mock)

	c, w := newTestContext(http.MethodPost, "/enrollments/enrollment-1/complete", "", staffClaims())
	c.Params = gin.Params{{Key: "id", Value: "enrollment-1"}}
	h.Complete(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "enrollment-1", mock.lastID)
	assert.Nil(t, mock.lastComplete.MinAttendancePercentage)
}

func TestEnrollmentHandlerMapsDomainErrors(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"attendance", appErrors.Clone(appErrors.ErrAttendanceBelowMinimum, "").With("attendance_percentage", 50.0), http.StatusUnprocessableEntity, "ATTENDANCE_BELOW_MINIMUM"},
		{"transition", appErrors.Transition("enrollment", "enrollment-1", "completed", "cancel"), http.StatusConflict, "INVALID_STATE_TRANSITION"},
		{"billing", appErrors.Integration(assert.AnError, "billing failed to create invoice"), http.StatusBadGateway, "INTEGRATION_ERROR"},
		{"missing", appErrors.Clone(appErrors.ErrNotFound, "enrollment not found"), http.StatusNotFound, "NOT_FOUND"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewEnrollmentHandler(&enrollmentServiceMock{err: tc.err})
			c, w := newTestContext(http.MethodPost, "/enrollments/enrollment-1/cancel", `{"reason":"moved","process_refund":true}`, staffClaims())
			c.Params = gin.Params{{Key: "id", Value: "enrollment-1"}}
			h.Cancel(c)

			require.Equal(t, tc.status, w.Code)
			body := decodeEnvelope(t, w)
			errBody, ok := body["error"].(map[string]interface{})
			require.True(t, ok)
			assert.Equal(t, tc.code, errBody["code"])
		})
	}
}

func TestEnrollmentHandlerSetScoreRequiresScore(t *testing.T) {
	mock := &enrollmentServiceMock{result: &models.Enrollment{ID: "enrollment-1"}}
	h := NewEnrollmentHandler(mock)

	c, w := newTestContext(http.MethodPut, "/enrollments/enrollment-1/score", `{}`, staffClaims())
	c.Params = gin.Params{{Key: "id", Value: "enrollment-1"}}
	h.SetScore(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	c, w = newTestContext(http.MethodPut, "/enrollments/enrollment-1/score", `{"score":0}`, staffClaims())
	c.Params = gin.Params{{Key: "id", Value: "enrollment-1"}}
	h.SetScore(c)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 0.0, mock.lastScore)
}

func TestEnrollmentHandlerListFilter(t *testing.T) {
	mock := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mock)

	c, w := newTestContext(http.MethodGet, "/enrollments?studentId=s-1&state=ENROLLED&page=2&limit=5", "", staffClaims())
	h.List(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "s-1", mock.lastFilter.StudentID)
	assert.Equal(t, models.EnrollmentEnrolled, mock.lastFilter.State)
	assert.Equal(t, 2, mock.lastFilter.Page)
	assert.Equal(t, 5, mock.lastFilter.PageSize)
}

func TestEnrollmentHandlerDelete(t *testing.T) {
	mock := &enrollmentServiceMock{}
	h := NewEnrollmentHandler(mock)

	c, w := newTestContext(http.MethodDelete, "/enrollments/enrollment-9", "", staffClaims())
	c.Params = gin.Params{{Key: "id", Value: "enrollment-9"}}
	h.Delete(c)
	c.Writer.WriteHeaderNow()

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "enrollment-9", mock.lastID)
}
