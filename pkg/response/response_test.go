package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
)

func TestErrorEnvelopeCarriesDetails(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/enrollments/e1/cancel", nil)
	c.Set("request_id", "req-1")

	Error(c, fmt.Errorf("cancel: %w", appErrors.Transition("enrollment", "e1", "completed", "cancel")))

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))

	var body struct {
		Error struct {
			Code    string                 `json:"code"`
			Kind    string                 `json:"kind"`
			Details map[string]interface{} `json:"details"`
		} `json:"error"`
		Meta map[string]interface{} `json:"meta"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "INVALID_STATE_TRANSITION", body.Error.Code)
	assert.Equal(t, "state", body.Error.Kind)
	assert.Equal(t, "completed", body.Error.Details["state"])
	assert.Equal(t, "req-1", body.Meta["request_id"])
	assert.Len(t, c.Errors, 1)
}

func TestUnknownErrorIsInternal(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)

	Error(c, fmt.Errorf("connection reset"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "connection reset")
}
