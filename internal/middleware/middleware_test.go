package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-enrollment-api/internal/models"
)

type observation struct {
	method string
	path   string
	status int
}

type recordingObserver struct {
	seen []observation
}

func (r *recordingObserver) ObserveHTTPRequest(method, path string, status int, _ time.Duration) {
	r.seen = append(r.seen, observation{method: method, path: path, status: status})
}

func sign(t *testing.T, method jwt.SigningMethod, key interface{}, claims models.JWTClaims) string {
	t.Helper()
	claims.RegisteredClaims = jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}
	token, err := jwt.NewWithClaims(method, claims).SignedString(key)
	require.NoError(t, err)
	return token
}

func TestValidateToken(t *testing.T) {
	v := NewTokenValidator("secret")

	claims, err := v.ValidateToken(sign(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{UserID: "u-1", TenantID: "tenant-a", Role: models.RoleStaff}))
	require.NoError(t, err)
	assert.Equal(t, "tenant-a", claims.TenantID)
	assert.Equal(t, models.RoleStaff, claims.Role)

	_, err = v.ValidateToken(sign(t, jwt.SigningMethodHS512, []byte("secret"), models.JWTClaims{UserID: "u-1", TenantID: "tenant-a"}))
	assert.Error(t, err)

	_, err = v.ValidateToken(sign(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{UserID: "u-1"}))
	assert.Error(t, err)

	_, err = v.ValidateToken("not-a-token")
	assert.Error(t, err)
}

func newEngine(observer HTTPObserver) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Metrics(observer))
	guarded := r.Group("/", JWT(NewTokenValidator("secret")))
	guarded.POST("/students", RequireRoles(models.RoleAdmin, models.RoleStaff), func(c *gin.Context) {
		c.Status(http.StatusCreated)
	})
	guarded.GET("/students/:id", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	return r
}

func do(r *gin.Engine, method, path, token string) int {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w.Code
}

func TestJWTAndRoles(t *testing.T) {
	r := newEngine(nil)
	staff := sign(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{UserID: "u-1", TenantID: "tenant-a", Role: models.RoleStaff})
	teacher := sign(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{UserID: "u-2", TenantID: "tenant-a", Role: models.RoleTeacher})

	assert.Equal(t, http.StatusUnauthorized, do(r, http.MethodGet, "/students/s-1", ""))
	assert.Equal(t, http.StatusOK, do(r, http.MethodGet, "/students/s-1", teacher))
	assert.Equal(t, http.StatusForbidden, do(r, http.MethodPost, "/students", teacher))
	assert.Equal(t, http.StatusCreated, do(r, http.MethodPost, "/students", staff))

	req := httptest.NewRequest(http.MethodGet, "/students/s-1", nil)
	req.Header.Set("Authorization", "Basic "+staff)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRequireRolesWithoutClaims(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/students", nil)

	RequireRoles(models.RoleAdmin)(c)

	assert.True(t, c.IsAborted())
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestMetricsLabelsByRouteTemplate(t *testing.T) {
	observer := &recordingObserver{}
	r := newEngine(observer)
	teacher := sign(t, jwt.SigningMethodHS256, []byte("secret"), models.JWTClaims{UserID: "u-2", TenantID: "tenant-a", Role: models.RoleTeacher})

	do(r, http.MethodGet, "/students/s-1", teacher)
	do(r, http.MethodGet, "/wp-admin/setup.php", "")

	require.Len(t, observer.seen, 2)
	assert.Equal(t, observation{method: http.MethodGet, path: "/students/:id", status: http.StatusOK}, observer.seen[0])
	assert.Equal(t, unmatchedRoute, observer.seen[1].path)
	assert.Equal(t, http.StatusNotFound, observer.seen[1].status)
}
