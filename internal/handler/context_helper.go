package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-enrollment-api/internal/middleware"
	"github.com/noah-isme/sma-enrollment-api/internal/models"
	appErrors "github.com/noah-isme/sma-enrollment-api/pkg/errors"
	"github.com/noah-isme/sma-enrollment-api/pkg/response"
)

const dateLayout = "2006-01-02"

func claimsFromContext(c *gin.Context) *models.JWTClaims {
	value, exists := c.Get(middleware.ContextUserKey)
	if !exists {
		return nil
	}
	claims, ok := value.(*models.JWTClaims)
	if !ok {
		return nil
	}
	return claims
}

// tenantFromContext writes 401 and returns false when the request carries no tenant.
func tenantFromContext(c *gin.Context) (string, bool) {
	claims := claimsFromContext(c)
	if claims == nil || strings.TrimSpace(claims.TenantID) == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return claims.TenantID, true
}

// bindJSON decodes the body into dst, writing 400 on malformed input.
func bindJSON(c *gin.Context, dst interface{}) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return false
	}
	return true
}

// bindOptionalJSON decodes the body when one was sent.
func bindOptionalJSON(c *gin.Context, dst interface{}) bool {
	if c.Request.ContentLength == 0 {
		return true
	}
	return bindJSON(c, dst)
}

func pageRequest(c *gin.Context) models.PageRequest {
	var p models.PageRequest
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		p.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		p.PageSize = size
	}
	return p
}

func queryBool(c *gin.Context, key string) *bool {
	switch c.Query(key) {
	case "true":
		v := true
		return &v
	case "false":
		v := false
		return &v
	default:
		return nil
	}
}

// queryDate parses an optional YYYY-MM-DD query value, writing 400 when malformed.
func queryDate(c *gin.Context, key string) (*time.Time, bool) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return nil, true
	}
	parsed, err := time.Parse(dateLayout, raw)
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "invalid "+key).With(key, raw))
		return nil, false
	}
	return &parsed, true
}
