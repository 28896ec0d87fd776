package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	allowHeaders  = "Authorization, Content-Type, X-Requested-With, X-Request-ID"
	allowMethods  = "GET, POST, PUT, PATCH, DELETE, OPTIONS"
	exposeHeaders = "X-Request-ID"
)

// New returns a CORS middleware honoring exact origins and "*.domain" wildcards.
// An empty list allows every origin.
func New(allowedOrigins []string) gin.HandlerFunc {
	exact := make(map[string]struct{}, len(allowedOrigins))
	var suffixes []string
	for _, origin := range allowedOrigins {
		origin = strings.TrimRight(origin, "/")
		if strings.HasPrefix(origin, "*.") {
			suffixes = append(suffixes, origin[1:])
			continue
		}
		exact[origin] = struct{}{}
	}
	allowAll := len(allowedOrigins) == 0

	allowed := func(origin string) bool {
		if allowAll {
			return true
		}
		origin = strings.TrimRight(origin, "/")
		if _, ok := exact[origin]; ok {
			return true
		}
		for _, suffix := range suffixes {
			if strings.HasSuffix(origin, suffix) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		header := c.Writer.Header()
		if origin := c.GetHeader("Origin"); origin != "" {
			if allowed(origin) {
				header.Set("Access-Control-Allow-Origin", origin)
				header.Set("Access-Control-Allow-Credentials", "true")
			}
		} else if allowAll {
			header.Set("Access-Control-Allow-Origin", "*")
		}

		header.Set("Vary", "Origin")
		header.Set("Access-Control-Allow-Headers", allowHeaders)
		header.Set("Access-Control-Allow-Methods", allowMethods)
		header.Set("Access-Control-Expose-Headers", exposeHeaders)
		header.Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
