package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
)

// unmatchedRoute labels requests that hit no registered route so scans cannot grow the label set.
const unmatchedRoute = "unmatched"

// HTTPObserver records one served request.
type HTTPObserver interface {
	ObserveHTTPRequest(method, path string, status int, duration time.Duration)
}

// Metrics observes every request by its route template.
func Metrics(observer HTTPObserver) gin.HandlerFunc {
	return func(c *gin.Context) {
		if observer == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedRoute
		}
		observer.ObserveHTTPRequest(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}
