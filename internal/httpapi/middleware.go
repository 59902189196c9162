package httpapi

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/slok/transcribeq/internal/log"
)

// recovery recovers handler panics as internal server errors.
func recovery(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.WithValues(log.Kv{
					"path":   c.Request.URL.Path,
					"method": c.Request.Method,
				}).Errorf("Panic recovered: %v\n%s", err, debug.Stack())
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{Detail: "Internal server error"})
			}
		}()
		c.Next()
	}
}

// requestLogger logs every request at a level based on its status code. Health and
// metrics requests are skipped.
func requestLogger(logger log.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if path == healthPath || path == metricsPath {
			c.Next()
			return
		}

		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		l := logger.WithValues(log.Kv{
			"method":  c.Request.Method,
			"path":    path,
			"status":  status,
			"latency": time.Since(start).String(),
			"client":  c.ClientIP(),
		})
		switch {
		case status >= 500:
			l.Errorf("Request completed")
		case status >= 400:
			l.Warningf("Request completed")
		default:
			l.Debugf("Request completed")
		}
	}
}
