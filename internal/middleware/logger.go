package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/varsling/notification-platform/pkg/logger"
)

// RequestLogger logs one line per request through the shared logger.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	l := log.WithComponent("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		l.Info("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", c.GetString("request_id"))
	}
}
