package middleware

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
)

// LogApi writes one structured line per request. Probe endpoints are skipped.
func LogApi(log *logger.Logger, skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		if _, ok := skip[c.Request.URL.Path]; ok {
			return
		}
		log.Info("HTTP request",
			"clientIP", c.ClientIP(),
			"status", c.Writer.Status(),
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"userAgent", c.Request.UserAgent(),
			"error", c.Errors.ByType(gin.ErrorTypePrivate).String(),
			"latency", time.Since(start),
			"proto", c.Request.Proto,
		)
	}
}
