package middleware

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/terry-lonesski/laravel-echo-server/internal/services"
	"github.com/terry-lonesski/laravel-echo-server/pkg/logger"
	"github.com/terry-lonesski/laravel-echo-server/pkg/response"
)

type RateLimitMiddleware struct {
	limiter services.RateLimiter
	log     *logger.Logger
}

func NewRateLimitMiddleware(limiter services.RateLimiter, log *logger.Logger) *RateLimitMiddleware {
	return &RateLimitMiddleware{
		limiter: limiter,
		log:     log,
	}
}

// RateLimitIP limits requests per client IP and path.
func (rm *RateLimitMiddleware) RateLimitIP(requests int, window time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := fmt.Sprintf("rate_limit_ip:%s:%s", c.ClientIP(), c.Request.URL.Path)

		allowed, err := rm.limiter.Allow(c.Request.Context(), key, requests, window)
		if err != nil {
			rm.log.Error("Rate limit check failed", "key", key, "error", err)
			response.Fail(c, http.StatusServiceUnavailable, response.ErrCodeStoreUnavailable, "rate limit check failed")
			return
		}

		if !allowed {
			response.Fail(c, http.StatusTooManyRequests, response.ErrCodeRateLimited,
				fmt.Sprintf("Too many requests. Limit: %d per %v", requests, window))
			return
		}

		c.Next()
	}
}
