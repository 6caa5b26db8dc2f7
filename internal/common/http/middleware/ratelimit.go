package middleware

import (
	"context"
	"fmt"

	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// Allower decides whether one more hit for key fits under max.
type Allower interface {
	Allow(ctx context.Context, key string, max int) error
}

// RateLimitPolicy caps hits per caller for one route.
type RateLimitPolicy struct {
	UserMax int `yaml:"userMax"`
	IPMax   int `yaml:"ipMax"`
}

// RateLimitMiddleware enforces the policy for routeKey. A nil limiter
// disables limiting.
func RateLimitMiddleware(limiter Allower, routeKey string, policy RateLimitPolicy) gin.HandlerFunc {
	return func(c *gin.Context) {
		if limiter == nil {
			c.Next()
			return
		}
		if policy.IPMax > 0 {
			key := fmt.Sprintf("solution:rate:ip:%s:%s", c.ClientIP(), routeKey)
			if err := limiter.Allow(c.Request.Context(), key, policy.IPMax); err != nil {
				response.AbortWithError(c, err)
				return
			}
		}
		if policy.UserMax > 0 {
			if userID := UserID(c); userID != "" {
				key := fmt.Sprintf("solution:rate:user:%s:%s", userID, routeKey)
				if err := limiter.Allow(c.Request.Context(), key, policy.UserMax); err != nil {
					response.AbortWithError(c, err)
					return
				}
			}
		}
		c.Next()
	}
}
