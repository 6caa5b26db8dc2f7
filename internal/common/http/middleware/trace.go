package middleware

import (
	"context"
	"strings"

	"judgeflow/pkg/utils/contextkey"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	traceIDHeader   = "X-Trace-Id"
	requestIDHeader = "X-Request-Id"
	userIDHeader    = "X-User-Id"

	traceIDContextKey   = "trace_id"
	requestIDContextKey = "request_id"
	userIDContextKey    = "user_id"
)

// TraceContextMiddleware ensures trace and request ids are in the request
// context and echoed on the response. The caller identity forwarded by the
// edge in X-User-Id is attached when present.
func TraceContextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := strings.TrimSpace(c.GetHeader(traceIDHeader))
		if traceID == "" {
			traceID = uuid.NewString()
		}
		c.Set(traceIDContextKey, traceID)
		ctx := context.WithValue(c.Request.Context(), contextkey.TraceID, traceID)
		c.Writer.Header().Set(traceIDHeader, traceID)

		requestID := strings.TrimSpace(c.GetHeader(requestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(requestIDContextKey, requestID)
		ctx = context.WithValue(ctx, contextkey.RequestID, requestID)
		c.Writer.Header().Set(requestIDHeader, requestID)

		if userID := strings.TrimSpace(c.GetHeader(userIDHeader)); userID != "" {
			c.Set(userIDContextKey, userID)
			ctx = context.WithValue(ctx, contextkey.UserID, userID)
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// UserID returns the caller identity attached by TraceContextMiddleware.
func UserID(c *gin.Context) string {
	if v, ok := c.Get(userIDContextKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}
