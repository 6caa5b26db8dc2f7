package middleware

import (
	pkgerrors "judgeflow/pkg/errors"
	"judgeflow/pkg/utils/response"

	"github.com/gin-gonic/gin"
)

// RequireUser rejects requests that arrive without a caller identity.
func RequireUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		if UserID(c) == "" {
			response.AbortWithError(c, pkgerrors.New(pkgerrors.Unauthorized).WithMessage("missing "+userIDHeader+" header"))
			return
		}
		c.Next()
	}
}
