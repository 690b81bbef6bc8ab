package middleware

import (
	"ringline/internal/services"
	"ringline/internal/transport/httpdto"
	"ringline/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandler renders errors attached with c.Error using the status
// implied by the error taxonomy.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status := services.HTTPStatus(err)
		if l != nil && status >= 500 {
			l.Ctx(c.Request.Context()).Error("request error", zap.Error(err))
		}
		c.JSON(status, httpdto.NewErrorResponse(err.Error(), services.ErrorCode(err)).
			WithRequestID(c.Writer.Header().Get("X-Request-Id")))
	}
}
