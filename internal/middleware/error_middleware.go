package middleware

import (
	"rxgate/internal/transport/httpdto"
	"rxgate/pkg/logger"

	"github.com/gin-gonic/gin"
)

// ErrorHandler renders the last error a handler attached with c.Error.
func ErrorHandler(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		status, resp := httpdto.FromError(err)
		if l != nil && status >= 500 {
			l.Ctx(c.Request.Context()).Errorf("request error: %s", err.Error())
		}
		c.JSON(status, resp)
	}
}
