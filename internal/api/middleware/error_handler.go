package middleware

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/arnabghosh/chat-queue/internal/api/dto"
)

// ErrorHandlerMiddleware turns errors attached with c.Error into a JSON error
// response when the handler has not written one itself
func ErrorHandlerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()

		slog.Error("Request error",
			"error", err.Error(),
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		if !c.Writer.Written() {
			status, body := dto.NewErrorResponse(err.Err)
			c.JSON(status, body)
		}
	}
}
