package app

import (
	"net/http"
	"net/mail"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/services/sentry"
)

// The response envelope the frontend was built against: {"message": ...} on
// success with any payload fields alongside, {"error": ...} on failure.

func writeMessage(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"message": message})
}

func writeError(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"error": message})
}

// writeInternal hides the error behind a generic message; the detail goes to
// sentry and the log only.
func (a *App) writeInternal(c *gin.Context, handler, errType string, err error) {
	a.toSentry(c, handler, errType, sentry.LevelError, err)
	writeError(c, http.StatusInternalServerError, "Internal Server Error")
}

func (a *App) toSentry(c *gin.Context, handler, errType string, level sentry.Level, err error) {
	a.sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("handler", handler)
		scope.SetExtra("error_type", errType)
		scope.SetLevel(level)
		if reqID := c.GetHeader("X-Request-ID"); reqID != "" {
			scope.SetTag("request_id", reqID)
		}
		a.sentry.CaptureException(err)
	})
}

func validEmail(email string) bool {
	email = strings.TrimSpace(email)
	if email == "" {
		return false
	}
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}
