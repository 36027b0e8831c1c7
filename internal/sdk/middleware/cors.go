package middleware

import (
	"log/slog"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// CORS returns a configured CORS middleware for Gin. The x-refresh header
// carries the refresh token on the logout and refresh endpoints, so it has
// to be allowed explicitly.
func CORS(allowOrigins []string, allowCredentials bool) gin.HandlerFunc {
	if len(allowOrigins) == 0 {
		allowOrigins = []string{"*"}
	}
	if allowCredentials && len(allowOrigins) == 1 && allowOrigins[0] == "*" {
		allowCredentials = false
		slog.Warn("cors: disabling credentials for wildcard origin")
	}

	config := cors.Config{
		AllowOrigins:     allowOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "x-refresh"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: allowCredentials,
		MaxAge:           12 * time.Hour,
	}

	return cors.New(config)
}
