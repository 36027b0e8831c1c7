package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/sdk/models"
)

// RequireAdmin rejects non-admin users. Must run after Deserialize.
func RequireAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || user.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Forbidden"})
			return
		}
		c.Next()
	}
}

// RequireSameUserOrAdmin rejects requests whose authenticated user is
// neither the owner named by the :id route parameter nor an admin. Must run
// after Deserialize.
func RequireSameUserOrAdmin() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}

		if user.ID != c.Param("id") && user.Role != models.RoleAdmin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Unauthorized"})
			return
		}

		c.Next()
	}
}
