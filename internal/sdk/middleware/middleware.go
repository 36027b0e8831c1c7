// Package middleware provides the request authentication chain and the
// ambient HTTP middleware (CORS, access logging, rate limiting).
package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/sdk/models"
)

const currentUserKey = "current_user"

// CurrentUser fetches the authenticated user attached by Deserialize.
// The second return is false for anonymous requests.
func CurrentUser(c *gin.Context) (models.User, bool) {
	val, ok := c.Get(currentUserKey)
	if !ok {
		return models.User{}, false
	}

	user, ok := val.(models.User)
	return user, ok
}

func setCurrentUser(c *gin.Context, user models.User) {
	c.Set(currentUserKey, user)
}
