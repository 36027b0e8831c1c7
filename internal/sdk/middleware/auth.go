package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/sdk/sqldb"
	"github.com/MultiEmail/backend/internal/services/token"
)

// Contractual messages: the frontend branches on these strings, do not
// change them.
const (
	msgNotLoggedIn  = "User is not logged in"
	msgTokenExpired = "User is not logged in or access_token is expired"
)

// Deserialize extracts the bearer access token, verifies it, loads the user
// and attaches them to the request context. The strict variant rejects
// requests without a valid token; the optional variant lets them continue
// anonymously so handlers can branch on CurrentUser themselves.
func Deserialize(codec *token.Codec, db sqldb.Service, strict bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		accessToken := bearerToken(c.GetHeader("Authorization"))
		if accessToken == "" {
			if strict {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgNotLoggedIn})
				return
			}
			c.Next()
			return
		}

		claims, ok := codec.VerifyAccessToken(accessToken)
		if !ok {
			if strict {
				c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": msgTokenExpired})
				return
			}
			c.Next()
			return
		}

		user, err := db.GetUserByID(c.Request.Context(), claims.Subject)
		if err != nil {
			if strict {
				if sqldb.IsNotFound(err) {
					c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": msgTokenExpired})
					return
				}
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
				return
			}
			c.Next()
			return
		}

		setCurrentUser(c, user)
		c.Next()
	}
}

// RequireLogin rejects requests that reached it without an attached user.
// Must run after Deserialize.
func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := CurrentUser(c); !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Please login to continue"})
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
