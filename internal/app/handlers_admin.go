package app

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
)

func (a *App) HandleAdminListUsers(c *gin.Context) {
	users, err := a.db.ListUsers(c.Request.Context())
	if err != nil {
		a.writeInternal(c, "admin_list_users", "db", err)
		return
	}

	records := make([]models.PublicUser, 0, len(users))
	for _, user := range users {
		records = append(records, user.Public())
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Users fetched successfully",
		"records": records,
		"size":    len(records),
	})
}

func (a *App) HandleAdminDeleteUser(c *gin.Context) {
	if err := a.db.DeleteUser(c.Request.Context(), c.Param("id")); err != nil {
		if sqldb.IsNotFound(err) {
			writeError(c, http.StatusNotFound, "User not found")
			return
		}
		a.writeInternal(c, "admin_delete_user", "db", err)
		return
	}

	writeMessage(c, http.StatusOK, "User deleted successfully")
}

// HandleAdminVerifyUser marks a user verified without their code, the manual
// fallback for users whose verification email never arrived.
func (a *App) HandleAdminVerifyUser(c *gin.Context) {
	user, err := a.db.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		if sqldb.IsNotFound(err) {
			writeError(c, http.StatusNotFound, "User not found")
			return
		}
		a.writeInternal(c, "admin_verify_user", "db", err)
		return
	}

	if !user.Verified {
		if err := a.db.MarkUserVerified(c.Request.Context(), user.ID); err != nil {
			a.writeInternal(c, "admin_verify_user", "db", err)
			return
		}
	}

	writeMessage(c, http.StatusOK, "User verified successfully")
}
