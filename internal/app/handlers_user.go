package app

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/sdk/sqldb"
)

type UpdateUserRequest struct {
	Username string `json:"username"`
}

func (a *App) HandleUpdateUser(c *gin.Context) {
	var req UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	username := strings.ToLower(strings.TrimSpace(req.Username))
	if username == "" {
		writeError(c, http.StatusBadRequest, "Username is required")
		return
	}

	// Friendly pre-check; the unique index still backstops the race.
	if existing, err := a.db.GetUserByUsername(c.Request.Context(), username); err == nil && existing.ID != c.Param("id") {
		writeError(c, http.StatusConflict, "Username is already taken")
		return
	}

	if err := a.db.UpdateUsername(c.Request.Context(), c.Param("id"), username); err != nil {
		switch {
		case sqldb.IsDuplicateEntry(err):
			writeError(c, http.StatusConflict, "Username is already taken")
		case sqldb.IsNotFound(err):
			writeError(c, http.StatusNotFound, "User not found")
		default:
			a.writeInternal(c, "update_user", "db", err)
		}
		return
	}

	writeMessage(c, http.StatusOK, "User updated successfully")
}
