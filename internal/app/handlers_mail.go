package app

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/services/gmail"
)

// The mail routes are scoped by /:id/:email, the owning user and the
// connected mailbox. The guards upstream already checked that the caller is
// that user or an admin; the handlers load the owner because the caller may
// be an admin acting on someone else's account.

type SendMailRequest struct {
	To      string `json:"to"`
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (a *App) HandleListEmails(c *gin.Context) {
	owner, ok := a.mailOwner(c)
	if !ok {
		return
	}

	list, err := a.gmail.ListMessages(c.Request.Context(), owner, c.Param("email"), listQueryFrom(c))
	if err != nil {
		a.writeMailError(c, "mail_list", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Emails fetched successfully",
		"records":       list.Messages,
		"size":          len(list.Messages),
		"nextPageToken": list.NextPageToken,
	})
}

func (a *App) HandleListDrafts(c *gin.Context) {
	owner, ok := a.mailOwner(c)
	if !ok {
		return
	}

	list, err := a.gmail.ListDrafts(c.Request.Context(), owner, c.Param("email"), listQueryFrom(c))
	if err != nil {
		a.writeMailError(c, "mail_drafts", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "Drafts fetched successfully",
		"records":       list.Drafts,
		"size":          len(list.Drafts),
		"nextPageToken": list.NextPageToken,
	})
}

func (a *App) HandleGetEmail(c *gin.Context) {
	owner, ok := a.mailOwner(c)
	if !ok {
		return
	}

	record, err := a.gmail.GetMessage(c.Request.Context(), owner, c.Param("email"), c.Param("messageId"))
	if err != nil {
		a.writeMailError(c, "mail_get", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "Email fetched successfully",
		"record":  record,
	})
}

func (a *App) HandleSendEmail(c *gin.Context) {
	owner, ok := a.mailOwner(c)
	if !ok {
		return
	}

	var req SendMailRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.To == "" {
		writeError(c, http.StatusBadRequest, "Recipient is required")
		return
	}

	if !validEmail(req.To) {
		writeError(c, http.StatusUnprocessableEntity, "Please enter a valid email")
		return
	}

	err := a.gmail.SendMessage(c.Request.Context(), owner, c.Param("email"), req.To, req.Subject, req.Body)
	if err != nil {
		a.writeMailError(c, "mail_send", err)
		return
	}

	writeMessage(c, http.StatusOK, "Email sent successfully")
}

func (a *App) HandleDeleteEmail(c *gin.Context) {
	owner, ok := a.mailOwner(c)
	if !ok {
		return
	}

	err := a.gmail.DeleteMessage(c.Request.Context(), owner, c.Param("email"), c.Param("messageId"))
	if err != nil {
		a.writeMailError(c, "mail_delete", err)
		return
	}

	writeMessage(c, http.StatusOK, "Email deleted successfully")
}

func (a *App) mailOwner(c *gin.Context) (models.User, bool) {
	owner, err := a.db.GetUserByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, http.StatusNotFound, "User not found")
		return models.User{}, false
	}
	return owner, true
}

func (a *App) writeMailError(c *gin.Context, handler string, err error) {
	switch {
	case errors.Is(err, gmail.ErrNotConnected):
		writeError(c, http.StatusNotFound, "Account not connected")
	case errors.Is(err, gmail.ErrReauthRequired):
		writeError(c, http.StatusUnauthorized, "Account authorization expired")
	default:
		a.writeInternal(c, handler, "gmail", err)
	}
}

func listQueryFrom(c *gin.Context) gmail.ListQuery {
	return gmail.ListQuery{
		MaxResults:       c.Query("maxResults"),
		PageToken:        c.Query("pageToken"),
		Q:                c.Query("q"),
		IncludeSpamTrash: c.Query("includeSpamTrash"),
	}
}
