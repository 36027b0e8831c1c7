package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/oauth2"

	"github.com/MultiEmail/backend/internal/sdk/middleware"
	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
	"github.com/MultiEmail/backend/internal/services/auth"
	"github.com/MultiEmail/backend/internal/services/sentry"
)

const (
	// Refresh tokens travel in their own header so the Authorization
	// header stays reserved for the access token.
	refreshHeader = "x-refresh"

	oauthStateCookie = "oauth_state"
	oauthStateTTL    = 600 // seconds

	googleUserinfoURL = "https://www.googleapis.com/oauth2/v2/userinfo"
)

type SignupRequest struct {
	Username                   string `json:"username"`
	Email                      string `json:"email"`
	Password                   string `json:"password"`
	ConfirmPassword            string `json:"cpassword"`
	AcceptedTermsAndConditions bool   `json:"acceptedTermsAndConditions"`
	ReceiveMarketingEmails     bool   `json:"receiveMarketingEmails"`
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (a *App) HandleSignup(c *gin.Context) {
	var req SignupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	if strings.TrimSpace(req.Username) == "" || strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(c, http.StatusBadRequest, "Username, email and password are required")
		return
	}

	if req.Password != req.ConfirmPassword {
		writeError(c, http.StatusUnauthorized, "Password and Confirm password do not match")
		return
	}

	if !validEmail(req.Email) {
		writeError(c, http.StatusUnprocessableEntity, "Please enter a valid email")
		return
	}

	_, err := a.auth.Signup(c.Request.Context(), auth.SignupInput{
		Username:                   req.Username,
		Email:                      req.Email,
		Password:                   req.Password,
		AcceptedTermsAndConditions: req.AcceptedTermsAndConditions,
		ReceiveMarketingEmails:     req.ReceiveMarketingEmails,
	})
	if err != nil {
		if errors.Is(err, auth.ErrDuplicateUser) {
			writeError(c, http.StatusConflict, "User with same email or username already exists")
			return
		}
		a.writeInternal(c, "signup", "service", err)
		return
	}

	writeMessage(c, http.StatusCreated, "User created successfully")
}

func (a *App) HandleVerify(c *gin.Context) {
	email := c.Param("email")
	if !validEmail(email) {
		writeError(c, http.StatusUnprocessableEntity, "Please enter a valid email")
		return
	}

	code, err := strconv.Atoi(c.Param("verificationCode"))
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "Please enter a valid verification code")
		return
	}

	if err := a.auth.Verify(c.Request.Context(), email, code); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(c, http.StatusNotFound, "User not found")
		case errors.Is(err, auth.ErrInvalidVerificationCode):
			writeError(c, http.StatusUnauthorized, "Invalid verification code")
		default:
			a.writeInternal(c, "verify", "service", err)
		}
		return
	}

	writeMessage(c, http.StatusOK, "User verified successfully")
}

func (a *App) HandleLogin(c *gin.Context) {
	var req LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := a.auth.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(c, http.StatusNotFound, "User not found")
		case errors.Is(err, auth.ErrInvalidCredentials):
			writeError(c, http.StatusUnauthorized, "Invalid credentials")
		case errors.Is(err, auth.ErrNotVerified):
			writeError(c, http.StatusUnauthorized, "User is not verified")
		default:
			a.writeInternal(c, "login", "service", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "User logged in successfully",
		"access_token":  result.AccessToken,
		"refresh_token": result.RefreshToken,
		"role":          result.Role,
	})
}

// HandleMe reports the authenticated user, or an explicit logged-out payload
// for anonymous requests. Runs behind the optional deserialize variant.
func (a *App) HandleMe(c *gin.Context) {
	user, ok := middleware.CurrentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{
			"message": "User is not logged In",
			"user":    nil,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message": "User is logged In",
		"user":    user.Public(),
	})
}

func (a *App) HandleRefresh(c *gin.Context) {
	accessToken, err := a.auth.RefreshAccessToken(c.Request.Context(), c.GetHeader(refreshHeader))
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidRefreshToken):
			writeError(c, http.StatusUnauthorized, "Invalid refresh token")
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(c, http.StatusNotFound, "User not found")
		default:
			a.writeInternal(c, "refresh", "service", err)
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":      "Access token generated successfully",
		"access_token": accessToken,
	})
}

func (a *App) HandleLogout(c *gin.Context) {
	if err := a.auth.Logout(c.Request.Context(), c.GetHeader(refreshHeader)); err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			writeError(c, http.StatusUnauthorized, "Invalid refresh token")
			return
		}
		a.writeInternal(c, "logout", "service", err)
		return
	}

	writeMessage(c, http.StatusOK, "User logged out successfully")
}

func (a *App) HandleForgotPassword(c *gin.Context) {
	var req struct {
		Email string `json:"email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || strings.TrimSpace(req.Email) == "" {
		writeError(c, http.StatusBadRequest, "Email is required")
		return
	}

	if !validEmail(req.Email) {
		writeError(c, http.StatusUnprocessableEntity, "Please enter a valid email")
		return
	}

	if err := a.auth.ForgotPassword(c.Request.Context(), req.Email); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(c, http.StatusNotFound, "User not found")
		case errors.Is(err, auth.ErrNotVerified):
			writeError(c, http.StatusForbidden, "User is not verified")
		default:
			a.writeInternal(c, "forgot_password", "service", err)
		}
		return
	}

	writeMessage(c, http.StatusOK, "Password reset code sent to your email")
}

func (a *App) HandleResetPassword(c *gin.Context) {
	var req struct {
		Password        string `json:"password"`
		ConfirmPassword string `json:"cpassword"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.Password == "" {
		writeError(c, http.StatusBadRequest, "Password is required")
		return
	}

	if req.Password != req.ConfirmPassword {
		writeError(c, http.StatusUnauthorized, "Password and confirm password do not match")
		return
	}

	email := c.Param("email")
	if !validEmail(email) {
		writeError(c, http.StatusUnprocessableEntity, "Please enter a valid email")
		return
	}

	code, err := strconv.Atoi(c.Param("passwordResetCode"))
	if err != nil {
		writeError(c, http.StatusUnprocessableEntity, "Please enter a valid password reset code")
		return
	}

	if err := a.auth.ResetPassword(c.Request.Context(), email, code, req.Password); err != nil {
		switch {
		case errors.Is(err, auth.ErrUserNotFound):
			writeError(c, http.StatusNotFound, "User not found")
		case errors.Is(err, auth.ErrInvalidResetCode):
			writeError(c, http.StatusForbidden, "Invalid password reset code")
		default:
			a.writeInternal(c, "reset_password", "service", err)
		}
		return
	}

	writeMessage(c, http.StatusOK, "Password reset successfully")
}

// ----------------------------------------------------------------------------
// Google OAuth consent flow
// ----------------------------------------------------------------------------

// HandleGoogleOAuth starts the consent flow. The state parameter round-trips
// through a short-lived cookie so the redirect handler can reject forged
// callbacks.
func (a *App) HandleGoogleOAuth(c *gin.Context) {
	state := uuid.NewString()
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(oauthStateCookie, state, oauthStateTTL, "/", "", false, true)

	// Offline access with forced consent, otherwise Google only hands out
	// a refresh token on the very first authorization.
	url := a.oauth.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.SetAuthURLParam("prompt", "consent"),
	)

	c.Redirect(http.StatusTemporaryRedirect, url)
}

func (a *App) HandleGoogleOAuthRedirect(c *gin.Context) {
	stateCookie, err := c.Cookie(oauthStateCookie)
	if err != nil || stateCookie == "" || c.Query("state") != stateCookie {
		writeError(c, http.StatusUnauthorized, "Invalid OAuth state")
		return
	}
	c.SetCookie(oauthStateCookie, "", -1, "/", "", false, true)

	code := c.Query("code")
	if code == "" {
		writeError(c, http.StatusUnauthorized, "Missing authorization code")
		return
	}

	ctx := c.Request.Context()

	oauthToken, err := a.oauth.Exchange(ctx, code)
	if err != nil {
		a.toSentry(c, "oauth_redirect", "exchange", sentry.LevelError, err)
		writeError(c, http.StatusUnauthorized, "Failed to exchange authorization code")
		return
	}

	mailbox, err := a.fetchGoogleEmail(c, oauthToken)
	if err != nil {
		a.writeInternal(c, "oauth_redirect", "userinfo", err)
		return
	}

	user, err := a.findOrCreateOAuthUser(c, mailbox)
	if err != nil {
		a.writeInternal(c, "oauth_redirect", "user", err)
		return
	}

	err = a.db.UpsertConnectedService(ctx, user.ID, models.ConnectedService{
		Service:      models.ServiceGoogle,
		Email:        mailbox,
		AccessToken:  oauthToken.AccessToken,
		RefreshToken: oauthToken.RefreshToken,
	})
	if err != nil {
		a.writeInternal(c, "oauth_redirect", "db", err)
		return
	}

	writeMessage(c, http.StatusOK, "Account connected successfully")
}

func (a *App) fetchGoogleEmail(c *gin.Context, oauthToken *oauth2.Token) (string, error) {
	ctx := c.Request.Context()

	resp, err := a.oauth.Client(ctx, oauthToken).Get(googleUserinfoURL)
	if err != nil {
		return "", fmt.Errorf("fetching userinfo: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetching userinfo: status %d", resp.StatusCode)
	}

	var info struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return "", fmt.Errorf("decoding userinfo: %w", err)
	}
	if info.Email == "" {
		return "", errors.New("userinfo response has no email")
	}

	return strings.ToLower(info.Email), nil
}

// findOrCreateOAuthUser resolves the Google account's email to a local user.
// First-time users get a verified account with an unguessable password; they
// can claim a real one later through the reset flow.
func (a *App) findOrCreateOAuthUser(c *gin.Context, email string) (models.User, error) {
	ctx := c.Request.Context()

	user, err := a.db.GetUserByEmail(ctx, email)
	if err == nil {
		return user, nil
	}
	if !sqldb.IsNotFound(err) {
		return models.User{}, fmt.Errorf("loading user: %w", err)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), bcrypt.DefaultCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hashing placeholder password: %w", err)
	}

	username := email
	if at := strings.IndexByte(email, '@'); at > 0 {
		username = email[:at]
	}

	user, err = a.db.CreateUser(ctx, models.NewUser{
		Email:                      email,
		Username:                   username,
		Role:                       models.RoleUser,
		Password:                   hashed,
		Verified:                   true,
		AcceptedTermsAndConditions: true,
	})
	if err == nil {
		return user, nil
	}

	// The email local part can collide with an existing username; retry
	// once with a disambiguated one.
	if sqldb.IsDuplicateEntry(err) {
		user, err = a.db.CreateUser(ctx, models.NewUser{
			Email:                      email,
			Username:                   username + "-" + uuid.NewString()[:8],
			Role:                       models.RoleUser,
			Password:                   hashed,
			Verified:                   true,
			AcceptedTermsAndConditions: true,
		})
		if err == nil {
			return user, nil
		}
	}

	return models.User{}, fmt.Errorf("creating user: %w", err)
}
