// Package auth implements the credential lifecycle: signup, verification,
// login, logout, token refresh, and password recovery.
package auth

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
	"github.com/MultiEmail/backend/internal/services/mailer"
	"github.com/MultiEmail/backend/internal/services/session"
	"github.com/MultiEmail/backend/internal/services/token"
)

const (
	bcryptCost      = bcrypt.DefaultCost
	mailSendTimeout = 30 * time.Second
)

var (
	ErrDuplicateUser           = errors.New("user with same email or username already exists")
	ErrUserNotFound            = errors.New("user not found")
	ErrInvalidCredentials      = errors.New("invalid credentials")
	ErrNotVerified             = errors.New("user is not verified")
	ErrInvalidVerificationCode = errors.New("invalid verification code")
	ErrInvalidRefreshToken     = errors.New("invalid refresh token")
	ErrInvalidResetCode        = errors.New("invalid password reset code")
)

type Service struct {
	db       sqldb.Service
	codec    *token.Codec
	sessions *session.Service
	mail     mailer.Sender
}

func NewService(db sqldb.Service, codec *token.Codec, sessions *session.Service, mail mailer.Sender) *Service {
	return &Service{
		db:       db,
		codec:    codec,
		sessions: sessions,
		mail:     mail,
	}
}

type SignupInput struct {
	Username                   string
	Email                      string
	Password                   string
	AcceptedTermsAndConditions bool
	ReceiveMarketingEmails     bool
}

// Signup creates an unverified user and emails them a verification code.
// The store's unique indexes are the authority for conflicts; a duplicate
// insert maps to ErrDuplicateUser without a pre-check read. The email is
// fire-and-forget: a delivery failure is logged, never surfaced, since the
// admin can re-verify the account manually.
func (s *Service) Signup(ctx context.Context, in SignupInput) (models.User, error) {
	// Hash at the point of assignment. Nothing else ever rehashes the
	// password, so unrelated profile updates cannot double-hash it.
	hashed, err := bcrypt.GenerateFromPassword([]byte(in.Password), bcryptCost)
	if err != nil {
		return models.User{}, fmt.Errorf("hashing password: %w", err)
	}

	code, err := randomOTP()
	if err != nil {
		return models.User{}, fmt.Errorf("generating verification code: %w", err)
	}

	user, err := s.db.CreateUser(ctx, models.NewUser{
		Email:                      normalize(in.Email),
		Username:                   normalize(in.Username),
		Role:                       models.RoleUser,
		Password:                   hashed,
		Verified:                   false,
		VerificationCode:           code,
		AcceptedTermsAndConditions: in.AcceptedTermsAndConditions,
		ReceiveMarketingEmails:     in.ReceiveMarketingEmails,
	})
	if err != nil {
		if sqldb.IsDuplicateEntry(err) {
			return models.User{}, ErrDuplicateUser
		}
		return models.User{}, fmt.Errorf("creating user: %w", err)
	}

	go func() {
		sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), mailSendTimeout)
		defer cancel()

		body := fmt.Sprintf("Welcome to Multi Email! Your verification code is %d.", code)
		if err := s.mail.Send(sendCtx, user.Email, "Verify your email", body); err != nil {
			slog.Error("sending verification email", "email", user.Email, "error", err)
		}
	}()

	return user, nil
}

// Verify marks the user verified when the submitted code matches. Verifying
// an already verified user succeeds without looking at the code, so a stale
// link can never lock a verified account out.
func (s *Service) Verify(ctx context.Context, email string, code int) error {
	user, err := s.db.GetUserByEmail(ctx, normalize(email))
	if err != nil {
		if sqldb.IsNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("loading user: %w", err)
	}

	if user.Verified {
		return nil
	}

	if user.VerificationCode == nil || *user.VerificationCode != code {
		return ErrInvalidVerificationCode
	}

	if err := s.db.MarkUserVerified(ctx, user.ID); err != nil {
		return fmt.Errorf("marking user verified: %w", err)
	}

	return nil
}

type LoginResult struct {
	AccessToken  string
	RefreshToken string
	Role         string
}

// Login authenticates by email and password and mints the token pair. Each
// successful login creates its own session, so concurrent logins from
// several devices all stay valid.
func (s *Service) Login(ctx context.Context, email, password string) (LoginResult, error) {
	user, err := s.db.GetUserByEmail(ctx, normalize(email))
	if err != nil {
		if sqldb.IsNotFound(err) {
			return LoginResult{}, ErrUserNotFound
		}
		return LoginResult{}, fmt.Errorf("loading user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword(user.Password, []byte(password)); err != nil {
		return LoginResult{}, ErrInvalidCredentials
	}

	if !user.Verified {
		return LoginResult{}, ErrNotVerified
	}

	accessToken, err := s.codec.SignAccessToken(user)
	if err != nil {
		return LoginResult{}, fmt.Errorf("signing access token: %w", err)
	}

	sess, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("creating session: %w", err)
	}

	refreshToken, err := s.codec.SignRefreshToken(sess.ID)
	if err != nil {
		return LoginResult{}, fmt.Errorf("signing refresh token: %w", err)
	}

	return LoginResult{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		Role:         user.Role,
	}, nil
}

// Logout invalidates the session the refresh token is anchored to.
func (s *Service) Logout(ctx context.Context, refreshToken string) error {
	sess, err := s.liveSession(ctx, refreshToken)
	if err != nil {
		return err
	}

	if err := s.sessions.Invalidate(ctx, sess.ID); err != nil {
		return fmt.Errorf("invalidating session: %w", err)
	}

	return nil
}

// RefreshAccessToken mints a fresh access token from a live session. The
// refresh token and session are left untouched; rotation happens only at
// login.
func (s *Service) RefreshAccessToken(ctx context.Context, refreshToken string) (string, error) {
	sess, err := s.liveSession(ctx, refreshToken)
	if err != nil {
		return "", err
	}

	user, err := s.db.GetUserByID(ctx, sess.UserID)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return "", ErrUserNotFound
		}
		return "", fmt.Errorf("loading session user: %w", err)
	}

	accessToken, err := s.codec.SignAccessToken(user)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}

	return accessToken, nil
}

// liveSession verifies the refresh token and resolves it to a session that
// is still valid and unexpired.
func (s *Service) liveSession(ctx context.Context, refreshToken string) (models.Session, error) {
	claims, ok := s.codec.VerifyRefreshToken(refreshToken)
	if !ok {
		return models.Session{}, ErrInvalidRefreshToken
	}

	sess, err := s.sessions.FindByID(ctx, claims.Session)
	if err != nil {
		if sqldb.IsNotFound(err) {
			return models.Session{}, ErrInvalidRefreshToken
		}
		return models.Session{}, fmt.Errorf("loading session: %w", err)
	}

	if !sess.Valid {
		return models.Session{}, ErrInvalidRefreshToken
	}

	return sess, nil
}

// ForgotPassword emails a reset code to a verified user. The code is
// persisted only after the email went out; a failed send leaves no
// valid-looking but undelivered code behind.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	user, err := s.db.GetUserByEmail(ctx, normalize(email))
	if err != nil {
		if sqldb.IsNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("loading user: %w", err)
	}

	if !user.Verified {
		return ErrNotVerified
	}

	code, err := randomOTP()
	if err != nil {
		return fmt.Errorf("generating reset code: %w", err)
	}

	body := fmt.Sprintf("Your password reset code is %d.", code)
	if err := s.mail.Send(ctx, user.Email, "Reset your password", body); err != nil {
		return fmt.Errorf("sending reset email: %w", err)
	}

	if err := s.db.SetPasswordResetCode(ctx, user.ID, code); err != nil {
		return fmt.Errorf("persisting reset code: %w", err)
	}

	return nil
}

// ResetPassword consumes a pending reset code and sets the new password.
// The store re-checks the code inside the clearing UPDATE, so two racing
// resets cannot both succeed; the loser's code check fails atomically. A
// mismatched code also clears the pending code, burning it.
func (s *Service) ResetPassword(ctx context.Context, email string, code int, newPassword string) error {
	user, err := s.db.GetUserByEmail(ctx, normalize(email))
	if err != nil {
		if sqldb.IsNotFound(err) {
			return ErrUserNotFound
		}
		return fmt.Errorf("loading user: %w", err)
	}

	if user.PasswordResetCode == nil {
		return ErrInvalidResetCode
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcryptCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}

	err = s.db.ResetUserPassword(ctx, user.Email, code, hashed)
	if err != nil {
		if sqldb.IsNotFound(err) {
			// The code no longer matches: wrong code or already
			// consumed by a concurrent reset. Burn whatever is left.
			if clearErr := s.db.ClearPasswordResetCode(ctx, user.ID); clearErr != nil {
				slog.Error("clearing password reset code", "email", user.Email, "error", clearErr)
			}
			return ErrInvalidResetCode
		}
		return fmt.Errorf("resetting password: %w", err)
	}

	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// randomOTP returns a random four digit code.
func randomOTP() (int, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(9000))
	if err != nil {
		return 0, err
	}
	return 1000 + int(n.Int64()), nil
}
