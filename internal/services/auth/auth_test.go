package auth_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MultiEmail/backend/internal/sdk/sqldb/sqldbtest"
	"github.com/MultiEmail/backend/internal/services/auth"
	"github.com/MultiEmail/backend/internal/services/session"
	"github.com/MultiEmail/backend/internal/services/token/tokentest"
)

type sentMail struct {
	To      string
	Subject string
	Body    string
}

// fakeSender records outgoing mail. Signup sends from a goroutine, so the
// recorder has to be safe for concurrent use.
type fakeSender struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeSender) Send(_ context.Context, to, subject, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{To: to, Subject: subject, Body: body})
	return nil
}

func (f *fakeSender) fail(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

func newService(t *testing.T) (*auth.Service, *sqldbtest.Store, *fakeSender) {
	t.Helper()

	db := sqldbtest.New()
	codec := tokentest.Codec(t, 15*time.Minute, time.Hour)
	sessions := session.NewService(db, time.Hour)
	mail := &fakeSender{}

	return auth.NewService(db, codec, sessions, mail), db, mail
}

func signupInput() auth.SignupInput {
	return auth.SignupInput{
		Username:                   "jane",
		Email:                      "jane@example.com",
		Password:                   "Sup3r!Secret",
		AcceptedTermsAndConditions: true,
	}
}

// signupVerified runs signup and flips the user verified through the stored
// code, the way the email link would.
func signupVerified(t *testing.T, svc *auth.Service, db *sqldbtest.Store) {
	t.Helper()

	ctx := context.Background()
	_, err := svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	user, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	require.NotNil(t, user.VerificationCode)

	require.NoError(t, svc.Verify(ctx, "jane@example.com", *user.VerificationCode))
}

func TestSignupCreatesUnverifiedUser(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	user, err := svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	assert.False(t, user.Verified)
	assert.Equal(t, "jane@example.com", user.Email)

	stored, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	require.NotNil(t, stored.VerificationCode)
	assert.GreaterOrEqual(t, *stored.VerificationCode, 1000)
	assert.LessOrEqual(t, *stored.VerificationCode, 9999)

	// Password must be stored hashed, never in the clear.
	assert.NotEqual(t, []byte("Sup3r!Secret"), stored.Password)
}

func TestSignupNormalizesEmailAndUsername(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	in := signupInput()
	in.Email = "  Jane@Example.COM "
	in.Username = " JANE "

	_, err := svc.Signup(ctx, in)
	require.NoError(t, err)

	stored, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, "jane", stored.Username)
}

func TestSignupDuplicate(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	_, err = svc.Signup(ctx, signupInput())
	assert.ErrorIs(t, err, auth.ErrDuplicateUser)
}

func TestLoginBeforeVerification(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	_, err = svc.Login(ctx, "jane@example.com", "Sup3r!Secret")
	assert.ErrorIs(t, err, auth.ErrNotVerified)
}

func TestVerify(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	user, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	code := *user.VerificationCode

	assert.ErrorIs(t, svc.Verify(ctx, "jane@example.com", code+1), auth.ErrInvalidVerificationCode)
	assert.ErrorIs(t, svc.Verify(ctx, "missing@example.com", code), auth.ErrUserNotFound)

	require.NoError(t, svc.Verify(ctx, "jane@example.com", code))

	// A second verification succeeds regardless of code, so a stale link
	// never locks out a verified account.
	assert.NoError(t, svc.Verify(ctx, "jane@example.com", code+1))
}

func TestLogin(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	result, err := svc.Login(ctx, "jane@example.com", "Sup3r!Secret")
	require.NoError(t, err)
	assert.NotEmpty(t, result.AccessToken)
	assert.NotEmpty(t, result.RefreshToken)
	assert.Equal(t, "user", result.Role)

	_, err = svc.Login(ctx, "jane@example.com", "wrong")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "missing@example.com", "Sup3r!Secret")
	assert.ErrorIs(t, err, auth.ErrUserNotFound)
}

func TestRefreshAccessToken(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	result, err := svc.Login(ctx, "jane@example.com", "Sup3r!Secret")
	require.NoError(t, err)

	accessToken, err := svc.RefreshAccessToken(ctx, result.RefreshToken)
	require.NoError(t, err)
	assert.NotEmpty(t, accessToken)

	_, err = svc.RefreshAccessToken(ctx, "garbage")
	assert.ErrorIs(t, err, auth.ErrInvalidRefreshToken)
}

func TestRefreshAfterLogout(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	result, err := svc.Login(ctx, "jane@example.com", "Sup3r!Secret")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, result.RefreshToken))

	// The token still carries a valid signature but its session is dead.
	_, err = svc.RefreshAccessToken(ctx, result.RefreshToken)
	assert.ErrorIs(t, err, auth.ErrInvalidRefreshToken)

	// Logging out twice with the same token also fails; the session is no
	// longer live.
	assert.ErrorIs(t, svc.Logout(ctx, result.RefreshToken), auth.ErrInvalidRefreshToken)
}

func TestLogoutLeavesOtherSessionsAlive(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	first, err := svc.Login(ctx, "jane@example.com", "Sup3r!Secret")
	require.NoError(t, err)
	second, err := svc.Login(ctx, "jane@example.com", "Sup3r!Secret")
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, first.RefreshToken))

	_, err = svc.RefreshAccessToken(ctx, second.RefreshToken)
	assert.NoError(t, err)
}

func TestForgotPassword(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	assert.ErrorIs(t, svc.ForgotPassword(ctx, "missing@example.com"), auth.ErrUserNotFound)

	require.NoError(t, svc.ForgotPassword(ctx, "jane@example.com"))

	user, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.NotNil(t, user.PasswordResetCode)
}

func TestForgotPasswordUnverified(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()

	_, err := svc.Signup(ctx, signupInput())
	require.NoError(t, err)

	assert.ErrorIs(t, svc.ForgotPassword(ctx, "jane@example.com"), auth.ErrNotVerified)
}

// A failed reset email must not leave a usable reset code behind.
func TestForgotPasswordSendFailure(t *testing.T) {
	svc, db, mail := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	mail.fail(errors.New("smtp down"))
	assert.Error(t, svc.ForgotPassword(ctx, "jane@example.com"))

	user, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	assert.Nil(t, user.PasswordResetCode)
}

func TestResetPassword(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	require.NoError(t, svc.ForgotPassword(ctx, "jane@example.com"))

	user, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	code := *user.PasswordResetCode

	require.NoError(t, svc.ResetPassword(ctx, "jane@example.com", code, "N3w!Password"))

	// Old password no longer works, the new one does, and the code is
	// consumed.
	_, err = svc.Login(ctx, "jane@example.com", "Sup3r!Secret")
	assert.ErrorIs(t, err, auth.ErrInvalidCredentials)

	_, err = svc.Login(ctx, "jane@example.com", "N3w!Password")
	assert.NoError(t, err)

	assert.ErrorIs(t, svc.ResetPassword(ctx, "jane@example.com", code, "Another1!"), auth.ErrInvalidResetCode)
}

// A wrong code burns the pending one: the real code stops working too.
func TestResetPasswordWrongCodeBurnsPending(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	require.NoError(t, svc.ForgotPassword(ctx, "jane@example.com"))

	user, err := db.GetUserByEmail(ctx, "jane@example.com")
	require.NoError(t, err)
	code := *user.PasswordResetCode

	assert.ErrorIs(t, svc.ResetPassword(ctx, "jane@example.com", code+1, "N3w!Password"), auth.ErrInvalidResetCode)
	assert.ErrorIs(t, svc.ResetPassword(ctx, "jane@example.com", code, "N3w!Password"), auth.ErrInvalidResetCode)
}

func TestResetPasswordWithoutPendingCode(t *testing.T) {
	svc, db, _ := newService(t)
	ctx := context.Background()
	signupVerified(t, svc, db)

	assert.ErrorIs(t, svc.ResetPassword(ctx, "jane@example.com", 1234, "N3w!Password"), auth.ErrInvalidResetCode)
	assert.ErrorIs(t, svc.ResetPassword(ctx, "missing@example.com", 1234, "N3w!Password"), auth.ErrUserNotFound)
}
