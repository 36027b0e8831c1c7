// Package sqldb provides the credential store for the Multi Email backend.
package sqldb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb/migrations"
)

// PostgreSQL error codes.
// https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
	checkViolation      = "23514"
)

var (
	ErrDBNotFound          = sql.ErrNoRows
	ErrDBDuplicatedEntry   = errors.New("duplicated entry")
	ErrForeignKeyViolation = errors.New("foreign key violation")
	ErrCheckViolation      = errors.New("check constraint violation")
)

// Service is the storage contract every other component talks to. There is
// deliberately no caching layer in front of it so session-validity checks
// stay authoritative.
type Service interface {
	// Health returns a map of health status information.
	Health() map[string]string

	// Close terminates the database connection.
	Close() error

	// User operations
	CreateUser(ctx context.Context, user models.NewUser) (models.User, error)
	GetUserByID(ctx context.Context, userID string) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	GetUserByUsername(ctx context.Context, username string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	UpdateUsername(ctx context.Context, userID, username string) error
	MarkUserVerified(ctx context.Context, userID string) error
	DeleteUser(ctx context.Context, userID string) error

	// Password recovery. ResetUserPassword re-checks the reset code inside
	// the UPDATE itself, so two racing resets cannot both consume it.
	SetPasswordResetCode(ctx context.Context, userID string, code int) error
	ClearPasswordResetCode(ctx context.Context, userID string) error
	ResetUserPassword(ctx context.Context, email string, code int, hashedPassword []byte) error

	// Session operations
	CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error)
	GetSessionByID(ctx context.Context, sessionID string) (models.Session, error)
	InvalidateSession(ctx context.Context, sessionID string) error
	DeleteExpiredSessions(ctx context.Context) error

	// Connected service operations
	UpsertConnectedService(ctx context.Context, userID string, cs models.ConnectedService) error
	UpdateConnectedServiceAccessToken(ctx context.Context, userID string, index int, accessToken string) error
}

type service struct {
	db *sql.DB
}

// New opens a connection pool against the given Postgres DSN.
func New(dsn string) (Service, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	return &service{db: db}, nil
}

// RunMigrations applies the embedded goose migrations.
func (s *service) runMigrations(ctx context.Context) error {
	goose.SetBaseFS(migrations.Migrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("setting goose dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "."); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	return nil
}

// Migrate runs schema migrations on a Service created by New.
func Migrate(ctx context.Context, svc Service) error {
	s, ok := svc.(*service)
	if !ok {
		return errors.New("migrate: unsupported service implementation")
	}
	return s.runMigrations(ctx)
}

// Health checks the health of the database connection by pinging the
// database and reporting pool statistics.
func (s *service) Health() map[string]string {
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
	defer cancel()

	stats := make(map[string]string)

	if err := s.db.PingContext(ctx); err != nil {
		stats["status"] = "down"
		stats["error"] = fmt.Sprintf("db down: %v", err)
		return stats
	}

	stats["status"] = "up"
	stats["message"] = "It's healthy"

	dbStats := s.db.Stats()
	stats["open_connections"] = strconv.Itoa(dbStats.OpenConnections)
	stats["in_use"] = strconv.Itoa(dbStats.InUse)
	stats["idle"] = strconv.Itoa(dbStats.Idle)
	stats["wait_count"] = strconv.FormatInt(dbStats.WaitCount, 10)
	stats["wait_duration"] = dbStats.WaitDuration.String()

	return stats
}

// Close closes the database connection.
func (s *service) Close() error {
	return s.db.Close()
}

// ---------------------------------------------
// User Operations
// ---------------------------------------------

const userColumns = `
		id::text,
		email,
		username,
		role,
		password,
		verified,
		verification_code,
		password_reset_code,
		accepted_terms_and_conditions,
		receive_marketing_emails,
		connected_services,
		created_at,
		updated_at`

// CreateUser inserts a new user. The unique indexes on email and username
// are the authority for duplicates; callers must treat ErrDBDuplicatedEntry
// as a conflict rather than pre-checking.
func (s *service) CreateUser(ctx context.Context, newUser models.NewUser) (models.User, error) {
	const query = `
		INSERT INTO users (email, username, role, password, verified, verification_code,
			accepted_terms_and_conditions, receive_marketing_emails)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING` + userColumns

	user, err := scanUser(s.db.QueryRowContext(ctx, query,
		newUser.Email,
		newUser.Username,
		newUser.Role,
		newUser.Password,
		newUser.Verified,
		newUser.VerificationCode,
		newUser.AcceptedTermsAndConditions,
		newUser.ReceiveMarketingEmails,
	))
	if err != nil {
		if isPgError(err, uniqueViolation) {
			return models.User{}, ErrDBDuplicatedEntry
		}
		return models.User{}, fmt.Errorf("creating user: %w", err)
	}

	return user, nil
}

// GetUserByID retrieves a user by their ID.
func (s *service) GetUserByID(ctx context.Context, userID string) (models.User, error) {
	const query = `SELECT` + userColumns + ` FROM users WHERE id = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, userID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("selecting user: %w", err)
	}

	return user, nil
}

// GetUserByEmail retrieves a user by their email address.
func (s *service) GetUserByEmail(ctx context.Context, email string) (models.User, error) {
	const query = `SELECT` + userColumns + ` FROM users WHERE email = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, email))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("selecting user by email: %w", err)
	}

	return user, nil
}

// GetUserByUsername retrieves a user by their username.
func (s *service) GetUserByUsername(ctx context.Context, username string) (models.User, error) {
	const query = `SELECT` + userColumns + ` FROM users WHERE username = $1`

	user, err := scanUser(s.db.QueryRowContext(ctx, query, username))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.User{}, ErrDBNotFound
		}
		return models.User{}, fmt.Errorf("selecting user by username: %w", err)
	}

	return user, nil
}

// ListUsers retrieves all users, newest first.
func (s *service) ListUsers(ctx context.Context) ([]models.User, error) {
	const query = `SELECT` + userColumns + ` FROM users ORDER BY created_at DESC`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing users: %w", err)
	}
	defer rows.Close()

	var users []models.User
	for rows.Next() {
		user, err := scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning user: %w", err)
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating users: %w", err)
	}

	return users, nil
}

// UpdateUsername changes a user's username.
func (s *service) UpdateUsername(ctx context.Context, userID, username string) error {
	const query = `
		UPDATE users
		SET username = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, username, userID)
	if err != nil {
		if isPgError(err, uniqueViolation) {
			return ErrDBDuplicatedEntry
		}
		return fmt.Errorf("updating username: %w", err)
	}

	return requireRowsAffected(result)
}

// MarkUserVerified sets the verified flag and drops the verification code.
func (s *service) MarkUserVerified(ctx context.Context, userID string) error {
	const query = `
		UPDATE users
		SET verified = true,
		    verification_code = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("marking user verified: %w", err)
	}

	return requireRowsAffected(result)
}

// DeleteUser removes a user and, via cascade, their sessions.
func (s *service) DeleteUser(ctx context.Context, userID string) error {
	const query = `DELETE FROM users WHERE id = $1`

	result, err := s.db.ExecContext(ctx, query, userID)
	if err != nil {
		return fmt.Errorf("deleting user: %w", err)
	}

	return requireRowsAffected(result)
}

// ---------------------------------------------
// Password Recovery
// ---------------------------------------------

// SetPasswordResetCode stores a pending reset code for the user.
func (s *service) SetPasswordResetCode(ctx context.Context, userID string, code int) error {
	const query = `
		UPDATE users
		SET password_reset_code = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`

	result, err := s.db.ExecContext(ctx, query, code, userID)
	if err != nil {
		return fmt.Errorf("setting password reset code: %w", err)
	}

	return requireRowsAffected(result)
}

// ClearPasswordResetCode drops any pending reset code.
func (s *service) ClearPasswordResetCode(ctx context.Context, userID string) error {
	const query = `
		UPDATE users
		SET password_reset_code = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	if _, err := s.db.ExecContext(ctx, query, userID); err != nil {
		return fmt.Errorf("clearing password reset code: %w", err)
	}

	return nil
}

// ResetUserPassword sets the new password hash and clears the reset code in
// a single statement. The WHERE clause re-checks the code, so a concurrent
// reset that already consumed it makes this a no-op reported as
// ErrDBNotFound.
func (s *service) ResetUserPassword(ctx context.Context, email string, code int, hashedPassword []byte) error {
	const query = `
		UPDATE users
		SET password = $1,
		    password_reset_code = NULL,
		    updated_at = CURRENT_TIMESTAMP
		WHERE email = $2
		  AND password_reset_code = $3
	`

	result, err := s.db.ExecContext(ctx, query, hashedPassword, email, code)
	if err != nil {
		return fmt.Errorf("resetting user password: %w", err)
	}

	return requireRowsAffected(result)
}

// ---------------------------------------------
// Session Operations
// ---------------------------------------------

const sessionColumns = `
		id::text,
		user_id::text,
		valid,
		expires_at,
		created_at,
		updated_at`

// CreateSession inserts a new valid session for the user.
func (s *service) CreateSession(ctx context.Context, userID string, expiresAt time.Time) (models.Session, error) {
	const query = `
		INSERT INTO sessions (user_id, valid, expires_at)
		VALUES ($1, true, $2)
		RETURNING` + sessionColumns

	session, err := scanSession(s.db.QueryRowContext(ctx, query, userID, expiresAt))
	if err != nil {
		if isPgError(err, foreignKeyViolation) {
			return models.Session{}, ErrForeignKeyViolation
		}
		return models.Session{}, fmt.Errorf("creating session: %w", err)
	}

	return session, nil
}

// GetSessionByID retrieves a session. Expired sessions are reported as not
// found regardless of whether the janitor has collected them yet.
func (s *service) GetSessionByID(ctx context.Context, sessionID string) (models.Session, error) {
	const query = `
		SELECT` + sessionColumns + `
		FROM sessions
		WHERE id = $1
		  AND expires_at > CURRENT_TIMESTAMP
	`

	session, err := scanSession(s.db.QueryRowContext(ctx, query, sessionID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return models.Session{}, ErrDBNotFound
		}
		return models.Session{}, fmt.Errorf("selecting session: %w", err)
	}

	return session, nil
}

// InvalidateSession marks a session as invalid. Invalidating an already
// invalid session is not an error.
func (s *service) InvalidateSession(ctx context.Context, sessionID string) error {
	const query = `
		UPDATE sessions
		SET valid = false,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $1
	`

	result, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return fmt.Errorf("invalidating session: %w", err)
	}

	return requireRowsAffected(result)
}

// DeleteExpiredSessions garbage-collects expired sessions. Called
// periodically by the janitor in cmd/api.
func (s *service) DeleteExpiredSessions(ctx context.Context) error {
	const query = `DELETE FROM sessions WHERE expires_at < CURRENT_TIMESTAMP`

	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}

	return nil
}

// ---------------------------------------------
// Connected Service Operations
// ---------------------------------------------

// UpsertConnectedService adds the connected service to the user's list or,
// when the (service, email) pair is already linked, replaces that entry in
// place.
func (s *service) UpsertConnectedService(ctx context.Context, userID string, cs models.ConnectedService) error {
	payload, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("marshaling connected service: %w", err)
	}

	user, err := s.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}

	idx := -1
	for i, existing := range user.ConnectedServices {
		if existing.Service == cs.Service && existing.Email == cs.Email {
			idx = i
			break
		}
	}

	if idx >= 0 {
		const query = `
			UPDATE users
			SET connected_services = jsonb_set(connected_services, ARRAY[$1::text], $2::jsonb),
			    updated_at = CURRENT_TIMESTAMP
			WHERE id = $3
		`
		result, err := s.db.ExecContext(ctx, query, strconv.Itoa(idx), payload, userID)
		if err != nil {
			return fmt.Errorf("replacing connected service: %w", err)
		}
		return requireRowsAffected(result)
	}

	const query = `
		UPDATE users
		SET connected_services = connected_services || $1::jsonb,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $2
	`
	result, err := s.db.ExecContext(ctx, query, payload, userID)
	if err != nil {
		return fmt.Errorf("appending connected service: %w", err)
	}
	return requireRowsAffected(result)
}

// UpdateConnectedServiceAccessToken overwrites the access token of the
// connected service at the given index. The write targets a single JSONB
// path so concurrent refreshes of other mailboxes are never clobbered; for
// the same mailbox the later write wins, which is fine since freshly issued
// tokens are interchangeable.
func (s *service) UpdateConnectedServiceAccessToken(ctx context.Context, userID string, index int, accessToken string) error {
	const query = `
		UPDATE users
		SET connected_services = jsonb_set(connected_services, ARRAY[$1::text, 'access_token'], to_jsonb($2::text)),
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = $3
	`

	result, err := s.db.ExecContext(ctx, query, strconv.Itoa(index), accessToken, userID)
	if err != nil {
		return fmt.Errorf("updating connected service access token: %w", err)
	}

	return requireRowsAffected(result)
}

// ---------------------------------------------
// Helpers
// ---------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(scanner rowScanner) (models.User, error) {
	var user models.User
	var verificationCode, passwordResetCode sql.NullInt32
	var connectedServices []byte

	if err := scanner.Scan(
		&user.ID,
		&user.Email,
		&user.Username,
		&user.Role,
		&user.Password,
		&user.Verified,
		&verificationCode,
		&passwordResetCode,
		&user.AcceptedTermsAndConditions,
		&user.ReceiveMarketingEmails,
		&connectedServices,
		&user.CreatedAt,
		&user.UpdatedAt,
	); err != nil {
		return models.User{}, err
	}

	user.VerificationCode = IntPtr(verificationCode)
	user.PasswordResetCode = IntPtr(passwordResetCode)

	if len(connectedServices) > 0 {
		if err := json.Unmarshal(connectedServices, &user.ConnectedServices); err != nil {
			return models.User{}, fmt.Errorf("unmarshaling connected services: %w", err)
		}
	}

	return user, nil
}

func scanSession(scanner rowScanner) (models.Session, error) {
	var session models.Session
	if err := scanner.Scan(
		&session.ID,
		&session.UserID,
		&session.Valid,
		&session.ExpiresAt,
		&session.CreatedAt,
		&session.UpdatedAt,
	); err != nil {
		return models.Session{}, err
	}

	return session, nil
}

func requireRowsAffected(result sql.Result) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}

	if rowsAffected == 0 {
		return ErrDBNotFound
	}

	return nil
}

// isPgError checks if the error is a PostgreSQL error with the given code.
func isPgError(err error, code string) bool {
	var pgErr interface{ SQLState() string }
	if errors.As(err, &pgErr) {
		return pgErr.SQLState() == code
	}
	return false
}

// IntPtr returns a pointer to an int from sql.NullInt32.
func IntPtr(ni sql.NullInt32) *int {
	if !ni.Valid {
		return nil
	}
	intVal := int(ni.Int32)
	return &intVal
}

// IsNotFound checks if the error is a not found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrDBNotFound)
}

// IsDuplicateEntry checks if the error is a duplicate entry error.
func IsDuplicateEntry(err error) bool {
	return errors.Is(err, ErrDBDuplicatedEntry)
}
