// Package sqldbtest provides an in-memory sqldb.Service for tests. It
// mirrors the store's semantics closely enough for service and handler
// tests: sentinel errors, unique email/username, guarded reset-code updates
// and expiry-filtered session lookups.
package sqldbtest

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
)

type Store struct {
	mu       sync.Mutex
	users    map[string]models.User
	sessions map[string]models.Session
}

var _ sqldb.Service = (*Store)(nil)

func New() *Store {
	return &Store{
		users:    make(map[string]models.User),
		sessions: make(map[string]models.Session),
	}
}

func (s *Store) Health() map[string]string {
	return map[string]string{"status": "up"}
}

func (s *Store) Close() error { return nil }

func (s *Store) CreateUser(_ context.Context, newUser models.NewUser) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == newUser.Email || u.Username == newUser.Username {
			return models.User{}, sqldb.ErrDBDuplicatedEntry
		}
	}

	now := time.Now().UTC()
	user := models.User{
		ID:                         uuid.NewString(),
		Email:                      newUser.Email,
		Username:                   newUser.Username,
		Role:                       newUser.Role,
		Password:                   newUser.Password,
		Verified:                   newUser.Verified,
		AcceptedTermsAndConditions: newUser.AcceptedTermsAndConditions,
		ReceiveMarketingEmails:     newUser.ReceiveMarketingEmails,
		ConnectedServices:          []models.ConnectedService{},
		CreatedAt:                  now,
		UpdatedAt:                  now,
	}
	if newUser.VerificationCode != 0 {
		code := newUser.VerificationCode
		user.VerificationCode = &code
	}

	s.users[user.ID] = user
	return user, nil
}

func (s *Store) GetUserByID(_ context.Context, userID string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return models.User{}, sqldb.ErrDBNotFound
	}
	return user, nil
}

func (s *Store) GetUserByEmail(_ context.Context, email string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == email {
			return u, nil
		}
	}
	return models.User{}, sqldb.ErrDBNotFound
}

func (s *Store) GetUserByUsername(_ context.Context, username string) (models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, sqldb.ErrDBNotFound
}

func (s *Store) ListUsers(_ context.Context) ([]models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	users := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, u)
	}
	return users, nil
}

func (s *Store) UpdateUsername(_ context.Context, userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if id != userID && u.Username == username {
			return sqldb.ErrDBDuplicatedEntry
		}
	}

	user, ok := s.users[userID]
	if !ok {
		return sqldb.ErrDBNotFound
	}
	user.Username = username
	user.UpdatedAt = time.Now().UTC()
	s.users[userID] = user
	return nil
}

func (s *Store) MarkUserVerified(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return sqldb.ErrDBNotFound
	}
	user.Verified = true
	user.VerificationCode = nil
	s.users[userID] = user
	return nil
}

func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[userID]; !ok {
		return sqldb.ErrDBNotFound
	}
	delete(s.users, userID)
	for id, sess := range s.sessions {
		if sess.UserID == userID {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *Store) SetPasswordResetCode(_ context.Context, userID string, code int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return sqldb.ErrDBNotFound
	}
	user.PasswordResetCode = &code
	s.users[userID] = user
	return nil
}

func (s *Store) ClearPasswordResetCode(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return sqldb.ErrDBNotFound
	}
	user.PasswordResetCode = nil
	s.users[userID] = user
	return nil
}

func (s *Store) ResetUserPassword(_ context.Context, email string, code int, hashedPassword []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, u := range s.users {
		if u.Email != email {
			continue
		}
		if u.PasswordResetCode == nil || *u.PasswordResetCode != code {
			return sqldb.ErrDBNotFound
		}
		u.Password = hashedPassword
		u.PasswordResetCode = nil
		s.users[id] = u
		return nil
	}
	return sqldb.ErrDBNotFound
}

func (s *Store) CreateSession(_ context.Context, userID string, expiresAt time.Time) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	sess := models.Session{
		ID:        uuid.NewString(),
		UserID:    userID,
		Valid:     true,
		ExpiresAt: expiresAt,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.sessions[sess.ID] = sess
	return sess, nil
}

func (s *Store) GetSessionByID(_ context.Context, sessionID string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok || !sess.ExpiresAt.After(time.Now()) {
		return models.Session{}, sqldb.ErrDBNotFound
	}
	return sess, nil
}

func (s *Store) InvalidateSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return sqldb.ErrDBNotFound
	}
	sess.Valid = false
	sess.UpdatedAt = time.Now().UTC()
	s.sessions[sessionID] = sess
	return nil
}

func (s *Store) DeleteExpiredSessions(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(time.Now()) {
			delete(s.sessions, id)
		}
	}
	return nil
}

func (s *Store) UpsertConnectedService(_ context.Context, userID string, cs models.ConnectedService) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return sqldb.ErrDBNotFound
	}

	if i := user.ConnectedServiceIndex(cs.Email); i >= 0 {
		user.ConnectedServices[i] = cs
	} else {
		user.ConnectedServices = append(user.ConnectedServices, cs)
	}
	s.users[userID] = user
	return nil
}

func (s *Store) UpdateConnectedServiceAccessToken(_ context.Context, userID string, index int, accessToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[userID]
	if !ok {
		return sqldb.ErrDBNotFound
	}
	if index < 0 || index >= len(user.ConnectedServices) {
		return sqldb.ErrDBNotFound
	}
	user.ConnectedServices[index].AccessToken = accessToken
	s.users[userID] = user
	return nil
}
