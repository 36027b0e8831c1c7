// Package session manages the server-side records refresh tokens anchor to.
package session

import (
	"context"
	"time"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
)

type Service struct {
	db  sqldb.Service
	ttl time.Duration
}

func NewService(db sqldb.Service, ttl time.Duration) *Service {
	return &Service{db: db, ttl: ttl}
}

// Create inserts a new valid session for the user. Every login creates its
// own session, so multiple devices stay logged in independently.
func (s *Service) Create(ctx context.Context, userID string) (models.Session, error) {
	return s.db.CreateSession(ctx, userID, time.Now().Add(s.ttl))
}

// FindByID looks up a session. Expired sessions are reported as not found by
// the store.
func (s *Service) FindByID(ctx context.Context, sessionID string) (models.Session, error) {
	return s.db.GetSessionByID(ctx, sessionID)
}

// Invalidate marks the session invalid; repeating it is a no-op.
func (s *Service) Invalidate(ctx context.Context, sessionID string) error {
	err := s.db.InvalidateSession(ctx, sessionID)
	if sqldb.IsNotFound(err) {
		return nil
	}
	return err
}
