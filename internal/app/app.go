// Package app wires the HTTP surface: route registration, request handlers,
// and the mapping from service errors to contract responses.
package app

import (
	"golang.org/x/oauth2"

	"github.com/MultiEmail/backend/internal/sdk/config"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
	"github.com/MultiEmail/backend/internal/services/auth"
	"github.com/MultiEmail/backend/internal/services/gmail"
	"github.com/MultiEmail/backend/internal/services/sentry"
	"github.com/MultiEmail/backend/internal/services/token"
)

type App struct {
	cfg    config.Config
	db     sqldb.Service
	sentry *sentry.Service
	codec  *token.Codec
	auth   *auth.Service
	gmail  *gmail.Service
	oauth  *oauth2.Config
}

func NewApp(
	cfg config.Config,
	db sqldb.Service,
	sentrySvc *sentry.Service,
	codec *token.Codec,
	authSvc *auth.Service,
	gmailSvc *gmail.Service,
	oauth *oauth2.Config,
) *App {
	return &App{
		cfg:    cfg,
		db:     db,
		sentry: sentrySvc,
		codec:  codec,
		auth:   authSvc,
		gmail:  gmailSvc,
		oauth:  oauth,
	}
}
