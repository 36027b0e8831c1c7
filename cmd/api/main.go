package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"

	"github.com/MultiEmail/backend/internal/app"
	"github.com/MultiEmail/backend/internal/sdk/config"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
	"github.com/MultiEmail/backend/internal/services/auth"
	"github.com/MultiEmail/backend/internal/services/gmail"
	"github.com/MultiEmail/backend/internal/services/mailer"
	"github.com/MultiEmail/backend/internal/services/sentry"
	"github.com/MultiEmail/backend/internal/services/session"
	"github.com/MultiEmail/backend/internal/services/token"
)

var build string

// sessionSweepInterval is how often expired session rows get deleted. Session
// lookups already filter on expiry, the sweep only reclaims the rows.
const sessionSweepInterval = time.Hour

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		logger.Error("application startup failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	sqlService, err := sqldb.New(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer sqlService.Close()

	if err := sqldb.Migrate(ctx, sqlService); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	sentryService := sentry.NewService(cfg.SentryDSN, cfg.Environment)
	defer sentryService.Close()

	codec, err := token.NewCodec(token.Config{
		AccessPrivateKey:  cfg.AccessTokenPrivateKey,
		AccessPublicKey:   cfg.AccessTokenPublicKey,
		RefreshPrivateKey: cfg.RefreshTokenPrivateKey,
		RefreshPublicKey:  cfg.RefreshTokenPublicKey,
		AccessTTL:         cfg.AccessTokenTTL,
		RefreshTTL:        cfg.RefreshTokenTTL,
	})
	if err != nil {
		return fmt.Errorf("init token codec: %w", err)
	}

	sessionService := session.NewService(sqlService, cfg.RefreshTokenTTL)

	emailService := mailer.NewService(mailer.Config{
		APIURL:    cfg.MailAPIURL,
		APIKey:    cfg.MailAPIKey,
		FromEmail: cfg.MailFromEmail,
		FromName:  cfg.MailFromName,
	})

	authService := auth.NewService(sqlService, codec, sessionService, emailService)

	oauthConfig := &oauth2.Config{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		Scopes: []string{
			"https://www.googleapis.com/auth/userinfo.email",
			"https://www.googleapis.com/auth/gmail.modify",
		},
		Endpoint: google.Endpoint,
	}

	gmailService := gmail.NewService(sqlService, oauthConfig)

	backendApp := app.NewApp(
		cfg,
		sqlService,
		sentryService,
		codec,
		authService,
		gmailService,
		oauthConfig,
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      backendApp.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		ErrorLog:     slog.NewLogLogger(logger.Handler(), slog.LevelError),
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("server starting", "addr", srv.Addr, "build", build)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("listen and serve", "error", err)
			stop()
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		ticker := time.NewTicker(sessionSweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := sqlService.DeleteExpiredSessions(ctx); err != nil {
					logger.Error("deleting expired sessions", "error", err)
				}
			}
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down gracefully")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	wg.Wait()
	logger.Info("shutdown complete")
	return nil
}
