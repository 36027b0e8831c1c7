// Package mailer sends transactional email through an HTTP send API.
package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Sender is the outbound email contract the auth service depends on. A
// failed send must be distinguishable from success: forgot-password only
// persists its reset code after the email actually went out.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}

type Config struct {
	APIURL    string
	APIKey    string
	FromEmail string
	FromName  string
}

type Service struct {
	cfg        Config
	httpClient *http.Client
}

func NewService(cfg Config) *Service {
	return &Service{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type sendRequest struct {
	From    party   `json:"from"`
	To      []party `json:"to"`
	Subject string  `json:"subject"`
	Text    string  `json:"text"`
}

type party struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// Send posts the message to the configured send API.
func (s *Service) Send(ctx context.Context, to, subject, body string) error {
	payload, err := json.Marshal(sendRequest{
		From:    party{Email: s.cfg.FromEmail, Name: s.cfg.FromName},
		To:      []party{{Email: to}},
		Subject: subject,
		Text:    body,
	})
	if err != nil {
		return fmt.Errorf("marshaling email request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.cfg.APIURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sending email request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var errBody bytes.Buffer
		if _, readErr := errBody.ReadFrom(resp.Body); readErr == nil && errBody.Len() > 0 {
			return fmt.Errorf("mail API returned status %d: %s", resp.StatusCode, errBody.String())
		}
		return fmt.Errorf("mail API returned status %d", resp.StatusCode)
	}

	return nil
}
