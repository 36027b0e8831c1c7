// Package gmail talks to the Gmail REST API on behalf of a linked mailbox
// and transparently renews its OAuth access token when it expires.
package gmail

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb"
)

var (
	// ErrNotConnected means the mailbox is not linked to the user: a
	// revoked or never-granted consent, not a transient failure. Callers
	// must not retry.
	ErrNotConnected = errors.New("account not connected")

	// ErrReauthRequired means the call still failed authorization after a
	// successful token refresh; the user has to go through consent again.
	ErrReauthRequired = errors.New("reauthorization required")
)

const defaultBaseURL = "https://gmail.googleapis.com/gmail/v1"

type Service struct {
	db         sqldb.Service
	oauth      *oauth2.Config
	httpClient *http.Client
	baseURL    string
}

// NewService builds a Gmail client. The oauth config needs only the client
// credentials and token endpoint; redirect/scopes are handled by the consent
// flow.
func NewService(db sqldb.Service, oauth *oauth2.Config) *Service {
	return &Service{
		db:         db,
		oauth:      oauth,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    defaultBaseURL,
	}
}

// ListQuery mirrors the Gmail list parameters the API exposes.
type ListQuery struct {
	MaxResults       string
	PageToken        string
	Q                string
	IncludeSpamTrash string
}

func (q ListQuery) values() url.Values {
	maxResults := q.MaxResults
	if maxResults == "" {
		maxResults = "100"
	}
	includeSpamTrash := q.IncludeSpamTrash
	if includeSpamTrash == "" {
		includeSpamTrash = "false"
	}
	return url.Values{
		"maxResults":       {maxResults},
		"pageToken":        {q.PageToken},
		"q":                {q.Q},
		"includeSpamTrash": {includeSpamTrash},
	}
}

// MessageList is the subset of the Gmail list response we forward.
type MessageList struct {
	Messages      []json.RawMessage `json:"messages"`
	Drafts        []json.RawMessage `json:"drafts"`
	NextPageToken string            `json:"nextPageToken"`
}

// ListMessages fetches message headers for the mailbox.
func (s *Service) ListMessages(ctx context.Context, user models.User, mailbox string, q ListQuery) (*MessageList, error) {
	var list MessageList
	path := fmt.Sprintf("/users/%s/messages?%s", url.PathEscape(mailbox), q.values().Encode())
	if err := s.getJSON(ctx, user, mailbox, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// ListDrafts fetches drafts for the mailbox.
func (s *Service) ListDrafts(ctx context.Context, user models.User, mailbox string, q ListQuery) (*MessageList, error) {
	var list MessageList
	path := fmt.Sprintf("/users/%s/drafts?%s", url.PathEscape(mailbox), q.values().Encode())
	if err := s.getJSON(ctx, user, mailbox, path, &list); err != nil {
		return nil, err
	}
	return &list, nil
}

// GetMessage fetches a single message.
func (s *Service) GetMessage(ctx context.Context, user models.User, mailbox, messageID string) (json.RawMessage, error) {
	var message json.RawMessage
	path := fmt.Sprintf("/users/%s/messages/%s", url.PathEscape(mailbox), url.PathEscape(messageID))
	if err := s.getJSON(ctx, user, mailbox, path, &message); err != nil {
		return nil, err
	}
	return message, nil
}

// DeleteMessage removes a message from the mailbox.
func (s *Service) DeleteMessage(ctx context.Context, user models.User, mailbox, messageID string) error {
	path := fmt.Sprintf("/users/%s/messages/%s", url.PathEscape(mailbox), url.PathEscape(messageID))
	resp, err := s.do(ctx, user, mailbox, http.MethodDelete, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("gmail returned status %d", resp.StatusCode)
	}
	return nil
}

// SendMessage sends mail from the mailbox via the Gmail send endpoint.
func (s *Service) SendMessage(ctx context.Context, user models.User, mailbox, to, subject, body string) error {
	raw := buildRFC822(mailbox, to, subject, body)
	payload, err := json.Marshal(map[string]string{
		"raw": base64.URLEncoding.EncodeToString([]byte(raw)),
	})
	if err != nil {
		return fmt.Errorf("marshaling send request: %w", err)
	}

	path := fmt.Sprintf("/users/%s/messages/send", url.PathEscape(mailbox))
	resp, err := s.do(ctx, user, mailbox, http.MethodPost, path, payload)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail returned status %d", resp.StatusCode)
	}
	return nil
}

func (s *Service) getJSON(ctx context.Context, user models.User, mailbox, path string, out any) error {
	resp, err := s.do(ctx, user, mailbox, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gmail returned status %d", resp.StatusCode)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decoding gmail response: %w", err)
	}
	return nil
}

// do performs one Gmail call with the stored access token. On an
// authorization failure it exchanges the stored refresh token for a new
// access token, persists it in place, and retries exactly once; a second
// authorization failure is a hard error. Concurrent refreshes for the same
// mailbox are tolerated: both exchanges succeed upstream and the later
// persisted token wins.
func (s *Service) do(ctx context.Context, user models.User, mailbox, method, path string, body []byte) (*http.Response, error) {
	idx := user.ConnectedServiceIndex(mailbox)
	if idx < 0 {
		return nil, ErrNotConnected
	}
	cs := user.ConnectedServices[idx]

	resp, err := s.roundTrip(ctx, method, path, cs.AccessToken, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized {
		return resp, nil
	}
	drain(resp)

	accessToken, err := s.refreshAccessToken(ctx, user.ID, idx, cs.RefreshToken)
	if err != nil {
		return nil, err
	}

	resp, err = s.roundTrip(ctx, method, path, accessToken, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		return nil, ErrReauthRequired
	}
	return resp, nil
}

// refreshAccessToken trades the stored refresh token for a new access token
// at the provider's token endpoint and persists it at the same index it was
// read from, so refreshes of other mailboxes are never clobbered.
func (s *Service) refreshAccessToken(ctx context.Context, userID string, index int, refreshToken string) (string, error) {
	ts := s.oauth.TokenSource(ctx, &oauth2.Token{RefreshToken: refreshToken})
	tok, err := ts.Token()
	if err != nil {
		return "", fmt.Errorf("exchanging refresh token: %w", err)
	}

	if err := s.db.UpdateConnectedServiceAccessToken(ctx, userID, index, tok.AccessToken); err != nil {
		return "", fmt.Errorf("persisting refreshed access token: %w", err)
	}

	return tok.AccessToken, nil
}

func (s *Service) roundTrip(ctx context.Context, method, path, accessToken string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = strings.NewReader(string(body))
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating gmail request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling gmail: %w", err)
	}
	return resp, nil
}

func buildRFC822(from, to, subject, body string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject)
	b.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func drain(resp *http.Response) {
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
}
