package gmail

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb/sqldbtest"
)

// fakeGmail accepts only one access token and returns 401 for everything
// else, mimicking an expired credential.
type fakeGmail struct {
	validToken string
	calls      atomic.Int64
	status     int
	body       string
}

func (f *fakeGmail) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.calls.Add(1)
		if r.Header.Get("Authorization") != "Bearer "+f.validToken {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		status := f.status
		if status == 0 {
			status = http.StatusOK
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		fmt.Fprint(w, f.body)
	}
}

func newTokenEndpoint(t *testing.T, accessToken string, calls *atomic.Int64) *httptest.Server {
	t.Helper()

	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": accessToken,
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
}

func newTestService(t *testing.T, db *sqldbtest.Store, gmailURL, tokenURL string) *Service {
	t.Helper()

	return &Service{
		db: db,
		oauth: &oauth2.Config{
			ClientID:     "client-id",
			ClientSecret: "client-secret",
			Endpoint: oauth2.Endpoint{
				TokenURL:  tokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient: &http.Client{Timeout: 5 * time.Second},
		baseURL:    gmailURL,
	}
}

func newConnectedUser(t *testing.T, db *sqldbtest.Store, accessToken string) models.User {
	t.Helper()

	ctx := context.Background()
	user, err := db.CreateUser(ctx, models.NewUser{
		Email:    "jane@example.com",
		Username: "jane",
		Role:     models.RoleUser,
		Password: []byte("hash"),
		Verified: true,
	})
	require.NoError(t, err)

	err = db.UpsertConnectedService(ctx, user.ID, models.ConnectedService{
		Service:      models.ServiceGoogle,
		Email:        "jane@gmail.com",
		AccessToken:  accessToken,
		RefreshToken: "refresh-1",
	})
	require.NoError(t, err)

	user, err = db.GetUserByID(ctx, user.ID)
	require.NoError(t, err)
	return user
}

func TestListMessagesWithLiveToken(t *testing.T) {
	upstream := &fakeGmail{
		validToken: "live",
		body:       `{"messages":[{"id":"m1"},{"id":"m2"}],"nextPageToken":"page-2"}`,
	}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	var tokenCalls atomic.Int64
	tokenServer := newTokenEndpoint(t, "unused", &tokenCalls)
	defer tokenServer.Close()

	db := sqldbtest.New()
	user := newConnectedUser(t, db, "live")
	svc := newTestService(t, db, server.URL, tokenServer.URL)

	list, err := svc.ListMessages(context.Background(), user, "jane@gmail.com", ListQuery{})
	require.NoError(t, err)

	assert.Len(t, list.Messages, 2)
	assert.Equal(t, "page-2", list.NextPageToken)
	assert.Equal(t, int64(0), tokenCalls.Load(), "no refresh for a live token")
}

func TestExpiredTokenRefreshesAndRetriesOnce(t *testing.T) {
	upstream := &fakeGmail{
		validToken: "fresh",
		body:       `{"messages":[{"id":"m1"}]}`,
	}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	var tokenCalls atomic.Int64
	tokenServer := newTokenEndpoint(t, "fresh", &tokenCalls)
	defer tokenServer.Close()

	db := sqldbtest.New()
	user := newConnectedUser(t, db, "stale")
	svc := newTestService(t, db, server.URL, tokenServer.URL)

	list, err := svc.ListMessages(context.Background(), user, "jane@gmail.com", ListQuery{})
	require.NoError(t, err)
	assert.Len(t, list.Messages, 1)

	assert.Equal(t, int64(1), tokenCalls.Load())
	assert.Equal(t, int64(2), upstream.calls.Load(), "one failed call, one retry")

	// The renewed token must be persisted for the next request.
	stored, err := db.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.ConnectedServices[0].AccessToken)
}

func TestSecondUnauthorizedIsReauthRequired(t *testing.T) {
	upstream := &fakeGmail{validToken: "never-matched"}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	var tokenCalls atomic.Int64
	tokenServer := newTokenEndpoint(t, "still-stale", &tokenCalls)
	defer tokenServer.Close()

	db := sqldbtest.New()
	user := newConnectedUser(t, db, "stale")
	svc := newTestService(t, db, server.URL, tokenServer.URL)

	_, err := svc.ListMessages(context.Background(), user, "jane@gmail.com", ListQuery{})
	assert.ErrorIs(t, err, ErrReauthRequired)

	assert.Equal(t, int64(1), tokenCalls.Load(), "exactly one refresh attempt")
	assert.Equal(t, int64(2), upstream.calls.Load(), "no second retry")
}

func TestUnlinkedMailboxFailsFast(t *testing.T) {
	upstream := &fakeGmail{validToken: "live"}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	db := sqldbtest.New()
	user := newConnectedUser(t, db, "live")
	svc := newTestService(t, db, server.URL, "http://invalid.invalid/token")

	_, err := svc.ListMessages(context.Background(), user, "other@gmail.com", ListQuery{})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Equal(t, int64(0), upstream.calls.Load(), "no upstream call without a linked mailbox")
}

// Two concurrent calls may both hit the expired token and both refresh; the
// later persisted token wins and both requests still succeed.
func TestConcurrentRefreshLastWriteWins(t *testing.T) {
	upstream := &fakeGmail{
		validToken: "fresh",
		body:       `{"messages":[]}`,
	}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	var tokenCalls atomic.Int64
	tokenServer := newTokenEndpoint(t, "fresh", &tokenCalls)
	defer tokenServer.Close()

	db := sqldbtest.New()
	user := newConnectedUser(t, db, "stale")
	svc := newTestService(t, db, server.URL, tokenServer.URL)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.ListMessages(context.Background(), user, "jane@gmail.com", ListQuery{})
		}(i)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}

	stored, err := db.GetUserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "fresh", stored.ConnectedServices[0].AccessToken)
}

func TestDeleteMessage(t *testing.T) {
	upstream := &fakeGmail{validToken: "live", status: http.StatusNoContent}
	server := httptest.NewServer(upstream.handler())
	defer server.Close()

	db := sqldbtest.New()
	user := newConnectedUser(t, db, "live")
	svc := newTestService(t, db, server.URL, "http://invalid.invalid/token")

	err := svc.DeleteMessage(context.Background(), user, "jane@gmail.com", "m1")
	assert.NoError(t, err)
}
