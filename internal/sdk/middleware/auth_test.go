package middleware_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MultiEmail/backend/internal/sdk/middleware"
	"github.com/MultiEmail/backend/internal/sdk/models"
	"github.com/MultiEmail/backend/internal/sdk/sqldb/sqldbtest"
	"github.com/MultiEmail/backend/internal/services/token"
	"github.com/MultiEmail/backend/internal/services/token/tokentest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testEnv struct {
	codec *token.Codec
	db    *sqldbtest.Store
	user  models.User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := sqldbtest.New()
	user, err := db.CreateUser(context.Background(), models.NewUser{
		Email:    "jane@example.com",
		Username: "jane",
		Role:     models.RoleUser,
		Password: []byte("hash"),
		Verified: true,
	})
	require.NoError(t, err)

	return &testEnv{
		codec: tokentest.Codec(t, 15*time.Minute, time.Hour),
		db:    db,
		user:  user,
	}
}

// whoami reports whether Deserialize attached a user.
func whoami(c *gin.Context) {
	if user, ok := middleware.CurrentUser(c); ok {
		c.JSON(http.StatusOK, gin.H{"id": user.ID})
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": ""})
}

func (e *testEnv) router(strict bool, extra ...gin.HandlerFunc) *gin.Engine {
	router := gin.New()
	handlers := append([]gin.HandlerFunc{middleware.Deserialize(e.codec, e.db, strict)}, extra...)
	handlers = append(handlers, whoami)
	router.GET("/probe/:id", handlers...)
	return router
}

func (e *testEnv) get(t *testing.T, router *gin.Engine, authorization string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/probe/"+e.user.ID, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) accessToken(t *testing.T) string {
	t.Helper()

	signed, err := e.codec.SignAccessToken(e.user)
	require.NoError(t, err)
	return signed
}

func TestDeserializeStrictMissingToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, env.router(true), "")

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"User is not logged in"}`, rec.Body.String())
}

func TestDeserializeStrictInvalidToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, env.router(true), "Bearer garbage")

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"User is not logged in or access_token is expired"}`, rec.Body.String())
}

func TestDeserializeStrictExpiredToken(t *testing.T) {
	env := newTestEnv(t)

	expired := tokentest.Codec(t, -time.Minute, time.Hour)
	signed, err := expired.SignAccessToken(env.user)
	require.NoError(t, err)

	rec := env.get(t, env.router(true), "Bearer "+signed)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeserializeStrictValidToken(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, env.router(true), "Bearer "+env.accessToken(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"`+env.user.ID+`"}`, rec.Body.String())
}

func TestDeserializeStrictDeletedUser(t *testing.T) {
	env := newTestEnv(t)
	signed := env.accessToken(t)

	require.NoError(t, env.db.DeleteUser(context.Background(), env.user.ID))

	rec := env.get(t, env.router(true), "Bearer "+signed)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDeserializeOptionalContinuesAnonymous(t *testing.T) {
	env := newTestEnv(t)
	router := env.router(false)

	for _, authorization := range []string{"", "Bearer garbage", "Basic abc"} {
		rec := env.get(t, router, authorization)
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"id":""}`, rec.Body.String())
	}
}

func TestDeserializeOptionalAttachesUser(t *testing.T) {
	env := newTestEnv(t)
	rec := env.get(t, env.router(false), "Bearer "+env.accessToken(t))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"`+env.user.ID+`"}`, rec.Body.String())
}

func TestRequireLogin(t *testing.T) {
	env := newTestEnv(t)
	router := env.router(false, middleware.RequireLogin())

	rec := env.get(t, router, "")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Please login to continue"}`, rec.Body.String())

	rec = env.get(t, router, "Bearer "+env.accessToken(t))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAdmin(t *testing.T) {
	env := newTestEnv(t)
	router := env.router(true, middleware.RequireAdmin())

	rec := env.get(t, router, "Bearer "+env.accessToken(t))
	assert.Equal(t, http.StatusForbidden, rec.Code)

	admin, err := env.db.CreateUser(context.Background(), models.NewUser{
		Email:    "root@example.com",
		Username: "root",
		Role:     models.RoleAdmin,
		Password: []byte("hash"),
		Verified: true,
	})
	require.NoError(t, err)

	signed, err := env.codec.SignAccessToken(admin)
	require.NoError(t, err)

	rec = env.get(t, router, "Bearer "+signed)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSameUserOrAdmin(t *testing.T) {
	env := newTestEnv(t)
	router := env.router(true, middleware.RequireSameUserOrAdmin())

	// The route parameter is the user's own id, so they pass.
	rec := env.get(t, router, "Bearer "+env.accessToken(t))
	assert.Equal(t, http.StatusOK, rec.Code)

	// Another plain user hitting the same id is rejected.
	other, err := env.db.CreateUser(context.Background(), models.NewUser{
		Email:    "mallory@example.com",
		Username: "mallory",
		Role:     models.RoleUser,
		Password: []byte("hash"),
		Verified: true,
	})
	require.NoError(t, err)

	signed, err := env.codec.SignAccessToken(other)
	require.NoError(t, err)

	rec = env.get(t, router, "Bearer "+signed)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"Unauthorized"}`, rec.Body.String())

	// An admin may act on anyone's resources.
	admin, err := env.db.CreateUser(context.Background(), models.NewUser{
		Email:    "root@example.com",
		Username: "root",
		Role:     models.RoleAdmin,
		Password: []byte("hash"),
		Verified: true,
	})
	require.NoError(t, err)

	signed, err = env.codec.SignAccessToken(admin)
	require.NoError(t, err)

	rec = env.get(t, router, "Bearer "+signed)
	assert.Equal(t, http.StatusOK, rec.Code)
}
