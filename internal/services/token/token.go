// Package token signs and verifies access and refresh tokens.
//
// Access tokens embed the user's public profile and expire quickly; refresh
// tokens reference a server-side session and live longer. The two use
// separate RS256 key pairs so neither key can forge the other kind. The
// codec never touches storage; key material is loaded once at startup and
// immutable afterwards.
package token

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/MultiEmail/backend/internal/sdk/models"
)

// Config carries the PEM-encoded key pairs and token lifetimes.
type Config struct {
	AccessPrivateKey  string
	AccessPublicKey   string
	RefreshPrivateKey string
	RefreshPublicKey  string
	AccessTTL         time.Duration
	RefreshTTL        time.Duration
}

// AccessClaims is the payload of an access token: the sanitized public
// profile, never the password or any verification/reset code.
type AccessClaims struct {
	models.PublicUser
	jwt.RegisteredClaims
}

// RefreshClaims is the payload of a refresh token: only the session id.
type RefreshClaims struct {
	Session string `json:"session"`
	jwt.RegisteredClaims
}

type Codec struct {
	accessPrivate  *rsa.PrivateKey
	accessPublic   *rsa.PublicKey
	refreshPrivate *rsa.PrivateKey
	refreshPublic  *rsa.PublicKey
	accessTTL      time.Duration
	refreshTTL     time.Duration
}

// NewCodec parses the configured PEM keys and returns a ready codec.
func NewCodec(cfg Config) (*Codec, error) {
	accessPrivate, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.AccessPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing access private key: %w", err)
	}
	accessPublic, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.AccessPublicKey))
	if err != nil {
		return nil, fmt.Errorf("parsing access public key: %w", err)
	}
	refreshPrivate, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.RefreshPrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing refresh private key: %w", err)
	}
	refreshPublic, err := jwt.ParseRSAPublicKeyFromPEM([]byte(cfg.RefreshPublicKey))
	if err != nil {
		return nil, fmt.Errorf("parsing refresh public key: %w", err)
	}

	return &Codec{
		accessPrivate:  accessPrivate,
		accessPublic:   accessPublic,
		refreshPrivate: refreshPrivate,
		refreshPublic:  refreshPublic,
		accessTTL:      cfg.AccessTTL,
		refreshTTL:     cfg.RefreshTTL,
	}, nil
}

// SignAccessToken mints a short-lived access token for the user.
func (c *Codec) SignAccessToken(user models.User) (string, error) {
	now := time.Now()
	claims := AccessClaims{
		PublicUser: user.Public(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.accessTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.accessPrivate)
	if err != nil {
		return "", fmt.Errorf("signing access token: %w", err)
	}

	return signed, nil
}

// SignRefreshToken mints a refresh token anchored to the given session.
func (c *Codec) SignRefreshToken(sessionID string) (string, error) {
	now := time.Now()
	claims := RefreshClaims{
		Session: sessionID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(c.refreshTTL)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(c.refreshPrivate)
	if err != nil {
		return "", fmt.Errorf("signing refresh token: %w", err)
	}

	return signed, nil
}

// VerifyAccessToken checks signature and expiry with the access public key.
// Any structural, signature, or expiry failure comes back as ok=false;
// callers treat that as unauthenticated and never surface parser errors.
func (c *Codec) VerifyAccessToken(tokenString string) (*AccessClaims, bool) {
	claims := &AccessClaims{}
	if !c.verify(tokenString, claims, c.accessPublic) {
		return nil, false
	}
	return claims, true
}

// VerifyRefreshToken checks signature and expiry with the refresh public key.
func (c *Codec) VerifyRefreshToken(tokenString string) (*RefreshClaims, bool) {
	claims := &RefreshClaims{}
	if !c.verify(tokenString, claims, c.refreshPublic) {
		return nil, false
	}
	return claims, true
}

func (c *Codec) verify(tokenString string, claims jwt.Claims, key *rsa.PublicKey) bool {
	if tokenString == "" {
		return false
	}

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	)

	parsed, err := parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return key, nil
	})
	if err != nil {
		return false
	}

	return parsed.Valid
}
