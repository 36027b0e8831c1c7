// Package tokentest generates throwaway RS256 key material for tests.
package tokentest

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"testing"
	"time"

	"github.com/MultiEmail/backend/internal/services/token"
)

// KeyPairPEM generates a fresh RSA key pair and returns it PEM encoded.
func KeyPairPEM(t *testing.T) (privPEM, pubPEM string) {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("generating RSA key: %v", err)
	}

	privPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	}))

	pubBytes, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("marshaling public key: %v", err)
	}
	pubPEM = string(pem.EncodeToMemory(&pem.Block{
		Type:  "PUBLIC KEY",
		Bytes: pubBytes,
	}))

	return privPEM, pubPEM
}

// Codec builds a codec with fresh keys for both token kinds.
func Codec(t *testing.T, accessTTL, refreshTTL time.Duration) *token.Codec {
	t.Helper()

	accessPriv, accessPub := KeyPairPEM(t)
	refreshPriv, refreshPub := KeyPairPEM(t)

	codec, err := token.NewCodec(token.Config{
		AccessPrivateKey:  accessPriv,
		AccessPublicKey:   accessPub,
		RefreshPrivateKey: refreshPriv,
		RefreshPublicKey:  refreshPub,
		AccessTTL:         accessTTL,
		RefreshTTL:        refreshTTL,
	})
	if err != nil {
		t.Fatalf("building codec: %v", err)
	}

	return codec
}
