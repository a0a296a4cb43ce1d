package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

// jwksServer serves a single RSA key under kid as a JWKS document, the
// same shape OIDCValidator.Refresh expects from a real issuer.
func jwksServer(t *testing.T, kid string, pub *rsa.PublicKey) *httptest.Server {
	t.Helper()
	doc := jwksDocument{Keys: []jwksKey{{
		Kid: kid,
		Kty: "RSA",
		N:   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		E:   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}}}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}))
}

func signToken(t *testing.T, key *rsa.PrivateKey, kid string, claims jwt.MapClaims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodRS256, claims)
	token.Header["kid"] = kid
	signed, err := token.SignedString(key)
	require.NoError(t, err)
	return signed
}

// TestOIDCValidator_RefreshThenValidate drives the validator the way
// auth.KeyRefresher does in production: Refresh against a live JWKS
// endpoint before the first Validate call, since without it Validate has
// no keys cached and every token is rejected as "unknown signing key".
func TestOIDCValidator_RefreshThenValidate(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-key-1"

	srv := jwksServer(t, kid, &key.PublicKey)
	defer srv.Close()

	v := NewOIDCValidator("https://issuer.example.com", "stardag-registry", srv.URL)

	require.NoError(t, v.Refresh(context.Background()))

	now := time.Now()
	token := signToken(t, key, kid, jwt.MapClaims{
		"iss":   "https://issuer.example.com",
		"aud":   "stardag-registry",
		"sub":   "user-123",
		"email": "person@example.com",
		"name":  "Person Example",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})

	claims, err := v.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "user-123", claims.Sub)
	require.Equal(t, "person@example.com", claims.Email)
	require.Equal(t, "Person Example", claims.Name)
}

// TestOIDCValidator_ValidateWithoutRefreshFails pins down the bug this
// test exists to guard against: skip Refresh and every token is rejected,
// regardless of how well-formed or correctly signed it is.
func TestOIDCValidator_ValidateWithoutRefreshFails(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-key-1"

	v := NewOIDCValidator("https://issuer.example.com", "stardag-registry", "http://unused.invalid")

	now := time.Now()
	token := signToken(t, key, kid, jwt.MapClaims{
		"iss":   "https://issuer.example.com",
		"aud":   "stardag-registry",
		"sub":   "user-123",
		"email": "person@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})

	_, err = v.Validate(token)
	require.Error(t, err)
}

// TestOIDCValidator_RefreshRejectsWrongKey confirms a token signed by a
// key the issuer never published is rejected even after a successful
// Refresh against a different key.
func TestOIDCValidator_RefreshRejectsWrongKey(t *testing.T) {
	published, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	unpublished, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-key-1"

	srv := jwksServer(t, kid, &published.PublicKey)
	defer srv.Close()

	v := NewOIDCValidator("https://issuer.example.com", "stardag-registry", srv.URL)
	require.NoError(t, v.Refresh(context.Background()))

	now := time.Now()
	token := signToken(t, unpublished, kid, jwt.MapClaims{
		"iss":   "https://issuer.example.com",
		"aud":   "stardag-registry",
		"sub":   "user-123",
		"email": "person@example.com",
		"iat":   now.Unix(),
		"exp":   now.Add(time.Hour).Unix(),
	})

	_, err = v.Validate(token)
	require.Error(t, err)
}
