// Package auth implements the registry's three-credential authentication
// core: external OIDC identity, internal workspace-scoped tokens minted
// by the registry, and non-expiring environment-scoped API keys.
package auth

import (
	"context"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// OIDCClaims is the parsed, validated payload of an external identity
// token. Only identity claims are trusted from it; a workspace is never
// embedded in an OIDC token.
type OIDCClaims struct {
	Sub   string
	Email string
	Name  string
}

// OIDCValidator verifies OIDC JWTs against a configured issuer's JWKS,
// with the key set cached and refreshed on a schedule (see Refresh).
type OIDCValidator struct {
	issuer   string
	audience string
	jwksURL  string
	client   *http.Client

	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

func NewOIDCValidator(issuer, audience, jwksURL string) *OIDCValidator {
	return &OIDCValidator{
		issuer:   issuer,
		audience: audience,
		jwksURL:  jwksURL,
		client:   &http.Client{Timeout: 10 * time.Second},
		keys:     make(map[string]*rsa.PublicKey),
	}
}

type jwksDocument struct {
	Keys []jwksKey `json:"keys"`
}

type jwksKey struct {
	Kid string `json:"kid"`
	Kty string `json:"kty"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// Refresh fetches and parses the issuer's JWKS document. Callers
// typically schedule this on a cron (robfig/cron) rather than calling it
// per-request.
func (v *OIDCValidator) Refresh(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.jwksURL, nil)
	if err != nil {
		return apperr.Upstreamf(err, "build jwks request")
	}
	resp, err := v.client.Do(req)
	if err != nil {
		return apperr.Upstreamf(err, "fetch jwks from %s", v.jwksURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apperr.Upstreamf(fmt.Errorf("status %d", resp.StatusCode), "jwks endpoint returned non-200")
	}

	var doc jwksDocument
	if err := json.NewDecoder(resp.Body).Decode(&doc); err != nil {
		return apperr.Upstreamf(err, "decode jwks document")
	}

	keys := make(map[string]*rsa.PublicKey, len(doc.Keys))
	for _, k := range doc.Keys {
		if k.Kty != "RSA" {
			continue
		}
		pub, err := parseRSAPublicKey(k.N, k.E)
		if err != nil {
			continue
		}
		keys[k.Kid] = pub
	}

	v.mu.Lock()
	// Merge rather than replace so a transient fetch returning a subset
	// of keys (or an empty set during rollover) doesn't invalidate
	// tokens signed under keys we've already cached.
	for kid, key := range keys {
		v.keys[kid] = key
	}
	v.mu.Unlock()
	return nil
}

func parseRSAPublicKey(nB64, eB64 string) (*rsa.PublicKey, error) {
	nBytes, err := base64URLDecode(nB64)
	if err != nil {
		return nil, err
	}
	eBytes, err := base64URLDecode(eB64)
	if err != nil {
		return nil, err
	}
	n := new(big.Int).SetBytes(nBytes)
	e := new(big.Int).SetBytes(eBytes)
	return &rsa.PublicKey{N: n, E: int(e.Int64())}, nil
}

// Validate parses and verifies an OIDC JWT: signature (against the
// cached JWKS), issuer, audience, and expiry.
func (v *OIDCValidator) Validate(tokenString string) (OIDCClaims, error) {
	parsed, err := jwt.Parse(tokenString, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		v.mu.RLock()
		key, ok := v.keys[kid]
		v.mu.RUnlock()
		if !ok {
			return nil, fmt.Errorf("unknown signing key %q", kid)
		}
		if _, ok := t.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return key, nil
	}, jwt.WithIssuer(v.issuer), jwt.WithAudience(v.audience))
	if err != nil {
		return OIDCClaims{}, apperr.Unauthenticated(fmt.Sprintf("invalid oidc token: %v", err))
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return OIDCClaims{}, apperr.Unauthenticated("invalid oidc token claims")
	}

	sub, _ := claims["sub"].(string)
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)
	if sub == "" {
		return OIDCClaims{}, apperr.Unauthenticated("oidc token missing sub claim")
	}
	if email == "" {
		return OIDCClaims{}, apperr.Unauthenticated("oidc token missing email claim")
	}

	return OIDCClaims{Sub: sub, Email: email, Name: name}, nil
}

// ResolveUser finds or creates the User row for an OIDC identity,
// updating the stored email if the issuer's claim has changed.
func ResolveUser(ctx context.Context, users store.UserStore, claims OIDCClaims) (store.User, error) {
	displayName := claims.Name
	if displayName == "" {
		displayName = strings.SplitN(claims.Email, "@", 2)[0]
	}
	return users.GetOrCreateUser(ctx, claims.Sub, claims.Email, displayName)
}

func base64URLDecode(s string) ([]byte, error) {
	s = strings.TrimRight(s, "=")
	return base64.RawURLEncoding.DecodeString(s)
}
