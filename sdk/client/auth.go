package client

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// AuthConfig is the registry's OIDC discovery document, fetched from
// /api/v1/auth/config before a browser login begins so the CLI never
// hardcodes the identity provider's issuer or client id.
type AuthConfig struct {
	OIDCIssuer   string `json:"oidc_issuer"`
	OIDCClientID string `json:"oidc_client_id"`
}

// FetchAuthConfig reads the registry's OIDC discovery document.
func FetchAuthConfig(ctx context.Context, c *Client) (AuthConfig, error) {
	var cfg AuthConfig
	err := c.get(ctx, "/api/v1/auth/config", &cfg)
	return cfg, err
}

// PKCE holds a single PKCE (RFC 7636) verifier/challenge pair, generated
// fresh for one login attempt and never persisted.
type PKCE struct {
	Verifier  string
	Challenge string
}

// NewPKCE generates a random code verifier and its S256 challenge.
func NewPKCE() (PKCE, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return PKCE{}, fmt.Errorf("client: generating pkce verifier: %w", err)
	}
	verifier := base64.RawURLEncoding.EncodeToString(raw)
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])
	return PKCE{Verifier: verifier, Challenge: challenge}, nil
}

// ExchangeResult is the workspace-scoped internal token minted by
// /api/v1/auth/exchange from a verified OIDC token.
type ExchangeResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
}

// Exchange trades oidcToken (an id token from the identity provider, not
// yet known to the registry) for a workspace-scoped internal token. c
// must have been constructed with oidcToken as its bearer token, since
// the registry's authOIDC middleware reads it from the Authorization
// header rather than the request body.
func Exchange(ctx context.Context, c *Client, workspaceID string) (ExchangeResult, error) {
	var resp ExchangeResult
	err := c.post(ctx, "/api/v1/auth/exchange", map[string]any{
		"workspace_id": workspaceID,
	}, &resp)
	return resp, err
}
