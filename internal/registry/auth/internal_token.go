package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// InternalClaims is the payload of a registry-minted, workspace-scoped
// token. Unlike an OIDC token, it always carries a workspace.
type InternalClaims struct {
	UserID      string `json:"sub"`
	WorkspaceID string `json:"workspace_id"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates internal tokens, HS256-signed with a
// registry-held secret. TTL is short (spec default ~10 minutes) so a
// stolen token has a narrow window.
type TokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

func NewTokenIssuer(secret, issuer string, ttl time.Duration) *TokenIssuer {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &TokenIssuer{secret: []byte(secret), issuer: issuer, ttl: ttl}
}

// Issue mints a token for userID scoped to workspaceID.
func (i *TokenIssuer) Issue(userID, workspaceID string) (token string, expiresIn time.Duration, err error) {
	if len(i.secret) == 0 {
		return "", 0, errors.New("internal token secret not configured")
	}
	now := time.Now()
	exp := now.Add(i.ttl)
	claims := InternalClaims{
		UserID:      userID,
		WorkspaceID: workspaceID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(exp),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", 0, err
	}
	return signed, i.ttl, nil
}

// Validate parses an internal token, distinguishing an expired token
// (TokenExpired category, so the SDK can attempt a one-shot refresh)
// from any other invalid-token condition.
func (i *TokenIssuer) Validate(tokenString string) (InternalClaims, error) {
	var claims InternalClaims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return InternalClaims{}, apperr.TokenExpired("internal token expired")
		}
		return InternalClaims{}, apperr.Unauthenticated(fmt.Sprintf("invalid internal token: %v", err))
	}
	if claims.WorkspaceID == "" {
		return InternalClaims{}, apperr.Unauthenticated("internal token missing workspace_id")
	}
	return claims, nil
}
