package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

func TestTokenIssuer_IssueAndValidate(t *testing.T) {
	issuer := NewTokenIssuer("test-secret", "stardag-registry", time.Minute)

	token, expiresIn, err := issuer.Issue("user-1", "workspace-1")
	require.NoError(t, err)
	assert.Equal(t, time.Minute, expiresIn)

	claims, err := issuer.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "user-1", claims.UserID)
	assert.Equal(t, "workspace-1", claims.WorkspaceID)
}

func TestTokenIssuer_ExpiredTokenReportedDistinctly(t *testing.T) {
	// NewTokenIssuer replaces a non-positive TTL with its default, so the
	// negative TTL that mints an already-expired token is set directly.
	issuer := NewTokenIssuer("test-secret", "stardag-registry", time.Minute)
	issuer.ttl = -time.Second

	token, _, err := issuer.Issue("user-1", "workspace-1")
	require.NoError(t, err)

	_, err = issuer.Validate(token)
	require.Error(t, err)

	appErr, ok := apperr.As(err)
	require.True(t, ok)
	assert.True(t, appErr.TokenExpired)
}

func TestGenerateApiKey_RoundTrips(t *testing.T) {
	plaintext, prefix, hash, err := GenerateApiKey()
	require.NoError(t, err)
	assert.True(t, len(plaintext) > len(prefix))
	assert.Equal(t, plaintext[:8], prefix)
	assert.NotEmpty(t, hash)
}
