package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

const (
	apiKeyPrefixLen = 8
	apiKeyBytes     = 32
)

// GenerateApiKey returns a new sk_-prefixed key, its prefix (stored
// indexed for lookup), and its bcrypt hash (stored instead of the key).
// The plaintext key is returned exactly once to the caller.
func GenerateApiKey() (plaintext, prefix, hash string, err error) {
	buf := make([]byte, apiKeyBytes)
	if _, err = rand.Read(buf); err != nil {
		return "", "", "", err
	}
	plaintext = "sk_" + base64.RawURLEncoding.EncodeToString(buf)
	if len(plaintext) < apiKeyPrefixLen {
		prefix = plaintext
	} else {
		prefix = plaintext[:apiKeyPrefixLen]
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return plaintext, prefix, string(hashed), nil
}

// ApiKeyResolver validates API keys by prefix lookup + constant-time hash
// comparison (bcrypt.CompareHashAndPassword is constant-time by
// construction).
type ApiKeyResolver struct {
	keys store.ApiKeyStore
}

func NewApiKeyResolver(keys store.ApiKeyStore) *ApiKeyResolver {
	return &ApiKeyResolver{keys: keys}
}

// Resolve validates a presented API key and returns the matching row,
// touching last_used_at on success.
func (r *ApiKeyResolver) Resolve(ctx context.Context, presented string) (store.ApiKey, error) {
	if len(presented) < apiKeyPrefixLen {
		return store.ApiKey{}, apperr.Unauthenticated("malformed api key")
	}
	prefix := presented[:apiKeyPrefixLen]

	candidates, err := r.keys.FindApiKeysByPrefix(ctx, prefix)
	if err != nil {
		return store.ApiKey{}, err
	}

	for _, k := range candidates {
		if !k.Active() {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(k.KeyHash), []byte(presented)) == nil {
			_ = r.keys.TouchApiKey(ctx, k.ID, time.Now().UTC())
			return k, nil
		}
	}
	return store.ApiKey{}, apperr.Unauthenticated("invalid api key")
}
