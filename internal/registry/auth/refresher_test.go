package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyRefresher_StartPopulatesKeysBeforeReturning(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	const kid = "test-key-1"

	srv := jwksServer(t, kid, &key.PublicKey)
	defer srv.Close()

	v := NewOIDCValidator("https://issuer.example.com", "stardag-registry", srv.URL)
	r := NewKeyRefresher(v, "0 0 1 1 *", nil) // effectively-never recurring schedule; Start's synchronous refresh is what's under test

	require.NoError(t, r.Start(context.Background()))
	defer r.Stop(context.Background())

	v.mu.RLock()
	_, ok := v.keys[kid]
	v.mu.RUnlock()
	require.True(t, ok, "Start should have run a synchronous Refresh before returning")
}

func TestKeyRefresher_StopIsIdempotentWithoutStart(t *testing.T) {
	v := NewOIDCValidator("https://issuer.example.com", "stardag-registry", "http://unused.invalid")
	r := NewKeyRefresher(v, "", nil)
	require.NoError(t, r.Stop(context.Background()))
	require.NoError(t, r.Stop(context.Background()))
}
