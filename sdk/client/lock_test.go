package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/sdk/build"
	"github.com/stardag-dev/stardag-registry/sdk/client"
)

func TestLockManager_AcquireMapsHeldByOtherStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusLocked)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "lock held by another owner"})
	}))
	defer srv.Close()

	mgr := client.NewLockManager(client.New(srv.URL, "tok"))
	result, err := mgr.Acquire(context.Background(), "lock-1", "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, build.LockHeldByOther, result.Status)
	assert.False(t, result.Acquired)
}

func TestLockManager_AcquireMapsConcurrencyLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "concurrency limit reached"})
	}))
	defer srv.Close()

	mgr := client.NewLockManager(client.New(srv.URL, "tok"))
	result, err := mgr.Acquire(context.Background(), "lock-1", "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, build.LockConcurrencyLimitReached, result.Status)
}

func TestLockManager_AcquireSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"status": "acquired", "acquired": true})
	}))
	defer srv.Close()

	mgr := client.NewLockManager(client.New(srv.URL, "tok"))
	result, err := mgr.Acquire(context.Background(), "lock-1", "owner-1", 0)
	require.NoError(t, err)
	assert.Equal(t, build.LockAcquired, result.Status)
	assert.True(t, result.Acquired)
}

func TestLockManager_ReleaseNeverSendsCompleteTrue(t *testing.T) {
	var gotBody struct {
		Complete bool `json:"complete"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	mgr := client.NewLockManager(client.New(srv.URL, "tok"))
	require.NoError(t, mgr.Release(context.Background(), "lock-1", "owner-1", true))
	assert.False(t, gotBody.Complete)
}
