package build_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/sdk/build"
	"github.com/stardag-dev/stardag-registry/sdk/task"
)

// contendedLockManager is held by another owner for the first N Acquire
// calls, then succeeds, letting the retry/backoff loop be exercised
// without a real registry or real time.Sleep durations.
type contendedLockManager struct {
	mu        sync.Mutex
	attempts  int
	succeedOn int
}

func (m *contendedLockManager) Acquire(ctx context.Context, lockName, ownerID string, ttl time.Duration) (build.LockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attempts++
	if m.attempts >= m.succeedOn {
		return build.LockResult{Status: build.LockAcquired, Acquired: true}, nil
	}
	return build.LockResult{Status: build.LockHeldByOther}, nil
}

func (m *contendedLockManager) Renew(ctx context.Context, lockName, ownerID string, ttl time.Duration) error {
	return nil
}

func (m *contendedLockManager) Release(ctx context.Context, lockName, ownerID string, completed bool) error {
	return nil
}

func TestBuild_LockRetriesUntilAcquired(t *testing.T) {
	root := &fakeTask{ns: "t", name: "root", param: 1}
	mgr := &contendedLockManager{succeedOn: 3}

	summary, err := build.Build(context.Background(), []task.Task{root}, newRecordingRegistry(), build.Options{
		Lock: &build.LockOptions{
			Manager:         mgr,
			OwnerID:         "owner-1",
			TTL:             time.Minute,
			InitialInterval: time.Millisecond,
			MaxInterval:     5 * time.Millisecond,
			BackoffFactor:   2,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, build.StatusSuccess, summary.Status)
	assert.True(t, root.ran)
	assert.GreaterOrEqual(t, mgr.attempts, 3)
}
