package lock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

func seedEnvironment(t *testing.T, db store.Store, maxLocks *int) store.Environment {
	t.Helper()
	org, err := db.CreateOrganization(context.Background(), store.Organization{ID: "org-1", Name: "Org", Slug: "org"}, "user-1")
	require.NoError(t, err)
	ws, err := db.CreateWorkspace(context.Background(), store.Workspace{ID: "ws-1", OrganizationID: org.ID, Slug: "ws"})
	require.NoError(t, err)
	env, err := db.CreateEnvironment(context.Background(), store.Environment{ID: "env-1", WorkspaceID: ws.ID, Slug: "env", MaxConcurrentLocks: maxLocks})
	require.NoError(t, err)
	return env
}

func TestAcquire_FreshLockIsAcquired(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, nil)
	svc := New(db)

	result, err := svc.Acquire(context.Background(), "task-abc", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusAcquired, result.Status)
	assert.True(t, result.Acquired)
	require.NotNil(t, result.Lock)
	assert.Equal(t, "owner-1", result.Lock.OwnerID)
}

func TestAcquire_HeldByOther(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, nil)
	svc := New(db)

	_, err := svc.Acquire(context.Background(), "task-abc", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)

	result, err := svc.Acquire(context.Background(), "task-abc", "owner-2", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusHeldByOther, result.Status)
	assert.False(t, result.Acquired)
}

func TestAcquire_ReentrantSameOwner(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, nil)
	svc := New(db)

	_, err := svc.Acquire(context.Background(), "task-abc", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)

	result, err := svc.Acquire(context.Background(), "task-abc", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusAcquired, result.Status)
}

func TestAcquire_ExpiredLockCanBeTakenOver(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, nil)
	svc := New(db)

	_, err := svc.Acquire(context.Background(), "task-abc", "owner-1", env.ID, -time.Second, AcquireOptions{})
	require.NoError(t, err)

	result, err := svc.Acquire(context.Background(), "task-abc", "owner-2", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusAcquired, result.Status)
	assert.Equal(t, "owner-2", result.Lock.OwnerID)
}

func TestAcquire_ConcurrencyLimitReached(t *testing.T) {
	limit := 1
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, &limit)
	svc := New(db)

	_, err := svc.Acquire(context.Background(), "task-1", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)

	result, err := svc.Acquire(context.Background(), "task-2", "owner-2", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusConcurrencyLimitReached, result.Status)
}

func TestAcquire_ConcurrencyLimitDoesNotBlockOwnReacquire(t *testing.T) {
	limit := 1
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, &limit)
	svc := New(db)

	_, err := svc.Acquire(context.Background(), "task-1", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)

	result, err := svc.Acquire(context.Background(), "task-1", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusAcquired, result.Status)
}

func TestAcquire_AlreadyCompletedShortCircuits(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, nil)
	svc := New(db)

	task, _, err := db.UpsertTask(context.Background(), store.Task{TaskID: "task-abc", EnvironmentID: env.ID, Namespace: "ns", Name: "task"})
	require.NoError(t, err)
	build, err := db.CreateBuild(context.Background(), store.Build{ID: "build-1", EnvironmentID: env.ID})
	require.NoError(t, err)
	_, err = db.AppendEvent(context.Background(), store.Event{ID: "ev-1", BuildID: build.ID, TaskPK: &task.PK, EventType: store.EventTaskCompleted})
	require.NoError(t, err)

	result, err := svc.Acquire(context.Background(), "task-abc", "owner-1", env.ID, time.Minute, AcquireOptions{CheckTaskCompletion: true})
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyCompleted, result.Status)
	assert.False(t, result.Acquired)
}

func TestRenewRequiresMatchingOwner(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, nil)
	svc := New(db)

	_, err := svc.Acquire(context.Background(), "task-abc", "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)

	ok, err := svc.Renew(context.Background(), "task-abc", "owner-2", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = svc.Renew(context.Background(), "task-abc", "owner-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestReleaseWithCompletionAppendsEventAndDeletesLock(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedEnvironment(t, db, nil)
	svc := New(db)

	task, _, err := db.UpsertTask(context.Background(), store.Task{TaskID: "task-abc", EnvironmentID: env.ID, Namespace: "ns", Name: "task"})
	require.NoError(t, err)
	build, err := db.CreateBuild(context.Background(), store.Build{ID: "build-1", EnvironmentID: env.ID})
	require.NoError(t, err)

	_, err = svc.Acquire(context.Background(), task.TaskID, "owner-1", env.ID, time.Minute, AcquireOptions{})
	require.NoError(t, err)

	ok, err := svc.ReleaseWithCompletion(context.Background(), task.TaskID, "owner-1", env.ID, build.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	_, exists, err := svc.Get(context.Background(), task.TaskID)
	require.NoError(t, err)
	assert.False(t, exists)

	n, err := db.CountTaskCompletions(context.Background(), task.PK)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
