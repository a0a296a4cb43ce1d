package build_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/sdk/build"
	"github.com/stardag-dev/stardag-registry/sdk/task"
)

// fakeTask is a minimal Task+CompletionChecker+Runnable usable across the
// engine's tests: it runs to completion immediately, unless given batches
// of dependencies to yield first (simulating dynamic deps), or an error to
// fail with.
type fakeTask struct {
	task.BaseTask
	ns, name string
	param    int
	deps     []task.Task
	complete bool
	runErr   error
	yields   [][]task.Task
	yieldIdx int
	ran      bool
}

func (t *fakeTask) Namespace() string { return t.ns }
func (t *fakeTask) Name() string      { return t.name }
func (t *fakeTask) Params() any       { return struct{ Param int }{t.param} }

func (t *fakeTask) Requires() task.Struct {
	if len(t.deps) == 0 {
		return nil
	}
	out := make([]task.Struct, len(t.deps))
	for i, d := range t.deps {
		out[i] = d
	}
	return out
}

func (t *fakeTask) Complete(ctx context.Context) (bool, error) { return t.complete, nil }

func (t *fakeTask) Start(ctx context.Context) (task.Step, error) {
	t.ran = true
	return t.nextStep()
}

func (t *fakeTask) Resume(ctx context.Context) (task.Step, error) {
	return t.nextStep()
}

func (t *fakeTask) nextStep() (task.Step, error) {
	if t.runErr != nil {
		return task.Step{}, t.runErr
	}
	if t.yieldIdx < len(t.yields) {
		batch := t.yields[t.yieldIdx]
		t.yieldIdx++
		out := make([]task.Struct, len(batch))
		for i, d := range batch {
			out[i] = d
		}
		return task.Step{Yield: out}, nil
	}
	return task.Done, nil
}

// recordingRegistry captures every lifecycle call for assertions.
type recordingRegistry struct {
	mu         sync.Mutex
	buildID    string
	started    []string
	completed  []string
	failed     []string
	registered []string
	buildDone  bool
	buildErr   string
}

func newRecordingRegistry() *recordingRegistry {
	return &recordingRegistry{buildID: "b1"}
}

func (r *recordingRegistry) BuildStart(ctx context.Context, roots []task.Task) (string, error) {
	return r.buildID, nil
}
func (r *recordingRegistry) BuildComplete(ctx context.Context, buildID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buildDone = true
	return nil
}
func (r *recordingRegistry) BuildFail(ctx context.Context, buildID, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.buildErr = message
	return nil
}
func (r *recordingRegistry) TaskRegister(ctx context.Context, buildID string, t task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := task.ID(t)
	r.registered = append(r.registered, id)
	return nil
}
func (r *recordingRegistry) TaskStart(ctx context.Context, buildID string, t task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := task.ID(t)
	r.started = append(r.started, id)
	return nil
}
func (r *recordingRegistry) TaskComplete(ctx context.Context, buildID string, t task.Task) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := task.ID(t)
	r.completed = append(r.completed, id)
	return nil
}
func (r *recordingRegistry) TaskFail(ctx context.Context, buildID string, t task.Task, message string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, _ := task.ID(t)
	r.failed = append(r.failed, id)
	return nil
}

func TestBuild_SequentialSuccess(t *testing.T) {
	leaf := &fakeTask{ns: "t", name: "leaf", param: 1}
	root := &fakeTask{ns: "t", name: "root", param: 2, deps: []task.Task{leaf}}

	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{root}, reg, build.Options{MaxInFlight: 1})
	require.NoError(t, err)
	assert.Equal(t, build.StatusSuccess, summary.Status)
	assert.Equal(t, 2, summary.TaskCount.Succeeded)
	assert.True(t, leaf.ran)
	assert.True(t, root.ran)
	require.Len(t, reg.completed, 2)

	leafID, _ := task.ID(leaf)
	rootID, _ := task.ID(root)
	// leaf must complete before root starts.
	assert.Equal(t, leafID, reg.completed[0])
	assert.Equal(t, rootID, reg.completed[1])
	assert.True(t, reg.buildDone)
}

func TestBuild_SkipsAlreadyCompleteSubtree(t *testing.T) {
	leaf := &fakeTask{ns: "t", name: "leaf", param: 1, complete: true}
	root := &fakeTask{ns: "t", name: "root", param: 2, deps: []task.Task{leaf}}

	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{root}, reg, build.Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TaskCount.PreviouslyCompleted)
	assert.Equal(t, 1, summary.TaskCount.Succeeded)
	assert.False(t, leaf.ran)
	assert.True(t, root.ran)

	leafID, _ := task.ID(leaf)
	assert.Contains(t, reg.registered, leafID)
	assert.NotContains(t, reg.started, leafID)
}

func TestBuild_DynamicDependency(t *testing.T) {
	dynDep := &fakeTask{ns: "t", name: "dyn", param: 1}
	root := &fakeTask{
		ns: "t", name: "root", param: 2,
		yields: [][]task.Task{{dynDep}},
	}

	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{root}, reg, build.Options{})
	require.NoError(t, err)
	assert.Equal(t, build.StatusSuccess, summary.Status)
	assert.True(t, dynDep.ran)

	dynID, _ := task.ID(dynDep)
	rootID, _ := task.ID(root)
	assert.Equal(t, dynID, reg.completed[0])
	assert.Equal(t, rootID, reg.completed[1])
}

func TestBuild_FailFastAbortsSiblings(t *testing.T) {
	bad := &fakeTask{ns: "t", name: "bad", param: 1, runErr: errors.New("boom")}
	good := &fakeTask{ns: "t", name: "good", param: 2}

	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{bad, good}, reg, build.Options{
		FailMode:    build.FailFast,
		MaxInFlight: 1,
	})
	require.Error(t, err)
	assert.Equal(t, build.StatusFailure, summary.Status)
	assert.Equal(t, 1, summary.TaskCount.Failed)
	assert.NotEmpty(t, reg.buildErr)

	badID, _ := task.ID(bad)
	assert.Contains(t, reg.failed, badID)
}

func TestBuild_FailAtEndSkipsOnlyDescendants(t *testing.T) {
	bad := &fakeTask{ns: "t", name: "bad", param: 1, runErr: errors.New("boom")}
	dependent := &fakeTask{ns: "t", name: "dependent", param: 2, deps: []task.Task{bad}}
	unrelated := &fakeTask{ns: "t", name: "unrelated", param: 3}

	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{dependent, unrelated}, reg, build.Options{
		FailMode: build.FailAtEnd,
	})
	require.Error(t, err)
	assert.Equal(t, build.StatusFailure, summary.Status)
	assert.False(t, dependent.ran)
	assert.True(t, unrelated.ran)
	assert.Equal(t, 2, summary.TaskCount.Failed) // bad itself, plus dependent skipped
	assert.Equal(t, 1, summary.TaskCount.Succeeded)
}

func TestBuild_ResumeBuildIDReused(t *testing.T) {
	root := &fakeTask{ns: "t", name: "root", param: 1}
	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{root}, reg, build.Options{
		ResumeBuildID: "existing-build",
	})
	require.NoError(t, err)
	assert.Equal(t, "existing-build", summary.BuildID)
}

// fakeLockManager is an in-memory LockManager for testing the engine's
// coordination path without a real registry.
type fakeLockManager struct {
	mu      sync.Mutex
	held    map[string]string // lockName -> ownerID
	results map[string]build.LockStatus
}

func newFakeLockManager() *fakeLockManager {
	return &fakeLockManager{held: map[string]string{}, results: map[string]build.LockStatus{}}
}

func (m *fakeLockManager) Acquire(ctx context.Context, lockName, ownerID string, ttl time.Duration) (build.LockResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if status, ok := m.results[lockName]; ok {
		return build.LockResult{Status: status}, nil
	}
	if owner, held := m.held[lockName]; held && owner != ownerID {
		return build.LockResult{Status: build.LockHeldByOther}, nil
	}
	m.held[lockName] = ownerID
	return build.LockResult{Status: build.LockAcquired, Acquired: true}, nil
}

func (m *fakeLockManager) Renew(ctx context.Context, lockName, ownerID string, ttl time.Duration) error {
	return nil
}

func (m *fakeLockManager) Release(ctx context.Context, lockName, ownerID string, completed bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.held, lockName)
	return nil
}

func TestBuild_LockAlreadyCompletedSkipsExecution(t *testing.T) {
	root := &fakeTask{ns: "t", name: "root", param: 1}
	rootID, _ := task.ID(root)

	mgr := newFakeLockManager()
	mgr.results[rootID] = build.LockAlreadyCompleted

	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{root}, reg, build.Options{
		Lock: &build.LockOptions{
			Manager: mgr,
			OwnerID: "owner-1",
			TTL:     time.Minute,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, build.StatusSuccess, summary.Status)
	assert.False(t, root.ran)
	assert.Equal(t, 1, summary.TaskCount.Succeeded)
}

func TestBuild_LockHeldAcrossDynamicSuspend(t *testing.T) {
	dynDep := &fakeTask{ns: "t", name: "dyn", param: 1}
	root := &fakeTask{
		ns: "t", name: "root", param: 2,
		yields: [][]task.Task{{dynDep}},
	}
	rootID, _ := task.ID(root)

	mgr := newFakeLockManager()
	reg := newRecordingRegistry()
	summary, err := build.Build(context.Background(), []task.Task{root}, reg, build.Options{
		Lock: &build.LockOptions{
			Manager: mgr,
			OwnerID: "owner-1",
			TTL:     time.Minute,
		},
	})
	require.NoError(t, err)
	assert.Equal(t, build.StatusSuccess, summary.Status)
	// Lock released (by completion) exactly once, after the resumed run finished.
	_, stillHeld := mgr.held[rootID]
	assert.False(t, stillHeld)
}
