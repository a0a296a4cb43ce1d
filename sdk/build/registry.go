package build

import (
	"context"

	"github.com/stardag-dev/stardag-registry/sdk/task"
)

// Registry is the build engine's view of the tracking API: it emits build
// and task lifecycle events and persists any assets a task registers. A
// real implementation (sdk/client) talks to the registry's HTTP surface;
// NoopRegistry is a usable stand-in for local or test builds that don't
// need tracking.
type Registry interface {
	BuildStart(ctx context.Context, roots []task.Task) (buildID string, err error)
	BuildComplete(ctx context.Context, buildID string) error
	BuildFail(ctx context.Context, buildID, message string) error

	TaskRegister(ctx context.Context, buildID string, t task.Task) error
	TaskStart(ctx context.Context, buildID string, t task.Task) error
	TaskComplete(ctx context.Context, buildID string, t task.Task) error
	TaskFail(ctx context.Context, buildID string, t task.Task, message string) error
}

// NoopRegistry discards every event and mints a fresh build id per call.
// Useful for tests and for builds run without a tracking backend.
type NoopRegistry struct{}

func (NoopRegistry) BuildStart(ctx context.Context, roots []task.Task) (string, error) {
	return "local", nil
}
func (NoopRegistry) BuildComplete(ctx context.Context, buildID string) error { return nil }
func (NoopRegistry) BuildFail(ctx context.Context, buildID, message string) error {
	return nil
}
func (NoopRegistry) TaskRegister(ctx context.Context, buildID string, t task.Task) error {
	return nil
}
func (NoopRegistry) TaskStart(ctx context.Context, buildID string, t task.Task) error {
	return nil
}
func (NoopRegistry) TaskComplete(ctx context.Context, buildID string, t task.Task) error {
	return nil
}
func (NoopRegistry) TaskFail(ctx context.Context, buildID string, t task.Task, message string) error {
	return nil
}
