package build

import (
	"context"

	"github.com/stardag-dev/stardag-registry/sdk/task"
)

// Sequential runs one task at a time, in deterministic dependency order.
// Intended for debugging and tests.
func Sequential(ctx context.Context, tasks []task.Task, registry Registry, opts Options) (Summary, error) {
	opts.MaxInFlight = 1
	return Build(ctx, tasks, registry, opts)
}

// Cooperative runs up to maxInFlight tasks concurrently on goroutines
// multiplexed by the Go runtime scheduler. This is the engine's analogue
// of the reference implementation's single-event-loop asyncio scheduler:
// tasks suspend at I/O boundaries (a blocked channel receive, a network
// call) without occupying an OS thread, bounded by maxInFlight.
func Cooperative(ctx context.Context, tasks []task.Task, registry Registry, maxInFlight int, opts Options) (Summary, error) {
	opts.MaxInFlight = maxInFlight
	return Build(ctx, tasks, registry, opts)
}

// Parallel runs up to maxInFlight tasks concurrently, same as Cooperative.
// The two are distinguished in the original scheduler taxonomy by their
// underlying execution strategy (single event loop vs. worker pool); Go's
// goroutine model makes that distinction disappear; both names are kept so
// callers can express intent even though the engine underneath is the same
// bounded-concurrency scheduler.
func Parallel(ctx context.Context, tasks []task.Task, registry Registry, maxInFlight int, opts Options) (Summary, error) {
	opts.MaxInFlight = maxInFlight
	return Build(ctx, tasks, registry, opts)
}
