package build

import (
	"context"
	"fmt"
	"sync"

	"github.com/stardag-dev/stardag-registry/sdk/task"
)

// node tracks one task's place in the build: its static and (as they
// arrive) dynamic dependencies, and whether it has started, suspended on a
// yield, finished, or failed.
type node struct {
	id          string
	t           task.Task
	runnable    task.Runnable
	staticDeps  []task.Task
	dynamicDeps []task.Task
	started     bool
	done        bool
	failed      bool
	lockHeld    bool
}

func (n *node) allDeps() []task.Task {
	out := make([]task.Task, 0, len(n.staticDeps)+len(n.dynamicDeps))
	out = append(out, n.staticDeps...)
	out = append(out, n.dynamicDeps...)
	return out
}

// builder holds the mutable state of one Build call. All fields guarded by
// mu except those only ever touched from the scheduling goroutine itself.
type builder struct {
	registry Registry
	opts     Options
	buildID  string

	mu      sync.Mutex
	cond    *sync.Cond
	nodes   map[string]*node
	order   []string
	running map[string]bool
	aborted bool
	firstErr error
	count   TaskCount
}

// Build walks tasks (and their static and dynamic dependencies) to
// completion using the scheduling policy in opts, reporting progress
// through registry.
func Build(ctx context.Context, tasks []task.Task, registry Registry, opts Options) (Summary, error) {
	if registry == nil {
		registry = NoopRegistry{}
	}

	b := &builder{
		registry: registry,
		opts:     opts,
		nodes:    map[string]*node{},
		running:  map[string]bool{},
	}
	b.cond = sync.NewCond(&b.mu)

	var previouslyComplete []task.Task
	for _, root := range tasks {
		complete, err := b.discover(ctx, root, &previouslyComplete)
		if err != nil {
			return Summary{Status: StatusFailure, TaskCount: b.count}, err
		}
		_ = complete
	}

	if opts.ResumeBuildID != "" {
		b.buildID = opts.ResumeBuildID
	} else {
		id, err := registry.BuildStart(ctx, tasks)
		if err != nil {
			return Summary{Status: StatusFailure, TaskCount: b.count}, err
		}
		b.buildID = id
	}

	for _, t := range previouslyComplete {
		_ = registry.TaskRegister(ctx, b.buildID, t) // best effort
	}

	err := b.run(ctx)

	if err != nil {
		_ = registry.BuildFail(ctx, b.buildID, err.Error())
		return Summary{
			Status:    StatusFailure,
			TaskCount: b.count,
			BuildID:   b.buildID,
			Err:       err,
		}, err
	}

	if regErr := registry.BuildComplete(ctx, b.buildID); regErr != nil {
		return Summary{Status: StatusFailure, TaskCount: b.count, BuildID: b.buildID}, regErr
	}
	return Summary{Status: StatusSuccess, TaskCount: b.count, BuildID: b.buildID}, nil
}

// discover recursively registers t and its static dependencies, stopping
// at any subtree whose root is already complete. Returns whether t itself
// was found complete.
func (b *builder) discover(ctx context.Context, t task.Task, previouslyComplete *[]task.Task) (bool, error) {
	id, err := task.ID(t)
	if err != nil {
		return false, fmt.Errorf("build: computing id for %s:%s: %w", t.Namespace(), t.Name(), err)
	}
	if _, ok := b.nodes[id]; ok {
		return b.nodes[id].done, nil
	}

	b.count.Discovered++

	if checker, ok := t.(task.CompletionChecker); ok {
		complete, err := checker.Complete(ctx)
		if err != nil {
			return false, fmt.Errorf("build: checking completion of %s:%s: %w", t.Namespace(), t.Name(), err)
		}
		if complete {
			n := &node{id: id, t: t, done: true}
			b.nodes[id] = n
			b.order = append(b.order, id)
			b.count.PreviouslyCompleted++
			*previouslyComplete = append(*previouslyComplete, t)
			return true, nil
		}
	}

	staticDeps := task.Flatten(t.Requires())
	runnable, _ := t.(task.Runnable)
	n := &node{id: id, t: t, runnable: runnable, staticDeps: staticDeps}
	b.nodes[id] = n
	b.order = append(b.order, id)

	for _, dep := range staticDeps {
		if _, err := b.discover(ctx, dep, previouslyComplete); err != nil {
			return false, err
		}
	}
	return false, nil
}

func (b *builder) depsComplete(n *node) bool {
	for _, dep := range n.allDeps() {
		id, err := task.ID(dep)
		if err != nil {
			return false
		}
		dn, ok := b.nodes[id]
		if !ok || !dn.done {
			return false
		}
	}
	return true
}

func (b *builder) hasFailedDep(n *node) bool {
	for _, dep := range n.allDeps() {
		id, err := task.ID(dep)
		if err != nil {
			continue
		}
		if dn, ok := b.nodes[id]; ok && dn.failed {
			return true
		}
	}
	return false
}

// run drives the scheduling loop: repeatedly pick ready tasks (in
// discovery order, for deterministic behavior when maxInFlight==1), launch
// up to maxInFlight of them concurrently, and wait for progress when
// nothing more can start right now.
func (b *builder) run(ctx context.Context) error {
	sem := make(chan struct{}, b.opts.maxInFlight())
	var wg sync.WaitGroup

	for {
		b.mu.Lock()
		var ready []*node
		available := b.opts.maxInFlight() - len(b.running)
		for _, id := range b.order {
			if available <= 0 {
				break
			}
			n := b.nodes[id]
			if n.done || n.failed || b.running[id] {
				continue
			}
			if b.aborted {
				continue
			}
			if b.hasFailedDep(n) {
				n.failed = true
				b.count.Failed++
				continue
			}
			if b.depsComplete(n) {
				ready = append(ready, n)
				available--
			}
		}

		if len(ready) == 0 {
			// Nothing ready and nothing in flight: either every task has
			// settled, or the rest are permanently blocked (e.g. waiting
			// on a failed dependency under FailAtEnd, or the build was
			// aborted under FailFast). Either way, no further progress
			// is possible.
			if len(b.running) == 0 {
				b.mu.Unlock()
				break
			}
			b.cond.Wait()
			b.mu.Unlock()
			continue
		}

		for _, n := range ready {
			b.running[n.id] = true
		}
		b.mu.Unlock()

		for _, n := range ready {
			n := n
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				b.step(ctx, n)
			}()
		}
	}

	wg.Wait()
	return b.firstErr
}

// step runs one Start or Resume call on n, handling lock acquisition on
// first entry, dynamic dependency discovery on a yield, and registry
// notification throughout. Always signals b.cond before returning so the
// scheduling loop re-evaluates readiness.
func (b *builder) step(ctx context.Context, n *node) {
	defer func() {
		b.mu.Lock()
		delete(b.running, n.id)
		b.cond.Broadcast()
		b.mu.Unlock()
	}()

	if !n.started {
		if b.opts.Lock != nil && b.opts.Lock.selector()(n.t) {
			result, err := acquireWithRetry(ctx, *b.opts.Lock, n.id, func(ctx context.Context) (bool, error) {
				checker, ok := n.t.(task.CompletionChecker)
				if !ok {
					return false, nil
				}
				return checker.Complete(ctx)
			})
			if err != nil {
				b.fail(ctx, n, err)
				return
			}
			switch result.Status {
			case LockAlreadyCompleted:
				b.markDone(n)
				return
			case LockAcquired:
				n.lockHeld = true
			default:
				b.fail(ctx, n, fmt.Errorf("acquire lock for %s: %s", n.id, result.ErrorMessage))
				return
			}
		}

		if err := b.registry.TaskStart(ctx, b.buildID, n.t); err != nil {
			b.releaseLock(ctx, n, false)
			b.fail(ctx, n, err)
			return
		}
	}

	if n.runnable == nil {
		n.started = true
		b.releaseLock(ctx, n, true)
		b.markDone(n)
		return
	}

	var step task.Step
	var err error
	if !n.started {
		step, err = n.runnable.Start(ctx)
	} else {
		step, err = n.runnable.Resume(ctx)
	}
	n.started = true

	if err != nil {
		b.releaseLock(ctx, n, false)
		b.fail(ctx, n, err)
		return
	}

	if !step.Done {
		deps := task.Flatten(step.Yield)
		b.mu.Lock()
		var previouslyComplete []task.Task
		for _, dep := range deps {
			if _, derr := b.discover(ctx, dep, &previouslyComplete); derr != nil {
				b.mu.Unlock()
				b.fail(ctx, n, derr)
				return
			}
			n.dynamicDeps = append(n.dynamicDeps, dep)
		}
		b.mu.Unlock()
		for _, t := range previouslyComplete {
			_ = b.registry.TaskRegister(ctx, b.buildID, t)
		}
		// Not done: leave n pending so the scheduling loop re-evaluates
		// it (and calls Resume) once the new dependencies complete.
		return
	}

	if err := b.registry.TaskComplete(ctx, b.buildID, n.t); err != nil {
		b.releaseLock(ctx, n, false)
		b.fail(ctx, n, err)
		return
	}
	b.releaseLock(ctx, n, true)
	b.markDone(n)
}

func (b *builder) releaseLock(ctx context.Context, n *node, completed bool) {
	if !n.lockHeld || b.opts.Lock == nil {
		return
	}
	_ = b.opts.Lock.Manager.Release(ctx, n.id, b.opts.Lock.OwnerID, completed)
	n.lockHeld = false
}

func (b *builder) markDone(n *node) {
	b.mu.Lock()
	n.done = true
	b.count.Succeeded++
	b.mu.Unlock()
}

func (b *builder) fail(ctx context.Context, n *node, err error) {
	_ = b.registry.TaskFail(ctx, b.buildID, n.t, err.Error())
	b.mu.Lock()
	n.failed = true
	b.count.Failed++
	if b.firstErr == nil {
		b.firstErr = &errTaskFailed{taskID: n.id, err: err}
	}
	if b.opts.FailMode == FailFast {
		b.aborted = true
	}
	b.mu.Unlock()
}
