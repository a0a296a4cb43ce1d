package build

import (
	"context"
	"time"

	"github.com/stardag-dev/stardag-registry/sdk/task"
)

// LockStatus mirrors internal/registry/lock.AcquisitionStatus: the engine
// is a client of that same lock service, reached over HTTP through
// whatever LockManager the caller supplies (see sdk/client).
type LockStatus string

const (
	LockAcquired                LockStatus = "acquired"
	LockAlreadyCompleted        LockStatus = "already_completed"
	LockHeldByOther             LockStatus = "held_by_other"
	LockConcurrencyLimitReached LockStatus = "concurrency_limit_reached"
	LockError                   LockStatus = "error"
)

// LockResult reports the outcome of a single acquisition attempt.
type LockResult struct {
	Status       LockStatus
	Acquired     bool
	ErrorMessage string
}

// LockManager is the build engine's view of a distributed lock service. A
// real implementation (sdk/client) talks to the registry's lock endpoints;
// tests can substitute an in-memory stand-in.
type LockManager interface {
	Acquire(ctx context.Context, lockName, ownerID string, ttl time.Duration) (LockResult, error)
	Renew(ctx context.Context, lockName, ownerID string, ttl time.Duration) error
	Release(ctx context.Context, lockName, ownerID string, completed bool) error
}

// Selector decides which tasks must go through lock coordination. Tasks a
// Selector does not flag skip coordination and may re-execute redundantly
// across concurrent build processes.
type Selector func(t task.Task) bool

// SelectAll is a Selector that puts every task under lock coordination.
func SelectAll(task.Task) bool { return true }

// LockOptions configures the engine's use of a LockManager.
type LockOptions struct {
	Manager LockManager
	// Selector chooses which tasks acquire a lock before running.
	// Defaults to SelectAll if nil.
	Selector Selector
	// OwnerID identifies this build process to the lock service. Chosen
	// once per build and reused for every acquisition, so retries by
	// the same process are re-entrant.
	OwnerID string
	// TTL is the lease duration granted per acquisition.
	TTL time.Duration
	// WaitTimeout bounds how long the engine retries a contended lock
	// before giving up and treating it as a failure. Zero means wait
	// forever.
	WaitTimeout time.Duration
	// InitialInterval, MaxInterval and BackoffFactor control the
	// retry/backoff schedule while a lock is held by another owner.
	InitialInterval time.Duration
	MaxInterval     time.Duration
	BackoffFactor   float64
}

func (o LockOptions) selector() Selector {
	if o.Selector != nil {
		return o.Selector
	}
	return SelectAll
}

func (o LockOptions) initialInterval() time.Duration {
	if o.InitialInterval > 0 {
		return o.InitialInterval
	}
	return 200 * time.Millisecond
}

func (o LockOptions) maxInterval() time.Duration {
	if o.MaxInterval > 0 {
		return o.MaxInterval
	}
	return 10 * time.Second
}

func (o LockOptions) backoffFactor() float64 {
	if o.BackoffFactor > 0 {
		return o.BackoffFactor
	}
	return 2.0
}

// acquireWithRetry retries a contended lock with exponential backoff until
// it's acquired, already completed, times out, or errors. isComplete lets
// the caller bail out early if the task finished out from under it while
// waiting (matching the reference implementation's re-check on every
// retry).
func acquireWithRetry(ctx context.Context, opts LockOptions, lockName string, isComplete func(context.Context) (bool, error)) (LockResult, error) {
	interval := opts.initialInterval()
	start := time.Now()

	for {
		result, err := opts.Manager.Acquire(ctx, lockName, opts.OwnerID, opts.TTL)
		if err != nil {
			return LockResult{}, err
		}
		switch result.Status {
		case LockAcquired, LockAlreadyCompleted, LockError:
			return result, nil
		}

		if opts.WaitTimeout > 0 && time.Since(start) >= opts.WaitTimeout {
			return LockResult{
				Status:       result.Status,
				ErrorMessage: "timeout waiting for lock: " + result.ErrorMessage,
			}, nil
		}

		if isComplete != nil {
			done, err := isComplete(ctx)
			if err != nil {
				return LockResult{}, err
			}
			if done {
				return LockResult{Status: LockAlreadyCompleted}, nil
			}
		}

		select {
		case <-ctx.Done():
			return LockResult{}, ctx.Err()
		case <-time.After(interval):
		}
		interval = retryBackoff(interval, opts.backoffFactor(), opts.maxInterval())
	}
}
