// Package lock implements the registry's distributed lock service:
// lease-based mutual exclusion on a string lock name within an
// environment, backed by the store's atomic conditional upsert.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

// AcquisitionStatus mirrors the four outcomes a caller can observe when
// attempting to acquire a lock.
type AcquisitionStatus string

const (
	StatusAcquired                AcquisitionStatus = "acquired"
	StatusAlreadyCompleted        AcquisitionStatus = "already_completed"
	StatusHeldByOther             AcquisitionStatus = "held_by_other"
	StatusConcurrencyLimitReached AcquisitionStatus = "concurrency_limit_reached"
)

// AcquisitionResult reports the outcome of an acquisition attempt.
type AcquisitionResult struct {
	Status       AcquisitionStatus
	Acquired     bool
	Lock         *store.DistributedLock
	ErrorMessage string
}

// Service implements lease-based locking on top of a Store. The zero
// value is not usable; construct with New.
type Service struct {
	store  store.LockStore
	tasks  store.TaskStore
	events store.EventStore
	envs   store.EnvironmentStore
}

func New(db store.Store) *Service {
	return &Service{store: db, tasks: db, events: db, envs: db}
}

// AcquireOptions control a single acquisition attempt.
type AcquireOptions struct {
	// CheckTaskCompletion, when true (the default for build-driven
	// acquisition), short-circuits to ALREADY_COMPLETED if the task
	// already has a TASK_COMPLETED event anywhere in the environment.
	CheckTaskCompletion bool
}

// Acquire attempts to acquire lockName for ownerID in environmentID with
// the given TTL. The check order matches the reference implementation
// exactly: completion check, then concurrency cap, then the atomic
// upsert.
func (s *Service) Acquire(ctx context.Context, lockName, ownerID, environmentID string, ttl time.Duration, opts AcquireOptions) (AcquisitionResult, error) {
	now := time.Now().UTC()

	if opts.CheckTaskCompletion {
		completed, err := s.taskCompleted(ctx, environmentID, lockName)
		if err != nil {
			return AcquisitionResult{}, fmt.Errorf("check task completion: %w", err)
		}
		if completed {
			return AcquisitionResult{Status: StatusAlreadyCompleted}, nil
		}
	}

	env, err := s.envs.GetEnvironment(ctx, environmentID)
	if err != nil {
		return AcquisitionResult{}, fmt.Errorf("load environment: %w", err)
	}

	if env.MaxConcurrentLocks != nil {
		existing, _, err := s.store.GetLock(ctx, lockName)
		if err != nil {
			return AcquisitionResult{}, fmt.Errorf("check existing lock: %w", err)
		}
		// Only enforce the cap if the caller doesn't already hold this
		// exact lock name — re-acquiring your own lock must never be
		// blocked by the cap.
		if existing.OwnerID != ownerID {
			count, err := s.store.CountActiveLocks(ctx, environmentID, now)
			if err != nil {
				return AcquisitionResult{}, fmt.Errorf("count active locks: %w", err)
			}
			if count >= *env.MaxConcurrentLocks {
				return AcquisitionResult{
					Status:       StatusConcurrencyLimitReached,
					ErrorMessage: fmt.Sprintf("environment concurrency limit reached (%d)", *env.MaxConcurrentLocks),
				}, nil
			}
		}
	}

	lock, err := s.store.AcquireLock(ctx, lockName, ownerID, environmentID, ttl, now)
	if err != nil {
		return AcquisitionResult{}, fmt.Errorf("acquire lock: %w", err)
	}

	if lock.OwnerID == ownerID {
		l := lock
		return AcquisitionResult{Status: StatusAcquired, Acquired: true, Lock: &l}, nil
	}
	return AcquisitionResult{
		Status:       StatusHeldByOther,
		ErrorMessage: "lock is held by another owner",
	}, nil
}

// IsTaskCompleted reports whether taskID already has a TASK_COMPLETED
// event anywhere in environmentID, for the completion-status endpoint.
func (s *Service) IsTaskCompleted(ctx context.Context, environmentID, taskID string) (bool, error) {
	return s.taskCompleted(ctx, environmentID, taskID)
}

func (s *Service) taskCompleted(ctx context.Context, environmentID, taskID string) (bool, error) {
	task, err := s.tasks.GetTaskByTaskID(ctx, environmentID, taskID)
	if err != nil {
		if err == store.ErrNotFound {
			return false, nil
		}
		return false, err
	}

	n, err := s.events.CountTaskCompletions(ctx, task.PK)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Renew extends an existing lock's TTL. Only succeeds if the lock exists
// and is owned by ownerID.
func (s *Service) Renew(ctx context.Context, lockName, ownerID string, ttl time.Duration) (bool, error) {
	return s.store.RenewLock(ctx, lockName, ownerID, ttl, time.Now().UTC())
}

// Release releases a lock. Only succeeds if it exists and is owned by
// ownerID.
func (s *Service) Release(ctx context.Context, lockName, ownerID string) (bool, error) {
	return s.store.ReleaseLock(ctx, lockName, ownerID)
}

// ReleaseWithCompletion appends a TASK_COMPLETED event for the task
// matching (environmentID, lockName) and releases the lock, atomically.
func (s *Service) ReleaseWithCompletion(ctx context.Context, lockName, ownerID, environmentID, buildID string) (bool, error) {
	return s.store.ReleaseLockWithCompletion(ctx, lockName, ownerID, environmentID, buildID)
}

func (s *Service) Get(ctx context.Context, lockName string) (store.DistributedLock, bool, error) {
	return s.store.GetLock(ctx, lockName)
}

func (s *Service) List(ctx context.Context, environmentID string, includeExpired bool) ([]store.DistributedLock, error) {
	return s.store.ListLocks(ctx, environmentID, includeExpired)
}

// Cleanup removes expired locks. Optional: locks auto-expire and can be
// taken over, but periodic cleanup keeps the table tidy.
func (s *Service) Cleanup(ctx context.Context, environmentID string) (int, error) {
	return s.store.CleanupExpiredLocks(ctx, environmentID, time.Now().UTC())
}
