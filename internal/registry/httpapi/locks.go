package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/stardag-dev/stardag-registry/internal/registry/lock"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// lockAcquisitionErr maps a non-acquired AcquisitionResult to the
// category/status the SDK retry loop expects: 423 for a lock genuinely
// held by another owner, 429 for an environment at its concurrency cap.
// already_completed is not an error; callers check Status == acquired.
func (h *handler) lockAcquisitionErr(r *http.Request, lockName, environmentID string, result lock.AcquisitionResult) error {
	switch result.Status {
	case lock.StatusHeldByOther:
		ownerID := ""
		if existing, ok, err := h.locks.Get(r.Context(), lockName); err == nil && ok {
			ownerID = existing.OwnerID
		}
		return apperr.LockHeld(lockName, ownerID)
	case lock.StatusConcurrencyLimitReached:
		limit := 0
		if env, err := h.store.GetEnvironment(r.Context(), environmentID); err == nil && env.MaxConcurrentLocks != nil {
			limit = *env.MaxConcurrentLocks
		}
		return apperr.ConcurrencyLimitReached(environmentID, limit)
	default:
		return apperr.Internal(nil)
	}
}

func (h *handler) acquireLock(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")

	var body struct {
		OwnerID             string `json:"owner_id"`
		TTLSeconds          int    `json:"ttl_seconds"`
		CheckTaskCompletion *bool  `json:"check_task_completion"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.OwnerID == "" {
		writeError(w, apperr.Validationf("owner_id is required"))
		return
	}
	ttl := h.cfg.DefaultLockTTL
	if body.TTLSeconds > 0 {
		ttl = time.Duration(body.TTLSeconds) * time.Second
	}
	checkCompletion := true
	if body.CheckTaskCompletion != nil {
		checkCompletion = *body.CheckTaskCompletion
	}

	result, err := h.locks.Acquire(r.Context(), name, body.OwnerID, p.EnvironmentID, ttl, lock.AcquireOptions{
		CheckTaskCompletion: checkCompletion,
	})
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	if result.Status != lock.StatusAcquired && result.Status != lock.StatusAlreadyCompleted {
		writeError(w, h.lockAcquisitionErr(r, name, p.EnvironmentID, result))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) renewLock(w http.ResponseWriter, r *http.Request) {
	_, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")

	var body struct {
		OwnerID    string `json:"owner_id"`
		TTLSeconds int    `json:"ttl_seconds"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.OwnerID == "" {
		writeError(w, apperr.Validationf("owner_id is required"))
		return
	}
	ttl := h.cfg.DefaultLockTTL
	if body.TTLSeconds > 0 {
		ttl = time.Duration(body.TTLSeconds) * time.Second
	}

	ok, err := h.locks.Renew(r.Context(), name, body.OwnerID, ttl)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	if !ok {
		writeError(w, apperr.NotFoundf("lock %s not held by %s", name, body.OwnerID))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) releaseLock(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")

	var body struct {
		OwnerID  string `json:"owner_id"`
		Complete bool   `json:"complete"`
		BuildID  string `json:"build_id"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.OwnerID == "" {
		writeError(w, apperr.Validationf("owner_id is required"))
		return
	}

	var ok bool
	if body.Complete {
		if body.BuildID == "" {
			writeError(w, apperr.Validationf("build_id is required to release with completion"))
			return
		}
		ok, err = h.locks.ReleaseWithCompletion(r.Context(), name, body.OwnerID, p.EnvironmentID, body.BuildID)
	} else {
		ok, err = h.locks.Release(r.Context(), name, body.OwnerID)
	}
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	if !ok {
		writeError(w, apperr.NotFoundf("lock %s not held by %s", name, body.OwnerID))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) getLock(w http.ResponseWriter, r *http.Request) {
	if _, err := h.authSDK(r); err != nil {
		writeError(w, err)
		return
	}
	name := chi.URLParam(r, "name")
	l, ok, err := h.locks.Get(r.Context(), name)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	if !ok {
		writeError(w, apperr.NotFoundf("lock %s not found", name))
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) listLocks(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	includeExpired := r.URL.Query().Get("include_expired") == "true"
	locks, err := h.locks.List(r.Context(), p.EnvironmentID, includeExpired)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, locks)
}

func (h *handler) lockCompletionStatus(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	taskID := chi.URLParam(r, "task_id")
	completed, err := h.locks.IsTaskCompleted(r.Context(), p.EnvironmentID, taskID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"completed": completed})
}
