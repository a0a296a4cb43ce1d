package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	coreservice "github.com/stardag-dev/stardag-registry/internal/app/core/service"
	"github.com/stardag-dev/stardag-registry/internal/registry/auth"
	"github.com/stardag-dev/stardag-registry/internal/registry/search"
	"github.com/stardag-dev/stardag-registry/internal/registry/store"
	"github.com/stardag-dev/stardag-registry/pkg/apperr"
)

// loadBuild fetches a build and verifies it belongs to the caller's
// environment, so one environment can never reach into another's builds
// by guessing an id.
func (h *handler) loadBuild(r *http.Request, p auth.Principal, buildID string) (store.Build, error) {
	b, err := h.store.GetBuild(r.Context(), buildID)
	if err != nil {
		return store.Build{}, notFoundOr(err, "build %s not found", buildID)
	}
	if b.EnvironmentID != p.EnvironmentID {
		return store.Build{}, apperr.NotFoundf("build %s not found", buildID)
	}
	return b, nil
}

func (h *handler) loadTask(r *http.Request, environmentID, taskID string) (store.Task, error) {
	t, err := h.store.GetTaskByTaskID(r.Context(), environmentID, taskID)
	if err != nil {
		return store.Task{}, notFoundOr(err, "task %s not found", taskID)
	}
	return t, nil
}

// builds handles POST (create) and GET (list) on /builds.
func (h *handler) builds(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.createBuild(w, r, p)
	case http.MethodGet:
		h.listBuilds(w, r, p)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) createBuild(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	var body struct {
		Description string   `json:"description"`
		CommitHash  string   `json:"commit_hash"`
		RootTaskIDs []string `json:"root_task_ids"`
		ResumeBuild string   `json:"resume_build_id"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}

	var userID *string
	if p.UserID != "" {
		id := p.UserID
		userID = &id
	}

	if body.ResumeBuild != "" {
		existing, err := h.loadBuild(r, p, body.ResumeBuild)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, existing)
		return
	}

	build, err := h.store.CreateBuild(r.Context(), store.Build{
		ID:            uuid.NewString(),
		EnvironmentID: p.EnvironmentID,
		UserID:        userID,
		Name:          GenerateBuildName(),
		Description:   body.Description,
		CommitHash:    body.CommitHash,
		RootTaskIDs:   body.RootTaskIDs,
	})
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	if _, err := h.store.AppendEvent(r.Context(), store.Event{
		ID: uuid.NewString(), BuildID: build.ID, EventType: store.EventBuildStarted, CreatedAt: time.Now().UTC(),
	}); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, build)
}

func (h *handler) listBuilds(w http.ResponseWriter, r *http.Request, p auth.Principal) {
	limit := coreservice.ClampLimit(queryInt(r, "limit"), coreservice.DefaultListLimit, coreservice.MaxListLimit)
	offset := queryInt(r, "offset")
	items, err := h.store.ListBuilds(r.Context(), p.EnvironmentID, store.ListOptions{Limit: limit, Offset: offset})
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (h *handler) getBuild(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	build, err := h.loadBuild(r, p, chi.URLParam(r, "build_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.store.ListBuildEvents(r.Context(), build.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	state := store.FoldBuildEvents(events)
	writeJSON(w, http.StatusOK, map[string]any{
		"build":        build,
		"status":       state.Status,
		"started_at":   state.StartedAt,
		"completed_at": state.CompletedAt,
	})
}

func (h *handler) completeBuild(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	build, err := h.loadBuild(r, p, chi.URLParam(r, "build_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.store.AppendEvent(r.Context(), store.Event{
		ID: uuid.NewString(), BuildID: build.ID, EventType: store.EventBuildCompleted, CreatedAt: time.Now().UTC(),
	}); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) failBuild(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	build, err := h.loadBuild(r, p, chi.URLParam(r, "build_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	msg := r.URL.Query().Get("error_message")
	ev := store.Event{ID: uuid.NewString(), BuildID: build.ID, EventType: store.EventBuildFailed, CreatedAt: time.Now().UTC()}
	if msg != "" {
		ev.ErrorMessage = &msg
	}
	if _, err := h.store.AppendEvent(r.Context(), ev); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (h *handler) buildEvents(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	build, err := h.loadBuild(r, p, chi.URLParam(r, "build_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.store.ListBuildEvents(r.Context(), build.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, events)
}

// buildGraph reconstructs the dependency graph touched by this build: the
// tasks that have an event in it, plus every observed edge between them.
func (h *handler) buildGraph(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	build, err := h.loadBuild(r, p, chi.URLParam(r, "build_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	events, err := h.store.ListBuildEvents(r.Context(), build.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	statesByTask := store.FoldTaskEventsByTask(events)

	type node struct {
		TaskPK int64           `json:"task_pk"`
		Task   store.Task      `json:"task"`
		Status store.TaskState `json:"state"`
	}
	type edge struct {
		Upstream   int64 `json:"upstream_task_pk"`
		Downstream int64 `json:"downstream_task_pk"`
	}

	nodes := make([]node, 0, len(statesByTask))
	edgeSet := map[string]edge{}
	for pk, state := range statesByTask {
		t, err := h.store.GetTaskByPK(r.Context(), pk)
		if err != nil {
			continue
		}
		nodes = append(nodes, node{TaskPK: pk, Task: t, Status: state})

		upstream, err := h.store.ListUpstream(r.Context(), pk)
		if err == nil {
			for _, dep := range upstream {
				e := edge{Upstream: dep.UpstreamTaskPK, Downstream: dep.DownstreamTaskPK}
				edgeSet[strconv.FormatInt(e.Upstream, 10)+"->"+strconv.FormatInt(e.Downstream, 10)] = e
			}
		}
	}
	edges := make([]edge, 0, len(edgeSet))
	for _, e := range edgeSet {
		edges = append(edges, e)
	}
	writeJSON(w, http.StatusOK, map[string]any{"nodes": nodes, "edges": edges})
}

// buildTasks handles POST (register a task into the build, PENDING) and
// GET (list every task touched by the build, with derived status).
func (h *handler) buildTasks(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	build, err := h.loadBuild(r, p, chi.URLParam(r, "build_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	switch r.Method {
	case http.MethodPost:
		h.registerTask(w, r, p, build)
	case http.MethodGet:
		h.listBuildTasks(w, r, build)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *handler) registerTask(w http.ResponseWriter, r *http.Request, p auth.Principal, build store.Build) {
	var body struct {
		TaskID     string          `json:"task_id"`
		Namespace  string          `json:"namespace"`
		Name       string          `json:"name"`
		Parameters json.RawMessage `json:"parameters"`
		Version    *string         `json:"version"`
		Requires   []string        `json:"requires"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	if body.TaskID == "" || body.Namespace == "" || body.Name == "" {
		writeError(w, apperr.Validationf("task_id, namespace, and name are required"))
		return
	}

	task, _, err := h.store.UpsertTask(r.Context(), store.Task{
		TaskID: body.TaskID, EnvironmentID: p.EnvironmentID, Namespace: body.Namespace,
		Name: body.Name, Parameters: []byte(body.Parameters), Version: body.Version,
	})
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}

	for _, upstreamID := range body.Requires {
		upstream, err := h.store.GetTaskByTaskID(r.Context(), p.EnvironmentID, upstreamID)
		if err != nil {
			continue // upstream not yet registered; the SDK registers in dependency order
		}
		_ = h.store.AddDependency(r.Context(), store.TaskDependency{
			ID: uuid.NewString(), EnvironmentID: p.EnvironmentID,
			UpstreamTaskPK: upstream.PK, DownstreamTaskPK: task.PK,
		})
	}

	if _, err := h.store.AppendEvent(r.Context(), store.Event{
		ID: uuid.NewString(), BuildID: build.ID, TaskPK: &task.PK,
		EventType: store.EventTaskPending, CreatedAt: time.Now().UTC(),
	}); err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (h *handler) listBuildTasks(w http.ResponseWriter, r *http.Request, build store.Build) {
	events, err := h.store.ListBuildEvents(r.Context(), build.ID)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	statesByTask := store.FoldTaskEventsByTask(events)
	type row struct {
		Task  store.Task      `json:"task"`
		State store.TaskState `json:"state"`
	}
	rows := make([]row, 0, len(statesByTask))
	for pk, state := range statesByTask {
		t, err := h.store.GetTaskByPK(r.Context(), pk)
		if err != nil {
			continue
		}
		rows = append(rows, row{Task: t, State: state})
	}
	writeJSON(w, http.StatusOK, rows)
}

// taskLifecycle handles POST .../tasks/{task_id}/start|complete|fail.
func (h *handler) taskLifecycle(eventType store.EventType) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := h.authSDK(r)
		if err != nil {
			writeError(w, err)
			return
		}
		build, err := h.loadBuild(r, p, chi.URLParam(r, "build_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		task, err := h.loadTask(r, p.EnvironmentID, chi.URLParam(r, "task_id"))
		if err != nil {
			writeError(w, err)
			return
		}
		ev := store.Event{ID: uuid.NewString(), BuildID: build.ID, TaskPK: &task.PK, EventType: eventType, CreatedAt: time.Now().UTC()}
		if eventType == store.EventTaskFailed {
			msg := r.URL.Query().Get("error_message")
			if msg != "" {
				ev.ErrorMessage = &msg
			}
		}
		if _, err := h.store.AppendEvent(r.Context(), ev); err != nil {
			writeError(w, apperr.Internal(err))
			return
		}
		w.WriteHeader(http.StatusOK)
	}
}

func (h *handler) uploadAssets(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	if _, err := h.loadBuild(r, p, chi.URLParam(r, "build_id")); err != nil {
		writeError(w, err)
		return
	}
	task, err := h.loadTask(r, p.EnvironmentID, chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var body struct {
		Assets []struct {
			AssetType string          `json:"asset_type"`
			Name      string          `json:"name"`
			Body      json.RawMessage `json:"body"`
		} `json:"assets"`
	}
	if err := decodeJSON(r.Body, &body); err != nil {
		writeError(w, err)
		return
	}
	created := make([]store.TaskRegistryAsset, 0, len(body.Assets))
	for _, a := range body.Assets {
		asset, err := h.store.CreateAsset(r.Context(), store.TaskRegistryAsset{
			ID: uuid.NewString(), TaskPK: task.PK, AssetType: a.AssetType, Name: a.Name, Body: []byte(a.Body),
		})
		if err != nil {
			writeError(w, apperr.Internal(err))
			return
		}
		created = append(created, asset)
	}
	writeJSON(w, http.StatusCreated, created)
}

// tasks handles GET /tasks (list every task in the caller's environment).
func (h *handler) tasks(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	q := r.URL.Query()
	params := search.Params{
		Filter:   q.Get("filter"),
		Query:    q.Get("query"),
		Sort:     q.Get("sort"),
		Page:     queryInt(r, "page"),
		PageSize: queryInt(r, "page_size"),
	}
	result, err := h.search.Search(r.Context(), p.EnvironmentID, params)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *handler) taskAssets(w http.ResponseWriter, r *http.Request) {
	p, err := h.authSDK(r)
	if err != nil {
		writeError(w, err)
		return
	}
	envID := p.EnvironmentID
	if p.Kind == auth.CredentialInternalToken {
		if q := r.URL.Query().Get("environment_id"); q != "" {
			envID = q
		} else {
			writeError(w, apperr.Validationf("environment_id is required"))
			return
		}
	}
	task, err := h.loadTask(r, envID, chi.URLParam(r, "task_id"))
	if err != nil {
		writeError(w, err)
		return
	}
	assets, err := h.store.ListAssets(r.Context(), task.PK)
	if err != nil {
		writeError(w, apperr.Internal(err))
		return
	}
	writeJSON(w, http.StatusOK, assets)
}

func queryInt(r *http.Request, key string) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}
