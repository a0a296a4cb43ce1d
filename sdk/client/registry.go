package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"

	"github.com/stardag-dev/stardag-registry/sdk/task"
)

// Registry implements sdk/build.Registry against the registry's HTTP API
// (internal/registry/httpapi's /api/v1/builds and /api/v1/tasks routes).
// Tasks are registered into the build in dependency order, matching the
// server's own expectation (registerTask silently drops a Requires edge
// whose upstream isn't registered yet) documented on the comment above
// UpsertTask's caller.
type Registry struct {
	client *Client
}

// NewRegistry wraps c as a build.Registry.
func NewRegistry(c *Client) *Registry { return &Registry{client: c} }

type buildResponse struct {
	ID string `json:"id"`
}

func (r *Registry) BuildStart(ctx context.Context, roots []task.Task) (string, error) {
	rootIDs := make([]string, 0, len(roots))
	for _, t := range roots {
		id, err := task.ID(t)
		if err != nil {
			return "", fmt.Errorf("client: computing id for build root %s:%s: %w", t.Namespace(), t.Name(), err)
		}
		rootIDs = append(rootIDs, id)
	}
	var resp buildResponse
	if err := r.client.post(ctx, "/api/v1/builds", map[string]any{
		"root_task_ids": rootIDs,
	}, &resp); err != nil {
		return "", err
	}
	return resp.ID, nil
}

func (r *Registry) BuildComplete(ctx context.Context, buildID string) error {
	return r.client.post(ctx, "/api/v1/builds/"+url.PathEscape(buildID)+"/complete", nil, nil)
}

func (r *Registry) BuildFail(ctx context.Context, buildID string, message string) error {
	path := "/api/v1/builds/" + url.PathEscape(buildID) + "/fail"
	if message != "" {
		path += "?error_message=" + url.QueryEscape(message)
	}
	return r.client.post(ctx, path, nil, nil)
}

// taskBody matches registerTask's decode target on the server.
type taskBody struct {
	TaskID     string          `json:"task_id"`
	Namespace  string          `json:"namespace"`
	Name       string          `json:"name"`
	Parameters json.RawMessage `json:"parameters"`
	Version    *string         `json:"version,omitempty"`
	Requires   []string        `json:"requires,omitempty"`
}

func taskRequestBody(t task.Task) (taskBody, error) {
	id, err := task.ID(t)
	if err != nil {
		return taskBody{}, fmt.Errorf("client: computing id for %s:%s: %w", t.Namespace(), t.Name(), err)
	}
	full, err := task.CanonicalJSON(t, task.ModeNormal)
	if err != nil {
		return taskBody{}, fmt.Errorf("client: encoding params for %s:%s: %w", t.Namespace(), t.Name(), err)
	}
	var wrapper struct {
		Parameters json.RawMessage `json:"parameters"`
	}
	if err := json.Unmarshal(full, &wrapper); err != nil {
		return taskBody{}, fmt.Errorf("client: unwrapping canonical params for %s:%s: %w", t.Namespace(), t.Name(), err)
	}
	params := wrapper.Parameters
	requires := task.Flatten(t.Requires())
	requiresIDs := make([]string, 0, len(requires))
	for _, dep := range requires {
		depID, err := task.ID(dep)
		if err != nil {
			return taskBody{}, fmt.Errorf("client: computing id for dependency of %s:%s: %w", t.Namespace(), t.Name(), err)
		}
		requiresIDs = append(requiresIDs, depID)
	}
	var version *string
	if v := t.Version(); v != "" {
		version = &v
	}
	return taskBody{
		TaskID:     id,
		Namespace:  t.Namespace(),
		Name:       t.Name(),
		Parameters: json.RawMessage(params),
		Version:    version,
		Requires:   requiresIDs,
	}, nil
}

func (r *Registry) TaskRegister(ctx context.Context, buildID string, t task.Task) error {
	body, err := taskRequestBody(t)
	if err != nil {
		return err
	}
	return r.client.post(ctx, "/api/v1/builds/"+url.PathEscape(buildID)+"/tasks", body, nil)
}

func (r *Registry) taskLifecycle(ctx context.Context, buildID string, t task.Task, action, errorMessage string) error {
	id, err := task.ID(t)
	if err != nil {
		return fmt.Errorf("client: computing id for %s:%s: %w", t.Namespace(), t.Name(), err)
	}
	path := "/api/v1/builds/" + url.PathEscape(buildID) + "/tasks/" + url.PathEscape(id) + "/" + action
	if errorMessage != "" {
		path += "?error_message=" + url.QueryEscape(errorMessage)
	}
	return r.client.post(ctx, path, nil, nil)
}

func (r *Registry) TaskStart(ctx context.Context, buildID string, t task.Task) error {
	if err := r.TaskRegister(ctx, buildID, t); err != nil {
		return err
	}
	return r.taskLifecycle(ctx, buildID, t, "start", "")
}

func (r *Registry) TaskComplete(ctx context.Context, buildID string, t task.Task) error {
	return r.taskLifecycle(ctx, buildID, t, "complete", "")
}

func (r *Registry) TaskFail(ctx context.Context, buildID string, t task.Task, message string) error {
	return r.taskLifecycle(ctx, buildID, t, "fail", message)
}
