package client_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/sdk/client"
	"github.com/stardag-dev/stardag-registry/sdk/task"
)

type params struct {
	Value int `json:"value"`
}

type leafTask struct {
	task.BaseTask
	name string
	p    params
}

func (l *leafTask) Namespace() string { return "client_test" }
func (l *leafTask) Name() string      { return l.name }
func (l *leafTask) Params() any       { return l.p }

func TestRegistry_BuildStartUsesRootTaskIDs(t *testing.T) {
	root := &leafTask{name: "root", p: params{Value: 1}}
	wantID, err := task.ID(root)
	require.NoError(t, err)

	var gotBody struct {
		RootTaskIDs []string `json:"root_task_ids"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/builds", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "build-1"})
	}))
	defer srv.Close()

	reg := client.NewRegistry(client.New(srv.URL, "tok"))
	buildID, err := reg.BuildStart(context.Background(), []task.Task{root})
	require.NoError(t, err)
	assert.Equal(t, "build-1", buildID)
	require.Len(t, gotBody.RootTaskIDs, 1)
	assert.Equal(t, wantID, gotBody.RootTaskIDs[0])
}

func TestRegistry_TaskStartRegistersThenStarts(t *testing.T) {
	leaf := &leafTask{name: "leaf", p: params{Value: 2}}

	var calls []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := client.NewRegistry(client.New(srv.URL, "tok"))
	require.NoError(t, reg.TaskStart(context.Background(), "build-1", leaf))

	require.Len(t, calls, 2)
	assert.Equal(t, "POST /api/v1/builds/build-1/tasks", calls[0])
	id, _ := task.ID(leaf)
	assert.Equal(t, "POST /api/v1/builds/build-1/tasks/"+id+"/start", calls[1])
}

func TestRegistry_TaskFailIncludesErrorMessage(t *testing.T) {
	leaf := &leafTask{name: "leaf", p: params{Value: 3}}

	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	reg := client.NewRegistry(client.New(srv.URL, "tok"))
	require.NoError(t, reg.TaskFail(context.Background(), "build-1", leaf, "boom"))
	assert.Equal(t, "error_message=boom", gotQuery)
}
