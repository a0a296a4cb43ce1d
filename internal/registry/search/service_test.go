package search

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stardag-dev/stardag-registry/internal/registry/store"
)

func seedSearchEnvironment(t *testing.T, db store.Store) store.Environment {
	t.Helper()
	org, err := db.CreateOrganization(context.Background(), store.Organization{ID: "org-1", Name: "Org", Slug: "org"}, "user-1")
	require.NoError(t, err)
	ws, err := db.CreateWorkspace(context.Background(), store.Workspace{ID: "ws-1", OrganizationID: org.ID, Slug: "ws"})
	require.NoError(t, err)
	env, err := db.CreateEnvironment(context.Background(), store.Environment{ID: "env-1", WorkspaceID: ws.ID, Slug: "env"})
	require.NoError(t, err)
	return env
}

// seededTask registers a task and drives it through a build with the given
// terminal event type, returning the task row.
func seededTask(t *testing.T, db store.Store, envID, name, namespace string, params []byte, buildID string, eventType store.EventType, at time.Time) store.Task {
	t.Helper()
	task, _, err := db.UpsertTask(context.Background(), store.Task{
		TaskID:        namespace + "." + name,
		EnvironmentID: envID,
		Namespace:     namespace,
		Name:          name,
		Parameters:    params,
		CreatedAt:     at,
	})
	require.NoError(t, err)

	if _, err := db.GetBuild(context.Background(), buildID); err != nil {
		_, err := db.CreateBuild(context.Background(), store.Build{ID: buildID, EnvironmentID: envID, Name: buildID})
		require.NoError(t, err)
	}

	pk := task.PK
	_, err = db.AppendEvent(context.Background(), store.Event{
		ID: buildID + "-" + task.TaskID + "-pending", BuildID: buildID, TaskPK: &pk,
		EventType: store.EventTaskPending, CreatedAt: at,
	})
	require.NoError(t, err)
	if eventType == store.EventTaskPending {
		return task
	}
	_, err = db.AppendEvent(context.Background(), store.Event{
		ID: buildID + "-" + task.TaskID + "-started", BuildID: buildID, TaskPK: &pk,
		EventType: store.EventTaskStarted, CreatedAt: at.Add(time.Second),
	})
	require.NoError(t, err)
	if eventType == store.EventTaskStarted {
		return task
	}
	ev := store.Event{
		ID: buildID + "-" + task.TaskID + "-terminal", BuildID: buildID, TaskPK: &pk,
		EventType: eventType, CreatedAt: at.Add(2 * time.Second),
	}
	if eventType == store.EventTaskFailed {
		msg := "boom"
		ev.ErrorMessage = &msg
	}
	_, err = db.AppendEvent(context.Background(), ev)
	require.NoError(t, err)
	return task
}

func TestSearch_FiltersByCoreColumn(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{"region":"us-east-1"}`), "build-1", store.EventTaskCompleted, now)
	seededTask(t, db, env.ID, "train", "ml", []byte(`{"region":"eu-west-1"}`), "build-1", store.EventTaskFailed, now)

	svc := New(db)
	result, err := svc.Search(context.Background(), env.ID, Params{Filter: "task_namespace:=:etl"})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "ingest", result.Tasks[0].Task.Name)
	assert.Equal(t, 1, result.Total)
}

func TestSearch_FiltersByParameterPath(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{"region":"us-east-1","retries":3}`), "build-1", store.EventTaskCompleted, now)
	seededTask(t, db, env.ID, "train", "ml", []byte(`{"region":"eu-west-1","retries":1}`), "build-1", store.EventTaskCompleted, now)

	svc := New(db)
	result, err := svc.Search(context.Background(), env.ID, Params{Filter: "param.retries:>:2"})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "ingest", result.Tasks[0].Task.Name)
}

func TestSearch_FiltersByDerivedStatus(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{}`), "build-1", store.EventTaskCompleted, now)
	seededTask(t, db, env.ID, "train", "ml", []byte(`{}`), "build-1", store.EventTaskFailed, now)
	seededTask(t, db, env.ID, "export", "etl", []byte(`{}`), "build-1", store.EventTaskStarted, now)

	svc := New(db)
	result, err := svc.Search(context.Background(), env.ID, Params{Filter: "status:=:failed"})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "train", result.Tasks[0].Task.Name)
	assert.Equal(t, store.TaskStatusFailed, result.Tasks[0].Status)
	require.NotNil(t, result.Tasks[0].ErrorMessage)
}

func TestSearch_StatusScopedToTasksMostRecentBuild(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	// Task fails in an earlier build, then succeeds in a later one. Its
	// displayed status must reflect the later build, not a global fold.
	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{}`), "build-1", store.EventTaskFailed, now)
	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{}`), "build-2", store.EventTaskCompleted, now.Add(time.Hour))

	svc := New(db)
	result, err := svc.Search(context.Background(), env.ID, Params{})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, store.TaskStatusCompleted, result.Tasks[0].Status)
	require.NotNil(t, result.Tasks[0].BuildID)
	assert.Equal(t, "build-2", *result.Tasks[0].BuildID)
}

func TestSearch_TextQueryMatchesNameOrNamespace(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	seededTask(t, db, env.ID, "daily-ingest", "etl", []byte(`{}`), "build-1", store.EventTaskCompleted, now)
	seededTask(t, db, env.ID, "train", "ml", []byte(`{}`), "build-1", store.EventTaskCompleted, now)

	svc := New(db)
	result, err := svc.Search(context.Background(), env.ID, Params{Query: "DAILY"})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, "daily-ingest", result.Tasks[0].Task.Name)
}

func TestSearch_Pagination(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	names := []string{"task-a", "task-b", "task-c", "task-d", "task-e"}
	for _, name := range names {
		seededTask(t, db, env.ID, name, "ns", []byte(`{}`), "build-1", store.EventTaskCompleted, now)
		now = now.Add(time.Minute)
	}

	svc := New(db)
	result, err := svc.Search(context.Background(), env.ID, Params{Page: 1, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, result.Tasks, 2)
	assert.Equal(t, 5, result.Total)
	assert.Equal(t, 2, result.PageSize)

	second, err := svc.Search(context.Background(), env.ID, Params{Page: 2, PageSize: 2})
	require.NoError(t, err)
	assert.Len(t, second.Tasks, 2)
	assert.NotEqual(t, result.Tasks[0].Task.TaskID, second.Tasks[0].Task.TaskID)
}

func TestSearch_AssetCountIsBatched(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	task := seededTask(t, db, env.ID, "ingest", "etl", []byte(`{}`), "build-1", store.EventTaskCompleted, now)
	_, err := db.CreateAsset(context.Background(), store.TaskRegistryAsset{ID: "asset-1", TaskPK: task.PK, AssetType: "file", Name: "out.csv"})
	require.NoError(t, err)
	_, err = db.CreateAsset(context.Background(), store.TaskRegistryAsset{ID: "asset-2", TaskPK: task.PK, AssetType: "file", Name: "out2.csv"})
	require.NoError(t, err)

	svc := New(db)
	result, err := svc.Search(context.Background(), env.ID, Params{})
	require.NoError(t, err)
	require.Len(t, result.Tasks, 1)
	assert.Equal(t, 2, result.Tasks[0].AssetCount)
}

func TestKeySuggestions_IncludesCoreAndDiscoveredParamKeys(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()

	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{"region":"us-east-1","retries":3}`), "build-1", store.EventTaskCompleted, now)

	svc := New(db)
	keys, err := svc.KeySuggestions(context.Background(), env.ID, "", 0)
	require.NoError(t, err)

	var coreFound, paramFound bool
	for _, k := range keys {
		if k.Key == "task_name" {
			coreFound = true
		}
		if k.Key == "param.region" {
			paramFound = true
		}
	}
	assert.True(t, coreFound)
	assert.True(t, paramFound)
}

func TestKeySuggestions_ParamPrefixFiltersToParamKeys(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()
	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{"region":"us-east-1"}`), "build-1", store.EventTaskCompleted, now)

	svc := New(db)
	keys, err := svc.KeySuggestions(context.Background(), env.ID, "param.", 10)
	require.NoError(t, err)
	for _, k := range keys {
		assert.Contains(t, k.Key, "param.")
	}
}

func TestValueSuggestions_StatusIsFixedList(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	svc := New(db)

	values, err := svc.ValueSuggestions(context.Background(), env.ID, "status", "", 0)
	require.NoError(t, err)
	var vals []string
	for _, v := range values {
		vals = append(vals, v.Value)
	}
	assert.Contains(t, vals, "completed")
	assert.Contains(t, vals, "failed")
}

func TestValueSuggestions_ParamValuesAreSampledAndCached(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()
	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{"region":"us-east-1"}`), "build-1", store.EventTaskCompleted, now)
	seededTask(t, db, env.ID, "train", "ml", []byte(`{"region":"us-east-1"}`), "build-1", store.EventTaskCompleted, now)

	svc := New(db)
	values, err := svc.ValueSuggestions(context.Background(), env.ID, "param.region", "", 0)
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "us-east-1", values[0].Value)
	assert.Equal(t, 2, values[0].Count)

	// Second call should hit the cache rather than re-sample; the service
	// doesn't expose the cache directly, so this just checks stability.
	again, err := svc.ValueSuggestions(context.Background(), env.ID, "param.region", "", 0)
	require.NoError(t, err)
	assert.Equal(t, values, again)
}

func TestAvailableColumns_IncludesSampledParamKeys(t *testing.T) {
	db := store.NewMemoryStore()
	env := seedSearchEnvironment(t, db)
	now := time.Now().UTC()
	seededTask(t, db, env.ID, "ingest", "etl", []byte(`{"region":"us-east-1"}`), "build-1", store.EventTaskCompleted, now)

	svc := New(db)
	cols, err := svc.AvailableColumns(context.Background(), env.ID)
	require.NoError(t, err)
	assert.Contains(t, cols.Core, "task_name")
	assert.Contains(t, cols.Params, "param.region")
}
