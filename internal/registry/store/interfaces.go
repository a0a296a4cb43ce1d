package store

import (
	"context"
	"time"
)

// ListOptions bounds a paginated query. Limit is clamped by callers via
// ClampLimit (internal/app/core/service) before reaching the store.
type ListOptions struct {
	Limit  int
	Offset int
}

// Store is the full registry persistence surface. A single implementation
// backs both the httpapi handlers and the lock service; narrower
// interfaces below let callers depend on only what they use.
type Store interface {
	OrganizationStore
	UserStore
	WorkspaceStore
	EnvironmentStore
	ApiKeyStore
	TargetRootStore
	BuildStore
	TaskStore
	EventStore
	LockStore
	AssetStore
	SearchStore
}

type OrganizationStore interface {
	CreateOrganization(ctx context.Context, org Organization, ownerUserID string) (Organization, error)
	GetOrganization(ctx context.Context, id string) (Organization, error)
	GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error)
	DeleteOrganization(ctx context.Context, id string) error
	ListOrganizationsForUser(ctx context.Context, userID string) ([]Organization, error)

	AddMember(ctx context.Context, member OrganizationMember) error
	GetMember(ctx context.Context, organizationID, userID string) (OrganizationMember, error)
	ListMembers(ctx context.Context, organizationID string) ([]OrganizationMember, error)
	SetMemberRole(ctx context.Context, organizationID, userID string, role Role) error
	RemoveMember(ctx context.Context, organizationID, userID string) error
	CountOwners(ctx context.Context, organizationID string) (int, error)
	CountOrganizationsOwnedBy(ctx context.Context, userID string) (int, error)

	CreateInvite(ctx context.Context, invite Invite) (Invite, error)
	GetInvite(ctx context.Context, id string) (Invite, error)
	ListPendingInvites(ctx context.Context, organizationID string) ([]Invite, error)
	SetInviteStatus(ctx context.Context, id string, status InviteStatus) error
}

type UserStore interface {
	GetOrCreateUser(ctx context.Context, externalID, email, displayName string) (User, error)
	GetUser(ctx context.Context, id string) (User, error)
}

type WorkspaceStore interface {
	CreateWorkspace(ctx context.Context, ws Workspace) (Workspace, error)
	GetWorkspace(ctx context.Context, id string) (Workspace, error)
	GetWorkspaceBySlug(ctx context.Context, organizationID, slug string) (Workspace, error)
	ListWorkspaces(ctx context.Context, organizationID string) ([]Workspace, error)
	DeleteWorkspace(ctx context.Context, id string) error
	CountWorkspacesOwnedBy(ctx context.Context, userID string) (int, error)
}

type EnvironmentStore interface {
	CreateEnvironment(ctx context.Context, env Environment) (Environment, error)
	GetEnvironment(ctx context.Context, id string) (Environment, error)
	GetEnvironmentBySlug(ctx context.Context, workspaceID, slug string) (Environment, error)
	ListEnvironments(ctx context.Context, workspaceID string) ([]Environment, error)
	CountEnvironments(ctx context.Context, workspaceID string) (int, error)
	DeleteEnvironment(ctx context.Context, id string) error
}

type ApiKeyStore interface {
	CreateApiKey(ctx context.Context, key ApiKey) (ApiKey, error)
	FindApiKeysByPrefix(ctx context.Context, prefix string) ([]ApiKey, error)
	TouchApiKey(ctx context.Context, id string, at time.Time) error
	RevokeApiKey(ctx context.Context, id string, at time.Time) error
	ListApiKeys(ctx context.Context, environmentID string) ([]ApiKey, error)
}

type TargetRootStore interface {
	UpsertTargetRoot(ctx context.Context, tr TargetRoot) (TargetRoot, error)
	ListTargetRoots(ctx context.Context, environmentID string) ([]TargetRoot, error)
}

type BuildStore interface {
	CreateBuild(ctx context.Context, b Build) (Build, error)
	GetBuild(ctx context.Context, id string) (Build, error)
	ListBuilds(ctx context.Context, environmentID string, opts ListOptions) ([]Build, error)
	ListBuildsByIDs(ctx context.Context, ids []string) ([]Build, error)
}

type TaskStore interface {
	// UpsertTask registers a task, reusing the existing row if
	// (environment, task_id) already exists.
	UpsertTask(ctx context.Context, t Task) (Task, created bool, err error)
	GetTaskByPK(ctx context.Context, pk int64) (Task, error)
	GetTaskByTaskID(ctx context.Context, environmentID, taskID string) (Task, error)
	AddDependency(ctx context.Context, dep TaskDependency) error
	ListUpstream(ctx context.Context, taskPK int64) ([]TaskDependency, error)
	ListDownstream(ctx context.Context, taskPK int64) ([]TaskDependency, error)
}

type EventStore interface {
	// AppendEvent runs in a single transaction alongside whatever
	// mutation it accompanies (e.g. UpsertTask + TASK_PENDING).
	AppendEvent(ctx context.Context, ev Event) (Event, error)
	ListBuildEvents(ctx context.Context, buildID string) ([]Event, error)
	// CountTaskCompletions counts TASK_COMPLETED events for a task across
	// every build in its environment — the lock service's "already
	// completed" check.
	CountTaskCompletions(ctx context.Context, taskPK int64) (int, error)
	// ListEventsForTasks returns every event touching any of the given
	// tasks, across all builds. The search service uses it to derive each
	// task's status scoped to its own most recent build.
	ListEventsForTasks(ctx context.Context, taskPKs []int64) ([]Event, error)
}

type LockStore interface {
	// AcquireLock performs the atomic upsert described in the lock
	// service design: it returns the row as persisted after the
	// operation, regardless of which caller ended up owning it.
	AcquireLock(ctx context.Context, name, ownerID, environmentID string, ttl time.Duration, now time.Time) (DistributedLock, error)
	RenewLock(ctx context.Context, name, ownerID string, ttl time.Duration, now time.Time) (bool, error)
	ReleaseLock(ctx context.Context, name, ownerID string) (bool, error)
	// ReleaseLockWithCompletion appends a TASK_COMPLETED event for the
	// task matching (environmentID, lockName) and deletes the lock row,
	// in one transaction.
	ReleaseLockWithCompletion(ctx context.Context, lockName, ownerID, environmentID, buildID string) (bool, error)
	GetLock(ctx context.Context, name string) (DistributedLock, bool, error)
	ListLocks(ctx context.Context, environmentID string, includeExpired bool) ([]DistributedLock, error)
	CountActiveLocks(ctx context.Context, environmentID string, now time.Time) (int, error)
	CleanupExpiredLocks(ctx context.Context, environmentID string, now time.Time) (int, error)
}

type AssetStore interface {
	CreateAsset(ctx context.Context, asset TaskRegistryAsset) (TaskRegistryAsset, error)
	ListAssets(ctx context.Context, taskPK int64) ([]TaskRegistryAsset, error)
	CountAssetsForTasks(ctx context.Context, taskPKs []int64) (map[int64]int, error)
}

// SearchFilter is one parsed `key:op:value` clause from a task-search
// filter expression.
type SearchFilter struct {
	Key   string
	Op    string
	Value string
}

// TaskSearchParams bounds a task-search query. Status filters are carried
// through but are never pushed to SQL: status is derived from the event
// stream, not stored, so the search service folds and filters on it after
// SearchTasks returns its candidate page.
type TaskSearchParams struct {
	Filters  []SearchFilter
	Query    string
	SortKey  string // created_at (default) | task_name | task_namespace
	SortDesc bool
	Limit    int
	Offset   int
}

type TaskSearchResult struct {
	Tasks []Task
	Total int
}

// ValueCount pairs a discovered key or value with its sampled frequency,
// used by the search package's autocomplete endpoints.
type ValueCount struct {
	Value string
	Count int
}

// SearchStore answers the task-search endpoint's filter/text-search query
// and the sampling queries behind its autocomplete endpoints.
type SearchStore interface {
	SearchTasks(ctx context.Context, environmentID string, params TaskSearchParams) (TaskSearchResult, error)
	SampleTaskParameters(ctx context.Context, environmentID string, limit int) ([][]byte, error)
	DistinctTaskColumnValues(ctx context.Context, environmentID, column string, limit int) ([]ValueCount, error)
	DistinctBuildValues(ctx context.Context, environmentID, column string, limit int) ([]ValueCount, error)
}
