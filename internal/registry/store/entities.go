// Package store defines the registry's persistent entities and the
// storage interfaces that the lock, search, and httpapi packages build
// on. Task and build status are derived from the event stream and are
// never stored directly; see FoldTaskEvents and FoldBuildEvents in
// status.go.
package store

import "time"

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
)

type InviteStatus string

const (
	InvitePending   InviteStatus = "pending"
	InviteAccepted  InviteStatus = "accepted"
	InviteDeclined  InviteStatus = "declined"
	InviteCancelled InviteStatus = "cancelled"
)

// EventType enumerates the build/task lifecycle events. Status is always
// derived by folding the event stream, never stored.
type EventType string

const (
	EventBuildStarted   EventType = "BUILD_STARTED"
	EventBuildCompleted EventType = "BUILD_COMPLETED"
	EventBuildFailed    EventType = "BUILD_FAILED"
	EventTaskPending    EventType = "TASK_PENDING"
	EventTaskStarted    EventType = "TASK_STARTED"
	EventTaskCompleted  EventType = "TASK_COMPLETED"
	EventTaskFailed     EventType = "TASK_FAILED"
)

type Organization struct {
	ID          string
	Name        string
	Slug        string
	Description string
	CreatedAt   time.Time
}

type User struct {
	ID          string
	ExternalID  string
	Email       string
	DisplayName string
	CreatedAt   time.Time
}

type OrganizationMember struct {
	ID             string
	OrganizationID string
	UserID         string
	Role           Role
	CreatedAt      time.Time
}

type Invite struct {
	ID             string
	OrganizationID string
	Email          string
	Role           Role
	Status         InviteStatus
	InvitedBy      string
	ExpiresAt      time.Time
	CreatedAt      time.Time
}

type Workspace struct {
	ID             string
	OrganizationID string
	Slug           string
	Name           string
	Description    string
	CreatedAt      time.Time
}

type Environment struct {
	ID                 string
	WorkspaceID        string
	Slug               string
	Name               string
	Description        string
	OwnerUserID        *string
	MaxConcurrentLocks *int
	CreatedAt          time.Time
}

type ApiKey struct {
	ID            string
	EnvironmentID string
	Name          string
	KeyPrefix     string
	KeyHash       string
	CreatedBy     string
	CreatedAt     time.Time
	LastUsedAt    *time.Time
	RevokedAt     *time.Time
}

// Active reports whether the key has not been revoked.
func (k ApiKey) Active() bool { return k.RevokedAt == nil }

type TargetRoot struct {
	ID            string
	EnvironmentID string
	Name          string
	URI           string
	CreatedAt     time.Time
}

type Build struct {
	ID            string
	EnvironmentID string
	UserID        *string
	Name          string
	Description   string
	CommitHash    string
	RootTaskIDs   []string
	CreatedAt     time.Time
}

// Task is the registry's record of a distinct logical unit of work. The
// (EnvironmentID, TaskID) pair is unique; registering the same task twice
// in the same environment is a no-op that reuses the existing row.
type Task struct {
	PK            int64
	TaskID        string
	EnvironmentID string
	Namespace     string
	Name          string
	Parameters    []byte // opaque JSON, registry never interprets
	Version       *string
	CreatedAt     time.Time
}

// TaskDependency is a deduplicated, build-independent edge: upstream must
// complete before downstream, observed across every build that has ever
// declared it.
type TaskDependency struct {
	ID               string
	EnvironmentID    string
	UpstreamTaskPK   int64
	DownstreamTaskPK int64
}

type Event struct {
	ID           string
	BuildID      string
	TaskPK       *int64
	EventType    EventType
	ErrorMessage *string
	Metadata     []byte
	CreatedAt    time.Time
}

type DistributedLock struct {
	Name          string
	EnvironmentID string
	OwnerID       string
	AcquiredAt    time.Time
	ExpiresAt     time.Time
	Version       int64
}

type TaskRegistryAsset struct {
	ID        string
	TaskPK    int64
	AssetType string
	Name      string
	Body      []byte
	CreatedAt time.Time
}
