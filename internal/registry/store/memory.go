package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemoryStore is a non-durable Store used in tests and local prototyping.
// It mirrors the Postgres implementation's semantics (dedup, atomic lock
// upsert, event-derived status) without a database.
type MemoryStore struct {
	mu sync.Mutex

	orgs      map[string]Organization
	users     map[string]User
	usersByEx map[string]string // external_id -> user id
	members   map[string]OrganizationMember
	invites   map[string]Invite
	workspaces map[string]Workspace
	envs      map[string]Environment
	apiKeys   map[string]ApiKey
	targets   map[string]TargetRoot
	builds    map[string]Build
	tasks     map[int64]Task
	taskByKey map[string]int64 // environment_id|task_id -> pk
	deps      map[string]TaskDependency
	events    []Event
	locks     map[string]DistributedLock
	assets    map[string]TaskRegistryAsset

	nextTaskPK int64
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		orgs:       make(map[string]Organization),
		users:      make(map[string]User),
		usersByEx:  make(map[string]string),
		members:    make(map[string]OrganizationMember),
		invites:    make(map[string]Invite),
		workspaces: make(map[string]Workspace),
		envs:       make(map[string]Environment),
		apiKeys:    make(map[string]ApiKey),
		targets:    make(map[string]TargetRoot),
		builds:     make(map[string]Build),
		tasks:      make(map[int64]Task),
		taskByKey:  make(map[string]int64),
		deps:       make(map[string]TaskDependency),
		locks:      make(map[string]DistributedLock),
		assets:     make(map[string]TaskRegistryAsset),
	}
}

func taskKey(environmentID, taskID string) string { return environmentID + "|" + taskID }

func (s *MemoryStore) CreateOrganization(_ context.Context, org Organization, ownerUserID string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if org.CreatedAt.IsZero() {
		org.CreatedAt = time.Now().UTC()
	}
	s.orgs[org.ID] = org
	memberID := org.ID + "-owner"
	s.members[memberID] = OrganizationMember{ID: memberID, OrganizationID: org.ID, UserID: ownerUserID, Role: RoleOwner, CreatedAt: org.CreatedAt}
	return org, nil
}

func (s *MemoryStore) GetOrganization(_ context.Context, id string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	org, ok := s.orgs[id]
	if !ok {
		return Organization{}, ErrNotFound
	}
	return org, nil
}

func (s *MemoryStore) GetOrganizationBySlug(_ context.Context, slug string) (Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, org := range s.orgs {
		if org.Slug == slug {
			return org, nil
		}
	}
	return Organization{}, ErrNotFound
}

func (s *MemoryStore) DeleteOrganization(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orgs, id)
	for k, m := range s.members {
		if m.OrganizationID == id {
			delete(s.members, k)
		}
	}
	return nil
}

func (s *MemoryStore) ListOrganizationsForUser(_ context.Context, userID string) ([]Organization, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orgIDs := map[string]bool{}
	for _, m := range s.members {
		if m.UserID == userID {
			orgIDs[m.OrganizationID] = true
		}
	}
	var out []Organization
	for id := range orgIDs {
		out = append(out, s.orgs[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AddMember(_ context.Context, member OrganizationMember) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.OrganizationID == member.OrganizationID && m.UserID == member.UserID {
			return ErrConflict
		}
	}
	if member.CreatedAt.IsZero() {
		member.CreatedAt = time.Now().UTC()
	}
	s.members[member.ID] = member
	return nil
}

func (s *MemoryStore) GetMember(_ context.Context, organizationID, userID string) (OrganizationMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.members {
		if m.OrganizationID == organizationID && m.UserID == userID {
			return m, nil
		}
	}
	return OrganizationMember{}, ErrNotFound
}

func (s *MemoryStore) ListMembers(_ context.Context, organizationID string) ([]OrganizationMember, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []OrganizationMember
	for _, m := range s.members {
		if m.OrganizationID == organizationID {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) countOwnersLocked(organizationID string) int {
	n := 0
	for _, m := range s.members {
		if m.OrganizationID == organizationID && m.Role == RoleOwner {
			n++
		}
	}
	return n
}

func (s *MemoryStore) SetMemberRole(_ context.Context, organizationID, userID string, role Role) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.members {
		if m.OrganizationID == organizationID && m.UserID == userID {
			if m.Role == RoleOwner && role != RoleOwner && s.countOwnersLocked(organizationID) <= 1 {
				return ErrLastOwner
			}
			m.Role = role
			s.members[id] = m
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) RemoveMember(_ context.Context, organizationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, m := range s.members {
		if m.OrganizationID == organizationID && m.UserID == userID {
			if m.Role == RoleOwner && s.countOwnersLocked(organizationID) <= 1 {
				return ErrLastOwner
			}
			delete(s.members, id)
			return nil
		}
	}
	return ErrNotFound
}

func (s *MemoryStore) CountOwners(_ context.Context, organizationID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.countOwnersLocked(organizationID), nil
}

func (s *MemoryStore) CountOrganizationsOwnedBy(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, m := range s.members {
		if m.UserID == userID && m.Role == RoleOwner {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateInvite(_ context.Context, invite Invite) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, inv := range s.invites {
		if inv.OrganizationID == invite.OrganizationID && inv.Email == invite.Email && inv.Status == InvitePending {
			return Invite{}, ErrConflict
		}
	}
	if invite.CreatedAt.IsZero() {
		invite.CreatedAt = time.Now().UTC()
	}
	s.invites[invite.ID] = invite
	return invite, nil
}

func (s *MemoryStore) GetInvite(_ context.Context, id string) (Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return Invite{}, ErrNotFound
	}
	return inv, nil
}

func (s *MemoryStore) ListPendingInvites(_ context.Context, organizationID string) ([]Invite, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Invite
	for _, inv := range s.invites {
		if inv.OrganizationID == organizationID && inv.Status == InvitePending {
			out = append(out, inv)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) SetInviteStatus(_ context.Context, id string, status InviteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	inv, ok := s.invites[id]
	if !ok {
		return ErrNotFound
	}
	inv.Status = status
	s.invites[id] = inv
	return nil
}

func (s *MemoryStore) GetOrCreateUser(_ context.Context, externalID, email, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.usersByEx[externalID]; ok {
		return s.users[id], nil
	}
	u := User{ID: "usr_" + externalID, ExternalID: externalID, Email: email, DisplayName: displayName, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	s.usersByEx[externalID] = u.ID
	return u, nil
}

func (s *MemoryStore) GetUser(_ context.Context, id string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (s *MemoryStore) CreateWorkspace(_ context.Context, ws Workspace) (Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workspaces {
		if w.OrganizationID == ws.OrganizationID && w.Slug == ws.Slug {
			return Workspace{}, ErrConflict
		}
	}
	if ws.CreatedAt.IsZero() {
		ws.CreatedAt = time.Now().UTC()
	}
	s.workspaces[ws.ID] = ws
	return ws, nil
}

func (s *MemoryStore) GetWorkspace(_ context.Context, id string) (Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ws, ok := s.workspaces[id]
	if !ok {
		return Workspace{}, ErrNotFound
	}
	return ws, nil
}

func (s *MemoryStore) GetWorkspaceBySlug(_ context.Context, organizationID, slug string) (Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range s.workspaces {
		if w.OrganizationID == organizationID && w.Slug == slug {
			return w, nil
		}
	}
	return Workspace{}, ErrNotFound
}

func (s *MemoryStore) ListWorkspaces(_ context.Context, organizationID string) ([]Workspace, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Workspace
	for _, w := range s.workspaces {
		if w.OrganizationID == organizationID {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteWorkspace(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.workspaces, id)
	return nil
}

func (s *MemoryStore) CountWorkspacesOwnedBy(_ context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	orgIDs := map[string]bool{}
	for _, m := range s.members {
		if m.UserID == userID {
			orgIDs[m.OrganizationID] = true
		}
	}
	n := 0
	for _, w := range s.workspaces {
		if orgIDs[w.OrganizationID] {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateEnvironment(_ context.Context, env Environment) (Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.envs {
		if e.WorkspaceID == env.WorkspaceID && e.Slug == env.Slug {
			return Environment{}, ErrConflict
		}
	}
	if env.CreatedAt.IsZero() {
		env.CreatedAt = time.Now().UTC()
	}
	s.envs[env.ID] = env
	return env, nil
}

func (s *MemoryStore) GetEnvironment(_ context.Context, id string) (Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.envs[id]
	if !ok {
		return Environment{}, ErrNotFound
	}
	return e, nil
}

func (s *MemoryStore) GetEnvironmentBySlug(_ context.Context, workspaceID, slug string) (Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.envs {
		if e.WorkspaceID == workspaceID && e.Slug == slug {
			return e, nil
		}
	}
	return Environment{}, ErrNotFound
}

func (s *MemoryStore) ListEnvironments(_ context.Context, workspaceID string) ([]Environment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Environment
	for _, e := range s.envs {
		if e.WorkspaceID == workspaceID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) CountEnvironments(_ context.Context, workspaceID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, e := range s.envs {
		if e.WorkspaceID == workspaceID {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) DeleteEnvironment(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.envs, id)
	return nil
}

func (s *MemoryStore) CreateApiKey(_ context.Context, key ApiKey) (ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if key.CreatedAt.IsZero() {
		key.CreatedAt = time.Now().UTC()
	}
	s.apiKeys[key.ID] = key
	return key, nil
}

func (s *MemoryStore) FindApiKeysByPrefix(_ context.Context, prefix string) ([]ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ApiKey
	for _, k := range s.apiKeys {
		if k.KeyPrefix == prefix {
			out = append(out, k)
		}
	}
	return out, nil
}

func (s *MemoryStore) TouchApiKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	k.LastUsedAt = &t
	s.apiKeys[id] = k
	return nil
}

func (s *MemoryStore) RevokeApiKey(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k, ok := s.apiKeys[id]
	if !ok {
		return ErrNotFound
	}
	t := at
	k.RevokedAt = &t
	s.apiKeys[id] = k
	return nil
}

func (s *MemoryStore) ListApiKeys(_ context.Context, environmentID string) ([]ApiKey, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ApiKey
	for _, k := range s.apiKeys {
		if k.EnvironmentID == environmentID {
			out = append(out, k)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpsertTargetRoot(_ context.Context, tr TargetRoot) (TargetRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tr.EnvironmentID + "|" + tr.Name
	if existing, ok := s.targets[key]; ok {
		existing.URI = tr.URI
		s.targets[key] = existing
		return existing, nil
	}
	if tr.CreatedAt.IsZero() {
		tr.CreatedAt = time.Now().UTC()
	}
	s.targets[key] = tr
	return tr, nil
}

func (s *MemoryStore) ListTargetRoots(_ context.Context, environmentID string) ([]TargetRoot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TargetRoot
	for _, tr := range s.targets {
		if tr.EnvironmentID == environmentID {
			out = append(out, tr)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateBuild(_ context.Context, b Build) (Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	s.builds[b.ID] = b
	return b, nil
}

func (s *MemoryStore) GetBuild(_ context.Context, id string) (Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.builds[id]
	if !ok {
		return Build{}, ErrNotFound
	}
	return b, nil
}

func (s *MemoryStore) ListBuilds(_ context.Context, environmentID string, opts ListOptions) ([]Build, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Build
	for _, b := range s.builds {
		if b.EnvironmentID == environmentID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, opts), nil
}

func paginate(builds []Build, opts ListOptions) []Build {
	if opts.Offset >= len(builds) {
		return nil
	}
	end := opts.Offset + opts.Limit
	if opts.Limit <= 0 || end > len(builds) {
		end = len(builds)
	}
	return builds[opts.Offset:end]
}

func (s *MemoryStore) UpsertTask(_ context.Context, t Task) (Task, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := taskKey(t.EnvironmentID, t.TaskID)
	if pk, ok := s.taskByKey[key]; ok {
		return s.tasks[pk], false, nil
	}
	s.nextTaskPK++
	t.PK = s.nextTaskPK
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now().UTC()
	}
	s.tasks[t.PK] = t
	s.taskByKey[key] = t.PK
	return t, true, nil
}

func (s *MemoryStore) GetTaskByPK(_ context.Context, pk int64) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[pk]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

func (s *MemoryStore) GetTaskByTaskID(_ context.Context, environmentID, taskID string) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	pk, ok := s.taskByKey[taskKey(environmentID, taskID)]
	if !ok {
		return Task{}, ErrNotFound
	}
	return s.tasks[pk], nil
}

func (s *MemoryStore) AddDependency(_ context.Context, dep TaskDependency) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := dependencyKey(dep.UpstreamTaskPK, dep.DownstreamTaskPK)
	if _, ok := s.deps[key]; ok {
		return nil
	}
	s.deps[key] = dep
	return nil
}

func dependencyKey(upstream, downstream int64) string {
	return fmt.Sprintf("%d->%d", upstream, downstream)
}

func (s *MemoryStore) ListUpstream(_ context.Context, taskPK int64) ([]TaskDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskDependency
	for _, d := range s.deps {
		if d.DownstreamTaskPK == taskPK {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStore) ListDownstream(_ context.Context, taskPK int64) ([]TaskDependency, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskDependency
	for _, d := range s.deps {
		if d.UpstreamTaskPK == taskPK {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *MemoryStore) AppendEvent(_ context.Context, ev Event) (Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	s.events = append(s.events, ev)
	return ev, nil
}

func (s *MemoryStore) ListBuildEvents(_ context.Context, buildID string) ([]Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.BuildID == buildID {
			out = append(out, ev)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) AcquireLock(_ context.Context, name, ownerID, environmentID string, ttl time.Duration, now time.Time) (DistributedLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.locks[name]
	if ok && existing.ExpiresAt.After(now) && existing.OwnerID != ownerID {
		return existing, nil
	}

	version := int64(0)
	if ok {
		version = existing.Version + 1
	}
	lock := DistributedLock{
		Name:          name,
		EnvironmentID: environmentID,
		OwnerID:       ownerID,
		AcquiredAt:    now,
		ExpiresAt:     now.Add(ttl),
		Version:       version,
	}
	s.locks[name] = lock
	return lock, nil
}

func (s *MemoryStore) RenewLock(_ context.Context, name, ownerID string, ttl time.Duration, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok || lock.OwnerID != ownerID {
		return false, nil
	}
	lock.ExpiresAt = now.Add(ttl)
	lock.Version++
	s.locks[name] = lock
	return true, nil
}

func (s *MemoryStore) ReleaseLock(_ context.Context, name, ownerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	if !ok || lock.OwnerID != ownerID {
		return false, nil
	}
	delete(s.locks, name)
	return true, nil
}

func (s *MemoryStore) ReleaseLockWithCompletion(_ context.Context, lockName, ownerID, environmentID, buildID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if pk, ok := s.taskByKey[taskKey(environmentID, lockName)]; ok {
		s.events = append(s.events, Event{
			ID:        buildID + "-" + lockName + "-completed",
			BuildID:   buildID,
			TaskPK:    &pk,
			EventType: EventTaskCompleted,
			CreatedAt: time.Now().UTC(),
		})
	}

	lock, ok := s.locks[lockName]
	if !ok || lock.OwnerID != ownerID {
		return false, nil
	}
	delete(s.locks, lockName)
	return true, nil
}

func (s *MemoryStore) GetLock(_ context.Context, name string) (DistributedLock, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[name]
	return lock, ok, nil
}

func (s *MemoryStore) ListLocks(_ context.Context, environmentID string, includeExpired bool) ([]DistributedLock, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	var out []DistributedLock
	for _, lock := range s.locks {
		if lock.EnvironmentID != environmentID {
			continue
		}
		if !includeExpired && !lock.ExpiresAt.After(now) {
			continue
		}
		out = append(out, lock)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AcquiredAt.After(out[j].AcquiredAt) })
	return out, nil
}

func (s *MemoryStore) CountActiveLocks(_ context.Context, environmentID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, lock := range s.locks {
		if lock.EnvironmentID == environmentID && lock.ExpiresAt.After(now) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CleanupExpiredLocks(_ context.Context, environmentID string, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for name, lock := range s.locks {
		if lock.ExpiresAt.After(now) {
			continue
		}
		if environmentID != "" && lock.EnvironmentID != environmentID {
			continue
		}
		delete(s.locks, name)
		n++
	}
	return n, nil
}

func (s *MemoryStore) CountTaskCompletions(_ context.Context, taskPK int64) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ev := range s.events {
		if ev.TaskPK != nil && *ev.TaskPK == taskPK && ev.EventType == EventTaskCompleted {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateAsset(_ context.Context, asset TaskRegistryAsset) (TaskRegistryAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if asset.CreatedAt.IsZero() {
		asset.CreatedAt = time.Now().UTC()
	}
	s.assets[asset.ID] = asset
	return asset, nil
}

func (s *MemoryStore) ListAssets(_ context.Context, taskPK int64) ([]TaskRegistryAsset, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []TaskRegistryAsset
	for _, a := range s.assets {
		if a.TaskPK == taskPK {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}
