package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL. Every multi-row mutation
// runs inside a single transaction, per the component design's
// transactional requirement.
type PostgresStore struct {
	DB *sql.DB
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) CreateOrganization(ctx context.Context, org Organization, ownerUserID string) (Organization, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return Organization{}, err
	}
	defer func() { _ = tx.Rollback() }()

	row := tx.QueryRowContext(ctx, `
		INSERT INTO organizations (id, name, slug, description)
		VALUES ($1, $2, $3, $4)
		RETURNING id, name, slug, description, created_at
	`, org.ID, org.Name, org.Slug, org.Description)
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt); err != nil {
		return Organization{}, fmt.Errorf("insert organization: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, org.ID+"-owner", org.ID, ownerUserID, RoleOwner); err != nil {
		return Organization{}, fmt.Errorf("insert owner membership: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) GetOrganization(ctx context.Context, id string) (Organization, error) {
	var org Organization
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_at FROM organizations WHERE id = $1
	`, id)
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) GetOrganizationBySlug(ctx context.Context, slug string) (Organization, error) {
	var org Organization
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, name, slug, description, created_at FROM organizations WHERE slug = $1
	`, slug)
	if err := row.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Organization{}, ErrNotFound
		}
		return Organization{}, err
	}
	return org, nil
}

func (s *PostgresStore) DeleteOrganization(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) ListOrganizationsForUser(ctx context.Context, userID string) ([]Organization, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT o.id, o.name, o.slug, o.description, o.created_at
		FROM organizations o
		JOIN organization_members m ON m.organization_id = o.id
		WHERE m.user_id = $1
		ORDER BY o.created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Organization
	for rows.Next() {
		var org Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.Slug, &org.Description, &org.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AddMember(ctx context.Context, member OrganizationMember) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO organization_members (id, organization_id, user_id, role)
		VALUES ($1, $2, $3, $4)
	`, member.ID, member.OrganizationID, member.UserID, member.Role)
	if isUniqueViolation(err) {
		return ErrConflict
	}
	return err
}

func (s *PostgresStore) GetMember(ctx context.Context, organizationID, userID string) (OrganizationMember, error) {
	var m OrganizationMember
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, organization_id, user_id, role, created_at
		FROM organization_members WHERE organization_id = $1 AND user_id = $2
	`, organizationID, userID)
	if err := row.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return OrganizationMember{}, ErrNotFound
		}
		return OrganizationMember{}, err
	}
	return m, nil
}

func (s *PostgresStore) ListMembers(ctx context.Context, organizationID string) ([]OrganizationMember, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, organization_id, user_id, role, created_at
		FROM organization_members WHERE organization_id = $1 ORDER BY created_at
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []OrganizationMember
	for rows.Next() {
		var m OrganizationMember
		if err := rows.Scan(&m.ID, &m.OrganizationID, &m.UserID, &m.Role, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetMemberRole(ctx context.Context, organizationID, userID string, role Role) error {
	// Invariant: the last owner cannot be demoted. Checked in the same
	// transaction as the update to avoid a race with a concurrent
	// demotion of a different owner.
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var currentRole Role
	row := tx.QueryRowContext(ctx, `
		SELECT role FROM organization_members
		WHERE organization_id = $1 AND user_id = $2 FOR UPDATE
	`, organizationID, userID)
	if err := row.Scan(&currentRole); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if currentRole == RoleOwner && role != RoleOwner {
		var ownerCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM organization_members
			WHERE organization_id = $1 AND role = 'owner'
		`, organizationID).Scan(&ownerCount); err != nil {
			return err
		}
		if ownerCount <= 1 {
			return ErrLastOwner
		}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE organization_members SET role = $3
		WHERE organization_id = $1 AND user_id = $2
	`, organizationID, userID, role); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) RemoveMember(ctx context.Context, organizationID, userID string) error {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var role Role
	row := tx.QueryRowContext(ctx, `
		SELECT role FROM organization_members
		WHERE organization_id = $1 AND user_id = $2 FOR UPDATE
	`, organizationID, userID)
	if err := row.Scan(&role); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}

	if role == RoleOwner {
		var ownerCount int
		if err := tx.QueryRowContext(ctx, `
			SELECT count(*) FROM organization_members
			WHERE organization_id = $1 AND role = 'owner'
		`, organizationID).Scan(&ownerCount); err != nil {
			return err
		}
		if ownerCount <= 1 {
			return ErrLastOwner
		}
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM organization_members WHERE organization_id = $1 AND user_id = $2
	`, organizationID, userID); err != nil {
		return err
	}
	return tx.Commit()
}

func (s *PostgresStore) CountOwners(ctx context.Context, organizationID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM organization_members WHERE organization_id = $1 AND role = 'owner'
	`, organizationID).Scan(&n)
	return n, err
}

func (s *PostgresStore) CountOrganizationsOwnedBy(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM organization_members WHERE user_id = $1 AND role = 'owner'
	`, userID).Scan(&n)
	return n, err
}

func (s *PostgresStore) CreateInvite(ctx context.Context, invite Invite) (Invite, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO invites (id, organization_id, email, role, status, invited_by, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, organization_id, email, role, status, invited_by, expires_at, created_at
	`, invite.ID, invite.OrganizationID, invite.Email, invite.Role, invite.Status, invite.InvitedBy, invite.ExpiresAt)
	if err := row.Scan(&invite.ID, &invite.OrganizationID, &invite.Email, &invite.Role, &invite.Status, &invite.InvitedBy, &invite.ExpiresAt, &invite.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Invite{}, ErrConflict
		}
		return Invite{}, err
	}
	return invite, nil
}

func (s *PostgresStore) GetInvite(ctx context.Context, id string) (Invite, error) {
	var inv Invite
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, organization_id, email, role, status, invited_by, expires_at, created_at
		FROM invites WHERE id = $1
	`, id)
	if err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.Status, &inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Invite{}, ErrNotFound
		}
		return Invite{}, err
	}
	return inv, nil
}

func (s *PostgresStore) ListPendingInvites(ctx context.Context, organizationID string) ([]Invite, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, organization_id, email, role, status, invited_by, expires_at, created_at
		FROM invites WHERE organization_id = $1 AND status = 'pending' ORDER BY created_at
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Invite
	for rows.Next() {
		var inv Invite
		if err := rows.Scan(&inv.ID, &inv.OrganizationID, &inv.Email, &inv.Role, &inv.Status, &inv.InvitedBy, &inv.ExpiresAt, &inv.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, inv)
	}
	return out, rows.Err()
}

func (s *PostgresStore) SetInviteStatus(ctx context.Context, id string, status InviteStatus) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE invites SET status = $2 WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	return checkRowsAffected(res)
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, externalID, email, displayName string) (User, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO users (id, external_id, email, display_name)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (external_id) DO UPDATE SET external_id = EXCLUDED.external_id
		RETURNING id, external_id, email, display_name, created_at
	`, "usr_"+externalID, externalID, email, displayName)
	var u User
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) GetUser(ctx context.Context, id string) (User, error) {
	var u User
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, external_id, email, display_name, created_at FROM users WHERE id = $1
	`, id)
	if err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.DisplayName, &u.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func (s *PostgresStore) CreateWorkspace(ctx context.Context, ws Workspace) (Workspace, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO workspaces (id, organization_id, slug, name, description)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, organization_id, slug, name, description, created_at
	`, ws.ID, ws.OrganizationID, ws.Slug, ws.Name, ws.Description)
	if err := row.Scan(&ws.ID, &ws.OrganizationID, &ws.Slug, &ws.Name, &ws.Description, &ws.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Workspace{}, ErrConflict
		}
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) GetWorkspace(ctx context.Context, id string) (Workspace, error) {
	var ws Workspace
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, organization_id, slug, name, description, created_at FROM workspaces WHERE id = $1
	`, id)
	if err := row.Scan(&ws.ID, &ws.OrganizationID, &ws.Slug, &ws.Name, &ws.Description, &ws.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workspace{}, ErrNotFound
		}
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) GetWorkspaceBySlug(ctx context.Context, organizationID, slug string) (Workspace, error) {
	var ws Workspace
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, organization_id, slug, name, description, created_at
		FROM workspaces WHERE organization_id = $1 AND slug = $2
	`, organizationID, slug)
	if err := row.Scan(&ws.ID, &ws.OrganizationID, &ws.Slug, &ws.Name, &ws.Description, &ws.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Workspace{}, ErrNotFound
		}
		return Workspace{}, err
	}
	return ws, nil
}

func (s *PostgresStore) ListWorkspaces(ctx context.Context, organizationID string) ([]Workspace, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, organization_id, slug, name, description, created_at
		FROM workspaces WHERE organization_id = $1 ORDER BY created_at
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Workspace
	for rows.Next() {
		var ws Workspace
		if err := rows.Scan(&ws.ID, &ws.OrganizationID, &ws.Slug, &ws.Name, &ws.Description, &ws.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ws)
	}
	return out, rows.Err()
}

func (s *PostgresStore) DeleteWorkspace(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) CountWorkspacesOwnedBy(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM workspaces w
		JOIN organization_members m ON m.organization_id = w.organization_id
		WHERE m.user_id = $1
	`, userID).Scan(&n)
	return n, err
}

func (s *PostgresStore) CreateEnvironment(ctx context.Context, env Environment) (Environment, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO environments (id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks, created_at
	`, env.ID, env.WorkspaceID, env.Slug, env.Name, env.Description, env.OwnerUserID, env.MaxConcurrentLocks)
	if err := row.Scan(&env.ID, &env.WorkspaceID, &env.Slug, &env.Name, &env.Description, &env.OwnerUserID, &env.MaxConcurrentLocks, &env.CreatedAt); err != nil {
		if isUniqueViolation(err) {
			return Environment{}, ErrConflict
		}
		return Environment{}, err
	}
	return env, nil
}

func (s *PostgresStore) GetEnvironment(ctx context.Context, id string) (Environment, error) {
	var env Environment
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks, created_at
		FROM environments WHERE id = $1
	`, id)
	if err := row.Scan(&env.ID, &env.WorkspaceID, &env.Slug, &env.Name, &env.Description, &env.OwnerUserID, &env.MaxConcurrentLocks, &env.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Environment{}, ErrNotFound
		}
		return Environment{}, err
	}
	return env, nil
}

func (s *PostgresStore) GetEnvironmentBySlug(ctx context.Context, workspaceID, slug string) (Environment, error) {
	var env Environment
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks, created_at
		FROM environments WHERE workspace_id = $1 AND slug = $2
	`, workspaceID, slug)
	if err := row.Scan(&env.ID, &env.WorkspaceID, &env.Slug, &env.Name, &env.Description, &env.OwnerUserID, &env.MaxConcurrentLocks, &env.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Environment{}, ErrNotFound
		}
		return Environment{}, err
	}
	return env, nil
}

func (s *PostgresStore) ListEnvironments(ctx context.Context, workspaceID string) ([]Environment, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, workspace_id, slug, name, description, owner_user_id, max_concurrent_locks, created_at
		FROM environments WHERE workspace_id = $1 ORDER BY created_at
	`, workspaceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Environment
	for rows.Next() {
		var env Environment
		if err := rows.Scan(&env.ID, &env.WorkspaceID, &env.Slug, &env.Name, &env.Description, &env.OwnerUserID, &env.MaxConcurrentLocks, &env.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountEnvironments(ctx context.Context, workspaceID string) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `SELECT count(*) FROM environments WHERE workspace_id = $1`, workspaceID).Scan(&n)
	return n, err
}

func (s *PostgresStore) DeleteEnvironment(ctx context.Context, id string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM environments WHERE id = $1`, id)
	return err
}

func (s *PostgresStore) CreateApiKey(ctx context.Context, key ApiKey) (ApiKey, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO api_keys (id, environment_id, name, key_prefix, key_hash, created_by)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, environment_id, name, key_prefix, key_hash, created_by, created_at, last_used_at, revoked_at
	`, key.ID, key.EnvironmentID, key.Name, key.KeyPrefix, key.KeyHash, key.CreatedBy)
	if err := row.Scan(&key.ID, &key.EnvironmentID, &key.Name, &key.KeyPrefix, &key.KeyHash, &key.CreatedBy, &key.CreatedAt, &key.LastUsedAt, &key.RevokedAt); err != nil {
		return ApiKey{}, err
	}
	return key, nil
}

func (s *PostgresStore) FindApiKeysByPrefix(ctx context.Context, prefix string) ([]ApiKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, environment_id, name, key_prefix, key_hash, created_by, created_at, last_used_at, revoked_at
		FROM api_keys WHERE key_prefix = $1
	`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApiKey
	for rows.Next() {
		var k ApiKey
		if err := rows.Scan(&k.ID, &k.EnvironmentID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.CreatedBy, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *PostgresStore) TouchApiKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE api_keys SET last_used_at = $2 WHERE id = $1`, id, at)
	return err
}

func (s *PostgresStore) RevokeApiKey(ctx context.Context, id string, at time.Time) error {
	_, err := s.DB.ExecContext(ctx, `UPDATE api_keys SET revoked_at = $2 WHERE id = $1`, id, at)
	return err
}

func (s *PostgresStore) ListApiKeys(ctx context.Context, environmentID string) ([]ApiKey, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, environment_id, name, key_prefix, key_hash, created_by, created_at, last_used_at, revoked_at
		FROM api_keys WHERE environment_id = $1 ORDER BY created_at
	`, environmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ApiKey
	for rows.Next() {
		var k ApiKey
		if err := rows.Scan(&k.ID, &k.EnvironmentID, &k.Name, &k.KeyPrefix, &k.KeyHash, &k.CreatedBy, &k.CreatedAt, &k.LastUsedAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		out = append(out, k)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertTargetRoot(ctx context.Context, tr TargetRoot) (TargetRoot, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO target_roots (id, environment_id, name, uri)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (environment_id, name) DO UPDATE SET uri = EXCLUDED.uri
		RETURNING id, environment_id, name, uri, created_at
	`, tr.ID, tr.EnvironmentID, tr.Name, tr.URI)
	if err := row.Scan(&tr.ID, &tr.EnvironmentID, &tr.Name, &tr.URI, &tr.CreatedAt); err != nil {
		return TargetRoot{}, err
	}
	return tr, nil
}

func (s *PostgresStore) ListTargetRoots(ctx context.Context, environmentID string) ([]TargetRoot, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, environment_id, name, uri, created_at FROM target_roots WHERE environment_id = $1 ORDER BY name
	`, environmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TargetRoot
	for rows.Next() {
		var tr TargetRoot
		if err := rows.Scan(&tr.ID, &tr.EnvironmentID, &tr.Name, &tr.URI, &tr.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, tr)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CreateBuild(ctx context.Context, b Build) (Build, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO builds (id, environment_id, user_id, name, description, commit_hash, root_task_ids)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, environment_id, user_id, name, description, commit_hash, root_task_ids, created_at
	`, b.ID, b.EnvironmentID, b.UserID, b.Name, b.Description, b.CommitHash, pq.Array(b.RootTaskIDs))
	var rootTaskIDs []string
	if err := row.Scan(&b.ID, &b.EnvironmentID, &b.UserID, &b.Name, &b.Description, &b.CommitHash, pq.Array(&rootTaskIDs), &b.CreatedAt); err != nil {
		return Build{}, err
	}
	b.RootTaskIDs = rootTaskIDs
	return b, nil
}

func (s *PostgresStore) GetBuild(ctx context.Context, id string) (Build, error) {
	var b Build
	var rootTaskIDs []string
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, environment_id, user_id, name, description, commit_hash, root_task_ids, created_at
		FROM builds WHERE id = $1
	`, id)
	if err := row.Scan(&b.ID, &b.EnvironmentID, &b.UserID, &b.Name, &b.Description, &b.CommitHash, pq.Array(&rootTaskIDs), &b.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Build{}, ErrNotFound
		}
		return Build{}, err
	}
	b.RootTaskIDs = rootTaskIDs
	return b, nil
}

func (s *PostgresStore) ListBuilds(ctx context.Context, environmentID string, opts ListOptions) ([]Build, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, environment_id, user_id, name, description, commit_hash, root_task_ids, created_at
		FROM builds WHERE environment_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, environmentID, opts.Limit, opts.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Build
	for rows.Next() {
		var b Build
		var rootTaskIDs []string
		if err := rows.Scan(&b.ID, &b.EnvironmentID, &b.UserID, &b.Name, &b.Description, &b.CommitHash, pq.Array(&rootTaskIDs), &b.CreatedAt); err != nil {
			return nil, err
		}
		b.RootTaskIDs = rootTaskIDs
		out = append(out, b)
	}
	return out, rows.Err()
}

// UpsertTask registers a task, reusing the existing row when
// (environment_id, task_id) already exists — the dedup invariant.
func (s *PostgresStore) UpsertTask(ctx context.Context, t Task) (Task, bool, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO tasks (task_id, environment_id, namespace, name, parameters, version)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (environment_id, task_id) DO UPDATE SET task_id = EXCLUDED.task_id
		RETURNING id, task_id, environment_id, namespace, name, parameters, version, created_at, (xmax = 0) AS inserted
	`, t.TaskID, t.EnvironmentID, t.Namespace, t.Name, t.Parameters, t.Version)

	var inserted bool
	if err := row.Scan(&t.PK, &t.TaskID, &t.EnvironmentID, &t.Namespace, &t.Name, &t.Parameters, &t.Version, &t.CreatedAt, &inserted); err != nil {
		return Task{}, false, err
	}
	return t, inserted, nil
}

func (s *PostgresStore) GetTaskByPK(ctx context.Context, pk int64) (Task, error) {
	var t Task
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, environment_id, namespace, name, parameters, version, created_at
		FROM tasks WHERE id = $1
	`, pk)
	if err := row.Scan(&t.PK, &t.TaskID, &t.EnvironmentID, &t.Namespace, &t.Name, &t.Parameters, &t.Version, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

func (s *PostgresStore) GetTaskByTaskID(ctx context.Context, environmentID, taskID string) (Task, error) {
	var t Task
	row := s.DB.QueryRowContext(ctx, `
		SELECT id, task_id, environment_id, namespace, name, parameters, version, created_at
		FROM tasks WHERE environment_id = $1 AND task_id = $2
	`, environmentID, taskID)
	if err := row.Scan(&t.PK, &t.TaskID, &t.EnvironmentID, &t.Namespace, &t.Name, &t.Parameters, &t.Version, &t.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Task{}, ErrNotFound
		}
		return Task{}, err
	}
	return t, nil
}

func (s *PostgresStore) AddDependency(ctx context.Context, dep TaskDependency) error {
	_, err := s.DB.ExecContext(ctx, `
		INSERT INTO task_dependencies (id, environment_id, upstream_task_id, downstream_task_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (upstream_task_id, downstream_task_id) DO NOTHING
	`, dep.ID, dep.EnvironmentID, dep.UpstreamTaskPK, dep.DownstreamTaskPK)
	return err
}

func (s *PostgresStore) ListUpstream(ctx context.Context, taskPK int64) ([]TaskDependency, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, environment_id, upstream_task_id, downstream_task_id
		FROM task_dependencies WHERE downstream_task_id = $1
	`, taskPK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskDependency
	for rows.Next() {
		var d TaskDependency
		if err := rows.Scan(&d.ID, &d.EnvironmentID, &d.UpstreamTaskPK, &d.DownstreamTaskPK); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListDownstream(ctx context.Context, taskPK int64) ([]TaskDependency, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, environment_id, upstream_task_id, downstream_task_id
		FROM task_dependencies WHERE upstream_task_id = $1
	`, taskPK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskDependency
	for rows.Next() {
		var d TaskDependency
		if err := rows.Scan(&d.ID, &d.EnvironmentID, &d.UpstreamTaskPK, &d.DownstreamTaskPK); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) AppendEvent(ctx context.Context, ev Event) (Event, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO events (id, build_id, task_id, event_type, error_message, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, build_id, task_id, event_type, error_message, metadata, created_at
	`, ev.ID, ev.BuildID, ev.TaskPK, ev.EventType, ev.ErrorMessage, ev.Metadata)
	if err := row.Scan(&ev.ID, &ev.BuildID, &ev.TaskPK, &ev.EventType, &ev.ErrorMessage, &ev.Metadata, &ev.CreatedAt); err != nil {
		return Event{}, err
	}
	return ev, nil
}

func (s *PostgresStore) ListBuildEvents(ctx context.Context, buildID string) ([]Event, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, build_id, task_id, event_type, error_message, metadata, created_at
		FROM events WHERE build_id = $1 ORDER BY created_at
	`, buildID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		if err := rows.Scan(&ev.ID, &ev.BuildID, &ev.TaskPK, &ev.EventType, &ev.ErrorMessage, &ev.Metadata, &ev.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountTaskCompletions(ctx context.Context, taskPK int64) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM events WHERE task_id = $1 AND event_type = $2
	`, taskPK, EventTaskCompleted).Scan(&n)
	return n, err
}

func (s *PostgresStore) CreateAsset(ctx context.Context, asset TaskRegistryAsset) (TaskRegistryAsset, error) {
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO task_registry_assets (id, task_pk, asset_type, name, body)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, task_pk, asset_type, name, body, created_at
	`, asset.ID, asset.TaskPK, asset.AssetType, asset.Name, asset.Body)
	if err := row.Scan(&asset.ID, &asset.TaskPK, &asset.AssetType, &asset.Name, &asset.Body, &asset.CreatedAt); err != nil {
		return TaskRegistryAsset{}, err
	}
	return asset, nil
}

func (s *PostgresStore) ListAssets(ctx context.Context, taskPK int64) ([]TaskRegistryAsset, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, task_pk, asset_type, name, body, created_at
		FROM task_registry_assets WHERE task_pk = $1 ORDER BY created_at
	`, taskPK)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRegistryAsset
	for rows.Next() {
		var a TaskRegistryAsset
		if err := rows.Scan(&a.ID, &a.TaskPK, &a.AssetType, &a.Name, &a.Body, &a.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// AcquireLock performs the atomic upsert: the row is updated only if it
// has expired or is already owned by ownerID, otherwise the existing
// (other-owned) row is returned unchanged. The caller compares OwnerID
// on the result to tell ACQUIRED from HELD_BY_OTHER.
func (s *PostgresStore) AcquireLock(ctx context.Context, name, ownerID, environmentID string, ttl time.Duration, now time.Time) (DistributedLock, error) {
	expiresAt := now.Add(ttl)
	row := s.DB.QueryRowContext(ctx, `
		INSERT INTO distributed_locks (name, environment_id, owner_id, acquired_at, expires_at, version)
		VALUES ($1, $2, $3, $4, $5, 0)
		ON CONFLICT (name) DO UPDATE SET
			owner_id = EXCLUDED.owner_id,
			acquired_at = EXCLUDED.acquired_at,
			expires_at = EXCLUDED.expires_at,
			version = distributed_locks.version + 1
		WHERE distributed_locks.expires_at <= $4 OR distributed_locks.owner_id = $3
		RETURNING name, environment_id, owner_id, acquired_at, expires_at, version
	`, name, environmentID, ownerID, now, expiresAt)

	var lock DistributedLock
	if err := row.Scan(&lock.Name, &lock.EnvironmentID, &lock.OwnerID, &lock.AcquiredAt, &lock.ExpiresAt, &lock.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			// The WHERE clause excluded the row: it exists and is held by
			// another, live owner. Fetch it so the caller can report
			// HELD_BY_OTHER with the current owner.
			existing, ok, getErr := s.GetLock(ctx, name)
			if getErr != nil {
				return DistributedLock{}, getErr
			}
			if ok {
				return existing, nil
			}
			return DistributedLock{}, ErrNotFound
		}
		return DistributedLock{}, err
	}
	return lock, nil
}

func (s *PostgresStore) RenewLock(ctx context.Context, name, ownerID string, ttl time.Duration, now time.Time) (bool, error) {
	expiresAt := now.Add(ttl)
	res, err := s.DB.ExecContext(ctx, `
		UPDATE distributed_locks SET expires_at = $3, version = version + 1
		WHERE name = $1 AND owner_id = $2
	`, name, ownerID, expiresAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) ReleaseLock(ctx context.Context, name, ownerID string) (bool, error) {
	res, err := s.DB.ExecContext(ctx, `
		DELETE FROM distributed_locks WHERE name = $1 AND owner_id = $2
	`, name, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

func (s *PostgresStore) ReleaseLockWithCompletion(ctx context.Context, lockName, ownerID, environmentID, buildID string) (bool, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer func() { _ = tx.Rollback() }()

	var taskPK int64
	err = tx.QueryRowContext(ctx, `
		SELECT id FROM tasks WHERE environment_id = $1 AND task_id = $2
	`, environmentID, lockName).Scan(&taskPK)
	switch {
	case err == nil:
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, build_id, task_id, event_type)
			VALUES ($1, $2, $3, $4)
		`, buildID+"-"+lockName+"-completed", buildID, taskPK, EventTaskCompleted); err != nil {
			return false, fmt.Errorf("record completion event: %w", err)
		}
	case errors.Is(err, sql.ErrNoRows):
		// Task not registered; nothing to mark complete.
	default:
		return false, err
	}

	res, err := tx.ExecContext(ctx, `
		DELETE FROM distributed_locks WHERE name = $1 AND owner_id = $2
	`, lockName, ownerID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *PostgresStore) GetLock(ctx context.Context, name string) (DistributedLock, bool, error) {
	var lock DistributedLock
	row := s.DB.QueryRowContext(ctx, `
		SELECT name, environment_id, owner_id, acquired_at, expires_at, version
		FROM distributed_locks WHERE name = $1
	`, name)
	if err := row.Scan(&lock.Name, &lock.EnvironmentID, &lock.OwnerID, &lock.AcquiredAt, &lock.ExpiresAt, &lock.Version); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return DistributedLock{}, false, nil
		}
		return DistributedLock{}, false, err
	}
	return lock, true, nil
}

func (s *PostgresStore) ListLocks(ctx context.Context, environmentID string, includeExpired bool) ([]DistributedLock, error) {
	query := `
		SELECT name, environment_id, owner_id, acquired_at, expires_at, version
		FROM distributed_locks WHERE environment_id = $1
	`
	args := []any{environmentID}
	if !includeExpired {
		query += ` AND expires_at > $2`
		args = append(args, time.Now().UTC())
	}
	query += ` ORDER BY acquired_at DESC`

	rows, err := s.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []DistributedLock
	for rows.Next() {
		var lock DistributedLock
		if err := rows.Scan(&lock.Name, &lock.EnvironmentID, &lock.OwnerID, &lock.AcquiredAt, &lock.ExpiresAt, &lock.Version); err != nil {
			return nil, err
		}
		out = append(out, lock)
	}
	return out, rows.Err()
}

func (s *PostgresStore) CountActiveLocks(ctx context.Context, environmentID string, now time.Time) (int, error) {
	var n int
	err := s.DB.QueryRowContext(ctx, `
		SELECT count(*) FROM distributed_locks WHERE environment_id = $1 AND expires_at > $2
	`, environmentID, now).Scan(&n)
	return n, err
}

func (s *PostgresStore) CleanupExpiredLocks(ctx context.Context, environmentID string, now time.Time) (int, error) {
	query := `DELETE FROM distributed_locks WHERE expires_at <= $1`
	args := []any{now}
	if environmentID != "" {
		query += ` AND environment_id = $2`
		args = append(args, environmentID)
	}
	res, err := s.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return false
}

func checkRowsAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
