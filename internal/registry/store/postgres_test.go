package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

var errMemberInsertFailed = errors.New("member insert failed")

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStore(db), mock
}

func TestPostgresStore_CreateOrganization(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO organizations`).
		WithArgs("org-1", "Acme", "acme", "").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "description", "created_at"}).
			AddRow("org-1", "Acme", "acme", "", now))
	mock.ExpectExec(`INSERT INTO organization_members`).
		WithArgs("org-1-owner", "org-1", "user-1", RoleOwner).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	org, err := s.CreateOrganization(context.Background(), Organization{ID: "org-1", Name: "Acme", Slug: "acme"}, "user-1")
	require.NoError(t, err)
	require.Equal(t, "org-1", org.ID)
	require.Equal(t, now, org.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CreateOrganization_RollsBackOnMemberInsertError(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO organizations`).
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "description", "created_at"}).
			AddRow("org-1", "Acme", "acme", "", now))
	mock.ExpectExec(`INSERT INTO organization_members`).
		WillReturnError(errMemberInsertFailed)
	mock.ExpectRollback()

	_, err := s.CreateOrganization(context.Background(), Organization{ID: "org-1", Name: "Acme", Slug: "acme"}, "user-1")
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrganization_NotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT id, name, slug, description, created_at FROM organizations`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "description", "created_at"}))

	_, err := s.GetOrganization(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetOrganization_Found(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery(`SELECT id, name, slug, description, created_at FROM organizations`).
		WithArgs("org-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "slug", "description", "created_at"}).
			AddRow("org-1", "Acme", "acme", "desc", now))

	org, err := s.GetOrganization(context.Background(), "org-1")
	require.NoError(t, err)
	require.Equal(t, "Acme", org.Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireLock_HeldByOther(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	expiresAt := now.Add(time.Hour)

	mock.ExpectQuery(`INSERT INTO distributed_locks`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "environment_id", "owner_id", "acquired_at", "expires_at", "version"}))
	mock.ExpectQuery(`SELECT name, environment_id, owner_id, acquired_at, expires_at, version\s+FROM distributed_locks WHERE name = \$1`).
		WithArgs("my-lock").
		WillReturnRows(sqlmock.NewRows([]string{"name", "environment_id", "owner_id", "acquired_at", "expires_at", "version"}).
			AddRow("my-lock", "env-1", "other-owner", now, expiresAt, int64(1)))

	lock, err := s.AcquireLock(context.Background(), "my-lock", "me", "env-1", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, "other-owner", lock.OwnerID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_AcquireLock_Acquired(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	expiresAt := now.Add(time.Minute)

	mock.ExpectQuery(`INSERT INTO distributed_locks`).
		WillReturnRows(sqlmock.NewRows([]string{"name", "environment_id", "owner_id", "acquired_at", "expires_at", "version"}).
			AddRow("my-lock", "env-1", "me", now, expiresAt, int64(0)))

	lock, err := s.AcquireLock(context.Background(), "my-lock", "me", "env-1", time.Minute, now)
	require.NoError(t, err)
	require.Equal(t, "me", lock.OwnerID)
	require.Equal(t, int64(0), lock.Version)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CleanupExpiredLocks_Global(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`DELETE FROM distributed_locks WHERE expires_at <= \$1$`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.CleanupExpiredLocks(context.Background(), "", now)
	require.NoError(t, err)
	require.Equal(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_CleanupExpiredLocks_ScopedToEnvironment(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec(`DELETE FROM distributed_locks WHERE expires_at <= \$1 AND environment_id = \$2`).
		WithArgs(now, "env-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	n, err := s.CleanupExpiredLocks(context.Background(), "env-1", now)
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseLock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM distributed_locks WHERE name = \$1 AND owner_id = \$2`).
		WithArgs("my-lock", "me").
		WillReturnResult(sqlmock.NewResult(0, 1))

	released, err := s.ReleaseLock(context.Background(), "my-lock", "me")
	require.NoError(t, err)
	require.True(t, released)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ReleaseLock_WrongOwnerReleasesNothing(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`DELETE FROM distributed_locks WHERE name = \$1 AND owner_id = \$2`).
		WithArgs("my-lock", "not-the-owner").
		WillReturnResult(sqlmock.NewResult(0, 0))

	released, err := s.ReleaseLock(context.Background(), "my-lock", "not-the-owner")
	require.NoError(t, err)
	require.False(t, released)
	require.NoError(t, mock.ExpectationsWereMet())
}
