package bundlestore

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sqlxDB := sqlx.NewDb(db, "sqlmock")
	return New(sqlxDB, nil), mock
}

func TestPutRejectsEmptyHash(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.Put(context.Background(), "", "code", "entry", false)
	require.ErrorIs(t, err, ErrStorageFault)
}

func TestPutInsertsOnConflictDoNothing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO service_bundles").
		WithArgs("hash1", "entry.js", "console.log(1)", false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Put(context.Background(), "hash1", "console.log(1)", "entry.js", false)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReturnsNotFoundWhenRowMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT bundle_hash, data_url, code, has_npm, created_at").
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"bundle_hash", "data_url", "code", "has_npm", "created_at"}))

	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

// fakeLister is an in-memory SnapshotReferenceLister for exercising GCOrphans
// without a real snapshot store.
type fakeLister struct {
	referenced map[string]struct{}
}

func (f fakeLister) ReferencedBundleHashes(ctx context.Context) (map[string]struct{}, error) {
	return f.referenced, nil
}

func TestGCOrphansDeletesOnlyUnreferencedBundles(t *testing.T) {
	s, mock := newMockStore(t)

	createdAt := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"bundle_hash", "data_url", "code", "has_npm", "created_at"}).
		AddRow("kept", "entry.js", "code-a", false, createdAt).
		AddRow("orphan", "entry.js", "code-b", false, createdAt)
	mock.ExpectQuery("SELECT bundle_hash, data_url, code, has_npm, created_at FROM service_bundles").
		WillReturnRows(rows)
	mock.ExpectExec("DELETE FROM service_bundles").
		WithArgs("orphan").
		WillReturnResult(sqlmock.NewResult(0, 1))

	result, err := s.GCOrphans(context.Background(), fakeLister{referenced: map[string]struct{}{"kept": {}}})
	require.NoError(t, err)
	require.Equal(t, []string{"kept"}, result.Kept)
	require.Equal(t, []string{"orphan"}, result.Deleted)
	require.NoError(t, mock.ExpectationsWereMet())
}
