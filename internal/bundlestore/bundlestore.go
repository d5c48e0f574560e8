// Package bundlestore implements content-addressed persistence of service
// bundles. A bundle is an immutable blob of service code plus an opaque
// entry descriptor the sandbox host can launch directly; bundles are keyed
// by a content hash of their code so that two services compiled from
// identical source always collapse onto one stored row.
//
// The store is a specialization of the content-addressed-storage shape used
// elsewhere in this stack (store/retrieve/exists/delete by hash, optional
// metadata) to service code blobs specifically.
package bundlestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

// Sentinel errors, matching the rest of the stack's errors.Is-friendly style.
var (
	ErrNotFound     = errors.New("bundle not found")
	ErrStorageFault = errors.New("bundle storage fault")
)

// Bundle is an immutable, content-addressed service artifact.
type Bundle struct {
	BundleHash string    `db:"bundle_hash" json:"bundleHash"`
	Entry      string    `db:"data_url" json:"entry"`
	Code       string    `db:"code" json:"code"`
	HasNpm     bool      `db:"has_npm" json:"hasNpm"`
	CreatedAt  time.Time `db:"created_at" json:"createdAt"`
}

// Store is a content-addressed bundle store backed by the config store's
// SQLite database.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

// New constructs a Store over an already-migrated database handle.
func New(db *sqlx.DB, log *logger.Logger) *Store {
	if log == nil {
		log = logger.NewDefault("bundlestore")
	}
	return &Store{db: db, log: log}
}

// Put stores code+entry+hasNpm under bundleHash. Put is idempotent: if a row
// already exists for bundleHash, the call is a no-op and does not verify
// that the supplied code matches (callers are expected to have derived
// bundleHash from code themselves; see the bundle content-addressing
// invariant in the snapshot builder).
func (s *Store) Put(ctx context.Context, bundleHash, code, entry string, hasNpm bool) error {
	if bundleHash == "" {
		return fmt.Errorf("%w: empty bundle hash", ErrStorageFault)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_bundles (bundle_hash, data_url, code, has_npm, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(bundle_hash) DO NOTHING
	`, bundleHash, entry, code, hasNpm, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("%w: put %s: %v", ErrStorageFault, bundleHash, err)
	}
	return nil
}

// Get retrieves a bundle by hash. A never-put hash returns ErrNotFound, not
// a storage fault.
func (s *Store) Get(ctx context.Context, bundleHash string) (Bundle, error) {
	var b Bundle
	err := s.db.GetContext(ctx, &b, `
		SELECT bundle_hash, data_url, code, has_npm, created_at
		FROM service_bundles WHERE bundle_hash = ?
	`, bundleHash)
	if errors.Is(err, sql.ErrNoRows) {
		return Bundle{}, ErrNotFound
	}
	if err != nil {
		return Bundle{}, fmt.Errorf("%w: get %s: %v", ErrStorageFault, bundleHash, err)
	}
	return b, nil
}

// ListAll returns every stored bundle in no defined order; callers needing
// a stable order should sort.
func (s *Store) ListAll(ctx context.Context) ([]Bundle, error) {
	var bundles []Bundle
	err := s.db.SelectContext(ctx, &bundles, `
		SELECT bundle_hash, data_url, code, has_npm, created_at FROM service_bundles
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: list: %v", ErrStorageFault, err)
	}
	return bundles, nil
}

// SnapshotReferenceLister is the narrow interface the garbage collector uses
// to discover which bundle hashes are still referenced. The config store
// satisfies this by scanning the persisted snapshot cache.
type SnapshotReferenceLister interface {
	ReferencedBundleHashes(ctx context.Context) (map[string]struct{}, error)
}

// GCResult reports the outcome of a garbage-collection sweep.
type GCResult struct {
	Deleted []string
	Kept    []string
}

// ListReferenced scans every persisted routing snapshot and returns the set
// of bundle hashes at least one snapshot still points to.
func (s *Store) ListReferenced(ctx context.Context, lister SnapshotReferenceLister) (map[string]struct{}, error) {
	return lister.ReferencedBundleHashes(ctx)
}

// Delete removes a bundle by hash. Deleting a still-referenced hash is
// permitted by the store (the caller, typically gcOrphans, is responsible
// for checking references first); the snapshot builder is expected to
// recreate any bundle that turns out to be missing on next access.
func (s *Store) Delete(ctx context.Context, bundleHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM service_bundles WHERE bundle_hash = ?`, bundleHash)
	if err != nil {
		return fmt.Errorf("%w: delete %s: %v", ErrStorageFault, bundleHash, err)
	}
	return nil
}

// GCOrphans deletes every bundle not referenced by any persisted snapshot.
func (s *Store) GCOrphans(ctx context.Context, lister SnapshotReferenceLister) (GCResult, error) {
	referenced, err := lister.ReferencedBundleHashes(ctx)
	if err != nil {
		return GCResult{}, fmt.Errorf("list referenced bundles: %w", err)
	}
	all, err := s.ListAll(ctx)
	if err != nil {
		return GCResult{}, err
	}

	var result GCResult
	for _, b := range all {
		if _, ok := referenced[b.BundleHash]; ok {
			result.Kept = append(result.Kept, b.BundleHash)
			continue
		}
		if err := s.Delete(ctx, b.BundleHash); err != nil {
			return result, err
		}
		result.Deleted = append(result.Deleted, b.BundleHash)
	}
	s.log.WithField("deleted", len(result.Deleted)).
		WithField("kept", len(result.Kept)).
		Info("bundle store garbage collection complete")
	return result, nil
}

// Stats summarizes the bundle store for the admin status surface.
type Stats struct {
	Count      int   `json:"count"`
	TotalBytes int64 `json:"totalBytes"`
}

// Metrics computes aggregate bundle-store statistics.
func (s *Store) Metrics(ctx context.Context) (Stats, error) {
	var stats Stats
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(LENGTH(code)), 0) FROM service_bundles
	`).Scan(&stats.Count, &stats.TotalBytes)
	if err != nil {
		return Stats{}, fmt.Errorf("%w: metrics: %v", ErrStorageFault, err)
	}
	return stats, nil
}
