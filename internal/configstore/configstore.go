// Package configstore is the durable tabular store backing chat config
// bindings, the persistent snapshot cache, service bundles, and pending
// writes. It wraps a SQLite handle the same way the teacher wraps Postgres:
// open, ping, run migrations, hand out a narrow typed surface rather than a
// raw *sql.DB to the rest of the core.
package configstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/gillohner/pubky-bot-builder-telegram-sub000/internal/configstore/migrations"
	"github.com/gillohner/pubky-bot-builder-telegram-sub000/pkg/logger"
)

// Sentinel errors.
var (
	ErrNotFound = errors.New("configstore: record not found")
)

// PoolConfig tunes the underlying *sql.DB connection pool. SQLite is
// single-writer; a small pool avoids SQLITE_BUSY churn under concurrent
// readers while migrations and writes hold the one write lock briefly.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// DefaultPoolConfig matches the teacher's configurePool defaults, scaled
// down for a single-file SQLite database rather than a pooled Postgres
// cluster.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
	}
}

// Store wraps the migrated SQLite handle.
type Store struct {
	db  *sqlx.DB
	log *logger.Logger
}

// Open connects to dsn (a SQLite file path or "file::memory:?cache=shared"),
// applies the connection pool configuration, runs embedded migrations, and
// returns a ready Store.
func Open(ctx context.Context, dsn string, pool PoolConfig, log *logger.Logger) (*Store, error) {
	if log == nil {
		log = logger.NewDefault("configstore")
	}

	db, err := sqlx.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", dsn, err)
	}

	if _, err := db.ExecContext(ctx, `PRAGMA journal_mode=WAL;`); err != nil {
		log.WithField("dsn", dsn).Warn("could not enable WAL journal mode")
	}
	if _, err := db.ExecContext(ctx, `PRAGMA foreign_keys=ON;`); err != nil {
		log.WithField("dsn", dsn).Warn("could not enable foreign key enforcement")
	}

	if err := migrations.Apply(ctx, db.DB); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	return &Store{db: db, log: log}, nil
}

// DB exposes the underlying *sqlx.DB for sibling packages (bundlestore,
// approval) that need direct table access within this same database file.
func (s *Store) DB() *sqlx.DB {
	return s.db
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// ChatConfig is one row of chat_configs.
type ChatConfig struct {
	ChatID     string    `db:"chat_id"`
	ConfigID   string    `db:"config_id"`
	ConfigJSON string    `db:"config_json"`
	ConfigHash string    `db:"config_hash"`
	UpdatedAt  time.Time `db:"updated_at"`
}

// GetChatConfig returns the binding for chatID, or ErrNotFound if the chat
// has never been bound (callers should fall back to the default template).
func (s *Store) GetChatConfig(ctx context.Context, chatID string) (ChatConfig, error) {
	var cc ChatConfig
	err := s.db.GetContext(ctx, &cc, `SELECT * FROM chat_configs WHERE chat_id = ?`, chatID)
	if errors.Is(err, sql.ErrNoRows) {
		return ChatConfig{}, ErrNotFound
	}
	if err != nil {
		return ChatConfig{}, fmt.Errorf("get chat config %s: %w", chatID, err)
	}
	return cc, nil
}

// UpsertChatConfig binds chatID to configID/configJSON/configHash, replacing
// any prior binding.
func (s *Store) UpsertChatConfig(ctx context.Context, cc ChatConfig) error {
	cc.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO chat_configs (chat_id, config_id, config_json, config_hash, updated_at)
		VALUES (:chat_id, :config_id, :config_json, :config_hash, :updated_at)
		ON CONFLICT(chat_id) DO UPDATE SET
			config_id = excluded.config_id,
			config_json = excluded.config_json,
			config_hash = excluded.config_hash,
			updated_at = excluded.updated_at
	`, cc)
	if err != nil {
		return fmt.Errorf("upsert chat config %s: %w", cc.ChatID, err)
	}
	return nil
}

// SnapshotRecord is one row of snapshots_by_config.
type SnapshotRecord struct {
	ConfigHash    string    `db:"config_hash"`
	SnapshotJSON  string    `db:"snapshot_json"`
	BuiltAt       time.Time `db:"built_at"`
	IntegrityHash string    `db:"integrity_hash"`
}

// GetSnapshot returns the persisted snapshot cached for configHash.
func (s *Store) GetSnapshot(ctx context.Context, configHash string) (SnapshotRecord, error) {
	var rec SnapshotRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM snapshots_by_config WHERE config_hash = ?`, configHash)
	if errors.Is(err, sql.ErrNoRows) {
		return SnapshotRecord{}, ErrNotFound
	}
	if err != nil {
		return SnapshotRecord{}, fmt.Errorf("get snapshot %s: %w", configHash, err)
	}
	return rec, nil
}

// PutSnapshot stores (or replaces) the snapshot cached for rec.ConfigHash.
// Two builds racing to cache the same configHash are content-equivalent, so
// put-or-replace is safe without additional locking.
func (s *Store) PutSnapshot(ctx context.Context, rec SnapshotRecord) error {
	rec.BuiltAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO snapshots_by_config (config_hash, snapshot_json, built_at, integrity_hash)
		VALUES (:config_hash, :snapshot_json, :built_at, :integrity_hash)
		ON CONFLICT(config_hash) DO UPDATE SET
			snapshot_json = excluded.snapshot_json,
			built_at = excluded.built_at,
			integrity_hash = excluded.integrity_hash
	`, rec)
	if err != nil {
		return fmt.Errorf("put snapshot %s: %w", rec.ConfigHash, err)
	}
	return nil
}

// ReferencedBundleHashes scans every persisted snapshot's JSON body for
// "bundleHash" occurrences and returns the de-duplicated set. It satisfies
// bundlestore.SnapshotReferenceLister.
func (s *Store) ReferencedBundleHashes(ctx context.Context) (map[string]struct{}, error) {
	var blobs []string
	if err := s.db.SelectContext(ctx, &blobs, `SELECT snapshot_json FROM snapshots_by_config`); err != nil {
		return nil, fmt.Errorf("scan snapshots for referenced bundles: %w", err)
	}
	refs := make(map[string]struct{})
	for _, blob := range blobs {
		for _, hash := range extractBundleHashes(blob) {
			refs[hash] = struct{}{}
		}
	}
	return refs, nil
}
