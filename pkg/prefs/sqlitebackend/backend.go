// Package sqlitebackend persists column preferences in SQLite. One row holds
// the JSON snapshot of one prefs.Ref.
package sqlitebackend

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"
	"github.com/goliatone/go-tablestate/pkg/prefs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

var pragmas = []string{
	"PRAGMA foreign_keys = ON",
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 5000",
	"PRAGMA synchronous = NORMAL",
}

// Backend implements prefs.Backend on a *sql.DB.
type Backend struct {
	db     *sql.DB
	owned  bool
	now    func() time.Time
	logger logr.Logger
}

// Option configures a Backend.
type Option func(*Backend)

// WithLogger sets the logger.
func WithLogger(logger logr.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

// WithClock overrides the time source used for updated_at.
func WithClock(now func() time.Time) Option {
	return func(b *Backend) {
		if now != nil {
			b.now = now
		}
	}
}

// Open opens (creating if needed) the database at path, applies pragmas and
// migrations, and returns a Backend that owns the connection.
func Open(ctx context.Context, path string, opts ...Option) (*Backend, error) {
	if path == "" {
		return nil, fmt.Errorf("sqlitebackend: path is required")
	}
	if path != MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("sqlitebackend: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: open database: %w", err)
	}
	// SQLite benefits from a single writer, and :memory: needs one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlitebackend: %s: %w", pragma, err)
		}
	}

	backend, err := New(ctx, db, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	backend.owned = true
	return backend, nil
}

// New wraps an existing connection and applies migrations. The caller keeps
// ownership of db.
func New(ctx context.Context, db *sql.DB, opts ...Option) (*Backend, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlitebackend: db is required")
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("sqlitebackend: ping: %w", err)
	}
	if err := RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("sqlitebackend: migrate: %w", err)
	}

	b := &Backend{db: db, now: time.Now, logger: logr.Discard()}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b, nil
}

// Load implements prefs.Backend.
func (b *Backend) Load(ctx context.Context, ref prefs.Ref) (prefs.Preferences, prefs.Meta, bool, error) {
	key, err := ref.Identifier()
	if err != nil {
		return prefs.Preferences{}, prefs.Meta{}, false, err
	}

	var (
		payload   string
		extra     sql.NullString
		updatedAt string
		meta      prefs.Meta
	)
	row := b.db.QueryRowContext(ctx,
		`SELECT payload, snapshot_id, etag, extra, updated_at FROM column_preferences WHERE identifier = ?`, key)
	if err := row.Scan(&payload, &meta.SnapshotID, &meta.ETag, &extra, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return prefs.Preferences{}, prefs.Meta{}, false, nil
		}
		return prefs.Preferences{}, prefs.Meta{}, false, fmt.Errorf("sqlitebackend: load %s: %w", key, err)
	}

	var snapshot prefs.Preferences
	if err := json.Unmarshal([]byte(payload), &snapshot); err != nil {
		return prefs.Preferences{}, prefs.Meta{}, false, fmt.Errorf("sqlitebackend: decode %s: %w", key, err)
	}
	if extra.Valid && extra.String != "" {
		if err := json.Unmarshal([]byte(extra.String), &meta.Extra); err != nil {
			b.logger.Error(err, "decode snapshot extra metadata", "identifier", key)
		}
	}
	if parsed, err := time.Parse(time.RFC3339Nano, updatedAt); err == nil {
		meta.UpdatedAt = parsed
	} else {
		b.logger.V(1).Info("unparseable updated_at", "identifier", key, "value", updatedAt)
	}
	return snapshot.Clone(), meta, true, nil
}

// Save implements prefs.Backend. The snapshot id is kept across saves; every
// save stamps a new ETag.
func (b *Backend) Save(ctx context.Context, ref prefs.Ref, snapshot prefs.Preferences, meta prefs.Meta) (prefs.Meta, error) {
	key, err := ref.Identifier()
	if err != nil {
		return prefs.Meta{}, err
	}

	payload, err := json.Marshal(snapshot.Clone())
	if err != nil {
		return prefs.Meta{}, fmt.Errorf("sqlitebackend: encode %s: %w", key, err)
	}
	var extra sql.NullString
	if len(meta.Extra) > 0 {
		raw, err := json.Marshal(meta.Extra)
		if err != nil {
			return prefs.Meta{}, fmt.Errorf("sqlitebackend: encode extra %s: %w", key, err)
		}
		extra = sql.NullString{String: string(raw), Valid: true}
	}

	saved := meta
	if saved.SnapshotID == "" {
		saved.SnapshotID = uuid.NewString()
	}
	saved.ETag = uuid.NewString()
	saved.UpdatedAt = b.now().UTC()

	_, err = b.db.ExecContext(ctx, `
INSERT INTO column_preferences (identifier, table_id, scope, payload, snapshot_id, etag, extra, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(identifier) DO UPDATE SET
    payload = excluded.payload,
    snapshot_id = excluded.snapshot_id,
    etag = excluded.etag,
    extra = excluded.extra,
    updated_at = excluded.updated_at`,
		key, ref.Table, ref.Scope.Name, string(payload), saved.SnapshotID, saved.ETag, extra,
		saved.UpdatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return prefs.Meta{}, fmt.Errorf("sqlitebackend: save %s: %w", key, err)
	}
	b.logger.V(1).Info("saved column preferences", "identifier", key, "etag", saved.ETag)
	return saved, nil
}

// Delete implements prefs.Backend.
func (b *Backend) Delete(ctx context.Context, ref prefs.Ref) error {
	key, err := ref.Identifier()
	if err != nil {
		return err
	}
	if _, err := b.db.ExecContext(ctx, `DELETE FROM column_preferences WHERE identifier = ?`, key); err != nil {
		return fmt.Errorf("sqlitebackend: delete %s: %w", key, err)
	}
	return nil
}

// Tables lists the distinct table ids that have stored preferences.
func (b *Backend) Tables(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `SELECT DISTINCT table_id FROM column_preferences ORDER BY table_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: list tables: %w", err)
	}
	defer rows.Close()

	var tables []string
	for rows.Next() {
		var table string
		if err := rows.Scan(&table); err != nil {
			return nil, fmt.Errorf("sqlitebackend: scan table: %w", err)
		}
		tables = append(tables, table)
	}
	return tables, rows.Err()
}

// Close closes the connection when the Backend opened it.
func (b *Backend) Close() error {
	if !b.owned {
		return nil
	}
	return b.db.Close()
}

var _ prefs.Backend = (*Backend)(nil)
