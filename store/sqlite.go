package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/jonwraymond/refcache/access"
)

// SQLiteConfig holds the parameters for opening a durable backend.
type SQLiteConfig struct {
	// Path is the filesystem path to the SQLite database file. The
	// parent directory must exist; the file is created if absent.
	Path string

	// PoolSize is the number of connections in the pool. Defaults to
	// 4 if zero or negative. SQLite serializes writes regardless of
	// pool size; extra connections help concurrent readers.
	PoolSize int

	// Clock supplies the current time. Defaults to time.Now.
	Clock Clock
}

// SQLite is a durable backend. WAL mode plus single-statement upserts
// make it safe for multiple processes sharing the same database file:
// each write is one atomic INSERT OR REPLACE, and SQLite's own locking
// serializes writers across processes.
type SQLite struct {
	pool  *sqlitex.Pool
	clock Clock
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS entries (
	key        TEXT PRIMARY KEY,
	namespace  TEXT NOT NULL,
	value      TEXT NOT NULL,
	policy     TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	expires_at INTEGER,
	metadata   TEXT
);
CREATE INDEX IF NOT EXISTS entries_namespace ON entries(namespace);
`

// OpenSQLite opens or creates the database and prepares the schema.
// The caller must Close the backend when done.
func OpenSQLite(cfg SQLiteConfig) (*SQLite, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("store: sqlite Path is required")
	}
	poolSize := cfg.PoolSize
	if poolSize <= 0 {
		poolSize = 4
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize: poolSize,
		PrepareConn: func(conn *sqlite.Conn) error {
			// WAL mode: concurrent readers, single writer, and safe
			// sharing of the file between independent processes.
			pragmas := []string{
				"PRAGMA journal_mode=WAL",
				"PRAGMA synchronous=NORMAL",
				"PRAGMA busy_timeout=5000",
			}
			for _, pragma := range pragmas {
				if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
					return fmt.Errorf("store: %s: %w", pragma, err)
				}
			}
			if err := sqlitex.ExecuteScript(conn, sqliteSchema, nil); err != nil {
				return fmt.Errorf("store: creating schema: %w", err)
			}
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: opening %s: %w", cfg.Path, err)
	}

	return &SQLite{pool: pool, clock: clock}, nil
}

// Close closes all pooled connections.
func (s *SQLite) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("store: closing sqlite pool: %w", err)
	}
	return nil
}

// Get retrieves an entry. Expired rows are deleted on read.
func (s *SQLite) Get(ctx context.Context, key string) (*Entry, bool) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, false
	}
	defer s.pool.Put(conn)

	entry, expired, found := s.readRow(conn, key)
	if !found {
		return nil, false
	}
	if expired {
		// Read-time eviction. Guard on expires_at so a concurrent
		// overwrite with a fresh entry is not lost.
		_ = sqlitex.Execute(conn,
			"DELETE FROM entries WHERE key = ? AND expires_at IS NOT NULL AND expires_at <= ?",
			&sqlitex.ExecOptions{Args: []any{key, s.clock().UnixNano()}})
		return nil, false
	}
	return entry, true
}

func (s *SQLite) readRow(conn *sqlite.Conn, key string) (entry *Entry, expired bool, found bool) {
	err := sqlitex.Execute(conn,
		"SELECT namespace, value, policy, created_at, expires_at, metadata FROM entries WHERE key = ?",
		&sqlitex.ExecOptions{
			Args: []any{key},
			ResultFunc: func(stmt *sqlite.Stmt) error {
				found = true

				e := &Entry{
					Namespace: stmt.ColumnText(0),
					CreatedAt: time.Unix(0, stmt.ColumnInt64(3)),
				}
				if stmt.ColumnType(4) != sqlite.TypeNull {
					e.ExpiresAt = time.Unix(0, stmt.ColumnInt64(4))
				}
				if err := json.Unmarshal([]byte(stmt.ColumnText(1)), &e.Value); err != nil {
					return fmt.Errorf("store: decoding value: %w", err)
				}
				var policy access.Policy
				if err := json.Unmarshal([]byte(stmt.ColumnText(2)), &policy); err != nil {
					return fmt.Errorf("store: decoding policy: %w", err)
				}
				e.Policy = policy
				if meta := stmt.ColumnText(5); meta != "" {
					if err := json.Unmarshal([]byte(meta), &e.Metadata); err != nil {
						return fmt.Errorf("store: decoding metadata: %w", err)
					}
				}

				expired = e.Expired(s.clock())
				entry = e
				return nil
			},
		})
	if err != nil {
		return nil, false, false
	}
	return entry, expired, found
}

// Set stores an entry via an atomic upsert.
func (s *SQLite) Set(ctx context.Context, key string, entry *Entry) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if entry == nil {
		return ErrNilEntry
	}

	value, err := json.Marshal(entry.Value)
	if err != nil {
		return fmt.Errorf("store: encoding value: %w", err)
	}
	policy, err := json.Marshal(entry.Policy)
	if err != nil {
		return fmt.Errorf("store: encoding policy: %w", err)
	}
	var metadata any
	if len(entry.Metadata) > 0 {
		data, err := json.Marshal(entry.Metadata)
		if err != nil {
			return fmt.Errorf("store: encoding metadata: %w", err)
		}
		metadata = string(data)
	}
	var expiresAt any
	if !entry.ExpiresAt.IsZero() {
		expiresAt = entry.ExpiresAt.UnixNano()
	}

	conn, err := s.pool.Take(ctx)
	if err != nil {
		return fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT OR REPLACE INTO entries
			(key, namespace, value, policy, created_at, expires_at, metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			key,
			entry.Namespace,
			string(value),
			string(policy),
			entry.CreatedAt.UnixNano(),
			expiresAt,
			metadata,
		}})
	if err != nil {
		return fmt.Errorf("store: upsert %q: %w", key, err)
	}
	return nil
}

// Delete removes an entry. Returns true iff a row was removed.
func (s *SQLite) Delete(ctx context.Context, key string) (bool, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false, fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn, "DELETE FROM entries WHERE key = ?",
		&sqlitex.ExecOptions{Args: []any{key}})
	if err != nil {
		return false, fmt.Errorf("store: delete %q: %w", key, err)
	}
	return conn.Changes() > 0, nil
}

// Exists reports whether a live entry is present.
func (s *SQLite) Exists(ctx context.Context, key string) bool {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return false
	}
	defer s.pool.Put(conn)

	exists := false
	err = sqlitex.Execute(conn,
		"SELECT 1 FROM entries WHERE key = ? AND (expires_at IS NULL OR expires_at > ?)",
		&sqlitex.ExecOptions{
			Args: []any{key, s.clock().UnixNano()},
			ResultFunc: func(_ *sqlite.Stmt) error {
				exists = true
				return nil
			},
		})
	if err != nil {
		return false
	}
	return exists
}

// Keys lists live keys, filtered by namespace ("" means all).
func (s *SQLite) Keys(ctx context.Context, namespace string) ([]string, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	query := "SELECT key FROM entries WHERE (expires_at IS NULL OR expires_at > ?)"
	args := []any{s.clock().UnixNano()}
	if namespace != "" {
		query += " AND namespace = ?"
		args = append(args, namespace)
	}

	var keys []string
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: args,
		ResultFunc: func(stmt *sqlite.Stmt) error {
			keys = append(keys, stmt.ColumnText(0))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("store: listing keys: %w", err)
	}
	return keys, nil
}

// Clear removes all entries in the namespace ("" clears everything).
func (s *SQLite) Clear(ctx context.Context, namespace string) (int, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return 0, fmt.Errorf("store: take connection: %w", err)
	}
	defer s.pool.Put(conn)

	query := "DELETE FROM entries"
	var args []any
	if namespace != "" {
		query += " WHERE namespace = ?"
		args = append(args, namespace)
	}

	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{Args: args})
	if err != nil {
		return 0, fmt.Errorf("store: clearing: %w", err)
	}
	return conn.Changes(), nil
}

// Ensure SQLite implements Backend
var _ Backend = (*SQLite)(nil)
