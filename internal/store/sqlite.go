package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/ashureev/sparkpath/internal/shared"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements KV using a single SQLite table of JSON documents.
type SQLiteStore struct {
	db    *sql.DB
	retry shared.RetryPolicy
}

// NewSQLite opens (or creates) the database at dbPath.
func NewSQLite(dbPath string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create database directory: %w", err)
	}

	// Pragmas in the DSN run on every pooled connection.
	dsn := dbPath + "?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=busy_timeout(5000)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &SQLiteStore{db: db, retry: shared.DefaultRetryPolicy}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS items (
		tbl TEXT NOT NULL,
		pk TEXT NOT NULL,
		sk INTEGER NOT NULL DEFAULT 0,
		user_id TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (tbl, pk, sk)
	);
	CREATE INDEX IF NOT EXISTS idx_items_user ON items(tbl, user_id);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// Ping verifies database connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}

// Get decodes the item at key into out.
func (s *SQLiteStore) Get(ctx context.Context, table Table, key Key, out any) (bool, error) {
	var body string
	err := s.db.QueryRowContext(ctx,
		`SELECT body FROM items WHERE tbl = ? AND pk = ? AND sk = ?`,
		string(table), key.Partition, key.Sort,
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get %s/%s: %w", table, key.Partition, err)
	}
	if err := json.Unmarshal([]byte(body), out); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", table, key.Partition, err)
	}
	return true, nil
}

// Put writes an item, replacing any existing item with the same key.
func (s *SQLiteStore) Put(ctx context.Context, table Table, item Item) error {
	body, err := json.Marshal(item.Body)
	if err != nil {
		return fmt.Errorf("encode %s item: %w", table, err)
	}
	now := time.Now().Unix()
	query := `
	INSERT INTO items (tbl, pk, sk, user_id, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tbl, pk, sk) DO UPDATE SET
		user_id = excluded.user_id,
		body = excluded.body,
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "put", func() error {
		_, err := s.db.ExecContext(ctx, query,
			string(table), item.Key.Partition, item.Key.Sort, item.UserID, string(body), now, now)
		if err != nil {
			return fmt.Errorf("put %s/%s: %w", table, item.Key.Partition, err)
		}
		return nil
	})
}

// Update merges fields into the stored document as a JSON merge patch.
func (s *SQLiteStore) Update(ctx context.Context, table Table, key Key, userID string, fields map[string]any) error {
	patch, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("encode %s patch: %w", table, err)
	}
	now := time.Now().Unix()
	query := `
	INSERT INTO items (tbl, pk, sk, user_id, body, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(tbl, pk, sk) DO UPDATE SET
		user_id = COALESCE(NULLIF(excluded.user_id, ''), items.user_id),
		body = json_patch(items.body, excluded.body),
		updated_at = excluded.updated_at`

	return shared.RetryOnConflict(ctx, s.retry, "update", func() error {
		_, err := s.db.ExecContext(ctx, query,
			string(table), key.Partition, key.Sort, userID, string(patch), now, now)
		if err != nil {
			return fmt.Errorf("update %s/%s: %w", table, key.Partition, err)
		}
		return nil
	})
}

// Query returns items matching value on the given index.
// The primary index returns one partition ordered by sort key ascending.
func (s *SQLiteStore) Query(ctx context.Context, table Table, index Index, value string) ([]json.RawMessage, error) {
	var query string
	switch index {
	case IndexPrimary:
		query = `SELECT body FROM items WHERE tbl = ? AND pk = ? ORDER BY sk ASC`
	case IndexUserID:
		query = `SELECT body FROM items WHERE tbl = ? AND user_id = ? ORDER BY created_at ASC, pk ASC, sk ASC`
	default:
		return nil, fmt.Errorf("query %s: unknown index %q", table, index)
	}
	return s.collect(ctx, query, string(table), value)
}

// Scan returns every item in a table.
func (s *SQLiteStore) Scan(ctx context.Context, table Table) ([]json.RawMessage, error) {
	return s.collect(ctx, `SELECT body FROM items WHERE tbl = ? ORDER BY pk ASC, sk ASC`, string(table))
}

func (s *SQLiteStore) collect(ctx context.Context, query string, args ...any) ([]json.RawMessage, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close item rows", "error", closeErr)
		}
	}()

	var out []json.RawMessage
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		out = append(out, json.RawMessage(body))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate items: %w", err)
	}
	return out, nil
}
