// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Table names a logical document collection.
type Table string

// Tables used by the application.
const (
	TableUsers       Table = "users"
	TableAssessments Table = "assessments"
	TableCourses     Table = "courses"
	TableProgress    Table = "user_progress"
	TableChatHistory Table = "chat_history"
	TableStories     Table = "success_stories"
)

// Index selects the attribute a Query matches on.
type Index string

const (
	// IndexPrimary matches the partition key and orders by sort key.
	IndexPrimary Index = ""
	// IndexUserID matches the owning user of each item.
	IndexUserID Index = "userId-index"
)

// Key addresses one item. Sort is zero for tables without a sort key.
type Key struct {
	Partition string
	Sort      int64
}

// Item is a document together with its addressing attributes.
type Item struct {
	Key    Key
	UserID string
	Body   any
}

// ErrNotFound is returned by typed lookups when no item exists.
var ErrNotFound = errors.New("store: item not found")

// KV is a key-value document store with get, put, partial update,
// query-by-index and scan operations.
type KV interface {
	// Get decodes the item at key into out and reports whether it existed.
	Get(ctx context.Context, table Table, key Key, out any) (bool, error)

	// Put writes an item, replacing any existing item with the same key.
	Put(ctx context.Context, table Table, item Item) error

	// Update merges fields into the item at key, creating it if absent.
	// Applying the same update twice leaves the item unchanged.
	Update(ctx context.Context, table Table, key Key, userID string, fields map[string]any) error

	// Query returns items whose index attribute equals value.
	Query(ctx context.Context, table Table, index Index, value string) ([]json.RawMessage, error)

	// Scan returns every item in a table.
	Scan(ctx context.Context, table Table) ([]json.RawMessage, error)

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}

func decodeAll[T any](raws []json.RawMessage) ([]T, error) {
	out := make([]T, 0, len(raws))
	for _, raw := range raws {
		var v T
		if err := json.Unmarshal(raw, &v); err != nil {
			return nil, fmt.Errorf("decode item: %w", err)
		}
		out = append(out, v)
	}
	return out, nil
}
