package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// KVSet stores value (JSON-encoded) under key, overwriting any existing
// entry.
func KVSet(ctx context.Context, tx *sql.Tx, key string, value any) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("store: kv marshal %q: %w", key, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO keyValueStore (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, string(encoded))
	if err != nil {
		return fmt.Errorf("store: kv set %q: %w", key, err)
	}
	return nil
}

// KVGet decodes the JSON value stored under key into out. Returns
// sql.ErrNoRows if key is absent.
func KVGet(ctx context.Context, db *sql.DB, key string, out any) error {
	var raw string
	if err := db.QueryRowContext(ctx, `SELECT value FROM keyValueStore WHERE key = ?`, key).Scan(&raw); err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		return fmt.Errorf("store: kv unmarshal %q: %w", key, err)
	}
	return nil
}

// KVDel removes key, no-op if absent.
func KVDel(ctx context.Context, tx *sql.Tx, key string) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM keyValueStore WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("store: kv del %q: %w", key, err)
	}
	return nil
}

// KVGetPrefix returns every key (and its still-encoded JSON value) whose
// name starts with prefix. An empty prefix returns every key. The query
// reads rows in key order, but the result is a map, so the caller receives
// no ordering.
func KVGetPrefix(ctx context.Context, db *sql.DB, prefix string) (map[string]json.RawMessage, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT key, value FROM keyValueStore WHERE key LIKE ? || '%' ORDER BY key ASC`, prefix)
	if err != nil {
		return nil, fmt.Errorf("store: kv get_prefix %q: %w", prefix, err)
	}
	defer rows.Close()

	out := make(map[string]json.RawMessage)
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("store: kv scan: %w", err)
		}
		out[key] = json.RawMessage(value)
	}
	return out, rows.Err()
}

// KVGetAll returns every key/value pair as an unordered map.
func KVGetAll(ctx context.Context, db *sql.DB) (map[string]json.RawMessage, error) {
	return KVGetPrefix(ctx, db, "")
}

// KVGetJSON is a typed convenience wrapper over KVGet for a generic
// destination type.
func KVGetJSON[T any](ctx context.Context, db *sql.DB, key string) (T, error) {
	var out T
	err := KVGet(ctx, db, key, &out)
	return out, err
}

// KVSetJSON is the typed counterpart to KVGetJSON.
func KVSetJSON[T any](ctx context.Context, tx *sql.Tx, key string, value T) error {
	return KVSet(ctx, tx, key, value)
}
