package kv

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned by GetInto when the key is missing or expired.
var ErrNotFound = errors.New("kv: key not found")

// StoreOptions tune a single Store call.
type StoreOptions struct {
	TTL time.Duration // 0 = no expiry
}

// Bucket is a named namespace of JSON values in the kv_store table.
type Bucket struct {
	db   *sql.DB
	name string
	now  func() time.Time
}

// NewBucket creates a bucket view over db.
func NewBucket(db *sql.DB, name string) *Bucket {
	return &Bucket{
		db:   db,
		name: name,
		now:  time.Now,
	}
}

// Name returns the bucket name.
func (b *Bucket) Name() string {
	return b.name
}

// Store saves a value with the given key.
func (b *Bucket) Store(ctx context.Context, key string, value any, opts *StoreOptions) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	now := b.now().UTC()

	var expiresAt *int64
	if opts != nil && opts.TTL > 0 {
		exp := now.Add(opts.TTL).Unix()
		expiresAt = &exp
	}

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO kv_store (bucket, key, value, expires_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(bucket, key) DO UPDATE SET
			value = excluded.value,
			expires_at = excluded.expires_at,
			updated_at = excluded.updated_at
	`, b.name, key, string(data), expiresAt, now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to store value: %w", err)
	}

	return nil
}

// raw returns the stored JSON for key, deleting it when expired.
func (b *Bucket) raw(ctx context.Context, key string) ([]byte, error) {
	var valueStr string
	var expiresAt sql.NullInt64

	err := b.db.QueryRowContext(ctx, `
		SELECT value, expires_at FROM kv_store
		WHERE bucket = ? AND key = ?
	`, b.name, key).Scan(&valueStr, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get value: %w", err)
	}

	if expiresAt.Valid && b.now().UTC().Unix() >= expiresAt.Int64 {
		_, _ = b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE bucket = ? AND key = ?`, b.name, key)
		return nil, ErrNotFound
	}

	return []byte(valueStr), nil
}

// Get retrieves a value by key. Missing and expired keys return (nil, nil).
func (b *Bucket) Get(ctx context.Context, key string) (any, error) {
	data, err := b.raw(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var value any
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return value, nil
}

// GetInto decodes the value for key into target, or returns ErrNotFound.
func (b *Bucket) GetInto(ctx context.Context, key string, target any) error {
	data, err := b.raw(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("failed to unmarshal value: %w", err)
	}
	return nil
}

// Exists returns true if the key exists and hasn't expired.
func (b *Bucket) Exists(ctx context.Context, key string) (bool, error) {
	_, err := b.raw(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Delete removes a key from the bucket.
func (b *Bucket) Delete(ctx context.Context, key string) (bool, error) {
	result, err := b.db.ExecContext(ctx, `
		DELETE FROM kv_store WHERE bucket = ? AND key = ?
	`, b.name, key)
	if err != nil {
		return false, fmt.Errorf("failed to delete key: %w", err)
	}

	affected, _ := result.RowsAffected()
	return affected > 0, nil
}

// Keys returns all non-expired keys in the bucket, sorted.
func (b *Bucket) Keys(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT key FROM kv_store
		WHERE bucket = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY key
	`, b.name, b.now().UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("failed to scan key: %w", err)
		}
		keys = append(keys, key)
	}

	return keys, rows.Err()
}

// Clear removes all keys from the bucket.
func (b *Bucket) Clear(ctx context.Context) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM kv_store WHERE bucket = ?`, b.name)
	if err != nil {
		return fmt.Errorf("failed to clear bucket: %w", err)
	}
	return nil
}

// CleanupExpired removes all expired entries from the database.
func CleanupExpired(ctx context.Context, db *sql.DB) (int64, error) {
	result, err := db.ExecContext(ctx, `
		DELETE FROM kv_store WHERE expires_at IS NOT NULL AND expires_at <= ?
	`, time.Now().UTC().Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup expired entries: %w", err)
	}

	return result.RowsAffected()
}
