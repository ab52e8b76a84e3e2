package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
)

// KVStore implements kv.Store over the kv_entries table.
type KVStore struct {
	db *DB
}

var _ kv.Store = (*KVStore)(nil)

// NewKVStore creates a KVStore on an opened database.
func NewKVStore(db *DB) *KVStore {
	return &KVStore{db: db}
}

// Get implements kv.Store.
func (s *KVStore) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM kv_entries WHERE key = ?", key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperrors.Wrap(apperrors.ErrStorage, "get "+key, err)
	}
	return value, true, nil
}

// Set implements kv.Store.
func (s *KVStore) Set(ctx context.Context, key, value string) error {
	query := `INSERT INTO kv_entries (key, value, updated_at) VALUES (?, ?, ?)
			  ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`
	if _, err := s.db.ExecContext(ctx, query, key, value, time.Now().UnixMilli()); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "set "+key, err)
	}
	return nil
}

// Remove implements kv.Store.
func (s *KVStore) Remove(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, "DELETE FROM kv_entries WHERE key = ?", key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "remove "+key, err)
	}
	return nil
}

// ListKeys implements kv.Store.
func (s *KVStore) ListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT key FROM kv_entries ORDER BY key")
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list keys", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrStorage, "scan key", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrStorage, "list keys", err)
	}
	return keys, nil
}

// RemoveMany implements kv.Store. The batch is removed in one transaction.
func (s *KVStore) RemoveMany(ctx context.Context, keys []string) error {
	if len(keys) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "begin remove batch", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, "DELETE FROM kv_entries WHERE key = ?")
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "prepare remove batch", err)
	}
	defer stmt.Close()

	for _, key := range keys {
		if _, err := stmt.ExecContext(ctx, key); err != nil {
			return apperrors.Wrap(apperrors.ErrStorage, "remove "+key, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "commit remove batch", err)
	}
	return nil
}
