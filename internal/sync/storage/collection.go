package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
)

// Collection is one JSON document stored under a single KV key.
// Every access holds the key's mutex, so read/modify/write cycles never interleave.
// Callbacks passed to Update must not call back into the same Collection.
type Collection[T any] struct {
	store kv.Store
	locks *LockManager
	key   string
}

// NewCollection binds a document type to a key.
func NewCollection[T any](store kv.Store, locks *LockManager, key string) *Collection[T] {
	return &Collection[T]{store: store, locks: locks, key: key}
}

// Key returns the KV key backing the collection.
func (c *Collection[T]) Key() string {
	return c.key
}

// Load returns the stored document, or the zero value if the key is absent.
// A payload that fails to parse yields STORAGE_CORRUPT and is left untouched.
func (c *Collection[T]) Load(ctx context.Context) (T, error) {
	unlock := c.locks.Lock(c.key)
	defer unlock()

	v, _, err := c.read(ctx)
	return v, err
}

// Exists reports whether the key is present.
func (c *Collection[T]) Exists(ctx context.Context) (bool, error) {
	unlock := c.locks.Lock(c.key)
	defer unlock()

	_, found, err := c.store.Get(ctx, c.key)
	if err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "read "+c.key, err)
	}
	return found, nil
}

// Update loads the document, applies fn and writes it back when fn reports a change.
// The returned value is the document after fn ran.
func (c *Collection[T]) Update(ctx context.Context, fn func(doc *T) (changed bool, err error)) (T, error) {
	unlock := c.locks.Lock(c.key)
	defer unlock()

	v, _, err := c.read(ctx)
	if err != nil {
		return v, err
	}
	changed, err := fn(&v)
	if err != nil {
		return v, err
	}
	if !changed {
		return v, nil
	}
	return v, c.write(ctx, v)
}

// Save replaces the stored document.
func (c *Collection[T]) Save(ctx context.Context, v T) error {
	unlock := c.locks.Lock(c.key)
	defer unlock()
	return c.write(ctx, v)
}

// Delete removes the document.
func (c *Collection[T]) Delete(ctx context.Context) error {
	unlock := c.locks.Lock(c.key)
	defer unlock()
	if err := c.store.Remove(ctx, c.key); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "remove "+c.key, err)
	}
	return nil
}

// RemoveIf deletes the document when pred accepts its current value.
// An absent document is never passed to pred.
func (c *Collection[T]) RemoveIf(ctx context.Context, pred func(doc T) bool) (bool, error) {
	unlock := c.locks.Lock(c.key)
	defer unlock()

	v, found, err := c.read(ctx)
	if err != nil || !found || !pred(v) {
		return false, err
	}
	if err := c.store.Remove(ctx, c.key); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorage, "remove "+c.key, err)
	}
	return true, nil
}

// Quarantine moves a corrupt payload to "<key>.corrupt.<unixnano>" and clears the key,
// returning the quarantine key. A readable or absent document is left alone and "" is returned.
func (c *Collection[T]) Quarantine(ctx context.Context) (string, error) {
	unlock := c.locks.Lock(c.key)
	defer unlock()

	raw, found, err := c.store.Get(ctx, c.key)
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "read "+c.key, err)
	}
	if !found {
		return "", nil
	}
	var probe T
	if json.Unmarshal([]byte(raw), &probe) == nil {
		return "", nil
	}

	target := fmt.Sprintf("%s.corrupt.%d", c.key, time.Now().UnixNano())
	if err := c.store.Set(ctx, target, raw); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "write "+target, err)
	}
	if err := c.store.Remove(ctx, c.key); err != nil {
		return "", apperrors.Wrap(apperrors.ErrStorage, "remove "+c.key, err)
	}

	logging.Warn("Quarantined corrupt collection",
		map[string]interface{}{"key": c.key, "quarantine_key": target, "bytes": len(raw)})
	return target, nil
}

func (c *Collection[T]) read(ctx context.Context) (T, bool, error) {
	var v T
	raw, found, err := c.store.Get(ctx, c.key)
	if err != nil {
		return v, false, apperrors.Wrap(apperrors.ErrStorage, "read "+c.key, err)
	}
	if !found || raw == "" {
		return v, false, nil
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		logging.Warn("Stored collection failed to parse",
			map[string]interface{}{"key": c.key, "bytes": len(raw), "error": err.Error()})
		var zero T
		return zero, true, apperrors.Wrap(apperrors.ErrStorageCorrupt, "parse "+c.key, err)
	}
	return v, true, nil
}

func (c *Collection[T]) write(ctx context.Context, v T) error {
	data, err := json.Marshal(v)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInternal, "encode "+c.key, err)
	}
	if err := c.store.Set(ctx, c.key, string(data)); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "write "+c.key, err)
	}
	return nil
}
