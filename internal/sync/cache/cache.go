// Package cache provides the TTL-bounded content cache over the KV store.
//
// Every entry lives under its own key in the "cache:" namespace. Expiry is enforced
// lazily: an expired entry is deleted the first time it is read, and entries that are
// never read again stay in storage until Clear.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/metrics"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/storage"
)

// Namespace prefixes every cache key in the KV store.
const Namespace = "cache:"

// NoExpiry stores an entry that never expires.
const NoExpiry time.Duration = 0

var errInvalidJSON = errors.New("payload is not valid JSON")

// Cache is the Content Cache.
type Cache struct {
	store kv.Store
	locks *storage.LockManager
	hot   *expirable.LRU[string, models.CacheItem]
	now   func() time.Time
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source used for expiry.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

// WithHotLayer keeps up to size recently used entries in memory for ttl.
// The in-memory copy never outlives the entry's own expiry.
func WithHotLayer(size int, ttl time.Duration) Option {
	return func(c *Cache) {
		if size > 0 {
			c.hot = expirable.NewLRU[string, models.CacheItem](size, nil, ttl)
		}
	}
}

// New creates a Cache over store.
func New(store kv.Store, locks *storage.LockManager, opts ...Option) *Cache {
	c := &Cache{
		store: store,
		locks: locks,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Cache) entry(key string) *storage.Collection[models.CacheItem] {
	return storage.NewCollection[models.CacheItem](c.store, c.locks, Namespace+key)
}

// Put stores data under key, replacing any previous entry. A ttl of NoExpiry
// (or any non-positive value) keeps the entry until cleared.
func (c *Cache) Put(ctx context.Context, key string, data interface{}, ttl time.Duration) error {
	raw, err := encode(data)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrInvalid, "encode cache entry "+key, err)
	}

	now := c.now()
	item := models.CacheItem{
		Key:       key,
		Data:      raw,
		Timestamp: now,
	}
	if ttl > 0 {
		expiry := now.Add(ttl)
		item.Expiry = &expiry
	}

	if err := c.entry(key).Save(ctx, item); err != nil {
		return err
	}
	if c.hot != nil {
		c.hot.Add(key, item)
	}
	return nil
}

// Get returns the cached payload for key. found is false when the entry is absent
// or has expired; an expired entry is removed from storage.
func (c *Cache) Get(ctx context.Context, key string) (json.RawMessage, bool, error) {
	now := c.now()

	if c.hot != nil {
		if item, ok := c.hot.Get(key); ok {
			if !item.Expired(now) {
				metrics.CacheLookups.WithLabelValues(metrics.LayerMemory, metrics.ResultHit).Inc()
				return item.Data, true, nil
			}
			c.hot.Remove(key)
		}
	}

	col := c.entry(key)
	item, err := col.Load(ctx)
	if err != nil {
		return nil, false, err
	}
	if item.Key == "" && item.Data == nil {
		metrics.CacheLookups.WithLabelValues(metrics.LayerStore, metrics.ResultMiss).Inc()
		return nil, false, nil
	}

	if item.Expired(now) {
		// Re-check under the key's lock so a concurrent Put is not discarded.
		if _, err := col.RemoveIf(ctx, func(cur models.CacheItem) bool { return cur.Expired(now) }); err != nil {
			return nil, false, err
		}
		metrics.CacheLookups.WithLabelValues(metrics.LayerStore, metrics.ResultExpired).Inc()
		logging.Debug("Evicted expired cache entry", map[string]interface{}{"key": key})
		return nil, false, nil
	}

	if c.hot != nil {
		c.hot.Add(key, item)
	}
	metrics.CacheLookups.WithLabelValues(metrics.LayerStore, metrics.ResultHit).Inc()
	return item.Data, true, nil
}

// GetInto decodes the cached payload for key into out.
func (c *Cache) GetInto(ctx context.Context, key string, out interface{}) (bool, error) {
	raw, found, err := c.Get(ctx, key)
	if err != nil || !found {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, apperrors.Wrap(apperrors.ErrStorageCorrupt, "decode cache entry "+key, err)
	}
	return true, nil
}

// Clear removes every cache entry in one batch.
func (c *Cache) Clear(ctx context.Context) error {
	keys, err := kv.KeysWithPrefix(ctx, c.store, Namespace)
	if err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "list cache keys", err)
	}
	if c.hot != nil {
		c.hot.Purge()
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.store.RemoveMany(ctx, keys); err != nil {
		return apperrors.Wrap(apperrors.ErrStorage, "clear cache", err)
	}
	logging.Info("Cache cleared", map[string]interface{}{"entries": len(keys)})
	return nil
}

func encode(data interface{}) (json.RawMessage, error) {
	switch v := data.(type) {
	case json.RawMessage:
		if !json.Valid(v) {
			return nil, errInvalidJSON
		}
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		if !json.Valid(v) {
			return nil, errInvalidJSON
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}
