// Package ledger tracks monotonic optimistic-concurrency versions per entity.
package ledger

import (
	"context"
	"time"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/metrics"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/storage"
)

// StorageKey is the KV key holding the ledger.
const StorageKey = "entity_versions"

// Ledger is the Entity Version Ledger. Only a successful drain step should call Bump.
type Ledger struct {
	entries *storage.Collection[[]models.EntityVersion]
	now     func() time.Time
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// New creates a Ledger over store. locks must be shared with every other
// component that touches the same store.
func New(store kv.Store, locks *storage.LockManager, opts ...Option) *Ledger {
	l := &Ledger{
		entries: storage.NewCollection[[]models.EntityVersion](store, locks, StorageKey),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Get returns the version of an entity, or nil if it was never synced.
func (l *Ledger) Get(ctx context.Context, entityType, entityID string) (*models.EntityVersion, error) {
	entries, err := l.entries.Load(ctx)
	if err != nil {
		return nil, err
	}
	key := models.EntityKey(entityType, entityID)
	for i := range entries {
		if entries[i].Key() == key {
			v := entries[i]
			return &v, nil
		}
	}
	return nil, nil
}

// Bump advances an entity's version by one, creating it at 1 when absent.
func (l *Ledger) Bump(ctx context.Context, entityType, entityID string) (*models.EntityVersion, error) {
	key := models.EntityKey(entityType, entityID)
	var bumped models.EntityVersion

	_, err := l.entries.Update(ctx, func(entries *[]models.EntityVersion) (bool, error) {
		now := l.now()
		for i := range *entries {
			e := &(*entries)[i]
			if e.Key() == key {
				e.Version++
				e.LastModified = now
				bumped = *e
				return true, nil
			}
		}
		bumped = models.EntityVersion{
			EntityType:   entityType,
			EntityID:     entityID,
			Version:      1,
			LastModified: now,
		}
		*entries = append(*entries, bumped)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.LedgerBumpsTotal.Inc()
	return &bumped, nil
}

// List returns every tracked entity version.
func (l *Ledger) List(ctx context.Context) ([]models.EntityVersion, error) {
	entries, err := l.entries.Load(ctx)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []models.EntityVersion{}
	}
	return entries, nil
}
