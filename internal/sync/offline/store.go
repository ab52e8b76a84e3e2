// Package offline keeps per-collection local mirrors of domain records so the
// application can write optimistically while disconnected.
package offline

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/storage"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/uuid"
)

// Namespace prefixes every offline collection key in the KV store.
const Namespace = "offline:"

// Record is one domain record as the UI layer sees it.
type Record = map[string]interface{}

// Store is the Offline Entity Store.
type Store struct {
	store kv.Store
	locks *storage.LockManager
	now   func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over kvStore.
func New(kvStore kv.Store, locks *storage.LockManager, opts ...Option) *Store {
	s := &Store{store: kvStore, locks: locks, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) collection(storeName string) (*storage.Collection[[]models.OfflineDataItem], error) {
	if strings.TrimSpace(storeName) == "" {
		return nil, apperrors.New(apperrors.ErrInvalid, "store name is required")
	}
	return storage.NewCollection[[]models.OfflineDataItem](s.store, s.locks, Namespace+storeName), nil
}

// Save writes record into storeName. A record whose id matches an existing item is
// shallow-merged into it; anything else is appended. Records without an id get a
// temporary local id. The merged record is returned.
func (s *Store) Save(ctx context.Context, storeName string, record Record) (Record, error) {
	col, err := s.collection(storeName)
	if err != nil {
		return nil, err
	}
	data, err := normalize(record)
	if err != nil {
		return nil, err
	}

	var saved Record
	_, err = col.Update(ctx, func(items *[]models.OfflineDataItem) (bool, error) {
		now := s.now()
		if id, ok := data["id"]; ok && id != nil {
			if i := indexOf(*items, id); i >= 0 {
				item := &(*items)[i]
				if item.Data == nil {
					item.Data = make(Record, len(data))
				}
				for k, v := range data {
					item.Data[k] = v
				}
				item.IsModified = true
				item.Timestamp = now
				saved = copyRecord(item.Data)
				return true, nil
			}
		}

		localID := uuid.NewLocal()
		if id, ok := data["id"]; !ok || id == nil {
			data["id"] = localID
		}
		*items = append(*items, models.OfflineDataItem{
			ID:         uuid.New(),
			StoreName:  storeName,
			Data:       data,
			Timestamp:  now,
			IsModified: true,
			LocalID:    localID,
		})
		saved = copyRecord(data)
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return saved, nil
}

// List returns the records of storeName in stored order.
func (s *Store) List(ctx context.Context, storeName string) ([]Record, error) {
	items, err := s.Items(ctx, storeName)
	if err != nil {
		return nil, err
	}
	records := make([]Record, 0, len(items))
	for _, item := range items {
		records = append(records, item.Data)
	}
	return records, nil
}

// Items returns the wrapped items of storeName, including their local metadata.
func (s *Store) Items(ctx context.Context, storeName string) ([]models.OfflineDataItem, error) {
	col, err := s.collection(storeName)
	if err != nil {
		return nil, err
	}
	return col.Load(ctx)
}

// Get returns the record with the given id.
func (s *Store) Get(ctx context.Context, storeName string, id interface{}) (Record, bool, error) {
	items, err := s.Items(ctx, storeName)
	if err != nil {
		return nil, false, err
	}
	if i := indexOf(items, id); i >= 0 {
		return items[i].Data, true, nil
	}
	return nil, false, nil
}

// Remove deletes the record with the given id.
func (s *Store) Remove(ctx context.Context, storeName string, id interface{}) (bool, error) {
	col, err := s.collection(storeName)
	if err != nil {
		return false, err
	}
	removed := false
	_, err = col.Update(ctx, func(items *[]models.OfflineDataItem) (bool, error) {
		i := indexOf(*items, id)
		if i < 0 {
			return false, nil
		}
		*items = append((*items)[:i], (*items)[i+1:]...)
		removed = true
		return true, nil
	})
	return removed, err
}

// ReplaceID rewrites a temporary record id with the id the server assigned.
// Nothing calls this automatically; the caller decides when the server id is known.
func (s *Store) ReplaceID(ctx context.Context, storeName string, tempID, serverID interface{}) (bool, error) {
	col, err := s.collection(storeName)
	if err != nil {
		return false, err
	}
	replaced := false
	_, err = col.Update(ctx, func(items *[]models.OfflineDataItem) (bool, error) {
		if indexOf(*items, serverID) >= 0 {
			return false, apperrors.New(apperrors.ErrInvalid, "server id already present in "+storeName)
		}
		i := indexOf(*items, tempID)
		if i < 0 {
			return false, nil
		}
		(*items)[i].Data["id"] = serverID
		(*items)[i].Timestamp = s.now()
		replaced = true
		return true, nil
	})
	return replaced, err
}

// indexOf finds the item whose record id equals id under JSON equality,
// so 1 and 1.0 match but 1 and "1" do not.
func indexOf(items []models.OfflineDataItem, id interface{}) int {
	want, ok := idKey(id)
	if !ok {
		return -1
	}
	for i := range items {
		rid, present := items[i].RecordID()
		if !present {
			continue
		}
		if got, ok := idKey(rid); ok && got == want {
			return i
		}
	}
	return -1
}

func idKey(id interface{}) (string, bool) {
	if id == nil {
		return "", false
	}
	b, err := json.Marshal(id)
	if err != nil {
		return "", false
	}
	return string(b), true
}

// normalize round-trips record through JSON so in-memory values match what List returns.
func normalize(record Record) (Record, error) {
	if record == nil {
		return nil, apperrors.New(apperrors.ErrInvalid, "record is required")
	}
	b, err := json.Marshal(record)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "encode record", err)
	}
	var out Record
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "decode record", err)
	}
	return out, nil
}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
