package sync

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/cache"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/conflict"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/connectivity"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/ledger"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/offline"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/queue"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/storage"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
)

// SyncStatus represents the current sync status.
type SyncStatus string

const (
	SyncStatusIdle    SyncStatus = "idle"
	SyncStatusSyncing SyncStatus = "syncing"
	SyncStatusFailed  SyncStatus = "failed"
)

// SyncResult represents the result of one Sync call.
type SyncResult struct {
	StartTime time.Time     `json:"start_time"`
	EndTime   time.Time     `json:"end_time"`
	Duration  time.Duration `json:"duration"`
	Uploaded  int           `json:"uploaded"`
	Failed    int           `json:"failed"`
	Abandoned int           `json:"abandoned"`
	Skipped   int           `json:"skipped"`
	Deferred  int           `json:"deferred"`
	Pending   int           `json:"pending"`
	Conflicts int           `json:"conflicts"`
	Error     string        `json:"error,omitempty"`
}

// Options configures a Client.
type Options struct {
	Transport    transport.Transport
	Monitor      connectivity.Monitor
	Queue        queue.Config
	CacheHotSize int
	CacheHotTTL  time.Duration
	Clock        func() time.Time
}

// Client owns every sync component over one KV store.
type Client struct {
	store   kv.Store
	locks   *storage.LockManager
	monitor connectivity.Monitor
	queue   *queue.Engine
	ledger  *ledger.Ledger
	cache   *cache.Cache
	offline *offline.Store
	now     func() time.Time

	mu        sync.RWMutex
	inflight  int
	status    SyncStatus
	lastSync  *time.Time
	lastErr   error
	handler   SyncEventHandler
	conflicts int
}

// NewClient creates a Client. A nil Monitor means always online.
func NewClient(store kv.Store, opts Options) *Client {
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	monitor := opts.Monitor
	if monitor == nil {
		monitor = connectivity.NewManual(true)
	}

	c := &Client{
		store:   store,
		locks:   storage.NewLockManager(),
		monitor: monitor,
		now:     now,
		status:  SyncStatusIdle,
	}

	c.ledger = ledger.New(store, c.locks, ledger.WithClock(now))
	cacheOpts := []cache.Option{cache.WithClock(now)}
	if opts.CacheHotSize > 0 {
		cacheOpts = append(cacheOpts, cache.WithHotLayer(opts.CacheHotSize, opts.CacheHotTTL))
	}
	c.cache = cache.New(store, c.locks, cacheOpts...)
	c.offline = offline.New(store, c.locks, offline.WithClock(now))

	detector := conflict.NewDetector(c.onConflict)
	c.queue = queue.New(store, c.locks, c.ledger, opts.Transport, monitor, opts.Queue,
		queue.WithClock(now),
		queue.WithConflictDetector(detector),
		queue.WithObserver(c.onOperation),
	)
	return c
}

// Queue returns the sync queue engine.
func (c *Client) Queue() *queue.Engine { return c.queue }

// Ledger returns the entity version ledger.
func (c *Client) Ledger() *ledger.Ledger { return c.ledger }

// Cache returns the content cache.
func (c *Client) Cache() *cache.Cache { return c.cache }

// Offline returns the offline entity store.
func (c *Client) Offline() *offline.Store { return c.offline }

// Monitor returns the connectivity monitor.
func (c *Client) Monitor() connectivity.Monitor { return c.monitor }

// SetEventHandler sets the handler for sync notifications.
func (c *Client) SetEventHandler(handler SyncEventHandler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = handler
}

// Status returns the current sync status.
func (c *Client) Status() SyncStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// LastSync returns when the last drain pass finished without a queue-level error.
func (c *Client) LastSync() *time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.lastSync == nil {
		return nil
	}
	t := *c.lastSync
	return &t
}

// LastError returns the error of the last drain pass, if it failed.
func (c *Client) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// PendingChanges returns the number of undelivered operations, or 0 if the queue is unreadable.
func (c *Client) PendingChanges() int {
	n, err := c.queue.PendingCount(context.Background())
	if err != nil {
		logging.Warn("Could not count pending changes", map[string]interface{}{"error": err.Error()})
		return 0
	}
	return n
}

// SaveOffline writes record optimistically to storeName and, when mutation is not nil,
// enqueues the remote mutation that will deliver it. A mutation with an EntityType but
// no EntityID takes the record's id.
func (c *Client) SaveOffline(
	ctx context.Context,
	storeName string,
	record offline.Record,
	mutation *models.SyncOperationInput,
) (offline.Record, *models.SyncOperation, error) {
	saved, err := c.offline.Save(ctx, storeName, record)
	if err != nil {
		return nil, nil, err
	}
	if mutation == nil {
		return saved, nil, nil
	}

	in := *mutation
	if in.EntityType != "" && in.EntityID == "" {
		if id, ok := saved["id"]; ok {
			in.EntityID = formatID(id)
		}
	}
	op, err := c.queue.Enqueue(ctx, in)
	if err != nil {
		return saved, nil, err
	}
	return saved, op, nil
}

// Sync drains the queue once. Per-operation failures are reported in the result;
// the returned error is only set when the pass itself could not run.
func (c *Client) Sync(ctx context.Context) (*SyncResult, error) {
	result := &SyncResult{StartTime: c.now()}

	c.mu.Lock()
	c.inflight++
	c.status = SyncStatusSyncing
	c.conflicts = 0
	c.mu.Unlock()
	c.emit(SyncEvent{Type: EventSyncStarted})

	drained, err := c.queue.Drain(ctx)

	result.EndTime = c.now()
	result.Duration = result.EndTime.Sub(result.StartTime)
	result.Uploaded = drained.Success
	result.Failed = drained.Failed
	result.Abandoned = drained.Abandoned
	result.Skipped = drained.Skipped
	result.Deferred = drained.Deferred
	result.Pending = c.PendingChanges()

	c.mu.Lock()
	c.inflight--
	result.Conflicts = c.conflicts
	if err != nil {
		c.lastErr = err
		result.Error = err.Error()
		c.status = SyncStatusFailed
	} else {
		c.lastErr = nil
		end := result.EndTime
		c.lastSync = &end
		if c.inflight == 0 {
			c.status = SyncStatusIdle
		}
	}
	c.mu.Unlock()

	if err != nil {
		if !apperrors.Is(err, apperrors.ErrDisconnected) {
			logging.ErrorWithCode("Sync failed", string(apperrors.CodeOf(err)), err, nil)
		}
		c.emit(SyncEvent{Type: EventSyncFailed, Data: result, Error: err.Error()})
		return result, err
	}
	c.emit(SyncEvent{Type: EventSyncCompleted, Data: result})
	return result, nil
}

// ClearCache removes every cached item.
func (c *Client) ClearCache(ctx context.Context) error {
	return c.cache.Clear(ctx)
}

func formatID(id interface{}) string {
	switch v := id.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func (c *Client) onOperation(op models.SyncOperation, err error) {
	ev := SyncEvent{Type: EventOperation, Data: op}
	if err != nil {
		ev.Error = err.Error()
	}
	c.emit(ev)
}

func (c *Client) onConflict(entry models.ConflictLog) {
	c.mu.Lock()
	c.conflicts++
	c.mu.Unlock()
	c.emit(SyncEvent{Type: EventConflict, Data: entry})
}

func (c *Client) emit(ev SyncEvent) {
	c.mu.RLock()
	handler := c.handler
	c.mu.RUnlock()
	if handler == nil {
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = c.now()
	}
	handler.OnSyncEvent(ev)
}
