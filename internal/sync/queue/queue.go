// Package queue provides the durable FIFO of deferred remote mutations and the
// single-flight drain that delivers them.
package queue

import (
	"context"
	"encoding/json"
	"math/rand"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/kv"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/metrics"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/conflict"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/storage"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/uuid"
)

// StorageKey is the KV key holding the queue.
const StorageKey = "sync_queue"

// VersionBumper is the part of the version ledger the queue needs.
type VersionBumper interface {
	Bump(ctx context.Context, entityType, entityID string) (*models.EntityVersion, error)
}

// Connectivity gates draining.
type Connectivity interface {
	IsOnline() bool
}

// Observer is told about every operation a drain attempted. err is nil on success.
type Observer func(op models.SyncOperation, err error)

// Config holds the retry policy.
type Config struct {
	MaxRetries  int           // attempts before an operation is abandoned; 0 retries forever
	BackoffBase time.Duration // delay after the first failure; 0 retries on the next drain
	BackoffMax  time.Duration // cap on the backoff delay
	Coalesce    bool          // let a newer PUT/PATCH replace a pending one for the same entity
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  8,
		BackoffBase: 2 * time.Second,
		BackoffMax:  5 * time.Minute,
	}
}

// Engine is the Sync Queue Engine.
type Engine struct {
	ops       *storage.Collection[[]models.SyncOperation]
	ledger    VersionBumper
	transport transport.Transport
	online    Connectivity
	detector  *conflict.Detector
	observer  Observer
	cfg       Config
	validate  *validator.Validate
	flight    singleflight.Group
	now       func() time.Time
	jitter    func() float64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithJitter overrides the random source used for backoff jitter; it must return [0,1).
func WithJitter(jitter func() float64) Option {
	return func(e *Engine) { e.jitter = jitter }
}

// WithConflictDetector observes server versions on successful operations.
func WithConflictDetector(d *conflict.Detector) Option {
	return func(e *Engine) { e.detector = d }
}

// WithObserver registers a per-operation callback.
func WithObserver(o Observer) Option {
	return func(e *Engine) { e.observer = o }
}

// New creates an Engine. locks must be shared with every other component on store.
func New(
	store kv.Store,
	locks *storage.LockManager,
	ledger VersionBumper,
	tr transport.Transport,
	online Connectivity,
	cfg Config,
	opts ...Option,
) *Engine {
	e := &Engine{
		ops:       storage.NewCollection[[]models.SyncOperation](store, locks, StorageKey),
		ledger:    ledger,
		transport: tr,
		online:    online,
		cfg:       cfg,
		validate:  validator.New(),
		now:       time.Now,
		jitter:    rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Enqueue appends a pending operation and returns it. With coalescing enabled, a
// PUT or PATCH is folded into the entity's most recent operation when that one is
// still pending with the same method and URL: a PUT replaces its payload, a PATCH
// merges its JSON object body into the older one. Anything queued after it for the
// same entity prevents coalescing, so later edits are never moved ahead of it.
func (e *Engine) Enqueue(ctx context.Context, in models.SyncOperationInput) (*models.SyncOperation, error) {
	in.Method = strings.ToUpper(strings.TrimSpace(in.Method))
	if err := e.validate.Struct(in); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalid, "invalid sync operation", err)
	}

	var result models.SyncOperation
	coalesced := false
	ops, err := e.ops.Update(ctx, func(ops *[]models.SyncOperation) (bool, error) {
		now := e.now()
		if e.cfg.Coalesce && in.EntityType != "" && (in.IsReplacing() || in.IsMerging()) {
			if op := lastForEntity(*ops, models.EntityKey(in.EntityType, in.EntityID)); op != nil &&
				op.Status == models.StatusPending && op.Method == in.Method && op.URL == in.URL {
				body := in.Body
				headers := in.Headers
				ok := true
				if in.IsMerging() {
					body, ok = mergeBodies(op.Body, in.Body)
					headers = mergeHeaders(op.Headers, in.Headers)
				}
				if ok {
					op.Body = body
					op.Headers = headers
					// a merged patch still applies on top of the older base version
					if !in.IsMerging() || op.Version == nil {
						op.Version = in.Version
					}
					op.UpdatedAt = now
					result = op.Clone()
					coalesced = true
					return true, nil
				}
			}
		}

		op := models.SyncOperation{
			ID:         uuid.New(),
			URL:        in.URL,
			Method:     in.Method,
			Body:       in.Body,
			Headers:    in.Headers,
			EnqueuedAt: now,
			UpdatedAt:  now,
			Status:     models.StatusPending,
			EntityType: in.EntityType,
			EntityID:   in.EntityID,
			Version:    in.Version,
		}
		*ops = append(*ops, op)
		result = op.Clone()
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	metrics.QueueDepth.Set(float64(len(ops)))

	logging.Info("Enqueued sync operation",
		map[string]interface{}{
			"operation_id": result.ID,
			"method":       result.Method,
			"url":          result.URL,
			"entity":       result.EntityKey(),
			"coalesced":    coalesced,
		})
	return &result, nil
}

// Update merges patch into the operation with id. It returns nil when id is unknown.
func (e *Engine) Update(ctx context.Context, id string, patch models.SyncOperationPatch) (*models.SyncOperation, error) {
	var result *models.SyncOperation
	_, err := e.ops.Update(ctx, func(ops *[]models.SyncOperation) (bool, error) {
		i := indexOf(*ops, id)
		if i < 0 {
			return false, nil
		}
		op := &(*ops)[i]
		if patch.Status != nil && !op.Status.CanTransition(*patch.Status) {
			return false, apperrors.Newf(apperrors.ErrInvalid,
				"operation %s cannot move from %s to %s", id, op.Status, *patch.Status)
		}
		patch.Apply(op)
		op.UpdatedAt = e.now()
		c := op.Clone()
		result = &c
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// Remove deletes the operation with id and reports whether it existed.
func (e *Engine) Remove(ctx context.Context, id string) (bool, error) {
	removed := false
	ops, err := e.ops.Update(ctx, func(ops *[]models.SyncOperation) (bool, error) {
		i := indexOf(*ops, id)
		if i < 0 {
			return false, nil
		}
		*ops = append((*ops)[:i], (*ops)[i+1:]...)
		removed = true
		return true, nil
	})
	if err != nil {
		return false, err
	}
	metrics.QueueDepth.Set(float64(len(ops)))
	return removed, nil
}

// Get returns the operation with id, or nil.
func (e *Engine) Get(ctx context.Context, id string) (*models.SyncOperation, error) {
	ops, err := e.ops.Load(ctx)
	if err != nil {
		return nil, err
	}
	if i := indexOf(ops, id); i >= 0 {
		c := ops[i].Clone()
		return &c, nil
	}
	return nil, nil
}

// ListPending returns a snapshot of the whole persisted queue in processing order.
// It is not filtered by status.
func (e *Engine) ListPending(ctx context.Context) ([]models.SyncOperation, error) {
	ops, err := e.ops.Load(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]models.SyncOperation, len(ops))
	for i := range ops {
		out[i] = ops[i].Clone()
	}
	return out, nil
}

// PendingCount returns how many operations have not been delivered yet.
func (e *Engine) PendingCount(ctx context.Context) (int, error) {
	ops, err := e.ops.Load(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for i := range ops {
		if ops[i].Status != models.StatusCompleted {
			n++
		}
	}
	return n, nil
}

// GetStats returns queue statistics by status.
func (e *Engine) GetStats(ctx context.Context) (map[string]int, error) {
	ops, err := e.ops.Load(ctx)
	if err != nil {
		return nil, err
	}
	stats := map[string]int{
		"total":                         len(ops),
		string(models.StatusPending):    0,
		string(models.StatusProcessing): 0,
		string(models.StatusCompleted):  0,
		string(models.StatusError):      0,
		string(models.StatusAbandoned):  0,
	}
	for i := range ops {
		stats[string(ops[i].Status)]++
	}
	return stats, nil
}

// RetryAbandoned resets abandoned operations to pending with a fresh retry budget.
func (e *Engine) RetryAbandoned(ctx context.Context) (int, error) {
	count := 0
	_, err := e.ops.Update(ctx, func(ops *[]models.SyncOperation) (bool, error) {
		now := e.now()
		for i := range *ops {
			op := &(*ops)[i]
			if op.Status != models.StatusAbandoned {
				continue
			}
			op.Status = models.StatusPending
			op.Retries = 0
			op.ErrorMessage = ""
			op.NextAttemptAt = nil
			op.UpdatedAt = now
			count++
		}
		return count > 0, nil
	})
	if err != nil {
		return 0, err
	}
	if count > 0 {
		logging.Info("Reset abandoned operations for retry", map[string]interface{}{"count": count})
	}
	return count, nil
}

// Clear removes every queued operation.
func (e *Engine) Clear(ctx context.Context) error {
	if err := e.ops.Delete(ctx); err != nil {
		return err
	}
	metrics.QueueDepth.Set(0)
	logging.Info("Sync queue cleared", nil)
	return nil
}

// Quarantine moves an unreadable persisted queue aside so queuing can resume.
func (e *Engine) Quarantine(ctx context.Context) (string, error) {
	return e.ops.Quarantine(ctx)
}

// lastForEntity returns the most recently queued operation for key, or nil.
func lastForEntity(ops []models.SyncOperation, key string) *models.SyncOperation {
	for i := len(ops) - 1; i >= 0; i-- {
		if ops[i].HasEntity() && ops[i].EntityKey() == key {
			return &ops[i]
		}
	}
	return nil
}

// mergeBodies shallow-merges newer into older. Both must be JSON objects (or empty).
func mergeBodies(older, newer json.RawMessage) (json.RawMessage, bool) {
	if len(older) == 0 && len(newer) == 0 {
		return nil, true
	}
	merged := map[string]json.RawMessage{}
	for _, raw := range []json.RawMessage{older, newer} {
		if len(raw) == 0 {
			continue
		}
		var fields map[string]json.RawMessage
		if err := json.Unmarshal(raw, &fields); err != nil || fields == nil {
			return nil, false
		}
		for k, v := range fields {
			merged[k] = v
		}
	}
	out, err := json.Marshal(merged)
	if err != nil {
		return nil, false
	}
	return out, true
}

func mergeHeaders(older, newer map[string]string) map[string]string {
	if len(older) == 0 {
		return newer
	}
	out := make(map[string]string, len(older)+len(newer))
	for k, v := range older {
		out[k] = v
	}
	for k, v := range newer {
		out[k] = v
	}
	return out
}

func indexOf(ops []models.SyncOperation, id string) int {
	for i := range ops {
		if ops[i].ID == id {
			return i
		}
	}
	return -1
}
