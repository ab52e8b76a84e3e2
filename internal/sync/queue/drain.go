package queue

import (
	"context"
	"time"

	apperrors "github.com/NOVUMSOLVO/careunity-network-sub001/internal/errors"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/metrics"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/sync/transport"
)

// DrainResult counts what one drain pass did. Abandoned is a subset of Failed.
type DrainResult struct {
	Success   int `json:"success"`
	Failed    int `json:"failed"`
	Abandoned int `json:"abandoned"`
	Skipped   int `json:"skipped"`
	Deferred  int `json:"deferred"`
}

// Attempted returns the number of operations sent to the remote.
func (r DrainResult) Attempted() int {
	return r.Success + r.Failed
}

// Drain delivers every eligible operation in the current snapshot, in order.
//
// It fails with ErrDisconnected, without touching the queue, while offline.
// Concurrent calls share the in-flight pass and its result. A failed operation
// stays queued with its retry count incremented; completed operations are purged
// at the end of the pass. Once an operation for an entity fails or is waiting out
// its backoff, later operations for that entity are deferred to a later pass; an
// abandoned operation holds its entity the same way until it is retried or removed.
//
// ctx bounds the pass: once it is done no further operation is started, but the
// outcome of a request already sent is always recorded. A caller that joins an
// in-flight pass shares the first caller's ctx, so it sees that caller's
// cancellation as an ErrSyncTimeout.
func (e *Engine) Drain(ctx context.Context) (DrainResult, error) {
	if !e.online.IsOnline() {
		metrics.DrainsTotal.WithLabelValues(metrics.ResultDisconnected).Inc()
		return DrainResult{}, apperrors.New(apperrors.ErrDisconnected, "cannot drain sync queue while offline")
	}

	v, err, shared := e.flight.Do(StorageKey, func() (interface{}, error) {
		return e.drain(ctx)
	})
	if shared {
		logging.Debug("Joined in-flight drain", nil)
	}
	result, _ := v.(DrainResult)
	return result, err
}

func (e *Engine) drain(ctx context.Context) (DrainResult, error) {
	start := time.Now()
	var result DrainResult

	snapshot, err := e.ops.Load(ctx)
	if err != nil {
		metrics.DrainsTotal.WithLabelValues(metrics.ResultError).Inc()
		return result, err
	}

	logging.Info("Drain started", map[string]interface{}{"queued": len(snapshot)})

	// Outcome writes must land even when ctx ends mid-request.
	persist := context.WithoutCancel(ctx)
	held := make(map[string]bool)
	var fatal error

	for i := range snapshot {
		op := snapshot[i]
		key := ""
		if op.HasEntity() {
			key = op.EntityKey()
		}
		if op.Status == models.StatusCompleted {
			continue
		}
		if op.Status == models.StatusAbandoned {
			if key != "" {
				held[key] = true
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			fatal = apperrors.Wrap(apperrors.ErrSyncTimeout, "drain interrupted", err)
			break
		}

		if key != "" && held[key] {
			result.Deferred++
			metrics.OperationsTotal.WithLabelValues(metrics.OutcomeDeferred).Inc()
			continue
		}
		if op.Status == models.StatusError && op.NextAttemptAt != nil && e.now().Before(*op.NextAttemptAt) {
			result.Skipped++
			metrics.OperationsTotal.WithLabelValues(metrics.OutcomeSkipped).Inc()
			if key != "" {
				held[key] = true
			}
			continue
		}

		found, err := e.mark(ctx, op.ID, func(o *models.SyncOperation) {
			o.Status = models.StatusProcessing
		})
		if err != nil {
			fatal = err
			break
		}
		if !found {
			// removed by a caller since the snapshot was taken
			continue
		}

		resp, sendErr := e.transport.Do(ctx, transport.Request{
			Method:  op.Method,
			URL:     op.URL,
			Body:    op.Body,
			Headers: op.Headers,
		})

		if sendErr != nil {
			abandoned, err := e.fail(persist, &op, sendErr)
			if err != nil {
				fatal = err
				break
			}
			result.Failed++
			if abandoned {
				result.Abandoned++
				metrics.OperationsTotal.WithLabelValues(metrics.OutcomeAbandoned).Inc()
			} else {
				metrics.OperationsTotal.WithLabelValues(metrics.OutcomeFailed).Inc()
			}
			if key != "" {
				held[key] = true
			}
			e.notify(op, sendErr)
			continue
		}

		var bumpErr error
		if op.HasEntity() {
			_, bumpErr = e.ledger.Bump(persist, op.EntityType, op.EntityID)
			if version, ok := resp.EntityVersion(); ok {
				e.detector.Observe(&op, version, true)
			}
		}

		// The remote effect happened; never resend it even if the ledger write failed.
		if _, err := e.mark(persist, op.ID, func(o *models.SyncOperation) {
			o.Status = models.StatusCompleted
			o.ErrorMessage = ""
			o.NextAttemptAt = nil
		}); err != nil {
			fatal = err
			break
		}
		result.Success++
		metrics.OperationsTotal.WithLabelValues(metrics.OutcomeSuccess).Inc()
		e.notify(op, nil)

		if bumpErr != nil {
			fatal = bumpErr
			break
		}
	}

	remaining, err := e.purgeCompleted(persist)
	if err != nil && fatal == nil {
		fatal = err
	}
	if err == nil {
		metrics.QueueDepth.Set(float64(remaining))
	}

	metrics.DrainDuration.Observe(time.Since(start).Seconds())
	fields := map[string]interface{}{
		"success":     result.Success,
		"failed":      result.Failed,
		"abandoned":   result.Abandoned,
		"skipped":     result.Skipped,
		"deferred":    result.Deferred,
		"remaining":   remaining,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if fatal != nil {
		metrics.DrainsTotal.WithLabelValues(metrics.ResultError).Inc()
		logging.ErrorWithCode("Drain aborted", string(apperrors.CodeOf(fatal)), fatal, fields)
		return result, fatal
	}
	metrics.DrainsTotal.WithLabelValues(metrics.ResultOK).Inc()
	logging.Info("Drain completed", fields)
	return result, nil
}

// fail records a failed attempt and reports whether the operation was abandoned.
func (e *Engine) fail(ctx context.Context, op *models.SyncOperation, cause error) (bool, error) {
	retries := op.Retries + 1
	abandoned := e.cfg.MaxRetries > 0 && retries >= e.cfg.MaxRetries

	var next *time.Time
	if !abandoned {
		t := e.now().Add(e.backoff(retries))
		next = &t
	}

	_, err := e.mark(ctx, op.ID, func(o *models.SyncOperation) {
		o.Retries = retries
		o.ErrorMessage = cause.Error()
		o.NextAttemptAt = next
		if abandoned {
			o.Status = models.StatusAbandoned
		} else {
			o.Status = models.StatusError
		}
	})
	if err != nil {
		return false, err
	}

	op.Retries = retries
	op.ErrorMessage = cause.Error()
	fields := map[string]interface{}{
		"operation_id": op.ID,
		"method":       op.Method,
		"url":          op.URL,
		"retries":      retries,
		"error":        cause.Error(),
	}
	if abandoned {
		op.Status = models.StatusAbandoned
		logging.Warn("Sync operation abandoned after max retries", fields)
	} else {
		op.Status = models.StatusError
		fields["next_attempt_at"] = next
		logging.Warn("Sync operation failed", fields)
	}
	return abandoned, nil
}

// backoff returns min(BackoffMax, BackoffBase*2^(retries-1)) minus up to half as jitter.
func (e *Engine) backoff(retries int) time.Duration {
	base := e.cfg.BackoffBase
	if base <= 0 || retries <= 0 {
		return 0
	}
	limit := e.cfg.BackoffMax
	if limit <= 0 {
		limit = base
	}
	d := base
	for i := 1; i < retries && d < limit; i++ {
		d *= 2
	}
	if d > limit {
		d = limit
	}
	return d - time.Duration(e.jitter()*0.5*float64(d))
}

// mark mutates the persisted copy of one operation. found is false if it no longer exists.
func (e *Engine) mark(ctx context.Context, id string, fn func(*models.SyncOperation)) (bool, error) {
	found := false
	_, err := e.ops.Update(ctx, func(ops *[]models.SyncOperation) (bool, error) {
		i := indexOf(*ops, id)
		if i < 0 {
			return false, nil
		}
		fn(&(*ops)[i])
		(*ops)[i].UpdatedAt = e.now()
		found = true
		return true, nil
	})
	return found, err
}

func (e *Engine) purgeCompleted(ctx context.Context) (int, error) {
	ops, err := e.ops.Update(ctx, func(ops *[]models.SyncOperation) (bool, error) {
		kept := (*ops)[:0]
		for _, op := range *ops {
			if op.Status != models.StatusCompleted {
				kept = append(kept, op)
			}
		}
		changed := len(kept) != len(*ops)
		*ops = kept
		return changed, nil
	})
	return len(ops), err
}

func (e *Engine) notify(op models.SyncOperation, err error) {
	if e.observer != nil {
		e.observer(op, err)
	}
}
