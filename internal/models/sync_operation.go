// Package models provides the persisted record shapes of the offline sync engine.
package models

import (
	"encoding/json"
	"net/http"
	"time"
)

// SyncStatus is the lifecycle state of a queued operation.
type SyncStatus string

const (
	StatusPending    SyncStatus = "pending"
	StatusProcessing SyncStatus = "processing"
	StatusCompleted  SyncStatus = "completed"
	StatusError      SyncStatus = "error"
	StatusAbandoned  SyncStatus = "abandoned"
)

// transitions lists the statuses each status may advance to.
// Abandoned -> Pending is the manual retry path.
var transitions = map[SyncStatus][]SyncStatus{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusError, StatusAbandoned},
	StatusError:      {StatusProcessing},
	StatusAbandoned:  {StatusPending},
}

// CanTransition reports whether s may advance to next.
func (s SyncStatus) CanTransition(next SyncStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// SyncOperation is a deferred remote mutation.
type SyncOperation struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	Method        string            `json:"method"`
	Body          json.RawMessage   `json:"body,omitempty"`
	Headers       map[string]string `json:"headers,omitempty"`
	EnqueuedAt    time.Time         `json:"enqueued_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
	Status        SyncStatus        `json:"status"`
	Retries       int               `json:"retries"`
	ErrorMessage  string            `json:"error_message,omitempty"`
	EntityType    string            `json:"entity_type,omitempty"`
	EntityID      string            `json:"entity_id,omitempty"`
	Version       *int64            `json:"version,omitempty"`
	NextAttemptAt *time.Time        `json:"next_attempt_at,omitempty"`
}

// HasEntity reports whether the operation correlates to a versioned entity.
func (op *SyncOperation) HasEntity() bool {
	return op.EntityType != "" && op.EntityID != ""
}

// EntityKey returns the (type, id) key used by the ledger and per-entity ordering.
func (op *SyncOperation) EntityKey() string {
	return EntityKey(op.EntityType, op.EntityID)
}

// Clone returns a deep copy so callers cannot mutate queue state through a snapshot.
func (op SyncOperation) Clone() SyncOperation {
	if op.Body != nil {
		op.Body = append(json.RawMessage(nil), op.Body...)
	}
	if op.Headers != nil {
		headers := make(map[string]string, len(op.Headers))
		for k, v := range op.Headers {
			headers[k] = v
		}
		op.Headers = headers
	}
	if op.Version != nil {
		v := *op.Version
		op.Version = &v
	}
	if op.NextAttemptAt != nil {
		t := *op.NextAttemptAt
		op.NextAttemptAt = &t
	}
	return op
}

// SyncOperationInput is what callers supply to enqueue a mutation.
type SyncOperationInput struct {
	URL        string            `json:"url" validate:"required"`
	Method     string            `json:"method" validate:"required,oneof=GET POST PUT PATCH DELETE"`
	Body       json.RawMessage   `json:"body,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	EntityType string            `json:"entity_type,omitempty" validate:"required_with=EntityID"`
	EntityID   string            `json:"entity_id,omitempty" validate:"required_with=EntityType"`
	Version    *int64            `json:"version,omitempty"`
}

// IsReplacing reports whether a newer request of this method fully supersedes an older one.
func (in *SyncOperationInput) IsReplacing() bool {
	return in.Method == http.MethodPut
}

// IsMerging reports whether a newer request of this method is a partial update
// that can be folded into an older one by merging bodies.
func (in *SyncOperationInput) IsMerging() bool {
	return in.Method == http.MethodPatch
}

// SyncOperationPatch is a partial update; nil fields are left unchanged.
type SyncOperationPatch struct {
	URL           *string
	Method        *string
	Body          json.RawMessage
	Headers       map[string]string
	Status        *SyncStatus
	Retries       *int
	ErrorMessage  *string
	Version       *int64
	NextAttemptAt *time.Time
}

// Apply merges the non-nil fields of p into op.
func (p SyncOperationPatch) Apply(op *SyncOperation) {
	if p.URL != nil {
		op.URL = *p.URL
	}
	if p.Method != nil {
		op.Method = *p.Method
	}
	if p.Body != nil {
		op.Body = append(json.RawMessage(nil), p.Body...)
	}
	if p.Headers != nil {
		op.Headers = p.Headers
	}
	if p.Status != nil {
		op.Status = *p.Status
	}
	if p.Retries != nil {
		op.Retries = *p.Retries
	}
	if p.ErrorMessage != nil {
		op.ErrorMessage = *p.ErrorMessage
	}
	if p.Version != nil {
		v := *p.Version
		op.Version = &v
	}
	if p.NextAttemptAt != nil {
		t := *p.NextAttemptAt
		op.NextAttemptAt = &t
	}
}
