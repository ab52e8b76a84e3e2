// Package sync wires the offline sync components into one client.
package sync

import (
	"context"
	"time"
)

// SyncEngineInterface is the part of the client the scheduler and the daemon drive.
// It allows for mocking in tests.
type SyncEngineInterface interface {
	// Sync drains the queue once and records the outcome.
	Sync(ctx context.Context) (*SyncResult, error)

	// SetEventHandler sets the handler for sync notifications.
	SetEventHandler(handler SyncEventHandler)

	// Status returns the current sync status.
	Status() SyncStatus

	// LastSync returns when the last drain pass finished without a queue-level error.
	LastSync() *time.Time

	// PendingChanges returns the number of undelivered operations.
	PendingChanges() int

	// LastError returns the error of the last drain pass, if it failed.
	LastError() error
}

// SyncEventType names a sync notification.
type SyncEventType string

const (
	EventSyncStarted   SyncEventType = "sync.started"
	EventSyncCompleted SyncEventType = "sync.completed"
	EventSyncFailed    SyncEventType = "sync.failed"
	EventOperation     SyncEventType = "sync.operation"
	EventConflict      SyncEventType = "sync.conflict"
	EventConnectivity  SyncEventType = "connectivity.changed"
)

// SyncEvent is delivered to the event handler.
type SyncEvent struct {
	Type      SyncEventType `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Data      interface{}   `json:"data,omitempty"`
	Error     string        `json:"error,omitempty"`
}

// SyncEventHandler receives sync events. Implementations must not block.
type SyncEventHandler interface {
	OnSyncEvent(event SyncEvent)
}

// SyncEventHandlerFunc adapts a function to SyncEventHandler.
type SyncEventHandlerFunc func(SyncEvent)

// OnSyncEvent calls f(event).
func (f SyncEventHandlerFunc) OnSyncEvent(event SyncEvent) {
	f(event)
}
