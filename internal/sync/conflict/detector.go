// Package conflict observes server-side version drift on synced entities.
//
// Writes are last-write-wins: the ledger still advances locally on every successful
// drain step. The detector only records when the server reports that another writer
// moved the entity between this device's read and its write.
package conflict

import (
	"time"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/logging"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/metrics"
	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
)

// ResolutionLastWriteWins is the only resolution the engine applies.
const ResolutionLastWriteWins = "last_write_wins"

// Handler receives every detected conflict.
type Handler func(models.ConflictLog)

// Detector compares server-reported versions with the version an operation was based on.
type Detector struct {
	now     func() time.Time
	handler Handler
}

// NewDetector creates a Detector. handler may be nil.
func NewDetector(handler Handler) *Detector {
	return &Detector{now: time.Now, handler: handler}
}

// Observe checks one successful operation. serverVersion is the version the server
// returned for the entity, if any. A non-nil log is returned when the server is ahead
// of the operation's base version plus this write.
func (d *Detector) Observe(op *models.SyncOperation, serverVersion int64, reported bool) *models.ConflictLog {
	if d == nil || !reported || op.Version == nil || !op.HasEntity() {
		return nil
	}
	expected := *op.Version + 1
	if serverVersion <= expected {
		return nil
	}

	entry := models.ConflictLog{
		OperationID:     op.ID,
		EntityType:      op.EntityType,
		EntityID:        op.EntityID,
		ExpectedVersion: expected,
		ServerVersion:   serverVersion,
		Resolution:      ResolutionLastWriteWins,
		DetectedAt:      d.now(),
	}

	metrics.ConflictsTotal.Inc()
	logging.Warn("Server version ahead of local base version",
		map[string]interface{}{
			"operation_id":     op.ID,
			"entity_type":      op.EntityType,
			"entity_id":        op.EntityID,
			"expected_version": expected,
			"server_version":   serverVersion,
			"resolution":       ResolutionLastWriteWins,
		})

	if d.handler != nil {
		d.handler(entry)
	}
	return &entry
}
