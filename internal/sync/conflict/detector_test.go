package conflict

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NOVUMSOLVO/careunity-network-sub001/internal/models"
)

func versioned(v int64) *models.SyncOperation {
	return &models.SyncOperation{ID: "op1", EntityType: "CarePlan", EntityID: "7", Version: &v}
}

// TestObserve table-tests when drift is reported.
func TestObserve(t *testing.T) {
	tests := []struct {
		name          string
		op            *models.SyncOperation
		serverVersion int64
		reported      bool
		wantConflict  bool
	}{
		{"in step", versioned(3), 4, true, false},
		{"server behind", versioned(3), 2, true, false},
		{"another writer", versioned(3), 6, true, true},
		{"no header", versioned(3), 9, false, false},
		{"no base version", &models.SyncOperation{EntityType: "CarePlan", EntityID: "7"}, 9, true, false},
		{"no entity", &models.SyncOperation{Version: versioned(1).Version}, 9, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var handled []models.ConflictLog
			d := NewDetector(func(c models.ConflictLog) { handled = append(handled, c) })
			got := d.Observe(tt.op, tt.serverVersion, tt.reported)
			if !tt.wantConflict {
				assert.Nil(t, got)
				assert.Empty(t, handled)
				return
			}
			require.NotNil(t, got)
			assert.EqualValues(t, 4, got.ExpectedVersion)
			assert.EqualValues(t, 6, got.ServerVersion)
			assert.Equal(t, ResolutionLastWriteWins, got.Resolution)
			assert.Len(t, handled, 1)
		})
	}
}

// TestObserve_NilDetector verifies a nil detector is inert.
func TestObserve_NilDetector(t *testing.T) {
	var d *Detector
	assert.Nil(t, d.Observe(versioned(1), 5, true))
}
