package models

import "time"

// ConflictLog records a server version that moved ahead of what this device expected.
type ConflictLog struct {
	OperationID     string    `json:"operation_id"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	ExpectedVersion int64     `json:"expected_version"`
	ServerVersion   int64     `json:"server_version"`
	Resolution      string    `json:"resolution"` // last_write_wins
	DetectedAt      time.Time `json:"detected_at"`
}
