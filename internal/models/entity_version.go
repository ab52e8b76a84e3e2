package models

import "time"

// EntityVersion is the optimistic version marker for one server-side entity.
type EntityVersion struct {
	EntityType   string    `json:"entity_type"`
	EntityID     string    `json:"entity_id"`
	Version      int64     `json:"version"`
	LastModified time.Time `json:"last_modified"`
}

// Key returns the ledger key of the entity.
func (v *EntityVersion) Key() string {
	return EntityKey(v.EntityType, v.EntityID)
}

// EntityKey joins an entity type and id into one key.
func EntityKey(entityType, entityID string) string {
	return entityType + "/" + entityID
}
