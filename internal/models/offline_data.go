package models

import "time"

// OfflineDataItem mirrors one domain record inside a named offline collection.
type OfflineDataItem struct {
	ID         string                 `json:"id"`
	StoreName  string                 `json:"store_name"`
	Data       map[string]interface{} `json:"data"`
	Timestamp  time.Time              `json:"timestamp"`
	IsModified bool                   `json:"is_modified"`
	LocalID    string                 `json:"local_id"`
}

// RecordID returns the id carried by the wrapped domain record, if any.
func (i *OfflineDataItem) RecordID() (interface{}, bool) {
	id, ok := i.Data["id"]
	return id, ok && id != nil
}
