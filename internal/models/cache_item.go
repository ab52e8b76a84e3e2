package models

import (
	"encoding/json"
	"time"
)

// CacheItem is a memoized read result. A nil Expiry never expires.
type CacheItem struct {
	Key       string          `json:"key"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
	Expiry    *time.Time      `json:"expiry"`
}

// Expired reports whether the item is logically absent at now.
func (c *CacheItem) Expired(now time.Time) bool {
	return c.Expiry != nil && now.After(*c.Expiry)
}
