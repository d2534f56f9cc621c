package domain

import "encoding/json"

// CacheEntry is the persisted form of a cached query result.
type CacheEntry struct {
	Data          json.RawMessage `json:"data"`
	Timestamp     int64           `json:"timestamp"` // unix milliseconds
	SchemaVersion string          `json:"schemaVersion"`
}
