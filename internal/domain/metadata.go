package domain

import "time"

// CacheMetadata stores lightweight bookkeeping next to the message log.
type CacheMetadata struct {
	MessageCount int    `json:"messageCount"`
	LastSaved    string `json:"lastSaved,omitempty"`
	ClientID     string `json:"clientId"`
}

// LastSavedAt parses LastSaved. ok is false if it was never set or is unparsable.
func (m CacheMetadata) LastSavedAt() (time.Time, bool) {
	if m.LastSaved == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, m.LastSaved)
	return t, err == nil
}

// Snapshot is a self-contained export of the cache.
type Snapshot struct {
	ClientID     string          `json:"clientId"`
	ExportDate   string          `json:"exportDate"`
	MessageCount int             `json:"messageCount"`
	Messages     []CachedMessage `json:"messages"`
}
