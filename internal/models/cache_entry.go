package models

import "time"

// TTLClass differentiates cache expiry policies per data class.
type TTLClass string

const (
	// TTLReference covers slow-changing discovery data (countries and the
	// universities under them). Expires on the order of a year.
	TTLReference TTLClass = "reference"
	// TTLQuery covers per-university scraped mapping results. Expires on the
	// order of a month.
	TTLQuery TTLClass = "query"
)

// CacheEntry is one cached payload. Entries are read-only after creation and
// superseded, not mutated, on refresh.
type CacheEntry struct {
	Key       string    `json:"key"`
	Class     TTLClass  `json:"class"`
	Payload   []byte    `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the entry is past its expiry at the given time.
func (e *CacheEntry) Expired(now time.Time) bool {
	return now.After(e.ExpiresAt)
}
