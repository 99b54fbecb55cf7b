// Package cache persists proxied tile, sprite, and glyph payloads between
// requests. Entries are organized hierarchically by style and source so one
// style's cache can be invalidated without enumerating unrelated entries.
//
// The file backend is the default; a Redis backend can be selected for
// setups where the cache should be shared or survive on another host.
package cache

import (
	"fmt"
	"time"
)

// DefaultTTL is the fallback time-to-live for cached entries.
const DefaultTTL = 24 * time.Hour

// Entry is a cached payload plus its metadata. Payloads are immutable once
// written; invalidation removes the whole entry rather than editing it.
type Entry struct {
	Payload     []byte
	ContentType string
	FetchedAt   time.Time
	TTL         time.Duration
}

// Expired reports whether the entry is past its TTL at the given time.
func (e *Entry) Expired(now time.Time) bool {
	return now.Sub(e.FetchedAt) > e.TTL
}

// Stats summarizes cache contents without loading payloads into memory.
type Stats struct {
	EntryCount     int   `json:"entry_count"`
	TotalBytes     int64 `json:"total_bytes"`
	OldestEntryAge int64 `json:"oldest_entry_age_seconds"`
}

// StorageError indicates the cache medium itself failed. Callers degrade
// gracefully: a request is still served from upstream when the cache
// cannot be written.
type StorageError struct {
	Op  string
	Key string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("cache %s failed for %s: %v", e.Op, e.Key, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Store is the persistent cache contract. Implementations must be safe for
// concurrent use; a reader must never observe a partially written payload.
type Store interface {
	// Get returns the entry for key, or ok=false when the entry is absent
	// or expired. Expired entries are reaped best-effort; reaping failure
	// never fails the read.
	Get(key Key) (*Entry, bool)

	// Put creates or overwrites the entry, stamping FetchedAt with the
	// current time. ttl <= 0 selects the store's default TTL.
	Put(key Key, payload []byte, contentType string, ttl time.Duration) error

	// Invalidate removes one entry, reporting whether anything was removed.
	Invalidate(key Key) bool

	// InvalidateRaw removes by flattened key string as used by the
	// management API. A raw value naming a whole {style}_{source} group
	// removes every entry in that group. Returns the number removed.
	InvalidateRaw(raw string) int

	// InvalidateAll clears the cache, returning the number of entries removed.
	InvalidateAll() int

	// Stats reports entry count, total payload bytes, and the age of the
	// oldest entry.
	Stats() (Stats, error)
}
