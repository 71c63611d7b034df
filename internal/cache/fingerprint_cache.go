package cache

import (
	"sync/atomic"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/JacksonYang0315/rmf-analyzer/internal/domain"
)

// DefaultTTL is how long a parse result stays valid after insertion
const DefaultTTL = 30 * time.Minute

// entry is never modified after insertion; Put replaces it wholesale
type entry struct {
	records    []domain.Record
	recordedAt time.Time
}

// FingerprintCache maps file fingerprints to previously extracted records.
// It is safe for concurrent use by ingestion workers. Only successful parses
// should be stored.
type FingerprintCache struct {
	items *gocache.Cache
	ttl   time.Duration

	// Metrics (atomic for lock-free reads).
	hits   atomic.Int64
	misses atomic.Int64
}

// Stats is a point-in-time view of cache usage
type Stats struct {
	Entries int   `json:"cache_entries"`
	Hits    int64 `json:"cache_hits"`
	Misses  int64 `json:"cache_misses"`
}

// NewFingerprintCache creates an empty cache whose entries expire ttl after insertion
func NewFingerprintCache(ttl time.Duration) *FingerprintCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &FingerprintCache{
		items: gocache.New(ttl, ttl),
		ttl:   ttl,
	}
}

// Get returns the records stored for fingerprint. An expired entry is a miss
// and is removed.
func (c *FingerprintCache) Get(fingerprint string) ([]domain.Record, bool) {
	value, found := c.items.Get(fingerprint)
	if !found {
		c.misses.Add(1)
		// go-cache hides expired items from Get but keeps them until swept.
		// Equal fingerprints carry equal records, so dropping a concurrent
		// fresh Put here costs one re-parse at most.
		c.items.Delete(fingerprint)
		return nil, false
	}

	e, ok := value.(entry)
	if !ok {
		// Foreign value under our key: treat as a miss and let the caller re-parse.
		c.items.Delete(fingerprint)
		c.misses.Add(1)
		return nil, false
	}

	c.hits.Add(1)
	return e.records, true
}

// CountMiss records a lookup that could not reach the cache, such as a file
// whose fingerprint is unavailable
func (c *FingerprintCache) CountMiss() {
	c.misses.Add(1)
}

// Put stores records for fingerprint, replacing any previous entry
func (c *FingerprintCache) Put(fingerprint string, records []domain.Record) {
	c.items.Set(fingerprint, entry{records: records, recordedAt: time.Now()}, gocache.DefaultExpiration)
}

// RecordedAt returns when the live entry for fingerprint was stored
func (c *FingerprintCache) RecordedAt(fingerprint string) (time.Time, bool) {
	value, found := c.items.Get(fingerprint)
	if !found {
		return time.Time{}, false
	}
	e, ok := value.(entry)
	if !ok {
		return time.Time{}, false
	}
	return e.recordedAt, true
}

// Clear removes every entry. Used when the underlying file set is wiped.
func (c *FingerprintCache) Clear() {
	c.items.Flush()
}

// Len returns the number of stored entries, including expired ones not yet swept
func (c *FingerprintCache) Len() int {
	return c.items.ItemCount()
}

// TTL returns the configured entry lifetime
func (c *FingerprintCache) TTL() time.Duration {
	return c.ttl
}

// Stats returns current entry count and hit/miss counters
func (c *FingerprintCache) Stats() Stats {
	return Stats{
		Entries: c.Len(),
		Hits:    c.hits.Load(),
		Misses:  c.misses.Load(),
	}
}
