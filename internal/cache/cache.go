// Package cache holds provider responses in memory, keyed by endpoint kind and
// normalized artist name, and tracks which entries still need to be persisted.
package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ademuri/beatfinder/internal/provider"
)

type Kind string

const (
	KindSimilar Kind = "similar"
	KindTags    Kind = "tags"
	KindSummary Kind = "info"
)

// Key identifies one cached response. Artist is always normalized.
type Key struct {
	Kind   Kind
	Artist string
	Param  string
}

func (k Key) String() string {
	if k.Param == "" {
		return fmt.Sprintf("%s_%s", k.Kind, k.Artist)
	}
	return fmt.Sprintf("%s_%s_%s", k.Kind, k.Artist, k.Param)
}

// Entry is one cached provider response. Exactly one of Similar, Tags and
// Summary is meaningful, selected by Kind. A nil slice with a non-zero FetchedAt
// is an explicit empty result (for example, the provider did not know the artist).
type Entry struct {
	Kind      Kind
	Artist    string
	Param     string
	FetchedAt time.Time

	Similar []provider.SimilarArtist
	Tags    []provider.Tag
	Summary *provider.Summary
}

func (e Entry) Key() Key {
	return Key{Kind: e.Kind, Artist: e.Artist, Param: e.Param}
}

var quoteReplacer = strings.NewReplacer(`"`, "", "'", "", "‘", "", "’", "", "“", "", "”", "")

// Normalize folds an artist name for matching: lower-cased, quote characters
// removed and runs of whitespace collapsed to a single space.
func Normalize(name string) string {
	n := strings.ToLower(name)
	n = quoteReplacer.Replace(n)
	return strings.Join(strings.Fields(n), " ")
}

// Backend is durable storage for cache entries.
type Backend interface {
	LoadCacheEntries(ctx context.Context) ([]Entry, error)
	// SaveCacheEntries upserts entries, keeping whichever side is newer.
	SaveCacheEntries(ctx context.Context, entries []Entry) error
	ClearCacheEntries(ctx context.Context) error
}

// Cache is safe for concurrent use. Reads take a shared lock.
type Cache struct {
	mu      sync.RWMutex
	entries map[Key]Entry
	dirty   map[Key]struct{}
	expiry  time.Duration
	now     func() time.Time
}

// New returns an empty cache. Entries older than expiry are treated as absent;
// a non-positive expiry means entries never expire.
func New(expiry time.Duration) *Cache {
	return &Cache{
		entries: make(map[Key]Entry),
		dirty:   make(map[Key]struct{}),
		expiry:  expiry,
		now:     time.Now,
	}
}

// SetClock replaces the time source.
func (c *Cache) SetClock(now func() time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = now
}

// Now returns the cache's current time.
func (c *Cache) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now()
}

func (c *Cache) valid(e Entry, now time.Time) bool {
	if c.expiry <= 0 {
		return true
	}
	return !now.After(e.FetchedAt.Add(c.expiry))
}

// Get returns the entry for k if present and unexpired.
func (c *Cache) Get(k Key) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[k]
	if !ok || !c.valid(e, c.now()) {
		return Entry{}, false
	}
	return e, true
}

// Put stores e, stamping FetchedAt with the current time if unset, and marks it
// for the next flush.
func (c *Cache) Put(e Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if e.FetchedAt.IsZero() {
		e.FetchedAt = c.now()
	}
	k := e.Key()
	c.entries[k] = e
	c.dirty[k] = struct{}{}
}

// Merge adds entries read from durable storage. An entry replaces an existing
// one only if it is newer. Merged entries are not marked dirty.
func (c *Cache) Merge(entries []Entry) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	merged := 0
	for _, e := range entries {
		k := e.Key()
		if cur, ok := c.entries[k]; ok && cur.FetchedAt.After(e.FetchedAt) {
			continue
		}
		c.entries[k] = e
		merged++
	}
	return merged
}

// Dirty returns a snapshot of the entries written since the last flush.
func (c *Cache) Dirty() []Entry {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Entry, 0, len(c.dirty))
	for k := range c.dirty {
		out = append(out, c.entries[k])
	}
	return out
}

// markClean clears the dirty flag for entries that have not been replaced
// since the snapshot was taken.
func (c *Cache) markClean(saved []Entry) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range saved {
		k := e.Key()
		if cur, ok := c.entries[k]; ok && cur.FetchedAt.Equal(e.FetchedAt) {
			delete(c.dirty, k)
		}
	}
}

// Load merges every entry from b into the cache.
func (c *Cache) Load(ctx context.Context, b Backend) (int, error) {
	entries, err := b.LoadCacheEntries(ctx)
	if err != nil {
		return 0, fmt.Errorf("loading cache entries: %w", err)
	}
	return c.Merge(entries), nil
}

// Flush writes the dirty entries to b. It returns the number of entries written.
func (c *Cache) Flush(ctx context.Context, b Backend) (int, error) {
	dirty := c.Dirty()
	if len(dirty) == 0 {
		return 0, nil
	}
	if err := b.SaveCacheEntries(ctx, dirty); err != nil {
		return 0, fmt.Errorf("saving %d cache entries: %w", len(dirty), err)
	}
	c.markClean(dirty)
	return len(dirty), nil
}

// Clear drops every entry from memory and, if b is non-nil, from durable storage.
func (c *Cache) Clear(ctx context.Context, b Backend) error {
	c.mu.Lock()
	c.entries = make(map[Key]Entry)
	c.dirty = make(map[Key]struct{})
	c.mu.Unlock()
	if b == nil {
		return nil
	}
	if err := b.ClearCacheEntries(ctx); err != nil {
		return fmt.Errorf("clearing cache: %w", err)
	}
	return nil
}

// Stats summarizes the cache contents.
type Stats struct {
	Total   int
	Expired int
	ByKind  map[Kind]int
	Oldest  time.Time
	Newest  time.Time
}

func (c *Cache) Stats() Stats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := c.now()
	s := Stats{ByKind: make(map[Kind]int)}
	for _, e := range c.entries {
		s.Total++
		if !c.valid(e, now) {
			s.Expired++
			continue
		}
		s.ByKind[e.Kind]++
		if s.Oldest.IsZero() || e.FetchedAt.Before(s.Oldest) {
			s.Oldest = e.FetchedAt
		}
		if e.FetchedAt.After(s.Newest) {
			s.Newest = e.FetchedAt
		}
	}
	return s
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
