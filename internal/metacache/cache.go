// Package metacache holds drive metadata keyed by normalized path: one
// record per known node and complete, ordered child listings per directory.
// Entries expire after a TTL. A listing is either absent or a complete
// snapshot; it is replaced in a single step and never mutated piecemeal.
package metacache

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tonimelisma/graphfs/internal/metrics"
)

// Kind distinguishes files from directories.
type Kind int

const (
	KindFile Kind = iota
	KindDir
)

func (k Kind) String() string {
	if k == KindDir {
		return "directory"
	}

	return "file"
}

// Record is the cached metadata of one drive node.
type Record struct {
	ID           string
	Path         string
	Name         string
	Kind         Kind
	Size         int64
	ETag         string
	CTag         string
	QuickXorHash string
	MimeType     string
	ModTime      time.Time
	CreatedAt    time.Time
	FetchedAt    time.Time
}

// IsDir reports whether the record is a directory.
func (r Record) IsDir() bool { return r.Kind == KindDir }

type listing struct {
	children  []string
	fetchedAt time.Time
}

// Cache is safe for concurrent use. It never performs I/O.
type Cache struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time

	mu       sync.RWMutex
	records  map[string]Record
	listings map[string]listing
	paths    map[string]string // item ID -> path
}

// New creates a cache whose entries stay fresh for ttl.
// A non-positive ttl disables caching: every lookup misses.
func New(ttl time.Duration, logger *slog.Logger) *Cache {
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
		records:  make(map[string]Record),
		listings: make(map[string]listing),
		paths:    make(map[string]string),
	}
}

func (c *Cache) fresh(fetchedAt time.Time) bool {
	return c.ttl > 0 && c.now().Sub(fetchedAt) < c.ttl
}

// Get returns the record for p if it is present and fresh.
func (c *Cache) Get(p string) (Record, bool) {
	c.mu.RLock()
	rec, ok := c.records[p]
	c.mu.RUnlock()

	hit := ok && c.fresh(rec.FetchedAt)
	metrics.RecordCacheLookup("record", hit)

	return rec, hit
}

// Peek returns the record for p regardless of age, so a stale entry's ID
// can be used to revalidate it.
func (c *Cache) Peek(p string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rec, ok := c.records[p]

	return rec, ok
}

// PathByID returns the last path a node ID was cached under.
func (c *Cache) PathByID(id string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	p, ok := c.paths[id]

	return p, ok
}

// Put stores or replaces a record. A zero FetchedAt is set to now.
// If the node used to live at another path, that entry is dropped.
func (c *Cache) Put(rec Record) {
	if rec.FetchedAt.IsZero() {
		rec.FetchedAt = c.now()
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.putLocked(rec)
}

func (c *Cache) putLocked(rec Record) {
	if old, ok := c.paths[rec.ID]; ok && old != rec.Path {
		if prev, ok := c.records[old]; ok && prev.ID == rec.ID {
			c.evictTreeLocked(old)
		}
	}

	if prev, ok := c.records[rec.Path]; ok && prev.ID != rec.ID {
		// A different node now occupies the path; its old subtree is stale.
		c.evictTreeLocked(rec.Path)
	}

	c.records[rec.Path] = rec
	c.paths[rec.ID] = rec.Path
}

// Listing returns the children of dir in server order if a fresh, complete
// listing is cached.
func (c *Cache) Listing(dir string) ([]Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	l, ok := c.listings[dir]
	if !ok || !c.fresh(l.fetchedAt) {
		metrics.RecordCacheLookup("listing", false)
		return nil, false
	}

	out := make([]Record, 0, len(l.children))
	for _, child := range l.children {
		rec, ok := c.records[child]
		if !ok {
			metrics.RecordCacheLookup("listing", false)
			return nil, false
		}

		out = append(out, rec)
	}

	metrics.RecordCacheLookup("listing", true)

	return out, true
}

// ReplaceListing atomically installs children as the complete listing of
// dir. Children previously listed under dir but absent now are evicted
// together with anything cached beneath them.
func (c *Cache) ReplaceListing(dir string, children []Record) {
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()

	keep := make(map[string]bool, len(children))
	names := make([]string, 0, len(children))

	for _, rec := range children {
		keep[rec.Path] = true
		names = append(names, rec.Path)
	}

	if old, ok := c.listings[dir]; ok {
		for _, p := range old.children {
			if !keep[p] {
				c.evictTreeLocked(p)
			}
		}
	}

	for _, rec := range children {
		if rec.FetchedAt.IsZero() {
			rec.FetchedAt = now
		}

		c.putLocked(rec)
	}

	c.listings[dir] = listing{children: names, fetchedAt: now}

	c.logger.Debug("listing replaced",
		slog.String("path", dir),
		slog.Int("count", len(children)),
	)
}

// Invalidate removes the record at p and, for a directory, its listing and
// everything cached beneath it.
func (c *Cache) Invalidate(p string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.evictTreeLocked(p)

	c.logger.Debug("cache invalidated", slog.String("path", p))
}

// InvalidateListing drops the listing of dir but keeps the records.
func (c *Cache) InvalidateListing(dir string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.listings, dir)
}

// Clear drops everything.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.records = make(map[string]Record)
	c.listings = make(map[string]listing)
	c.paths = make(map[string]string)
}

// NearestDir returns the deepest fresh directory record that is a strict
// ancestor of p, or false if none (not even Root) is cached.
func (c *Cache) NearestDir(p string) (Record, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for dir := Parent(p); ; dir = Parent(dir) {
		if rec, ok := c.records[dir]; ok && rec.IsDir() && c.fresh(rec.FetchedAt) {
			return rec, true
		}

		if dir == Root {
			return Record{}, false
		}
	}
}

// Len returns the number of cached records.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return len(c.records)
}

// evictTreeLocked removes p and every cached path beneath it.
func (c *Cache) evictTreeLocked(p string) {
	prefix := p + "/"
	if p == Root {
		prefix = Root
	}

	for key, rec := range c.records {
		if key == p || strings.HasPrefix(key, prefix) {
			delete(c.records, key)

			if c.paths[rec.ID] == key {
				delete(c.paths, rec.ID)
			}
		}
	}

	for key := range c.listings {
		if key == p || strings.HasPrefix(key, prefix) {
			delete(c.listings, key)
		}
	}
}
