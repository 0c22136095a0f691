// Package cache provides the render cache: an LRU of rendered artifacts
// keyed by a fingerprint of (file identity, render options). Each entry
// remembers the source file and its modification time so that artifacts
// can be invalidated by file or by age.
//
// Nodes live in an arena slice and link to each other by index, with a
// free list for reuse. A key lookup map and a per-file secondary index
// point into the arena.
package cache

import (
	"sync"
	"time"
)

// DefaultCapacity is used when New is given a non-positive capacity.
const DefaultCapacity = 100

// nilSlot marks the absence of a neighbor in the arena list.
const nilSlot int32 = -1

// Artifact is the cached result of rendering one file.
type Artifact struct {
	HTML       string         `json:"html"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	RenderedAt time.Time      `json:"rendered_at,omitempty"`
}

// Entry is a cache record as exposed by Entries.
type Entry struct {
	Key       string
	Value     Artifact
	FilePath  string
	FileMtime time.Time
	Timestamp time.Time
}

// writtenAt is the time used for age-based expiry. A render time carried
// by the artifact is more specific than the cache write time.
func (e *Entry) writtenAt() time.Time {
	if !e.Value.RenderedAt.IsZero() {
		return e.Value.RenderedAt
	}
	return e.Timestamp
}

type node struct {
	entry      Entry
	prev, next int32
	inUse      bool
}

// Stats reports cache counters.
type Stats struct {
	Hits          int64   `json:"hits"`
	Misses        int64   `json:"misses"`
	Evictions     int64   `json:"evictions"`
	Invalidations int64   `json:"invalidations"`
	HitRate       float64 `json:"hit_rate"`
	Size          int     `json:"size"`
	Capacity      int     `json:"capacity"`
}

// Option configures a RenderCache.
type Option func(*RenderCache)

// WithClock replaces time.Now for write timestamps and age checks.
func WithClock(now func() time.Time) Option {
	return func(c *RenderCache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithEvictHook registers fn to be called for every entry dropped by LRU
// eviction. fn runs with the cache lock held and must not call back into
// the cache.
func WithEvictHook(fn func(Entry)) Option {
	return func(c *RenderCache) {
		c.onEvict = fn
	}
}

// RenderCache is a fixed-capacity LRU cache of rendered artifacts.
// It is safe for concurrent use.
type RenderCache struct {
	mu       sync.Mutex
	capacity int
	now      func() time.Time
	onEvict  func(Entry)

	nodes  []node
	free   []int32
	head   int32 // most recently used
	tail   int32 // least recently used
	lookup map[string]int32
	byFile map[string]map[int32]struct{}

	hits          int64
	misses        int64
	evictions     int64
	invalidations int64
}

// New creates a RenderCache holding at most capacity entries.
func New(capacity int, opts ...Option) *RenderCache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	c := &RenderCache{
		capacity: capacity,
		now:      time.Now,
		nodes:    make([]node, 0, capacity),
		head:     nilSlot,
		tail:     nilSlot,
		lookup:   make(map[string]int32, capacity),
		byFile:   make(map[string]map[int32]struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Get returns the artifact stored under key and marks it most recently used.
// Freshness is not checked here; stale entries are removed by invalidation.
func (c *RenderCache) Get(key string) (Artifact, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.lookup[key]
	if !ok {
		c.misses++
		return Artifact{}, false
	}

	c.hits++
	c.moveToFront(slot)
	return c.nodes[slot].entry.Value, true
}

// Has reports whether key is cached without touching recency or counters.
func (c *RenderCache) Has(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.lookup[key]
	return ok
}

// Set stores value under key. A new key on a full cache evicts the least
// recently used entry first.
func (c *RenderCache) Set(key string, value Artifact, filePath string, fileMtime time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()

	if slot, ok := c.lookup[key]; ok {
		n := &c.nodes[slot]
		if n.entry.FilePath != filePath {
			c.unindexFile(n.entry.FilePath, slot)
			c.indexFile(filePath, slot)
		}
		n.entry.Value = value
		n.entry.FilePath = filePath
		n.entry.FileMtime = fileMtime
		n.entry.Timestamp = now
		c.moveToFront(slot)
		return
	}

	if len(c.lookup) >= c.capacity {
		c.evictTail()
	}

	slot := c.alloc()
	c.nodes[slot] = node{
		entry: Entry{
			Key:       key,
			Value:     value,
			FilePath:  filePath,
			FileMtime: fileMtime,
			Timestamp: now,
		},
		prev:  nilSlot,
		next:  nilSlot,
		inUse: true,
	}
	c.lookup[key] = slot
	c.indexFile(filePath, slot)
	c.pushFront(slot)
}

// Delete removes key and reports whether it was present.
func (c *RenderCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	slot, ok := c.lookup[key]
	if !ok {
		return false
	}
	c.release(slot)
	return true
}

// InvalidateByFile removes every variant cached for filePath and returns
// how many were removed. When currentMtime is non-nil, entries whose
// recorded modification time equals it are still current and are kept.
func (c *RenderCache) InvalidateByFile(filePath string, currentMtime *time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	slots := c.byFile[filePath]
	if len(slots) == 0 {
		return 0
	}

	victims := make([]int32, 0, len(slots))
	for slot := range slots {
		if currentMtime != nil && c.nodes[slot].entry.FileMtime.Equal(*currentMtime) {
			continue
		}
		victims = append(victims, slot)
	}

	for _, slot := range victims {
		c.release(slot)
	}
	c.invalidations += int64(len(victims))
	return len(victims)
}

// InvalidateByAge removes entries written more than maxAge ago and returns
// how many were removed.
func (c *RenderCache) InvalidateByAge(maxAge time.Duration) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-maxAge)

	var victims []int32
	for slot := c.tail; slot != nilSlot; slot = c.nodes[slot].prev {
		if c.nodes[slot].entry.writtenAt().Before(cutoff) {
			victims = append(victims, slot)
		}
	}

	for _, slot := range victims {
		c.release(slot)
	}
	c.invalidations += int64(len(victims))
	return len(victims)
}

// Clear drops every entry. Counters are kept.
func (c *RenderCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nodes = c.nodes[:0]
	c.free = c.free[:0]
	c.head, c.tail = nilSlot, nilSlot
	c.lookup = make(map[string]int32, c.capacity)
	c.byFile = make(map[string]map[int32]struct{})
}

// Len returns the number of cached entries.
func (c *RenderCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.lookup)
}

// Capacity returns the maximum number of entries.
func (c *RenderCache) Capacity() int {
	return c.capacity
}

// Entries returns the cached entries from most to least recently used.
func (c *RenderCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Entry, 0, len(c.lookup))
	for slot := c.head; slot != nilSlot; slot = c.nodes[slot].next {
		out = append(out, c.nodes[slot].entry)
	}
	return out
}

// Stats returns a snapshot of the cache counters.
func (c *RenderCache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		Hits:          c.hits,
		Misses:        c.misses,
		Evictions:     c.evictions,
		Invalidations: c.invalidations,
		Size:          len(c.lookup),
		Capacity:      c.capacity,
	}
	if total := c.hits + c.misses; total > 0 {
		s.HitRate = float64(c.hits) / float64(total)
	}
	return s
}

// alloc returns a free arena slot, growing the arena if needed.
func (c *RenderCache) alloc() int32 {
	if n := len(c.free); n > 0 {
		slot := c.free[n-1]
		c.free = c.free[:n-1]
		return slot
	}
	c.nodes = append(c.nodes, node{})
	return int32(len(c.nodes) - 1)
}

// release unlinks slot, drops it from both indexes and frees it.
func (c *RenderCache) release(slot int32) {
	n := &c.nodes[slot]
	c.unlink(slot)
	delete(c.lookup, n.entry.Key)
	c.unindexFile(n.entry.FilePath, slot)
	*n = node{prev: nilSlot, next: nilSlot}
	c.free = append(c.free, slot)
}

func (c *RenderCache) evictTail() {
	slot := c.tail
	if slot == nilSlot {
		return
	}
	evicted := c.nodes[slot].entry
	c.release(slot)
	c.evictions++
	if c.onEvict != nil {
		c.onEvict(evicted)
	}
}

func (c *RenderCache) pushFront(slot int32) {
	n := &c.nodes[slot]
	n.prev = nilSlot
	n.next = c.head
	if c.head != nilSlot {
		c.nodes[c.head].prev = slot
	}
	c.head = slot
	if c.tail == nilSlot {
		c.tail = slot
	}
}

func (c *RenderCache) unlink(slot int32) {
	n := &c.nodes[slot]
	if n.prev != nilSlot {
		c.nodes[n.prev].next = n.next
	} else {
		c.head = n.next
	}
	if n.next != nilSlot {
		c.nodes[n.next].prev = n.prev
	} else {
		c.tail = n.prev
	}
	n.prev, n.next = nilSlot, nilSlot
}

func (c *RenderCache) moveToFront(slot int32) {
	if c.head == slot {
		return
	}
	c.unlink(slot)
	c.pushFront(slot)
}

func (c *RenderCache) indexFile(filePath string, slot int32) {
	set, ok := c.byFile[filePath]
	if !ok {
		set = make(map[int32]struct{})
		c.byFile[filePath] = set
	}
	set[slot] = struct{}{}
}

func (c *RenderCache) unindexFile(filePath string, slot int32) {
	set, ok := c.byFile[filePath]
	if !ok {
		return
	}
	delete(set, slot)
	if len(set) == 0 {
		delete(c.byFile, filePath)
	}
}
