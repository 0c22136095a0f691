// Package index provides FileIndex, the in-memory map of every admitted
// file and directory below the root, keyed by relative path.
//
// Writers take the exclusive lock for a whole batch so readers never
// observe a partially applied batch. Each committed batch is published to
// subscribers once, after the lock has been released, so a subscriber may
// call back into the index without deadlocking.
package index

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jamesainslie/docsweep/pkg/daemon/broadcaster"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// Batch is a set of mutations applied atomically.
// Removes are applied before upserts.
type Batch struct {
	Upserts []types.IndexEntry
	Removes []string
}

// SearchOptions controls Search.
type SearchOptions struct {
	// Limit caps the result count. Zero means no limit.
	Limit int

	// CaseSensitive disables case folding.
	CaseSensitive bool

	// DirsOnly and FilesOnly restrict the kind of entries returned.
	DirsOnly  bool
	FilesOnly bool
}

// Stats summarizes the index.
type Stats struct {
	Count                int       `json:"count"`
	Files                int       `json:"files"`
	Dirs                 int       `json:"dirs"`
	SizeTotal            int64     `json:"size_total"`
	LastModified         time.Time `json:"last_modified"`
	Generation           uint64    `json:"generation"`
	Subscribers          int       `json:"subscribers"`
	PendingNotifications int64     `json:"pending_notifications"`
}

// FileIndex is safe for concurrent use.
type FileIndex struct {
	mu         sync.RWMutex
	entries    map[string]types.IndexEntry
	sizeTotal  int64
	files      int
	generation uint64
	updatedAt  time.Time

	// pubMu is taken before mu is released so batches are published in
	// commit order.
	pubMu  sync.Mutex
	bus    *broadcaster.Broadcaster
	logger *logging.Logger
}

// New creates an empty FileIndex.
func New() *FileIndex {
	return &FileIndex{
		entries: make(map[string]types.IndexEntry),
		bus:     broadcaster.New(),
		logger:  logging.Get("index"),
	}
}

// Subscribe registers for mutation batches touching relPrefix ("" for all).
func (x *FileIndex) Subscribe(relPrefix string, buffer int) *broadcaster.Subscriber {
	return x.bus.Subscribe(relPrefix, buffer)
}

// Unsubscribe removes a subscription created by Subscribe.
func (x *FileIndex) Unsubscribe(id string) {
	x.bus.Unsubscribe(id)
}

// Close releases all subscribers. The index stays readable.
func (x *FileIndex) Close() {
	x.bus.Close()
}

// AddOrUpdate inserts entry or replaces the entry with the same RelPath.
func (x *FileIndex) AddOrUpdate(entry types.IndexEntry) {
	x.ApplyBatch(context.Background(), Batch{Upserts: []types.IndexEntry{entry}})
}

// AddOrUpdateBatch upserts entries in one atomic step.
func (x *FileIndex) AddOrUpdateBatch(entries []types.IndexEntry) {
	x.ApplyBatch(context.Background(), Batch{Upserts: entries})
}

// Remove deletes relPath and every entry below it. It reports whether
// relPath itself was present.
func (x *FileIndex) Remove(relPath string) bool {
	relPath = types.NormalizeRelPath(relPath)
	x.mu.RLock()
	_, ok := x.entries[relPath]
	x.mu.RUnlock()

	x.ApplyBatch(context.Background(), Batch{Removes: []string{relPath}})
	return ok
}

// RemovePrefix deletes relPath and every descendant and returns the
// removed entries.
func (x *FileIndex) RemovePrefix(relPath string) []types.IndexEntry {
	return x.ApplyBatch(context.Background(), Batch{Removes: []string{relPath}}).Removed
}

// ApplyBatch applies removes and then upserts under one write lock and
// publishes the resulting mutations. Removing a path also removes its
// descendants. Entries without a RelPath are ignored, and an upsert that
// matches the stored entry is not reported.
func (x *FileIndex) ApplyBatch(ctx context.Context, batch Batch) broadcaster.MutationBatch {
	x.mu.Lock()
	var out broadcaster.MutationBatch

	for _, rel := range batch.Removes {
		rel = types.NormalizeRelPath(rel)
		if rel == "" {
			continue
		}
		out.Removed = append(out.Removed, x.removeLocked(rel)...)
	}

	for _, e := range batch.Upserts {
		e.RelPath = types.NormalizeRelPath(e.RelPath)
		if e.RelPath == "" {
			continue
		}
		if parent := types.ParentRelPath(e.RelPath); parent != "" {
			// The parent of an entry is always a directory.
			if p, ok := x.entries[parent]; ok && !p.IsDir {
				out.Removed = append(out.Removed, x.removeLocked(parent)...)
			}
		}
		if prev, ok := x.entries[e.RelPath]; ok {
			if sameEntry(prev, e) {
				continue
			}
			x.account(prev, -1)
			if prev.IsDir && !e.IsDir {
				// A directory replaced by a file takes its subtree with it.
				out.Removed = append(out.Removed, x.removeDescendantsLocked(e.RelPath)...)
			}
			out.Updated = append(out.Updated, e)
		} else {
			out.Added = append(out.Added, e)
		}
		x.entries[e.RelPath] = e
		x.account(e, 1)
	}

	if out.Len() > 0 {
		x.generation++
		x.updatedAt = time.Now()
	}
	out.Generation = x.generation
	x.pubMu.Lock()
	x.mu.Unlock()
	defer x.pubMu.Unlock()

	if out.Len() > 0 {
		x.logger.Debug("batch applied",
			"added", len(out.Added), "updated", len(out.Updated), "removed", len(out.Removed),
			"generation", out.Generation)
		x.bus.Publish(ctx, out)
	}
	return out
}

// Replace swaps the whole content for entries in one step. Subscribers
// receive the difference against the previous content.
func (x *FileIndex) Replace(ctx context.Context, entries []types.IndexEntry) broadcaster.MutationBatch {
	next := make(map[string]types.IndexEntry, len(entries))
	for _, e := range entries {
		e.RelPath = types.NormalizeRelPath(e.RelPath)
		if e.RelPath != "" {
			next[e.RelPath] = e
		}
	}

	x.mu.Lock()
	var out broadcaster.MutationBatch
	for rel, prev := range x.entries {
		if _, ok := next[rel]; !ok {
			out.Removed = append(out.Removed, prev)
		}
	}
	for rel, e := range next {
		prev, ok := x.entries[rel]
		switch {
		case !ok:
			out.Added = append(out.Added, e)
		case !sameEntry(prev, e):
			out.Updated = append(out.Updated, e)
		}
	}

	x.entries = next
	x.sizeTotal, x.files = 0, 0
	for _, e := range next {
		x.account(e, 1)
	}
	if out.Len() > 0 {
		x.generation++
	}
	x.updatedAt = time.Now()
	out.Generation = x.generation
	x.pubMu.Lock()
	x.mu.Unlock()
	defer x.pubMu.Unlock()

	x.logger.Debug("index replaced", "entries", len(next),
		"added", len(out.Added), "updated", len(out.Updated), "removed", len(out.Removed))
	x.bus.Publish(ctx, out)
	return out
}

// Get returns the entry for relPath.
func (x *FileIndex) Get(relPath string) (types.IndexEntry, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	e, ok := x.entries[types.NormalizeRelPath(relPath)]
	return e, ok
}

// GetAll returns every entry sorted by RelPath.
func (x *FileIndex) GetAll() []types.IndexEntry {
	x.mu.RLock()
	out := make([]types.IndexEntry, 0, len(x.entries))
	for _, e := range x.entries {
		out = append(out, e)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

// Children returns the direct children of dirRel ("" for the root),
// sorted by RelPath.
func (x *FileIndex) Children(dirRel string) []types.IndexEntry {
	dirRel = types.NormalizeRelPath(dirRel)

	x.mu.RLock()
	var out []types.IndexEntry
	for rel, e := range x.entries {
		if types.ParentRelPath(rel) == dirRel {
			out = append(out, e)
		}
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].RelPath < out[j].RelPath })
	return out
}

// Clear empties the index ahead of a full rescan. Subscribers are told
// about every removed entry.
func (x *FileIndex) Clear() {
	x.Replace(context.Background(), nil)
}

// Len returns the number of entries.
func (x *FileIndex) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.entries)
}

// Stats returns a summary of the index.
func (x *FileIndex) Stats() Stats {
	x.mu.RLock()
	s := Stats{
		Count:        len(x.entries),
		Files:        x.files,
		Dirs:         len(x.entries) - x.files,
		SizeTotal:    x.sizeTotal,
		LastModified: x.updatedAt,
		Generation:   x.generation,
	}
	x.mu.RUnlock()

	s.Subscribers = x.bus.SubscriberCount()
	s.PendingNotifications = x.bus.Pending()
	return s
}

// Search returns entries whose name or relative path contains query,
// ranked: name prefix match, then name substring, then path substring.
// Ties go to the shorter path, then lexical order. An empty query
// matches nothing.
func (x *FileIndex) Search(query string, opts SearchOptions) []types.IndexEntry {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil
	}
	if !opts.CaseSensitive {
		query = strings.ToLower(query)
	}

	type hit struct {
		entry types.IndexEntry
		rank  int
	}

	x.mu.RLock()
	var hits []hit
	for _, e := range x.entries {
		if opts.DirsOnly && !e.IsDir || opts.FilesOnly && e.IsDir {
			continue
		}
		name, rel := e.Name, e.RelPath
		if !opts.CaseSensitive {
			name, rel = strings.ToLower(name), strings.ToLower(rel)
		}
		switch {
		case strings.HasPrefix(name, query):
			hits = append(hits, hit{e, 0})
		case strings.Contains(name, query):
			hits = append(hits, hit{e, 1})
		case strings.Contains(rel, query):
			hits = append(hits, hit{e, 2})
		}
	}
	x.mu.RUnlock()

	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if a.rank != b.rank {
			return a.rank < b.rank
		}
		if len(a.entry.RelPath) != len(b.entry.RelPath) {
			return len(a.entry.RelPath) < len(b.entry.RelPath)
		}
		return a.entry.RelPath < b.entry.RelPath
	})

	if opts.Limit > 0 && len(hits) > opts.Limit {
		hits = hits[:opts.Limit]
	}

	out := make([]types.IndexEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out
}

// removeLocked deletes rel and its descendants. Must hold x.mu.
func (x *FileIndex) removeLocked(rel string) []types.IndexEntry {
	var removed []types.IndexEntry
	if e, ok := x.entries[rel]; ok {
		delete(x.entries, rel)
		x.account(e, -1)
		removed = append(removed, e)
	}
	return append(removed, x.removeDescendantsLocked(rel)...)
}

func (x *FileIndex) removeDescendantsLocked(rel string) []types.IndexEntry {
	var removed []types.IndexEntry
	for key, e := range x.entries {
		if types.IsUnder(key, rel) {
			delete(x.entries, key)
			x.account(e, -1)
			removed = append(removed, e)
		}
	}
	return removed
}

func (x *FileIndex) account(e types.IndexEntry, sign int) {
	if e.IsDir {
		return
	}
	x.files += sign
	x.sizeTotal += int64(sign) * e.Size
}

func sameEntry(a, b types.IndexEntry) bool {
	return a.IsDir == b.IsDir && a.Size == b.Size && a.ModTime.Equal(b.ModTime) &&
		a.CreateTime.Equal(b.CreateTime) && a.Path == b.Path
}
