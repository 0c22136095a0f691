package index

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

func file(rel string, size int64) types.IndexEntry {
	return types.IndexEntry{
		Path:    "/root/" + rel,
		RelPath: rel,
		Name:    baseName(rel),
		Size:    size,
		ModTime: time.Unix(1_700_000_000, 0),
	}
}

func dir(rel string) types.IndexEntry {
	e := file(rel, 0)
	e.IsDir = true
	return e
}

func baseName(rel string) string {
	for i := len(rel) - 1; i >= 0; i-- {
		if rel[i] == '/' {
			return rel[i+1:]
		}
	}
	return rel
}

func relPaths(entries []types.IndexEntry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.RelPath
	}
	return out
}

func TestFileIndex_AddOrUpdateKeepsPathsUnique(t *testing.T) {
	x := New()
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < 500; i++ {
		rel := fmt.Sprintf("d%d/f%d.md", rng.Intn(5), rng.Intn(20))
		x.AddOrUpdate(file(rel, int64(rng.Intn(1000))))
	}

	seen := make(map[string]bool)
	for _, e := range x.GetAll() {
		assert.False(t, seen[e.RelPath], "duplicate %s", e.RelPath)
		seen[e.RelPath] = true
	}
	assert.Equal(t, len(seen), x.Len())
}

func TestFileIndex_UpdateOverwritesInPlace(t *testing.T) {
	x := New()
	x.AddOrUpdate(file("a.md", 100))
	x.AddOrUpdate(file("a.md", 250))

	e, ok := x.Get("a.md")
	require.True(t, ok)
	assert.Equal(t, int64(250), e.Size)

	stats := x.Stats()
	assert.Equal(t, 1, stats.Count)
	assert.Equal(t, int64(250), stats.SizeTotal)
	assert.Equal(t, uint64(2), stats.Generation)
}

func TestFileIndex_RemoveSweepsDescendants(t *testing.T) {
	x := New()
	x.AddOrUpdateBatch([]types.IndexEntry{
		dir("docs"),
		file("docs/a.md", 1),
		dir("docs/sub"),
		file("docs/sub/b.md", 2),
		file("docsextra.md", 3),
		file("other/c.md", 4),
	})

	assert.True(t, x.Remove("docs"))
	assert.Equal(t, []string{"docsextra.md", "other/c.md"}, relPaths(x.GetAll()))

	stats := x.Stats()
	assert.Equal(t, 2, stats.Files)
	assert.Equal(t, 0, stats.Dirs)
	assert.Equal(t, int64(7), stats.SizeTotal)

	assert.False(t, x.Remove("docs"))
}

func TestFileIndex_RemovePrefixWithoutDirEntry(t *testing.T) {
	x := New()
	x.AddOrUpdateBatch([]types.IndexEntry{file("gone/a.md", 1), file("gone/b/c.md", 1)})

	removed := x.RemovePrefix("gone")
	assert.ElementsMatch(t, []string{"gone/a.md", "gone/b/c.md"}, relPaths(removed))
	assert.Equal(t, 0, x.Len())
}

func TestFileIndex_FileReplacingDirectoryDropsSubtree(t *testing.T) {
	x := New()
	x.AddOrUpdateBatch([]types.IndexEntry{dir("notes"), file("notes/a.md", 1)})
	x.AddOrUpdate(file("notes", 5))

	assert.Equal(t, []string{"notes"}, relPaths(x.GetAll()))
}

func TestFileIndex_ChildUnderFileReplacesIt(t *testing.T) {
	x := New()
	defer x.Close()
	x.AddOrUpdate(file("a", 3))

	out := x.ApplyBatch(context.Background(), Batch{Upserts: []types.IndexEntry{file("a/b.md", 1)}})

	assert.Equal(t, []string{"a"}, relPaths(out.Removed))
	assert.Equal(t, []string{"a/b.md"}, relPaths(out.Added))
	assert.Equal(t, []string{"a/b.md"}, relPaths(x.GetAll()))

	stats := x.Stats()
	assert.Equal(t, 1, stats.Files)
	assert.Equal(t, int64(1), stats.SizeTotal)
}

func TestFileIndex_UnchangedUpsertIsNotPublished(t *testing.T) {
	x := New()
	defer x.Close()
	x.AddOrUpdate(file("a.md", 10))
	before := x.Stats().Generation

	sub := x.Subscribe("", 4)
	out := x.ApplyBatch(context.Background(), Batch{Upserts: []types.IndexEntry{file("a.md", 10)}})

	assert.Zero(t, out.Len())
	assert.Equal(t, before, x.Stats().Generation)
	select {
	case got := <-sub.Events:
		t.Fatalf("unexpected batch %+v", got)
	default:
	}

	changed := file("a.md", 10)
	changed.ModTime = changed.ModTime.Add(time.Second)
	out = x.ApplyBatch(context.Background(), Batch{Upserts: []types.IndexEntry{changed}})
	assert.Equal(t, []string{"a.md"}, relPaths(out.Updated))
	got := <-sub.Events
	assert.Equal(t, []string{"a.md"}, relPaths(got.Updated))
}

func TestFileIndex_Search(t *testing.T) {
	x := New()
	x.AddOrUpdateBatch([]types.IndexEntry{
		file("guide.md", 1),
		file("docs/guide-advanced.md", 1),
		file("docs/user-guide.md", 1),
		file("guide/intro.md", 1),
		dir("guide"),
		file("README.md", 1),
	})

	got := relPaths(x.Search("guide", SearchOptions{}))
	assert.Equal(t, []string{
		// name prefix, shorter path first
		"guide",
		"guide.md",
		"docs/guide-advanced.md",
		// name substring
		"docs/user-guide.md",
		// path substring only
		"guide/intro.md",
	}, got)

	assert.Equal(t, []string{"README.md"}, relPaths(x.Search("readme", SearchOptions{})))
	assert.Empty(t, x.Search("readme", SearchOptions{CaseSensitive: true}))
	assert.Empty(t, x.Search("  ", SearchOptions{}))

	assert.Equal(t, []string{"guide"}, relPaths(x.Search("guide", SearchOptions{DirsOnly: true})))
	assert.Len(t, x.Search("guide", SearchOptions{FilesOnly: true}), 4)
	assert.Len(t, x.Search("guide", SearchOptions{Limit: 2}), 2)
}

func TestFileIndex_Children(t *testing.T) {
	x := New()
	x.AddOrUpdateBatch([]types.IndexEntry{dir("a"), file("a/b.md", 1), dir("a/c"), file("a/c/d.md", 1), file("e.md", 1)})

	assert.Equal(t, []string{"a", "e.md"}, relPaths(x.Children("")))
	assert.Equal(t, []string{"a/b.md", "a/c"}, relPaths(x.Children("a")))
}

func TestFileIndex_IgnoresRootEntry(t *testing.T) {
	x := New()
	x.AddOrUpdate(types.IndexEntry{RelPath: ".", IsDir: true})
	x.AddOrUpdate(types.IndexEntry{RelPath: ""})
	assert.Equal(t, 0, x.Len())
}

func TestFileIndex_BatchIsAtomicForReaders(t *testing.T) {
	x := New()
	const size = 200

	batch := func(gen int) []types.IndexEntry {
		entries := make([]types.IndexEntry, size)
		for i := range entries {
			entries[i] = file(fmt.Sprintf("f%03d.md", i), int64(gen))
		}
		return entries
	}
	x.AddOrUpdateBatch(batch(0))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; ctx.Err() == nil; gen++ {
			x.AddOrUpdateBatch(batch(gen))
		}
	}()

	for i := 0; i < 200; i++ {
		all := x.GetAll()
		require.Len(t, all, size)
		for _, e := range all {
			require.Equal(t, all[0].Size, e.Size, "reader observed a partially applied batch")
		}
	}
	cancel()
	wg.Wait()
}

func TestFileIndex_SubscribersReceiveBatches(t *testing.T) {
	x := New()
	defer x.Close()

	sub := x.Subscribe("", 8)
	docs := x.Subscribe("docs", 8)

	x.AddOrUpdateBatch([]types.IndexEntry{file("a.md", 1), file("docs/b.md", 1)})
	x.AddOrUpdate(file("a.md", 2))
	x.Remove("docs")

	first := <-sub.Events
	assert.ElementsMatch(t, []string{"a.md", "docs/b.md"}, relPaths(first.Added))

	second := <-sub.Events
	assert.Equal(t, []string{"a.md"}, relPaths(second.Updated))
	assert.Greater(t, second.Generation, first.Generation)

	third := <-sub.Events
	assert.Equal(t, []string{"docs/b.md"}, relPaths(third.Removed))

	got := <-docs.Events
	assert.Equal(t, []string{"docs/b.md"}, relPaths(got.Added))
	got = <-docs.Events
	assert.Equal(t, []string{"docs/b.md"}, relPaths(got.Removed))

	assert.Equal(t, 2, x.Stats().Subscribers)
}

func TestFileIndex_SubscriberMayReadIndex(t *testing.T) {
	x := New()
	defer x.Close()

	sub := x.Subscribe("", 1)
	done := make(chan int)
	go func() {
		for range sub.Events {
			done <- x.Len()
		}
	}()

	x.AddOrUpdate(file("a.md", 1))
	select {
	case n := <-done:
		assert.Equal(t, 1, n)
	case <-time.After(time.Second):
		t.Fatal("subscriber deadlocked reading the index")
	}
}

func TestFileIndex_ReplacePublishesDifference(t *testing.T) {
	x := New()
	defer x.Close()
	x.AddOrUpdateBatch([]types.IndexEntry{file("keep.md", 1), file("change.md", 1), file("drop.md", 1)})

	sub := x.Subscribe("", 4)
	out := x.Replace(context.Background(), []types.IndexEntry{file("keep.md", 1), file("change.md", 9), file("new.md", 1)})

	assert.Equal(t, []string{"new.md"}, relPaths(out.Added))
	assert.Equal(t, []string{"change.md"}, relPaths(out.Updated))
	assert.Equal(t, []string{"drop.md"}, relPaths(out.Removed))
	assert.Equal(t, []string{"change.md", "keep.md", "new.md"}, relPaths(x.GetAll()))

	got := <-sub.Events
	assert.Equal(t, 3, got.Len())
}

func TestFileIndex_Clear(t *testing.T) {
	x := New()
	x.AddOrUpdateBatch([]types.IndexEntry{dir("a"), file("a/b.md", 10)})
	x.Clear()

	stats := x.Stats()
	assert.Equal(t, 0, stats.Count)
	assert.Equal(t, int64(0), stats.SizeTotal)
	assert.Empty(t, x.GetAll())
}
