package store_test

import (
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/docsweep/pkg/daemon/store"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

func openStore(t *testing.T, dir string) *store.Store {
	t.Helper()
	s, err := store.Open(dir)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleEntries(root string) []types.IndexEntry {
	mod := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	created := mod.Add(-time.Hour)
	return []types.IndexEntry{
		{
			Path: filepath.Join(root, "docs"), RelPath: "docs", Name: "docs",
			IsDir: true, ModTime: mod, CreateTime: created,
		},
		{
			Path: filepath.Join(root, "docs", "guide.md"), RelPath: "docs/guide.md", Name: "guide.md",
			Ext: ".md", Size: 4096, ModTime: mod, CreateTime: created,
		},
		{
			Path: filepath.Join(root, "README"), RelPath: "README", Name: "README",
			Size: 12, ModTime: mod.Add(time.Nanosecond),
		},
	}
}

func byRel(entries []types.IndexEntry) []types.IndexEntry {
	sort.Slice(entries, func(i, j int) bool { return entries[i].RelPath < entries[j].RelPath })
	return entries
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	root := "/srv/docs"
	s := openStore(t, t.TempDir())

	want := byRel(sampleEntries(root))
	require.NoError(t, s.Save(root, want))

	got, meta, err := s.Load(root)
	require.NoError(t, err)
	require.Len(t, got, len(want))
	assert.Equal(t, root, meta.Root)
	assert.Equal(t, len(want), meta.Count)

	got = byRel(got)
	for i := range want {
		w, g := want[i], got[i]
		assert.Equal(t, w.Path, g.Path)
		assert.Equal(t, w.RelPath, g.RelPath)
		assert.Equal(t, w.Name, g.Name)
		assert.Equal(t, w.Ext, g.Ext)
		assert.Equal(t, w.IsDir, g.IsDir)
		assert.Equal(t, w.Size, g.Size)
		assert.True(t, w.ModTime.Equal(g.ModTime), "mod time of %s", w.RelPath)
		assert.True(t, w.CreateTime.Equal(g.CreateTime), "create time of %s", w.RelPath)
	}
	assert.True(t, got[0].CreateTime.IsZero(), "zero times stay zero")
}

func TestSave_ReplacesPreviousSnapshot(t *testing.T) {
	root := "/srv/docs"
	s := openStore(t, t.TempDir())

	require.NoError(t, s.Save(root, sampleEntries(root)))
	require.NoError(t, s.Save(root, sampleEntries(root)[:1]))

	got, _, err := s.Load(root)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "docs", got[0].RelPath)
}

func TestLoad_NoSnapshot(t *testing.T) {
	s := openStore(t, t.TempDir())
	_, _, err := s.Load("/srv/docs")
	assert.True(t, errors.Is(err, store.ErrNoSnapshot))
}

func TestLoad_OtherRootIsIgnored(t *testing.T) {
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Save("/srv/docs", sampleEntries("/srv/docs")))

	_, _, err := s.Load("/srv/other")
	assert.True(t, errors.Is(err, store.ErrSnapshotMismatch))
}

func TestLoad_SchemaMismatchIsIgnored(t *testing.T) {
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Save("/srv/docs", sampleEntries("/srv/docs")))
	require.NoError(t, s.SetSchema(&store.Schema{Version: store.CurrentSchemaVersion + 1}))

	_, _, err := s.Load("/srv/docs")
	assert.True(t, errors.Is(err, store.ErrSnapshotMismatch))
}

func TestSnapshotSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := store.Open(dir)
	require.NoError(t, err)
	require.NoError(t, s.Save("/srv/docs", sampleEntries("/srv/docs")))
	require.NoError(t, s.Close())

	s = openStore(t, dir)
	got, _, err := s.Load("/srv/docs")
	require.NoError(t, err)
	assert.Len(t, got, 3)
	assert.Equal(t, store.CurrentSchemaVersion, s.GetSchema().Version)
}

func TestClear(t *testing.T) {
	s := openStore(t, t.TempDir())
	require.NoError(t, s.Save("/srv/docs", sampleEntries("/srv/docs")))
	require.NoError(t, s.Clear())

	_, err := s.Meta()
	assert.True(t, errors.Is(err, store.ErrNoSnapshot))
}
