package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

func sampleResult() *Result {
	mod := time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	entries := []types.IndexEntry{
		{Path: "/docs/guide", RelPath: "guide", Name: "guide", IsDir: true, ModTime: mod},
		{Path: "/docs/guide/a.md", RelPath: "guide/a.md", Name: "a.md", Ext: ".md", Size: 2048, ModTime: mod},
		{Path: "/docs/b.md", RelPath: "b.md", Name: "b.md", Ext: ".md", Size: 100, ModTime: mod},
	}
	r := NewResult("/docs", entries, []types.ScanWarning{{Path: "/docs/locked", Error: "permission denied"}})
	r.Stats = Stats{DirsScanned: 2, FilesScanned: 5, Duration: 1500 * time.Millisecond}
	r.Query = "md"
	return r
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"json", "jsonl", "plain", "pretty", "yaml"}, Available())

	for _, name := range Available() {
		f, err := Get(name)
		require.NoError(t, err)
		assert.NotNil(t, f)
	}

	_, err := Get("xml")
	assert.Error(t, err)
}

func TestResult_Totals(t *testing.T) {
	r := sampleResult()
	assert.Equal(t, 2, r.Files())
	assert.Equal(t, int64(2148), r.TotalSize())
	assert.Equal(t, []string{"/docs/locked: permission denied"}, r.Warnings)
	assert.Equal(t, "2.0 KiB", r.Entries[1].SizeHuman)
}

func TestJSONFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, sampleResult()))

	var doc document
	require.NoError(t, json.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Entries, 3)
	assert.Equal(t, "guide/a.md", doc.Entries[1].RelPath)
	assert.Equal(t, 2, doc.Meta.TotalFiles)
	assert.Equal(t, "md", doc.Meta.Query)
	assert.Equal(t, "1.5s", doc.Stats.Duration)
}

func TestJSONFormatter_EmptyEntriesIsArray(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONFormatter{}).Format(&buf, &Result{Source: "/docs"}))
	assert.Contains(t, buf.String(), `"entries": []`)
}

func TestJSONLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONLFormatter{}).Format(&buf, sampleResult()))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	var e Entry
	require.NoError(t, json.Unmarshal([]byte(lines[2]), &e))
	assert.Equal(t, "b.md", e.RelPath)
}

func TestYAMLFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&YAMLFormatter{}).Format(&buf, sampleResult()))

	var doc document
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &doc))
	assert.Len(t, doc.Entries, 3)
	assert.Equal(t, "/docs", doc.Meta.Source)
	assert.Equal(t, []string{"/docs/locked: permission denied"}, doc.Meta.Warnings)
}

func TestPlainFormatter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PlainFormatter{}).Format(&buf, sampleResult()))

	out := buf.String()
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "TYPE"))
	assert.Contains(t, lines[1], "dir")
	assert.Contains(t, lines[1], "guide")
	assert.Contains(t, lines[2], "2.0 KiB")
	assert.NotContains(t, out, "\x1b[", "plain output carries no ANSI escapes")
}

func TestPrettyFormatter(t *testing.T) {
	f := &PrettyFormatter{now: func() time.Time { return time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC) }}

	var buf bytes.Buffer
	require.NoError(t, f.Format(&buf, sampleResult()))

	out := buf.String()
	assert.Contains(t, out, "/docs")
	assert.Contains(t, out, "guide/")
	assert.Contains(t, out, "guide/a.md")
	assert.Contains(t, out, "2 hours ago")
	assert.Contains(t, out, "permission denied")
}

func TestPrettyFormatter_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PrettyFormatter{}).Format(&buf, &Result{Source: "/docs"}))
	assert.Contains(t, buf.String(), "No entries")
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{250 * time.Millisecond, "250ms"},
		{1500 * time.Millisecond, "1.5s"},
		{90 * time.Second, "1m 30s"},
		{2*time.Hour + 5*time.Minute, "2h 5m"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}
