package types

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestNormalizeRelPath(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{name: "plain file", input: "a.md", want: "a.md"},
		{name: "nested", input: "docs/guide/a.md", want: "docs/guide/a.md"},
		{name: "leading dot slash", input: "./docs/a.md", want: "docs/a.md"},
		{name: "leading slash", input: "/docs/a.md", want: "docs/a.md"},
		{name: "trailing slash", input: "docs/", want: "docs"},
		{name: "dot", input: ".", want: ""},
		{name: "empty", input: "", want: ""},
		{name: "double slash", input: "docs//a.md", want: "docs/a.md"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeRelPath(tt.input); got != tt.want {
				t.Errorf("NormalizeRelPath(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestParentRelPath(t *testing.T) {
	if got := ParentRelPath("a.md"); got != "" {
		t.Errorf("ParentRelPath(a.md) = %q, want empty", got)
	}
	if got := ParentRelPath("docs/guide/a.md"); got != "docs/guide" {
		t.Errorf("ParentRelPath = %q, want docs/guide", got)
	}
}

func TestIsUnder(t *testing.T) {
	tests := []struct {
		rel, dir string
		want     bool
	}{
		{"docs/a.md", "docs", true},
		{"docs/sub/a.md", "docs", true},
		{"docs", "docs", false},
		{"docsextra/a.md", "docs", false},
		{"other/a.md", "docs", false},
	}
	for _, tt := range tests {
		if got := IsUnder(tt.rel, tt.dir); got != tt.want {
			t.Errorf("IsUnder(%q, %q) = %v, want %v", tt.rel, tt.dir, got, tt.want)
		}
	}
}

func TestRelPathOf(t *testing.T) {
	root := t.TempDir()

	rel, err := RelPathOf(root, filepath.Join(root, "docs", "a.md"))
	if err != nil {
		t.Fatalf("RelPathOf() error = %v", err)
	}
	if rel != "docs/a.md" {
		t.Errorf("RelPathOf() = %q, want docs/a.md", rel)
	}

	if _, err := RelPathOf(root, root); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("RelPathOf(root) error = %v, want ErrOutsideRoot", err)
	}
	if _, err := RelPathOf(root, filepath.Dir(root)); !errors.Is(err, ErrOutsideRoot) {
		t.Errorf("RelPathOf(parent) error = %v, want ErrOutsideRoot", err)
	}
}

func TestNewIndexEntry(t *testing.T) {
	root := t.TempDir()
	file := filepath.Join(root, "Guide.MD")
	if err := os.WriteFile(file, make([]byte, 100), 0o644); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(file)
	if err != nil {
		t.Fatal(err)
	}

	entry, err := NewIndexEntry(root, file, info, time.Time{})
	if err != nil {
		t.Fatalf("NewIndexEntry() error = %v", err)
	}

	if entry.RelPath != "Guide.MD" {
		t.Errorf("RelPath = %q", entry.RelPath)
	}
	if entry.Name != "Guide.MD" {
		t.Errorf("Name = %q", entry.Name)
	}
	if entry.Ext != ".md" {
		t.Errorf("Ext = %q, want .md", entry.Ext)
	}
	if entry.Size != 100 {
		t.Errorf("Size = %d, want 100", entry.Size)
	}
	if !entry.CreateTime.Equal(info.ModTime()) {
		t.Errorf("CreateTime should fall back to ModTime")
	}
	if entry.Depth() != 1 {
		t.Errorf("Depth() = %d, want 1", entry.Depth())
	}
}

func TestNewIndexEntry_DirectoryHasZeroSize(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "docs.d")
	if err := os.Mkdir(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	info, err := os.Stat(dir)
	if err != nil {
		t.Fatal(err)
	}

	entry, err := NewIndexEntry(root, dir, info, time.Time{})
	if err != nil {
		t.Fatalf("NewIndexEntry() error = %v", err)
	}
	if !entry.IsDir || entry.Size != 0 || entry.Ext != "" {
		t.Errorf("unexpected dir entry: %+v", entry)
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		input int64
		want  string
	}{
		{0, "0 B"},
		{1024, "1.0 KiB"},
		{1536 * 1024, "1.5 MiB"},
	}
	for _, tt := range tests {
		if got := FormatSize(tt.input); got != tt.want {
			t.Errorf("FormatSize(%d) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
