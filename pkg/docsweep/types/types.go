// Package types provides core data types for docsweep.
// It includes the index entry describing one filesystem node, scan results
// and warnings, along with helpers for normalizing relative paths.
package types

import (
	"io/fs"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// Size constants for binary (IEC) units.
const (
	KiB int64 = 1024
	MiB int64 = 1024 * KiB
	GiB int64 = 1024 * MiB
)

// IndexEntry describes a single file or directory below the index root.
// RelPath is the primary key: it uses '/' separators and has no leading slash.
type IndexEntry struct {
	// Path is the absolute, cleaned path of the node.
	Path string `json:"path"`

	// RelPath is the path relative to the root, normalized with '/'.
	RelPath string `json:"rel_path"`

	// Name is the last segment of RelPath.
	Name string `json:"name"`

	// Ext is the lowercase extension of Name including the dot (e.g. ".md").
	Ext string `json:"ext,omitempty"`

	// IsDir reports whether the node is a directory.
	IsDir bool `json:"is_dir"`

	// Size is the file size in bytes (0 for directories).
	Size int64 `json:"size"`

	// ModTime is the last modification time.
	ModTime time.Time `json:"mod_time"`

	// CreateTime is the creation (birth) time, or ModTime where the
	// platform does not expose one.
	CreateTime time.Time `json:"create_time"`
}

// HumanSize returns the entry size formatted with IEC units.
func (e *IndexEntry) HumanSize() string {
	return FormatSize(e.Size)
}

// Depth returns the number of segments in RelPath.
func (e *IndexEntry) Depth() int {
	if e.RelPath == "" {
		return 0
	}
	return strings.Count(e.RelPath, "/") + 1
}

// NewIndexEntry builds an entry for absPath below root from its file info.
// The create time is supplied by the caller since obtaining it is
// platform specific.
func NewIndexEntry(root, absPath string, info fs.FileInfo, created time.Time) (IndexEntry, error) {
	rel, err := RelPathOf(root, absPath)
	if err != nil {
		return IndexEntry{}, err
	}

	isDir := info.IsDir()
	size := info.Size()
	if isDir {
		size = 0
	}
	if created.IsZero() {
		created = info.ModTime()
	}

	name := path.Base(rel)
	ext := ""
	if !isDir {
		ext = strings.ToLower(path.Ext(name))
	}

	return IndexEntry{
		Path:       filepath.Clean(absPath),
		RelPath:    rel,
		Name:       name,
		Ext:        ext,
		IsDir:      isDir,
		Size:       size,
		ModTime:    info.ModTime(),
		CreateTime: created,
	}, nil
}

// RelPathOf returns the normalized relative path of absPath under root.
// It returns ErrOutsideRoot when absPath is the root itself or lies outside it.
func RelPathOf(root, absPath string) (string, error) {
	rel, err := filepath.Rel(filepath.Clean(root), filepath.Clean(absPath))
	if err != nil {
		return "", err
	}
	rel = NormalizeRelPath(rel)
	if rel == "" || rel == ".." || strings.HasPrefix(rel, "../") {
		return "", ErrOutsideRoot
	}
	return rel, nil
}

// NormalizeRelPath converts an OS relative path to the index key form:
// forward slashes, no leading "./" or "/", no trailing slash.
func NormalizeRelPath(p string) string {
	p = filepath.ToSlash(p)
	p = path.Clean("/" + p)
	p = strings.TrimPrefix(p, "/")
	if p == "." {
		return ""
	}
	return p
}

// ParentRelPath returns the relative path of the parent directory,
// or "" when relPath sits directly under the root.
func ParentRelPath(relPath string) string {
	idx := strings.LastIndexByte(relPath, '/')
	if idx < 0 {
		return ""
	}
	return relPath[:idx]
}

// IsUnder reports whether relPath is strictly below dirRel.
func IsUnder(relPath, dirRel string) bool {
	return len(relPath) > len(dirRel) && relPath[len(dirRel)] == '/' && strings.HasPrefix(relPath, dirRel)
}

// ScanResult contains the outcome of a bulk scan.
type ScanResult struct {
	// Root is the absolute root that was scanned.
	Root string `json:"root"`

	// Entries contains every admitted file and directory.
	Entries []IndexEntry `json:"entries"`

	// DirsScanned is the number of directories visited.
	DirsScanned int64 `json:"dirs_scanned"`

	// FilesScanned is the number of files examined.
	FilesScanned int64 `json:"files_scanned"`

	// TotalSize is the sum of admitted file sizes.
	TotalSize int64 `json:"total_size"`

	// Elapsed is the wall-clock duration of the scan.
	Elapsed time.Duration `json:"elapsed"`

	// Warnings collects per-node failures that were skipped.
	Warnings []ScanWarning `json:"warnings,omitempty"`
}

// ScanWarning records a node the scanner could not read.
type ScanWarning struct {
	// Path is the file or directory path where the error occurred.
	Path string `json:"path"`

	// Error is the error message.
	Error string `json:"error"`
}

// ScanProgress reports scan progress.
type ScanProgress struct {
	DirsScanned  int64  `json:"dirs_scanned"`
	FilesScanned int64  `json:"files_scanned"`
	CurrentPath  string `json:"current_path"`
}

// FormatSize converts a size in bytes to a human-readable string using
// binary (IEC) units, e.g. FormatSize(1536*1024) returns "1.5 MiB".
func FormatSize(bytes int64) string {
	return humanize.IBytes(uint64(bytes))
}
