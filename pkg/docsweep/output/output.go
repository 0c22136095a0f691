// Package output renders index listings for the command line in several
// formats (pretty, plain, json, jsonl, yaml).
//
// Formatters are registered by name and selected at runtime:
//
//	formatter, err := output.Get("pretty")
//	if err != nil {
//	    return err
//	}
//	var buf bytes.Buffer
//	if err := formatter.Format(&buf, result); err != nil {
//	    return err
//	}
package output

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// Entry is an index entry decorated with display fields.
type Entry struct {
	Path      string    `json:"path" yaml:"path"`
	RelPath   string    `json:"rel_path" yaml:"rel_path"`
	Name      string    `json:"name" yaml:"name"`
	Ext       string    `json:"ext,omitempty" yaml:"ext,omitempty"`
	IsDir     bool      `json:"is_dir" yaml:"is_dir"`
	Size      int64     `json:"size" yaml:"size"`
	SizeHuman string    `json:"size_human" yaml:"size_human"`
	ModTime   time.Time `json:"mod_time" yaml:"mod_time"`
	Created   time.Time `json:"create_time" yaml:"create_time"`
}

// FromIndexEntry converts an index entry for display.
func FromIndexEntry(e types.IndexEntry) Entry {
	return Entry{
		Path:      e.Path,
		RelPath:   e.RelPath,
		Name:      e.Name,
		Ext:       e.Ext,
		IsDir:     e.IsDir,
		Size:      e.Size,
		SizeHuman: e.HumanSize(),
		ModTime:   e.ModTime,
		Created:   e.CreateTime,
	}
}

// Stats summarizes how the listing was produced.
type Stats struct {
	DirsScanned  int64         `json:"dirs_scanned" yaml:"dirs_scanned"`
	FilesScanned int64         `json:"files_scanned" yaml:"files_scanned"`
	Duration     time.Duration `json:"-" yaml:"-"`
}

// Result contains everything a formatter renders.
type Result struct {
	// Entries are listed in the given order.
	Entries []Entry

	// Stats describes the scan that produced the entries.
	Stats Stats

	// Source is the indexed root.
	Source string

	// Query is the search string, if the listing is a search result.
	Query string

	// DaemonUp reports whether a docsweep daemon answered its health check.
	DaemonUp bool

	// Warnings are rendered after the listing.
	Warnings []string
}

// NewResult builds a Result from index entries, converting scan warnings.
func NewResult(source string, entries []types.IndexEntry, warnings []types.ScanWarning) *Result {
	r := &Result{
		Source:  source,
		Entries: make([]Entry, len(entries)),
	}
	for i, e := range entries {
		r.Entries[i] = FromIndexEntry(e)
	}
	for _, w := range warnings {
		r.Warnings = append(r.Warnings, fmt.Sprintf("%s: %s", w.Path, w.Error))
	}
	return r
}

// Files returns the number of non-directory entries.
func (r *Result) Files() int {
	n := 0
	for _, e := range r.Entries {
		if !e.IsDir {
			n++
		}
	}
	return n
}

// TotalSize returns the sum of entry sizes.
func (r *Result) TotalSize() int64 {
	var total int64
	for _, e := range r.Entries {
		total += e.Size
	}
	return total
}

// Formatter renders a Result.
type Formatter interface {
	Format(w *bytes.Buffer, r *Result) error
}

// FormatterFactory creates a new Formatter instance.
type FormatterFactory func() Formatter

// Registry manages formatter registration and lookup.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]FormatterFactory
}

// NewRegistry creates an empty formatter registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]FormatterFactory)}
}

// Register adds or replaces the factory for name.
func (r *Registry) Register(name string, factory FormatterFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = factory
}

// Get returns a new formatter instance by name.
func (r *Registry) Get(name string) (Formatter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown formatter: %s", name)
	}
	return factory(), nil
}

// Available returns the registered names, sorted.
func (r *Registry) Available() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// DefaultRegistry is the global formatter registry.
var DefaultRegistry = NewRegistry()

// Register adds a formatter factory to the default registry.
func Register(name string, factory FormatterFactory) {
	DefaultRegistry.Register(name, factory)
}

// Get returns a new formatter from the default registry.
func Get(name string) (Formatter, error) {
	return DefaultRegistry.Get(name)
}

// Available returns all formatter names from the default registry.
func Available() []string {
	return DefaultRegistry.Available()
}
