// Package watcher provides filesystem watching for real-time index updates.
//
// A Watcher keeps recursive fsnotify watches on every admitted directory
// below the root and turns raw notifications into typed events. It does
// no debouncing; that is the indexer's job.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"github.com/jamesainslie/docsweep/pkg/docsweep/filter"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// DefaultBuffer is the capacity of the events channel.
const DefaultBuffer = 1024

// ErrStarted is returned by Start when the watcher was already started or
// has been stopped.
var ErrStarted = errors.New("watcher: already started")

// Kind identifies what happened to a path.
type Kind int

const (
	Added Kind = iota + 1
	Changed
	Removed
	DirAdded
	DirRemoved
)

func (k Kind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case DirAdded:
		return "dir-added"
	case DirRemoved:
		return "dir-removed"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// IsDir reports whether the kind is a directory event.
func (k Kind) IsDir() bool {
	return k == DirAdded || k == DirRemoved
}

// Event is a single typed change below the root.
type Event struct {
	Kind    Kind
	Path    string
	RelPath string
	Time    time.Time
}

// Options configures a Watcher.
type Options struct {
	// EmitBeforeReady forwards events that arrive while the initial
	// watches are still being added. They are dropped otherwise.
	EmitBeforeReady bool

	// Buffer is the events channel capacity (DefaultBuffer if <= 0).
	Buffer int
}

// Watcher watches a root directory recursively and emits typed events.
type Watcher struct {
	root  string
	rules *filter.Rules
	opts  Options

	fsw    *fsnotify.Watcher
	events chan Event
	ready  chan struct{}
	done   chan struct{}
	cancel context.CancelFunc

	// dirs holds every admitted directory by absolute path; the value
	// reports whether an fsnotify watch is live on it.
	mu      sync.RWMutex
	dirs    map[string]bool
	started bool
	stopped bool

	stopOnce sync.Once
	degraded atomic.Int64
	overflow atomic.Int64
}

// New creates a Watcher for root. Nothing is watched until Start.
func New(root string, rules *filter.Rules, opts Options) (*Watcher, error) {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if rules == nil {
		if rules, err = filter.New(absRoot); err != nil {
			return nil, err
		}
	}
	if opts.Buffer <= 0 {
		opts.Buffer = DefaultBuffer
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	return &Watcher{
		root:   absRoot,
		rules:  rules,
		opts:   opts,
		fsw:    fsw,
		events: make(chan Event, opts.Buffer),
		ready:  make(chan struct{}),
		done:   make(chan struct{}),
		dirs:   make(map[string]bool),
	}, nil
}

// Events returns the channel of typed events. It is closed once the
// watcher has stopped.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Ready is closed once the initial recursive watches are in place.
func (w *Watcher) Ready() <-chan struct{} {
	return w.ready
}

// Degraded returns how many directories could not be watched.
func (w *Watcher) Degraded() int64 {
	return w.degraded.Load()
}

// Overflows returns how many times the kernel event queue overflowed.
// Events were lost each time and a full rescan is needed to catch up.
func (w *Watcher) Overflows() int64 {
	return w.overflow.Load()
}

// WatchCount returns the number of live directory watches.
func (w *Watcher) WatchCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()

	n := 0
	for _, live := range w.dirs {
		if live {
			n++
		}
	}
	return n
}

// Start adds recursive watches below the root and starts the event loop.
// Excluded directories and symlinks are skipped. Start returns once the
// initial watches are in place; the loop runs until ctx is done or Stop.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started || w.stopped {
		w.mu.Unlock()
		return ErrStarted
	}
	w.started = true
	w.mu.Unlock()

	info, err := os.Stat(w.root)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("watch %s: not a directory", w.root)
	}

	if err := w.fsw.Add(w.root); err != nil {
		return fmt.Errorf("watch %s: %w", w.root, err)
	}
	loopCtx, cancel := context.WithCancel(ctx)
	w.mu.Lock()
	if w.stopped {
		w.mu.Unlock()
		cancel()
		return ErrStarted
	}
	w.dirs[w.root] = true
	w.cancel = cancel
	w.mu.Unlock()
	go w.run(loopCtx)

	w.addTree(w.root)
	close(w.ready)

	logging.Get("watcher").Info("watching",
		"root", w.root,
		"dirs", w.WatchCount(),
		"degraded", w.Degraded())
	return nil
}

// Stop stops the watcher synchronously. After Stop returns no further
// event is emitted and the events channel is closed. Stop is idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		w.mu.Lock()
		w.stopped = true
		cancel := w.cancel
		w.dirs = make(map[string]bool)
		w.mu.Unlock()

		_ = w.fsw.Close()
		if cancel == nil {
			// The event loop never ran.
			close(w.events)
			return
		}
		cancel()
		<-w.done
	})
}

// run is the event loop. It is the only sender on w.events and closes it
// on exit.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)
	defer close(w.events)

	log := logging.Get("watcher")
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.handleEvent(ctx, event) {
				return
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				w.overflow.Add(1)
				log.Warn("event queue overflow, changes were lost", "root", w.root)
				continue
			}
			log.Error("watcher error", "error", err)
		}
	}
}

// handleEvent maps one fsnotify event to typed events. It returns false
// when ctx ended while emitting.
func (w *Watcher) handleEvent(ctx context.Context, event fsnotify.Event) bool {
	path := filepath.Clean(event.Name)
	rel, err := types.RelPathOf(w.root, path)
	if err != nil {
		if path == w.root && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
			logging.Get("watcher").Warn("root directory removed", "root", w.root)
		}
		return true
	}

	now := time.Now()
	switch {
	case event.Op&fsnotify.Create != 0:
		return w.handleCreate(ctx, path, rel, now)
	case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
		return w.handleRemove(ctx, path, rel, now)
	case event.Op&(fsnotify.Write|fsnotify.Chmod) != 0:
		return w.handleWrite(ctx, path, rel, now)
	}
	return true
}

func (w *Watcher) handleCreate(ctx context.Context, path, rel string, now time.Time) bool {
	info, err := os.Lstat(path)
	if err != nil {
		// Already gone; the removal event follows.
		return true
	}
	if info.Mode()&fs.ModeSymlink != 0 {
		return true
	}

	if info.IsDir() {
		if !w.rules.Allow(rel, true) {
			return true
		}
		w.addTree(path)
		return w.emit(ctx, Event{Kind: DirAdded, Path: path, RelPath: rel, Time: now})
	}

	if !info.Mode().IsRegular() {
		return true
	}
	w.reloadIgnoreFile(rel)
	if !w.rules.AllowFile(rel) {
		return true
	}
	return w.emit(ctx, Event{Kind: Added, Path: path, RelPath: rel, Time: now})
}

func (w *Watcher) handleWrite(ctx context.Context, path, rel string, now time.Time) bool {
	if w.isDir(path) {
		return true
	}
	info, err := os.Lstat(path)
	if err != nil || !info.Mode().IsRegular() {
		return true
	}
	w.reloadIgnoreFile(rel)
	if !w.rules.AllowFile(rel) {
		return true
	}
	return w.emit(ctx, Event{Kind: Changed, Path: path, RelPath: rel, Time: now})
}

func (w *Watcher) handleRemove(ctx context.Context, path, rel string, now time.Time) bool {
	if w.forgetTree(path) {
		w.rules.ForgetIgnoreFile(rel)
		return w.emit(ctx, Event{Kind: DirRemoved, Path: path, RelPath: rel, Time: now})
	}
	w.reloadIgnoreFile(rel)
	if !w.rules.AllowFile(rel) {
		return true
	}
	return w.emit(ctx, Event{Kind: Removed, Path: path, RelPath: rel, Time: now})
}

// emit delivers ev unless it arrives before Ready and EmitBeforeReady is off.
func (w *Watcher) emit(ctx context.Context, ev Event) bool {
	if !w.opts.EmitBeforeReady {
		select {
		case <-w.ready:
		default:
			return true
		}
	}

	select {
	case w.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}

// reloadIgnoreFile re-reads a .gitignore when rel names one.
func (w *Watcher) reloadIgnoreFile(rel string) {
	if filepath.Base(rel) != filter.GitignoreFile {
		return
	}
	dir := types.ParentRelPath(rel)
	w.rules.ForgetIgnoreFile(dir)
	w.rules.LoadIgnoreFile(dir)
}

// addTree registers dir and every admitted directory below it.
// Directories at the depth limit are tracked but not watched.
func (w *Watcher) addTree(dir string) {
	conf := fastwalk.Config{Follow: false}
	err := fastwalk.Walk(&conf, dir, func(path string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if d != nil && d.IsDir() && path != dir {
				return fastwalk.SkipDir
			}
			return nil
		}
		if !d.IsDir() || d.Type()&fs.ModeSymlink != 0 {
			return nil
		}

		rel := ""
		if path != w.root {
			r, err := types.RelPathOf(w.root, path)
			if err != nil {
				return fastwalk.SkipDir
			}
			rel = r
		}
		if rel != "" && !w.rules.AllowDir(rel) {
			return fastwalk.SkipDir
		}

		if !w.rules.Descend(rel) {
			w.track(path, false)
			return fastwalk.SkipDir
		}
		w.rules.LoadIgnoreFile(rel)
		w.addWatch(path)
		return nil
	})
	if err != nil {
		logging.Get("watcher").Warn("walk failed", "path", dir, "error", err)
	}
}

// addWatch adds a single directory to the watch list. Failures are logged
// and counted; the watcher keeps going with the remaining paths.
func (w *Watcher) addWatch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped || w.dirs[path] {
		return
	}

	if err := w.fsw.Add(path); err != nil {
		w.degraded.Add(1)
		w.dirs[path] = false
		logging.Get("watcher").Warn("failed to add watch", "path", path, "error", err)
		return
	}
	w.dirs[path] = true
}

func (w *Watcher) track(path string, live bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.stopped {
		if _, ok := w.dirs[path]; !ok {
			w.dirs[path] = live
		}
	}
}

func (w *Watcher) isDir(path string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	_, ok := w.dirs[path]
	return ok
}

// forgetTree drops dir and everything tracked below it. It reports
// whether dir was a known directory.
func (w *Watcher) forgetTree(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	_, known := w.dirs[dir]
	if !known {
		return false
	}
	for path, live := range w.dirs {
		if path == dir || isSubPath(path, dir) {
			if live {
				// The kernel drops watches on deleted directories itself.
				_ = w.fsw.Remove(path)
			}
			delete(w.dirs, path)
		}
	}
	return true
}

// isSubPath checks if path is under parent directory.
func isSubPath(path, parent string) bool {
	return len(path) > len(parent) && path[:len(parent)+1] == parent+string(filepath.Separator)
}
