package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jamesainslie/docsweep/pkg/daemon/broadcaster"
	"github.com/jamesainslie/docsweep/pkg/daemon/index"
	"github.com/jamesainslie/docsweep/pkg/daemon/indexer"
	"github.com/jamesainslie/docsweep/pkg/daemon/store"
	"github.com/jamesainslie/docsweep/pkg/daemon/tree"
	"github.com/jamesainslie/docsweep/pkg/daemon/watcher"
	"github.com/jamesainslie/docsweep/pkg/docsweep/cache"
	"github.com/jamesainslie/docsweep/pkg/docsweep/config"
	"github.com/jamesainslie/docsweep/pkg/docsweep/filter"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
	"github.com/jamesainslie/docsweep/pkg/docsweep/scanner"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

var (
	// ErrNotInitialized is returned by operations that need a running service.
	ErrNotInitialized = errors.New("daemon: service not initialized")

	// ErrAlreadyInitialized is returned by Initialize on a running service.
	ErrAlreadyInitialized = errors.New("daemon: service already initialized")

	// ErrRootMissing is returned when the configured root does not exist.
	ErrRootMissing = errors.New("daemon: root directory missing")

	// ErrSnapshotDisabled is returned by SaveSnapshot when snapshots are off.
	ErrSnapshotDisabled = errors.New("daemon: snapshots disabled")

	// ErrNotFound is returned by Tree for an unknown or non-directory path.
	ErrNotFound = errors.New("daemon: path not indexed")
)

// Index content sources reported in Stats. Source is where the current
// content came from and LoadedFrom is how Initialize populated the index.
const (
	SourceScan     = "scan"
	SourceSnapshot = "snapshot"
)

// WatcherStats reports the state of the filesystem watcher.
type WatcherStats struct {
	Watching  int   `json:"watching"`
	Degraded  int64 `json:"degraded"`
	Overflows int64 `json:"overflows"`
}

// Stats aggregates the state of every component.
type Stats struct {
	Root        string        `json:"root"`
	Initialized bool          `json:"initialized"`
	Source      string        `json:"source,omitempty"`
	LoadedFrom  string        `json:"loaded_from,omitempty"`
	Uptime      time.Duration `json:"uptime"`
	LastRefresh time.Time     `json:"last_refresh,omitempty"`
	Index       index.Stats   `json:"index"`
	Cache       cache.Stats   `json:"cache"`
	Indexer     indexer.Stats `json:"indexer"`
	Watcher     WatcherStats  `json:"watcher"`
}

// runtime holds the components that exist only between Initialize and Destroy.
type runtime struct {
	root     string
	rules    *filter.Rules
	scanner  *scanner.Scanner
	watcher  *watcher.Watcher
	indexer  *indexer.Indexer
	snapshot *store.Store
	pump     *broadcaster.Subscriber

	ctx    context.Context // cancelled first on teardown
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startTime time.Time
	overflows int64 // owned by the maintenance goroutine
	closed    bool  // guarded by Service.refreshMu

	loadedFrom string

	stateMu     sync.Mutex
	source      string
	lastRefresh time.Time
}

// bind returns a context that is also cancelled when rt is torn down, so
// a caller's commit cannot hold teardown up behind a stalled subscriber.
func (rt *runtime) bind(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(rt.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (rt *runtime) setSource(source string, refreshed bool) {
	rt.stateMu.Lock()
	defer rt.stateMu.Unlock()
	rt.source = source
	if refreshed {
		rt.lastRefresh = time.Now()
	}
}

func (rt *runtime) state() (string, time.Time) {
	rt.stateMu.Lock()
	defer rt.stateMu.Unlock()
	return rt.source, rt.lastRefresh
}

// Service is the facade consumers use: it owns the file index and render
// cache and keeps them current while the tree changes.
type Service struct {
	cfg   *config.Config
	idx   *index.FileIndex
	cache *cache.RenderCache
	log   *logging.Logger

	mu sync.RWMutex
	rt *runtime

	// commitMu serializes index replacement against incremental commits.
	commitMu sync.RWMutex
	// refreshMu allows one full rescan at a time.
	refreshMu sync.Mutex
}

// NewService creates a service for cfg. Nothing runs until Initialize.
// Queries on a service that is not initialized see an empty index.
func NewService(cfg *config.Config) *Service {
	if cfg == nil {
		cfg = config.Default()
	}
	return &Service{
		cfg:   cfg,
		idx:   index.New(),
		cache: cache.New(cfg.Cache.Capacity),
		log:   logging.Get("daemon"),
	}
}

// Config returns the configuration the service was created with.
func (s *Service) Config() *config.Config {
	return s.cfg
}

// Initialize validates the root, populates the index from a snapshot or a
// full scan, then starts the watcher, the indexer, cache invalidation and
// the cache age sweeper. On failure everything started is torn down.
func (s *Service) Initialize(ctx context.Context) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.rt != nil {
		return ErrAlreadyInitialized
	}
	if err := s.cfg.Validate(); err != nil {
		return err
	}

	root := filepath.Clean(s.cfg.RootDir)
	if err := checkRoot(root); err != nil {
		return err
	}

	rules, err := s.cfg.Rules()
	if err != nil {
		return fmt.Errorf("build rules: %w", err)
	}
	sc, err := scanner.New(scanner.Options{
		Root:           root,
		Rules:          rules,
		FollowSymlinks: s.cfg.FollowSymlinks,
		Workers:        s.cfg.Workers,
	})
	if err != nil {
		return err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	rt := &runtime{
		root:      root,
		rules:     rules,
		scanner:   sc,
		ctx:       runCtx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	defer func() {
		if err != nil {
			s.teardown(rt, false)
		}
	}()

	// Invalidation follows every committed index mutation.
	rt.pump = s.idx.Subscribe("", broadcaster.DefaultBuffer)
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		s.invalidationPump(rt.pump)
	}()

	// The watcher starts before the index is populated so changes made
	// during the initial scan queue up for the indexer.
	rt.watcher, err = watcher.New(root, rules, watcher.Options{EmitBeforeReady: true})
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err = rt.watcher.Start(runCtx); err != nil {
		return fmt.Errorf("start watcher: %w", err)
	}

	if s.cfg.Snapshot.Enabled {
		rt.snapshot, err = store.Open(s.cfg.SnapshotPath())
		if err != nil {
			return fmt.Errorf("open snapshot: %w", err)
		}
	}

	loaded := s.loadSnapshot(runCtx, rt)
	if !loaded {
		if err = s.fullScan(ctx, rt); err != nil {
			return err
		}
	}

	rt.indexer = indexer.New(&guardedIndex{idx: s.idx, mu: &s.commitMu}, sc, indexer.Options{
		DebounceDelay:  s.cfg.DebounceDelay,
		BatchDelay:     s.cfg.BatchDelay,
		MaxBatch:       s.cfg.MaxBatch,
		FollowSymlinks: s.cfg.FollowSymlinks,
	})
	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		if err := rt.indexer.Run(runCtx, rt.watcher.Events()); err != nil {
			s.log.Error("indexer stopped", "error", err)
		}
	}()

	rt.wg.Add(1)
	go func() {
		defer rt.wg.Done()
		s.maintenance(runCtx, rt)
	}()

	s.rt = rt

	if loaded {
		// A snapshot may be stale; reconcile with a rescan in the background.
		rt.wg.Add(1)
		go func() {
			defer rt.wg.Done()
			if err := s.refresh(runCtx, rt); err != nil && runCtx.Err() == nil {
				s.log.Warn("reconcile after snapshot failed", "error", err)
			}
		}()
	}

	source, _ := rt.state()
	s.log.Info("service initialized",
		"root", root,
		"source", source,
		"entries", s.idx.Len(),
		"elapsed", time.Since(rt.startTime))
	return nil
}

// Destroy stops every background component, saves a snapshot when enabled
// and clears the in-memory state. It is safe to call more than once.
func (s *Service) Destroy() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rt := s.rt
	if rt == nil {
		return nil
	}
	s.rt = nil
	return s.teardown(rt, true)
}

// teardown stops rt's components. Cancelling the run context first
// releases any commit blocked on a full subscriber, then the indexer
// stops so no mutation lands after the watcher is gone.
func (s *Service) teardown(rt *runtime, save bool) error {
	var errs []error

	rt.cancel()
	if rt.indexer != nil {
		rt.indexer.Stop()
	}
	if rt.watcher != nil {
		rt.watcher.Stop()
	}
	if rt.pump != nil {
		s.idx.Unsubscribe(rt.pump.ID)
	}
	rt.wg.Wait()

	if rt.snapshot != nil {
		if save {
			if err := rt.snapshot.Save(rt.root, s.idx.GetAll()); err != nil {
				errs = append(errs, fmt.Errorf("save snapshot: %w", err))
			}
		}
		if err := rt.snapshot.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close snapshot: %w", err))
		}
	}

	s.refreshMu.Lock()
	rt.closed = true
	s.idx.Clear()
	s.cache.Clear()
	s.refreshMu.Unlock()

	if save {
		s.log.Info("service destroyed", "root", rt.root, "uptime", time.Since(rt.startTime))
	}
	return errors.Join(errs...)
}

func (s *Service) runtime() (*runtime, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.rt == nil {
		return nil, ErrNotInitialized
	}
	return s.rt, nil
}

// checkRoot verifies the root exists and is a directory.
func checkRoot(root string) error {
	info, err := os.Stat(root)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("%w: %s", ErrRootMissing, root)
		}
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", scanner.ErrRootNotDir, root)
	}
	return nil
}

// loadSnapshot fills the index from a matching snapshot and reports
// whether it did. Mismatched or missing snapshots are ignored.
func (s *Service) loadSnapshot(ctx context.Context, rt *runtime) bool {
	if rt.snapshot == nil {
		return false
	}
	entries, meta, err := rt.snapshot.Load(rt.root)
	if err != nil {
		if errors.Is(err, store.ErrNoSnapshot) || errors.Is(err, store.ErrSnapshotMismatch) {
			s.log.Info("snapshot not usable, scanning", "reason", err)
		} else {
			s.log.Warn("snapshot load failed, scanning", "error", err)
		}
		return false
	}
	s.idx.Replace(ctx, entries)
	rt.loadedFrom = SourceSnapshot
	rt.setSource(SourceSnapshot, false)
	s.log.Info("index loaded from snapshot", "entries", len(entries), "saved_at", meta.SavedAt)
	return true
}

func (s *Service) fullScan(ctx context.Context, rt *runtime) error {
	result, err := rt.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("initial scan: %w", err)
	}
	s.idx.Replace(ctx, result.Entries)
	rt.loadedFrom = SourceScan
	rt.setSource(SourceScan, true)
	s.logScan("initial scan complete", result)
	return nil
}

func (s *Service) logScan(msg string, result *types.ScanResult) {
	s.log.Info(msg,
		"entries", len(result.Entries),
		"dirs", result.DirsScanned,
		"files", result.FilesScanned,
		"warnings", len(result.Warnings),
		"elapsed", result.Elapsed)
	for _, w := range result.Warnings {
		s.log.Debug("scan warning", "path", w.Path, "error", w.Error)
	}
}

// GetAllEntries returns every indexed entry sorted by relative path.
func (s *Service) GetAllEntries() []types.IndexEntry {
	return s.idx.GetAll()
}

// Get returns the entry for a relative path.
func (s *Service) Get(relPath string) (types.IndexEntry, bool) {
	return s.idx.Get(relPath)
}

// Search runs a ranked name/path search over the index.
func (s *Service) Search(query string, opts index.SearchOptions) []types.IndexEntry {
	return s.idx.Search(query, opts)
}

// Subscribe registers a listener for index mutations below relPrefix.
func (s *Service) Subscribe(relPrefix string, buffer int) *broadcaster.Subscriber {
	return s.idx.Subscribe(relPrefix, buffer)
}

// Unsubscribe removes a listener registered with Subscribe.
func (s *Service) Unsubscribe(id string) {
	s.idx.Unsubscribe(id)
}

// Tree builds the hierarchy below relPath ("" for the root).
func (s *Service) Tree(relPath string, opts tree.Options) (*tree.Node, error) {
	root := filepath.Clean(s.cfg.RootDir)
	if rt, err := s.runtime(); err == nil {
		root = rt.root
	}

	relPath = types.NormalizeRelPath(relPath)
	if relPath != "" {
		e, ok := s.idx.Get(relPath)
		if !ok || !e.IsDir {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, relPath)
		}
	}
	return tree.Build(root, relPath, s.idx.GetAll(), opts), nil
}

// Stats reports index, cache, indexer and watcher state.
func (s *Service) Stats() Stats {
	st := Stats{
		Root:  s.cfg.RootDir,
		Index: s.idx.Stats(),
		Cache: s.cache.Stats(),
	}

	s.mu.RLock()
	rt := s.rt
	s.mu.RUnlock()
	if rt == nil {
		return st
	}

	st.Root = rt.root
	st.Initialized = true
	st.Uptime = time.Since(rt.startTime)
	st.LoadedFrom = rt.loadedFrom
	st.Source, st.LastRefresh = rt.state()
	if rt.indexer != nil {
		st.Indexer = rt.indexer.Stats()
	}
	if rt.watcher != nil {
		st.Watcher = WatcherStats{
			Watching:  rt.watcher.WatchCount(),
			Degraded:  rt.watcher.Degraded(),
			Overflows: rt.watcher.Overflows(),
		}
	}
	return st
}

// Refresh rescans the whole root and atomically replaces the index. When
// the scan fails the previous index is kept.
func (s *Service) Refresh(ctx context.Context) error {
	rt, err := s.runtime()
	if err != nil {
		return err
	}
	return s.refresh(ctx, rt)
}

func (s *Service) refresh(ctx context.Context, rt *runtime) error {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if rt.closed {
		return ErrNotInitialized
	}
	ctx, cancel := rt.bind(ctx)
	defer cancel()

	// Paths the indexer commits while the scan runs may be older in the
	// scan result than in the index; they are re-checked after the swap.
	touched := newTouchedSet(s.idx)

	result, err := rt.scanner.Scan(ctx)
	if err != nil {
		touched.stop(s.idx)
		return fmt.Errorf("refresh: %w", err)
	}

	s.commitMu.Lock()
	paths := touched.stop(s.idx)
	s.idx.Replace(ctx, result.Entries)
	s.commitMu.Unlock()

	rt.setSource(SourceScan, true)
	s.logScan("refresh complete", result)

	for _, abs := range paths {
		if err := s.refreshPath(ctx, rt, abs); err != nil {
			s.log.Debug("recheck after refresh failed", "path", abs, "error", err)
		}
	}
	return nil
}

// RefreshFile re-stats one path and updates the index to match the disk:
// a vanished or no longer admitted path is removed, a directory is
// rescanned and a file is upserted. The root itself triggers Refresh.
func (s *Service) RefreshFile(ctx context.Context, path string) error {
	rt, err := s.runtime()
	if err != nil {
		return err
	}
	abs := s.resolvePath(rt.root, path)
	if abs == rt.root {
		return s.refresh(ctx, rt)
	}
	ctx, cancel := rt.bind(ctx)
	defer cancel()
	return s.refreshPath(ctx, rt, abs)
}

func (s *Service) refreshPath(ctx context.Context, rt *runtime, abs string) error {
	rel, err := types.RelPathOf(rt.root, abs)
	if err != nil {
		return fmt.Errorf("refresh %s: %w", abs, err)
	}

	var batch index.Batch
	entry, ok, err := scanner.StatEntry(rt.root, abs, s.cfg.FollowSymlinks)
	switch {
	case errors.Is(err, os.ErrNotExist):
		batch.Removes = []string{rel}
	case err != nil:
		return fmt.Errorf("refresh %s: %w", abs, err)
	case !ok || !rt.rules.Allow(rel, entry.IsDir):
		batch.Removes = []string{rel}
	case entry.IsDir:
		result, err := rt.scanner.ScanSubtree(ctx, abs)
		if err != nil {
			return fmt.Errorf("refresh %s: %w", abs, err)
		}
		batch.Upserts = result.Entries
	default:
		batch.Upserts = []types.IndexEntry{entry}
	}

	s.commitMu.RLock()
	defer s.commitMu.RUnlock()
	s.idx.ApplyBatch(ctx, batch)
	return nil
}

// resolvePath turns a root-relative or absolute path into a clean
// absolute path.
func (s *Service) resolvePath(root, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Join(root, filepath.FromSlash(path))
}

// cachePath normalizes the file path used as cache identity.
func (s *Service) cachePath(path string) string {
	root := s.cfg.RootDir
	if rt, err := s.runtime(); err == nil {
		root = rt.root
	}
	return s.resolvePath(root, path)
}

// CacheGet returns the cached artifact for filePath rendered with opts.
func (s *Service) CacheGet(filePath string, opts cache.RenderOptions) (cache.Artifact, bool, error) {
	key, err := cache.GenerateKey(s.cachePath(filePath), opts)
	if err != nil {
		return cache.Artifact{}, false, err
	}
	art, ok := s.cache.Get(key)
	return art, ok, nil
}

// CacheSet stores a rendered artifact for filePath. mtime is the source
// modification time the artifact was rendered from.
func (s *Service) CacheSet(filePath, html string, metadata map[string]any, mtime time.Time, opts cache.RenderOptions) error {
	abs := s.cachePath(filePath)
	key, err := cache.GenerateKey(abs, opts)
	if err != nil {
		return err
	}
	s.cache.Set(key, cache.Artifact{
		HTML:       html,
		Metadata:   metadata,
		RenderedAt: time.Now(),
	}, abs, mtime)
	return nil
}

// CacheInvalidate drops every cached variant of filePath. With a non-nil
// mtime, variants rendered from that exact modification time are kept.
func (s *Service) CacheInvalidate(filePath string, mtime *time.Time) int {
	return s.cache.InvalidateByFile(s.cachePath(filePath), mtime)
}

// CacheStats returns the render cache counters.
func (s *Service) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// SaveSnapshot writes the current index to the snapshot store.
func (s *Service) SaveSnapshot() error {
	rt, err := s.runtime()
	if err != nil {
		return err
	}
	if rt.snapshot == nil {
		return ErrSnapshotDisabled
	}
	return rt.snapshot.Save(rt.root, s.idx.GetAll())
}

// invalidationPump drops cache entries for files the index reports as
// updated or removed. It never calls back into the index.
func (s *Service) invalidationPump(sub *broadcaster.Subscriber) {
	log := logging.Get("cache")
	for batch := range sub.Events {
		n := 0
		// An update means the file changed even if its mtime did not.
		for _, e := range batch.Updated {
			if !e.IsDir {
				n += s.cache.InvalidateByFile(e.Path, nil)
			}
		}
		for _, e := range batch.Removed {
			if !e.IsDir {
				n += s.cache.InvalidateByFile(e.Path, nil)
			}
		}
		if n > 0 {
			log.Debug("cache invalidated", "entries", n, "generation", batch.Generation)
		}
	}
}

// maintenance expires old cache entries and triggers a rescan when the
// watcher reports lost events.
func (s *Service) maintenance(ctx context.Context, rt *runtime) {
	interval := s.cfg.Cache.SweepInterval
	if interval <= 0 {
		interval = config.DefaultCacheSweepInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log := logging.Get("cache")
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if maxAge := s.cfg.Cache.MaxAge; maxAge > 0 {
				if n := s.cache.InvalidateByAge(maxAge); n > 0 {
					log.Debug("expired cache entries", "entries", n, "max_age", maxAge)
				}
			}
			if o := rt.watcher.Overflows(); o > rt.overflows {
				rt.overflows = o
				s.log.Warn("watcher lost events, rescanning", "overflows", o)
				if err := s.refresh(ctx, rt); err != nil && ctx.Err() == nil {
					s.log.Error("rescan after overflow failed", "error", err)
				}
			}
		}
	}
}

// guardedIndex lets Refresh exclude incremental commits while it swaps
// the index content.
type guardedIndex struct {
	idx *index.FileIndex
	mu  *sync.RWMutex
}

func (g *guardedIndex) ApplyBatch(ctx context.Context, batch index.Batch) broadcaster.MutationBatch {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.idx.ApplyBatch(ctx, batch)
}

// touchedSet records the absolute paths of every mutation published while
// it is active.
type touchedSet struct {
	sub  *broadcaster.Subscriber
	done chan struct{}

	mu    sync.Mutex
	paths map[string]struct{}
}

func newTouchedSet(idx *index.FileIndex) *touchedSet {
	t := &touchedSet{
		sub:   idx.Subscribe("", broadcaster.DefaultBuffer),
		done:  make(chan struct{}),
		paths: make(map[string]struct{}),
	}
	go func() {
		defer close(t.done)
		for batch := range t.sub.Events {
			t.mu.Lock()
			for _, list := range [][]types.IndexEntry{batch.Added, batch.Updated, batch.Removed} {
				for _, e := range list {
					t.paths[e.Path] = struct{}{}
				}
			}
			t.mu.Unlock()
		}
	}()
	return t
}

// stop ends recording and returns the recorded paths.
func (t *touchedSet) stop(idx *index.FileIndex) []string {
	idx.Unsubscribe(t.sub.ID)
	<-t.done

	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]string, 0, len(t.paths))
	for p := range t.paths {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
