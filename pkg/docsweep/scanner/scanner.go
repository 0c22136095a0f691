package scanner

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
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// ErrNoRoot is returned when no root directory was configured.
var ErrNoRoot = errors.New("scanner: no root directory")

// ErrRootNotDir is returned when the root exists but is not a directory.
var ErrRootNotDir = errors.New("scanner: root is not a directory")

// Scanner performs parallel directory scans using fastwalk.
// A Scanner is safe for concurrent use; every scan keeps its own state.
type Scanner struct {
	opts Options
	root string
}

// New creates a new Scanner with the given options.
// Configuration errors (missing root, root not a directory, bad rules)
// are reported here rather than at scan time.
func New(opts Options) (*Scanner, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	root, err := validateRoot(opts.Root)
	if err != nil {
		return nil, err
	}

	return &Scanner{opts: opts, root: root}, nil
}

// Root returns the resolved absolute root.
func (s *Scanner) Root() string {
	return s.root
}

// scanState holds the state of one walk.
type scanState struct {
	dirsScanned  atomic.Int64
	filesScanned atomic.Int64
	totalSize    atomic.Int64
	currentPath  atomic.Value
	lastProgress atomic.Int64

	mu       sync.Mutex
	entries  []types.IndexEntry
	warnings []types.ScanWarning
}

// Scan walks the whole root and returns every admitted entry.
// The root itself is never part of the result.
func (s *Scanner) Scan(ctx context.Context) (*types.ScanResult, error) {
	// The root may have disappeared since New.
	if _, err := validateRoot(s.root); err != nil {
		return nil, err
	}
	return s.walk(ctx, s.root)
}

// ScanSubtree walks only the directory dir below the root.
// The directory's own entry is included in the result.
func (s *Scanner) ScanSubtree(ctx context.Context, dir string) (*types.ScanResult, error) {
	abs := dir
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(s.root, filepath.FromSlash(dir))
	}
	if _, err := types.RelPathOf(s.root, abs); err != nil {
		return nil, fmt.Errorf("scan subtree %s: %w", dir, err)
	}
	return s.walk(ctx, filepath.Clean(abs))
}

func (s *Scanner) walk(ctx context.Context, start string) (*types.ScanResult, error) {
	startTime := time.Now()
	state := &scanState{}
	state.currentPath.Store(start)

	if start != s.root {
		if err := s.recordStart(start, state); err != nil {
			return nil, err
		}
	}

	conf := fastwalk.Config{
		Follow:     s.opts.FollowSymlinks,
		NumWorkers: workerCount(s.opts.Workers),
	}

	walkErr := fastwalk.Walk(&conf, start, s.walkCallback(ctx, start, state))
	if walkErr != nil && !errors.Is(walkErr, fastwalk.ErrSkipFiles) {
		if errors.Is(walkErr, context.Canceled) || errors.Is(walkErr, context.DeadlineExceeded) {
			return nil, walkErr
		}
		return nil, fmt.Errorf("walking %s: %w", start, walkErr)
	}

	s.sendProgress(state)

	return &types.ScanResult{
		Root:         s.root,
		Entries:      state.entries,
		DirsScanned:  state.dirsScanned.Load(),
		FilesScanned: state.filesScanned.Load(),
		TotalSize:    state.totalSize.Load(),
		Elapsed:      time.Since(startTime),
		Warnings:     state.warnings,
	}, nil
}

// recordStart adds the subtree root itself when walking below the index root.
func (s *Scanner) recordStart(start string, state *scanState) error {
	info, err := os.Stat(start)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: %s", ErrRootNotDir, start)
	}
	rel, err := types.RelPathOf(s.root, start)
	if err != nil {
		return err
	}
	if !s.opts.Rules.Allow(rel, true) {
		return nil
	}
	s.opts.Rules.LoadIgnoreFile(rel)
	entry, err := types.NewIndexEntry(s.root, start, info, CreateTime(start, info))
	if err != nil {
		return err
	}
	state.dirsScanned.Add(1)
	state.entries = append(state.entries, entry)
	return nil
}

// walkCallback returns the callback function for fastwalk.Walk.
func (s *Scanner) walkCallback(ctx context.Context, start string, state *scanState) fs.WalkDirFunc {
	return func(path string, d fs.DirEntry, err error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err != nil {
			state.addWarning(path, err)
			if d != nil && d.IsDir() && path != start {
				return fastwalk.SkipDir
			}
			return nil
		}

		if path == start {
			return nil
		}

		rel, relErr := types.RelPathOf(s.root, path)
		if relErr != nil {
			state.addWarning(path, relErr)
			return nil
		}

		info, isDir, statErr := s.entryInfo(path, d)
		if statErr != nil {
			state.addWarning(path, statErr)
			return nil
		}
		if info == nil {
			// Symlink or special file that is not indexed.
			return nil
		}

		if isDir {
			return s.handleDirectory(path, rel, info, state)
		}
		s.handleFile(path, rel, info, state)
		return nil
	}
}

// entryInfo stats a walk entry. It returns a nil info for nodes that are
// neither regular files nor directories (after optional symlink resolution).
func (s *Scanner) entryInfo(path string, d fs.DirEntry) (fs.FileInfo, bool, error) {
	if d.Type()&fs.ModeSymlink != 0 {
		if !s.opts.FollowSymlinks {
			return nil, false, nil
		}
		info, err := os.Stat(path)
		if err != nil {
			return nil, false, err
		}
		if !info.IsDir() && !info.Mode().IsRegular() {
			return nil, false, nil
		}
		return info, info.IsDir(), nil
	}

	if !d.IsDir() && !d.Type().IsRegular() {
		return nil, false, nil
	}

	info, err := d.Info()
	if err != nil {
		return nil, false, err
	}
	return info, d.IsDir(), nil
}

// handleDirectory records a directory and decides whether to descend.
func (s *Scanner) handleDirectory(path, rel string, info fs.FileInfo, state *scanState) error {
	rules := s.opts.Rules
	if !rules.AllowDir(rel) {
		return fastwalk.SkipDir
	}

	entry, err := types.NewIndexEntry(s.root, path, info, CreateTime(path, info))
	if err != nil {
		state.addWarning(path, err)
		return fastwalk.SkipDir
	}

	state.dirsScanned.Add(1)
	state.currentPath.Store(path)
	state.add(entry)
	s.reportProgress(state)

	if !rules.Descend(rel) {
		return fastwalk.SkipDir
	}
	rules.LoadIgnoreFile(rel)
	return nil
}

// handleFile records a regular file that passes the rules.
func (s *Scanner) handleFile(path, rel string, info fs.FileInfo, state *scanState) {
	state.filesScanned.Add(1)

	if !s.opts.Rules.AllowFile(rel) {
		return
	}

	entry, err := types.NewIndexEntry(s.root, path, info, CreateTime(path, info))
	if err != nil {
		state.addWarning(path, err)
		return
	}

	state.totalSize.Add(entry.Size)
	state.add(entry)
}

func (st *scanState) add(entry types.IndexEntry) {
	st.mu.Lock()
	st.entries = append(st.entries, entry)
	st.mu.Unlock()
}

// addWarning records a per-node failure without stopping the scan.
func (st *scanState) addWarning(path string, err error) {
	logging.Get("scanner").Debug("skipping unreadable node", "path", path, "error", err)

	st.mu.Lock()
	st.warnings = append(st.warnings, types.ScanWarning{
		Path:  path,
		Error: err.Error(),
	})
	st.mu.Unlock()
}

// reportProgress calls the progress callback at most every 10ms.
func (s *Scanner) reportProgress(state *scanState) {
	if s.opts.OnProgress == nil {
		return
	}

	now := time.Now().UnixMilli()
	last := state.lastProgress.Load()
	if now-last < 10 {
		return
	}
	if !state.lastProgress.CompareAndSwap(last, now) {
		return
	}

	s.sendProgress(state)
}

func (s *Scanner) sendProgress(state *scanState) {
	if s.opts.OnProgress == nil {
		return
	}
	currentPath, _ := state.currentPath.Load().(string)
	s.opts.OnProgress(types.ScanProgress{
		DirsScanned:  state.dirsScanned.Load(),
		FilesScanned: state.filesScanned.Load(),
		CurrentPath:  currentPath,
	})
}

// validateRoot resolves the root path to absolute and verifies it is a directory.
func validateRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return "", err
	}
	if !info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrRootNotDir, abs)
	}

	return abs, nil
}
