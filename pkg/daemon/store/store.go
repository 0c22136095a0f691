// Package store provides a Badger DB-backed snapshot of the file index so a
// restarted daemon can answer queries before its first full scan finishes.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// Key prefixes for different data types
const (
	prefixEntry = "e:" // Index entries keyed by relative path
	prefixMeta  = "m:" // Schema and snapshot metadata
)

var (
	// ErrNoSnapshot is returned by Load when no complete snapshot exists.
	ErrNoSnapshot = errors.New("store: no snapshot")

	// ErrSnapshotMismatch is returned by Load when the snapshot was taken
	// for another root or with another schema version.
	ErrSnapshotMismatch = errors.New("store: snapshot does not match")
)

// record is the stored form of an IndexEntry. Times are kept as UnixNano
// so they survive the round trip without monotonic or location loss.
type record struct {
	Path       string `json:"path"`
	RelPath    string `json:"rel_path"`
	Name       string `json:"name"`
	Ext        string `json:"ext,omitempty"`
	IsDir      bool   `json:"is_dir"`
	Size       int64  `json:"size"`
	ModTime    int64  `json:"mod_time"`
	CreateTime int64  `json:"create_time"`
}

func toRecord(e types.IndexEntry) record {
	return record{
		Path:       e.Path,
		RelPath:    e.RelPath,
		Name:       e.Name,
		Ext:        e.Ext,
		IsDir:      e.IsDir,
		Size:       e.Size,
		ModTime:    unixNano(e.ModTime),
		CreateTime: unixNano(e.CreateTime),
	}
}

func (r record) entry() types.IndexEntry {
	return types.IndexEntry{
		Path:       r.Path,
		RelPath:    r.RelPath,
		Name:       r.Name,
		Ext:        r.Ext,
		IsDir:      r.IsDir,
		Size:       r.Size,
		ModTime:    fromUnixNano(r.ModTime),
		CreateTime: fromUnixNano(r.CreateTime),
	}
}

// The zero time does not fit in int64 nanoseconds and is stored as 0.
func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Store is the snapshot storage backed by Badger DB.
type Store struct {
	db *badger.DB
}

// Open opens or creates a store in dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	opts := badger.DefaultOptions(dir)
	opts.Logger = badgerLogger{log: logging.Get("store")}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", dir, err)
	}

	s := &Store{db: db}
	if schema := s.GetSchema(); schema == nil {
		if err := s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()}); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// Close closes the store.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save replaces the stored snapshot with entries for root. The metadata
// key is removed first and written last, so an interrupted save leaves no
// snapshot rather than a partial one.
func (s *Store) Save(root string, entries []types.IndexEntry) error {
	start := time.Now()

	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(metaKey))
	}); err != nil {
		return err
	}
	if err := s.db.DropPrefix([]byte(prefixEntry)); err != nil {
		return fmt.Errorf("drop old snapshot: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, e := range entries {
		data, err := json.Marshal(toRecord(e))
		if err != nil {
			return err
		}
		if err := wb.Set([]byte(prefixEntry+e.RelPath), data); err != nil {
			return err
		}
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write snapshot: %w", err)
	}

	if err := s.SetSchema(&Schema{Version: CurrentSchemaVersion, UpdatedAt: time.Now()}); err != nil {
		return err
	}
	if err := s.putJSON(metaKey, &Meta{
		Root:    filepath.Clean(root),
		Count:   len(entries),
		SavedAt: time.Now(),
	}); err != nil {
		return err
	}

	logging.Get("store").Info("snapshot saved",
		"root", root,
		"entries", len(entries),
		"elapsed", time.Since(start))
	return nil
}

// Load returns the snapshot saved for root. A snapshot of a different
// root or schema version yields ErrSnapshotMismatch and must be ignored.
func (s *Store) Load(root string) ([]types.IndexEntry, *Meta, error) {
	if schema := s.GetSchema(); schema == nil || schema.Version != CurrentSchemaVersion {
		return nil, nil, ErrSnapshotMismatch
	}

	meta, err := s.Meta()
	if err != nil {
		return nil, nil, err
	}
	if meta.Root != filepath.Clean(root) {
		return nil, nil, fmt.Errorf("%w: saved for %s", ErrSnapshotMismatch, meta.Root)
	}

	entries := make([]types.IndexEntry, 0, meta.Count)
	err = s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixEntry)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				var r record
				if err := json.Unmarshal(val, &r); err != nil {
					return err
				}
				entries = append(entries, r.entry())
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("read snapshot: %w", err)
	}

	if len(entries) != meta.Count {
		return nil, nil, fmt.Errorf("%w: expected %d entries, found %d",
			ErrSnapshotMismatch, meta.Count, len(entries))
	}
	return entries, meta, nil
}

// Clear removes the snapshot.
func (s *Store) Clear() error {
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(metaKey))
	}); err != nil {
		return err
	}
	return s.db.DropPrefix([]byte(prefixEntry))
}

// badgerLogger forwards Badger's warnings and errors to the store logger.
// Info and debug output is dropped.
type badgerLogger struct {
	log *logging.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l badgerLogger) Infof(string, ...interface{}) {}

func (l badgerLogger) Debugf(string, ...interface{}) {}
