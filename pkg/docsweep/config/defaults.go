// Package config provides configuration management for docsweep.
package config

import "time"

// Default configuration values.
const (
	// DefaultRootDir is the directory indexed when none is configured.
	DefaultRootDir = "."

	// DefaultDebounceDelay is the per-path quiet period before an event settles.
	DefaultDebounceDelay = 300 * time.Millisecond

	// DefaultBatchDelay is the interval at which settled events are committed.
	DefaultBatchDelay = time.Second

	// DefaultMaxBatch commits a batch early once this many paths are pending.
	DefaultMaxBatch = 500

	// DefaultCacheCapacity is the number of rendered artifacts kept.
	DefaultCacheCapacity = 100

	// DefaultCacheMaxAge is the age after which cached artifacts are dropped.
	DefaultCacheMaxAge = 30 * time.Minute

	// DefaultCacheSweepInterval is how often the age sweep runs.
	DefaultCacheSweepInterval = 5 * time.Minute

	// DefaultLogMaxSize is the log size that triggers rotation.
	DefaultLogMaxSize = "10MB"
)

// DefaultExcludeDirs are directory names that are never indexed.
var DefaultExcludeDirs = []string{"node_modules", ".git", "dist", "build"}

// DefaultLogComponents are the per-component levels written to a fresh config.
var DefaultLogComponents = map[string]string{
	"daemon":  "info",
	"index":   "info",
	"indexer": "info",
	"watcher": "warn",
	"scanner": "info",
	"cache":   "info",
	"store":   "info",
}
