// Package scanner provides the bulk directory scan that seeds the file
// index. It walks the root in parallel with fastwalk, applies the shared
// admission rules and collects per-node failures as warnings instead of
// aborting.
package scanner

import (
	"github.com/jamesainslie/docsweep/pkg/docsweep/filter"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// Options configures the scanner behavior.
type Options struct {
	// Root is the directory to scan. It must exist and be a directory.
	Root string

	// Rules decides which files and directories are admitted.
	// If nil, everything below Root is admitted.
	Rules *filter.Rules

	// FollowSymlinks makes the walk traverse symlinked directories.
	// Loops are detected and skipped by fastwalk.
	FollowSymlinks bool

	// Workers is the size of the walk pool (0 = one per CPU, at least 4).
	Workers int

	// OnProgress is called periodically with scan progress updates.
	// It must be safe to call from multiple goroutines.
	OnProgress func(types.ScanProgress)
}

// Validate checks the options and fills in defaults.
func (o *Options) Validate() error {
	if o.Root == "" {
		return ErrNoRoot
	}
	if o.Rules == nil {
		rules, err := filter.New(o.Root)
		if err != nil {
			return err
		}
		o.Rules = rules
	}
	return nil
}
