package scanner

import (
	"os"

	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

// StatEntry stats abs and builds its index entry relative to root.
// Symlinks are resolved only when follow is set; otherwise a symlink is
// reported with ok=false so callers leave it out of the index.
func StatEntry(root, abs string, follow bool) (entry types.IndexEntry, ok bool, err error) {
	info, err := os.Lstat(abs)
	if err != nil {
		return types.IndexEntry{}, false, err
	}

	if info.Mode()&os.ModeSymlink != 0 {
		if !follow {
			return types.IndexEntry{}, false, nil
		}
		info, err = os.Stat(abs)
		if err != nil {
			return types.IndexEntry{}, false, err
		}
	}

	if !info.IsDir() && !info.Mode().IsRegular() {
		return types.IndexEntry{}, false, nil
	}

	entry, err = types.NewIndexEntry(root, abs, info, CreateTime(abs, info))
	if err != nil {
		return types.IndexEntry{}, false, err
	}
	return entry, true, nil
}
