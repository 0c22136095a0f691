package daemon

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
)

// RecoverFromStaleDaemon cleans up the files of a daemon that died
// without shutting down. It returns nil when cleanup succeeded or wasn't
// needed and ErrDaemonAlreadyRunning when the recorded process is alive.
func RecoverFromStaleDaemon(paths Paths) error {
	pid, err := ReadPIDFile(paths.PIDPath)
	if err != nil {
		// No PID file or an unreadable one means nothing to recover.
		return nil //nolint:nilerr // intentional: missing/invalid PID file is not an error condition
	}

	if IsProcessRunning(pid) {
		return ErrDaemonAlreadyRunning
	}

	log := logging.Get("daemon")
	log.Warn("cleaning up stale daemon files", "stale_pid", pid)

	stale := []string{paths.PIDPath, paths.SocketPath, paths.StatusPath}
	if paths.SnapshotDir != "" {
		// badger refuses to open a directory whose LOCK file it did not release.
		stale = append(stale, filepath.Join(paths.SnapshotDir, "LOCK"))
	}
	for _, path := range stale {
		if path == "" {
			continue
		}
		if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("failed to remove stale file", "path", path, "error", err)
		}
	}
	return nil
}
