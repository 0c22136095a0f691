package daemon

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/jamesainslie/docsweep/pkg/docsweep/config"
)

// ErrDaemonAlreadyRunning is returned when trying to start a daemon that's already running.
var ErrDaemonAlreadyRunning = errors.New("daemon already running")

// Paths locates the files a running daemon owns.
type Paths struct {
	DataDir     string
	SocketPath  string
	PIDPath     string
	StatusPath  string
	SnapshotDir string
}

// PathsFor resolves the daemon paths for cfg, falling back to the XDG
// data directory for anything not configured.
func PathsFor(cfg *config.Config) Paths {
	p := Paths{
		DataDir:     config.DataDir(),
		SocketPath:  cfg.Daemon.SocketPath,
		PIDPath:     cfg.Daemon.PIDPath,
		SnapshotDir: cfg.SnapshotPath(),
	}
	if p.SocketPath == "" {
		p.SocketPath = config.DefaultSocketPath()
	}
	if p.PIDPath == "" {
		p.PIDPath = config.DefaultPIDPath()
	}
	p.StatusPath = StatusPath(p.DataDir)
	return p
}

// ServerConfig returns the listener configuration for these paths.
func (p Paths) ServerConfig() Config {
	return Config{SocketPath: p.SocketPath, DataDir: p.DataDir}
}

// WritePIDFile writes the current process ID to path.
func WritePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

// ReadPIDFile reads a PID from a file.
func ReadPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parse pid file %s: %w", path, err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("pid file %s: invalid pid %d", path, pid)
	}
	return pid, nil
}

// RemovePIDFile removes the PID file. A missing file is not an error.
func RemovePIDFile(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// IsDaemonRunning reports whether the PID file names a live process.
func IsDaemonRunning(pidPath string) bool {
	pid, err := ReadPIDFile(pidPath)
	if err != nil {
		return false
	}
	return IsProcessRunning(pid)
}

// IsProcessRunning checks if a process with the given PID is running.
func IsProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks for existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
