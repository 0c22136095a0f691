package daemon

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"time"
)

// Startup states written to the status file.
const (
	StatusReady = "ready"
	StatusError = "error"
)

// StatusFile tells a launching client how daemon startup went.
type StatusFile struct {
	Status  string    `json:"status"`            // StatusReady or StatusError
	PID     int       `json:"pid,omitempty"`     // only for ready status
	Root    string    `json:"root,omitempty"`    // indexed root (only for ready status)
	Entries int       `json:"entries,omitempty"` // index size at startup
	Error   string    `json:"error,omitempty"`   // only for error status
	Time    time.Time `json:"time"`
}

// WriteStatusReady records a successful startup for root.
func WriteStatusReady(path, root string, entries int) error {
	return writeStatus(path, &StatusFile{
		Status:  StatusReady,
		PID:     os.Getpid(),
		Root:    root,
		Entries: entries,
		Time:    time.Now(),
	})
}

// WriteStatusError records a failed startup.
func WriteStatusError(path string, err error) error {
	return writeStatus(path, &StatusFile{
		Status: StatusError,
		Error:  err.Error(),
		Time:   time.Now(),
	})
}

// writeStatus replaces the file atomically so a polling reader never sees
// a partial document.
func writeStatus(path string, status *StatusFile) error {
	data, err := json.Marshal(status)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// ReadStatus reads a status file.
func ReadStatus(path string) (*StatusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status StatusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// RemoveStatus removes the status file. A missing file is not an error.
func RemoveStatus(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// StatusPath returns the status file path for a data directory.
func StatusPath(dataDir string) string {
	return filepath.Join(dataDir, "docsweep.status")
}
