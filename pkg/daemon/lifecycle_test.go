package daemon_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/jamesainslie/docsweep/pkg/daemon"
	"github.com/jamesainslie/docsweep/pkg/docsweep/config"
)

func TestWriteAndReadPID(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "run", "docsweep.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}

	pid, err := daemon.ReadPIDFile(pidPath)
	if err != nil {
		t.Fatalf("ReadPIDFile failed: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("Expected PID %d, got %d", os.Getpid(), pid)
	}
}

func TestReadPIDFile_Invalid(t *testing.T) {
	dir := t.TempDir()
	for name, content := range map[string]string{
		"garbage":  "not-a-pid",
		"zero":     "0",
		"negative": "-4",
	} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(dir, name)
			if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
				t.Fatal(err)
			}
			if _, err := daemon.ReadPIDFile(path); err == nil {
				t.Errorf("Expected error for pid file %q", content)
			}
		})
	}
}

func TestIsDaemonRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "docsweep.pid")

	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID file doesn't exist")
	}

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatal(err)
	}
	if !daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected true when PID file has current process")
	}

	if err := os.WriteFile(pidPath, []byte("999999999"), 0o644); err != nil {
		t.Fatal(err)
	}
	if daemon.IsDaemonRunning(pidPath) {
		t.Error("Expected false when PID is invalid")
	}
}

func TestRemovePIDFile(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "docsweep.pid")

	if err := daemon.WritePIDFile(pidPath); err != nil {
		t.Fatalf("WritePIDFile failed: %v", err)
	}
	if err := daemon.RemovePIDFile(pidPath); err != nil {
		t.Fatalf("RemovePIDFile failed: %v", err)
	}
	if _, err := os.Stat(pidPath); !os.IsNotExist(err) {
		t.Error("PID file should have been removed")
	}
	if err := daemon.RemovePIDFile(pidPath); err != nil {
		t.Errorf("Removing a missing PID file should succeed, got %v", err)
	}
}

func TestPathsFor(t *testing.T) {
	t.Run("configured paths win", func(t *testing.T) {
		cfg := config.Default()
		cfg.Daemon.SocketPath = "/run/docsweep/d.sock"
		cfg.Daemon.PIDPath = "/run/docsweep/d.pid"
		cfg.Snapshot.Path = "/var/lib/docsweep/snap"

		p := daemon.PathsFor(cfg)
		if p.SocketPath != "/run/docsweep/d.sock" || p.PIDPath != "/run/docsweep/d.pid" {
			t.Errorf("unexpected daemon paths: %+v", p)
		}
		if p.SnapshotDir != "/var/lib/docsweep/snap" {
			t.Errorf("Expected snapshot dir from config, got %s", p.SnapshotDir)
		}
		if sc := p.ServerConfig(); sc.SocketPath != p.SocketPath || sc.DataDir != p.DataDir {
			t.Errorf("ServerConfig mismatch: %+v", sc)
		}
	})

	t.Run("defaults", func(t *testing.T) {
		p := daemon.PathsFor(config.Default())
		if p.SocketPath != config.DefaultSocketPath() {
			t.Errorf("Expected default socket %s, got %s", config.DefaultSocketPath(), p.SocketPath)
		}
		if p.PIDPath != config.DefaultPIDPath() {
			t.Errorf("Expected default pid path %s, got %s", config.DefaultPIDPath(), p.PIDPath)
		}
		if p.StatusPath != daemon.StatusPath(config.DataDir()) {
			t.Errorf("Unexpected status path %s", p.StatusPath)
		}
	})
}
