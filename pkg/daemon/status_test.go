package daemon_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/docsweep/pkg/daemon"
)

func TestWriteStatusReady(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "docsweep.status")

	require.NoError(t, daemon.WriteStatusReady(statusPath, "/srv/docs", 42))

	data, err := os.ReadFile(statusPath)
	require.NoError(t, err)

	var status map[string]any
	require.NoError(t, json.Unmarshal(data, &status))

	assert.Equal(t, "ready", status["status"])
	assert.Equal(t, float64(os.Getpid()), status["pid"])
	assert.Equal(t, "/srv/docs", status["root"])
	assert.Equal(t, float64(42), status["entries"])
	assert.NotContains(t, status, "error")

	_, err = os.Stat(statusPath + ".tmp")
	assert.True(t, os.IsNotExist(err), "temp file is renamed away")
}

func TestWriteStatusError(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "docsweep.status")

	testErr := errors.New("initialize: root directory missing")
	require.NoError(t, daemon.WriteStatusError(statusPath, testErr))

	status, err := daemon.ReadStatus(statusPath)
	require.NoError(t, err)
	assert.Equal(t, daemon.StatusError, status.Status)
	assert.Equal(t, testErr.Error(), status.Error)
	assert.Zero(t, status.PID)
	assert.False(t, status.Time.IsZero())
}

func TestReadStatus(t *testing.T) {
	dir := t.TempDir()

	t.Run("ready status", func(t *testing.T) {
		path := filepath.Join(dir, "ready.status")
		require.NoError(t, daemon.WriteStatusReady(path, "/srv/docs", 1))

		status, err := daemon.ReadStatus(path)
		require.NoError(t, err)
		assert.Equal(t, daemon.StatusReady, status.Status)
		assert.Equal(t, os.Getpid(), status.PID)
		assert.Empty(t, status.Error)
	})

	t.Run("non-existent file", func(t *testing.T) {
		_, err := daemon.ReadStatus(filepath.Join(dir, "nonexistent.status"))
		assert.True(t, os.IsNotExist(err))
	})

	t.Run("invalid JSON", func(t *testing.T) {
		path := filepath.Join(dir, "invalid.status")
		require.NoError(t, os.WriteFile(path, []byte("not json"), 0o644))
		_, err := daemon.ReadStatus(path)
		assert.Error(t, err)
	})
}

func TestRemoveStatus(t *testing.T) {
	statusPath := filepath.Join(t.TempDir(), "docsweep.status")
	require.NoError(t, daemon.WriteStatusReady(statusPath, "/srv/docs", 0))

	require.NoError(t, daemon.RemoveStatus(statusPath))
	_, err := os.Stat(statusPath)
	assert.True(t, os.IsNotExist(err))

	assert.NoError(t, daemon.RemoveStatus(statusPath), "missing file is fine")
}

func TestStatusPath(t *testing.T) {
	assert.Equal(t, "/home/user/.local/share/docsweep/docsweep.status",
		daemon.StatusPath("/home/user/.local/share/docsweep"))
}
