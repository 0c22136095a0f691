package client

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamesainslie/docsweep/pkg/daemon"
)

// shortTempDir keeps socket paths under the Unix socket length limit.
func shortTempDir(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "dsc")
	require.NoError(t, err)
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return dir
}

func startServer(t *testing.T) (*daemon.Server, DaemonPaths) {
	t.Helper()
	dir := shortTempDir(t)
	paths := DaemonPaths{
		Socket: filepath.Join(dir, "d.sock"),
		PID:    filepath.Join(dir, "d.pid"),
		Status: daemon.StatusPath(dir),
	}

	srv, err := daemon.NewServer(daemon.Config{SocketPath: paths.Socket, DataDir: dir})
	require.NoError(t, err)
	go func() { _ = srv.Serve() }()
	t.Cleanup(func() { _ = srv.Close() })
	return srv, paths
}

func TestConnect_NoSocket(t *testing.T) {
	_, err := Connect(filepath.Join(t.TempDir(), "missing.sock"))
	assert.True(t, errors.Is(err, ErrNotRunning), "got %v", err)
}

func TestServing(t *testing.T) {
	srv, paths := startServer(t)

	c, err := Connect(paths.Socket)
	require.NoError(t, err)
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	serving, err := c.Serving(ctx)
	require.NoError(t, err)
	assert.False(t, serving)

	srv.SetServing(true)
	serving, err = c.Serving(ctx)
	require.NoError(t, err)
	assert.True(t, serving)
}

func TestHealthServiceName(t *testing.T) {
	assert.Equal(t, daemon.HealthService, healthService)
}

func TestGetStatus(t *testing.T) {
	t.Run("not running", func(t *testing.T) {
		dir := t.TempDir()
		st, err := GetStatus(context.Background(), DaemonPaths{
			Socket: filepath.Join(dir, "d.sock"),
			PID:    filepath.Join(dir, "d.pid"),
			Status: filepath.Join(dir, "d.status"),
		})
		require.NoError(t, err)
		assert.False(t, st.Running)
		assert.False(t, st.Serving)
	})

	t.Run("running and serving", func(t *testing.T) {
		srv, paths := startServer(t)
		srv.SetServing(true)
		require.NoError(t, daemon.WritePIDFile(paths.PID))
		require.NoError(t, daemon.WriteStatusReady(paths.Status, "/srv/docs", 12))

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		st, err := GetStatus(ctx, paths)
		require.NoError(t, err)

		assert.True(t, st.Running)
		assert.True(t, st.Serving)
		assert.Equal(t, os.Getpid(), st.PID)
		assert.Equal(t, "/srv/docs", st.Root)
		assert.Equal(t, 12, st.Entries)
		assert.False(t, st.StartedAt.IsZero())
	})
}

func TestIsDaemonRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "d.pid")
	assert.False(t, IsDaemonRunning(pidPath))

	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))
	assert.True(t, IsDaemonRunning(pidPath))

	require.NoError(t, os.WriteFile(pidPath, []byte("999999999"), 0o644))
	assert.False(t, IsDaemonRunning(pidPath))

	require.NoError(t, os.WriteFile(pidPath, []byte("0"), 0o644))
	assert.False(t, IsDaemonRunning(pidPath))
}

func TestStartDaemon_AlreadyRunning(t *testing.T) {
	pidPath := filepath.Join(t.TempDir(), "d.pid")
	require.NoError(t, os.WriteFile(pidPath, []byte(strconv.Itoa(os.Getpid())), 0o644))

	// The binary is never resolved when the daemon is already up.
	assert.NoError(t, StartDaemon(DaemonPaths{PID: pidPath, Binary: "/nonexistent/docsweepd"}))
}

func TestStartDaemon_MissingBinary(t *testing.T) {
	dir := t.TempDir()
	err := StartDaemon(DaemonPaths{
		PID:    filepath.Join(dir, "d.pid"),
		Binary: filepath.Join(dir, "docsweepd"),
	})
	assert.Error(t, err)
}

func TestStopDaemon_NotRunning(t *testing.T) {
	assert.NoError(t, StopDaemon(DaemonPaths{PID: filepath.Join(t.TempDir(), "d.pid")}))
}

func TestResolveBinary(t *testing.T) {
	dir := t.TempDir()
	bin := filepath.Join(dir, BinaryName)
	require.NoError(t, os.WriteFile(bin, []byte("#!/bin/sh\n"), 0o755))

	got, err := resolveBinary(bin)
	require.NoError(t, err)
	assert.Equal(t, bin, got)

	_, err = resolveBinary(filepath.Join(dir, "other"))
	assert.Error(t, err)
}

func TestReadStatusFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "d.status")
	require.NoError(t, daemon.WriteStatusError(path, errors.New("boom")))

	st, err := readStatusFile(path)
	require.NoError(t, err)
	assert.Equal(t, "error", st.Status)
	assert.Equal(t, "boom", st.Error)

	_, err = readStatusFile(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
