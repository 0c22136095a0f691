// Package client controls the docsweepd daemon from other processes: it
// starts and stops it and checks its liveness over the gRPC health
// protocol on the daemon's Unix socket.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/jamesainslie/docsweep/pkg/docsweep/config"
)

// BinaryName is the daemon executable looked up by StartDaemon.
const BinaryName = "docsweepd"

// healthService mirrors the service name the daemon registers.
const healthService = "docsweep.Index"

// ErrNotRunning is returned when the daemon is expected but absent.
var ErrNotRunning = errors.New("daemon not running")

// Client is a connection to the daemon's health endpoint.
type Client struct {
	conn   *grpc.ClientConn
	health healthpb.HealthClient
}

// Status describes a running daemon as seen from outside.
type Status struct {
	Running   bool      `json:"running"`
	Serving   bool      `json:"serving"`
	PID       int       `json:"pid,omitempty"`
	Root      string    `json:"root,omitempty"`
	Entries   int       `json:"entries,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Socket    string    `json:"socket"`
}

// DaemonPaths configures paths for daemon operations.
// Empty fields use defaults.
type DaemonPaths struct {
	Binary string // Path to docsweepd binary (auto-discovered if empty)
	Socket string // Unix socket path
	PID    string // PID file path
	Status string // startup status file path
	Config string // config file passed to the daemon
	Root   string // root directory passed to the daemon
}

// withDefaults returns a copy with empty fields filled with defaults.
func (p DaemonPaths) withDefaults() DaemonPaths {
	if p.Socket == "" {
		p.Socket = config.DefaultSocketPath()
	}
	if p.PID == "" {
		p.PID = config.DefaultPIDPath()
	}
	if p.Status == "" {
		p.Status = filepath.Join(config.DataDir(), "docsweep.status")
	}
	return p
}

// Connect establishes a connection to the daemon.
// Uses a default timeout of 5 seconds.
func Connect(socketPath string) (*Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return ConnectWithContext(ctx, socketPath)
}

// ConnectWithContext establishes a connection to the daemon with a custom context.
func ConnectWithContext(ctx context.Context, socketPath string) (*Client, error) {
	if _, err := os.Stat(socketPath); os.IsNotExist(err) {
		return nil, fmt.Errorf("%w: socket not found at %s", ErrNotRunning, socketPath)
	}

	//nolint:staticcheck // grpc.DialContext is deprecated but NewClient doesn't support blocking
	conn, err := grpc.DialContext(
		ctx,
		"unix://"+socketPath,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon: %w", err)
	}

	return &Client{
		conn:   conn,
		health: healthpb.NewHealthClient(conn),
	}, nil
}

// Close closes the connection to the daemon.
func (c *Client) Close() error {
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

// Serving reports whether the daemon has finished building its index.
func (c *Client) Serving(ctx context.Context) (bool, error) {
	resp, err := c.health.Check(ctx, &healthpb.HealthCheckRequest{Service: healthService})
	if err != nil {
		return false, fmt.Errorf("health check failed: %w", err)
	}
	return resp.GetStatus() == healthpb.HealthCheckResponse_SERVING, nil
}

// GetStatus combines the PID file, the startup status file and a health
// check into one view. A daemon that is not running is not an error.
func GetStatus(ctx context.Context, paths DaemonPaths) (*Status, error) {
	paths = paths.withDefaults()
	st := &Status{Socket: paths.Socket}

	pid, err := readPIDFile(paths.PID)
	if err != nil || !processRunning(pid) {
		return st, nil //nolint:nilerr // a missing daemon is a status, not a failure
	}
	st.Running = true
	st.PID = pid

	if sf, err := readStatusFile(paths.Status); err == nil && sf.Status == "ready" && sf.PID == pid {
		st.Root = sf.Root
		st.Entries = sf.Entries
		st.StartedAt = sf.Time
	}

	c, err := ConnectWithContext(ctx, paths.Socket)
	if err != nil {
		return st, err
	}
	defer c.Close()

	st.Serving, err = c.Serving(ctx)
	return st, err
}

// EnsureDaemon ensures the daemon is running, starting it if necessary.
// Idempotent: returns nil if daemon is already running.
func EnsureDaemon(paths DaemonPaths) error {
	return StartDaemon(paths)
}

// StartDaemon starts the daemon in the background and waits until it
// reports ready or failed.
// Idempotent: returns nil if daemon is already running.
func StartDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	if IsDaemonRunning(paths.PID) {
		return nil
	}

	binary, err := resolveBinary(paths.Binary)
	if err != nil {
		return fmt.Errorf("find %s: %w", BinaryName, err)
	}

	_ = os.Remove(paths.Status)

	var args []string
	if paths.Config != "" {
		args = append(args, "--config", paths.Config)
	}
	if paths.Root != "" {
		args = append(args, "--root", paths.Root)
	}

	// Use exec.Command (not CommandContext) intentionally: daemon must outlive caller
	cmd := exec.Command(binary, args...) //nolint:gosec // binary path is validated
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start daemon: %w", err)
	}
	if cmd.Process != nil {
		_ = cmd.Process.Release()
	}

	// The status file is written after the initial scan, so large trees
	// need longer than the socket alone.
	for range 300 {
		time.Sleep(100 * time.Millisecond)

		if status, err := readStatusFile(paths.Status); err == nil {
			switch status.Status {
			case "ready":
				return nil
			case "error":
				return fmt.Errorf("daemon failed to start: %s", status.Error)
			}
		}
	}

	return errors.New("daemon did not become ready within timeout")
}

// StopDaemon asks the daemon to shut down with SIGTERM and waits for it.
// Idempotent: returns nil if daemon is not running.
func StopDaemon(paths DaemonPaths) error {
	paths = paths.withDefaults()

	pid, err := readPIDFile(paths.PID)
	if err != nil || !processRunning(pid) {
		return nil //nolint:nilerr // not running, nothing to do
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find daemon process: %w", err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal daemon: %w", err)
	}

	// Shutdown saves the snapshot, which can take a moment.
	for range 40 {
		time.Sleep(250 * time.Millisecond)
		if !processRunning(pid) {
			return nil
		}
	}

	return errors.New("daemon did not stop within timeout")
}

// RestartDaemon stops and starts the daemon.
func RestartDaemon(paths DaemonPaths) error {
	if err := StopDaemon(paths); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	if err := StartDaemon(paths); err != nil {
		return fmt.Errorf("start: %w", err)
	}
	return nil
}

// resolveBinary finds the daemon binary.
// Priority: configured path > same directory as executable > PATH.
func resolveBinary(configured string) (string, error) {
	if configured != "" {
		if _, err := os.Stat(configured); err != nil {
			return "", fmt.Errorf("configured binary not found: %s", configured)
		}
		return configured, nil
	}

	if execPath, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(execPath), BinaryName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, nil
		}
	}

	if path, err := exec.LookPath(BinaryName); err == nil {
		return path, nil
	}

	return "", fmt.Errorf("%s not found", BinaryName)
}

// IsDaemonRunning checks if the daemon is running based on the PID file.
func IsDaemonRunning(pidPath string) bool {
	pid, err := readPIDFile(pidPath)
	if err != nil {
		return false
	}
	return processRunning(pid)
}

func processRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// readPIDFile reads a PID from a file.
func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	if pid <= 0 {
		return 0, fmt.Errorf("invalid pid %d", pid)
	}
	return pid, nil
}

// statusFile mirrors the daemon startup status file.
type statusFile struct {
	Status  string    `json:"status"`
	PID     int       `json:"pid,omitempty"`
	Root    string    `json:"root,omitempty"`
	Entries int       `json:"entries,omitempty"`
	Error   string    `json:"error,omitempty"`
	Time    time.Time `json:"time"`
}

// readStatusFile reads and parses the daemon status file.
func readStatusFile(path string) (*statusFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var status statusFile
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, err
	}
	return &status, nil
}
