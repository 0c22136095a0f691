package main

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/docsweep/pkg/client"
	"github.com/jamesainslie/docsweep/pkg/daemon"
	"github.com/jamesainslie/docsweep/pkg/docsweep/output"
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the docsweepd daemon",
	Long: `Manage the docsweepd daemon, which keeps the index of one root current in
the background and saves it as a snapshot on shutdown.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start [path]",
	Short: "Start the daemon for a root directory",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the daemon gracefully",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStop,
}

var daemonRestartCmd = &cobra.Command{
	Use:   "restart [path]",
	Short: "Stop and start the daemon",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDaemonRestart,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Args:  cobra.NoArgs,
	RunE:  runDaemonStatus,
}

func init() {
	daemonCmd.PersistentFlags().String("binary", "", "path to the docsweepd binary (default: next to docsweep, then PATH)")

	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonRestartCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// daemonPaths resolves the daemon files for the current configuration.
func daemonPaths(cmd *cobra.Command, root string) (client.DaemonPaths, error) {
	cfg, err := loadConfig(cmd, root)
	if err != nil {
		return client.DaemonPaths{}, err
	}
	p := daemon.PathsFor(cfg)
	binary, _ := cmd.Flags().GetString("binary")
	return client.DaemonPaths{
		Binary: binary,
		Socket: p.SocketPath,
		PID:    p.PIDPath,
		Status: p.StatusPath,
		Config: cfgFile,
		Root:   cfg.RootDir,
	}, nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	paths, err := daemonPaths(cmd, firstArg(args))
	if err != nil {
		return err
	}
	if client.IsDaemonRunning(paths.PID) {
		printInfo(cmd, "Daemon already running")
		return nil
	}

	printVerbose(cmd, "starting daemon for %s", paths.Root)
	if err := client.StartDaemon(paths); err != nil {
		return err
	}
	printInfo(cmd, "Daemon started for %s", paths.Root)
	return nil
}

func runDaemonStop(cmd *cobra.Command, _ []string) error {
	paths, err := daemonPaths(cmd, "")
	if err != nil {
		return err
	}
	if !client.IsDaemonRunning(paths.PID) {
		return fmt.Errorf("%w (start with: docsweep daemon start)", client.ErrNotRunning)
	}

	printVerbose(cmd, "sending SIGTERM to daemon (pid file %s)", paths.PID)
	if err := client.StopDaemon(paths); err != nil {
		return err
	}
	printInfo(cmd, "Daemon stopped")
	return nil
}

func runDaemonRestart(cmd *cobra.Command, args []string) error {
	paths, err := daemonPaths(cmd, firstArg(args))
	if err != nil {
		return err
	}
	if err := client.RestartDaemon(paths); err != nil {
		return err
	}
	printInfo(cmd, "Daemon restarted for %s", paths.Root)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, _ []string) error {
	paths, err := daemonPaths(cmd, "")
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	st, err := client.GetStatus(ctx, paths)
	if err != nil && st == nil {
		return err
	}

	out := cmd.OutOrStdout()
	switch {
	case !st.Running:
		fmt.Fprintln(out, output.LabelStyle.Render("Daemon status: ")+output.MutedStyle.Render("not running"))
		return nil
	case err != nil:
		fmt.Fprintln(out, output.LabelStyle.Render("Daemon status: ")+output.WarningStyle.Render("running (not responding)"))
		printVerbose(cmd, "health check: %v", err)
		return nil
	case !st.Serving:
		fmt.Fprintln(out, output.LabelStyle.Render("Daemon status: ")+output.WarningStyle.Render("starting"))
	default:
		fmt.Fprintln(out, output.LabelStyle.Render("Daemon status: ")+output.SuccessStyle.Render("serving"))
	}

	fmt.Fprintf(out, "  PID:     %d\n", st.PID)
	fmt.Fprintf(out, "  Socket:  %s\n", st.Socket)
	if st.Root != "" {
		fmt.Fprintf(out, "  Root:    %s\n", st.Root)
		fmt.Fprintf(out, "  Entries: %s\n", humanize.Comma(int64(st.Entries)))
	}
	if !st.StartedAt.IsZero() {
		fmt.Fprintf(out, "  Ready:   %s\n", humanize.Time(st.StartedAt))
	}
	return nil
}
