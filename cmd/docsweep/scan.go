package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamesainslie/docsweep/pkg/client"
	"github.com/jamesainslie/docsweep/pkg/daemon"
	"github.com/jamesainslie/docsweep/pkg/daemon/index"
	"github.com/jamesainslie/docsweep/pkg/docsweep/config"
	"github.com/jamesainslie/docsweep/pkg/docsweep/output"
	"github.com/jamesainslie/docsweep/pkg/docsweep/scanner"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

var scanCmd = &cobra.Command{
	Use:   "scan [path]",
	Short: "Scan a directory and list the indexed files",
	Long: `Scan walks the directory once with the configured rules and prints every
admitted file. Directories are listed too with --dirs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runScan,
}

func init() {
	scanCmd.Flags().Bool("dirs", false, "include directories in the listing")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, firstArg(args))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	idx, scan, err := buildIndex(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	withDirs, _ := cmd.Flags().GetBool("dirs")
	entries := idx.GetAll()
	if !withDirs {
		entries = filesOnly(entries)
	}

	result := newResult(cfg, entries, scan)
	return render(cmd, result)
}

// buildIndex scans cfg.RootDir into a fresh FileIndex.
func buildIndex(ctx context.Context, cmd *cobra.Command, cfg *config.Config) (*index.FileIndex, *types.ScanResult, error) {
	rules, err := cfg.Rules()
	if err != nil {
		return nil, nil, err
	}

	sc, err := scanner.New(scanner.Options{
		Root:           cfg.RootDir,
		Rules:          rules,
		FollowSymlinks: cfg.FollowSymlinks,
		Workers:        cfg.Workers,
		OnProgress: func(p types.ScanProgress) {
			printVerbose(cmd, "scanned %d dirs, %d files (%s)", p.DirsScanned, p.FilesScanned, p.CurrentPath)
		},
	})
	if err != nil {
		return nil, nil, err
	}

	result, err := sc.Scan(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("scan %s: %w", cfg.RootDir, err)
	}

	idx := index.New()
	idx.Replace(ctx, result.Entries)
	return idx, result, nil
}

func newResult(cfg *config.Config, entries []types.IndexEntry, scan *types.ScanResult) *output.Result {
	result := output.NewResult(cfg.RootDir, entries, scan.Warnings)
	result.Stats = output.Stats{
		DirsScanned:  scan.DirsScanned,
		FilesScanned: scan.FilesScanned,
		Duration:     scan.Elapsed,
	}
	result.DaemonUp = client.IsDaemonRunning(daemon.PathsFor(cfg).PIDPath)
	return result
}

// render writes result with the formatter selected by --output.
func render(cmd *cobra.Command, result *output.Result) error {
	formatter, err := output.Get(getOutput(cmd))
	if err != nil {
		return fmt.Errorf("%w (available: %v)", err, output.Available())
	}

	var buf bytes.Buffer
	if err := formatter.Format(&buf, result); err != nil {
		return fmt.Errorf("format output: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(buf.Bytes())
	return err
}

func filesOnly(entries []types.IndexEntry) []types.IndexEntry {
	out := entries[:0]
	for _, e := range entries {
		if !e.IsDir {
			out = append(out, e)
		}
	}
	return out
}

func firstArg(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return ""
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
