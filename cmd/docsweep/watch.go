package main

import (
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/docsweep/pkg/daemon"
	"github.com/jamesainslie/docsweep/pkg/daemon/broadcaster"
	"github.com/jamesainslie/docsweep/pkg/docsweep/output"
)

var watchCmd = &cobra.Command{
	Use:   "watch [path]",
	Short: "Index a directory and print changes until interrupted",
	Long: `Watch builds the index (from a snapshot when one matches), then follows the
filesystem and prints every committed index change:

  + added    ~ updated    - removed

On Ctrl-C the index is saved as a snapshot so the next start is instant.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runWatch,
}

func init() {
	f := watchCmd.Flags()
	f.Bool("no-snapshot", false, "do not load or save an index snapshot")
	f.String("prefix", "", "only report changes below this relative path")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, firstArg(args))
	if err != nil {
		return err
	}
	noSnapshot, _ := cmd.Flags().GetBool("no-snapshot")
	cfg.Snapshot.Enabled = !noSnapshot
	prefix, _ := cmd.Flags().GetString("prefix")

	ctx, stop := signalContext(cmd)
	defer stop()

	svc := daemon.NewService(cfg)
	if err := svc.Initialize(ctx); err != nil {
		return err
	}

	st := svc.Stats()
	printInfo(cmd, "Watching %s (%d entries, loaded from %s)", st.Root, st.Index.Count, st.LoadedFrom)

	sub := svc.Subscribe(prefix, broadcaster.DefaultBuffer)
	out := cmd.OutOrStdout()
	styled := getOutput(cmd) == "pretty"

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case batch, ok := <-sub.Events:
			if !ok {
				break loop
			}
			writeBatch(out, batch, styled)
		}
	}

	svc.Unsubscribe(sub.ID)
	printInfo(cmd, "Stopping, saving index...")
	return svc.Destroy()
}

// writeBatch prints one line per mutation in a committed batch.
func writeBatch(w io.Writer, batch broadcaster.MutationBatch, styled bool) {
	ts := time.Now().Format("15:04:05")
	if styled {
		ts = output.MutedStyle.Render(ts)
	}

	line := func(mark, rel string, style lipgloss.Style) {
		if styled {
			mark = style.Render(mark)
		}
		fmt.Fprintf(w, "%s %s %s\n", ts, mark, rel)
	}
	for _, e := range batch.Added {
		line("+", e.RelPath, output.SuccessStyle)
	}
	for _, e := range batch.Updated {
		line("~", e.RelPath, output.SizeStyle)
	}
	for _, e := range batch.Removed {
		line("-", e.RelPath, output.WarningStyle)
	}
}
