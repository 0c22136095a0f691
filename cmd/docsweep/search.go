package main

import (
	"github.com/spf13/cobra"

	"github.com/jamesainslie/docsweep/pkg/daemon/index"
)

var searchCmd = &cobra.Command{
	Use:   "search <query> [path]",
	Short: "Search indexed names and paths",
	Long: `Search scans the directory and ranks entries whose name or relative path
contains the query: name prefix matches first, then name matches, then path
matches. Shorter paths win ties.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: runSearch,
}

func init() {
	f := searchCmd.Flags()
	f.IntP("limit", "l", 20, "maximum number of results (0 = unlimited)")
	f.Bool("case-sensitive", false, "match case exactly")
	f.Bool("dirs-only", false, "only return directories")
	f.Bool("files-only", false, "only return files")
	searchCmd.MarkFlagsMutuallyExclusive("dirs-only", "files-only")
	rootCmd.AddCommand(searchCmd)
}

func runSearch(cmd *cobra.Command, args []string) error {
	query := args[0]
	cfg, err := loadConfig(cmd, firstArg(args[1:]))
	if err != nil {
		return err
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	idx, scan, err := buildIndex(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	f := cmd.Flags()
	var opts index.SearchOptions
	opts.Limit, _ = f.GetInt("limit")
	opts.CaseSensitive, _ = f.GetBool("case-sensitive")
	opts.DirsOnly, _ = f.GetBool("dirs-only")
	opts.FilesOnly, _ = f.GetBool("files-only")

	result := newResult(cfg, idx.Search(query, opts), scan)
	result.Query = query
	return render(cmd, result)
}
