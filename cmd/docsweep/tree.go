package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/jamesainslie/docsweep/pkg/daemon/tree"
	"github.com/jamesainslie/docsweep/pkg/docsweep/output"
	"github.com/jamesainslie/docsweep/pkg/docsweep/types"
)

var treeCmd = &cobra.Command{
	Use:   "tree [path]",
	Short: "Show the indexed directory tree",
	Long: `Tree scans the directory and prints the indexed hierarchy with per-directory
totals. Use --from to start below the root and --depth to limit the levels
shown; totals always include the hidden levels.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runTree,
}

func init() {
	f := treeCmd.Flags()
	f.String("from", "", "relative path of the directory to start at")
	f.IntP("depth", "d", 0, "levels to show (0 = all)")
	f.String("sort", "name", "child order: name or size")
	rootCmd.AddCommand(treeCmd)
}

func runTree(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd, firstArg(args))
	if err != nil {
		return err
	}

	f := cmd.Flags()
	from, _ := f.GetString("from")
	depth, _ := f.GetInt("depth")
	sortName, _ := f.GetString("sort")

	opts := tree.Options{MaxDepth: depth}
	switch sortName {
	case "name":
		opts.Sort = tree.SortByName
	case "size":
		opts.Sort = tree.SortBySize
	default:
		return fmt.Errorf("invalid sort %q: use name or size", sortName)
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	idx, _, err := buildIndex(ctx, cmd, cfg)
	if err != nil {
		return err
	}

	from = types.NormalizeRelPath(from)
	if from != "" {
		if e, ok := idx.Get(from); !ok || !e.IsDir {
			return fmt.Errorf("not an indexed directory: %s", from)
		}
	}
	root := tree.Build(cfg.RootDir, from, idx.GetAll(), opts)

	out := cmd.OutOrStdout()
	switch format := getOutput(cmd); format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(root)
	case "pretty":
		return writeTree(out, root, true)
	case "plain":
		return writeTree(out, root, false)
	default:
		return fmt.Errorf("tree supports pretty, plain and json output, not %q", format)
	}
}

// writeTree prints node and its descendants with box-drawing connectors.
func writeTree(w io.Writer, node *tree.Node, styled bool) error {
	if _, err := fmt.Fprintln(w, treeLabel(node, styled)); err != nil {
		return err
	}
	return writeChildren(w, node, "", styled)
}

func writeChildren(w io.Writer, node *tree.Node, prefix string, styled bool) error {
	for i, child := range node.Children {
		last := i == len(node.Children)-1
		connector, indent := "├── ", "│   "
		if last {
			connector, indent = "└── ", "    "
		}
		if _, err := fmt.Fprintln(w, prefix+connector+treeLabel(child, styled)); err != nil {
			return err
		}
		if child.IsDir {
			if err := writeChildren(w, child, prefix+indent, styled); err != nil {
				return err
			}
		}
	}
	return nil
}

func treeLabel(n *tree.Node, styled bool) string {
	name, size := n.Name, n.Size
	var detail string
	if n.IsDir {
		name += "/"
		size = n.TotalSize
		detail = fmt.Sprintf("%s files", humanize.Comma(int64(n.FileCount)))
	} else {
		detail = n.FileType
	}
	sizeText := humanize.IBytes(uint64(size))

	if !styled {
		return fmt.Sprintf("%s (%s, %s)", name, sizeText, detail)
	}
	label := output.PathStyle.Render(name)
	if n.IsDir {
		label = output.DirStyle.Render(name)
	}
	return strings.Join([]string{
		label,
		output.SizeStyle.Render(sizeText),
		output.MutedStyle.Render(detail),
	}, " ")
}
