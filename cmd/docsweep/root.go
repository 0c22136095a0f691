package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/jamesainslie/docsweep/pkg/docsweep/config"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
)

var (
	cfgFile string
	rootCmd = &cobra.Command{
		Use:   "docsweep",
		Short: "Index a document tree and keep it current",
		Long: `docsweep scans a directory of documents into an in-memory index and,
in watch mode or through the docsweepd daemon, keeps that index current
while files change.

Examples:
  docsweep scan ~/notes                 # List every indexed file
  docsweep scan --ext .md,.rst -o json  # Only markdown and rst, as JSON
  docsweep search guide                 # Ranked name/path search
  docsweep tree --sort size docs        # Directory tree with sizes
  docsweep watch ~/notes                # Follow changes until interrupted
  docsweep daemon status                # Is docsweepd up?`,
		SilenceUsage:      true,
		PersistentPreRunE: initializeLogging,
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			_ = logging.Close()
		},
	}
)

// flagKeys maps persistent flags onto configuration keys.
var flagKeys = map[string]string{
	"ext":             "extensions",
	"exclude-dir":     "exclude_dirs",
	"whitelist":       "whitelist",
	"gitignore":       "use_gitignore",
	"max-depth":       "max_depth",
	"follow-symlinks": "follow_symlinks",
	"workers":         "workers",
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&cfgFile, "config", "", "config file (default: ~/.config/docsweep/config.yaml)")
	pf.StringP("output", "o", "pretty", "output format (pretty, plain, json, jsonl, yaml)")
	pf.StringSlice("ext", nil, "only index these extensions, e.g. .md,.rst")
	pf.StringSlice("exclude-dir", nil, "directory names to skip (replaces the defaults)")
	pf.StringSlice("whitelist", nil, "glob patterns that are indexed regardless of extension")
	pf.Bool("gitignore", false, "honor .gitignore files")
	pf.Int("max-depth", 0, "maximum depth below the root (0 = unlimited)")
	pf.Bool("follow-symlinks", false, "follow symlinked files and directories")
	pf.Int("workers", 0, "parallel scan workers (0 = one per CPU)")
	pf.BoolP("quiet", "q", false, "minimal output")
	pf.BoolP("verbose", "v", false, "debug output on stderr")
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// loadConfig builds the configuration from file, environment and flags.
// A non-empty root overrides root_dir.
func loadConfig(cmd *cobra.Command, root string) (*config.Config, error) {
	v := viper.New()
	if err := bindFlags(v, cmd.Flags()); err != nil {
		return nil, err
	}
	if root != "" {
		expanded, err := config.ExpandPath(root)
		if err != nil {
			return nil, err
		}
		v.Set("root_dir", expanded)
	}

	cfg, err := config.LoadViper(v, cfgFile)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func bindFlags(v *viper.Viper, flags *pflag.FlagSet) error {
	for name, key := range flagKeys {
		f := flags.Lookup(name)
		if f == nil {
			continue
		}
		if err := v.BindPFlag(key, f); err != nil {
			return fmt.Errorf("bind flag %s: %w", name, err)
		}
	}
	return nil
}

// initializeLogging sets up file logging from the configuration. With
// --verbose records are mirrored to stderr.
func initializeLogging(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd, "")
	if err != nil {
		// Commands report configuration errors themselves.
		cfg = config.Default()
	}

	logCfg, err := cfg.Logging.ToLogging()
	if err != nil {
		return err
	}
	if getVerbose(cmd) {
		logCfg.ConsoleLevel = "debug"
		logCfg.Level = "debug"
	}
	if err := logging.Init(logCfg); err != nil {
		// A read-only state directory must not make the CLI unusable.
		printVerbose(cmd, "logging disabled: %v", err)
	}
	return nil
}

func getVerbose(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("verbose")
	return v
}

func getQuiet(cmd *cobra.Command) bool {
	q, _ := cmd.Flags().GetBool("quiet")
	return q
}

func getOutput(cmd *cobra.Command) string {
	o, _ := cmd.Flags().GetString("output")
	return o
}

// printVerbose prints a message if verbose mode is enabled.
func printVerbose(cmd *cobra.Command, format string, args ...interface{}) {
	if getVerbose(cmd) && !getQuiet(cmd) {
		fmt.Fprintf(stderr(cmd), "[DEBUG] "+format+"\n", args...)
	}
}

// printInfo prints a message if quiet mode is not enabled.
func printInfo(cmd *cobra.Command, format string, args ...interface{}) {
	if !getQuiet(cmd) {
		fmt.Fprintf(cmd.OutOrStdout(), format+"\n", args...)
	}
}

func stderr(cmd *cobra.Command) io.Writer {
	if cmd == nil {
		return os.Stderr
	}
	return cmd.ErrOrStderr()
}
