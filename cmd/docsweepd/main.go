// Command docsweepd keeps the index of one document root current in the
// background. It answers gRPC health checks on a Unix socket and saves
// its index as a snapshot on shutdown.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/jamesainslie/docsweep/pkg/daemon"
	"github.com/jamesainslie/docsweep/pkg/docsweep/config"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
)

var rootCmd = &cobra.Command{
	Use:          "docsweepd",
	Short:        "Background indexer for docsweep",
	Args:         cobra.NoArgs,
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	f := rootCmd.Flags()
	f.String("config", "", "config file (default: ~/.config/docsweep/config.yaml)")
	f.String("root", "", "directory to index (overrides root_dir)")
	f.Bool("no-snapshot", false, "do not load or save an index snapshot")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfgFile, _ := cmd.Flags().GetString("config")
	root, _ := cmd.Flags().GetString("root")

	v := viper.New()
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
	// snapshot.enabled governs the CLI; a long-lived daemon always
	// snapshots unless told otherwise.
	noSnapshot, _ := cmd.Flags().GetBool("no-snapshot")
	cfg.Snapshot.Enabled = !noSnapshot
	return cfg, cfg.Validate()
}

func run(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logCfg, err := cfg.Logging.ToLogging()
	if err != nil {
		return err
	}
	if err := logging.Init(logCfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer func() { _ = logging.Close() }()
	log := logging.Get("daemon")

	paths := daemon.PathsFor(cfg)
	if err := daemon.RecoverFromStaleDaemon(paths); err != nil {
		return err
	}

	if err := startAndServe(cfg, paths, log); err != nil {
		log.Error("daemon exited with error", "error", err)
		_ = daemon.WriteStatusError(paths.StatusPath, err)
		return err
	}
	return nil
}

func startAndServe(cfg *config.Config, paths daemon.Paths, log *logging.Logger) (err error) {
	srv, err := daemon.NewServer(paths.ServerConfig())
	if err != nil {
		return fmt.Errorf("create server: %w", err)
	}
	defer func() {
		if cerr := srv.Close(); cerr != nil {
			log.Warn("server close failed", "error", cerr)
		}
	}()

	if err := daemon.WritePIDFile(paths.PIDPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() {
		if rerr := daemon.RemovePIDFile(paths.PIDPath); rerr != nil {
			log.Warn("failed to remove pid file", "error", rerr)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := daemon.NewService(cfg)
	if err := svc.Initialize(ctx); err != nil {
		return fmt.Errorf("initialize index: %w", err)
	}
	defer func() {
		if derr := svc.Destroy(); derr != nil {
			err = errors.Join(err, derr)
		}
	}()

	st := svc.Stats()
	srv.SetServing(true)
	if err := daemon.WriteStatusReady(paths.StatusPath, st.Root, st.Index.Count); err != nil {
		return fmt.Errorf("write status file: %w", err)
	}
	defer func() { _ = daemon.RemoveStatus(paths.StatusPath) }()

	log.Info("docsweepd ready",
		"root", st.Root,
		"entries", st.Index.Count,
		"loaded_from", st.LoadedFrom,
		"socket", srv.SocketPath(),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Serve)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down")
		srv.SetServing(false)
		return srv.Close()
	})

	return g.Wait()
}
