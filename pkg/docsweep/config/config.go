package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/dustin/go-humanize"
	"github.com/spf13/viper"

	"github.com/jamesainslie/docsweep/pkg/docsweep/filter"
	"github.com/jamesainslie/docsweep/pkg/docsweep/logging"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// EnvPrefix prefixes environment overrides, e.g. DOCSWEEP_ROOT_DIR.
const EnvPrefix = "DOCSWEEP"

// RotationConfig configures log file rotation.
type RotationConfig struct {
	MaxSize    string `mapstructure:"max_size" yaml:"max_size"`
	MaxAge     int    `mapstructure:"max_age" yaml:"max_age"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	Daily      bool   `mapstructure:"daily" yaml:"daily"`
}

// LoggingConfig configures application logging.
type LoggingConfig struct {
	Level      string            `mapstructure:"level" yaml:"level"`
	Format     string            `mapstructure:"format" yaml:"format"`
	Path       string            `mapstructure:"path" yaml:"path"`
	Console    string            `mapstructure:"console" yaml:"console"`
	Rotation   RotationConfig    `mapstructure:"rotation" yaml:"rotation"`
	Components map[string]string `mapstructure:"components" yaml:"components"`
}

// CacheConfig configures the render cache.
type CacheConfig struct {
	Capacity      int           `mapstructure:"capacity" yaml:"capacity"`
	MaxAge        time.Duration `mapstructure:"max_age" yaml:"max_age"`
	SweepInterval time.Duration `mapstructure:"sweep_interval" yaml:"sweep_interval"`
}

// SnapshotConfig configures the on-disk index snapshot.
type SnapshotConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// DaemonConfig configures the background daemon.
type DaemonConfig struct {
	SocketPath string `mapstructure:"socket_path" yaml:"socket_path"`
	PIDPath    string `mapstructure:"pid_path" yaml:"pid_path"`
}

// Config represents the application configuration.
type Config struct {
	RootDir        string         `mapstructure:"root_dir" yaml:"root_dir"`
	Extensions     []string       `mapstructure:"extensions" yaml:"extensions"`
	ExcludeDirs    []string       `mapstructure:"exclude_dirs" yaml:"exclude_dirs"`
	Whitelist      []string       `mapstructure:"whitelist" yaml:"whitelist"`
	UseGitignore   bool           `mapstructure:"use_gitignore" yaml:"use_gitignore"`
	MaxDepth       int            `mapstructure:"max_depth" yaml:"max_depth"`
	FollowSymlinks bool           `mapstructure:"follow_symlinks" yaml:"follow_symlinks"`
	Workers        int            `mapstructure:"workers" yaml:"workers"`
	DebounceDelay  time.Duration  `mapstructure:"debounce_delay" yaml:"debounce_delay"`
	BatchDelay     time.Duration  `mapstructure:"batch_delay" yaml:"batch_delay"`
	MaxBatch       int            `mapstructure:"max_batch" yaml:"max_batch"`
	Cache          CacheConfig    `mapstructure:"cache" yaml:"cache"`
	Snapshot       SnapshotConfig `mapstructure:"snapshot" yaml:"snapshot"`
	Logging        LoggingConfig  `mapstructure:"logging" yaml:"logging"`
	Daemon         DaemonConfig   `mapstructure:"daemon" yaml:"daemon"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		RootDir:       DefaultRootDir,
		ExcludeDirs:   append([]string(nil), DefaultExcludeDirs...),
		DebounceDelay: DefaultDebounceDelay,
		BatchDelay:    DefaultBatchDelay,
		MaxBatch:      DefaultMaxBatch,
		Cache: CacheConfig{
			Capacity:      DefaultCacheCapacity,
			MaxAge:        DefaultCacheMaxAge,
			SweepInterval: DefaultCacheSweepInterval,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Rotation: RotationConfig{
				MaxSize:    DefaultLogMaxSize,
				MaxAge:     30,
				MaxBackups: 5,
				Daily:      true,
			},
		},
	}
}

// SetDefaults registers every default on v.
func SetDefaults(v *viper.Viper) {
	d := Default()

	v.SetDefault("root_dir", d.RootDir)
	v.SetDefault("extensions", []string{})
	v.SetDefault("exclude_dirs", d.ExcludeDirs)
	v.SetDefault("whitelist", []string{})
	v.SetDefault("use_gitignore", false)
	v.SetDefault("max_depth", 0)
	v.SetDefault("follow_symlinks", false)
	v.SetDefault("workers", 0)
	v.SetDefault("debounce_delay", d.DebounceDelay)
	v.SetDefault("batch_delay", d.BatchDelay)
	v.SetDefault("max_batch", d.MaxBatch)

	v.SetDefault("cache.capacity", d.Cache.Capacity)
	v.SetDefault("cache.max_age", d.Cache.MaxAge)
	v.SetDefault("cache.sweep_interval", d.Cache.SweepInterval)

	v.SetDefault("snapshot.enabled", false)
	v.SetDefault("snapshot.path", "") // Empty means DefaultSnapshotPath()

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
	v.SetDefault("logging.path", "") // Empty means logging.DefaultLogPath()
	v.SetDefault("logging.console", "")
	v.SetDefault("logging.rotation.max_size", d.Logging.Rotation.MaxSize)
	v.SetDefault("logging.rotation.max_age", d.Logging.Rotation.MaxAge)
	v.SetDefault("logging.rotation.max_backups", d.Logging.Rotation.MaxBackups)
	v.SetDefault("logging.rotation.daily", d.Logging.Rotation.Daily)
	v.SetDefault("logging.components", map[string]string{})

	v.SetDefault("daemon.socket_path", "")
	v.SetDefault("daemon.pid_path", "")
}

// Load loads configuration from the default file locations and the
// environment. Config file locations (in order of precedence):
//   - $XDG_CONFIG_HOME/docsweep/config.yaml
//   - $HOME/.config/docsweep/config.yaml
//
// Environment variables are prefixed with DOCSWEEP_ (e.g. DOCSWEEP_MAX_DEPTH).
func Load() (*Config, error) {
	return LoadViper(viper.New(), "")
}

// LoadViper loads configuration into v, which may already carry bound
// command-line flags. A non-empty cfgFile replaces the search path.
func LoadViper(v *viper.Viper, cfgFile string) (*Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		if dir, err := ConfigDir(); err == nil {
			v.AddConfigPath(dir)
		}
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	SetDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	root, err := ExpandPath(cfg.RootDir)
	if err != nil {
		return nil, err
	}
	if root, err = filepath.Abs(root); err != nil {
		return nil, fmt.Errorf("resolving root: %w", err)
	}
	cfg.RootDir = root

	if cfg.Snapshot.Path, err = ExpandPath(cfg.Snapshot.Path); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects configurations the core components cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.RootDir == "" {
		errs = append(errs, errors.New("root_dir is empty"))
	} else if !filepath.IsAbs(c.RootDir) {
		errs = append(errs, fmt.Errorf("root_dir %q is not absolute", c.RootDir))
	}
	if c.MaxDepth < 0 {
		errs = append(errs, fmt.Errorf("max_depth %d is negative", c.MaxDepth))
	}
	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers %d is negative", c.Workers))
	}
	if c.DebounceDelay <= 0 {
		errs = append(errs, fmt.Errorf("debounce_delay %s must be positive", c.DebounceDelay))
	}
	if c.BatchDelay <= 0 {
		errs = append(errs, fmt.Errorf("batch_delay %s must be positive", c.BatchDelay))
	}
	if c.MaxBatch <= 0 {
		errs = append(errs, fmt.Errorf("max_batch %d must be positive", c.MaxBatch))
	}
	if c.Cache.Capacity <= 0 {
		errs = append(errs, fmt.Errorf("cache.capacity %d must be positive", c.Cache.Capacity))
	}
	if c.Cache.MaxAge < 0 {
		errs = append(errs, fmt.Errorf("cache.max_age %s is negative", c.Cache.MaxAge))
	}
	if _, err := c.Logging.ToLogging(); err != nil {
		errs = append(errs, err)
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// FilterOptions converts the path rules into filter options.
func (c *Config) FilterOptions() []filter.Option {
	return []filter.Option{
		filter.WithExtensions(c.Extensions...),
		filter.WithExcludeDirs(c.ExcludeDirs...),
		filter.WithWhitelist(c.Whitelist...),
		filter.WithGitignore(c.UseGitignore),
		filter.WithMaxDepth(c.MaxDepth),
	}
}

// Rules builds the admission rules for the configured root.
func (c *Config) Rules() (*filter.Rules, error) {
	return filter.New(c.RootDir, c.FilterOptions()...)
}

// SnapshotPath returns the configured snapshot directory or the default.
func (c *Config) SnapshotPath() string {
	if c.Snapshot.Path != "" {
		return c.Snapshot.Path
	}
	return DefaultSnapshotPath()
}

// ToLogging converts the logging section into a logging.Config.
func (l LoggingConfig) ToLogging() (logging.Config, error) {
	cfg := logging.Config{
		Level:        l.Level,
		Format:       l.Format,
		Path:         l.Path,
		ConsoleLevel: l.Console,
		Components:   l.Components,
		Rotation: logging.RotationConfig{
			MaxAge:     l.Rotation.MaxAge,
			MaxBackups: l.Rotation.MaxBackups,
			Daily:      l.Rotation.Daily,
		},
	}

	if l.Rotation.MaxSize != "" {
		size, err := humanize.ParseBytes(l.Rotation.MaxSize)
		if err != nil {
			return cfg, fmt.Errorf("logging.rotation.max_size %q: %w", l.Rotation.MaxSize, err)
		}
		cfg.Rotation.MaxSize = int64(size)
	}

	if _, err := logging.ParseLevel(l.Level); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ConfigDir returns the configuration directory.
func ConfigDir() (string, error) {
	if xdgConfigHome := os.Getenv("XDG_CONFIG_HOME"); xdgConfigHome != "" {
		return filepath.Join(xdgConfigHome, "docsweep"), nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, ".config", "docsweep"), nil
}

// ExpandPath expands a leading ~ to the user's home directory.
func ExpandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get user home directory: %w", err)
	}
	return filepath.Join(homeDir, path[1:]), nil
}

// DataDir returns $XDG_DATA_HOME/docsweep/ for the snapshot, socket and pid files.
func DataDir() string {
	return filepath.Join(xdg.DataHome, "docsweep")
}

// DefaultSocketPath returns the default Unix socket path.
func DefaultSocketPath() string {
	return filepath.Join(DataDir(), "docsweep.sock")
}

// DefaultPIDPath returns the default PID file path.
func DefaultPIDPath() string {
	return filepath.Join(DataDir(), "docsweep.pid")
}

// DefaultSnapshotPath returns the default snapshot database directory.
func DefaultSnapshotPath() string {
	return filepath.Join(DataDir(), "snapshot")
}

// EnsureDataDir creates the data directory if it doesn't exist.
func EnsureDataDir() error {
	if err := os.MkdirAll(DataDir(), 0o755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}
	return nil
}
