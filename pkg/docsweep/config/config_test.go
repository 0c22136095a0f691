package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// isolate points HOME and XDG_CONFIG_HOME at an empty temp directory.
func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")
	return home
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	wd, err := os.Getwd()
	require.NoError(t, err)

	assert.Equal(t, wd, cfg.RootDir)
	assert.Equal(t, DefaultExcludeDirs, cfg.ExcludeDirs)
	assert.Empty(t, cfg.Extensions)
	assert.Equal(t, DefaultDebounceDelay, cfg.DebounceDelay)
	assert.Equal(t, DefaultBatchDelay, cfg.BatchDelay)
	assert.Equal(t, DefaultMaxBatch, cfg.MaxBatch)
	assert.Equal(t, DefaultCacheCapacity, cfg.Cache.Capacity)
	assert.Equal(t, DefaultCacheMaxAge, cfg.Cache.MaxAge)
	assert.False(t, cfg.Snapshot.Enabled)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_FromFile(t *testing.T) {
	home := isolate(t)
	configDir := filepath.Join(home, ".config", "docsweep")
	require.NoError(t, os.MkdirAll(configDir, 0o755))

	content := `
root_dir: /srv/docs
extensions: [md, pdf]
exclude_dirs: [vendor]
whitelist: ["guides/**"]
use_gitignore: true
max_depth: 4
debounce_delay: 150ms
batch_delay: 2s
max_batch: 50
cache:
  capacity: 10
  max_age: 1h
snapshot:
  enabled: true
  path: ~/snap
`
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(content), 0o644))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "/srv/docs", cfg.RootDir)
	assert.Equal(t, []string{"md", "pdf"}, cfg.Extensions)
	assert.Equal(t, []string{"vendor"}, cfg.ExcludeDirs)
	assert.Equal(t, []string{"guides/**"}, cfg.Whitelist)
	assert.True(t, cfg.UseGitignore)
	assert.Equal(t, 4, cfg.MaxDepth)
	assert.Equal(t, 150*time.Millisecond, cfg.DebounceDelay)
	assert.Equal(t, 2*time.Second, cfg.BatchDelay)
	assert.Equal(t, 50, cfg.MaxBatch)
	assert.Equal(t, 10, cfg.Cache.Capacity)
	assert.Equal(t, time.Hour, cfg.Cache.MaxAge)
	assert.True(t, cfg.Snapshot.Enabled)
	assert.Equal(t, filepath.Join(home, "snap"), cfg.SnapshotPath())
}

func TestLoad_EnvOverrides(t *testing.T) {
	isolate(t)
	root := t.TempDir()
	t.Setenv("DOCSWEEP_ROOT_DIR", root)
	t.Setenv("DOCSWEEP_MAX_BATCH", "7")
	t.Setenv("DOCSWEEP_CACHE_CAPACITY", "3")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, root, cfg.RootDir)
	assert.Equal(t, 7, cfg.MaxBatch)
	assert.Equal(t, 3, cfg.Cache.Capacity)
}

func TestLoadViper_ExplicitFile(t *testing.T) {
	isolate(t)
	file := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(file, []byte("max_depth: 2\n"), 0o644))

	cfg, err := LoadViper(viper.New(), file)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.MaxDepth)
}

func TestLoad_MalformedFile(t *testing.T) {
	home := isolate(t)
	configDir := filepath.Join(home, ".config", "docsweep")
	require.NoError(t, os.MkdirAll(configDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte("max_depth: [\n"), 0o644))

	_, err := Load()
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"empty root", func(c *Config) { c.RootDir = "" }},
		{"relative root", func(c *Config) { c.RootDir = "docs" }},
		{"negative depth", func(c *Config) { c.MaxDepth = -1 }},
		{"negative workers", func(c *Config) { c.Workers = -2 }},
		{"zero debounce", func(c *Config) { c.DebounceDelay = 0 }},
		{"zero batch delay", func(c *Config) { c.BatchDelay = 0 }},
		{"zero max batch", func(c *Config) { c.MaxBatch = 0 }},
		{"zero capacity", func(c *Config) { c.Cache.Capacity = 0 }},
		{"bad log size", func(c *Config) { c.Logging.Rotation.MaxSize = "lots" }},
		{"bad log level", func(c *Config) { c.Logging.Level = "shout" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			cfg.RootDir = t.TempDir()
			tt.mutate(cfg)

			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalidConfig))
		})
	}
}

func TestRules(t *testing.T) {
	cfg := Default()
	cfg.RootDir = t.TempDir()
	cfg.Extensions = []string{"md"}
	cfg.MaxDepth = 1

	rules, err := cfg.Rules()
	require.NoError(t, err)
	assert.True(t, rules.AllowFile("a.md"))
	assert.False(t, rules.AllowFile("a.txt"))
	assert.False(t, rules.AllowFile("sub/a.md"))
	assert.False(t, rules.AllowDir("node_modules"))
}

func TestToLogging(t *testing.T) {
	cfg := Default()
	lc, err := cfg.Logging.ToLogging()
	require.NoError(t, err)
	assert.Equal(t, int64(10_000_000), lc.Rotation.MaxSize)
	assert.Equal(t, 5, lc.Rotation.MaxBackups)
}

func TestExpandPath(t *testing.T) {
	home := isolate(t)

	got, err := ExpandPath("~/docs")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, "docs"), got)

	got, err = ExpandPath("/abs")
	require.NoError(t, err)
	assert.Equal(t, "/abs", got)
}

func TestConfigDir_XDG(t *testing.T) {
	xdgDir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdgDir)

	dir, err := ConfigDir()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(xdgDir, "docsweep"), dir)
}
