// Package config provides configuration management for flatsync.
// It supports YAML configuration files, environment variables, and sensible defaults.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flatsync/flatsync/internal/util"
)

// Config represents the complete flatsync configuration.
type Config struct {
	// Project is the default remote project identifier
	Project string `yaml:"project,omitempty"`

	// Remote configures the remote store and its rate limits
	Remote RemoteConfig `yaml:"remote"`

	// Mirror configures the local mirror directory
	Mirror MirrorConfig `yaml:"mirror"`

	// Lock configures project lock acquisition
	Lock LockConfig `yaml:"lock"`

	// Hooks configures the local commit pipeline
	Hooks HooksConfig `yaml:"hooks"`

	// Backup configures pre-sync snapshots
	Backup BackupConfig `yaml:"backup"`

	// Collision configures stale-file reporting
	Collision CollisionConfig `yaml:"collision"`

	// Watch configures watch mode
	Watch WatchConfig `yaml:"watch"`
}

// RemoteConfig holds remote store settings.
type RemoteConfig struct {
	// Type selects the remote backend (currently "dir")
	Type string `yaml:"type"`
	// Root is the backend location (directory path for "dir")
	Root string `yaml:"root,omitempty"`
	// Quota is the remote's advertised request allowance per window
	Quota int `yaml:"quota"`
	// Window is the quota window
	Window time.Duration `yaml:"window"`
	// SafetyMargin is the fraction of the quota deliberately left unused
	SafetyMargin float64 `yaml:"safety_margin"`
}

// MirrorConfig holds local mirror settings.
type MirrorConfig struct {
	// Root is the mirror directory (~ expands to the home directory)
	Root string `yaml:"root"`
	// Ignore lists glob patterns excluded from mirroring
	Ignore []string `yaml:"ignore,omitempty"`
}

// LockConfig holds lock acquisition settings.
type LockConfig struct {
	// Timeout bounds the wait for a held project lock
	Timeout time.Duration `yaml:"timeout"`
}

// HooksConfig holds local commit pipeline settings.
type HooksConfig struct {
	// GitCommit enables a git commit in the mirror per operation
	GitCommit bool `yaml:"git_commit"`
	// AuthorName signs the generated commits
	AuthorName string `yaml:"author_name,omitempty"`
	// AuthorEmail signs the generated commits
	AuthorEmail string `yaml:"author_email,omitempty"`
}

// BackupConfig holds snapshot settings.
type BackupConfig struct {
	// Enabled snapshots mirror files before a pull overwrites them
	Enabled bool `yaml:"enabled"`
	// Retention is how long snapshots are kept
	Retention time.Duration `yaml:"retention"`
}

// CollisionConfig holds stale-file reporting settings.
type CollisionConfig struct {
	// DiffFormat is "unified" or "summary"
	DiffFormat string `yaml:"diff_format"`
}

// WatchConfig holds watch mode settings.
type WatchConfig struct {
	// Debounce is the quiet period before a change batch syncs
	Debounce time.Duration `yaml:"debounce"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Remote: RemoteConfig{
			Type:         "dir",
			Quota:        100,
			Window:       100 * time.Second,
			SafetyMargin: 0.1,
		},
		Mirror: MirrorConfig{
			Root: ".",
		},
		Lock: LockConfig{
			Timeout: 30 * time.Second,
		},
		Hooks: HooksConfig{
			GitCommit: true,
		},
		Backup: BackupConfig{
			Enabled:   true,
			Retention: 30 * 24 * time.Hour,
		},
		Collision: CollisionConfig{
			DiffFormat: "unified",
		},
		Watch: WatchConfig{
			Debounce: 500 * time.Millisecond,
		},
	}
}

// LimiterParams derives the token bucket size and refill rate from the
// remote quota, holding back the safety margin. A 100-per-100s quota with a
// 0.1 margin yields a 90-token bucket refilling at 0.9 tokens per second.
func (r RemoteConfig) LimiterParams() (capacity int, refillPerSecond float64) {
	quota := r.Quota
	if quota <= 0 {
		quota = 100
	}
	window := r.Window
	if window <= 0 {
		window = 100 * time.Second
	}
	margin := r.SafetyMargin
	if margin < 0 || margin >= 1 {
		margin = 0.1
	}

	capacity = int(float64(quota) * (1 - margin))
	if capacity < 1 {
		capacity = 1
	}
	refillPerSecond = float64(capacity) / window.Seconds()
	return capacity, refillPerSecond
}

// configFileName is the name of the config file.
const configFileName = "config.yaml"

// FilePath returns the path to the config file.
func FilePath() string {
	return filepath.Join(util.FlatsyncConfigPath(), configFileName)
}

// Load loads the configuration from file, merging with defaults.
// If the config file doesn't exist, returns default configuration.
func Load() (*Config, error) {
	configPath := FilePath()
	// #nosec G304 - configPath is constructed from trusted config directory
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cfg := Default()
			cfg.applyEnvironment()
			return cfg, nil
		}
		return nil, err
	}
	return parse(data)
}

// LoadFromPath loads configuration from a specific path.
func LoadFromPath(path string) (*Config, error) {
	// #nosec G304 - path is provided by caller
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return parse(data)
}

func parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyEnvironment()
	return cfg, nil
}

// Save writes the configuration to the config file.
func (c *Config) Save() error {
	return c.SaveToPath(FilePath())
}

// SaveToPath writes the configuration to a specific path.
func (c *Config) SaveToPath(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	// #nosec G306 - config file should be readable by user
	return os.WriteFile(path, data, 0o644)
}

// applyEnvironment applies environment variable overrides.
// Environment variables follow the pattern FLATSYNC_<SECTION>_<KEY>.
func (c *Config) applyEnvironment() {
	if v := os.Getenv("FLATSYNC_PROJECT"); v != "" {
		c.Project = v
	}

	// Remote settings
	if v := os.Getenv("FLATSYNC_REMOTE_TYPE"); v != "" {
		c.Remote.Type = v
	}
	if v := os.Getenv("FLATSYNC_REMOTE_ROOT"); v != "" {
		c.Remote.Root = v
	}
	if v := os.Getenv("FLATSYNC_REMOTE_QUOTA"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Remote.Quota = n
		}
	}
	if v := os.Getenv("FLATSYNC_REMOTE_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Remote.Window = d
		}
	}
	if v := os.Getenv("FLATSYNC_REMOTE_SAFETY_MARGIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			c.Remote.SafetyMargin = f
		}
	}

	// Mirror settings
	if v := os.Getenv("FLATSYNC_MIRROR_ROOT"); v != "" {
		c.Mirror.Root = v
	}
	if v := os.Getenv("FLATSYNC_MIRROR_IGNORE"); v != "" {
		c.Mirror.Ignore = splitList(v)
	}

	// Lock settings
	if v := os.Getenv("FLATSYNC_LOCK_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Lock.Timeout = d
		}
	}

	// Hook settings
	if v := os.Getenv("FLATSYNC_HOOKS_GIT_COMMIT"); v != "" {
		c.Hooks.GitCommit = parseBool(v)
	}

	// Backup settings
	if v := os.Getenv("FLATSYNC_BACKUP_ENABLED"); v != "" {
		c.Backup.Enabled = parseBool(v)
	}
	if v := os.Getenv("FLATSYNC_BACKUP_RETENTION"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Backup.Retention = d
		}
	}

	// Collision settings
	if v := os.Getenv("FLATSYNC_COLLISION_DIFF_FORMAT"); v != "" {
		c.Collision.DiffFormat = v
	}

	// Watch settings
	if v := os.Getenv("FLATSYNC_WATCH_DEBOUNCE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.Watch.Debounce = d
		}
	}
}

func parseBool(v string) bool {
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
