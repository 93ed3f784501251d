package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and socket configuration.
type Paths struct {
	StagingDir string `toml:"staging_dir"`
	LibraryDir string `toml:"library_dir"`
	LogDir     string `toml:"log_dir"`
	SocketPath string `toml:"socket_path"`
}

// Target declares one recordable stream source.
type Target struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	URL     string `toml:"url"`
	Quality string `toml:"quality"`
}

// Capture contains configuration for the external capture tool.
type Capture struct {
	Binary          string `toml:"binary"`
	ResolverBinary  string `toml:"resolver_binary"`
	ResolverTimeout int    `toml:"resolver_timeout"`
	SegmentExt      string `toml:"segment_ext"`
	ReadyGrace      int    `toml:"ready_grace"`
	LivenessTimeout int    `toml:"liveness_timeout"`
	TerminateGrace  int    `toml:"terminate_grace"`
	LiveSwitch      bool   `toml:"live_switch"`
}

// Rotation contains configuration for segment rotation.
type Rotation struct {
	Interval    int `toml:"interval"`
	MaxGap      int `toml:"max_gap"`
	MaxFailures int `toml:"max_failures"`
}

// Tasks contains configuration for the background task queue.
type Tasks struct {
	Workers      int `toml:"workers"`
	PollInterval int `toml:"poll_interval"`
	BackoffBase  int `toml:"backoff_base"`
	BackoffCap   int `toml:"backoff_cap"`
	MaxAttempts  int `toml:"max_attempts"`
}

// Reconciler contains configuration for orphan reconciliation.
type Reconciler struct {
	Interval int `toml:"interval"`
}

// Workflow contains daemon timing configuration.
type Workflow struct {
	HeartbeatInterval int `toml:"heartbeat_interval"`
}

// Notifications contains configuration for ntfy push notifications.
type Notifications struct {
	NtfyTopic      string `toml:"ntfy_topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Started        bool   `toml:"started"`
	Rotated        bool   `toml:"rotated"`
	Completed      bool   `toml:"completed"`
	Errors         bool   `toml:"errors"`
}

// Upload contains configuration for optional S3-compatible archival of
// finished recordings.
type Upload struct {
	Enabled   bool   `toml:"enabled"`
	Endpoint  string `toml:"endpoint"`
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
	Bucket    string `toml:"bucket"`
	UseSSL    bool   `toml:"use_ssl"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config aggregates every creel configuration section.
type Config struct {
	Paths
	Capture       Capture       `toml:"capture"`
	Rotation      Rotation      `toml:"rotation"`
	Tasks         Tasks         `toml:"tasks"`
	Reconciler    Reconciler    `toml:"reconciler"`
	Workflow      Workflow      `toml:"workflow"`
	Notifications Notifications `toml:"notifications"`
	Upload        Upload        `toml:"upload"`
	Logging       Logging       `toml:"logging"`
	Targets       []Target      `toml:"targets"`
}

// DefaultConfigPath is the location Load falls back to when no explicit
// path is supplied.
const DefaultConfigPath = "~/.config/creel/config.toml"

// Load reads configuration from path (or the default location when path
// is empty), applies defaults for unset fields, and validates the
// result. The second return reports whether a config file was found.
func Load(path string) (*Config, bool, error) {
	resolved := strings.TrimSpace(path)
	if resolved == "" {
		resolved = DefaultConfigPath
	}
	resolved = expandPath(resolved)

	cfg := Default()
	found := true
	data, err := os.ReadFile(resolved)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, false, fmt.Errorf("read config: %w", err)
		}
		found = false
	} else {
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, false, fmt.Errorf("parse config %s: %w", resolved, err)
		}
	}

	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, found, err
	}
	return &cfg, found, nil
}

// WriteSample writes the embedded sample configuration to path.
func WriteSample(path string) error {
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("ensure config directory: %w", err)
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config file already exists at %s", path)
	}
	return os.WriteFile(path, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates the staging, library, and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.StagingDir, c.LibraryDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	return nil
}

// TargetByID returns the configured target with the given id.
func (c *Config) TargetByID(id string) (Target, bool) {
	for _, target := range c.Targets {
		if target.ID == id {
			return target, true
		}
	}
	return Target{}, false
}

// DatabasePath returns the SQLite database location for job state.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.LogDir, "creel.db")
}

func (c *Config) normalize() {
	c.StagingDir = expandPath(c.StagingDir)
	c.LibraryDir = expandPath(c.LibraryDir)
	c.LogDir = expandPath(c.LogDir)
	c.SocketPath = expandPath(c.SocketPath)
	if c.SocketPath == "" {
		c.SocketPath = filepath.Join(c.LogDir, "creeld.sock")
	}
	c.Capture.SegmentExt = strings.TrimPrefix(strings.TrimSpace(c.Capture.SegmentExt), ".")
	for i := range c.Targets {
		c.Targets[i].ID = strings.TrimSpace(c.Targets[i].ID)
		c.Targets[i].URL = strings.TrimSpace(c.Targets[i].URL)
	}
}

func expandPath(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return path
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
