package testsupport

import (
	"path/filepath"
	"testing"

	"creel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per
// test. It defaults common fields, registers one target, and applies
// any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.StagingDir = filepath.Join(base, "staging")
	cfg.LibraryDir = filepath.Join(base, "library")
	cfg.LogDir = filepath.Join(base, "logs")
	cfg.SocketPath = filepath.Join(base, "creeld.sock")
	cfg.Targets = []config.Target{
		{ID: "chan-a", Name: "Channel A", URL: "https://example.test/chan-a", Quality: "best"},
	}
	// Fast-twitch timings so tests observe loops without long sleeps.
	cfg.Workflow.HeartbeatInterval = 1
	cfg.Tasks.PollInterval = 1
	cfg.Reconciler.Interval = 1

	for _, opt := range opts {
		opt(&cfg)
	}

	if err := cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return &cfg
}

// WithTargets replaces the configured targets.
func WithTargets(targets ...config.Target) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Targets = targets
	}
}

// WithNtfyTopic points notifications at the given topic URL.
func WithNtfyTopic(topic string) ConfigOption {
	return func(cfg *config.Config) {
		cfg.Notifications.NtfyTopic = topic
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.StagingDir)
}
