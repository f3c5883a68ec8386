package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// setDefaults registers every setting with its default value so that a bare
// installation runs without a config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("version", "1")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 7433)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")

	v.SetDefault("storage.data_dir", "")

	v.SetDefault("provider.default_priority", 100)
	v.SetDefault("provider.timeout", 600*time.Second)
	v.SetDefault("provider.continuation_cap", 3)
	v.SetDefault("provider.thinking_buffer", 1024)

	v.SetDefault("orchestrator.max_iterations", 20)

	v.SetDefault("events.debug", false)
	v.SetDefault("events.raw", false)

	v.SetDefault("approval.timeout", 120*time.Second)
	v.SetDefault("approval.audit_path", filepath.Join("audit", "approvals.jsonl"))

	v.SetDefault("compaction.threshold", 50)
	v.SetDefault("compaction.keep_recent", 20)

	v.SetDefault("automation.stop_timeout", 30*time.Second)
	v.SetDefault("automation.history_limit", 100)
}

// DefaultDataDir returns the default data root (~/.ampd).
func DefaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ampd"
	}
	return filepath.Join(home, ".ampd")
}

// DefaultConfigPath returns the default settings file location.
func DefaultConfigPath() string {
	return filepath.Join(DefaultDataDir(), "config.yaml")
}
