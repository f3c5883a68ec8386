// Package config loads and validates the ampd daemon settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"ampd/pkg/logger"
)

// Config is the root settings structure for the daemon.
type Config struct {
	Version    string           `mapstructure:"version" yaml:"version"`
	Server     ServerConfig     `mapstructure:"server" yaml:"server"`
	Log        logger.Config    `mapstructure:"log" yaml:"log"`
	Storage    StorageConfig    `mapstructure:"storage" yaml:"storage"`
	Provider   ProviderConfig   `mapstructure:"provider" yaml:"provider"`
	Orchestra  OrchestraConfig  `mapstructure:"orchestrator" yaml:"orchestrator"`
	Events     EventsConfig     `mapstructure:"events" yaml:"events"`
	Approval   ApprovalConfig   `mapstructure:"approval" yaml:"approval"`
	Compaction CompactionConfig `mapstructure:"compaction" yaml:"compaction"`
	Automation AutomationConfig `mapstructure:"automation" yaml:"automation"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host"`
	Port int    `mapstructure:"port" yaml:"port"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// StorageConfig holds the data root layout.
type StorageConfig struct {
	// DataDir is the root directory for all persisted state
	// (sessions/, automations/, audit/, profiles/).
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// SessionsDir returns the directory holding per-session state.
func (c StorageConfig) SessionsDir() string {
	return filepath.Join(c.DataDir, "sessions")
}

// AutomationsDir returns the directory holding automation state.
func (c StorageConfig) AutomationsDir() string {
	return filepath.Join(c.DataDir, "automations")
}

// AuditDir returns the directory holding append-only audit logs.
func (c StorageConfig) AuditDir() string {
	return filepath.Join(c.DataDir, "audit")
}

// ProfilesDir returns the directory holding discoverable profiles.
func (c StorageConfig) ProfilesDir() string {
	return filepath.Join(c.DataDir, "profiles")
}

// ProviderConfig holds defaults applied to mounted providers.
type ProviderConfig struct {
	// DefaultPriority is assigned to providers mounted without an explicit
	// priority. Lower values are tried first.
	DefaultPriority int `mapstructure:"default_priority" yaml:"default_priority"`
	// Timeout bounds a single provider call.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// ContinuationCap bounds automatic resubmission of incomplete responses.
	ContinuationCap int `mapstructure:"continuation_cap" yaml:"continuation_cap"`
	// ThinkingBuffer is added on top of the thinking budget when raising
	// max_output_tokens for extended thinking.
	ThinkingBuffer int `mapstructure:"thinking_buffer" yaml:"thinking_buffer"`
}

// OrchestraConfig holds agentic-loop settings.
type OrchestraConfig struct {
	// MaxIterations caps provider/tool round trips per turn. 0 = unlimited.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`
}

// EventsConfig gates verbose event emission.
type EventsConfig struct {
	// Debug enables llm:request:debug / llm:response:debug events.
	Debug bool `mapstructure:"debug" yaml:"debug"`
	// Raw enables llm:request:raw / llm:response:raw events.
	Raw bool `mapstructure:"raw" yaml:"raw"`
}

// ApprovalConfig holds approval-gate settings.
type ApprovalConfig struct {
	// Timeout bounds a pending approval request; expiry is a deny.
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// AuditPath is the approvals JSONL file, relative to the data dir
	// unless absolute.
	AuditPath string `mapstructure:"audit_path" yaml:"audit_path"`
}

// ResolveAuditPath returns the absolute approval audit path.
func (c ApprovalConfig) ResolveAuditPath(dataDir string) string {
	if filepath.IsAbs(c.AuditPath) {
		return c.AuditPath
	}
	return filepath.Join(dataDir, c.AuditPath)
}

// CompactionConfig holds transcript compaction settings.
type CompactionConfig struct {
	// Threshold is the message count above which a mounted context manager
	// compacts the transcript before the next provider call.
	Threshold int `mapstructure:"threshold" yaml:"threshold"`
	// KeepRecent is how many trailing messages survive compaction verbatim.
	KeepRecent int `mapstructure:"keep_recent" yaml:"keep_recent"`
}

// AutomationConfig holds scheduler settings.
type AutomationConfig struct {
	// StopTimeout bounds how long Stop waits for in-flight firings.
	StopTimeout time.Duration `mapstructure:"stop_timeout" yaml:"stop_timeout"`
	// HistoryLimit caps execution records returned by the API.
	HistoryLimit int `mapstructure:"history_limit" yaml:"history_limit"`
}

// Load reads the settings file, applying defaults and AMPD_* env overrides.
// If path is empty the default location is used. A missing file is not an
// error; defaults apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("AMPD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path == "" {
		path = DefaultConfigPath()
	}
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = DefaultDataDir()
	}
	cfg.Storage.DataDir = expandHome(cfg.Storage.DataDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks settings invariants.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("config: invalid port %d", c.Server.Port)
	}
	if c.Provider.Timeout <= 0 {
		return fmt.Errorf("config: provider timeout must be positive")
	}
	if c.Orchestra.MaxIterations < 0 {
		return fmt.Errorf("config: max_iterations must be >= 0")
	}
	if c.Compaction.Threshold < 0 {
		return fmt.Errorf("config: compaction threshold must be >= 0")
	}
	return nil
}

// WriteDefault writes a commented default settings file to path, creating
// parent directories. It refuses to overwrite an existing file.
func WriteDefault(path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config: %s already exists", path)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshal defaults: %w", err)
	}
	data, err := yaml.Marshal(&cfg)
	if err != nil {
		return fmt.Errorf("marshal defaults: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

// expandHome replaces a leading ~ with the user home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
