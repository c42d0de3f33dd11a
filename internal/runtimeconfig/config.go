// Package runtimeconfig manages loaf's own operating configuration:
// process-runner and shell timeouts, background-session buffer/PTY
// defaults, compaction ratios, and storage locations. It does not
// parse the external frontend/provider configuration formats, which
// spec.md §1 places outside the core's scope.
package runtimeconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config aggregates every tunable the core runtime reads at startup.
type Config struct {
	Process    ProcessConfig    `mapstructure:"process"`
	Shell      ShellConfig      `mapstructure:"shell"`
	Session    SessionConfig    `mapstructure:"session"`
	Compaction CompactionConfig `mapstructure:"compaction"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Logging    LoggingConfig    `mapstructure:"logging"`
}

// ProcessConfig governs the foreground process runner (C1).
type ProcessConfig struct {
	DefaultTimeoutSeconds int `mapstructure:"defaultTimeoutSeconds"`
	MaxTimeoutSeconds     int `mapstructure:"maxTimeoutSeconds"`
	KillGraceMillis       int `mapstructure:"killGraceMillis"`
	ExitCloseGraceMillis  int `mapstructure:"exitCloseGraceMillis"`
}

// ShellConfig governs shell resolution (C2) and the stateful wrapper (C3).
type ShellConfig struct {
	PosixCandidates   []string `mapstructure:"posixCandidates"`
	WindowsCandidates []string `mapstructure:"windowsCandidates"`
	MarkerPrefix      string   `mapstructure:"markerPrefix"`
}

// SessionConfig governs the background session manager (C4).
type SessionConfig struct {
	StreamBufferChars int `mapstructure:"streamBufferChars"`
	DefaultCols       int `mapstructure:"defaultCols"`
	DefaultRows       int `mapstructure:"defaultRows"`
	MinCols           int `mapstructure:"minCols"`
	MaxCols           int `mapstructure:"maxCols"`
	MinRows           int `mapstructure:"minRows"`
	MaxRows           int `mapstructure:"maxRows"`
	DefaultReadChars  int `mapstructure:"defaultReadChars"`
	MaxReadChars      int `mapstructure:"maxReadChars"`
	StopGraceMillis   int `mapstructure:"stopGraceMillis"`
	ForceGraceMillis  int `mapstructure:"forceGraceMillis"`
}

// CompactionConfig governs the compaction engine (C9).
type CompactionConfig struct {
	HighWatermarkRatio  float64 `mapstructure:"highWatermarkRatio"`
	TargetRatio         float64 `mapstructure:"targetRatio"`
	MinimumRecentEvents int     `mapstructure:"minimumRecentEvents"`
	MinimumRecentTurns  int     `mapstructure:"minimumRecentUserTurns"`
}

// StorageConfig governs sidecar placement (C10) and the optional durable
// session index.
type StorageConfig struct {
	SidecarDir   string `mapstructure:"sidecarDir"`
	IndexDSN     string `mapstructure:"indexDSN"`
	IndexDialect string `mapstructure:"indexDialect"` // sqlite|postgres
}

// LoggingConfig mirrors logger.Config for mapstructure binding.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("LOAF_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("process.defaultTimeoutSeconds", 120)
	v.SetDefault("process.maxTimeoutSeconds", 1200)
	v.SetDefault("process.killGraceMillis", 1500)
	v.SetDefault("process.exitCloseGraceMillis", 250)

	v.SetDefault("shell.posixCandidates", []string{"zsh", "bash", "sh"})
	v.SetDefault("shell.windowsCandidates", []string{"powershell", "cmd"})
	v.SetDefault("shell.markerPrefix", "__LOAF_BASH_")

	v.SetDefault("session.streamBufferChars", 300000)
	v.SetDefault("session.defaultCols", 120)
	v.SetDefault("session.defaultRows", 36)
	v.SetDefault("session.minCols", 40)
	v.SetDefault("session.maxCols", 400)
	v.SetDefault("session.minRows", 10)
	v.SetDefault("session.maxRows", 200)
	v.SetDefault("session.defaultReadChars", 8000)
	v.SetDefault("session.maxReadChars", 120000)
	v.SetDefault("session.stopGraceMillis", 120)
	v.SetDefault("session.forceGraceMillis", 50)

	v.SetDefault("compaction.highWatermarkRatio", 0.82)
	v.SetDefault("compaction.targetRatio", 0.58)
	v.SetDefault("compaction.minimumRecentEvents", 12)
	v.SetDefault("compaction.minimumRecentUserTurns", 4)

	v.SetDefault("storage.sidecarDir", "")
	v.SetDefault("storage.indexDSN", defaultIndexDSN())
	v.SetDefault("storage.indexDialect", "sqlite")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stdout")
}

func defaultIndexDSN() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./loaf-sessions.db"
	}
	return filepath.Join(home, ".loaf", "sessions.db")
}

// Default returns the built-in defaults without consulting the
// environment or any config file. Tests and embedded callers use this.
func Default() *Config {
	v := viper.New()
	setDefaults(v)
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		panic(fmt.Sprintf("runtimeconfig defaults failed to unmarshal: %v", err))
	}
	return &cfg
}

// YAML renders the config as a YAML document, for `loaf config show`-style
// introspection and for seeding a fresh ~/.loaf/config.yaml.
func (c *Config) YAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// Load reads configuration from LOAF_-prefixed environment variables, an
// optional ~/.loaf/config.yaml, and built-in defaults.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath is Load but with an additional config-file search directory.
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LOAF")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	if home, err := os.UserHomeDir(); err == nil {
		v.AddConfigPath(filepath.Join(home, ".loaf"))
	}
	v.AddConfigPath(".")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Process.DefaultTimeoutSeconds <= 0 || cfg.Process.DefaultTimeoutSeconds > cfg.Process.MaxTimeoutSeconds {
		errs = append(errs, "process.defaultTimeoutSeconds must be positive and <= maxTimeoutSeconds")
	}
	if cfg.Process.MaxTimeoutSeconds <= 0 || cfg.Process.MaxTimeoutSeconds > 1200 {
		errs = append(errs, "process.maxTimeoutSeconds must be in (0, 1200]")
	}

	if cfg.Session.MinCols < 40 || cfg.Session.MaxCols > 400 || cfg.Session.MinCols > cfg.Session.MaxCols {
		errs = append(errs, "session column bounds must fit within [40,400]")
	}
	if cfg.Session.MinRows < 10 || cfg.Session.MaxRows > 200 || cfg.Session.MinRows > cfg.Session.MaxRows {
		errs = append(errs, "session row bounds must fit within [10,200]")
	}
	if cfg.Session.StreamBufferChars <= 0 {
		errs = append(errs, "session.streamBufferChars must be positive")
	}

	if cfg.Compaction.HighWatermarkRatio < 0.10 || cfg.Compaction.HighWatermarkRatio > 0.99 {
		errs = append(errs, "compaction.highWatermarkRatio must be within [0.10,0.99]")
	}
	if cfg.Compaction.TargetRatio < 0.10 || cfg.Compaction.TargetRatio > 0.99 {
		errs = append(errs, "compaction.targetRatio must be within [0.10,0.99]")
	}
	if cfg.Compaction.TargetRatio > cfg.Compaction.HighWatermarkRatio {
		errs = append(errs, "compaction.targetRatio must not exceed highWatermarkRatio")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
