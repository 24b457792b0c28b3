package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/coworkerhq/coworker/internal/policy"
)

// Config represents the complete coworker configuration
type Config struct {
	Policy  PolicyConfig  `mapstructure:"policy"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// PolicyConfig controls what plans are allowed to do
type PolicyConfig struct {
	// AllowedPaths are roots always added to the policy, in addition to any
	// paths selected per invocation. Supports ~ for home directory expansion.
	AllowedPaths []string `mapstructure:"allowed_paths"`
	// RequireApproval requires an explicit approval record before any plan
	// applies write-class tool calls (default: true)
	RequireApproval bool `mapstructure:"require_approval"`
	// MaxReadBytes caps fs.read_text and doc.extract_pdf_text reads
	MaxReadBytes int `mapstructure:"max_read_bytes"`
	// MaxWriteBytes caps proposed and applied write content
	MaxWriteBytes int `mapstructure:"max_write_bytes"`
	// WebEnabled gates web.fetch entirely (default: false)
	WebEnabled bool `mapstructure:"web_enabled"`
	// WebAllowlist are the hostnames web.fetch may reach.
	// An entry matches the exact host or any subdomain of it.
	WebAllowlist []string `mapstructure:"web_allowlist"`
	// MaxWebBytes caps fetched response bodies
	MaxWebBytes int `mapstructure:"max_web_bytes"`
	// MaxQueryChars caps URL query strings when allow_query is set
	MaxQueryChars int `mapstructure:"max_query_chars"`
	// CheckpointEveryWrites inserts an automatic checkpoint after this many
	// write-class tool calls when building plans (0 disables)
	CheckpointEveryWrites int `mapstructure:"checkpoint_every_writes"`
	// OCRMode is the default ocr_mode for doc.extract_pdf_text plans:
	// "off", "ask", or "on" (default: "off")
	OCRMode string `mapstructure:"ocr_mode"`
}

// RuntimeConfig controls the background task runtime
type RuntimeConfig struct {
	// Enabled gates all coworker-runtime subcommands (default: false)
	Enabled bool `mapstructure:"enabled"`
	// StateDir is where the runtime keeps tasks.db, locks/, bundles/, and
	// daemon.log. Empty means <user_config>/coworker.
	// Supports ~ for home directory expansion.
	StateDir string `mapstructure:"state_dir"`
	// Workers is how many claim loops the daemon runs per poll (default: 1)
	Workers int `mapstructure:"workers"`
	// PollSeconds is the idle daemon poll interval (default: 2.0)
	PollSeconds float64 `mapstructure:"poll_seconds"`
}

// LoggingConfig controls the daemon's structured log
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Policy: PolicyConfig{
			AllowedPaths:          []string{},
			RequireApproval:       true,
			MaxReadBytes:          200000,
			MaxWriteBytes:         200000,
			WebEnabled:            false,
			WebAllowlist:          []string{},
			MaxWebBytes:           200000,
			MaxQueryChars:         256,
			CheckpointEveryWrites: 5,
			OCRMode:               "off",
		},
		Runtime: RuntimeConfig{
			Enabled:     false,
			StateDir:    "", // Empty means use default: <user_config>/coworker
			Workers:     1,
			PollSeconds: 2.0,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Policy defaults
	viper.SetDefault("policy.allowed_paths", defaults.Policy.AllowedPaths)
	viper.SetDefault("policy.require_approval", defaults.Policy.RequireApproval)
	viper.SetDefault("policy.max_read_bytes", defaults.Policy.MaxReadBytes)
	viper.SetDefault("policy.max_write_bytes", defaults.Policy.MaxWriteBytes)
	viper.SetDefault("policy.web_enabled", defaults.Policy.WebEnabled)
	viper.SetDefault("policy.web_allowlist", defaults.Policy.WebAllowlist)
	viper.SetDefault("policy.max_web_bytes", defaults.Policy.MaxWebBytes)
	viper.SetDefault("policy.max_query_chars", defaults.Policy.MaxQueryChars)
	viper.SetDefault("policy.checkpoint_every_writes", defaults.Policy.CheckpointEveryWrites)
	viper.SetDefault("policy.ocr_mode", defaults.Policy.OCRMode)

	// Runtime defaults
	viper.SetDefault("runtime.enabled", defaults.Runtime.Enabled)
	viper.SetDefault("runtime.state_dir", defaults.Runtime.StateDir)
	viper.SetDefault("runtime.workers", defaults.Runtime.Workers)
	viper.SetDefault("runtime.poll_seconds", defaults.Runtime.PollSeconds)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// Limits converts the policy section into the raw knobs the policy layer
// consumes.
func (p *PolicyConfig) Limits() policy.Limits {
	return policy.Limits{
		AllowedPaths:    p.AllowedPaths,
		MaxReadBytes:    p.MaxReadBytes,
		MaxWriteBytes:   p.MaxWriteBytes,
		MaxWebBytes:     p.MaxWebBytes,
		MaxQueryChars:   p.MaxQueryChars,
		RequireApproval: p.RequireApproval,
		WebEnabled:      p.WebEnabled,
		WebAllowlist:    p.WebAllowlist,
	}
}

// ResolveStateDir returns the resolved runtime state directory.
// A non-empty override wins over the configured value; both support ~.
// If neither is set, the default is <user_config>/coworker.
func (r *RuntimeConfig) ResolveStateDir(override string) string {
	path := override
	if path == "" {
		path = r.StateDir
	}
	if path == "" {
		return ConfigDir()
	}
	return expandHome(path)
}

// PollInterval returns the poll interval as a time.Duration
func (r *RuntimeConfig) PollInterval() time.Duration {
	return time.Duration(r.PollSeconds * float64(time.Second))
}

func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		home, err := os.UserHomeDir()
		if err == nil {
			return home
		}
	}
	return path
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "coworker")
	}
	// Fall back to ~/.config/coworker
	home, err := os.UserHomeDir()
	if err != nil {
		return ".coworker"
	}
	return filepath.Join(home, ".config", "coworker")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// ValidOCRModes returns the list of valid ocr_mode values
func ValidOCRModes() []string {
	return []string{"off", "ask", "on"}
}

// IsValidOCRMode checks if the given mode is valid
func IsValidOCRMode(mode string) bool {
	for _, valid := range ValidOCRModes() {
		if mode == valid {
			return true
		}
	}
	return false
}
