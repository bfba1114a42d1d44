// Package config loads the PeerTrade application settings from config.yaml
// in the data directory.
package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// ConfigFileName is the default config file name.
const ConfigFileName = "config.yaml"

// DefaultDataDir is where settings, the ledger and logs live.
const DefaultDataDir = "~/.peertrade"

// Config holds all application settings.
type Config struct {
	// DataDir is the directory for all data files.
	DataDir string `yaml:"data_dir"`

	Logging LoggingConfig `yaml:"logging"`
	Trade   TradeConfig   `yaml:"trade"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	// Level is the log level (debug, info, warn, error).
	Level string `yaml:"level"`

	// Format is text, logfmt or json.
	Format string `yaml:"format"`

	// File is the log file name, relative to the data dir unless absolute.
	// Empty disables the file sink.
	File string `yaml:"file"`

	// Rotation limits for the log file.
	MaxSizeMB  int `yaml:"max_size_mb"`
	MaxBackups int `yaml:"max_backups"`
	MaxAgeDays int `yaml:"max_age_days"`
}

// TradeConfig holds trading defaults.
type TradeConfig struct {
	// PollInterval is the pause between settlement iterations.
	PollInterval time.Duration `yaml:"poll_interval"`

	// UnlockHours is how long a wallet stays unlocked after we unlock it.
	UnlockHours int `yaml:"unlock_hours"`

	// DonationPercent of the send amount is offered as a donation once a
	// trade completes. Zero disables it.
	DonationPercent string `yaml:"donation_percent"`

	// DefaultRounds is offered when starting a new trade.
	DefaultRounds int `yaml:"default_rounds"`

	// DefaultMinConf is offered when starting a new trade.
	DefaultMinConf int `yaml:"default_minconf"`

	// PublishURL is a JSON-RPC endpoint completed trades may be published
	// to, after asking. Empty disables publishing.
	PublishURL string `yaml:"publish_url"`
}

// MetricsConfig holds the Prometheus endpoint settings.
type MetricsConfig struct {
	// Listen is the address for /metrics. Empty disables the endpoint.
	Listen string `yaml:"listen"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir: DefaultDataDir,
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			File:       "debug.log",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 30,
		},
		Trade: TradeConfig{
			PollInterval:    3 * time.Second,
			UnlockHours:     24,
			DonationPercent: "0.5",
			DefaultRounds:   10,
			DefaultMinConf:  0,
		},
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	if c.Trade.PollInterval <= 0 {
		return fmt.Errorf("trade.poll_interval must be positive")
	}
	if c.Trade.UnlockHours <= 0 {
		return fmt.Errorf("trade.unlock_hours must be positive")
	}
	if c.Trade.DefaultRounds <= 0 {
		return fmt.Errorf("trade.default_rounds must be positive")
	}
	if c.Trade.DefaultMinConf < 0 {
		return fmt.Errorf("trade.default_minconf must not be negative")
	}
	switch c.Logging.Format {
	case "", "text", "logfmt", "json":
	default:
		return fmt.Errorf("logging.format must be text, logfmt or json")
	}
	if c.Trade.PublishURL != "" {
		u, err := url.Parse(c.Trade.PublishURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("trade.publish_url must be an http or https URL")
		}
	}
	if _, err := c.DonationFraction(); err != nil {
		return err
	}
	return nil
}

// DonationFraction returns DonationPercent as a fraction of one.
func (c *Config) DonationFraction() (decimal.Decimal, error) {
	if c.Trade.DonationPercent == "" {
		return decimal.Zero, nil
	}
	pct, err := decimal.NewFromString(c.Trade.DonationPercent)
	if err != nil {
		return decimal.Zero, fmt.Errorf("trade.donation_percent: %w", err)
	}
	if pct.IsNegative() || pct.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero, fmt.Errorf("trade.donation_percent must be between 0 and 100")
	}
	return pct.Div(decimal.NewFromInt(100)), nil
}

// UnlockDuration returns UnlockHours as a duration.
func (c *Config) UnlockDuration() time.Duration {
	return time.Duration(c.Trade.UnlockHours) * time.Hour
}

// DataPath returns the expanded data directory.
func (c *Config) DataPath() string {
	return ExpandPath(c.DataDir)
}

// LogFilePath returns the absolute log file path, or "" when file logging is off.
func (c *Config) LogFilePath() string {
	if c.Logging.File == "" {
		return ""
	}
	p := ExpandPath(c.Logging.File)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataPath(), p)
}

// LoadConfig loads configuration from config.yaml in dataDir.
// If the file doesn't exist, it creates one with default values.
func LoadConfig(dataDir string) (*Config, error) {
	return LoadFile(ConfigPath(dataDir), dataDir)
}

// LoadFile loads configuration from path, creating it with defaults when
// missing. dataDir is recorded in a newly created file.
func LoadFile(path, dataDir string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		cfg.DataDir = dataDir

		if err := cfg.Save(path); err != nil {
			return nil, fmt.Errorf("failed to create default config: %w", err)
		}
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if cfg.DataDir == "" {
		cfg.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", path, err)
	}

	return cfg, nil
}

// Save writes the configuration to a YAML file.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte("# PeerTrade Configuration\n# Generated automatically on first run\n\n")
	data = append(header, data...)

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ConfigPath returns the full path to the config file for the given data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(ExpandPath(dataDir), ConfigFileName)
}

// ExpandPath expands a leading ~ to the home directory.
func ExpandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}
