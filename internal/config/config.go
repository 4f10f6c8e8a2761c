// ABOUTME: Configuration loading and parsing for the messaging gateway core
// ABOUTME: YAML with environment variable expansion, duration parsing and validation

package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the complete messaging gateway configuration
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Phone    PhoneConfig    `yaml:"phone"`
	Blob     BlobConfig     `yaml:"blob"`
	Accounts AccountsConfig `yaml:"accounts"`
	Webhook  WebhookConfig  `yaml:"webhook"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// GatewayConfig holds HTTP client settings for the external messaging gateway
type GatewayConfig struct {
	Timeout time.Duration `yaml:"-"`

	// Raw string value for YAML unmarshaling
	TimeoutRaw string `yaml:"timeout"`
}

// PhoneConfig holds phone normalization settings
type PhoneConfig struct {
	// DefaultCountryCode is prepended to national numbers lacking one.
	DefaultCountryCode string `yaml:"default_country_code" validate:"omitempty,numeric"`
}

// BlobConfig holds blob storage configuration for voice uploads
type BlobConfig struct {
	Dir     string `yaml:"dir"`
	BaseURL string `yaml:"base_url" validate:"omitempty,url"`
}

// AccountsConfig points at the TOML account manifest maintained by the
// configuration collaborator
type AccountsConfig struct {
	ManifestPath string `yaml:"manifest_path"`
}

// WebhookConfig holds the inbound webhook listener settings
type WebhookConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=debug info warn error"`
	Format string `yaml:"format" validate:"omitempty,oneof=text json"`
}

var validate = validator.New()

// Load reads a configuration file from the given path and returns a parsed
// Config. Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := validate.Struct(&cfg); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// applyDefaults fills optional fields with their defaults.
func (c *Config) applyDefaults() {
	if c.Phone.DefaultCountryCode == "" {
		c.Phone.DefaultCountryCode = "55"
	}
	if c.Gateway.Timeout == 0 {
		c.Gateway.Timeout = 30 * time.Second
	}
	if c.Webhook.ListenAddr == "" {
		c.Webhook.ListenAddr = ":8090"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding
// environment variable values. Unset variables become empty strings.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Gateway.TimeoutRaw != "" {
		var err error
		cfg.Gateway.Timeout, err = time.ParseDuration(cfg.Gateway.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing gateway timeout %q: %w", cfg.Gateway.TimeoutRaw, err)
		}
	}
	return nil
}
