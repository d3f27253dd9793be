package config

import (
	"fmt"
	"os"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"gopkg.in/yaml.v3"

	"github.com/faucetdb/accessd/internal/kvs"
)

// YAMLConfig represents the top-level accessd configuration file.
type YAMLConfig struct {
	Store        StoreConfig        `yaml:"store" mapstructure:"store"`
	Auth         AuthConfig         `yaml:"auth" mapstructure:"auth"`
	Capabilities CapabilitiesConfig `yaml:"capabilities" mapstructure:"capabilities"`
	Logging      LoggingConfig      `yaml:"logging" mapstructure:"logging"`
	Metrics      MetricsConfig      `yaml:"metrics" mapstructure:"metrics"`
}

// StoreConfig selects the datastore backend.
type StoreConfig struct {
	Driver string `yaml:"driver" mapstructure:"driver"`
	DSN    string `yaml:"dsn" mapstructure:"dsn"`
}

// AuthConfig controls session signing.
type AuthConfig struct {
	JWTSecret       string `yaml:"jwt_secret" mapstructure:"jwt_secret"`
	Issuer          string `yaml:"issuer" mapstructure:"issuer"`
	SessionDuration string `yaml:"session_duration" mapstructure:"session_duration"`
	PasswordCost    int    `yaml:"password_cost" mapstructure:"password_cost"`
}

// CapabilitiesConfig switches optional features on.
type CapabilitiesConfig struct {
	BearerAccess bool `yaml:"bearer_access" mapstructure:"bearer_access"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// MetricsConfig controls where counters are exported. An empty Textfile
// disables the export.
type MetricsConfig struct {
	Textfile string `yaml:"textfile" mapstructure:"textfile"`
}

// Duration parses SessionDuration. An empty value yields zero, which means
// the service default.
func (a AuthConfig) Duration() (time.Duration, error) {
	if a.SessionDuration == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(a.SessionDuration)
	if err != nil {
		return 0, fmt.Errorf("auth.session_duration: %w", err)
	}
	return d, nil
}

func duration(value interface{}) error {
	s, _ := value.(string)
	if s == "" {
		return nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	if d <= 0 {
		return fmt.Errorf("must be positive")
	}
	return nil
}

// Validate checks the configuration against the known drivers, log levels
// and formats.
func (c *YAMLConfig) Validate() error {
	drivers := make([]interface{}, 0, 4)
	for _, d := range kvs.DefaultRegistry().Drivers() {
		drivers = append(drivers, d)
	}
	if err := validation.ValidateStruct(&c.Store,
		validation.Field(&c.Store.Driver, validation.Required, validation.In(drivers...)),
	); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := validation.ValidateStruct(&c.Auth,
		validation.Field(&c.Auth.SessionDuration, validation.By(duration)),
		validation.Field(&c.Auth.PasswordCost, validation.Min(0), validation.Max(31)),
	); err != nil {
		return fmt.Errorf("auth: %w", err)
	}
	if err := validation.ValidateStruct(&c.Logging,
		validation.Field(&c.Logging.Level, validation.In("debug", "info", "warn", "error")),
		validation.Field(&c.Logging.Format, validation.In("text", "json")),
	); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	return nil
}

// LoadYAMLConfig reads and parses a YAML configuration file. Environment
// variables referenced as ${VAR_NAME} in the file are expanded before parsing.
// Settings missing from the file keep their defaults.
func LoadYAMLConfig(path string) (*YAMLConfig, error) {
	content, err := ReadExpanded(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultYAMLConfig()
	if err := yaml.Unmarshal(content, cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return cfg, nil
}

// ReadExpanded reads a configuration file and expands environment variables
// referenced as ${VAR_NAME}.
func ReadExpanded(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return []byte(os.ExpandEnv(string(data))), nil
}

// DefaultYAMLConfig returns a YAMLConfig pre-filled with sensible defaults.
func DefaultYAMLConfig() *YAMLConfig {
	return &YAMLConfig{
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Auth: AuthConfig{
			Issuer:          "accessd",
			SessionDuration: "1h",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// WriteDefaultConfig writes the default configuration to a YAML file.
func WriteDefaultConfig(path string) error {
	cfg := DefaultYAMLConfig()
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
