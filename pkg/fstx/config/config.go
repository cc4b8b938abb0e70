// Package config loads fstx configuration from YAML with defaults,
// environment overrides and struct validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/arthur-debert/fstx/pkg/fstx/history"
	"github.com/arthur-debert/fstx/pkg/fstx/recovery"
	"github.com/arthur-debert/fstx/pkg/fstx/telemetry"
)

// EnvLogLevel overrides Log.Level when set.
const EnvLogLevel = "FSTX_LOG_LEVEL"

// LogConfig configures logging.
type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=trace debug info warn error fatal panic disabled"`
}

// BatchConfig holds defaults for batches and processors.
type BatchConfig struct {
	AllowPartialFailure bool `yaml:"allow_partial_failure"`
	MaxRetries          int  `yaml:"max_retries" validate:"gte=0"`
	QueueSize           int  `yaml:"queue_size" validate:"gte=1"`
	// Processors is the number of processors Engine.RunAll spreads batches over.
	Processors int `yaml:"processors" validate:"gte=1,lte=64"`
}

// Config is the complete fstx configuration.
type Config struct {
	Log     LogConfig               `yaml:"log"`
	Retry   recovery.RetryConfig    `yaml:"retry"`
	History history.Config          `yaml:"history"`
	Batch   BatchConfig             `yaml:"batch"`
	Metrics telemetry.MetricsConfig `yaml:"metrics"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Log:     LogConfig{Level: "warn"},
		Retry:   recovery.DefaultRetryConfig(),
		History: history.DefaultConfig(),
		Batch: BatchConfig{
			MaxRetries: 3,
			QueueSize:  16,
			Processors: 1,
		},
		Metrics: telemetry.DefaultMetricsConfig(),
	}
}

// Load reads the configuration at path over the defaults. An empty path
// yields the defaults. Environment overrides are applied before validation.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse reads YAML from data over the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := cfg.decode(data); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func (c *Config) applyEnv() {
	if level := os.Getenv(EnvLogLevel); level != "" {
		c.Log.Level = strings.ToLower(level)
	}
}

var validate = validator.New()

// Validate checks the configuration against its struct tags.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
		}
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// LogLevel returns the parsed log level. Validation guarantees it parses.
func (c *Config) LogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(c.Log.Level)
	if err != nil {
		return zerolog.WarnLevel
	}
	return level
}

// HistoryPath returns History.Path or the default location.
func (c *Config) HistoryPath() (string, error) {
	if c.History.Path != "" {
		return c.History.Path, nil
	}
	return history.DefaultPath()
}
