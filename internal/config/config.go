// Package config owns the capability surface of the connector: secret,
// transport mode, outbound composition settings and permission flags.
// Values load from a JSON or YAML file with environment overrides on top.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"dlbridge/internal/domain"
)

// Config is the full capability set consumed by the connector.
type Config struct {
	// Secret is the Direct Line secret or token. Required.
	Secret string `json:"secret" yaml:"secret" env:"DIRECTLINE_SECRET"`
	// Domain overrides the Direct Line endpoint base URL.
	Domain string `json:"domain,omitempty" yaml:"domain" env:"DIRECTLINE_DOMAIN"`
	// WebSocket selects socket streaming (true) or polling (false).
	WebSocket bool `json:"webSocket" yaml:"webSocket" env:"DIRECTLINE_WEBSOCKET"`
	// PollingIntervalMs is the poll period in polling mode.
	PollingIntervalMs int `json:"pollingIntervalMs,omitempty" yaml:"pollingIntervalMs" env:"DIRECTLINE_POLLING_INTERVAL_MS"`
	// GenerateUsername replaces the static sender ID with a random one.
	GenerateUsername bool `json:"generateUsername" yaml:"generateUsername" env:"DIRECTLINE_GENERATE_USERNAME"`

	// ButtonType is the activity type used when sending a button press.
	ButtonType string `json:"buttonType,omitempty" yaml:"buttonType" env:"DIRECTLINE_BUTTON_TYPE"`
	// ButtonValueField is the dotted path receiving the button payload.
	ButtonValueField string `json:"buttonValueField,omitempty" yaml:"buttonValueField" env:"DIRECTLINE_BUTTON_VALUE_FIELD"`

	// ActivityTypes is the inbound type allow-list.
	ActivityTypes []string `json:"activityTypes,omitempty" yaml:"activityTypes" env:"DIRECTLINE_ACTIVITY_TYPES"`
	// ActivityValueMap maps a non-message activity type to the field used
	// as its message text.
	ActivityValueMap map[string]string `json:"activityValueMap,omitempty" yaml:"activityValueMap"`
	// ActivityTemplate is merged into every outbound activity before
	// composition.
	ActivityTemplate map[string]any `json:"activityTemplate,omitempty" yaml:"activityTemplate"`
	// ActivityValidation is "error" (fail the send) or "warn" (log only)
	// when the composed activity is malformed.
	ActivityValidation string `json:"activityValidation,omitempty" yaml:"activityValidation" env:"DIRECTLINE_ACTIVITY_VALIDATION"`
	// WelcomeActivity, when set, is posted right after subscribing.
	WelcomeActivity map[string]any `json:"welcomeActivity,omitempty" yaml:"welcomeActivity"`

	// AllowUnsafeIO permits local-file media attachments.
	AllowUnsafeIO bool `json:"allowUnsafeIO" yaml:"allowUnsafeIO" env:"DIRECTLINE_ALLOW_UNSAFE_IO"`

	// TimeoutSeconds bounds every REST call against the transport.
	TimeoutSeconds int `json:"timeoutSeconds,omitempty" yaml:"timeoutSeconds" env:"DIRECTLINE_TIMEOUT_SECONDS"`
	// LogLevel is debug | info | warn | error.
	LogLevel string `json:"logLevel,omitempty" yaml:"logLevel" env:"DIRECTLINE_LOG_LEVEL"`
}

const (
	defaultDomain      = "https://directline.botframework.com/v3/directline"
	defaultPollMs      = 1000
	minPollMs          = 200
	defaultButtonType  = "event"
	defaultButtonField = "name"
	defaultTimeoutSecs = 30

	// ActivityValidation values.
	ValidationError = "error"
	ValidationWarn  = "warn"
)

// Defaults returns a config with every optional capability at its default.
func Defaults() *Config {
	return &Config{
		Domain:             defaultDomain,
		WebSocket:          true,
		PollingIntervalMs:  defaultPollMs,
		ButtonType:         defaultButtonType,
		ButtonValueField:   defaultButtonField,
		ActivityTypes:      []string{"message"},
		ActivityValueMap:   map[string]string{"event": "name"},
		ActivityValidation: ValidationError,
		TimeoutSeconds:     defaultTimeoutSecs,
		LogLevel:           "info",
	}
}

// DefaultConfigDir returns ~/.dlbridge.
func DefaultConfigDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".dlbridge")
}

// DefaultConfigPath returns ~/.dlbridge/config.json.
func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads the config file at path (JSON or YAML by extension), overlays
// environment variables and fills defaults for anything still unset.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse yaml config: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse json config: %w", err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	cfg.fill()
	return cfg, nil
}

// FromEnv builds a config from defaults plus environment variables only.
func FromEnv() (*Config, error) {
	cfg := Defaults()
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("apply env overrides: %w", err)
	}
	cfg.fill()
	return cfg, nil
}

// Save writes cfg to path as indented JSON.
func Save(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o600)
}

func (c *Config) fill() {
	if c.Domain == "" {
		c.Domain = defaultDomain
	}
	if c.PollingIntervalMs <= 0 {
		c.PollingIntervalMs = defaultPollMs
	}
	if c.PollingIntervalMs < minPollMs {
		c.PollingIntervalMs = minPollMs
	}
	if c.ButtonType == "" {
		c.ButtonType = defaultButtonType
	}
	if c.ButtonValueField == "" {
		c.ButtonValueField = defaultButtonField
	}
	if len(c.ActivityTypes) == 0 {
		c.ActivityTypes = []string{"message"}
	}
	if c.ActivityValueMap == nil {
		c.ActivityValueMap = map[string]string{"event": "name"}
	}
	if c.ActivityValidation == "" {
		c.ActivityValidation = ValidationError
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = defaultTimeoutSecs
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
}

// Validate fails fast on capabilities the connector cannot run without.
func (c *Config) Validate() error {
	if c.Secret == "" {
		return &domain.ConfigError{Capability: "secret", Reason: "required"}
	}
	if c.ActivityValidation != ValidationError && c.ActivityValidation != ValidationWarn {
		return &domain.ConfigError{
			Capability: "activityValidation",
			Reason:     fmt.Sprintf("must be %q or %q", ValidationError, ValidationWarn),
		}
	}
	return nil
}

// AllowedType reports whether an inbound activity type passes the
// allow-list filter.
func (c *Config) AllowedType(t string) bool {
	for _, a := range c.ActivityTypes {
		if a == t {
			return true
		}
	}
	return false
}
