package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the gateway.
type Config struct {
	General  GeneralConfig  `json:"general" yaml:"general"`
	Server   ServerConfig   `json:"server" yaml:"server"`
	Session  SessionConfig  `json:"session" yaml:"session"`
	Webhooks WebhooksConfig `json:"webhooks" yaml:"webhooks"`
	Media    MediaConfig    `json:"media" yaml:"media"`
	Dedup    DedupConfig    `json:"dedup" yaml:"dedup"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel" yaml:"logLevel"`
	// AuthDir holds one credential directory per session id. Directory
	// presence at startup is the signal to resurrect a session.
	AuthDir string `json:"authDir" yaml:"authDir"`
	// PrintQR renders pairing QR codes on the terminal, for operators
	// running the gateway interactively.
	PrintQR bool `json:"printQr" yaml:"printQr"`
}

// ServerConfig configures the HTTP control surface.
type ServerConfig struct {
	Host   string `json:"host" yaml:"host"`
	Port   int    `json:"port" yaml:"port"`
	APIKey string `json:"apiKey,omitempty" yaml:"apiKey,omitempty"` // optional bearer token
}

// SessionConfig bounds the reconnection behavior of every session.
type SessionConfig struct {
	MaxRetries        int `json:"maxRetries" yaml:"maxRetries"`
	RetryDelaySeconds int `json:"retryDelaySeconds" yaml:"retryDelaySeconds"`
}

// WebhooksConfig configures the outbound notification destinations.
// Lifecycle and profile events go to EventsURL; message events fan out to
// MessagesURL and AutomationURL concurrently.
type WebhooksConfig struct {
	EventsURL      string `json:"eventsUrl" yaml:"eventsUrl"`
	MessagesURL    string `json:"messagesUrl" yaml:"messagesUrl"`
	AutomationURL  string `json:"automationUrl,omitempty" yaml:"automationUrl,omitempty"`
	Secret         string `json:"secret,omitempty" yaml:"secret,omitempty"`
	TimeoutSeconds int    `json:"timeoutSeconds" yaml:"timeoutSeconds"`
	ThrottleMS     int    `json:"throttleMs" yaml:"throttleMs"`
}

// MediaConfig bounds avatar handling.
type MediaConfig struct {
	MaxAvatarBytes  int `json:"maxAvatarBytes" yaml:"maxAvatarBytes"`
	ProfileTTLHours int `json:"profileTtlHours" yaml:"profileTtlHours"`
}

// DedupConfig configures the sent-message echo suppression window.
type DedupConfig struct {
	TTLSeconds int `json:"ttlSeconds" yaml:"ttlSeconds"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// DefaultConfigDir returns the default config directory (~/.zapgate).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".zapgate"
	}
	return filepath.Join(home, ".zapgate")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a config file (JSON, or YAML when the path ends in .yaml/.yml),
// expands ${VAR} / ${VAR:-default} references, applies defaults for missing
// sections, and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	cfg.General.AuthDir = ExpandPath(cfg.General.AuthDir)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	var (
		data []byte
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err = yaml.Marshal(cfg)
	default:
		data, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o644)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "", "debug", "info", "warn", "error":
		// valid
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.AuthDir == "" {
		errs = append(errs, "general.authDir must not be empty")
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}

	if cfg.Session.MaxRetries < 0 || cfg.Session.MaxRetries > 10 {
		errs = append(errs, "session.maxRetries must be between 0 and 10")
	}
	if cfg.Session.RetryDelaySeconds < 1 {
		errs = append(errs, "session.retryDelaySeconds must be >= 1")
	}

	if cfg.Webhooks.TimeoutSeconds < 1 {
		errs = append(errs, "webhooks.timeoutSeconds must be >= 1")
	}
	if cfg.Webhooks.ThrottleMS < 0 {
		errs = append(errs, "webhooks.throttleMs must be >= 0")
	}
	for _, w := range []struct{ name, url string }{
		{"webhooks.eventsUrl", cfg.Webhooks.EventsURL},
		{"webhooks.messagesUrl", cfg.Webhooks.MessagesURL},
		{"webhooks.automationUrl", cfg.Webhooks.AutomationURL},
	} {
		if w.url != "" && !strings.HasPrefix(w.url, "http://") && !strings.HasPrefix(w.url, "https://") {
			errs = append(errs, w.name+" must be an http(s) URL")
		}
	}

	if cfg.Media.MaxAvatarBytes < 1 {
		errs = append(errs, "media.maxAvatarBytes must be >= 1")
	}
	if cfg.Media.ProfileTTLHours < 1 {
		errs = append(errs, "media.profileTtlHours must be >= 1")
	}
	if cfg.Dedup.TTLSeconds < 1 {
		errs = append(errs, "dedup.ttlSeconds must be >= 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
