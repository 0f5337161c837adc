package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config contains all runtime settings for the session gateway.
type Config struct {
	BindAddr         string        `yaml:"bind_addr"`
	ShutdownTimeout  time.Duration `yaml:"shutdown_timeout"`
	MetricsNamespace string        `yaml:"metrics_namespace"`

	AllowAnyOrigin bool `yaml:"allow_any_origin"`

	// SessionsDir is the root of per-session credential directories.
	SessionsDir string `yaml:"sessions_dir"`
	// DatabaseURL enables the Postgres-backed session index when set.
	DatabaseURL string `yaml:"database_url"`

	DefaultWebhookURL string        `yaml:"default_webhook_url"`
	WebhookSecret     string        `yaml:"webhook_secret"`
	WebhookTimeout    time.Duration `yaml:"webhook_timeout"`

	// DisabledCallbacks lists event dataTypes that are never dispatched.
	DisabledCallbacks []string `yaml:"disabled_callbacks"`

	ClientMode  string `yaml:"client_mode"`
	BridgeURL   string `yaml:"bridge_url"`
	BridgeToken string `yaml:"bridge_token"`

	ReadyTimeout      time.Duration `yaml:"ready_timeout"`
	ReadyPollInterval time.Duration `yaml:"ready_poll_interval"`

	SweepInterval  time.Duration `yaml:"sweep_interval"`
	RestoreOnStart bool          `yaml:"restore_on_start"`
	AutoMarkSeen   bool          `yaml:"auto_mark_seen"`

	WSPingInterval time.Duration `yaml:"ws_ping_interval"`
	WSPongWait     time.Duration `yaml:"ws_pong_wait"`
}

// Load reads environment variables, applies safe defaults, and finally
// overlays an optional YAML file named by WAGATE_CONFIG_FILE.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("WAGATE_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("WAGATE_METRICS_NAMESPACE", "wagate"),
		AllowAnyOrigin:    false,
		SessionsDir:       envOrDefault("WAGATE_SESSIONS_DIR", ".wagate/sessions"),
		DatabaseURL:       stringsTrimSpace("DATABASE_URL"),
		DefaultWebhookURL: stringsTrimSpace("WAGATE_WEBHOOK_URL"),
		WebhookSecret:     stringsTrimSpace("WAGATE_WEBHOOK_SECRET"),
		ClientMode:        envOrDefault("WAGATE_CLIENT_MODE", "auto"),
		BridgeURL:         stringsTrimSpace("WAGATE_BRIDGE_URL"),
		BridgeToken:       stringsTrimSpace("WAGATE_BRIDGE_TOKEN"),
		ShutdownTimeout:   15 * time.Second,
		WebhookTimeout:    10 * time.Second,
		ReadyTimeout:      30 * time.Second,
		ReadyPollInterval: 200 * time.Millisecond,
		SweepInterval:     5 * time.Minute,
		RestoreOnStart:    true,
		AutoMarkSeen:      false,
		WSPingInterval:    30 * time.Second,
		WSPongWait:        60 * time.Second,
	}

	if v := stringsTrimSpace("WAGATE_DISABLED_CALLBACKS"); v != "" {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part != "" {
				cfg.DisabledCallbacks = append(cfg.DisabledCallbacks, part)
			}
		}
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("WAGATE_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.WebhookTimeout, err = durationFromEnv("WAGATE_WEBHOOK_TIMEOUT", cfg.WebhookTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReadyTimeout, err = durationFromEnv("WAGATE_READY_TIMEOUT", cfg.ReadyTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ReadyPollInterval, err = durationFromEnv("WAGATE_READY_POLL_INTERVAL", cfg.ReadyPollInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.SweepInterval, err = durationFromEnv("WAGATE_SWEEP_INTERVAL", cfg.SweepInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.WSPingInterval, err = durationFromEnv("WAGATE_WS_PING_INTERVAL", cfg.WSPingInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.WSPongWait, err = durationFromEnv("WAGATE_WS_PONG_WAIT", cfg.WSPongWait)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("WAGATE_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.RestoreOnStart, err = boolFromEnv("WAGATE_RESTORE_ON_START", cfg.RestoreOnStart)
	if err != nil {
		return Config{}, err
	}
	cfg.AutoMarkSeen, err = boolFromEnv("WAGATE_AUTO_MARK_SEEN", cfg.AutoMarkSeen)
	if err != nil {
		return Config{}, err
	}

	if path := stringsTrimSpace("WAGATE_CONFIG_FILE"); path != "" {
		if err := overlayFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if strings.TrimSpace(c.SessionsDir) == "" {
		return fmt.Errorf("WAGATE_SESSIONS_DIR must not be empty")
	}
	if c.ReadyTimeout <= 0 {
		return fmt.Errorf("WAGATE_READY_TIMEOUT must be positive")
	}
	if c.ReadyPollInterval <= 0 {
		return fmt.Errorf("WAGATE_READY_POLL_INTERVAL must be positive")
	}
	if c.ReadyPollInterval > c.ReadyTimeout {
		return fmt.Errorf("WAGATE_READY_POLL_INTERVAL must not exceed WAGATE_READY_TIMEOUT")
	}
	if c.WebhookTimeout <= 0 {
		return fmt.Errorf("WAGATE_WEBHOOK_TIMEOUT must be positive")
	}
	if c.WSPongWait <= c.WSPingInterval {
		return fmt.Errorf("WAGATE_WS_PONG_WAIT must exceed WAGATE_WS_PING_INTERVAL")
	}
	switch strings.ToLower(strings.TrimSpace(c.ClientMode)) {
	case "auto", "bridge", "mock":
	default:
		return fmt.Errorf("WAGATE_CLIENT_MODE must be one of auto, bridge, mock")
	}
	return nil
}

func overlayFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: invalid boolean %q", key, v)
	}
}
