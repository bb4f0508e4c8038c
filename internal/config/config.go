package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ServerURL         string
	RequestTimeout    time.Duration
	HandshakeTimeout  time.Duration
	LiveRetryInterval time.Duration
	// LiveRetryLimit caps reconnect attempts for the live-updates stream.
	// Zero means retry forever, matching the original dashboard behavior.
	LiveRetryLimit  int
	NoticeTTL       time.Duration
	ProgressTTL     time.Duration
	LogDBPath       string
	LogRetention    time.Duration
	DefaultTemplate string
}

func DefaultConfig() Config {
	return Config{
		ServerURL:         "http://127.0.0.1:8266",
		RequestTimeout:    10 * time.Second,
		HandshakeTimeout:  5 * time.Second,
		LiveRetryInterval: 5 * time.Second,
		LiveRetryLimit:    720,
		NoticeTTL:         5 * time.Second,
		ProgressTTL:       15 * time.Second,
		LogDBPath:         defaultLogDBPath(),
		LogRetention:      7 * 24 * time.Hour,
		DefaultTemplate:   "basic",
	}
}

// fileConfig is the YAML shape; durations are strings like "5s".
type fileConfig struct {
	ServerURL         string `yaml:"server_url"`
	RequestTimeout    string `yaml:"request_timeout"`
	HandshakeTimeout  string `yaml:"handshake_timeout"`
	LiveRetryInterval string `yaml:"live_retry_interval"`
	LiveRetryLimit    *int   `yaml:"live_retry_limit"`
	NoticeTTL         string `yaml:"notice_ttl"`
	ProgressTTL       string `yaml:"progress_ttl"`
	LogDBPath         string `yaml:"log_db_path"`
	LogRetention      string `yaml:"log_retention"`
	DefaultTemplate   string `yaml:"default_template"`
}

// Load reads the config file at path, layering it over the defaults.
// A missing file is not an error. The ESPHUB_SERVER environment variable
// overrides the server URL last.
func Load(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		path = DefaultPath()
	}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
	case err != nil:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	default:
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
		if err := apply(&cfg, fc); err != nil {
			return cfg, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if server := strings.TrimSpace(os.Getenv("ESPHUB_SERVER")); server != "" {
		cfg.ServerURL = server
	}
	return cfg, nil
}

func apply(cfg *Config, fc fileConfig) error {
	if fc.ServerURL != "" {
		cfg.ServerURL = strings.TrimRight(fc.ServerURL, "/")
	}
	if fc.LogDBPath != "" {
		cfg.LogDBPath = fc.LogDBPath
	}
	if fc.DefaultTemplate != "" {
		cfg.DefaultTemplate = fc.DefaultTemplate
	}
	if fc.LiveRetryLimit != nil {
		if *fc.LiveRetryLimit < 0 {
			return fmt.Errorf("live_retry_limit must be >= 0")
		}
		cfg.LiveRetryLimit = *fc.LiveRetryLimit
	}
	durations := []struct {
		raw string
		dst *time.Duration
		key string
	}{
		{fc.RequestTimeout, &cfg.RequestTimeout, "request_timeout"},
		{fc.HandshakeTimeout, &cfg.HandshakeTimeout, "handshake_timeout"},
		{fc.LiveRetryInterval, &cfg.LiveRetryInterval, "live_retry_interval"},
		{fc.NoticeTTL, &cfg.NoticeTTL, "notice_ttl"},
		{fc.ProgressTTL, &cfg.ProgressTTL, "progress_ttl"},
		{fc.LogRetention, &cfg.LogRetention, "log_retention"},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("%s: %w", d.key, err)
		}
		if parsed <= 0 {
			return fmt.Errorf("%s must be positive", d.key)
		}
		*d.dst = parsed
	}
	return nil
}

func DefaultPath() string {
	if dir := os.Getenv("XDG_CONFIG_HOME"); dir != "" {
		return filepath.Join(dir, "esphub", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "esphub.yaml"
	}
	return filepath.Join(home, ".config", "esphub", "config.yaml")
}

func defaultLogDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "esphub-logs.db"
	}
	return filepath.Join(home, ".local", "state", "esphub", "logs.db")
}
