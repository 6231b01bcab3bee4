package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the probe configuration file.
type Config struct {
	BaseURL string `yaml:"base_url"`

	AppUserID string `yaml:"app_user_id"`

	Platform        string `yaml:"platform"`
	PlatformVersion string `yaml:"platform_version"`
	ClientVersion   string `yaml:"client_version"`
	AppVersion      string `yaml:"app_version"`
	BundleID        string `yaml:"bundle_id"`
	Locale          string `yaml:"locale"`

	Cache struct {
		// Path enables the persistent LevelDB store.
		Path string `yaml:"path"`

		// RedisAddr enables the Redis store instead.
		RedisAddr string `yaml:"redis_addr"`

		// RedisTTL bounds entry lifetime in the Redis store, e.g. "24h".
		// Empty means entries live until ClearCaches.
		RedisTTL string `yaml:"redis_ttl"`

		// parsed
		redisTTL time.Duration
	} `yaml:"cache"`

	Log struct {
		Level  string `yaml:"level"`
		Pretty bool   `yaml:"pretty"`
	} `yaml:"log"`
}

// LoadConfig reads and validates a probe config file.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("base_url is required")
	}
	if cfg.Platform == "" {
		cfg.Platform = "go"
	}
	if cfg.ClientVersion == "" {
		cfg.ClientVersion = "0.1.0"
	}
	if cfg.BundleID == "" {
		cfg.BundleID = "com.entitlekit.probe"
	}
	if cfg.AppUserID == "" {
		cfg.AppUserID = "$probeUser"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Cache.RedisTTL != "" {
		ttl, err := time.ParseDuration(cfg.Cache.RedisTTL)
		if err != nil {
			return Config{}, fmt.Errorf("parse redis_ttl: %w", err)
		}
		cfg.Cache.redisTTL = ttl
	}

	return cfg, nil
}

// RedisTTLDuration returns the parsed Redis entry TTL.
func (c Config) RedisTTLDuration() time.Duration {
	return c.Cache.redisTTL
}
