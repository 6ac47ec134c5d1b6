// Package config loads service configuration from a YAML file with
// environment overrides for deployment-specific values.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/technosupport/ts-streamgw/internal/middleware"
)

// Duration accepts "15s" style values in YAML, which yaml.v3 does not
// decode into time.Duration on its own.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	parsed, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", node.Value, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Gateway struct {
		BaseURL      string   `yaml:"base_url"`
		ConfigPath   string   `yaml:"config_path"`
		PollInterval Duration `yaml:"poll_interval"`
	} `yaml:"gateway"`

	Transcode struct {
		FFmpegPath     string   `yaml:"ffmpeg_path"`
		ThrottleWindow Duration `yaml:"throttle_window"`
		GracePeriod    Duration `yaml:"grace_period"`
	} `yaml:"transcode"`

	Database struct {
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
		SSLMode  string `yaml:"sslmode"`
	} `yaml:"database"`

	Redis struct {
		Addr string `yaml:"addr"`
	} `yaml:"redis"`

	NATS struct {
		URL     string `yaml:"url"`
		Subject string `yaml:"subject"`
	} `yaml:"nats"`

	Auth struct {
		SigningKey string `yaml:"signing_key"`
	} `yaml:"auth"`

	ICEServers []string `yaml:"ice_servers"`

	RateLimit middleware.Config `yaml:"rate_limit"`
}

// Load reads path (optional) and applies env overrides on top.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	applyEnv(cfg)

	if cfg.Auth.SigningKey == "" {
		return nil, fmt.Errorf("auth signing key is required (JWT_SIGNING_KEY)")
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{}
	cfg.Server.Addr = ":8090"
	cfg.Gateway.BaseURL = "http://127.0.0.1:1984"
	cfg.Gateway.PollInterval = Duration(15 * time.Second)
	cfg.Transcode.FFmpegPath = "ffmpeg"
	cfg.Transcode.ThrottleWindow = Duration(2 * time.Second)
	cfg.Transcode.GracePeriod = Duration(10 * time.Second)
	cfg.Database.Port = 5432
	cfg.Database.SSLMode = "disable"
	cfg.Redis.Addr = "127.0.0.1:6379"
	cfg.NATS.Subject = "streamgw.events"
	cfg.ICEServers = []string{"stun:stun.l.google.com:19302"}
	return cfg
}

func applyEnv(cfg *Config) {
	setIf := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setIf(&cfg.Server.Addr, "LISTEN_ADDR")
	setIf(&cfg.Gateway.BaseURL, "GATEWAY_URL")
	setIf(&cfg.Gateway.ConfigPath, "GATEWAY_CONFIG_PATH")
	setIf(&cfg.Transcode.FFmpegPath, "FFMPEG_PATH")
	setIf(&cfg.Database.Host, "DB_HOST")
	setIf(&cfg.Database.User, "DB_USER")
	setIf(&cfg.Database.Password, "DB_PASSWORD")
	setIf(&cfg.Database.Name, "DB_NAME")
	setIf(&cfg.Redis.Addr, "REDIS_ADDR")
	setIf(&cfg.NATS.URL, "NATS_URL")
	setIf(&cfg.Auth.SigningKey, "JWT_SIGNING_KEY")
}

// DSN builds the Postgres connection string. Empty host means the
// roster database is not configured.
func (c *Config) DSN() string {
	if c.Database.Host == "" {
		return ""
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host, c.Database.Port, c.Database.User,
		c.Database.Password, c.Database.Name, c.Database.SSLMode)
}
