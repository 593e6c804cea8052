// Package config loads the single process-wide Config from a YAML file
// with environment-variable overrides, then validates it. One Config
// is constructed at process start and threaded explicitly through the
// component graph;
// nothing in this repository reads os.Getenv directly outside this
// package.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	HTTPPort    string `yaml:"http_port"`
	MetricsPort string `yaml:"metrics_port"`
}

type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DSN renders the libpq connection string pgx expects.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

type ObjectStoreConfig struct {
	Bucket    string `yaml:"bucket"`
	Region    string `yaml:"region"`
	Endpoint  string `yaml:"endpoint"` // non-empty for S3-compatible (e.g. MinIO)
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
}

type BrokerConfig struct {
	RedisAddr      string        `yaml:"redis_addr"`
	RedisPassword  string        `yaml:"redis_password"`
	RedisDB        int           `yaml:"redis_db"`
	Processes      int           `yaml:"processes"`
	Threads        int           `yaml:"threads"`
	MaxAttempts    int           `yaml:"max_attempts"`
	BaseBackoff    time.Duration `yaml:"base_backoff"`
	MaxBackoff     time.Duration `yaml:"max_backoff"`
	JobAgeLimit    time.Duration `yaml:"job_age_limit"`
}

type LLMConfig struct {
	Provider       string        `yaml:"provider"` // "anthropic" | "bedrock"
	Model          string        `yaml:"model"`
	APIKey         string        `yaml:"api_key"`
	BedrockRegion  string        `yaml:"bedrock_region"`
	Timeout        time.Duration `yaml:"timeout"`
	MaxRetries     int           `yaml:"max_retries"`
	MaxContextSize int           `yaml:"max_context_size"`
}

type AuthConfig struct {
	JWTSigningKey string        `yaml:"jwt_signing_key"`
	JWTExpiry     time.Duration `yaml:"jwt_expiry"`
	CORSOrigins   []string      `yaml:"cors_origins"`
}

type RateLimitConfig struct {
	Enabled       bool `yaml:"enabled"`
	PerMinuteCap  int  `yaml:"per_minute_cap"`
}

type ProfilesConfig struct {
	Dir            string `yaml:"dir"`
	DefaultProfile string `yaml:"default_profile"` // "NETA" | "MICROSOFT"
	Watch          bool   `yaml:"watch"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "console"
}

type NotifyConfig struct {
	SlackWebhookURL string `yaml:"slack_webhook_url"`
	SlackChannel    string `yaml:"slack_channel"`
}

type Config struct {
	Server     ServerConfig      `yaml:"server"`
	Database   DatabaseConfig    `yaml:"database"`
	ObjectStore ObjectStoreConfig `yaml:"object_store"`
	Broker     BrokerConfig      `yaml:"broker"`
	LLM        LLMConfig         `yaml:"llm"`
	Auth       AuthConfig        `yaml:"auth"`
	RateLimit  RateLimitConfig   `yaml:"rate_limit"`
	Profiles   ProfilesConfig    `yaml:"profiles"`
	Logging    LoggingConfig     `yaml:"logging"`
	Notify     NotifyConfig      `yaml:"notify"`
}

// DefaultConfig returns a Config with every field defaulted,
// immediately usable without a file on disk.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			HTTPPort:    "8080",
			MetricsPort: "9090",
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "auditeng",
			Database:        "compliance",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		ObjectStore: ObjectStoreConfig{
			Bucket: "commissioning-reports",
			Region: "us-east-1",
		},
		Broker: BrokerConfig{
			RedisAddr:   "localhost:6379",
			Processes:   1,
			Threads:     4,
			MaxAttempts: 3,
			BaseBackoff: 1 * time.Second,
			MaxBackoff:  5 * time.Minute,
			JobAgeLimit: 24 * time.Hour,
		},
		LLM: LLMConfig{
			Provider:       "anthropic",
			Model:          "claude-sonnet-4",
			Timeout:        60 * time.Second,
			MaxRetries:     3,
			MaxContextSize: 8000,
		},
		Auth: AuthConfig{
			JWTExpiry: 30 * time.Minute,
		},
		RateLimit: RateLimitConfig{
			Enabled:      true,
			PerMinuteCap: 10,
		},
		Profiles: ProfilesConfig{
			Dir:            "profiles",
			DefaultProfile: "NETA",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads path, parses it as YAML over DefaultConfig, applies
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.LoadFromEnv()

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromEnv overlays environment variables onto an already-loaded
// Config.
// Variables that are set but malformed (e.g. a non-numeric port) are
// ignored and the existing value is kept.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("DB_HOST"); v != "" {
		c.Database.Host = v
	}
	if v := os.Getenv("DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Database.Port = port
		}
	}
	if v := os.Getenv("DB_USER"); v != "" {
		c.Database.User = v
	}
	if v := os.Getenv("DB_PASSWORD"); v != "" {
		c.Database.Password = v
	}
	if v := os.Getenv("DB_NAME"); v != "" {
		c.Database.Database = v
	}
	if v := os.Getenv("DB_SSL_MODE"); v != "" {
		c.Database.SSLMode = v
	}
	if v := os.Getenv("OBJECT_STORE_BUCKET"); v != "" {
		c.ObjectStore.Bucket = v
	}
	if v := os.Getenv("OBJECT_STORE_ENDPOINT"); v != "" {
		c.ObjectStore.Endpoint = v
	}
	if v := os.Getenv("OBJECT_STORE_ACCESS_KEY"); v != "" {
		c.ObjectStore.AccessKey = v
	}
	if v := os.Getenv("OBJECT_STORE_SECRET_KEY"); v != "" {
		c.ObjectStore.SecretKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		c.Broker.RedisAddr = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		c.LLM.APIKey = v
	}
	if v := os.Getenv("LLM_PROVIDER"); v != "" {
		c.LLM.Provider = v
	}
	if v := os.Getenv("JWT_SIGNING_KEY"); v != "" {
		c.Auth.JWTSigningKey = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.Auth.CORSOrigins = strings.Split(v, ",")
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if cap, err := strconv.Atoi(v); err == nil {
			c.RateLimit.PerMinuteCap = cap
		}
	}
	if v := os.Getenv("RATE_LIMIT_ENABLED"); v != "" {
		if enabled, err := strconv.ParseBool(v); err == nil {
			c.RateLimit.Enabled = enabled
		}
	}
	if v := os.Getenv("DEFAULT_STANDARD_PROFILE"); v != "" {
		c.Profiles.DefaultProfile = v
	}
	if v := os.Getenv("SLACK_WEBHOOK_URL"); v != "" {
		c.Notify.SlackWebhookURL = v
	}
}

var supportedLLMProviders = map[string]bool{
	"anthropic": true,
	"bedrock":   true,
}

var supportedProfiles = map[string]bool{
	"NETA":      true,
	"MICROSOFT": true,
}

// validate checks the provider and profile allow-lists and the
// cross-field invariants, and defaults broker processes and threads
// when they are not positive.
func validate(c *Config) error {
	if !supportedLLMProviders[c.LLM.Provider] {
		return fmt.Errorf("unsupported LLM provider: %s", c.LLM.Provider)
	}
	if !supportedProfiles[c.Profiles.DefaultProfile] {
		return fmt.Errorf("unsupported default standard profile: %s", c.Profiles.DefaultProfile)
	}
	if c.Broker.Processes <= 0 {
		c.Broker.Processes = 1
	}
	if c.Broker.Threads <= 0 {
		c.Broker.Threads = 4
	}
	if c.RateLimit.Enabled && c.RateLimit.PerMinuteCap <= 0 {
		return fmt.Errorf("rate_limit.per_minute_cap must be positive when rate limiting is enabled")
	}
	for _, origin := range c.Auth.CORSOrigins {
		if origin == "*" {
			return fmt.Errorf("CORS wildcard origin is not permitted (explicit list, no wildcard with credentials)")
		}
	}
	if c.Auth.JWTSigningKey == "" {
		return fmt.Errorf("auth.jwt_signing_key is required")
	}
	return nil
}
