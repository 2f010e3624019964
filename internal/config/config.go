// ABOUTME: Configuration loading and parsing for switchboard
// ABOUTME: Supports YAML or TOML files with environment variable expansion, duration parsing and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// EnvConfigPath overrides the config path given on the command line
const EnvConfigPath = "SWITCHBOARD_CONFIG"

// Broker kinds
const (
	BrokerRedis = "redis"
	BrokerAMQP  = "amqp"
)

// minSecretLength mirrors auth.MinSecretLength without importing auth
const minSecretLength = 32

// Config represents the complete switchboard configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Redis     RedisConfig     `yaml:"redis" toml:"redis"`
	Broker    BrokerConfig    `yaml:"broker" toml:"broker"`
	Dedup     DedupConfig     `yaml:"dedup" toml:"dedup"`
	Typing    TypingConfig    `yaml:"typing" toml:"typing"`
	Socket    SocketConfig    `yaml:"socket" toml:"socket"`
	Assistant AssistantConfig `yaml:"assistant" toml:"assistant"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
	Metrics   MetricsConfig   `yaml:"metrics" toml:"metrics"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// AuthConfig holds authentication configuration
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" toml:"jwt_secret"`
}

// RedisConfig holds the Redis connection used for dedup claims, the room
// relay and the redis broker
type RedisConfig struct {
	URL string `yaml:"url" toml:"url"`
}

// BrokerConfig selects the transport assistant events arrive on
type BrokerConfig struct {
	Kind         string `yaml:"kind" toml:"kind"`
	AMQPURL      string `yaml:"amqp_url" toml:"amqp_url"`
	AMQPExchange string `yaml:"amqp_exchange" toml:"amqp_exchange"`
}

// DedupConfig holds nonce claim configuration
type DedupConfig struct {
	TTL time.Duration `yaml:"-" toml:"-"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// TypingConfig holds typing indicator timing
type TypingConfig struct {
	Timeout       time.Duration `yaml:"-" toml:"-"`
	SweepInterval time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	TimeoutRaw       string `yaml:"timeout" toml:"timeout"`
	SweepIntervalRaw string `yaml:"sweep_interval" toml:"sweep_interval"`
}

// SocketConfig holds websocket configuration
type SocketConfig struct {
	SendBuffer     int           `yaml:"send_buffer" toml:"send_buffer"`
	PingInterval   time.Duration `yaml:"-" toml:"-"`
	AllowedOrigins []string      `yaml:"allowed_origins" toml:"allowed_origins"`

	PingIntervalRaw string `yaml:"ping_interval" toml:"ping_interval"`
}

// AssistantConfig holds the canned messages the bridge posts for the assistant
type AssistantConfig struct {
	FallbackMessage string `yaml:"fallback_message" toml:"fallback_message"`
	ClosingMessage  string `yaml:"closing_message" toml:"closing_message"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	// File, when set, receives a JSON copy of every record
	File string `yaml:"file" toml:"file"`
}

// MetricsConfig holds metrics endpoint configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`
}

// ResolvePath returns the SWITCHBOARD_CONFIG path when set, else path.
func ResolvePath(path string) string {
	if env := os.Getenv(EnvConfigPath); env != "" {
		return env
	}
	return path
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, anything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(data, strings.EqualFold(filepath.Ext(path), ".toml"))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes raw configuration content. It applies defaults and validates.
func Parse(data []byte, isTOML bool) (*Config, error) {
	expanded := expandEnvVars(string(data))

	var cfg Config
	if isTOML {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		varName := envVarPattern.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Server.HTTPAddr == "" {
		c.Server.HTTPAddr = "0.0.0.0:8080"
	}
	if c.Broker.Kind == "" {
		c.Broker.Kind = BrokerRedis
	}
	if c.Broker.AMQPExchange == "" {
		c.Broker.AMQPExchange = "switchboard.ai"
	}
	if c.Dedup.TTL == 0 {
		c.Dedup.TTL = 30 * time.Second
	}
	if c.Typing.Timeout == 0 {
		c.Typing.Timeout = 30 * time.Second
	}
	if c.Typing.SweepInterval == 0 {
		c.Typing.SweepInterval = 60 * time.Second
	}
	if c.Socket.SendBuffer == 0 {
		c.Socket.SendBuffer = 64
	}
	if c.Socket.PingInterval == 0 {
		c.Socket.PingInterval = 25 * time.Second
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	if len(c.Auth.JWTSecret) < minSecretLength {
		return fmt.Errorf("auth.jwt_secret must be at least %d bytes", minSecretLength)
	}

	switch c.Broker.Kind {
	case BrokerRedis:
		if c.Redis.URL == "" {
			return fmt.Errorf("redis.url is required when broker.kind is redis")
		}
	case BrokerAMQP:
		if c.Broker.AMQPURL == "" {
			return fmt.Errorf("broker.amqp_url is required when broker.kind is amqp")
		}
	default:
		return fmt.Errorf("broker.kind must be %q or %q, got %q", BrokerRedis, BrokerAMQP, c.Broker.Kind)
	}

	if c.Socket.SendBuffer < 0 {
		return fmt.Errorf("socket.send_buffer must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		return fmt.Errorf("metrics.path must start with /")
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	fields := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dedup.ttl", cfg.Dedup.TTLRaw, &cfg.Dedup.TTL},
		{"typing.timeout", cfg.Typing.TimeoutRaw, &cfg.Typing.Timeout},
		{"typing.sweep_interval", cfg.Typing.SweepIntervalRaw, &cfg.Typing.SweepInterval},
		{"socket.ping_interval", cfg.Socket.PingIntervalRaw, &cfg.Socket.PingInterval},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive, got %q", f.name, f.raw)
		}
		*f.dst = d
	}

	return nil
}
