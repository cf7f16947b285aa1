// ABOUTME: Configuration loading and parsing for consult-gateway
// ABOUTME: Supports YAML or TOML files with environment variable expansion and duration parsing

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

// Config represents the complete consult-gateway configuration
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Tailscale TailscaleConfig `yaml:"tailscale" toml:"tailscale"`
	Database  DatabaseConfig  `yaml:"database" toml:"database"`
	Auth      AuthConfig      `yaml:"auth" toml:"auth"`
	Engine    EngineConfig    `yaml:"engine" toml:"engine"`
	Threads   ThreadsConfig   `yaml:"threads" toml:"threads"`
	Stream    StreamConfig    `yaml:"stream" toml:"stream"`
	Logging   LoggingConfig   `yaml:"logging" toml:"logging"`
}

// ServerConfig holds server address configuration
type ServerConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"` // optional health/reflection listener
}

// TailscaleConfig holds Tailscale tsnet configuration
type TailscaleConfig struct {
	Enabled   bool   `yaml:"enabled" toml:"enabled"`
	Hostname  string `yaml:"hostname" toml:"hostname"`
	AuthKey   string `yaml:"auth_key" toml:"auth_key"`
	StateDir  string `yaml:"state_dir" toml:"state_dir"`
	Ephemeral bool   `yaml:"ephemeral" toml:"ephemeral"`
	HTTPPort  int    `yaml:"http_port" toml:"http_port"` // tailnet HTTP port, default 80
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Driver       string `yaml:"driver" toml:"driver"` // sqlite or postgres
	Path         string `yaml:"path" toml:"path"`     // sqlite file or :memory:
	DSN          string `yaml:"dsn" toml:"dsn"`       // postgres connection string
	MaxOpenConns int    `yaml:"max_open_conns" toml:"max_open_conns"`
}

// AuthConfig holds token and password hashing configuration
type AuthConfig struct {
	JWTSecret  string        `yaml:"jwt_secret" toml:"jwt_secret"`
	TokenTTL   time.Duration `yaml:"-" toml:"-"`
	BcryptCost int           `yaml:"bcrypt_cost" toml:"bcrypt_cost"`

	TokenTTLRaw string `yaml:"token_ttl" toml:"token_ttl"`
}

// EngineConfig holds graph engine client configuration
type EngineConfig struct {
	Mode           string        `yaml:"mode" toml:"mode"` // remote or echo
	URL            string        `yaml:"url" toml:"url"`
	AssistantID    string        `yaml:"assistant_id" toml:"assistant_id"`
	APIKey         string        `yaml:"api_key" toml:"api_key"`
	Retries        int           `yaml:"retries" toml:"retries"`
	InitialAgent   string        `yaml:"initial_agent" toml:"initial_agent"`
	RequestTimeout time.Duration `yaml:"-" toml:"-"`
	TurnTimeout    time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	RequestTimeoutRaw string `yaml:"request_timeout" toml:"request_timeout"`
	TurnTimeoutRaw    string `yaml:"turn_timeout" toml:"turn_timeout"`
}

// ThreadsConfig holds thread registry configuration
type ThreadsConfig struct {
	Backend    string        `yaml:"backend" toml:"backend"` // memory or redis
	TTL        time.Duration `yaml:"-" toml:"-"`
	MaxEntries int           `yaml:"max_entries" toml:"max_entries"`
	Redis      RedisConfig   `yaml:"redis" toml:"redis"`

	TTLRaw string `yaml:"ttl" toml:"ttl"`
}

// RedisConfig holds Redis connection settings for the thread registry
type RedisConfig struct {
	Addr     string `yaml:"addr" toml:"addr"`
	Password string `yaml:"password" toml:"password"`
	DB       int    `yaml:"db" toml:"db"`
}

// StreamConfig controls how bridge events are rendered
type StreamConfig struct {
	RenderMarkdown bool `yaml:"render_markdown" toml:"render_markdown"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Default values applied when a field is left empty.
const (
	DefaultHTTPAddr        = "127.0.0.1:8000"
	DefaultTailnetHTTPPort = 80
	DefaultDatabasePath    = "consult.db"
	DefaultTokenTTL        = 30 * time.Minute
	DefaultEngineURL       = "http://127.0.0.1:2024"
	DefaultAssistantID     = "agent"
	DefaultRequestTimeout  = 60 * time.Second
	DefaultTurnTimeout     = 5 * time.Minute
	DefaultInitialAgent    = "GP"
	DefaultThreadTTL       = 24 * time.Hour
	DefaultMaxThreads      = 10000
)

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
// Duration strings are parsed into time.Duration values.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	// Expand environment variables in the raw content
	expandedData := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expandedData, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

// ApplyDefaults fills unset fields with their default values.
func (c *Config) ApplyDefaults() {
	if c.Server.HTTPAddr == "" && !c.Tailscale.Enabled {
		c.Server.HTTPAddr = DefaultHTTPAddr
	}

	if c.Tailscale.Enabled && c.Tailscale.HTTPPort == 0 {
		c.Tailscale.HTTPPort = DefaultTailnetHTTPPort
	}

	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath
	}

	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = DefaultTokenTTL
	}

	if c.Engine.Mode == "" {
		c.Engine.Mode = "remote"
	}
	if c.Engine.Mode == "remote" && c.Engine.URL == "" {
		c.Engine.URL = DefaultEngineURL
	}
	if c.Engine.AssistantID == "" {
		c.Engine.AssistantID = DefaultAssistantID
	}
	if c.Engine.RequestTimeout == 0 {
		c.Engine.RequestTimeout = DefaultRequestTimeout
	}
	if c.Engine.TurnTimeout == 0 {
		c.Engine.TurnTimeout = DefaultTurnTimeout
	}
	if c.Engine.InitialAgent == "" {
		c.Engine.InitialAgent = DefaultInitialAgent
	}

	if c.Threads.Backend == "" {
		c.Threads.Backend = "memory"
	}
	if c.Threads.TTL == 0 {
		c.Threads.TTL = DefaultThreadTTL
	}
	if c.Threads.MaxEntries == 0 {
		c.Threads.MaxEntries = DefaultMaxThreads
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if !c.Tailscale.Enabled && c.Server.HTTPAddr == "" {
		return fmt.Errorf("server.http_addr is required (or enable tailscale)")
	}

	if c.Tailscale.Enabled && c.Tailscale.Hostname == "" {
		return fmt.Errorf("tailscale.hostname is required when tailscale is enabled")
	}
	if c.Tailscale.HTTPPort < 0 || c.Tailscale.HTTPPort > 65535 {
		return fmt.Errorf("tailscale.http_port must be between 1 and 65535")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database.path is required for the sqlite driver")
		}
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres driver")
		}
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}

	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required")
	}
	if len(c.Auth.JWTSecret) < 32 {
		return fmt.Errorf("auth.jwt_secret must be at least 32 bytes")
	}
	if c.Auth.TokenTTL < 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	if c.Auth.BcryptCost != 0 && (c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31) {
		return fmt.Errorf("auth.bcrypt_cost must be between 4 and 31")
	}

	switch c.Engine.Mode {
	case "remote":
		if c.Engine.URL == "" {
			return fmt.Errorf("engine.url is required in remote mode")
		}
	case "echo":
	default:
		return fmt.Errorf("engine.mode must be remote or echo, got %q", c.Engine.Mode)
	}
	if c.Engine.Retries < 0 {
		return fmt.Errorf("engine.retries must not be negative")
	}

	switch c.Threads.Backend {
	case "memory":
	case "redis":
		if c.Threads.Redis.Addr == "" {
			return fmt.Errorf("threads.redis.addr is required for the redis backend")
		}
	default:
		return fmt.Errorf("threads.backend must be memory or redis, got %q", c.Threads.Backend)
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
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
		{"auth.token_ttl", cfg.Auth.TokenTTLRaw, &cfg.Auth.TokenTTL},
		{"engine.request_timeout", cfg.Engine.RequestTimeoutRaw, &cfg.Engine.RequestTimeout},
		{"engine.turn_timeout", cfg.Engine.TurnTimeoutRaw, &cfg.Engine.TurnTimeout},
		{"threads.ttl", cfg.Threads.TTLRaw, &cfg.Threads.TTL},
	}

	for _, f := range fields {
		if f.raw == "" {
			continue
		}
		d, err := time.ParseDuration(f.raw)
		if err != nil {
			return fmt.Errorf("parsing %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = d
	}

	return nil
}
