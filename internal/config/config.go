// Package config handles loading and validating this client's YAML
// configuration: connection parameters, pool sizing, retry policy, and the
// prepared-statement cache.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sqlstream/tds-go/pkg/tds"
)

// ConnectionConfig holds the fields needed to reach one SQL Server/Azure
// SQL endpoint. Unlike a DSN string, every field is explicit (§6).
type ConnectionConfig struct {
	Host        string `yaml:"host"`
	Port        int    `yaml:"port"`
	Database    string `yaml:"database"`
	User        string `yaml:"user"`
	Password    string `yaml:"password"`
	Encrypt     string `yaml:"encrypt"` // "off", "on", "strict"
	AppName     string `yaml:"app_name"`
	PacketSize  int    `yaml:"packet_size"`
}

// EncryptMode converts the YAML string form into the codec's EncryptMode.
func (c *ConnectionConfig) EncryptMode() tds.EncryptMode {
	switch c.Encrypt {
	case "off":
		return tds.EncryptModeOff
	case "strict":
		return tds.EncryptModeStrict
	default:
		return tds.EncryptModeOn
	}
}

// PoolConfig controls the connection pool's sizing and lifetime behaviour.
type PoolConfig struct {
	MaxConnections    int           `yaml:"max_connections"`
	MinIdle           int           `yaml:"min_idle"`
	MaxIdleTime       time.Duration `yaml:"max_idle_time"`
	ConnectTimeout    time.Duration `yaml:"connect_timeout"`
	AcquireTimeout    time.Duration `yaml:"acquire_timeout"`
	MaintenanceTick   time.Duration `yaml:"maintenance_interval"`
}

// RetryConfig controls the exponential backoff policy applied to
// connection establishment and pool checkout.
type RetryConfig struct {
	MaxRetries        int           `yaml:"max_retries"`
	InitialBackoff    time.Duration `yaml:"initial_backoff"`
	MaxBackoff        time.Duration `yaml:"max_backoff"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	Jitter            bool          `yaml:"jitter"`
}

// CacheConfig controls the per-connection prepared-statement cache.
type CacheConfig struct {
	Capacity int `yaml:"capacity"`
}

// Config is the root configuration structure.
type Config struct {
	Connection ConnectionConfig `yaml:"connection"`
	Pool       PoolConfig       `yaml:"pool"`
	Retry      RetryConfig      `yaml:"retry"`
	Cache      CacheConfig      `yaml:"cache"`
}

// Load reads and parses a YAML configuration file, validating mandatory
// fields and filling in defaults for everything else.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Connection.Host == "" {
		return fmt.Errorf("connection.host is required")
	}
	if c.Connection.Port == 0 {
		return fmt.Errorf("connection.port is required")
	}
	switch c.Connection.Encrypt {
	case "", "off", "on", "strict":
	default:
		return fmt.Errorf("connection.encrypt must be one of off/on/strict, got %q", c.Connection.Encrypt)
	}
	if c.Pool.MaxConnections < 0 {
		return fmt.Errorf("pool.max_connections must not be negative")
	}
	if c.Pool.MinIdle > c.Pool.MaxConnections && c.Pool.MaxConnections != 0 {
		return fmt.Errorf("pool.min_idle (%d) must not exceed pool.max_connections (%d)", c.Pool.MinIdle, c.Pool.MaxConnections)
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Connection.Port == 0 {
		c.Connection.Port = 1433
	}
	if c.Connection.Encrypt == "" {
		c.Connection.Encrypt = "on"
	}
	if c.Connection.AppName == "" {
		c.Connection.AppName = "tds-go"
	}
	if c.Connection.PacketSize == 0 {
		c.Connection.PacketSize = 4096
	}

	if c.Pool.MaxConnections == 0 {
		c.Pool.MaxConnections = 10
	}
	if c.Pool.MaxIdleTime == 0 {
		c.Pool.MaxIdleTime = 5 * time.Minute
	}
	if c.Pool.ConnectTimeout == 0 {
		c.Pool.ConnectTimeout = 15 * time.Second
	}
	if c.Pool.AcquireTimeout == 0 {
		c.Pool.AcquireTimeout = 30 * time.Second
	}
	if c.Pool.MaintenanceTick == 0 {
		c.Pool.MaintenanceTick = 30 * time.Second
	}

	if c.Retry.MaxRetries == 0 {
		c.Retry.MaxRetries = 3
	}
	if c.Retry.InitialBackoff == 0 {
		c.Retry.InitialBackoff = 100 * time.Millisecond
	}
	if c.Retry.MaxBackoff == 0 {
		c.Retry.MaxBackoff = 2 * time.Second
	}
	if c.Retry.BackoffMultiplier == 0 {
		c.Retry.BackoffMultiplier = 2.0
	}

	if c.Cache.Capacity == 0 {
		c.Cache.Capacity = 100
	}
}
