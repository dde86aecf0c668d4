package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the demo's configuration. It is read from an optional YAML file,
// then FRAMEDSOCKET_* environment variables, then command-line flags.
type Config struct {
	// Role is "server" or "client".
	Role string `mapstructure:"role"`
	// Mode is "websocket" or "rawsocket".
	Mode string `mapstructure:"mode"`
	// Host is the server bind interface.
	Host string `mapstructure:"host"`
	// Port is the server port.
	Port int `mapstructure:"port"`
	// Address is the client's target, "host:port" or a ws:// URL.
	Address string `mapstructure:"address"`
	// Path is the WebSocket endpoint path.
	Path string `mapstructure:"path"`
	// TickInterval is the pause between service ticks.
	TickInterval time.Duration `mapstructure:"tick_interval"`
	// PingInterval is how often the client sends PING.
	PingInterval time.Duration `mapstructure:"ping_interval"`
	// MaxMessageSize bounds a single message.
	MaxMessageSize int `mapstructure:"max_message_size"`

	Log      LogConfig      `mapstructure:"log"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Resolver ResolverConfig `mapstructure:"resolver"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Dir enables a rotated log file in this directory when set.
	Dir        string `mapstructure:"dir"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enable      bool   `mapstructure:"enable"`
	BindAddress string `mapstructure:"bind_address"`
}

// ResolverConfig controls peer name resolution for logged endpoints.
type ResolverConfig struct {
	Enable  bool          `mapstructure:"enable"`
	TTL     time.Duration `mapstructure:"ttl"`
	Timeout time.Duration `mapstructure:"timeout"`
	// RedisAddress shares resolved names through Redis when set.
	RedisAddress string `mapstructure:"redis_address"`
}

// Default returns a Config populated with defaults.
func Default() *Config {
	return &Config{
		Role:           "server",
		Mode:           "websocket",
		Host:           "",
		Port:           8765,
		Address:        "127.0.0.1:8765",
		Path:           "/",
		TickInterval:   5 * time.Millisecond,
		PingInterval:   time.Second,
		MaxMessageSize: 10 * 1024 * 1024,
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
			Compress:   true,
		},
		Metrics: MetricsConfig{
			Enable:      false,
			BindAddress: "127.0.0.1:9311",
		},
		Resolver: ResolverConfig{
			Enable:  false,
			TTL:     10 * time.Minute,
			Timeout: 500 * time.Millisecond,
		},
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"role":          "role",
	"mode":          "mode",
	"host":          "host",
	"port":          "port",
	"address":       "address",
	"path":          "path",
	"tick-interval": "tick_interval",
	"ping-interval": "ping_interval",
	"log-level":     "log.level",
	"log-dir":       "log.dir",
	"metrics":       "metrics.enable",
	"metrics-bind":  "metrics.bind_address",
	"resolve-peers": "resolver.enable",
	"redis-address": "resolver.redis_address",
}

// RegisterFlags adds the demo's flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	d := Default()

	fs.StringP("config", "c", "", "path to a YAML config file")
	fs.String("role", d.Role, "server or client")
	fs.String("mode", d.Mode, "websocket or rawsocket")
	fs.String("host", d.Host, "server bind interface")
	fs.Int("port", d.Port, "server port")
	fs.String("address", d.Address, "client target address")
	fs.String("path", d.Path, "websocket endpoint path")
	fs.Duration("tick-interval", d.TickInterval, "pause between service ticks")
	fs.Duration("ping-interval", d.PingInterval, "client PING interval")
	fs.String("log-level", d.Log.Level, "debug, info, warn or error")
	fs.String("log-dir", d.Log.Dir, "directory for a rotated log file")
	fs.Bool("metrics", d.Metrics.Enable, "serve Prometheus metrics")
	fs.String("metrics-bind", d.Metrics.BindAddress, "Prometheus listen address")
	fs.Bool("resolve-peers", d.Resolver.Enable, "resolve peer host names")
	fs.String("redis-address", d.Resolver.RedisAddress, "share resolved names through Redis")
}

// Load reads configuration from path (if non-empty), the environment and the
// flags in fs (if non-nil). Environment variables use the prefix
// FRAMEDSOCKET with "." replaced by "_", e.g. FRAMEDSOCKET_LOG_LEVEL=debug.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("FRAMEDSOCKET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("role", cfg.Role)
	v.SetDefault("mode", cfg.Mode)
	v.SetDefault("host", cfg.Host)
	v.SetDefault("port", cfg.Port)
	v.SetDefault("address", cfg.Address)
	v.SetDefault("path", cfg.Path)
	v.SetDefault("tick_interval", cfg.TickInterval)
	v.SetDefault("ping_interval", cfg.PingInterval)
	v.SetDefault("max_message_size", cfg.MaxMessageSize)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.dir", cfg.Log.Dir)
	v.SetDefault("log.max_size_mb", cfg.Log.MaxSizeMB)
	v.SetDefault("log.max_backups", cfg.Log.MaxBackups)
	v.SetDefault("log.max_age_days", cfg.Log.MaxAgeDays)
	v.SetDefault("log.compress", cfg.Log.Compress)
	v.SetDefault("metrics.enable", cfg.Metrics.Enable)
	v.SetDefault("metrics.bind_address", cfg.Metrics.BindAddress)
	v.SetDefault("resolver.enable", cfg.Resolver.Enable)
	v.SetDefault("resolver.ttl", cfg.Resolver.TTL)
	v.SetDefault("resolver.timeout", cfg.Resolver.Timeout)
	v.SetDefault("resolver.redis_address", cfg.Resolver.RedisAddress)

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Role {
	case "server", "client":
	default:
		return fmt.Errorf("invalid role %q: want server or client", c.Role)
	}

	if c.TickInterval <= 0 {
		return errors.New("tick_interval must be positive")
	}

	if c.Role == "client" && c.PingInterval <= 0 {
		return errors.New("ping_interval must be positive")
	}

	return nil
}
