// control/config.go
// Author: momentics <momentics@gmail.com>
//
// YAML service configuration and its conversion to library options.

package control

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/momentics/hioload-core/affinity"
	"github.com/momentics/hioload-core/api"
	"github.com/momentics/hioload-core/core/concurrency"
	"github.com/momentics/hioload-core/report"
	"github.com/momentics/hioload-core/server"
)

// Config is the root of a service configuration file.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Pool    PoolConfig    `yaml:"pool"`
	Log     LogConfig     `yaml:"log"`
	Metrics MetricsConfig `yaml:"metrics"`
}

// ServerConfig configures the TCP server.
type ServerConfig struct {
	Address           string        `yaml:"address"`
	Port              int           `yaml:"port"`
	Backlog           int           `yaml:"backlog"`
	KeepAlives        bool          `yaml:"keep_alives"`
	AutoReadBuffering bool          `yaml:"auto_read_buffering"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
}

// PoolConfig configures a thread pool. Size 0 means unbounded.
type PoolConfig struct {
	Size     int    `yaml:"size"`
	NameRoot string `yaml:"name_root"`
	Affinity []int  `yaml:"affinity"`
}

// LogConfig selects the zerolog level and output format.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"`
	Prefix  string `yaml:"prefix"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:        7000,
			KeepAlives:  true,
			ReadTimeout: 30 * time.Second,
		},
		Pool: PoolConfig{
			Size:     4,
			NameRoot: "pool",
		},
		Log: LogConfig{
			Level: "info",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Address: ":9100",
			Prefix:  "hioload",
		},
	}
}

// LoadConfig reads path on top of the defaults and validates the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := ParseConfig(data)
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// ParseConfig decodes YAML on top of the defaults and validates the result.
// Unknown keys are rejected.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// an empty document keeps the defaults
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and cross-field constraints.
func (c *Config) Validate() error {
	switch {
	case c.Server.Port < 0 || c.Server.Port > 0xffff:
		return invalid("server.port out of range: %d", c.Server.Port)
	case c.Server.Backlog < 0:
		return invalid("server.backlog must not be negative")
	case c.Server.ReadTimeout < 0:
		return invalid("server.read_timeout must not be negative")
	case c.Pool.Size < 0:
		return invalid("pool.size must not be negative")
	case c.Metrics.Enabled && c.Metrics.Address == "":
		return invalid("metrics.address required when metrics are enabled")
	}
	for _, core := range c.Pool.Affinity {
		if core < 0 || core >= affinity.MaxCores {
			return invalid("pool.affinity core %d out of range", core)
		}
	}
	if c.Log.Level != "" {
		if _, err := parseLevel(c.Log.Level); err != nil {
			return invalid("log.level: %v", err)
		}
	}
	return nil
}

// CoreMask returns the pool core mask. An empty list means all cores.
func (p PoolConfig) CoreMask() affinity.CoreMask {
	return affinity.Of(p.Affinity...)
}

// ServerOptions converts the server and metrics sections to server options.
// A nil metrics registry leaves metrics disabled.
func (c *Config) ServerOptions(metrics *MetricsRegistry) []server.Option {
	opts := []server.Option{
		server.WithBacklog(c.Server.Backlog),
		server.WithKeepAlives(c.Server.KeepAlives),
		server.WithAutoReadBuffering(c.Server.AutoReadBuffering),
	}
	if metrics != nil && c.Metrics.Enabled {
		opts = append(opts, server.WithMetrics(metrics.PrometheusRegistry(), c.Metrics.Prefix+"_server"))
	}
	return opts
}

// PoolOptions converts the pool section to thread pool options.
func (c *Config) PoolOptions(metrics *MetricsRegistry) []concurrency.PoolOption {
	opts := []concurrency.PoolOption{
		concurrency.WithDefaultAffinity(c.Pool.CoreMask()),
	}
	if c.Pool.NameRoot != "" {
		opts = append(opts, concurrency.WithNameRoot(c.Pool.NameRoot))
	}
	if metrics != nil && c.Metrics.Enabled {
		opts = append(opts, concurrency.WithPoolMetrics(metrics.PrometheusRegistry(), c.Metrics.Prefix+"_pool"))
	}
	return opts
}

// Logger builds the zerolog logger described by the log section.
func (c *Config) Logger(w io.Writer) (zerolog.Logger, error) {
	return report.NewLogger(w, c.Log.Level, c.Log.Pretty)
}

func parseLevel(level string) (zerolog.Level, error) {
	return zerolog.ParseLevel(strings.ToLower(level))
}

func invalid(format string, args ...any) error {
	return api.NewMisuse("Config.Validate", api.ErrInvalidArgument, fmt.Sprintf(format, args...)).Relocate(1)
}
