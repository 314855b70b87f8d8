package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/swyddfa/lsp-devtools/internal/filter"
)

// File is the on-disk YAML layout.
type File struct {
	Agent  AgentSettings  `yaml:"agent"`
	Record RecordSettings `yaml:"record"`
}

// AgentSettings configures `lsp-devtools agent`.
type AgentSettings struct {
	Host             string `yaml:"host"`
	Port             int    `yaml:"port"`
	BufferSize       int    `yaml:"buffer_size"`
	InitialBackoff   string `yaml:"initial_backoff"`
	MaxBackoff       string `yaml:"max_backoff"`
	TerminateTimeout string `yaml:"terminate_timeout"`
}

// RecordSettings configures `lsp-devtools record` and `lsp-devtools tui`.
type RecordSettings struct {
	Host        string        `yaml:"host"`
	Port        int           `yaml:"port"`
	Filter      filter.Config `yaml:"filter"`
	ToFile      string        `yaml:"to_file"`
	ToSQLite    string        `yaml:"to_sqlite"`
	Policy      string        `yaml:"policy"`
	MetricsAddr string        `yaml:"metrics_addr"`
	LiveAddr    string        `yaml:"live_addr"`
}

// Config is the runtime configuration.
type Config struct {
	Agent  AgentConfig
	Record RecordConfig
}

// AgentConfig holds the resolved agent settings.
type AgentConfig struct {
	Host             string
	Port             int
	BufferSize       int
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	TerminateTimeout time.Duration
}

// Addr returns host:port of the agent server the agent publishes to.
func (c AgentConfig) Addr() string { return joinHostPort(c.Host, c.Port) }

// RecordConfig holds the resolved record settings.
type RecordConfig struct {
	Host        string
	Port        int
	Filter      filter.Config
	ToFile      string
	ToSQLite    string
	Policy      string
	MetricsAddr string
	LiveAddr    string
}

// Addr returns host:port the agent server listens on.
func (c RecordConfig) Addr() string { return joinHostPort(c.Host, c.Port) }

func joinHostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Load reads a YAML config file and produces a runtime Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return LoadBytes(data)
}

// LoadBytes parses YAML data and produces a runtime Config. Settings that
// are left out take their default value.
func LoadBytes(data []byte) (*Config, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return fromFile(&f)
}

func fromFile(f *File) (*Config, error) {
	cfg := DefaultConfig()
	a, r := f.Agent, f.Record

	if a.Host != "" {
		cfg.Agent.Host = a.Host
	}
	if a.Port != 0 {
		cfg.Agent.Port = a.Port
	}
	if a.BufferSize != 0 {
		cfg.Agent.BufferSize = a.BufferSize
	}

	durations := []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"agent.initial_backoff", a.InitialBackoff, &cfg.Agent.InitialBackoff},
		{"agent.max_backoff", a.MaxBackoff, &cfg.Agent.MaxBackoff},
		{"agent.terminate_timeout", a.TerminateTimeout, &cfg.Agent.TerminateTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", d.name, d.raw, err)
		}
		*d.dst = v
	}

	if r.Host != "" {
		cfg.Record.Host = r.Host
	}
	if r.Port != 0 {
		cfg.Record.Port = r.Port
	}
	cfg.Record.Filter = r.Filter
	cfg.Record.ToFile = expandHome(r.ToFile)
	cfg.Record.ToSQLite = expandHome(r.ToSQLite)
	cfg.Record.Policy = expandHome(r.Policy)
	cfg.Record.MetricsAddr = r.MetricsAddr
	cfg.Record.LiveAddr = r.LiveAddr

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that cannot be caught while decoding.
func (c *Config) Validate() error {
	for name, port := range map[string]int{"agent.port": c.Agent.Port, "record.port": c.Record.Port} {
		if port < 1 || port > 65535 {
			return fmt.Errorf("invalid %s %d", name, port)
		}
	}
	if c.Agent.BufferSize < 1 {
		return fmt.Errorf("invalid agent.buffer_size %d", c.Agent.BufferSize)
	}
	if c.Agent.MaxBackoff < c.Agent.InitialBackoff {
		return fmt.Errorf("agent.max_backoff %s is less than agent.initial_backoff %s",
			c.Agent.MaxBackoff, c.Agent.InitialBackoff)
	}
	if c.Record.ToFile != "" && c.Record.ToSQLite != "" {
		return fmt.Errorf("record.to_file and record.to_sqlite are mutually exclusive")
	}
	return nil
}

func expandHome(path string) string {
	if len(path) > 1 && path[0] == '~' && path[1] == '/' {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfig returns a config with defaults for when no config file is given.
func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			Host:             DefaultHost,
			Port:             DefaultPort,
			BufferSize:       DefaultBufferSize,
			InitialBackoff:   DefaultInitialBackoff,
			MaxBackoff:       DefaultMaxBackoff,
			TerminateTimeout: DefaultTerminateTimeout,
		},
		Record: RecordConfig{
			Host: DefaultHost,
			Port: DefaultPort,
		},
	}
}
