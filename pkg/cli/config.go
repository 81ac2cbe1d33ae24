package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/goccy/go-yaml"

	"github.com/haivivi/bigrid/pkg/bigraph"
	"github.com/haivivi/bigrid/pkg/pubsub"
	"github.com/haivivi/bigrid/pkg/rawsock"
	"github.com/haivivi/bigrid/pkg/rosbridge"
)

const (
	// DefaultBaseDir is the configuration directory under the home directory
	DefaultBaseDir = ".bigrid"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.yaml"
)

// Coordinate modes accepted by ParserConfig.Coordinates.
const (
	CoordinatesLinks = "links"
	CoordinatesCO    = "co"
)

// Config is the bigrid configuration file.
type Config struct {
	Parser    ParserConfig    `yaml:"parser"`
	RawSock   RawSockConfig   `yaml:"rawsock"`
	PubSub    PubSubConfig    `yaml:"pubsub"`
	RosBridge RosBridgeConfig `yaml:"rosbridge"`
	Metrics   MetricsConfig   `yaml:"metrics"`

	// configPath is the path to the config file
	configPath string
}

// ParserConfig selects how model documents are parsed.
type ParserConfig struct {
	// Layout is "multi" or "single"
	Layout string `yaml:"layout"`

	// Coordinates is "links" (outer names) or "co" (coordinate nodes)
	Coordinates string `yaml:"coordinates"`

	// PreferredPort is the port index tried first in link mode, -1 for none
	PreferredPort int `yaml:"preferred_port"`

	ScanAllChildren bool `yaml:"scan_all_children,omitempty"`
	BestEffort      bool `yaml:"best_effort,omitempty"`
}

// RawSockConfig configures the per-channel WebSocket feeds.
type RawSockConfig struct {
	Enabled bool `yaml:"enabled"`

	// Addr is the address of channel 0; channel i uses port+i
	Addr string `yaml:"addr"`

	Channels int `yaml:"channels"`
}

// PubSubConfig configures the MQTT control feed.
type PubSubConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Addr      string `yaml:"addr"`
	Topic     string `yaml:"topic"`
	KeepAlive int    `yaml:"keep_alive,omitempty"`

	// EmbeddedBroker, when set, is the address an in-process broker
	// listens on (WebSocket)
	EmbeddedBroker string `yaml:"embedded_broker,omitempty"`
}

// RosBridgeConfig configures the drone pose feed.
type RosBridgeConfig struct {
	Enabled    bool   `yaml:"enabled"`
	Addr       string `yaml:"addr"`
	DroneStart int    `yaml:"drone_start"`
	Drones     int    `yaml:"drones"`
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	// Addr is the listen address of /metrics, empty to disable
	Addr string `yaml:"addr,omitempty"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	return &Config{
		Parser: ParserConfig{
			Layout:        bigraph.MultiRoot.String(),
			Coordinates:   CoordinatesLinks,
			PreferredPort: bigraph.DefaultPreferredPort,
		},
		RawSock: RawSockConfig{
			Enabled:  true,
			Addr:     rawsock.DefaultAddr,
			Channels: 1,
		},
		PubSub: PubSubConfig{
			Enabled: true,
			Addr:    pubsub.DefaultAddr,
			Topic:   pubsub.DefaultTopic,
		},
		RosBridge: RosBridgeConfig{
			Addr:       rosbridge.DefaultAddr,
			DroneStart: rosbridge.DefaultDroneStart,
			Drones:     1,
		},
	}
}

// DefaultConfigPath returns ~/.bigrid/config.yaml.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, DefaultBaseDir, DefaultConfigFile), nil
}

// LoadConfig reads the configuration at path, or at DefaultConfigPath when
// path is empty. Fields missing from the file keep their defaults; a missing
// file yields DefaultConfig.
func LoadConfig(path string) (*Config, error) {
	if path == "" {
		p, err := DefaultConfigPath()
		if err != nil {
			return nil, err
		}
		path = p
	}

	cfg := DefaultConfig()
	cfg.configPath = path

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.configPath = path
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the configuration to its path, creating the directory.
func (c *Config) Save() error {
	if c.configPath == "" {
		return errors.New("config has no path")
	}
	if err := os.MkdirAll(filepath.Dir(c.configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(c.configPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// Path returns the config file path
func (c *Config) Path() string {
	return c.configPath
}

// SetPath changes where Save writes.
func (c *Config) SetPath(path string) {
	c.configPath = path
}

// Validate checks the enumerated and numeric fields.
func (c *Config) Validate() error {
	if _, err := c.Parser.Options(); err != nil {
		return err
	}
	if c.RawSock.Channels < 0 {
		return fmt.Errorf("rawsock.channels must not be negative, got %d", c.RawSock.Channels)
	}
	if c.RosBridge.Drones < 0 {
		return fmt.Errorf("rosbridge.drones must not be negative, got %d", c.RosBridge.Drones)
	}
	if c.PubSub.KeepAlive < 0 || c.PubSub.KeepAlive > 65535 {
		return fmt.Errorf("pubsub.keep_alive out of range: %d", c.PubSub.KeepAlive)
	}
	return nil
}

// Options converts the parser section into parse options.
func (p ParserConfig) Options() (bigraph.Options, error) {
	layout := bigraph.MultiRoot
	if p.Layout != "" {
		l, err := bigraph.ParseLayout(p.Layout)
		if err != nil {
			return bigraph.Options{}, err
		}
		layout = l
	}
	opts := bigraph.DefaultOptions(layout)
	switch p.Coordinates {
	case "", CoordinatesLinks:
		opts.CoordinatesAsLinks = true
	case CoordinatesCO:
		opts.CoordinatesAsLinks = false
	default:
		return bigraph.Options{}, fmt.Errorf("parser.coordinates must be %q or %q, got %q",
			CoordinatesLinks, CoordinatesCO, p.Coordinates)
	}
	opts.PreferredPort = p.PreferredPort
	opts.ScanAllChildren = p.ScanAllChildren
	opts.BestEffort = p.BestEffort
	return opts, nil
}
