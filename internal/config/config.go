package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Device          DeviceConfig      `yaml:"device"`
	Stream          StreamConfig      `yaml:"stream"`
	Paint           PaintConfig       `yaml:"paint"`
	Database        DatabaseConfig    `yaml:"database"`
	Log             LogConfig         `yaml:"log"`
	MQTT            MQTTConfig        `yaml:"mqtt"`
	Healthcheck     HealthcheckConfig `yaml:"healthcheck"`
	EventBus        EventBusConfig    `yaml:"eventbus"`
	Script          string            `yaml:"script"`
	ShutdownTimeout Duration          `yaml:"shutdown_timeout"` // General shutdown timeout for graceful stops
}

// DeviceConfig contains device connection settings
type DeviceConfig struct {
	Host    string   `yaml:"host"`
	Port    int      `yaml:"port"`
	Token   string   `yaml:"token"`   // Optional, falls back to the token stored by -pair
	Timeout Duration `yaml:"timeout"` // HTTP timeout for command requests

	// Discover the device over mDNS when host is empty
	Discover        bool     `yaml:"discover"`
	DiscoverTimeout Duration `yaml:"discover_timeout"`
}

// StreamConfig contains event stream settings
type StreamConfig struct {
	Backoff             Duration `yaml:"backoff"`               // Fixed wait between reconnects (default: 5s)
	ConnectTimeout      Duration `yaml:"connect_timeout"`       // Connect and response header timeout (default: 5s)
	MaxImmediateRetries *int     `yaml:"max_immediate_retries"` // Retries without backoff on a dropped connection (default: 1)
	RefreshOnConnect    *bool    `yaml:"refresh_on_connect"`    // Refetch full state after every reconnect (default: true)

	Layout bool `yaml:"layout"` // Subscribe to layout events
	Touch  bool `yaml:"touch"`  // Subscribe to gesture events

	// Touch telemetry over UDP
	TouchStream      bool    `yaml:"touch_stream"`
	TouchPort        int     `yaml:"touch_port"`         // 0 = ephemeral
	NoSecondaryPanel *uint64 `yaml:"no_secondary_panel"` // Secondary panel id meaning "none" (default: 18)
}

// GetMaxImmediateRetries returns immediate retry count with default
func (c *StreamConfig) GetMaxImmediateRetries() int {
	if c.MaxImmediateRetries == nil {
		return 1
	}
	return *c.MaxImmediateRetries
}

// GetRefreshOnConnect returns refresh-on-connect with default
func (c *StreamConfig) GetRefreshOnConnect() bool {
	if c.RefreshOnConnect == nil {
		return true
	}
	return *c.RefreshOnConnect
}

// PaintConfig contains realtime paint settings
type PaintConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Port         int     `yaml:"port"`
	RateLimitRPS float64 `yaml:"rate_limit_rps"`
}

// DatabaseConfig contains database settings
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig contains logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Colors bool   `yaml:"colors"`
	JSON   bool   `yaml:"json"`
}

// MQTTConfig contains MQTT bridge settings
type MQTTConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Broker         string   `yaml:"broker"` // tcp://host:1883
	ClientID       string   `yaml:"client_id"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	TopicPrefix    string   `yaml:"topic_prefix"`
	QoS            byte     `yaml:"qos"`
	ConnectTimeout Duration `yaml:"connect_timeout"`
	PublishTimeout Duration `yaml:"publish_timeout"`
}

// HealthcheckConfig contains health check server settings
type HealthcheckConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// EventBusConfig contains event bus settings
type EventBusConfig struct {
	Workers   int `yaml:"workers"`    // Number of worker goroutines (default: 4)
	QueueSize int `yaml:"queue_size"` // Event queue size (default: 100)
}

// GetWorkers returns worker count with default
func (c *EventBusConfig) GetWorkers() int {
	if c.Workers <= 0 {
		return 4
	}
	return c.Workers
}

// GetQueueSize returns queue size with default
func (c *EventBusConfig) GetQueueSize() int {
	if c.QueueSize <= 0 {
		return 100
	}
	return c.QueueSize
}

// Duration is a wrapper around time.Duration for YAML unmarshalling
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse parses configuration from YAML bytes and applies defaults
func Parse(data []byte) (*Config, error) {
	// Expand environment variables
	expanded := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, err
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "./leafd.sqlite"
	}
	if cfg.Script == "" {
		cfg.Script = "main.lua"
	}

	// Device defaults
	if cfg.Device.Port == 0 {
		cfg.Device.Port = 16021
	}
	if cfg.Device.Timeout == 0 {
		cfg.Device.Timeout = Duration(5 * time.Second)
	}
	if cfg.Device.DiscoverTimeout == 0 {
		cfg.Device.DiscoverTimeout = Duration(5 * time.Second)
	}

	// Stream defaults
	if cfg.Stream.Backoff == 0 {
		cfg.Stream.Backoff = Duration(5 * time.Second)
	}
	if cfg.Stream.ConnectTimeout == 0 {
		cfg.Stream.ConnectTimeout = Duration(5 * time.Second)
	}

	// Paint defaults
	if cfg.Paint.Port == 0 {
		cfg.Paint.Port = 60222
	}
	if cfg.Paint.RateLimitRPS == 0 {
		cfg.Paint.RateLimitRPS = 10.0
	}

	// MQTT defaults
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "leafd"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "leafd"
	}
	if cfg.MQTT.ConnectTimeout == 0 {
		cfg.MQTT.ConnectTimeout = Duration(10 * time.Second)
	}
	if cfg.MQTT.PublishTimeout == 0 {
		cfg.MQTT.PublishTimeout = Duration(5 * time.Second)
	}

	// Healthcheck defaults
	if cfg.Healthcheck.Port == 0 {
		cfg.Healthcheck.Port = 9090
	}
	if cfg.Healthcheck.Host == "" {
		cfg.Healthcheck.Host = "0.0.0.0"
	}

	// General shutdown timeout
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = Duration(5 * time.Second)
	}
}

// Validate checks settings that have no usable default
func (c *Config) Validate() error {
	if c.Device.Host == "" && !c.Device.Discover {
		return fmt.Errorf("device.host is required unless device.discover is enabled")
	}
	if r := c.Stream.MaxImmediateRetries; r != nil && *r < 0 {
		return fmt.Errorf("stream.max_immediate_retries must be >= 0, got %d", *r)
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		return fmt.Errorf("mqtt.broker is required when mqtt is enabled")
	}
	if c.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	return nil
}

// expandEnvVars expands environment variables in the format ${VAR} or ${VAR:default}
func expandEnvVars(input string) string {
	re := regexp.MustCompile(`\$\{([^}:]+)(?::([^}]*))?\}`)

	return re.ReplaceAllStringFunc(input, func(match string) string {
		parts := re.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		varName := parts[1]
		defaultVal := ""
		if len(parts) >= 3 {
			defaultVal = parts[2]
		}

		if val := os.Getenv(varName); val != "" {
			return val
		}
		return defaultVal
	})
}
