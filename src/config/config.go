package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"market-streamer/src/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// -----------------------------------------------------------------------------

const (
	DefaultMaxDataPoints        = 100
	DefaultReconnectIntervalMs  = 3000
	DefaultMaxReconnectAttempts = 10
	DefaultHandshakeTimeoutMs   = 10000
	DefaultWriteTimeoutMs       = 5000
	DefaultReadLimitBytes       = 1024 * 1024
	DefaultRenderIntervalMs     = 1000
	DefaultProtocol             = "json"
	DefaultTransport            = "websocket"
	DefaultSubjectPrefix        = "marketdata"
)

// DefaultPalette is the round-robin chart color list
var DefaultPalette = []string{
	"rgb(255, 99, 132)",
	"rgb(54, 162, 235)",
	"rgb(255, 206, 86)",
	"rgb(75, 192, 192)",
	"rgb(153, 102, 255)",
	"rgb(255, 159, 64)",
}

// -----------------------------------------------------------------------------

// Config wraps models.MConfig and provides business logic methods
type Config struct {
	*models.MConfig
}

// -----------------------------------------------------------------------------

// NewConfig creates a new Config instance from a YAML file, then applies
// .env and environment overrides and defaults before validating.
func NewConfig(configPath string) (*Config, error) {
	// 1. Read the YAML file content
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", configPath, err)
	}

	config, err := Parse(data)
	if err != nil {
		return nil, err
	}

	// 2. .env is optional
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}
	if err := config.ApplyEnv(os.Getenv); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.ApplyDefaults()

	// 3. Validate the loaded configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// -----------------------------------------------------------------------------

// Parse unmarshals YAML bytes without applying overrides or defaults
func Parse(data []byte) (*Config, error) {
	var modelConfig models.MConfig
	if err := yaml.Unmarshal(data, &modelConfig); err != nil {
		return nil, fmt.Errorf("failed to parse config from YAML: %w", err)
	}
	return &Config{MConfig: &modelConfig}, nil
}

// -----------------------------------------------------------------------------

// ApplyEnv overrides fields from environment variables
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("STREAM_ENDPOINT"); v != "" {
		c.Stream.Endpoint = v
	}
	if v := getenv("STREAM_SECURITIES"); v != "" {
		var keys []string
		for _, k := range strings.Split(v, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
		c.Stream.Securities = keys
	}
	if v := getenv("NATS_URL"); v != "" {
		c.NATS.Servers = []string{v}
		c.NATS.Enabled = true
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := getenv("HTTP_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid HTTP_PORT '%s': %w", v, err)
		}
		c.HTTP.Port = port
	}
	if v := getenv("GRPC_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid GRPC_PORT '%s': %w", v, err)
		}
		c.GRPC.Port = port
	}
	return nil
}

// -----------------------------------------------------------------------------

// ApplyDefaults fills zero values with the documented defaults
func (c *Config) ApplyDefaults() {
	if c.Name == "" {
		c.Name = "market-streamer"
	}
	if c.LogLevel == "" {
		c.LogLevel = "INFO"
	}
	if c.HTTP.Host == "" {
		c.HTTP.Host = "127.0.0.1"
	}
	if c.HTTP.RenderIntervalMs <= 0 {
		c.HTTP.RenderIntervalMs = DefaultRenderIntervalMs
	}
	if c.GRPC.Host == "" {
		c.GRPC.Host = "127.0.0.1"
	}

	s := &c.Stream
	if s.Transport == "" {
		s.Transport = DefaultTransport
	}
	if s.Protocol == "" {
		s.Protocol = DefaultProtocol
	}
	if s.MaxDataPoints <= 0 {
		s.MaxDataPoints = DefaultMaxDataPoints
	}
	if s.ReconnectIntervalMs <= 0 {
		s.ReconnectIntervalMs = DefaultReconnectIntervalMs
	}
	if s.MaxReconnectAttempts == 0 {
		s.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if s.HandshakeTimeoutMs <= 0 {
		s.HandshakeTimeoutMs = DefaultHandshakeTimeoutMs
	}
	if s.WriteTimeoutMs <= 0 {
		s.WriteTimeoutMs = DefaultWriteTimeoutMs
	}
	if s.ReadLimitBytes <= 0 {
		s.ReadLimitBytes = DefaultReadLimitBytes
	}
	if s.TimestampLocation == "" {
		s.TimestampLocation = "UTC"
	}

	if c.NATS.SubjectPrefix == "" {
		c.NATS.SubjectPrefix = DefaultSubjectPrefix
	}
	if c.NATS.Encoding == "" {
		c.NATS.Encoding = "json"
	}
	if c.NATS.ClientID == "" {
		c.NATS.ClientID = c.Name
	}

	if len(c.Chart.Palette) == 0 {
		c.Chart.Palette = append([]string(nil), DefaultPalette...)
	}
}

// -----------------------------------------------------------------------------

// Validate performs basic configuration validation
func (c *Config) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("config name cannot be empty")
	}

	if c.HTTP.Port <= 1024 || c.HTTP.Port > 65535 {
		return fmt.Errorf("invalid http port number: %d (must be between 1025 and 65535)", c.HTTP.Port)
	}
	if c.GRPC.Enabled && (c.GRPC.Port <= 1024 || c.GRPC.Port > 65535) {
		return fmt.Errorf("invalid gRPC port number: %d (must be between 1025 and 65535)", c.GRPC.Port)
	}

	// Validate stream
	if c.Stream.Endpoint == "" {
		return fmt.Errorf("stream endpoint cannot be empty")
	}
	u, err := url.Parse(c.Stream.Endpoint)
	if err != nil {
		return fmt.Errorf("invalid stream endpoint '%s': %w", c.Stream.Endpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("stream endpoint must use ws:// or wss:// (got '%s')", u.Scheme)
	}
	if c.Stream.MaxDataPoints <= 0 {
		return fmt.Errorf("max data points must be greater than 0")
	}
	if c.Stream.ReconnectIntervalMs <= 0 {
		return fmt.Errorf("reconnect interval must be greater than 0")
	}
	for i, key := range c.Stream.Securities {
		if strings.TrimSpace(key) == "" {
			return fmt.Errorf("security %d cannot be empty", i)
		}
	}
	if _, err := time.LoadLocation(c.Stream.TimestampLocation); err != nil {
		return fmt.Errorf("invalid timestamp location '%s': %w", c.Stream.TimestampLocation, err)
	}

	// Validate NATS only when enabled
	if c.NATS.Enabled {
		if len(c.NATS.Servers) == 0 {
			return fmt.Errorf("NATS servers list cannot be empty")
		}
		switch c.NATS.Encoding {
		case "json", "gob", "proto":
		default:
			return fmt.Errorf("unsupported NATS encoding '%s'", c.NATS.Encoding)
		}
	}

	return nil
}

// -----------------------------------------------------------------------------

// Save persists the current configuration to the specified YAML file path
func (c *Config) Save(configPath string) error {
	data, err := yaml.Marshal(c.MConfig)
	if err != nil {
		return fmt.Errorf("failed to marshal config to YAML: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config to file '%s': %w", configPath, err)
	}

	return nil
}

// -----------------------------------------------------------------------------

// GetLogLevel exposes the log level to the logger
func (c *Config) GetLogLevel() string {
	return c.LogLevel
}

// -----------------------------------------------------------------------------

// RenderInterval returns the chart push cadence
func (c *Config) RenderInterval() time.Duration {
	return time.Duration(c.HTTP.RenderIntervalMs) * time.Millisecond
}

// -----------------------------------------------------------------------------

// TimestampLocation returns the location used for zone-less timestamps
func (c *Config) TimestampLocation() *time.Location {
	loc, err := time.LoadLocation(c.Stream.TimestampLocation)
	if err != nil {
		return time.UTC
	}
	return loc
}
