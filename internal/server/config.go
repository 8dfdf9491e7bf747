package server

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds the configuration for the HTTP and gRPC listeners.
type Config struct {
	Host string `yaml:"host"`

	// HTTP Configuration
	HTTPPort         int           `yaml:"http_port"`
	HTTPReadTimeout  time.Duration `yaml:"http_read_timeout"`
	HTTPWriteTimeout time.Duration `yaml:"http_write_timeout"`
	HTTPIdleTimeout  time.Duration `yaml:"http_idle_timeout"`
	EnableCORS       bool          `yaml:"enable_cors"`
	AllowedOrigins   []string      `yaml:"allowed_origins"`

	// gRPC Configuration, health checking only
	GRPCPort          int  `yaml:"grpc_port"`
	GRPCMaxConcurrent uint `yaml:"grpc_max_concurrent"`
	EnableReflection  bool `yaml:"enable_reflection"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DefaultConfig returns safe defaults for development.
func DefaultConfig() Config {
	return Config{
		Host:              "localhost",
		HTTPPort:          8080,
		HTTPReadTimeout:   10 * time.Second,
		HTTPWriteTimeout:  10 * time.Second,
		HTTPIdleTimeout:   60 * time.Second,
		GRPCPort:          9000,
		GRPCMaxConcurrent: 100,
		ShutdownTimeout:   10 * time.Second,
	}
}

// ApplyDefaults fills in zero values with defaults.
func (c *Config) ApplyDefaults() {
	defaults := DefaultConfig()
	if c.Host == "" {
		c.Host = defaults.Host
	}
	if c.HTTPPort == 0 {
		c.HTTPPort = defaults.HTTPPort
	}
	if c.HTTPReadTimeout == 0 {
		c.HTTPReadTimeout = defaults.HTTPReadTimeout
	}
	if c.HTTPWriteTimeout == 0 {
		c.HTTPWriteTimeout = defaults.HTTPWriteTimeout
	}
	if c.HTTPIdleTimeout == 0 {
		c.HTTPIdleTimeout = defaults.HTTPIdleTimeout
	}
	if c.GRPCPort == 0 {
		c.GRPCPort = defaults.GRPCPort
	}
	if c.GRPCMaxConcurrent == 0 {
		c.GRPCMaxConcurrent = defaults.GRPCMaxConcurrent
	}
	if c.ShutdownTimeout == 0 {
		c.ShutdownTimeout = defaults.ShutdownTimeout
	}
}

// ApplyEnvOverrides applies NODESTREAM_HTTP_PORT and NODESTREAM_GRPC_PORT.
// Values that do not parse are ignored.
func (c *Config) ApplyEnvOverrides() {
	if port, err := strconv.Atoi(os.Getenv("NODESTREAM_HTTP_PORT")); err == nil {
		c.HTTPPort = port
	}
	if port, err := strconv.Atoi(os.Getenv("NODESTREAM_GRPC_PORT")); err == nil {
		c.GRPCPort = port
	}
}

// ResolvePaths is a no-op; the server config has no paths.
func (c *Config) ResolvePaths(_ string) {}

// Validate returns an error if the configuration is invalid.
func (c *Config) Validate() error {
	if c.HTTPPort < 0 || c.HTTPPort > 65535 {
		return fmt.Errorf("invalid http_port: %d", c.HTTPPort)
	}
	if c.GRPCPort < 0 || c.GRPCPort > 65535 {
		return fmt.Errorf("invalid grpc_port: %d", c.GRPCPort)
	}
	if c.HTTPPort != 0 && c.HTTPPort == c.GRPCPort {
		return fmt.Errorf("http_port and grpc_port must differ (both %d)", c.HTTPPort)
	}
	return nil
}
