package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/syntrixbase/nodestream/internal/server"
	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server    server.Config   `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Transport TransportConfig `yaml:"transport"`
	Engine    EngineConfig    `yaml:"engine"`
	Storage   StorageConfig   `yaml:"storage"`
	Client    ClientConfig    `yaml:"client"`
	Gateway   GatewayConfig   `yaml:"gateway"`
}

// DefaultConfig returns the production defaults of every section.
func DefaultConfig() *Config {
	return &Config{
		Server:    server.DefaultConfig(),
		Logging:   DefaultLoggingConfig(),
		Transport: DefaultTransportConfig(),
		Engine:    DefaultEngineConfig(),
		Storage:   DefaultStorageConfig(),
		Client:    DefaultClientConfig(),
		Gateway:   DefaultGatewayConfig(),
	}
}

// LoadConfig loads configuration from configDir.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults -> ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	if err := loadFile(filepath.Join(configDir, "config.yml"), cfg); err != nil {
		return nil, err
	}
	if err := loadFile(filepath.Join(configDir, "config.local.yml"), cfg); err != nil {
		return nil, err
	}

	if err := ApplyServiceConfigs(configDir,
		&cfg.Server,
		&cfg.Logging,
		&cfg.Transport,
		&cfg.Engine,
		&cfg.Storage,
		&cfg.Client,
		&cfg.Gateway,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		slog.Warn("Error reading config file", "file", filename, "error", err)
		return nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
