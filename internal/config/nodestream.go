package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Transport providers
const (
	ProviderMemory = "memory"
	ProviderNATS   = "nats"
)

// Storage backends
const (
	BackendMemory = "memory"
	BackendMongo  = "mongo"
)

// TransportConfig selects the message transport.
type TransportConfig struct {
	Provider string `yaml:"provider"` // memory, nats
	NatsURL  string `yaml:"nats_url"`
	// Prefix is the subject prefix and JetStream stream name.
	Prefix     string `yaml:"prefix"`
	BufferSize int    `yaml:"buffer_size"`
	// Embedded runs a JetStream server in-process instead of dialing NatsURL.
	Embedded bool   `yaml:"embedded"`
	StoreDir string `yaml:"store_dir"`
	// SlowConsumerWait bounds how long the memory broker waits on a full inbox.
	SlowConsumerWait time.Duration `yaml:"slow_consumer_wait"`
}

func DefaultTransportConfig() TransportConfig {
	return TransportConfig{
		Provider:   ProviderMemory,
		NatsURL:    "nats://localhost:4222",
		Prefix:     "NODESTREAM",
		BufferSize: 100,
		StoreDir:   "data/nats",

		SlowConsumerWait: time.Second,
	}
}

func (c *TransportConfig) ApplyDefaults() {
	d := DefaultTransportConfig()
	if c.Provider == "" {
		c.Provider = d.Provider
	}
	if c.NatsURL == "" {
		c.NatsURL = d.NatsURL
	}
	if c.Prefix == "" {
		c.Prefix = d.Prefix
	}
	if c.BufferSize <= 0 {
		c.BufferSize = d.BufferSize
	}
	if c.StoreDir == "" {
		c.StoreDir = d.StoreDir
	}
	if c.SlowConsumerWait <= 0 {
		c.SlowConsumerWait = d.SlowConsumerWait
	}
}

func (c *TransportConfig) ApplyEnvOverrides() {
	if val := os.Getenv("NODESTREAM_NATS_URL"); val != "" {
		c.NatsURL = val
		c.Provider = ProviderNATS
	}
}

// ResolvePaths places a relative store dir next to configDir.
func (c *TransportConfig) ResolvePaths(configDir string) {
	if c.StoreDir != "" && !filepath.IsAbs(c.StoreDir) {
		c.StoreDir = filepath.Join(filepath.Dir(configDir), c.StoreDir)
	}
}

func (c *TransportConfig) Validate() error {
	switch c.Provider {
	case ProviderMemory, ProviderNATS:
	default:
		return fmt.Errorf("invalid transport provider: %s (must be memory or nats)", c.Provider)
	}
	if c.Provider == ProviderNATS && !c.Embedded && c.NatsURL == "" {
		return fmt.Errorf("transport.nats_url is required for the nats provider")
	}
	return nil
}

// EngineConfig tunes the node engine.
type EngineConfig struct {
	DefaultMaxItems int    `yaml:"default_max_items"`
	MaxItemsCeiling int    `yaml:"max_items_ceiling"`
	Workers         int    `yaml:"workers"`
	MailboxSize     int    `yaml:"mailbox_size"`
	RulesPath       string `yaml:"rules_path"`
	Identity        string `yaml:"identity"`
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DefaultMaxItems: 100,
		MaxItemsCeiling: 1000,
		Workers:         8,
		MailboxSize:     256,
		Identity:        "pubsub.nodestream",
	}
}

func (c *EngineConfig) ApplyDefaults() {
	d := DefaultEngineConfig()
	if c.DefaultMaxItems <= 0 {
		c.DefaultMaxItems = d.DefaultMaxItems
	}
	if c.MaxItemsCeiling <= 0 {
		c.MaxItemsCeiling = d.MaxItemsCeiling
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	if c.MailboxSize <= 0 {
		c.MailboxSize = d.MailboxSize
	}
	if c.Identity == "" {
		c.Identity = d.Identity
	}
}

func (c *EngineConfig) ApplyEnvOverrides() {
	if val := os.Getenv("NODESTREAM_RULES_PATH"); val != "" {
		c.RulesPath = val
	}
}

func (c *EngineConfig) ResolvePaths(configDir string) {
	if c.RulesPath != "" && !filepath.IsAbs(c.RulesPath) {
		c.RulesPath = filepath.Join(configDir, c.RulesPath)
	}
}

func (c *EngineConfig) Validate() error {
	if c.DefaultMaxItems > c.MaxItemsCeiling {
		return fmt.Errorf("engine.default_max_items (%d) exceeds max_items_ceiling (%d)", c.DefaultMaxItems, c.MaxItemsCeiling)
	}
	return nil
}

// StorageConfig selects the item history backend.
type StorageConfig struct {
	Backend         string `yaml:"backend"` // memory, mongo
	MongoURI        string `yaml:"mongo_uri"`
	MongoDatabase   string `yaml:"mongo_database"`
	ItemsCollection string `yaml:"items_collection"`
}

func DefaultStorageConfig() StorageConfig {
	return StorageConfig{
		Backend:         BackendMemory,
		MongoURI:        "mongodb://localhost:27017",
		MongoDatabase:   "nodestream",
		ItemsCollection: "node_items",
	}
}

func (c *StorageConfig) ApplyDefaults() {
	d := DefaultStorageConfig()
	if c.Backend == "" {
		c.Backend = d.Backend
	}
	if c.MongoURI == "" {
		c.MongoURI = d.MongoURI
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = d.MongoDatabase
	}
	if c.ItemsCollection == "" {
		c.ItemsCollection = d.ItemsCollection
	}
}

func (c *StorageConfig) ApplyEnvOverrides() {
	if val := os.Getenv("NODESTREAM_MONGO_URI"); val != "" {
		c.MongoURI = val
		c.Backend = BackendMongo
	}
}

func (c *StorageConfig) ResolvePaths(_ string) {}

func (c *StorageConfig) Validate() error {
	switch c.Backend {
	case BackendMemory, BackendMongo:
		return nil
	default:
		return fmt.Errorf("invalid storage backend: %s (must be memory or mongo)", c.Backend)
	}
}

// ClientConfig configures protocol clients created by the gateway.
type ClientConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{Timeout: 10 * time.Second}
}

func (c *ClientConfig) ApplyDefaults() {
	if c.Timeout <= 0 {
		c.Timeout = DefaultClientConfig().Timeout
	}
}

func (c *ClientConfig) ApplyEnvOverrides()   {}
func (c *ClientConfig) ResolvePaths(_ string) {}
func (c *ClientConfig) Validate() error       { return nil }

// GatewayConfig configures the WebSocket bridge and HTTP queries.
type GatewayConfig struct {
	AllowedOrigins []string      `yaml:"allowed_origins"`
	SendBuffer     int           `yaml:"send_buffer"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
}

func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		SendBuffer:     256,
		RequestTimeout: 10 * time.Second,
	}
}

func (c *GatewayConfig) ApplyDefaults() {
	d := DefaultGatewayConfig()
	if c.SendBuffer <= 0 {
		c.SendBuffer = d.SendBuffer
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = d.RequestTimeout
	}
}

func (c *GatewayConfig) ApplyEnvOverrides()   {}
func (c *GatewayConfig) ResolvePaths(_ string) {}
func (c *GatewayConfig) Validate() error       { return nil }
