// Package config provides configuration management for the agent index.
// It loads settings from environment variables with the AGENTINDEX_ prefix
// and provides sensible defaults for all configuration options.
//
// An optional YAML file can be layered underneath the environment:
// LoadConfigFile reads the file first, then environment variables override
// whatever the file set.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration settings for the agent index.
type Config struct {
	Chain    ChainConfig    `yaml:"chain"`
	Metadata MetadataConfig `yaml:"metadata"`
	Storage  StorageConfig  `yaml:"storage"`
	Scan     ScanConfig     `yaml:"scan"`
	Server   ServerConfig   `yaml:"server"`
}

// ChainConfig contains registry RPC settings.
type ChainConfig struct {
	RPCURL             string        `yaml:"rpc_url"`             // JSON-RPC endpoint, http(s):// or ws(s):// (default: https://mainnet.base.org)
	IdentityRegistry   string        `yaml:"identity_registry"`   // Identity registry contract address
	ReputationRegistry string        `yaml:"reputation_registry"` // Reputation registry contract address
	RequestsPerSecond  float64       `yaml:"requests_per_second"` // Sustained RPC rate (default: 10)
	Burst              int           `yaml:"burst"`               // RPC burst size (default: 10)
	Timeout            time.Duration `yaml:"timeout"`             // Per-call timeout (default: 15s)
	LogChunkSize       uint64        `yaml:"log_chunk_size"`      // Max blocks per eth_getLogs call (default: 10000)
	BlocksPerDay       uint64        `yaml:"blocks_per_day"`      // Lookback for incremental scans (default: 43200)
}

// MetadataConfig contains metadata resolver settings.
type MetadataConfig struct {
	IPFSGateway       string        `yaml:"ipfs_gateway"`        // Gateway base URL (default: https://ipfs.io)
	Timeout           time.Duration `yaml:"timeout"`             // Per-fetch timeout (default: 10s)
	RequestsPerSecond float64       `yaml:"requests_per_second"` // Sustained fetch rate (default: 5)
	Burst             int           `yaml:"burst"`               // Fetch burst size (default: 10)
	CacheTTL          time.Duration `yaml:"cache_ttl"`           // Document cache TTL, 0 disables (default: 1h)
	CacheSize         int           `yaml:"cache_size"`          // In-process cache entries (default: 2048)
	RedisURL          string        `yaml:"redis_url"`           // Use Redis for the document cache when set
}

// StorageConfig contains database and storage configuration.
type StorageConfig struct {
	StorageEngine string `yaml:"engine"`       // sqlite or postgres (default: sqlite)
	DataPath      string `yaml:"data_path"`    // SQLite data directory (default: ./data)
	PostgresDSN   string `yaml:"postgres_dsn"` // Required when engine is postgres
}

// ScanConfig contains scheduled scan settings.
type ScanConfig struct {
	Interval           time.Duration `yaml:"interval"`             // Daemon scan interval (default: 15m)
	Concurrency        int           `yaml:"concurrency"`          // Identity reads per batch (default: 5)
	FetchMetadata      bool          `yaml:"fetch_metadata"`       // Resolve metadata during scans (default: true)
	FetchReputation    bool          `yaml:"fetch_reputation"`     // Read reputation during scans (default: true)
	SimilarityEnabled  bool          `yaml:"similarity_enabled"`   // Run a similarity pass after each sync (default: true)
	SimilarityMinScore float64       `yaml:"similarity_min_score"` // Match threshold (default: 0.05)
	AutoTag            bool          `yaml:"auto_tag"`             // Merge similarity auto-tags into the cache (default: true)
}

// ServerConfig contains the metrics listener configuration.
type ServerConfig struct {
	Port int    `yaml:"port"` // Metrics port (default: 9464)
	Host string `yaml:"host"` // Metrics host (default: 127.0.0.1)
}

// LoadConfig loads configuration from environment variables with sensible defaults.
// All environment variables use the AGENTINDEX_ prefix.
func LoadConfig() (*Config, error) {
	cfg := defaultConfig()
	applyEnv(cfg)
	return cfg, nil
}

// LoadConfigFile loads a YAML config file, then applies environment overrides.
// An empty path behaves like LoadConfig.
func LoadConfigFile(path string) (*Config, error) {
	if path == "" {
		return LoadConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	cfg := defaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: invalid YAML in %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// Validate checks that the settings needed to talk to the registry are present.
func (c *Config) Validate() error {
	var errs []error

	if c.Chain.RPCURL == "" {
		errs = append(errs, errors.New("chain.rpc_url is required"))
	}
	if c.Chain.IdentityRegistry == "" {
		errs = append(errs, errors.New("chain.identity_registry is required"))
	}
	if c.Scan.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("scan.concurrency must be >= 1, got %d", c.Scan.Concurrency))
	}
	if c.Scan.Interval <= 0 {
		errs = append(errs, fmt.Errorf("scan.interval must be positive, got %s", c.Scan.Interval))
	}
	if c.Scan.SimilarityMinScore < 0 || c.Scan.SimilarityMinScore > 1 {
		errs = append(errs, fmt.Errorf("scan.similarity_min_score must be within [0, 1], got %v", c.Scan.SimilarityMinScore))
	}

	switch c.Storage.StorageEngine {
	case "sqlite":
	case "postgres":
		if c.Storage.PostgresDSN == "" {
			errs = append(errs, errors.New("storage.postgres_dsn is required for the postgres engine"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown storage engine %q", c.Storage.StorageEngine))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config: %w", errors.Join(errs...))
	}
	return nil
}

// defaultConfig returns a Config populated with defaults only.
func defaultConfig() *Config {
	return &Config{
		Chain: ChainConfig{
			RPCURL:            "https://mainnet.base.org",
			RequestsPerSecond: 10,
			Burst:             10,
			Timeout:           15 * time.Second,
			LogChunkSize:      10000,
			BlocksPerDay:      43200,
		},
		Metadata: MetadataConfig{
			IPFSGateway:       "https://ipfs.io",
			Timeout:           10 * time.Second,
			RequestsPerSecond: 5,
			Burst:             10,
			CacheTTL:          time.Hour,
			CacheSize:         2048,
		},
		Storage: StorageConfig{
			StorageEngine: "sqlite",
			DataPath:      "./data",
		},
		Scan: ScanConfig{
			Interval:           15 * time.Minute,
			Concurrency:        5,
			FetchMetadata:      true,
			FetchReputation:    true,
			SimilarityEnabled:  true,
			SimilarityMinScore: 0.05,
			AutoTag:            true,
		},
		Server: ServerConfig{
			Port: 9464,
			Host: "127.0.0.1",
		},
	}
}

// applyEnv overrides cfg with any AGENTINDEX_ environment variables that are set.
func applyEnv(cfg *Config) {
	cfg.Chain.RPCURL = getEnv("AGENTINDEX_RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.IdentityRegistry = getEnv("AGENTINDEX_IDENTITY_REGISTRY", cfg.Chain.IdentityRegistry)
	cfg.Chain.ReputationRegistry = getEnv("AGENTINDEX_REPUTATION_REGISTRY", cfg.Chain.ReputationRegistry)
	cfg.Chain.RequestsPerSecond = getEnvFloat("AGENTINDEX_RPC_RPS", cfg.Chain.RequestsPerSecond)
	cfg.Chain.Burst = getEnvInt("AGENTINDEX_RPC_BURST", cfg.Chain.Burst)
	cfg.Chain.Timeout = getEnvDuration("AGENTINDEX_RPC_TIMEOUT", cfg.Chain.Timeout)
	cfg.Chain.LogChunkSize = getEnvUint64("AGENTINDEX_LOG_CHUNK_SIZE", cfg.Chain.LogChunkSize)
	cfg.Chain.BlocksPerDay = getEnvUint64("AGENTINDEX_BLOCKS_PER_DAY", cfg.Chain.BlocksPerDay)

	cfg.Metadata.IPFSGateway = getEnv("AGENTINDEX_IPFS_GATEWAY", cfg.Metadata.IPFSGateway)
	cfg.Metadata.Timeout = getEnvDuration("AGENTINDEX_METADATA_TIMEOUT", cfg.Metadata.Timeout)
	cfg.Metadata.RequestsPerSecond = getEnvFloat("AGENTINDEX_METADATA_RPS", cfg.Metadata.RequestsPerSecond)
	cfg.Metadata.Burst = getEnvInt("AGENTINDEX_METADATA_BURST", cfg.Metadata.Burst)
	cfg.Metadata.CacheTTL = getEnvDuration("AGENTINDEX_METADATA_CACHE_TTL", cfg.Metadata.CacheTTL)
	cfg.Metadata.CacheSize = getEnvInt("AGENTINDEX_METADATA_CACHE_SIZE", cfg.Metadata.CacheSize)
	cfg.Metadata.RedisURL = getEnv("AGENTINDEX_REDIS_URL", cfg.Metadata.RedisURL)

	cfg.Storage.StorageEngine = getEnv("AGENTINDEX_STORAGE_ENGINE", cfg.Storage.StorageEngine)
	cfg.Storage.DataPath = getEnv("AGENTINDEX_DATA_PATH", cfg.Storage.DataPath)
	cfg.Storage.PostgresDSN = getEnv("AGENTINDEX_POSTGRES_DSN", cfg.Storage.PostgresDSN)

	cfg.Scan.Interval = getEnvDuration("AGENTINDEX_SCAN_INTERVAL", cfg.Scan.Interval)
	cfg.Scan.Concurrency = getEnvInt("AGENTINDEX_SCAN_CONCURRENCY", cfg.Scan.Concurrency)
	cfg.Scan.FetchMetadata = getEnvBool("AGENTINDEX_FETCH_METADATA", cfg.Scan.FetchMetadata)
	cfg.Scan.FetchReputation = getEnvBool("AGENTINDEX_FETCH_REPUTATION", cfg.Scan.FetchReputation)
	cfg.Scan.SimilarityEnabled = getEnvBool("AGENTINDEX_SIMILARITY_ENABLED", cfg.Scan.SimilarityEnabled)
	cfg.Scan.SimilarityMinScore = getEnvFloat("AGENTINDEX_SIMILARITY_MIN_SCORE", cfg.Scan.SimilarityMinScore)
	cfg.Scan.AutoTag = getEnvBool("AGENTINDEX_AUTO_TAG", cfg.Scan.AutoTag)

	cfg.Server.Port = getEnvInt("AGENTINDEX_PORT", cfg.Server.Port)
	cfg.Server.Host = getEnv("AGENTINDEX_HOST", cfg.Server.Host)
}

// getEnv retrieves a string environment variable or returns a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt retrieves an integer environment variable or returns a default value.
// If the environment variable exists but cannot be parsed as an integer,
// it returns the default value.
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvUint64(key string, defaultValue uint64) uint64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseUint(value, 10, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			return v
		}
	}
	return defaultValue
}

// getEnvDuration accepts Go duration strings such as "15m" or "10s".
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getEnvBool retrieves a boolean environment variable or returns a default value.
// It recognizes "true", "1", "yes" as true and "false", "0", "no" as false (case-insensitive).
// If the environment variable exists but cannot be parsed as a boolean,
// it returns the default value.
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		switch value {
		case "true", "1", "yes", "True", "TRUE", "Yes", "YES":
			return true
		case "false", "0", "no", "False", "FALSE", "No", "NO":
			return false
		}
	}
	return defaultValue
}
