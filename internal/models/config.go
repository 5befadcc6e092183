package models

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Backend names accepted in the configuration
const (
	BackendElasticsearch = "elasticsearch"
	BackendMongoDB       = "mongodb"
	BackendMemory        = "memory"
)

// Config represents the application configuration
type Config struct {
	Mode          string              `yaml:"mode"`
	Backend       string              `yaml:"backend"`
	Node          NodeConfig          `yaml:"node"`
	Elasticsearch ElasticsearchConfig `yaml:"elasticsearch"`
	MongoDB       MongoDBConfig       `yaml:"mongodb"`
	Indexer       IndexerConfig       `yaml:"indexer"`
	API           APIConfig           `yaml:"api"`
	Log           LogConfig           `yaml:"log"`
	Telegram      TelegramConfig      `yaml:"telegram"`
}

// NodeConfig contains graphene node configuration
type NodeConfig struct {
	APIURL          string        `yaml:"api_url"`
	StartOperation  uint64        `yaml:"start_operation"`   // First operation history instance to index
	StartAfterBlock uint32        `yaml:"start_after_block"` // Operations in blocks up to this one are skipped
	BatchSize       int           `yaml:"batch_size"`        // Operation history objects fetched per request
	PollInterval    time.Duration `yaml:"poll_interval"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ElasticsearchConfig contains search engine connection configuration
type ElasticsearchConfig struct {
	Addresses   []string `yaml:"addresses"`
	Username    string   `yaml:"username"`
	Password    string   `yaml:"password"`
	IndexPrefix string   `yaml:"index_prefix"`
	MaxRetries  int      `yaml:"max_retries"`
}

// MongoDBConfig contains MongoDB connection configuration
type MongoDBConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"`
}

// IndexerConfig controls document batching and content
type IndexerConfig struct {
	BulkReplay      int  `yaml:"bulk_replay"`      // Batch size while catching up
	BulkSync        int  `yaml:"bulk_sync"`        // Batch size near the head block
	Visitor         bool `yaml:"visitor"`          // Attach fee/transfer/fill data
	OperationObject bool `yaml:"operation_object"` // Store the flattened operation body
	// Skip operations of kinds outside the supported set instead of
	// stopping. Malformed operations of supported kinds always stop.
	SkipUnsupported bool `yaml:"skip_unsupported"`
}

// APIConfig contains API server configuration
type APIConfig struct {
	Port string `yaml:"port"`
	Host string `yaml:"host"`
}

// LogConfig contains logger configuration
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

// TelegramConfig contains Telegram alert configuration
type TelegramConfig struct {
	Enabled   bool   `yaml:"enabled"`
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// LoadConfig reads, normalizes and validates a YAML configuration file
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig parses YAML configuration content
func ParseConfig(data []byte) (*Config, error) {
	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	config.Normalize()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

// OperatingMode parses the configured mode
func (c *Config) OperatingMode() (Mode, error) {
	return ParseMode(c.Mode)
}

// Validate rejects configurations the bridge cannot run with
func (c *Config) Validate() error {
	mode, err := c.OperatingMode()
	if err != nil {
		return err
	}
	switch c.Backend {
	case BackendElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			return fmt.Errorf("elasticsearch.addresses is required")
		}
	case BackendMongoDB:
		if c.MongoDB.URI == "" || c.MongoDB.Database == "" {
			return fmt.Errorf("mongodb.uri and mongodb.database are required")
		}
	case BackendMemory:
	default:
		return fmt.Errorf("unknown backend %q", c.Backend)
	}
	if mode.CanWrite() && c.Node.APIURL == "" {
		return fmt.Errorf("node.api_url is required in %s mode", mode)
	}
	return nil
}
