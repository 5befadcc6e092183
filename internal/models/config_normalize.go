package models

import "time"

// DefaultConfig returns the configuration used for keys absent from the file
func DefaultConfig() *Config {
	return &Config{
		Mode:    ModeOnlySave.String(),
		Backend: BackendElasticsearch,
		Node: NodeConfig{
			BatchSize:    100,
			PollInterval: 3 * time.Second,
			Timeout:      30 * time.Second,
		},
		Elasticsearch: ElasticsearchConfig{
			IndexPrefix: "bitshares-",
			MaxRetries:  3,
		},
		Indexer: IndexerConfig{
			BulkReplay:      10000,
			BulkSync:        100,
			Visitor:         true,
			OperationObject: true,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: "8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Normalize replaces zero or out-of-range values with defaults, so configs
// written for older versions keep working
func (c *Config) Normalize() {
	defaults := DefaultConfig()

	if c.Mode == "" {
		c.Mode = defaults.Mode
	}
	if c.Backend == "" {
		c.Backend = defaults.Backend
	}
	if c.Node.BatchSize <= 0 {
		c.Node.BatchSize = defaults.Node.BatchSize
	}
	if c.Node.PollInterval <= 0 {
		c.Node.PollInterval = defaults.Node.PollInterval
	}
	if c.Node.Timeout <= 0 {
		c.Node.Timeout = defaults.Node.Timeout
	}
	if c.Elasticsearch.IndexPrefix == "" {
		c.Elasticsearch.IndexPrefix = defaults.Elasticsearch.IndexPrefix
	}
	if c.Elasticsearch.MaxRetries < 0 {
		c.Elasticsearch.MaxRetries = 0
	}
	if c.Indexer.BulkReplay <= 0 {
		c.Indexer.BulkReplay = defaults.Indexer.BulkReplay
	}
	if c.Indexer.BulkSync <= 0 {
		c.Indexer.BulkSync = defaults.Indexer.BulkSync
	}
	if c.Indexer.BulkSync > c.Indexer.BulkReplay {
		c.Indexer.BulkSync = c.Indexer.BulkReplay
	}
	if c.API.Port == "" {
		c.API.Port = defaults.API.Port
	}
	if c.Log.Level == "" {
		c.Log.Level = defaults.Log.Level
	}
	if c.Log.Format == "" {
		c.Log.Format = defaults.Log.Format
	}
}
