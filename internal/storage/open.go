package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ety001/op-history-bridge/internal/models"
)

// Open connects the configured backend and prepares its indexes. Index
// setup failures are logged, not fatal, matching a cluster managed by
// someone else.
func Open(config *models.Config, log *logrus.Logger) (Backend, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	switch config.Backend {
	case models.BackendElasticsearch:
		es, err := NewElasticsearch(config.Elasticsearch)
		if err != nil {
			return nil, err
		}
		if err := es.EnsureTemplate(ctx); err != nil {
			log.Warnf("Failed to install index template: %v", err)
		}
		log.Infof("Elasticsearch initialized: %v (prefix %s)", config.Elasticsearch.Addresses, config.Elasticsearch.IndexPrefix)
		return es, nil

	case models.BackendMongoDB:
		mongoStorage, err := NewMongoDB(config.MongoDB.URI, config.MongoDB.Database)
		if err != nil {
			return nil, err
		}
		if err := mongoStorage.CreateIndexes(ctx); err != nil {
			log.Warnf("Failed to create indexes: %v", err)
		}
		log.Infof("MongoDB initialized: %s", config.MongoDB.Database)
		return mongoStorage, nil

	case models.BackendMemory:
		log.Warn("Using the in-memory backend, documents are lost on exit")
		return NewMemory(), nil

	default:
		return nil, fmt.Errorf("unknown backend %q", config.Backend)
	}
}
