package service

import (
	"fmt"

	"Athena/internal/config"
	"Athena/internal/database/mongo"
	"Athena/internal/embedding"
	"Athena/internal/vectorstore"
	"Athena/internal/vectorstore/mongodb"
	"Athena/internal/vectorstore/qdrant"
	"Athena/pkg/httpclient"
	"Athena/pkg/logger"
)

// NewStrategy builds the vector store backend named by the configuration and
// dials whatever that backend needs: the managed search backend gets the
// shared MongoDB data plane client plus a control plane REST client, the
// local vector database gets a native client plus a REST client for
// collection creation.
func NewStrategy(cfg *config.AppConfig, info embedding.Info, log *logger.Logger) (vectorstore.Strategy, error) {
	switch cfg.VectorStore.Provider {
	case "mongodb":
		manager, err := mongodb.NewIndexManager(cfg.VectorStore.MongoDB, cfg.Knowledge.CircuitBreaker)
		if err != nil {
			return nil, fmt.Errorf("failed to build index manager: %w", err)
		}
		client, err := mongo.GetClient(&cfg.Databases.MongoDB)
		if err != nil {
			return nil, err
		}
		return mongodb.NewStore(manager, client, cfg.VectorStore.MongoDB, info, log)
	case "qdrant":
		api, err := qdrant.NewNativeClient(cfg.VectorStore.Qdrant)
		if err != nil {
			return nil, err
		}
		rest, err := httpclient.NewClient(cfg.Knowledge.CircuitBreaker, httpclient.WithRetries(2))
		if err != nil {
			return nil, err
		}
		return qdrant.NewStore(api, rest, cfg.VectorStore.Qdrant, info, log), nil
	default:
		return nil, fmt.Errorf("unknown vector store provider %q (supported: mongodb, qdrant)", cfg.VectorStore.Provider)
	}
}
