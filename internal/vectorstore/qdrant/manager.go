// Package qdrant implements the vector store contract on a local Qdrant
// instance. Collections are created over the REST API so the vector size and
// distance metric are exactly what the configuration says; points and search
// go through the native gRPC client.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	qd "github.com/qdrant/go-client/qdrant"

	"Athena/internal/config"
	"Athena/internal/vectorstore"
	"Athena/pkg/httpclient"
)

// API is the part of the native client this package depends on.
// *qdrant.Client satisfies it; tests substitute a fake.
type API interface {
	CollectionExists(ctx context.Context, collectionName string) (bool, error)
	DeleteCollection(ctx context.Context, collectionName string) error
	Upsert(ctx context.Context, request *qd.UpsertPoints) (*qd.UpdateResult, error)
	Query(ctx context.Context, request *qd.QueryPoints) ([]*qd.ScoredPoint, error)
	Delete(ctx context.Context, request *qd.DeletePoints) (*qd.UpdateResult, error)
}

var _ API = (*qd.Client)(nil)

// NewNativeClient dials the gRPC port with the configured credentials.
func NewNativeClient(cfg config.QdrantConfig) (*qd.Client, error) {
	client, err := qd.NewClient(&qd.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to qdrant: %w", err)
	}
	return client, nil
}

// IndexManager handles collection lifecycle. Collection existence and
// deletion use the native client; creation goes over REST.
type IndexManager struct {
	api     API
	client  *httpclient.Client
	baseURL string
	cfg     config.QdrantConfig
}

// NewIndexManager builds the lifecycle manager around one native client and
// one REST client.
func NewIndexManager(api API, restClient *httpclient.Client, cfg config.QdrantConfig) *IndexManager {
	scheme := "http"
	if cfg.UseTLS {
		scheme = "https"
	}
	return &IndexManager{
		api:     api,
		client:  restClient,
		baseURL: fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.RESTPort),
		cfg:     cfg,
	}
}

// IndexExists reports whether the collection exists.
func (m *IndexManager) IndexExists(ctx context.Context, collection string) (bool, error) {
	exists, err := m.api.CollectionExists(ctx, collection)
	if err != nil {
		return false, fmt.Errorf("failed to check collection %q: %w", collection, err)
	}
	return exists, nil
}

// CreateIndex provisions the collection with the configured vector size and
// distance metric. An "already exists" response counts as success.
func (m *IndexManager) CreateIndex(ctx context.Context, collection string) error {
	payload := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     m.cfg.VectorSize,
			"distance": m.cfg.DistanceMetric,
		},
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode collection config: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, m.baseURL+"/collections/"+collection, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if m.cfg.APIKey != "" {
		req.Header.Set("api-key", m.cfg.APIKey)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to create collection %q: %w", collection, err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return nil
	case resp.StatusCode == http.StatusConflict:
		return nil
	case strings.Contains(string(body), "already exists"):
		return nil
	default:
		return &vectorstore.APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}
}

// DeleteIndex drops the collection. An absent collection is a no-op.
func (m *IndexManager) DeleteIndex(ctx context.Context, collection string) error {
	exists, err := m.IndexExists(ctx, collection)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if err := m.api.DeleteCollection(ctx, collection); err != nil {
		return fmt.Errorf("failed to delete collection %q: %w", collection, err)
	}
	return nil
}

// GetIndexID returns the collection name itself: Qdrant keys every operation
// by name, so the name is the identifier.
func (m *IndexManager) GetIndexID(ctx context.Context, collection string) (string, error) {
	exists, err := m.IndexExists(ctx, collection)
	if err != nil {
		return "", err
	}
	if !exists {
		return "", nil
	}
	return collection, nil
}
