// Package mongodb implements the vector store contract on a managed search
// backend: index lifecycle over an Atlas-style REST control plane with
// digest auth, chunk storage and knnBeta search through the MongoDB driver.
package mongodb

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"

	"github.com/icholy/digest"

	"Athena/internal/config"
	"Athena/internal/vectorstore"
	"Athena/pkg/httpclient"
)

// IndexManager drives the search index lifecycle over the REST control
// plane. The project identifier is resolved once from the configured project
// name and cached for the manager's lifetime.
type IndexManager struct {
	client *httpclient.Client
	cfg    config.AtlasConfig

	mu      sync.Mutex
	groupID string
}

// NewIndexManager builds the control plane client with digest auth and the
// configured circuit breaker. It performs no network calls; call Init to
// resolve the project identifier.
func NewIndexManager(cfg config.AtlasConfig, breaker config.CircuitBreakerConfig) (*IndexManager, error) {
	client, err := httpclient.NewClient(breaker,
		httpclient.WithTransport(&digest.Transport{
			Username: cfg.PublicKey,
			Password: cfg.PrivateKey,
		}),
		httpclient.WithRetries(2),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build control plane client: %w", err)
	}
	return &IndexManager{client: client, cfg: cfg}, nil
}

// Init resolves the configured project name to its identifier. A failure
// here is not fatal: operations retry the resolution lazily and report
// ErrNotInitialized until it succeeds.
func (m *IndexManager) Init(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.resolveProjectLocked(ctx)
}

func (m *IndexManager) resolveProjectLocked(ctx context.Context) error {
	if m.groupID != "" {
		return nil
	}

	status, body, err := m.call(ctx, http.MethodGet, "/groups/byName/"+m.cfg.ProjectName, nil)
	if err != nil {
		return fmt.Errorf("failed to resolve project %q: %w", m.cfg.ProjectName, err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("failed to resolve project %q: %w", m.cfg.ProjectName,
			&vectorstore.APIError{StatusCode: status, Body: body})
	}

	var project struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal([]byte(body), &project); err != nil {
		return fmt.Errorf("failed to decode project response: %w", err)
	}
	if project.ID == "" {
		return fmt.Errorf("project %q resolved to an empty id", m.cfg.ProjectName)
	}

	m.groupID = project.ID
	return nil
}

// projectID returns the cached identifier, retrying the resolution when the
// startup Init did not succeed.
func (m *IndexManager) projectID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groupID == "" {
		if err := m.resolveProjectLocked(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", vectorstore.ErrNotInitialized, err)
		}
	}
	return m.groupID, nil
}

// collectionName maps a knowledge collection onto its physical collection,
// applying the configured name prefix.
func (m *IndexManager) collectionName(collection string) string {
	return m.cfg.Collection + collection
}

// searchIndex is the slice of the control plane's index representation the
// manager cares about.
type searchIndex struct {
	IndexID        string `json:"indexID"`
	Name           string `json:"name"`
	Database       string `json:"database"`
	CollectionName string `json:"collectionName"`
	Status         string `json:"status"`
}

// findIndex fetches the collection's search indexes and returns the one
// matching the configured index name, or nil when absent.
func (m *IndexManager) findIndex(ctx context.Context, collection string) (*searchIndex, error) {
	gid, err := m.projectID(ctx)
	if err != nil {
		return nil, err
	}

	path := fmt.Sprintf("/groups/%s/clusters/%s/fts/indexes/%s/%s",
		gid, m.cfg.ClusterName, m.cfg.Database, m.collectionName(collection))
	status, body, err := m.call(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to list search indexes: %w", err)
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status != http.StatusOK {
		return nil, &vectorstore.APIError{StatusCode: status, Body: body}
	}

	var indexes []searchIndex
	if err := json.Unmarshal([]byte(body), &indexes); err != nil {
		return nil, fmt.Errorf("failed to decode index list: %w", err)
	}
	for i := range indexes {
		if indexes[i].Name == m.cfg.IndexName {
			return &indexes[i], nil
		}
	}
	return nil, nil
}

// IndexExists reports whether the collection's search index exists. A
// missing collection is (false, nil).
func (m *IndexManager) IndexExists(ctx context.Context, collection string) (bool, error) {
	index, err := m.findIndex(ctx, collection)
	if err != nil {
		return false, err
	}
	return index != nil, nil
}

// GetIndexID resolves the control plane identifier of the collection's
// search index, or "" when absent.
func (m *IndexManager) GetIndexID(ctx context.Context, collection string) (string, error) {
	index, err := m.findIndex(ctx, collection)
	if err != nil {
		return "", err
	}
	if index == nil {
		return "", nil
	}
	return index.IndexID, nil
}

// CreateIndex provisions a knnVector search index on the collection with the
// configured field, dimensions and similarity. Duplicate creation responses
// count as success.
func (m *IndexManager) CreateIndex(ctx context.Context, collection string) error {
	gid, err := m.projectID(ctx)
	if err != nil {
		return err
	}

	payload := map[string]interface{}{
		"collectionName": m.collectionName(collection),
		"database":       m.cfg.Database,
		"name":           m.cfg.IndexName,
		"mappings": map[string]interface{}{
			"dynamic": true,
			"fields": map[string]interface{}{
				m.cfg.VectorField: map[string]interface{}{
					"type":       "knnVector",
					"dimensions": m.cfg.Dimensions,
					"similarity": m.cfg.Similarity,
				},
			},
		},
	}

	path := fmt.Sprintf("/groups/%s/clusters/%s/fts/indexes", gid, m.cfg.ClusterName)
	status, body, err := m.call(ctx, http.MethodPost, path, payload)
	if err != nil {
		return fmt.Errorf("failed to create search index: %w", err)
	}
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusConflict:
		return nil
	case status == http.StatusBadRequest && strings.Contains(body, "DUPLICATE"):
		return nil
	default:
		return &vectorstore.APIError{StatusCode: status, Body: body}
	}
}

// DeleteIndex removes the collection's search index by its resolved
// identifier. An absent index is a no-op.
func (m *IndexManager) DeleteIndex(ctx context.Context, collection string) error {
	index, err := m.findIndex(ctx, collection)
	if err != nil {
		return err
	}
	if index == nil {
		return nil
	}

	gid, err := m.projectID(ctx)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/groups/%s/clusters/%s/fts/indexes/%s", gid, m.cfg.ClusterName, index.IndexID)
	status, body, err := m.call(ctx, http.MethodDelete, path, nil)
	if err != nil {
		return fmt.Errorf("failed to delete search index: %w", err)
	}
	if status == http.StatusNotFound || (status >= 200 && status < 300) {
		return nil
	}
	return &vectorstore.APIError{StatusCode: status, Body: body}
}

// call performs one control plane request and hands back the status code and
// raw body.
func (m *IndexManager) call(ctx context.Context, method, path string, payload interface{}) (int, string, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return 0, "", fmt.Errorf("failed to encode request body: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, m.cfg.BaseURL+path, body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, "", fmt.Errorf("failed to read response body: %w", err)
	}
	return resp.StatusCode, string(raw), nil
}
