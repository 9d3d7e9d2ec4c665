package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"Athena/internal/config"
	"Athena/internal/vectorstore"
)

// fakeAtlas is a scriptable control plane. Zero-valued status fields mean a
// successful response.
type fakeAtlas struct {
	mu sync.Mutex

	byNameStatus int
	byNameCalls  int

	listStatus int
	listBody   string
	listPaths  []string

	createStatus int
	createBody   string
	createBodies []string

	deleteStatus int
	deletePaths  []string
}

func (f *fakeAtlas) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	switch {
	case strings.HasPrefix(r.URL.Path, "/groups/byName/"):
		f.byNameCalls++
		if f.byNameStatus != 0 {
			w.WriteHeader(f.byNameStatus)
			io.WriteString(w, `{"detail":"project lookup failed"}`)
			return
		}
		io.WriteString(w, `{"id":"gid123","name":"knowledge"}`)
	case r.Method == http.MethodPost:
		body, _ := io.ReadAll(r.Body)
		f.createBodies = append(f.createBodies, string(body))
		if f.createStatus != 0 {
			w.WriteHeader(f.createStatus)
			io.WriteString(w, f.createBody)
			return
		}
		io.WriteString(w, `{"indexID":"idx-new","name":"default"}`)
	case r.Method == http.MethodDelete:
		f.deletePaths = append(f.deletePaths, r.URL.Path)
		if f.deleteStatus != 0 {
			w.WriteHeader(f.deleteStatus)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	default:
		f.listPaths = append(f.listPaths, r.URL.Path)
		if f.listStatus != 0 {
			w.WriteHeader(f.listStatus)
			io.WriteString(w, `{"detail":"list failed"}`)
			return
		}
		if f.listBody == "" {
			io.WriteString(w, `[]`)
			return
		}
		io.WriteString(w, f.listBody)
	}
}

func (f *fakeAtlas) setByNameStatus(status int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.byNameStatus = status
}

const defaultIndexList = `[{"indexID":"idx-1","name":"default","database":"vectors","collectionName":"km_articles","status":"STEADY"}]`

func newTestManager(t *testing.T, baseURL string) *IndexManager {
	t.Helper()
	cfg := config.AtlasConfig{
		BaseURL:     baseURL,
		PublicKey:   "pub",
		PrivateKey:  "priv",
		ProjectName: "knowledge",
		ClusterName: "cluster0",
		Database:    "vectors",
		Collection:  "km_",
		IndexName:   "default",
		VectorField: "embedding",
		Dimensions:  3,
		Similarity:  "cosine",
	}
	manager, err := NewIndexManager(cfg, config.CircuitBreakerConfig{})
	if err != nil {
		t.Fatalf("NewIndexManager() error = %v", err)
	}
	return manager
}

func TestIndexManagerResolvesProjectOnce(t *testing.T) {
	fake := &fakeAtlas{listBody: defaultIndexList}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	if err := manager.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	exists, err := manager.IndexExists(context.Background(), "articles")
	if err != nil {
		t.Fatalf("IndexExists() error = %v", err)
	}
	if !exists {
		t.Fatal("IndexExists() = false, want true")
	}

	if fake.byNameCalls != 1 {
		t.Errorf("project resolved %d times, want 1", fake.byNameCalls)
	}
	wantPath := "/groups/gid123/clusters/cluster0/fts/indexes/vectors/km_articles"
	if len(fake.listPaths) != 1 || fake.listPaths[0] != wantPath {
		t.Errorf("list paths = %v, want [%s]", fake.listPaths, wantPath)
	}
}

func TestIndexManagerReportsNotInitialized(t *testing.T) {
	fake := &fakeAtlas{byNameStatus: http.StatusBadRequest}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	if err := manager.Init(context.Background()); err == nil {
		t.Fatal("Init() succeeded against a failing control plane")
	}

	_, err := manager.IndexExists(context.Background(), "articles")
	if !errors.Is(err, vectorstore.ErrNotInitialized) {
		t.Fatalf("IndexExists() error = %v, want ErrNotInitialized", err)
	}
}

func TestIndexManagerRecoversAfterFailedInit(t *testing.T) {
	fake := &fakeAtlas{byNameStatus: http.StatusBadRequest, listBody: defaultIndexList}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	if err := manager.Init(context.Background()); err == nil {
		t.Fatal("Init() succeeded against a failing control plane")
	}

	fake.setByNameStatus(0)
	exists, err := manager.IndexExists(context.Background(), "articles")
	if err != nil {
		t.Fatalf("IndexExists() after recovery error = %v", err)
	}
	if !exists {
		t.Fatal("IndexExists() = false, want true")
	}
}

func TestIndexExistsMissingCollection(t *testing.T) {
	fake := &fakeAtlas{listStatus: http.StatusNotFound}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	exists, err := manager.IndexExists(context.Background(), "articles")
	if err != nil {
		t.Fatalf("IndexExists() error = %v", err)
	}
	if exists {
		t.Fatal("IndexExists() = true for a missing collection")
	}
}

func TestIndexExistsIgnoresOtherIndexes(t *testing.T) {
	fake := &fakeAtlas{listBody: `[{"indexID":"idx-9","name":"fulltext"}]`}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	exists, err := manager.IndexExists(context.Background(), "articles")
	if err != nil {
		t.Fatalf("IndexExists() error = %v", err)
	}
	if exists {
		t.Fatal("IndexExists() = true, want false when only other indexes are present")
	}
}

func TestCreateIndexSendsMapping(t *testing.T) {
	fake := &fakeAtlas{}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	if err := manager.CreateIndex(context.Background(), "articles"); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}
	if len(fake.createBodies) != 1 {
		t.Fatalf("got %d create calls, want 1", len(fake.createBodies))
	}

	var payload struct {
		CollectionName string `json:"collectionName"`
		Database       string `json:"database"`
		Name           string `json:"name"`
		Mappings       struct {
			Dynamic bool `json:"dynamic"`
			Fields  map[string]struct {
				Type       string `json:"type"`
				Dimensions int    `json:"dimensions"`
				Similarity string `json:"similarity"`
			} `json:"fields"`
		} `json:"mappings"`
	}
	if err := json.Unmarshal([]byte(fake.createBodies[0]), &payload); err != nil {
		t.Fatalf("failed to decode create payload: %v", err)
	}
	if payload.CollectionName != "km_articles" {
		t.Errorf("collectionName = %q, want km_articles", payload.CollectionName)
	}
	if payload.Database != "vectors" || payload.Name != "default" {
		t.Errorf("database/name = %q/%q, want vectors/default", payload.Database, payload.Name)
	}
	field, ok := payload.Mappings.Fields["embedding"]
	if !ok {
		t.Fatalf("vector field missing from mapping: %s", fake.createBodies[0])
	}
	if field.Type != "knnVector" || field.Dimensions != 3 || field.Similarity != "cosine" {
		t.Errorf("vector field mapping = %+v, want knnVector/3/cosine", field)
	}
}

func TestCreateIndexDuplicateIsSuccess(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"conflict", http.StatusConflict, `{"detail":"index already exists"}`},
		{"duplicate error code", http.StatusBadRequest, `{"errorCode":"DUPLICATE_INDEX"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake := &fakeAtlas{createStatus: tc.status, createBody: tc.body}
			server := httptest.NewServer(fake)
			defer server.Close()

			manager := newTestManager(t, server.URL)
			if err := manager.CreateIndex(context.Background(), "articles"); err != nil {
				t.Fatalf("CreateIndex() error = %v, want duplicate treated as success", err)
			}
		})
	}
}

func TestCreateIndexSurfacesAPIError(t *testing.T) {
	fake := &fakeAtlas{createStatus: http.StatusBadRequest, createBody: `{"detail":"invalid mapping"}`}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	err := manager.CreateIndex(context.Background(), "articles")

	var apiErr *vectorstore.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreateIndex() error = %v, want *vectorstore.APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
	if !strings.Contains(apiErr.Body, "invalid mapping") {
		t.Errorf("Body = %q, want the control plane detail included", apiErr.Body)
	}
}

func TestDeleteIndexAbsentIsNoOp(t *testing.T) {
	fake := &fakeAtlas{}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	if err := manager.DeleteIndex(context.Background(), "articles"); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}
	if len(fake.deletePaths) != 0 {
		t.Errorf("DELETE issued for an absent index: %v", fake.deletePaths)
	}
}

func TestDeleteIndexRemovesByID(t *testing.T) {
	fake := &fakeAtlas{listBody: defaultIndexList}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	if err := manager.DeleteIndex(context.Background(), "articles"); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}

	wantPath := "/groups/gid123/clusters/cluster0/fts/indexes/idx-1"
	if len(fake.deletePaths) != 1 || fake.deletePaths[0] != wantPath {
		t.Errorf("delete paths = %v, want [%s]", fake.deletePaths, wantPath)
	}
}

func TestGetIndexID(t *testing.T) {
	fake := &fakeAtlas{listBody: defaultIndexList}
	server := httptest.NewServer(fake)
	defer server.Close()

	manager := newTestManager(t, server.URL)
	id, err := manager.GetIndexID(context.Background(), "articles")
	if err != nil {
		t.Fatalf("GetIndexID() error = %v", err)
	}
	if id != "idx-1" {
		t.Errorf("GetIndexID() = %q, want idx-1", id)
	}

	fake.mu.Lock()
	fake.listStatus = http.StatusNotFound
	fake.mu.Unlock()

	id, err = manager.GetIndexID(context.Background(), "articles")
	if err != nil {
		t.Fatalf("GetIndexID() for absent index error = %v", err)
	}
	if id != "" {
		t.Errorf("GetIndexID() = %q, want empty for absent index", id)
	}
}
