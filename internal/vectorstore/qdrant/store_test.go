package qdrant

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	qd "github.com/qdrant/go-client/qdrant"

	"Athena/internal/config"
	"Athena/internal/embedding"
	"Athena/internal/vectorstore"
	"Athena/pkg/httpclient"
	"Athena/pkg/logger"
)

// fakeAPI is a scriptable stand-in for the native client.
type fakeAPI struct {
	mu sync.Mutex

	exists     bool
	existsErr  error
	deleted    []string
	upserts    []*qd.UpsertPoints
	upsertErrs map[string]error
	queryResp  []*qd.ScoredPoint
	queryErr   error
	queries    []*qd.QueryPoints
	deletes    []*qd.DeletePoints
}

func (f *fakeAPI) CollectionExists(ctx context.Context, collectionName string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exists, f.existsErr
}

func (f *fakeAPI) DeleteCollection(ctx context.Context, collectionName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, collectionName)
	return nil
}

func (f *fakeAPI) Upsert(ctx context.Context, request *qd.UpsertPoints) (*qd.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.upserts = append(f.upserts, request)
	for _, point := range request.Points {
		if err, ok := f.upsertErrs[point.GetId().GetUuid()]; ok {
			return nil, err
		}
	}
	return &qd.UpdateResult{}, nil
}

func (f *fakeAPI) Query(ctx context.Context, request *qd.QueryPoints) ([]*qd.ScoredPoint, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, request)
	return f.queryResp, f.queryErr
}

func (f *fakeAPI) Delete(ctx context.Context, request *qd.DeletePoints) (*qd.UpdateResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletes = append(f.deletes, request)
	return &qd.UpdateResult{}, nil
}

func newRESTClient(t *testing.T) *httpclient.Client {
	t.Helper()
	client, err := httpclient.NewClient(config.CircuitBreakerConfig{})
	if err != nil {
		t.Fatalf("httpclient.NewClient() error = %v", err)
	}
	return client
}

// serverConfig points the manager's REST base URL at an httptest server.
func serverConfig(t *testing.T, serverURL string, vectorSize int) config.QdrantConfig {
	t.Helper()
	parsed, err := url.Parse(serverURL)
	if err != nil {
		t.Fatalf("failed to parse server URL: %v", err)
	}
	host, portStr, err := net.SplitHostPort(parsed.Host)
	if err != nil {
		t.Fatalf("failed to split host and port: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse port: %v", err)
	}
	return config.QdrantConfig{
		Host:           host,
		Port:           port,
		RESTPort:       port,
		APIKey:         "secret",
		VectorSize:     vectorSize,
		DistanceMetric: "Cosine",
	}
}

func newTestStore(t *testing.T, api API, vectorSize int) *Store {
	t.Helper()
	cfg := config.QdrantConfig{Host: "127.0.0.1", Port: 6334, RESTPort: 6333, VectorSize: vectorSize, DistanceMetric: "Cosine"}
	info := embedding.Info{Provider: "openai", Model: "text-embedding-3-small", Dimensions: vectorSize}
	return NewStore(api, newRESTClient(t), cfg, info, logger.New("vector-store", ""))
}

func TestCreateIndexSendsVectorConfig(t *testing.T) {
	var (
		mu     sync.Mutex
		path   string
		apiKey string
		body   string
	)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		mu.Lock()
		path = r.Method + " " + r.URL.Path
		apiKey = r.Header.Get("api-key")
		body = string(raw)
		mu.Unlock()
		io.WriteString(w, `{"result":true,"status":"ok"}`)
	}))
	defer server.Close()

	manager := NewIndexManager(&fakeAPI{}, newRESTClient(t), serverConfig(t, server.URL, 768))
	if err := manager.CreateIndex(context.Background(), "articles"); err != nil {
		t.Fatalf("CreateIndex() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if path != "PUT /collections/articles" {
		t.Errorf("request = %q, want PUT /collections/articles", path)
	}
	if apiKey != "secret" {
		t.Errorf("api-key header = %q, want secret", apiKey)
	}
	want := `{"vectors":{"distance":"Cosine","size":768}}`
	if body != want {
		t.Errorf("body = %s, want %s", body, want)
	}
}

func TestCreateIndexTreatsExistingAsSuccess(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
	}{
		{"conflict status", http.StatusConflict, `{}`},
		{"already exists body", http.StatusBadRequest, `{"status":{"error":"collection articles already exists"}}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				io.WriteString(w, tc.body)
			}))
			defer server.Close()

			manager := NewIndexManager(&fakeAPI{}, newRESTClient(t), serverConfig(t, server.URL, 768))
			if err := manager.CreateIndex(context.Background(), "articles"); err != nil {
				t.Fatalf("CreateIndex() error = %v, want existing collection treated as success", err)
			}
		})
	}
}

func TestCreateIndexSurfacesAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"status":{"error":"bad vector size"}}`)
	}))
	defer server.Close()

	manager := NewIndexManager(&fakeAPI{}, newRESTClient(t), serverConfig(t, server.URL, 768))
	err := manager.CreateIndex(context.Background(), "articles")

	var apiErr *vectorstore.APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("CreateIndex() error = %v, want *vectorstore.APIError", err)
	}
	if apiErr.StatusCode != http.StatusBadRequest {
		t.Errorf("StatusCode = %d, want 400", apiErr.StatusCode)
	}
}

func TestDeleteIndexSkipsAbsentCollection(t *testing.T) {
	fake := &fakeAPI{exists: false}
	store := newTestStore(t, fake, 3)

	if err := store.DeleteIndex(context.Background(), "articles"); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}
	if len(fake.deleted) != 0 {
		t.Errorf("DeleteCollection called for an absent collection: %v", fake.deleted)
	}
}

func TestDeleteIndexDropsCollection(t *testing.T) {
	fake := &fakeAPI{exists: true}
	store := newTestStore(t, fake, 3)

	if err := store.DeleteIndex(context.Background(), "articles"); err != nil {
		t.Fatalf("DeleteIndex() error = %v", err)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "articles" {
		t.Errorf("deleted = %v, want [articles]", fake.deleted)
	}
}

func TestGetIndexIDIsCollectionName(t *testing.T) {
	fake := &fakeAPI{exists: true}
	store := newTestStore(t, fake, 3)

	id, err := store.GetIndexID(context.Background(), "articles")
	if err != nil {
		t.Fatalf("GetIndexID() error = %v", err)
	}
	if id != "articles" {
		t.Errorf("GetIndexID() = %q, want articles", id)
	}

	fake.mu.Lock()
	fake.exists = false
	fake.mu.Unlock()

	id, err = store.GetIndexID(context.Background(), "articles")
	if err != nil {
		t.Fatalf("GetIndexID() for absent collection error = %v", err)
	}
	if id != "" {
		t.Errorf("GetIndexID() = %q, want empty for absent collection", id)
	}
}

func TestUpsertChunksRejectsWrongDimensions(t *testing.T) {
	fake := &fakeAPI{}
	store := newTestStore(t, fake, 3)

	records := []vectorstore.ChunkRecord{{
		ChunkID:    "9f2c58e7-0001-4000-8000-000000000001",
		DocumentID: "doc-1",
		Vector:     []float32{0.1, 0.2},
	}}
	err := store.UpsertChunks(context.Background(), "articles", records)

	var dimErr *vectorstore.DimensionMismatchError
	if !errors.As(err, &dimErr) {
		t.Fatalf("UpsertChunks() error = %v, want *vectorstore.DimensionMismatchError", err)
	}
	if len(fake.upserts) != 0 {
		t.Errorf("upsert reached the store despite a dimension mismatch")
	}
}

func TestUpsertChunksContinuesPastFailures(t *testing.T) {
	const (
		idA = "9f2c58e7-0001-4000-8000-00000000000a"
		idB = "9f2c58e7-0001-4000-8000-00000000000b"
		idC = "9f2c58e7-0001-4000-8000-00000000000c"
	)
	fake := &fakeAPI{upsertErrs: map[string]error{idB: errors.New("write refused")}}
	store := newTestStore(t, fake, 3)

	records := []vectorstore.ChunkRecord{
		{ChunkID: idA, DocumentID: "doc-1", Order: 0, Text: "alpha", Source: "a.md", Vector: []float32{1, 0, 0}},
		{ChunkID: idB, DocumentID: "doc-1", Order: 1, Text: "beta", Source: "a.md", Vector: []float32{0, 1, 0}},
		{ChunkID: idC, DocumentID: "doc-1", Order: 2, Text: "gamma", Source: "a.md", Vector: []float32{0, 0, 1}},
	}
	err := store.UpsertChunks(context.Background(), "articles", records)

	var upErr *vectorstore.UpsertError
	if !errors.As(err, &upErr) {
		t.Fatalf("UpsertChunks() error = %v, want *vectorstore.UpsertError", err)
	}
	if len(upErr.Failed) != 1 {
		t.Fatalf("Failed = %v, want exactly the one refused chunk", upErr.Failed)
	}
	if _, ok := upErr.Failed[idB]; !ok {
		t.Errorf("Failed missing chunk %s: %v", idB, upErr.Failed)
	}
	if len(fake.upserts) != 3 {
		t.Errorf("got %d upsert calls, want 3 (batch continues past failures)", len(fake.upserts))
	}

	first := fake.upserts[0]
	if first.CollectionName != "articles" {
		t.Errorf("CollectionName = %q, want articles", first.CollectionName)
	}
	if !first.GetWait() {
		t.Error("upsert not issued with wait=true")
	}
	point := first.Points[0]
	if point.GetId().GetUuid() != idA {
		t.Errorf("point id = %q, want %s", point.GetId().GetUuid(), idA)
	}
	if got := point.Payload[payloadText].GetStringValue(); got != "alpha" {
		t.Errorf("payload text = %q, want alpha", got)
	}
	if got := point.Payload[payloadOrder].GetIntegerValue(); got != 0 {
		t.Errorf("payload order = %d, want 0", got)
	}
}

func TestSearchMapsAndRanksResults(t *testing.T) {
	point := func(id string, score float32, order int64, text string) *qd.ScoredPoint {
		return &qd.ScoredPoint{
			Id:    qd.NewID(id),
			Score: score,
			Payload: qd.NewValueMap(map[string]interface{}{
				payloadDocumentID: "doc-1",
				payloadOrder:      order,
				payloadText:       text,
				payloadSource:     "guide.md",
			}),
		}
	}
	const (
		idA = "9f2c58e7-0002-4000-8000-00000000000a"
		idB = "9f2c58e7-0002-4000-8000-00000000000b"
		idC = "9f2c58e7-0002-4000-8000-00000000000c"
	)
	fake := &fakeAPI{queryResp: []*qd.ScoredPoint{
		point(idB, 0.95, 4, "later chunk"),
		point(idA, 0.95, 1, "earlier chunk"),
		point(idC, 0.80, 9, "weak chunk"),
	}}
	store := newTestStore(t, fake, 3)

	results, err := store.Search(context.Background(), "articles", []float32{1, 0, 0}, 10, 0.5)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("got %d results, want 3", len(results))
	}
	if results[0].ChunkID != idA || results[1].ChunkID != idB || results[2].ChunkID != idC {
		t.Errorf("ranked order = %s, %s, %s; want score desc with ties broken by chunk order",
			results[0].ChunkID, results[1].ChunkID, results[2].ChunkID)
	}
	if results[0].DocumentID != "doc-1" || results[0].Order != 1 || results[0].Text != "earlier chunk" || results[0].Source != "guide.md" {
		t.Errorf("payload not mapped: %+v", results[0])
	}

	query := fake.queries[0]
	if query.CollectionName != "articles" {
		t.Errorf("queried collection = %q, want articles", query.CollectionName)
	}
	if query.GetLimit() != 10 {
		t.Errorf("limit = %d, want 10", query.GetLimit())
	}
	if got := query.GetScoreThreshold(); got < 0.49 || got > 0.51 {
		t.Errorf("score threshold = %v, want 0.5", got)
	}
}

func TestDeleteByDocumentFiltersOnDocumentID(t *testing.T) {
	fake := &fakeAPI{}
	store := newTestStore(t, fake, 3)

	if err := store.DeleteByDocument(context.Background(), "articles", "doc-42"); err != nil {
		t.Fatalf("DeleteByDocument() error = %v", err)
	}
	if len(fake.deletes) != 1 {
		t.Fatalf("got %d delete calls, want 1", len(fake.deletes))
	}

	req := fake.deletes[0]
	if req.CollectionName != "articles" {
		t.Errorf("CollectionName = %q, want articles", req.CollectionName)
	}
	filter := req.Points.GetFilter()
	if filter == nil || len(filter.Must) != 1 {
		t.Fatalf("delete filter = %v, want one must condition", filter)
	}
	field := filter.Must[0].GetField()
	if field.GetKey() != payloadDocumentID {
		t.Errorf("filter key = %q, want %s", field.GetKey(), payloadDocumentID)
	}
	if field.GetMatch().GetKeyword() != "doc-42" {
		t.Errorf("filter keyword = %q, want doc-42", field.GetMatch().GetKeyword())
	}
}

func TestResultFromPointFallsBackToPointID(t *testing.T) {
	const id = "9f2c58e7-0003-4000-8000-000000000001"
	point := &qd.ScoredPoint{
		Id:    qd.NewID(id),
		Score: 0.75,
		Payload: qd.NewValueMap(map[string]interface{}{
			payloadText: "orphan payload",
		}),
	}

	result := resultFromPoint(point)
	if result.ChunkID != id {
		t.Errorf("ChunkID = %q, want the point id %s", result.ChunkID, id)
	}
	if result.Score != 0.75 {
		t.Errorf("Score = %v, want 0.75", result.Score)
	}
	if result.Text != "orphan payload" {
		t.Errorf("Text = %q, want orphan payload", result.Text)
	}
}
