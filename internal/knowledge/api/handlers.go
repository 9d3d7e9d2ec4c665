// Package api exposes the knowledge pipeline over HTTP: document upload and
// lifecycle, retrieval, collection management and a dependency health probe.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"Athena/internal/knowledge/parsers"
	"Athena/internal/knowledge/service"
	"Athena/internal/models"
	"Athena/internal/vectorstore"
	"Athena/pkg/logger"
)

// knowledgeService is the slice of the pipeline manager the handlers use.
type knowledgeService interface {
	IngestStream(ctx context.Context, collectionName, fileName string, size int64, r io.Reader) (*models.KnowledgeDocument, error)
	EnqueueIngest(ctx context.Context, collectionName, fileName string, size int64, r io.Reader) (*models.KnowledgeDocument, error)
	RetryDocument(ctx context.Context, documentID string) error
	Search(ctx context.Context, collectionName, query string, topK int, minScore float64) ([]vectorstore.SearchResult, error)
	GetDocument(ctx context.Context, documentID string) (*models.KnowledgeDocument, error)
	ListDocuments(ctx context.Context, collectionName string) ([]*models.KnowledgeDocument, error)
	GetCollection(ctx context.Context, collectionName string) (*models.KnowledgeCollection, error)
	ListCollections(ctx context.Context) ([]*models.KnowledgeCollection, error)
	DeleteDocument(ctx context.Context, documentID string) error
	DeleteCollection(ctx context.Context, collectionName string) error
}

var _ knowledgeService = (*service.Manager)(nil)

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// API provides the HTTP handlers for the knowledge service.
type API struct {
	service knowledgeService
	logger  *logger.Logger
	health  map[string]HealthCheck
}

// NewAPI creates a new API handler set.
func NewAPI(service knowledgeService, logger *logger.Logger, health map[string]HealthCheck) *API {
	return &API{service: service, logger: logger, health: health}
}

// UploadDocumentHandler accepts a multipart upload and ingests it into the
// collection named in the path. With async=true the upload is archived and
// queued; the response then carries the pending document for later polling.
func (a *API) UploadDocumentHandler(c *gin.Context) {
	collection := c.Param("name")
	fileHeader, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing multipart field \"file\""})
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to open uploaded file"})
		return
	}
	defer file.Close()

	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	if async {
		doc, err := a.service.EnqueueIngest(c.Request.Context(), collection, fileHeader.Filename, fileHeader.Size, file)
		if err != nil {
			a.respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, newDocumentView(doc))
		return
	}

	doc, err := a.service.IngestStream(c.Request.Context(), collection, fileHeader.Filename, fileHeader.Size, file)
	if err != nil {
		a.logFailure(c, err)
		if doc != nil {
			// The record exists; return it so the caller can retry by id.
			c.JSON(statusFromError(err), gin.H{"error": err.Error(), "document": newDocumentView(doc)})
			return
		}
		c.JSON(statusFromError(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, newDocumentView(doc))
}

// GetDocumentHandler returns one document record with its processing status.
func (a *API) GetDocumentHandler(c *gin.Context) {
	doc, err := a.service.GetDocument(c.Request.Context(), c.Param("id"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDocumentView(doc))
}

// ListDocumentsHandler returns the documents of a collection, newest first.
func (a *API) ListDocumentsHandler(c *gin.Context) {
	docs, err := a.service.ListDocuments(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	views := make([]documentView, len(docs))
	for i, doc := range docs {
		views[i] = newDocumentView(doc)
	}
	c.JSON(http.StatusOK, gin.H{"documents": views})
}

// RetryDocumentHandler re-runs the vector write for the chunks of a document
// that never made it into the store, then returns the updated record.
func (a *API) RetryDocumentHandler(c *gin.Context) {
	documentID := c.Param("id")
	if err := a.service.RetryDocument(c.Request.Context(), documentID); err != nil {
		a.respondError(c, err)
		return
	}
	doc, err := a.service.GetDocument(c.Request.Context(), documentID)
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newDocumentView(doc))
}

// DeleteDocumentHandler removes a document everywhere: vectors, metadata and
// the archived original.
func (a *API) DeleteDocumentHandler(c *gin.Context) {
	if err := a.service.DeleteDocument(c.Request.Context(), c.Param("id")); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "document deleted"})
}

type searchRequest struct {
	Query    string  `json:"query" binding:"required"`
	TopK     int     `json:"top_k"`
	MinScore float64 `json:"min_score"`
}

// SearchHandler embeds the query and returns the ranked hits.
func (a *API) SearchHandler(c *gin.Context) {
	var req searchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	results, err := a.service.Search(c.Request.Context(), c.Param("name"), req.Query, req.TopK, req.MinScore)
	if err != nil {
		a.respondError(c, err)
		return
	}
	hits := make([]searchHitView, len(results))
	for i, result := range results {
		hits[i] = searchHitView{
			ChunkID:    result.ChunkID,
			DocumentID: result.DocumentID,
			Order:      result.Order,
			Text:       result.Text,
			Source:     result.Source,
			Score:      result.Score,
		}
	}
	c.JSON(http.StatusOK, gin.H{"results": hits, "count": len(hits)})
}

// GetCollectionHandler returns one collection with its counters and the
// embedding model and backend it is bound to.
func (a *API) GetCollectionHandler(c *gin.Context) {
	collection, err := a.service.GetCollection(c.Request.Context(), c.Param("name"))
	if err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, newCollectionView(collection))
}

// ListCollectionsHandler returns every collection with its counters.
func (a *API) ListCollectionsHandler(c *gin.Context) {
	collections, err := a.service.ListCollections(c.Request.Context())
	if err != nil {
		a.respondError(c, err)
		return
	}
	views := make([]collectionView, len(collections))
	for i, collection := range collections {
		views[i] = newCollectionView(collection)
	}
	c.JSON(http.StatusOK, gin.H{"collections": views})
}

// DeleteCollectionHandler tears down a collection, its index and all of its
// documents.
func (a *API) DeleteCollectionHandler(c *gin.Context) {
	if err := a.service.DeleteCollection(c.Request.Context(), c.Param("name")); err != nil {
		a.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "collection deleted"})
}

// HealthzHandler probes every registered dependency and reports per-check
// results. Any failing check degrades the overall status to 503.
func (a *API) HealthzHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	checks := make(map[string]string, len(a.health))
	for name, check := range a.health {
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}

	body := gin.H{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	c.JSON(status, body)
}

func (a *API) respondError(c *gin.Context, err error) {
	a.logFailure(c, err)
	c.JSON(statusFromError(err), gin.H{"error": err.Error()})
}

func (a *API) logFailure(c *gin.Context, err error) {
	a.logger.WithRequest(models.RequestInfo{
		Method:     c.Request.Method,
		Path:       c.Request.URL.Path,
		RemoteAddr: c.ClientIP(),
		UserAgent:  c.Request.UserAgent(),
	}).WithError(models.ErrorInfo{Message: err.Error(), StatusCode: statusFromError(err)}).
		Warn("Request failed")
}

// statusFromError maps domain failures onto HTTP status codes; anything
// unrecognized is an internal error.
func statusFromError(err error) int {
	var unsupported *parsers.UnsupportedExtensionError
	var mismatch *vectorstore.DimensionMismatchError
	switch {
	case errors.As(err, &unsupported), errors.Is(err, parsers.ErrNoExtension):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrCollectionDeleting),
		errors.Is(err, service.ErrCollectionMismatch),
		errors.Is(err, service.ErrDocumentProcessing):
		return http.StatusConflict
	case errors.Is(err, service.ErrAsyncDisabled):
		return http.StatusNotImplemented
	case errors.As(err, &mismatch):
		return http.StatusUnprocessableEntity
	case errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

type documentView struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	FileName     string    `json:"file_name"`
	FileSize     int64     `json:"file_size"`
	FileType     string    `json:"file_type"`
	ChunkCount   int       `json:"chunk_count"`
	Status       string    `json:"status"`
	ErrorMessage string    `json:"error_message,omitempty"`
	Tags         []string  `json:"tags,omitempty"`
	UploadedAt   time.Time `json:"uploaded_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

func newDocumentView(doc *models.KnowledgeDocument) documentView {
	var tags []string
	if doc.Tags != "" {
		tags = strings.Split(doc.Tags, ",")
	}
	return documentView{
		ID:           doc.ID,
		CollectionID: doc.CollectionID,
		FileName:     doc.OriginalFileName,
		FileSize:     doc.FileSize,
		FileType:     doc.FileType,
		ChunkCount:   doc.ChunkCount,
		Status:       doc.ProcessingStatus,
		ErrorMessage: doc.ErrorMessage,
		Tags:         tags,
		UploadedAt:   doc.UploadedAt,
		UpdatedAt:    doc.UpdatedAt,
	}
}

type collectionView struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	DocumentCount  int64     `json:"document_count"`
	ChunkCount     int64     `json:"chunk_count"`
	TotalTokens    int64     `json:"total_tokens"`
	EmbeddingModel string    `json:"embedding_model"`
	Backend        string    `json:"vector_store_backend"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func newCollectionView(collection *models.KnowledgeCollection) collectionView {
	return collectionView{
		ID:             collection.ID,
		Name:           collection.Name,
		DocumentCount:  collection.DocumentCount,
		ChunkCount:     collection.ChunkCount,
		TotalTokens:    collection.TotalTokens,
		EmbeddingModel: collection.EmbeddingModel,
		Backend:        collection.VectorStoreBackend,
		Status:         collection.Status,
		CreatedAt:      collection.CreatedAt,
	}
}

type searchHitView struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Order      int     `json:"chunk_order"`
	Text       string  `json:"text"`
	Source     string  `json:"source"`
	Score      float64 `json:"score"`
}
