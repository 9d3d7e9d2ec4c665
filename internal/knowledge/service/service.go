// Package service orchestrates the knowledge pipeline: it turns uploaded
// files into parsed documents, overlapping chunks and embedded vectors,
// writes the vectors through the configured store backend and keeps the
// relational metadata in step with what the vector side actually holds.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"Athena/internal/config"
	"Athena/internal/embedding"
	"Athena/internal/knowledge/archive"
	"Athena/internal/knowledge/chunker"
	"Athena/internal/knowledge/dal"
	"Athena/internal/knowledge/parsers"
	"Athena/internal/knowledge/queue"
	"Athena/internal/models"
	"Athena/internal/vectorstore"
	"Athena/pkg/logger"
)

// ErrCollectionDeleting rejects new work against a collection whose teardown
// is in progress.
var ErrCollectionDeleting = errors.New("collection is being deleted")

// ErrAsyncDisabled is returned when asynchronous ingestion is requested but
// the queue or the archive store was not configured.
var ErrAsyncDisabled = errors.New("asynchronous ingestion is not configured")

// ErrCollectionMismatch is returned when an ingest targets a collection whose
// recorded embedding model or backend differs from the running service.
var ErrCollectionMismatch = errors.New("collection contract mismatch")

// ErrDocumentProcessing rejects a retry of a document that is still inside a
// pipeline run.
var ErrDocumentProcessing = errors.New("document is still being processed")

// metaStore is the relational metadata surface the pipeline depends on.
type metaStore interface {
	EnsureCollection(ctx context.Context, name, embeddingModel, backend string) (*models.KnowledgeCollection, error)
	GetCollection(ctx context.Context, id string) (*models.KnowledgeCollection, error)
	GetCollectionByName(ctx context.Context, name string) (*models.KnowledgeCollection, error)
	ListCollections(ctx context.Context) ([]*models.KnowledgeCollection, error)
	MarkCollectionDeleting(ctx context.Context, id string) error
	DeleteCollection(ctx context.Context, id string) error

	CreateDocument(ctx context.Context, doc *models.KnowledgeDocument) error
	GetDocument(ctx context.Context, id string) (*models.KnowledgeDocument, error)
	ListDocuments(ctx context.Context, collectionID string) ([]*models.KnowledgeDocument, error)
	UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error
	SetDocumentArchivePath(ctx context.Context, id, path string) error
	SetDocumentTags(ctx context.Context, id, tags string) error
	CompleteDocument(ctx context.Context, documentID, collectionID string, chunks int, tokens int64) error
	DeleteDocument(ctx context.Context, documentID string) error

	CreateChunks(ctx context.Context, chunks []*models.KnowledgeChunk) error
	MarkChunksStored(ctx context.Context, ids []string) error
	ListChunksByDocument(ctx context.Context, documentID string) ([]*models.KnowledgeChunk, error)
	ListUnstoredChunks(ctx context.Context, documentID string) ([]*models.KnowledgeChunk, error)
}

var _ metaStore = (*dal.KnowledgeDAL)(nil)

// objectStore archives original uploads so asynchronous and replayed
// ingestion can read them back.
type objectStore interface {
	Upload(ctx context.Context, objectPath string, r io.Reader, size int64) error
	Fetch(ctx context.Context, objectPath string) (io.ReadCloser, error)
	Remove(ctx context.Context, objectPath string) error
}

var _ objectStore = (*archive.Store)(nil)

// taskPublisher hands ingestion tasks to the queue.
type taskPublisher interface {
	Publish(ctx context.Context, task *queue.IngestTask) error
}

var _ taskPublisher = (*queue.Publisher)(nil)

// Manager drives the knowledge pipeline end to end. It owns no connections
// itself; every external system arrives as a dependency so callers control
// lifecycle and tests can substitute fakes.
type Manager struct {
	cfg       *config.AppConfig
	store     metaStore
	strategy  vectorstore.Strategy
	embedder  embedding.Embedding
	info      embedding.Info
	resolver  *parsers.Resolver
	splitter  *chunker.Chunker
	objects   objectStore   // nil disables archiving and replay
	publisher taskPublisher // nil disables asynchronous ingestion
	log       *logger.Logger

	maxConcurrency int
	minScore       float64
}

// NewManager wires the pipeline from configuration. objects and publisher
// may be nil when archiving or asynchronous ingestion are disabled.
func NewManager(
	cfg *config.AppConfig,
	store metaStore,
	strategy vectorstore.Strategy,
	embedder embedding.Embedding,
	info embedding.Info,
	objects *archive.Store,
	publisher *queue.Publisher,
	log *logger.Logger,
) (*Manager, error) {
	resolver, err := parsers.ForExtensions(cfg.Knowledge.Extensions)
	if err != nil {
		return nil, err
	}
	splitter, err := chunker.New(chunker.Config{
		CharacterLimit:  cfg.Chunking.CharacterLimit,
		LineTokens:      cfg.Chunking.LineTokens,
		ParagraphTokens: cfg.Chunking.ParagraphTokens,
		Overlap:         cfg.Chunking.Overlap,
	})
	if err != nil {
		return nil, err
	}

	maxConcurrency := cfg.Embedding.MaxConcurrency
	if maxConcurrency <= 0 {
		maxConcurrency = 1
	}
	m := &Manager{
		cfg:            cfg,
		store:          store,
		strategy:       strategy,
		embedder:       embedder,
		info:           info,
		resolver:       resolver,
		splitter:       splitter,
		log:            log,
		maxConcurrency: maxConcurrency,
		minScore:       defaultMinScore(&cfg.Embedding),
	}
	// Assign through the nil checks so a disabled component stays a nil
	// interface instead of an interface wrapping a nil pointer.
	if objects != nil {
		m.objects = objects
	}
	if publisher != nil {
		m.publisher = publisher
	}
	return m, nil
}

// defaultMinScore picks the active provider's configured relevance floor.
func defaultMinScore(cfg *config.EmbeddingConfig) float64 {
	switch embedding.ModelType(cfg.Provider) {
	case embedding.OpenAI:
		return cfg.OpenAI.MinRelevanceScore
	case embedding.Google:
		return cfg.Google.MinRelevanceScore
	case embedding.Ollama:
		return cfg.Ollama.MinRelevanceScore
	default:
		return 0
	}
}

// IngestFile ingests a file from the local filesystem.
func (m *Manager) IngestFile(ctx context.Context, collectionName, path string) (*models.KnowledgeDocument, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %q: %w", path, err)
	}
	defer file.Close()
	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %q: %w", path, err)
	}
	return m.IngestStream(ctx, collectionName, filepath.Base(path), stat.Size(), file)
}

// IngestStream runs the full pipeline for one uploaded stream and returns
// the document record. On a pipeline failure the returned document carries
// the failed status and the error describes the cause.
func (m *Manager) IngestStream(ctx context.Context, collectionName, fileName string, size int64, r io.Reader) (*models.KnowledgeDocument, error) {
	collection, err := m.prepareCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %q: %w", fileName, err)
	}
	if size <= 0 {
		size = int64(len(data))
	}

	doc := m.newDocument(collection.ID, fileName, size)
	if err := m.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}
	if m.cfg.Knowledge.ArchiveUploads && m.objects != nil {
		m.archiveUpload(ctx, collection.Name, doc, data)
	}

	ingestErr := m.ingest(ctx, collection, doc, data)
	if fresh, err := m.store.GetDocument(ctx, doc.ID); err == nil {
		doc = fresh
	}
	return doc, ingestErr
}

// EnqueueIngest archives the upload, records a pending document and
// publishes an ingestion task for the queue consumer. The archived object is
// the consumer's only copy of the bytes, so archiving here is mandatory.
func (m *Manager) EnqueueIngest(ctx context.Context, collectionName, fileName string, size int64, r io.Reader) (*models.KnowledgeDocument, error) {
	if m.objects == nil || m.publisher == nil {
		return nil, ErrAsyncDisabled
	}
	collection, err := m.prepareCollection(ctx, collectionName)
	if err != nil {
		return nil, err
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload %q: %w", fileName, err)
	}
	if size <= 0 {
		size = int64(len(data))
	}

	doc := m.newDocument(collection.ID, fileName, size)
	doc.ArchivePath = archive.ObjectPath(collection.Name, doc.ID, fileName)
	if err := m.objects.Upload(ctx, doc.ArchivePath, bytes.NewReader(data), size); err != nil {
		return nil, fmt.Errorf("failed to archive upload for asynchronous ingestion: %w", err)
	}
	if err := m.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("failed to create document record: %w", err)
	}

	task := &queue.IngestTask{
		DocumentID:     doc.ID,
		CollectionName: collection.Name,
		ObjectPath:     doc.ArchivePath,
		FileName:       fileName,
	}
	if err := m.publisher.Publish(ctx, task); err != nil {
		return doc, m.failDocument(ctx, doc.ID, fmt.Errorf("failed to publish ingest task: %w", err))
	}
	m.log.WithCollection(collection.Name).WithDocument(doc.ID).Info("Ingest task enqueued")
	return doc, nil
}

// ProcessTask replays an archived upload through the pipeline. Completed
// documents are skipped so queue redelivery stays idempotent.
func (m *Manager) ProcessTask(ctx context.Context, task *queue.IngestTask) error {
	if m.objects == nil {
		return ErrAsyncDisabled
	}
	doc, err := m.store.GetDocument(ctx, task.DocumentID)
	if err != nil {
		return fmt.Errorf("failed to load document %q: %w", task.DocumentID, err)
	}
	if doc.ProcessingStatus == models.DocStatusCompleted {
		return nil
	}
	collection, err := m.store.GetCollection(ctx, doc.CollectionID)
	if err != nil {
		return fmt.Errorf("failed to load collection %q: %w", doc.CollectionID, err)
	}

	rc, err := m.objects.Fetch(ctx, task.ObjectPath)
	if err != nil {
		return m.failDocument(ctx, doc.ID, fmt.Errorf("failed to fetch archived object %q: %w", task.ObjectPath, err))
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return m.failDocument(ctx, doc.ID, fmt.Errorf("failed to read archived object %q: %w", task.ObjectPath, err))
	}
	return m.ingest(ctx, collection, doc, data)
}

// RetryDocument re-embeds the chunks whose vector write never succeeded,
// reusing the recorded chunk rows and their stable ids. A document that was
// never chunked is replayed from its archived original instead.
func (m *Manager) RetryDocument(ctx context.Context, documentID string) error {
	doc, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document %q: %w", documentID, err)
	}
	if doc.ProcessingStatus == models.DocStatusProcessing {
		return fmt.Errorf("document %q: %w", documentID, ErrDocumentProcessing)
	}
	collection, err := m.store.GetCollection(ctx, doc.CollectionID)
	if err != nil {
		return fmt.Errorf("failed to load collection %q: %w", doc.CollectionID, err)
	}
	if collection.Status == models.CollectionStatusDeleting {
		return fmt.Errorf("collection %q: %w", collection.Name, ErrCollectionDeleting)
	}

	all, err := m.store.ListChunksByDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load chunks of %q: %w", documentID, err)
	}
	if len(all) == 0 {
		// The run failed before chunking. Without chunk rows the only way
		// forward is replaying the archived original.
		if doc.ArchivePath == "" || m.objects == nil {
			return fmt.Errorf("document %q has no chunks and no archived original to replay", documentID)
		}
		return m.ProcessTask(ctx, &queue.IngestTask{
			DocumentID:     documentID,
			CollectionName: collection.Name,
			ObjectPath:     doc.ArchivePath,
			FileName:       doc.OriginalFileName,
		})
	}

	pending, err := m.store.ListUnstoredChunks(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load retryable chunks of %q: %w", documentID, err)
	}
	var tokens int64
	for _, chunk := range all {
		tokens += int64(chunk.TokenCount)
	}
	if len(pending) == 0 {
		// Every vector is already stored; only the bookkeeping was missed.
		return m.store.CompleteDocument(ctx, documentID, collection.ID, len(all), tokens)
	}

	if err := m.store.UpdateDocumentStatus(ctx, documentID, models.DocStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}
	if err := m.strategy.EnsureCollection(ctx, collection.Name); err != nil {
		return m.failDocument(ctx, documentID, err)
	}

	records := rowRecords(doc, pending)
	if err := m.embedRecords(ctx, records); err != nil {
		return m.failDocument(ctx, documentID, err)
	}
	if err := m.upsertRecords(ctx, collection.Name, records); err != nil {
		return m.failDocument(ctx, documentID, err)
	}
	if err := m.store.MarkChunksStored(ctx, recordIDs(records)); err != nil {
		return m.failDocument(ctx, documentID, fmt.Errorf("failed to mark chunks stored: %w", err))
	}
	if err := m.store.CompleteDocument(ctx, documentID, collection.ID, len(all), tokens); err != nil {
		return m.failDocument(ctx, documentID, fmt.Errorf("failed to complete document: %w", err))
	}
	m.log.WithCollection(collection.Name).WithDocument(documentID).
		WithPayload(map[string]interface{}{"retried_chunks": len(records)}).
		Info("Document retry completed")
	return nil
}

// Search embeds the query and runs ranked retrieval against the collection.
// Non-positive topK and minScore fall back to the configured defaults.
func (m *Manager) Search(ctx context.Context, collectionName, query string, topK int, minScore float64) ([]vectorstore.SearchResult, error) {
	collection, err := m.store.GetCollectionByName(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection %q: %w", collectionName, err)
	}
	if collection.Status == models.CollectionStatusDeleting {
		return nil, fmt.Errorf("collection %q: %w", collectionName, ErrCollectionDeleting)
	}
	if topK <= 0 {
		topK = m.cfg.Knowledge.DefaultTopK
	}
	if minScore <= 0 {
		minScore = m.minScore
	}

	vector, err := m.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return m.strategy.Search(ctx, collection.Name, vector, topK, minScore)
}

// GetDocument returns the document record.
func (m *Manager) GetDocument(ctx context.Context, documentID string) (*models.KnowledgeDocument, error) {
	return m.store.GetDocument(ctx, documentID)
}

// ListDocuments returns the documents of a collection, newest first.
func (m *Manager) ListDocuments(ctx context.Context, collectionName string) ([]*models.KnowledgeDocument, error) {
	collection, err := m.store.GetCollectionByName(ctx, collectionName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection %q: %w", collectionName, err)
	}
	return m.store.ListDocuments(ctx, collection.ID)
}

// GetCollection returns a collection's record by name.
func (m *Manager) GetCollection(ctx context.Context, collectionName string) (*models.KnowledgeCollection, error) {
	return m.store.GetCollectionByName(ctx, collectionName)
}

// ListCollections returns all collections ordered by name.
func (m *Manager) ListCollections(ctx context.Context) ([]*models.KnowledgeCollection, error) {
	return m.store.ListCollections(ctx)
}

// DeleteDocument removes a document's vectors, metadata and archived
// original. Vectors go first so a failure leaves the metadata intact for
// another attempt.
func (m *Manager) DeleteDocument(ctx context.Context, documentID string) error {
	doc, err := m.store.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("failed to load document %q: %w", documentID, err)
	}
	collection, err := m.store.GetCollection(ctx, doc.CollectionID)
	if err != nil {
		return fmt.Errorf("failed to load collection %q: %w", doc.CollectionID, err)
	}

	if err := m.strategy.DeleteByDocument(ctx, collection.Name, documentID); err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	if err := m.store.DeleteDocument(ctx, documentID); err != nil {
		return fmt.Errorf("failed to delete document metadata: %w", err)
	}
	if doc.ArchivePath != "" && m.objects != nil {
		if err := m.objects.Remove(ctx, doc.ArchivePath); err != nil {
			m.log.WithDocument(documentID).
				WithError(models.ErrorInfo{Message: err.Error()}).
				Warn("Failed to remove archived original")
		}
	}
	m.log.WithCollection(collection.Name).WithDocument(documentID).Info("Document deleted")
	return nil
}

// DeleteCollection tears a collection down: new work is rejected first, then
// the backend index and all vectors go, then the metadata.
func (m *Manager) DeleteCollection(ctx context.Context, collectionName string) error {
	collection, err := m.store.GetCollectionByName(ctx, collectionName)
	if err != nil {
		return fmt.Errorf("failed to resolve collection %q: %w", collectionName, err)
	}
	if err := m.store.MarkCollectionDeleting(ctx, collection.ID); err != nil {
		return fmt.Errorf("failed to mark collection deleting: %w", err)
	}
	if err := m.strategy.DeleteIndex(ctx, collection.Name); err != nil {
		return fmt.Errorf("failed to delete vector index: %w", err)
	}
	if err := m.store.DeleteCollection(ctx, collection.ID); err != nil {
		return fmt.Errorf("failed to delete collection metadata: %w", err)
	}
	m.log.WithCollection(collectionName).Info("Collection deleted")
	return nil
}

// ingest parses, chunks, embeds and stores one document. Failures flip the
// document to failed; a cancelled run leaves it processing so a restart or an
// explicit retry can pick it up again.
func (m *Manager) ingest(ctx context.Context, collection *models.KnowledgeCollection, doc *models.KnowledgeDocument, data []byte) error {
	log := m.log.WithCollection(collection.Name).WithDocument(doc.ID)

	if err := m.store.UpdateDocumentStatus(ctx, doc.ID, models.DocStatusProcessing, ""); err != nil {
		return fmt.Errorf("failed to mark document processing: %w", err)
	}

	// 1. Parse the upload into the normalized document model.
	parsed, err := m.resolver.Parse(doc.OriginalFileName, bytes.NewReader(data))
	if err != nil {
		return m.failDocument(ctx, doc.ID, err)
	}
	if tags := strings.Join(parsed.Tags, ","); tags != "" && tags != doc.Tags {
		doc.Tags = tags
		if err := m.store.SetDocumentTags(ctx, doc.ID, tags); err != nil {
			log.WithError(models.ErrorInfo{Message: err.Error()}).Warn("Failed to record document tags")
		}
	}

	// 2. Split the linearized text into overlapping chunks.
	chunks := m.splitter.Split(doc.ID, parsed.PlainText())
	if len(chunks) == 0 {
		log.Info("Document contains no indexable text")
		if err := m.store.CompleteDocument(ctx, doc.ID, collection.ID, 0, 0); err != nil {
			return m.failDocument(ctx, doc.ID, fmt.Errorf("failed to complete document: %w", err))
		}
		return nil
	}

	// 3. Persist the chunk rows before any vector work, so a failed
	// embedding run leaves retryable rows behind.
	rows := make([]*models.KnowledgeChunk, len(chunks))
	var tokens int64
	for i, chunk := range chunks {
		rows[i] = &models.KnowledgeChunk{
			ID:             chunk.ID,
			CollectionID:   collection.ID,
			DocumentID:     doc.ID,
			ChunkText:      chunk.Text,
			ChunkOrder:     chunk.Order,
			TokenCount:     chunk.TokenCount,
			CharacterCount: chunk.CharacterCount,
		}
		tokens += int64(chunk.TokenCount)
	}
	if err := m.store.CreateChunks(ctx, rows); err != nil {
		return m.failDocument(ctx, doc.ID, fmt.Errorf("failed to persist chunks: %w", err))
	}
	log.WithPayload(map[string]interface{}{"chunks": len(chunks), "tokens": tokens}).
		Info("Document parsed and chunked")

	// 4. Make sure the vector side of the collection exists.
	if err := m.strategy.EnsureCollection(ctx, collection.Name); err != nil {
		return m.failDocument(ctx, doc.ID, err)
	}

	// 5. Embed with bounded concurrency, then upsert.
	records := chunkRecords(doc, parsed.Tags, chunks)
	if err := m.embedRecords(ctx, records); err != nil {
		return m.failDocument(ctx, doc.ID, err)
	}
	if err := m.upsertRecords(ctx, collection.Name, records); err != nil {
		return m.failDocument(ctx, doc.ID, err)
	}

	// 6. All vectors stored; finish the bookkeeping.
	if err := m.store.MarkChunksStored(ctx, recordIDs(records)); err != nil {
		return m.failDocument(ctx, doc.ID, fmt.Errorf("failed to mark chunks stored: %w", err))
	}
	if err := m.store.CompleteDocument(ctx, doc.ID, collection.ID, len(chunks), tokens); err != nil {
		return m.failDocument(ctx, doc.ID, fmt.Errorf("failed to complete document: %w", err))
	}
	log.Info("Document ingestion completed")
	return nil
}

// prepareCollection resolves the target collection, creating it on first
// use, and enforces its embedding model and backend contract.
func (m *Manager) prepareCollection(ctx context.Context, name string) (*models.KnowledgeCollection, error) {
	collection, err := m.store.EnsureCollection(ctx, name, m.info.Model, m.cfg.VectorStore.Provider)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection %q: %w", name, err)
	}
	if collection.Status == models.CollectionStatusDeleting {
		return nil, fmt.Errorf("collection %q: %w", name, ErrCollectionDeleting)
	}
	if collection.EmbeddingModel != m.info.Model {
		return nil, fmt.Errorf("%w: collection %q is bound to embedding model %q, the service embeds with %q",
			ErrCollectionMismatch, name, collection.EmbeddingModel, m.info.Model)
	}
	if collection.VectorStoreBackend != m.cfg.VectorStore.Provider {
		return nil, fmt.Errorf("%w: collection %q lives in vector store %q, the service is configured for %q",
			ErrCollectionMismatch, name, collection.VectorStoreBackend, m.cfg.VectorStore.Provider)
	}
	return collection, nil
}

func (m *Manager) newDocument(collectionID, fileName string, size int64) *models.KnowledgeDocument {
	return &models.KnowledgeDocument{
		ID:               uuid.NewString(),
		CollectionID:     collectionID,
		OriginalFileName: fileName,
		FileSize:         size,
		FileType:         strings.ToLower(filepath.Ext(fileName)),
		ProcessingStatus: models.DocStatusPending,
		UploadedAt:       time.Now(),
	}
}

// archiveUpload stores the original bytes next to the metadata. Archiving is
// best effort on the synchronous path: a failure is logged, never fatal.
func (m *Manager) archiveUpload(ctx context.Context, collectionName string, doc *models.KnowledgeDocument, data []byte) {
	objectPath := archive.ObjectPath(collectionName, doc.ID, doc.OriginalFileName)
	if err := m.objects.Upload(ctx, objectPath, bytes.NewReader(data), int64(len(data))); err != nil {
		m.log.WithDocument(doc.ID).
			WithError(models.ErrorInfo{Message: err.Error()}).
			Warn("Failed to archive original upload")
		return
	}
	doc.ArchivePath = objectPath
	if err := m.store.SetDocumentArchivePath(ctx, doc.ID, objectPath); err != nil {
		m.log.WithDocument(doc.ID).
			WithError(models.ErrorInfo{Message: err.Error()}).
			Warn("Failed to record archive path")
	}
}

// embedRecords fills in the vector of every record, running at most
// maxConcurrency embedding calls at a time. Record order is preserved no
// matter which call finishes first.
func (m *Manager) embedRecords(ctx context.Context, records []vectorstore.ChunkRecord) error {
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(m.maxConcurrency)
	for i := range records {
		eg.Go(func() error {
			vector, err := m.embedder.Embed(gctx, records[i].Text)
			if err != nil {
				return fmt.Errorf("failed to embed chunk %d: %w", records[i].Order, err)
			}
			records[i].Vector = vector
			return nil
		})
	}
	return eg.Wait()
}

// upsertRecords writes the records to the vector store. On a partial failure
// the chunks that did make it are marked stored before the error is
// reported, so a later retry only redoes the failed remainder.
func (m *Manager) upsertRecords(ctx context.Context, collectionName string, records []vectorstore.ChunkRecord) error {
	err := m.strategy.UpsertChunks(ctx, collectionName, records)
	if err == nil {
		return nil
	}
	var upErr *vectorstore.UpsertError
	if errors.As(err, &upErr) {
		var stored []string
		for _, record := range records {
			if _, failed := upErr.Failed[record.ChunkID]; !failed {
				stored = append(stored, record.ChunkID)
			}
		}
		if markErr := m.store.MarkChunksStored(ctx, stored); markErr != nil {
			m.log.WithError(models.ErrorInfo{Message: markErr.Error()}).
				Warn("Failed to mark stored chunks after partial upsert")
		}
	}
	return err
}

// failDocument records a terminal failure and returns the cause. A cancelled
// run is not terminal: the document keeps its processing status so a restart
// or an explicit retry can pick it up, and no status write is attempted with
// a dead context.
func (m *Manager) failDocument(ctx context.Context, documentID string, cause error) error {
	if ctx.Err() != nil {
		return cause
	}
	statusCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := m.store.UpdateDocumentStatus(statusCtx, documentID, models.DocStatusFailed, cause.Error()); err != nil {
		m.log.WithDocument(documentID).
			WithError(models.ErrorInfo{Message: err.Error()}).
			Error("Failed to record failure status")
	}
	m.log.WithDocument(documentID).
		WithError(models.ErrorInfo{Message: cause.Error()}).
		Error("Document ingestion failed")
	return cause
}

// chunkRecords builds the vector store records for freshly split chunks,
// vectors to be filled in by embedRecords.
func chunkRecords(doc *models.KnowledgeDocument, tags []string, chunks []chunker.Chunk) []vectorstore.ChunkRecord {
	records := make([]vectorstore.ChunkRecord, len(chunks))
	for i, chunk := range chunks {
		records[i] = vectorstore.ChunkRecord{
			ChunkID:    chunk.ID,
			DocumentID: doc.ID,
			Order:      chunk.Order,
			Text:       chunk.Text,
			Source:     doc.OriginalFileName,
			Tags:       tags,
		}
	}
	return records
}

// rowRecords builds the vector store records for persisted chunk rows, used
// by retries. Tags come back from the document record because chunk rows do
// not carry them.
func rowRecords(doc *models.KnowledgeDocument, rows []*models.KnowledgeChunk) []vectorstore.ChunkRecord {
	var tags []string
	if doc.Tags != "" {
		tags = strings.Split(doc.Tags, ",")
	}
	records := make([]vectorstore.ChunkRecord, len(rows))
	for i, row := range rows {
		records[i] = vectorstore.ChunkRecord{
			ChunkID:    row.ID,
			DocumentID: doc.ID,
			Order:      row.ChunkOrder,
			Text:       row.ChunkText,
			Source:     doc.OriginalFileName,
			Tags:       tags,
		}
	}
	return records
}

func recordIDs(records []vectorstore.ChunkRecord) []string {
	ids := make([]string, len(records))
	for i, record := range records {
		ids[i] = record.ChunkID
	}
	return ids
}
