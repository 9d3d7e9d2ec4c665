// Package dal provides data access methods for knowledge collections,
// documents and chunks. Vector payloads live in the vector store; this layer
// tracks metadata, lifecycle status and collection counters.
package dal

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"Athena/internal/models"
)

// KnowledgeDAL provides data access methods for the knowledge pipeline.
type KnowledgeDAL struct {
	db *gorm.DB
}

// NewKnowledgeDAL creates a new KnowledgeDAL.
func NewKnowledgeDAL(db *gorm.DB) *KnowledgeDAL {
	return &KnowledgeDAL{db: db}
}

// AutoMigrate creates or updates the knowledge tables.
func (dal *KnowledgeDAL) AutoMigrate() error {
	return dal.db.AutoMigrate(
		&models.KnowledgeCollection{},
		&models.KnowledgeDocument{},
		&models.KnowledgeChunk{},
	)
}

// EnsureCollection returns the collection with the given name, creating it
// on first use. The embedding model and backend recorded at creation fix the
// collection's dimensionality contract for its whole lifetime.
func (dal *KnowledgeDAL) EnsureCollection(ctx context.Context, name, embeddingModel, backend string) (*models.KnowledgeCollection, error) {
	var collection models.KnowledgeCollection
	err := dal.db.WithContext(ctx).Where("name = ?", name).First(&collection).Error
	if err == nil {
		return &collection, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}

	collection = models.KnowledgeCollection{
		ID:                 uuid.NewString(),
		Name:               name,
		EmbeddingModel:     embeddingModel,
		VectorStoreBackend: backend,
		Status:             models.CollectionStatusActive,
	}
	if err := dal.db.WithContext(ctx).Create(&collection).Error; err != nil {
		// Lost a race against a concurrent creator; the existing row wins.
		var existing models.KnowledgeCollection
		if readErr := dal.db.WithContext(ctx).Where("name = ?", name).First(&existing).Error; readErr == nil {
			return &existing, nil
		}
		return nil, err
	}
	return &collection, nil
}

// GetCollection retrieves a collection by its ID.
func (dal *KnowledgeDAL) GetCollection(ctx context.Context, id string) (*models.KnowledgeCollection, error) {
	var collection models.KnowledgeCollection
	if err := dal.db.WithContext(ctx).First(&collection, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &collection, nil
}

// GetCollectionByName retrieves a collection by its unique name.
func (dal *KnowledgeDAL) GetCollectionByName(ctx context.Context, name string) (*models.KnowledgeCollection, error) {
	var collection models.KnowledgeCollection
	if err := dal.db.WithContext(ctx).Where("name = ?", name).First(&collection).Error; err != nil {
		return nil, err
	}
	return &collection, nil
}

// ListCollections retrieves all collections ordered by name.
func (dal *KnowledgeDAL) ListCollections(ctx context.Context) ([]*models.KnowledgeCollection, error) {
	var collections []*models.KnowledgeCollection
	if err := dal.db.WithContext(ctx).Order("name ASC").Find(&collections).Error; err != nil {
		return nil, err
	}
	return collections, nil
}

// MarkCollectionDeleting flips the collection into the deleting state so new
// ingestion requests are rejected while the backend cleanup runs.
func (dal *KnowledgeDAL) MarkCollectionDeleting(ctx context.Context, id string) error {
	return dal.db.WithContext(ctx).Model(&models.KnowledgeCollection{}).
		Where("id = ?", id).
		Update("status", models.CollectionStatusDeleting).Error
}

// DeleteCollection removes the collection row together with all of its
// documents and chunks.
func (dal *KnowledgeDAL) DeleteCollection(ctx context.Context, id string) error {
	return dal.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("collection_id = ?", id).Delete(&models.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("collection_id = ?", id).Delete(&models.KnowledgeDocument{}).Error; err != nil {
			return err
		}
		result := tx.Where("id = ?", id).Delete(&models.KnowledgeCollection{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return nil
	})
}

// CreateDocument inserts a new document record.
func (dal *KnowledgeDAL) CreateDocument(ctx context.Context, doc *models.KnowledgeDocument) error {
	return dal.db.WithContext(ctx).Create(doc).Error
}

// GetDocument retrieves a document by its ID.
func (dal *KnowledgeDAL) GetDocument(ctx context.Context, id string) (*models.KnowledgeDocument, error) {
	var doc models.KnowledgeDocument
	if err := dal.db.WithContext(ctx).First(&doc, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}

// ListDocuments retrieves all documents of a collection, newest first.
func (dal *KnowledgeDAL) ListDocuments(ctx context.Context, collectionID string) ([]*models.KnowledgeDocument, error) {
	var docs []*models.KnowledgeDocument
	err := dal.db.WithContext(ctx).
		Where("collection_id = ?", collectionID).
		Order("uploaded_at DESC").
		Find(&docs).Error
	if err != nil {
		return nil, err
	}
	return docs, nil
}

// UpdateDocumentStatus sets the processing status. The error message is
// stored alongside a failed status and cleared on any other transition.
func (dal *KnowledgeDAL) UpdateDocumentStatus(ctx context.Context, id, status, errorMessage string) error {
	if status != models.DocStatusFailed {
		errorMessage = ""
	}
	return dal.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"processing_status": status,
			"error_message":     errorMessage,
		}).Error
}

// SetDocumentArchivePath records where the original upload was archived.
func (dal *KnowledgeDAL) SetDocumentArchivePath(ctx context.Context, id, path string) error {
	return dal.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("id = ?", id).
		Update("archive_path", path).Error
}

// SetDocumentTags records the tags extracted while parsing. They are only
// known after the parse step, so they cannot be written at creation time.
func (dal *KnowledgeDAL) SetDocumentTags(ctx context.Context, id, tags string) error {
	return dal.db.WithContext(ctx).Model(&models.KnowledgeDocument{}).
		Where("id = ?", id).
		Update("tags", tags).Error
}

// CompleteDocument marks a document as completed and folds its chunk and
// token counts into the collection counters. A document that is already
// completed is left untouched, so a repeated call cannot double count.
func (dal *KnowledgeDAL) CompleteDocument(ctx context.Context, documentID, collectionID string, chunks int, tokens int64) error {
	return dal.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.KnowledgeDocument{}).
			Where("id = ? AND processing_status <> ?", documentID, models.DocStatusCompleted).
			Updates(map[string]interface{}{
				"processing_status": models.DocStatusCompleted,
				"chunk_count":       chunks,
				"error_message":     "",
			})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		return tx.Model(&models.KnowledgeCollection{}).
			Where("id = ?", collectionID).
			Updates(map[string]interface{}{
				"document_count": gorm.Expr("document_count + ?", 1),
				"chunk_count":    gorm.Expr("chunk_count + ?", chunks),
				"total_tokens":   gorm.Expr("total_tokens + ?", tokens),
			}).Error
	})
}

// DeleteDocument removes a document and its chunks, reversing the document's
// contribution to the collection counters.
func (dal *KnowledgeDAL) DeleteDocument(ctx context.Context, documentID string) error {
	return dal.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doc models.KnowledgeDocument
		if err := tx.First(&doc, "id = ?", documentID).Error; err != nil {
			return err
		}

		var agg struct {
			Chunks int64
			Tokens int64
		}
		err := tx.Model(&models.KnowledgeChunk{}).
			Select("COUNT(*) AS chunks, COALESCE(SUM(token_count), 0) AS tokens").
			Where("document_id = ?", documentID).
			Scan(&agg).Error
		if err != nil {
			return err
		}

		if err := tx.Where("document_id = ?", documentID).Delete(&models.KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Delete(&models.KnowledgeDocument{}, "id = ?", documentID).Error; err != nil {
			return err
		}

		counters := map[string]interface{}{
			"chunk_count":  gorm.Expr("chunk_count - ?", agg.Chunks),
			"total_tokens": gorm.Expr("total_tokens - ?", agg.Tokens),
		}
		if doc.ProcessingStatus == models.DocStatusCompleted {
			counters["document_count"] = gorm.Expr("document_count - ?", 1)
		}
		return tx.Model(&models.KnowledgeCollection{}).
			Where("id = ?", doc.CollectionID).
			Updates(counters).Error
	})
}

// CreateChunks inserts chunk records in batches.
func (dal *KnowledgeDAL) CreateChunks(ctx context.Context, chunks []*models.KnowledgeChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	return dal.db.WithContext(ctx).CreateInBatches(chunks, 100).Error
}

// MarkChunksStored flags the given chunks as present in the vector store.
func (dal *KnowledgeDAL) MarkChunksStored(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	return dal.db.WithContext(ctx).Model(&models.KnowledgeChunk{}).
		Where("id IN ?", ids).
		Update("vector_stored", true).Error
}

// ListChunksByDocument retrieves all chunks of a document in chunk order.
func (dal *KnowledgeDAL) ListChunksByDocument(ctx context.Context, documentID string) ([]*models.KnowledgeChunk, error) {
	var chunks []*models.KnowledgeChunk
	err := dal.db.WithContext(ctx).
		Where("document_id = ?", documentID).
		Order("chunk_order ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// ListUnstoredChunks retrieves the chunks of a document whose vector write
// has not succeeded yet, in chunk order. These are the retry candidates.
func (dal *KnowledgeDAL) ListUnstoredChunks(ctx context.Context, documentID string) ([]*models.KnowledgeChunk, error) {
	var chunks []*models.KnowledgeChunk
	err := dal.db.WithContext(ctx).
		Where("document_id = ? AND vector_stored = ?", documentID, false).
		Order("chunk_order ASC").
		Find(&chunks).Error
	if err != nil {
		return nil, err
	}
	return chunks, nil
}
