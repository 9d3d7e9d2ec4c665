package models

import "time"

// Processing status of a knowledge document, from upload to indexed.
const (
	DocStatusPending    = "pending"
	DocStatusProcessing = "processing"
	DocStatusCompleted  = "completed"
	DocStatusFailed     = "failed"
)

// Collection status values.
const (
	CollectionStatusActive   = "active"
	CollectionStatusDeleting = "deleting"
)

// KnowledgeCollection represents one logical knowledge base. A collection is
// created on first use and its counters are maintained only by the knowledge
// manager, never written by parsers or storage backends.
type KnowledgeCollection struct {
	ID                 string `gorm:"primaryKey;size:36"`
	Name               string `gorm:"uniqueIndex:idx_collection_name;not null;size:255"`
	DocumentCount      int64  `gorm:"not null;default:0"`
	ChunkCount         int64  `gorm:"not null;default:0"`
	TotalTokens        int64  `gorm:"not null;default:0"`
	EmbeddingModel     string `gorm:"not null;size:255"` // fixes the dimensionality contract for the collection
	VectorStoreBackend string `gorm:"not null;size:64"`  // which strategy owns this collection: mongodb | qdrant
	Status             string `gorm:"not null;size:32"`
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// KnowledgeDocument represents one uploaded file within a collection.
type KnowledgeDocument struct {
	ID               string `gorm:"primaryKey;size:36"`
	CollectionID     string `gorm:"index:idx_doc_collection;not null;size:36"`
	OriginalFileName string `gorm:"not null;size:512"`
	FileSize         int64  `gorm:"not null"`
	FileType         string `gorm:"not null;size:16"` // lowercased extension with dot, e.g. ".docx"
	ChunkCount       int    `gorm:"not null;default:0"`
	ProcessingStatus string `gorm:"index:idx_doc_status;not null;size:32"`
	ErrorMessage     string `gorm:"type:text"` // set only when ProcessingStatus is failed
	ArchivePath      string `gorm:"size:512"`  // object path of the archived original, empty when archiving is disabled
	Tags             string `gorm:"size:1024"` // comma-joined document tags, reused when chunks are re-embedded
	UploadedAt       time.Time
	UpdatedAt        time.Time
}

// KnowledgeChunk is the persisted projection of a chunk. VectorStored marks
// whether the embedding write to the vector backend succeeded; a chunk with
// VectorStored=false is retryable, never silently dropped.
type KnowledgeChunk struct {
	ID             string `gorm:"primaryKey;size:36"`
	CollectionID   string `gorm:"index:idx_chunk_collection;not null;size:36"`
	DocumentID     string `gorm:"index:idx_chunk_document;not null;size:36"`
	ChunkText      string `gorm:"type:mediumtext;not null"`
	ChunkOrder     int    `gorm:"not null"` // zero-based, dense within a document
	TokenCount     int    `gorm:"not null"`
	CharacterCount int    `gorm:"not null"`
	VectorStored   bool   `gorm:"not null;default:false"`
	CreatedAt      time.Time
}
