package mongodb

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"Athena/internal/config"
	"Athena/internal/embedding"
	"Athena/internal/vectorstore"
	"Athena/pkg/logger"
)

// Field names of a chunk document in the vector collection.
const (
	fieldID         = "_id"
	fieldDocumentID = "document_id"
	fieldOrder      = "chunk_order"
	fieldText       = "text"
	fieldSource     = "source"
	fieldTags       = "tags"
	fieldScore      = "score"
)

// Store implements the full vector store contract: the embedded IndexManager
// drives the control plane, the MongoDB driver carries chunk documents and
// runs knnBeta search against the index.
type Store struct {
	*IndexManager
	db     *mongo.Database
	cfg    config.AtlasConfig
	info   embedding.Info
	log    *logger.Logger
	ensure vectorstore.EnsureGroup
}

var _ vectorstore.Strategy = (*Store)(nil)

// NewStore wires the control plane manager and the data plane client
// together. The database name comes from the Atlas configuration.
func NewStore(manager *IndexManager, client *mongo.Client, cfg config.AtlasConfig, info embedding.Info, log *logger.Logger) (*Store, error) {
	if manager == nil || client == nil {
		return nil, fmt.Errorf("mongodb store requires an index manager and a client")
	}
	return &Store{
		IndexManager: manager,
		db:           client.Database(cfg.Database),
		cfg:          cfg,
		info:         info,
		log:          log,
	}, nil
}

// EnsureCollection creates the collection's search index unless it already
// exists. Concurrent calls for the same collection collapse into one check.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	return s.ensure.Do(collection, func() error {
		exists, err := s.IndexExists(ctx, collection)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		s.log.WithCollection(collection).Info("creating search index")
		return s.CreateIndex(ctx, collection)
	})
}

// UpsertChunks writes chunk documents keyed by chunk id. Vector dimensions
// are validated up front so a misconfigured embedding model never reaches
// the index. Failures on individual chunks do not stop the batch.
func (s *Store) UpsertChunks(ctx context.Context, collection string, records []vectorstore.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := vectorstore.ValidateDimensions(records, s.info.Provider, s.info.Model, s.cfg.Dimensions); err != nil {
		return err
	}

	coll := s.db.Collection(s.collectionName(collection))
	failed := make(map[string]error)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		doc := bson.M{
			fieldID:           record.ChunkID,
			fieldDocumentID:   record.DocumentID,
			fieldOrder:        record.Order,
			fieldText:         record.Text,
			fieldSource:       record.Source,
			fieldTags:         record.Tags,
			s.cfg.VectorField: record.Vector,
		}
		_, err := coll.ReplaceOne(ctx, bson.M{fieldID: record.ChunkID}, doc, options.Replace().SetUpsert(true))
		if err != nil {
			failed[record.ChunkID] = err
		}
	}
	if len(failed) > 0 {
		return &vectorstore.UpsertError{Failed: failed}
	}

	s.log.WithCollection(collection).WithPayload(map[string]interface{}{"chunks": len(records)}).
		Debug("upserted chunk vectors")
	return nil
}

// Search runs a knnBeta query and ranks the hits by score, ties broken by
// chunk order.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	cursor, err := s.db.Collection(s.collectionName(collection)).
		Aggregate(ctx, searchPipeline(s.cfg.IndexName, s.cfg.VectorField, vector, topK))
	if err != nil {
		return nil, fmt.Errorf("failed to run vector search: %w", err)
	}
	defer cursor.Close(ctx)

	var hits []searchHit
	if err := cursor.All(ctx, &hits); err != nil {
		return nil, fmt.Errorf("failed to decode search results: %w", err)
	}

	results := make([]vectorstore.SearchResult, 0, len(hits))
	for _, hit := range hits {
		results = append(results, vectorstore.SearchResult{
			ChunkID:    hit.ID,
			DocumentID: hit.DocumentID,
			Order:      hit.Order,
			Text:       hit.Text,
			Source:     hit.Source,
			Score:      hit.Score,
		})
	}
	return vectorstore.RankResults(results, topK, minScore), nil
}

// DeleteByDocument removes every chunk document belonging to one source
// document.
func (s *Store) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	_, err := s.db.Collection(s.collectionName(collection)).
		DeleteMany(ctx, bson.M{fieldDocumentID: documentID})
	if err != nil {
		return fmt.Errorf("failed to delete document vectors: %w", err)
	}
	return nil
}

// DeleteIndex removes the search index and then drops the chunk documents,
// so deleting a collection releases both the index and its storage.
func (s *Store) DeleteIndex(ctx context.Context, collection string) error {
	if err := s.IndexManager.DeleteIndex(ctx, collection); err != nil {
		return err
	}
	if err := s.db.Collection(s.collectionName(collection)).Drop(ctx); err != nil {
		return fmt.Errorf("failed to drop collection data: %w", err)
	}
	return nil
}

// searchHit mirrors the $project stage of the search pipeline.
type searchHit struct {
	ID         string  `bson:"_id"`
	DocumentID string  `bson:"document_id"`
	Order      int     `bson:"chunk_order"`
	Text       string  `bson:"text"`
	Source     string  `bson:"source"`
	Score      float64 `bson:"score"`
}

// searchPipeline builds the knnBeta aggregation for a query vector.
func searchPipeline(indexName, vectorField string, vector []float32, k int) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$search", Value: bson.D{
			{Key: "index", Value: indexName},
			{Key: "knnBeta", Value: bson.D{
				{Key: "vector", Value: vector},
				{Key: "path", Value: vectorField},
				{Key: "k", Value: k},
			}},
		}}},
		{{Key: "$project", Value: bson.D{
			{Key: fieldDocumentID, Value: 1},
			{Key: fieldOrder, Value: 1},
			{Key: fieldText, Value: 1},
			{Key: fieldSource, Value: 1},
			{Key: fieldScore, Value: bson.D{{Key: "$meta", Value: "searchScore"}}},
		}}},
	}
}
