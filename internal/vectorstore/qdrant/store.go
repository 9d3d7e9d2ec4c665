package qdrant

import (
	"context"
	"fmt"

	qd "github.com/qdrant/go-client/qdrant"

	"Athena/internal/config"
	"Athena/internal/embedding"
	"Athena/internal/vectorstore"
	"Athena/pkg/httpclient"
	"Athena/pkg/logger"
)

// Payload keys of a chunk point.
const (
	payloadChunkID    = "chunk_id"
	payloadDocumentID = "document_id"
	payloadOrder      = "chunk_order"
	payloadText       = "text"
	payloadSource     = "source"
	payloadTags       = "tags"
)

// Store implements the full vector store contract on the native client, with
// the embedded IndexManager handling collection lifecycle.
type Store struct {
	*IndexManager
	api    API
	cfg    config.QdrantConfig
	info   embedding.Info
	log    *logger.Logger
	ensure vectorstore.EnsureGroup
}

var _ vectorstore.Strategy = (*Store)(nil)

// NewStore wires the lifecycle manager and the data plane around one native
// client.
func NewStore(api API, restClient *httpclient.Client, cfg config.QdrantConfig, info embedding.Info, log *logger.Logger) *Store {
	return &Store{
		IndexManager: NewIndexManager(api, restClient, cfg),
		api:          api,
		cfg:          cfg,
		info:         info,
		log:          log,
	}
}

// EnsureCollection creates the collection unless it already exists.
// Concurrent calls for the same collection collapse into one check.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	return s.ensure.Do(collection, func() error {
		exists, err := s.IndexExists(ctx, collection)
		if err != nil {
			return err
		}
		if exists {
			return nil
		}
		s.log.WithCollection(collection).Info("creating qdrant collection")
		return s.CreateIndex(ctx, collection)
	})
}

// UpsertChunks writes points keyed by chunk id. Vector dimensions are
// validated up front so a misconfigured embedding model never reaches the
// collection. Failures on individual chunks do not stop the batch.
func (s *Store) UpsertChunks(ctx context.Context, collection string, records []vectorstore.ChunkRecord) error {
	if len(records) == 0 {
		return nil
	}
	if err := vectorstore.ValidateDimensions(records, s.info.Provider, s.info.Model, s.cfg.VectorSize); err != nil {
		return err
	}

	failed := make(map[string]error)
	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return err
		}
		point := &qd.PointStruct{
			Id:      qd.NewID(record.ChunkID),
			Vectors: qd.NewVectors(record.Vector...),
			Payload: chunkPayload(record),
		}
		_, err := s.api.Upsert(ctx, &qd.UpsertPoints{
			CollectionName: collection,
			Points:         []*qd.PointStruct{point},
			Wait:           qd.PtrOf(true),
		})
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

// Search queries the collection and ranks the hits by score, ties broken by
// chunk order. The score threshold is pushed down to the server as well.
func (s *Store) Search(ctx context.Context, collection string, vector []float32, topK int, minScore float64) ([]vectorstore.SearchResult, error) {
	if topK <= 0 {
		return nil, nil
	}

	points, err := s.api.Query(ctx, &qd.QueryPoints{
		CollectionName: collection,
		Query:          qd.NewQuery(vector...),
		Limit:          qd.PtrOf(uint64(topK)),
		ScoreThreshold: qd.PtrOf(float32(minScore)),
		WithPayload:    qd.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query collection %q: %w", collection, err)
	}

	results := make([]vectorstore.SearchResult, 0, len(points))
	for _, point := range points {
		results = append(results, resultFromPoint(point))
	}
	return vectorstore.RankResults(results, topK, minScore), nil
}

// DeleteByDocument removes every point belonging to one source document.
func (s *Store) DeleteByDocument(ctx context.Context, collection, documentID string) error {
	filter := &qd.Filter{
		Must: []*qd.Condition{qd.NewMatch(payloadDocumentID, documentID)},
	}
	_, err := s.api.Delete(ctx, &qd.DeletePoints{
		CollectionName: collection,
		Points: &qd.PointsSelector{
			PointsSelectorOneOf: &qd.PointsSelector_Filter{Filter: filter},
		},
		Wait: qd.PtrOf(true),
	})
	if err != nil {
		return fmt.Errorf("failed to delete points of document %q: %w", documentID, err)
	}
	return nil
}

// chunkPayload flattens a record into the point payload.
func chunkPayload(record vectorstore.ChunkRecord) map[string]*qd.Value {
	payload := map[string]interface{}{
		payloadChunkID:    record.ChunkID,
		payloadDocumentID: record.DocumentID,
		payloadOrder:      int64(record.Order),
		payloadText:       record.Text,
		payloadSource:     record.Source,
	}
	if len(record.Tags) > 0 {
		tags := make([]interface{}, len(record.Tags))
		for i, tag := range record.Tags {
			tags[i] = tag
		}
		payload[payloadTags] = tags
	}
	return qd.NewValueMap(payload)
}

// resultFromPoint maps a scored point back onto the contract's result type.
// The point id doubles as the chunk id when the payload omits it.
func resultFromPoint(point *qd.ScoredPoint) vectorstore.SearchResult {
	result := vectorstore.SearchResult{
		ChunkID: point.GetId().GetUuid(),
		Score:   float64(point.GetScore()),
	}
	payload := point.GetPayload()
	if v, ok := payload[payloadChunkID]; ok && v.GetStringValue() != "" {
		result.ChunkID = v.GetStringValue()
	}
	if v, ok := payload[payloadDocumentID]; ok {
		result.DocumentID = v.GetStringValue()
	}
	if v, ok := payload[payloadOrder]; ok {
		result.Order = int(v.GetIntegerValue())
	}
	if v, ok := payload[payloadText]; ok {
		result.Text = v.GetStringValue()
	}
	if v, ok := payload[payloadSource]; ok {
		result.Source = v.GetStringValue()
	}
	return result
}
