package vectorstore

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
	"ragcompare/backend/go/pkg/logger"
)

const (
	// Hash fields of a stored chunk.
	FieldContent    = "content"
	FieldDocumentID = "document_id"
	FieldOffset     = "offset"
	FieldOrdinal    = "ordinal"
	FieldPage       = "page"
	FieldChunkID    = "chunk_id"
	FieldVector     = "content_vector"
	FieldDistance   = "vector_distance"
)

// returnFields are the hash fields FT.SEARCH sends back for each hit.
var returnFields = []string{FieldChunkID, FieldContent, FieldDocumentID, FieldOffset, FieldOrdinal, FieldPage, FieldDistance}

// RedisStore stores chunks as Redis hashes indexed by RediSearch with a FLAT cosine vector field.
type RedisStore struct {
	log    *logger.Logger
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a RediSearch-backed VectorStore. Chunk keys are "<prefix>:<index>:<ordinal>".
func NewRedisStore(client redis.UniversalClient, keyPrefix string, log *logger.Logger) (*RedisStore, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is not initialized")
	}
	if keyPrefix == "" {
		keyPrefix = "doc"
	}
	return &RedisStore{log: log, client: client, prefix: keyPrefix}, nil
}

func (s *RedisStore) keyPrefix(index string) string {
	return fmt.Sprintf("%s:%s:", s.prefix, index)
}

func (s *RedisStore) key(index string, ordinal int) string {
	return s.keyPrefix(index) + strconv.Itoa(ordinal)
}

func createArgs(sc schema.IndexSchema, keyPrefix string) []interface{} {
	metric := sc.Metric
	if metric == "" {
		metric = schema.MetricCosine
	}
	return []interface{}{
		"FT.CREATE", sc.Name, "ON", "HASH", "PREFIX", 1, keyPrefix,
		"SCHEMA",
		FieldContent, "TEXT",
		FieldDocumentID, "TAG",
		FieldOffset, "NUMERIC",
		FieldOrdinal, "NUMERIC",
		FieldPage, "NUMERIC",
		FieldVector, "VECTOR", "FLAT", 6, "TYPE", "FLOAT32", "DIM", sc.Dimension, "DISTANCE_METRIC", metric,
	}
}

func searchArgs(index string, vec []float32, k int) []interface{} {
	args := []interface{}{
		"FT.SEARCH", index,
		fmt.Sprintf("*=>[KNN %d @%s $vec AS %s]", k, FieldVector, FieldDistance),
		"PARAMS", 2, "vec", EncodeVector(vec),
		"SORTBY", FieldDistance, "ASC",
		"RETURN", len(returnFields),
	}
	for _, f := range returnFields {
		args = append(args, f)
	}
	return append(args, "DIALECT", 2, "LIMIT", 0, k)
}

// CreateIndex issues FT.CREATE. An index that already exists is an input error.
func (s *RedisStore) CreateIndex(ctx context.Context, sc schema.IndexSchema) error {
	if sc.Dimension <= 0 {
		return apperr.New(apperr.KindInput, "index %s: dimension must be positive", sc.Name)
	}
	prefix := sc.Prefix
	if prefix == "" {
		prefix = s.keyPrefix(sc.Name)
	}
	s.log.Info(fmt.Sprintf("Creating RediSearch index %s (dim=%d)", sc.Name, sc.Dimension))
	if err := s.client.Do(ctx, createArgs(sc, prefix)...).Err(); err != nil {
		if strings.Contains(strings.ToLower(err.Error()), "already exists") {
			return apperr.New(apperr.KindInput, "index %s already exists", sc.Name)
		}
		s.log.Error(fmt.Sprintf("Failed to create index %s: %v", sc.Name, err))
		return apperr.Wrap(apperr.KindRetrieval, err, "create index %s", sc.Name)
	}
	return nil
}

// Upsert writes each chunk as one hash in a single pipeline.
func (s *RedisStore) Upsert(ctx context.Context, index string, chunks []*schema.Chunk) error {
	ok, err := s.Exists(ctx, index)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.New(apperr.KindIndexNotFound, "index %s not found", index)
	}
	if len(chunks) == 0 {
		return nil
	}

	s.log.Info(fmt.Sprintf("Writing %d chunks into RediSearch index %s", len(chunks), index))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, c := range chunks {
			pipe.HSet(ctx, s.key(index, c.Ordinal),
				FieldChunkID, c.ID,
				FieldContent, c.Text,
				FieldDocumentID, c.DocumentID,
				FieldOffset, c.Offset,
				FieldOrdinal, c.Ordinal,
				FieldPage, c.Page,
				FieldVector, EncodeVector(c.Embedding),
			)
		}
		return nil
	})
	if err != nil {
		s.log.Error(fmt.Sprintf("Failed to write chunks into %s: %v", index, err))
		return apperr.Wrap(apperr.KindRetrieval, err, "write chunks into %s", index)
	}
	return nil
}

// Query runs a KNN search. Hits come back closest first, ties in ordinal order.
func (s *RedisStore) Query(ctx context.Context, index string, vec []float32, k int) ([]schema.ScoredChunk, error) {
	if k <= 0 {
		ok, err := s.Exists(ctx, index)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperr.New(apperr.KindIndexNotFound, "index %s not found", index)
		}
		return []schema.ScoredChunk{}, nil
	}

	reply, err := s.client.Do(ctx, searchArgs(index, vec, k)...).Result()
	if err != nil {
		return nil, s.classify(err, index)
	}
	hits, err := parseSearchReply(reply, index)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindRetrieval, err, "parse search reply of %s", index)
	}
	return hits, nil
}

// Exists uses FT.INFO to check for the index.
func (s *RedisStore) Exists(ctx context.Context, index string) (bool, error) {
	err := s.client.Do(ctx, "FT.INFO", index).Err()
	if err == nil {
		return true, nil
	}
	if isUnknownIndex(err) {
		return false, nil
	}
	return false, apperr.Wrap(apperr.KindRetrieval, err, "inspect index %s", index)
}

// Drop removes the index and its hashes. Dropping an unknown index is a no-op.
func (s *RedisStore) Drop(ctx context.Context, index string) error {
	err := s.client.Do(ctx, "FT.DROPINDEX", index, "DD").Err()
	if err == nil || isUnknownIndex(err) {
		return nil
	}
	s.log.Warn(fmt.Sprintf("Failed to drop index %s: %v", index, err))
	return apperr.Wrap(apperr.KindRetrieval, err, "drop index %s", index)
}

func (s *RedisStore) classify(err error, index string) error {
	if isUnknownIndex(err) {
		return apperr.New(apperr.KindIndexNotFound, "index %s not found", index)
	}
	s.log.Error(fmt.Sprintf("Failed to search index %s: %v", index, err))
	return apperr.Wrap(apperr.KindRetrieval, err, "search index %s", index)
}

func isUnknownIndex(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "unknown index") || strings.Contains(msg, "no such index")
}

// parseSearchReply decodes the RESP2 reply [total, key, [field, value, ...], key, ...].
func parseSearchReply(reply interface{}, index string) ([]schema.ScoredChunk, error) {
	items, ok := reply.([]interface{})
	if !ok || len(items) == 0 {
		return nil, fmt.Errorf("unexpected reply type %T", reply)
	}
	if (len(items)-1)%2 != 0 {
		return nil, fmt.Errorf("unexpected reply length %d", len(items))
	}

	hits := make([]schema.ScoredChunk, 0, (len(items)-1)/2)
	for i := 1; i < len(items); i += 2 {
		fields, ok := items[i+1].([]interface{})
		if !ok || len(fields)%2 != 0 {
			return nil, fmt.Errorf("unexpected fields of %v", items[i])
		}
		values := make(map[string]string, len(fields)/2)
		for j := 0; j < len(fields); j += 2 {
			values[fmt.Sprint(fields[j])] = fmt.Sprint(fields[j+1])
		}

		hit := schema.ScoredChunk{}
		hit.IndexName = index
		hit.ID = values[FieldChunkID]
		hit.Text = values[FieldContent]
		hit.DocumentID = values[FieldDocumentID]
		var err error
		if hit.Offset, err = atoi(values, FieldOffset); err != nil {
			return nil, err
		}
		if hit.Ordinal, err = atoi(values, FieldOrdinal); err != nil {
			return nil, err
		}
		if hit.Page, err = atoi(values, FieldPage); err != nil {
			return nil, err
		}
		distance, err := strconv.ParseFloat(values[FieldDistance], 64)
		if err != nil {
			return nil, fmt.Errorf("field %s: %w", FieldDistance, err)
		}
		hit.Score = 1 - distance
		if hit.ID == "" {
			hit.ID = schema.ChunkID(index, hit.Ordinal)
		}
		hits = append(hits, hit)
	}
	sortHits(hits)
	return hits, nil
}

func atoi(values map[string]string, field string) (int, error) {
	v, err := strconv.Atoi(values[field])
	if err != nil {
		return 0, fmt.Errorf("field %s: %w", field, err)
	}
	return v, nil
}

// compile-time check to ensure RedisStore implements the VectorStore interface
var _ interfaces.VectorStore = (*RedisStore)(nil)
