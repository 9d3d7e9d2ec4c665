package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

// vectorStore is the subset of the Redis client the cache relies on.
type vectorStore interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// cachedModel caches embedding vectors in Redis. Lookups that fail for any
// reason fall through to the wrapped model, so a Redis outage degrades to
// uncached embedding instead of failing the ingest.
type cachedModel struct {
	inner    Embedding
	store    vectorStore
	provider string
	model    string
	ttl      time.Duration
}

func newCachedModel(inner Embedding, store vectorStore, provider, model string, ttl time.Duration) *cachedModel {
	return &cachedModel{
		inner:    inner,
		store:    store,
		provider: provider,
		model:    model,
		ttl:      ttl,
	}
}

// cacheKey derives the Redis key for a text. Provider and model are part of
// the hash, so switching models never serves stale vectors.
func cacheKey(provider, model, text string) string {
	sum := sha256.Sum256([]byte(provider + ":" + model + ":" + text))
	return "emb:" + hex.EncodeToString(sum[:])
}

func (c *cachedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(c.provider, c.model, text)
	if vec, ok := c.lookup(ctx, key); ok {
		return vec, nil
	}

	vec, err := c.inner.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.save(ctx, key, vec)
	return vec, nil
}

func (c *cachedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))

	var missIdx []int
	var missTexts []string
	for i, text := range texts {
		if vec, ok := c.lookup(ctx, cacheKey(c.provider, c.model, text)); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	vecs, err := c.inner.EmbedBatch(ctx, missTexts)
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedding batch returned %d vectors for %d inputs", len(vecs), len(missTexts))
	}

	for j, i := range missIdx {
		out[i] = vecs[j]
		c.save(ctx, cacheKey(c.provider, c.model, texts[i]), vecs[j])
	}
	return out, nil
}

func (c *cachedModel) lookup(ctx context.Context, key string) ([]float32, bool) {
	raw, err := c.store.Get(ctx, key).Result()
	if err != nil {
		// redis.Nil means a miss; anything else degrades to the provider.
		return nil, false
	}
	var vec []float32
	if err := json.Unmarshal([]byte(raw), &vec); err != nil {
		return nil, false
	}
	return vec, true
}

// save writes a vector back to the cache on a best effort basis.
func (c *cachedModel) save(ctx context.Context, key string, vec []float32) {
	raw, err := json.Marshal(vec)
	if err != nil {
		return
	}
	c.store.Set(ctx, key, raw, c.ttl)
}
