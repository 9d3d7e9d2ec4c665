package embedding

import (
	"context"

	"Athena/pkg/ratelimiter"
)

// limitedModel paces provider calls through a blocking rate limiter. A batch
// is a single provider request, so it consumes a single slot.
type limitedModel struct {
	inner   Embedding
	limiter ratelimiter.RateLimiter
}

func (m *limitedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.inner.Embed(ctx, text)
}

func (m *limitedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := m.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return m.inner.EmbedBatch(ctx, texts)
}

// truncatedModel cuts oversized inputs before they reach the provider, using
// the same four-characters-per-token heuristic the chunker counts with.
type truncatedModel struct {
	inner     Embedding
	maxTokens int
}

func (m *truncatedModel) Embed(ctx context.Context, text string) ([]float32, error) {
	return m.inner.Embed(ctx, truncateTokens(text, m.maxTokens))
}

func (m *truncatedModel) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	trimmed := make([]string, len(texts))
	for i, text := range texts {
		trimmed[i] = truncateTokens(text, m.maxTokens)
	}
	return m.inner.EmbedBatch(ctx, trimmed)
}

func truncateTokens(text string, maxTokens int) string {
	limit := maxTokens * 4
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit])
}
