package embedding

import (
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"Athena/internal/config"
	"Athena/pkg/ratelimiter"
)

// NewModel 根据配置创建并返回一个 Embedding 模型实例。
//
// 工厂按配置依次套上装饰器: 限流器控制提供商调用频率, Redis 缓存复用已生成
// 的向量, token 截断保护提供商的单次调用上限。cache 为 nil 时跳过缓存层。
//
// 返回值:
//
//	Embedding: 装饰后的 Embedding 模型实例。
//	Info: 激活模型的描述信息, 供向量维度校验时报错使用。
//	error: 如果提供商不支持或模型初始化失败, 则返回错误。
func NewModel(cfg *config.EmbeddingConfig, cache *redis.Client) (Embedding, Info, error) {
	var (
		model    Embedding
		provider config.ProviderConfig
		err      error
	)

	// 根据提供商类型创建相应的 Embedding 模型实例。
	switch ModelType(cfg.Provider) {
	case OpenAI:
		provider = cfg.OpenAI
		model, err = NewOpenAIModel(provider.APIKey, provider.Model, provider.BaseURL)
	case Ollama:
		provider = cfg.Ollama
		model, err = NewOllamaModel(provider.Model, provider.BaseURL)
	case Google:
		provider = cfg.Google
		model, err = NewGoogleModel(provider.APIKey, provider.Model)
	default:
		return nil, Info{}, fmt.Errorf("unsupported provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, Info{}, err
	}

	if cfg.RateLimiter.Enabled {
		model = &limitedModel{inner: model, limiter: newLimiter(cfg.RateLimiter)}
	}
	if cfg.Cache.Enabled && cache != nil {
		ttl := time.Duration(cfg.Cache.TTLSeconds) * time.Second
		model = newCachedModel(model, cache, cfg.Provider, provider.Model, ttl)
	}
	if provider.MaxTokens > 0 {
		model = &truncatedModel{inner: model, maxTokens: provider.MaxTokens}
	}

	info := Info{
		Provider:   cfg.Provider,
		Model:      provider.Model,
		Dimensions: provider.Dimensions,
	}
	return model, info, nil
}

func newLimiter(cfg config.RateLimiterConfig) ratelimiter.RateLimiter {
	if cfg.Algorithm == "leakyBucket" {
		return ratelimiter.NewLeakyBucket(cfg.LeakyBucket.Rate, cfg.LeakyBucket.Capacity)
	}
	return ratelimiter.NewTokenBucket(cfg.TokenBucket.Rate, cfg.TokenBucket.Capacity)
}
