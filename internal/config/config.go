package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppInfo 对应 'app' 部分，包含应用程序的基本信息。
type AppInfo struct {
	Name        string `yaml:"name"`        // 应用程序名称
	Version     string `yaml:"version"`     // 应用程序版本
	Environment string `yaml:"environment"` // 运行环境 (例如: "development", "production")
}

// LoggerConfig 定义了日志记录器的配置。
type LoggerConfig struct {
	Level string `yaml:"level"` // 日志级别 (例如: "info", "debug", "warn", "error")
}

// ServerConfig 定义了 HTTP 服务的配置。
type ServerConfig struct {
	Port int `yaml:"port"` // HTTP 监听端口
}

// MySQLConfig 定义了 MySQL 数据库的连接配置。
type MySQLConfig struct {
	Address         string `yaml:"address"`         // MySQL 服务器地址
	Username        string `yaml:"username"`        // 用户名
	Password        string `yaml:"password"`        // 密码
	Database        string `yaml:"database"`        // 数据库名称
	MaxOpenConns    int    `yaml:"maxOpenConns"`    // 最大打开连接数
	MaxIdleConns    int    `yaml:"maxIdleConns"`    // 最大空闲连接数
	ConnMaxLifetime int    `yaml:"connMaxLifetime"` // 连接最大生命周期 (秒)
}

// MongoConfig 定义了 MongoDB 数据平面的连接配置。
type MongoConfig struct {
	Address  string `yaml:"address"`  // MongoDB 服务器地址 (mongodb:// 或 mongodb+srv:// URI)
	Username string `yaml:"username"` // 用户名
	Password string `yaml:"password"` // 密码
	Database string `yaml:"database"` // 数据库名称
}

// RedisConfig 定义了 Redis 数据库的连接配置。
type RedisConfig struct {
	Address  string `yaml:"address"`  // Redis 服务器地址 (例如: "localhost:6379")
	Password string `yaml:"password"` // Redis 密码
	DB       int    `yaml:"db"`       // Redis 数据库编号
}

// MinIOConfig 定义了 MinIO 对象存储的连接配置。
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`  // MinIO 服务端点
	AccessKey string `yaml:"accessKey"` // 访问密钥
	SecretKey string `yaml:"secretKey"` // Secret 密钥
	Bucket    string `yaml:"bucket"`    // 默认存储桶名称
	Secure    bool   `yaml:"secure"`    // 是否使用HTTPS
}

// KafkaConfig 定义了 Kafka 消息队列的连接配置。
type KafkaConfig struct {
	Brokers []string `yaml:"brokers"` // Kafka Broker 地址列表
}

// DatabaseConfigs 包含所有数据库的配置。
type DatabaseConfigs struct {
	MySQL   MySQLConfig `yaml:"mysql"`   // MySQL 数据库配置
	MongoDB MongoConfig `yaml:"mongodb"` // MongoDB 数据库配置
	Redis   RedisConfig `yaml:"redis"`   // Redis 数据库配置
	MinIO   MinIOConfig `yaml:"minio"`   // MinIO 对象存储配置
	Kafka   KafkaConfig `yaml:"kafka"`   // Kafka 消息队列配置
}

// AtlasConfig 定义了托管搜索后端 (MongoDB Atlas) 的索引控制平面与向量集合配置。
type AtlasConfig struct {
	BaseURL     string `yaml:"baseURL"`     // 控制平面 API 地址 (例如: "https://cloud.mongodb.com/api/atlas/v1.0")
	PublicKey   string `yaml:"publicKey"`   // API 公钥 (digest 认证)
	PrivateKey  string `yaml:"privateKey"`  // API 私钥 (digest 认证)
	ProjectName string `yaml:"projectName"` // 项目名称，启动后解析为项目 ID
	ClusterName string `yaml:"clusterName"` // 集群名称
	Database    string `yaml:"database"`    // 向量数据所在数据库
	Collection  string `yaml:"collection"`  // 集合名前缀，拼接知识集合名得到物理集合名
	IndexName   string `yaml:"indexName"`   // 每个集合上的搜索索引名称
	VectorField string `yaml:"vectorField"` // 向量字段名称
	Dimensions  int    `yaml:"dimensions"`  // 向量维度
	Similarity  string `yaml:"similarity"`  // 相似度度量 (例如: "cosine", "euclidean", "dotProduct")
}

// QdrantConfig 定义了本地向量数据库 (Qdrant) 的连接与集合配置。
type QdrantConfig struct {
	Host           string `yaml:"host"`           // Qdrant 主机地址
	Port           int    `yaml:"port"`           // gRPC 端口 (REST 端口为其减一千，例如 6334 -> 6333)
	RESTPort       int    `yaml:"restPort"`       // REST 端口，用于集合创建
	UseTLS         bool   `yaml:"useTLS"`         // 是否使用 TLS
	APIKey         string `yaml:"apiKey"`         // API 密钥
	VectorSize     int    `yaml:"vectorSize"`     // 向量维度
	DistanceMetric string `yaml:"distanceMetric"` // 距离度量 (例如: "Cosine", "Euclid", "Dot")
}

// VectorStoreConfig 通过单一的 provider 开关选择向量存储后端。
type VectorStoreConfig struct {
	Provider string       `yaml:"provider"` // 向量存储后端: "mongodb" 或 "qdrant"
	MongoDB  AtlasConfig  `yaml:"mongodb"`  // 托管搜索后端配置
	Qdrant   QdrantConfig `yaml:"qdrant"`   // 本地向量数据库配置
}

// ProviderConfig 包含单个 Embedding 提供商的模型配置。
type ProviderConfig struct {
	APIKey            string  `yaml:"apiKey"`            // API 密钥
	BaseURL           string  `yaml:"baseURL"`           // 服务地址 (兼容自建网关)
	Model             string  `yaml:"model"`             // 模型名称
	Dimensions        int     `yaml:"dimensions"`        // 模型输出的向量维度
	MinRelevanceScore float64 `yaml:"minRelevanceScore"` // 检索结果的默认最低相关度
	MaxTokens         int     `yaml:"maxTokens"`         // 单次调用的最大 token 数
}

// EmbeddingCacheConfig 定义了向量结果的 Redis 缓存配置。
type EmbeddingCacheConfig struct {
	Enabled    bool `yaml:"enabled"`    // 是否启用缓存
	TTLSeconds int  `yaml:"ttlSeconds"` // 缓存有效期 (秒)，0 表示不过期
}

// TokenBucketConfig 定义了令牌桶算法的配置。
type TokenBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// LeakyBucketConfig 定义了漏桶算法的配置。
type LeakyBucketConfig struct {
	Rate     float64 `yaml:"rate"` // 每秒速率
	Capacity int     `yaml:"capacity"`
}

// RateLimiterConfig 定义了 Embedding 调用限流器的配置。
type RateLimiterConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Algorithm   string            `yaml:"algorithm"` // 支持: "tokenBucket", "leakyBucket"
	TokenBucket TokenBucketConfig `yaml:"tokenBucket"`
	LeakyBucket LeakyBucketConfig `yaml:"leakyBucket"`
}

// EmbeddingConfig 包含了不同 Embedding 提供商的配置。
type EmbeddingConfig struct {
	Provider       string               `yaml:"provider"` // Embedding提供商 (例如: "openai", "ollama", "google")
	OpenAI         ProviderConfig       `yaml:"openai"`   // OpenAI 兼容模型配置
	Ollama         ProviderConfig       `yaml:"ollama"`   // Ollama 本地模型配置
	Google         ProviderConfig       `yaml:"google"`   // Google 模型配置
	MaxConcurrency int                  `yaml:"maxConcurrency"` // 单文档并发生成向量的上限
	Cache          EmbeddingCacheConfig `yaml:"cache"`
	RateLimiter    RateLimiterConfig    `yaml:"rateLimiter"`
}

// ChunkingConfig 定义了文本分块参数。
type ChunkingConfig struct {
	CharacterLimit  int `yaml:"characterLimit"`  // 单块字符数硬上限
	LineTokens      int `yaml:"lineTokens"`      // 单行 token 软目标
	ParagraphTokens int `yaml:"paragraphTokens"` // 单块 token 软目标
	Overlap         int `yaml:"overlap"`         // 相邻块之间重叠的 token 数
}

// QueueConfig 定义了异步摄取队列的配置。
type QueueConfig struct {
	Enabled bool   `yaml:"enabled"` // 是否启用 Kafka 异步摄取
	Topic   string `yaml:"topic"`   // 摄取任务主题
	GroupID string `yaml:"groupID"` // 消费者组 ID
}

// KnowledgeConfig 定义了知识库摄取管线的配置。
type KnowledgeConfig struct {
	Extensions     []string             `yaml:"extensions"`     // 支持的文件扩展名 (带点，小写)
	ArchiveUploads bool                 `yaml:"archiveUploads"` // 是否将原始文件归档到 MinIO
	Queue          QueueConfig          `yaml:"queue"`
	DefaultTopK    int                  `yaml:"defaultTopK"`    // 检索默认返回条数
	CircuitBreaker CircuitBreakerConfig `yaml:"circuitBreaker"` // 控制平面 REST 调用的熔断配置
}

// CircuitBreakerConfig 定义了熔断器的配置。
type CircuitBreakerConfig struct {
	Enabled          bool   `yaml:"enabled"`
	FailureThreshold uint32 `yaml:"failureThreshold"`
	SuccessThreshold uint32 `yaml:"successThreshold"`
	Timeout          string `yaml:"timeout"` // 例如: "30s"
}

// AppConfig 是整个 YAML 文件的根结构，包含了应用程序的所有配置。
type AppConfig struct {
	App         AppInfo           `yaml:"app"`         // 应用程序信息
	Logger      LoggerConfig      `yaml:"logger"`      // 日志记录器配置
	Server      ServerConfig      `yaml:"server"`      // HTTP 服务配置
	Databases   DatabaseConfigs   `yaml:"databases"`   // 数据库配置
	VectorStore VectorStoreConfig `yaml:"vectorStore"` // 向量存储配置
	Embedding   EmbeddingConfig   `yaml:"embedding"`   // Embedding 配置部分
	Chunking    ChunkingConfig    `yaml:"chunking"`    // 分块配置
	Knowledge   KnowledgeConfig   `yaml:"knowledge"`   // 知识库管线配置
}

// LoadConfig 函数从指定路径加载并解析 YAML 配置文件，随后应用默认值并校验。
//
// 参数:
//
//	path: YAML 配置文件的路径。
//
// 返回值:
//
//	*AppConfig: 解析后的应用程序配置结构体。
//	error: 如果文件读取、解析或校验失败，则返回错误。
func LoadConfig(path string) (*AppConfig, error) {
	// 读取 YAML 文件内容。
	yamlFile, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("无法读取 YAML 文件 '%s': %w", path, err)
	}
	var cfg AppConfig
	// 将 YAML 内容解析到 cfg 结构体中。
	err = yaml.Unmarshal(yamlFile, &cfg)
	if err != nil {
		return nil, fmt.Errorf("解析 YAML 文件失败: %w", err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default chunking limits, shared with the chunker package.
const (
	DefaultChunkCharacterLimit  = 4096
	DefaultChunkLineTokens      = 60
	DefaultChunkParagraphTokens = 200
	DefaultChunkOverlap         = 40
)

// DefaultExtensions is the supported file extension set when the
// configuration does not override it.
var DefaultExtensions = []string{".docx", ".pdf", ".md", ".txt"}

// ApplyDefaults fills unset fields with their documented defaults.
func (c *AppConfig) ApplyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8081
	}
	if c.Logger.Level == "" {
		c.Logger.Level = "info"
	}
	if c.Chunking.CharacterLimit == 0 {
		c.Chunking.CharacterLimit = DefaultChunkCharacterLimit
	}
	if c.Chunking.LineTokens == 0 {
		c.Chunking.LineTokens = DefaultChunkLineTokens
	}
	if c.Chunking.ParagraphTokens == 0 {
		c.Chunking.ParagraphTokens = DefaultChunkParagraphTokens
	}
	if c.Chunking.Overlap == 0 {
		c.Chunking.Overlap = DefaultChunkOverlap
	}
	if len(c.Knowledge.Extensions) == 0 {
		c.Knowledge.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if c.Knowledge.DefaultTopK == 0 {
		c.Knowledge.DefaultTopK = 5
	}
	if c.Embedding.MaxConcurrency == 0 {
		c.Embedding.MaxConcurrency = 5
	}
	if c.VectorStore.MongoDB.BaseURL == "" {
		c.VectorStore.MongoDB.BaseURL = "https://cloud.mongodb.com/api/atlas/v1.0"
	}
	if c.VectorStore.MongoDB.Similarity == "" {
		c.VectorStore.MongoDB.Similarity = "cosine"
	}
	if c.VectorStore.MongoDB.VectorField == "" {
		c.VectorStore.MongoDB.VectorField = "embedding"
	}
	if c.VectorStore.MongoDB.IndexName == "" {
		c.VectorStore.MongoDB.IndexName = "default"
	}
	if c.VectorStore.Qdrant.DistanceMetric == "" {
		c.VectorStore.Qdrant.DistanceMetric = "Cosine"
	}
	if c.VectorStore.Qdrant.Port == 0 {
		c.VectorStore.Qdrant.Port = 6334
	}
	if c.VectorStore.Qdrant.RESTPort == 0 {
		c.VectorStore.Qdrant.RESTPort = 6333
	}
	if c.Knowledge.Queue.Topic == "" {
		c.Knowledge.Queue.Topic = "knowledge_ingest_tasks"
	}
	if c.Knowledge.Queue.GroupID == "" {
		c.Knowledge.Queue.GroupID = "knowledge-service-group"
	}
	if c.Knowledge.CircuitBreaker.Enabled {
		if c.Knowledge.CircuitBreaker.FailureThreshold == 0 {
			c.Knowledge.CircuitBreaker.FailureThreshold = 5
		}
		if c.Knowledge.CircuitBreaker.SuccessThreshold == 0 {
			c.Knowledge.CircuitBreaker.SuccessThreshold = 2
		}
		if c.Knowledge.CircuitBreaker.Timeout == "" {
			c.Knowledge.CircuitBreaker.Timeout = "30s"
		}
	}
}

// ActiveProvider returns the configured embedding provider name and its
// model configuration.
func (c *AppConfig) ActiveProvider() (string, ProviderConfig, error) {
	switch c.Embedding.Provider {
	case "openai":
		return "openai", c.Embedding.OpenAI, nil
	case "ollama":
		return "ollama", c.Embedding.Ollama, nil
	case "google":
		return "google", c.Embedding.Google, nil
	default:
		return "", ProviderConfig{}, fmt.Errorf("unknown embedding provider %q (supported: openai, ollama, google)", c.Embedding.Provider)
	}
}

// BackendDimensions returns the vector dimension configured for the active
// vector store backend.
func (c *AppConfig) BackendDimensions() (int, error) {
	switch c.VectorStore.Provider {
	case "mongodb":
		return c.VectorStore.MongoDB.Dimensions, nil
	case "qdrant":
		return c.VectorStore.Qdrant.VectorSize, nil
	default:
		return 0, fmt.Errorf("unknown vector store provider %q (supported: mongodb, qdrant)", c.VectorStore.Provider)
	}
}

// Validate rejects configurations that would only fail later at upsert time.
// The dimension cross-check between the active embedding provider and the
// active backend is the load-bearing rule here.
func (c *AppConfig) Validate() error {
	name, provider, err := c.ActiveProvider()
	if err != nil {
		return err
	}
	if provider.Model == "" {
		return fmt.Errorf("embedding provider %q has no model configured", name)
	}
	if provider.Dimensions <= 0 {
		return fmt.Errorf("embedding provider %q has invalid dimensions %d", name, provider.Dimensions)
	}

	backendDims, err := c.BackendDimensions()
	if err != nil {
		return err
	}
	if backendDims != provider.Dimensions {
		return fmt.Errorf("vector store %q is configured for dimension %d but embedding provider %q model %q produces dimension %d",
			c.VectorStore.Provider, backendDims, name, provider.Model, provider.Dimensions)
	}

	ch := c.Chunking
	if ch.CharacterLimit <= 0 || ch.LineTokens <= 0 || ch.ParagraphTokens <= 0 {
		return fmt.Errorf("chunking limits must be positive: characterLimit=%d lineTokens=%d paragraphTokens=%d",
			ch.CharacterLimit, ch.LineTokens, ch.ParagraphTokens)
	}
	if ch.Overlap < 0 {
		return fmt.Errorf("chunking overlap must not be negative: %d", ch.Overlap)
	}
	if ch.Overlap >= ch.CharacterLimit {
		return fmt.Errorf("chunking overlap %d must be smaller than the character limit %d", ch.Overlap, ch.CharacterLimit)
	}

	for _, ext := range c.Knowledge.Extensions {
		if !strings.HasPrefix(ext, ".") || ext != strings.ToLower(ext) {
			return fmt.Errorf("knowledge extension %q must be lowercase and start with a dot", ext)
		}
	}

	if c.Knowledge.CircuitBreaker.Enabled {
		if _, err := time.ParseDuration(c.Knowledge.CircuitBreaker.Timeout); err != nil {
			return fmt.Errorf("invalid circuit breaker timeout %q: %w", c.Knowledge.CircuitBreaker.Timeout, err)
		}
	}

	if c.Embedding.RateLimiter.Enabled {
		switch c.Embedding.RateLimiter.Algorithm {
		case "tokenBucket":
			tb := c.Embedding.RateLimiter.TokenBucket
			if tb.Rate <= 0 || tb.Capacity <= 0 {
				return fmt.Errorf("token bucket rate and capacity must be positive: rate=%v capacity=%d", tb.Rate, tb.Capacity)
			}
		case "leakyBucket":
			lb := c.Embedding.RateLimiter.LeakyBucket
			if lb.Rate <= 0 || lb.Capacity <= 0 {
				return fmt.Errorf("leaky bucket rate and capacity must be positive: rate=%v capacity=%d", lb.Rate, lb.Capacity)
			}
		default:
			return fmt.Errorf("unknown rate limiter algorithm %q (supported: tokenBucket, leakyBucket)", c.Embedding.RateLimiter.Algorithm)
		}
	}
	return nil
}

// SortedExtensions returns the supported extension list sorted for stable
// diagnostics output.
func (c *AppConfig) SortedExtensions() []string {
	out := append([]string(nil), c.Knowledge.Extensions...)
	sort.Strings(out)
	return out
}
