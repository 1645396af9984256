package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 应用配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Log      LogConfig      `mapstructure:"log"`
	Queue    QueueConfig    `mapstructure:"queue"`
	Storage  StorageConfig  `mapstructure:"storage"`
	RAG      RAGConfig      `mapstructure:"rag"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Chat     ChatConfig     `mapstructure:"chat"`
}

// ServerConfig HTTP 服务器配置
type ServerConfig struct {
	Port         int    `mapstructure:"port"`
	Mode         string `mapstructure:"mode"` // debug, release, test
	ReadTimeout  int    `mapstructure:"read_timeout"`
	WriteTimeout int    `mapstructure:"write_timeout"`
	MaxUploadMB  int    `mapstructure:"max_upload_mb"`

	// 为空时允许任意来源
	CORSAllowOrigins []string `mapstructure:"cors_allow_origins"`
	CORSAllowHeaders []string `mapstructure:"cors_allow_headers"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Port            int    `mapstructure:"port"`
	User            string `mapstructure:"user"`
	Password        string `mapstructure:"password"`
	DBName          string `mapstructure:"dbname"`
	SSLMode         string `mapstructure:"sslmode"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
	ConnMaxLifetime int    `mapstructure:"conn_max_lifetime"` // 秒
	AutoMigrate     bool   `mapstructure:"auto_migrate"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 连接模式: standalone, sentinel, cluster
	Mode string `mapstructure:"mode"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`

	MasterName       string   `mapstructure:"master_name"`
	SentinelAddrs    []string `mapstructure:"sentinel_addrs"`
	SentinelPassword string   `mapstructure:"sentinel_password"`

	ClusterAddrs []string `mapstructure:"cluster_addrs"`

	PoolSize     int `mapstructure:"pool_size"`
	MinIdleConns int `mapstructure:"min_idle_conns"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string `mapstructure:"level"`       // debug, info, warn, error
	Format     string `mapstructure:"format"`      // json, console
	OutputPath string `mapstructure:"output_path"` // stdout, stderr, /path/to/log
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
}

// QueueConfig 异步任务队列配置
type QueueConfig struct {
	Concurrency int `mapstructure:"concurrency"`
}

// StorageConfig 本地文件存储
type StorageConfig struct {
	BasePath string `mapstructure:"base_path"`
}

// RAGConfig 检索增强相关配置
type RAGConfig struct {
	VectorStore VectorStoreConfig `mapstructure:"vector_store"`
	Embedding   EmbeddingConfig   `mapstructure:"embedding"`
	Reranker    RerankerConfig    `mapstructure:"reranker"`
	Retrieval   RetrievalConfig   `mapstructure:"retrieval"`
	Ingestion   IngestionConfig   `mapstructure:"ingestion"`
	Render      RenderConfig      `mapstructure:"render"`
}

// VectorStoreConfig 向量存储配置
type VectorStoreConfig struct {
	Type   string       `mapstructure:"type"` // qdrant, pgvector
	Qdrant QdrantConfig `mapstructure:"qdrant"`
}

// QdrantConfig Qdrant 外部向量数据库配置
type QdrantConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TextCollection string `mapstructure:"text_collection"`
	PageCollection string `mapstructure:"page_collection"`
	Distance       string `mapstructure:"distance"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// EmbeddingConfig 文本与页面图像向量模型
type EmbeddingConfig struct {
	Text  TextEmbeddingConfig  `mapstructure:"text"`
	Image ImageEmbeddingConfig `mapstructure:"image"`
}

// TextEmbeddingConfig OpenAI 兼容的文本向量服务
type TextEmbeddingConfig struct {
	BaseURL        string `mapstructure:"base_url"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// ImageEmbeddingConfig 页面图像向量服务
type ImageEmbeddingConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	Model          string `mapstructure:"model"`
	Dimension      int    `mapstructure:"dimension"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RerankerConfig 交叉编码重排服务
type RerankerConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	Model          string `mapstructure:"model"`
	MaxLength      int    `mapstructure:"max_length"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// RetrievalConfig 混合检索参数
type RetrievalConfig struct {
	TextTopK         int     `mapstructure:"text_top_k"`
	PageTopK         int     `mapstructure:"page_top_k"`
	ContextTextK     int     `mapstructure:"context_text_k"`
	ContextImageK    int     `mapstructure:"context_image_k"`
	RerankCandidates int     `mapstructure:"rerank_candidates"`
	TextThreshold    float64 `mapstructure:"text_threshold"`
	PageThreshold    float64 `mapstructure:"page_threshold"`
	PageEnabled      bool    `mapstructure:"page_enabled"`
}

// IngestionConfig 入库流水线参数
type IngestionConfig struct {
	ChunkSize         int           `mapstructure:"chunk_size"`
	ChunkOverlap      int           `mapstructure:"chunk_overlap"`
	MinChunkChars     int           `mapstructure:"min_chunk_chars"`
	TextBatchSize     int           `mapstructure:"text_batch_size"`
	ImageBatchSize    int           `mapstructure:"image_batch_size"`
	MaxRetries        int           `mapstructure:"max_retries"`
	SweepInterval     time.Duration `mapstructure:"sweep_interval"`
	EnableOCR         bool          `mapstructure:"enable_ocr"`
	LockTTL           time.Duration `mapstructure:"lock_ttl"`
	URLTimeoutSeconds int           `mapstructure:"url_timeout_seconds"`
}

// RenderConfig 页面渲染与 OCR
type RenderConfig struct {
	MaxPages      int    `mapstructure:"max_pages"`
	MaxImageSide  int    `mapstructure:"max_image_side"`
	DPI           int    `mapstructure:"dpi"`
	PdftoppmPath  string `mapstructure:"pdftoppm_path"`
	TesseractPath string `mapstructure:"tesseract_path"`
	OCRLanguages  string `mapstructure:"ocr_languages"`
}

// LLMConfig 大模型路由配置
type LLMConfig struct {
	ChatProvider        string   `mapstructure:"chat_provider"`
	ChatModel           string   `mapstructure:"chat_model"`
	ChatModelOpenAI     string   `mapstructure:"chat_model_openai"`
	ChatModelGroq       string   `mapstructure:"chat_model_groq"`
	ChatModelOpenRouter string   `mapstructure:"chat_model_openrouter"`
	Fallbacks           []string `mapstructure:"fallbacks"`

	Temperature              float64 `mapstructure:"temperature"`
	MaxTokens                int     `mapstructure:"max_tokens"`
	TimeoutSeconds           int     `mapstructure:"timeout_seconds"`
	MultimodalTimeoutSeconds int     `mapstructure:"multimodal_timeout_seconds"`

	BaseURLs ProviderURLs `mapstructure:"base_urls"`

	OpenRouterReferrer string `mapstructure:"openrouter_referrer"`
	OpenRouterAppName  string `mapstructure:"openrouter_app_name"`

	VLM           VLMConfig           `mapstructure:"vlm"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
}

// ProviderURLs 各提供商的基础地址
type ProviderURLs struct {
	OpenAI     string `mapstructure:"openai"`
	OpenRouter string `mapstructure:"openrouter"`
	Groq       string `mapstructure:"groq"`
	DeepSeek   string `mapstructure:"deepseek"`
	Grok       string `mapstructure:"grok"`
	Anthropic  string `mapstructure:"anthropic"`
}

// VLMConfig 多模态请求参数
type VLMConfig struct {
	Always       bool `mapstructure:"always"`
	MaxImages    int  `mapstructure:"max_images"`
	MaxImageSide int  `mapstructure:"max_image_side"`
	JPEGQuality  int  `mapstructure:"jpeg_quality"`
}

// TranscriptionConfig 语音转写参数
type TranscriptionConfig struct {
	OpenAIModel     string `mapstructure:"openai_model"`
	GroqModel       string `mapstructure:"groq_model"`
	OpenRouterModel string `mapstructure:"openrouter_model"`
	TimeoutSeconds  int    `mapstructure:"timeout_seconds"`
}

// ChatConfig 对话编排参数
type ChatConfig struct {
	MemoryLimit    int  `mapstructure:"memory_limit"`
	MaxMessages    int  `mapstructure:"max_messages"`
	AsyncEnabled   bool `mapstructure:"async_enabled"`
	SafeMode       bool `mapstructure:"safe_mode"`
	EvaluationSync bool `mapstructure:"evaluation_sync"`

	// 按用户限流，RateLimitPerMinute 为 0 时关闭
	RateLimitPerMinute int `mapstructure:"rate_limit_per_minute"`
	RateLimitBurst     int `mapstructure:"rate_limit_burst"`
}

var globalConfig *Config

// Load 加载配置
// env: 环境名称（dev, prod, test）
// configPath: 配置文件路径（可选）
func Load(env string, configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if configPath == "" {
		v.SetConfigName(env) // dev.yaml, prod.yaml
		v.AddConfigPath("./config")
		v.AddConfigPath("../config")
		v.AddConfigPath("../../config")
	} else {
		v.SetConfigFile(configPath)
	}

	v.SetConfigType("yaml")

	// 环境变量优先级高于配置文件：APP_RAG_RETRIEVAL_TEXT_TOP_K
	v.SetEnvPrefix("APP")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("解析配置失败: %w", err)
	}

	globalConfig = &cfg
	return &cfg, nil
}

// Get 获取全局配置
func Get() *Config {
	if globalConfig == nil {
		panic("配置未初始化，请先调用 Load()")
	}
	return globalConfig
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "debug")
	v.SetDefault("server.read_timeout", 30)
	v.SetDefault("server.write_timeout", 180)
	v.SetDefault("server.max_upload_mb", 50)
	v.SetDefault("server.cors_allow_origins", []string{})
	v.SetDefault("server.cors_allow_headers", []string{})

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "legalai")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 300)
	v.SetDefault("database.auto_migrate", true)

	v.SetDefault("redis.mode", "standalone")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.min_idle_conns", 2)
	v.SetDefault("redis.master_name", "")
	v.SetDefault("redis.sentinel_addrs", []string{})
	v.SetDefault("redis.sentinel_password", "")
	v.SetDefault("redis.cluster_addrs", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("log.output_path", "stdout")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)

	v.SetDefault("queue.concurrency", 4)
	v.SetDefault("storage.base_path", "./storage")

	v.SetDefault("rag.vector_store.type", "qdrant")
	v.SetDefault("rag.vector_store.qdrant.endpoint", "http://localhost:6333")
	v.SetDefault("rag.vector_store.qdrant.api_key", "")
	v.SetDefault("rag.vector_store.qdrant.text_collection", "legal_text")
	v.SetDefault("rag.vector_store.qdrant.page_collection", "legal_pages")
	v.SetDefault("rag.vector_store.qdrant.distance", "Cosine")
	v.SetDefault("rag.vector_store.qdrant.timeout_seconds", 30)

	v.SetDefault("rag.embedding.text.base_url", "https://api.openai.com/v1")
	v.SetDefault("rag.embedding.text.api_key", "")
	v.SetDefault("rag.embedding.text.model", "text-embedding-3-large")
	v.SetDefault("rag.embedding.text.dimension", 3072)
	v.SetDefault("rag.embedding.text.timeout_seconds", 30)
	v.SetDefault("rag.embedding.image.enabled", true)
	v.SetDefault("rag.embedding.image.endpoint", "http://localhost:8090")
	v.SetDefault("rag.embedding.image.model", "vidore/colpali")
	v.SetDefault("rag.embedding.image.dimension", 0)
	v.SetDefault("rag.embedding.image.timeout_seconds", 60)

	v.SetDefault("rag.reranker.enabled", true)
	v.SetDefault("rag.reranker.endpoint", "http://localhost:8091")
	v.SetDefault("rag.reranker.api_key", "")
	v.SetDefault("rag.reranker.model", "BAAI/bge-reranker-v2-m3")
	v.SetDefault("rag.reranker.max_length", 512)
	v.SetDefault("rag.reranker.timeout_seconds", 30)

	v.SetDefault("rag.retrieval.text_top_k", 12)
	v.SetDefault("rag.retrieval.page_top_k", 6)
	v.SetDefault("rag.retrieval.context_text_k", 5)
	v.SetDefault("rag.retrieval.context_image_k", 3)
	v.SetDefault("rag.retrieval.rerank_candidates", 20)
	v.SetDefault("rag.retrieval.text_threshold", 0.2)
	v.SetDefault("rag.retrieval.page_threshold", 0.2)
	v.SetDefault("rag.retrieval.page_enabled", true)

	v.SetDefault("rag.ingestion.chunk_size", 900)
	v.SetDefault("rag.ingestion.chunk_overlap", 120)
	v.SetDefault("rag.ingestion.min_chunk_chars", 5)
	v.SetDefault("rag.ingestion.text_batch_size", 32)
	v.SetDefault("rag.ingestion.image_batch_size", 8)
	v.SetDefault("rag.ingestion.max_retries", 5)
	v.SetDefault("rag.ingestion.sweep_interval", "24h")
	v.SetDefault("rag.ingestion.enable_ocr", false)
	v.SetDefault("rag.ingestion.lock_ttl", "30m")
	v.SetDefault("rag.ingestion.url_timeout_seconds", 20)

	v.SetDefault("rag.render.max_pages", 80)
	v.SetDefault("rag.render.max_image_side", 1600)
	v.SetDefault("rag.render.dpi", 150)
	v.SetDefault("rag.render.pdftoppm_path", "pdftoppm")
	v.SetDefault("rag.render.tesseract_path", "tesseract")
	v.SetDefault("rag.render.ocr_languages", "eng+urd")

	v.SetDefault("llm.chat_provider", "openai")
	v.SetDefault("llm.chat_model", "gpt-4o-mini")
	v.SetDefault("llm.chat_model_openai", "gpt-4o-mini")
	v.SetDefault("llm.chat_model_groq", "llama-3.1-8b-instant")
	v.SetDefault("llm.chat_model_openrouter", "")
	v.SetDefault("llm.fallbacks", []string{})
	v.SetDefault("llm.temperature", 0.2)
	v.SetDefault("llm.max_tokens", 2200)
	v.SetDefault("llm.timeout_seconds", 130)
	v.SetDefault("llm.multimodal_timeout_seconds", 160)
	v.SetDefault("llm.base_urls.openai", "https://api.openai.com/v1")
	v.SetDefault("llm.base_urls.openrouter", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.base_urls.groq", "https://api.groq.com/openai/v1")
	v.SetDefault("llm.base_urls.deepseek", "https://api.deepseek.com/v1")
	v.SetDefault("llm.base_urls.grok", "https://api.x.ai/v1")
	v.SetDefault("llm.base_urls.anthropic", "https://api.anthropic.com/v1/messages")
	v.SetDefault("llm.openrouter_referrer", "")
	v.SetDefault("llm.openrouter_app_name", "")
	v.SetDefault("llm.vlm.always", false)
	v.SetDefault("llm.vlm.max_images", 3)
	v.SetDefault("llm.vlm.max_image_side", 1280)
	v.SetDefault("llm.vlm.jpeg_quality", 85)
	v.SetDefault("llm.transcription.openai_model", "whisper-1")
	v.SetDefault("llm.transcription.groq_model", "whisper-large-v3-turbo")
	v.SetDefault("llm.transcription.openrouter_model", "openai/gpt-4o-mini-transcribe")
	v.SetDefault("llm.transcription.timeout_seconds", 60)

	v.SetDefault("chat.memory_limit", 10)
	v.SetDefault("chat.max_messages", 100)
	v.SetDefault("chat.async_enabled", false)
	v.SetDefault("chat.safe_mode", true)
	v.SetDefault("chat.evaluation_sync", false)
	v.SetDefault("chat.rate_limit_per_minute", 30)
	v.SetDefault("chat.rate_limit_burst", 10)
}
