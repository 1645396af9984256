package api

import (
	"fmt"
	"strings"
	"time"

	"legalai/internal/ai"
	"legalai/internal/chat"
	"legalai/internal/config"
	"legalai/internal/evaluation"
	"legalai/internal/infra/queue"
	"legalai/internal/middleware"
	"legalai/internal/rag"
	"legalai/internal/rag/parsers"
	"legalai/internal/worker"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// AppContainer 应用容器，集中管理所有服务依赖
type AppContainer struct {
	// 基础设施
	DB     *gorm.DB
	Config *config.Config
	Redis  redis.UniversalClient
	Logger *zap.Logger

	// 任务队列，未配置 Redis 时为空
	Queue     *queue.Client
	Inspector *queue.Inspector
	Scheduler *queue.Scheduler
	Worker    *worker.Server

	// 进程内入库队列，仅在未配置 Redis 时使用
	LocalQueue *rag.LocalQueue

	// RAG
	VectorStore rag.VectorStore
	Pipeline    *rag.Pipeline
	Retriever   *rag.HybridRetriever
	Sources     *rag.SourceService

	// 问答
	Router   *ai.Router
	Recorder *evaluation.Recorder
	Chat     *chat.Service

	// 问答接口按用户限流
	ChatLimiter *middleware.RateLimiter
}

// InitContainer 初始化应用容器；rdb 为空时入库、问答与评估全部同步执行
func InitContainer(db *gorm.DB, rdb redis.UniversalClient, cfg *config.Config, logger *zap.Logger) (*AppContainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &AppContainer{
		DB:     db,
		Config: cfg,
		Redis:  rdb,
		Logger: logger,
	}

	var redisOpt asynq.RedisConnOpt
	if rdb != nil {
		redisOpt = queue.RedisOpt(cfg.Redis)
		c.Queue = queue.NewClient(redisOpt, logger)
		c.Inspector = queue.NewInspector(redisOpt)
	} else {
		c.LocalQueue = rag.NewLocalQueue(logger.Named("local_queue"))
	}

	if err := c.initRAG(); err != nil {
		return nil, err
	}
	c.initChat()

	if rdb != nil {
		if err := c.initWorker(redisOpt); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *AppContainer) ingestEnqueuer() rag.IngestEnqueuer {
	if c.Queue != nil {
		return c.Queue
	}
	return c.LocalQueue
}

func (c *AppContainer) chatEnqueuer() chat.TaskEnqueuer {
	if c.Queue == nil {
		return nil
	}
	return c.Queue
}

func (c *AppContainer) initRAG() error {
	cfg := c.Config
	store, err := initVectorStore(cfg, c.DB)
	if err != nil {
		return fmt.Errorf("初始化向量存储失败: %w", err)
	}
	c.VectorStore = store

	collections := rag.DefaultCollections()
	if v := strings.TrimSpace(cfg.RAG.VectorStore.Qdrant.TextCollection); v != "" {
		collections.Text = v
	}
	if v := strings.TrimSpace(cfg.RAG.VectorStore.Qdrant.PageCollection); v != "" {
		collections.Page = v
	}

	emb := cfg.RAG.Embedding
	text := rag.NewOpenAIEmbedder(rag.OpenAIEmbedderOptions{
		BaseURL:        emb.Text.BaseURL,
		APIKey:         emb.Text.APIKey,
		Model:          emb.Text.Model,
		Dimension:      emb.Text.Dimension,
		TimeoutSeconds: emb.Text.TimeoutSeconds,
	})

	var image rag.PageImageEmbedder
	if emb.Image.Enabled && strings.TrimSpace(emb.Image.Endpoint) != "" {
		image = rag.NewHTTPImageEmbedder(rag.HTTPImageEmbedderOptions{
			Endpoint:       emb.Image.Endpoint,
			Model:          emb.Image.Model,
			Dimension:      emb.Image.Dimension,
			TimeoutSeconds: emb.Image.TimeoutSeconds,
		})
	}

	var reranker rag.Reranker = rag.NewKeywordReranker()
	if rr := cfg.RAG.Reranker; rr.Enabled && strings.TrimSpace(rr.Endpoint) != "" {
		reranker = rag.NewCrossEncoderReranker(rag.CrossEncoderRerankerOptions{
			Endpoint:       rr.Endpoint,
			APIKey:         rr.APIKey,
			Model:          rr.Model,
			MaxLength:      rr.MaxLength,
			TimeoutSeconds: rr.TimeoutSeconds,
		})
	}

	render := cfg.RAG.Render
	ing := cfg.RAG.Ingestion
	ocr := rag.NewTesseractOCR(render.TesseractPath, render.OCRLanguages)
	extractor := rag.NewParserExtractor(parsers.NewRegistry(parsers.Options{
		OCR:        ocr,
		EnableOCR:  ing.EnableOCR,
		URLTimeout: time.Duration(ing.URLTimeoutSeconds) * time.Second,
	}))

	var guard rag.IngestGuard = rag.NoopGuard{}
	if c.Redis != nil {
		guard = rag.NewRedisIngestGuard(c.Redis, ing.LockTTL)
	}

	breaker := rag.NewPageBreaker()
	storageBase := cfg.Storage.BasePath

	c.Pipeline = rag.NewPipeline(rag.PipelineDeps{
		DB:    c.DB,
		Store: store,
		Text:  text,
		Image: image,
		Renderer: rag.NewPopplerRenderer(rag.RenderOptions{
			StorageBase:  storageBase,
			MaxPages:     render.MaxPages,
			MaxImageSide: render.MaxImageSide,
			DPI:          render.DPI,
			PdftoppmPath: render.PdftoppmPath,
		}),
		OCR:       ocr,
		Extractor: extractor,
		Chunker:   rag.NewChunker(ing.ChunkSize, ing.ChunkOverlap, ing.MinChunkChars),
		Breaker:   breaker,
		Guard:     guard,
		Queue:     c.ingestEnqueuer(),
		Logger:    c.Logger.Named("ingest"),
	}, rag.PipelineOptions{
		Collections:    collections,
		StorageBase:    storageBase,
		TextBatchSize:  ing.TextBatchSize,
		ImageBatchSize: ing.ImageBatchSize,
		MaxRetries:     ing.MaxRetries,
		EnableOCR:      ing.EnableOCR,
	})

	if c.LocalQueue != nil {
		c.LocalQueue.Bind(c.Pipeline)
	}

	c.Retriever = rag.NewHybridRetriever(rag.RetrieverDeps{
		DB:       c.DB,
		Store:    store,
		Text:     text,
		Image:    image,
		Reranker: reranker,
		Breaker:  breaker,
		Logger:   c.Logger.Named("retriever"),
	}, retrieverOptions(cfg.RAG.Retrieval, collections))

	c.Sources = rag.NewSourceService(c.DB, store, c.ingestEnqueuer(), collections, storageBase, c.Logger.Named("sources"))
	return nil
}

// retrieverOptions 配置项为零值时保留默认检索参数
func retrieverOptions(r config.RetrievalConfig, collections rag.Collections) rag.RetrieverOptions {
	opts := rag.DefaultRetrieverOptions()
	opts.Collections = collections
	if r.TextTopK > 0 {
		opts.TextTopK = r.TextTopK
	}
	if r.PageTopK > 0 {
		opts.PageTopK = r.PageTopK
	}
	if r.ContextTextK > 0 {
		opts.ContextTextK = r.ContextTextK
	}
	if r.ContextImageK > 0 {
		opts.ContextImageK = r.ContextImageK
	}
	if r.RerankCandidates > 0 {
		opts.RerankCandidates = r.RerankCandidates
	}
	if r.TextThreshold > 0 {
		opts.TextThreshold = r.TextThreshold
	}
	if r.PageThreshold > 0 {
		opts.PageThreshold = r.PageThreshold
	}
	opts.PageEnabled = r.PageEnabled
	return opts
}

func (c *AppContainer) initChat() {
	cfg := c.Config
	c.Router = ai.NewRouter(cfg.LLM, ai.DefaultFactory{}, nil, c.Logger.Named("llm"))
	c.Recorder = evaluation.NewRecorder(c.DB, evaluation.NewTokenCounter(c.Logger), c.Logger.Named("evaluation"))

	c.Chat = chat.NewService(
		chat.NewStore(c.DB, cfg.Chat.MaxMessages),
		c.Retriever,
		c.Router,
		c.Recorder,
		c.chatEnqueuer(),
		chat.Options{
			MemoryLimit:        cfg.Chat.MemoryLimit,
			AsyncEnabled:       cfg.Chat.AsyncEnabled && c.Queue != nil,
			SafeMode:           cfg.Chat.SafeMode,
			EvaluationSync:     cfg.Chat.EvaluationSync || c.Queue == nil,
			EmbeddingModel:     cfg.RAG.Embedding.Text.Model,
			EmbeddingDimension: cfg.RAG.Embedding.Text.Dimension,
			ChatModel:          cfg.LLM.ChatModel,
		},
		c.Logger.Named("chat"),
	)

	c.ChatLimiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerMinute: cfg.Chat.RateLimitPerMinute,
		BurstSize:         cfg.Chat.RateLimitBurst,
	})
}

func (c *AppContainer) initWorker(opt asynq.RedisConnOpt) error {
	deps := worker.Deps{
		Pipeline: c.Pipeline,
		Recorder: c.Recorder,
		Chat:     c.Chat,
		Logger:   c.Logger.Named("worker"),
	}
	c.Worker = worker.NewServer(opt, c.Config.Queue.Concurrency, deps)

	scheduler, err := queue.NewScheduler(opt, c.Config.RAG.Ingestion.SweepInterval, c.Logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("注册巡检任务失败: %w", err)
	}
	c.Scheduler = scheduler
	return nil
}

// Close 释放队列连接
func (c *AppContainer) Close() {
	if c.ChatLimiter != nil {
		c.ChatLimiter.Stop()
	}
	if c.LocalQueue != nil {
		c.LocalQueue.Close()
	}
	if c.Queue != nil {
		if err := c.Queue.Close(); err != nil {
			c.Logger.Warn("关闭队列客户端失败", zap.Error(err))
		}
	}
	if c.Inspector != nil {
		_ = c.Inspector.Close()
	}
}
