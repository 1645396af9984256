package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// API 指标
var (
	// APIRequestsTotal API 请求总数
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_api_requests_total",
			Help: "API 请求总数",
		},
		[]string{"method", "path", "status"},
	)

	// APIRequestDuration API 请求延迟（秒）
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalai_api_request_duration_seconds",
			Help:    "API 请求延迟分布",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// APIResponseSize API 响应体大小（字节）
	APIResponseSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalai_api_response_size_bytes",
			Help:    "API 响应体大小分布",
			Buckets: []float64{100, 1000, 10000, 100000, 1000000},
		},
		[]string{"method", "path"},
	)
)

// 入库流水线指标
var (
	// IngestionRunsTotal 入库执行次数，按终态统计
	IngestionRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_ingestion_runs_total",
			Help: "知识源入库执行次数",
		},
		[]string{"source_type", "status"},
	)

	// IngestionDuration 入库耗时（秒）
	IngestionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalai_ingestion_duration_seconds",
			Help:    "知识源入库耗时分布",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"source_type"},
	)

	// IngestionArtifacts 入库产出的分块/页面数量
	IngestionArtifacts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_ingestion_artifacts_total",
			Help: "入库产出的分块与页面数量",
		},
		[]string{"kind"}, // chunk, page
	)

	// IngestionSkips 入库过程中被跳过的尽力而为步骤
	IngestionSkips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_ingestion_skips_total",
			Help: "入库过程中被跳过的步骤",
		},
		[]string{"stage"},
	)

	// IngestionRequeues 自动重新入队次数
	IngestionRequeues = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "legalai_ingestion_requeues_total",
			Help: "入库失败后自动重新入队次数",
		},
	)
)

// 检索指标
var (
	// RAGSearchesTotal 混合检索次数
	RAGSearchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_rag_searches_total",
			Help: "混合检索总数",
		},
		[]string{"verified"},
	)

	// RAGSearchDuration 混合检索耗时（秒）
	RAGSearchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "legalai_rag_search_duration_seconds",
			Help:    "混合检索耗时分布",
			Buckets: []float64{0.05, 0.1, 0.2, 0.5, 1, 2, 5, 10},
		},
	)

	// RAGModalityFailures 单一模态检索失败次数
	RAGModalityFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_rag_modality_failures_total",
			Help: "文本/页面检索失败次数",
		},
		[]string{"modality"},
	)

	// PageBreakerTrips 页面检索熔断次数
	PageBreakerTrips = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "legalai_page_breaker_trips_total",
			Help: "页面图像模型熔断次数",
		},
	)
)

// 大模型调用指标
var (
	// ProviderAttemptsTotal 各提供商调用结果
	ProviderAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_llm_provider_attempts_total",
			Help: "大模型提供商调用次数",
		},
		[]string{"provider", "purpose", "outcome"},
	)

	// ProviderLatency 单次提供商调用耗时（秒）
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "legalai_llm_provider_latency_seconds",
			Help:    "大模型单次调用耗时分布",
			Buckets: []float64{0.5, 1, 2, 5, 10, 20, 40, 80, 160},
		},
		[]string{"provider", "purpose"},
	)

	// MultimodalDegrades 多模态降级为纯文本的次数
	MultimodalDegrades = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_llm_multimodal_degrades_total",
			Help: "多模态请求降级为纯文本次数",
		},
		[]string{"reason"},
	)

	// TranscriptionsTotal 语音转写次数
	TranscriptionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_transcriptions_total",
			Help: "语音转写次数",
		},
		[]string{"provider", "outcome"},
	)
)

// 评估记录指标
var (
	// EvaluationRecordsTotal 评估日志写入结果
	EvaluationRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_evaluation_records_total",
			Help: "评估日志写入次数",
		},
		[]string{"decision", "outcome"},
	)

	// ChatAnswersTotal 对话回答数量，按决策统计
	ChatAnswersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "legalai_chat_answers_total",
			Help: "对话回答数量",
		},
		[]string{"decision"},
	)
)
