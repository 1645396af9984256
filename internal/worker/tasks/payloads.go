package tasks

import (
	"legalai/internal/ai"
	"legalai/internal/evaluation"
)

// Task Types
const (
	TypeIngestSource      = "rag:ingest_source"
	TypeRetryStaleSources = "rag:retry_stale_sources"
	TypeRecordEvaluation  = "eval:record"
	TypeProcessChat       = "chat:process"
)

// 队列名称
const (
	QueueIngestion  = "ingestion"
	QueueChat       = "chat"
	QueueEvaluation = "evaluation"
)

// IngestSourcePayload 知识源摄取任务载荷
type IngestSourcePayload struct {
	SourceID string `json:"source_id"`
}

// RecordEvaluationPayload 评估日志任务载荷
type RecordEvaluationPayload struct {
	Entry evaluation.Input `json:"entry"`
}

// ProcessChatPayload 异步问答任务载荷
type ProcessChatPayload struct {
	UserID         string         `json:"user_id"`
	ConversationID uint64         `json:"conversation_id"`
	Question       string         `json:"question"`
	Language       string         `json:"language"`
	Province       string         `json:"province,omitempty"`
	MemoryLimit    int            `json:"memory_limit"`
	Call           ai.CallOptions `json:"call"`
}
