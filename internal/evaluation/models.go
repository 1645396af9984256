// Package evaluation 记录每次问答的检索与生成指标
package evaluation

import (
	"time"

	"gorm.io/datatypes"
)

// 回答决策
const (
	DecisionAnswerWithSources = "ANSWER_WITH_SOURCES"
	DecisionAnswerNoSources   = "ANSWER_NO_SOURCES"
	DecisionEmergency         = "EMERGENCY"
	DecisionGreeting          = "GREETING"
	DecisionRefuse            = "REFUSE_OUT_OF_DOMAIN"
	DecisionError             = "ERROR"
)

// EvaluationLog 问答评估日志，仅管理员可见
type EvaluationLog struct {
	ID uint64 `json:"id" gorm:"primaryKey;autoIncrement"`

	UserID            string  `json:"userId" gorm:"size:64;index"`
	ConversationID    *uint64 `json:"conversationId" gorm:"index"`
	Language          string  `json:"language" gorm:"size:10;not null"`
	SafeMode          bool    `json:"safeMode" gorm:"not null"`
	IsNewConversation bool    `json:"isNewConversation"`

	QuestionText   string `json:"questionText" gorm:"type:text;not null"`
	QuestionLength int    `json:"questionLength" gorm:"not null"`
	AnswerText     string `json:"answerText" gorm:"type:text;not null"`
	AnswerLength   int    `json:"answerLength" gorm:"not null"`

	ThresholdUsed  *float64       `json:"thresholdUsed"`
	BestScore      *float64       `json:"bestScore"`
	ContextsFound  int            `json:"contextsFound" gorm:"not null"`
	ContextsUsed   int            `json:"contextsUsed" gorm:"not null"`
	InDomain       bool           `json:"inDomain" gorm:"not null"`
	Decision       string         `json:"decision" gorm:"size:32;not null;index"`
	SourceChunkIDs datatypes.JSON `json:"sourceChunkIds" gorm:"type:jsonb"` // []string
	SourceTitles   datatypes.JSON `json:"sourceTitles" gorm:"type:jsonb"`   // []string

	EmbeddingTimeMs int64  `json:"embeddingTimeMs" gorm:"not null"`
	LLMTimeMs       *int64 `json:"llmTimeMs"`
	TotalTimeMs     int64  `json:"totalTimeMs" gorm:"not null"`

	PromptTokens     *int `json:"promptTokens"`
	CompletionTokens *int `json:"completionTokens"`
	TotalTokens      *int `json:"totalTokens"`

	EmbeddingModel     string `json:"embeddingModel" gorm:"size:100;not null"`
	EmbeddingDimension int    `json:"embeddingDimension"`
	ChatModel          string `json:"chatModel" gorm:"size:100"`

	HasFallback   bool `json:"hasFallback" gorm:"not null"`
	HasDisclaimer bool `json:"hasDisclaimer" gorm:"not null"`

	ErrorOccurred bool   `json:"errorOccurred" gorm:"not null;default:false"`
	ErrorType     string `json:"errorType" gorm:"size:100"`
	ErrorMessage  string `json:"errorMessage" gorm:"type:text"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime;index"`
}

// TableName 指定表名
func (EvaluationLog) TableName() string { return "rag_evaluation_logs" }

// AllModels 需要迁移的模型
func AllModels() []any {
	return []any{&EvaluationLog{}}
}
