package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"legalai/internal/metrics"
	"legalai/pkg/aiinterface"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 截断上限（字符）
const (
	maxQuestionRunes = 5000
	maxAnswerRunes   = 10000
	maxErrorRunes    = 500
)

var fallbackIndicators = []string{
	"can only help with legal awareness",
	"could not find relevant information",
	"please ask a legal question",
	"i can only help",
	"not able to process",
}

var disclaimerIndicators = []string{
	"this information is provided only",
	"please contact a lawyer",
	"for urgent help, use the helpline",
}

// Input 一次问答的评估字段
type Input struct {
	UserID            string  `json:"userId"`
	ConversationID    *uint64 `json:"conversationId,omitempty"`
	Language          string  `json:"language"`
	SafeMode          bool    `json:"safeMode"`
	IsNewConversation bool    `json:"isNewConversation"`

	Question string `json:"question"`
	Answer   string `json:"answer"`

	Threshold     *float64 `json:"threshold,omitempty"`
	BestScore     *float64 `json:"bestScore,omitempty"`
	ContextsFound int      `json:"contextsFound"`
	ContextsUsed  int      `json:"contextsUsed"`
	InDomain      bool     `json:"inDomain"`
	Decision      string   `json:"decision"`
	ChunkIDs      []string `json:"chunkIds,omitempty"`
	SourceTitles  []string `json:"sourceTitles,omitempty"` // 为空时按 ChunkIDs 查询

	EmbeddingTimeMs int64  `json:"embeddingTimeMs"`
	LLMTimeMs       *int64 `json:"llmTimeMs,omitempty"`
	TotalTimeMs     int64  `json:"totalTimeMs"`

	EmbeddingModel     string `json:"embeddingModel"`
	EmbeddingDimension int    `json:"embeddingDimension"`
	ChatModel          string `json:"chatModel"`

	PromptMessages []aiinterface.Message `json:"promptMessages,omitempty"`
	CompletionText string                `json:"completionText,omitempty"`

	ErrorOccurred bool   `json:"errorOccurred"`
	ErrorType     string `json:"errorType,omitempty"`
	ErrorMessage  string `json:"errorMessage,omitempty"`
}

// Recorder 评估日志写入器
type Recorder struct {
	db      *gorm.DB
	counter *TokenCounter
	logger  *zap.Logger
	now     func() time.Time
}

// NewRecorder 创建评估记录器
func NewRecorder(db *gorm.DB, counter *TokenCounter, logger *zap.Logger) *Recorder {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = NewTokenCounter(logger)
	}
	return &Recorder{db: db, counter: counter, logger: logger, now: time.Now}
}

// Record 写入评估日志；任何失败只记录日志，返回 nil
func (r *Recorder) Record(ctx context.Context, in *Input) (id *uint64) {
	if in == nil {
		r.logger.Error("写入问答评估失败", zap.Error(errors.New("评估输入为空")))
		return nil
	}
	if r.db == nil {
		r.logger.Error("写入问答评估失败", zap.String("decision", in.Decision), zap.Error(errors.New("未配置数据库")))
		return nil
	}
	defer func() {
		if v := recover(); v != nil {
			metrics.EvaluationRecordsTotal.WithLabelValues(in.Decision, "error").Inc()
			r.logger.Error("写入问答评估异常", zap.String("decision", in.Decision), zap.Any("panic", v))
			id = nil
		}
	}()

	entry, err := r.build(ctx, in)
	if err == nil {
		err = r.db.WithContext(ctx).Create(entry).Error
	}
	if err != nil {
		metrics.EvaluationRecordsTotal.WithLabelValues(in.Decision, "error").Inc()
		r.logger.Error("写入问答评估失败", zap.String("decision", in.Decision), zap.Error(err))
		return nil
	}

	metrics.EvaluationRecordsTotal.WithLabelValues(in.Decision, "ok").Inc()
	r.logger.Info("问答评估已记录",
		zap.Uint64("id", entry.ID),
		zap.String("user_id", in.UserID),
		zap.String("decision", in.Decision),
		zap.Bool("in_domain", in.InDomain),
		zap.Int("contexts_used", in.ContextsUsed),
		zap.Int("contexts_found", in.ContextsFound),
		zap.Float64("best_score", deref(in.BestScore)),
		zap.Float64("threshold", deref(in.Threshold)),
		zap.Bool("fallback", entry.HasFallback),
		zap.Int64("total_time_ms", in.TotalTimeMs),
	)
	rowID := entry.ID
	return &rowID
}

func (r *Recorder) build(ctx context.Context, in *Input) (*EvaluationLog, error) {
	answerLower := strings.ToLower(truncateRunes(in.Answer, maxAnswerRunes))

	titles := in.SourceTitles
	if len(titles) == 0 && len(in.ChunkIDs) > 0 {
		titles = r.lookupTitles(ctx, in.ChunkIDs)
	}
	chunkJSON, err := jsonList(in.ChunkIDs)
	if err != nil {
		return nil, err
	}
	titleJSON, err := jsonList(titles)
	if err != nil {
		return nil, err
	}

	entry := &EvaluationLog{
		UserID:             in.UserID,
		ConversationID:     in.ConversationID,
		Language:           in.Language,
		SafeMode:           in.SafeMode,
		IsNewConversation:  in.IsNewConversation,
		QuestionText:       truncateRunes(in.Question, maxQuestionRunes),
		QuestionLength:     len([]rune(in.Question)),
		AnswerText:         truncateRunes(in.Answer, maxAnswerRunes),
		AnswerLength:       len([]rune(in.Answer)),
		ThresholdUsed:      in.Threshold,
		BestScore:          in.BestScore,
		ContextsFound:      in.ContextsFound,
		ContextsUsed:       in.ContextsUsed,
		InDomain:           in.InDomain,
		Decision:           in.Decision,
		SourceChunkIDs:     chunkJSON,
		SourceTitles:       titleJSON,
		EmbeddingTimeMs:    in.EmbeddingTimeMs,
		LLMTimeMs:          in.LLMTimeMs,
		TotalTimeMs:        in.TotalTimeMs,
		EmbeddingModel:     in.EmbeddingModel,
		EmbeddingDimension: in.EmbeddingDimension,
		ChatModel:          in.ChatModel,
		HasFallback:        containsAny(answerLower, fallbackIndicators),
		HasDisclaimer:      containsAny(answerLower, disclaimerIndicators),
		ErrorOccurred:      in.ErrorOccurred,
		ErrorType:          in.ErrorType,
		ErrorMessage:       truncateRunes(in.ErrorMessage, maxErrorRunes),
		CreatedAt:          r.now(),
	}

	if in.ChatModel != "" {
		var prompt, completion int
		if len(in.PromptMessages) > 0 {
			prompt = r.counter.CountMessages(in.PromptMessages, in.ChatModel)
			entry.PromptTokens = &prompt
		}
		if in.CompletionText != "" {
			completion = r.counter.Count(in.CompletionText, in.ChatModel)
			entry.CompletionTokens = &completion
		}
		if prompt > 0 && completion > 0 {
			total := prompt + completion
			entry.TotalTokens = &total
		}
	}
	return entry, nil
}

// lookupTitles 查询分块所属来源的标题，失败时返回空
func (r *Recorder) lookupTitles(ctx context.Context, chunkIDs []string) []string {
	var titles []string
	err := r.db.WithContext(ctx).
		Table("knowledge_chunks").
		Joins("JOIN knowledge_sources ON knowledge_sources.id = knowledge_chunks.source_id").
		Where("knowledge_chunks.id IN ?", chunkIDs).
		Distinct().
		Pluck("knowledge_sources.title", &titles).Error
	if err != nil {
		r.logger.Warn("查询来源标题失败", zap.Error(err))
		return nil
	}
	out := titles[:0]
	for _, t := range titles {
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

func jsonList(values []string) (datatypes.JSON, error) {
	if values == nil {
		values = []string{}
	}
	b, err := json.Marshal(values)
	if err != nil {
		return nil, err
	}
	return datatypes.JSON(b), nil
}

func containsAny(text string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(text, n) {
			return true
		}
	}
	return false
}

func truncateRunes(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
