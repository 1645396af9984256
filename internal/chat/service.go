// Package chat 编排一次法律问答：路由分类、会话记忆、混合检索、生成与评估记录
package chat

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"legalai/internal/ai"
	"legalai/internal/evaluation"
	"legalai/internal/metrics"
	"legalai/internal/rag"
	"legalai/internal/worker/tasks"
	"legalai/pkg/aiinterface"

	"go.uber.org/zap"
)

const maxQuestionRunes = 2000

// StatusProcessing 异步处理中的响应状态
const StatusProcessing = "processing"

var (
	ErrQuestionRequired = errors.New("Question required")
	ErrQuestionTooLong  = errors.New("Question too long")
	ErrInvalidLanguage  = errors.New("Invalid language")
	ErrInvalidProvider  = errors.New("Unsupported provider")
)

var friendlyErrors = map[string]string{
	"en": "Sorry, the answer could not be generated right now. Please try again shortly.",
	"ur": "معذرت، ابھی جواب تیار نہیں ہو سکا۔ براہِ کرم کچھ دیر بعد دوبارہ کوشش کریں۔",
}

// FriendlyError 生成失败时写入会话的提示
func FriendlyError(language string) string {
	if msg, ok := friendlyErrors[language]; ok {
		return msg
	}
	return friendlyErrors["en"]
}

// Searcher 混合检索
type Searcher interface {
	Search(ctx context.Context, question, language string) *rag.RetrievalResult
}

// Answerer 模型路由
type Answerer interface {
	HasAnyKey(opts ai.CallOptions) bool
	ClassifyQuery(ctx context.Context, question, language string, opts ai.CallOptions) ai.Classification
	Answer(ctx context.Context, req *ai.AnswerRequest) (*ai.AnswerResult, error)
}

// EvaluationSink 同步写入评估日志
type EvaluationSink interface {
	Record(ctx context.Context, in *evaluation.Input) *uint64
}

// TaskEnqueuer 异步任务投递
type TaskEnqueuer interface {
	EnqueueChat(ctx context.Context, payload *tasks.ProcessChatPayload) error
	EnqueueEvaluation(ctx context.Context, in *evaluation.Input) error
}

// Options 编排参数
type Options struct {
	MemoryLimit        int
	AsyncEnabled       bool
	SafeMode           bool
	EvaluationSync     bool
	EmbeddingModel     string
	EmbeddingDimension int
	ChatModel          string
}

// AskRequest 用户提问
type AskRequest struct {
	ai.CallOptions
	UserID         string
	ConversationID *uint64
	Question       string
	Language       string
	Province       string
}

// AskResponse 问答结果；Status 为 processing 时答案稍后写入会话
type AskResponse struct {
	Answer         string   `json:"answer,omitempty"`
	ConversationID *uint64  `json:"conversationId"`
	ContextsUsed   int      `json:"contextsUsed"`
	Decision       string   `json:"decision,omitempty"`
	SourceTitles   []string `json:"sourceTitles,omitempty"`
	Status         string   `json:"status,omitempty"`
}

// Service 问答编排服务
type Service struct {
	store    *Store
	searcher Searcher
	answerer Answerer
	recorder EvaluationSink
	queue    TaskEnqueuer
	opts     Options
	logger   *zap.Logger
	now      func() time.Time
}

// NewService 创建问答编排服务；queue 为空时全部同步执行
func NewService(store *Store, searcher Searcher, answerer Answerer, recorder EvaluationSink, queue TaskEnqueuer, opts Options, logger *zap.Logger) *Service {
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:    store,
		searcher: searcher,
		answerer: answerer,
		recorder: recorder,
		queue:    queue,
		opts:     opts,
		logger:   logger,
		now:      time.Now,
	}
}

// generateJob 一次检索 + 生成所需的上下文
type generateJob struct {
	call           ai.CallOptions
	userID         string
	conversationID *uint64
	question       string
	language       string
	province       string
	history        []aiinterface.Message
	safeMode       bool
	isNew          bool
	start          time.Time
}

// Ask 处理一次提问
func (s *Service) Ask(ctx context.Context, req *AskRequest) (*AskResponse, error) {
	start := s.now()
	question, language, err := validate(req)
	if err != nil {
		return nil, err
	}
	if !s.answerer.HasAnyKey(req.CallOptions) {
		return nil, &aiinterface.ProviderError{
			Code:    aiinterface.CodeMissingAPIKey,
			Status:  http.StatusBadRequest,
			Purpose: "chat",
			Message: "API key isn't setup.",
		}
	}

	if s.opts.SafeMode {
		return s.askSafe(ctx, req, question, language, start)
	}

	var conv *ChatConversation
	if req.ConversationID != nil {
		if conv, err = s.store.Conversation(ctx, req.UserID, *req.ConversationID); err != nil {
			return nil, err
		}
	}
	isNew := conv == nil

	var history []aiinterface.Message
	if conv != nil {
		rows, err := s.store.RecentMessages(ctx, req.UserID, conv.ID, s.opts.MemoryLimit)
		if err != nil {
			return nil, err
		}
		history = toHistory(rows)
	}

	if canned, decision, inDomain := s.route(ctx, question, language, req.CallOptions); canned != "" {
		if conv == nil {
			if conv, err = s.store.CreateConversation(ctx, req.UserID, question); err != nil {
				return nil, err
			}
		}
		if err := s.store.AddExchange(ctx, req.UserID, conv.ID, question, canned); err != nil {
			return nil, err
		}
		convID := conv.ID
		s.recordCanned(ctx, req.UserID, &convID, language, question, canned, decision, inDomain, false, isNew, start)
		return &AskResponse{Answer: canned, ConversationID: &convID, Decision: decision}, nil
	}

	if conv == nil {
		if conv, err = s.store.CreateConversation(ctx, req.UserID, question); err != nil {
			return nil, err
		}
	}
	if err := s.store.AddAndTrim(ctx, req.UserID, conv.ID, RoleUser, question); err != nil {
		return nil, err
	}
	convID := conv.ID

	if s.opts.AsyncEnabled && s.queue != nil {
		payload := &tasks.ProcessChatPayload{
			UserID:         req.UserID,
			ConversationID: convID,
			Question:       question,
			Language:       language,
			Province:       req.Province,
			MemoryLimit:    s.opts.MemoryLimit,
			Call:           req.CallOptions,
		}
		err := s.queue.EnqueueChat(ctx, payload)
		if err == nil {
			return &AskResponse{ConversationID: &convID, Status: StatusProcessing}, nil
		}
		s.logger.Warn("投递问答任务失败，改为同步处理", zap.Uint64("conversation_id", convID), zap.Error(err))
	}

	return s.generate(ctx, &generateJob{
		call:           req.CallOptions,
		userID:         req.UserID,
		conversationID: &convID,
		question:       question,
		language:       language,
		province:       req.Province,
		history:        history,
		isNew:          isNew,
		start:          start,
	})
}

// askSafe 安全模式：不读写会话，不使用历史
func (s *Service) askSafe(ctx context.Context, req *AskRequest, question, language string, start time.Time) (*AskResponse, error) {
	if canned, decision, inDomain := s.route(ctx, question, language, req.CallOptions); canned != "" {
		s.recordCanned(ctx, req.UserID, nil, language, question, canned, decision, inDomain, true, true, start)
		return &AskResponse{Answer: canned, Decision: decision}, nil
	}
	return s.generate(ctx, &generateJob{
		call:     req.CallOptions,
		userID:   req.UserID,
		question: question,
		language: language,
		province: req.Province,
		safeMode: true,
		isNew:    true,
		start:    start,
	})
}

// route 紧急关键词优先，其次模型分类；返回空字符串表示进入检索问答
func (s *Service) route(ctx context.Context, question, language string, call ai.CallOptions) (string, string, bool) {
	if ai.DetectEmergency(question) {
		return ai.EmergencyResponse(language), evaluation.DecisionEmergency, true
	}
	c := s.answerer.ClassifyQuery(ctx, question, language, call)
	switch {
	case c.Category == ai.CategoryEmergency:
		return ai.EmergencyResponse(language), evaluation.DecisionEmergency, true
	case c.Category == ai.CategoryGreeting:
		return ai.GreetingResponse(language), evaluation.DecisionGreeting, false
	case c.Refuse():
		return ai.RefusalResponse(language), evaluation.DecisionRefuse, false
	}
	return "", "", true
}

func (s *Service) recordCanned(ctx context.Context, userID string, convID *uint64, language, question, answer, decision string, inDomain, safeMode, isNew bool, start time.Time) {
	metrics.ChatAnswersTotal.WithLabelValues(decision).Inc()
	s.recordEvaluation(ctx, &evaluation.Input{
		UserID:             userID,
		ConversationID:     convID,
		Language:           language,
		SafeMode:           safeMode,
		IsNewConversation:  isNew,
		Question:           question,
		Answer:             answer,
		InDomain:           inDomain,
		Decision:           decision,
		TotalTimeMs:        s.now().Sub(start).Milliseconds(),
		EmbeddingModel:     s.opts.EmbeddingModel,
		EmbeddingDimension: s.opts.EmbeddingDimension,
	})
}

// Process 执行异步问答任务；失败时向会话写入友好提示并返回错误
func (s *Service) Process(ctx context.Context, p *tasks.ProcessChatPayload) error {
	start := s.now()
	limit := p.MemoryLimit
	if limit <= 0 {
		limit = s.opts.MemoryLimit
	}

	// 用户消息已在投递前写入，历史中去掉它
	rows, err := s.store.RecentMessages(ctx, p.UserID, p.ConversationID, limit+1)
	if err != nil {
		return err
	}
	if n := len(rows); n > 0 && rows[n-1].Role == RoleUser && rows[n-1].Content == p.Question {
		rows = rows[:n-1]
	}
	if len(rows) > limit {
		rows = rows[len(rows)-limit:]
	}

	convID := p.ConversationID
	_, err = s.generate(ctx, &generateJob{
		call:           p.Call,
		userID:         p.UserID,
		conversationID: &convID,
		question:       p.Question,
		language:       p.Language,
		province:       p.Province,
		history:        toHistory(rows),
		start:          start,
	})
	if err == nil {
		return nil
	}

	if storeErr := s.store.AddAndTrim(ctx, p.UserID, convID, RoleAssistant, FriendlyError(p.Language)); storeErr != nil {
		s.logger.Error("写入失败提示失败", zap.Uint64("conversation_id", convID), zap.Error(storeErr))
	}
	return err
}

func (s *Service) generate(ctx context.Context, job *generateJob) (*AskResponse, error) {
	retrieval := s.searcher.Search(ctx, job.question, job.language)
	if retrieval == nil {
		retrieval = &rag.RetrievalResult{}
	}

	images := make([]ai.ImageInput, 0, len(retrieval.ContextsImages))
	for _, img := range retrieval.ContextsImages {
		images = append(images, ai.ImageInput{PageNumber: img.PageNumber, ImagePath: img.ImagePath})
	}

	result, err := s.answerer.Answer(ctx, &ai.AnswerRequest{
		CallOptions: job.call,
		Question:    job.question,
		Contexts:    retrieval.ContextsText,
		Images:      images,
		Language:    job.language,
		Province:    job.province,
		History:     job.history,
	})

	in := &evaluation.Input{
		UserID:             job.userID,
		ConversationID:     job.conversationID,
		Language:           job.language,
		SafeMode:           job.safeMode,
		IsNewConversation:  job.isNew,
		Question:           job.question,
		BestScore:          retrieval.BestScore,
		ContextsFound:      retrieval.ContextsFound,
		ContextsUsed:       retrieval.ContextsUsed,
		InDomain:           true,
		ChunkIDs:           retrieval.ChunkIDs,
		SourceTitles:       retrieval.SourceTitles,
		EmbeddingTimeMs:    retrieval.EmbeddingTimeMs,
		EmbeddingModel:     s.opts.EmbeddingModel,
		EmbeddingDimension: s.opts.EmbeddingDimension,
	}
	threshold := retrieval.ThresholdUsed
	in.Threshold = &threshold

	if err != nil {
		in.Decision = evaluation.DecisionError
		in.ErrorOccurred = true
		in.ErrorType = errorType(err)
		in.ErrorMessage = err.Error()
		in.TotalTimeMs = s.now().Sub(job.start).Milliseconds()
		metrics.ChatAnswersTotal.WithLabelValues(in.Decision).Inc()
		s.recordEvaluation(ctx, in)
		s.logger.Error("生成回答失败", zap.String("user_id", job.userID), zap.Error(err))
		return nil, err
	}

	if job.conversationID != nil {
		if err := s.store.AddAndTrim(ctx, job.userID, *job.conversationID, RoleAssistant, result.Answer); err != nil {
			return nil, err
		}
	}

	decision := evaluation.DecisionAnswerNoSources
	if retrieval.HasVerifiedSources {
		decision = evaluation.DecisionAnswerWithSources
	}
	llmMs := result.ElapsedMs
	in.Decision = decision
	in.Answer = result.Answer
	in.LLMTimeMs = &llmMs
	in.ChatModel = firstNonEmpty(result.Model, s.opts.ChatModel)
	in.PromptMessages = result.Messages
	in.CompletionText = result.Answer
	in.TotalTimeMs = s.now().Sub(job.start).Milliseconds()
	metrics.ChatAnswersTotal.WithLabelValues(decision).Inc()
	s.recordEvaluation(ctx, in)

	return &AskResponse{
		Answer:         result.Answer,
		ConversationID: job.conversationID,
		ContextsUsed:   retrieval.ContextsUsed,
		Decision:       decision,
		SourceTitles:   retrieval.SourceTitles,
	}, nil
}

// recordEvaluation 按配置同步写入，或投递队列失败后同步兜底
func (s *Service) recordEvaluation(ctx context.Context, in *evaluation.Input) {
	ctx = context.WithoutCancel(ctx)
	if !s.opts.EvaluationSync && s.queue != nil {
		err := s.queue.EnqueueEvaluation(ctx, in)
		if err == nil {
			return
		}
		s.logger.Warn("投递评估任务失败，改为同步写入", zap.Error(err))
	}
	if s.recorder != nil {
		s.recorder.Record(ctx, in)
	}
}

func validate(req *AskRequest) (string, string, error) {
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return "", "", ErrQuestionRequired
	}
	if utf8.RuneCountInString(question) > maxQuestionRunes {
		return "", "", ErrQuestionTooLong
	}

	language := strings.ToLower(strings.TrimSpace(req.Language))
	switch language {
	case "":
		language = "en"
	case "en", "ur":
	default:
		return "", "", ErrInvalidLanguage
	}

	if raw := strings.TrimSpace(req.Provider); raw != "" && !strings.EqualFold(raw, "auto") {
		if _, ok := ai.ParseProvider(raw); !ok {
			return "", "", ErrInvalidProvider
		}
	}
	return question, language, nil
}

func errorType(err error) string {
	var pe *aiinterface.ProviderError
	if errors.As(err, &pe) {
		return string(pe.Code)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	return "internal_error"
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
