package rag

import (
	"context"
	"errors"
	"strconv"
	"time"

	"legalai/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// RetrieverOptions 混合检索参数
type RetrieverOptions struct {
	Collections      Collections
	TextTopK         int
	PageTopK         int
	ContextTextK     int
	ContextImageK    int
	RerankCandidates int
	TextThreshold    float64
	PageThreshold    float64
	PageEnabled      bool
}

// DefaultRetrieverOptions 默认检索参数
func DefaultRetrieverOptions() RetrieverOptions {
	return RetrieverOptions{
		Collections:      DefaultCollections(),
		TextTopK:         12,
		PageTopK:         6,
		ContextTextK:     5,
		ContextImageK:    3,
		RerankCandidates: 20,
		TextThreshold:    0.2,
		PageThreshold:    0.2,
		PageEnabled:      true,
	}
}

// RetrieverDeps 检索依赖；Image 与 Reranker 可为空
type RetrieverDeps struct {
	DB       *gorm.DB
	Store    VectorStore
	Text     TextEmbedder
	Image    PageImageEmbedder
	Reranker Reranker
	Breaker  *PageBreaker
	Logger   *zap.Logger
}

// HybridRetriever 文本 + 页面图像混合检索
type HybridRetriever struct {
	RetrieverDeps
	opts   RetrieverOptions
	tracer trace.Tracer
}

// NewHybridRetriever 创建混合检索器
func NewHybridRetriever(deps RetrieverDeps, opts RetrieverOptions) *HybridRetriever {
	def := DefaultRetrieverOptions()
	if opts.Collections.Text == "" || opts.Collections.Page == "" {
		opts.Collections = def.Collections
	}
	if opts.TextTopK <= 0 {
		opts.TextTopK = def.TextTopK
	}
	if opts.PageTopK <= 0 {
		opts.PageTopK = def.PageTopK
	}
	if opts.ContextTextK <= 0 {
		opts.ContextTextK = def.ContextTextK
	}
	if opts.ContextImageK <= 0 {
		opts.ContextImageK = def.ContextImageK
	}
	if deps.Breaker == nil {
		deps.Breaker = NewPageBreaker()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &HybridRetriever{
		RetrieverDeps: deps,
		opts:          opts,
		tracer:        otel.Tracer("legalai/internal/rag"),
	}
}

// rerankCap 参与重排的候选数上限
func (r *HybridRetriever) rerankCap() int {
	limit := max(r.opts.TextTopK, r.opts.ContextTextK)
	if r.opts.RerankCandidates > 0 {
		limit = min(limit, r.opts.RerankCandidates)
	}
	return limit
}

// Search 执行混合检索；任一模态失败只记录日志，不返回错误
func (r *HybridRetriever) Search(ctx context.Context, question, language string) *RetrievalResult {
	ctx, span := r.tracer.Start(ctx, "rag.Search", trace.WithAttributes(attribute.String("language", language)))
	defer span.End()
	start := time.Now()

	embedStart := time.Now()
	textHits := r.searchText(ctx, question, language)
	pageHits := r.searchPages(ctx, question, language)

	res := &RetrievalResult{EmbeddingTimeMs: time.Since(embedStart).Milliseconds()}
	res.TextCandidates = r.loadChunks(ctx, textHits)
	res.PageCandidates = r.loadPages(ctx, pageHits)

	ranked := r.rerank(ctx, question, res.TextCandidates)
	assembleContext(res, ranked, r.opts)

	elapsed := time.Since(start)
	metrics.RAGSearchesTotal.WithLabelValues(strconv.FormatBool(res.HasVerifiedSources)).Inc()
	metrics.RAGSearchDuration.Observe(elapsed.Seconds())
	span.SetAttributes(
		attribute.Int("text_hits", len(res.TextCandidates)),
		attribute.Int("page_hits", len(res.PageCandidates)),
		attribute.Bool("verified", res.HasVerifiedSources),
	)
	r.Logger.Info("混合检索完成",
		zap.Int("text_hits", len(res.TextCandidates)),
		zap.Int("page_hits", len(res.PageCandidates)),
		zap.Bool("verified", res.HasVerifiedSources),
		zap.Int64("ms", elapsed.Milliseconds()),
	)
	return res
}

func (r *HybridRetriever) searchText(ctx context.Context, question, language string) []ScoredPoint {
	hits, err := func() ([]ScoredPoint, error) {
		dim, err := r.Text.Dimension(ctx)
		if err != nil {
			return nil, err
		}
		if dim <= 0 {
			return nil, errors.New("文本向量维度未配置")
		}
		if err := r.Store.EnsureCollection(ctx, r.opts.Collections.Text, dim); err != nil {
			return nil, err
		}
		vectors, err := r.Text.Embed(ctx, []string{question})
		if err != nil {
			return nil, err
		}
		if len(vectors) == 0 {
			return nil, errors.New("问题向量为空")
		}
		return r.Store.Search(ctx, r.opts.Collections.Text, vectors[0], r.opts.TextTopK, language)
	}()
	if err != nil {
		metrics.RAGModalityFailures.WithLabelValues("text").Inc()
		r.Logger.Warn("文本检索失败", zap.Error(err))
		return nil
	}
	return hits
}

func (r *HybridRetriever) searchPages(ctx context.Context, question, language string) []ScoredPoint {
	if !r.opts.PageEnabled || r.Image == nil || r.Breaker.Open() {
		return nil
	}

	dim, err := r.Image.Dimension(ctx)
	if err == nil && dim <= 0 {
		err = errors.New("图像向量维度未配置")
	}
	if err != nil {
		// 模型加载失败后本进程内不再尝试页面检索
		r.Breaker.Trip(err.Error())
		metrics.RAGModalityFailures.WithLabelValues("page").Inc()
		r.Logger.Warn("页面检索已熔断", zap.Error(err))
		return nil
	}

	hits, err := func() ([]ScoredPoint, error) {
		if err := r.Store.EnsureCollection(ctx, r.opts.Collections.Page, dim); err != nil {
			return nil, err
		}
		vec, err := r.Image.EmbedQuery(ctx, question)
		if err != nil {
			return nil, err
		}
		return r.Store.Search(ctx, r.opts.Collections.Page, vec, r.opts.PageTopK, language)
	}()
	if err != nil {
		if errors.Is(err, ErrImageModelUnavailable) {
			r.Breaker.Trip(err.Error())
		}
		metrics.RAGModalityFailures.WithLabelValues("page").Inc()
		r.Logger.Warn("页面检索失败", zap.Error(err))
		return nil
	}
	return hits
}

// loadChunks 按命中顺序取回分块文本，库中不存在的命中被丢弃
func (r *HybridRetriever) loadChunks(ctx context.Context, hits []ScoredPoint) []TextCandidate {
	if len(hits) == 0 {
		return []TextCandidate{}
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	var rows []KnowledgeChunk
	if err := r.DB.WithContext(ctx).Select("id", "source_id", "chunk_text").Where("id IN ?", ids).Find(&rows).Error; err != nil {
		r.Logger.Warn("读取分块失败", zap.Error(err))
		return []TextCandidate{}
	}
	byID := make(map[string]KnowledgeChunk, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	out := make([]TextCandidate, 0, len(hits))
	for _, h := range hits {
		row, ok := byID[h.ID]
		if !ok || row.ChunkText == "" {
			continue
		}
		out = append(out, TextCandidate{
			ChunkID:  row.ID,
			SourceID: row.SourceID,
			Title:    h.PayloadString(payloadTitle),
			Text:     row.ChunkText,
			Score:    h.Score,
		})
	}
	return out
}

func (r *HybridRetriever) loadPages(ctx context.Context, hits []ScoredPoint) []ImageContext {
	if len(hits) == 0 {
		return []ImageContext{}
	}
	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	var rows []KnowledgePage
	if err := r.DB.WithContext(ctx).Where("id IN ?", ids).Find(&rows).Error; err != nil {
		r.Logger.Warn("读取页面失败", zap.Error(err))
		return []ImageContext{}
	}
	byID := make(map[string]KnowledgePage, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	out := make([]ImageContext, 0, len(hits))
	for _, h := range hits {
		row, ok := byID[h.ID]
		if !ok {
			continue
		}
		out = append(out, ImageContext{
			PageID:     row.ID,
			SourceID:   row.SourceID,
			Title:      h.PayloadString(payloadTitle),
			ImagePath:  row.ImagePath,
			PageNumber: row.PageNumber,
			Score:      h.Score,
		})
	}
	return out
}

// rerank 只重排前 rerankCap 个候选；重排失败保持原顺序
func (r *HybridRetriever) rerank(ctx context.Context, question string, cands []TextCandidate) []TextCandidate {
	if len(cands) == 0 || r.Reranker == nil {
		return cands
	}
	pool := cands[:min(r.rerankCap(), len(cands))]
	passages := make([]string, len(pool))
	for i, c := range pool {
		passages[i] = c.Text
	}

	scores, err := r.Reranker.Rerank(ctx, question, passages)
	if err != nil {
		metrics.RAGModalityFailures.WithLabelValues("rerank").Inc()
		r.Logger.Warn("重排失败，保持向量检索顺序", zap.Error(err))
		return cands
	}

	out := make([]TextCandidate, 0, len(scores))
	for _, s := range scores {
		if s.Index < 0 || s.Index >= len(pool) {
			continue
		}
		c := pool[s.Index]
		score := s.Score
		c.RerankScore = &score
		out = append(out, c)
	}
	return out
}
