package rag

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	"legalai/internal/metrics"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrSourceNotFound 知识源不存在
	ErrSourceNotFound = errors.New("知识源不存在")
	// ErrIngestionFailed 入库失败且已记录到知识源状态
	ErrIngestionFailed = errors.New("知识源入库失败")
)

// invalidSourceMessage 无分块无页面时写入的错误信息
const invalidSourceMessage = "No text chunks or pages produced from source."

const maxErrorMessageRunes = 1000

// IngestEnqueuer 投递入库任务
type IngestEnqueuer interface {
	EnqueueIngest(ctx context.Context, sourceID string, delay time.Duration) error
}

// SkipStage 被跳过的尽力而为步骤
type SkipStage string

const (
	SkipVectorDelete SkipStage = "vector_delete"
	SkipPageDirClean SkipStage = "page_dir_clean"
	SkipExtract      SkipStage = "extract"
	SkipPageRender   SkipStage = "page_render"
	SkipPageModel    SkipStage = "page_model"
	SkipPageEmbed    SkipStage = "page_embed"
	SkipOCR          SkipStage = "ocr"
)

// Skip 一次被吞掉的失败，记录阶段与原因
type Skip struct {
	Stage  SkipStage `json:"stage"`
	Reason string    `json:"reason"`
}

// IngestOutcome 一次入库执行的结果
type IngestOutcome struct {
	SourceID   string        `json:"sourceId"`
	Status     SourceStatus  `json:"status"`
	RetryCount int           `json:"retryCount"`
	Chunks     int           `json:"chunks"`
	Pages      int           `json:"pages"`
	PageVecs   int           `json:"pageVectors"`
	Skipped    []Skip        `json:"skipped,omitempty"`
	Error      string        `json:"error,omitempty"`
	RequeueIn  time.Duration `json:"requeueIn,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// PipelineOptions 入库流水线参数
type PipelineOptions struct {
	Collections    Collections
	StorageBase    string
	TextBatchSize  int
	ImageBatchSize int
	MaxRetries     int
	EnableOCR      bool
}

// PipelineDeps 入库流水线依赖；Image/OCR/Renderer 可为空
type PipelineDeps struct {
	DB        *gorm.DB
	Store     VectorStore
	Text      TextEmbedder
	Image     PageImageEmbedder
	Renderer  PageRenderer
	OCR       OCR
	Extractor Extractor
	Chunker   *Chunker
	Breaker   *PageBreaker
	Guard     IngestGuard
	Queue     IngestEnqueuer
	Logger    *zap.Logger

	// NewBackOff 文本向量化重试间隔，默认 2s/4s…上限 20s
	NewBackOff func() backoff.BackOff
}

// Pipeline 知识源入库流水线
type Pipeline struct {
	PipelineDeps
	opts   PipelineOptions
	tracer trace.Tracer
}

// NewPipeline 创建入库流水线
func NewPipeline(deps PipelineDeps, opts PipelineOptions) *Pipeline {
	if opts.Collections.Text == "" || opts.Collections.Page == "" {
		opts.Collections = DefaultCollections()
	}
	if opts.TextBatchSize <= 0 {
		opts.TextBatchSize = 32
	}
	if opts.ImageBatchSize <= 0 {
		opts.ImageBatchSize = 8
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 5
	}
	if deps.Chunker == nil {
		deps.Chunker = NewChunker(900, 120, 5)
	}
	if deps.Breaker == nil {
		deps.Breaker = NewPageBreaker()
	}
	if deps.Guard == nil {
		deps.Guard = NoopGuard{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.NewBackOff == nil {
		deps.NewBackOff = defaultEmbedBackOff
	}
	return &Pipeline{
		PipelineDeps: deps,
		opts:         opts,
		tracer:       otel.Tracer("legalai/internal/rag"),
	}
}

func defaultEmbedBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 2 * time.Second
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxInterval = 20 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// RequeueDelay 自动重试延迟 min(2^retryCount, 60) 秒
func RequeueDelay(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	secs := math.Min(math.Pow(2, float64(retryCount)), 60)
	return time.Duration(secs) * time.Second
}

// ingestRun 单次执行中的可变状态
type ingestRun struct {
	src      *KnowledgeSource
	outcome  *IngestOutcome
	textDim  int
	chunkIdx int
}

func (r *ingestRun) skip(log *zap.Logger, stage SkipStage, err error) {
	reason := err.Error()
	r.outcome.Skipped = append(r.outcome.Skipped, Skip{Stage: stage, Reason: reason})
	metrics.IngestionSkips.WithLabelValues(string(stage)).Inc()
	log.Warn("入库步骤跳过",
		zap.String("source_id", r.src.ID),
		zap.String("stage", string(stage)),
		zap.String("reason", reason),
	)
}

// Ingest 重新生成知识源的全部分块、页面与向量，仅接受 queued/failed 状态
// 执行失败会写入 failed 状态并按需延迟重新入队，返回的错误包装 ErrIngestionFailed
func (p *Pipeline) Ingest(ctx context.Context, sourceID string) (*IngestOutcome, error) {
	ctx, span := p.tracer.Start(ctx, "rag.Ingest", trace.WithAttributes(attribute.String("source_id", sourceID)))
	defer span.End()

	release, err := p.Guard.Acquire(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	defer release()

	var src KnowledgeSource
	if err := p.DB.WithContext(ctx).First(&src, "id = ?", sourceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("查询知识源失败: %w", err)
	}
	if !src.IsIngestable() {
		return nil, fmt.Errorf("%w: %s", ErrRetryNotAllowed, src.Status)
	}

	start := time.Now()
	run := &ingestRun{src: &src, outcome: &IngestOutcome{SourceID: src.ID}}
	log := p.Logger.With(zap.String("source_id", src.ID), zap.String("source_type", string(src.SourceType)))

	src.RetryCount++
	if err := p.DB.WithContext(ctx).Model(&src).Updates(map[string]any{
		"status":        StatusProcessing,
		"error_message": "",
		"retry_count":   src.RetryCount,
	}).Error; err != nil {
		return nil, fmt.Errorf("更新知识源状态失败: %w", err)
	}
	run.outcome.RetryCount = src.RetryCount
	log.Info("开始入库", zap.Int("retry_count", src.RetryCount))

	runErr := p.clearDerived(ctx, run, log)
	if runErr == nil {
		runErr = p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			return p.generate(ctx, tx, run, log)
		})
	}

	run.outcome.Duration = time.Since(start)
	metrics.IngestionDuration.WithLabelValues(string(src.SourceType)).Observe(run.outcome.Duration.Seconds())

	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, runErr.Error())
		return run.outcome, p.fail(ctx, run, runErr, log)
	}
	return run.outcome, p.finish(ctx, run, log)
}

// clearDerived 删除旧的分块/页面行与向量；向量与页面目录删除失败仅记录
func (p *Pipeline) clearDerived(ctx context.Context, run *ingestRun, log *zap.Logger) error {
	id := run.src.ID
	if err := p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&KnowledgeChunk{}).Error; err != nil {
			return err
		}
		return tx.Where("source_id = ?", id).Delete(&KnowledgePage{}).Error
	}); err != nil {
		return fmt.Errorf("清理旧分块失败: %w", err)
	}

	for _, collection := range []string{p.opts.Collections.Text, p.opts.Collections.Page} {
		if err := p.Store.DeleteBySource(ctx, collection, id); err != nil {
			run.skip(log, SkipVectorDelete, fmt.Errorf("%s: %w", collection, err))
		}
	}
	if p.opts.StorageBase != "" {
		if err := os.RemoveAll(PageDir(p.opts.StorageBase, id)); err != nil {
			run.skip(log, SkipPageDirClean, err)
		}
	}
	return nil
}

// generate 抽取、分块、向量化；在同一事务内写入分块与页面行
func (p *Pipeline) generate(ctx context.Context, tx *gorm.DB, run *ingestRun, log *zap.Logger) error {
	text := p.extract(ctx, run, log)
	chunks := p.Chunker.Split(text)
	if err := p.writeChunks(ctx, tx, run, chunks); err != nil {
		return err
	}

	pages := p.render(ctx, run, log)
	pageDim, ready, err := p.pageModel(ctx, run, log, len(pages) > 0)
	if err != nil {
		return err
	}
	for i := 0; i < len(pages); i += p.opts.ImageBatchSize {
		batch := pages[i:min(i+p.opts.ImageBatchSize, len(pages))]
		if err := p.writePageBatch(ctx, tx, run, log, batch, ready && pageDim > 0); err != nil {
			return err
		}
	}

	// 无文本但有页面时，对页面做 OCR 兜底
	if len(chunks) == 0 && len(pages) > 0 {
		ocrText := p.ocrPages(ctx, run, log, pages, !ready)
		if ocrText != "" {
			if err := p.writeChunks(ctx, tx, run, p.Chunker.Split(ocrText)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *Pipeline) extract(ctx context.Context, run *ingestRun, log *zap.Logger) string {
	if p.Extractor == nil {
		return ""
	}
	text, err := p.Extractor.Extract(ctx, run.src)
	if err != nil {
		run.skip(log, SkipExtract, err)
		return ""
	}
	return text
}

func (p *Pipeline) ensureTextDim(ctx context.Context, run *ingestRun) (int, error) {
	if run.textDim > 0 {
		return run.textDim, nil
	}
	dim, err := p.Text.Dimension(ctx)
	if err != nil {
		return 0, fmt.Errorf("获取文本向量维度失败: %w", err)
	}
	if dim <= 0 {
		return 0, fmt.Errorf("文本向量维度未配置且无法推断")
	}
	if err := p.Store.EnsureCollection(ctx, p.opts.Collections.Text, dim); err != nil {
		return 0, err
	}
	run.textDim = dim
	return dim, nil
}

// writeChunks 分批写入分块行后立刻向量化并写入向量库
func (p *Pipeline) writeChunks(ctx context.Context, tx *gorm.DB, run *ingestRun, chunks []string) error {
	if len(chunks) == 0 {
		return nil
	}
	dim, err := p.ensureTextDim(ctx, run)
	if err != nil {
		return err
	}

	for i := 0; i < len(chunks); i += p.opts.TextBatchSize {
		batch := chunks[i:min(i+p.opts.TextBatchSize, len(chunks))]

		rows := make([]*KnowledgeChunk, len(batch))
		for j, text := range batch {
			rows[j] = &KnowledgeChunk{
				SourceID:           run.src.ID,
				ChunkIndex:         run.chunkIdx,
				ChunkText:          text,
				EmbeddingModel:     p.Text.Model(),
				EmbeddingDimension: dim,
			}
			run.chunkIdx++
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("写入分块失败: %w", err)
		}

		vectors, err := p.embedWithRetry(ctx, batch)
		if err != nil {
			return err
		}

		points := make([]Point, len(rows))
		for j, row := range rows {
			points[j] = Point{ID: row.ID, Vector: vectors[j], Payload: textPayload(run.src, row.ID)}
		}
		if err := p.Store.Upsert(ctx, p.opts.Collections.Text, points); err != nil {
			return fmt.Errorf("写入文本向量失败: %w", err)
		}
		run.outcome.Chunks += len(rows)
	}
	return nil
}

// embedWithRetry 最多尝试 3 次
func (p *Pipeline) embedWithRetry(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	policy := backoff.WithContext(backoff.WithMaxRetries(p.NewBackOff(), 2), ctx)
	err := backoff.RetryNotify(func() error {
		v, err := p.Text.Embed(ctx, texts)
		if err != nil {
			return err
		}
		if len(v) != len(texts) {
			return fmt.Errorf("向量数量不匹配: 期望%d, 实际%d", len(texts), len(v))
		}
		vectors = v
		return nil
	}, policy, func(err error, wait time.Duration) {
		p.Logger.Warn("文本向量化失败，稍后重试", zap.Error(err), zap.Duration("wait", wait))
	})
	if err != nil {
		return nil, fmt.Errorf("文本向量化失败: %w", err)
	}
	return vectors, nil
}

func (p *Pipeline) render(ctx context.Context, run *ingestRun, log *zap.Logger) []RenderedPage {
	if p.Renderer == nil {
		return nil
	}
	pages, err := p.Renderer.Render(ctx, run.src)
	if err != nil {
		run.skip(log, SkipPageRender, err)
		return nil
	}
	return pages
}

// pageModel 确认图像模型可用；模型加载失败会打开熔断器
func (p *Pipeline) pageModel(ctx context.Context, run *ingestRun, log *zap.Logger, hasPages bool) (int, bool, error) {
	if !hasPages {
		return 0, false, nil
	}
	if p.Image == nil {
		run.skip(log, SkipPageModel, errors.New("未配置图像向量模型"))
		return 0, false, nil
	}
	if p.Breaker.Open() {
		run.skip(log, SkipPageModel, fmt.Errorf("图像模型已熔断: %s", p.Breaker.Reason()))
		return 0, false, nil
	}

	dim, err := p.Image.Dimension(ctx)
	if err == nil && dim <= 0 {
		err = errors.New("图像向量维度未配置")
	}
	if err != nil {
		p.Breaker.Trip(err.Error())
		run.skip(log, SkipPageModel, err)
		return 0, false, nil
	}
	if err := p.Store.EnsureCollection(ctx, p.opts.Collections.Page, dim); err != nil {
		return 0, false, err
	}
	return dim, true, nil
}

// writePageBatch 页面行总是写入；向量化失败时该批页面没有向量
func (p *Pipeline) writePageBatch(ctx context.Context, tx *gorm.DB, run *ingestRun, log *zap.Logger, batch []RenderedPage, embed bool) error {
	rows := make([]*KnowledgePage, len(batch))
	paths := make([]string, len(batch))
	for i, rp := range batch {
		rows[i] = &KnowledgePage{
			SourceID:   run.src.ID,
			PageNumber: rp.PageNumber,
			ImagePath:  rp.Path,
			Width:      rp.Width,
			Height:     rp.Height,
		}
		paths[i] = rp.Path
	}
	if err := tx.Create(&rows).Error; err != nil {
		return fmt.Errorf("写入页面失败: %w", err)
	}
	run.outcome.Pages += len(rows)

	if !embed {
		return nil
	}
	if p.Breaker.Open() {
		run.skip(log, SkipPageModel, fmt.Errorf("图像模型已熔断: %s", p.Breaker.Reason()))
		return nil
	}
	vectors, err := p.Image.EmbedImages(ctx, paths)
	if err == nil && len(vectors) != len(rows) {
		err = fmt.Errorf("页面向量数量不匹配: 期望%d, 实际%d", len(rows), len(vectors))
	}
	if err != nil {
		if errors.Is(err, ErrImageModelUnavailable) {
			p.Breaker.Trip(err.Error())
		}
		run.skip(log, SkipPageEmbed, err)
		return nil
	}

	points := make([]Point, len(rows))
	for i, row := range rows {
		points[i] = Point{ID: row.ID, Vector: vectors[i], Payload: pagePayload(run.src, row)}
	}
	if err := p.Store.Upsert(ctx, p.opts.Collections.Page, points); err != nil {
		return fmt.Errorf("写入页面向量失败: %w", err)
	}
	run.outcome.PageVecs += len(points)
	return nil
}

// ocrPages force 为 true 时忽略 EnableOCR 开关
func (p *Pipeline) ocrPages(ctx context.Context, run *ingestRun, log *zap.Logger, pages []RenderedPage, force bool) string {
	if p.OCR == nil || (!force && !p.opts.EnableOCR) {
		return ""
	}
	texts := make([]string, 0, len(pages))
	for _, page := range pages {
		text, err := p.OCR.Recognize(ctx, page.Path)
		if err != nil {
			run.skip(log, SkipOCR, fmt.Errorf("page %d: %w", page.PageNumber, err))
			continue
		}
		texts = append(texts, text)
	}
	return strings.TrimSpace(strings.Join(texts, "\n"))
}

func (p *Pipeline) finish(ctx context.Context, run *ingestRun, log *zap.Logger) error {
	src := run.src
	updates := map[string]any{}
	if run.outcome.Chunks == 0 && run.outcome.Pages == 0 {
		updates["status"] = StatusInvalid
		updates["error_message"] = invalidSourceMessage
		run.outcome.Status = StatusInvalid
		run.outcome.Error = invalidSourceMessage
	} else {
		dim := run.textDim
		if dim == 0 {
			dim, _ = p.Text.Dimension(ctx)
		}
		updates["status"] = StatusDone
		updates["error_message"] = ""
		updates["embedding_model"] = p.Text.Model()
		updates["embedding_dimension"] = dim
		run.outcome.Status = StatusDone
	}

	if err := p.DB.WithContext(ctx).Model(src).Updates(updates).Error; err != nil {
		return fmt.Errorf("更新知识源状态失败: %w", err)
	}

	metrics.IngestionRunsTotal.WithLabelValues(string(src.SourceType), string(run.outcome.Status)).Inc()
	metrics.IngestionArtifacts.WithLabelValues("chunk").Add(float64(run.outcome.Chunks))
	metrics.IngestionArtifacts.WithLabelValues("page").Add(float64(run.outcome.Pages))
	log.Info("入库完成",
		zap.String("status", string(run.outcome.Status)),
		zap.Int("chunks", run.outcome.Chunks),
		zap.Int("pages", run.outcome.Pages),
		zap.Int("page_vectors", run.outcome.PageVecs),
		zap.Int("skipped", len(run.outcome.Skipped)),
		zap.Duration("duration", run.outcome.Duration),
	)
	return nil
}

// fail 记录失败；retry_count 未达上限时置回 queued 并延迟重新入队
func (p *Pipeline) fail(ctx context.Context, run *ingestRun, cause error, log *zap.Logger) error {
	src := run.src
	ctx = context.WithoutCancel(ctx)
	msg := truncateRunes(cause.Error(), maxErrorMessageRunes)
	run.outcome.Error = msg
	run.outcome.Chunks, run.outcome.Pages, run.outcome.PageVecs = 0, 0, 0

	if err := p.DB.WithContext(ctx).Model(src).Updates(map[string]any{
		"status":        StatusFailed,
		"error_message": msg,
	}).Error; err != nil {
		log.Error("记录入库失败状态失败", zap.Error(err))
	}
	run.outcome.Status = StatusFailed
	metrics.IngestionRunsTotal.WithLabelValues(string(src.SourceType), string(StatusFailed)).Inc()
	log.Error("入库失败", zap.Int("retry_count", src.RetryCount), zap.String("error", msg))

	if src.RetryCount < p.opts.MaxRetries && p.Queue != nil {
		delay := RequeueDelay(src.RetryCount)
		if err := p.DB.WithContext(ctx).Model(src).Update("status", StatusQueued).Error; err != nil {
			log.Error("重置为 queued 失败", zap.Error(err))
		} else if err := p.Queue.EnqueueIngest(ctx, src.ID, delay); err != nil {
			log.Error("重新入队失败", zap.Error(err))
		} else {
			run.outcome.Status = StatusQueued
			run.outcome.RequeueIn = delay
			metrics.IngestionRequeues.Inc()
			log.Info("已延迟重新入队", zap.Duration("delay", delay))
		}
	}
	return fmt.Errorf("%w: %s", ErrIngestionFailed, msg)
}

// RetryStaleSources 将 queued/failed 且未达重试上限的知识源立即重新入队，返回入队数量
func (p *Pipeline) RetryStaleSources(ctx context.Context) (int, error) {
	var stale []KnowledgeSource
	if err := p.DB.WithContext(ctx).
		Where("status IN ?", []SourceStatus{StatusQueued, StatusFailed}).
		Where("retry_count < ?", p.opts.MaxRetries).
		Order("created_at").
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("查询待重试知识源失败: %w", err)
	}
	if p.Queue == nil {
		return 0, errors.New("未配置任务队列")
	}

	var errs []error
	enqueued := 0
	for _, src := range stale {
		if !src.IsAutoRetryable(p.opts.MaxRetries) {
			continue
		}
		if err := p.Queue.EnqueueIngest(ctx, src.ID, 0); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.ID, err))
			continue
		}
		enqueued++
	}
	p.Logger.Info("待重试知识源已入队", zap.Int("count", enqueued), zap.Int("candidates", len(stale)))
	return enqueued, errors.Join(errs...)
}
