package rag

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrDuplicateContent 相同内容的文件已经上传过
	ErrDuplicateContent = errors.New("A document with the same content has already been uploaded.")
	// ErrRetryNotAllowed 当前状态不允许手动重试
	ErrRetryNotAllowed = errors.New("当前状态不允许重试")
	// ErrUnsupportedSourceType 不支持的知识源格式
	ErrUnsupportedSourceType = errors.New("不支持的知识源格式")
	// ErrInvalidURL URL 不合法
	ErrInvalidURL = errors.New("URL 不合法")
)

// UploadInput 上传文件入参
type UploadInput struct {
	Title    string
	Filename string
	Language string
	Content  io.Reader
}

// SourceService 知识源管理
type SourceService struct {
	db          *gorm.DB
	store       VectorStore
	queue       IngestEnqueuer
	collections Collections
	storageBase string
	logger      *zap.Logger
}

// NewSourceService 创建知识源管理服务
func NewSourceService(db *gorm.DB, store VectorStore, queue IngestEnqueuer, collections Collections, storageBase string, logger *zap.Logger) *SourceService {
	if collections.Text == "" || collections.Page == "" {
		collections = DefaultCollections()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SourceService{
		db:          db,
		store:       store,
		queue:       queue,
		collections: collections,
		storageBase: storageBase,
		logger:      logger,
	}
}

// Upload 保存上传文件并创建 queued 状态的知识源
func (s *SourceService) Upload(ctx context.Context, in UploadInput) (*KnowledgeSource, error) {
	ext := strings.TrimPrefix(filepath.Ext(in.Filename), ".")
	sourceType, ok := ParseSourceType(ext)
	if !ok || sourceType == SourceURL {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSourceType, ext)
	}
	if in.Content == nil {
		return nil, errors.New("上传内容为空")
	}

	content, err := io.ReadAll(in.Content)
	if err != nil {
		return nil, fmt.Errorf("读取上传内容失败: %w", err)
	}
	hash := hashContent(content)

	// 去重检查必须在创建记录之前
	if dup, err := s.hashExists(ctx, hash); err != nil {
		return nil, err
	} else if dup {
		return nil, ErrDuplicateContent
	}

	id := uuid.New().String()
	dir := filepath.Join(s.storageBase, "knowledge")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("创建存储目录失败: %w", err)
	}
	path := filepath.Join(dir, id+"."+strings.ToLower(ext))
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return nil, fmt.Errorf("保存上传文件失败: %w", err)
	}

	src := &KnowledgeSource{
		ID:          id,
		Title:       defaultTitle(in.Title, in.Filename),
		SourceType:  sourceType,
		FilePath:    path,
		Language:    defaultLanguage(in.Language),
		ContentHash: &hash,
		Status:      StatusQueued,
	}
	if err := s.db.WithContext(ctx).Create(src).Error; err != nil {
		_ = os.Remove(path)
		// 并发上传相同内容时由唯一索引兜底
		if dup, _ := s.hashExists(ctx, hash); dup {
			return nil, ErrDuplicateContent
		}
		return nil, fmt.Errorf("创建知识源失败: %w", err)
	}

	s.enqueue(ctx, src)
	return src, nil
}

// AddURL 添加网页知识源
func (s *SourceService) AddURL(ctx context.Context, title, rawURL, language string) (*KnowledgeSource, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidURL, rawURL)
	}

	if strings.TrimSpace(title) == "" {
		title = u.String()
	}
	src := &KnowledgeSource{
		Title:      strings.TrimSpace(title),
		SourceType: SourceURL,
		URL:        u.String(),
		Language:   defaultLanguage(language),
		Status:     StatusQueued,
	}
	if err := s.db.WithContext(ctx).Create(src).Error; err != nil {
		return nil, fmt.Errorf("创建知识源失败: %w", err)
	}
	s.enqueue(ctx, src)
	return src, nil
}

// Retry 管理员手动重试，不受自动重试上限约束
func (s *SourceService) Retry(ctx context.Context, id string) (*KnowledgeSource, error) {
	src, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !src.IsRetryableByUser() {
		return nil, fmt.Errorf("%w: %s", ErrRetryNotAllowed, src.Status)
	}

	if err := s.db.WithContext(ctx).Model(src).Updates(map[string]any{
		"status":        StatusQueued,
		"error_message": "",
	}).Error; err != nil {
		return nil, fmt.Errorf("更新知识源状态失败: %w", err)
	}
	src.Status = StatusQueued
	src.ErrorMessage = ""

	if s.queue != nil {
		if err := s.queue.EnqueueIngest(ctx, src.ID, 0); err != nil {
			return nil, fmt.Errorf("投递入库任务失败: %w", err)
		}
	}
	return src, nil
}

// Delete 删除知识源及其全部派生数据；向量与文件删除失败仅记录
func (s *SourceService) Delete(ctx context.Context, id string) error {
	src, err := s.Get(ctx, id)
	if err != nil {
		return err
	}

	for _, collection := range []string{s.collections.Text, s.collections.Page} {
		if err := s.store.DeleteBySource(ctx, collection, id); err != nil {
			s.logger.Warn("删除向量失败", zap.String("source_id", id), zap.String("collection", collection), zap.Error(err))
		}
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("source_id = ?", id).Delete(&KnowledgeChunk{}).Error; err != nil {
			return err
		}
		if err := tx.Where("source_id = ?", id).Delete(&KnowledgePage{}).Error; err != nil {
			return err
		}
		return tx.Delete(src).Error
	}); err != nil {
		return fmt.Errorf("删除知识源失败: %w", err)
	}

	if s.storageBase != "" {
		if err := os.RemoveAll(PageDir(s.storageBase, id)); err != nil {
			s.logger.Warn("删除页面目录失败", zap.String("source_id", id), zap.Error(err))
		}
	}
	if src.FilePath != "" {
		if err := os.Remove(src.FilePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			s.logger.Warn("删除源文件失败", zap.String("source_id", id), zap.Error(err))
		}
	}
	s.logger.Info("知识源已删除", zap.String("source_id", id))
	return nil
}

// List 按创建时间倒序列出知识源，status 为空时不过滤
func (s *SourceService) List(ctx context.Context, status SourceStatus) ([]KnowledgeSource, error) {
	var out []KnowledgeSource
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("查询知识源失败: %w", err)
	}
	return out, nil
}

// Get 获取知识源
func (s *SourceService) Get(ctx context.Context, id string) (*KnowledgeSource, error) {
	var src KnowledgeSource
	if err := s.db.WithContext(ctx).First(&src, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrSourceNotFound
		}
		return nil, fmt.Errorf("查询知识源失败: %w", err)
	}
	return &src, nil
}

func (s *SourceService) hashExists(ctx context.Context, hash string) (bool, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&KnowledgeSource{}).Where("content_hash = ?", hash).Count(&n).Error; err != nil {
		return false, fmt.Errorf("检查重复内容失败: %w", err)
	}
	return n > 0, nil
}

// enqueue 投递失败时保留 queued 状态，由周期巡检补投
func (s *SourceService) enqueue(ctx context.Context, src *KnowledgeSource) {
	if s.queue == nil {
		return
	}
	if err := s.queue.EnqueueIngest(ctx, src.ID, 0); err != nil {
		s.logger.Warn("投递入库任务失败", zap.String("source_id", src.ID), zap.Error(err))
	}
}

func defaultTitle(title, fallback string) string {
	if t := strings.TrimSpace(title); t != "" {
		return t
	}
	return filepath.Base(fallback)
}

func defaultLanguage(lang string) string {
	if l := strings.ToLower(strings.TrimSpace(lang)); l != "" {
		return l
	}
	return "en"
}
