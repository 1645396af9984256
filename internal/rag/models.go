package rag

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// SourceStatus 知识源的入库状态
type SourceStatus string

const (
	StatusQueued     SourceStatus = "queued"
	StatusProcessing SourceStatus = "processing"
	StatusDone       SourceStatus = "done"
	StatusFailed     SourceStatus = "failed"
	StatusInvalid    SourceStatus = "invalid" // 无分块且无页面，终态
)

// SourceType 知识源格式
type SourceType string

const (
	SourceTXT  SourceType = "txt"
	SourceCSV  SourceType = "csv"
	SourceTSV  SourceType = "tsv"
	SourceJSON SourceType = "json"
	SourcePDF  SourceType = "pdf"
	SourceDOCX SourceType = "docx"
	SourceXLSX SourceType = "xlsx"
	SourcePNG  SourceType = "png"
	SourceJPG  SourceType = "jpg"
	SourceJPEG SourceType = "jpeg"
	SourceSVG  SourceType = "svg"
	SourceURL  SourceType = "url"
)

var supportedSourceTypes = map[SourceType]struct{}{
	SourceTXT: {}, SourceCSV: {}, SourceTSV: {}, SourceJSON: {}, SourcePDF: {}, SourceDOCX: {},
	SourceXLSX: {}, SourcePNG: {}, SourceJPG: {}, SourceJPEG: {}, SourceSVG: {}, SourceURL: {},
}

// ParseSourceType 规范化文件扩展名或类型名，doc 按 docx 处理
func ParseSourceType(raw string) (SourceType, bool) {
	v := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(raw), "."))
	if v == "doc" {
		v = string(SourceDOCX)
	}
	st := SourceType(v)
	_, ok := supportedSourceTypes[st]
	return st, ok
}

// IsImage 是否为单张图片类知识源
func (t SourceType) IsImage() bool {
	return t == SourcePNG || t == SourceJPG || t == SourceJPEG
}

// KnowledgeSource 一个可入库的知识源（上传文件或 URL）
type KnowledgeSource struct {
	ID         string     `json:"id" gorm:"primaryKey;type:uuid"`
	Title      string     `json:"title" gorm:"size:500;not null"`
	SourceType SourceType `json:"sourceType" gorm:"size:20;not null"`
	FilePath   string     `json:"filePath" gorm:"type:text"`
	URL        string     `json:"url" gorm:"type:text"`
	Language   string     `json:"language" gorm:"size:10;not null;default:en;index"`

	// 去重键，非空时全局唯一
	ContentHash *string `json:"contentHash,omitempty" gorm:"size:64;uniqueIndex"`

	Status       SourceStatus `json:"status" gorm:"size:20;not null;default:queued;index"`
	ErrorMessage string       `json:"errorMessage" gorm:"type:text"`
	RetryCount   int          `json:"retryCount" gorm:"not null;default:0"`

	EmbeddingModel     string `json:"embeddingModel" gorm:"size:200"`
	EmbeddingDimension int    `json:"embeddingDimension"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (s *KnowledgeSource) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (KnowledgeSource) TableName() string { return "knowledge_sources" }

// IsRetryableByUser 管理员手动重试是否允许（不受重试上限约束）
func (s *KnowledgeSource) IsRetryableByUser() bool {
	switch s.Status {
	case StatusInvalid, StatusDone, StatusProcessing:
		return false
	default:
		return true
	}
}

// IsIngestable 入库只处理排队中或失败的知识源，invalid/done/processing 需先经手动重试
func (s *KnowledgeSource) IsIngestable() bool {
	return s.Status == StatusQueued || s.Status == StatusFailed
}

// IsAutoRetryable 周期巡检是否可以重新入队
func (s *KnowledgeSource) IsAutoRetryable(ceiling int) bool {
	if s.Status != StatusQueued && s.Status != StatusFailed {
		return false
	}
	return s.RetryCount < ceiling
}

// KnowledgeChunk 知识源切分出的文本块
type KnowledgeChunk struct {
	ID       string `json:"id" gorm:"primaryKey;type:uuid"`
	SourceID string `json:"sourceId" gorm:"type:uuid;not null;index"`

	ChunkIndex int    `json:"chunkIndex" gorm:"not null"`
	ChunkText  string `json:"chunkText" gorm:"type:text;not null"`

	EmbeddingModel     string `json:"embeddingModel" gorm:"size:200"`
	EmbeddingDimension int    `json:"embeddingDimension"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (c *KnowledgeChunk) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (KnowledgeChunk) TableName() string { return "knowledge_chunks" }

// KnowledgePage 知识源渲染出的页面图像
type KnowledgePage struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	SourceID   string `json:"sourceId" gorm:"type:uuid;not null;index"`
	PageNumber int    `json:"pageNumber" gorm:"not null"`
	ImagePath  string `json:"imagePath" gorm:"type:text;not null"`
	Width      int    `json:"width"`
	Height     int    `json:"height"`

	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime"`
}

// BeforeCreate GORM 钩子：创建前设置 ID
func (p *KnowledgePage) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

// TableName 指定表名
func (KnowledgePage) TableName() string { return "knowledge_pages" }

// AllModels 需要迁移的表
func AllModels() []any {
	return []any{&KnowledgeSource{}, &KnowledgeChunk{}, &KnowledgePage{}}
}
