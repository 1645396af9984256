package rag

import "context"

// Point 写入向量存储的一条向量记录
type Point struct {
	ID      string
	Vector  []float32
	Payload map[string]any
}

// ScoredPoint 相似度检索结果，Score 越高越相似
type ScoredPoint struct {
	ID      string         `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// PayloadString 读取 payload 字符串字段
func (p ScoredPoint) PayloadString(key string) string {
	return stringFromPayload(p.Payload, key)
}

// VectorStore 向量存储抽象，文本块与页面图像各使用一个集合
type VectorStore interface {
	// EnsureCollection 集合不存在时创建；已存在但维度不同返回错误
	EnsureCollection(ctx context.Context, collection string, dim int) error
	Upsert(ctx context.Context, collection string, points []Point) error
	// Search language 非空时按 language 字段过滤
	Search(ctx context.Context, collection string, vector []float32, topK int, language string) ([]ScoredPoint, error)
	DeleteBySource(ctx context.Context, collection, sourceID string) error
}

// Collections 文本与页面集合名
type Collections struct {
	Text string
	Page string
}

// DefaultCollections 默认集合名
func DefaultCollections() Collections {
	return Collections{Text: "legal_text", Page: "legal_pages"}
}

// payload 字段名
const (
	payloadSourceID   = "source_id"
	payloadChunkID    = "chunk_id"
	payloadPageID     = "page_id"
	payloadPageNumber = "page_number"
	payloadLanguage   = "language"
	payloadTitle      = "title"
	payloadSourceType = "source_type"
)

func textPayload(src *KnowledgeSource, chunkID string) map[string]any {
	return map[string]any{
		payloadSourceID:   src.ID,
		payloadChunkID:    chunkID,
		payloadLanguage:   src.Language,
		payloadTitle:      src.Title,
		payloadSourceType: string(src.SourceType),
	}
}

func pagePayload(src *KnowledgeSource, page *KnowledgePage) map[string]any {
	return map[string]any{
		payloadSourceID:   src.ID,
		payloadPageID:     page.ID,
		payloadPageNumber: page.PageNumber,
		payloadLanguage:   src.Language,
		payloadTitle:      src.Title,
		payloadSourceType: string(src.SourceType),
	}
}
