package rag

import (
	"context"
	"fmt"
	"regexp"
	"sync"

	"github.com/pgvector/pgvector-go"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

var collectionNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_]+$`)

// PGVectorStore 基于PostgreSQL pgvector扩展的向量存储实现
// 每个集合对应一张 vec_<collection> 表
type PGVectorStore struct {
	db *gorm.DB

	mu      sync.Mutex
	ensured map[string]int
}

// NewPGVectorStore 创建新的pgvector存储实例
func NewPGVectorStore(db *gorm.DB) (*PGVectorStore, error) {
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("确保pgvector扩展失败: %w", err)
	}
	return &PGVectorStore{db: db, ensured: make(map[string]int)}, nil
}

func tableFor(collection string) (string, error) {
	if !collectionNamePattern.MatchString(collection) {
		return "", fmt.Errorf("非法集合名: %q", collection)
	}
	return "vec_" + collection, nil
}

// EnsureCollection 创建向量表；已存在时校验维度
func (s *PGVectorStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("集合 %s 的向量维度无效: %d", collection, dim)
	}
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if known, ok := s.ensured[collection]; ok {
		if known != dim {
			return fmt.Errorf("集合 %s 维度不匹配: 已有 %d 请求 %d", collection, known, dim)
		}
		return nil
	}

	db := s.db.WithContext(ctx)
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id uuid PRIMARY KEY,
		source_id uuid NOT NULL,
		language varchar(10),
		payload jsonb,
		embedding vector(%d) NOT NULL
	)`, table, dim)
	if err := db.Exec(ddl).Error; err != nil {
		return fmt.Errorf("创建向量表失败: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_source ON %s (source_id)", table, table)).Error; err != nil {
		return fmt.Errorf("创建索引失败: %w", err)
	}

	// atttypmod 即 vector(n) 的 n
	var existing int
	if err := db.Raw(`SELECT atttypmod FROM pg_attribute
		WHERE attrelid = ?::regclass AND attname = 'embedding'`, table).Scan(&existing).Error; err != nil {
		return fmt.Errorf("查询向量维度失败: %w", err)
	}
	if existing > 0 && existing != dim {
		return fmt.Errorf("集合 %s 维度不匹配: 已有 %d 请求 %d", collection, existing, dim)
	}

	s.ensured[collection] = dim
	return nil
}

// Upsert 批量写入向量
func (s *PGVectorStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	table, err := tableFor(collection)
	if err != nil {
		return err
	}

	stmt := fmt.Sprintf(`INSERT INTO %s (id, source_id, language, payload, embedding)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_id = EXCLUDED.source_id,
			language = EXCLUDED.language,
			payload = EXCLUDED.payload,
			embedding = EXCLUDED.embedding`, table)

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, p := range points {
			err := tx.Exec(stmt,
				p.ID,
				stringFromPayload(p.Payload, payloadSourceID),
				stringFromPayload(p.Payload, payloadLanguage),
				datatypes.JSONMap(p.Payload),
				pgvector.NewVector(p.Vector),
			).Error
			if err != nil {
				return fmt.Errorf("写入向量失败: %w", err)
			}
		}
		return nil
	})
}

// Search 余弦相似度检索，score = 1 - cosine distance
func (s *PGVectorStore) Search(ctx context.Context, collection string, vector []float32, topK int, language string) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = 5
	}
	table, err := tableFor(collection)
	if err != nil {
		return nil, err
	}

	query := s.db.WithContext(ctx).
		Table(table).
		Select("id, payload, 1 - (embedding <=> ?) AS score", pgvector.NewVector(vector))
	if language != "" {
		query = query.Where("language = ?", language)
	}

	var rows []struct {
		ID      string            `gorm:"column:id"`
		Payload datatypes.JSONMap `gorm:"column:payload"`
		Score   float64           `gorm:"column:score"`
	}
	if err := query.Order("score DESC").Limit(topK).Scan(&rows).Error; err != nil {
		return nil, fmt.Errorf("向量搜索失败: %w", err)
	}

	results := make([]ScoredPoint, 0, len(rows))
	for _, r := range rows {
		results = append(results, ScoredPoint{ID: r.ID, Score: r.Score, Payload: map[string]any(r.Payload)})
	}
	return results, nil
}

// DeleteBySource 删除知识源的全部向量
func (s *PGVectorStore) DeleteBySource(ctx context.Context, collection, sourceID string) error {
	table, err := tableFor(collection)
	if err != nil {
		return err
	}
	if !s.db.Migrator().HasTable(table) {
		return nil
	}
	return s.db.WithContext(ctx).Exec(fmt.Sprintf("DELETE FROM %s WHERE source_id = ?", table), sourceID).Error
}
