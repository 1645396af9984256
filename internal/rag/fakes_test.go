package rag

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func setupRAGTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:rag_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(AllModels()...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func createSource(t *testing.T, db *gorm.DB, src *KnowledgeSource) *KnowledgeSource {
	t.Helper()
	if src.Title == "" {
		src.Title = "Penal Code"
	}
	if src.SourceType == "" {
		src.SourceType = SourceTXT
	}
	if src.Language == "" {
		src.Language = "en"
	}
	if src.Status == "" {
		src.Status = StatusQueued
	}
	require.NoError(t, db.Create(src).Error)
	return src
}

// memoryStore 内存向量存储，余弦相似度按点积近似
type memoryStore struct {
	mu          sync.Mutex
	dims        map[string]int
	points      map[string]map[string]Point
	deleteErr   error
	searchErr   map[string]error
	fixedScores map[string][]ScoredPoint
	searches    []string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{
		dims:      map[string]int{},
		points:    map[string]map[string]Point{},
		searchErr: map[string]error{},
	}
}

func (m *memoryStore) EnsureCollection(_ context.Context, collection string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.dims[collection]; ok && existing != dim {
		return fmt.Errorf("dimension mismatch %d != %d", existing, dim)
	}
	m.dims[collection] = dim
	if m.points[collection] == nil {
		m.points[collection] = map[string]Point{}
	}
	return nil
}

func (m *memoryStore) Upsert(_ context.Context, collection string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.points[collection] == nil {
		return ErrCollectionNotFound
	}
	for _, p := range points {
		m.points[collection][p.ID] = p
	}
	return nil
}

func (m *memoryStore) Search(_ context.Context, collection string, vector []float32, topK int, language string) ([]ScoredPoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.searches = append(m.searches, collection)
	if err := m.searchErr[collection]; err != nil {
		return nil, err
	}
	if fixed, ok := m.fixedScores[collection]; ok {
		return fixed, nil
	}
	var out []ScoredPoint
	for _, p := range m.points[collection] {
		if language != "" && p.Payload[payloadLanguage] != language {
			continue
		}
		var score float64
		for i := range min(len(vector), len(p.Vector)) {
			score += float64(vector[i] * p.Vector[i])
		}
		out = append(out, ScoredPoint{ID: p.ID, Score: score, Payload: p.Payload})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func (m *memoryStore) DeleteBySource(_ context.Context, collection, sourceID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for id, p := range m.points[collection] {
		if p.Payload[payloadSourceID] == sourceID {
			delete(m.points[collection], id)
		}
	}
	return nil
}

func (m *memoryStore) count(collection string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.points[collection])
}

// fakeTextEmbedder failures 次调用失败后恢复
type fakeTextEmbedder struct {
	mu       sync.Mutex
	dim      int
	failures int
	calls    int
	err      error
}

func (f *fakeTextEmbedder) Dimension(context.Context) (int, error) { return f.dim, nil }
func (f *fakeTextEmbedder) Model() string                           { return "fake-text" }

func (f *fakeTextEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("embedding service unavailable")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = vectorFor(text, f.dim)
	}
	return out, nil
}

// vectorFor 根据关键词生成确定性的向量
func vectorFor(text string, dim int) []float32 {
	v := make([]float32, dim)
	lower := strings.ToLower(text)
	for i, word := range []string{"theft", "contract", "marriage", "tax"} {
		if i < dim && strings.Contains(lower, word) {
			v[i] = 1
		}
	}
	for _, x := range v {
		if x != 0 {
			return v
		}
	}
	if dim > 0 {
		v[dim-1] = 0.1
	}
	return v
}

type fakeImageEmbedder struct {
	dim       int
	dimErr    error
	embedErr  error
	queryErr  error
	dimCalls  int
	embedded  int
	queryVecs []float32
}

func (f *fakeImageEmbedder) Dimension(context.Context) (int, error) {
	f.dimCalls++
	return f.dim, f.dimErr
}

func (f *fakeImageEmbedder) EmbedImages(_ context.Context, paths []string) ([][]float32, error) {
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	f.embedded += len(paths)
	out := make([][]float32, len(paths))
	for i := range paths {
		out[i] = make([]float32, f.dim)
		out[i][0] = 1
	}
	return out, nil
}

func (f *fakeImageEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	if f.queryVecs != nil {
		return f.queryVecs, nil
	}
	v := make([]float32, f.dim)
	v[0] = 1
	return v, nil
}

func (f *fakeImageEmbedder) Model() string { return "fake-page" }

type fakeExtractor struct {
	text string
	err  error
}

func (f *fakeExtractor) Extract(context.Context, *KnowledgeSource) (string, error) {
	return f.text, f.err
}

type fakeRenderer struct {
	pages int
	err   error
}

func (f *fakeRenderer) Render(_ context.Context, src *KnowledgeSource) ([]RenderedPage, error) {
	if f.err != nil {
		return nil, f.err
	}
	out := make([]RenderedPage, f.pages)
	for i := range out {
		out[i] = RenderedPage{
			PageNumber: i + 1,
			Path:       fmt.Sprintf("/tmp/source_%s/page_%d.png", src.ID, i+1),
			Width:      800,
			Height:     1000,
		}
	}
	return out, nil
}

type fakeOCR struct {
	text  string
	calls int
}

func (f *fakeOCR) Recognize(context.Context, string) (string, error) {
	f.calls++
	return f.text, nil
}

type enqueued struct {
	sourceID string
	delay    time.Duration
}

type fakeEnqueuer struct {
	mu    sync.Mutex
	tasks []enqueued
	err   error
}

func (f *fakeEnqueuer) EnqueueIngest(_ context.Context, sourceID string, delay time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, enqueued{sourceID: sourceID, delay: delay})
	return nil
}

type busyGuard struct{}

func (busyGuard) Acquire(context.Context, string) (func(), error) { return nil, ErrSourceBusy }
