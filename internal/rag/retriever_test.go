package rag

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

type reverseReranker struct {
	err   error
	calls int
	seen  int
}

func (r *reverseReranker) Rerank(_ context.Context, _ string, passages []string) ([]RerankScore, error) {
	r.calls++
	r.seen = len(passages)
	if r.err != nil {
		return nil, r.err
	}
	out := make([]RerankScore, len(passages))
	for i := range passages {
		out[i] = RerankScore{Index: len(passages) - 1 - i, Score: float64(i)}
	}
	return out, nil
}

type retrieverFixture struct {
	db    *gorm.DB
	store *memoryStore
	text  *fakeTextEmbedder
	image *fakeImageEmbedder
	src   *KnowledgeSource
}

func newRetrieverFixture(t *testing.T) *retrieverFixture {
	f := &retrieverFixture{
		db:    setupRAGTestDB(t),
		store: newMemoryStore(),
		text:  &fakeTextEmbedder{dim: 4},
		image: &fakeImageEmbedder{dim: 4},
	}
	f.src = createSource(t, f.db, &KnowledgeSource{Status: StatusDone, Title: "Pakistan Penal Code"})
	require.NoError(t, f.store.EnsureCollection(context.Background(), "legal_text", 4))
	require.NoError(t, f.store.EnsureCollection(context.Background(), "legal_pages", 4))
	return f
}

// addChunks 写入分块行与对应的固定分数命中
func (f *retrieverFixture) addChunks(t *testing.T, scores ...float64) []KnowledgeChunk {
	t.Helper()
	var rows []KnowledgeChunk
	var hits []ScoredPoint
	for i, score := range scores {
		row := KnowledgeChunk{SourceID: f.src.ID, ChunkIndex: i, ChunkText: fmt.Sprintf("Section %d\n\n\n\nchunk %d about theft", i+1, i)}
		require.NoError(t, f.db.Create(&row).Error)
		rows = append(rows, row)
		hits = append(hits, ScoredPoint{ID: row.ID, Score: score, Payload: textPayload(f.src, row.ID)})
	}
	if f.store.fixedScores == nil {
		f.store.fixedScores = map[string][]ScoredPoint{}
	}
	f.store.fixedScores["legal_text"] = hits
	return rows
}

func (f *retrieverFixture) addPages(t *testing.T, scores ...float64) []KnowledgePage {
	t.Helper()
	var rows []KnowledgePage
	var hits []ScoredPoint
	for i, score := range scores {
		row := KnowledgePage{SourceID: f.src.ID, PageNumber: i + 1, ImagePath: fmt.Sprintf("/data/page_%d.png", i+1)}
		require.NoError(t, f.db.Create(&row).Error)
		rows = append(rows, row)
		hits = append(hits, ScoredPoint{ID: row.ID, Score: score, Payload: pagePayload(f.src, &row)})
	}
	if f.store.fixedScores == nil {
		f.store.fixedScores = map[string][]ScoredPoint{}
	}
	f.store.fixedScores["legal_pages"] = hits
	return rows
}

func (f *retrieverFixture) build(t *testing.T, reranker Reranker, breaker *PageBreaker, mutate func(*RetrieverOptions)) *HybridRetriever {
	opts := DefaultRetrieverOptions()
	if mutate != nil {
		mutate(&opts)
	}
	deps := RetrieverDeps{
		DB:      f.db,
		Store:   f.store,
		Text:    f.text,
		Breaker: breaker,
		Logger:  zaptest.NewLogger(t),
	}
	if f.image != nil {
		deps.Image = f.image
	}
	if reranker != nil {
		deps.Reranker = reranker
	}
	return NewHybridRetriever(deps, opts)
}

func TestHybridSearchVerified(t *testing.T) {
	f := newRetrieverFixture(t)
	chunks := f.addChunks(t, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4, 0.3)
	pages := f.addPages(t, 0.5, 0.4, 0.3, 0.2)

	r := f.build(t, nil, nil, nil)
	res := r.Search(context.Background(), "what is theft", "en")

	require.True(t, res.HasVerifiedSources)
	assert.Len(t, res.TextCandidates, 7)
	assert.Len(t, res.PageCandidates, 4)
	require.Len(t, res.ContextsText, 5)
	require.Len(t, res.ContextsImages, 3)
	assert.Equal(t, "Section 1\n\nchunk 0 about theft", res.ContextsText[0])
	assert.Equal(t, chunks[0].ID, res.ChunkIDs[0])
	assert.Equal(t, []string{pages[0].ID, pages[1].ID, pages[2].ID}, res.PageIDs)
	assert.Equal(t, 11, res.ContextsFound)
	assert.Equal(t, 8, res.ContextsUsed)
	assert.InDelta(t, 0.9, *res.BestTextScore, 1e-9)
	assert.InDelta(t, 0.5, *res.BestPageScore, 1e-9)
	assert.InDelta(t, 0.9, *res.BestScore, 1e-9)
	assert.Equal(t, 0.2, res.ThresholdUsed)
	assert.Equal(t, []string{"Pakistan Penal Code"}, res.SourceTitles)
}

func TestHybridSearchUnverified(t *testing.T) {
	f := newRetrieverFixture(t)
	f.addChunks(t, 0.15, 0.1)
	f.addPages(t, 0.05)

	r := f.build(t, nil, nil, nil)
	res := r.Search(context.Background(), "weather in lahore", "")

	assert.False(t, res.HasVerifiedSources)
	assert.Empty(t, res.ContextsText)
	assert.Empty(t, res.ContextsImages)
	assert.Empty(t, res.ChunkIDs)
	assert.Empty(t, res.PageIDs)
	assert.Zero(t, res.ContextsUsed)
	assert.Equal(t, 3, res.ContextsFound)
	assert.Len(t, res.TextCandidates, 2)
	assert.InDelta(t, 0.15, *res.BestScore, 1e-9)
}

func TestHybridSearchThresholdUsed(t *testing.T) {
	mutate := func(o *RetrieverOptions) {
		o.TextThreshold = 0.3
		o.PageThreshold = 0.4
	}

	t.Run("无命中时页面阈值胜出", func(t *testing.T) {
		f := newRetrieverFixture(t)
		res := f.build(t, nil, nil, mutate).Search(context.Background(), "q", "")
		assert.Nil(t, res.BestScore)
		assert.Equal(t, 0.4, res.ThresholdUsed)
		assert.False(t, res.HasVerifiedSources)
	})

	t.Run("文本分数更高", func(t *testing.T) {
		f := newRetrieverFixture(t)
		f.addChunks(t, 0.35)
		f.addPages(t, 0.1)
		res := f.build(t, nil, nil, mutate).Search(context.Background(), "q", "")
		assert.Equal(t, 0.3, res.ThresholdUsed)
		assert.True(t, res.HasVerifiedSources)
	})

	t.Run("页面分数达标即验证通过", func(t *testing.T) {
		f := newRetrieverFixture(t)
		f.addChunks(t, 0.1)
		f.addPages(t, 0.45)
		res := f.build(t, nil, nil, mutate).Search(context.Background(), "q", "")
		assert.Equal(t, 0.4, res.ThresholdUsed)
		assert.True(t, res.HasVerifiedSources)
		assert.Len(t, res.ContextsText, 1)
	})
}

func TestHybridSearchRerank(t *testing.T) {
	t.Run("重排调整顺序", func(t *testing.T) {
		f := newRetrieverFixture(t)
		chunks := f.addChunks(t, 0.9, 0.8, 0.7)
		rr := &reverseReranker{}
		res := f.build(t, rr, nil, nil).Search(context.Background(), "theft", "")
		assert.Equal(t, 1, rr.calls)
		assert.Equal(t, []string{chunks[2].ID, chunks[1].ID, chunks[0].ID}, res.ChunkIDs)
		// 最高分仍取向量相似度
		assert.InDelta(t, 0.9, *res.BestTextScore, 1e-9)
	})

	t.Run("重排候选数受上限约束", func(t *testing.T) {
		f := newRetrieverFixture(t)
		f.addChunks(t, 0.9, 0.8, 0.7, 0.6, 0.5, 0.4)
		rr := &reverseReranker{}
		f.build(t, rr, nil, func(o *RetrieverOptions) { o.RerankCandidates = 4 }).
			Search(context.Background(), "theft", "")
		assert.Equal(t, 4, rr.seen)
	})

	t.Run("重排失败保持原顺序", func(t *testing.T) {
		f := newRetrieverFixture(t)
		chunks := f.addChunks(t, 0.9, 0.8)
		rr := &reverseReranker{err: errors.New("reranker down")}
		res := f.build(t, rr, nil, nil).Search(context.Background(), "theft", "")
		assert.Equal(t, []string{chunks[0].ID, chunks[1].ID}, res.ChunkIDs)
	})
}

func TestHybridSearchPageBreaker(t *testing.T) {
	f := newRetrieverFixture(t)
	f.addChunks(t, 0.9)
	f.addPages(t, 0.9)
	f.image.dimErr = errors.New("model weights missing")
	breaker := NewPageBreaker()
	r := f.build(t, nil, breaker, nil)

	res := r.Search(context.Background(), "theft", "")
	assert.True(t, breaker.Open())
	assert.Empty(t, res.PageCandidates)
	assert.True(t, res.HasVerifiedSources)

	r.Search(context.Background(), "theft", "")
	assert.Equal(t, 1, f.image.dimCalls)
}

func TestHybridSearchModalityFailures(t *testing.T) {
	t.Run("文本检索失败时仍返回页面", func(t *testing.T) {
		f := newRetrieverFixture(t)
		f.addPages(t, 0.6)
		f.text.err = errors.New("embedding down")
		res := f.build(t, nil, nil, nil).Search(context.Background(), "theft", "")
		assert.Empty(t, res.TextCandidates)
		assert.Len(t, res.ContextsImages, 1)
		assert.True(t, res.HasVerifiedSources)
	})

	t.Run("页面检索关闭", func(t *testing.T) {
		f := newRetrieverFixture(t)
		f.addPages(t, 0.6)
		res := f.build(t, nil, nil, func(o *RetrieverOptions) { o.PageEnabled = false }).
			Search(context.Background(), "theft", "")
		assert.Empty(t, res.PageCandidates)
		assert.NotContains(t, f.store.searches, "legal_pages")
	})

	t.Run("向量命中但分块已删除", func(t *testing.T) {
		f := newRetrieverFixture(t)
		f.store.fixedScores = map[string][]ScoredPoint{
			"legal_text": {{ID: "missing", Score: 0.9}},
		}
		res := f.build(t, nil, nil, nil).Search(context.Background(), "theft", "")
		assert.Empty(t, res.TextCandidates)
		assert.False(t, res.HasVerifiedSources)
	})
}

func TestHybridSearchLanguageFilter(t *testing.T) {
	f := newRetrieverFixture(t)
	f.image = nil
	ctx := context.Background()

	ur := createSource(t, f.db, &KnowledgeSource{Status: StatusDone, Language: "ur", Title: "Family Laws"})
	for _, src := range []*KnowledgeSource{f.src, ur} {
		row := KnowledgeChunk{SourceID: src.ID, ChunkText: "theft provisions for " + src.Language}
		require.NoError(t, f.db.Create(&row).Error)
		require.NoError(t, f.store.Upsert(ctx, "legal_text", []Point{{
			ID: row.ID, Vector: vectorFor(row.ChunkText, 4), Payload: textPayload(src, row.ID),
		}}))
	}

	res := f.build(t, nil, nil, nil).Search(ctx, "theft", "ur")
	require.Len(t, res.TextCandidates, 1)
	assert.Equal(t, ur.ID, res.TextCandidates[0].SourceID)
	assert.Equal(t, []string{"Family Laws"}, res.SourceTitles)
}
