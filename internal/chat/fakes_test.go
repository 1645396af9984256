package chat

import (
	"context"
	"fmt"
	"testing"
	"time"

	"legalai/internal/ai"
	"legalai/internal/evaluation"
	"legalai/internal/rag"
	"legalai/internal/worker/tasks"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupChatTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:chat_%d?mode=memory&cache=shared", time.Now().UnixNano())
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

type fakeSearcher struct {
	result *rag.RetrievalResult
	calls  int
}

func (f *fakeSearcher) Search(context.Context, string, string) *rag.RetrievalResult {
	f.calls++
	return f.result
}

type fakeAnswerer struct {
	noKey      bool
	class      ai.Classification
	answer     string
	err        error
	classified int
	requests   []*ai.AnswerRequest
}

func (f *fakeAnswerer) HasAnyKey(ai.CallOptions) bool { return !f.noKey }

func (f *fakeAnswerer) ClassifyQuery(context.Context, string, string, ai.CallOptions) ai.Classification {
	f.classified++
	if f.class.Category == "" {
		return ai.Classification{Category: ai.CategoryInDomainLegal, Confidence: 0.9, Topic: "family"}
	}
	return f.class
}

func (f *fakeAnswerer) Answer(_ context.Context, req *ai.AnswerRequest) (*ai.AnswerResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	return &ai.AnswerResult{Answer: f.answer, Provider: ai.ProviderOpenAI, Model: "gpt-4o-mini", ElapsedMs: 42}, nil
}

type fakeSink struct {
	entries []*evaluation.Input
}

func (f *fakeSink) Record(_ context.Context, in *evaluation.Input) *uint64 {
	f.entries = append(f.entries, in)
	id := uint64(len(f.entries))
	return &id
}

type fakeQueue struct {
	chatErr error
	evalErr error
	chats   []*tasks.ProcessChatPayload
	evals   []*evaluation.Input
}

func (f *fakeQueue) EnqueueChat(_ context.Context, p *tasks.ProcessChatPayload) error {
	if f.chatErr != nil {
		return f.chatErr
	}
	f.chats = append(f.chats, p)
	return nil
}

func (f *fakeQueue) EnqueueEvaluation(_ context.Context, in *evaluation.Input) error {
	if f.evalErr != nil {
		return f.evalErr
	}
	f.evals = append(f.evals, in)
	return nil
}

type harness struct {
	db       *gorm.DB
	store    *Store
	searcher *fakeSearcher
	answerer *fakeAnswerer
	sink     *fakeSink
	queue    *fakeQueue
	svc      *Service
}

func verifiedResult() *rag.RetrievalResult {
	best := 0.82
	return &rag.RetrievalResult{
		BestScore:          &best,
		ThresholdUsed:      0.2,
		HasVerifiedSources: true,
		ChunkIDs:           []string{"c1"},
		ContextsText:       []string{"Section 7: a wife may seek maintenance."},
		SourceTitles:       []string{"Family Courts Act"},
		ContextsFound:      1,
		ContextsUsed:       1,
		EmbeddingTimeMs:    15,
	}
}

func newHarness(t *testing.T, opts Options, withQueue bool) *harness {
	t.Helper()
	db := setupChatTestDB(t)
	h := &harness{
		db:       db,
		store:    NewStore(db, 100),
		searcher: &fakeSearcher{result: verifiedResult()},
		answerer: &fakeAnswerer{answer: "You may file for maintenance."},
		sink:     &fakeSink{},
		queue:    &fakeQueue{},
	}
	var queue TaskEnqueuer
	if withQueue {
		queue = h.queue
	}
	h.svc = NewService(h.store, h.searcher, h.answerer, h.sink, queue, opts, zaptest.NewLogger(t))
	return h
}

func (h *harness) messages(t *testing.T, convID uint64) []ChatMessage {
	t.Helper()
	var rows []ChatMessage
	require.NoError(t, h.db.Where("conversation_id = ?", convID).Order("id ASC").Find(&rows).Error)
	return rows
}
