package evaluation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"legalai/internal/rag"
	"legalai/pkg/aiinterface"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

func setupEvalTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:eval_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(append(rag.AllModels(), AllModels()...)...))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

// wordEncoder 按空格切分计数
type wordEncoder struct{}

func (wordEncoder) Encode(text string, _, _ []string) []int {
	return make([]int, len(strings.Fields(text)))
}

func wordCounter(t *testing.T) *TokenCounter {
	return NewTokenCounterWithLoader(func(string) (Encoder, error) { return wordEncoder{}, nil }, zaptest.NewLogger(t))
}

func floatPtr(v float64) *float64 { return &v }

func TestRecorderRecord(t *testing.T) {
	ctx := context.Background()

	t.Run("写入完整字段", func(t *testing.T) {
		db := setupEvalTestDB(t)
		src := &rag.KnowledgeSource{Title: "Protection of Women Act", SourceType: rag.SourceTXT, Language: "en", Status: rag.StatusDone}
		require.NoError(t, db.Create(src).Error)
		chunk := &rag.KnowledgeChunk{SourceID: src.ID, ChunkIndex: 0, ChunkText: "text"}
		require.NoError(t, db.Create(chunk).Error)

		rec := NewRecorder(db, wordCounter(t), zaptest.NewLogger(t))
		id := rec.Record(ctx, &Input{
			UserID:         "u-1",
			Language:       "en",
			Question:       strings.Repeat("q", 6000),
			Answer:         "Please contact a lawyer. I can only help with this.",
			Threshold:      floatPtr(0.2),
			BestScore:      floatPtr(0.41),
			ContextsFound:  4,
			ContextsUsed:   2,
			InDomain:       true,
			Decision:       DecisionAnswerWithSources,
			ChunkIDs:       []string{chunk.ID},
			TotalTimeMs:    900,
			EmbeddingModel: "text-embedding-3-large",
			ChatModel:      "gpt-4o-mini",
			PromptMessages: []aiinterface.Message{{Role: "user", Content: "one two three"}},
			CompletionText: "four five",
			ErrorMessage:   strings.Repeat("e", 800),
		})
		require.NotNil(t, id)

		var got EvaluationLog
		require.NoError(t, db.First(&got, *id).Error)
		assert.Len(t, got.QuestionText, 5000)
		assert.Equal(t, 6000, got.QuestionLength)
		assert.Len(t, got.ErrorMessage, 500)
		assert.True(t, got.HasFallback)
		assert.True(t, got.HasDisclaimer)
		assert.Equal(t, 0.41, *got.BestScore)

		var titles []string
		require.NoError(t, json.Unmarshal(got.SourceTitles, &titles))
		assert.Equal(t, []string{"Protection of Women Act"}, titles)

		// 3 + role(1) + content(3) + 3
		require.NotNil(t, got.PromptTokens)
		assert.Equal(t, 10, *got.PromptTokens)
		assert.Equal(t, 2, *got.CompletionTokens)
		assert.Equal(t, 12, *got.TotalTokens)
	})

	t.Run("没有模型时不统计 Token", func(t *testing.T) {
		db := setupEvalTestDB(t)
		rec := NewRecorder(db, wordCounter(t), zaptest.NewLogger(t))
		id := rec.Record(ctx, &Input{Language: "en", Question: "hi", Answer: "hello", Decision: DecisionGreeting})
		require.NotNil(t, id)

		var got EvaluationLog
		require.NoError(t, db.First(&got, *id).Error)
		assert.Nil(t, got.PromptTokens)
		assert.Nil(t, got.ThresholdUsed)
		assert.JSONEq(t, `[]`, string(got.SourceChunkIDs))
		assert.False(t, got.HasFallback)
	})

	t.Run("写入失败返回 nil", func(t *testing.T) {
		db := setupEvalTestDB(t)
		require.NoError(t, db.Migrator().DropTable(&EvaluationLog{}))
		rec := NewRecorder(db, wordCounter(t), zaptest.NewLogger(t))
		assert.Nil(t, rec.Record(ctx, &Input{Language: "en", Decision: DecisionEmergency}))
	})

	t.Run("输入或数据库为空返回 nil", func(t *testing.T) {
		rec := NewRecorder(setupEvalTestDB(t), wordCounter(t), zaptest.NewLogger(t))
		assert.NotPanics(t, func() { assert.Nil(t, rec.Record(ctx, nil)) })

		noDB := NewRecorder(nil, wordCounter(t), zaptest.NewLogger(t))
		assert.NotPanics(t, func() {
			assert.Nil(t, noDB.Record(ctx, &Input{Language: "en", Decision: DecisionGreeting}))
		})
	})
}

func TestTokenCounter(t *testing.T) {
	t.Run("编码器不可用时按长度估算", func(t *testing.T) {
		loads := 0
		c := NewTokenCounterWithLoader(func(string) (Encoder, error) {
			loads++
			return nil, errors.New("offline")
		}, zaptest.NewLogger(t))
		assert.Equal(t, 3, c.Count("twelve chars", "x"))
		assert.Equal(t, 3, c.Count("twelve chars", "x"))
		assert.Equal(t, 1, loads)
	})

	t.Run("空输入", func(t *testing.T) {
		c := wordCounter(t)
		assert.Zero(t, c.Count("", "m"))
		assert.Zero(t, c.CountMessages(nil, "m"))
	})
}
