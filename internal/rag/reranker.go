package rag

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/go-resty/resty/v2"
)

// CrossEncoderRerankerOptions 交叉编码重排服务配置
type CrossEncoderRerankerOptions struct {
	Endpoint       string
	APIKey         string
	Model          string
	MaxLength      int
	TimeoutSeconds int
}

// CrossEncoderReranker 调用外部 /rerank 服务
type CrossEncoderReranker struct {
	client    *resty.Client
	model     string
	maxLength int
}

// NewCrossEncoderReranker 创建 Cross-Encoder 重排序器
func NewCrossEncoderReranker(opts CrossEncoderRerankerOptions) *CrossEncoderReranker {
	timeout := opts.TimeoutSeconds
	if timeout <= 0 {
		timeout = 30
	}
	client := resty.New().
		SetBaseURL(strings.TrimSuffix(opts.Endpoint, "/")).
		SetTimeout(time.Duration(timeout) * time.Second)
	if opts.APIKey != "" {
		client.SetAuthToken(opts.APIKey)
	}
	maxLength := opts.MaxLength
	if maxLength <= 0 {
		maxLength = 512
	}
	return &CrossEncoderReranker{client: client, model: opts.Model, maxLength: maxLength}
}

type rerankRequest struct {
	Model     string   `json:"model,omitempty"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	MaxLength int      `json:"max_length"`
}

type rerankResponse struct {
	Results []struct {
		Index int     `json:"index"`
		Score float64 `json:"score"`
	} `json:"results"`
}

// Rerank 对 passages 打分并按分数降序返回
func (r *CrossEncoderReranker) Rerank(ctx context.Context, query string, passages []string) ([]RerankScore, error) {
	if len(passages) == 0 {
		return nil, nil
	}

	var out rerankResponse
	resp, err := r.client.R().
		SetContext(ctx).
		SetBody(rerankRequest{Model: r.model, Query: query, Documents: passages, MaxLength: r.maxLength}).
		SetResult(&out).
		Post("/rerank")
	if err != nil {
		return nil, fmt.Errorf("调用重排服务失败: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("重排服务错误: HTTP %d", resp.StatusCode())
	}

	scores := make([]RerankScore, 0, len(out.Results))
	for _, item := range out.Results {
		if item.Index < 0 || item.Index >= len(passages) {
			return nil, fmt.Errorf("重排服务返回非法索引: %d", item.Index)
		}
		scores = append(scores, RerankScore{Index: item.Index, Score: item.Score})
	}
	sortScores(scores)
	return scores, nil
}

// KeywordReranker 基于关键词重叠度 + 位置权重的本地重排，未部署重排服务时使用
type KeywordReranker struct {
	KeywordWeight  float64 // 关键词匹配权重
	PositionWeight float64 // 位置权重 (关键词在文档中的位置)
	LengthPenalty  float64 // 长度惩罚因子
}

// NewKeywordReranker 创建本地重排序器
func NewKeywordReranker() *KeywordReranker {
	return &KeywordReranker{
		KeywordWeight:  0.6,
		PositionWeight: 0.3,
		LengthPenalty:  0.1,
	}
}

// Rerank 计算每个 passage 的词面得分
func (r *KeywordReranker) Rerank(ctx context.Context, query string, passages []string) ([]RerankScore, error) {
	queryTerms := tokenize(query)
	scores := make([]RerankScore, len(passages))
	for i, p := range passages {
		scores[i] = RerankScore{Index: i, Score: r.computeScore(queryTerms, p)}
	}
	sortScores(scores)
	return scores, nil
}

func sortScores(scores []RerankScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		return scores[i].Score > scores[j].Score
	})
}

func (r *KeywordReranker) computeScore(queryTerms []string, content string) float64 {
	docTerms := tokenize(content)
	if len(queryTerms) == 0 || len(docTerms) == 0 {
		return 0
	}
	return r.KeywordWeight*keywordMatchScore(queryTerms, docTerms) +
		r.PositionWeight*positionScore(queryTerms, content) +
		r.LengthPenalty*lengthScore(len(docTerms))
}

// keywordMatchScore Jaccard 与词频的加权
func keywordMatchScore(queryTerms, docTerms []string) float64 {
	docTermFreq := make(map[string]int)
	for _, term := range docTerms {
		docTermFreq[strings.ToLower(term)]++
	}

	matchCount := 0
	totalTF := 0.0
	for _, qTerm := range queryTerms {
		if freq, ok := docTermFreq[strings.ToLower(qTerm)]; ok {
			matchCount++
			totalTF += math.Log(1 + float64(freq))
		}
	}

	jaccard := float64(matchCount) / float64(len(queryTerms))
	return jaccard*0.5 + math.Min(totalTF/float64(len(queryTerms)), 1.0)*0.5
}

// positionScore 关键词出现位置越靠前分数越高
func positionScore(queryTerms []string, content string) float64 {
	contentLower := strings.ToLower(content)
	total := 0.0
	for _, term := range queryTerms {
		pos := strings.Index(contentLower, strings.ToLower(term))
		if pos >= 0 {
			total += math.Exp(-2 * float64(pos) / float64(len(content)))
		}
	}
	return total / float64(len(queryTerms))
}

// lengthScore 50~300 词的片段得满分
func lengthScore(docLength int) float64 {
	switch {
	case docLength < 20:
		return float64(docLength) / 20
	case docLength <= 300:
		return 1
	default:
		return math.Max(0.3, 300/float64(docLength))
	}
}

func tokenize(text string) []string {
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 0 {
			tokens = append(tokens, current.String())
			current.Reset()
		}
	}
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			current.WriteRune(r)
			continue
		}
		flush()
	}
	flush()
	return tokens
}
