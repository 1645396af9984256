package rag

import "legalai/internal/textnorm"

// TextCandidate 文本检索命中，Score 为向量相似度
type TextCandidate struct {
	ChunkID     string   `json:"chunkId"`
	SourceID    string   `json:"sourceId"`
	Title       string   `json:"title"`
	Text        string   `json:"text"`
	Score       float64  `json:"score"`
	RerankScore *float64 `json:"rerankScore,omitempty"`
}

// ImageContext 页面检索命中
type ImageContext struct {
	PageID     string  `json:"pageId"`
	SourceID   string  `json:"sourceId"`
	Title      string  `json:"title"`
	ImagePath  string  `json:"imagePath"`
	PageNumber int     `json:"pageNumber"`
	Score      float64 `json:"score"`
}

// RetrievalResult 一次混合检索的完整结果
// 未通过阈值时 Contexts*/ChunkIDs/PageIDs 为空，候选与分数仍保留用于评估
type RetrievalResult struct {
	TextCandidates []TextCandidate `json:"textCandidates"`
	PageCandidates []ImageContext  `json:"pageCandidates"`

	BestTextScore      *float64 `json:"bestTextScore"`
	BestPageScore      *float64 `json:"bestPageScore"`
	BestScore          *float64 `json:"bestScore"`
	ThresholdUsed      float64  `json:"thresholdUsed"`
	HasVerifiedSources bool     `json:"hasVerifiedSources"`

	ChunkIDs       []string       `json:"chunkIds"`
	PageIDs        []string       `json:"pageIds"`
	ContextsText   []string       `json:"contextsText"`
	ContextsImages []ImageContext `json:"contextsImages"`
	SourceTitles   []string       `json:"sourceTitles"`

	ContextsFound   int   `json:"contextsFound"`
	ContextsUsed    int   `json:"contextsUsed"`
	EmbeddingTimeMs int64 `json:"embeddingTimeMs"`
}

// assembleContext 从重排后的文本与页面候选中截取上下文并计算验证结果
func assembleContext(res *RetrievalResult, ranked []TextCandidate, opts RetrieverOptions) {
	textK := min(opts.ContextTextK, len(ranked))
	imageK := min(opts.ContextImageK, len(res.PageCandidates))

	contexts := make([]string, 0, textK)
	chunkIDs := make([]string, 0, textK)
	for _, c := range ranked[:textK] {
		contexts = append(contexts, textnorm.Normalize(c.Text))
		chunkIDs = append(chunkIDs, c.ChunkID)
	}
	images := append([]ImageContext(nil), res.PageCandidates[:imageK]...)
	pageIDs := make([]string, 0, imageK)
	for _, img := range images {
		pageIDs = append(pageIDs, img.PageID)
	}

	// 最高分按截断前的全部候选计算
	res.BestTextScore = bestTextScore(res.TextCandidates)
	res.BestPageScore = bestPageScore(res.PageCandidates)
	res.BestScore = maxScore(res.BestTextScore, res.BestPageScore)

	hasText := res.BestTextScore != nil && *res.BestTextScore >= opts.TextThreshold
	hasPage := res.BestPageScore != nil && *res.BestPageScore >= opts.PageThreshold
	res.HasVerifiedSources = hasText || hasPage

	if deref(res.BestPageScore) >= deref(res.BestTextScore) {
		res.ThresholdUsed = opts.PageThreshold
	} else {
		res.ThresholdUsed = opts.TextThreshold
	}

	res.ContextsFound = len(res.TextCandidates) + len(res.PageCandidates)
	if !res.HasVerifiedSources {
		res.ContextsText = []string{}
		res.ContextsImages = []ImageContext{}
		res.ChunkIDs = []string{}
		res.PageIDs = []string{}
		res.SourceTitles = []string{}
		return
	}
	res.ContextsText = contexts
	res.ContextsImages = images
	res.ChunkIDs = chunkIDs
	res.PageIDs = pageIDs
	res.ContextsUsed = len(contexts) + len(images)
	res.SourceTitles = sourceTitles(ranked[:textK], images)
}

func sourceTitles(texts []TextCandidate, images []ImageContext) []string {
	seen := make(map[string]struct{})
	var titles []string
	add := func(title string) {
		if title == "" {
			return
		}
		if _, ok := seen[title]; ok {
			return
		}
		seen[title] = struct{}{}
		titles = append(titles, title)
	}
	for _, t := range texts {
		add(t.Title)
	}
	for _, img := range images {
		add(img.Title)
	}
	if titles == nil {
		return []string{}
	}
	return titles
}

func bestTextScore(cands []TextCandidate) *float64 {
	if len(cands) == 0 {
		return nil
	}
	best := cands[0].Score
	for _, c := range cands[1:] {
		best = max(best, c.Score)
	}
	return &best
}

func bestPageScore(cands []ImageContext) *float64 {
	if len(cands) == 0 {
		return nil
	}
	best := cands[0].Score
	for _, c := range cands[1:] {
		best = max(best, c.Score)
	}
	return &best
}

func maxScore(a, b *float64) *float64 {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	case *a >= *b:
		return a
	default:
		return b
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return 0
	}
	return *v
}
