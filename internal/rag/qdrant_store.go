package rag

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
)

// ErrCollectionNotFound 集合不存在
var ErrCollectionNotFound = errors.New("qdrant 集合不存在")

// QdrantOptions Qdrant 连接参数；HTTPClient 非空时忽略 TimeoutSeconds
type QdrantOptions struct {
	Endpoint       string
	APIKey         string
	Distance       string
	TimeoutSeconds int
	HTTPClient     *http.Client
}

// QdrantStore 通过 Qdrant REST API 读写向量
type QdrantStore struct {
	client   *resty.Client
	distance string

	mu   sync.Mutex
	dims map[string]int // 已确认的集合维度
}

func NewQdrantStore(opts QdrantOptions) (*QdrantStore, error) {
	endpoint := strings.TrimSuffix(strings.TrimSpace(opts.Endpoint), "/")
	if endpoint == "" {
		return nil, fmt.Errorf("qdrant endpoint 不能为空")
	}

	var client *resty.Client
	if opts.HTTPClient != nil {
		client = resty.NewWithClient(opts.HTTPClient)
	} else {
		timeout := opts.TimeoutSeconds
		if timeout <= 0 {
			timeout = 30
		}
		client = resty.New().SetTimeout(time.Duration(timeout) * time.Second)
	}
	client.SetBaseURL(endpoint).SetHeader("Content-Type", "application/json")
	if opts.APIKey != "" {
		client.SetHeader("api-key", opts.APIKey)
	}

	distance := opts.Distance
	if distance == "" {
		distance = "Cosine"
	}
	return &QdrantStore{client: client, distance: distance, dims: make(map[string]int)}, nil
}

// EnsureCollection 集合不存在时按维度创建，已存在时校验维度
func (s *QdrantStore) EnsureCollection(ctx context.Context, collection string, dim int) error {
	if dim <= 0 {
		return fmt.Errorf("集合 %s 的向量维度无效: %d", collection, dim)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if known, ok := s.dims[collection]; ok {
		return checkDim(collection, known, dim)
	}

	var info collectionInfoResponse
	err := s.call(ctx, http.MethodGet, collection, "", nil, nil, &info)
	switch {
	case err == nil:
		if existing := info.Result.Config.Params.Vectors.Size; existing != 0 {
			if err := checkDim(collection, existing, dim); err != nil {
				return err
			}
		}
	case errors.Is(err, ErrCollectionNotFound):
		req := createCollectionRequest{Vectors: qdrantVectorParams{Size: dim, Distance: s.distance}}
		if err := s.operate(ctx, http.MethodPut, collection, "", false, req); err != nil {
			return fmt.Errorf("创建 Qdrant 集合失败: %w", err)
		}
	default:
		return err
	}

	s.dims[collection] = dim
	return nil
}

func checkDim(collection string, have, want int) error {
	if have != want {
		return fmt.Errorf("集合 %s 维度不匹配: 已有 %d 请求 %d", collection, have, want)
	}
	return nil
}

// Upsert 写入一批向量并等待落盘
func (s *QdrantStore) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	dim, known := s.dims[collection]
	s.mu.Unlock()

	body := upsertPointsRequest{Points: make([]qdrantPoint, 0, len(points))}
	for _, p := range points {
		if known && len(p.Vector) != dim {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", dim, len(p.Vector))
		}
		body.Points = append(body.Points, qdrantPoint{ID: p.ID, Vector: p.Vector, Payload: p.Payload})
	}
	return s.operate(ctx, http.MethodPut, collection, "/points", true, body)
}

// Search 相似度检索，language 非空时只返回该语言的点
func (s *QdrantStore) Search(ctx context.Context, collection string, vector []float32, topK int, language string) ([]ScoredPoint, error) {
	if len(vector) == 0 {
		return nil, fmt.Errorf("查询向量不能为空")
	}
	if topK <= 0 {
		topK = 5
	}

	req := searchRequest{
		Vector:      vector,
		Limit:       topK,
		WithPayload: true,
		Filter:      mustMatchFilter(map[string]string{payloadLanguage: language}),
	}
	var out searchResponse
	if err := s.call(ctx, http.MethodPost, collection, "/points/search", nil, req, &out); err != nil {
		return nil, err
	}
	if out.Status != "ok" {
		return nil, fmt.Errorf("qdrant search 失败: %s", out.Error)
	}

	results := make([]ScoredPoint, 0, len(out.Result))
	for _, item := range out.Result {
		results = append(results, ScoredPoint{ID: fmt.Sprint(item.ID), Score: item.Score, Payload: item.Payload})
	}
	return results, nil
}

// DeleteBySource 删除知识源在集合中的全部向量，集合不存在视为成功
func (s *QdrantStore) DeleteBySource(ctx context.Context, collection, sourceID string) error {
	if sourceID == "" {
		return nil
	}
	req := deletePointsRequest{Filter: mustMatchFilter(map[string]string{payloadSourceID: sourceID})}
	err := s.operate(ctx, http.MethodPost, collection, "/points/delete", true, req)
	if errors.Is(err, ErrCollectionNotFound) {
		return nil
	}
	return err
}

// operate 执行写操作并要求返回 status=ok
func (s *QdrantStore) operate(ctx context.Context, method, collection, path string, wait bool, body any) error {
	var query map[string]string
	if wait {
		query = map[string]string{"wait": "true"}
	}
	var out qdrantOperationResponse
	if err := s.call(ctx, method, collection, path, query, body, &out); err != nil {
		return err
	}
	if out.statusText() != "ok" {
		return fmt.Errorf("qdrant 操作失败: %s", out.statusText())
	}
	return nil
}

func (s *QdrantStore) call(ctx context.Context, method, collection, path string, query map[string]string, body, dest any) error {
	var apiErr qdrantOperationResponse
	req := s.client.R().
		SetContext(ctx).
		SetPathParam("collection", collection).
		SetQueryParams(query).
		ForceContentType("application/json").
		SetError(&apiErr)
	if body != nil {
		req.SetBody(body)
	}
	if dest != nil {
		req.SetResult(dest)
	}

	resp, err := req.Execute(method, "/collections/{collection}"+path)
	if err != nil {
		return fmt.Errorf("调用 Qdrant 失败: %w", err)
	}
	if resp.StatusCode() == http.StatusNotFound {
		return ErrCollectionNotFound
	}
	if resp.IsError() {
		return fmt.Errorf("qdrant API 错误: %s (%d)", apiErr.statusText(), resp.StatusCode())
	}
	return nil
}

func mustMatchFilter(values map[string]string) *qdrantFilter {
	must := make([]fieldCondition, 0, len(values))
	for k, v := range values {
		if v == "" {
			continue
		}
		must = append(must, fieldCondition{Key: k, Match: fieldMatch{Value: v}})
	}
	if len(must) == 0 {
		return nil
	}
	return &qdrantFilter{Must: must}
}

func stringFromPayload(payload map[string]any, key string) string {
	if v, ok := payload[key]; ok && v != nil {
		return fmt.Sprint(v)
	}
	return ""
}

// --- Qdrant API payloads ---

type qdrantVectorParams struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type createCollectionRequest struct {
	Vectors qdrantVectorParams `json:"vectors"`
}

type collectionInfoResponse struct {
	Status string `json:"status"`
	Result struct {
		Config struct {
			Params struct {
				Vectors qdrantVectorParams `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	} `json:"result"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload"`
}

type upsertPointsRequest struct {
	Points []qdrantPoint `json:"points"`
}

type fieldCondition struct {
	Key   string     `json:"key"`
	Match fieldMatch `json:"match"`
}

type fieldMatch struct {
	Value any `json:"value"`
}

type qdrantFilter struct {
	Must []fieldCondition `json:"must,omitempty"`
}

type deletePointsRequest struct {
	Filter *qdrantFilter `json:"filter,omitempty"`
}

type searchRequest struct {
	Vector      []float32     `json:"vector"`
	Limit       int           `json:"limit"`
	WithPayload bool          `json:"with_payload"`
	Filter      *qdrantFilter `json:"filter,omitempty"`
}

type searchResponse struct {
	Status string              `json:"status"`
	Result []searchResultEntry `json:"result"`
	Error  string              `json:"error"`
}

type searchResultEntry struct {
	ID      any            `json:"id"`
	Score   float64        `json:"score"`
	Payload map[string]any `json:"payload"`
}

// status 在成功时为 "ok"，失败时为 {"error": "..."}
type qdrantOperationResponse struct {
	Status any `json:"status"`
}

func (r qdrantOperationResponse) statusText() string {
	switch v := r.Status.(type) {
	case string:
		return v
	case map[string]any:
		return stringFromPayload(v, "error")
	default:
		return fmt.Sprint(v)
	}
}
