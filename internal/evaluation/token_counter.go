package evaluation

import (
	"sync"

	"legalai/pkg/aiinterface"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

const fallbackEncoding = "cl100k_base"

// 消息格式开销，与 OpenAI 计费口径一致
const (
	tokensPerMessage = 3
	replyPriming     = 3
)

// Encoder tiktoken 编码器的最小接口
type Encoder interface {
	Encode(text string, allowedSpecial []string, disallowedSpecial []string) []int
}

// TokenCounter 按模型缓存编码器；编码器不可用时按 len/4 估算
type TokenCounter struct {
	mu       sync.Mutex
	encoders map[string]Encoder
	load     func(model string) (Encoder, error)
	logger   *zap.Logger
}

// NewTokenCounter 创建基于 tiktoken 的计数器
func NewTokenCounter(logger *zap.Logger) *TokenCounter {
	return NewTokenCounterWithLoader(loadTiktoken, logger)
}

// NewTokenCounterWithLoader 使用自定义编码器加载函数
func NewTokenCounterWithLoader(load func(model string) (Encoder, error), logger *zap.Logger) *TokenCounter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TokenCounter{
		encoders: make(map[string]Encoder),
		load:     load,
		logger:   logger,
	}
}

func loadTiktoken(model string) (Encoder, error) {
	enc, err := tiktoken.EncodingForModel(model)
	if err == nil {
		return enc, nil
	}
	return tiktoken.GetEncoding(fallbackEncoding)
}

func (c *TokenCounter) encoder(model string) Encoder {
	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[model]; ok {
		return enc
	}
	enc, err := c.load(model)
	if err != nil {
		c.logger.Warn("加载 tiktoken 编码失败，使用长度估算", zap.String("model", model), zap.Error(err))
		enc = nil
	}
	c.encoders[model] = enc
	return enc
}

// Count 统计文本 Token 数
func (c *TokenCounter) Count(text, model string) int {
	if text == "" {
		return 0
	}
	if enc := c.encoder(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return len(text) / 4
}

// CountMessages 统计消息列表 Token 数，含每条消息与回复前缀的格式开销
func (c *TokenCounter) CountMessages(messages []aiinterface.Message, model string) int {
	if len(messages) == 0 {
		return 0
	}
	total := 0
	for _, m := range messages {
		total += tokensPerMessage
		total += c.Count(m.Role, model)
		total += c.Count(m.Content, model)
	}
	return total + replyPriming
}
