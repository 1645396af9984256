package ai

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"legalai/internal/config"
	"legalai/pkg/aiinterface"

	"go.uber.org/zap/zaptest"
)

type fakeCall struct {
	cfg aiinterface.ClientConfig
	req aiinterface.ChatRequest
}

// fakeFactory 按提供商返回预设结果
type fakeFactory struct {
	mu      sync.Mutex
	replies map[Provider]func(*aiinterface.ChatRequest) (*aiinterface.ChatResponse, error)
	calls   []fakeCall
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{replies: map[Provider]func(*aiinterface.ChatRequest) (*aiinterface.ChatResponse, error){}}
}

func (f *fakeFactory) reply(p Provider, text string) *fakeFactory {
	f.replies[p] = func(*aiinterface.ChatRequest) (*aiinterface.ChatResponse, error) {
		return &aiinterface.ChatResponse{Content: text, Usage: aiinterface.Usage{TotalTokens: 10}}, nil
	}
	return f
}

func (f *fakeFactory) fail(p Provider, status int) *fakeFactory {
	f.replies[p] = func(*aiinterface.ChatRequest) (*aiinterface.ChatResponse, error) {
		return nil, aiinterface.ClassifyChatError(p.String(), "chat", status, "boom")
	}
	return f
}

func (f *fakeFactory) NewClient(cfg *aiinterface.ClientConfig) (aiinterface.ChatClient, error) {
	return &fakeClient{factory: f, cfg: *cfg}, nil
}

func (f *fakeFactory) providers() []Provider {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Provider, len(f.calls))
	for i, c := range f.calls {
		out[i] = Provider(c.cfg.Provider)
	}
	return out
}

func (f *fakeFactory) last() fakeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeClient struct {
	factory *fakeFactory
	cfg     aiinterface.ClientConfig
}

func (c *fakeClient) Name() string { return c.cfg.Provider }

func (c *fakeClient) Chat(_ context.Context, req *aiinterface.ChatRequest) (*aiinterface.ChatResponse, error) {
	c.factory.mu.Lock()
	c.factory.calls = append(c.factory.calls, fakeCall{cfg: c.cfg, req: *req})
	fn := c.factory.replies[Provider(c.cfg.Provider)]
	c.factory.mu.Unlock()
	if fn == nil {
		return nil, aiinterface.ClassifyChatError(c.cfg.Provider, "chat", http.StatusInternalServerError, "no reply configured")
	}
	return fn(req)
}

func testLLMConfig() config.LLMConfig {
	return config.LLMConfig{
		ChatProvider:    "openai",
		ChatModel:       "generic-model",
		ChatModelOpenAI: "gpt-4o-mini",
		ChatModelGroq:   "llama-3.1-8b-instant",
		Temperature:     0.2,
		MaxTokens:       2200,
		TimeoutSeconds:  5,
		BaseURLs: config.ProviderURLs{
			OpenAI:     "https://api.openai.com/v1",
			OpenRouter: "https://openrouter.ai/api/v1",
			Groq:       "https://api.groq.com/openai/v1",
			Anthropic:  "https://api.anthropic.com/v1/messages",
		},
		VLM: config.VLMConfig{MaxImages: 3, MaxImageSide: 1280, JPEGQuality: 85},
	}
}

func newTestRouter(t *testing.T, cfg config.LLMConfig, factory *fakeFactory, keys StaticCredentials) *Router {
	t.Helper()
	return NewRouter(cfg, factory, keys, zaptest.NewLogger(t))
}
