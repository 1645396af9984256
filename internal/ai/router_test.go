package ai

import (
	"context"
	"errors"
	"image"
	"image/color"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"legalai/internal/imageutil"
	"legalai/pkg/aiinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMessage(text string) []aiinterface.Message {
	return []aiinterface.Message{{Role: aiinterface.RoleUser, Content: text}}
}

func TestRouterComplete(t *testing.T) {
	ctx := context.Background()

	t.Run("openai 无 Key 时路由到 openrouter", func(t *testing.T) {
		factory := newFakeFactory().reply(ProviderOpenRouter, "from openrouter")
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENROUTER_API_KEY": "or-key"})

		c, err := r.Complete(ctx, CompletionRequest{Messages: userMessage("q")})
		require.NoError(t, err)
		assert.Equal(t, "from openrouter", c.Text)
		assert.Equal(t, ProviderOpenRouter, c.Provider)
		assert.Equal(t, []Provider{ProviderOpenRouter}, factory.providers())
		require.Len(t, c.Attempts, 2)
		assert.True(t, c.Attempts[0].Skipped)
	})

	t.Run("限流后切换下一个", func(t *testing.T) {
		factory := newFakeFactory().fail(ProviderOpenAI, http.StatusTooManyRequests).reply(ProviderGroq, "from groq")
		cfg := testLLMConfig()
		cfg.Fallbacks = []string{"openai", "groq"}
		r := newTestRouter(t, cfg, factory, StaticCredentials{"OPENAI_API_KEY": "a", "GROQ_API_KEY": "g"})

		c, err := r.Complete(ctx, CompletionRequest{Messages: userMessage("q")})
		require.NoError(t, err)
		assert.Equal(t, ProviderGroq, c.Provider)
		assert.Equal(t, "llama-3.1-8b-instant", c.Model)
		assert.Equal(t, []Provider{ProviderOpenAI, ProviderGroq}, factory.providers())
	})

	t.Run("请求错误不切换", func(t *testing.T) {
		factory := newFakeFactory().fail(ProviderOpenAI, http.StatusBadRequest).reply(ProviderGroq, "unused")
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a", "GROQ_API_KEY": "g"})

		_, err := r.Complete(ctx, CompletionRequest{Messages: userMessage("q")})
		var perr *aiinterface.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, aiinterface.CodeRequestFailed, perr.Code)
		assert.Equal(t, []Provider{ProviderOpenAI}, factory.providers())
	})

	t.Run("全部缺 Key", func(t *testing.T) {
		factory := newFakeFactory()
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{})

		_, err := r.Complete(ctx, CompletionRequest{CallOptions: CallOptions{Provider: "deepseek"}, Messages: userMessage("q")})
		var perr *aiinterface.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, aiinterface.CodeMissingAPIKey, perr.Code)
		assert.Equal(t, "Missing deepseek API key.", perr.Message)
		assert.Empty(t, factory.providers())
	})

	t.Run("请求级 Key 与显式模型", func(t *testing.T) {
		factory := newFakeFactory().reply(ProviderAnthropic, "claude says")
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{})

		c, err := r.Complete(ctx, CompletionRequest{
			CallOptions: CallOptions{Provider: "anthropic", Model: "claude-x", APIKeys: APIKeys{ProviderAnthropic: "user-key"}},
			Messages:    userMessage("q"),
		})
		require.NoError(t, err)
		assert.Equal(t, "claude says", c.Text)
		call := factory.last()
		assert.Equal(t, "user-key", call.cfg.APIKey)
		assert.Equal(t, "https://api.anthropic.com/v1/messages", call.cfg.BaseURL)
		assert.Equal(t, "claude-x", call.req.Model)
	})

	t.Run("OpenRouter 附加请求头", func(t *testing.T) {
		factory := newFakeFactory().reply(ProviderOpenRouter, "ok")
		cfg := testLLMConfig()
		cfg.ChatProvider = "openrouter"
		cfg.OpenRouterReferrer = "https://legalai.example"
		cfg.OpenRouterAppName = "LegalAI"
		r := newTestRouter(t, cfg, factory, StaticCredentials{"OPENROUTER_API_KEY": "k"})

		_, err := r.Complete(ctx, CompletionRequest{Messages: userMessage("q")})
		require.NoError(t, err)
		call := factory.last()
		assert.Equal(t, "https://legalai.example", call.cfg.Headers["HTTP-Referer"])
		assert.Equal(t, "LegalAI", call.cfg.Headers["X-Title"])
		assert.Equal(t, "generic-model", call.req.Model)
	})
}

func TestRouterAnswer(t *testing.T) {
	ctx := context.Background()

	t.Run("无上下文时附加提示且去掉 Sources", func(t *testing.T) {
		reply := "You can file a complaint.\n\nyou can   file a complaint.\n\nSources:\n- Some Act"
		factory := newFakeFactory().reply(ProviderOpenAI, reply)
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a"})

		res, err := r.Answer(ctx, &AnswerRequest{Question: "What can I do?", Language: "en"})
		require.NoError(t, err)
		assert.Contains(t, res.Answer, "could not find a verified law reference")
		assert.NotContains(t, res.Answer, "Sources")
		assert.Equal(t, 1, strings.Count(strings.ToLower(res.Answer), "file a complaint"))
		assert.False(t, res.Multimodal)

		require.Len(t, res.Messages, 2)
		assert.Contains(t, res.Messages[1].Content, "Verified sources:\nNo verified legal sources provided.")
		assert.Contains(t, res.Messages[1].Content, "Province/Region: unknown")
		call := factory.last()
		assert.Equal(t, 2200, call.req.MaxTokens)
	})

	t.Run("有上下文时保留回答", func(t *testing.T) {
		factory := newFakeFactory().reply(ProviderOpenAI, "Step\n3\n\nSee $12.\n\nSources:\n- Protection Act")
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a"})

		res, err := r.Answer(ctx, &AnswerRequest{
			Question: "q",
			Contexts: []string{"Protection Act s.12"},
			Language: "ur",
			Province: "Punjab",
			History: []aiinterface.Message{
				{Role: aiinterface.RoleUser, Content: "earlier"},
				{Role: aiinterface.RoleSystem, Content: "ignored"},
				{Role: aiinterface.RoleAssistant, Content: ""},
			},
		})
		require.NoError(t, err)
		assert.Contains(t, res.Answer, "Step 3")
		assert.Contains(t, res.Answer, "Sources:")
		assert.NotContains(t, res.Answer, "could not find")

		require.Len(t, res.Messages, 3)
		assert.Contains(t, res.Messages[0].Content, "You MUST respond strictly in Urdu.")
		assert.Equal(t, "earlier", res.Messages[1].Content)
		assert.Contains(t, res.Messages[2].Content, "Province/Region: Punjab")
		assert.Contains(t, res.Messages[2].Content, "- Protection Act s.12")
	})
}

func writeTestImage(t *testing.T) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 40, 20))
	for x := 0; x < 40; x++ {
		for y := 0; y < 20; y++ {
			img.Set(x, y, color.RGBA{R: 200, A: 255})
		}
	}
	path := filepath.Join(t.TempDir(), "page.png")
	_, _, err := imageutil.SavePNG(img, path)
	require.NoError(t, err)
	return path
}

func TestRouterAnswerMultimodal(t *testing.T) {
	ctx := context.Background()
	imagePath := writeTestImage(t)
	images := []ImageInput{{PageNumber: 4, ImagePath: imagePath}, {PageNumber: 5, ImagePath: "/missing.png"}}

	t.Run("图片附加到最后一条用户消息", func(t *testing.T) {
		factory := newFakeFactory().reply(ProviderOpenAI, "answer with pages")
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a"})

		res, err := r.Answer(ctx, &AnswerRequest{Question: "q", Images: images})
		require.NoError(t, err)
		assert.True(t, res.Multimodal)
		assert.False(t, res.Degraded)

		call := factory.last()
		lastMsg := call.req.Messages[len(call.req.Messages)-1]
		require.Len(t, lastMsg.Parts, 2)
		assert.Equal(t, aiinterface.PartText, lastMsg.Parts[0].Type)
		assert.True(t, strings.HasPrefix(lastMsg.Parts[1].ImageURL, "data:image/jpeg;base64,"))
		assert.Contains(t, lastMsg.Parts[0].Text, "Image sources:\n- Page 4\n- Page 5")
		assert.Empty(t, res.Messages[len(res.Messages)-1].Parts)
	})

	t.Run("Anthropic 降级为纯文本", func(t *testing.T) {
		factory := newFakeFactory().reply(ProviderAnthropic, "text only")
		cfg := testLLMConfig()
		cfg.ChatProvider = "anthropic"
		r := newTestRouter(t, cfg, factory, StaticCredentials{"ANTHROPIC_API_KEY": "k"})

		res, err := r.Answer(ctx, &AnswerRequest{Question: "q", Images: images})
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.False(t, res.Multimodal)
		assert.Empty(t, factory.last().req.Messages[1].Parts)
	})

	t.Run("可切换错误时降级", func(t *testing.T) {
		factory := newFakeFactory()
		calls := 0
		factory.replies[ProviderOpenAI] = func(req *aiinterface.ChatRequest) (*aiinterface.ChatResponse, error) {
			calls++
			if len(req.Messages[len(req.Messages)-1].Parts) > 0 {
				return nil, aiinterface.ClassifyChatError("openai", "chat_multimodal", http.StatusBadGateway, "")
			}
			return &aiinterface.ChatResponse{Content: "fallback text"}, nil
		}
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a"})

		res, err := r.Answer(ctx, &AnswerRequest{Question: "q", Images: images})
		require.NoError(t, err)
		assert.True(t, res.Degraded)
		assert.Equal(t, 2, calls)
		assert.Contains(t, res.Answer, "fallback text")
	})

	t.Run("不可切换错误直接返回", func(t *testing.T) {
		factory := newFakeFactory().fail(ProviderOpenAI, http.StatusUnauthorized)
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a"})

		_, err := r.Answer(ctx, &AnswerRequest{Question: "q", Images: images})
		var perr *aiinterface.ProviderError
		require.True(t, errors.As(err, &perr))
		assert.Equal(t, aiinterface.CodeInvalidAPIKey, perr.Code)
	})
}
