package ai

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseClassification(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Classification
	}{
		{
			name: "正常 JSON",
			raw:  `{"category":"GREETING_OR_APP_HELP","confidence":0.9,"topic":"greeting"}`,
			want: Classification{Category: CategoryGreeting, Confidence: 0.9, Topic: "greeting"},
		},
		{
			name: "包裹在说明文字中",
			raw:  "Here you go:\n```json\n{\"category\":\"EMERGENCY\",\"confidence\":1,\"topic\":\"threat\"}\n```",
			want: Classification{Category: CategoryEmergency, Confidence: 1, Topic: "threat"},
		},
		{
			name: "低置信度拒答改为法律问题",
			raw:  `{"category":"OUT_OF_DOMAIN","confidence":0.5,"topic":"recipe"}`,
			want: Classification{Category: CategoryInDomainLegal, Confidence: 0.5, Topic: "recipe"},
		},
		{
			name: "高置信度拒答保留",
			raw:  `{"category":"PROMPT_INJECTION_OR_MISUSE","confidence":0.95}`,
			want: Classification{Category: CategoryMisuse, Confidence: 0.95, Topic: "other"},
		},
		{
			name: "置信度截断到 0..1",
			raw:  `{"category":"IN_DOMAIN_LEGAL","confidence":"7","topic":"  "}`,
			want: Classification{Category: CategoryInDomainLegal, Confidence: 1, Topic: "other"},
		},
		{
			name: "未知类别",
			raw:  `{"category":"SPORTS","confidence":0.99,"topic":"cricket"}`,
			want: Classification{Category: CategoryInDomainLegal, Confidence: 0.99, Topic: "cricket"},
		},
		{
			name: "无法解析",
			raw:  "not json at all",
			want: Classification{Category: CategoryInDomainLegal, Confidence: 0, Topic: "other"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseClassification(tt.raw))
		})
	}
}

func TestParseClassificationTopicLimit(t *testing.T) {
	got := ParseClassification(`{"category":"IN_DOMAIN_LEGAL","confidence":0.8,"topic":"inheritance and succession rights for daughters in Punjab"}`)
	assert.Len(t, []rune(got.Topic), 40)
}

func TestClassifyQuery(t *testing.T) {
	t.Run("调用参数", func(t *testing.T) {
		factory := newFakeFactory().reply(ProviderOpenAI, `{"category":"OUT_OF_DOMAIN","confidence":0.8,"topic":"joke"}`)
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a"})

		got := r.ClassifyQuery(context.Background(), "tell me a joke", "ur", CallOptions{})
		assert.Equal(t, CategoryOutOfDomain, got.Category)
		assert.True(t, got.Refuse())

		call := factory.last()
		assert.Equal(t, 200, call.req.MaxTokens)
		assert.Zero(t, call.req.Temperature)
		require.Len(t, call.req.Messages, 2)
		assert.Equal(t, "Language: Urdu. Message: tell me a joke", call.req.Messages[1].Content)
	})

	t.Run("调用失败按法律问题处理", func(t *testing.T) {
		factory := newFakeFactory().fail(ProviderOpenAI, http.StatusUnauthorized)
		r := newTestRouter(t, testLLMConfig(), factory, StaticCredentials{"OPENAI_API_KEY": "a"})

		got := r.ClassifyQuery(context.Background(), "q", "en", CallOptions{})
		assert.Equal(t, Classification{Category: CategoryInDomainLegal, Topic: "other"}, got)
	})
}

func TestDetectEmergency(t *testing.T) {
	assert.True(t, DetectEmergency("He will KILL me tonight"))
	assert.True(t, DetectEmergency("مجھے اغوا کرنے کی دھمکی"))
	assert.False(t, DetectEmergency("How do I apply for khula?"))
}

func TestCannedResponses(t *testing.T) {
	assert.Contains(t, EmergencyResponse("en"), "15 in Pakistan")
	assert.Contains(t, EmergencyResponse("ur"), "15")
	assert.Contains(t, GreetingResponse("en"), "legal awareness for women in Pakistan")
	assert.Contains(t, RefusalResponse("en"), "I can only help you with legal awareness")
	assert.NotEqual(t, RefusalResponse("en"), RefusalResponse("ur"))
}
