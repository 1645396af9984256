package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"legalai/pkg/aiinterface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientChat(t *testing.T) {
	var got anthropicRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k-ant", r.Header.Get("x-api-key"))
		assert.Equal(t, "2023-06-01", r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"model":"claude","content":[{"type":"text","text":"Part one. "},{"type":"tool_use"},{"type":"text","text":"Part two."}],"usage":{"input_tokens":7,"output_tokens":3}}`)
	}))
	defer srv.Close()

	c, err := NewClient(&aiinterface.ClientConfig{APIKey: "k-ant", BaseURL: srv.URL})
	require.NoError(t, err)

	resp, err := c.Chat(context.Background(), &aiinterface.ChatRequest{
		Model: "claude",
		Messages: []aiinterface.Message{
			{Role: aiinterface.RoleSystem, Content: "rule one"},
			{Role: aiinterface.RoleSystem, Content: "rule two"},
			{Role: aiinterface.RoleUser, Content: "hi"},
			{Role: aiinterface.RoleAssistant, Content: "hello"},
			{Role: aiinterface.RoleUser, Content: "question"},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "Part one. Part two.", resp.Content)
	assert.Equal(t, 10, resp.Usage.TotalTokens)

	assert.Equal(t, "rule one\n\nrule two", got.System)
	assert.Equal(t, 800, got.MaxTokens)
	require.Len(t, got.Messages, 3)
	assert.Equal(t, "question", got.Messages[2].Content)
}

func TestClientChatErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(529)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	c, err := NewClient(&aiinterface.ClientConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, err = c.Chat(context.Background(), &aiinterface.ChatRequest{Model: "claude", Messages: []aiinterface.Message{{Role: "user", Content: "q"}}})
	var perr *aiinterface.ProviderError
	require.True(t, errors.As(err, &perr))
	assert.Equal(t, aiinterface.CodeUpstreamError, perr.Code)
	assert.Equal(t, http.StatusBadGateway, perr.Status)
}
