package aiinterface

import (
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyChatError(t *testing.T) {
	cases := []struct {
		name      string
		status    int
		detail    string
		code      ErrorCode
		outStatus int
		retryable bool
	}{
		{"401", http.StatusUnauthorized, "", CodeInvalidAPIKey, 401, false},
		{"403", http.StatusForbidden, "", CodeForbidden, 403, true},
		{"429", http.StatusTooManyRequests, "", CodeRateLimited, 429, true},
		{"quota 文本", http.StatusBadRequest, "You exceeded your current quota", CodeRateLimited, 429, true},
		{"5xx", http.StatusServiceUnavailable, "", CodeUpstreamError, 502, true},
		{"其他", http.StatusBadRequest, "model not found", CodeRequestFailed, 400, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ClassifyChatError("openai", "chat", tc.status, tc.detail)
			assert.Equal(t, tc.code, err.Code)
			assert.Equal(t, tc.outStatus, err.Status)
			assert.Equal(t, tc.retryable, err.Retryable())
		})
	}

	assert.Equal(t, "openai request failed. model not found",
		ClassifyChatError("openai", "chat", 400, "model not found").Message)
	assert.Equal(t, "Invalid groq API key.", ClassifyChatError("groq", "chat", 401, "").Message)
}

func TestClassifyTranscriptionError(t *testing.T) {
	assert.Equal(t, CodeInvalidAPIKey, ClassifyTranscriptionError("OpenAI", 401, "").Code)
	assert.Equal(t, CodeQuotaExceeded, ClassifyTranscriptionError("Groq", 400, "Daily limit hit").Code)

	failed := ClassifyTranscriptionError("OpenAI", 500, "boom")
	assert.Equal(t, CodeTranscriptionFailed, failed.Code)
	assert.Equal(t, http.StatusBadGateway, failed.Status)
	assert.Equal(t, "Voice transcription failed for OpenAI. boom", failed.Message)
	assert.Equal(t, http.StatusBadRequest, ClassifyTranscriptionError("OpenAI", 415, "").Status)
}

func TestErrorDetail(t *testing.T) {
	assert.Equal(t, "bad model", ErrorDetail([]byte(`{"error":{"message":"bad model"}}`)))
	assert.Equal(t, "top level", ErrorDetail([]byte(`{"message":"top level"}`)))
	assert.Equal(t, "plain text", ErrorDetail([]byte("plain text")))
}

func TestTransportErrorUnwrap(t *testing.T) {
	base := errors.New("dial tcp: timeout")
	err := TransportError("deepseek", "chat", base)
	assert.ErrorIs(t, err, base)
	assert.True(t, err.Retryable())
}
