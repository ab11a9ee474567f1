package llm_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zjy-dev/concolic-fuzz/internal/llm"
)

func TestDeepSeekClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "deepseek-coder", body["model"])

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hello"}}],"usage":{"prompt_tokens":5,"completion_tokens":2}}`))
	}))
	defer server.Close()

	client := llm.NewDeepSeekClient("test-key", "deepseek-coder", server.URL, 0.5)
	text, usage, err := client.Complete(context.Background(), "be terse", "say hi")
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, int64(5), usage.InputTokens)
	assert.Equal(t, int64(2), usage.OutputTokens)
}

func TestDeepSeekClientNonOKStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := llm.NewDeepSeekClient("test-key", "deepseek-coder", server.URL, 0.5)
	_, _, err := client.Complete(context.Background(), "", "prompt")
	assert.Error(t, err)
}

func TestMiniMaxClientComplete(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"ack"}}],"usage":{"prompt_tokens":3,"completion_tokens":1}}`))
	}))
	defer server.Close()

	client := llm.NewMiniMaxClient("test-key", "abab-6.5", server.URL, 0.7)
	text, usage, err := client.Complete(context.Background(), "", "ping")
	require.NoError(t, err)
	assert.Equal(t, "ack", text)
	assert.Equal(t, int64(3), usage.InputTokens)
}
