package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	kberrors "github.com/Fang088/FF-KB-Robot/internal/errors"
)

func newChatServer(t *testing.T, answer string, gotReq *map[string]any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		if gotReq != nil {
			*gotReq = req
		}

		if stream, _ := req["stream"].(bool); stream {
			w.Header().Set("Content-Type", "text/event-stream")
			for _, r := range answer {
				fmt.Fprintf(w, "data: %s\n\n", sseChunk(string(r)))
			}
			fmt.Fprint(w, "data: [DONE]\n\n")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"id":"c1","object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":%q},"finish_reason":"stop"}]}`, answer)
	}))
}

func sseChunk(delta string) string {
	b, _ := json.Marshal(map[string]any{
		"id":     "c1",
		"object": "chat.completion.chunk",
		"choices": []map[string]any{
			{"index": 0, "delta": map[string]any{"content": delta}},
		},
	})
	return string(b)
}

func TestNewClient_RequiresModel(t *testing.T) {
	_, err := NewClient(Options{})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeInvalidInput, kberrors.GetCode(err))
}

func TestClient_Generate(t *testing.T) {
	var got map[string]any
	srv := newChatServer(t, "Python是一种编程语言。", &got)
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, APIKey: "k", Model: "test-model"})
	require.NoError(t, err)

	answer, err := c.Generate(context.Background(), Request{
		System: "你是一个知识库问答助手。",
		Prompt: "Python是什么？",
	})
	require.NoError(t, err)
	assert.Equal(t, "Python是一种编程语言。", answer)

	assert.Equal(t, "test-model", got["model"])
	assert.InDelta(t, DefaultTemperature, got["temperature"].(float64), 1e-9)
	assert.InDelta(t, float64(DefaultMaxTokens), got["max_tokens"].(float64), 1e-9)

	msgs := got["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "user", msgs[1].(map[string]any)["role"])
}

func TestClient_GenerateStream(t *testing.T) {
	srv := newChatServer(t, "流式回答", nil)
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)

	var deltas []string
	answer, err := c.GenerateStream(context.Background(), Request{Prompt: "q"}, func(d string) {
		deltas = append(deltas, d)
	})
	require.NoError(t, err)
	assert.Equal(t, "流式回答", answer)
	assert.Equal(t, "流式回答", strings.Join(deltas, ""))
}

func TestClient_VisionPartsEncoded(t *testing.T) {
	var got map[string]any
	srv := newChatServer(t, "图中是一只猫。", &got)
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{
		Prompt: "描述这张图片",
		Images: []Image{{DataURL: "data:image/png;base64,AAAA"}},
	})
	require.NoError(t, err)

	msgs := got["messages"].([]any)
	user := msgs[len(msgs)-1].(map[string]any)
	parts := user["content"].([]any)
	require.Len(t, parts, 2)
	assert.Equal(t, "text", parts[0].(map[string]any)["type"])
	assert.Equal(t, "image_url", parts[1].(map[string]any)["type"])
}

func TestClient_ServerErrorSurfacesProviderCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":{"message":"boom"}}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := NewClient(Options{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	require.NoError(t, err)
	c.retryCfg.MaxRetries = 0

	_, err = c.Generate(context.Background(), Request{Prompt: "q"})
	require.Error(t, err)
	assert.Equal(t, kberrors.ErrCodeLLMUnavailable, kberrors.GetCode(err))
}

func TestClient_Defaults(t *testing.T) {
	c, err := NewClient(Options{Model: "m", Temperature: 0.2, MaxTokens: 50})
	require.NoError(t, err)
	assert.InDelta(t, 0.2, c.temperature, 1e-9)
	assert.Equal(t, 50, c.maxTokens)
	assert.InDelta(t, DefaultTopP, c.topP, 1e-9)
	assert.Equal(t, DefaultTimeout, c.timeout)
	assert.Equal(t, "m", c.ModelName())
}
