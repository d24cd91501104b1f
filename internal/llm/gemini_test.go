package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConvertToGemini(t *testing.T) {
	messages := []Message{
		{Role: RoleSystem, Content: "You are AgriAgent."},
		{Role: RoleUser, Content: "Look at this leaf.", Media: []Media{{MIMEType: "image/png", Data: []byte{0x89, 0x50}}}},
		{Role: RoleAssistant, ToolCalls: []ToolCall{
			{ID: "a", Function: FunctionCall{Name: "get_weather", Arguments: map[string]any{"location": "Nairobi"}}},
			{ID: "b", Function: FunctionCall{Name: "get_knowledge", Arguments: map[string]any{"query": "blight"}}},
		}},
		{Role: RoleTool, ToolCallID: "a", ToolName: "get_weather", Content: `{"condition":"Rainy"}`},
		{Role: RoleTool, ToolCallID: "b", ToolName: "get_knowledge", Content: "Remove infected leaves."},
	}

	contents, system := convertToGemini(messages)
	require.NotNil(t, system)
	assert.Equal(t, "You are AgriAgent.", system.Parts[0].Text)

	require.Len(t, contents, 3, "user, model calls, grouped function responses")
	assert.Equal(t, "user", contents[0].Role)
	require.Len(t, contents[0].Parts, 2)
	assert.Equal(t, "image/png", contents[0].Parts[1].InlineData.MimeType)
	assert.Equal(t, "iVA=", contents[0].Parts[1].InlineData.Data)

	assert.Equal(t, "model", contents[1].Role)
	require.Len(t, contents[1].Parts, 2)
	assert.Equal(t, "get_weather", contents[1].Parts[0].FunctionCall.Name)

	assert.Equal(t, "user", contents[2].Role)
	require.Len(t, contents[2].Parts, 2)
	assert.Equal(t, "get_knowledge", contents[2].Parts[1].FunctionResponse.Name)
	assert.Equal(t, "Remove infected leaves.", contents[2].Parts[1].FunctionResponse.Response["result"])
}

func TestConvertToolsToGemini(t *testing.T) {
	tools := []map[string]any{
		{"type": "function", "function": map[string]any{
			"name":        "get_knowledge",
			"description": "Agronomy advice",
			"parameters":  map[string]any{"type": "object"},
		}},
		{"broken": true},
	}
	got := convertToolsToGemini(tools)
	require.Len(t, got, 1)
	require.Len(t, got[0].FunctionDeclarations, 1)
	assert.Equal(t, "get_knowledge", got[0].FunctionDeclarations[0].Name)
	assert.Nil(t, convertToolsToGemini(nil))
}

func TestGeminiChat(t *testing.T) {
	var gotReq geminiRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1beta/models/gemini-flash-latest:generateContent", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-goog-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"candidates": [{
				"content": {"role": "model", "parts": [
					{"text": "Checking the forecast."},
					{"functionCall": {"name": "get_weather", "args": {"location": "Nairobi"}}}
				]},
				"finishReason": "STOP"
			}],
			"usageMetadata": {"promptTokenCount": 42, "candidatesTokenCount": 9},
			"modelVersion": "gemini-2.5-flash"
		}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("test-key", srv.URL, 0, nil)
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "get_weather"}}}
	resp, err := c.Chat(context.Background(), "", []Message{{Role: RoleUser, Content: "Will it rain?"}}, tools)
	require.NoError(t, err)

	require.NotNil(t, gotReq.ToolConfig)
	assert.Equal(t, "AUTO", gotReq.ToolConfig.FunctionCallingConfig.Mode)

	assert.Equal(t, "gemini-2.5-flash", resp.Model)
	assert.Equal(t, "Checking the forecast.", resp.Message.Content)
	require.Len(t, resp.Message.ToolCalls, 1)
	assert.Equal(t, "get_weather", resp.Message.ToolCalls[0].Function.Name)
	assert.Equal(t, "Nairobi", resp.Message.ToolCalls[0].Function.Arguments["location"])
	assert.Equal(t, 42, resp.InputTokens)
	assert.Equal(t, 9, resp.OutputTokens)
	assert.Equal(t, "STOP", resp.FinishReason)
}

func TestGeminiChat_EchoesThoughtSignature(t *testing.T) {
	var (
		mu       sync.Mutex
		requests []geminiRequest
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		mu.Lock()
		requests = append(requests, req)
		n := len(requests)
		mu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"candidates": [{"content": {"role": "model", "parts": [
				{"functionCall": {"name": "get_weather", "args": {"location": "Nakuru"}}, "thoughtSignature": "sig-abc"}
			]}}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"candidates": [{"content": {"role": "model", "parts": [{"text": "Rain is coming."}]}}]}`))
	}))
	defer srv.Close()

	c := NewGeminiClient("k", srv.URL, 0, nil)
	tools := []map[string]any{{"type": "function", "function": map[string]any{"name": "get_weather"}}}
	messages := []Message{{Role: RoleUser, Content: "Will it rain in Nakuru?"}}

	first, err := c.Chat(context.Background(), "m", messages, tools)
	require.NoError(t, err)
	require.Len(t, first.Message.ToolCalls, 1)
	assert.Equal(t, "sig-abc", first.Message.ToolCalls[0].Signature)

	call := first.Message.ToolCalls[0]
	messages = append(messages, first.Message, Message{
		Role: RoleTool, ToolCallID: call.ID, ToolName: call.Function.Name, Content: `{"condition":"Rainy"}`,
	})
	second, err := c.Chat(context.Background(), "m", messages, tools)
	require.NoError(t, err)
	assert.Equal(t, "Rain is coming.", second.Message.Content)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, requests, 2)
	require.Len(t, requests[1].Contents, 3)
	model := requests[1].Contents[1]
	assert.Equal(t, "model", model.Role)
	require.Len(t, model.Parts, 1)
	require.NotNil(t, model.Parts[0].FunctionCall)
	assert.Equal(t, "sig-abc", model.Parts[0].ThoughtSignature)
}

func TestGeminiChat_Blocked(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"candidates": [], "promptFeedback": {"blockReason": "SAFETY"}}`))
	}))
	defer srv.Close()

	_, err := NewGeminiClient("k", srv.URL, 0, nil).Chat(context.Background(), "m", []Message{{Role: RoleUser, Content: "x"}}, nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrEmptyCandidates))
	assert.Contains(t, err.Error(), "SAFETY")
}

func TestGeminiChat_QuotaError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"status":"RESOURCE_EXHAUSTED"}}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	_, err := NewGeminiClient("k", srv.URL, 0, nil).Chat(context.Background(), "m", nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED")
}

func TestGeminiPing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-goog-api-key") != "good" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"models": []}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewGeminiClient("good", srv.URL, 0, nil).Ping(context.Background()))
	assert.EqualError(t, NewGeminiClient("bad", srv.URL, 0, nil).Ping(context.Background()), "invalid API key")
}
