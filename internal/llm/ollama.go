package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/agriagent/agriagent/internal/httpkit"
)

// OllamaClient is a client for a local Ollama server.
type OllamaClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewOllamaClient creates a new Ollama client.
func NewOllamaClient(baseURL string, timeout time.Duration, logger *slog.Logger) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if logger == nil {
		logger = slog.Default()
	}
	// Large local models with tools and images need time before headers.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 5 * time.Minute

	return &OllamaClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "ollama"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithTransport(t),
		),
	}
}

// Ollama wire types

type ollamaChatRequest struct {
	Model    string           `json:"model"`
	Messages []ollamaMessage  `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

type ollamaMessage struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Images    []string   `json:"images,omitempty"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolName  string     `json:"tool_name,omitempty"`
}

type ollamaChatResponse struct {
	Model      string        `json:"model"`
	CreatedAt  time.Time     `json:"created_at"`
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason,omitempty"`

	TotalDuration   int64 `json:"total_duration,omitempty"`
	PromptEvalCount int   `json:"prompt_eval_count,omitempty"`
	EvalCount       int   `json:"eval_count,omitempty"`
}

// Chat sends a non-streaming chat request to Ollama.
func (c *OllamaClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	req := ollamaChatRequest{
		Model:    model,
		Messages: convertToOllama(messages),
		Tools:    tools,
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	c.logger.Log(ctx, LevelTrace, "request payload", "bytes", len(jsonData))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("ollama API error %d: %s", resp.StatusCode, errBody)
	}

	var or ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&or); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &ChatResponse{
		Model:     or.Model,
		CreatedAt: or.CreatedAt,
		Message: Message{
			Role:      RoleAssistant,
			Content:   or.Message.Content,
			ToolCalls: or.Message.ToolCalls,
		},
		Done:          or.Done,
		InputTokens:   or.PromptEvalCount,
		OutputTokens:  or.EvalCount,
		FinishReason:  or.DoneReason,
		TotalDuration: time.Duration(or.TotalDuration),
	}

	// Smaller models often print the call as JSON instead of using tool_calls.
	if len(out.Message.ToolCalls) == 0 && out.Message.Content != "" && len(tools) > 0 {
		if parsed := parseTextToolCalls(out.Message.Content, toolNames(tools)); len(parsed) > 0 {
			c.logger.Debug("recovered tool calls from content", "count", len(parsed))
			out.Message.ToolCalls = parsed
			out.Message.Content = ""
		}
	}
	for i := range out.Message.ToolCalls {
		if out.Message.ToolCalls[i].ID == "" {
			out.Message.ToolCalls[i].ID = fmt.Sprintf("call_%s_%d", out.Message.ToolCalls[i].Function.Name, i)
		}
	}

	return out, nil
}

func convertToOllama(messages []Message) []ollamaMessage {
	out := make([]ollamaMessage, 0, len(messages))
	for _, m := range messages {
		om := ollamaMessage{
			Role:      m.Role,
			Content:   m.Content,
			ToolCalls: m.ToolCalls,
			ToolName:  m.ToolName,
		}
		for _, media := range m.Media {
			om.Images = append(om.Images, base64.StdEncoding.EncodeToString(media.Data))
		}
		out = append(out, om)
	}
	return out
}

// parseTextToolCalls attempts to extract tool calls from content text.
// Local models print calls in several shapes:
//   - a JSON object {"name": "...", "arguments": {...}}, possibly
//     several concatenated back to back and followed by prose
//   - a JSON array of those objects
//   - tool_name {"arg": ...}
//   - any of the above wrapped in <tool_call> tags
//
// When validTools is non-empty, calls naming other tools are dropped so
// that ordinary JSON answers are not mistaken for calls.
func parseTextToolCalls(content string, validTools []string) []ToolCall {
	content = strings.TrimSpace(content)
	if content == "" {
		return nil
	}

	if start := strings.Index(content, "<tool_call>"); start != -1 {
		rest := content[start+len("<tool_call>"):]
		if end := strings.Index(rest, "</tool_call>"); end != -1 {
			rest = rest[:end]
		}
		content = strings.TrimSpace(rest)
	}

	var fns []FunctionCall
	switch {
	case strings.HasPrefix(content, "["):
		_ = json.Unmarshal([]byte(content), &fns)
	case strings.HasPrefix(content, "{"):
		fns = decodeConcatenated(content)
	case len(validTools) > 0:
		name, rest, ok := strings.Cut(content, " ")
		rest = strings.TrimSpace(rest)
		if ok && strings.HasPrefix(rest, "{") {
			var args map[string]any
			if err := json.NewDecoder(strings.NewReader(rest)).Decode(&args); err == nil {
				fns = []FunctionCall{{Name: name, Arguments: args}}
			}
		}
	}

	var result []ToolCall
	for _, fn := range fns {
		if fn.Name == "" {
			continue
		}
		if len(validTools) > 0 && !slices.Contains(validTools, fn.Name) {
			continue
		}
		result = append(result, ToolCall{Function: fn})
	}
	return result
}

// decodeConcatenated reads JSON objects until the first decode error,
// returning everything decoded so far.
func decodeConcatenated(s string) []FunctionCall {
	dec := json.NewDecoder(strings.NewReader(s))
	var out []FunctionCall
	for {
		var fn FunctionCall
		if err := dec.Decode(&fn); err != nil {
			return out
		}
		out = append(out, fn)
	}
}

// Ping checks if Ollama is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 64*1024)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}
	return nil
}
