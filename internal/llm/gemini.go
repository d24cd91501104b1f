package llm

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/agriagent/agriagent/internal/httpkit"
)

const (
	geminiAPIURL       = "https://generativelanguage.googleapis.com"
	geminiAPIVersion   = "v1beta"
	geminiDefaultModel = "gemini-flash-latest"
)

// ErrEmptyCandidates is returned when the API answers without any
// candidate, which is how blocked prompts surface.
var ErrEmptyCandidates = errors.New("gemini returned no candidates")

// GeminiClient is a client for the Gemini generateContent REST API.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewGeminiClient creates a Gemini client. An empty baseURL uses the
// public endpoint. timeout bounds each request; zero leaves it to ctx.
func NewGeminiClient(apiKey, baseURL string, timeout time.Duration, logger *slog.Logger) *GeminiClient {
	if logger == nil {
		logger = slog.Default()
	}
	if baseURL == "" {
		baseURL = geminiAPIURL
	}
	// Multimodal prompts can take a while before headers arrive.
	t := httpkit.NewTransport()
	t.ResponseHeaderTimeout = 120 * time.Second

	return &GeminiClient{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger.With("provider", "gemini"),
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(timeout),
			httpkit.WithTransport(t),
		),
	}
}

// Gemini request/response types

type geminiRequest struct {
	Contents          []geminiContent   `json:"contents"`
	SystemInstruction *geminiContent    `json:"systemInstruction,omitempty"`
	Tools             []geminiTool      `json:"tools,omitempty"`
	ToolConfig        *geminiToolConfig `json:"toolConfig,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string                  `json:"text,omitempty"`
	InlineData       *geminiInlineData       `json:"inlineData,omitempty"`
	FunctionCall     *geminiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *geminiFunctionResponse `json:"functionResponse,omitempty"`
	// ThoughtSignature must be returned on the functionCall part it
	// arrived with, or thinking models reject the follow-up turn.
	ThoughtSignature string `json:"thoughtSignature,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
}

type geminiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type geminiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiTool struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Parameters  any    `json:"parameters,omitempty"`
}

type geminiToolConfig struct {
	FunctionCallingConfig struct {
		Mode string `json:"mode"`
	} `json:"functionCallingConfig"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason,omitempty"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason,omitempty"`
	} `json:"promptFeedback,omitempty"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
	ModelVersion string `json:"modelVersion,omitempty"`
}

// Chat sends a generateContent request.
func (c *GeminiClient) Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error) {
	if model == "" {
		model = geminiDefaultModel
	}
	req := geminiRequest{}
	req.Contents, req.SystemInstruction = convertToGemini(messages)
	req.Tools = convertToolsToGemini(tools)
	if len(req.Tools) > 0 {
		req.ToolConfig = &geminiToolConfig{}
		req.ToolConfig.FunctionCallingConfig.Mode = "AUTO"
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	c.logger.Debug("preparing request",
		"model", model,
		"contents", len(req.Contents),
		"tools", len(tools),
	)
	c.logger.Log(ctx, LevelTrace, "request payload", "bytes", len(jsonData))

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, geminiAPIVersion, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 4096)
		c.logger.Error("API error", "status", resp.StatusCode, "body", errBody)
		return nil, fmt.Errorf("gemini API error %d: %s", resp.StatusCode, errBody)
	}

	var gr geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&gr); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	result, err := convertFromGemini(&gr)
	if err != nil {
		return nil, err
	}
	if result.Model == "" {
		result.Model = model
	}
	result.TotalDuration = time.Since(start)

	c.logger.Debug("response received",
		"model", result.Model,
		"input_tokens", result.InputTokens,
		"output_tokens", result.OutputTokens,
		"tool_calls", len(result.Message.ToolCalls),
		"finish_reason", result.FinishReason,
	)
	c.logger.Log(ctx, LevelTrace, "response content", "content", result.Message.Content)

	return result, nil
}

// Ping checks that the API key can list models.
func (c *GeminiClient) Ping(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s/models?pageSize=1", c.baseURL, geminiAPIVersion)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpkit.DrainAndClose(resp.Body, 4096)

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("invalid API key")
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return fmt.Errorf("unexpected status from Gemini API: %d", resp.StatusCode)
	}
	return nil
}

// convertToGemini converts internal messages to Gemini contents.
// System messages are pulled out into the system instruction.
func convertToGemini(messages []Message) ([]geminiContent, *geminiContent) {
	var systemParts []string
	var result []geminiContent

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			systemParts = append(systemParts, msg.Content)

		case RoleAssistant:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, tc := range msg.ToolCalls {
				parts = append(parts, geminiPart{
					FunctionCall: &geminiFunctionCall{
						Name: tc.Function.Name,
						Args: tc.Function.Arguments,
					},
					ThoughtSignature: tc.Signature,
				})
			}
			if len(parts) > 0 {
				result = append(result, geminiContent{Role: "model", Parts: parts})
			}

		case RoleTool:
			part := geminiPart{FunctionResponse: &geminiFunctionResponse{
				Name:     msg.ToolName,
				Response: map[string]any{"result": msg.Content},
			}}
			// Consecutive tool results belong to the same turn.
			if n := len(result); n > 0 && result[n-1].Role == "user" && result[n-1].Parts[0].FunctionResponse != nil {
				result[n-1].Parts = append(result[n-1].Parts, part)
				continue
			}
			result = append(result, geminiContent{Role: "user", Parts: []geminiPart{part}})

		case RoleUser:
			var parts []geminiPart
			if msg.Content != "" {
				parts = append(parts, geminiPart{Text: msg.Content})
			}
			for _, m := range msg.Media {
				parts = append(parts, geminiPart{InlineData: &geminiInlineData{
					MimeType: m.MIMEType,
					Data:     base64.StdEncoding.EncodeToString(m.Data),
				}})
			}
			if len(parts) > 0 {
				result = append(result, geminiContent{Role: "user", Parts: parts})
			}
		}
	}

	if len(systemParts) == 0 {
		return result, nil
	}
	return result, &geminiContent{Parts: []geminiPart{{Text: strings.Join(systemParts, "\n\n")}}}
}

// convertToolsToGemini converts OpenAI-format tool definitions into a
// single Gemini tool carrying every function declaration.
func convertToolsToGemini(tools []map[string]any) []geminiTool {
	var decls []geminiFunctionDeclaration
	for _, tool := range tools {
		fn, ok := tool["function"].(map[string]any)
		if !ok {
			continue
		}
		name, _ := fn["name"].(string)
		desc, _ := fn["description"].(string)
		decls = append(decls, geminiFunctionDeclaration{
			Name:        name,
			Description: desc,
			Parameters:  fn["parameters"],
		})
	}
	if len(decls) == 0 {
		return nil
	}
	return []geminiTool{{FunctionDeclarations: decls}}
}

// convertFromGemini converts the first candidate to our internal format.
func convertFromGemini(resp *geminiResponse) (*ChatResponse, error) {
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return nil, fmt.Errorf("%w: blocked (%s)", ErrEmptyCandidates, resp.PromptFeedback.BlockReason)
		}
		return nil, ErrEmptyCandidates
	}

	cand := resp.Candidates[0]
	var text strings.Builder
	var toolCalls []ToolCall
	for i, p := range cand.Content.Parts {
		if p.Text != "" {
			text.WriteString(p.Text)
		}
		if p.FunctionCall != nil {
			args := p.FunctionCall.Args
			if args == nil {
				args = map[string]any{}
			}
			toolCalls = append(toolCalls, ToolCall{
				ID:        fmt.Sprintf("call_%s_%d", p.FunctionCall.Name, i),
				Function:  FunctionCall{Name: p.FunctionCall.Name, Arguments: args},
				Signature: p.ThoughtSignature,
			})
		}
	}

	out := &ChatResponse{
		Model:     resp.ModelVersion,
		CreatedAt: time.Now(),
		Message: Message{
			Role:      RoleAssistant,
			Content:   text.String(),
			ToolCalls: toolCalls,
		},
		Done:         true,
		FinishReason: cand.FinishReason,
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = resp.UsageMetadata.PromptTokenCount
		out.OutputTokens = resp.UsageMetadata.CandidatesTokenCount
	}
	return out, nil
}
