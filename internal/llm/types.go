// Package llm provides the hosted-model clients behind the reasoning
// gateway. Each provider converts the provider-neutral [Message] and
// [ChatResponse] types to and from its own wire format.
package llm

import (
	"log/slog"
	"time"
)

// LevelTrace is below Debug, used for wire-level payload logging.
const LevelTrace = slog.Level(-8)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the model.
type Message struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Media   []Media `json:"-"`

	ToolCalls []ToolCall `json:"tool_calls,omitempty"`

	// ToolCallID and ToolName identify the call a tool message answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
	ToolName   string `json:"tool_name,omitempty"`
}

// Media is an inline binary attachment (photo, video clip, voice note)
// sent alongside a user message.
type Media struct {
	MIMEType string
	Data     []byte
}

// FunctionCall is the name and decoded arguments of a tool invocation.
type FunctionCall struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolCall represents a tool call requested by the model.
type ToolCall struct {
	ID       string       `json:"id,omitempty"`
	Function FunctionCall `json:"function"`

	// Signature is an opaque provider token (Gemini thoughtSignature)
	// that must be sent back with this call on the next turn.
	Signature string `json:"-"`
}

// ChatResponse is the unified response from any provider. Wire format
// conversion happens at provider boundaries (gemini.go, ollama.go).
type ChatResponse struct {
	Model     string
	CreatedAt time.Time
	Message   Message
	Done      bool

	// Token usage (provider-neutral)
	InputTokens  int
	OutputTokens int

	// FinishReason is the provider's stop reason, when reported.
	FinishReason string

	TotalDuration time.Duration
}

// toolNames extracts declared function names from OpenAI-style tool
// definitions ({"type":"function","function":{"name":...}}).
func toolNames(tools []map[string]any) []string {
	var names []string
	for _, t := range tools {
		fn, ok := t["function"].(map[string]any)
		if !ok {
			continue
		}
		if name, _ := fn["name"].(string); name != "" {
			names = append(names, name)
		}
	}
	return names
}
