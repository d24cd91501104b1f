package llm

import "context"

// Client is the interface that all model providers implement.
type Client interface {
	// Chat sends a chat completion request and returns the response.
	// tools uses the OpenAI-style function declaration shape produced by
	// the tool registry.
	Chat(ctx context.Context, model string, messages []Message, tools []map[string]any) (*ChatResponse, error)

	// Ping checks if the provider is reachable.
	Ping(ctx context.Context) error
}
