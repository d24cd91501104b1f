// Package reasoning wraps a model provider as a single Generate call.
// When a tool set is attached it runs the model/tool round trips itself
// and returns only the final text.
package reasoning

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/agriagent/agriagent/internal/llm"
	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/tools"
	"github.com/agriagent/agriagent/internal/usage"
)

// DefaultMaxToolRounds bounds model/tool round trips per Generate call.
const DefaultMaxToolRounds = 5

var (
	// ErrGateway wraps every failure to obtain an answer from the model.
	ErrGateway = errors.New("reasoning gateway failed")

	// ErrMalformedOutput is returned when the model answers with no
	// usable text.
	ErrMalformedOutput = errors.New("model returned no usable output")
)

// ToolSet is the capability handed to the gateway for automatic tool use.
type ToolSet interface {
	List() []map[string]any
	Execute(ctx context.Context, name string, argsJSON string) (string, error)
}

// UsageRecorder persists token accounting for each call.
type UsageRecorder interface {
	Record(ctx context.Context, rec usage.Record) error
}

// Request is one Generate call.
type Request struct {
	// System is an optional system instruction.
	System string
	Prompt string
	Media  []llm.Media

	// Tools, when non-nil and AutoToolUse is set, are offered to the
	// model and executed on its behalf.
	Tools       ToolSet
	AutoToolUse bool

	// Purpose labels usage records and metrics (usage.PurposeAgent, ...).
	Purpose string
}

// Gateway sends prompts to a model provider.
type Gateway struct {
	client    llm.Client
	model     string
	provider  string
	maxRounds int
	logger    *slog.Logger
	usage     UsageRecorder
	metrics   *metrics.Metrics
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithMaxToolRounds overrides DefaultMaxToolRounds. Values below 1 are
// ignored.
func WithMaxToolRounds(n int) Option {
	return func(g *Gateway) {
		if n > 0 {
			g.maxRounds = n
		}
	}
}

// WithUsage records token usage for every call.
func WithUsage(u UsageRecorder) Option {
	return func(g *Gateway) { g.usage = u }
}

// WithMetrics observes call latency.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a gateway for model on client. provider names the backend
// in usage records.
func New(client llm.Client, model, provider string, logger *slog.Logger, opts ...Option) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gateway{
		client:    client,
		model:     model,
		provider:  provider,
		maxRounds: DefaultMaxToolRounds,
		logger:    logger.With("component", "reasoning"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Model returns the configured model name.
func (g *Gateway) Model() string {
	return g.model
}

type callStats struct {
	inputTokens  int
	outputTokens int
	toolCalls    int
	rounds       int
	model        string
}

// Generate runs req to completion and returns the model's final text.
// All errors wrap ErrGateway; empty answers also wrap ErrMalformedOutput.
func (g *Gateway) Generate(ctx context.Context, req Request) (string, error) {
	start := time.Now()
	stats := &callStats{model: g.model}

	text, err := g.generate(ctx, req, stats)

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	elapsed := time.Since(start)
	g.metrics.ObserveGateway(req.Purpose, outcome, elapsed)
	g.recordUsage(ctx, req.Purpose, outcome, elapsed, stats)

	g.logger.Info("gateway call finished",
		"purpose", req.Purpose,
		"model", stats.model,
		"rounds", stats.rounds,
		"tool_calls", stats.toolCalls,
		"input_tokens", stats.inputTokens,
		"output_tokens", stats.outputTokens,
		"duration", elapsed.Round(time.Millisecond),
		"outcome", outcome,
		"request_id", tools.RequestIDFromContext(ctx),
	)
	return text, err
}

func (g *Gateway) generate(ctx context.Context, req Request, stats *callStats) (string, error) {
	if g.client == nil {
		return "", fmt.Errorf("%w: no model provider configured", ErrGateway)
	}

	var messages []llm.Message
	if req.System != "" {
		messages = append(messages, llm.Message{Role: llm.RoleSystem, Content: req.System})
	}
	messages = append(messages, llm.Message{
		Role:    llm.RoleUser,
		Content: req.Prompt,
		Media:   req.Media,
	})

	var toolDecls []map[string]any
	if req.Tools != nil && req.AutoToolUse {
		toolDecls = req.Tools.List()
	}

	for stats.rounds < g.maxRounds {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", ErrGateway, err)
		}
		stats.rounds++

		resp, err := g.client.Chat(ctx, g.model, messages, toolDecls)
		if err != nil {
			return "", fmt.Errorf("%w: %w", ErrGateway, err)
		}
		stats.inputTokens += resp.InputTokens
		stats.outputTokens += resp.OutputTokens
		if resp.Model != "" {
			stats.model = resp.Model
		}

		g.logger.Log(ctx, llm.LevelTrace, "model response",
			"round", stats.rounds,
			"content", resp.Message.Content,
			"tool_calls", len(resp.Message.ToolCalls),
		)

		if len(resp.Message.ToolCalls) == 0 {
			text := strings.TrimSpace(resp.Message.Content)
			if text == "" {
				return "", fmt.Errorf("%w: %w", ErrGateway, ErrMalformedOutput)
			}
			return text, nil
		}

		if toolDecls == nil {
			return "", fmt.Errorf("%w: model requested tools but none were offered", ErrGateway)
		}

		assistant := resp.Message
		assistant.Role = llm.RoleAssistant
		messages = append(messages, assistant)

		for _, tc := range resp.Message.ToolCalls {
			stats.toolCalls++
			result, err := g.executeTool(ctx, req.Tools, tc)
			if err != nil {
				return "", fmt.Errorf("%w: tool %s: %w", ErrGateway, tc.Function.Name, err)
			}
			messages = append(messages, llm.Message{
				Role:       llm.RoleTool,
				Content:    result,
				ToolCallID: tc.ID,
				ToolName:   tc.Function.Name,
			})
		}
	}

	return "", fmt.Errorf("%w: exceeded %d tool rounds", ErrGateway, g.maxRounds)
}

func (g *Gateway) executeTool(ctx context.Context, ts ToolSet, tc llm.ToolCall) (string, error) {
	args := tc.Function.Arguments
	if args == nil {
		args = map[string]any{}
	}
	argsJSON, err := json.Marshal(args)
	if err != nil {
		return "", fmt.Errorf("encode arguments: %w", err)
	}

	g.logger.Debug("executing tool call",
		"tool", tc.Function.Name,
		"call_id", tc.ID,
		"args", string(argsJSON),
	)
	return ts.Execute(ctx, tc.Function.Name, string(argsJSON))
}

func (g *Gateway) recordUsage(ctx context.Context, purpose, outcome string, elapsed time.Duration, stats *callStats) {
	if g.usage == nil {
		return
	}
	rec := usage.Record{
		Timestamp:    time.Now(),
		RequestID:    tools.RequestIDFromContext(ctx),
		Model:        stats.model,
		Provider:     g.provider,
		Purpose:      purpose,
		InputTokens:  stats.inputTokens,
		OutputTokens: stats.outputTokens,
		ToolCalls:    stats.toolCalls,
		Rounds:       stats.rounds,
		Duration:     elapsed,
		Outcome:      outcome,
	}
	if err := g.usage.Record(context.WithoutCancel(ctx), rec); err != nil {
		g.logger.Warn("failed to record usage", "error", err)
	}
}
