// Package agent implements the AgriAgent orchestrator: it assembles one
// prompt from location, context, and recent history, hands it to the
// reasoning gateway with the tool registry attached, and turns the
// answer into a response with suggested follow-up actions.
package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/reasoning"
	"github.com/agriagent/agriagent/internal/tools"
	"github.com/agriagent/agriagent/internal/usage"
)

// Conversation roles.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// MaxHistory is the number of most recent turns included in the prompt.
const MaxHistory = 10

// FallbackText is returned whenever an answer cannot be produced.
const FallbackText = "I'm having trouble thinking right now. Please try again."

// Suggested actions derived from the answer text.
const (
	ActionMarket  = "Check market trends again later"
	ActionWeather = "Prepare for weather changes"
)

// Turn is one prior exchange in the conversation.
type Turn struct {
	Role string `json:"role"`
	Text string `json:"text"`
}

// Location describes where the farmer is.
type Location struct {
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// Query is one orchestrator request. The caller owns the history and
// passes it in full; only the last MaxHistory turns are used.
type Query struct {
	Query    string
	Context  map[string]any
	History  []Turn
	Location *Location
}

// Response is the orchestrator's answer.
type Response struct {
	Text    string   `json:"text"`
	Actions []string `json:"actions"`
}

// Generator is the reasoning capability the orchestrator delegates to.
type Generator interface {
	Generate(ctx context.Context, req reasoning.Request) (string, error)
}

// Orchestrator answers farmer questions.
type Orchestrator struct {
	gen     Generator
	tools   reasoning.ToolSet
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewOrchestrator creates an orchestrator. toolSet may be nil, in which
// case the model answers without lookups.
func NewOrchestrator(gen Generator, toolSet reasoning.ToolSet, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		gen:    gen,
		tools:  toolSet,
		logger: logger.With("component", "agent"),
	}
}

// SetMetrics attaches a metrics sink for request outcomes.
func (o *Orchestrator) SetMetrics(m *metrics.Metrics) {
	o.metrics = m
}

// ReasonAndAct answers q. It never fails: any error, including a panic
// in the gateway, yields FallbackText with no actions.
func (o *Orchestrator) ReasonAndAct(ctx context.Context, q Query) Response {
	text, err := o.generate(ctx, BuildPrompt(q))
	if err != nil {
		o.logger.Error("agent request failed",
			"error", err,
			"request_id", tools.RequestIDFromContext(ctx),
		)
		o.metrics.AgentRequest("fallback")
		return Response{Text: FallbackText, Actions: []string{}}
	}

	o.metrics.AgentRequest("ok")
	return Response{Text: text, Actions: SuggestActions(text)}
}

func (o *Orchestrator) generate(ctx context.Context, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("gateway panic: %v", r)
		}
	}()
	if o.gen == nil {
		return "", fmt.Errorf("no reasoning gateway configured")
	}

	o.logger.Debug("sending prompt",
		"prompt_len", len(prompt),
		"request_id", tools.RequestIDFromContext(ctx),
	)
	return o.gen.Generate(ctx, reasoning.Request{
		Prompt:      prompt,
		Tools:       o.tools,
		AutoToolUse: o.tools != nil,
		Purpose:     usage.PurposeAgent,
	})
}

// SuggestActions derives follow-up actions from answer text. Market
// comes before weather and each appears at most once.
func SuggestActions(text string) []string {
	lower := strings.ToLower(text)
	actions := []string{}
	if strings.Contains(lower, "market") {
		actions = append(actions, ActionMarket)
	}
	if strings.Contains(lower, "weather") {
		actions = append(actions, ActionWeather)
	}
	return actions
}
