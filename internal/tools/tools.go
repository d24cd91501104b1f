// Package tools defines the lookups the reasoning gateway may call on
// the model's behalf: weather, market price, and agronomy knowledge.
// Each lookup has a local fallback and tags its result with a source.
package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/agriagent/agriagent/internal/market"
	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/randsrc"
	"github.com/agriagent/agriagent/internal/weather"
)

// Tool represents a callable tool.
type Tool struct {
	Name        string                                                         `json:"name"`
	Description string                                                         `json:"description"`
	Parameters  map[string]any                                                 `json:"parameters"`
	Handler     func(ctx context.Context, args map[string]any) (string, error) `json:"-"`
}

// WeatherFetcher is the forecast source behind get_weather.
type WeatherFetcher interface {
	Fetch(ctx context.Context, lat, lon float64) (*weather.Forecast, error)
}

// PriceQuoter is the market source behind get_market_price.
type PriceQuoter interface {
	GetPrice(ctx context.Context, crop, region string, coords *market.Coordinates) (market.Quote, error)
}

// Registry holds available tools.
type Registry struct {
	tools  map[string]*Tool
	order  []string
	logger *slog.Logger

	weather WeatherFetcher
	prices  PriceQuoter
	rand    randsrc.Source
	now     func() time.Time
	metrics *metrics.Metrics
}

// NewRegistry creates a registry with the built-in lookups. weather and
// prices may be nil, in which case every call uses the local fallback.
func NewRegistry(logger *slog.Logger, wx WeatherFetcher, prices PriceQuoter, src randsrc.Source) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if src == nil {
		src = randsrc.Runtime()
	}
	r := &Registry{
		tools:   make(map[string]*Tool),
		logger:  logger.With("component", "tools"),
		weather: wx,
		prices:  prices,
		rand:    src,
		now:     time.Now,
	}
	r.registerBuiltins()
	return r
}

// SetMetrics attaches a metrics sink for per-call counters.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

func (r *Registry) registerBuiltins() {
	r.Register(&Tool{
		Name:        "get_weather",
		Description: "Get the current weather and a short forecast for a farm location. Pass latitude and longitude when known for live data.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"location": map[string]any{
					"type":        "string",
					"description": "Place name, e.g. Nairobi or Bahir Dar",
				},
				"lat": map[string]any{
					"type":        "number",
					"description": "Latitude in decimal degrees",
				},
				"lon": map[string]any{
					"type":        "number",
					"description": "Longitude in decimal degrees",
				},
			},
			"required": []string{"location"},
		},
		Handler: r.handleGetWeather,
	})

	r.Register(&Tool{
		Name:        "get_market_price",
		Description: "Get the current market price per kg for a crop in a region, with trend. Coordinates, when given, select the region.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"crop": map[string]any{
					"type":        "string",
					"description": "Crop name, e.g. maize, wheat, coffee, teff",
				},
				"region": map[string]any{
					"type":        "string",
					"description": "Market region: Kenya, Ethiopia, Tanzania, or Uganda (default Kenya)",
				},
				"lat": map[string]any{
					"type":        "number",
					"description": "Latitude in decimal degrees",
				},
				"lon": map[string]any{
					"type":        "number",
					"description": "Longitude in decimal degrees",
				},
			},
			"required": []string{"crop"},
		},
		Handler: r.handleGetMarketPrice,
	})

	r.Register(&Tool{
		Name:        "get_knowledge",
		Description: "Retrieve agronomy advice on a topic such as pests, disease, irrigation, fertilizer, harvest, or soil.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The farming topic or question",
				},
			},
			"required": []string{"query"},
		},
		Handler: r.handleGetKnowledge,
	})
}

// Register adds a tool to the registry, replacing any tool of the same name.
func (r *Registry) Register(t *Tool) {
	if _, exists := r.tools[t.Name]; !exists {
		r.order = append(r.order, t.Name)
	}
	r.tools[t.Name] = t
}

// Get retrieves a tool by name.
func (r *Registry) Get(name string) *Tool {
	return r.tools[name]
}

// List returns all tools as function declarations for the model, in
// registration order.
func (r *Registry) List() []map[string]any {
	result := make([]map[string]any, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

// Execute runs a tool by name with JSON-encoded arguments.
func (r *Registry) Execute(ctx context.Context, name string, argsJSON string) (string, error) {
	tool := r.tools[name]
	if tool == nil {
		return "", &ErrToolUnavailable{ToolName: name}
	}

	var args map[string]any
	if argsJSON != "" {
		if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
			return "", fmt.Errorf("invalid arguments for %s: %w", name, err)
		}
	}
	if args == nil {
		args = map[string]any{}
	}

	r.logger.Debug("executing tool",
		"tool", name,
		"request_id", RequestIDFromContext(ctx),
	)
	return tool.Handler(ctx, args)
}

func toJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode result: %w", err)
	}
	return string(b), nil
}

// coordsFromArgs reads optional lat/lon arguments. Both must be present
// and numeric; anything else means no coordinates.
func coordsFromArgs(args map[string]any) *market.Coordinates {
	lat, okLat := number(args["lat"])
	lon, okLon := number(args["lon"])
	if !okLat || !okLon {
		return nil
	}
	return &market.Coordinates{Lat: lat, Lon: lon}
}

func number(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}
