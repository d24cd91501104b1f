package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/agriagent/agriagent/internal/agent"
	"github.com/agriagent/agriagent/internal/config"
	"github.com/agriagent/agriagent/internal/farmcard"
	"github.com/agriagent/agriagent/internal/geocode"
	"github.com/agriagent/agriagent/internal/llm"
	"github.com/agriagent/agriagent/internal/market"
	"github.com/agriagent/agriagent/internal/metrics"
	"github.com/agriagent/agriagent/internal/randsrc"
	"github.com/agriagent/agriagent/internal/reasoning"
	"github.com/agriagent/agriagent/internal/tools"
	"github.com/agriagent/agriagent/internal/usage"
	"github.com/agriagent/agriagent/internal/vision"
	"github.com/agriagent/agriagent/internal/voice"
	"github.com/agriagent/agriagent/internal/weather"
)

// commoditiesTimeout bounds one live price lookup.
const commoditiesTimeout = 10 * time.Second

// app is the assembled service graph shared by serve, ask, and card.
type app struct {
	llm      llm.Client
	registry *tools.Registry
	gateway  *reasoning.Gateway
	agent    *agent.Orchestrator
	vision   *vision.Service
	voice    *voice.Service
	cards    *farmcard.Synthesizer
	usage    *usage.Store
}

// Close releases the usage ledger if one was opened.
func (a *app) Close() error {
	if a.usage != nil {
		return a.usage.Close()
	}
	return nil
}

// buildApp wires adapters, tools, the reasoning gateway, and the
// services on top of it. m may be nil.
func buildApp(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) (*app, error) {
	src := randsrc.Runtime()
	a := &app{}

	// --- Usage ledger ---
	if cfg.Usage.DBPath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Usage.DBPath), 0o755); err != nil {
			return nil, fmt.Errorf("create usage directory: %w", err)
		}
		store, err := usage.Open(cfg.Usage.DBPath)
		if err != nil {
			return nil, fmt.Errorf("open usage database %s: %w", cfg.Usage.DBPath, err)
		}
		a.usage = store
		logger.Info("usage ledger opened", "path", cfg.Usage.DBPath)
	}

	// --- Data adapters ---
	wx := weather.NewClient(cfg.Weather.BaseURL, time.Duration(cfg.Weather.TimeoutSec)*time.Second, logger)
	geo := geocode.NewClient(cfg.Geocoding.BaseURL, time.Duration(cfg.Geocoding.TimeoutSec)*time.Second, logger)

	var feed market.Feed
	if cfg.Market.LiveFeed() {
		feed = market.NewCommoditiesClient(cfg.Market.CommoditiesURL, cfg.Market.CommoditiesAPIKey, commoditiesTimeout, logger)
		logger.Info("live commodities feed enabled", "url", cfg.Market.CommoditiesURL)
	}
	prices := market.NewService(feed, src, logger)

	// --- Tools ---
	a.registry = tools.NewRegistry(logger, wx, prices, src)
	a.registry.SetMetrics(m)

	// --- Reasoning gateway ---
	client, provider := createLLMClient(cfg, logger)
	a.llm = client
	opts := []reasoning.Option{
		reasoning.WithMaxToolRounds(cfg.Reasoning.MaxToolRounds),
		reasoning.WithMetrics(m),
	}
	if a.usage != nil {
		opts = append(opts, reasoning.WithUsage(a.usage))
	}
	a.gateway = reasoning.New(client, cfg.Reasoning.Model, provider, logger, opts...)

	// --- Services ---
	a.agent = agent.NewOrchestrator(a.gateway, a.registry, logger)
	a.agent.SetMetrics(m)
	a.vision = vision.NewService(a.gateway, logger)
	a.voice = voice.NewService(a.gateway, logger)
	a.cards = farmcard.New(a.registry, geo, src, logger)
	a.cards.SetMetrics(m)

	return a, nil
}

// createLLMClient builds a multi-provider client. Both providers are
// registered and the configured model is routed to the configured
// provider, which is also the fallback.
func createLLMClient(cfg *config.Config, logger *slog.Logger) (llm.Client, string) {
	provider := strings.ToLower(cfg.Reasoning.Provider)
	timeout := cfg.Reasoning.Timeout()

	gemini := llm.NewGeminiClient(cfg.Reasoning.APIKey, cfg.Reasoning.BaseURL, timeout, logger)
	ollama := llm.NewOllamaClient(cfg.Reasoning.OllamaURL, timeout, logger)

	var primary llm.Client = gemini
	if provider == "ollama" {
		primary = ollama
	} else if cfg.Reasoning.APIKey == "" {
		logger.Warn("no Gemini API key configured; answers will use the fallback text")
	}

	multi := llm.NewMultiClient(primary)
	multi.AddProvider("gemini", gemini)
	multi.AddProvider("ollama", ollama)
	multi.AddModel(cfg.Reasoning.Model, provider)

	logger.Info("LLM client initialized",
		"model", cfg.Reasoning.Model,
		"provider", provider,
		"providers", multi.Providers(),
	)
	return multi, provider
}
