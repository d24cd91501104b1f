package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/agriagent/agriagent/internal/market"
)

type knowledgeEntry struct {
	keyword string
	advice  string
}

// knowledgeBase is matched in order; the first keyword found in the
// query wins.
var knowledgeBase = []knowledgeEntry{
	{"pest", "Pest control: scout fields twice a week, use pheromone traps for fall armyworm, and prefer neem-based or other targeted sprays before broad-spectrum pesticides."},
	{"disease", "Disease management: remove and destroy infected plants, rotate away from the same crop family for two seasons, and plant certified disease-resistant seed."},
	{"irrigation", "Irrigation: water early in the morning, use drip lines or furrows to keep leaves dry, and mulch to cut evaporation losses."},
	{"fertilizer", "Fertilizer: test the soil before planting, apply basal phosphorus at sowing, and top-dress nitrogen in split doses when the crop is knee-high."},
	{"harvest", "Harvest: pick when grain moisture is below 20 percent, dry produce on tarpaulins to under 13 percent, and store in hermetic bags to prevent aflatoxin."},
	{"soil", "Soil health: add compost or manure each season, keep the ground covered with residue or cover crops, and lime acidic soils below pH 5.5."},
}

// Knowledge returns agronomy advice for query. The match is a
// case-insensitive substring search over the knowledge base.
func (r *Registry) Knowledge(query string) string {
	r.metrics.ToolCall("get_knowledge", market.SourceLocal)
	lower := strings.ToLower(query)
	for _, e := range knowledgeBase {
		if strings.Contains(lower, e.keyword) {
			return e.advice
		}
	}
	return fmt.Sprintf("General agronomy advice on %s: Rotate crops every season to maintain soil health.", query)
}

func (r *Registry) handleGetKnowledge(_ context.Context, args map[string]any) (string, error) {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "", fmt.Errorf("query is required")
	}
	return r.Knowledge(query), nil
}

func normalizeCrop(crop string) string {
	return strings.ToLower(strings.TrimSpace(crop))
}
