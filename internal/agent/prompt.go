package agent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/agriagent/agriagent/internal/prompts"
)

// BuildPrompt assembles the single prompt sent to the model: preamble,
// recent history, then the question.
func BuildPrompt(q Query) string {
	var sb strings.Builder

	sb.WriteString(prompts.AgentPersona)
	sb.WriteString("\n")

	if loc := q.Location; loc != nil {
		sb.WriteString("\nFarmer location:\n")
		if loc.City != "" {
			fmt.Fprintf(&sb, "- City: %s\n", loc.City)
		}
		if loc.Country != "" {
			fmt.Fprintf(&sb, "- Country: %s\n", loc.Country)
		}
		fmt.Fprintf(&sb, "- Latitude: %.4f\n", loc.Lat)
		fmt.Fprintf(&sb, "- Longitude: %.4f\n", loc.Lon)
	}

	if len(q.Context) > 0 {
		sb.WriteString("\nCurrent context:\n")
		keys := make([]string, 0, len(q.Context))
		for k := range q.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&sb, "- %s: %v\n", k, q.Context[k])
		}
	}

	if history := RecentHistory(q.History); len(history) > 0 {
		sb.WriteString("\nConversation so far:\n")
		for _, t := range history {
			speaker := "User"
			if t.Role == RoleAgent {
				speaker = "Agent"
			}
			fmt.Fprintf(&sb, "%s: %s\n", speaker, t.Text)
		}
	}

	fmt.Fprintf(&sb, "\nUser Question: %s", q.Query)
	return sb.String()
}

// RecentHistory returns the last MaxHistory turns, oldest first.
func RecentHistory(history []Turn) []Turn {
	if len(history) <= MaxHistory {
		return history
	}
	return history[len(history)-MaxHistory:]
}
