package reasoning

import (
	"encoding/json"
	"fmt"
	"strings"
)

// DecodeJSON parses a model answer that is supposed to be a JSON object.
// Markdown code fences are removed first. Parse failures wrap
// ErrMalformedOutput.
func DecodeJSON(text string, v any) error {
	cleaned := StripCodeFences(text)
	if cleaned == "" {
		return ErrMalformedOutput
	}
	if err := json.Unmarshal([]byte(cleaned), v); err != nil {
		return fmt.Errorf("%w: %w", ErrMalformedOutput, err)
	}
	return nil
}

// StripCodeFences removes ```json and ``` markers and surrounding space.
func StripCodeFences(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	return strings.TrimSpace(text)
}
