// Package vision diagnoses crop problems from an uploaded image or
// short video using the reasoning gateway.
package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/agriagent/agriagent/internal/llm"
	"github.com/agriagent/agriagent/internal/prompts"
	"github.com/agriagent/agriagent/internal/reasoning"
	"github.com/agriagent/agriagent/internal/tools"
	"github.com/agriagent/agriagent/internal/usage"
)

// Diagnosis is the structured result of a crop analysis.
type Diagnosis struct {
	Crop         string   `json:"crop"`
	Issue        string   `json:"issue"`
	Confidence   float64  `json:"confidence"`
	AffectedArea string   `json:"affected_area"`
	Severity     string   `json:"severity"`
	Actions      []string `json:"actions"`
}

// Generator is the reasoning capability used for analysis.
type Generator interface {
	Generate(ctx context.Context, req reasoning.Request) (string, error)
}

// Service runs crop diagnoses.
type Service struct {
	gen    Generator
	logger *slog.Logger
}

// NewService creates a diagnosis service.
func NewService(gen Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, logger: logger.With("component", "vision")}
}

// Diagnose analyzes media. It never fails; errors are reported inside
// the returned Diagnosis. An empty mimeType is sniffed from the data.
func (s *Service) Diagnose(ctx context.Context, data []byte, mimeType string) Diagnosis {
	d, err := s.diagnose(ctx, data, mimeType)
	if err != nil {
		s.logger.Error("crop diagnosis failed",
			"error", err,
			"bytes", len(data),
			"mime_type", mimeType,
			"request_id", tools.RequestIDFromContext(ctx),
		)
		return Failed(err)
	}
	return d
}

func (s *Service) diagnose(ctx context.Context, data []byte, mimeType string) (Diagnosis, error) {
	if len(data) == 0 {
		return Diagnosis{}, errors.New("empty upload")
	}
	if s.gen == nil {
		return Diagnosis{}, errors.New("no reasoning gateway configured")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}

	text, err := s.gen.Generate(ctx, reasoning.Request{
		Prompt:  prompts.Diagnosis,
		Media:   []llm.Media{{MIMEType: mimeType, Data: data}},
		Purpose: usage.PurposeDiagnosis,
	})
	if err != nil {
		return Diagnosis{}, err
	}

	var d Diagnosis
	if err := reasoning.DecodeJSON(text, &d); err != nil {
		return Diagnosis{}, err
	}
	d.Confidence = NormalizeConfidence(d.Confidence)
	if d.Actions == nil {
		d.Actions = []string{}
	}
	return d, nil
}

// Failed is the diagnosis reported when analysis cannot complete.
func Failed(err error) Diagnosis {
	return Diagnosis{
		Crop:         "Unknown",
		Issue:        fmt.Sprintf("Analysis failed: %v", err),
		Confidence:   0,
		AffectedArea: "N/A",
		Severity:     "unknown",
		Actions:      []string{"Retry analysis"},
	}
}

// NormalizeConfidence maps a model confidence into [0, 1]. Values above
// 1 are read as percentages. This is a heuristic: a model that means
// 1.5 percent is indistinguishable from one that means 150 percent.
func NormalizeConfidence(c float64) float64 {
	if c > 1 {
		c /= 100
	}
	return min(max(c, 0), 1)
}
