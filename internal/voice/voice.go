// Package voice turns a farmer's spoken question into English text plus
// intent metadata using the reasoning gateway.
package voice

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/agriagent/agriagent/internal/llm"
	"github.com/agriagent/agriagent/internal/prompts"
	"github.com/agriagent/agriagent/internal/reasoning"
	"github.com/agriagent/agriagent/internal/tools"
	"github.com/agriagent/agriagent/internal/usage"
)

// FailedTranscription marks an interpretation that did not succeed.
const FailedTranscription = "Voice processing failed."

// Intents the interpreter reports.
const (
	IntentMarketPrice   = "market_price"
	IntentWeather       = "weather"
	IntentDiagnosis     = "diagnosis"
	IntentGeneralAdvice = "general_advice"
	IntentError         = "error"
)

// Interpretation is the result of processing one voice message.
type Interpretation struct {
	Transcription    string         `json:"transcription"`
	OriginalLanguage string         `json:"original_language"`
	DetectedIntent   string         `json:"detected_intent"`
	Urgency          string         `json:"urgency"`
	Entities         map[string]any `json:"entities"`
	Error            string         `json:"error,omitempty"`
}

// Understood reports whether the transcription can be answered.
func (i Interpretation) Understood() bool {
	t := strings.TrimSpace(i.Transcription)
	return t != "" && t != FailedTranscription
}

// AgentContext is the context map handed to the orchestrator alongside
// the transcription.
func (i Interpretation) AgentContext() map[string]any {
	return map[string]any{
		"original_language": i.OriginalLanguage,
		"detected_intent":   i.DetectedIntent,
		"urgency":           i.Urgency,
	}
}

// Generator is the reasoning capability used for interpretation.
type Generator interface {
	Generate(ctx context.Context, req reasoning.Request) (string, error)
}

// Service interprets voice messages.
type Service struct {
	gen    Generator
	logger *slog.Logger
}

// NewService creates a voice interpretation service.
func NewService(gen Generator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{gen: gen, logger: logger.With("component", "voice")}
}

// Interpret transcribes audio. It never fails; on error the result has
// FailedTranscription and IntentError.
func (s *Service) Interpret(ctx context.Context, audio []byte, mimeType string) Interpretation {
	in, err := s.interpret(ctx, audio, mimeType)
	if err != nil {
		s.logger.Error("voice interpretation failed",
			"error", err,
			"bytes", len(audio),
			"mime_type", mimeType,
			"request_id", tools.RequestIDFromContext(ctx),
		)
		return Failed(err)
	}
	return in
}

func (s *Service) interpret(ctx context.Context, audio []byte, mimeType string) (Interpretation, error) {
	if len(audio) == 0 {
		return Interpretation{}, errors.New("empty upload")
	}
	if s.gen == nil {
		return Interpretation{}, errors.New("no reasoning gateway configured")
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(audio)
	}

	text, err := s.gen.Generate(ctx, reasoning.Request{
		Prompt:  prompts.VoiceInterpreter,
		Media:   []llm.Media{{MIMEType: mimeType, Data: audio}},
		Purpose: usage.PurposeVoice,
	})
	if err != nil {
		return Interpretation{}, err
	}

	var in Interpretation
	if err := reasoning.DecodeJSON(text, &in); err != nil {
		return Interpretation{}, err
	}
	if in.Entities == nil {
		in.Entities = map[string]any{}
	}
	s.logger.Debug("voice interpreted",
		"language", in.OriginalLanguage,
		"intent", in.DetectedIntent,
		"urgency", in.Urgency,
	)
	return in, nil
}

// Failed is the interpretation reported when processing cannot complete.
func Failed(err error) Interpretation {
	return Interpretation{
		Transcription:    FailedTranscription,
		OriginalLanguage: "unknown",
		DetectedIntent:   IntentError,
		Urgency:          "low",
		Entities:         map[string]any{},
		Error:            err.Error(),
	}
}
