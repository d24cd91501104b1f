package vision

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agriagent/agriagent/internal/prompts"
	"github.com/agriagent/agriagent/internal/reasoning"
)

type fakeGenerator struct {
	text string
	err  error
	reqs []reasoning.Request
}

func (f *fakeGenerator) Generate(_ context.Context, req reasoning.Request) (string, error) {
	f.reqs = append(f.reqs, req)
	return f.text, f.err
}

func newTestService(gen Generator) *Service {
	return NewService(gen, slog.New(slog.DiscardHandler))
}

// pngHeader is enough for content sniffing.
var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

func TestDiagnose_Success(t *testing.T) {
	gen := &fakeGenerator{text: "```json\n" + `{
		"crop": "Maize",
		"issue": "Fall armyworm damage",
		"confidence": 87,
		"affected_area": "Upper leaves and whorl",
		"severity": "high",
		"actions": ["Spray emamectin benzoate", "Scout neighbouring rows"]
	}` + "\n```"}
	s := newTestService(gen)

	d := s.Diagnose(t.Context(), pngHeader, "image/png")
	assert.Equal(t, "Maize", d.Crop)
	assert.Equal(t, "Fall armyworm damage", d.Issue)
	assert.InDelta(t, 0.87, d.Confidence, 1e-9)
	assert.Equal(t, "Upper leaves and whorl", d.AffectedArea)
	assert.Equal(t, "high", d.Severity)
	assert.Len(t, d.Actions, 2)

	require.Len(t, gen.reqs, 1)
	req := gen.reqs[0]
	assert.Equal(t, prompts.Diagnosis, req.Prompt)
	assert.Equal(t, "diagnosis", req.Purpose)
	assert.Nil(t, req.Tools)
	require.Len(t, req.Media, 1)
	assert.Equal(t, "image/png", req.Media[0].MIMEType)
}

func TestDiagnose_SniffsMIMEType(t *testing.T) {
	gen := &fakeGenerator{text: `{"crop":"Coffee","issue":"none","confidence":0.4,"affected_area":"-","severity":"low","actions":[]}`}
	s := newTestService(gen)

	d := s.Diagnose(t.Context(), pngHeader, "")
	assert.Equal(t, "Coffee", d.Crop)
	assert.InDelta(t, 0.4, d.Confidence, 1e-9)
	assert.Equal(t, "image/png", gen.reqs[0].Media[0].MIMEType)
}

func TestDiagnose_Failures(t *testing.T) {
	tests := []struct {
		name    string
		gen     Generator
		data    []byte
		wantMsg string
	}{
		{
			name:    "gateway error",
			gen:     &fakeGenerator{err: errors.New("quota exceeded")},
			data:    pngHeader,
			wantMsg: "quota exceeded",
		},
		{
			name:    "not json",
			gen:     &fakeGenerator{text: "The plant looks healthy."},
			data:    pngHeader,
			wantMsg: "no usable output",
		},
		{
			name:    "empty upload",
			gen:     &fakeGenerator{},
			data:    nil,
			wantMsg: "empty upload",
		},
		{
			name:    "no gateway",
			gen:     nil,
			data:    pngHeader,
			wantMsg: "no reasoning gateway",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newTestService(tt.gen).Diagnose(t.Context(), tt.data, "image/jpeg")
			assert.Equal(t, "Unknown", d.Crop)
			assert.Contains(t, d.Issue, "Analysis failed: ")
			assert.Contains(t, d.Issue, tt.wantMsg)
			assert.Zero(t, d.Confidence)
			assert.Equal(t, "N/A", d.AffectedArea)
			assert.Equal(t, "unknown", d.Severity)
			assert.Equal(t, []string{"Retry analysis"}, d.Actions)
		})
	}
}

func TestNormalizeConfidence(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{0, 0},
		{0.35, 0.35},
		{1, 1},
		{87, 0.87},
		{100, 1},
		{250, 1},
		{-3, 0},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, NormalizeConfidence(tt.in), 1e-9, "in=%v", tt.in)
	}
}
