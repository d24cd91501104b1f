package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/agriagent/agriagent/internal/agent"
	"github.com/agriagent/agriagent/internal/buildinfo"
	"github.com/agriagent/agriagent/internal/health"
	"github.com/agriagent/agriagent/internal/market"
)

// Daily card defaults when the query string omits them.
const (
	DefaultCardLocation = "Nairobi"
	DefaultCardCrop     = "Maize"
)

// NotUnderstoodText answers a voice message that could not be transcribed.
const NotUnderstoodText = "I could not understand the audio. Please try again."

// QueryRequest is the body of POST /api/v1/agent/query.
type QueryRequest struct {
	Query       string          `json:"query"`
	ContextData map[string]any  `json:"context_data,omitempty"`
	History     []agent.Turn    `json:"history,omitempty"`
	Location    *agent.Location `json:"location,omitempty"`
	Language    string          `json:"language,omitempty"`
}

// QueryResponse is returned by the query and voice routes.
type QueryResponse struct {
	ResponseText     string   `json:"response_text"`
	ResponseHTML     string   `json:"response_html"`
	AudioURL         string   `json:"audio_url,omitempty"`
	SuggestedActions []string `json:"suggested_actions"`
}

func (s *Server) handleRoot(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"message": "Welcome to AgriAgent API"}, s.logger)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]string{"status": "ok"}, s.logger)
}

func (s *Server) handleVersion(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, buildinfo.Info(), s.logger)
}

// handleUpstreams answers 200 when every watched upstream is reachable
// and 503 otherwise, with per-upstream detail in both cases.
func (s *Server) handleUpstreams(w http.ResponseWriter, _ *http.Request) {
	status := map[string]health.Status{}
	code := http.StatusOK
	if u := s.deps.Upstreams; u != nil {
		status = u.Status()
		if !u.Ready() {
			code = http.StatusServiceUnavailable
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	writeJSON(w, status, s.logger)
}

func (s *Server) handleAgentQuery(w http.ResponseWriter, r *http.Request) {
	if s.deps.Agent == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "agent not configured")
		return
	}

	var req QueryRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if err := validateQuery(&req); err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	ctxData := req.ContextData
	if req.Language != "" {
		if ctxData == nil {
			ctxData = map[string]any{}
		}
		ctxData["language"] = req.Language
	}

	resp := s.deps.Agent.ReasonAndAct(r.Context(), agent.Query{
		Query:    req.Query,
		Context:  ctxData,
		History:  req.History,
		Location: req.Location,
	})
	s.writeQueryResponse(w, resp)
}

func validateQuery(req *QueryRequest) error {
	req.Query = strings.TrimSpace(req.Query)
	if req.Query == "" {
		return errors.New("query is required")
	}
	if len(req.History) > MaxHistoryTurns {
		return fmt.Errorf("history exceeds %d turns", MaxHistoryTurns)
	}
	for i, t := range req.History {
		if t.Role != agent.RoleUser && t.Role != agent.RoleAgent {
			return fmt.Errorf("history[%d]: role must be %q or %q", i, agent.RoleUser, agent.RoleAgent)
		}
	}
	if loc := req.Location; loc != nil {
		if err := validateCoords(loc.Lat, loc.Lon); err != nil {
			return fmt.Errorf("location: %w", err)
		}
	}
	return nil
}

func validateCoords(lat, lon float64) error {
	if math.IsNaN(lat) || lat < -90 || lat > 90 {
		return fmt.Errorf("latitude %v out of range [-90, 90]", lat)
	}
	if math.IsNaN(lon) || lon < -180 || lon > 180 {
		return fmt.Errorf("longitude %v out of range [-180, 180]", lon)
	}
	return nil
}

func (s *Server) handleVoice(w http.ResponseWriter, r *http.Request) {
	if s.deps.Agent == nil || s.deps.Interpreter == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "voice not configured")
		return
	}

	data, mimeType, err := readUpload(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	in := s.deps.Interpreter.Interpret(r.Context(), data, mimeType)
	if !in.Understood() {
		s.writeQueryResponse(w, agent.Response{Text: NotUnderstoodText, Actions: []string{}})
		return
	}

	resp := s.deps.Agent.ReasonAndAct(r.Context(), agent.Query{
		Query:   in.Transcription,
		Context: in.AgentContext(),
	})
	s.writeQueryResponse(w, resp)
}

func (s *Server) handleDiagnose(w http.ResponseWriter, r *http.Request) {
	if s.deps.Diagnoser == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "diagnosis not configured")
		return
	}

	data, mimeType, err := readUpload(w, r)
	if err != nil {
		s.errorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	d := s.deps.Diagnoser.Diagnose(r.Context(), data, mimeType)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, d, s.logger)
}

func (s *Server) handleDailyCard(w http.ResponseWriter, r *http.Request) {
	if s.deps.Cards == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "farm cards not configured")
		return
	}

	q := r.URL.Query()
	location := strings.TrimSpace(q.Get("location"))
	if location == "" {
		location = DefaultCardLocation
	}
	crop := strings.TrimSpace(q.Get("crop"))
	if crop == "" {
		crop = DefaultCardCrop
	}

	var coords *market.Coordinates
	if q.Has("lat") || q.Has("lon") {
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		if errLat != nil || errLon != nil {
			s.errorResponse(w, http.StatusBadRequest, "lat and lon must both be numbers")
			return
		}
		if err := validateCoords(lat, lon); err != nil {
			s.errorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		coords = &market.Coordinates{Lat: lat, Lon: lon}
	}

	card := s.deps.Cards.Generate(r.Context(), location, crop, coords)
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, card, s.logger)
}

// readUpload extracts the multipart "file" field, bounded by
// MaxUploadBytes.
func readUpload(w http.ResponseWriter, r *http.Request) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)
	if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return nil, "", fmt.Errorf("upload exceeds %d bytes", MaxUploadBytes)
		}
		return nil, "", fmt.Errorf("invalid multipart form: %w", err)
	}

	f, hdr, err := r.FormFile("file")
	if err != nil {
		return nil, "", errors.New("file is required")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", fmt.Errorf("read upload: %w", err)
	}
	if len(data) == 0 {
		return nil, "", errors.New("file is empty")
	}
	return data, hdr.Header.Get("Content-Type"), nil
}

func (s *Server) writeQueryResponse(w http.ResponseWriter, resp agent.Response) {
	actions := resp.Actions
	if actions == nil {
		actions = []string{}
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, QueryResponse{
		ResponseText:     resp.Text,
		ResponseHTML:     s.renderMarkdown(resp.Text),
		SuggestedActions: actions,
	}, s.logger)
}

// renderMarkdown converts answer text to HTML for web clients. On
// failure the text is returned unrendered.
func (s *Server) renderMarkdown(text string) string {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(text), &buf); err != nil {
		s.logger.Warn("markdown render failed", "error", err)
		return text
	}
	return buf.String()
}
