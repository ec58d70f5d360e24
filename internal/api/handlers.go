package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
	"github.com/loqalabs/loqa-voicelab/internal/tts"
)

const (
	maxBodyBytes        = 1 << 20
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

type handler struct {
	svc    Service
	ui     config.UIConfig
	ready  func() bool
	logger *slog.Logger
}

type generateRequest struct {
	Text   string      `json:"text"`
	Voice  string      `json:"voice"`
	Preset string      `json:"preset"`
	Seed   json.Number `json:"seed"`
}

// params keeps integer seeds exact; anything else goes through the float path
// so fractional and out-of-range values are judged by the request builder.
func (r generateRequest) params() (synthesis.Params, error) {
	p := synthesis.Params{Text: r.Text, Voice: r.Voice, Preset: r.Preset}
	if r.Seed == "" {
		return p, nil
	}
	if n, err := strconv.ParseInt(r.Seed.String(), 10, 64); err == nil {
		p.ExactSeed = &n
		return p, nil
	}
	f, err := strconv.ParseFloat(r.Seed.String(), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return p, err
	}
	p.Seed = &f
	return p, nil
}

type generateResponse struct {
	ID         string    `json:"id"`
	SampleRate int       `json:"sample_rate"`
	Samples    []float32 `json:"samples"`
	Seed       *int64    `json:"seed,omitempty"`
	Duration   float64   `json:"duration_seconds"`
}

type historyEntry struct {
	ID         string    `json:"id"`
	Text       string    `json:"text"`
	Voice      string    `json:"voice"`
	Preset     string    `json:"preset"`
	Seed       *int64    `json:"seed,omitempty"`
	Status     string    `json:"status"`
	Error      string    `json:"error,omitempty"`
	SampleRate int       `json:"sample_rate,omitempty"`
	Samples    int       `json:"samples"`
	LatencyMS  int64     `json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h *handler) handleIndex(w http.ResponseWriter, _ *http.Request) {
	page, err := static.ReadFile("static/index.html")
	if err != nil {
		respondError(w, http.StatusInternalServerError, "ui unavailable")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(page)
}

func (h *handler) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleReady(w http.ResponseWriter, _ *http.Request) {
	if h.ready != nil && !h.ready() {
		respondError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (h *handler) handleVoices(w http.ResponseWriter, r *http.Request) {
	voices, err := h.svc.Voices(r.Context())
	if err != nil {
		h.logger.Warn("list voices failed", slog.String("error", err.Error()))
		respondError(w, statusFor(err), tts.UserMessage(err))
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"voices": voices})
}

func (h *handler) handlePresets(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"presets": h.svc.Presets(),
		"default": h.svc.Defaults().Preset,
	})
}

// handleConfig feeds the page its initial form values.
func (h *handler) handleConfig(w http.ResponseWriter, _ *http.Request) {
	defaults := h.svc.Defaults()
	respondJSON(w, http.StatusOK, map[string]any{
		"title":        h.ui.Title,
		"default_text": h.ui.DefaultText,
		"voice":        defaults.Voice,
		"preset":       defaults.Preset,
		"sample_rate":  synthesis.SampleRate,
	})
}

func (h *handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	params, err := req.params()
	if err != nil {
		respondError(w, http.StatusBadRequest, "seed must be a number")
		return
	}

	outcome, err := h.svc.Generate(r.Context(), params)
	if err != nil {
		respondError(w, statusFor(err), tts.UserMessage(err))
		return
	}

	w.Header().Set("X-Generation-Id", outcome.ID)
	if r.URL.Query().Get("format") == "wav" {
		if err := writeWAV(w, outcome.Audio); err != nil {
			h.logger.Warn("write wav failed", slog.String("error", err.Error()))
		}
		return
	}

	resp := generateResponse{
		ID:         outcome.ID,
		SampleRate: outcome.Audio.SampleRate,
		Samples:    outcome.Audio.Samples,
		Duration:   outcome.Audio.Duration(),
	}
	if outcome.Request.Deterministic {
		seed := outcome.Request.Seed
		resp.Seed = &seed
	}
	respondJSON(w, http.StatusOK, resp)
}

func (h *handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxHistoryLimit)
	}

	rows, err := h.svc.History(r.Context(), limit)
	if err != nil {
		h.logger.Warn("list history failed", slog.String("error", err.Error()))
		respondError(w, http.StatusInternalServerError, "history unavailable")
		return
	}
	entries := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		entry := historyEntry{
			ID:         row.ID,
			Text:       row.Text,
			Voice:      row.Voice,
			Preset:     row.Preset,
			Status:     row.Status,
			Error:      row.Error,
			SampleRate: row.SampleRate,
			Samples:    row.Samples,
			LatencyMS:  row.Duration.Milliseconds(),
			CreatedAt:  row.CreatedAt,
		}
		if row.Deterministic {
			seed := row.Seed
			entry.Seed = &seed
		}
		entries = append(entries, entry)
	}
	respondJSON(w, http.StatusOK, map[string]any{"generations": entries})
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.logger.Debug("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Duration("latency", time.Since(start)))
	})
}

// statusFor maps the synthesis error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch synthesis.Classify(err) {
	case synthesis.KindValidation:
		return http.StatusBadRequest
	case synthesis.KindEngine:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// respondJSON encodes before writing the header so an unencodable payload
// becomes a 500 instead of an empty 200.
func respondJSON(w http.ResponseWriter, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		slog.Default().Warn("failed to encode response", slog.String("error", err.Error()))
		status = http.StatusInternalServerError
		body = []byte(`{"error":"internal error"}`)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(append(body, '\n'))
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
