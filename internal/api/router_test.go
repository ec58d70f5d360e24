package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/eventstore"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
	"github.com/loqalabs/loqa-voicelab/internal/tts"
)

type fakeService struct {
	outcome  tts.Outcome
	err      error
	params   []synthesis.Params
	voices   []string
	history  []eventstore.Generation
	limits   []int
	defaults tts.Defaults
}

func (f *fakeService) Generate(_ context.Context, p synthesis.Params) (tts.Outcome, error) {
	f.params = append(f.params, p)
	return f.outcome, f.err
}

func (f *fakeService) Voices(context.Context) ([]string, error) { return f.voices, f.err }

func (f *fakeService) Presets() []synthesis.Preset { return synthesis.Presets() }

func (f *fakeService) Defaults() tts.Defaults { return f.defaults }

func (f *fakeService) History(_ context.Context, limit int) ([]eventstore.Generation, error) {
	f.limits = append(f.limits, limit)
	return f.history, nil
}

func newTestRouter(svc *fakeService, opts Options) http.Handler {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewRouter(svc, opts, logger)
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func okOutcome(samples ...float32) tts.Outcome {
	return tts.Outcome{
		ID: "gen-1",
		Result: synthesis.Result{
			Request: synthesis.Request{Text: "hi", Seed: 42, Deterministic: true},
			Audio:   synthesis.NormalizedAudio{SampleRate: synthesis.SampleRate, Samples: samples},
		},
	}
}

func TestGenerateJSON(t *testing.T) {
	svc := &fakeService{outcome: okOutcome(0.5, -0.25)}
	router := newTestRouter(svc, Options{})

	rr := do(t, router, http.MethodPost, "/api/generate", `{"text":"hi","voice":"alice","preset":"fast","seed":42.9}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	var resp generateResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.SampleRate != 24000 || len(resp.Samples) != 2 || resp.Samples[0] != 0.5 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Seed == nil || *resp.Seed != 42 {
		t.Fatalf("expected seed 42, got %v", resp.Seed)
	}
	if len(svc.params) != 1 {
		t.Fatalf("expected one call, got %d", len(svc.params))
	}
	got := svc.params[0]
	if got.Text != "hi" || got.Voice != "alice" || got.Preset != "fast" || got.Seed == nil || *got.Seed != 42.9 {
		t.Fatalf("params not forwarded: %+v", got)
	}
	if rr.Header().Get("X-Generation-Id") != "gen-1" {
		t.Fatalf("missing generation id header")
	}
}

func TestGenerateWAV(t *testing.T) {
	svc := &fakeService{outcome: okOutcome(1, -1, 0, 0.5)}
	router := newTestRouter(svc, Options{})

	rr := do(t, router, http.MethodPost, "/api/generate?format=wav", `{"text":"hi"}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); ct != "audio/wav" {
		t.Fatalf("unexpected content type %q", ct)
	}
	body := rr.Body.Bytes()
	if len(body) != 44+4*2 {
		t.Fatalf("unexpected wav size %d", len(body))
	}
	if !bytes.Equal(body[0:4], []byte("RIFF")) || !bytes.Equal(body[8:12], []byte("WAVE")) {
		t.Fatalf("missing RIFF header")
	}
	if rate := binary.LittleEndian.Uint32(body[24:28]); rate != 24000 {
		t.Fatalf("unexpected sample rate %d", rate)
	}
	if ch := binary.LittleEndian.Uint16(body[22:24]); ch != 1 {
		t.Fatalf("expected mono, got %d channels", ch)
	}
	first := int16(binary.LittleEndian.Uint16(body[44:46]))
	second := int16(binary.LittleEndian.Uint16(body[46:48]))
	if first != 32767 || second != -32767 {
		t.Fatalf("unexpected samples %d %d", first, second)
	}
}

func TestGenerateErrorStatus(t *testing.T) {
	cases := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", &synthesis.ValidationError{Message: "text required"}, http.StatusBadRequest, "text required"},
		{"engine", &synthesis.EngineError{Stage: synthesis.StageSynthesize, Err: errors.New("boom")}, http.StatusBadGateway, "synthesis engine error: synthesize failed: boom"},
		{"normalization", &synthesis.NormalizationError{Reason: "unexpected channel count 2"}, http.StatusInternalServerError, "could not read engine output: normalize output: unexpected channel count 2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router := newTestRouter(&fakeService{err: tc.err}, Options{})
			rr := do(t, router, http.MethodPost, "/api/generate", `{"text":"x"}`)
			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			var body map[string]string
			if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body["error"] != tc.message {
				t.Fatalf("unexpected message %q", body["error"])
			}
		})
	}
}

func TestGenerateRejectsMalformedBody(t *testing.T) {
	svc := &fakeService{}
	rr := do(t, newTestRouter(svc, Options{}), http.MethodPost, "/api/generate", `{"text":`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rr.Code)
	}
	if len(svc.params) != 0 {
		t.Fatal("service must not be called for malformed input")
	}
}

func TestVoicesAndPresets(t *testing.T) {
	svc := &fakeService{voices: []string{"random", "alice"}, defaults: tts.Defaults{Voice: "random", Preset: "standard"}}
	router := newTestRouter(svc, Options{})

	rr := do(t, router, http.MethodGet, "/api/voices", "")
	var voices struct{ Voices []string }
	if err := json.Unmarshal(rr.Body.Bytes(), &voices); err != nil || len(voices.Voices) != 2 || voices.Voices[0] != "random" {
		t.Fatalf("unexpected voices %s", rr.Body.String())
	}

	rr = do(t, router, http.MethodGet, "/api/presets", "")
	var presets struct {
		Presets []string
		Default string
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &presets); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(presets.Presets) != 4 || presets.Default != "standard" {
		t.Fatalf("unexpected presets %+v", presets)
	}
}

func TestHistory(t *testing.T) {
	created := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc := &fakeService{history: []eventstore.Generation{
		{ID: "a", Text: "hi", Status: "ok", Seed: 9, Deterministic: true, Duration: 1500 * time.Millisecond, CreatedAt: created},
		{ID: "b", Text: "", Status: "validation", Error: "text required", CreatedAt: created},
	}}
	router := newTestRouter(svc, Options{})

	rr := do(t, router, http.MethodGet, "/api/history?limit=1000", "")
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if svc.limits[0] != maxHistoryLimit {
		t.Fatalf("limit should be capped, got %d", svc.limits[0])
	}
	var body struct{ Generations []historyEntry }
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Generations) != 2 {
		t.Fatalf("unexpected history %+v", body)
	}
	if g := body.Generations[0]; g.Seed == nil || *g.Seed != 9 || g.LatencyMS != 1500 {
		t.Fatalf("unexpected entry %+v", g)
	}
	if g := body.Generations[1]; g.Seed != nil || g.Error != "text required" {
		t.Fatalf("unexpected entry %+v", g)
	}

	rr = do(t, router, http.MethodGet, "/api/history?limit=zero", "")
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", rr.Code)
	}
}

func TestHealthReadyAndIndex(t *testing.T) {
	ready := false
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("# metrics"))
	})
	router := newTestRouter(&fakeService{}, Options{
		UI:      config.UIConfig{Title: "Tortoise TTS"},
		Metrics: metrics,
		Ready:   func() bool { return ready },
	})

	if rr := do(t, router, http.MethodGet, "/healthz", ""); rr.Code != http.StatusOK {
		t.Fatalf("healthz: %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/readyz", ""); rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("readyz before ready: %d", rr.Code)
	}
	ready = true
	if rr := do(t, router, http.MethodGet, "/readyz", ""); rr.Code != http.StatusOK {
		t.Fatalf("readyz after ready: %d", rr.Code)
	}
	if rr := do(t, router, http.MethodGet, "/metrics", ""); rr.Body.String() != "# metrics" {
		t.Fatalf("metrics handler not mounted")
	}
	rr := do(t, router, http.MethodGet, "/", "")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "/api/generate") {
		t.Fatalf("index page not served")
	}
	rr = do(t, router, http.MethodGet, "/api/config", "")
	if !strings.Contains(rr.Body.String(), `"title":"Tortoise TTS"`) {
		t.Fatalf("unexpected config %s", rr.Body.String())
	}
}

func TestGenerateUnencodableSamples(t *testing.T) {
	svc := &fakeService{outcome: okOutcome(0.1, float32(math.NaN()))}
	rr := do(t, newTestRouter(svc, Options{}), http.MethodPost, "/api/generate", `{"text":"hi"}`)
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rr.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil || body["error"] == "" {
		t.Fatalf("expected an error body, got %q", rr.Body.String())
	}
}

func TestGenerateSeedPrecision(t *testing.T) {
	svc := &fakeService{outcome: okOutcome(0.1)}
	router := newTestRouter(svc, Options{})

	for _, body := range []string{
		`{"text":"hi","seed":9007199254740993}`,
		`{"text":"hi","seed":"9007199254740993"}`,
	} {
		rr := do(t, router, http.MethodPost, "/api/generate", body)
		if rr.Code != http.StatusOK {
			t.Fatalf("unexpected status %d: %s", rr.Code, rr.Body.String())
		}
		got := svc.params[len(svc.params)-1]
		if got.ExactSeed == nil || *got.ExactSeed != 9007199254740993 || got.Seed != nil {
			t.Fatalf("seed not kept exact: %+v", got)
		}
	}

	rr := do(t, router, http.MethodPost, "/api/generate", `{"text":"hi","seed":1e400}`)
	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rr.Code)
	}
	if got := svc.params[len(svc.params)-1]; got.Seed == nil || !math.IsInf(*got.Seed, 1) {
		t.Fatalf("out of range seed should reach the builder as +Inf: %+v", got)
	}

	rr = do(t, router, http.MethodPost, "/api/generate", `{"text":"hi","seed":"abc"}`)
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for a non-numeric seed, got %d", rr.Code)
	}
}
