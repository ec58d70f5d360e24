package api

import (
	"context"
	"embed"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/eventstore"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
	"github.com/loqalabs/loqa-voicelab/internal/tts"
)

//go:embed static/index.html
var static embed.FS

// Service is the synthesis surface the HTTP layer drives.
type Service interface {
	Generate(ctx context.Context, p synthesis.Params) (tts.Outcome, error)
	Voices(ctx context.Context) ([]string, error)
	Presets() []synthesis.Preset
	Defaults() tts.Defaults
	History(ctx context.Context, limit int) ([]eventstore.Generation, error)
}

// Options carries the optional pieces of the router.
type Options struct {
	UI      config.UIConfig
	Metrics http.Handler
	// Ready reports whether dependencies such as the bus are up. Nil means always ready.
	Ready func() bool
}

// NewRouter wires HTTP routes to the synthesis service.
func NewRouter(svc Service, opts Options, log *slog.Logger) http.Handler {
	h := &handler{
		svc:    svc,
		ui:     opts.UI,
		ready:  opts.Ready,
		logger: log.With(slog.String("component", "http-api")),
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/", h.handleIndex)
	r.Get("/healthz", h.handleHealth)
	r.Get("/readyz", h.handleReady)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	r.Route("/api", func(api chi.Router) {
		api.Get("/voices", h.handleVoices)
		api.Get("/presets", h.handlePresets)
		api.Get("/config", h.handleConfig)
		api.Post("/generate", h.handleGenerate)
		api.Get("/history", h.handleHistory)
	})

	return r
}
