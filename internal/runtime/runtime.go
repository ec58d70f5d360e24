package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/api"
	"github.com/loqalabs/loqa-voicelab/internal/bus"
	"github.com/loqalabs/loqa-voicelab/internal/capability"
	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/engine"
	"github.com/loqalabs/loqa-voicelab/internal/eventstore"
	"github.com/loqalabs/loqa-voicelab/internal/natsserver"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
	"github.com/loqalabs/loqa-voicelab/internal/tts"
	"github.com/loqalabs/loqa-voicelab/internal/voices"
)

const (
	pruneInterval   = time.Hour
	shutdownTimeout = 10 * time.Second
)

type Runtime struct {
	cfg     config.Config
	version string
	logger  *slog.Logger
	ready   atomic.Bool
	wg      sync.WaitGroup

	// addr is the bound listener address, set once serving.
	addr atomic.Value
}

func New(cfg config.Config, version string, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:     cfg,
		version: version,
		logger:  logger,
	}
}

// Addr returns the address the HTTP server listens on, or "" before Start
// has bound it.
func (r *Runtime) Addr() string {
	addr, _ := r.addr.Load().(string)
	return addr
}

// Ready reports whether the runtime is serving requests.
func (r *Runtime) Ready() bool { return r.ready.Load() }

// Start builds every component, serves HTTP until ctx is cancelled, then
// tears everything down in reverse order.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(ctx, r.cfg, r.version, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	defer r.closeWith("telemetry", tel.shutdown)

	history, err := eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open event store: %w", err)
	}
	defer history.Close()
	if history.Persistent() {
		r.wg.Add(1)
		go r.pruneLoop(ctx, history)
	}

	eng, err := engine.New(r.cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}
	store, err := voices.NewStore(r.cfg.Voices, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open voice store: %w", err)
	}
	generator, err := synthesis.NewGenerator(eng, store)
	if err != nil {
		return err
	}
	r.logger.Info("engine ready",
		slog.String("mode", r.cfg.Engine.Mode),
		slog.Any("voice_dirs", r.cfg.Voices.Directories))

	var busClient *bus.Client
	var registry *capability.Registry
	if r.cfg.Bus.Enabled {
		embedded, err := natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded NATS: %w", err)
		}
		defer embedded.Shutdown()

		busCfg := r.cfg.Bus
		if embedded != nil {
			busCfg.Servers = []string{embedded.ClientURL()}
		}
		busClient, err = bus.Connect(ctx, busCfg, r.cfg.RuntimeName, r.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
		defer busClient.Close()
	}

	service := tts.NewService(ctx, generator, history, busClient, tts.Defaults{
		Voice:  r.cfg.UI.DefaultVoice,
		Preset: r.cfg.UI.DefaultPreset,
	}, r.logger)
	if err := service.Start(); err != nil {
		return err
	}
	defer service.Close()

	if busClient != nil {
		registry, err = capability.NewRegistry(ctx, r.cfg.Node, busClient, describeNode(service), r.logger)
		if err != nil {
			return fmt.Errorf("failed to start capability registry: %w", err)
		}
		defer registry.Close()
	}

	router := api.NewRouter(service, api.Options{
		UI:      r.cfg.UI,
		Metrics: tel.metrics,
		Ready: func() bool {
			if !r.ready.Load() || !service.Healthy() {
				return false
			}
			return busClient == nil || busClient.Healthy()
		},
	}, r.logger)

	addr := net.JoinHostPort(r.cfg.HTTP.Bind, strconv.Itoa(r.cfg.HTTP.Port))
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	r.addr.Store(listener.Addr().String())

	// no write timeout: synthesis requests can run for minutes
	server := &http.Server{
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	serveErr := make(chan error, 1)
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
			serveErr <- err
			cancel()
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", r.Addr()),
		slog.String("version", r.version),
		slog.Bool("bus", busClient != nil))

	<-ctx.Done()
	r.ready.Store(false)
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if err := server.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	select {
	case err := <-serveErr:
		return err
	default:
		return nil
	}
}

func (r *Runtime) pruneLoop(ctx context.Context, history *eventstore.Store) {
	defer r.wg.Done()
	ticker := time.NewTicker(pruneInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := history.Prune(ctx); err != nil {
				r.logger.Warn("history prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (r *Runtime) closeWith(name string, fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		r.logger.Error(name+" shutdown error", slog.String("error", err.Error()))
	}
}

// describeNode advertises the live voice and preset lists on the bus.
func describeNode(service *tts.Service) capability.Describer {
	return func(ctx context.Context) map[string]string {
		presets := make([]string, 0, 4)
		for _, p := range service.Presets() {
			presets = append(presets, string(p))
		}
		attrs := map[string]string{
			"presets":     strings.Join(presets, ","),
			"sample_rate": strconv.Itoa(synthesis.SampleRate),
		}
		if names, err := service.Voices(ctx); err == nil {
			attrs["voices"] = strings.Join(names, ",")
		}
		return attrs
	}
}
