package tts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-voicelab/internal/bus"
	"github.com/loqalabs/loqa-voicelab/internal/eventstore"
	"github.com/loqalabs/loqa-voicelab/internal/protocol"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const instrumentationName = "github.com/loqalabs/loqa-voicelab/tts"

// Defaults fill in parameters the caller left blank.
type Defaults struct {
	Voice  string
	Preset string
}

// Outcome is a finished request together with its history id.
type Outcome struct {
	ID string
	synthesis.Result
	Latency time.Duration
}

type Service struct {
	generator *synthesis.Generator
	history   *eventstore.Store
	bus       *bus.Client
	defaults  Defaults
	sub       *nats.Subscription
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	logger    *slog.Logger
	tracer    trace.Tracer
	requests  metric.Int64Counter
	latency   metric.Float64Histogram
	audioSecs metric.Float64Counter
	newID     func() string
}

// NewService wires the generator to history and telemetry. history and
// busClient may be nil.
func NewService(parent context.Context, generator *synthesis.Generator, history *eventstore.Store, busClient *bus.Client, defaults Defaults, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	if defaults.Voice == "" {
		defaults.Voice = synthesis.RandomVoice
	}
	if defaults.Preset == "" {
		defaults.Preset = string(synthesis.PresetFast)
	}
	s := &Service{
		generator: generator,
		history:   history,
		bus:       busClient,
		defaults:  defaults,
		ctx:       ctx,
		cancel:    cancel,
		logger:    log.With(slog.String("component", "tts-service")),
		tracer:    otel.Tracer(instrumentationName),
		newID:     func() string { return uuid.NewString() },
	}
	if err := s.initMetrics(); err != nil {
		s.logger.Warn("failed to initialize metrics", slogError(err))
	}
	return s
}

func (s *Service) initMetrics() error {
	meter := otel.Meter(instrumentationName)
	var err error
	if s.requests, err = meter.Int64Counter("voicelab.generations",
		metric.WithDescription("Synthesis requests by outcome")); err != nil {
		return err
	}
	if s.latency, err = meter.Float64Histogram("voicelab.generation.duration",
		metric.WithDescription("Wall time of a synthesis request"), metric.WithUnit("s")); err != nil {
		return err
	}
	if s.audioSecs, err = meter.Float64Counter("voicelab.audio.seconds",
		metric.WithDescription("Seconds of audio produced"), metric.WithUnit("s")); err != nil {
		return err
	}
	return nil
}

// Start subscribes to bus requests when a bus client is present.
func (s *Service) Start() error {
	if s.bus == nil {
		return nil
	}
	sub, err := s.bus.Subscribe(protocol.SubjectGenerate, s.handleRequest)
	if err != nil {
		return err
	}
	s.sub = sub
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool { return s.bus == nil || s.sub != nil }

// Defaults returns the values used for blank voice and preset.
func (s *Service) Defaults() Defaults { return s.defaults }

// Presets lists the quality presets offered to callers.
func (s *Service) Presets() []synthesis.Preset { return synthesis.Presets() }

// Voices lists selectable voices, random first.
func (s *Service) Voices(ctx context.Context) ([]string, error) {
	return s.generator.Voices(ctx)
}

// History returns recent generations, newest first.
func (s *Service) History(ctx context.Context, limit int) ([]eventstore.Generation, error) {
	return s.history.ListGenerations(ctx, limit)
}

// Generate runs one synthesis request and records it.
func (s *Service) Generate(ctx context.Context, p synthesis.Params) (Outcome, error) {
	if p.Voice == "" {
		p.Voice = s.defaults.Voice
	}
	if p.Preset == "" {
		p.Preset = s.defaults.Preset
	}
	id := s.newID()

	ctx, span := s.tracer.Start(ctx, "tts.generate", trace.WithAttributes(
		attribute.String("tts.request_id", id),
		attribute.String("tts.voice", p.Voice),
		attribute.String("tts.preset", p.Preset),
		attribute.Int("tts.text_length", len(p.Text)),
	))
	defer span.End()

	start := time.Now()
	res, err := s.generator.Generate(ctx, p)
	elapsed := time.Since(start)

	status := "ok"
	if err != nil {
		status = string(synthesis.Classify(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
	} else {
		span.SetAttributes(attribute.Int("tts.samples", len(res.Audio.Samples)))
	}
	s.record(ctx, id, p, res, status, err, elapsed)

	if err != nil {
		s.logger.Warn("synthesis failed",
			slog.String("request_id", id),
			slog.String("kind", status),
			slog.Duration("latency", elapsed),
			slogError(err))
		return Outcome{ID: id, Latency: elapsed}, err
	}
	s.logger.Info("synthesis complete",
		slog.String("request_id", id),
		slog.String("voice", p.Voice),
		slog.String("preset", p.Preset),
		slog.Int("samples", len(res.Audio.Samples)),
		slog.Duration("latency", elapsed))
	return Outcome{ID: id, Result: res, Latency: elapsed}, nil
}

func (s *Service) record(ctx context.Context, id string, p synthesis.Params, res synthesis.Result, status string, genErr error, elapsed time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("status", status),
		attribute.String("preset", p.Preset),
	)
	if s.requests != nil {
		s.requests.Add(ctx, 1, attrs)
	}
	if s.latency != nil {
		s.latency.Record(ctx, elapsed.Seconds(), attrs)
	}
	if s.audioSecs != nil && genErr == nil {
		s.audioSecs.Add(ctx, res.Audio.Duration(), metric.WithAttributes(attribute.String("preset", p.Preset)))
	}

	entry := eventstore.Generation{
		ID:            id,
		Text:          p.Text,
		Voice:         p.Voice,
		Preset:        p.Preset,
		Seed:          res.Request.Seed,
		Deterministic: res.Request.Deterministic,
		Status:        status,
		SampleRate:    res.Audio.SampleRate,
		Samples:       len(res.Audio.Samples),
		Duration:      elapsed,
	}
	if genErr != nil {
		entry.Error = genErr.Error()
	}
	// history must not fail the request
	if err := s.history.AppendGeneration(context.WithoutCancel(ctx), entry); err != nil {
		s.logger.Warn("failed to record generation", slog.String("request_id", id), slogError(err))
	}
}

func (s *Service) handleRequest(msg *nats.Msg) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.recoverRequest(msg)
		reply, status := s.reply(s.ctx, msg.Data)
		data, err := s.bus.Encode(reply)
		if errors.Is(err, bus.ErrTooLarge) {
			s.logger.Warn("generate reply too large for bus", slog.String("request_id", reply.RequestID), slogError(err))
			reply = protocol.GenerateReply{
				RequestID: reply.RequestID,
				Error:     "generated audio exceeds the bus payload limit; use the HTTP API",
				ErrorKind: string(synthesis.KindInternal),
			}
			status.Status = reply.ErrorKind
			data, err = s.bus.Encode(reply)
		}
		if err != nil {
			s.logger.Warn("failed to encode generate reply", slogError(err))
			return
		}
		if msg.Reply != "" {
			if err := msg.Respond(data); err != nil {
				s.logger.Warn("failed to respond to generate request", slogError(err))
			}
		}
		s.publishStatus(status)
	}()
}

// recoverRequest keeps a failing request from taking the node down and still
// answers the caller.
func (s *Service) recoverRequest(msg *nats.Msg) {
	p := recover()
	if p == nil {
		return
	}
	s.logger.Error("generate request panicked", slog.String("panic", fmt.Sprint(p)))
	if msg.Reply == "" {
		return
	}
	data, err := s.bus.Encode(protocol.GenerateReply{Error: "internal error", ErrorKind: string(synthesis.KindInternal)})
	if err == nil {
		err = msg.Respond(data)
	}
	if err != nil {
		s.logger.Warn("failed to respond to generate request", slogError(err))
	}
}

// reply turns a bus payload into a response message and the status event
// that follows it. Errors travel inside the reply.
func (s *Service) reply(ctx context.Context, data []byte) (protocol.GenerateReply, protocol.GenerateStatus) {
	var req protocol.GenerateRequest
	if err := json.Unmarshal(data, &req); err != nil {
		s.logger.Warn("failed to decode generate request", slogError(err))
		kind := string(synthesis.KindValidation)
		return protocol.GenerateReply{Error: "invalid request payload", ErrorKind: kind},
			protocol.GenerateStatus{Status: kind, Timestamp: time.Now().UTC()}
	}
	params := synthesis.Params{
		Text:   req.Text,
		Voice:  req.Voice,
		Preset: req.Preset,
		Seed:   req.Seed,
	}
	outcome, err := s.Generate(ctx, params)

	reply := protocol.GenerateReply{RequestID: req.RequestID}
	if reply.RequestID == "" {
		reply.RequestID = outcome.ID
	}
	status := protocol.GenerateStatus{
		RequestID: reply.RequestID,
		Voice:     firstNonEmpty(req.Voice, s.defaults.Voice),
		Preset:    firstNonEmpty(req.Preset, s.defaults.Preset),
		Status:    "ok",
		LatencyMS: outcome.Latency.Milliseconds(),
		Timestamp: time.Now().UTC(),
	}
	if err != nil {
		reply.Error = UserMessage(err)
		reply.ErrorKind = string(synthesis.Classify(err))
		status.Status = reply.ErrorKind
		return reply, status
	}
	reply.SampleRate = outcome.Audio.SampleRate
	reply.Samples = len(outcome.Audio.Samples)
	reply.PCM = protocol.EncodeFloat32LE(outcome.Audio.Samples)
	return reply, status
}

func (s *Service) publishStatus(status protocol.GenerateStatus) {
	if err := s.bus.PublishJSON(protocol.SubjectGenerateDone, status); err != nil {
		s.logger.Warn("failed to publish generate status", slogError(err))
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// UserMessage renders err for display. Validation messages are shown as-is;
// other failures get a short prefix naming what went wrong.
func UserMessage(err error) string {
	switch synthesis.Classify(err) {
	case synthesis.KindValidation:
		return err.Error()
	case synthesis.KindEngine:
		return "synthesis engine error: " + err.Error()
	case synthesis.KindNormalization:
		return "could not read engine output: " + err.Error()
	default:
		return "internal error"
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
