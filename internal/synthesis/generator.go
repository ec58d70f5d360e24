package synthesis

import (
	"context"
	"errors"
	"sort"
)

// Result is a completed request.
type Result struct {
	Request Request
	Audio   NormalizedAudio
}

// Generator runs one request through validation, voice lookup, the engine and
// normalization. The engine is built once by the caller and only read here.
type Generator struct {
	engine Engine
	voices VoiceStore
}

func NewGenerator(engine Engine, voices VoiceStore) (*Generator, error) {
	if engine == nil {
		return nil, errors.New("synthesis engine is required")
	}
	if voices == nil {
		return nil, errors.New("voice store is required")
	}
	return &Generator{engine: engine, voices: voices}, nil
}

// Generate never returns partial audio: Audio is set only when err is nil.
// Request is filled in whenever validation passed.
func (g *Generator) Generate(ctx context.Context, p Params) (Result, error) {
	req, err := BuildRequest(p)
	if err != nil {
		return Result{}, err
	}
	cond, err := ResolveVoice(ctx, g.voices, req.Voice)
	if err != nil {
		return Result{Request: req}, err
	}
	raw, err := g.engine.Synthesize(ctx, Call{
		Text:             req.Text,
		ReferenceSamples: cond.ReferenceSamples,
		Latents:          cond.Latents,
		Preset:           req.Preset,
		Seed:             req.Seed,
		Deterministic:    req.Deterministic,
	})
	if err != nil {
		return Result{Request: req}, &EngineError{Stage: StageSynthesize, Err: err}
	}
	audio, err := Normalize(raw)
	if err != nil {
		return Result{Request: req}, err
	}
	return Result{Request: req, Audio: audio}, nil
}

// Voices returns the selectable voice list.
func (g *Generator) Voices(ctx context.Context) ([]string, error) {
	names, err := g.voices.ListVoices(ctx)
	if err != nil {
		return nil, &EngineError{Stage: StageVoice, Err: err}
	}
	return VoiceChoices(names), nil
}

// VoiceChoices sorts names and puts RandomVoice first when it is missing.
func VoiceChoices(names []string) []string {
	choices := append([]string(nil), names...)
	sort.Strings(choices)
	for _, name := range choices {
		if name == RandomVoice {
			return choices
		}
	}
	return append([]string{RandomVoice}, choices...)
}
