package synthesis

import (
	"context"
	"math"
	"strings"
)

// BuildRequest validates raw parameters. Empty text is the only input rejected;
// the preset is not interpreted and any integer seed is accepted.
func BuildRequest(p Params) (Request, error) {
	if strings.TrimSpace(p.Text) == "" {
		return Request{}, &ValidationError{Message: "text required"}
	}
	req := Request{
		Text:   p.Text,
		Voice:  p.Voice,
		Preset: Preset(p.Preset),
	}
	switch {
	case p.ExactSeed != nil:
		req.Seed = *p.ExactSeed
		req.Deterministic = true
	case p.Seed != nil:
		seed := *p.Seed
		if math.IsNaN(seed) || math.IsInf(seed, 0) {
			return Request{}, &ValidationError{Message: "seed must be a finite number"}
		}
		// numeric UI controls deliver floats; drop the fractional part
		seed = math.Trunc(seed)
		if seed < math.MinInt64 || seed >= math.MaxInt64 {
			return Request{}, &ValidationError{Message: "seed does not fit in 64 bits"}
		}
		req.Seed = int64(seed)
		req.Deterministic = true
	}
	return req, nil
}

// ResolveVoice fetches conditioning for a named voice. The random voice
// resolves to empty conditioning without touching the store.
func ResolveVoice(ctx context.Context, store VoiceStore, voice string) (Conditioning, error) {
	if voice == RandomVoice {
		return Conditioning{}, nil
	}
	samples, latents, err := store.LoadVoice(ctx, []string{voice})
	if err != nil {
		return Conditioning{}, &EngineError{Stage: StageVoice, Err: err}
	}
	return Conditioning{ReferenceSamples: samples, Latents: latents}, nil
}
