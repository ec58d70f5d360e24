package engine

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
)

type mockEngine struct {
	candidates int
}

// NewMockEngine returns an engine that renders a short tone instead of speech.
// With candidates > 1 it answers in the batch x channel x samples layout.
func NewMockEngine(candidates int) synthesis.Engine {
	if candidates < 1 {
		candidates = 1
	}
	return &mockEngine{candidates: candidates}
}

func (m *mockEngine) Synthesize(ctx context.Context, call synthesis.Call) (synthesis.RawOutput, error) {
	select {
	case <-ctx.Done():
		return synthesis.RawOutput{}, ctx.Err()
	case <-time.After(50 * time.Millisecond):
	}

	var rng *rand.Rand
	if call.Deterministic {
		rng = rand.New(rand.NewSource(call.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	// roughly 60ms of audio per character, at least half a second
	n := len([]rune(call.Text)) * synthesis.SampleRate * 60 / 1000
	if floor := synthesis.SampleRate / 2; n < floor {
		n = floor
	}
	pitch := 110.0 + 10*float64(len(call.ReferenceSamples))
	if call.Latents != nil {
		pitch += 5 * float64(len(call.Latents.Autoregressive)%12)
	}

	rows := make([][]float32, m.candidates)
	for c := range rows {
		rows[c] = tone(n, pitch*(1+rng.Float64()), rng.Float64()*2*math.Pi)
	}
	if m.candidates == 1 {
		return synthesis.Batch(rows[0]), nil
	}
	return synthesis.ChannelBatch(rows...), nil
}

func tone(n int, freq, phase float64) []float32 {
	out := make([]float32, n)
	fade := synthesis.SampleRate / 50
	for i := range out {
		v := 0.4 * math.Sin(2*math.Pi*freq*float64(i)/synthesis.SampleRate+phase)
		if i < fade {
			v *= float64(i) / float64(fade)
		} else if n-i < fade {
			v *= float64(n-i) / float64(fade)
		}
		out[i] = float32(v)
	}
	return out
}
