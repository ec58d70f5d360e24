package synthesis

import "context"

// SampleRate is the fixed output rate of the engine contract.
const SampleRate = 24000

// RandomVoice asks the engine to sample a voice internally.
const RandomVoice = "random"

// Preset selects the engine's speed/quality trade-off. It is passed through untouched.
type Preset string

const (
	PresetUltraFast   Preset = "ultra_fast"
	PresetFast        Preset = "fast"
	PresetStandard    Preset = "standard"
	PresetHighQuality Preset = "high_quality"
)

// Presets lists the known presets from fastest to slowest.
func Presets() []Preset {
	return []Preset{PresetUltraFast, PresetFast, PresetStandard, PresetHighQuality}
}

// Params are the loosely typed values collected from a caller.
type Params struct {
	Text   string
	Voice  string
	Preset string
	Seed   *float64

	// ExactSeed takes precedence over Seed. Callers that can parse integers
	// exactly use it for seeds beyond float64 precision.
	ExactSeed *int64
}

// Request is a validated synthesis request. Only BuildRequest produces one.
type Request struct {
	Text          string
	Voice         string
	Preset        Preset
	Seed          int64
	Deterministic bool
}

// Clip is one reference recording for a voice, mono.
type Clip struct {
	SampleRate int
	Samples    []float32
}

// Latents are precomputed conditioning embeddings for a voice.
type Latents struct {
	Autoregressive []float32 `json:"autoregressive"`
	Diffusion      []float32 `json:"diffusion"`
}

// Conditioning is what the voice store resolved for a request. Both fields
// are nil for the random voice.
type Conditioning struct {
	ReferenceSamples []Clip
	Latents          *Latents
}

// Call is the argument set handed to the engine.
type Call struct {
	Text             string
	ReferenceSamples []Clip
	Latents          *Latents
	Preset           Preset
	Seed             int64
	Deterministic    bool
}

// NormalizedAudio is one channel, one candidate.
type NormalizedAudio struct {
	SampleRate int
	Samples    []float32
}

// Duration returns the playback length in seconds.
func (a NormalizedAudio) Duration() float64 {
	if a.SampleRate <= 0 {
		return 0
	}
	return float64(len(a.Samples)) / float64(a.SampleRate)
}

// Engine is the synthesis backend. Implementations may block for minutes.
type Engine interface {
	Synthesize(ctx context.Context, call Call) (RawOutput, error)
}

// VoiceStore lists and loads voice identities.
type VoiceStore interface {
	ListVoices(ctx context.Context) ([]string, error)
	LoadVoice(ctx context.Context, names []string) ([]Clip, *Latents, error)
}
