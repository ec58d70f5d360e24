package synthesis

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

type fakeStore struct {
	names   []string
	clips   []Clip
	latents *Latents
	err     error
	loads   [][]string
}

func (f *fakeStore) ListVoices(context.Context) ([]string, error) {
	return f.names, f.err
}

func (f *fakeStore) LoadVoice(_ context.Context, names []string) ([]Clip, *Latents, error) {
	f.loads = append(f.loads, append([]string(nil), names...))
	if f.err != nil {
		return nil, nil, f.err
	}
	return f.clips, f.latents, nil
}

type fakeEngine struct {
	out   RawOutput
	err   error
	calls []Call
}

func (f *fakeEngine) Synthesize(_ context.Context, call Call) (RawOutput, error) {
	f.calls = append(f.calls, call)
	return f.out, f.err
}

func TestNewGeneratorRequiresCollaborators(t *testing.T) {
	if _, err := NewGenerator(nil, &fakeStore{}); err == nil {
		t.Fatal("expected error without engine")
	}
	if _, err := NewGenerator(&fakeEngine{}, nil); err == nil {
		t.Fatal("expected error without voice store")
	}
}

func TestGenerateRandomVoiceEndToEnd(t *testing.T) {
	waveform := []float32{0.1, -0.2, 0.3, -0.4}
	engine := &fakeEngine{out: Batch(waveform)}
	store := &fakeStore{}
	gen, err := NewGenerator(engine, store)
	if err != nil {
		t.Fatal(err)
	}

	res, err := gen.Generate(context.Background(), Params{Text: "Hello world", Voice: "random", Preset: "fast", Seed: seedOf(42)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(engine.calls) != 1 {
		t.Fatalf("expected one engine call, got %d", len(engine.calls))
	}
	call := engine.calls[0]
	want := Call{Text: "Hello world", Preset: PresetFast, Seed: 42, Deterministic: true}
	if !reflect.DeepEqual(call, want) {
		t.Fatalf("engine call %+v, want %+v", call, want)
	}
	if len(store.loads) != 0 {
		t.Fatalf("random voice must not load from the store")
	}
	if res.Audio.SampleRate != 24000 || len(res.Audio.Samples) != len(waveform) {
		t.Fatalf("unexpected audio %+v", res.Audio)
	}
	if !reflect.DeepEqual(res.Audio.Samples, waveform) {
		t.Fatalf("got %v", res.Audio.Samples)
	}
}

func TestGenerateNamedVoicePassesConditioning(t *testing.T) {
	clips := []Clip{{SampleRate: 22050, Samples: []float32{0.5}}}
	latents := &Latents{Autoregressive: []float32{1, 2}, Diffusion: []float32{3}}
	store := &fakeStore{names: []string{"alice"}, clips: clips, latents: latents}
	engine := &fakeEngine{out: Waveform([]float32{0.1, 0.2})}
	gen, err := NewGenerator(engine, store)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := gen.Generate(context.Background(), Params{Text: "hi", Voice: "alice", Preset: "standard"}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(store.loads, [][]string{{"alice"}}) {
		t.Fatalf("expected LoadVoice([alice]) once, got %v", store.loads)
	}
	call := engine.calls[0]
	if &call.ReferenceSamples[0] != &clips[0] || call.Latents != latents {
		t.Fatalf("voice conditioning must reach the engine unchanged")
	}
	if call.Deterministic {
		t.Fatalf("no seed given, request must be nondeterministic")
	}
}

func TestGenerateValidationNeverCallsEngine(t *testing.T) {
	engine := &fakeEngine{out: Waveform([]float32{1})}
	store := &fakeStore{}
	gen, _ := NewGenerator(engine, store)

	_, err := gen.Generate(context.Background(), Params{Text: "   ", Voice: "alice"})
	if Classify(err) != KindValidation {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(engine.calls) != 0 || len(store.loads) != 0 {
		t.Fatalf("collaborators must not be called on validation failure")
	}
}

func TestGenerateEngineFailure(t *testing.T) {
	cause := errors.New("cuda out of memory")
	engine := &fakeEngine{err: cause}
	gen, _ := NewGenerator(engine, &fakeStore{})

	res, err := gen.Generate(context.Background(), Params{Text: "hi", Voice: RandomVoice})
	var eerr *EngineError
	if !errors.As(err, &eerr) || eerr.Stage != StageSynthesize {
		t.Fatalf("expected engine error, got %v", err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause should be wrapped")
	}
	if len(engine.calls) != 1 {
		t.Fatalf("engine must not be retried, got %d calls", len(engine.calls))
	}
	if res.Audio.Samples != nil {
		t.Fatalf("no partial audio expected")
	}
}

func TestGenerateEmptySequence(t *testing.T) {
	gen, _ := NewGenerator(&fakeEngine{out: SequenceOf()}, &fakeStore{})
	_, err := gen.Generate(context.Background(), Params{Text: "hi", Voice: RandomVoice})
	if Classify(err) != KindNormalization {
		t.Fatalf("expected normalization error, got %v", err)
	}
}

func TestVoiceChoices(t *testing.T) {
	got := VoiceChoices([]string{"tom", "alice", "myself"})
	want := []string{"random", "alice", "myself", "tom"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	got = VoiceChoices([]string{"tom", "random", "alice"})
	want = []string{"alice", "random", "tom"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	if got := VoiceChoices(nil); !reflect.DeepEqual(got, []string{"random"}) {
		t.Fatalf("got %v", got)
	}
}

func TestGeneratorVoicesWrapsStoreError(t *testing.T) {
	gen, _ := NewGenerator(&fakeEngine{}, &fakeStore{err: errors.New("boom")})
	if _, err := gen.Voices(context.Background()); Classify(err) != KindEngine {
		t.Fatalf("expected engine error, got %v", err)
	}
}

func TestClassify(t *testing.T) {
	if Classify(nil) != "" {
		t.Fatal("nil error has no kind")
	}
	if Classify(errors.New("x")) != KindInternal {
		t.Fatal("unknown errors are internal")
	}
}
