package synthesis

import (
	"fmt"
	"math"
)

// Normalize reduces an engine result to one mono waveform at SampleRate.
//
// Checks run in a fixed order: unwrap a sequence to its first item, fold a
// singleton channel dimension, keep the first of several candidates, squeeze
// a singleton batch. Engines disagree on which of these shapes they emit, and
// the order decides how an ambiguous rank-2 result is read.
func Normalize(out RawOutput) (NormalizedAudio, error) {
	if out.kind == KindSequence {
		if len(out.sequence) == 0 {
			return NormalizedAudio{}, &NormalizationError{Reason: "engine returned no audio"}
		}
		out = out.sequence[0]
	}

	var samples []float32
	switch out.kind {
	case KindSamples:
		samples = out.samples
	case KindWaveform, KindBatch, KindChannelBatch:
		reduced, err := reduceTensor(out.tensor)
		if err != nil {
			return NormalizedAudio{}, err
		}
		samples = reduced
	default:
		return NormalizedAudio{}, &NormalizationError{Reason: fmt.Sprintf("unexpected output shape (%s)", out.kind)}
	}

	if len(samples) == 0 {
		return NormalizedAudio{}, &NormalizationError{Reason: "engine returned empty audio"}
	}
	for i, v := range samples {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			return NormalizedAudio{}, &NormalizationError{Reason: fmt.Sprintf("sample %d is not finite", i)}
		}
	}
	return NormalizedAudio{SampleRate: SampleRate, Samples: samples}, nil
}

func reduceTensor(t Tensor) ([]float32, error) {
	if err := t.Validate(); err != nil {
		return nil, &NormalizationError{Reason: err.Error()}
	}
	// own the data so callers never alias engine buffers
	shape := append([]int(nil), t.Shape...)
	data := append([]float32(nil), t.Data...)

	if len(shape) == 3 {
		if shape[1] != 1 {
			return nil, &NormalizationError{Reason: fmt.Sprintf("unexpected channel count %d", shape[1])}
		}
		shape = []int{shape[0], shape[2]}
	}
	if len(shape) == 2 {
		switch {
		case shape[0] > 1:
			// several candidates: keep the first
			data = data[:shape[1]]
			shape = []int{shape[1]}
		case shape[0] == 1:
			shape = []int{shape[1]}
		}
	}
	if len(shape) != 1 {
		return nil, &NormalizationError{Reason: fmt.Sprintf("unexpected output shape %v", t.Shape)}
	}
	return data, nil
}
