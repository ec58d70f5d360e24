package synthesis

import (
	"fmt"
	"math"
)

// OutputKind tags the shape variant of an engine result.
type OutputKind int

const (
	KindUnknown OutputKind = iota
	// KindWaveform is a rank-1 tensor of samples.
	KindWaveform
	// KindBatch is rank 2: candidates x samples, or a singleton leading dimension.
	KindBatch
	// KindChannelBatch is rank 3: candidates x channel x samples.
	KindChannelBatch
	// KindSequence is a list of outputs, each one of the other kinds.
	KindSequence
	// KindSamples is a flat sample list that did not come from a tensor.
	KindSamples
)

func (k OutputKind) String() string {
	switch k {
	case KindWaveform:
		return "waveform"
	case KindBatch:
		return "batch"
	case KindChannelBatch:
		return "channel-batch"
	case KindSequence:
		return "sequence"
	case KindSamples:
		return "samples"
	default:
		return "unknown"
	}
}

// Tensor is a dense row-major float32 array.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Rank returns the number of dimensions.
func (t Tensor) Rank() int { return len(t.Shape) }

// Validate checks that Data holds exactly the elements described by Shape.
func (t Tensor) Validate() error {
	n := 1
	for i, dim := range t.Shape {
		if dim < 0 {
			return fmt.Errorf("dimension %d is negative (%d)", i, dim)
		}
		if dim != 0 && n > math.MaxInt/dim {
			return fmt.Errorf("shape %v is too large", t.Shape)
		}
		n *= dim
	}
	if n != len(t.Data) {
		return fmt.Errorf("shape %v needs %d values, got %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// RawOutput is whatever the engine returned, tagged by shape.
type RawOutput struct {
	kind     OutputKind
	tensor   Tensor
	sequence []RawOutput
	samples  []float32
}

// TensorOutput tags a tensor by its rank.
func TensorOutput(shape []int, data []float32) RawOutput {
	t := Tensor{Shape: append([]int(nil), shape...), Data: data}
	kind := KindUnknown
	switch t.Rank() {
	case 1:
		kind = KindWaveform
	case 2:
		kind = KindBatch
	case 3:
		kind = KindChannelBatch
	}
	return RawOutput{kind: kind, tensor: t}
}

// Waveform wraps a single rank-1 waveform.
func Waveform(samples []float32) RawOutput {
	return TensorOutput([]int{len(samples)}, samples)
}

// Batch stacks equally sized waveforms into a rank-2 tensor.
func Batch(rows ...[]float32) RawOutput {
	shape, data := stack(rows)
	return TensorOutput(shape, data)
}

// ChannelBatch stacks waveforms into a candidates x 1 x samples tensor.
func ChannelBatch(rows ...[]float32) RawOutput {
	shape, data := stack(rows)
	return TensorOutput([]int{shape[0], 1, shape[1]}, data)
}

// SequenceOf wraps several outputs as a list. An empty list is legal here and
// rejected during normalization.
func SequenceOf(items ...RawOutput) RawOutput {
	return RawOutput{kind: KindSequence, sequence: append([]RawOutput{}, items...)}
}

// Samples wraps a plain sample list that bypasses shape handling.
func Samples(samples []float32) RawOutput {
	return RawOutput{kind: KindSamples, samples: samples}
}

// Kind reports the variant tag.
func (o RawOutput) Kind() OutputKind { return o.kind }

// Tensor returns the tensor payload for the tensor kinds.
func (o RawOutput) Tensor() Tensor { return o.tensor }

// Len is the number of items for KindSequence, zero otherwise.
func (o RawOutput) Len() int { return len(o.sequence) }

func stack(rows [][]float32) ([]int, []float32) {
	if len(rows) == 0 {
		return []int{0, 0}, nil
	}
	width := len(rows[0])
	data := make([]float32, 0, width*len(rows))
	for _, row := range rows {
		data = append(data, row...)
	}
	return []int{len(rows), width}, data
}
