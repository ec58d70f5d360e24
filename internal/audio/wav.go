// Package audio converts normalized float32 waveforms to on-disk formats.
package audio

import (
	"fmt"
	"io"
	"math"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// BitDepth of every WAV file written by this package.
const BitDepth = 16

// WriteWAV encodes mono samples in [-1, 1] as 16-bit PCM. Out-of-range
// samples are clipped.
func WriteWAV(out io.WriteSeeker, sampleRate int, samples []float32) error {
	if sampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	enc := wav.NewEncoder(out, sampleRate, BitDepth, 1, 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
		SourceBitDepth: BitDepth,
		Data:           make([]int, len(samples)),
	}
	for i, s := range samples {
		buf.Data[i] = ToPCM16(s)
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("write wav samples: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("finalize wav: %w", err)
	}
	return nil
}

// ToPCM16 scales one sample to a signed 16-bit value.
func ToPCM16(s float32) int {
	if s != s {
		return 0
	}
	v := math.Round(float64(s) * math.MaxInt16)
	return int(max(math.MinInt16, min(math.MaxInt16, v)))
}
