package voices

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
)

func decodeWAV(path string) (synthesis.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return synthesis.Clip{}, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return synthesis.Clip{}, fmt.Errorf("%s: not a valid wav file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return synthesis.Clip{}, fmt.Errorf("%s: read pcm: %w", path, err)
	}
	depth := int(dec.BitDepth)
	if depth <= 0 || depth > 32 {
		return synthesis.Clip{}, fmt.Errorf("%s: unsupported bit depth %d", path, depth)
	}
	scale := float32(int64(1) << (depth - 1))
	return synthesis.Clip{
		SampleRate: int(dec.SampleRate),
		Samples:    downmix(buf.Data, int(dec.NumChans), scale),
	}, nil
}

func decodeMP3(path string) (synthesis.Clip, error) {
	f, err := os.Open(path)
	if err != nil {
		return synthesis.Clip{}, err
	}
	defer f.Close()

	dec, err := mp3.NewDecoder(f)
	if err != nil {
		return synthesis.Clip{}, fmt.Errorf("%s: open mp3: %w", path, err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return synthesis.Clip{}, fmt.Errorf("%s: decode mp3: %w", path, err)
	}
	// go-mp3 always yields 16-bit little-endian stereo
	samples := make([]int, len(pcm)/2)
	for i := range samples {
		samples[i] = int(int16(uint16(pcm[2*i]) | uint16(pcm[2*i+1])<<8))
	}
	return synthesis.Clip{
		SampleRate: dec.SampleRate(),
		Samples:    downmix(samples, 2, 32768),
	}, nil
}

// downmix averages interleaved channels into one and scales to [-1, 1].
func downmix(data []int, channels int, scale float32) []float32 {
	if channels < 1 {
		channels = 1
	}
	frames := len(data) / channels
	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		var sum int
		for c := 0; c < channels; c++ {
			sum += data[i*channels+c]
		}
		out[i] = float32(sum) / float32(channels) / scale
	}
	return out
}

func readLatents(path string) (*synthesis.Latents, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var latents synthesis.Latents
	if err := json.Unmarshal(data, &latents); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &latents, nil
}
