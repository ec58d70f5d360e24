package engine

import (
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/loqalabs/loqa-voicelab/internal/protocol"
	"github.com/loqalabs/loqa-voicelab/internal/synthesis"
)

// Wire format shared with the engine worker. Float arrays travel as base64
// encoded little-endian float32 so large clips stay compact.

type wireRequest struct {
	Text                string       `json:"text"`
	Preset              string       `json:"preset"`
	Seed                *int64       `json:"seed,omitempty"`
	VoiceSamples        []wireClip   `json:"voice_samples,omitempty"`
	ConditioningLatents *wireLatents `json:"conditioning_latents,omitempty"`
}

type wireClip struct {
	SampleRate int    `json:"sample_rate"`
	PCM        string `json:"pcm"`
}

type wireLatents struct {
	Autoregressive string `json:"autoregressive"`
	Diffusion      string `json:"diffusion"`
}

// wireOutput mirrors the shapes an engine may return: a tensor (shape+data),
// a list of outputs, or bare samples.
type wireOutput struct {
	Shape   []int        `json:"shape,omitempty"`
	Data    string       `json:"data,omitempty"`
	Outputs []wireOutput `json:"outputs,omitempty"`
	Samples []float32    `json:"samples,omitempty"`
	Error   string       `json:"error,omitempty"`
}

func encodeCall(call synthesis.Call) wireRequest {
	req := wireRequest{
		Text:   call.Text,
		Preset: string(call.Preset),
	}
	if call.Deterministic {
		seed := call.Seed
		req.Seed = &seed
	}
	for _, clip := range call.ReferenceSamples {
		req.VoiceSamples = append(req.VoiceSamples, wireClip{
			SampleRate: clip.SampleRate,
			PCM:        encodeFloats(clip.Samples),
		})
	}
	if call.Latents != nil {
		req.ConditioningLatents = &wireLatents{
			Autoregressive: encodeFloats(call.Latents.Autoregressive),
			Diffusion:      encodeFloats(call.Latents.Diffusion),
		}
	}
	return req
}

func decodeOutput(out wireOutput) (synthesis.RawOutput, error) {
	if out.Error != "" {
		return synthesis.RawOutput{}, errors.New(out.Error)
	}
	switch {
	case out.Outputs != nil:
		items := make([]synthesis.RawOutput, 0, len(out.Outputs))
		for i, item := range out.Outputs {
			decoded, err := decodeOutput(item)
			if err != nil {
				return synthesis.RawOutput{}, fmt.Errorf("output %d: %w", i, err)
			}
			items = append(items, decoded)
		}
		return synthesis.SequenceOf(items...), nil
	case out.Shape != nil:
		data, err := decodeFloats(out.Data)
		if err != nil {
			return synthesis.RawOutput{}, err
		}
		return synthesis.TensorOutput(out.Shape, data), nil
	case out.Samples != nil:
		return synthesis.Samples(out.Samples), nil
	}
	return synthesis.RawOutput{}, errors.New("engine response carries no audio")
}

func encodeFloats(values []float32) string {
	return base64.StdEncoding.EncodeToString(protocol.EncodeFloat32LE(values))
}

func decodeFloats(encoded string) ([]float32, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode tensor data: %w", err)
	}
	return protocol.DecodeFloat32LE(raw)
}
