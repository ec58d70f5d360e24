package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/audio"
	"github.com/loqalabs/loqa-voicelab/internal/bus"
	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/protocol"
)

type options struct {
	servers string
	token   string
	text    string
	voice   string
	preset  string
	seed    string
	out     string
	timeout time.Duration
}

func main() {
	var opts options
	flag.StringVar(&opts.servers, "servers", "nats://127.0.0.1:4222", "Comma-separated NATS server URLs")
	flag.StringVar(&opts.token, "token", os.Getenv("LOQA_BUS_TOKEN"), "NATS auth token")
	flag.StringVar(&opts.text, "text", "", "Text to synthesize")
	flag.StringVar(&opts.voice, "voice", "", "Voice name (default: server default)")
	flag.StringVar(&opts.preset, "preset", "", "Quality preset (default: server default)")
	flag.StringVar(&opts.seed, "seed", "", "Seed for reproducible output")
	flag.StringVar(&opts.out, "out", "out.wav", "Output WAV path")
	flag.DurationVar(&opts.timeout, "timeout", 10*time.Minute, "How long to wait for the synthesis node")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts, logger); err != nil {
		fmt.Fprintln(os.Stderr, "voicelabctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options, logger *slog.Logger) error {
	req, err := buildRequest(opts)
	if err != nil {
		return err
	}

	client, err := bus.Connect(ctx, config.BusConfig{
		Servers:        splitServers(opts.servers),
		Token:          opts.token,
		ConnectTimeout: 2000,
	}, "voicelabctl", logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	var reply protocol.GenerateReply
	if err := client.RequestJSON(ctx, protocol.SubjectGenerate, req, &reply); err != nil {
		return err
	}
	if reply.Error != "" {
		return fmt.Errorf("%s error: %s", reply.ErrorKind, reply.Error)
	}
	samples, err := protocol.DecodeFloat32LE(reply.PCM)
	if err != nil {
		return err
	}

	f, err := os.Create(opts.out)
	if err != nil {
		return err
	}
	if err := audio.WriteWAV(f, reply.SampleRate, samples); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Printf("%s: %d samples at %d Hz (%.2fs)\n", opts.out, len(samples), reply.SampleRate,
		float64(len(samples))/float64(reply.SampleRate))
	return nil
}

func buildRequest(opts options) (protocol.GenerateRequest, error) {
	if strings.TrimSpace(opts.text) == "" {
		return protocol.GenerateRequest{}, errors.New("-text is required")
	}
	req := protocol.GenerateRequest{
		Text:   opts.text,
		Voice:  opts.voice,
		Preset: opts.preset,
	}
	if opts.seed != "" {
		v, err := strconv.ParseFloat(opts.seed, 64)
		if err != nil {
			return req, fmt.Errorf("invalid -seed %q", opts.seed)
		}
		req.Seed = &v
	}
	return req, nil
}

func splitServers(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
