package main

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/loqalabs/loqa-voicelab/internal/bus"
	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/natsserver"
	"github.com/loqalabs/loqa-voicelab/internal/protocol"
	"github.com/nats-io/nats.go"
)

func TestBuildRequest(t *testing.T) {
	if _, err := buildRequest(options{text: "  "}); err == nil {
		t.Fatal("expected error for blank text")
	}
	if _, err := buildRequest(options{text: "hi", seed: "abc"}); err == nil {
		t.Fatal("expected error for bad seed")
	}
	req, err := buildRequest(options{text: "hi", voice: "alice", seed: "7"})
	if err != nil {
		t.Fatalf("buildRequest: %v", err)
	}
	if req.Seed == nil || *req.Seed != 7 || req.Voice != "alice" {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestSplitServers(t *testing.T) {
	got := splitServers(" nats://a:4222, ,nats://b:4222 ")
	if len(got) != 2 || got[0] != "nats://a:4222" || got[1] != "nats://b:4222" {
		t.Fatalf("unexpected servers %v", got)
	}
}

func TestRunWritesWAV(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	srv, err := natsserver.Start(config.BusConfig{Enabled: true, Embedded: true, Port: -1}, logger)
	if err != nil {
		t.Fatalf("start nats: %v", err)
	}
	t.Cleanup(srv.Shutdown)

	// stand-in synthesis node
	node, err := bus.Connect(context.Background(), config.BusConfig{Servers: []string{srv.ClientURL()}, ConnectTimeout: 2000}, "node", logger)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(node.Close)
	_, err = node.Subscribe(protocol.SubjectGenerate, func(msg *nats.Msg) {
		var req protocol.GenerateRequest
		_ = json.Unmarshal(msg.Data, &req)
		reply := protocol.GenerateReply{
			SampleRate: 24000,
			Samples:    3,
			PCM:        protocol.EncodeFloat32LE([]float32{0, 0.5, -0.5}),
		}
		if req.Text != "hello" {
			reply = protocol.GenerateReply{Error: "unexpected text", ErrorKind: "validation"}
		}
		data, _ := json.Marshal(reply)
		_ = msg.Respond(data)
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := node.Conn().Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	out := filepath.Join(t.TempDir(), "hello.wav")
	opts := options{servers: srv.ClientURL(), text: "hello", out: out, timeout: 5 * time.Second}
	if err := run(context.Background(), opts, logger); err != nil {
		t.Fatalf("run: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	buf, err := wav.NewDecoder(f).FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(buf.Data) != 3 || buf.Data[1] != 16384 {
		t.Fatalf("unexpected samples %v", buf.Data)
	}

	opts.text = "other"
	if err := run(context.Background(), opts, logger); err == nil {
		t.Fatal("expected remote error to surface")
	}
}
