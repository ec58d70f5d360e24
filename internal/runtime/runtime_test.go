package runtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.HTTP.Port = 0
	cfg.EventStore.Path = filepath.Join(t.TempDir(), "history.db")
	cfg.Voices.Directories = []string{t.TempDir()}
	cfg.Bus.Enabled = true
	cfg.Bus.Embedded = true
	cfg.Bus.Port = -1
	cfg.Node.HeartbeatInterval = 100
	cfg.Node.HeartbeatTimeout = 500
	return cfg
}

func startRuntime(t *testing.T, cfg config.Config) (*Runtime, string) {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	rt := New(cfg, "test", logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Start(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			if err != nil {
				t.Errorf("runtime returned error: %v", err)
			}
		case <-time.After(15 * time.Second):
			t.Error("runtime did not stop")
		}
	})

	deadline := time.Now().Add(10 * time.Second)
	for !rt.Ready() {
		select {
		case err := <-done:
			t.Fatalf("runtime exited early: %v", err)
		default:
		}
		if time.Now().After(deadline) {
			t.Fatal("runtime never became ready")
		}
		time.Sleep(20 * time.Millisecond)
	}
	return rt, "http://" + rt.Addr()
}

func TestRuntimeServesSynthesis(t *testing.T) {
	_, base := startRuntime(t, testConfig(t))

	resp, err := http.Post(base+"/api/generate", "application/json",
		strings.NewReader(`{"text":"Hello world","voice":"random","preset":"fast","seed":42}`))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d: %s", resp.StatusCode, body)
	}
	var out struct {
		SampleRate int       `json:"sample_rate"`
		Samples    []float32 `json:"samples"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.SampleRate != 24000 || len(out.Samples) == 0 {
		t.Fatalf("unexpected audio: rate=%d samples=%d", out.SampleRate, len(out.Samples))
	}

	hist, err := http.Get(base + "/api/history")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	defer hist.Body.Close()
	var rows struct {
		Generations []struct {
			Status string `json:"status"`
		} `json:"generations"`
	}
	if err := json.NewDecoder(hist.Body).Decode(&rows); err != nil {
		t.Fatalf("decode history: %v", err)
	}
	if len(rows.Generations) != 1 || rows.Generations[0].Status != "ok" {
		t.Fatalf("unexpected history %+v", rows)
	}
}

func TestRuntimeProbesAndMetrics(t *testing.T) {
	_, base := startRuntime(t, testConfig(t))

	for _, path := range []string{"/healthz", "/readyz", "/metrics"} {
		resp, err := http.Get(base + path)
		if err != nil {
			t.Fatalf("%s: %v", path, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%s: status %d: %s", path, resp.StatusCode, body)
		}
		if path == "/metrics" && !strings.Contains(string(body), "go_goroutines") {
			t.Fatalf("metrics output missing runtime collectors")
		}
	}
}
