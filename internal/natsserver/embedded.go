package natsserver

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/nats-io/nats-server/v2/server"
)

const readyTimeout = 5 * time.Second

// EmbeddedServer is an in-process broker for single-node deployments.
type EmbeddedServer struct {
	ns  *server.Server
	log *slog.Logger
}

// Start runs a loopback-only broker when the bus is enabled in embedded mode
// and returns nil otherwise. Port -1 picks a free port.
func Start(cfg config.BusConfig, log *slog.Logger) (*EmbeddedServer, error) {
	if !cfg.Enabled || !cfg.Embedded {
		return nil, nil
	}
	log = log.With(slog.String("component", "nats-embedded"))

	opts := &server.Options{
		ServerName: "voicelab-embedded",
		Host:       "127.0.0.1",
		Port:       cfg.Port,
		NoSigs:     true,
		MaxPayload: maxPayload(cfg.MaxPayloadMB),
	}
	ns, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("create embedded NATS server: %w", err)
	}
	go ns.Start()

	if !ns.ReadyForConnections(readyTimeout) {
		ns.Shutdown()
		return nil, fmt.Errorf("embedded NATS server not ready after %s", readyTimeout)
	}

	log.Info("embedded NATS server started",
		slog.String("url", ns.ClientURL()),
		slog.Int("max_payload_bytes", int(opts.MaxPayload)))
	return &EmbeddedServer{ns: ns, log: log}, nil
}

func maxPayload(mb int) int32 {
	if mb <= 0 {
		return 0 // server default
	}
	return int32(mb) << 20
}

// ClientURL is the address local clients should dial.
func (e *EmbeddedServer) ClientURL() string {
	if e == nil || e.ns == nil {
		return ""
	}
	return e.ns.ClientURL()
}

func (e *EmbeddedServer) Shutdown() {
	if e == nil || e.ns == nil {
		return
	}
	e.log.Info("shutting down embedded NATS server")
	e.ns.Shutdown()
	e.ns.WaitForShutdown()
}
