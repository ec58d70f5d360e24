package capability

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/loqalabs/loqa-voicelab/internal/bus"
	"github.com/loqalabs/loqa-voicelab/internal/config"
	"github.com/loqalabs/loqa-voicelab/internal/protocol"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Node is what the registry knows about one synthesis node on the bus.
type Node struct {
	ID           string                `json:"id"`
	Role         string                `json:"role"`
	Capabilities []protocol.Capability `json:"capabilities"`
	LastSeen     time.Time             `json:"last_seen"`
	Healthy      bool                  `json:"healthy"`
}

// Describer supplies live attributes merged into every advertised capability,
// e.g. the current voice list.
type Describer func(ctx context.Context) map[string]string

// Registry announces this node, heartbeats it, and tracks its peers.
type Registry struct {
	cfg      config.NodeConfig
	log      *slog.Logger
	bus      *bus.Client
	describe Describer
	now      func() time.Time

	mu    sync.RWMutex
	nodes map[string]*Node

	cancel context.CancelFunc
	wg     sync.WaitGroup
	subs   []*nats.Subscription
	gauges metric.Registration
}

func NewRegistry(ctx context.Context, cfg config.NodeConfig, busClient *bus.Client, describe Describer, log *slog.Logger) (*Registry, error) {
	ctx, cancel := context.WithCancel(ctx)
	r := &Registry{
		cfg:      cfg,
		log:      log.With(slog.String("component", "capability-registry")),
		bus:      busClient,
		describe: describe,
		now:      time.Now,
		nodes:    make(map[string]*Node),
		cancel:   cancel,
	}

	if err := r.initMetrics(); err != nil {
		r.log.Warn("failed to initialize metrics", slog.String("error", err.Error()))
	}
	if err := r.subscribe(); err != nil {
		cancel()
		return nil, err
	}
	if err := r.announce(ctx); err != nil {
		r.log.Warn("failed to announce node", slog.String("error", err.Error()))
	}

	r.wg.Add(1)
	go r.run(ctx)
	return r, nil
}

func (r *Registry) Close() {
	r.cancel()
	r.wg.Wait()
	for _, sub := range r.subs {
		_ = sub.Drain()
	}
	if r.gauges != nil {
		_ = r.gauges.Unregister()
	}
}

func (r *Registry) subscribe() error {
	announceSub, err := r.bus.Subscribe(protocol.SubjectNodeAnnounce, r.handleAnnounce)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, announceSub)

	heartbeatSub, err := r.bus.Subscribe(protocol.SubjectNodeHeartbeatPrefix+".*", r.handleHeartbeat)
	if err != nil {
		return err
	}
	r.subs = append(r.subs, heartbeatSub)
	return nil
}

// run publishes heartbeats and expires silent peers until ctx ends.
func (r *Registry) run(ctx context.Context) {
	defer r.wg.Done()
	heartbeat := time.NewTicker(time.Duration(r.cfg.HeartbeatInterval) * time.Millisecond)
	defer heartbeat.Stop()
	health := time.NewTicker(time.Second)
	defer health.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := r.publishHeartbeat(); err != nil {
				r.log.Warn("failed to publish heartbeat", slog.String("error", err.Error()))
			}
		case <-health.C:
			r.evaluateHealth()
		}
	}
}

func (r *Registry) announce(ctx context.Context) error {
	msg := protocol.NodeAnnouncement{
		NodeID:       r.cfg.ID,
		Role:         r.cfg.Role,
		Capabilities: r.localCapabilities(ctx),
		Timestamp:    r.now().UTC(),
	}
	if err := r.bus.PublishJSON(protocol.SubjectNodeAnnounce, msg); err != nil {
		return err
	}
	r.updateNode(msg.NodeID, msg.Role, msg.Capabilities, msg.Timestamp)
	return nil
}

func (r *Registry) localCapabilities(ctx context.Context) []protocol.Capability {
	var extra map[string]string
	if r.describe != nil {
		extra = r.describe(ctx)
	}
	caps := make([]protocol.Capability, 0, len(r.cfg.Capabilities))
	for _, c := range r.cfg.Capabilities {
		attrs := make(map[string]string, len(c.Attributes)+len(extra))
		maps.Copy(attrs, extra)
		maps.Copy(attrs, c.Attributes)
		caps = append(caps, protocol.Capability{Name: c.Name, Tier: c.Tier, Attributes: attrs})
	}
	return caps
}

func (r *Registry) publishHeartbeat() error {
	hb := protocol.NodeHeartbeat{NodeID: r.cfg.ID, Timestamp: r.now().UTC()}
	return r.bus.PublishJSON(protocol.SubjectNodeHeartbeatPrefix+"."+r.cfg.ID, hb)
}

func (r *Registry) handleAnnounce(msg *nats.Msg) {
	var a protocol.NodeAnnouncement
	if err := json.Unmarshal(msg.Data, &a); err != nil || a.NodeID == "" {
		r.log.Warn("invalid announce message")
		return
	}
	if a.Timestamp.IsZero() {
		a.Timestamp = r.now().UTC()
	}
	r.updateNode(a.NodeID, a.Role, a.Capabilities, a.Timestamp)
}

func (r *Registry) handleHeartbeat(msg *nats.Msg) {
	var hb protocol.NodeHeartbeat
	if err := json.Unmarshal(msg.Data, &hb); err != nil || hb.NodeID == "" {
		r.log.Warn("invalid heartbeat message")
		return
	}
	if hb.Timestamp.IsZero() {
		hb.Timestamp = r.now().UTC()
	}
	r.updateNode(hb.NodeID, "", nil, hb.Timestamp)
}

func (r *Registry) updateNode(id, role string, caps []protocol.Capability, seen time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()

	node, ok := r.nodes[id]
	if !ok {
		node = &Node{ID: id}
		r.nodes[id] = node
	}
	if role != "" {
		node.Role = role
	}
	if len(caps) > 0 {
		node.Capabilities = caps
	}
	node.LastSeen = seen
	node.Healthy = true
}

func (r *Registry) evaluateHealth() {
	r.mu.Lock()
	defer r.mu.Unlock()

	timeout := time.Duration(r.cfg.HeartbeatTimeout) * time.Millisecond
	now := r.now()
	for _, node := range r.nodes {
		if now.Sub(node.LastSeen) > timeout {
			node.Healthy = false
		}
	}
}

// Healthy reports whether this node has been seen on the bus recently.
func (r *Registry) Healthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	node, ok := r.nodes[r.cfg.ID]
	return ok && node.Healthy
}

// Nodes lists known nodes offering capability name, or all nodes when name
// is empty, sorted by id.
func (r *Registry) Nodes(name string) []Node {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Node
	for _, node := range r.nodes {
		if name != "" && !offers(node, name) {
			continue
		}
		n := *node
		n.Capabilities = append([]protocol.Capability(nil), node.Capabilities...)
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func offers(node *Node, name string) bool {
	for _, c := range node.Capabilities {
		if c.Name == name {
			return true
		}
	}
	return false
}

func (r *Registry) initMetrics() error {
	meter := otel.Meter("github.com/loqalabs/loqa-voicelab/capability")
	nodes, err := meter.Int64ObservableGauge("voicelab.nodes", metric.WithDescription("Number of known synthesis nodes"))
	if err != nil {
		return err
	}
	healthy, err := meter.Int64ObservableGauge("voicelab.nodes.healthy", metric.WithDescription("Nodes seen within the heartbeat timeout"))
	if err != nil {
		return err
	}
	r.gauges, err = meter.RegisterCallback(func(_ context.Context, obs metric.Observer) error {
		total, ok := r.counts()
		obs.ObserveInt64(nodes, total)
		obs.ObserveInt64(healthy, ok)
		return nil
	}, nodes, healthy)
	return err
}

func (r *Registry) counts() (total, healthy int64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, node := range r.nodes {
		total++
		if node.Healthy {
			healthy++
		}
	}
	return total, healthy
}
