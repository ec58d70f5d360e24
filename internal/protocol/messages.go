package protocol

import "time"

// GenerateRequest asks for one synthesis over the bus (request/reply).
type GenerateRequest struct {
	RequestID string   `json:"request_id,omitempty"`
	Text      string   `json:"text"`
	Voice     string   `json:"voice,omitempty"`
	Preset    string   `json:"preset,omitempty"`
	Seed      *float64 `json:"seed,omitempty"`
}

// GenerateReply carries either audio or an error. PCM is little-endian float32, mono.
type GenerateReply struct {
	RequestID  string `json:"request_id"`
	SampleRate int    `json:"sample_rate,omitempty"`
	Samples    int    `json:"samples,omitempty"`
	PCM        []byte `json:"pcm,omitempty"`
	Error      string `json:"error,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
}

// GenerateStatus is broadcast after every request, successful or not.
type GenerateStatus struct {
	RequestID string    `json:"request_id"`
	Voice     string    `json:"voice"`
	Preset    string    `json:"preset"`
	Status    string    `json:"status"`
	LatencyMS int64     `json:"latency_ms"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectGenerate     = "tts.generate"
	SubjectGenerateDone = "tts.generate.done"
	SubjectNodeAnnounce = "ctrl.node.announce"
	// SubjectNodeHeartbeatPrefix is followed by the node id.
	SubjectNodeHeartbeatPrefix = "ctrl.node.heartbeat"
)

// Capability is one feature a node advertises, e.g. "tts.generate".
type Capability struct {
	Name       string            `json:"name"`
	Tier       string            `json:"tier,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

type NodeAnnouncement struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Timestamp time.Time `json:"timestamp"`
}
