package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type TelemetryConfig struct {
	LogLevel      string `yaml:"log_level"`
	LogFile       string `yaml:"log_file"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
	LogMaxAgeDays int    `yaml:"log_max_age_days"`
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	StdoutTraces  bool   `yaml:"stdout_traces"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string           `yaml:"runtime_name"`
	Environment string           `yaml:"environment"`
	HTTP        HTTPConfig       `yaml:"http"`
	Telemetry   TelemetryConfig  `yaml:"telemetry"`
	Bus         BusConfig        `yaml:"bus"`
	Node        NodeConfig       `yaml:"node"`
	EventStore  EventStoreConfig `yaml:"event_store"`
	Engine      EngineConfig     `yaml:"engine"`
	Voices      VoicesConfig     `yaml:"voices"`
	UI          UIConfig         `yaml:"ui"`
}

type BusConfig struct {
	Enabled        bool     `yaml:"enabled"`
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
	// MaxPayloadMB bounds one bus message; generate replies carry whole clips.
	MaxPayloadMB int `yaml:"max_payload_mb"`
}

type NodeConfig struct {
	ID                string           `yaml:"id"`
	Role              string           `yaml:"role"`
	HeartbeatInterval int              `yaml:"heartbeat_interval_ms"`
	HeartbeatTimeout  int              `yaml:"heartbeat_timeout_ms"`
	Capabilities      []NodeCapability `yaml:"capabilities"`
}

type NodeCapability struct {
	Name       string            `yaml:"name"`
	Tier       string            `yaml:"tier"`
	Attributes map[string]string `yaml:"attributes"`
}

type EventStoreConfig struct {
	Path           string `yaml:"path"`
	RetentionMode  string `yaml:"retention_mode"`
	RetentionDays  int    `yaml:"retention_days"`
	MaxGenerations int    `yaml:"max_generations"`
	VacuumOnStart  bool   `yaml:"vacuum_on_start"`
}

type EngineConfig struct {
	Mode       string `yaml:"mode"` // mock, exec
	Command    string `yaml:"command"`
	TimeoutMS  int    `yaml:"timeout_ms"`
	Candidates int    `yaml:"candidates"`
}

type VoicesConfig struct {
	Directories []string `yaml:"directories"`
	CacheSize   int      `yaml:"cache_size"`
}

type UIConfig struct {
	Title         string `yaml:"title"`
	DefaultText   string `yaml:"default_text"`
	DefaultVoice  string `yaml:"default_voice"`
	DefaultPreset string `yaml:"default_preset"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-voicelab",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "127.0.0.1",
			Port: 7860,
		},
		Telemetry: TelemetryConfig{
			LogLevel:      "info",
			OTLPInsecure:  true,
			LogMaxSizeMB:  64,
			LogMaxBackups: 3,
			LogMaxAgeDays: 7,
		},
		Bus: BusConfig{
			Enabled:        false,
			Embedded:       true,
			Port:           4222,
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
			MaxPayloadMB:   8,
		},
		Node: NodeConfig{
			ID:                "voicelab-node-1",
			Role:              "tts",
			HeartbeatInterval: 2000,
			HeartbeatTimeout:  6000,
			Capabilities: []NodeCapability{
				{Name: "tts.generate", Tier: "quality"},
			},
		},
		EventStore: EventStoreConfig{
			Path:           "./data/voicelab-history.db",
			RetentionMode:  "persistent",
			RetentionDays:  30,
			MaxGenerations: 10000,
		},
		Engine: EngineConfig{
			Mode:       "mock",
			Candidates: 1,
		},
		Voices: VoicesConfig{
			Directories: []string{"./voices"},
			CacheSize:   16,
		},
		UI: UIConfig{
			Title:         "Tortoise TTS",
			DefaultText:   "The quick brown fox jumps over the lazy dog.",
			DefaultVoice:  "random",
			DefaultPreset: "fast",
		},
	}
}

func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return cfg, fmt.Errorf("config file not found: %w", err)
			}
			return cfg, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	overrideString(&cfg.RuntimeName, "LOQA_RUNTIME_NAME")
	overrideString(&cfg.Environment, "LOQA_RUNTIME_ENVIRONMENT")
	overrideString(&cfg.HTTP.Bind, "LOQA_HTTP_BIND")
	overrideInt(&cfg.HTTP.Port, "LOQA_HTTP_PORT")
	overrideString(&cfg.Telemetry.LogLevel, "LOQA_TELEMETRY_LOG_LEVEL")
	overrideString(&cfg.Telemetry.LogFile, "LOQA_TELEMETRY_LOG_FILE")
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideBool(&cfg.Telemetry.StdoutTraces, "LOQA_TELEMETRY_STDOUT_TRACES")
	overrideBool(&cfg.Bus.Enabled, "LOQA_BUS_ENABLED")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideInt(&cfg.Bus.MaxPayloadMB, "LOQA_BUS_MAX_PAYLOAD_MB")
	overrideString(&cfg.Node.ID, "LOQA_NODE_ID")
	overrideString(&cfg.Node.Role, "LOQA_NODE_ROLE")
	overrideInt(&cfg.Node.HeartbeatInterval, "LOQA_NODE_HEARTBEAT_INTERVAL_MS")
	overrideInt(&cfg.Node.HeartbeatTimeout, "LOQA_NODE_HEARTBEAT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxGenerations, "LOQA_EVENT_STORE_MAX_GENERATIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideString(&cfg.Engine.Mode, "LOQA_ENGINE_MODE")
	overrideString(&cfg.Engine.Command, "LOQA_ENGINE_COMMAND")
	overrideInt(&cfg.Engine.TimeoutMS, "LOQA_ENGINE_TIMEOUT_MS")
	overrideInt(&cfg.Engine.Candidates, "LOQA_ENGINE_CANDIDATES")
	overrideStringSlice(&cfg.Voices.Directories, "LOQA_VOICES_DIRECTORIES")
	overrideInt(&cfg.Voices.CacheSize, "LOQA_VOICES_CACHE_SIZE")
	overrideString(&cfg.UI.Title, "LOQA_UI_TITLE")
	overrideString(&cfg.UI.DefaultText, "LOQA_UI_DEFAULT_TEXT")
	overrideString(&cfg.UI.DefaultVoice, "LOQA_UI_DEFAULT_VOICE")
	overrideString(&cfg.UI.DefaultPreset, "LOQA_UI_DEFAULT_PRESET")
}

func overrideString(target *string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok && strings.TrimSpace(value) != "" {
		*target = value
	}
}

func overrideInt(target *int, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.Atoi(value); err == nil {
			*target = parsed
		}
	}
}

func overrideBool(target *bool, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		if parsed, err := strconv.ParseBool(value); err == nil {
			*target = parsed
		}
	}
}

func overrideStringSlice(target *[]string, envKey string) {
	if value, ok := os.LookupEnv(envKey); ok {
		parts := strings.Split(value, ",")
		var trimmed []string
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				trimmed = append(trimmed, s)
			}
		}
		if len(trimmed) > 0 {
			*target = trimmed
		}
	}
}

func validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	switch strings.ToLower(cfg.Telemetry.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		return errors.New("telemetry.log_level must be one of debug|info|warn|error")
	}
	if cfg.Bus.Enabled {
		if cfg.Bus.Embedded {
			if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
				return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
			}
		} else if len(cfg.Bus.Servers) == 0 {
			return errors.New("bus.servers must not be empty when embedded mode is disabled")
		}
		if cfg.Bus.MaxPayloadMB < 1 || cfg.Bus.MaxPayloadMB > 64 {
			return errors.New("bus.max_payload_mb must be between 1 and 64")
		}
		if cfg.Node.ID == "" {
			return errors.New("node.id must not be empty")
		}
		if cfg.Node.HeartbeatInterval <= 0 {
			return errors.New("node.heartbeat_interval_ms must be positive")
		}
		if cfg.Node.HeartbeatTimeout <= cfg.Node.HeartbeatInterval {
			return errors.New("node.heartbeat_timeout_ms must be greater than heartbeat interval")
		}
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	switch cfg.Engine.Mode {
	case "mock", "exec":
	default:
		return errors.New("engine.mode must be one of mock|exec")
	}
	if cfg.Engine.Mode == "exec" && strings.TrimSpace(cfg.Engine.Command) == "" {
		return errors.New("engine.command must be set when mode=exec")
	}
	if cfg.Engine.TimeoutMS < 0 {
		return errors.New("engine.timeout_ms must be >= 0")
	}
	if cfg.Engine.Candidates < 1 {
		return errors.New("engine.candidates must be >= 1")
	}
	if cfg.Voices.CacheSize < 0 {
		return errors.New("voices.cache_size must be >= 0")
	}
	return nil
}
