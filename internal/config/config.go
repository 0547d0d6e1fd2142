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
	LogLevel       string `yaml:"log_level"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	OTLPInsecure   bool   `yaml:"otlp_insecure"`
	PrometheusBind string `yaml:"prometheus_bind"`
	// TraceExporter is otlp, stdout or none. Empty picks otlp when an
	// endpoint is set and none otherwise.
	TraceExporter string `yaml:"trace_exporter"`
}

type HTTPConfig struct {
	Bind string `yaml:"bind"`
	Port int    `yaml:"port"`
}

type Config struct {
	RuntimeName string            `yaml:"runtime_name"`
	Environment string            `yaml:"environment"`
	HTTP        HTTPConfig        `yaml:"http"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	Bus         BusConfig         `yaml:"bus"`
	EventStore  EventStoreConfig  `yaml:"event_store"`
	Pipeline    PipelineConfig    `yaml:"pipeline"`
	Recognition RecognitionConfig `yaml:"recognition"`
	Improve     ImproveConfig     `yaml:"improve"`
	Ingress     IngressConfig     `yaml:"ingress"`
}

type BusConfig struct {
	Embedded       bool     `yaml:"embedded"`
	Port           int      `yaml:"port"`
	StoreDir       string   `yaml:"store_dir"`
	Servers        []string `yaml:"servers"`
	Username       string   `yaml:"username"`
	Password       string   `yaml:"password"`
	Token          string   `yaml:"token"`
	TLSInsecure    bool     `yaml:"tls_insecure"`
	ConnectTimeout int      `yaml:"connect_timeout_ms"`
}

type EventStoreConfig struct {
	Path          string `yaml:"path"`
	RetentionMode string `yaml:"retention_mode"`
	RetentionDays int    `yaml:"retention_days"`
	MaxSessions   int    `yaml:"max_sessions"`
	VacuumOnStart bool   `yaml:"vacuum_on_start"`
}

// PipelineConfig tunes the per-session windowing pipeline.
type PipelineConfig struct {
	WindowSize      int    `yaml:"window_size"`
	CooldownMS      int    `yaml:"cooldown_ms"`
	DefaultLanguage string `yaml:"default_language"`
	MaxSessions     int    `yaml:"max_sessions"`
}

type RecognitionConfig struct {
	Mode      string `yaml:"mode"` // mock, http, exec
	Endpoint  string `yaml:"endpoint"`
	Token     string `yaml:"token"`
	Command   string `yaml:"command"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type ImproveConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Mode      string `yaml:"mode"` // mock, ollama
	Endpoint  string `yaml:"endpoint"`
	Model     string `yaml:"model"`
	TimeoutMS int    `yaml:"timeout_ms"`
}

type IngressConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Path            string `yaml:"path"`
	MaxMessageBytes int64  `yaml:"max_message_bytes"`
}

func Default() Config {
	return Config{
		RuntimeName: "loqa-sign",
		Environment: "development",
		HTTP: HTTPConfig{
			Bind: "0.0.0.0",
			Port: 8080,
		},
		Telemetry: TelemetryConfig{
			LogLevel:       "info",
			OTLPEndpoint:   "",
			OTLPInsecure:   true,
			PrometheusBind: ":9091",
		},
		Bus: BusConfig{
			Embedded:       true,
			Port:           4222,
			StoreDir:       "./data/nats",
			Servers:        []string{"nats://localhost:4222"},
			ConnectTimeout: 2000,
		},
		EventStore: EventStoreConfig{
			Path:          "./data/loqa-sign-events.db",
			RetentionMode: "session",
			RetentionDays: 30,
			MaxSessions:   10000,
		},
		Pipeline: PipelineConfig{
			WindowSize:      30,
			CooldownMS:      1000,
			DefaultLanguage: "es",
			MaxSessions:     256,
		},
		Recognition: RecognitionConfig{
			Mode:      "mock",
			Endpoint:  "http://localhost:8000",
			TimeoutMS: 10000,
		},
		Improve: ImproveConfig{
			Enabled:   false,
			Mode:      "mock",
			Endpoint:  "http://localhost:11434",
			Model:     "llama3.2:latest",
			TimeoutMS: 30000,
		},
		Ingress: IngressConfig{
			Enabled:         true,
			Path:            "/v1/stream",
			MaxMessageBytes: 512 * 1024,
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
	if err := Validate(cfg); err != nil {
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
	overrideString(&cfg.Telemetry.OTLPEndpoint, "LOQA_TELEMETRY_OTLP_ENDPOINT")
	overrideBool(&cfg.Telemetry.OTLPInsecure, "LOQA_TELEMETRY_OTLP_INSECURE")
	overrideString(&cfg.Telemetry.PrometheusBind, "LOQA_TELEMETRY_PROMETHEUS_BIND")
	overrideString(&cfg.Telemetry.TraceExporter, "LOQA_TELEMETRY_TRACE_EXPORTER")
	overrideBool(&cfg.Bus.Embedded, "LOQA_BUS_EMBEDDED")
	overrideInt(&cfg.Bus.Port, "LOQA_BUS_PORT")
	overrideString(&cfg.Bus.StoreDir, "LOQA_BUS_STORE_DIR")
	overrideStringSlice(&cfg.Bus.Servers, "LOQA_BUS_SERVERS")
	overrideString(&cfg.Bus.Username, "LOQA_BUS_USERNAME")
	overrideString(&cfg.Bus.Password, "LOQA_BUS_PASSWORD")
	overrideString(&cfg.Bus.Token, "LOQA_BUS_TOKEN")
	overrideBool(&cfg.Bus.TLSInsecure, "LOQA_BUS_TLS_INSECURE")
	overrideInt(&cfg.Bus.ConnectTimeout, "LOQA_BUS_CONNECT_TIMEOUT_MS")
	overrideString(&cfg.EventStore.Path, "LOQA_EVENT_STORE_PATH")
	overrideString(&cfg.EventStore.RetentionMode, "LOQA_EVENT_STORE_RETENTION_MODE")
	overrideInt(&cfg.EventStore.RetentionDays, "LOQA_EVENT_STORE_RETENTION_DAYS")
	overrideInt(&cfg.EventStore.MaxSessions, "LOQA_EVENT_STORE_MAX_SESSIONS")
	overrideBool(&cfg.EventStore.VacuumOnStart, "LOQA_EVENT_STORE_VACUUM_ON_START")
	overrideInt(&cfg.Pipeline.WindowSize, "LOQA_PIPELINE_WINDOW_SIZE")
	overrideInt(&cfg.Pipeline.CooldownMS, "LOQA_PIPELINE_COOLDOWN_MS")
	overrideString(&cfg.Pipeline.DefaultLanguage, "LOQA_PIPELINE_DEFAULT_LANGUAGE")
	overrideInt(&cfg.Pipeline.MaxSessions, "LOQA_PIPELINE_MAX_SESSIONS")
	overrideString(&cfg.Recognition.Mode, "LOQA_RECOGNITION_MODE")
	overrideString(&cfg.Recognition.Endpoint, "LOQA_RECOGNITION_ENDPOINT")
	overrideString(&cfg.Recognition.Token, "LOQA_RECOGNITION_TOKEN")
	overrideString(&cfg.Recognition.Command, "LOQA_RECOGNITION_COMMAND")
	overrideInt(&cfg.Recognition.TimeoutMS, "LOQA_RECOGNITION_TIMEOUT_MS")
	overrideBool(&cfg.Improve.Enabled, "LOQA_IMPROVE_ENABLED")
	overrideString(&cfg.Improve.Mode, "LOQA_IMPROVE_MODE")
	overrideString(&cfg.Improve.Endpoint, "LOQA_IMPROVE_ENDPOINT")
	overrideString(&cfg.Improve.Model, "LOQA_IMPROVE_MODEL")
	overrideInt(&cfg.Improve.TimeoutMS, "LOQA_IMPROVE_TIMEOUT_MS")
	overrideBool(&cfg.Ingress.Enabled, "LOQA_INGRESS_ENABLED")
	overrideString(&cfg.Ingress.Path, "LOQA_INGRESS_PATH")
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

// Validate reports the first inconsistency found in cfg.
func Validate(cfg Config) error {
	if cfg.RuntimeName == "" {
		return errors.New("runtime_name must not be empty")
	}
	if cfg.HTTP.Port <= 0 || cfg.HTTP.Port > 65535 {
		return errors.New("http.port must be between 1 and 65535")
	}
	if cfg.Bus.Embedded {
		if cfg.Bus.Port <= 0 || cfg.Bus.Port > 65535 {
			return errors.New("bus.port must be between 1 and 65535 when embedded mode is enabled")
		}
	} else if len(cfg.Bus.Servers) == 0 {
		return errors.New("bus.servers must not be empty when embedded mode is disabled")
	}
	if cfg.EventStore.Path == "" && cfg.EventStore.RetentionMode != "ephemeral" {
		return errors.New("event_store.path must not be empty")
	}
	switch cfg.EventStore.RetentionMode {
	case "ephemeral", "session", "persistent":
	default:
		return errors.New("event_store.retention_mode must be one of ephemeral|session|persistent")
	}
	if cfg.EventStore.RetentionDays < 0 {
		return errors.New("event_store.retention_days must be >= 0")
	}
	if cfg.Telemetry.PrometheusBind == "" {
		return errors.New("telemetry.prometheus_bind must not be empty")
	}
	switch cfg.Telemetry.TraceExporter {
	case "", "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			return errors.New("telemetry.otlp_endpoint must be set when trace_exporter=otlp")
		}
	default:
		return errors.New("telemetry.trace_exporter must be one of otlp|stdout|none")
	}
	if cfg.Pipeline.WindowSize <= 0 {
		return errors.New("pipeline.window_size must be positive")
	}
	if cfg.Pipeline.CooldownMS < 0 {
		return errors.New("pipeline.cooldown_ms must be >= 0")
	}
	switch cfg.Pipeline.DefaultLanguage {
	case "es", "en":
	default:
		return errors.New("pipeline.default_language must be one of es|en")
	}
	if cfg.Pipeline.MaxSessions <= 0 {
		return errors.New("pipeline.max_sessions must be >= 1")
	}
	switch cfg.Recognition.Mode {
	case "mock":
	case "http":
		if cfg.Recognition.Endpoint == "" {
			return errors.New("recognition.endpoint must be set when mode=http")
		}
	case "exec":
		if cfg.Recognition.Command == "" {
			return errors.New("recognition.command must be set when mode=exec")
		}
	default:
		return errors.New("recognition.mode must be one of mock|http|exec")
	}
	if cfg.Recognition.TimeoutMS <= 0 {
		return errors.New("recognition.timeout_ms must be positive")
	}
	if cfg.Improve.Enabled {
		switch cfg.Improve.Mode {
		case "mock", "ollama":
		default:
			return errors.New("improve.mode must be one of mock|ollama")
		}
		if cfg.Improve.Mode == "ollama" && cfg.Improve.Endpoint == "" {
			return errors.New("improve.endpoint must be set when mode=ollama")
		}
		if cfg.Improve.TimeoutMS <= 0 {
			return errors.New("improve.timeout_ms must be positive when improve is enabled")
		}
	}
	if cfg.Ingress.Enabled && !strings.HasPrefix(cfg.Ingress.Path, "/") {
		return errors.New("ingress.path must start with /")
	}
	return nil
}
