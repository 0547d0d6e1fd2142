package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Bus.Servers[0] != "nats://localhost:4222" {
		t.Fatalf("expected default server, got %v", cfg.Bus.Servers)
	}
	if cfg.Pipeline.WindowSize != 30 {
		t.Fatalf("expected window size 30, got %d", cfg.Pipeline.WindowSize)
	}
	if cfg.Pipeline.CooldownMS != 1000 {
		t.Fatalf("expected cooldown 1000ms, got %d", cfg.Pipeline.CooldownMS)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("LOQA_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("LOQA_BUS_USERNAME", "alice")
	t.Setenv("LOQA_BUS_PASSWORD", "secret")
	t.Setenv("LOQA_BUS_CONNECT_TIMEOUT_MS", "5000")
	t.Setenv("LOQA_PIPELINE_WINDOW_SIZE", "45")
	t.Setenv("LOQA_PIPELINE_COOLDOWN_MS", "250")
	t.Setenv("LOQA_PIPELINE_DEFAULT_LANGUAGE", "en")
	t.Setenv("LOQA_RECOGNITION_MODE", "http")
	t.Setenv("LOQA_RECOGNITION_ENDPOINT", "http://model:8000")
	t.Setenv("LOQA_RECOGNITION_TOKEN", "tok")
	t.Setenv("LOQA_EVENT_STORE_RETENTION_MODE", "persistent")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(cfg.Bus.Servers) != 2 {
		t.Fatalf("expected 2 servers, got %v", cfg.Bus.Servers)
	}
	if cfg.Bus.Username != "alice" || cfg.Bus.Password != "secret" {
		t.Fatalf("expected credentials override")
	}
	if cfg.Bus.ConnectTimeout != 5000 {
		t.Fatalf("expected timeout 5000, got %d", cfg.Bus.ConnectTimeout)
	}
	if cfg.Pipeline.WindowSize != 45 || cfg.Pipeline.CooldownMS != 250 {
		t.Fatalf("expected pipeline overrides, got %+v", cfg.Pipeline)
	}
	if cfg.Pipeline.DefaultLanguage != "en" {
		t.Fatalf("expected language override")
	}
	if cfg.Recognition.Mode != "http" || cfg.Recognition.Endpoint != "http://model:8000" || cfg.Recognition.Token != "tok" {
		t.Fatalf("expected recognition overrides, got %+v", cfg.Recognition)
	}
	if cfg.EventStore.RetentionMode != "persistent" {
		t.Fatalf("expected event store retention mode override")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "loqa-sign.yaml")
	data := []byte(`
runtime_name: sign-test
pipeline:
  window_size: 20
recognition:
  mode: exec
  command: "python3 model.py --fast"
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.RuntimeName != "sign-test" {
		t.Fatalf("expected runtime name from file, got %q", cfg.RuntimeName)
	}
	if cfg.Pipeline.WindowSize != 20 {
		t.Fatalf("expected window size 20, got %d", cfg.Pipeline.WindowSize)
	}
	if cfg.Pipeline.CooldownMS != 1000 {
		t.Fatalf("expected default cooldown to survive partial file, got %d", cfg.Pipeline.CooldownMS)
	}
}

func TestValidateRejectsBadRecognitionMode(t *testing.T) {
	cfg := Default()
	cfg.Recognition.Mode = "grpc"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error")
	}
	cfg = Default()
	cfg.Recognition.Mode = "exec"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for exec without command")
	}
}

func TestValidateRejectsZeroWindow(t *testing.T) {
	cfg := Default()
	cfg.Pipeline.WindowSize = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateRejectsImproveWithoutTimeout(t *testing.T) {
	cfg := Default()
	cfg.Improve.Enabled = true
	cfg.Improve.TimeoutMS = 0
	if err := Validate(cfg); err == nil {
		t.Fatal("expected validation error for improve.timeout_ms=0")
	}
	cfg.Improve.Enabled = false
	if err := Validate(cfg); err != nil {
		t.Fatalf("disabled improver should not need a timeout: %v", err)
	}
}

func TestValidateTraceExporter(t *testing.T) {
	cfg := Default()
	cfg.Telemetry.TraceExporter = "otlp"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for otlp exporter without endpoint")
	}
	cfg.Telemetry.OTLPEndpoint = "collector:4317"
	if err := Validate(cfg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cfg.Telemetry.TraceExporter = "jaeger"
	if err := Validate(cfg); err == nil {
		t.Fatal("expected error for unknown exporter")
	}
}
