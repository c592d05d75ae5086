package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

var allKeys = []string{
	"CONFIG_FILE", "SERVICE_PRINCIPAL", "HTTP_PORT", "GRPC_PORT",
	"WORKSPACE_ROOT", "WORKSPACE_TTL", "WORKSPACE_SWEEP_INTERVAL",
	"AUDIO_MAX_UPLOAD_BYTES", "AUDIO_MAX_INPUT_DURATION", "AUDIO_PROCESSING_CAP",
	"AUDIO_SAMPLE_RATE_HZ", "FFMPEG_PATH", "FFPROBE_PATH", "TRANSCODE_TIMEOUT",
	"PITCH_PROVIDER", "PITCH_COMMAND", "PITCH_ONSET_THRESHOLD", "PITCH_FRAME_THRESHOLD",
	"PITCH_MIN_NOTE_LENGTH", "PITCH_TIMEOUT", "NOTATION_MIN_NOTE_DURATION",
	"RENDER_COMMAND", "WORKERS_MAX_CONCURRENT",
	"KAFKA_ENABLED", "KAFKA_BROKERS", "KAFKA_TOPIC", "KAFKA_PRINCIPAL",
	"METRICS_ADDR", "LOG_LEVEL", "LOG_FORMAT",
}

// clearEnv blanks every key; empty values are treated as unset.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range allKeys {
		t.Setenv(k, "")
	}
}

func mustLoad(t *testing.T) *Config {
	t.Helper()
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg := mustLoad(t)

	// Service defaults
	if cfg.Service.Principal != "svc-audio-notation" {
		t.Errorf("expected default principal 'svc-audio-notation', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "50051" {
		t.Errorf("expected default port '50051', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Service.HTTPPort != "8080" {
		t.Errorf("expected default HTTP port '8080', got %s", cfg.Service.HTTPPort)
	}

	// Workspace defaults
	if cfg.Workspace.TTL != time.Hour {
		t.Errorf("expected default TTL 1h, got %v", cfg.Workspace.TTL)
	}
	if cfg.Workspace.Root != filepath.Join(os.TempDir(), "audio-notation") {
		t.Errorf("expected workspace root under temp dir, got %s", cfg.Workspace.Root)
	}

	// Audio defaults
	if cfg.Audio.MaxUploadBytes != 50*1024*1024 {
		t.Errorf("expected default max upload 50MB, got %d", cfg.Audio.MaxUploadBytes)
	}
	if cfg.Audio.MaxInputDuration != 5*time.Minute {
		t.Errorf("expected default max input duration 5m, got %v", cfg.Audio.MaxInputDuration)
	}
	if cfg.Audio.ProcessingCap != 90*time.Second {
		t.Errorf("expected default processing cap 90s, got %v", cfg.Audio.ProcessingCap)
	}
	if cfg.Audio.SampleRateHz != 22050 {
		t.Errorf("expected default sample rate 22050, got %d", cfg.Audio.SampleRateHz)
	}

	// Pitch defaults
	if cfg.Pitch.Provider != "basic-pitch" {
		t.Errorf("expected default pitch provider 'basic-pitch', got %s", cfg.Pitch.Provider)
	}
	if cfg.Pitch.OnsetThreshold != 0.5 || cfg.Pitch.FrameThreshold != 0.3 {
		t.Errorf("expected thresholds 0.5/0.3, got %v/%v", cfg.Pitch.OnsetThreshold, cfg.Pitch.FrameThreshold)
	}
	if cfg.Pitch.MinNoteLength != 50*time.Millisecond {
		t.Errorf("expected min note length 50ms, got %v", cfg.Pitch.MinNoteLength)
	}

	if cfg.Notation.MinNoteDuration != 0.25 {
		t.Errorf("expected min note duration 0.25, got %v", cfg.Notation.MinNoteDuration)
	}
	if cfg.Render.Command != "" {
		t.Errorf("expected renderer disabled by default, got %q", cfg.Render.Command)
	}
	if cfg.Kafka.Enabled {
		t.Error("expected Kafka disabled by default")
	}

	// Observability defaults
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "custom-principal")
	t.Setenv("GRPC_PORT", "9999")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("WORKSPACE_TTL", "30m")
	t.Setenv("AUDIO_MAX_UPLOAD_BYTES", "10485760")
	t.Setenv("AUDIO_SAMPLE_RATE_HZ", "16000")
	t.Setenv("PITCH_ONSET_THRESHOLD", "0.6")
	t.Setenv("WORKERS_MAX_CONCURRENT", "4")
	t.Setenv("KAFKA_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")

	cfg := mustLoad(t)

	if cfg.Service.Principal != "custom-principal" {
		t.Errorf("expected principal 'custom-principal', got %s", cfg.Service.Principal)
	}
	if cfg.Service.GRPCPort != "9999" {
		t.Errorf("expected port '9999', got %s", cfg.Service.GRPCPort)
	}
	if cfg.Workspace.TTL != 30*time.Minute {
		t.Errorf("expected TTL 30m, got %v", cfg.Workspace.TTL)
	}
	if cfg.Audio.MaxUploadBytes != 10485760 {
		t.Errorf("expected max upload 10485760, got %d", cfg.Audio.MaxUploadBytes)
	}
	if cfg.Audio.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Pitch.OnsetThreshold != 0.6 {
		t.Errorf("expected onset threshold 0.6, got %v", cfg.Pitch.OnsetThreshold)
	}
	if cfg.Workers.MaxConcurrent != 4 {
		t.Errorf("expected 4 workers, got %d", cfg.Workers.MaxConcurrent)
	}
	if !cfg.Kafka.Enabled {
		t.Error("expected Kafka enabled")
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("expected two trimmed brokers, got %v", cfg.Kafka.Brokers)
	}
	if cfg.Observability.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %s", cfg.Observability.LogLevel)
	}
}

func TestLoad_InvalidValues_FallbackToDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("AUDIO_SAMPLE_RATE_HZ", "not-a-number")
	t.Setenv("KAFKA_ENABLED", "invalid")
	t.Setenv("AUDIO_MAX_UPLOAD_BYTES", "invalid")
	t.Setenv("WORKSPACE_TTL", "invalid")
	t.Setenv("PITCH_FRAME_THRESHOLD", "invalid")

	cfg := mustLoad(t)

	// Should fall back to defaults on parse errors
	if cfg.Audio.SampleRateHz != 22050 {
		t.Errorf("expected default sample rate on invalid input, got %d", cfg.Audio.SampleRateHz)
	}
	if cfg.Kafka.Enabled {
		t.Errorf("expected default Kafka enabled on invalid input, got %v", cfg.Kafka.Enabled)
	}
	if cfg.Audio.MaxUploadBytes != 50*1024*1024 {
		t.Errorf("expected default max upload on invalid input, got %d", cfg.Audio.MaxUploadBytes)
	}
	if cfg.Workspace.TTL != time.Hour {
		t.Errorf("expected default TTL on invalid input, got %v", cfg.Workspace.TTL)
	}
	if cfg.Pitch.FrameThreshold != 0.3 {
		t.Errorf("expected default frame threshold on invalid input, got %v", cfg.Pitch.FrameThreshold)
	}
}

func TestLoad_KafkaPrincipal_FallsBackToServicePrincipal(t *testing.T) {
	clearEnv(t)
	t.Setenv("SERVICE_PRINCIPAL", "my-service")

	cfg := mustLoad(t)

	if cfg.Kafka.Principal != "my-service" {
		t.Errorf("expected Kafka principal to fall back to service principal, got %s", cfg.Kafka.Principal)
	}
}

func TestLoad_FileOverlay_EnvWins(t *testing.T) {
	clearEnv(t)

	path := filepath.Join(t.TempDir(), "config.yaml")
	content := []byte(`
service:
  grpcPort: "6000"
workspace:
  ttl: 15m
pitch:
  command: /opt/model/basic-pitch
kafka:
  brokers: [broker-a:9092]
`)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("GRPC_PORT", "7000")

	cfg := mustLoad(t)

	if cfg.Service.GRPCPort != "7000" {
		t.Errorf("expected env to override file port, got %s", cfg.Service.GRPCPort)
	}
	if cfg.Workspace.TTL != 15*time.Minute {
		t.Errorf("expected TTL 15m from file, got %v", cfg.Workspace.TTL)
	}
	if cfg.Pitch.Command != "/opt/model/basic-pitch" {
		t.Errorf("expected pitch command from file, got %s", cfg.Pitch.Command)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "broker-a:9092" {
		t.Errorf("expected brokers from file, got %v", cfg.Kafka.Brokers)
	}
	// Untouched sections keep their defaults.
	if cfg.Audio.SampleRateHz != 22050 {
		t.Errorf("expected default sample rate, got %d", cfg.Audio.SampleRateHz)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "absent.yaml"))

	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestEnvOrDefaultBool(t *testing.T) {
	tests := []struct {
		name     string
		envValue string
		def      bool
		expected bool
	}{
		{"true string", "true", false, true},
		{"false string", "false", true, false},
		{"1", "1", false, true},
		{"0", "0", true, false},
		{"TRUE uppercase", "TRUE", false, true},
		{"invalid", "invalid", true, true},
		{"empty", "", true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := "TEST_BOOL_VAR"
			t.Setenv(key, tt.envValue)

			got := envOrDefaultBool(key, tt.def)
			if got != tt.expected {
				t.Errorf("envOrDefaultBool(%s, %v) = %v, want %v", tt.envValue, tt.def, got, tt.expected)
			}
		})
	}
}
