// Package config loads service configuration from an optional YAML file
// and the environment. Environment values win over the file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all service configuration.
type Config struct {
	Service       ServiceConfig       `yaml:"service"`
	Workspace     WorkspaceConfig     `yaml:"workspace"`
	Audio         AudioConfig         `yaml:"audio"`
	Pitch         PitchConfig         `yaml:"pitch"`
	Notation      NotationConfig      `yaml:"notation"`
	Render        RenderConfig        `yaml:"render"`
	Workers       WorkersConfig       `yaml:"workers"`
	Kafka         KafkaConfig         `yaml:"kafka"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServiceConfig holds service identity and listener ports.
type ServiceConfig struct {
	Principal string `yaml:"principal"`
	HTTPPort  string `yaml:"httpPort"`
	GRPCPort  string `yaml:"grpcPort"`
}

// WorkspaceConfig controls where job areas live and how long they are kept.
type WorkspaceConfig struct {
	Root          string        `yaml:"root"`
	TTL           time.Duration `yaml:"ttl"`
	SweepInterval time.Duration `yaml:"sweepInterval"`
}

// AudioConfig holds upload limits and transcoder settings.
type AudioConfig struct {
	MaxUploadBytes   int64         `yaml:"maxUploadBytes"`
	MaxInputDuration time.Duration `yaml:"maxInputDuration"`
	ProcessingCap    time.Duration `yaml:"processingCap"`
	SampleRateHz     int           `yaml:"sampleRateHz"`
	FFmpegPath       string        `yaml:"ffmpegPath"`
	FFprobePath      string        `yaml:"ffprobePath"`
	TranscodeTimeout time.Duration `yaml:"transcodeTimeout"`
}

// PitchConfig holds the pitch model invocation settings.
type PitchConfig struct {
	Provider       string        `yaml:"provider"` // basic-pitch, mock
	Command        string        `yaml:"command"`
	OnsetThreshold float64       `yaml:"onsetThreshold"`
	FrameThreshold float64       `yaml:"frameThreshold"`
	MinNoteLength  time.Duration `yaml:"minNoteLength"`
	Timeout        time.Duration `yaml:"timeout"`
}

// NotationConfig holds simplification settings, in quarter-note units.
type NotationConfig struct {
	MinNoteDuration float64 `yaml:"minNoteDuration"`
}

// RenderConfig configures the optional page renderer. An empty command disables it.
type RenderConfig struct {
	Command string `yaml:"command"`
}

// WorkersConfig bounds concurrent heavy stages.
type WorkersConfig struct {
	MaxConcurrent int `yaml:"maxConcurrent"`
}

// KafkaConfig holds Kafka publisher settings.
type KafkaConfig struct {
	Enabled   bool     `yaml:"enabled"`
	Brokers   []string `yaml:"brokers"`
	Topic     string   `yaml:"topic"`
	Principal string   `yaml:"principal"`
}

// ObservabilityConfig holds metrics and logging settings.
type ObservabilityConfig struct {
	MetricsAddr string `yaml:"metricsAddr"`
	LogLevel    string `yaml:"logLevel"`
	LogFormat   string `yaml:"logFormat"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Service: ServiceConfig{
			Principal: "svc-audio-notation",
			HTTPPort:  "8080",
			GRPCPort:  "50051",
		},
		Workspace: WorkspaceConfig{
			Root:          filepath.Join(os.TempDir(), "audio-notation"),
			TTL:           time.Hour,
			SweepInterval: 10 * time.Minute,
		},
		Audio: AudioConfig{
			MaxUploadBytes:   50 * 1024 * 1024,
			MaxInputDuration: 5 * time.Minute,
			ProcessingCap:    90 * time.Second,
			SampleRateHz:     22050,
			FFmpegPath:       "ffmpeg",
			FFprobePath:      "ffprobe",
			TranscodeTimeout: 2 * time.Minute,
		},
		Pitch: PitchConfig{
			Provider:       "basic-pitch",
			Command:        "basic-pitch",
			OnsetThreshold: 0.5,
			FrameThreshold: 0.3,
			MinNoteLength:  50 * time.Millisecond,
			Timeout:        3 * time.Minute,
		},
		Notation: NotationConfig{
			MinNoteDuration: 0.25,
		},
		Workers: WorkersConfig{
			MaxConcurrent: 2,
		},
		Kafka: KafkaConfig{
			Topic: "notation.conversion.events",
		},
		Observability: ObservabilityConfig{
			MetricsAddr: ":9090",
			LogLevel:    "info",
			LogFormat:   "json",
		},
	}
}

// Load builds the configuration: defaults, then the YAML file named by
// CONFIG_FILE (if set), then environment variables.
func Load() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Service.Principal = envOrDefault("SERVICE_PRINCIPAL", c.Service.Principal)
	c.Service.HTTPPort = envOrDefault("HTTP_PORT", c.Service.HTTPPort)
	c.Service.GRPCPort = envOrDefault("GRPC_PORT", c.Service.GRPCPort)

	c.Workspace.Root = envOrDefault("WORKSPACE_ROOT", c.Workspace.Root)
	c.Workspace.TTL = envOrDefaultDuration("WORKSPACE_TTL", c.Workspace.TTL)
	c.Workspace.SweepInterval = envOrDefaultDuration("WORKSPACE_SWEEP_INTERVAL", c.Workspace.SweepInterval)

	c.Audio.MaxUploadBytes = envOrDefaultInt64("AUDIO_MAX_UPLOAD_BYTES", c.Audio.MaxUploadBytes)
	c.Audio.MaxInputDuration = envOrDefaultDuration("AUDIO_MAX_INPUT_DURATION", c.Audio.MaxInputDuration)
	c.Audio.ProcessingCap = envOrDefaultDuration("AUDIO_PROCESSING_CAP", c.Audio.ProcessingCap)
	c.Audio.SampleRateHz = envOrDefaultInt("AUDIO_SAMPLE_RATE_HZ", c.Audio.SampleRateHz)
	c.Audio.FFmpegPath = envOrDefault("FFMPEG_PATH", c.Audio.FFmpegPath)
	c.Audio.FFprobePath = envOrDefault("FFPROBE_PATH", c.Audio.FFprobePath)
	c.Audio.TranscodeTimeout = envOrDefaultDuration("TRANSCODE_TIMEOUT", c.Audio.TranscodeTimeout)

	c.Pitch.Provider = envOrDefault("PITCH_PROVIDER", c.Pitch.Provider)
	c.Pitch.Command = envOrDefault("PITCH_COMMAND", c.Pitch.Command)
	c.Pitch.OnsetThreshold = envOrDefaultFloat("PITCH_ONSET_THRESHOLD", c.Pitch.OnsetThreshold)
	c.Pitch.FrameThreshold = envOrDefaultFloat("PITCH_FRAME_THRESHOLD", c.Pitch.FrameThreshold)
	c.Pitch.MinNoteLength = envOrDefaultDuration("PITCH_MIN_NOTE_LENGTH", c.Pitch.MinNoteLength)
	c.Pitch.Timeout = envOrDefaultDuration("PITCH_TIMEOUT", c.Pitch.Timeout)

	c.Notation.MinNoteDuration = envOrDefaultFloat("NOTATION_MIN_NOTE_DURATION", c.Notation.MinNoteDuration)
	c.Render.Command = envOrDefault("RENDER_COMMAND", c.Render.Command)
	c.Workers.MaxConcurrent = envOrDefaultInt("WORKERS_MAX_CONCURRENT", c.Workers.MaxConcurrent)

	c.Kafka.Enabled = envOrDefaultBool("KAFKA_ENABLED", c.Kafka.Enabled)
	c.Kafka.Brokers = envOrDefaultList("KAFKA_BROKERS", c.Kafka.Brokers)
	c.Kafka.Topic = envOrDefault("KAFKA_TOPIC", c.Kafka.Topic)
	c.Kafka.Principal = envOrDefault("KAFKA_PRINCIPAL", c.Kafka.Principal)
	if c.Kafka.Principal == "" {
		c.Kafka.Principal = c.Service.Principal
	}

	c.Observability.MetricsAddr = envOrDefault("METRICS_ADDR", c.Observability.MetricsAddr)
	c.Observability.LogLevel = envOrDefault("LOG_LEVEL", c.Observability.LogLevel)
	c.Observability.LogFormat = envOrDefault("LOG_FORMAT", c.Observability.LogFormat)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envOrDefaultInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func envOrDefaultFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func envOrDefaultBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func envOrDefaultDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// envOrDefaultList splits a comma-separated value, dropping empty entries.
func envOrDefaultList(key string, def []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
