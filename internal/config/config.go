// Package config loads the assistant's YAML configuration file into typed
// sections, with environment-variable overrides for the handful of
// values real deployments need to change without editing the file (the
// API key variable name, connection URLs).
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/quietsignal/voxd/internal/env"
)

// AppConfig is the top-level "app" section.
type AppConfig struct {
	Name     string `yaml:"name"`
	LogLevel string `yaml:"log_level"`
}

// AudioConfig is the "audio" section.
type AudioConfig struct {
	SampleRate          int     `yaml:"sample_rate"`
	PreRollSeconds      float64 `yaml:"pre_roll_seconds"`
	MaxUtteranceSeconds float64 `yaml:"max_utterance_seconds"`
	WakeSensitivity     float64 `yaml:"wake_sensitivity"`
	NoiseFloorCalibration bool  `yaml:"noise_floor_calibration"`
}

// STTConfig is the "stt" section.
type STTConfig struct {
	BinaryPath string   `yaml:"binary_path"`
	ModelPath  string   `yaml:"model_path"`
	ExtraArgs  []string `yaml:"extra_args"`
	Language   string   `yaml:"language"`
	ModelID    string   `yaml:"model_id"`
	CacheDir   string   `yaml:"cache_dir"`
}

// LLMConfig is the "llm" section.
type LLMConfig struct {
	Backend      string  `yaml:"backend"` // "ollama" | "openai" | "anthropic"
	URL          string  `yaml:"url"`
	APIKeyEnv    string  `yaml:"api_key_env"`
	Model        string  `yaml:"model"`
	SystemPrompt string  `yaml:"system_prompt"`
	MaxTokens    int     `yaml:"max_tokens"`
	Temperature  float64 `yaml:"temperature"`
	PoolSize     int     `yaml:"pool_size"`
	// FallbackBackend/FallbackModel name a second provider that is tried
	// once whenever the primary LLM call fails; the failure kind is not
	// checked first, so non-retryable failures fall back too.
	FallbackBackend string `yaml:"fallback_backend"`
	FallbackModel   string `yaml:"fallback_model"`
}

// TTSConfig is the "tts" section.
type TTSConfig struct {
	SynthURL   string `yaml:"synth_url"`
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
	PoolSize   int    `yaml:"pool_size"`
}

// ConversationConfig is the "conversation" section.
type ConversationConfig struct {
	MaxTurns         int `yaml:"max_turns"`
	MaxContextTokens int `yaml:"max_context_tokens"`
	IdleTimeoutSec   int `yaml:"idle_timeout_s"`
}

// PerformanceConfig is the "performance" section.
type PerformanceConfig struct {
	MaxToolIterations int `yaml:"max_tool_iterations"`
	LogIntervalSec    int `yaml:"log_interval_s"`
}

// ErrorHandlingConfig is the "error_handling" section.
type ErrorHandlingConfig struct {
	SpeakErrors bool `yaml:"speak_errors"`
}

// InlineAIConfig is the "inline_ai" section.
type InlineAIConfig struct {
	Model       string  `yaml:"model"`
	Temperature float64 `yaml:"temperature"`
}

// ToolServerConfig describes one configured MCP server.
type ToolServerConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"` // "stdio" | "http"
	Command   string            `yaml:"command"`
	Args      []string          `yaml:"args"`
	Env       map[string]string `yaml:"env"`
	Endpoint  string            `yaml:"endpoint"`
}

// ToolsConfig is the "tools" section.
type ToolsConfig struct {
	Servers []ToolServerConfig `yaml:"servers"`
}

// TraceConfig is the "trace" section.
type TraceConfig struct {
	PostgresURL string `yaml:"postgres_url"`
}

// MetricsConfig configures the optional localhost HTTP listener C15 brings
// up alongside the control protocol.
type MetricsConfig struct {
	BindAddr string `yaml:"bind_addr"` // empty disables the listener
}

// Config is the complete, parsed configuration file.
type Config struct {
	App          AppConfig           `yaml:"app"`
	Audio        AudioConfig         `yaml:"audio"`
	STT          STTConfig           `yaml:"stt"`
	LLM          LLMConfig           `yaml:"llm"`
	TTS          TTSConfig           `yaml:"tts"`
	Conversation ConversationConfig  `yaml:"conversation"`
	Performance  PerformanceConfig   `yaml:"performance"`
	ErrorHandling ErrorHandlingConfig `yaml:"error_handling"`
	InlineAI     InlineAIConfig      `yaml:"inline_ai"`
	Tools        ToolsConfig         `yaml:"tools"`
	Trace        TraceConfig         `yaml:"trace"`
	Metrics      MetricsConfig       `yaml:"metrics"`
}

// Defaults returns a Config populated with this system's baseline values,
// to be overridden by whatever the YAML file and environment specify.
func Defaults() Config {
	return Config{
		App: AppConfig{Name: "voxd", LogLevel: "info"},
		Audio: AudioConfig{
			SampleRate:          16000,
			PreRollSeconds:      0.5,
			MaxUtteranceSeconds: 30,
			WakeSensitivity:     0.5,
		},
		Conversation: ConversationConfig{MaxTurns: 20, MaxContextTokens: 4096, IdleTimeoutSec: 600},
		Performance:  PerformanceConfig{MaxToolIterations: 5, LogIntervalSec: 60},
		ErrorHandling: ErrorHandlingConfig{SpeakErrors: true},
		TTS:          TTSConfig{SampleRate: 22050, PoolSize: 10},
		LLM:          LLMConfig{PoolSize: 10, MaxTokens: 1024},
	}
}

// Load reads and parses the YAML file at path, overlaying it onto
// Defaults(), then applies environment-variable overrides for the values
// that need per-deployment overriding without editing the file.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets a small set of deployment-specific values be set
// without editing the YAML file: URLs and API key variable names.
func applyEnvOverrides(cfg *Config) {
	cfg.LLM.URL = env.Str("VOXD_LLM_URL", cfg.LLM.URL)
	cfg.LLM.APIKeyEnv = env.Str("VOXD_LLM_API_KEY_ENV", cfg.LLM.APIKeyEnv)
	cfg.TTS.SynthURL = env.Str("VOXD_TTS_SYNTH_URL", cfg.TTS.SynthURL)
	cfg.Trace.PostgresURL = env.Str("VOXD_TRACE_POSTGRES_URL", cfg.Trace.PostgresURL)
	cfg.Metrics.BindAddr = env.Str("VOXD_METRICS_BIND_ADDR", cfg.Metrics.BindAddr)
}

// Validate checks the minimal set of fields every component requires to
// construct successfully, returning the first problem found.
func (c *Config) Validate() error {
	if c.STT.BinaryPath == "" {
		return fmt.Errorf("config: stt.binary_path is required")
	}
	if c.LLM.Backend == "" {
		return fmt.Errorf("config: llm.backend is required")
	}
	if c.TTS.SynthURL == "" {
		return fmt.Errorf("config: tts.synth_url is required")
	}
	for _, s := range c.Tools.Servers {
		if s.Name == "" {
			return fmt.Errorf("config: tools.servers entry missing name")
		}
		switch s.Transport {
		case "stdio", "":
			if s.Command == "" {
				return fmt.Errorf("config: tools.servers[%s] stdio transport requires command", s.Name)
			}
		case "http":
			if s.Endpoint == "" {
				return fmt.Errorf("config: tools.servers[%s] http transport requires endpoint", s.Name)
			}
		default:
			return fmt.Errorf("config: tools.servers[%s] unknown transport %q", s.Name, s.Transport)
		}
	}
	return nil
}
