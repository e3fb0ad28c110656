package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeTempConfig(t, `
stt:
  binary_path: /usr/local/bin/whisper
  model_path: /models/ggml-base.bin
llm:
  backend: ollama
  url: http://localhost:11434
tts:
  synth_url: http://localhost:5002
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Audio.SampleRate != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.Audio.SampleRate)
	}
	if cfg.STT.BinaryPath != "/usr/local/bin/whisper" {
		t.Errorf("unexpected binary path: %q", cfg.STT.BinaryPath)
	}
	if cfg.Conversation.MaxTurns != 20 {
		t.Errorf("expected default max_turns 20, got %d", cfg.Conversation.MaxTurns)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	_, err := Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoadMalformedYAMLErrors(t *testing.T) {
	path := writeTempConfig(t, "app: [this is not a map")
	_, err := Load(path)
	if err == nil {
		t.Fatal("expected error for malformed yaml")
	}
}

func TestValidateRequiresSTTBinaryPath(t *testing.T) {
	cfg := Defaults()
	cfg.LLM.Backend = "ollama"
	cfg.TTS.SynthURL = "http://localhost:5002"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for missing stt.binary_path")
	}
}

func TestValidateRejectsToolServerMissingCommand(t *testing.T) {
	cfg := Defaults()
	cfg.STT.BinaryPath = "/bin/whisper"
	cfg.LLM.Backend = "ollama"
	cfg.TTS.SynthURL = "http://localhost:5002"
	cfg.Tools.Servers = []ToolServerConfig{{Name: "macos", Transport: "stdio"}}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for stdio tool server missing command")
	}
}

func TestValidatePassesWithCompleteConfig(t *testing.T) {
	cfg := Defaults()
	cfg.STT.BinaryPath = "/bin/whisper"
	cfg.LLM.Backend = "ollama"
	cfg.TTS.SynthURL = "http://localhost:5002"
	cfg.Tools.Servers = []ToolServerConfig{{Name: "macos", Transport: "stdio", Command: "/usr/local/bin/macos-tools"}}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}

func TestEnvOverrideWinsOverFile(t *testing.T) {
	path := writeTempConfig(t, `
stt:
  binary_path: /usr/local/bin/whisper
llm:
  backend: ollama
  url: http://file-configured:11434
tts:
  synth_url: http://localhost:5002
`)
	t.Setenv("VOXD_LLM_URL", "http://env-override:11434")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LLM.URL != "http://env-override:11434" {
		t.Fatalf("expected env override to win, got %q", cfg.LLM.URL)
	}
}
