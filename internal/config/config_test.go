package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/voicewire/duplex-go/pkg/lang"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.InterruptionDebounceMs != 200 {
		t.Errorf("debounce default = %d, want 200", cfg.Engine.InterruptionDebounceMs)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("log level default = %q, want info", cfg.Log.Level)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "duplex.yaml")
	data := []byte(`
log:
  level: debug
engine:
  fade_out_duration_ms: 300
  language: hi
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("log level = %q, want debug", cfg.Log.Level)
	}
	if cfg.Engine.FadeOutDurationMs != 300 {
		t.Errorf("fade = %d, want 300", cfg.Engine.FadeOutDurationMs)
	}
	// Untouched values keep their defaults.
	if cfg.Engine.PauseThresholdMs != 2000 {
		t.Errorf("pause threshold = %d, want default 2000", cfg.Engine.PauseThresholdMs)
	}

	sc := cfg.SessionConfig()
	if sc.FadeOutDuration != 300*time.Millisecond {
		t.Errorf("session fade = %v, want 300ms", sc.FadeOutDuration)
	}
	if sc.Language != lang.Hindi {
		t.Errorf("session language = %v, want hi", sc.Language)
	}
}

func TestEnvSecretsApplyWithoutConfigFile(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")
	t.Setenv("DUPLEX_UPSTREAM_API_KEY", "upstream-from-env")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("openai key = %q, want env value", cfg.OpenAI.APIKey)
	}
	if cfg.Upstream.APIKey != "upstream-from-env" {
		t.Errorf("upstream key = %q, want env value", cfg.Upstream.APIKey)
	}

	cfg, err = Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("openai key with empty path = %q, want env value", cfg.OpenAI.APIKey)
	}
}

func TestEnvSecretsOverrideFileValues(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	path := filepath.Join(t.TempDir(), "duplex.yaml")
	data := []byte("openai:\n  api_key: sk-from-file\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.OpenAI.APIKey != "sk-from-env" {
		t.Errorf("openai key = %q, want env to win over file", cfg.OpenAI.APIKey)
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("engine: ["), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed config did not error")
	}
}
