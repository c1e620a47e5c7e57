// Package config loads the daemon's YAML configuration. Missing values
// take defaults; out-of-range engine values are clamped by the engine
// components rather than rejected here.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/voicewire/duplex-go/pkg/lang"
	"github.com/voicewire/duplex-go/pkg/session"
)

// Config is the full daemon configuration.
type Config struct {
	Log      LogConfig      `yaml:"log"`
	Upstream UpstreamConfig `yaml:"upstream"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Engine   EngineConfig   `yaml:"engine"`
}

// LogConfig controls structured logging output.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// UpstreamConfig points at the remote speech/LLM service.
type UpstreamConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`
}

// OpenAIConfig configures Whisper transcription of speech bursts. An
// empty key disables transcription; classification then runs on timing
// alone.
type OpenAIConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// EngineConfig is the recognized engine tuning surface.
type EngineConfig struct {
	SpeechThreshold        float64 `yaml:"speech_threshold"`
	MinSpeechDurationMs    int     `yaml:"min_speech_duration_ms"`
	MinSilenceDurationMs   int     `yaml:"min_silence_duration_ms"`
	InterruptionDebounceMs int     `yaml:"interruption_debounce_ms"`
	FadeOutDurationMs      int     `yaml:"fade_out_duration_ms"`
	PauseThresholdMs       int     `yaml:"pause_threshold_ms"`
	SilenceThresholdMs     int     `yaml:"silence_threshold_ms"`
	NoiseThresholdRatio    float64 `yaml:"noise_threshold_ratio"`
	Language               string  `yaml:"language"`
	SileroModelPath        string  `yaml:"silero_model_path"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Engine: EngineConfig{
			SpeechThreshold:        0.015,
			MinSpeechDurationMs:    300,
			MinSilenceDurationMs:   500,
			InterruptionDebounceMs: 200,
			FadeOutDurationMs:      180,
			PauseThresholdMs:       2000,
			SilenceThresholdMs:     3000,
			NoiseThresholdRatio:    0.7,
			Language:               "en",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is
// not an error; the defaults apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Defaults stand; secrets may still arrive via environment.
		case err != nil:
			return nil, fmt.Errorf("read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	// Environment variables override file-provided secrets. This applies
	// on every successful path, file or no file.
	if v := os.Getenv("DUPLEX_UPSTREAM_API_KEY"); v != "" {
		cfg.Upstream.APIKey = v
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		cfg.OpenAI.APIKey = v
	}
	return cfg, nil
}

// SessionConfig converts the engine tuning surface into session options.
func (c *Config) SessionConfig() session.Config {
	e := c.Engine
	return session.Config{
		SpeechThreshold:      e.SpeechThreshold,
		MinSpeechDuration:    time.Duration(e.MinSpeechDurationMs) * time.Millisecond,
		MinSilenceDuration:   time.Duration(e.MinSilenceDurationMs) * time.Millisecond,
		InterruptionDebounce: time.Duration(e.InterruptionDebounceMs) * time.Millisecond,
		FadeOutDuration:      time.Duration(e.FadeOutDurationMs) * time.Millisecond,
		PauseThreshold:       time.Duration(e.PauseThresholdMs) * time.Millisecond,
		SilenceThreshold:     time.Duration(e.SilenceThresholdMs) * time.Millisecond,
		NoiseRatio:           e.NoiseThresholdRatio,
		Language:             lang.Parse(e.Language),
	}
}
