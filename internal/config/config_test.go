package config

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
)

func loadYAML(t *testing.T, content string) Config {
	t.Helper()
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(strings.NewReader(content)); err != nil {
		t.Fatalf("read config: %v", err)
	}
	cfg, err := Load(v)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	return cfg
}

func TestLoadDefaults(t *testing.T) {
	cfg := loadYAML(t, "")

	if cfg.Engine != "piper" {
		t.Errorf("engine = %q", cfg.Engine)
	}
	if cfg.MaxChars != 1000 || cfg.MinChars != 200 || cfg.HardMaxChars != 1250 {
		t.Errorf("segment bounds = %d/%d/%d", cfg.MinChars, cfg.MaxChars, cfg.HardMaxChars)
	}
	if cfg.MaxRetries != 2 || cfg.BackoffBase != 500*time.Millisecond || cfg.BackoffJitter != 0.1 {
		t.Errorf("retry = %d/%s/%g", cfg.MaxRetries, cfg.BackoffBase, cfg.BackoffJitter)
	}
	if cfg.SampleRate != 22050 || cfg.Channels != 1 || cfg.Speed != 1.0 {
		t.Errorf("audio = %d/%d/%g", cfg.SampleRate, cfg.Channels, cfg.Speed)
	}
	if cfg.SilenceMS != 250 || !cfg.Normalize {
		t.Errorf("silence=%d normalize=%v", cfg.SilenceMS, cfg.Normalize)
	}
	if cfg.TargetLUFS != -23 || cfg.LRA != 7 || cfg.TruePeak != -1 {
		t.Errorf("loudness = %g/%g/%g", cfg.TargetLUFS, cfg.LRA, cfg.TruePeak)
	}
	if cfg.CacheDir == "" {
		t.Error("cache dir not defaulted")
	}
}

func TestLoadFromFileValues(t *testing.T) {
	cfg := loadYAML(t, `
engine: piper
voice: "7"
speed: 1.2
workers: 4
segment:
  max_chars: 800
  min_chars: 100
audio:
  normalize: false
  silence_ms: 300
piper:
  model: /models/en.onnx
`)

	if cfg.Voice != "7" || cfg.Speed != 1.2 || cfg.Workers != 4 {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.MaxChars != 800 || cfg.MinChars != 100 {
		t.Errorf("segment bounds = %d/%d", cfg.MinChars, cfg.MaxChars)
	}
	if cfg.Normalize || cfg.SilenceMS != 300 {
		t.Errorf("audio = normalize=%v silence=%d", cfg.Normalize, cfg.SilenceMS)
	}
	if cfg.Piper.Model != "/models/en.onnx" {
		t.Errorf("piper model = %q", cfg.Piper.Model)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("NARRO_SPEED", "1.5")
	t.Setenv("NARRO_WORKERS", "3")
	t.Setenv("NARRO_PIPER_MODEL", "/models/env.onnx")

	cfg := loadYAML(t, "speed: 1.2\nworkers: 8\n")

	if cfg.Speed != 1.5 {
		t.Errorf("speed = %g, want env override 1.5", cfg.Speed)
	}
	if cfg.Workers != 3 {
		t.Errorf("workers = %d, want env override 3", cfg.Workers)
	}
	if cfg.Piper.Model != "/models/env.onnx" {
		t.Errorf("piper model = %q", cfg.Piper.Model)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"speed too low", func(c *Config) { c.Speed = 0.05 }},
		{"speed too high", func(c *Config) { c.Speed = 4 }},
		{"no workers", func(c *Config) { c.Workers = 0 }},
		{"min over max", func(c *Config) { c.MinChars = 2000 }},
		{"hard below max", func(c *Config) { c.HardMaxChars = 500 }},
		{"negative retries", func(c *Config) { c.MaxRetries = -1 }},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }},
		{"bad channels", func(c *Config) { c.Channels = 5 }},
		{"negative silence", func(c *Config) { c.SilenceMS = -1 }},
		{"empty bitrate", func(c *Config) { c.Bitrate = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}

	if err := Default().Validate(); err != nil {
		t.Errorf("default config invalid: %v", err)
	}
}

func TestSynthesisSettings(t *testing.T) {
	cfg := Default()
	cfg.Piper.Model = "/models/en.onnx"
	cfg.Speed = 1.3

	settings := cfg.SynthesisSettings()
	if settings.ModelID != "/models/en.onnx" {
		t.Errorf("model id = %q", settings.ModelID)
	}
	if settings.MaxChars != 1000 || settings.Speed != 1.3 {
		t.Errorf("settings = %+v", settings)
	}
	if err := settings.Validate(); err != nil {
		t.Errorf("derived settings invalid: %v", err)
	}
}
