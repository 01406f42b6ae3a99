// Package config resolves the pipeline configuration from a narro.yml
// config file, NARRO_-prefixed environment variables, and built-in
// defaults, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
	gap "github.com/muesli/go-app-paths"
	"github.com/spf13/viper"

	"github.com/narroapp/narro/internal/audio"
	"github.com/narroapp/narro/internal/tts"
)

const envPrefix = "NARRO_"

// Piper configures the piper subprocess engine.
type Piper struct {
	Binary string `env:"BINARY"`
	Model  string `env:"MODEL"`
	Config string `env:"CONFIG"`
}

// Config is the resolved pipeline configuration.
type Config struct {
	Engine    string  `env:"ENGINE"`
	Voice     string  `env:"VOICE"`
	Speed     float64 `env:"SPEED"`
	LangCode  string  `env:"LANG_CODE"`
	Workers   int     `env:"WORKERS"`
	CacheDir  string  `env:"CACHE_DIR"`
	OutputDir string  `env:"OUTPUT_DIR"`

	MaxChars      int           `env:"MAX_CHARS"`
	MinChars      int           `env:"MIN_CHARS"`
	HardMaxChars  int           `env:"HARD_MAX_CHARS"`
	MaxRetries    int           `env:"MAX_RETRIES"`
	BackoffBase   time.Duration `env:"BACKOFF_BASE"`
	BackoffJitter float64       `env:"BACKOFF_JITTER"`

	SampleRate int `env:"SAMPLE_RATE"`
	Channels   int `env:"CHANNELS"`
	SilenceMS  int `env:"SILENCE_MS"`

	Normalize  bool    `env:"NORMALIZE"`
	TargetLUFS float64 `env:"LUFS"`
	LRA        float64 `env:"LRA"`
	TruePeak   float64 `env:"TRUE_PEAK"`

	Bitrate    string `env:"BITRATE"`
	FFmpegPath string `env:"FFMPEG"`

	Piper Piper `envPrefix:"PIPER_"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Engine:        "piper",
		Speed:         1.0,
		Workers:       2,
		MaxChars:      1000,
		MinChars:      200,
		HardMaxChars:  1250,
		MaxRetries:    2,
		BackoffBase:   500 * time.Millisecond,
		BackoffJitter: 0.1,
		SampleRate:    22050,
		Channels:      1,
		SilenceMS:     250,
		Normalize:     true,
		TargetLUFS:    -23,
		LRA:           7,
		TruePeak:      -1,
		Bitrate:       "128k",
		Piper:         Piper{Binary: "piper"},
	}
}

// SetDefaults registers every key on v so unset config files resolve to
// the built-in values.
func SetDefaults(v *viper.Viper) {
	d := Default()
	v.SetDefault("engine", d.Engine)
	v.SetDefault("voice", d.Voice)
	v.SetDefault("speed", d.Speed)
	v.SetDefault("lang_code", d.LangCode)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("cache_dir", d.CacheDir)
	v.SetDefault("output_dir", d.OutputDir)
	v.SetDefault("segment.max_chars", d.MaxChars)
	v.SetDefault("segment.min_chars", d.MinChars)
	v.SetDefault("segment.hard_max_chars", d.HardMaxChars)
	v.SetDefault("retry.max_retries", d.MaxRetries)
	v.SetDefault("retry.backoff_base", d.BackoffBase)
	v.SetDefault("retry.backoff_jitter", d.BackoffJitter)
	v.SetDefault("audio.sample_rate", d.SampleRate)
	v.SetDefault("audio.channels", d.Channels)
	v.SetDefault("audio.silence_ms", d.SilenceMS)
	v.SetDefault("audio.normalize", d.Normalize)
	v.SetDefault("audio.lufs", d.TargetLUFS)
	v.SetDefault("audio.lra", d.LRA)
	v.SetDefault("audio.true_peak", d.TruePeak)
	v.SetDefault("package.bitrate", d.Bitrate)
	v.SetDefault("ffmpeg.path", d.FFmpegPath)
	v.SetDefault("piper.binary", d.Piper.Binary)
	v.SetDefault("piper.model", d.Piper.Model)
	v.SetDefault("piper.config", d.Piper.Config)
}

// Load resolves the configuration from v, then applies NARRO_ environment
// overrides. The cache directory falls back to the user cache dir when
// neither source sets it.
func Load(v *viper.Viper) (Config, error) {
	SetDefaults(v)

	cfg := Config{
		Engine:        v.GetString("engine"),
		Voice:         v.GetString("voice"),
		Speed:         v.GetFloat64("speed"),
		LangCode:      v.GetString("lang_code"),
		Workers:       v.GetInt("workers"),
		CacheDir:      v.GetString("cache_dir"),
		OutputDir:     v.GetString("output_dir"),
		MaxChars:      v.GetInt("segment.max_chars"),
		MinChars:      v.GetInt("segment.min_chars"),
		HardMaxChars:  v.GetInt("segment.hard_max_chars"),
		MaxRetries:    v.GetInt("retry.max_retries"),
		BackoffBase:   v.GetDuration("retry.backoff_base"),
		BackoffJitter: v.GetFloat64("retry.backoff_jitter"),
		SampleRate:    v.GetInt("audio.sample_rate"),
		Channels:      v.GetInt("audio.channels"),
		SilenceMS:     v.GetInt("audio.silence_ms"),
		Normalize:     v.GetBool("audio.normalize"),
		TargetLUFS:    v.GetFloat64("audio.lufs"),
		LRA:           v.GetFloat64("audio.lra"),
		TruePeak:      v.GetFloat64("audio.true_peak"),
		Bitrate:       v.GetString("package.bitrate"),
		FFmpegPath:    v.GetString("ffmpeg.path"),
		Piper: Piper{
			Binary: v.GetString("piper.binary"),
			Model:  v.GetString("piper.model"),
			Config: v.GetString("piper.config"),
		},
	}

	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: envPrefix}); err != nil {
		return Config{}, fmt.Errorf("parse environment: %w", err)
	}

	if cfg.CacheDir == "" {
		cfg.CacheDir = DefaultCacheDir()
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultCacheDir returns the per-user cache directory for narro.
func DefaultCacheDir() string {
	scope := gap.NewScope(gap.User, "narro")
	if dir, err := scope.CacheDir(); err == nil && dir != "" {
		return dir
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "narro")
	}
	return ".narro-cache"
}

// Validate checks the cross-field constraints.
func (c Config) Validate() error {
	if c.Speed < 0.1 || c.Speed > 3.0 {
		return fmt.Errorf("speed must be between 0.1 and 3.0, got %.2f", c.Speed)
	}
	if c.Workers < 1 {
		return errors.New("workers must be at least 1")
	}
	if c.MaxChars <= 0 || c.MinChars < 0 || c.MinChars > c.MaxChars {
		return fmt.Errorf("segment bounds invalid: min=%d max=%d", c.MinChars, c.MaxChars)
	}
	if c.HardMaxChars != 0 && c.HardMaxChars < c.MaxChars {
		return fmt.Errorf("hard max chars %d below max chars %d", c.HardMaxChars, c.MaxChars)
	}
	if c.MaxRetries < 0 {
		return errors.New("max retries cannot be negative")
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("channels must be 1 or 2, got %d", c.Channels)
	}
	if c.SilenceMS < 0 {
		return errors.New("silence duration cannot be negative")
	}
	if c.Bitrate == "" {
		return errors.New("bitrate cannot be empty")
	}
	return nil
}

// SynthesisSettings converts the configuration into the per-run synthesis
// settings. The piper model path doubles as the cache model id, so a model
// change invalidates cached chunks.
func (c Config) SynthesisSettings() tts.SynthesisSettings {
	return tts.SynthesisSettings{
		ModelID:       c.Piper.Model,
		MaxChars:      c.MaxChars,
		MinChars:      c.MinChars,
		HardMaxChars:  c.HardMaxChars,
		MaxRetries:    c.MaxRetries,
		BackoffBase:   c.BackoffBase,
		BackoffJitter: c.BackoffJitter,
		SampleRate:    c.SampleRate,
		Channels:      c.Channels,
		Speed:         c.Speed,
		LangCode:      c.LangCode,
	}
}

// Loudness returns the loudnorm targets.
func (c Config) Loudness() audio.LoudnessConfig {
	return audio.LoudnessConfig{TargetLUFS: c.TargetLUFS, LRA: c.LRA, TruePeak: c.TruePeak}
}
