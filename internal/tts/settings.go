package tts

import (
	"errors"
	"time"
)

// ErrInvalidCharBounds indicates the segmentation bounds in a
// SynthesisSettings value are inconsistent.
var ErrInvalidCharBounds = errors.New("tts: require 0 <= min chars <= max chars <= hard max chars")

// SynthesisSettings is the immutable per-run synthesis configuration,
// constructed once from config and shared read-only across all chapters
// and chunks. Use the With helpers to derive variants.
type SynthesisSettings struct {
	ModelID       string
	MaxChars      int
	MinChars      int
	HardMaxChars  int // zero means MaxChars * 5/4
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffJitter float64
	SampleRate    int
	Channels      int
	Speed         float64
	LangCode      string
	RefAudio      string
	RefText       string
	RefAudioID    string
}

// Validate checks the min <= max <= hard-max invariant.
func (s SynthesisSettings) Validate() error {
	if s.MaxChars <= 0 || s.MinChars < 0 || s.MinChars > s.MaxChars {
		return ErrInvalidCharBounds
	}
	if s.HardMaxChars != 0 && s.HardMaxChars < s.MaxChars {
		return ErrInvalidCharBounds
	}
	return nil
}

// EffectiveHardMax resolves the hard bound, defaulting to MaxChars * 5/4.
func (s SynthesisSettings) EffectiveHardMax() int {
	if s.HardMaxChars == 0 {
		return s.MaxChars * 5 / 4
	}
	return s.HardMaxChars
}

// WithSpeed returns a copy with the playback speed replaced.
func (s SynthesisSettings) WithSpeed(speed float64) SynthesisSettings {
	s.Speed = speed
	return s
}

// WithLangCode returns a copy with the language code replaced.
func (s SynthesisSettings) WithLangCode(langCode string) SynthesisSettings {
	s.LangCode = langCode
	return s
}
