// Package tts defines the synthesis engine contract and drives chapter
// text through segmentation, per-chunk synthesis with caching, and
// retry/split recovery.
package tts

import (
	"context"

	"github.com/narroapp/narro/internal/segment"
)

// AudioChunk is a handle to one rendered audio artifact on disk. The
// orchestrator only references paths; it never opens or decodes audio.
type AudioChunk struct {
	Index      int
	Path       string
	DurationMS int64
}

// EngineConfig carries the per-call synthesis parameters resolved by the
// orchestrator. OutputPath, when set, is the deterministic cache path for
// the request: an engine must return the existing artifact's metadata
// without re-rendering if the path already holds a non-empty file.
type EngineConfig struct {
	Speed      float64
	LangCode   string
	SampleRate int
	Channels   int
	RefAudio   string
	RefText    string
	RefAudioID string
	OutputPath string
}

// EngineInfo describes an engine's identity, defaults, and limits.
type EngineInfo struct {
	// Name identifies the backend, e.g. "piper".
	Name string

	// DefaultVoice and DefaultLangCode fill in requests that do not
	// specify them.
	DefaultVoice    string
	DefaultLangCode string

	// MaxInputChars is the engine's own hard input bound; zero means
	// unlimited. Inputs over it are rejected with a size error.
	MaxInputChars int

	// ConcurrencySafe reports whether one engine instance may be driven
	// from multiple goroutines. Engines that are not force the chapter
	// worker count to one.
	ConcurrencySafe bool
}

// Engine converts one chunk of text into one audio artifact.
//
// Implementations classify their failures with the package error taxonomy:
// empty or non-speech text is an input error, text over the model limit is
// a size error, flaky runtime failures are transient, and load failures
// are model errors. Anything else propagates unclassified and is fatal.
type Engine interface {
	Synthesize(ctx context.Context, text, voice string, cfg EngineConfig) (AudioChunk, error)
	Info() EngineInfo
}

// TextSegmenter produces ordered, bounded segments from chapter text.
// *segment.Segmenter is the rule-based implementation.
type TextSegmenter interface {
	Segment(text string) []segment.Segment
}
