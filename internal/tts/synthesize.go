package tts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/narroapp/narro/internal/audiocache"
	"github.com/narroapp/narro/internal/segment"
)

// maxSplitDepth bounds recursive size-splitting so pathological input
// cannot recurse forever.
const maxSplitDepth = 8

// SynthesisOptions carries the optional collaborators of SynthesizeText.
// The zero value is usable: no cache, no output directory, default
// segmenter, wall-clock sleep.
type SynthesisOptions struct {
	// Segmenter overrides the default rule-based segmenter built from
	// the settings bounds.
	Segmenter TextSegmenter

	// Voice overrides the engine's default voice.
	Voice string

	// Cache, when set, addresses every chunk at its deterministic cache
	// path. OutputDir is a flat-directory alternative used when no cache
	// layout is configured. Cache wins when both are set.
	Cache     *audiocache.Layout
	OutputDir string

	// OutputFormat is the artifact extension, "wav" by default.
	OutputFormat string

	// CallTimeout bounds each engine call. Zero disables the bound. A
	// timed-out call is classified as transient and retried.
	CallTimeout time.Duration

	// Sleep is the retry backoff sleep, injectable so tests run without
	// wall-clock delay.
	Sleep func(time.Duration)

	Logger *log.Logger
}

// SynthesizeText segments text and synthesizes each segment in order,
// returning the ordered audio chunks. Non-speech segments are skipped,
// oversized segments are split recursively, transient failures are retried
// with exponential backoff, and any other failure aborts the whole text.
//
// Partial progress is never lost: chunks already written to cache paths
// remain valid and are reused on the next run.
func SynthesizeText(ctx context.Context, text string, engine Engine, settings SynthesisSettings, opts SynthesisOptions) ([]AudioChunk, error) {
	if text == "" {
		return nil, nil
	}
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	run, err := newSynthesisRun(engine, settings, opts)
	if err != nil {
		return nil, err
	}

	var chunks []AudioChunk
	for _, seg := range run.segmenter.Segment(text) {
		segChunks, err := run.synthesizeSegment(ctx, seg, 0)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, segChunks...)
	}

	// Renumber so indices stay contiguous across skips and splits.
	for i := range chunks {
		chunks[i].Index = i
	}
	return chunks, nil
}

// synthesisRun holds the resolved collaborators for one SynthesizeText
// call.
type synthesisRun struct {
	engine    Engine
	settings  SynthesisSettings
	segmenter TextSegmenter
	voice     string
	langCode  string
	cache     *audiocache.Layout
	outputDir string
	format    string
	timeout   time.Duration
	sleep     func(time.Duration)
	logger    *log.Logger
}

func newSynthesisRun(engine Engine, settings SynthesisSettings, opts SynthesisOptions) (*synthesisRun, error) {
	segmenter := opts.Segmenter
	if segmenter == nil {
		var err error
		segmenter, err = segment.New(segment.Options{
			MaxChars:                  settings.MaxChars,
			MinChars:                  settings.MinChars,
			HardMaxChars:              settings.HardMaxChars,
			EnsureTerminalPunctuation: true,
		})
		if err != nil {
			return nil, err
		}
	}

	info := engine.Info()
	voice := opts.Voice
	if voice == "" {
		voice = info.DefaultVoice
	}
	langCode := settings.LangCode
	if langCode == "" {
		langCode = info.DefaultLangCode
	}

	format := opts.OutputFormat
	if format == "" {
		format = "wav"
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	if opts.OutputDir != "" {
		if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
			return nil, fmt.Errorf("create output directory: %w", err)
		}
	}

	return &synthesisRun{
		engine:    engine,
		settings:  settings,
		segmenter: segmenter,
		voice:     voice,
		langCode:  langCode,
		cache:     opts.Cache,
		outputDir: opts.OutputDir,
		format:    format,
		timeout:   opts.CallTimeout,
		sleep:     sleep,
		logger:    logger,
	}, nil
}

// synthesizeSegment runs the per-segment state machine: preemptive split
// for oversized text, then synthesis with skip/split/retry recovery.
func (r *synthesisRun) synthesizeSegment(ctx context.Context, seg segment.Segment, depth int) ([]AudioChunk, error) {
	if utf8.RuneCountInString(seg.Text) > r.settings.MaxChars {
		return r.splitAndSynthesize(ctx, seg.Text, depth)
	}

	attempts := 0
	for {
		cfg := EngineConfig{
			Speed:      r.settings.Speed,
			LangCode:   r.langCode,
			SampleRate: r.settings.SampleRate,
			Channels:   r.settings.Channels,
			RefAudio:   r.settings.RefAudio,
			RefText:    r.settings.RefText,
			RefAudioID: r.settings.RefAudioID,
		}
		outputPath, err := r.resolveOutputPath(seg.Text)
		if err != nil {
			return nil, err
		}
		cfg.OutputPath = outputPath

		chunk, err := r.callEngine(ctx, seg.Text, cfg)
		switch {
		case err == nil:
			return []AudioChunk{chunk}, nil

		case IsInputError(err):
			r.logger.Warn("skipping non-speech chunk", "index", seg.Index, "err", err)
			return nil, nil

		case IsSizeError(err):
			return r.splitAndSynthesize(ctx, seg.Text, depth)

		case IsTransientError(err):
			if attempts >= r.settings.MaxRetries {
				return nil, err
			}
			delay := backoffDelay(attempts, r.settings.BackoffBase, r.settings.BackoffJitter)
			r.logger.Warn("transient synthesis failure; retrying",
				"index", seg.Index, "delay", delay, "err", err)
			r.sleep(delay)
			attempts++

		default:
			return nil, err
		}
	}
}

// splitAndSynthesize re-segments oversized text and recurses on the
// pieces, preserving left-to-right order. Depth is bounded; when even the
// hard character-window split yields nothing, the failure is fatal.
func (r *synthesisRun) splitAndSynthesize(ctx context.Context, text string, depth int) ([]AudioChunk, error) {
	if depth > maxSplitDepth {
		return nil, NewSizeError("maximum split depth exceeded")
	}

	pieces, err := r.splitText(text)
	if err != nil {
		return nil, err
	}
	if len(pieces) == 0 {
		return nil, NewSizeError("unable to split text for synthesis")
	}

	var chunks []AudioChunk
	for idx, piece := range pieces {
		sub, err := r.synthesizeSegment(ctx, segment.Segment{Index: idx, Text: piece}, depth+1)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, sub...)
	}
	return chunks, nil
}

// splitText re-runs the bounded segmenter; when segmentation cannot make
// progress (a single unbreakable piece), it falls back to hard character
// windows at MaxChars rune boundaries.
func (r *synthesisRun) splitText(text string) ([]string, error) {
	splitter, err := segment.New(segment.Options{
		MaxChars:                  r.settings.MaxChars,
		MinChars:                  r.settings.MinChars,
		HardMaxChars:              r.settings.HardMaxChars,
		EnsureTerminalPunctuation: true,
	})
	if err != nil {
		return nil, err
	}

	segs := splitter.Segment(text)
	if len(segs) > 1 {
		pieces := make([]string, len(segs))
		for i, s := range segs {
			pieces[i] = s.Text
		}
		return pieces, nil
	}

	return hardSplit(text, r.settings.MaxChars), nil
}

// hardSplit slices text into rune windows without regard to word
// boundaries. Documented lossy fallback for unbreakable input. Windows are
// one rune short of maxChars so the appended terminal punctuation cannot
// push a piece back over the bound.
func hardSplit(text string, maxChars int) []string {
	window := maxChars - 1
	if window < 1 {
		window = 1
	}

	var pieces []string
	runes := []rune(strings.TrimSpace(text))
	for start := 0; start < len(runes); start += window {
		end := start + window
		if end > len(runes) {
			end = len(runes)
		}
		piece := strings.TrimSpace(string(runes[start:end]))
		if piece != "" {
			pieces = append(pieces, segment.EnsureTerminalPunctuation(piece))
		}
	}
	return pieces
}

// callEngine invokes the engine, bounded by the per-call timeout when one
// is configured. A deadline hit on the call (not on the caller's context)
// is reclassified as transient so it enters the retry path instead of
// stalling a worker slot.
func (r *synthesisRun) callEngine(ctx context.Context, text string, cfg EngineConfig) (AudioChunk, error) {
	callCtx := ctx
	if r.timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	chunk, err := r.engine.Synthesize(callCtx, text, r.voice, cfg)
	if err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		return AudioChunk{}, NewTransientError(
			fmt.Sprintf("synthesis timed out after %s", r.timeout), err)
	}
	return chunk, err
}

// resolveOutputPath derives the deterministic artifact path for text, so
// repeated runs over unchanged text address the same file.
func (r *synthesisRun) resolveOutputPath(text string) (string, error) {
	if r.cache == nil && r.outputDir == "" {
		return "", nil
	}

	key := audiocache.ChunkKey(text, audiocache.KeyParams{
		ModelID:    r.settings.ModelID,
		Voice:      r.voice,
		LangCode:   r.langCode,
		RefAudioID: r.settings.RefAudioID,
		RefText:    r.settings.RefText,
		Speed:      r.settings.Speed,
		SampleRate: r.settings.SampleRate,
		Channels:   r.settings.Channels,
	})

	if r.cache != nil {
		if _, err := r.cache.EnsureChunkDir(key); err != nil {
			return "", err
		}
		return r.cache.ChunkPath(key, r.format), nil
	}
	return filepath.Join(r.outputDir, key+"."+r.format), nil
}

// backoffDelay computes base * 2^attempt, inflated by the jitter fraction.
func backoffDelay(attempt int, base time.Duration, jitter float64) time.Duration {
	delay := base << attempt
	if jitter > 0 {
		delay += time.Duration(float64(delay) * jitter)
	}
	return delay
}
