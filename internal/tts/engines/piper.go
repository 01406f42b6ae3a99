// Package engines provides synthesis engine implementations behind the
// tts.Engine interface.
package engines

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/charmbracelet/log"

	"github.com/narroapp/narro/internal/audio"
	"github.com/narroapp/narro/internal/tts"
)

// speakableRE matches any letter or digit; text without one produces no
// audio and is rejected before the subprocess runs.
var speakableRE = regexp.MustCompile(`[\p{L}\p{N}]`)

// PiperConfig configures a Piper subprocess engine.
type PiperConfig struct {
	// BinaryPath is the piper executable, "piper" on PATH by default.
	BinaryPath string

	// ModelPath is the .onnx voice model. Required.
	ModelPath string

	// ConfigPath is the model's JSON config, passed when set; piper
	// otherwise infers <model>.json.
	ConfigPath string

	// DefaultVoice is the speaker id for multi-speaker models.
	DefaultVoice string

	DefaultLangCode string

	// SampleRate must match the model's native output rate; piper emits
	// raw PCM with no header to tell us.
	SampleRate int

	Channels int

	// MaxInputChars rejects oversized inputs before spawning piper.
	// Zero means unlimited.
	MaxInputChars int

	Logger *log.Logger
}

// Piper synthesizes text by spawning the piper CLI per chunk. Each call
// runs its own process, so one instance is safe to share across workers.
type Piper struct {
	cfg    PiperConfig
	logger *log.Logger
}

func NewPiper(cfg PiperConfig) (*Piper, error) {
	if cfg.ModelPath == "" {
		return nil, tts.NewModelError("piper model path not configured", nil)
	}
	if cfg.BinaryPath == "" {
		cfg.BinaryPath = "piper"
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 22050
	}
	if cfg.Channels == 0 {
		cfg.Channels = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Piper{cfg: cfg, logger: logger}, nil
}

var _ tts.Engine = (*Piper)(nil)

func (p *Piper) Info() tts.EngineInfo {
	return tts.EngineInfo{
		Name:            "piper",
		DefaultVoice:    p.cfg.DefaultVoice,
		DefaultLangCode: p.cfg.DefaultLangCode,
		MaxInputChars:   p.cfg.MaxInputChars,
		ConcurrencySafe: true,
	}
}

// Synthesize renders one chunk of text to a PCM16 WAV. An existing
// non-empty file at cfg.OutputPath short-circuits without re-rendering.
func (p *Piper) Synthesize(ctx context.Context, text, voice string, cfg tts.EngineConfig) (tts.AudioChunk, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" || !speakableRE.MatchString(trimmed) {
		return tts.AudioChunk{}, tts.NewInputError("text contains no speakable content")
	}
	if p.cfg.MaxInputChars > 0 && utf8.RuneCountInString(trimmed) > p.cfg.MaxInputChars {
		return tts.AudioChunk{}, tts.NewSizeError(
			fmt.Sprintf("text exceeds engine limit of %d chars", p.cfg.MaxInputChars))
	}

	if cfg.OutputPath != "" {
		if chunk, ok := p.cachedChunk(cfg.OutputPath); ok {
			return chunk, nil
		}
	}

	if _, err := os.Stat(p.cfg.ModelPath); err != nil {
		return tts.AudioChunk{}, tts.NewModelError("piper model not found", err)
	}

	pcm, err := p.run(ctx, trimmed, voice, cfg.Speed)
	if err != nil {
		return tts.AudioChunk{}, err
	}
	if len(pcm) == 0 {
		return tts.AudioChunk{}, tts.NewInputError("piper produced no audio")
	}

	outPath := cfg.OutputPath
	if outPath == "" {
		tmp, err := os.CreateTemp("", "narro_chunk_*.wav")
		if err != nil {
			return tts.AudioChunk{}, fmt.Errorf("create chunk file: %w", err)
		}
		outPath = tmp.Name()
		tmp.Close()
	}

	format := p.format()
	if err := audio.WriteWAV(outPath, format, pcm); err != nil {
		return tts.AudioChunk{}, err
	}
	return tts.AudioChunk{
		Path:       outPath,
		DurationMS: audio.DurationMS(format, len(pcm)),
	}, nil
}

func (p *Piper) format() audio.Format {
	return audio.Format{SampleRate: p.cfg.SampleRate, Channels: p.cfg.Channels}
}

// cachedChunk returns the metadata of an already-rendered chunk, reading
// only its header.
func (p *Piper) cachedChunk(path string) (tts.AudioChunk, bool) {
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return tts.AudioChunk{}, false
	}
	format, data, err := audio.ReadWAV(path)
	if err != nil {
		p.logger.Warn("cached chunk unreadable; re-rendering", "path", path, "err", err)
		return tts.AudioChunk{}, false
	}
	return tts.AudioChunk{Path: path, DurationMS: audio.DurationMS(format, len(data))}, true
}

// run spawns piper with text on stdin, configured before the process
// starts, and returns the raw PCM from stdout.
func (p *Piper) run(ctx context.Context, text, voice string, speed float64) ([]byte, error) {
	args := []string{"--model", p.cfg.ModelPath, "--output-raw"}
	if p.cfg.ConfigPath != "" {
		args = append(args, "--config", p.cfg.ConfigPath)
	}
	if voice != "" {
		args = append(args, "--speaker", voice)
	}
	if speed > 0 && speed != 1.0 {
		// Piper's length scale is the inverse of playback speed.
		args = append(args, "--length-scale", strconv.FormatFloat(1/speed, 'f', 4, 64))
	}

	cmd := exec.CommandContext(ctx, p.cfg.BinaryPath, args...)
	cmd.Stdin = strings.NewReader(text + "\n")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// Bare names fail LookPath as *exec.Error; explicit paths fail
		// fork/exec with fs.ErrNotExist.
		var execErr *exec.Error
		if errors.As(err, &execErr) || errors.Is(err, fs.ErrNotExist) {
			return nil, tts.NewModelError("piper binary not found", err)
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, tts.NewTransientError("piper run cancelled", ctxErr)
		}
		p.logger.Debug("piper failed", "stderr", stderr.String())
		return nil, tts.NewTransientError("piper run failed", err)
	}
	return stdout.Bytes(), nil
}
