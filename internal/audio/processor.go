// Package audio post-processes synthesized chapter audio: inter-chunk
// silence, loudness normalization, and stitching chunks into one chapter
// WAV. Normalization shells out to ffmpeg; everything else is plain PCM.
package audio

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/narroapp/narro/internal/tts"
)

// ErrNoChunks is returned when a chapter has nothing to stitch.
var ErrNoChunks = errors.New("no audio chunks to stitch")

// LoudnessConfig carries the EBU R128 loudnorm targets.
type LoudnessConfig struct {
	TargetLUFS float64
	LRA        float64
	TruePeak   float64
}

// DefaultLoudness is the broadcast-standard target used for audiobooks.
func DefaultLoudness() LoudnessConfig {
	return LoudnessConfig{TargetLUFS: -23, LRA: 7, TruePeak: -1}
}

// Processor performs chapter audio post-processing. Construct with
// NewProcessor; the zero value has no work directory.
type Processor struct {
	workDir    string
	sampleRate int
	channels   int
	loudness   LoudnessConfig
	ffmpeg     *FFmpegRunner
	logger     *log.Logger
}

// ProcessorOptions configures NewProcessor. FFmpegPath defaults to
// "ffmpeg" on PATH; Timeout bounds each ffmpeg invocation.
type ProcessorOptions struct {
	WorkDir    string
	SampleRate int
	Channels   int
	Loudness   LoudnessConfig
	FFmpegPath string
	Timeout    time.Duration
	Logger     *log.Logger
}

func NewProcessor(opts ProcessorOptions) *Processor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	loudness := opts.Loudness
	if loudness == (LoudnessConfig{}) {
		loudness = DefaultLoudness()
	}
	return &Processor{
		workDir:    opts.WorkDir,
		sampleRate: opts.SampleRate,
		channels:   opts.Channels,
		loudness:   loudness,
		ffmpeg:     NewFFmpegRunner(opts.FFmpegPath, opts.Timeout),
		logger:     logger,
	}
}

func (p *Processor) format() Format {
	return Format{SampleRate: p.sampleRate, Channels: p.channels}
}

// InsertSilence interleaves a shared silence chunk between consecutive
// chunks. The silence file is cached per rate/channel/duration, so a book
// writes it once.
func (p *Processor) InsertSilence(chunks []tts.AudioChunk, silenceMS int) ([]tts.AudioChunk, error) {
	if silenceMS <= 0 || len(chunks) <= 1 {
		return chunks, nil
	}

	silence, err := p.silenceChunk(silenceMS)
	if err != nil {
		return nil, err
	}

	out := make([]tts.AudioChunk, 0, len(chunks)*2-1)
	for i, chunk := range chunks {
		out = append(out, chunk)
		if i < len(chunks)-1 {
			out = append(out, silence)
		}
	}
	return out, nil
}

func (p *Processor) silenceChunk(silenceMS int) (tts.AudioChunk, error) {
	dir := filepath.Join(p.workDir, "silence")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return tts.AudioChunk{}, fmt.Errorf("create silence dir: %w", err)
	}
	name := fmt.Sprintf("silence_%dhz_%dch_%dms.wav", p.sampleRate, p.channels, silenceMS)
	path := filepath.Join(dir, name)

	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		frames := p.sampleRate * silenceMS / 1000
		pcm := make([]byte, frames*p.channels*bytesPerSample)
		if err := WriteWAV(path, p.format(), pcm); err != nil {
			return tts.AudioChunk{}, err
		}
	}
	return tts.AudioChunk{Path: path, DurationMS: int64(silenceMS)}, nil
}

// Normalize runs two-pass loudnorm on every chunk, writing
// <stem>.normalized.wav next to each input. Existing non-empty outputs are
// reused so interrupted books resume cheaply.
func (p *Processor) Normalize(ctx context.Context, chunks []tts.AudioChunk) ([]tts.AudioChunk, error) {
	out := make([]tts.AudioChunk, 0, len(chunks))
	for _, chunk := range chunks {
		ext := filepath.Ext(chunk.Path)
		target := strings.TrimSuffix(chunk.Path, ext) + ".normalized.wav"

		if info, err := os.Stat(target); err == nil && info.Size() > 0 {
			out = append(out, tts.AudioChunk{Index: chunk.Index, Path: target, DurationMS: chunk.DurationMS})
			continue
		}
		if err := p.normalizeWAV(ctx, chunk.Path, target); err != nil {
			return nil, err
		}
		out = append(out, tts.AudioChunk{Index: chunk.Index, Path: target, DurationMS: chunk.DurationMS})
	}
	return out, nil
}

func (p *Processor) normalizeWAV(ctx context.Context, input, output string) error {
	analysis, err := p.loudnormAnalysis(ctx, input)
	if err != nil {
		return err
	}

	args := []string{"-hide_banner", "-nostats", "-y", "-i", input}
	if analysis.finite() {
		filter := fmt.Sprintf(
			"loudnorm=I=%g:LRA=%g:TP=%g:measured_I=%s:measured_LRA=%s:measured_TP=%s:measured_thresh=%s:offset=%s:linear=true",
			p.loudness.TargetLUFS, p.loudness.LRA, p.loudness.TruePeak,
			analysis.InputI, analysis.InputLRA, analysis.InputTP,
			analysis.InputThresh, analysis.TargetOffset,
		)
		args = append(args, "-af", filter)
	} else {
		// Silence-only chunks measure -inf; convert format without
		// touching levels.
		p.logger.Warn("non-finite loudness analysis; converting without normalization", "input", input)
	}
	args = append(args,
		"-ar", strconv.Itoa(p.sampleRate),
		"-ac", strconv.Itoa(p.channels),
		"-c:a", "pcm_s16le",
		output,
	)

	_, err = p.ffmpeg.Run(ctx, args...)
	return err
}

type loudnormAnalysis struct {
	InputI       string `json:"input_i"`
	InputTP      string `json:"input_tp"`
	InputLRA     string `json:"input_lra"`
	InputThresh  string `json:"input_thresh"`
	TargetOffset string `json:"target_offset"`
}

func (a loudnormAnalysis) finite() bool {
	for _, v := range []string{a.InputI, a.InputTP, a.InputLRA, a.InputThresh, a.TargetOffset} {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
			return false
		}
	}
	return true
}

var loudnormJSONRE = regexp.MustCompile(`\{[\s\S]*?\}`)

func (p *Processor) loudnormAnalysis(ctx context.Context, input string) (loudnormAnalysis, error) {
	filter := fmt.Sprintf("loudnorm=I=%g:LRA=%g:TP=%g:print_format=json",
		p.loudness.TargetLUFS, p.loudness.LRA, p.loudness.TruePeak)
	stderr, err := p.ffmpeg.Run(ctx,
		"-hide_banner", "-nostats", "-i", input, "-af", filter, "-f", "null", "-")
	if err != nil {
		return loudnormAnalysis{}, err
	}
	return parseLoudnormAnalysis(stderr)
}

// parseLoudnormAnalysis pulls the JSON block loudnorm prints at the end of
// ffmpeg's stderr.
func parseLoudnormAnalysis(stderr string) (loudnormAnalysis, error) {
	matches := loudnormJSONRE.FindAllString(stderr, -1)
	for i := len(matches) - 1; i >= 0; i-- {
		var analysis loudnormAnalysis
		if err := json.Unmarshal([]byte(matches[i]), &analysis); err != nil {
			continue
		}
		if analysis.InputI == "" || analysis.InputTP == "" || analysis.InputLRA == "" ||
			analysis.InputThresh == "" || analysis.TargetOffset == "" {
			continue
		}
		return analysis, nil
	}
	return loudnormAnalysis{}, errors.New("loudnorm analysis output not found in ffmpeg stderr")
}

// Stitch concatenates chunk PCM into one chapter WAV, validating that
// every chunk matches the configured format. An existing non-empty output
// short-circuits.
func (p *Processor) Stitch(chunks []tts.AudioChunk, outPath string) (string, error) {
	if info, err := os.Stat(outPath); err == nil && info.Size() > 0 {
		return outPath, nil
	}
	if len(chunks) == 0 {
		return "", ErrNoChunks
	}
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	want := p.format()
	var pcm []byte
	for _, chunk := range chunks {
		format, data, err := ReadWAV(chunk.Path)
		if err != nil {
			return "", err
		}
		if format != want {
			return "", fmt.Errorf("%s: format %dHz/%dch does not match %dHz/%dch",
				chunk.Path, format.SampleRate, format.Channels, want.SampleRate, want.Channels)
		}
		pcm = append(pcm, data...)
	}

	if err := WriteWAV(outPath, want, pcm); err != nil {
		return "", err
	}
	return outPath, nil
}
