// Package m4b packages chapter WAVs into a chaptered M4B audiobook with
// ffmpeg: concat demuxer for the audio, ffmetadata for tags and chapter
// marks, and an optional embedded cover.
package m4b

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/narroapp/narro/internal/audio"
	"github.com/narroapp/narro/internal/ebook"
)

// ErrNoChapters is returned when there is no chapter audio to package.
var ErrNoChapters = errors.New("no chapter audio to package")

// ChapterAudio is one finished chapter WAV ready for packaging.
type ChapterAudio struct {
	Index int
	Title string
	Path  string
}

// Packager builds M4B files. Construct with NewPackager.
type Packager struct {
	workDir string
	bitrate string
	ffmpeg  *audio.FFmpegRunner
	logger  *log.Logger
}

type PackagerOptions struct {
	WorkDir    string
	Bitrate    string // AAC bitrate, "128k" by default
	FFmpegPath string
	Timeout    time.Duration
	Logger     *log.Logger
}

func NewPackager(opts PackagerOptions) *Packager {
	bitrate := opts.Bitrate
	if bitrate == "" {
		bitrate = "128k"
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Packager{
		workDir: opts.WorkDir,
		bitrate: bitrate,
		ffmpeg:  audio.NewFFmpegRunner(opts.FFmpegPath, opts.Timeout),
		logger:  logger,
	}
}

// Package encodes the chapters into a single .m4b at outPath. The output
// suffix is forced to .m4b; chapter marks come from the WAV durations.
func (p *Packager) Package(ctx context.Context, chapters []ChapterAudio, meta ebook.Metadata, outPath string) (string, error) {
	if len(chapters) == 0 {
		return "", ErrNoChapters
	}

	ordered := make([]ChapterAudio, len(chapters))
	copy(ordered, chapters)
	sortChapters(ordered)
	if err := validateChapterFiles(ordered); err != nil {
		return "", err
	}

	outPath = ensureM4BPath(outPath)
	if err := os.MkdirAll(filepath.Dir(outPath), 0o755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}
	if err := os.MkdirAll(p.workDir, 0o755); err != nil {
		return "", fmt.Errorf("create work dir: %w", err)
	}

	stem := strings.TrimSuffix(filepath.Base(outPath), ".m4b")
	concatPath := filepath.Join(p.workDir, stem+"_concat.txt")
	metaPath := filepath.Join(p.workDir, stem+"_metadata.txt")

	if err := os.WriteFile(concatPath, []byte(concatFile(ordered)), 0o644); err != nil {
		return "", fmt.Errorf("write concat list: %w", err)
	}
	metadata, err := metadataFile(ordered, meta)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(metaPath, []byte(metadata), 0o644); err != nil {
		return "", fmt.Errorf("write metadata: %w", err)
	}

	cover := p.resolveCover(meta.CoverPath)
	args := buildFFmpegArgs(concatPath, metaPath, outPath, cover, p.bitrate)
	if _, err := p.ffmpeg.Run(ctx, args...); err != nil {
		return "", err
	}
	return outPath, nil
}

func sortChapters(chapters []ChapterAudio) {
	sort.Slice(chapters, func(i, j int) bool {
		return chapters[i].Index < chapters[j].Index
	})
}

func validateChapterFiles(chapters []ChapterAudio) error {
	for _, ch := range chapters {
		info, err := os.Stat(ch.Path)
		if err != nil {
			return fmt.Errorf("chapter audio missing: %s", ch.Path)
		}
		if info.Size() == 0 {
			return fmt.Errorf("chapter audio is empty: %s", ch.Path)
		}
	}
	return nil
}

func ensureM4BPath(outPath string) string {
	ext := filepath.Ext(outPath)
	if strings.EqualFold(ext, ".m4b") {
		return outPath
	}
	return strings.TrimSuffix(outPath, ext) + ".m4b"
}

func (p *Packager) resolveCover(coverPath string) string {
	if coverPath == "" {
		return ""
	}
	info, err := os.Stat(coverPath)
	if err != nil || info.Size() == 0 {
		p.logger.Warn("cover image missing or empty; skipping embed", "path", coverPath)
		return ""
	}
	return coverPath
}

func buildFFmpegArgs(concatPath, metaPath, outPath, cover, bitrate string) []string {
	args := []string{
		"-hide_banner", "-nostats", "-y",
		"-f", "concat", "-safe", "0", "-i", concatPath,
	}
	if cover != "" {
		args = append(args, "-i", cover)
	}
	args = append(args, "-f", "ffmetadata", "-i", metaPath)

	metadataIndex := "1"
	if cover != "" {
		metadataIndex = "2"
	}
	args = append(args, "-map", "0:a")
	if cover != "" {
		args = append(args, "-map", "1:v")
	}
	args = append(args, "-map_metadata", metadataIndex)
	args = append(args, "-c:a", "aac", "-b:a", bitrate)
	if cover != "" {
		args = append(args,
			"-disposition:v:0", "attached_pic",
			"-metadata:s:v", "title=Album cover",
			"-metadata:s:v", "comment=Cover (front)",
		)
	}
	return append(args, outPath)
}

// concatFile renders the concat demuxer input list. Single quotes in
// paths use the shell-style '\'' escape the demuxer expects.
func concatFile(chapters []ChapterAudio) string {
	var b strings.Builder
	for _, ch := range chapters {
		b.WriteString("file '")
		b.WriteString(strings.ReplaceAll(ch.Path, "'", `'\''`))
		b.WriteString("'\n")
	}
	return b.String()
}

// metadataFile renders the ffmetadata document: book tags followed by one
// [CHAPTER] block per chapter with cumulative millisecond offsets.
func metadataFile(chapters []ChapterAudio, meta ebook.Metadata) (string, error) {
	lines := []string{";FFMETADATA1"}
	if meta.Title != "" {
		lines = append(lines,
			"title="+escapeMetadataValue(meta.Title),
			"album="+escapeMetadataValue(meta.Title),
		)
	}
	if meta.Author != "" {
		lines = append(lines, "artist="+escapeMetadataValue(meta.Author))
	}
	lines = append(lines, "genre=Audiobook", "stik=2")

	var startMS int64
	for _, ch := range chapters {
		format, data, err := audio.ReadWAV(ch.Path)
		if err != nil {
			return "", fmt.Errorf("chapter duration: %w", err)
		}
		durationMS := audio.DurationMS(format, len(data))
		if durationMS <= 0 {
			durationMS = 1
		}
		endMS := startMS + durationMS

		title := ch.Title
		if title == "" {
			title = fmt.Sprintf("Chapter %d", ch.Index+1)
		}
		lines = append(lines,
			"",
			"[CHAPTER]",
			"TIMEBASE=1/1000",
			fmt.Sprintf("START=%d", startMS),
			fmt.Sprintf("END=%d", endMS),
			"title="+escapeMetadataValue(title),
		)
		startMS = endMS
	}
	return strings.Join(lines, "\n") + "\n", nil
}

// escapeMetadataValue escapes the characters the ffmetadata format treats
// specially.
func escapeMetadataValue(value string) string {
	r := strings.NewReplacer(
		`\`, `\\`,
		"\n", `\n`,
		"=", `\=`,
		";", `\;`,
		"#", `\#`,
	)
	return r.Replace(value)
}
