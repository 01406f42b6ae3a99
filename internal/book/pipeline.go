package book

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/narroapp/narro/internal/audio"
	"github.com/narroapp/narro/internal/audiocache"
	"github.com/narroapp/narro/internal/ebook"
	"github.com/narroapp/narro/internal/epub"
	"github.com/narroapp/narro/internal/errlog"
	"github.com/narroapp/narro/internal/m4b"
	"github.com/narroapp/narro/internal/mdsource"
	"github.com/narroapp/narro/internal/state"
	"github.com/narroapp/narro/internal/textclean"
	"github.com/narroapp/narro/internal/tts"
)

// stepPackaged is the state step that marks a finished book.
const stepPackaged = "packaged"

// artifactM4B is the state artifact key for the packaged audiobook.
const artifactM4B = "m4b"

// EngineFactory constructs one synthesis engine. The pipeline calls it
// once per worker, so engines that are not safe for concurrent use still
// get a private instance each.
type EngineFactory func() (tts.Engine, error)

// Packager produces the final audiobook from finished chapter audio.
// *m4b.Packager is the production implementation.
type Packager interface {
	Package(ctx context.Context, chapters []m4b.ChapterAudio, meta ebook.Metadata, outPath string) (string, error)
}

// PipelineOptions configures NewPipeline. CacheRoot and EngineFactory are
// required; everything else has a usable default.
type PipelineOptions struct {
	// CacheRoot holds chunk cache, chapter artifacts, state, and logs.
	CacheRoot string

	// OutputDir receives the packaged .m4b files, "." by default.
	OutputDir string

	// Workers bounds the chapter worker pool. Engines that report
	// ConcurrencySafe=false force it to 1.
	Workers int

	// SilenceMS is the pause inserted between chunks; zero disables.
	SilenceMS int

	// Normalize enables two-pass loudness normalization via ffmpeg.
	Normalize bool

	Settings tts.SynthesisSettings
	Voice    string

	// CallTimeout bounds each engine call; timed-out calls retry.
	CallTimeout time.Duration

	EngineFactory EngineFactory

	// RateLimit caps engine calls per second across all workers; zero
	// disables. RateBurst defaults to 1.
	RateLimit rate.Limit
	RateBurst int

	// Packager overrides the default ffmpeg-backed M4B packager.
	Packager Packager

	Loudness      audio.LoudnessConfig
	FFmpegPath    string
	FFmpegTimeout time.Duration

	Logger *log.Logger
}

// Pipeline turns book files into audiobooks. Construct with NewPipeline;
// one instance handles any number of Run calls.
type Pipeline struct {
	opts     PipelineOptions
	layout   audiocache.Layout
	states   *state.Store
	errlogs  *errlog.Store
	cleaner  *textclean.Cleaner
	packager Packager
	limiter  *rate.Limiter
	logger   *log.Logger
}

func NewPipeline(opts PipelineOptions) (*Pipeline, error) {
	if opts.CacheRoot == "" {
		return nil, errors.New("book: cache root not configured")
	}
	if opts.EngineFactory == nil {
		return nil, errors.New("book: engine factory not configured")
	}
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}

	states, err := state.NewStore(filepath.Join(opts.CacheRoot, "state"))
	if err != nil {
		return nil, err
	}
	errlogs, err := errlog.NewStore(filepath.Join(opts.CacheRoot, "logs"))
	if err != nil {
		return nil, err
	}

	packager := opts.Packager
	if packager == nil {
		packager = m4b.NewPackager(m4b.PackagerOptions{
			WorkDir:    filepath.Join(opts.CacheRoot, "work"),
			FFmpegPath: opts.FFmpegPath,
			Timeout:    opts.FFmpegTimeout,
			Logger:     logger,
		})
	}

	var limiter *rate.Limiter
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(opts.RateLimit, burst)
	}

	return &Pipeline{
		opts:     opts,
		layout:   audiocache.NewLayout(opts.CacheRoot),
		states:   states,
		errlogs:  errlogs,
		cleaner:  textclean.New(textclean.DefaultOptions()),
		packager: packager,
		limiter:  limiter,
		logger:   logger,
	}, nil
}

// Run processes each input book in order. A failed book is recorded in
// its result and the remaining books still run; the returned error is
// non-nil only when every book failed.
func (p *Pipeline) Run(ctx context.Context, inputs []string) ([]BookResult, error) {
	results := make([]BookResult, 0, len(inputs))
	failed := 0
	for _, input := range inputs {
		result := p.processBook(ctx, input)
		if result.Err != nil {
			failed++
			p.logger.Error("book failed", "input", input, "err", result.Err)
		}
		results = append(results, result)

		if ctx.Err() != nil {
			return results, ctx.Err()
		}
	}

	if len(inputs) > 0 && failed == len(inputs) {
		return results, errors.New("book: all books failed")
	}
	return results, nil
}

func (p *Pipeline) sourceFor(path string) ebook.Source {
	if strings.EqualFold(filepath.Ext(path), ".epub") {
		return epub.NewReader(p.logger)
	}
	return mdsource.NewReader(p.logger)
}

func (p *Pipeline) processBook(ctx context.Context, input string) BookResult {
	result := BookResult{Input: input, Status: BookFailed}

	bk, err := p.sourceFor(input).Read(input)
	if err != nil {
		result.Err = fmt.Errorf("read %s: %w", input, err)
		return result
	}
	result.Title = bk.Metadata.Title
	result.Slug = state.Slugify(bk.Metadata.Title)
	if bk.Metadata.CoverPath != "" {
		defer os.Remove(bk.Metadata.CoverPath)
	}

	st, found, err := p.states.Load(bk.Metadata.Title)
	if err != nil {
		result.Err = err
		return result
	}
	if !found {
		st = state.NewState(bk.Metadata.Title)
	}
	if outPath, ok := packagedArtifact(st); ok {
		p.logger.Info("already packaged; skipping", "book", bk.Metadata.Title, "output", outPath)
		result.Status = BookSkipped
		result.OutputPath = outPath
		return result
	}

	runID := uuid.NewString()
	errLog := p.errlogs.Logger(result.Slug, bk.Metadata.Title, runID)
	defer func() {
		if errLog.Len() > 0 {
			if err := p.errlogs.Save(errLog); err != nil {
				p.logger.Warn("saving error log", "book", bk.Metadata.Title, "err", err)
			}
		}
	}()

	chapters, err := p.processChapters(ctx, bk, result.Slug, errLog)
	if err != nil {
		result.Err = err
		return result
	}
	result.Chapters = chapters

	audioChapters := make([]m4b.ChapterAudio, 0, len(chapters))
	for _, ch := range chapters {
		if ch.Status == ChapterOK {
			audioChapters = append(audioChapters, m4b.ChapterAudio{
				Index: ch.Index,
				Title: ch.Title,
				Path:  ch.Path,
			})
		}
	}
	if len(audioChapters) == 0 {
		errLog.Add(errlog.CategoryUnknown, errlog.SeverityCritical,
			"no chapters produced audio", errlog.EntryOptions{Step: "synthesize"})
		result.Err = fmt.Errorf("%s: no chapters produced audio", input)
		return result
	}

	outPath := filepath.Join(p.opts.OutputDir, result.Slug+".m4b")
	packaged, err := p.packager.Package(ctx, audioChapters, bk.Metadata, outPath)
	if err != nil {
		errLog.Add(errlog.CategoryPackaging, errlog.SeverityCritical,
			"packaging failed", errlog.EntryOptions{Step: "package", Err: err})
		result.Err = fmt.Errorf("package %s: %w", input, err)
		return result
	}

	st = st.WithStep(stepPackaged, true).WithArtifact(artifactM4B, packaged)
	if err := p.states.Save(st); err != nil {
		p.logger.Warn("saving state", "book", bk.Metadata.Title, "err", err)
	}

	result.Status = BookPackaged
	result.OutputPath = packaged
	return result
}

// packagedArtifact reports the recorded M4B path when the book was
// already packaged and the file still exists non-empty. A deleted output
// invalidates the short-circuit so the book repackages.
func packagedArtifact(st state.State) (string, bool) {
	if !st.StepDone(stepPackaged) {
		return "", false
	}
	path := st.Artifacts[artifactM4B]
	if path == "" {
		return "", false
	}
	info, err := os.Stat(path)
	if err != nil || info.Size() == 0 {
		return "", false
	}
	return path, true
}

// processChapters fans the book's chapters out over the worker pool and
// returns per-chapter results in chapter order.
func (p *Pipeline) processChapters(ctx context.Context, bk *ebook.Book, slug string, errLog *errlog.Log) ([]ChapterResult, error) {
	if _, err := p.layout.EnsureChapterDir(slug); err != nil {
		return nil, err
	}

	workers, engines, err := p.buildEngines(len(bk.Chapters))
	if err != nil {
		errLog.Add(errlog.CategoryModelLoad, errlog.SeverityCritical,
			"engine construction failed", errlog.EntryOptions{Err: err})
		return nil, err
	}

	jobs := make(chan int)
	results := make([]ChapterResult, len(bk.Chapters))

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(engine tts.Engine) {
			defer wg.Done()
			for idx := range jobs {
				results[idx] = p.processChapter(ctx, engine, bk.Chapters[idx], slug, errLog)
			}
		}(engines[w])
	}

	for idx := range bk.Chapters {
		jobs <- idx
	}
	close(jobs)
	wg.Wait()

	sort.Slice(results, func(i, j int) bool { return results[i].Index < results[j].Index })
	return results, nil
}

// buildEngines constructs one engine per worker. The first engine's
// self-description caps the pool: an engine that is not concurrency safe
// runs every chapter on a single worker.
func (p *Pipeline) buildEngines(chapterCount int) (int, []tts.Engine, error) {
	workers := p.opts.Workers
	if chapterCount < workers {
		workers = chapterCount
	}
	if workers < 1 {
		workers = 1
	}

	first, err := p.opts.EngineFactory()
	if err != nil {
		return 0, nil, err
	}
	if !first.Info().ConcurrencySafe && workers > 1 {
		p.logger.Warn("engine is not concurrency safe; using one worker",
			"engine", first.Info().Name)
		workers = 1
	}

	engines := []tts.Engine{p.limited(first)}
	for len(engines) < workers {
		engine, err := p.opts.EngineFactory()
		if err != nil {
			return 0, nil, err
		}
		engines = append(engines, p.limited(engine))
	}
	return workers, engines, nil
}

func (p *Pipeline) limited(engine tts.Engine) tts.Engine {
	if p.limiter == nil {
		return engine
	}
	return &limitedEngine{Engine: engine, limiter: p.limiter}
}

// limitedEngine gates Synthesize calls behind a shared rate limiter.
type limitedEngine struct {
	tts.Engine
	limiter *rate.Limiter
}

func (e *limitedEngine) Synthesize(ctx context.Context, text, voice string, cfg tts.EngineConfig) (tts.AudioChunk, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return tts.AudioChunk{}, err
	}
	return e.Engine.Synthesize(ctx, text, voice, cfg)
}

// processChapter runs one chapter end to end: clean, synthesize, insert
// silence, normalize, stitch. An existing non-empty stitched output skips
// all of it.
func (p *Pipeline) processChapter(ctx context.Context, engine tts.Engine, chapter ebook.Chapter, slug string, errLog *errlog.Log) ChapterResult {
	result := ChapterResult{Index: chapter.Index, Title: chapter.Title}

	finalPath := p.layout.ChapterPath(slug, chapter.Index, "final")
	if info, err := os.Stat(finalPath); err == nil && info.Size() > 0 {
		p.logger.Debug("chapter audio exists; skipping", "chapter", chapter.Index)
		result.Status = ChapterOK
		result.Path = finalPath
		return result
	}

	text := p.cleaner.Clean(chapter.Text)
	if strings.TrimSpace(text) == "" {
		result.Status = ChapterEmpty
		return result
	}

	chunks, err := tts.SynthesizeText(ctx, text, engine, p.opts.Settings, tts.SynthesisOptions{
		Voice:       p.opts.Voice,
		Cache:       &p.layout,
		CallTimeout: p.opts.CallTimeout,
		Logger:      p.logger,
	})
	if err != nil {
		errLog.Add(categoryFor(err), errlog.SeverityError, "chapter synthesis failed",
			errlog.EntryOptions{Step: "synthesize", ChapterIndex: errlog.Chapter(chapter.Index), Err: err})
		result.Status = ChapterFailed
		result.Err = err
		return result
	}
	if len(chunks) == 0 {
		result.Status = ChapterEmpty
		return result
	}

	processor := audio.NewProcessor(audio.ProcessorOptions{
		WorkDir:    filepath.Join(p.opts.CacheRoot, "work"),
		SampleRate: p.opts.Settings.SampleRate,
		Channels:   p.opts.Settings.Channels,
		Loudness:   p.opts.Loudness,
		FFmpegPath: p.opts.FFmpegPath,
		Timeout:    p.opts.FFmpegTimeout,
		Logger:     p.logger,
	})

	chunks, err = processor.InsertSilence(chunks, p.opts.SilenceMS)
	if err != nil {
		errLog.Add(errlog.CategorySilence, errlog.SeverityError, "silence insertion failed",
			errlog.EntryOptions{Step: "silence", ChapterIndex: errlog.Chapter(chapter.Index), Err: err})
		result.Status = ChapterFailed
		result.Err = err
		return result
	}

	if p.opts.Normalize {
		chunks, err = processor.Normalize(ctx, chunks)
		if err != nil {
			errLog.Add(errlog.CategoryNormalization, errlog.SeverityError, "normalization failed",
				errlog.EntryOptions{Step: "normalize", ChapterIndex: errlog.Chapter(chapter.Index), Err: err})
			result.Status = ChapterFailed
			result.Err = err
			return result
		}
	}

	stitched, err := processor.Stitch(chunks, finalPath)
	if err != nil {
		errLog.Add(errlog.CategoryStitching, errlog.SeverityError, "stitching failed",
			errlog.EntryOptions{Step: "stitch", ChapterIndex: errlog.Chapter(chapter.Index), Err: err})
		result.Status = ChapterFailed
		result.Err = err
		return result
	}

	result.Status = ChapterOK
	result.Path = stitched
	return result
}

// categoryFor maps the synthesis error taxonomy onto log categories.
func categoryFor(err error) errlog.Category {
	switch {
	case tts.IsInputError(err):
		return errlog.CategoryTTSInput
	case tts.IsSizeError(err):
		return errlog.CategoryTTSSize
	case tts.IsTransientError(err):
		return errlog.CategoryTTSTransient
	case tts.IsModelError(err):
		return errlog.CategoryModelLoad
	default:
		return errlog.CategorySynthesis
	}
}
