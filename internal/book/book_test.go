package book

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/narroapp/narro/internal/audio"
	"github.com/narroapp/narro/internal/ebook"
	"github.com/narroapp/narro/internal/errlog"
	"github.com/narroapp/narro/internal/m4b"
	"github.com/narroapp/narro/internal/state"
	"github.com/narroapp/narro/internal/tts"
)

var lettersRE = regexp.MustCompile(`[\p{L}\p{N}]`)

// fakeEngine renders every speakable request as a tiny fixed WAV at the
// requested output path. Texts matching failOn fail unclassified.
type fakeEngine struct {
	concurrencySafe bool
	failOn          string

	mu    sync.Mutex
	calls int
}

func (e *fakeEngine) Synthesize(_ context.Context, text, _ string, cfg tts.EngineConfig) (tts.AudioChunk, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()

	if !lettersRE.MatchString(text) {
		return tts.AudioChunk{}, tts.NewInputError("no speakable content")
	}
	if e.failOn != "" && strings.Contains(text, e.failOn) {
		return tts.AudioChunk{}, errors.New("engine exploded")
	}

	format := audio.Format{SampleRate: 22050, Channels: 1}
	pcm := bytes.Repeat([]byte{1, 0}, 2205)
	if err := audio.WriteWAV(cfg.OutputPath, format, pcm); err != nil {
		return tts.AudioChunk{}, err
	}
	return tts.AudioChunk{Path: cfg.OutputPath, DurationMS: audio.DurationMS(format, len(pcm))}, nil
}

func (e *fakeEngine) Info() tts.EngineInfo {
	return tts.EngineInfo{
		Name:            "fake",
		DefaultVoice:    "test-voice",
		DefaultLangCode: "en",
		ConcurrencySafe: e.concurrencySafe,
	}
}

func (e *fakeEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

// fakePackager records what it was asked to package and writes a
// non-empty output so the packaged short-circuit sees a real file.
type fakePackager struct {
	mu       sync.Mutex
	chapters []m4b.ChapterAudio
	meta     ebook.Metadata
	calls    int
}

func (p *fakePackager) Package(_ context.Context, chapters []m4b.ChapterAudio, meta ebook.Metadata, outPath string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	p.chapters = chapters
	p.meta = meta
	if err := os.WriteFile(outPath, []byte("m4b"), 0o644); err != nil {
		return "", err
	}
	return outPath, nil
}

func testSettings() tts.SynthesisSettings {
	return tts.SynthesisSettings{
		ModelID:    "test-model",
		MaxChars:   400,
		MinChars:   50,
		SampleRate: 22050,
		Channels:   1,
		Speed:      1.0,
		LangCode:   "en",
	}
}

func writeBook(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleBook = `# Field Notes

## Morning

The valley was quiet before dawn. A single bird called from the ridge.

## Evening

The light faded slowly over the western slope.
`

func newTestPipeline(t *testing.T, engine *fakeEngine, packager *fakePackager, workers int) (*Pipeline, string) {
	t.Helper()
	cacheRoot := t.TempDir()
	pipeline, err := NewPipeline(PipelineOptions{
		CacheRoot:     cacheRoot,
		OutputDir:     t.TempDir(),
		Workers:       workers,
		SilenceMS:     100,
		Settings:      testSettings(),
		EngineFactory: func() (tts.Engine, error) { return engine, nil },
		Packager:      packager,
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}
	return pipeline, cacheRoot
}

func TestResolveInputs(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"b.epub", "a.epub", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	empty := t.TempDir()

	inputs, err := ResolveInputs([]string{dir, filepath.Join(dir, "notes.txt")})
	if err != nil {
		t.Fatalf("ResolveInputs: %v", err)
	}
	want := []string{
		filepath.Join(dir, "a.epub"),
		filepath.Join(dir, "b.epub"),
		filepath.Join(dir, "notes.txt"),
	}
	if len(inputs) != len(want) {
		t.Fatalf("inputs = %v, want %v", inputs, want)
	}
	for i := range want {
		if inputs[i] != want[i] {
			t.Errorf("inputs[%d] = %q, want %q", i, inputs[i], want[i])
		}
	}

	if _, err := ResolveInputs([]string{filepath.Join(dir, "missing.epub")}); err == nil {
		t.Error("expected error for missing input")
	}
	if _, err := ResolveInputs([]string{empty}); err == nil {
		t.Error("expected error for directory without epubs")
	}

	unsupported := writeBook(t, "cover.png", "x")
	if _, err := ResolveInputs([]string{unsupported}); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestRunPackagesBook(t *testing.T) {
	engine := &fakeEngine{concurrencySafe: true}
	packager := &fakePackager{}
	pipeline, cacheRoot := newTestPipeline(t, engine, packager, 2)

	input := writeBook(t, "notes.md", sampleBook)
	results, err := pipeline.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected one result, got %d", len(results))
	}

	result := results[0]
	if result.Status != BookPackaged {
		t.Fatalf("status = %s, err = %v", result.Status, result.Err)
	}
	if result.Title != "Field Notes" || result.Slug != "field-notes" {
		t.Errorf("identity = %q/%q", result.Title, result.Slug)
	}
	if len(result.Chapters) != 2 {
		t.Fatalf("chapters = %+v", result.Chapters)
	}
	for _, ch := range result.Chapters {
		if ch.Status != ChapterOK {
			t.Errorf("chapter %d status = %s (%v)", ch.Index, ch.Status, ch.Err)
		}
		if _, err := os.Stat(ch.Path); err != nil {
			t.Errorf("chapter %d audio missing: %v", ch.Index, err)
		}
	}

	if len(packager.chapters) != 2 {
		t.Fatalf("packaged chapters = %+v", packager.chapters)
	}
	if packager.chapters[0].Index > packager.chapters[1].Index {
		t.Error("packaged chapters not sorted by index")
	}
	if packager.meta.Title != "Field Notes" {
		t.Errorf("packaged metadata title = %q", packager.meta.Title)
	}
	if _, err := os.Stat(result.OutputPath); err != nil {
		t.Errorf("output missing: %v", err)
	}

	states, err := state.NewStore(filepath.Join(cacheRoot, "state"))
	if err != nil {
		t.Fatal(err)
	}
	st, ok, err := states.Load("Field Notes")
	if err != nil || !ok {
		t.Fatalf("state load: ok=%v err=%v", ok, err)
	}
	if !st.StepDone("packaged") || st.Artifacts["m4b"] != result.OutputPath {
		t.Errorf("state = %+v", st)
	}
}

func TestRunSkipsPackagedBook(t *testing.T) {
	engine := &fakeEngine{concurrencySafe: true}
	packager := &fakePackager{}
	pipeline, _ := newTestPipeline(t, engine, packager, 1)

	input := writeBook(t, "notes.md", sampleBook)
	if _, err := pipeline.Run(context.Background(), []string{input}); err != nil {
		t.Fatalf("first run: %v", err)
	}
	callsAfterFirst := engine.callCount()

	results, err := pipeline.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if results[0].Status != BookSkipped {
		t.Errorf("second run status = %s", results[0].Status)
	}
	if engine.callCount() != callsAfterFirst {
		t.Error("skipped book still called the engine")
	}
	if packager.calls != 1 {
		t.Errorf("packager calls = %d, want 1", packager.calls)
	}
}

func TestChapterFailureDoesNotAbortBook(t *testing.T) {
	engine := &fakeEngine{concurrencySafe: true, failOn: "valley"}
	packager := &fakePackager{}
	pipeline, cacheRoot := newTestPipeline(t, engine, packager, 1)

	input := writeBook(t, "notes.md", sampleBook)
	results, err := pipeline.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := results[0]
	if result.Status != BookPackaged {
		t.Fatalf("status = %s, err = %v", result.Status, result.Err)
	}

	var failed, ok int
	for _, ch := range result.Chapters {
		switch ch.Status {
		case ChapterFailed:
			failed++
		case ChapterOK:
			ok++
		}
	}
	if failed != 1 || ok != 1 {
		t.Errorf("chapter statuses = %+v", result.Chapters)
	}
	if len(packager.chapters) != 1 {
		t.Errorf("packaged chapters = %+v", packager.chapters)
	}

	errlogs, err := errlog.NewStore(filepath.Join(cacheRoot, "logs"))
	if err != nil {
		t.Fatal(err)
	}
	saved, found := errlogs.Load(result.Slug)
	if !found {
		t.Fatal("expected an error log for the failed chapter")
	}
	if saved.Len() == 0 {
		t.Error("error log is empty")
	}
}

func TestEmptyChapterIsRecorded(t *testing.T) {
	engine := &fakeEngine{concurrencySafe: true}
	packager := &fakePackager{}
	pipeline, _ := newTestPipeline(t, engine, packager, 1)

	content := "# Quiet Book\n\n## Silence\n\n!!!\n\n## Words\n\nSomething worth saying.\n"
	input := writeBook(t, "quiet.md", content)

	results, err := pipeline.Run(context.Background(), []string{input})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	result := results[0]
	if result.Status != BookPackaged {
		t.Fatalf("status = %s, err = %v", result.Status, result.Err)
	}
	var empty int
	for _, ch := range result.Chapters {
		if ch.Status == ChapterEmpty {
			empty++
		}
	}
	if empty != 1 {
		t.Errorf("chapter statuses = %+v", result.Chapters)
	}
	if len(packager.chapters) != 1 {
		t.Errorf("packaged chapters = %+v", packager.chapters)
	}
}

func TestUnsafeEngineForcesSingleWorker(t *testing.T) {
	var mu sync.Mutex
	constructions := 0
	factory := func() (tts.Engine, error) {
		mu.Lock()
		constructions++
		mu.Unlock()
		return &fakeEngine{concurrencySafe: false}, nil
	}

	pipeline, err := NewPipeline(PipelineOptions{
		CacheRoot:     t.TempDir(),
		OutputDir:     t.TempDir(),
		Workers:       4,
		Settings:      testSettings(),
		EngineFactory: factory,
		Packager:      &fakePackager{},
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	input := writeBook(t, "notes.md", sampleBook)
	if _, err := pipeline.Run(context.Background(), []string{input}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if constructions != 1 {
		t.Errorf("engine constructions = %d, want 1", constructions)
	}
}

func TestEnginePerWorker(t *testing.T) {
	var mu sync.Mutex
	constructions := 0
	factory := func() (tts.Engine, error) {
		mu.Lock()
		constructions++
		mu.Unlock()
		return &fakeEngine{concurrencySafe: true}, nil
	}

	pipeline, err := NewPipeline(PipelineOptions{
		CacheRoot:     t.TempDir(),
		OutputDir:     t.TempDir(),
		Workers:       2,
		Settings:      testSettings(),
		EngineFactory: factory,
		Packager:      &fakePackager{},
	})
	if err != nil {
		t.Fatalf("NewPipeline: %v", err)
	}

	input := writeBook(t, "notes.md", sampleBook)
	if _, err := pipeline.Run(context.Background(), []string{input}); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if constructions != 2 {
		t.Errorf("engine constructions = %d, want 2", constructions)
	}
}

func TestRunReportsFailureWhenAllBooksFail(t *testing.T) {
	engine := &fakeEngine{concurrencySafe: true}
	pipeline, _ := newTestPipeline(t, engine, &fakePackager{}, 1)

	results, err := pipeline.Run(context.Background(), []string{"/nonexistent/book.epub"})
	if err == nil {
		t.Fatal("expected error when every book fails")
	}
	if results[0].Status != BookFailed || results[0].Err == nil {
		t.Errorf("result = %+v", results[0])
	}
}

func TestNewPipelineValidation(t *testing.T) {
	if _, err := NewPipeline(PipelineOptions{EngineFactory: func() (tts.Engine, error) { return nil, nil }}); err == nil {
		t.Error("expected error without cache root")
	}
	if _, err := NewPipeline(PipelineOptions{CacheRoot: t.TempDir()}); err == nil {
		t.Error("expected error without engine factory")
	}
}
