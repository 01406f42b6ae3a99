package m4b

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/narroapp/narro/internal/audio"
	"github.com/narroapp/narro/internal/ebook"
)

func writeChapterWAV(t *testing.T, dir, name string, seconds int) string {
	t.Helper()
	format := audio.Format{SampleRate: 1000, Channels: 1}
	pcm := bytes.Repeat([]byte{0x01, 0x00}, 1000*seconds)
	path := filepath.Join(dir, name)
	if err := audio.WriteWAV(path, format, pcm); err != nil {
		t.Fatalf("WriteWAV: %v", err)
	}
	return path
}

func TestEnsureM4BPath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"book.m4b", "book.m4b"},
		{"book.M4B", "book.M4B"},
		{"book.wav", "book.m4b"},
		{"book", "book.m4b"},
		{"out/book.mp3", "out/book.m4b"},
	}

	for _, tt := range tests {
		if got := ensureM4BPath(tt.in); got != tt.want {
			t.Errorf("ensureM4BPath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestConcatFileEscaping(t *testing.T) {
	chapters := []ChapterAudio{
		{Path: "/audio/ch1.wav"},
		{Path: "/audio/it's here.wav"},
	}

	got := concatFile(chapters)
	want := "file '/audio/ch1.wav'\nfile '/audio/it'\\''s here.wav'\n"
	if got != want {
		t.Errorf("concatFile = %q, want %q", got, want)
	}
}

func TestMetadataFile(t *testing.T) {
	dir := t.TempDir()
	chapters := []ChapterAudio{
		{Index: 0, Title: "Intro", Path: writeChapterWAV(t, dir, "ch0.wav", 2)},
		{Index: 1, Title: "", Path: writeChapterWAV(t, dir, "ch1.wav", 3)},
	}
	meta := ebook.Metadata{Title: "My Book; Vol #1", Author: "Jane = Author"}

	got, err := metadataFile(chapters, meta)
	if err != nil {
		t.Fatalf("metadataFile: %v", err)
	}

	if !strings.HasPrefix(got, ";FFMETADATA1\n") {
		t.Errorf("missing header: %q", got)
	}
	for _, want := range []string{
		`title=My Book\; Vol \#1`,
		`album=My Book\; Vol \#1`,
		`artist=Jane \= Author`,
		"genre=Audiobook",
		"stik=2",
		"TIMEBASE=1/1000",
		"START=0",
		"END=2000",
		"title=Intro",
		"START=2000",
		"END=5000",
		"title=Chapter 2",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("metadata missing %q in:\n%s", want, got)
		}
	}
}

func TestEscapeMetadataValue(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain", "plain"},
		{`back\slash`, `back\\slash`},
		{"semi;colon", `semi\;colon`},
		{"eq=sign", `eq\=sign`},
		{"hash#tag", `hash\#tag`},
		{"line\nbreak", `line\nbreak`},
	}

	for _, tt := range tests {
		if got := escapeMetadataValue(tt.in); got != tt.want {
			t.Errorf("escapeMetadataValue(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBuildFFmpegArgs(t *testing.T) {
	t.Run("without cover", func(t *testing.T) {
		args := buildFFmpegArgs("concat.txt", "meta.txt", "out.m4b", "", "128k")
		joined := strings.Join(args, " ")
		for _, want := range []string{
			"-f concat -safe 0 -i concat.txt",
			"-f ffmetadata -i meta.txt",
			"-map 0:a",
			"-map_metadata 1",
			"-c:a aac -b:a 128k",
		} {
			if !strings.Contains(joined, want) {
				t.Errorf("args missing %q: %s", want, joined)
			}
		}
		if strings.Contains(joined, "attached_pic") {
			t.Error("cover disposition present without a cover")
		}
		if args[len(args)-1] != "out.m4b" {
			t.Errorf("output not last: %v", args)
		}
	})

	t.Run("with cover", func(t *testing.T) {
		args := buildFFmpegArgs("concat.txt", "meta.txt", "out.m4b", "cover.jpg", "96k")
		joined := strings.Join(args, " ")
		for _, want := range []string{
			"-i cover.jpg",
			"-map 1:v",
			"-map_metadata 2",
			"-disposition:v:0 attached_pic",
		} {
			if !strings.Contains(joined, want) {
				t.Errorf("args missing %q: %s", want, joined)
			}
		}
	})
}

func TestPackageValidation(t *testing.T) {
	p := NewPackager(PackagerOptions{WorkDir: t.TempDir()})

	if _, err := p.Package(context.Background(), nil, ebook.Metadata{}, "out.m4b"); err != ErrNoChapters {
		t.Errorf("empty package error = %v, want ErrNoChapters", err)
	}

	missing := []ChapterAudio{{Index: 0, Path: filepath.Join(t.TempDir(), "missing.wav")}}
	if _, err := p.Package(context.Background(), missing, ebook.Metadata{}, "out.m4b"); err == nil ||
		!strings.Contains(err.Error(), "missing") {
		t.Errorf("missing chapter error = %v", err)
	}
}

func TestSortChapters(t *testing.T) {
	chapters := []ChapterAudio{{Index: 2}, {Index: 0}, {Index: 1}}
	sortChapters(chapters)
	for i, ch := range chapters {
		if ch.Index != i {
			t.Fatalf("chapters not sorted: %+v", chapters)
		}
	}
}
