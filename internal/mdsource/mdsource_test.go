package mdsource

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

const sampleMarkdown = `# My Notes

Opening remarks before any chapter heading.

## First Chapter

The first chapter has a paragraph.
It continues on a second line.

` + "```go\nfmt.Println(\"skipped\")\n```" + `

### A Subsection

Deeper headings stay inside the chapter.

## Second Chapter

- item one
- item two!

Text with [a link](https://example.com) and ` + "`inline code`" + `.
`

func TestReadMarkdownChapters(t *testing.T) {
	book, err := NewReader(nil).Read(writeSource(t, "notes.md", sampleMarkdown))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}

	if book.Metadata.Title != "My Notes" {
		t.Errorf("book title = %q, want first level-1 heading", book.Metadata.Title)
	}
	if len(book.Chapters) != 3 {
		t.Fatalf("expected 3 chapters (preface + two headings), got %d: %+v", len(book.Chapters), book.Chapters)
	}

	preface := book.Chapters[0]
	if !strings.Contains(preface.Text, "Opening remarks") {
		t.Errorf("preface text = %q", preface.Text)
	}

	first := book.Chapters[1]
	if first.Title != "First Chapter" {
		t.Errorf("chapter title = %q", first.Title)
	}
	if strings.Contains(first.Text, "Println") {
		t.Errorf("code block leaked into chapter text: %q", first.Text)
	}
	if !strings.Contains(first.Text, "A Subsection.") {
		t.Errorf("subsection heading not spoken: %q", first.Text)
	}
	if !strings.Contains(first.Text, "paragraph. It continues") {
		t.Errorf("soft line break not joined: %q", first.Text)
	}

	second := book.Chapters[2]
	if second.Title != "Second Chapter" {
		t.Errorf("chapter title = %q", second.Title)
	}
	if !strings.Contains(second.Text, "item one.") || !strings.Contains(second.Text, "item two!") {
		t.Errorf("list items missing or unpunctuated: %q", second.Text)
	}
	if !strings.Contains(second.Text, "a link") || strings.Contains(second.Text, "example.com") {
		t.Errorf("link rendering wrong: %q", second.Text)
	}
	if !strings.Contains(second.Text, "inline code") {
		t.Errorf("inline code dropped: %q", second.Text)
	}

	for i, ch := range book.Chapters {
		if ch.Index != i {
			t.Errorf("chapter %d has index %d", i, ch.Index)
		}
	}
}

func TestReadMarkdownLevelOneOnly(t *testing.T) {
	r := NewReader(nil)
	r.ChapterHeadingLevel = 1

	book, err := r.Read(writeSource(t, "notes.md", sampleMarkdown))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	// Level-2 headings no longer split, so the whole document is one
	// chapter under the level-1 heading.
	if len(book.Chapters) != 1 {
		t.Fatalf("expected 1 chapter, got %d", len(book.Chapters))
	}
	if book.Chapters[0].Title != "My Notes" {
		t.Errorf("chapter title = %q", book.Chapters[0].Title)
	}
	if !strings.Contains(book.Chapters[0].Text, "First Chapter.") {
		t.Errorf("level-2 heading not spoken inside chapter: %q", book.Chapters[0].Text)
	}
}

func TestReadPlainText(t *testing.T) {
	book, err := NewReader(nil).Read(writeSource(t, "story.txt", "Just some plain text.\n\nWith two paragraphs.\n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if book.Metadata.Title != "story" {
		t.Errorf("book title = %q", book.Metadata.Title)
	}
	if len(book.Chapters) != 1 {
		t.Fatalf("expected 1 chapter, got %d", len(book.Chapters))
	}
	if !strings.Contains(book.Chapters[0].Text, "two paragraphs.") {
		t.Errorf("chapter text = %q", book.Chapters[0].Text)
	}
}

func TestReadEmptyPlainText(t *testing.T) {
	book, err := NewReader(nil).Read(writeSource(t, "empty.txt", "   \n"))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if len(book.Chapters) != 0 {
		t.Errorf("expected no chapters, got %d", len(book.Chapters))
	}
}

func TestReadMissingFile(t *testing.T) {
	if _, err := NewReader(nil).Read(filepath.Join(t.TempDir(), "missing.md")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
