// Package mdsource reads markdown and plain-text files as books, so a
// directory of notes can be narrated without packaging it as an EPUB.
// Headings up to the configured level start new chapters.
package mdsource

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/narroapp/narro/internal/ebook"
)

// Reader reads .md, .markdown and .txt files into the shared book model.
type Reader struct {
	// ChapterHeadingLevel is the deepest heading level that starts a new
	// chapter. Defaults to 2.
	ChapterHeadingLevel int

	logger *log.Logger
}

func NewReader(logger *log.Logger) *Reader {
	if logger == nil {
		logger = log.Default()
	}
	return &Reader{ChapterHeadingLevel: 2, logger: logger}
}

var _ ebook.Source = (*Reader)(nil)

// Read parses the file into chapters. Plain-text files become a single
// chapter titled after the file.
func (r *Reader) Read(path string) (*ebook.Book, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source: %w", err)
	}
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".markdown":
		return r.parseMarkdown(content, stem), nil
	default:
		text := strings.TrimSpace(string(content))
		book := &ebook.Book{Metadata: ebook.Metadata{Title: stem}}
		if text != "" {
			book.Chapters = []ebook.Chapter{{Index: 0, Title: stem, Text: text}}
		}
		return book, nil
	}
}

func (r *Reader) parseMarkdown(source []byte, stem string) *ebook.Book {
	md := goldmark.New()
	doc := md.Parser().Parse(text.NewReader(source))

	bookTitle := ""
	var chapters []ebook.Chapter
	var title string
	var paragraphs []string

	flush := func() {
		body := strings.TrimSpace(strings.Join(paragraphs, "\n\n"))
		paragraphs = nil
		if body == "" {
			return
		}
		t := title
		if t == "" {
			t = fmt.Sprintf("Chapter %d", len(chapters)+1)
		}
		chapters = append(chapters, ebook.Chapter{Index: len(chapters), Title: t, Text: body})
	}

	for node := doc.FirstChild(); node != nil; node = node.NextSibling() {
		if heading, ok := node.(*ast.Heading); ok {
			headingText := strings.TrimSpace(inlineText(heading, source))
			if heading.Level == 1 && bookTitle == "" {
				bookTitle = headingText
			}
			if heading.Level <= r.ChapterHeadingLevel {
				flush()
				title = headingText
				continue
			}
			// Deeper headings stay inside the chapter as spoken text.
			if headingText != "" {
				paragraphs = append(paragraphs, ensureSentence(headingText))
			}
			continue
		}
		if block := r.renderBlock(node, source); block != "" {
			paragraphs = append(paragraphs, block)
		}
	}
	flush()

	if bookTitle == "" {
		bookTitle = stem
	}
	return &ebook.Book{Metadata: ebook.Metadata{Title: bookTitle}, Chapters: chapters}
}

// renderBlock turns one top-level block into speakable text. Code and raw
// HTML are never speakable.
func (r *Reader) renderBlock(node ast.Node, source []byte) string {
	switch n := node.(type) {
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
		return ""

	case *ast.Paragraph:
		return strings.TrimSpace(inlineText(n, source))

	case *ast.Blockquote:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if block := r.renderBlock(c, source); block != "" {
				parts = append(parts, block)
			}
		}
		return strings.Join(parts, "\n\n")

	case *ast.List:
		var items []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			item := strings.TrimSpace(blockText(c, source))
			if item != "" {
				items = append(items, ensureSentence(item))
			}
		}
		return strings.Join(items, "\n")

	case *ast.ThematicBreak:
		return ""

	default:
		return strings.TrimSpace(blockText(node, source))
	}
}

// blockText flattens a node's speakable content, skipping code blocks.
func blockText(node ast.Node, source []byte) string {
	var b strings.Builder
	var walk func(ast.Node)
	walk = func(n ast.Node) {
		switch t := n.(type) {
		case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock, *ast.Image:
			return
		case *ast.Text:
			b.Write(t.Segment.Value(source))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteString(" ")
			}
			return
		}
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			walk(c)
		}
	}
	walk(node)
	return b.String()
}

// inlineText flattens inline content: link text without the URL, inline
// code verbatim, images dropped.
func inlineText(node ast.Node, source []byte) string {
	return blockText(node, source)
}

func ensureSentence(s string) string {
	switch s[len(s)-1] {
	case '.', '!', '?', ':', ';':
		return s
	}
	return s + "."
}
