// Package book drives whole books through the pipeline: read, clean,
// synthesize chapter by chapter, post-process, and package into an M4B.
// Chapter failures never abort their book; book failures never touch
// other books.
package book

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ChapterStatus classifies the outcome of one chapter.
type ChapterStatus string

const (
	// ChapterOK means the chapter produced audio.
	ChapterOK ChapterStatus = "ok"

	// ChapterEmpty means the chapter had no speakable text after cleaning.
	ChapterEmpty ChapterStatus = "empty"

	// ChapterFailed means processing errored; the book continues without
	// this chapter.
	ChapterFailed ChapterStatus = "failed"
)

// ChapterResult records one chapter's outcome.
type ChapterResult struct {
	Index  int
	Title  string
	Status ChapterStatus
	Path   string
	Err    error
}

// BookStatus classifies the outcome of one book.
type BookStatus string

const (
	// BookPackaged means an M4B was produced this run.
	BookPackaged BookStatus = "packaged"

	// BookSkipped means a previous run already packaged this book.
	BookSkipped BookStatus = "skipped"

	// BookFailed means no audiobook was produced.
	BookFailed BookStatus = "failed"
)

// BookResult records one book's outcome.
type BookResult struct {
	Input      string
	Title      string
	Slug       string
	Status     BookStatus
	OutputPath string
	Chapters   []ChapterResult
	Err        error
}

// sourceExtensions are the input formats the pipeline accepts. Anything
// else in an explicit argument is an error; directory scans only pick up
// .epub files.
var sourceExtensions = map[string]bool{
	".epub":     true,
	".md":       true,
	".markdown": true,
	".txt":      true,
}

// ResolveInputs expands the command-line arguments into an ordered list of
// book files. Directories contribute their *.epub entries sorted by name;
// explicit files must exist and carry a supported extension.
func ResolveInputs(args []string) ([]string, error) {
	var inputs []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", arg, err)
		}

		if !info.IsDir() {
			if !sourceExtensions[strings.ToLower(filepath.Ext(arg))] {
				return nil, fmt.Errorf("input %s: unsupported format", arg)
			}
			inputs = append(inputs, arg)
			continue
		}

		matches, err := filepath.Glob(filepath.Join(arg, "*.epub"))
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", arg, err)
		}
		if len(matches) == 0 {
			return nil, fmt.Errorf("input %s: no .epub files found", arg)
		}
		sort.Strings(matches)
		inputs = append(inputs, matches...)
	}
	return inputs, nil
}
