// Package textclean normalizes extracted book text before segmentation.
package textclean

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Control characters other than newline and tab become spaces.
var controlCharsRE = regexp.MustCompile(`[\x00-\x08\x{0b}-\x{0d}\x{0e}-\x{1f}\x{7f}-\x{9f}]`)

// Bracketed references containing a digit: [1], [Chapter 3], [Note 123].
var citationRE = regexp.MustCompile(`\[[^\]]*\d[^\]]*\]`)

var (
	whitespaceRE       = regexp.MustCompile(`[ \t]+`)
	multipleNewlinesRE = regexp.MustCompile(`\n[ \t]*\n+`)
)

// Options selects the cleaning steps. The zero value disables everything;
// use DefaultOptions for the conservative defaults.
type Options struct {
	// NormalizeUnicode applies NFC composition so visually identical text
	// hashes identically.
	NormalizeUnicode bool

	// RemoveCitations drops bracketed references like [12] that read as
	// noise when spoken.
	RemoveCitations bool

	// PreserveParagraphBreaks keeps blank-line paragraph boundaries. When
	// false every newline becomes a space.
	PreserveParagraphBreaks bool
}

// DefaultOptions normalizes unicode and preserves paragraph breaks but
// leaves citations alone.
func DefaultOptions() Options {
	return Options{
		NormalizeUnicode:        true,
		PreserveParagraphBreaks: true,
	}
}

// Cleaner applies a fixed set of text normalization steps. Safe for
// concurrent use.
type Cleaner struct {
	opts Options
}

func New(opts Options) *Cleaner {
	return &Cleaner{opts: opts}
}

// Clean normalizes text: NFC composition, control-char removal, optional
// citation stripping, whitespace collapse, and trim. Pure function of the
// input and options.
func (c *Cleaner) Clean(text string) string {
	if text == "" {
		return ""
	}

	if c.opts.NormalizeUnicode {
		text = norm.NFC.String(text)
	}

	text = controlCharsRE.ReplaceAllString(text, " ")

	if c.opts.RemoveCitations {
		text = citationRE.ReplaceAllString(text, "")
	}

	if c.opts.PreserveParagraphBreaks {
		text = multipleNewlinesRE.ReplaceAllString(text, "\n\n")
	} else {
		text = strings.ReplaceAll(text, "\n", " ")
	}
	text = whitespaceRE.ReplaceAllString(text, " ")

	return strings.TrimSpace(text)
}
