// Package segment splits cleaned chapter text into bounded, ordered,
// punctuation-terminated chunks suitable for TTS synthesis.
//
// The segmenter prefers sentence boundaries, falls back to word boundaries
// for long sentences, and hard-slices single words that exceed the hard
// limit. Paragraph breaks are soft boundaries: a paragraph may end a chunk
// only once the chunk has reached the minimum length.
package segment

import (
	"errors"
	"regexp"
	"strings"
	"unicode/utf8"
)

// Default segmentation bounds.
const (
	DefaultMaxChars = 1000
	DefaultMinChars = 200
)

var (
	// ErrMaxCharsNotPositive indicates MaxChars was zero or negative.
	ErrMaxCharsNotPositive = errors.New("max chars must be positive")

	// ErrMinCharsNegative indicates MinChars was negative.
	ErrMinCharsNegative = errors.New("min chars cannot be negative")

	// ErrMinExceedsMax indicates MinChars was larger than MaxChars.
	ErrMinExceedsMax = errors.New("min chars cannot exceed max chars")

	// ErrMaxCharsTooSmall indicates MaxChars leaves no room for the
	// reserved terminal punctuation character.
	ErrMaxCharsTooSmall = errors.New("max chars must be at least 2 when terminal punctuation is enforced")
)

var (
	paragraphSplitRE = regexp.MustCompile(`\n{2,}`)
	whitespaceRE     = regexp.MustCompile(`\s+`)
	sentenceEndRE    = regexp.MustCompile(`[.!?]+["')\]]*`)
	terminalPunctRE  = regexp.MustCompile(`[.!?;:]+["')\]]*$`)
)

// Segment is one ordered piece of chapter text. Indices are zero-based and
// contiguous within the sequence that produced them.
type Segment struct {
	Index int
	Text  string
}

// Options configures a Segmenter.
type Options struct {
	// MaxChars is the preferred upper bound on segment length.
	MaxChars int

	// MinChars is the minimum length a segment should reach before a
	// paragraph break may end it.
	MinChars int

	// HardMaxChars is the absolute, never-to-exceed bound. Zero means
	// MaxChars * 5/4. Values below MaxChars are raised to MaxChars.
	HardMaxChars int

	// EnsureTerminalPunctuation appends a "." to segments that do not
	// already end with terminal punctuation. One character of MaxChars
	// and HardMaxChars is reserved for it.
	EnsureTerminalPunctuation bool
}

// DefaultOptions returns the segmentation bounds used by the pipeline when
// no explicit configuration is supplied.
func DefaultOptions() Options {
	return Options{
		MaxChars:                  DefaultMaxChars,
		MinChars:                  DefaultMinChars,
		EnsureTerminalPunctuation: true,
	}
}

// Segmenter splits text into bounded segments. It is a pure value: the
// same input always yields the same output, and it is safe for concurrent
// use.
type Segmenter struct {
	maxChars    int
	minChars    int
	hardMax     int
	ensurePunct bool
}

// New validates opts and returns a Segmenter.
func New(opts Options) (*Segmenter, error) {
	if opts.MaxChars <= 0 {
		return nil, ErrMaxCharsNotPositive
	}
	if opts.MinChars < 0 {
		return nil, ErrMinCharsNegative
	}
	if opts.MinChars > opts.MaxChars {
		return nil, ErrMinExceedsMax
	}
	if opts.EnsureTerminalPunctuation && opts.MaxChars < 2 {
		return nil, ErrMaxCharsTooSmall
	}

	hardMax := opts.HardMaxChars
	if hardMax == 0 {
		hardMax = opts.MaxChars * 5 / 4
	}
	if hardMax < opts.MaxChars {
		hardMax = opts.MaxChars
	}

	return &Segmenter{
		maxChars:    opts.MaxChars,
		minChars:    opts.MinChars,
		hardMax:     hardMax,
		ensurePunct: opts.EnsureTerminalPunctuation,
	}, nil
}

// maxLimit is the usable preferred bound, with one character reserved for
// an appended "." when punctuation enforcement is on.
func (s *Segmenter) maxLimit() int {
	if !s.ensurePunct {
		return s.maxChars
	}
	if s.maxChars-1 < 1 {
		return 1
	}
	return s.maxChars - 1
}

// hardLimit is the usable absolute bound, with the same reservation.
func (s *Segmenter) hardLimit() int {
	if !s.ensurePunct {
		return s.hardMax
	}
	if s.hardMax-1 < 1 {
		return 1
	}
	return s.hardMax - 1
}

// Segment splits text into ordered segments. Empty or whitespace-only
// input yields an empty slice.
func (s *Segmenter) Segment(text string) []Segment {
	if text == "" {
		return nil
	}

	acc := accumulator{seg: s}
	for _, paragraph := range splitParagraphs(text) {
		for _, sentence := range splitSentences(paragraph) {
			if runeLen(sentence) > s.hardLimit() {
				for _, piece := range s.splitLongSentence(sentence) {
					acc.append(piece)
				}
				continue
			}
			acc.append(sentence)
		}

		// Paragraph breaks only end a chunk once the minimum is met.
		if acc.current != "" && runeLen(acc.current) >= s.minChars {
			acc.flush()
		}
	}
	acc.flush()

	return acc.segments
}

// accumulator holds the in-progress chunk while sentences are appended.
type accumulator struct {
	seg      *Segmenter
	current  string
	segments []Segment
}

func (a *accumulator) append(piece string) {
	piece = strings.TrimSpace(piece)
	if piece == "" {
		return
	}
	if a.current == "" {
		a.current = piece
		return
	}

	candidate := a.current + " " + piece
	if runeLen(candidate) <= a.seg.maxLimit() {
		a.current = candidate
		return
	}

	// Exceed the preferred bound, up to the hard bound, only to satisfy
	// an unmet minimum length.
	if runeLen(a.current) < a.seg.minChars && runeLen(candidate) <= a.seg.hardLimit() {
		a.current = candidate
		return
	}

	a.flush()
	a.current = piece
}

func (a *accumulator) flush() {
	chunk := strings.TrimSpace(a.current)
	a.current = ""
	if chunk == "" {
		return
	}
	if a.seg.ensurePunct {
		chunk = EnsureTerminalPunctuation(chunk)
	}
	a.segments = append(a.segments, Segment{Index: len(a.segments), Text: chunk})
}

// splitLongSentence breaks a sentence that exceeds the hard limit into
// word-joined pieces, each within the hard limit. Single words longer than
// the hard limit are sliced on rune boundaries.
func (s *Segmenter) splitLongSentence(sentence string) []string {
	words := strings.Fields(sentence)
	if len(words) == 0 {
		return nil
	}

	limit := s.hardLimit()
	var pieces []string
	current := ""
	for _, word := range words {
		if runeLen(word) > limit {
			if current != "" {
				pieces = append(pieces, current)
				current = ""
			}
			pieces = append(pieces, sliceRunes(word, limit)...)
			continue
		}

		if current == "" {
			current = word
			continue
		}

		candidate := current + " " + word
		if runeLen(candidate) <= limit {
			current = candidate
			continue
		}

		pieces = append(pieces, current)
		current = word
	}

	if current != "" {
		pieces = append(pieces, current)
	}
	return pieces
}

// splitParagraphs breaks text on blank-line boundaries and collapses
// intra-paragraph whitespace runs to single spaces.
func splitParagraphs(text string) []string {
	raw := paragraphSplitRE.Split(text, -1)
	paragraphs := make([]string, 0, len(raw))
	for _, paragraph := range raw {
		paragraph = whitespaceRE.ReplaceAllString(strings.TrimSpace(paragraph), " ")
		if paragraph != "" {
			paragraphs = append(paragraphs, paragraph)
		}
	}
	return paragraphs
}

// splitSentences splits a paragraph after every terminal punctuation run.
// Text without terminal punctuation is one sentence.
func splitSentences(text string) []string {
	var sentences []string
	last := 0
	for _, match := range sentenceEndRE.FindAllStringIndex(text, -1) {
		sentence := strings.TrimSpace(text[last:match[1]])
		if sentence != "" {
			sentences = append(sentences, sentence)
		}
		last = match[1]
	}
	if rest := strings.TrimSpace(text[last:]); rest != "" {
		sentences = append(sentences, rest)
	}
	return sentences
}

// EnsureTerminalPunctuation appends a "." unless text already ends with
// terminal punctuation, optionally followed by closing quotes, parens, or
// brackets.
func EnsureTerminalPunctuation(text string) string {
	if terminalPunctRE.MatchString(text) {
		return text
	}
	return text + "."
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}

// sliceRunes cuts s into pieces of at most size runes, never splitting a
// codepoint.
func sliceRunes(s string, size int) []string {
	if size <= 0 {
		return []string{s}
	}
	var pieces []string
	runes := []rune(s)
	for start := 0; start < len(runes); start += size {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		pieces = append(pieces, string(runes[start:end]))
	}
	return pieces
}
