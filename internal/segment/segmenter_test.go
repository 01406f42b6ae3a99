package segment

import (
	"regexp"
	"strings"
	"testing"
	"unicode/utf8"
)

var endsWithPunctRE = regexp.MustCompile(`[.!?;:]["')\]]*$`)

func mustNew(t *testing.T, opts Options) *Segmenter {
	t.Helper()
	s, err := New(opts)
	if err != nil {
		t.Fatalf("New(%+v) failed: %v", opts, err)
	}
	return s
}

func assertSegmentsSafe(t *testing.T, segments []Segment, hardMax int) {
	t.Helper()
	if len(segments) == 0 {
		t.Fatal("expected at least one segment")
	}
	for i, seg := range segments {
		if seg.Index != i {
			t.Errorf("segment %d has index %d, want %d", i, seg.Index, i)
		}
		if n := utf8.RuneCountInString(seg.Text); n > hardMax {
			t.Errorf("segment %d has %d chars, exceeds hard max %d: %q", i, n, hardMax, seg.Text)
		}
		if !endsWithPunctRE.MatchString(seg.Text) {
			t.Errorf("segment %d does not end with terminal punctuation: %q", i, seg.Text)
		}
	}
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name    string
		opts    Options
		wantErr error
	}{
		{
			name:    "zero max chars",
			opts:    Options{MaxChars: 0},
			wantErr: ErrMaxCharsNotPositive,
		},
		{
			name:    "negative min chars",
			opts:    Options{MaxChars: 100, MinChars: -1},
			wantErr: ErrMinCharsNegative,
		},
		{
			name:    "min exceeds max",
			opts:    Options{MaxChars: 10, MinChars: 20},
			wantErr: ErrMinExceedsMax,
		},
		{
			name:    "max too small for punctuation",
			opts:    Options{MaxChars: 1, EnsureTerminalPunctuation: true},
			wantErr: ErrMaxCharsTooSmall,
		},
		{
			name: "valid defaults",
			opts: DefaultOptions(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.opts)
			if err != tt.wantErr {
				t.Errorf("New() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestSegmentEmptyInput(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 50, MinChars: 10, EnsureTerminalPunctuation: true})

	for _, text := range []string{"", "   ", "\n\n\t  \n"} {
		if got := s.Segment(text); len(got) != 0 {
			t.Errorf("Segment(%q) = %d segments, want 0", text, len(got))
		}
	}
}

func TestSegmentAppendsPunctuationWhenMissing(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 50, MinChars: 10, HardMaxChars: 60, EnsureTerminalPunctuation: true})

	segments := s.Segment("No punctuation here")
	assertSegmentsSafe(t, segments, 60)
	if segments[0].Text != "No punctuation here." {
		t.Errorf("got %q, want trailing period appended", segments[0].Text)
	}
}

func TestSegmentRespectsSentenceBoundaries(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 40, MinChars: 10, HardMaxChars: 50, EnsureTerminalPunctuation: true})

	text := "First sentence. Second sentence is a bit longer! Third sentence?"
	segments := s.Segment(text)
	assertSegmentsSafe(t, segments, 50)
	if len(segments) < 2 {
		t.Fatalf("expected multiple segments, got %d", len(segments))
	}
}

func TestSegmentSplitsLongSentenceOnWords(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 30, MinChars: 5, HardMaxChars: 30, EnsureTerminalPunctuation: true})

	text := "This is a very long sentence without punctuation that should be split " +
		"into multiple pieces for the segmenter"
	segments := s.Segment(text)
	assertSegmentsSafe(t, segments, 30)
	if len(segments) < 2 {
		t.Fatalf("expected at least 2 segments, got %d", len(segments))
	}
}

func TestSegmentSlicesOverlongWordOnRuneBoundaries(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 20, MinChars: 2, HardMaxChars: 20, EnsureTerminalPunctuation: true})

	word := strings.Repeat("ü", 50)
	segments := s.Segment(word)
	assertSegmentsSafe(t, segments, 20)
	for _, seg := range segments {
		if !utf8.ValidString(seg.Text) {
			t.Errorf("segment text is not valid UTF-8: %q", seg.Text)
		}
	}
}

func TestSegmentParagraphIsSoftBoundary(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 200, MinChars: 50, HardMaxChars: 250, EnsureTerminalPunctuation: true})

	// Two short paragraphs should merge into one segment because neither
	// reaches the minimum length on its own.
	text := "Short paragraph one.\n\nShort paragraph two."
	segments := s.Segment(text)
	if len(segments) != 1 {
		t.Fatalf("expected short paragraphs to merge, got %d segments", len(segments))
	}
	if !strings.Contains(segments[0].Text, "one.") || !strings.Contains(segments[0].Text, "two.") {
		t.Errorf("merged segment missing paragraph text: %q", segments[0].Text)
	}
}

func TestSegmentParagraphFlushAfterMinimum(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 200, MinChars: 10, HardMaxChars: 250, EnsureTerminalPunctuation: true})

	text := "This paragraph is long enough to flush.\n\nSecond paragraph follows."
	segments := s.Segment(text)
	if len(segments) != 2 {
		t.Fatalf("expected paragraph break to flush, got %d segments", len(segments))
	}
}

func TestSegmentPrefersExtendingOverMinimumViolation(t *testing.T) {
	// A current accumulator under min chars may exceed max (up to hard
	// max) rather than flush a tiny segment.
	s := mustNew(t, Options{MaxChars: 30, MinChars: 25, HardMaxChars: 40, EnsureTerminalPunctuation: true})

	text := "Tiny bit. Another small sentence here."
	segments := s.Segment(text)
	assertSegmentsSafe(t, segments, 40)
	if len(segments) != 1 {
		t.Fatalf("expected one merged segment, got %d: %+v", len(segments), segments)
	}
}

func TestSegmentReconstructsInputText(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 50, MinChars: 10, HardMaxChars: 60, EnsureTerminalPunctuation: true})

	text := "Sentence one. Sentence two. Sentence three. Sentence four."
	segments := s.Segment(text)
	assertSegmentsSafe(t, segments, 60)

	var joined []string
	for _, seg := range segments {
		joined = append(joined, seg.Text)
	}
	if got := strings.Join(joined, " "); got != text {
		t.Errorf("concatenated segments = %q, want original text", got)
	}
}

func TestSegmentIsDeterministic(t *testing.T) {
	s := mustNew(t, Options{MaxChars: 40, MinChars: 10, HardMaxChars: 50, EnsureTerminalPunctuation: true})

	text := "Alpha beta gamma. Delta epsilon zeta! Eta theta iota kappa?"
	first := s.Segment(text)
	second := s.Segment(text)
	if len(first) != len(second) {
		t.Fatalf("segment counts differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("segment %d differs between runs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestEnsureTerminalPunctuation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Hello", "Hello."},
		{"Hello.", "Hello."},
		{"Hello!", "Hello!"},
		{"Hello?", "Hello?"},
		{"Hello;", "Hello;"},
		{"Hello:", "Hello:"},
		{`He said "stop."`, `He said "stop."`},
		{"(aside.)", "(aside.)"},
	}

	for _, tt := range tests {
		if got := EnsureTerminalPunctuation(tt.in); got != tt.want {
			t.Errorf("EnsureTerminalPunctuation(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
