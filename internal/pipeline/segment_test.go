package pipeline

import (
	"strings"
	"testing"
)

// pushAll feeds text to the segmenter one small token at a time, the way a
// chat stream delivers it, and collects every completed sentence.
func pushAll(s *Segmenter, text string, tokenLen int) []string {
	var out []string
	for len(text) > 0 {
		n := min(tokenLen, len(text))
		out = append(out, s.Push(text[:n])...)
		text = text[n:]
	}
	return out
}

func TestSegmenterBasicSentences(t *testing.T) {
	t.Parallel()

	s := NewSegmenter()
	got := pushAll(s, "Hello there my friend. How are you doing today? Fine", 3)

	want := []string{"Hello there my friend.", "How are you doing today?"}
	if len(got) != len(want) {
		t.Fatalf("sentences = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sentence %d = %q, want %q", i, got[i], want[i])
		}
	}
	if rest := s.Flush(); rest != "Fine" {
		t.Errorf("Flush = %q, want %q", rest, "Fine")
	}
}

func TestSegmenterAbbreviationGuard(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want string
	}{
		{"Dr. Smith arrived here today. Next", "Dr. Smith arrived here today."},
		{"Ask Mr. Jones about the details. Next", "Ask Mr. Jones about the details."},
		{"Use butter, salt, etc. in the batter. Next", "Use butter, salt, etc. in the batter."},
		{"Take apples vs. oranges for example. Next", "Take apples vs. oranges for example."},
		{"Meet me on Baker St. at noon tomorrow. Next", "Meet me on Baker St. at noon tomorrow."},
	}
	for _, c := range cases {
		s := NewSegmenter()
		got := pushAll(s, c.in, 4)
		if len(got) != 1 || got[0] != c.want {
			t.Errorf("input %q: sentences = %q, want [%q]", c.in, got, c.want)
		}
	}
}

func TestSegmenterAbbreviationNeedsWordBoundary(t *testing.T) {
	t.Parallel()

	// "boulevard." merely ends with the letters of an abbreviation ("d.")
	// is not in the list, but "grandr." style suffixes must not match "dr.".
	s := NewSegmenter()
	got := pushAll(s, "We walked down the boulevard. Then home", 5)
	if len(got) != 1 || got[0] != "We walked down the boulevard." {
		t.Errorf("sentences = %q, want the full first sentence", got)
	}
}

func TestSegmenterDecimalGuard(t *testing.T) {
	t.Parallel()

	s := NewSegmenter()
	got := pushAll(s, "The total comes to 3.50 euros exactly. Next", 2)
	if len(got) != 1 || got[0] != "The total comes to 3.50 euros exactly." {
		t.Errorf("sentences = %q, decimal point must not split", got)
	}
}

func TestSegmenterTrailingNumberWaits(t *testing.T) {
	t.Parallel()

	// "3." at the end of a token must not break: the next token may
	// continue the number.
	s := NewSegmenter()
	var got []string
	got = append(got, s.Push("The answer is number 3.")...)
	got = append(got, s.Push("14 rounded down. Next")...)

	if len(got) != 1 || got[0] != "The answer is number 3.14 rounded down." {
		t.Errorf("sentences = %q, want the decimal kept intact", got)
	}
}

func TestSegmenterExclamationWithoutSpace(t *testing.T) {
	t.Parallel()

	// Unlike periods, ! and ? end a sentence even when the next word follows
	// without whitespace.
	s := NewSegmenter()
	got := pushAll(s, "Stop right there!Now keep walking", 4)
	if len(got) != 1 || got[0] != "Stop right there!" {
		t.Errorf("sentences = %q, want the exclamation to break", got)
	}
	if rest := s.Flush(); rest != "Now keep walking" {
		t.Errorf("Flush = %q, want the trailing clause", rest)
	}
}

func TestSegmenterMinimumLength(t *testing.T) {
	t.Parallel()

	s := NewSegmenter()
	got := pushAll(s, "No. Not yet, but come back later. Next", 3)
	if len(got) != 1 || got[0] != "No. Not yet, but come back later." {
		t.Errorf("sentences = %q, short interjection must merge forward", got)
	}
}

func TestSegmenterNewlineBoundary(t *testing.T) {
	t.Parallel()

	s := NewSegmenter()
	got := pushAll(s, "First line of the answer\nSecond line keeps going", 7)
	if len(got) != 1 || got[0] != "First line of the answer" {
		t.Errorf("sentences = %q, newline must break", got)
	}
}

func TestSegmenterCJKBoundary(t *testing.T) {
	t.Parallel()

	s := NewSegmenter()
	got := pushAll(s, "こんにちは、元気ですか。次の文です", 6)
	if len(got) != 1 || got[0] != "こんにちは、元気ですか。" {
		t.Errorf("sentences = %q, CJK full stop must break without trailing space", got)
	}
}

func TestSegmenterForceBreak(t *testing.T) {
	t.Parallel()

	long := strings.Repeat("abcd ", 30) // 150 runes, no punctuation
	s := NewSegmenter()
	got := pushAll(s, long, 10)
	if len(got) == 0 {
		t.Fatal("a long unpunctuated run must force a break")
	}
	if n := len([]rune(got[0])); n > forceBreakRunes {
		t.Errorf("forced sentence is %d runes, cap is %d", n, forceBreakRunes)
	}
}

func TestSegmenterFlushEmpty(t *testing.T) {
	t.Parallel()

	s := NewSegmenter()
	if got := s.Flush(); got != "" {
		t.Errorf("Flush on empty segmenter = %q, want empty", got)
	}
	if got := s.Push(""); got != nil {
		t.Errorf("Push(\"\") = %v, want nil", got)
	}
}
