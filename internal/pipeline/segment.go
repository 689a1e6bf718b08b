// Package pipeline contains the response side of the voice loop: sentence
// segmentation of the streamed chat completion, the shared TTS worker pool,
// cost accounting, and the orchestrator that ties them together per
// utterance.
package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Segmentation bounds. Sentences shorter than minSentenceRunes are merged
// with the following text so the TTS voice does not chop on interjections;
// buffers longer than forceBreakRunes are flushed even without punctuation
// so a list-heavy completion cannot stall synthesis indefinitely.
const (
	minSentenceRunes = 10
	forceBreakRunes  = 100
)

// abbreviations whose trailing period must not end a sentence. Compared
// case-insensitively against the text ending at the period.
var abbreviations = []string{
	"dr.", "mr.", "mrs.", "ms.", "prof.",
	"inc.", "ltd.", "corp.", "co.",
	"etc.", "vs.", "e.g.", "i.e.",
	"st.", "ave.",
}

// Segmenter accumulates streamed tokens and cuts them into sentences ready
// for synthesis. Not safe for concurrent use; the orchestrator owns one per
// response.
type Segmenter struct {
	buf string
}

// NewSegmenter returns an empty Segmenter.
func NewSegmenter() *Segmenter {
	return &Segmenter{}
}

// Push appends one token and returns any sentences completed by it, in
// order. Most calls return nil.
func (s *Segmenter) Push(token string) []string {
	if token == "" {
		return nil
	}
	s.buf += token

	var out []string
	for {
		sentence, rest, ok := cutSentence(s.buf)
		if !ok {
			break
		}
		s.buf = rest
		if sentence != "" {
			out = append(out, sentence)
		}
	}
	return out
}

// Flush returns the remaining buffered text, trimmed, and resets the
// segmenter. Called when the token stream ends.
func (s *Segmenter) Flush() string {
	text := strings.TrimSpace(s.buf)
	s.buf = ""
	return text
}

// cutSentence finds the first usable sentence boundary in buf and splits
// there. ok is false when buf holds no complete sentence yet.
func cutSentence(buf string) (sentence, rest string, ok bool) {
	runes := 0
	for i, r := range buf {
		runes++
		if !isBoundary(buf, i, r) {
			if runes >= forceBreakRunes && unicode.IsSpace(r) {
				// No punctuation in sight; cut at the next whitespace.
				end := i + utf8.RuneLen(r)
				return strings.TrimSpace(buf[:end]), strings.TrimLeft(buf[end:], " \t\n\r"), true
			}
			continue
		}

		end := i + utf8.RuneLen(r)
		candidate := strings.TrimSpace(buf[:end])
		if utf8.RuneCountInString(candidate) < minSentenceRunes {
			// Too short to speak on its own; keep scanning so it merges
			// with the following clause.
			continue
		}
		return candidate, strings.TrimLeft(buf[end:], " \t\n\r"), true
	}
	return "", buf, false
}

// isBoundary reports whether the rune r at byte offset i of buf ends a
// sentence.
func isBoundary(buf string, i int, r rune) bool {
	switch r {
	case '\n', '。', '！', '？', '!', '?':
		return true
	case '.':
		if !followedBySpace(buf, i+1) {
			return false
		}
		// A period right after a digit may continue a number ("3." then
		// "14"), so it never ends a sentence.
		if i > 0 && isDigit(buf[i-1]) {
			return false
		}
		return !endsWithAbbreviation(buf[:i+1])
	}
	return false
}

// followedBySpace reports whether buf continues with whitespace at offset j.
// End of buffer does not count: a period may continue mid-sentence
// ("3." followed by "14"), so the cut waits for the next token.
func followedBySpace(buf string, j int) bool {
	if j >= len(buf) {
		return false
	}
	switch buf[j] {
	case ' ', '\t', '\n', '\r':
		return true
	}
	return false
}

func isDigit(b byte) bool { return b >= '0' && b <= '9' }

// endsWithAbbreviation reports whether head (ending at a period) terminates
// in a known abbreviation at a word boundary.
func endsWithAbbreviation(head string) bool {
	lower := strings.ToLower(head)
	for _, abbr := range abbreviations {
		if !strings.HasSuffix(lower, abbr) {
			continue
		}
		// The character before the abbreviation must not be a letter,
		// otherwise "cellar st." style false positives slip through on
		// words that merely end with the same letters.
		before := len(lower) - len(abbr)
		if before == 0 {
			return true
		}
		r, _ := utf8.DecodeLastRuneInString(lower[:before])
		if !unicode.IsLetter(r) {
			return true
		}
	}
	return false
}
