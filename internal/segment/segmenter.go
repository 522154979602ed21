// Package segment splits text into speakable sentences.
//
// A Segmenter can be fed the same growing buffer (or its remainder plus new
// text) any number of times: it only returns sentences whose boundary has
// been confirmed by the text that follows them, and hands back everything else
// as the remainder. That makes incremental and one-shot segmentation agree.
package segment

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxRunes bounds a sentence that never reaches a terminal mark, and is
// the default chunk size for offline chunking.
const DefaultMaxRunes = 400

// Result is the outcome of one segmentation pass.
type Result struct {
	// Sentences are complete, trimmed, non-empty units in input order.
	Sentences []string
	// Remainder is the unconfirmed tail that may still be extended.
	Remainder string
}

// Segmenter finds sentence boundaries.
type Segmenter struct {
	maxRunes      int
	abbreviations map[string]bool
}

// Option configures a Segmenter.
type Option func(*Segmenter)

// WithMaxRunes sets the length at which a sentence without a terminal mark is
// force-split at its last whitespace. Zero or less disables the guard.
func WithMaxRunes(n int) Option {
	return func(s *Segmenter) {
		s.maxRunes = n
	}
}

// WithAbbreviations adds words (lowercase, without the trailing period) that
// never end a sentence.
func WithAbbreviations(words ...string) Option {
	return func(s *Segmenter) {
		for _, w := range words {
			s.abbreviations[strings.ToLower(w)] = true
		}
	}
}

// New creates a Segmenter.
func New(opts ...Option) *Segmenter {
	s := &Segmenter{
		maxRunes:      DefaultMaxRunes,
		abbreviations: defaultAbbreviations(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

var defaultSegmenter = New()

// Segment splits buffer with the default Segmenter.
func Segment(buffer string) Result {
	return defaultSegmenter.Segment(buffer)
}

// Segment extracts every sentence whose boundary is confirmed within buffer.
//
// A boundary is a run of terminal marks (optionally followed by closing quotes,
// brackets or emphasis markers) that is followed by whitespace, or a blank
// line. A run at the very end of the buffer is not confirmed yet, because the
// next delta may continue it ("3." + "14", "Wait." + "..").
func (s *Segmenter) Segment(buffer string) Result {
	runes := []rune(buffer)
	var sentences []string
	var start int

	emit := func(end int) {
		if text, ok := speakable(string(runes[start:end])); ok {
			sentences = append(sentences, text)
		}
	}

	start = skipSpace(runes, 0)
	i := start
scan:
	for i < len(runes) {
		if s.maxRunes > 0 && i-start >= s.maxRunes {
			cut := lastSpace(runes, start, i)
			if cut <= start {
				cut = i
			}
			emit(cut)
			start = skipSpace(runes, cut)
			if i < start {
				i = start
			}
			continue
		}

		r := runes[i]
		switch {
		case isTerminal(r):
			j := i
			for j < len(runes) && (isTerminal(runes[j]) || isCloser(runes[j])) {
				j++
			}
			if j == len(runes) {
				break scan
			}
			if unicode.IsSpace(runes[j]) && !s.isAbbreviation(runes, start, i) {
				emit(j)
				start = skipSpace(runes, j)
				j = start
			}
			i = j

		case r == '\n':
			k := i + 1
			for k < len(runes) && (runes[k] == ' ' || runes[k] == '\t' || runes[k] == '\r') {
				k++
			}
			if k < len(runes) && runes[k] == '\n' {
				emit(i)
				start = skipSpace(runes, k)
				i = start
				continue
			}
			i++

		default:
			i++
		}
	}

	return Result{
		Sentences: sentences,
		Remainder: string(runes[start:]),
	}
}

// Flush turns a final remainder into a sentence. It returns false when the
// remainder holds nothing speakable.
func (s *Segmenter) Flush(remainder string) (string, bool) {
	return speakable(remainder)
}

// Split returns every sentence of a complete text, including the trailing
// fragment.
func (s *Segmenter) Split(text string) []string {
	res := s.Segment(text)
	if last, ok := s.Flush(res.Remainder); ok {
		res.Sentences = append(res.Sentences, last)
	}
	return res.Sentences
}

// Split splits a complete text with the default Segmenter.
func Split(text string) []string {
	return defaultSegmenter.Split(text)
}

// Chunk splits a complete text into sentences and coalesces consecutive ones
// into units of at most maxRunes runes, joined by a single space. A sentence
// longer than maxRunes stays a unit on its own. Used when the full text is
// known upfront, to reduce the number of synthesis calls.
func Chunk(text string, maxRunes int) []string {
	if maxRunes <= 0 {
		maxRunes = DefaultMaxRunes
	}
	var (
		chunks  []string
		current strings.Builder
		length  int
	)
	for _, sentence := range New(WithMaxRunes(maxRunes)).Split(text) {
		n := utf8.RuneCountInString(sentence)
		if length > 0 && length+n+1 > maxRunes {
			chunks = append(chunks, current.String())
			current.Reset()
			length = 0
		}
		if length > 0 {
			current.WriteByte(' ')
			length++
		}
		current.WriteString(sentence)
		length += n
	}
	if length > 0 {
		chunks = append(chunks, current.String())
	}
	return chunks
}

// isAbbreviation checks whether the word ending right before the terminal mark
// at pos is a known abbreviation or a list ordinal ("1.", "12.").
func (s *Segmenter) isAbbreviation(runes []rune, start, pos int) bool {
	if runes[pos] != '.' || (pos+1 < len(runes) && isTerminal(runes[pos+1])) {
		return false
	}
	wordStart := pos
	for wordStart > start && !unicode.IsSpace(runes[wordStart-1]) {
		wordStart--
	}
	if wordStart == pos {
		return false
	}
	word := strings.ToLower(strings.TrimLeft(string(runes[wordStart:pos]), "([\"'*_"))
	if word == "" {
		return false
	}
	if s.abbreviations[word] {
		return true
	}
	// A bare number opening a line is a list marker, not a sentence.
	if isDigits(word) && (wordStart == start || runes[wordStart-1] == '\n') {
		return true
	}
	return false
}

func skipSpace(runes []rune, from int) int {
	for from < len(runes) && unicode.IsSpace(runes[from]) {
		from++
	}
	return from
}

func lastSpace(runes []rune, start, end int) int {
	for k := end - 1; k > start; k-- {
		if unicode.IsSpace(runes[k]) {
			return k
		}
	}
	return -1
}

// speakable trims text and reports whether anything worth saying is left.
// Whitespace-only and punctuation-only fragments are dropped.
func speakable(text string) (string, bool) {
	text = strings.TrimSpace(text)
	for _, r := range text {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return text, true
		}
	}
	return "", false
}

func isTerminal(r rune) bool {
	switch r {
	case '.', '!', '?', '…', '。', '！', '？':
		return true
	}
	return false
}

func isCloser(r rune) bool {
	switch r {
	case '"', '\'', '”', '’', '»', ')', ']', '*', '_':
		return true
	}
	return false
}

func isDigits(s string) bool {
	for _, r := range s {
		if !unicode.IsDigit(r) {
			return false
		}
	}
	return s != ""
}

// defaultAbbreviations returns abbreviations that are followed by a name or a
// continuation far more often than by a new sentence.
func defaultAbbreviations() map[string]bool {
	return map[string]bool{
		// Titles
		"mr": true, "mrs": true, "ms": true, "dr": true, "prof": true,
		"sr": true, "jr": true, "st": true,

		// Latin
		"e.g": true, "i.e": true, "cf": true, "vs": true,

		// Azerbaijani
		"məs": true, "bax": true, "nöm": true,
	}
}
