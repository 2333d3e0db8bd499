// Package voice holds text helpers shared by the speech stages.
package voice

import (
	"strings"
)

var abbreviations = []string{
	"Dr.", "Mr.", "Mrs.", "Ms.", "Jr.", "Sr.",
	"Prof.", "St.", "vs.", "etc.",
	"i.e.", "e.g.", "a.m.", "p.m.", "U.S.", "U.K.",
}

// SentenceBuffer accumulates streamed model text and releases complete
// sentences so synthesis can start before the reply is finished.
type SentenceBuffer struct {
	minChars int
	buffer   strings.Builder
	held     string
}

// NewSentenceBuffer creates a buffer. Sentences shorter than minChars are
// held and joined with the next one; 0 releases every sentence.
func NewSentenceBuffer(minChars int) *SentenceBuffer {
	if minChars < 0 {
		minChars = 0
	}
	return &SentenceBuffer{minChars: minChars}
}

// Add appends text and returns any sentences that are now complete.
func (b *SentenceBuffer) Add(text string) []string {
	b.buffer.WriteString(text)
	content := b.buffer.String()

	var out []string
	lastEnd := 0
	for i := 0; i < len(content); i++ {
		if !isSentenceEnd(content, i) {
			continue
		}
		sentence := strings.TrimSpace(content[lastEnd : i+1])
		lastEnd = i + 1
		if sentence == "" {
			continue
		}
		if b.held != "" {
			sentence = b.held + " " + sentence
			b.held = ""
		}
		if len(sentence) < b.minChars {
			b.held = sentence
			continue
		}
		out = append(out, sentence)
	}

	if lastEnd > 0 {
		b.buffer.Reset()
		b.buffer.WriteString(content[lastEnd:])
	}
	return out
}

// Flush returns any remaining text and clears the buffer.
func (b *SentenceBuffer) Flush() string {
	rest := strings.TrimSpace(b.buffer.String())
	b.buffer.Reset()
	if b.held != "" {
		if rest == "" {
			rest = b.held
		} else {
			rest = b.held + " " + rest
		}
		b.held = ""
	}
	return rest
}

// Reset drops buffered text.
func (b *SentenceBuffer) Reset() {
	b.buffer.Reset()
	b.held = ""
}

// isSentenceEnd reports whether s[i] closes a sentence. Terminal punctuation
// only counts once the following whitespace has arrived, so "3." followed
// later by "5" is not split.
func isSentenceEnd(s string, i int) bool {
	c := s[i]
	if c == '\n' {
		return true
	}
	if c != '.' && c != '!' && c != '?' {
		return false
	}
	if i+1 >= len(s) {
		return false
	}
	switch s[i+1] {
	case ' ', '\n', '\r', '\t':
	default:
		return false
	}
	if c == '.' && isAbbreviation(s, i) {
		return false
	}
	return true
}

func isAbbreviation(s string, i int) bool {
	start := i
	for start > 0 && s[start-1] != ' ' && s[start-1] != '\n' {
		start--
	}
	word := s[start : i+1]
	for _, abbr := range abbreviations {
		if strings.EqualFold(word, abbr) {
			return true
		}
	}
	// Initials: a single capital letter.
	return i-start == 1 && s[i-1] >= 'A' && s[i-1] <= 'Z'
}
