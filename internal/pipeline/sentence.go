package pipeline

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// splitSentences breaks text after every sentence ender (.!?) that is
// followed by whitespace, consuming that whitespace run. Any Unicode space
// counts, so NBSP and line separators split too. Pieces are trimmed and
// blanks dropped.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		if !sentenceEnders[text[i]] {
			continue
		}
		j := skipSpace(text, i+1)
		if j == i+1 {
			continue
		}
		out = appendTrimmed(out, text[start:i+1])
		start = j
		i = j - 1
	}
	if start < len(text) {
		out = appendTrimmed(out, text[start:])
	}
	return out
}

// skipSpace returns the index of the first non-space rune at or after i.
func skipSpace(text string, i int) int {
	for i < len(text) {
		r, size := utf8.DecodeRuneInString(text[i:])
		if !unicode.IsSpace(r) {
			break
		}
		i += size
	}
	return i
}

// reflow puts one sentence per line with no blank lines.
func reflow(text string) string {
	var lines []string
	for _, line := range strings.Split(strings.Join(splitSentences(text), "\n"), "\n") {
		lines = appendTrimmed(lines, line)
	}
	return strings.Join(lines, "\n")
}

func appendTrimmed(out []string, s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return out
	}
	return append(out, s)
}
