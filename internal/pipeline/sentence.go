package pipeline

import (
	"strings"
	"unicode/utf8"
)

const (
	// DefaultChunkLength is the speakable chunk size in characters.
	DefaultChunkLength = 150
	// DefaultMaxAnswerLength bounds an answer before it is chunked.
	DefaultMaxAnswerLength = 1000
)

var sentenceEnders = map[byte]bool{'.': true, '!': true, '?': true}

// Split breaks text into speakable chunks of at most maxLen characters.
// Sentences are packed greedily and joined by a single space; a sentence
// longer than maxLen becomes its own chunk. Text that already fits is
// returned whole. Blank text yields no chunks.
func Split(text string, maxLen int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxLen <= 0 {
		maxLen = DefaultChunkLength
	}
	if runeLen(text) <= maxLen {
		return []string{text}
	}

	var chunks []string
	var cur strings.Builder
	curLen := 0
	for _, sentence := range splitSentences(text) {
		n := runeLen(sentence)
		switch {
		case curLen == 0:
			cur.WriteString(sentence)
			curLen = n
		case curLen+1+n <= maxLen:
			cur.WriteByte(' ')
			cur.WriteString(sentence)
			curLen += 1 + n
		default:
			chunks = append(chunks, cur.String())
			cur.Reset()
			cur.WriteString(sentence)
			curLen = n
		}
	}
	if curLen > 0 {
		chunks = append(chunks, cur.String())
	}
	return chunks
}

// splitSentences cuts text after every sentence ender that is followed by
// whitespace.
func splitSentences(text string) []string {
	var out []string
	start := 0
	for i := 0; i < len(text)-1; i++ {
		if sentenceEnders[text[i]] && isWordBoundary(text[i+1]) {
			if s := strings.TrimSpace(text[start : i+1]); s != "" {
				out = append(out, s)
			}
			start = i + 1
		}
	}
	if s := strings.TrimSpace(text[start:]); s != "" {
		out = append(out, s)
	}
	return out
}

func isWordBoundary(ch byte) bool {
	return ch == ' ' || ch == '\n' || ch == '\t' || ch == '\r'
}

// TruncateAnswer cuts text longer than max characters to max-3 characters
// followed by "...".
func TruncateAnswer(text string, max int) string {
	if max <= 3 || runeLen(text) <= max {
		return text
	}
	runes := []rune(text)
	return string(runes[:max-3]) + "..."
}

func runeLen(s string) int {
	return utf8.RuneCountInString(s)
}
