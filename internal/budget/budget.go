package budget

import (
	"math"
	"strings"
	"unicode"
)

const (
	// LinesPerPage and CharsPerLine turn a page budget into a character budget.
	LinesPerPage = 40
	CharsPerLine = 40

	// MaxOutputTokens caps any single generation request.
	MaxOutputTokens = 8192
)

// EstimateTokens gives a rough token count: ~1.33 tokens per
// whitespace-separated word, plus one per CJK character since those
// scripts carry no spaces.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	words := 0
	cjk := 0
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			cjk++
			inWord = false
		case unicode.IsSpace(r):
			inWord = false
		default:
			if !inWord {
				words++
			}
			inWord = true
		}
	}
	tokens := int(float64(words)*1.33) + cjk
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// ExpectedChars converts a page budget to characters. A missing or
// non-positive budget counts as one page.
func ExpectedChars(pages float64) int {
	if pages <= 0 {
		pages = 1
	}
	return int(math.Round(pages * LinesPerPage * CharsPerLine))
}

// OutputTokens returns the output budget for chars characters of prose
// with 20% headroom, never below floor and never above MaxOutputTokens.
func OutputTokens(chars, floor int) int {
	n := int(float64(chars) * 1.2)
	if n < floor {
		n = floor
	}
	if n > MaxOutputTokens {
		n = MaxOutputTokens
	}
	return n
}

// Length measures generated text in characters, not bytes.
func Length(text string) int {
	return len([]rune(text))
}

// TailRunes returns the last n characters of text.
func TailRunes(text string, n int) string {
	r := []rune(text)
	if n <= 0 {
		return ""
	}
	if len(r) <= n {
		return text
	}
	return string(r[len(r)-n:])
}

// LastLines returns the last n non-blank lines of text.
func LastLines(text string, n int) string {
	var lines []string
	for _, l := range strings.Split(text, "\n") {
		if strings.TrimSpace(l) != "" {
			lines = append(lines, l)
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Excerpt trims text to roughly maxTokens by keeping whole paragraphs from
// the start and the end and eliding the middle.
func Excerpt(text string, maxTokens int) string {
	if EstimateTokens(text) <= maxTokens {
		return text
	}
	paras := splitByParagraphs(text)
	half := maxTokens / 2

	var head, tail []string
	used := 0
	i, j := 0, len(paras)-1
	for i <= j {
		t := EstimateTokens(paras[i])
		if used+t > half {
			break
		}
		head = append(head, paras[i])
		used += t
		i++
	}
	used = 0
	for j >= i {
		t := EstimateTokens(paras[j])
		if used+t > half {
			break
		}
		tail = append([]string{paras[j]}, tail...)
		used += t
		j--
	}
	parts := append(head, "[...]")
	return strings.Join(append(parts, tail...), "\n\n")
}

// splitByParagraphs splits on double-newlines.
func splitByParagraphs(text string) []string {
	parts := strings.Split(text, "\n\n")
	var result []string
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
