package extract

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	// ErrNoPayload means no JSON object could be isolated from the raw text.
	ErrNoPayload = errors.New("no structured payload found")
	// ErrStructuredResponseInvalid means a payload was found but does not
	// describe a valid document.
	ErrStructuredResponseInvalid = errors.New("structured response invalid")
)

var codeBlockRe = regexp.MustCompile("(?s)```[a-zA-Z]*[ \t]*\r?\n?(.*?)```")

// Payload isolates the JSON object in raw model output. It tries, in order:
// fenced code blocks, the whole text, and the first balanced {...} span that
// parses as JSON. Leading and trailing prose is discarded.
func Payload(raw string) (string, error) {
	text := strings.TrimSpace(raw)
	for _, m := range codeBlockRe.FindAllStringSubmatch(text, -1) {
		if body := strings.TrimSpace(m[1]); isObject(body) {
			return body, nil
		}
	}
	if isObject(text) {
		return text, nil
	}
	if c, ok := firstObject(text); ok {
		return c, nil
	}
	return "", ErrNoPayload
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && json.Valid([]byte(s))
}

// firstObject scans for balanced braces outside of JSON strings and returns
// the first span that is valid JSON.
func firstObject(s string) (string, bool) {
	for start := strings.IndexByte(s, '{'); start >= 0; {
		if end, ok := matchBrace(s, start); ok {
			if c := s[start : end+1]; json.Valid([]byte(c)) {
				return c, true
			}
		}
		next := strings.IndexByte(s[start+1:], '{')
		if next < 0 {
			break
		}
		start += next + 1
	}
	return "", false
}

func matchBrace(s string, start int) (int, bool) {
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case inString && c == '\\':
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
