package contract

import (
	"bytes"
	"encoding/json"
	"strings"
)

// ExtractObject finds the first well-formed JSON object in raw model output.
// It tolerates markdown fences, prose around the object, // and /* */
// comments, and numerals written as ".5". Numbers decode as json.Number.
func ExtractObject(raw string) (map[string]any, bool) {
	text := stripFences(raw)
	for offset := 0; offset < len(text); {
		i := strings.IndexByte(text[offset:], '{')
		if i < 0 {
			return nil, false
		}
		start := offset + i
		if block := balancedBlock(text[start:]); block != "" {
			if obj, ok := decodeObject(sanitize(block)); ok {
				return obj, true
			}
		}
		offset = start + 1
	}
	return nil, false
}

func decodeObject(s string) (map[string]any, bool) {
	dec := json.NewDecoder(bytes.NewReader([]byte(s)))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil || obj == nil {
		return nil, false
	}
	return obj, true
}

// stripFences drops markdown fence lines, keeping their contents.
func stripFences(s string) string {
	if !strings.Contains(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			continue
		}
		kept = append(kept, line)
	}
	return strings.Join(kept, "\n")
}

// balancedBlock returns the prefix of s (which starts with '{') up to its
// matching close brace, or "" when the braces never balance.
func balancedBlock(s string) string {
	depth := 0
	sc := scanner{}
	for i := 0; i < len(s); i++ {
		if sc.inString(s[i]) {
			continue
		}
		if n, ok := commentSpan(s[i:]); ok {
			if n < 0 {
				return ""
			}
			i += n - 1
			continue
		}
		switch s[i] {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[:i+1]
			}
		}
	}
	return ""
}

// sanitize removes comments and repairs leading-dot numerals outside of
// string literals in a single pass.
func sanitize(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 8)
	sc := scanner{}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if sc.inString(c) {
			b.WriteByte(c)
			continue
		}
		if n, ok := commentSpan(s[i:]); ok {
			if n < 0 {
				break
			}
			i += n - 1
			continue
		}
		if c == '.' && i+1 < len(s) && isDigit(s[i+1]) && startsNumber(lastSignificant(s, i-1)) {
			b.WriteByte('0')
		}
		b.WriteByte(c)
	}
	return b.String()
}

// commentSpan reports whether s opens a // or /* */ comment and, if so, how
// many bytes it spans. A // comment ends before its newline. An unterminated
// block comment yields -1.
func commentSpan(s string) (int, bool) {
	if len(s) < 2 || s[0] != '/' {
		return 0, false
	}
	switch s[1] {
	case '/':
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			return nl, true
		}
		return len(s), true
	case '*':
		end := strings.Index(s[2:], "*/")
		if end < 0 {
			return -1, true
		}
		return end + 4, true
	}
	return 0, false
}

// scanner tracks whether the current byte sits inside a JSON string.
type scanner struct {
	open    bool
	escaped bool
}

// inString consumes c and reports whether it belongs to a string literal,
// quotes included.
func (s *scanner) inString(c byte) bool {
	switch {
	case s.escaped:
		s.escaped = false
		return true
	case s.open && c == '\\':
		s.escaped = true
		return true
	case c == '"':
		s.open = !s.open
		return true
	}
	return s.open
}

func lastSignificant(s string, i int) byte {
	for ; i >= 0; i-- {
		switch s[i] {
		case ' ', '\n', '\r', '\t':
			continue
		}
		return s[i]
	}
	return 0
}

func startsNumber(prev byte) bool {
	switch prev {
	case 0, ':', ',', '[', '{', '-':
		return true
	}
	return false
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }
