package types

import (
	"encoding/json"
	"strings"
)

// =============================================================================
// LENIENT JSON DECODING
// =============================================================================
//
// Inline configuration blocks and LLM judge responses frequently arrive as
// almost-JSON: commented, trailing-comma'd, or single-quoted. DecodeLenient
// tries strict parsing first and falls back to one repair pass. The repair
// is a character scanner, not a grammar; it only fixes the three failure
// modes named above.

// DecodeLenient unmarshals data into v, repairing common JSON damage when
// strict parsing fails.
func DecodeLenient(data string, v any) error {
	if err := json.Unmarshal([]byte(data), v); err == nil {
		return nil
	}
	return json.Unmarshal([]byte(RepairJSON(data)), v)
}

// RepairJSON strips // and /* */ comments, removes trailing commas, and
// rewrites single-quoted strings as double-quoted. String contents are left
// untouched.
func RepairJSON(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	const (
		stateCode = iota
		stateString
		stateSingle
		stateLineComment
		stateBlockComment
	)
	state := stateCode
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch state {
		case stateCode:
			switch {
			case c == '"':
				state = stateString
				b.WriteByte(c)
			case c == '\'':
				state = stateSingle
				b.WriteByte('"')
			case c == '/' && i+1 < len(s) && s[i+1] == '/':
				state = stateLineComment
				i++
			case c == '/' && i+1 < len(s) && s[i+1] == '*':
				state = stateBlockComment
				i++
			default:
				b.WriteByte(c)
			}
		case stateString:
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				state = stateCode
			}
		case stateSingle:
			if escaped {
				escaped = false
				if c == '\'' {
					b.WriteByte('\'')
				} else {
					b.WriteByte('\\')
					b.WriteByte(c)
				}
				continue
			}
			switch c {
			case '\\':
				escaped = true
			case '\'':
				b.WriteByte('"')
				state = stateCode
			case '"':
				b.WriteString(`\"`)
			default:
				b.WriteByte(c)
			}
		case stateLineComment:
			if c == '\n' {
				state = stateCode
				b.WriteByte(c)
			}
		case stateBlockComment:
			if c == '*' && i+1 < len(s) && s[i+1] == '/' {
				state = stateCode
				i++
			}
		}
	}

	return stripTrailingCommas(b.String())
}

// stripTrailingCommas removes commas that directly precede a closing brace
// or bracket, ignoring whitespace, outside of strings.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString := false
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			if escaped {
				escaped = false
			} else if c == '\\' {
				escaped = true
			} else if c == '"' {
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\t' || s[j] == '\n' || s[j] == '\r') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue // drop the comma
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}
