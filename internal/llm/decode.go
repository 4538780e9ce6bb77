package llm

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Model output is advisory: it arrives wrapped in code fences, prefixed with
// prose, or with trailing commas and unbalanced brackets. DecodeJSON recovers
// the intended value through progressively more forgiving passes and reports
// failure only when nothing parseable remains. Callers treat failure as a cue
// to fall back, never as a pipeline error.

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)\\s*```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
)

// ErrNoJSON means no JSON value could be recovered from the model output.
var ErrNoJSON = errors.New("no decodable JSON in model output")

// DecodeJSON extracts a JSON value of type T from raw model output.
func DecodeJSON[T any](raw string, out *T) error {
	for _, candidate := range candidates(raw) {
		if json.Unmarshal([]byte(candidate), out) == nil {
			return nil
		}
		repaired := repair(candidate)
		if repaired != candidate && json.Unmarshal([]byte(repaired), out) == nil {
			return nil
		}
	}
	return ErrNoJSON
}

// candidates yields progressively narrower slices of the raw text that might
// hold the JSON value: fence contents first, then the outermost bracket span.
func candidates(raw string) []string {
	raw = strings.TrimSpace(raw)
	var out []string
	if raw == "" {
		return out
	}
	if m := codeFenceRe.FindStringSubmatch(raw); m != nil {
		out = append(out, strings.TrimSpace(m[1]))
	}
	out = append(out, raw)
	for _, pair := range [2][2]byte{{'[', ']'}, {'{', '}'}} {
		start := strings.IndexByte(raw, pair[0])
		end := strings.LastIndexByte(raw, pair[1])
		if start >= 0 && end > start {
			out = append(out, raw[start:end+1])
		}
	}
	return out
}

// repair fixes the two malformations models actually produce: trailing commas
// before a closing bracket, and unterminated arrays or objects.
func repair(s string) string {
	s = trailingCommaRe.ReplaceAllString(s, "$1")

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{' || c == '[':
			stack = append(stack, c)
		case c == '}' || c == ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}
	if inString {
		s += `"`
	}
	for i := len(stack) - 1; i >= 0; i-- {
		if stack[i] == '{' {
			s += "}"
		} else {
			s += "]"
		}
	}
	return trailingCommaRe.ReplaceAllString(s, "$1")
}
