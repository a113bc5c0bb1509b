package llm

import (
	"encoding/json"
	"strings"

	"callinsight-server/pkg/errors"
)

// ParseStrict decodes text as JSON into v. The text must be exactly one
// JSON document.
func ParseStrict(text string, v interface{}) error {
	if err := json.Unmarshal([]byte(text), v); err != nil {
		return errors.NewMalformedOutput("model output is not valid JSON",
			map[string]interface{}{"cause": err.Error()})
	}
	return nil
}

// ParseLenient recovers a JSON object from model output that carries
// stray tokens around it: it extracts the first balanced {...} span and
// decodes that. Used only after ParseStrict has failed.
func ParseLenient(text string, v interface{}) error {
	span, ok := firstBalancedObject(text)
	if !ok {
		return errors.NewMalformedOutput("no JSON object found in model output")
	}
	if err := json.Unmarshal([]byte(span), v); err != nil {
		return errors.NewMalformedOutput("extracted JSON object is invalid",
			map[string]interface{}{"cause": err.Error()})
	}
	return nil
}

// Parse tries ParseStrict first and falls back to ParseLenient.
func Parse(text string, v interface{}) error {
	if err := ParseStrict(text, v); err == nil {
		return nil
	}
	return ParseLenient(text, v)
}

// firstBalancedObject scans for the first '{' and returns the span up to
// its matching '}', honoring string literals and escapes.
func firstBalancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}
