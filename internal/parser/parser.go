// Package parser extracts structured JSON from free-form model output.
package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// ErrNoJSON is returned when the text contains no JSON object.
var ErrNoJSON = errors.New("no JSON object found")

// MalformedError reports model output that could not be turned into the
// expected structure. Raw holds the text as it was received.
type MalformedError struct {
	Raw string
	Err error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed model output: %v", e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}

// Schema is a compiled JSON schema.
type Schema struct {
	schema *gojsonschema.Schema
}

// NewSchema compiles a JSON schema document.
func NewSchema(src string) (*Schema, error) {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		return nil, fmt.Errorf("compiling schema: %w", err)
	}
	return &Schema{schema: s}, nil
}

// MustSchema is like NewSchema but panics on an invalid schema. Intended for
// package-level schema variables.
func MustSchema(src string) *Schema {
	s, err := NewSchema(src)
	if err != nil {
		panic(err)
	}
	return s
}

// Validate checks a JSON document against the schema.
func (s *Schema) Validate(data []byte) error {
	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("schema validation errors: %s", strings.Join(msgs, "; "))
	}
	return nil
}

// Parse extracts the first JSON object from raw, repairs common formatting
// mistakes, validates it against schema (when non-nil) and decodes it into v.
// Every failure is a *MalformedError.
func Parse(raw string, schema *Schema, v any) error {
	data, err := ExtractJSON(raw)
	if err != nil {
		return &MalformedError{Raw: raw, Err: err}
	}
	if schema != nil {
		if err := schema.Validate(data); err != nil {
			return &MalformedError{Raw: raw, Err: err}
		}
	}
	if err := json.Unmarshal(data, v); err != nil {
		return &MalformedError{Raw: raw, Err: fmt.Errorf("decoding: %w", err)}
	}
	return nil
}

var fencePattern = regexp.MustCompile("(?s)```(?:json|JSON)?\\s*(.*?)```")

// ExtractJSON returns the first JSON object found in text. Markdown code
// fences and surrounding prose are ignored.
func ExtractJSON(text string) (json.RawMessage, error) {
	candidates := make([]string, 0, 2)
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, text)

	for _, c := range candidates {
		obj, ok := firstObject(c)
		if !ok {
			continue
		}
		if json.Valid([]byte(obj)) {
			return json.RawMessage(obj), nil
		}
		fixed := fixJSON(obj)
		if json.Valid([]byte(fixed)) {
			return json.RawMessage(fixed), nil
		}
		return nil, errors.New("invalid JSON in response")
	}
	return nil, ErrNoJSON
}

// firstObject scans for the first balanced {...} span, honoring string
// literals. An unterminated object yields everything from the opening brace.
func firstObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return "", false
	}

	depth := 0
	var quote byte
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if quote != 0 {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == quote:
				quote = 0
			}
			continue
		}
		switch c {
		case '"', '\'':
			quote = c
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return s[start:], true
}

var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	unquotedKey   = regexp.MustCompile(`([{,]\s*)([a-zA-Z_][a-zA-Z0-9_]*)\s*:`)
)

// fixJSON attempts to fix common JSON formatting issues.
func fixJSON(s string) string {
	s = trailingComma.ReplaceAllString(s, "$1")
	s = unquotedKey.ReplaceAllString(s, `$1"$2":`)
	if !json.Valid([]byte(s)) {
		s = strings.ReplaceAll(s, "'", "\"")
	}
	return s
}
