package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

// ExportPrefix marks a key whose value is also exported to hook environments.
const ExportPrefix = "env:"

var (
	// ErrForbiddenConstruct is returned for values that could trigger command execution.
	ErrForbiddenConstruct = errors.New("forbidden construct")

	// ErrMalformedLine is returned for lines that are not comments, blanks or KEY=VALUE.
	ErrMalformedLine = errors.New("malformed line")
)

// forbiddenTokens are rejected anywhere in a value.
var forbiddenTokens = []string{"$(", "`", ";", "&", "|"}

var keyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SyntaxError describes the first rejected line of a configuration file.
type SyntaxError struct {
	File   string
	Line   int
	Text   string
	Reason string
	Err    error
}

// Error implements the error interface.
func (e *SyntaxError) Error() string {
	return fmt.Sprintf("%s:%d: %s: %q", e.File, e.Line, e.Reason, e.Text)
}

// Unwrap returns the sentinel describing the failure class.
func (e *SyntaxError) Unwrap() error {
	return e.Err
}

// Value is a bound configuration value. List values come from KEY=(a b c).
type Value struct {
	Str    string
	List   []string
	IsList bool
}

// Bindings is the ordered result of a successful parse.
type Bindings struct {
	keys     []string
	values   map[string]Value
	exported map[string]bool
}

// NewBindings returns an empty binding set.
func NewBindings() *Bindings {
	return &Bindings{
		values:   make(map[string]Value),
		exported: make(map[string]bool),
	}
}

// Set binds key to v. A repeated key keeps its first position and takes the last value.
func (b *Bindings) Set(key string, v Value, export bool) {
	if _, ok := b.values[key]; !ok {
		b.keys = append(b.keys, key)
	}
	b.values[key] = v
	if export {
		b.exported[key] = true
	}
}

// Lookup returns the raw value bound to key.
func (b *Bindings) Lookup(key string) (Value, bool) {
	v, ok := b.values[key]
	return v, ok
}

// Get returns a scalar value. List values are joined with single spaces.
func (b *Bindings) Get(key string) (string, bool) {
	v, ok := b.values[key]
	if !ok {
		return "", false
	}
	if v.IsList {
		return strings.Join(v.List, " "), true
	}
	return v.Str, true
}

// List returns a list value. A non-empty scalar is a one element list.
func (b *Bindings) List(key string) []string {
	v, ok := b.values[key]
	if !ok {
		return nil
	}
	if v.IsList {
		return append([]string(nil), v.List...)
	}
	if v.Str == "" {
		return nil
	}
	return []string{v.Str}
}

// Keys returns bound keys in first-seen order.
func (b *Bindings) Keys() []string {
	return append([]string(nil), b.keys...)
}

// Len returns the number of distinct keys.
func (b *Bindings) Len() int {
	return len(b.keys)
}

// Exported returns the env:-prefixed bindings as scalar strings.
func (b *Bindings) Exported() map[string]string {
	out := make(map[string]string, len(b.exported))
	for key := range b.exported {
		out[key], _ = b.Get(key)
	}
	return out
}

// ParseFile parses the configuration file at path.
func ParseFile(path string) (*Bindings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	return Parse(f, path)
}

// Parse reads KEY=VALUE lines from r. The first rejected line aborts the parse
// and no bindings are returned.
func Parse(r io.Reader, name string) (*Bindings, error) {
	b := NewBindings()
	scanner := bufio.NewScanner(r)
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fail := func(reason string, sentinel error) error {
			return &SyntaxError{File: name, Line: lineNo, Text: raw, Reason: reason, Err: sentinel}
		}

		eq := strings.IndexByte(line, '=')
		if eq <= 0 {
			return nil, fail("expected KEY=VALUE", ErrMalformedLine)
		}

		key, rawValue := line[:eq], line[eq+1:]
		for _, tok := range forbiddenTokens {
			if strings.Contains(rawValue, tok) {
				return nil, fail(fmt.Sprintf("value contains %q", tok), ErrForbiddenConstruct)
			}
		}

		export := false
		if strings.HasPrefix(key, ExportPrefix) {
			export = true
			key = strings.TrimPrefix(key, ExportPrefix)
		}
		if !keyPattern.MatchString(key) {
			return nil, fail("illegal variable name", ErrMalformedLine)
		}

		value, err := parseValue(rawValue)
		if err != nil {
			return nil, fail(err.Error(), ErrMalformedLine)
		}
		b.Set(key, value, export)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", name, err)
	}

	return b, nil
}

func parseValue(raw string) (Value, error) {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "(") {
		end := strings.LastIndexByte(trimmed, ')')
		if end < 0 {
			return Value{}, errors.New("unterminated list")
		}
		rest, err := splitWords(trimmed[end+1:])
		if err != nil {
			return Value{}, err
		}
		if len(rest) > 0 {
			return Value{}, errors.New("unexpected text after list")
		}
		items, err := splitWords(trimmed[1:end])
		if err != nil {
			return Value{}, err
		}
		return Value{List: items, IsList: true}, nil
	}

	words, err := splitWords(raw)
	if err != nil {
		return Value{}, err
	}
	switch len(words) {
	case 0:
		return Value{}, nil
	case 1:
		return Value{Str: words[0]}, nil
	default:
		return Value{}, errors.New("unquoted whitespace in value")
	}
}

// splitWords splits s on unquoted blanks. Matching single or double quotes
// group a word and are removed. An unquoted # at the start of a word ends the line.
func splitWords(s string) ([]string, error) {
	var (
		words  []string
		cur    strings.Builder
		inWord bool
		quote  byte
	)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			} else {
				cur.WriteByte(c)
			}
		case c == '\'' || c == '"':
			quote = c
			inWord = true
		case c == ' ' || c == '\t':
			if inWord {
				words = append(words, cur.String())
				cur.Reset()
				inWord = false
			}
		case c == '#' && !inWord:
			return words, nil
		default:
			cur.WriteByte(c)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, errors.New("unterminated quote")
	}
	if inWord {
		words = append(words, cur.String())
	}
	return words, nil
}
