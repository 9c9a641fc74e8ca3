package testutils

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/hexops/gotextdiff"
	"github.com/hexops/gotextdiff/myers"
	"github.com/mcuadros/go-defaults"
	"github.com/yudai/gojsondiff"
	"github.com/yudai/gojsondiff/formatter"
)

// Present in an expected JSON document matches any value, as long as the
// key exists in the actual document.
const Present = "<<PRESENCE>>"

// TestingT is the part of *testing.T the asserters use.
type TestingT interface {
	Errorf(format string, args ...any)
	Helper()
}

// JSONOptions tune AssertJSON.
type JSONOptions struct {
	// IgnoreExtraKeys drops object keys the expected document does not name.
	IgnoreExtraKeys  bool `default:"true"`
	IgnoreArrayOrder bool `default:"false"`
	IgnoredFields    []string
}

type JSONOption func(*JSONOptions)

// StrictKeys reports keys present only in the actual document.
func StrictKeys() JSONOption {
	return func(o *JSONOptions) { o.IgnoreExtraKeys = false }
}

// AnyOrder compares arrays as multisets.
func AnyOrder() JSONOption {
	return func(o *JSONOptions) { o.IgnoreArrayOrder = true }
}

// IgnoreFields removes the named keys, at any depth, from both documents.
func IgnoreFields(fields ...string) JSONOption {
	return func(o *JSONOptions) { o.IgnoredFields = append(o.IgnoredFields, fields...) }
}

// AssertJSON fails t with a structural diff when actual does not match
// expected.
func AssertJSON(t TestingT, actual, expected string, opts ...JSONOption) bool {
	t.Helper()
	if diff := JSONDiff(actual, expected, opts...); diff != "" {
		t.Errorf("JSON mismatch:\n%s", diff)
		return false
	}
	return true
}

// JSONDiff returns an empty string when the documents match.
func JSONDiff(actual, expected string, opts ...JSONOption) string {
	o := JSONOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	var exp, act any
	if err := json.Unmarshal([]byte(expected), &exp); err != nil {
		return fmt.Sprintf("invalid expected JSON: %v", err)
	}
	if err := json.Unmarshal([]byte(actual), &act); err != nil {
		return fmt.Sprintf("invalid actual JSON: %v", err)
	}

	// gojsondiff compares objects only
	exp = map[string]any{"root": exp}
	act = map[string]any{"root": act}

	for _, f := range o.IgnoredFields {
		walkObjects(exp, func(m map[string]any) { delete(m, f) })
		walkObjects(act, func(m map[string]any) { delete(m, f) })
	}
	if o.IgnoreArrayOrder {
		sortArrays(exp)
		sortArrays(act)
	}
	fillPresent(exp, act)
	if o.IgnoreExtraKeys {
		pruneExtraKeys(act, exp)
	}

	expBytes, _ := json.Marshal(exp)
	actBytes, _ := json.Marshal(act)
	diff, err := gojsondiff.New().Compare(expBytes, actBytes)
	if err != nil {
		return fmt.Sprintf("JSON comparison failed: %v", err)
	}
	if !diff.Modified() {
		return ""
	}

	out, err := formatter.NewAsciiFormatter(exp, formatter.AsciiFormatterConfig{ShowArrayIndex: true}).Format(diff)
	if err != nil {
		return fmt.Sprintf("JSON diff formatting failed: %v", err)
	}
	return out
}

func walkObjects(v any, fn func(map[string]any)) {
	switch t := v.(type) {
	case map[string]any:
		fn(t)
		for _, child := range t {
			walkObjects(child, fn)
		}
	case []any:
		for _, child := range t {
			walkObjects(child, fn)
		}
	}
}

// fillPresent copies actual values over Present placeholders. A missing key
// stays a placeholder so the diff reports it.
func fillPresent(exp, act any) {
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return
		}
		for k, v := range e {
			av, exists := a[k]
			if s, isStr := v.(string); isStr && s == Present {
				if exists {
					e[k] = av
				}
				continue
			}
			fillPresent(v, av)
		}
	case []any:
		a, ok := act.([]any)
		if !ok {
			return
		}
		for i := range e {
			if i < len(a) {
				fillPresent(e[i], a[i])
			}
		}
	}
}

func pruneExtraKeys(act, exp any) {
	switch e := exp.(type) {
	case map[string]any:
		a, ok := act.(map[string]any)
		if !ok {
			return
		}
		for k := range a {
			if _, exists := e[k]; !exists {
				delete(a, k)
			}
		}
		for k, v := range e {
			pruneExtraKeys(a[k], v)
		}
	case []any:
		a, ok := act.([]any)
		if !ok {
			return
		}
		for i := range e {
			if i < len(a) {
				pruneExtraKeys(a[i], e[i])
			}
		}
	}
}

// sortArrays orders every array by the JSON encoding of its elements.
func sortArrays(v any) {
	switch t := v.(type) {
	case map[string]any:
		for _, child := range t {
			sortArrays(child)
		}
	case []any:
		for _, child := range t {
			sortArrays(child)
		}
		sort.SliceStable(t, func(i, j int) bool {
			a, _ := json.Marshal(t[i])
			b, _ := json.Marshal(t[j])
			return string(a) < string(b)
		})
	}
}

// TextOptions tune AssertText.
type TextOptions struct {
	TrimSpace                bool `default:"true"`
	IgnoreTrailingWhitespace bool `default:"true"`
	IgnoreEmptyLines         bool `default:"false"`
}

type TextOption func(*TextOptions)

// Exact compares text byte for byte.
func Exact() TextOption {
	return func(o *TextOptions) {
		o.TrimSpace = false
		o.IgnoreTrailingWhitespace = false
	}
}

// IgnoreEmptyLines drops blank lines before comparing.
func IgnoreEmptyLines() TextOption {
	return func(o *TextOptions) { o.IgnoreEmptyLines = true }
}

// AssertText fails t with a unified diff when actual differs from expected.
func AssertText(t TestingT, actual, expected string, opts ...TextOption) bool {
	t.Helper()
	if diff := TextDiff(actual, expected, opts...); diff != "" {
		t.Errorf("text mismatch:\n%s", diff)
		return false
	}
	return true
}

// TextDiff returns a unified diff, or an empty string when the texts match.
func TextDiff(actual, expected string, opts ...TextOption) string {
	o := TextOptions{}
	defaults.SetDefaults(&o)
	for _, opt := range opts {
		opt(&o)
	}

	exp, act := normalizeText(expected, o), normalizeText(actual, o)
	if exp == act {
		return ""
	}

	edits := myers.ComputeEdits("", exp, act)
	return fmt.Sprint(gotextdiff.ToUnified("expected", "actual", exp, edits))
}

func normalizeText(s string, o TextOptions) string {
	if o.TrimSpace {
		s = strings.TrimSpace(s)
	}
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if o.IgnoreTrailingWhitespace {
			line = strings.TrimRight(line, " \t\r")
		}
		if o.IgnoreEmptyLines && strings.TrimSpace(line) == "" {
			continue
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n") + "\n"
}
