// Package parser decodes the text responses of the observatory's wire
// protocols: template-driven Arduino reply lines and the Tessw sky
// sensor's status page.
package parser

import (
	"fmt"
	"strconv"
	"strings"
)

// Template is a compiled format string mixing literal delimiters with
// typed placeholders: {i} integer, {f} float, {s} string. Literal braces
// are written {{ and }}.
type Template struct {
	raw        string
	delimiters []string // one more than kinds
	kinds      []byte   // 'i', 'f' or 's' per placeholder
}

// Compile scans format into delimiters and placeholder type codes.
// Ill-formed templates (unmatched or inverted braces, unknown type
// codes) are rejected.
func Compile(format string) (*Template, error) {
	t := &Template{raw: format}
	var lit strings.Builder

	for i := 0; i < len(format); {
		switch format[i] {
		case '{':
			if i+1 < len(format) && format[i+1] == '{' {
				lit.WriteByte('{')
				i += 2
				continue
			}
			end := strings.IndexByte(format[i:], '}')
			if end == -1 {
				return nil, fmt.Errorf("parser: unmatched '{' at offset %d in %q", i, format)
			}
			spec := format[i+1 : i+end]
			if len(spec) != 1 || (spec[0] != 'i' && spec[0] != 'f' && spec[0] != 's') {
				return nil, fmt.Errorf("parser: unknown placeholder {%s} in %q", spec, format)
			}
			t.delimiters = append(t.delimiters, lit.String())
			t.kinds = append(t.kinds, spec[0])
			lit.Reset()
			i += end + 1
		case '}':
			if i+1 < len(format) && format[i+1] == '}' {
				lit.WriteByte('}')
				i += 2
				continue
			}
			return nil, fmt.Errorf("parser: unmatched '}' at offset %d in %q", i, format)
		default:
			lit.WriteByte(format[i])
			i++
		}
	}
	t.delimiters = append(t.delimiters, lit.String())

	return t, nil
}

// MustCompile is Compile for templates known at build time.
func MustCompile(format string) *Template {
	t, err := Compile(format)
	if err != nil {
		panic(err)
	}
	return t
}

// NumFields returns the number of placeholders in the template.
func (t *Template) NumFields() int {
	return len(t.kinds)
}

// String returns the original format string.
func (t *Template) String() string {
	return t.raw
}

// Parse walks response, greedily matching each delimiter from the
// current cursor; the substring between consecutive delimiters is
// converted according to its placeholder type. An empty final delimiter
// consumes the remainder of the response. Values are returned as int64,
// float64 or string.
func (t *Template) Parse(response string) ([]interface{}, error) {
	if len(t.kinds) == 0 {
		return nil, nil
	}

	values := make([]interface{}, 0, len(t.kinds))
	remaining := response

	for i, kind := range t.kinds {
		before := t.delimiters[i]
		after := t.delimiters[i+1]

		if !strings.HasPrefix(remaining, before) {
			return nil, fmt.Errorf("parser: response %q does not match %q at field %d", response, t.raw, i)
		}
		remaining = remaining[len(before):]

		var field string
		if i == len(t.kinds)-1 && after == "" {
			field = remaining
			remaining = ""
		} else {
			idx := strings.Index(remaining, after)
			if idx == -1 {
				return nil, fmt.Errorf("parser: delimiter %q not found in %q", after, response)
			}
			field = remaining[:idx]
			remaining = remaining[idx:]
		}

		v, err := convert(field, kind)
		if err != nil {
			return nil, fmt.Errorf("parser: field %d of %q: %w", i, response, err)
		}
		values = append(values, v)
	}

	return values, nil
}

// ParseFloats is Parse with numeric fields widened to float64. It fails
// when the template contains a string placeholder.
func (t *Template) ParseFloats(response string) ([]float64, error) {
	values, err := t.Parse(response)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		switch n := v.(type) {
		case int64:
			out[i] = float64(n)
		case float64:
			out[i] = n
		default:
			return nil, fmt.Errorf("parser: field %d of %q is not numeric", i, t.raw)
		}
	}
	return out, nil
}

func convert(field string, kind byte) (interface{}, error) {
	switch kind {
	case 'i':
		n, err := strconv.ParseInt(strings.TrimSpace(field), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad integer %q", field)
		}
		return n, nil
	case 'f':
		f, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return nil, fmt.Errorf("bad float %q", field)
		}
		return f, nil
	default:
		return field, nil
	}
}
