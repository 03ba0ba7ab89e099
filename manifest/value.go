package manifest

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/subman/errors"
)

// decodeValue decodes one raw TOML value with go-toml
func decodeValue(raw []byte) (any, error) {
	buf := make([]byte, 0, len(raw)+5)
	buf = append(buf, "v = "...)
	buf = append(buf, raw...)
	buf = append(buf, '\n')

	var doc map[string]any
	if err := toml.Unmarshal(buf, &doc); err != nil {
		return nil, errors.Wrapf(err, "invalid value %q", string(raw))
	}
	return doc["v"], nil
}

// valuesEqual compares a decoded TOML value with a value we are about to write
func valuesEqual(decoded, want any) bool {
	return reflect.DeepEqual(normalize(decoded), normalize(want))
}

// normalize maps Go values onto the types go-toml decodes into
func normalize(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float32:
		return float64(x)
	case []string:
		out := make([]any, len(x))
		for i, s := range x {
			out[i] = s
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

// formatValue renders a Go value as TOML source
func formatValue(v any) string {
	switch x := v.(type) {
	case string:
		return quoteBasic(x)
	case bool:
		if x {
			return "true"
		}
		return "false"
	case int:
		return fmt.Sprintf("%d", x)
	case int64:
		return fmt.Sprintf("%d", x)
	case float64:
		return fmt.Sprintf("%g", x)
	case []string:
		parts := make([]string, len(x))
		for i, s := range x {
			parts[i] = quoteBasic(s)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case []any:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = formatValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = formatKey(k) + " = " + formatValue(x[k])
		}
		return "{ " + strings.Join(parts, ", ") + " }"
	default:
		return quoteBasic(fmt.Sprint(v))
	}
}

// quoteBasic renders s as a TOML basic string
func quoteBasic(s string) string {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if r < 0x20 || r == 0x7f {
				fmt.Fprintf(&b, `\u%04X`, r)
				continue
			}
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}

// formatKey renders a single key segment, quoting it when it is not bare
func formatKey(k string) string {
	if k == "" {
		return `""`
	}
	for i := 0; i < len(k); i++ {
		if !isBareKeyChar(k[i]) {
			return quoteBasic(k)
		}
	}
	return k
}

// span is a byte range inside the document
type span struct {
	start, end int
}

// inlineField is one `key = value` pair of an inline table
type inlineField struct {
	key   string
	key0  int // offset of the key
	value span
}

// parseInlineTable parses the inline table whose '{' is at open.
// It returns the fields and the offset of the closing '}'.
func parseInlineTable(src []byte, open int) ([]inlineField, int, error) {
	var fields []inlineField
	p := open + 1

	for {
		p = skipTrivia(src, p)
		if p >= len(src) {
			return nil, 0, errors.New("unterminated inline table")
		}
		if src[p] == '}' {
			return fields, p, nil
		}

		keyStart := p
		path, next, err := parseKey(src, p)
		if err != nil {
			return nil, 0, err
		}
		next = skipBlank(src, next)
		if next >= len(src) || src[next] != '=' {
			return nil, 0, errors.New("expected '=' in inline table")
		}
		vs := skipBlank(src, next+1)
		ve := scanValue(src, vs, '}')
		fields = append(fields, inlineField{
			key:   strings.Join(path, "."),
			key0:  keyStart,
			value: span{vs, ve},
		})

		p = skipTrivia(src, ve)
		if p < len(src) && src[p] == ',' {
			p++
		}
	}
}

// arrayElem is one element of an array value
type arrayElem struct {
	span
	comma int // offset of the separating comma, -1 when absent
}

// parseArray parses the array whose '[' is at open.
// It returns the elements and the offset of the closing ']'.
func parseArray(src []byte, open int) ([]arrayElem, int, error) {
	var elems []arrayElem
	p := open + 1

	for {
		p = skipTrivia(src, p)
		if p >= len(src) {
			return nil, 0, errors.New("unterminated array")
		}
		if src[p] == ']' {
			return elems, p, nil
		}

		end := scanValue(src, p, ']')
		if end == p {
			return nil, 0, errors.Newf("unexpected %q in array", src[p])
		}
		el := arrayElem{span: span{p, end}, comma: -1}

		p = skipTrivia(src, end)
		if p < len(src) && src[p] == ',' {
			el.comma = p
			p++
		}
		elems = append(elems, el)
	}
}

// arrayStrings decodes the string elements of an array
func arrayStrings(src []byte, elems []arrayElem) []string {
	out := make([]string, 0, len(elems))
	for _, el := range elems {
		v, err := decodeValue(src[el.start:el.end])
		if err != nil {
			out = append(out, "")
			continue
		}
		s, _ := v.(string)
		out = append(out, s)
	}
	return out
}

// leadingIndent returns the whitespace before p when p is the first
// non-blank byte of its line, and ok=false otherwise
func leadingIndent(src []byte, p int) (string, bool) {
	ls := lineStart(src, p)
	for i := ls; i < p; i++ {
		if src[i] != ' ' && src[i] != '\t' {
			return "", false
		}
	}
	return string(src[ls:p]), true
}

// arrayInsert computes the edits appending member (already formatted) to the
// array whose '[' is at open, following the array's existing layout
func arrayInsert(src []byte, open int, member string) ([]edit, error) {
	elems, closeAt, err := parseArray(src, open)
	if err != nil {
		return nil, err
	}
	multiLine := strings.ContainsRune(string(src[open:closeAt]), '\n')

	if len(elems) == 0 {
		if multiLine {
			closeIndent, own := leadingIndent(src, closeAt)
			if own {
				return []edit{{lineStart(src, closeAt), lineStart(src, closeAt), closeIndent + "\t" + member + ",\n"}}, nil
			}
		}
		return []edit{{open, closeAt + 1, "[" + member + "]"}}, nil
	}

	last := elems[len(elems)-1]
	if !multiLine {
		if last.comma >= 0 {
			return []edit{{last.comma + 1, skipBlank(src, last.comma+1), " " + member}}, nil
		}
		return []edit{{last.end, last.end, ", " + member}}, nil
	}

	indent, own := leadingIndent(src, last.start)
	if !own {
		indent = "\t"
	}

	var edits []edit
	if _, closeOwnLine := leadingIndent(src, closeAt); closeOwnLine {
		at := lineStart(src, closeAt)
		edits = append(edits, edit{at, at, indent + member + ",\n"})
		if last.comma < 0 {
			edits = append(edits, edit{last.end, last.end, ","})
		}
		return edits, nil
	}

	if last.comma >= 0 {
		return []edit{{last.comma + 1, last.comma + 1, "\n" + indent + member + ","}}, nil
	}
	return []edit{{last.end, last.end, ",\n" + indent + member}}, nil
}

// arrayRemove computes the edit deleting element idx of the array at open
func arrayRemove(src []byte, open, idx int) (edit, error) {
	elems, _, err := parseArray(src, open)
	if err != nil {
		return edit{}, err
	}
	if idx < 0 || idx >= len(elems) {
		return edit{}, errors.AssertionFailedf("array element %d out of range", idx)
	}
	el := elems[idx]

	// An element alone on its line takes the whole line with it
	if _, own := leadingIndent(src, el.start); own {
		after := el.end
		if el.comma >= 0 {
			after = el.comma + 1
		}
		rest := skipBlank(src, after)
		if rest < len(src) && src[rest] == '#' {
			rest = lineEnd(src, rest) - 1
		}
		if rest >= len(src) || src[rest] == '\n' || src[rest] == '\r' {
			return edit{lineStart(src, el.start), lineEnd(src, rest), ""}, nil
		}
	}

	switch {
	case el.comma >= 0:
		end := el.comma + 1
		if idx+1 < len(elems) {
			end = elems[idx+1].start
		} else {
			end = skipBlank(src, end)
		}
		return edit{el.start, end, ""}, nil
	case idx > 0:
		return edit{elems[idx-1].end, el.end, ""}, nil
	default:
		return edit{el.start, el.end, ""}, nil
	}
}
