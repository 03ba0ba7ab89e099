package manifest

import (
	"bytes"
	"strings"

	"github.com/teranos/subman/errors"
)

// itemKind classifies one top-level line group of a TOML document
type itemKind int

const (
	itemTrivia   itemKind = iota // blank or comment-only line
	itemHeader                   // [table] or [[array-of-tables]]
	itemKeyValue                 // key = value, possibly spanning lines
)

// item is a contiguous byte range of the document. Items tile the document:
// concatenating src[start:end] over all items reproduces it exactly.
type item struct {
	kind       itemKind
	start, end int      // end includes the trailing newline, if any
	path       []string // header: table path; key/value: dotted key
	array      bool     // [[header]]
	valStart   int      // key/value: value span
	valEnd     int
	line       int // 1-based line of start
}

// scanItems splits a valid TOML document into items. Validity is checked
// beforehand with go-toml, so the scanner only needs to find boundaries.
func scanItems(src []byte) ([]item, error) {
	var items []item
	line := 1

	for pos := 0; pos < len(src); {
		it := item{start: pos, line: line}
		p := skipBlank(src, pos)

		switch {
		case p >= len(src) || src[p] == '\n' || src[p] == '#' || (src[p] == '\r' && p+1 < len(src) && src[p+1] == '\n'):
			it.kind = itemTrivia
			it.end = lineEnd(src, p)

		case src[p] == '[':
			it.kind = itemHeader
			p++
			if p < len(src) && src[p] == '[' {
				it.array = true
				p++
			}
			path, next, err := parseKey(src, p)
			if err != nil {
				return nil, scanError(line, err)
			}
			it.path = path
			next = skipBlank(src, next)
			closing := "]"
			if it.array {
				closing = "]]"
			}
			if !strings.HasPrefix(string(src[next:min(next+2, len(src))]), closing) {
				return nil, scanError(line, errors.New("unterminated table header"))
			}
			it.end = lineEnd(src, next+len(closing))

		default:
			it.kind = itemKeyValue
			path, next, err := parseKey(src, p)
			if err != nil {
				return nil, scanError(line, err)
			}
			it.path = path
			next = skipBlank(src, next)
			if next >= len(src) || src[next] != '=' {
				return nil, scanError(line, errors.Newf("expected '=' after key %q", strings.Join(path, ".")))
			}
			it.valStart = skipBlank(src, next+1)
			it.valEnd = scanValue(src, it.valStart, 0)
			it.end = lineEnd(src, it.valEnd)
		}

		for _, c := range src[it.start:it.end] {
			if c == '\n' {
				line++
			}
		}
		items = append(items, it)
		pos = it.end
	}

	return items, nil
}

func scanError(line int, err error) error {
	return &ParseError{Line: line, Column: 1, Msg: err.Error()}
}

// skipBlank skips spaces and tabs
func skipBlank(src []byte, p int) int {
	for p < len(src) && (src[p] == ' ' || src[p] == '\t') {
		p++
	}
	return p
}

// skipTrivia skips whitespace, newlines and comments (inside arrays and inline tables)
func skipTrivia(src []byte, p int) int {
	for p < len(src) {
		switch src[p] {
		case ' ', '\t', '\r', '\n':
			p++
		case '#':
			for p < len(src) && src[p] != '\n' {
				p++
			}
		default:
			return p
		}
	}
	return p
}

// lineEnd returns the offset just past the next newline at or after p
func lineEnd(src []byte, p int) int {
	for p < len(src) {
		if src[p] == '\n' {
			return p + 1
		}
		p++
	}
	return len(src)
}

// lineStart returns the offset of the first byte of the line containing p
func lineStart(src []byte, p int) int {
	for p > 0 && src[p-1] != '\n' {
		p--
	}
	return p
}

// parseKey parses a (possibly dotted) key starting at p
func parseKey(src []byte, p int) ([]string, int, error) {
	var path []string
	for {
		p = skipBlank(src, p)
		if p >= len(src) {
			return nil, p, errors.New("unexpected end of document in key")
		}

		switch src[p] {
		case '"':
			end := skipString(src, p)
			s, err := unquoteBasic(src[p+1 : end-1])
			if err != nil {
				return nil, p, err
			}
			path = append(path, s)
			p = end
		case '\'':
			end := skipString(src, p)
			path = append(path, string(src[p+1:end-1]))
			p = end
		default:
			start := p
			for p < len(src) && isBareKeyChar(src[p]) {
				p++
			}
			if p == start {
				return nil, p, errors.Newf("invalid character %q in key", src[p])
			}
			path = append(path, string(src[start:p]))
		}

		next := skipBlank(src, p)
		if next < len(src) && src[next] == '.' {
			p = next + 1
			continue
		}
		return path, p, nil
	}
}

func isBareKeyChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '_' || c == '-'
}

// skipString returns the offset just past the string literal starting at p.
// Handles basic, literal and their multi-line forms.
func skipString(src []byte, p int) int {
	quote := src[p]
	if p+2 < len(src) && src[p+1] == quote && src[p+2] == quote {
		i := p + 3
		for i < len(src) {
			if quote == '"' && src[i] == '\\' {
				i += 2
				continue
			}
			if i+2 < len(src) && src[i] == quote && src[i+1] == quote && src[i+2] == quote {
				i += 3
				// up to two quotes may directly precede the closing delimiter
				for n := 0; n < 2 && i < len(src) && src[i] == quote; n++ {
					i++
				}
				return i
			}
			i++
		}
		return len(src)
	}

	i := p + 1
	for i < len(src) {
		switch {
		case quote == '"' && src[i] == '\\':
			i += 2
		case src[i] == quote:
			return i + 1
		case src[i] == '\n':
			return i
		default:
			i++
		}
	}
	return len(src)
}

// scanValue returns the end of the value starting at p. At nesting depth zero
// the value stops at a newline, a comment, or (when closer != 0) a ',' or closer.
// Trailing blanks are excluded.
func scanValue(src []byte, p int, closer byte) int {
	depth := 0
	i := p
scan:
	for i < len(src) {
		c := src[i]
		switch {
		case c == '"' || c == '\'':
			i = skipString(src, i)
			continue
		case depth == 0 && (c == '\n' || c == '#'):
			break scan
		case depth == 0 && closer != 0 && (c == ',' || c == closer):
			break scan
		case c == '#':
			for i < len(src) && src[i] != '\n' {
				i++
			}
			continue
		case c == '[' || c == '{':
			depth++
		case c == ']' || c == '}':
			depth--
		}
		i++
	}
	for i > p && (src[i-1] == ' ' || src[i-1] == '\t' || src[i-1] == '\r') {
		i--
	}
	return i
}

// unquoteBasic decodes the body of a TOML basic string
func unquoteBasic(body []byte) (string, error) {
	if !strings.ContainsRune(string(body), '\\') {
		return string(body), nil
	}
	v, err := decodeValue([]byte(`"` + string(body) + `"`))
	if err != nil {
		return "", err
	}
	s, _ := v.(string)
	return s, nil
}

// newline returns the line terminator the document already uses
func newline(src []byte) string {
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

// withNewline rewrites the line breaks of inserted text to nl
func withNewline(text, nl string) string {
	if nl == "\n" || !strings.Contains(text, "\n") {
		return text
	}
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", nl)
}
