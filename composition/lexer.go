package composition

import (
	"unicode"
	"unicode/utf8"

	"github.com/teranos/subman/errors"
)

type tokenKind int

const (
	tokIdent tokenKind = iota
	tokPunct
	tokLiteral
	tokLifetime
	tokComment
)

// token is a lexeme of Rust source with its byte span
type token struct {
	kind       tokenKind
	start, end int
	text       string
}

func (t token) is(text string) bool {
	return (t.kind == tokPunct || t.kind == tokIdent) && t.text == text
}

// lex splits Rust source into tokens. Comments are returned separately so
// the parser never sees them but markers inside them stay reachable.
// Only the lexical structure matters here: string, char and comment
// boundaries are exact, everything else is coarse.
func lex(src []byte) (toks, comments []token, err error) {
	i := 0
	emit := func(kind tokenKind, end int) {
		toks = append(toks, token{kind: kind, start: i, end: end, text: string(src[i:end])})
		i = end
	}

	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++

		case c == '/' && at(src, i+1) == '/':
			j := i
			for j < len(src) && src[j] != '\n' {
				j++
			}
			comments = append(comments, token{kind: tokComment, start: i, end: j, text: string(src[i:j])})
			i = j

		case c == '/' && at(src, i+1) == '*':
			j, err := skipBlockComment(src, i)
			if err != nil {
				return nil, nil, err
			}
			comments = append(comments, token{kind: tokComment, start: i, end: j, text: string(src[i:j])})
			i = j

		case c == '"':
			j, err := skipQuoted(src, i+1, '"')
			if err != nil {
				return nil, nil, errors.Wrapf(err, "string at offset %d", i)
			}
			emit(tokLiteral, j)

		case c == '\'':
			j, kind, err := charOrLifetime(src, i)
			if err != nil {
				return nil, nil, err
			}
			emit(kind, j)

		case c == 'b' && at(src, i+1) == '\'':
			j, _, err := charOrLifetime(src, i+1)
			if err != nil {
				return nil, nil, err
			}
			emit(tokLiteral, j)

		case c == 'b' && at(src, i+1) == '"':
			j, err := skipQuoted(src, i+2, '"')
			if err != nil {
				return nil, nil, errors.Wrapf(err, "byte string at offset %d", i)
			}
			emit(tokLiteral, j)

		case c == 'r' || c == 'b':
			if j, ok, err := rawString(src, i); ok || err != nil {
				if err != nil {
					return nil, nil, err
				}
				emit(tokLiteral, j)
				continue
			}
			emit(tokIdent, identEnd(src, rawIdentStart(src, i)))

		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && (isIdentByte(src[j]) || (src[j] == '.' && j+1 < len(src) && src[j+1] >= '0' && src[j+1] <= '9')) {
				j++
			}
			emit(tokLiteral, j)

		case isIdentByte(c) || c >= utf8.RuneSelf:
			if j := identEnd(src, i); j > i {
				emit(tokIdent, j)
				continue
			}
			_, n := utf8.DecodeRune(src[i:])
			emit(tokPunct, i+n)

		default:
			j := i + 1
			if j < len(src) {
				switch string(src[i : j+1]) {
				case "::", "->", "=>":
					j++
				}
			}
			emit(tokPunct, j)
		}
	}
	return toks, comments, nil
}

func at(src []byte, i int) byte {
	if i < len(src) {
		return src[i]
	}
	return 0
}

func isIdentByte(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9'
}

// identEnd returns the end of the identifier starting at i, Unicode included
func identEnd(src []byte, i int) int {
	for i < len(src) {
		if src[i] < utf8.RuneSelf {
			if !isIdentByte(src[i]) {
				return i
			}
			i++
			continue
		}
		r, n := utf8.DecodeRune(src[i:])
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return i
		}
		i += n
	}
	return i
}

// rawIdentStart skips the r# of a raw identifier
func rawIdentStart(src []byte, i int) int {
	if src[i] == 'r' && at(src, i+1) == '#' && i+2 < len(src) && isIdentByte(src[i+2]) {
		return i + 2
	}
	return i
}

// skipBlockComment handles nested /* /* */ */ comments
func skipBlockComment(src []byte, i int) (int, error) {
	depth := 0
	for i < len(src) {
		switch {
		case src[i] == '/' && at(src, i+1) == '*':
			depth++
			i += 2
		case src[i] == '*' && at(src, i+1) == '/':
			depth--
			i += 2
			if depth == 0 {
				return i, nil
			}
		default:
			i++
		}
	}
	return 0, errors.New("unterminated block comment")
}

// skipQuoted returns the offset past the closing quote; i is just past the opening one
func skipQuoted(src []byte, i int, quote byte) (int, error) {
	for i < len(src) {
		switch src[i] {
		case '\\':
			i += 2
		case quote:
			return i + 1, nil
		default:
			i++
		}
	}
	return 0, errors.New("unterminated literal")
}

// rawString recognises r"..", r#".."#, br".." and br#".."#
func rawString(src []byte, i int) (int, bool, error) {
	p := i
	if src[p] == 'b' {
		p++
	}
	if at(src, p) != 'r' {
		return 0, false, nil
	}
	p++
	hashes := 0
	for at(src, p) == '#' {
		hashes++
		p++
	}
	if at(src, p) != '"' {
		return 0, false, nil
	}
	p++

	for p < len(src) {
		if src[p] == '"' {
			n := 0
			for n < hashes && at(src, p+1+n) == '#' {
				n++
			}
			if n == hashes {
				return p + 1 + hashes, true, nil
			}
		}
		p++
	}
	return 0, false, errors.Newf("unterminated raw string at offset %d", i)
}

// charOrLifetime tells 'a' (char literal) from 'a (lifetime or label)
func charOrLifetime(src []byte, i int) (int, tokenKind, error) {
	if at(src, i+1) == '\\' {
		j := i + 3 // past the escaped character
		for j < len(src) && src[j] != '\'' && src[j] != '\n' {
			j++
		}
		if at(src, j) != '\'' {
			return 0, 0, errors.Newf("unterminated char literal at offset %d", i)
		}
		return j + 1, tokLiteral, nil
	}

	if i+1 >= len(src) {
		return 0, 0, errors.Newf("stray quote at offset %d", i)
	}
	_, n := utf8.DecodeRune(src[i+1:])
	if at(src, i+1+n) == '\'' {
		return i + 2 + n, tokLiteral, nil
	}
	return identEnd(src, i+1), tokLifetime, nil
}
