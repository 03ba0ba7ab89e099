package composition

import (
	"bytes"
	"strings"
)

func lineStart(src []byte, p int) int {
	for p > 0 && src[p-1] != '\n' {
		p--
	}
	return p
}

// lineEnd returns the offset just past the newline ending the line at p
func lineEnd(src []byte, p int) int {
	if i := bytes.IndexByte(src[p:], '\n'); i >= 0 {
		return p + i + 1
	}
	return len(src)
}

func lineOf(src []byte, p int) int {
	return bytes.Count(src[:p], []byte{'\n'}) + 1
}

func skipSpaces(src []byte, p int) int {
	for p < len(src) && (src[p] == ' ' || src[p] == '\t') {
		p++
	}
	return p
}

// leadingIndent returns the whitespace before p when nothing else precedes it on its line
func leadingIndent(src []byte, p int) (string, bool) {
	ls := lineStart(src, p)
	if skipSpaces(src, ls) != p {
		return "", false
	}
	return string(src[ls:p]), true
}

// lineIndent returns the indentation of the line containing p
func lineIndent(src []byte, p int) string {
	ls := lineStart(src, p)
	return string(src[ls:skipSpaces(src, ls)])
}

// restIsTrivia reports whether only blanks or a line comment follow p on its line
func restIsTrivia(src []byte, p int) bool {
	p = skipSpaces(src, p)
	if p < len(src) && src[p] == '\r' {
		p++
	}
	return p >= len(src) || src[p] == '\n' || bytes.HasPrefix(src[p:], []byte("//"))
}

// blankLineAt reports whether the line starting at p is empty or whitespace
func blankLineAt(src []byte, p int) bool {
	if p >= len(src) {
		return false
	}
	q := skipSpaces(src, p)
	if q < len(src) && src[q] == '\r' {
		q++
	}
	return q < len(src) && src[q] == '\n'
}

// attachedComments walks from line start ls back over `//` lines directly above it
func attachedComments(src []byte, ls int) int {
	for ls > 0 {
		prev := lineStart(src, ls-1)
		line := bytes.TrimSpace(src[prev:ls])
		if !bytes.HasPrefix(line, []byte("//")) {
			break
		}
		ls = prev
	}
	return ls
}

// newline returns the line terminator the source already uses
func newline(src []byte) string {
	if i := bytes.IndexByte(src, '\n'); i > 0 && src[i-1] == '\r' {
		return "\r\n"
	}
	return "\n"
}

func withNewline(text, nl string) string {
	if nl == "\n" || !strings.Contains(text, "\n") {
		return text
	}
	return strings.ReplaceAll(strings.ReplaceAll(text, "\r\n", "\n"), "\n", nl)
}
