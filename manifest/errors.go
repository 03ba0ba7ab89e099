package manifest

import (
	"fmt"

	"github.com/pelletier/go-toml/v2"

	"github.com/teranos/subman/errors"
)

// ParseError reports a malformed manifest with the location go-toml found.
// It matches errors.ErrManifestParse.
type ParseError struct {
	Path    string
	Line    int
	Column  int
	Msg     string
	Context string // human-readable excerpt around the error, when available
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("%d:%d: %s", e.Line, e.Column, e.Msg)
	}
	return fmt.Sprintf("%s:%d:%d: %s", e.Path, e.Line, e.Column, e.Msg)
}

// Is makes errors.Is(err, errors.ErrManifestParse) hold
func (e *ParseError) Is(target error) bool {
	return target == errors.ErrManifestParse
}

// newParseError converts a go-toml failure into a ParseError
func newParseError(path string, err error) *ParseError {
	var derr *toml.DecodeError
	if errors.As(err, &derr) {
		row, col := derr.Position()
		return &ParseError{
			Path:    path,
			Line:    row,
			Column:  col,
			Msg:     derr.Error(),
			Context: derr.String(),
		}
	}
	return &ParseError{Path: path, Line: 1, Column: 1, Msg: err.Error()}
}
