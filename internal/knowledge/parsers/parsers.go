// Package parsers converts uploaded byte streams into the normalized
// document model. One parser per supported file format; the Resolver
// dispatches by file extension only and never inspects content.
package parsers

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"Athena/internal/knowledge/document"
)

// Parser turns a byte stream into a Document. Implementations are pure:
// no persistence, no shared state. Failures come back as a *ParseError;
// callers always receive a determinate success or failure value.
type Parser interface {
	Parse(r io.Reader, source string) (*document.Document, error)
}

// ErrNoExtension is returned when the file name carries no extension.
var ErrNoExtension = errors.New("file name has no extension")

// UnsupportedExtensionError reports an extension with no registered parser
// together with the full supported set for diagnostics.
type UnsupportedExtensionError struct {
	Ext       string
	Supported []string
}

func (e *UnsupportedExtensionError) Error() string {
	return fmt.Sprintf("unsupported file extension %q (supported: %s)", e.Ext, strings.Join(e.Supported, ", "))
}

// ParseError wraps a format-specific parsing failure with a readable message.
type ParseError struct {
	Format string
	Source string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse %s file %q: %v", e.Format, e.Source, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// safeParse invokes a parser and converts any escaped panic into a
// *ParseError. Some third-party readers panic on malformed input; the parse
// boundary must still return a determinate value.
func safeParse(format string, p Parser, r io.Reader, source string) (doc *document.Document, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			doc = nil
			err = &ParseError{Format: format, Source: source, Err: fmt.Errorf("parser panic: %v", rec)}
		}
	}()
	doc, err = p.Parse(r, source)
	if err != nil {
		var pe *ParseError
		if !errors.As(err, &pe) {
			err = &ParseError{Format: format, Source: source, Err: err}
		}
		return nil, err
	}
	return doc, nil
}
