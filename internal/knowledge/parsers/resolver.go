package parsers

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"Athena/internal/knowledge/document"
)

// Resolver owns the extension-to-parser registry. Dispatch is by extension
// alone: a renamed file is parsed according to its new extension, never
// sniffed.
type Resolver struct {
	parsers map[string]registered
}

type registered struct {
	format string
	parser Parser
}

// NewResolver returns an empty resolver.
func NewResolver() *Resolver {
	return &Resolver{parsers: make(map[string]registered)}
}

// NewDefaultResolver registers the full built-in parser set:
// .txt, .md, .docx and .pdf.
func NewDefaultResolver() *Resolver {
	r := NewResolver()
	r.Register(".txt", "text", NewTextParser())
	r.Register(".md", "markdown", NewMarkdownParser())
	r.Register(".docx", "docx", NewDocxParser())
	r.Register(".pdf", "pdf", NewPDFParser())
	return r
}

// ForExtensions builds a resolver restricted to the configured extension
// subset. Extensions without a built-in parser are rejected.
func ForExtensions(exts []string) (*Resolver, error) {
	full := NewDefaultResolver()
	r := NewResolver()
	for _, ext := range exts {
		key := strings.ToLower(ext)
		reg, ok := full.parsers[key]
		if !ok {
			return nil, fmt.Errorf("no parser available for configured extension %q", ext)
		}
		r.parsers[key] = reg
	}
	return r, nil
}

// Register binds an extension (with leading dot) to a parser. The format
// label shows up in parse error messages.
func (r *Resolver) Register(ext, format string, p Parser) {
	r.parsers[strings.ToLower(ext)] = registered{format: format, parser: p}
}

// Supported returns the sorted list of registered extensions.
func (r *Resolver) Supported() []string {
	out := make([]string, 0, len(r.parsers))
	for ext := range r.parsers {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// Resolve looks up the parser for a file name. The extension comparison is
// case-insensitive. A missing extension fails with ErrNoExtension; an
// unregistered one fails with *UnsupportedExtensionError naming the full
// supported set.
func (r *Resolver) Resolve(filename string) (Parser, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, fmt.Errorf("cannot resolve parser for %q: %w", filename, ErrNoExtension)
	}
	reg, ok := r.parsers[ext]
	if !ok {
		return nil, &UnsupportedExtensionError{Ext: ext, Supported: r.Supported()}
	}
	return reg.parser, nil
}

// Parse resolves the parser for filename and runs it on the stream. Parser
// panics are converted to errors so the caller always gets a determinate
// result.
func (r *Resolver) Parse(filename string, stream io.Reader) (*document.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if ext == "" {
		return nil, fmt.Errorf("cannot resolve parser for %q: %w", filename, ErrNoExtension)
	}
	reg, ok := r.parsers[ext]
	if !ok {
		return nil, &UnsupportedExtensionError{Ext: ext, Supported: r.Supported()}
	}
	return safeParse(reg.format, reg.parser, stream, filepath.Base(filename))
}
