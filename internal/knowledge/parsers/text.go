package parsers

import (
	"fmt"
	"io"
	"strings"

	"Athena/internal/knowledge/document"
)

// TextParser handles plain text files. Every non-blank line becomes one
// paragraph; no heading or structure detection is attempted.
type TextParser struct{}

// NewTextParser creates a new TextParser.
func NewTextParser() *TextParser {
	return &TextParser{}
}

// Parse reads the whole stream and emits one Paragraph per non-blank line.
func (p *TextParser) Parse(r io.Reader, source string) (*document.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read text stream: %w", err)
	}

	doc := &document.Document{Source: source}
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		doc.Append(document.Paragraph{Text: line})
	}
	return doc, nil
}

// compile-time check to ensure TextParser implements the Parser interface
var _ Parser = (*TextParser)(nil)
