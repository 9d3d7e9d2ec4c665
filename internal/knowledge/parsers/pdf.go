package parsers

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"Athena/internal/knowledge/document"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts per-page plain text and splits it into paragraphs on
// blank-line boundaries. No heading, list or table structure is recovered;
// PDF gives a flat paragraph stream.
type PDFParser struct{}

// NewPDFParser creates a new PDFParser.
func NewPDFParser() *PDFParser {
	return &PDFParser{}
}

// Parse reads the whole stream and emits one Paragraph per non-blank text
// block. The first paragraph becomes the title when none is set.
func (p *PDFParser) Parse(r io.Reader, source string) (*document.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read pdf stream: %w", err)
	}

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open pdf: %w", err)
	}

	doc := &document.Document{Source: source}
	total := reader.NumPage()
	for i := 1; i <= total; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to extract text from page %d: %w", i, err)
		}
		for _, block := range splitTextBlocks(text) {
			doc.Append(document.Paragraph{Text: block})
			if doc.Title == "" {
				doc.Title = block
			}
		}
	}
	return doc, nil
}

// splitTextBlocks groups consecutive non-blank lines into blocks; blank
// lines are the block separators. Lines within a block are joined with a
// single space.
func splitTextBlocks(text string) []string {
	var blocks []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			blocks = append(blocks, strings.Join(current, " "))
			current = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return blocks
}

// compile-time check to ensure PDFParser implements the Parser interface
var _ Parser = (*PDFParser)(nil)
