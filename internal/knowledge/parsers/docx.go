package parsers

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"fmt"
	"io"
	"regexp"
	"strings"

	"Athena/internal/knowledge/document"
)

// DocxParser reads word/document.xml out of the .docx archive and maps body
// blocks onto the document model. Paragraph/table interleaving follows the
// body element order. Heading detection goes by paragraph style id, list
// detection by numbering properties.
type DocxParser struct{}

// NewDocxParser creates a new DocxParser.
func NewDocxParser() *DocxParser {
	return &DocxParser{}
}

// headingStyle matches Word heading style ids such as "Heading1"; the
// trailing integer is the heading level.
var headingStyle = regexp.MustCompile(`^heading([1-9][0-9]*)$`)

// Parse unpacks the archive, decodes the main document part and assembles
// the Document. The first detected heading becomes the title.
func (p *DocxParser) Parse(r io.Reader, source string) (*document.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read docx stream: %w", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("not a valid docx archive: %w", err)
	}

	raw, err := readArchiveFile(zr, "word/document.xml")
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("docx archive has no word/document.xml")
	}

	var wdoc wordDocument
	if err := xml.Unmarshal(raw, &wdoc); err != nil {
		return nil, fmt.Errorf("failed to decode document xml: %w", err)
	}

	return assembleDocx(source, classifyBlocks(wdoc.Body.Blocks)), nil
}

func readArchiveFile(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", name, err)
		}
		defer rc.Close()
		data, err := io.ReadAll(rc)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", name, err)
		}
		return data, nil
	}
	return nil, nil
}

// word/document.xml structure, limited to what classification needs.
// Element names match any namespace, so the usual w: prefix is covered.
type wordDocument struct {
	Body wordBody `xml:"body"`
}

type wordBody struct {
	// Collecting every child element keeps paragraphs and tables in body
	// order; unknown elements (sectPr, bookmarks) are skipped later.
	Blocks []bodyElement `xml:",any"`
}

type bodyElement struct {
	XMLName xml.Name
	Props   *paragraphProps `xml:"pPr"`
	Runs    []wordRun       `xml:"r"`
	Rows    []tableRow      `xml:"tr"`
}

type paragraphProps struct {
	Style *styleRef       `xml:"pStyle"`
	NumPr *numberingProps `xml:"numPr"`
}

type styleRef struct {
	Val string `xml:"val,attr"`
}

type numberingProps struct {
	NumID *numericVal `xml:"numId"`
}

type numericVal struct {
	Val int `xml:"val,attr"`
}

type wordRun struct {
	Texts []runText `xml:"t"`
}

type runText struct {
	Value string `xml:",chardata"`
}

type tableRow struct {
	Cells []tableCell `xml:"tc"`
}

type tableCell struct {
	Paragraphs []cellParagraph `xml:"p"`
}

type cellParagraph struct {
	Runs []wordRun `xml:"r"`
}

// docxBlock is the classified intermediate form assembleDocx works on.
type docxBlock struct {
	kind    docxBlockKind
	level   int  // heading level
	ordered bool // list item orderedness
	text    string
	headers []string
	rows    [][]string
}

type docxBlockKind int

const (
	docxParagraph docxBlockKind = iota
	docxHeading
	docxListItem
	docxTable
)

func classifyBlocks(elements []bodyElement) []docxBlock {
	var blocks []docxBlock
	for _, el := range elements {
		switch el.XMLName.Local {
		case "p":
			text := runsText(el.Runs)
			if text == "" {
				continue
			}
			blocks = append(blocks, classifyParagraph(el.Props, text))
		case "tbl":
			blocks = append(blocks, tableBlock(el.Rows))
		}
	}
	return blocks
}

func classifyParagraph(props *paragraphProps, text string) docxBlock {
	if props != nil {
		// Numbering presence implies an ordered list here. Word encodes
		// bullets through numbering definitions too, so bulleted items are
		// conflated with numbered ones; the numbering format id that would
		// distinguish them lives in numbering.xml and is not inspected.
		if props.NumPr != nil && props.NumPr.NumID != nil {
			return docxBlock{kind: docxListItem, ordered: true, text: text}
		}
		if props.Style != nil {
			if m := headingStyle.FindStringSubmatch(strings.ToLower(props.Style.Val)); m != nil {
				level := 0
				fmt.Sscanf(m[1], "%d", &level)
				return docxBlock{kind: docxHeading, level: level, text: text}
			}
		}
	}
	return docxBlock{kind: docxParagraph, text: text}
}

func tableBlock(rows []tableRow) docxBlock {
	b := docxBlock{kind: docxTable}
	for i, row := range rows {
		cells := make([]string, 0, len(row.Cells))
		for _, c := range row.Cells {
			var parts []string
			for _, p := range c.Paragraphs {
				if t := runsText(p.Runs); t != "" {
					parts = append(parts, t)
				}
			}
			cells = append(cells, strings.Join(parts, " "))
		}
		if i == 0 {
			b.headers = cells
		} else {
			b.rows = append(b.rows, cells)
		}
	}
	return b
}

func runsText(runs []wordRun) string {
	var sb strings.Builder
	for _, r := range runs {
		for _, t := range r.Texts {
			sb.WriteString(t.Value)
		}
	}
	return strings.TrimSpace(sb.String())
}

// assembleDocx turns classified blocks into a Document: consecutive list
// items of the same orderedness merge into one List, a table with zero data
// rows is dropped, the first heading supplies the title.
func assembleDocx(source string, blocks []docxBlock) *document.Document {
	doc := &document.Document{Source: source}
	var pending *document.List
	flush := func() {
		if pending != nil {
			doc.Append(*pending)
			pending = nil
		}
	}

	for _, b := range blocks {
		switch b.kind {
		case docxListItem:
			if pending != nil && pending.Ordered != b.ordered {
				flush()
			}
			if pending == nil {
				pending = &document.List{Ordered: b.ordered}
			}
			pending.Items = append(pending.Items, b.text)
		case docxHeading:
			flush()
			doc.Append(document.Heading{Level: b.level, Text: b.text})
			if doc.Title == "" {
				doc.Title = b.text
			}
		case docxParagraph:
			flush()
			doc.Append(document.Paragraph{Text: b.text})
		case docxTable:
			flush()
			if len(b.rows) == 0 {
				continue
			}
			doc.Append(document.Table{Headers: b.headers, Rows: b.rows})
		}
	}
	flush()
	return doc
}

// compile-time check to ensure DocxParser implements the Parser interface
var _ Parser = (*DocxParser)(nil)
