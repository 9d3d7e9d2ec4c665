// Package document defines the format-agnostic document model produced by
// the source parsers. A Document is an ordered sequence of typed content
// elements; element order is reading order and is preserved through parsing
// and linearization. Elements carry data only. All structural logic
// (chunking, rendering) lives in consumers that switch on the element type.
package document

import "strings"

// Element type discriminators.
const (
	TypeHeading   = "heading"
	TypeParagraph = "paragraph"
	TypeList      = "list"
	TypeTable     = "table"
	TypeCodeBlock = "code"
	TypeImage     = "image"
)

// Element is a closed set of content variants. Every element belongs to
// exactly one variant and exposes nothing beyond its data and type tag.
type Element interface {
	ElementType() string
}

// Heading is a section heading with its depth, 1 being the topmost level.
type Heading struct {
	Level int
	Text  string
}

func (Heading) ElementType() string { return TypeHeading }

// Paragraph is a run of plain text.
type Paragraph struct {
	Text string
}

func (Paragraph) ElementType() string { return TypeParagraph }

// List is a sequence of items, ordered or unordered as a whole.
type List struct {
	Ordered bool
	Items   []string
}

func (List) ElementType() string { return TypeList }

// Table holds a header row and data rows. Each row is expected to have the
// same width as Headers; parsers are responsible for that shape.
type Table struct {
	Headers []string
	Rows    [][]string
}

func (Table) ElementType() string { return TypeTable }

// CodeBlock preserves code verbatim. The text is never reflowed. Language
// may be empty when the source fence did not declare one.
type CodeBlock struct {
	Language string
	Code     string
}

func (CodeBlock) ElementType() string { return TypeCodeBlock }

// Image is a reference to an image. Binary content is never embedded in the
// model; only the alt text participates in linearization.
type Image struct {
	AltText string
	Path    string
}

func (Image) ElementType() string { return TypeImage }

var (
	_ Element = Heading{}
	_ Element = Paragraph{}
	_ Element = List{}
	_ Element = Table{}
	_ Element = CodeBlock{}
	_ Element = Image{}
)

// Document is the root container parsers produce and the chunker consumes.
type Document struct {
	// Title is optional; parsers infer it from the first heading (or first
	// paragraph for flat formats) when the source does not declare one.
	Title string

	// Source is the provenance label, normally the original file name.
	Source string

	// Tags travel with every chunk into the vector store payload.
	Tags []string

	// Elements in reading order.
	Elements []Element
}

// Append adds an element preserving insertion order.
func (d *Document) Append(e Element) {
	d.Elements = append(d.Elements, e)
}

// PlainText linearizes the document: every element contributes its text as
// one or more lines, in document order. The result is the exact input the
// chunker splits, so this mapping must stay deterministic.
func (d *Document) PlainText() string {
	var lines []string
	for _, e := range d.Elements {
		switch el := e.(type) {
		case Heading:
			if el.Text != "" {
				lines = append(lines, el.Text)
			}
		case Paragraph:
			if el.Text != "" {
				lines = append(lines, el.Text)
			}
		case List:
			for _, item := range el.Items {
				if item != "" {
					lines = append(lines, item)
				}
			}
		case Table:
			if len(el.Headers) > 0 {
				lines = append(lines, strings.Join(el.Headers, "\t"))
			}
			for _, row := range el.Rows {
				lines = append(lines, strings.Join(row, "\t"))
			}
		case CodeBlock:
			if el.Code != "" {
				// Verbatim, split only so every line stays addressable.
				lines = append(lines, strings.Split(strings.TrimRight(el.Code, "\n"), "\n")...)
			}
		case Image:
			if el.AltText != "" {
				lines = append(lines, el.AltText)
			}
		}
	}
	return strings.Join(lines, "\n")
}
