package parsers

import (
	"fmt"
	"io"
	"strings"

	"Athena/internal/knowledge/document"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	gmtext "github.com/yuin/goldmark/text"
)

// MarkdownParser maps a Markdown AST onto the document model. Heading depth
// becomes the heading level, fenced code blocks keep their language tag,
// GFM tables map to Table elements.
type MarkdownParser struct {
	md goldmark.Markdown
}

// NewMarkdownParser creates a new MarkdownParser with table support enabled.
func NewMarkdownParser() *MarkdownParser {
	return &MarkdownParser{
		md: goldmark.New(goldmark.WithExtensions(extension.Table)),
	}
}

// Parse converts the Markdown stream into a Document. The first heading
// becomes the title when the document has none.
func (p *MarkdownParser) Parse(r io.Reader, source string) (*document.Document, error) {
	src, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read markdown stream: %w", err)
	}

	root := p.md.Parser().Parse(gmtext.NewReader(src))
	doc := &document.Document{Source: source}

	for child := root.FirstChild(); child != nil; child = child.NextSibling() {
		switch n := child.(type) {
		case *ast.Heading:
			text := inlineText(n, src)
			if text == "" {
				continue
			}
			doc.Append(document.Heading{Level: n.Level, Text: text})
			if doc.Title == "" {
				doc.Title = text
			}
		case *ast.Paragraph:
			text, images := paragraphContent(n, src)
			if text != "" {
				doc.Append(document.Paragraph{Text: text})
			}
			for _, img := range images {
				doc.Append(img)
			}
		case *ast.List:
			items := listItems(n, src)
			if len(items) == 0 {
				continue
			}
			doc.Append(document.List{Ordered: n.IsOrdered(), Items: items})
		case *ast.FencedCodeBlock:
			code := rawLines(n, src)
			if code == "" {
				continue
			}
			doc.Append(document.CodeBlock{Language: string(n.Language(src)), Code: code})
		case *ast.CodeBlock:
			code := rawLines(n, src)
			if code == "" {
				continue
			}
			doc.Append(document.CodeBlock{Code: code})
		case *east.Table:
			if tbl, ok := tableElement(n, src); ok {
				doc.Append(tbl)
			}
		case *ast.Blockquote:
			if text := inlineText(n, src); text != "" {
				doc.Append(document.Paragraph{Text: text})
			}
		}
	}
	return doc, nil
}

// inlineText collects the rendered text of a node's inline content.
func inlineText(n ast.Node, src []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String())
}

// paragraphContent splits a paragraph into its running text and any image
// references it carries. Image alt text stays with the image element, not
// the paragraph.
func paragraphContent(n *ast.Paragraph, src []byte) (string, []document.Image) {
	var sb strings.Builder
	var images []document.Image
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Image:
			images = append(images, document.Image{
				AltText: inlineText(t, src),
				Path:    string(t.Destination),
			})
			return ast.WalkSkipChildren, nil
		case *ast.Text:
			sb.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(sb.String()), images
}

// listItems flattens a list node, recursing into nested lists so every
// item lands in the same element.
func listItems(l *ast.List, src []byte) []string {
	var items []string
	for li := l.FirstChild(); li != nil; li = li.NextSibling() {
		var nested []string
		var sb strings.Builder
		for part := li.FirstChild(); part != nil; part = part.NextSibling() {
			if sub, ok := part.(*ast.List); ok {
				nested = append(nested, listItems(sub, src)...)
				continue
			}
			if text := inlineText(part, src); text != "" {
				if sb.Len() > 0 {
					sb.WriteByte(' ')
				}
				sb.WriteString(text)
			}
		}
		if sb.Len() > 0 {
			items = append(items, sb.String())
		}
		items = append(items, nested...)
	}
	return items
}

// rawLines returns a block node's raw source lines without reflowing.
func rawLines(n ast.Node, src []byte) string {
	var sb strings.Builder
	lines := n.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		sb.Write(seg.Value(src))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// tableElement maps a GFM table node to a Table element.
func tableElement(t *east.Table, src []byte) (document.Table, bool) {
	var tbl document.Table
	for row := t.FirstChild(); row != nil; row = row.NextSibling() {
		var cells []string
		for cell := row.FirstChild(); cell != nil; cell = cell.NextSibling() {
			cells = append(cells, inlineText(cell, src))
		}
		switch row.(type) {
		case *east.TableHeader:
			tbl.Headers = cells
		case *east.TableRow:
			tbl.Rows = append(tbl.Rows, cells)
		}
	}
	if len(tbl.Headers) == 0 && len(tbl.Rows) == 0 {
		return document.Table{}, false
	}
	return tbl, true
}

// compile-time check to ensure MarkdownParser implements the Parser interface
var _ Parser = (*MarkdownParser)(nil)
