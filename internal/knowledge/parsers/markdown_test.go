package parsers

import (
	"strings"
	"testing"

	"Athena/internal/knowledge/document"
)

const sampleMarkdown = `# Getting Started

Athena indexes your documents.

## Install

- download the release
- unpack it

1. configure
2. run

` + "```go\nfmt.Println(\"ready\")\n```" + `

| name | default |
| ---- | ------- |
| port | 8081    |

![deployment diagram](deploy.png)
`

func TestMarkdownParserStructure(t *testing.T) {
	doc, err := NewMarkdownParser().Parse(strings.NewReader(sampleMarkdown), "guide.md")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}

	if doc.Title != "Getting Started" {
		t.Errorf("Title = %q, want %q", doc.Title, "Getting Started")
	}

	var (
		headings []document.Heading
		lists    []document.List
		codes    []document.CodeBlock
		tables   []document.Table
		images   []document.Image
	)
	for _, el := range doc.Elements {
		switch e := el.(type) {
		case document.Heading:
			headings = append(headings, e)
		case document.List:
			lists = append(lists, e)
		case document.CodeBlock:
			codes = append(codes, e)
		case document.Table:
			tables = append(tables, e)
		case document.Image:
			images = append(images, e)
		}
	}

	if len(headings) != 2 || headings[0].Level != 1 || headings[1].Level != 2 {
		t.Errorf("headings = %+v, want levels 1 and 2", headings)
	}
	if len(lists) != 2 {
		t.Fatalf("lists = %d, want 2", len(lists))
	}
	if lists[0].Ordered || len(lists[0].Items) != 2 {
		t.Errorf("first list = %+v, want unordered with 2 items", lists[0])
	}
	if !lists[1].Ordered || lists[1].Items[0] != "configure" {
		t.Errorf("second list = %+v, want ordered starting with configure", lists[1])
	}
	if len(codes) != 1 || codes[0].Language != "go" || !strings.Contains(codes[0].Code, "fmt.Println") {
		t.Errorf("code blocks = %+v, want one go block", codes)
	}
	if len(tables) != 1 {
		t.Fatalf("tables = %d, want 1", len(tables))
	}
	if tables[0].Headers[0] != "name" || tables[0].Rows[0][1] != "8081" {
		t.Errorf("table = %+v", tables[0])
	}
	if len(images) != 1 || images[0].AltText != "deployment diagram" || images[0].Path != "deploy.png" {
		t.Errorf("images = %+v", images)
	}
}

func TestMarkdownParserHeadingLevels(t *testing.T) {
	input := "### Deep\n\ntext\n"
	doc, err := NewMarkdownParser().Parse(strings.NewReader(input), "deep.md")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	h, ok := doc.Elements[0].(document.Heading)
	if !ok || h.Level != 3 {
		t.Errorf("first element = %+v, want level-3 heading", doc.Elements[0])
	}
	// Title tracks the first heading regardless of its level.
	if doc.Title != "Deep" {
		t.Errorf("Title = %q, want Deep", doc.Title)
	}
}

func TestMarkdownParserEmptyInput(t *testing.T) {
	doc, err := NewMarkdownParser().Parse(strings.NewReader(""), "empty.md")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(doc.Elements) != 0 {
		t.Errorf("elements = %d, want 0", len(doc.Elements))
	}
}

func TestMarkdownParserCodeFenceWithoutLanguage(t *testing.T) {
	input := "```\nplain\n```\n"
	doc, err := NewMarkdownParser().Parse(strings.NewReader(input), "plain.md")
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	cb, ok := doc.Elements[0].(document.CodeBlock)
	if !ok {
		t.Fatalf("element = %T, want CodeBlock", doc.Elements[0])
	}
	if cb.Language != "" || cb.Code != "plain" {
		t.Errorf("code block = %+v", cb)
	}
}
