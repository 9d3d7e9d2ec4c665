package parsers

import (
	"errors"
	"io"
	"strings"
	"testing"

	"Athena/internal/knowledge/document"
)

func TestResolveNoExtension(t *testing.T) {
	r := NewDefaultResolver()
	_, err := r.Resolve("README")
	if !errors.Is(err, ErrNoExtension) {
		t.Fatalf("expected ErrNoExtension, got %v", err)
	}
}

func TestResolveUnsupportedExtensionListsSupportedSet(t *testing.T) {
	r := NewDefaultResolver()
	_, err := r.Resolve("slides.xyz")

	var ue *UnsupportedExtensionError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UnsupportedExtensionError, got %v", err)
	}
	if ue.Ext != ".xyz" {
		t.Errorf("Ext = %q, want .xyz", ue.Ext)
	}
	msg := err.Error()
	for _, ext := range []string{".docx", ".pdf", ".md", ".txt"} {
		if !strings.Contains(msg, ext) {
			t.Errorf("message %q should list %s", msg, ext)
		}
	}
}

func TestResolveIsCaseInsensitive(t *testing.T) {
	r := NewDefaultResolver()
	p, err := r.Resolve("NOTES.TXT")
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if _, ok := p.(*TextParser); !ok {
		t.Errorf("resolved parser = %T, want *TextParser", p)
	}
}

func TestForExtensionsRejectsUnknown(t *testing.T) {
	if _, err := ForExtensions([]string{".txt", ".xlsx"}); err == nil {
		t.Fatal("expected error for extension without a parser")
	}
}

func TestForExtensionsRestrictsSet(t *testing.T) {
	r, err := ForExtensions([]string{".txt", ".md"})
	if err != nil {
		t.Fatalf("ForExtensions returned error: %v", err)
	}
	if _, err := r.Resolve("a.pdf"); err == nil {
		t.Error("expected .pdf to be unsupported in restricted resolver")
	}
	if got := r.Supported(); len(got) != 2 {
		t.Errorf("Supported() = %v, want 2 entries", got)
	}
}

type panickyParser struct{}

func (panickyParser) Parse(io.Reader, string) (*document.Document, error) {
	panic("malformed input")
}

func TestParseConvertsPanicToError(t *testing.T) {
	r := NewResolver()
	r.Register(".bad", "bad", panickyParser{})

	doc, err := r.Parse("file.bad", strings.NewReader("x"))
	if doc != nil {
		t.Error("expected nil document after panic")
	}
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected ParseError, got %v", err)
	}
	if !strings.Contains(pe.Error(), "malformed input") {
		t.Errorf("error %q should carry the panic message", pe.Error())
	}
}

func TestParseDispatchesByExtension(t *testing.T) {
	r := NewDefaultResolver()
	doc, err := r.Parse("notes.txt", strings.NewReader("alpha\nbeta\n"))
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(doc.Elements) != 2 {
		t.Fatalf("elements = %d, want 2", len(doc.Elements))
	}
	if doc.Source != "notes.txt" {
		t.Errorf("Source = %q, want notes.txt", doc.Source)
	}
}
