// Package chunker splits a document's linearized text into overlapping,
// size-bounded chunks. Lines are the split unit: long lines are wrapped at
// whitespace against a per-line token target, then lines accumulate into
// chunks against a per-chunk token target and a hard character ceiling.
// The tail of each chunk seeds the next one so retrieval keeps context
// across boundaries.
package chunker

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// TokenCounter estimates the token count of a text. The default is a
// character heuristic (one token per four runes); callers with a real
// tokenizer can inject their own.
type TokenCounter func(string) int

// Config bounds the chunker. Zero values pick up the documented defaults.
type Config struct {
	CharacterLimit  int // hard per-chunk character ceiling
	LineTokens      int // soft per-line token target used when wrapping
	ParagraphTokens int // soft per-chunk token target
	Overlap         int // trailing tokens repeated at the start of the next chunk
	TokenCounter    TokenCounter
}

// Chunk is the unit of retrieval. IDs are stable within a document: the
// same document id and order always derive the same chunk id, so re-running
// ingestion overwrites instead of duplicating.
type Chunk struct {
	ID             string
	Text           string
	Order          int
	TokenCount     int
	CharacterCount int
}

// Chunker splits linearized text. Safe for concurrent use.
type Chunker struct {
	cfg   Config
	count TokenCounter
}

const (
	defaultCharacterLimit  = 4096
	defaultLineTokens      = 60
	defaultParagraphTokens = 200
	defaultOverlap         = 40
)

// New validates the configuration and returns a Chunker.
func New(cfg Config) (*Chunker, error) {
	if cfg.CharacterLimit == 0 {
		cfg.CharacterLimit = defaultCharacterLimit
	}
	if cfg.LineTokens == 0 {
		cfg.LineTokens = defaultLineTokens
	}
	if cfg.ParagraphTokens == 0 {
		cfg.ParagraphTokens = defaultParagraphTokens
	}
	if cfg.CharacterLimit < 0 || cfg.LineTokens < 0 || cfg.ParagraphTokens < 0 || cfg.Overlap < 0 {
		return nil, fmt.Errorf("chunker limits must not be negative: %+v", cfg)
	}
	if cfg.Overlap >= cfg.CharacterLimit {
		return nil, fmt.Errorf("chunker overlap %d must be smaller than the character limit %d", cfg.Overlap, cfg.CharacterLimit)
	}
	counter := cfg.TokenCounter
	if counter == nil {
		counter = HeuristicTokens
	}
	return &Chunker{cfg: cfg, count: counter}, nil
}

// HeuristicTokens is the default token estimate: one token per four runes,
// rounded up.
func HeuristicTokens(s string) int {
	n := utf8.RuneCountInString(s)
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}

// Split chunks the linearized text of one document. Order is dense from 0.
// Empty input yields no chunks and no error.
func (c *Chunker) Split(documentID, text string) []Chunk {
	lines := c.splitLines(text)
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	var cur []string
	fresh := 0 // lines in cur that are not the overlap seed

	emit := func() {
		if fresh == 0 {
			return
		}
		body := strings.Join(cur, "\n")
		chunks = append(chunks, Chunk{
			ID:             ChunkID(documentID, len(chunks)),
			Text:           body,
			Order:          len(chunks),
			TokenCount:     c.count(body),
			CharacterCount: utf8.RuneCountInString(body),
		})
		cur = nil
		fresh = 0
		if c.cfg.Overlap > 0 {
			if seed := lastTokens(body, c.cfg.Overlap); seed != "" {
				cur = []string{seed}
			}
		}
	}

	for _, line := range lines {
		if fresh > 0 && c.exceeds(cur, line) {
			emit()
		}
		// The overlap seed alone may already collide with the hard ceiling;
		// drop it rather than emit a chunk with no fresh content.
		if fresh == 0 && len(cur) == 1 &&
			utf8.RuneCountInString(cur[0])+1+utf8.RuneCountInString(line) > c.cfg.CharacterLimit {
			cur = nil
		}
		cur = append(cur, line)
		fresh++
	}
	emit()
	return chunks
}

// ChunkID derives the stable chunk identifier for a document id and order.
func ChunkID(documentID string, order int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(documentID+":"+strconv.Itoa(order))).String()
}

// exceeds reports whether appending line to cur would cross the soft token
// target or the hard character ceiling.
func (c *Chunker) exceeds(cur []string, line string) bool {
	body := strings.Join(cur, "\n")
	if c.count(body)+c.count(line) > c.cfg.ParagraphTokens {
		return true
	}
	// +1 for the joining newline.
	return utf8.RuneCountInString(body)+1+utf8.RuneCountInString(line) > c.cfg.CharacterLimit
}

// splitLines breaks the text into trimmed non-blank lines and wraps lines
// that exceed the per-line token target at whitespace.
func (c *Chunker) splitLines(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		for _, wrapped := range c.wrapLine(line) {
			out = append(out, c.hardSplit(wrapped)...)
		}
	}
	return out
}

func (c *Chunker) wrapLine(line string) []string {
	if c.count(line) <= c.cfg.LineTokens {
		return []string{line}
	}
	words := strings.Fields(line)
	var pieces []string
	var cur string
	for _, w := range words {
		candidate := w
		if cur != "" {
			candidate = cur + " " + w
		}
		if cur != "" && c.count(candidate) > c.cfg.LineTokens {
			pieces = append(pieces, cur)
			cur = w
			continue
		}
		cur = candidate
	}
	if cur != "" {
		pieces = append(pieces, cur)
	}
	return pieces
}

// hardSplit enforces the character ceiling on a single piece; only a word
// longer than the whole ceiling ever triggers it.
func (c *Chunker) hardSplit(piece string) []string {
	if utf8.RuneCountInString(piece) <= c.cfg.CharacterLimit {
		return []string{piece}
	}
	var out []string
	runes := []rune(piece)
	for len(runes) > c.cfg.CharacterLimit {
		out = append(out, string(runes[:c.cfg.CharacterLimit]))
		runes = runes[c.cfg.CharacterLimit:]
	}
	if len(runes) > 0 {
		out = append(out, string(runes))
	}
	return out
}

// lastTokens returns the last n whitespace-delimited tokens of text joined
// by single spaces.
func lastTokens(text string, n int) string {
	fields := strings.Fields(text)
	if len(fields) > n {
		fields = fields[len(fields)-n:]
	}
	return strings.Join(fields, " ")
}
