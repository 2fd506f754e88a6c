package chunker

import (
	"strings"
	"testing"
)

func TestSplitRespectsCharBudget(t *testing.T) {
	var paragraphs []string
	for i := 0; i < 20; i++ {
		paragraphs = append(paragraphs, strings.Repeat("word ", 50))
	}
	text := strings.Join(paragraphs, "\n\n")

	chunks := Split(text, Config{MaxChars: 500})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks for a %d char document, got %d", len(text), len(chunks))
	}
	for _, c := range chunks {
		if len(c.Text) > 500+len("word ") {
			t.Errorf("chunk %d exceeds budget: %d chars", c.Index, len(c.Text))
		}
	}
}

func TestSplitNeverDropsText(t *testing.T) {
	text := "first paragraph here.\n\nsecond paragraph here.\n\nthird paragraph here."
	chunks := Split(text, Config{MaxChars: 4000})
	if len(chunks) != 1 {
		t.Fatalf("expected a single chunk under a generous budget, got %d", len(chunks))
	}
	for _, p := range []string{"first paragraph", "second paragraph", "third paragraph"} {
		if !strings.Contains(chunks[0].Text, p) {
			t.Errorf("chunk text missing paragraph %q", p)
		}
	}
}

func TestSplitHardWrapsOversizedParagraph(t *testing.T) {
	huge := strings.Repeat("a", 10000)
	chunks := Split(huge, Config{MaxChars: 1000})
	if len(chunks) < 10 {
		t.Fatalf("expected the oversized paragraph to be hard-wrapped into many chunks, got %d", len(chunks))
	}

	var rebuilt strings.Builder
	for _, c := range chunks {
		rebuilt.WriteString(c.Text)
	}
	if rebuilt.Len() != len(huge) {
		t.Fatalf("hard-wrapping lost or added characters: got %d, want %d", rebuilt.Len(), len(huge))
	}
}

func TestSplitSetsIndexAndTotal(t *testing.T) {
	text := strings.Repeat("paragraph content.\n\n", 50)
	chunks := Split(text, Config{MaxChars: 200})
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	for i, c := range chunks {
		if c.Index != i {
			t.Errorf("chunk %d has Index %d", i, c.Index)
		}
		if c.Total != len(chunks) {
			t.Errorf("chunk %d has Total %d, want %d", i, c.Total, len(chunks))
		}
	}
}

func TestSplitEmptyText(t *testing.T) {
	if chunks := Split("", Config{MaxChars: 100}); len(chunks) != 0 {
		t.Fatalf("expected no chunks for empty text, got %d", len(chunks))
	}
}

func TestSplitDefaultsWhenConfigZero(t *testing.T) {
	chunks := Split("some short text", Config{})
	if len(chunks) != 1 {
		t.Fatalf("expected zero-value Config to fall back to DefaultConfig, got %d chunks", len(chunks))
	}
}
