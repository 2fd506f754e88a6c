// Package chunker implements Chunker (spec.md §4.3): splitting a
// document's markdown text into paragraph-bounded pieces no larger than a
// configured size, so each piece fits comfortably in one LLM call.
package chunker

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Chunk is one piece of a document's text, with its position recorded so
// PromptBuilder can tell the model where it sits in the whole document.
type Chunk struct {
	Index      int
	Total      int
	Text       string
	CharOffset int
}

// Config controls how text is split.
type Config struct {
	// MaxChars bounds a chunk's size when TokenModel is empty.
	MaxChars int
	// TokenModel, when set, switches to token-aware sizing using the
	// named tiktoken encoding instead of raw character counts.
	TokenModel string
	// MaxTokens bounds a chunk's size when TokenModel is set.
	MaxTokens int
}

// DefaultConfig splits on a 4000-character budget, matching
// MAX_CHUNK_CHARS's default.
func DefaultConfig() Config {
	return Config{MaxChars: 4000}
}

// Split breaks text into paragraph-bounded chunks, never splitting a
// paragraph across two chunks unless the paragraph alone exceeds the
// budget (in which case it's hard-wrapped so no chunk is ever dropped).
func Split(text string, cfg Config) []Chunk {
	if cfg.MaxChars <= 0 && cfg.MaxTokens <= 0 {
		cfg = DefaultConfig()
	}

	sizer := charSizer
	if cfg.TokenModel != "" {
		if enc, err := tiktoken.GetEncoding(cfg.TokenModel); err == nil {
			sizer = tokenSizer(enc, cfg.MaxTokens)
		}
	}
	budget := cfg.MaxChars
	if cfg.TokenModel != "" {
		budget = cfg.MaxTokens
	}
	if budget <= 0 {
		budget = 4000
	}

	paragraphs := splitParagraphs(text)

	var chunks []Chunk
	var current strings.Builder
	offset := 0
	chunkStart := 0

	flush := func() {
		if current.Len() == 0 {
			return
		}
		chunks = append(chunks, Chunk{
			Index:      len(chunks),
			Text:       strings.TrimRight(current.String(), "\n"),
			CharOffset: chunkStart,
		})
		current.Reset()
	}

	for _, p := range paragraphs {
		candidate := current.String() + p + "\n\n"
		if current.Len() > 0 && sizer(candidate) > budget {
			flush()
			chunkStart = offset
		}

		if sizer(p) > budget {
			// a single paragraph exceeds the budget: hard-wrap it rather
			// than silently dropping any of its text
			flush()
			chunkStart = offset
			for _, piece := range hardWrap(p, budget, sizer) {
				chunks = append(chunks, Chunk{Index: len(chunks), Text: piece, CharOffset: offset})
				offset += len(piece)
			}
			continue
		}

		current.WriteString(p)
		current.WriteString("\n\n")
		offset += len(p) + 2
	}
	flush()

	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = len(chunks)
	}
	return chunks
}

func splitParagraphs(text string) []string {
	raw := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n\n")
	var out []string
	for _, p := range raw {
		trimmed := strings.TrimSpace(p)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func hardWrap(text string, budget int, sizer func(string) int) []string {
	var pieces []string
	runes := []rune(text)
	start := 0
	for start < len(runes) {
		end := start
		for end < len(runes) && sizer(string(runes[start:end+1])) <= budget {
			end++
		}
		if end == start {
			end = start + 1 // guarantee forward progress for degenerate budgets
		}
		pieces = append(pieces, string(runes[start:end]))
		start = end
	}
	return pieces
}

func charSizer(s string) int {
	return len(s)
}

func tokenSizer(enc *tiktoken.Tiktoken, _ int) func(string) int {
	return func(s string) int {
		return len(enc.Encode(s, nil, nil))
	}
}
