package service

import (
	"fmt"
	"unicode"

	"github.com/cloo-solutions/ragdesk/internal/domain"
)

// ChunkConfig controls how documents are split before embedding.
type ChunkConfig struct {
	// MaxChars is the upper bound on a chunk's length in runes.
	MaxChars int
	// MinChars is the shortest chunk a natural breakpoint may produce.
	// Breakpoints closer than this to the chunk start are ignored.
	MinChars int
	// Overlap is the number of runes each chunk repeats from the end of the previous one.
	Overlap int
}

// DefaultChunkConfig provides sane defaults for chunking.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{
		MaxChars: 1000,
		MinChars: 250,
		Overlap:  0,
	}
}

// NewChunkConfig builds a config for the given size and overlap with the default MinChars ratio.
func NewChunkConfig(maxChars, overlap int) ChunkConfig {
	return ChunkConfig{
		MaxChars: maxChars,
		MinChars: maxChars / 4,
		Overlap:  overlap,
	}
}

// Validate checks that the config can make progress on any input.
func (c ChunkConfig) Validate() error {
	if c.MaxChars <= 0 {
		return domain.ErrInvalidChunkConfig.WithCause(fmt.Errorf("max chars must be positive, got %d", c.MaxChars))
	}
	if c.MinChars < 0 || c.MinChars >= c.MaxChars {
		return domain.ErrInvalidChunkConfig.WithCause(fmt.Errorf("min chars must be in [0, %d), got %d", c.MaxChars, c.MinChars))
	}
	if c.Overlap < 0 || c.Overlap >= c.MaxChars {
		return domain.ErrInvalidChunkConfig.WithCause(fmt.Errorf("overlap must be in [0, %d), got %d", c.MaxChars, c.Overlap))
	}
	return nil
}

// ChunkDocument splits a document into ordered chunks. Every chunk is an exact
// slice of the text, so the chunks cover it without gaps.
func ChunkDocument(doc domain.Document, cfg ChunkConfig) ([]domain.Chunk, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	runes := []rune(doc.Text)
	spans := splitSpans(runes, cfg)

	chunks := make([]domain.Chunk, 0, len(spans))
	for i, span := range spans {
		chunks = append(chunks, domain.Chunk{
			Content: string(runes[span.Start:span.End]),
			Metadata: domain.ChunkMetadata{
				SourcePath: doc.SourcePath,
				Location:   span,
			},
			Ordinal: i,
		})
	}
	return chunks, nil
}

func splitSpans(runes []rune, cfg ChunkConfig) []domain.Location {
	if len(runes) == 0 {
		return nil
	}

	spans := make([]domain.Location, 0, len(runes)/cfg.MaxChars+1)
	start := 0
	for {
		if len(runes)-start <= cfg.MaxChars {
			return append(spans, domain.Location{Start: start, End: len(runes)})
		}

		end := findCut(runes, start, start+cfg.MinChars, start+cfg.MaxChars)
		spans = append(spans, domain.Location{Start: start, End: end})

		next := end - cfg.Overlap
		if next <= start {
			next = end
		}
		start = next
	}
}

// findCut returns the end offset for a chunk starting at start, searching
// (lo, hi] for the coarsest natural breakpoint and falling back to hi.
func findCut(runes []rune, start, lo, hi int) int {
	breakpoints := []func(c int) bool{
		// paragraph
		func(c int) bool { return c-2 >= start && runes[c-1] == '\n' && runes[c-2] == '\n' },
		// line
		func(c int) bool { return runes[c-1] == '\n' },
		// sentence
		func(c int) bool { return c-2 >= start && unicode.IsSpace(runes[c-1]) && isSentenceEnd(runes[c-2]) },
		// word
		func(c int) bool { return unicode.IsSpace(runes[c-1]) },
	}

	for _, isBreak := range breakpoints {
		for c := hi; c > lo; c-- {
			if isBreak(c) {
				return c
			}
		}
	}
	return hi
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?':
		return true
	}
	return false
}

// embeddingText is the text sent to the embedding model for a chunk.
func embeddingText(chunk domain.Chunk) string {
	out := []rune(chunk.Content)
	for i, r := range out {
		if r == '\n' || r == '\r' {
			out[i] = ' '
		}
	}
	return string(out)
}
