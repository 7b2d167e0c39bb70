package service

import (
	"math/rand"
	"strings"
	"testing"
	"unicode"
	"unicode/utf8"

	"github.com/cloo-solutions/ragdesk/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// reconstruct joins chunks in ordinal order, dropping the runes each chunk
// shares with its predecessor.
func reconstruct(chunks []domain.Chunk) string {
	var b strings.Builder
	prevEnd := 0
	for i, c := range chunks {
		runes := []rune(c.Content)
		if i > 0 {
			runes = runes[prevEnd-c.Metadata.Location.Start:]
		}
		b.WriteString(string(runes))
		prevEnd = c.Metadata.Location.End
	}
	return b.String()
}

func randomText(r *rand.Rand, words int) string {
	vocab := []string{"paris", "france", "capital", "river", "seine", "élan", "über", "naïve", "a", "the",
		"encyclopedia", "supercalifragilistic", "日本語", "go", "vector"}
	var b strings.Builder
	for i := 0; i < words; i++ {
		b.WriteString(vocab[r.Intn(len(vocab))])
		switch r.Intn(20) {
		case 0:
			b.WriteString(".\n\n")
		case 1:
			b.WriteString("\n")
		case 2:
			b.WriteString("! ")
		case 3:
			b.WriteString(". ")
		default:
			b.WriteString(" ")
		}
	}
	return b.String()
}

func TestChunkDocument_Empty(t *testing.T) {
	chunks, err := ChunkDocument(domain.Document{Text: "", SourcePath: "empty.txt"}, DefaultChunkConfig())
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestChunkDocument_ShortTextSingleChunk(t *testing.T) {
	doc := domain.Document{Text: "The capital of France is Paris.", SourcePath: "france.txt"}

	chunks, err := ChunkDocument(doc, DefaultChunkConfig())
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.Equal(t, doc.Text, chunks[0].Content)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, "france.txt", chunks[0].Metadata.SourcePath)
	assert.Equal(t, domain.Location{Start: 0, End: 31}, chunks[0].Metadata.Location)
}

func TestChunkDocument_PrefersParagraphBreak(t *testing.T) {
	first := strings.Repeat("alpha beta. ", 5) + "\n\n"
	second := strings.Repeat("gamma delta. ", 5)
	doc := domain.Document{Text: first + second, SourcePath: "p.md"}

	chunks, err := ChunkDocument(doc, ChunkConfig{MaxChars: 80, MinChars: 10})
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, first, chunks[0].Content)
	assert.Equal(t, second, chunks[1].Content)
}

func TestChunkDocument_PrefersSentenceOverWord(t *testing.T) {
	doc := domain.Document{Text: "One two three. Four five six seven eight nine ten", SourcePath: "s.txt"}

	chunks, err := ChunkDocument(doc, ChunkConfig{MaxChars: 30, MinChars: 5})
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	assert.Equal(t, "One two three. ", chunks[0].Content)
}

func TestChunkDocument_NoMidWordSplitWhenSpacesExist(t *testing.T) {
	doc := domain.Document{Text: strings.Repeat("word ", 100), SourcePath: "w.txt"}

	chunks, err := ChunkDocument(doc, ChunkConfig{MaxChars: 42, MinChars: 10})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for _, c := range chunks[:len(chunks)-1] {
		assert.True(t, strings.HasSuffix(c.Content, " "), "chunk %d ends mid-word: %q", c.Ordinal, c.Content)
	}
}

func TestChunkDocument_HardCutWithoutBreakpoints(t *testing.T) {
	doc := domain.Document{Text: strings.Repeat("x", 25), SourcePath: "x.txt"}

	chunks, err := ChunkDocument(doc, ChunkConfig{MaxChars: 10, MinChars: 2})
	require.NoError(t, err)
	require.Len(t, chunks, 3)

	assert.Equal(t, 10, utf8.RuneCountInString(chunks[0].Content))
	assert.Equal(t, 10, utf8.RuneCountInString(chunks[1].Content))
	assert.Equal(t, 5, utf8.RuneCountInString(chunks[2].Content))
	assert.Equal(t, doc.Text, reconstruct(chunks))
}

func TestChunkDocument_Overlap(t *testing.T) {
	doc := domain.Document{Text: strings.Repeat("abcdefghij", 5), SourcePath: "o.txt"}

	chunks, err := ChunkDocument(doc, ChunkConfig{MaxChars: 20, MinChars: 0, Overlap: 5})
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i := 1; i < len(chunks); i++ {
		prev, cur := chunks[i-1].Metadata.Location, chunks[i].Metadata.Location
		assert.Equal(t, prev.End-5, cur.Start)
	}
	assert.Equal(t, doc.Text, reconstruct(chunks))
}

func TestChunkDocument_Properties(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	configs := []ChunkConfig{
		DefaultChunkConfig(),
		{MaxChars: 50, MinChars: 10, Overlap: 0},
		{MaxChars: 50, MinChars: 0, Overlap: 20},
		{MaxChars: 7, MinChars: 1, Overlap: 3},
		NewChunkConfig(200, 40),
	}

	for trial := 0; trial < 40; trial++ {
		text := randomText(r, r.Intn(600))
		for _, cfg := range configs {
			doc := domain.Document{Text: text, SourcePath: "rand.txt"}
			chunks, err := ChunkDocument(doc, cfg)
			require.NoError(t, err)

			for i, c := range chunks {
				n := utf8.RuneCountInString(c.Content)
				assert.LessOrEqual(t, n, cfg.MaxChars)
				assert.Greater(t, n, 0)
				assert.Equal(t, i, c.Ordinal)
				assert.Equal(t, n, c.Metadata.Location.Len())
				assert.Equal(t, "rand.txt", c.Metadata.SourcePath)
			}
			assert.Equal(t, text, reconstruct(chunks), "coverage with %+v", cfg)
		}
	}
}

func TestChunkDocument_Deterministic(t *testing.T) {
	text := randomText(rand.New(rand.NewSource(7)), 400)
	doc := domain.Document{Text: text, SourcePath: "d.txt"}

	a, err := ChunkDocument(doc, DefaultChunkConfig())
	require.NoError(t, err)
	b, err := ChunkDocument(doc, DefaultChunkConfig())
	require.NoError(t, err)

	assert.Equal(t, a, b)
}

func TestChunkConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultChunkConfig().Validate())
	assert.NoError(t, NewChunkConfig(1000, 200).Validate())

	invalid := []ChunkConfig{
		{MaxChars: 0},
		{MaxChars: 10, MinChars: 10},
		{MaxChars: 10, MinChars: -1},
		{MaxChars: 10, Overlap: 10},
		{MaxChars: 10, Overlap: -1},
	}
	for _, cfg := range invalid {
		err := cfg.Validate()
		assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig, "%+v", cfg)
	}

	_, err := ChunkDocument(domain.Document{Text: "x"}, ChunkConfig{})
	assert.ErrorIs(t, err, domain.ErrInvalidChunkConfig)
}

func TestEmbeddingText_ReplacesNewlines(t *testing.T) {
	chunk := domain.Chunk{Content: "line one\nline two\r\nend"}
	got := embeddingText(chunk)

	assert.Equal(t, "line one line two  end", got)
	assert.False(t, strings.ContainsFunc(got, func(r rune) bool { return r == '\n' || r == '\r' }))
	assert.True(t, strings.IndexFunc(got, unicode.IsSpace) > 0)
}
