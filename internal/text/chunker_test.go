package text

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"medichat/internal/apperr"
	"medichat/internal/document"
)

func reconstruct(chunks []string, overlap int) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c)
			continue
		}
		b.WriteString(string([]rune(c)[overlap:]))
	}
	return b.String()
}

func TestNewSplitter_Validation(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
		wantErr bool
	}{
		{"Valid", 500, 20, false},
		{"Zero Overlap", 10, 0, false},
		{"Overlap Equals Size", 500, 500, true},
		{"Overlap Exceeds Size", 100, 200, true},
		{"Negative Overlap", 100, -1, true},
		{"Zero Size", 0, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := NewSplitter(tt.size, tt.overlap)
			if tt.wantErr {
				assert.Nil(t, s)
				assert.True(t, errors.Is(err, apperr.ErrConfiguration))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestSplitText_HardWindows(t *testing.T) {
	s, err := NewSplitter(500, 20, WithBoundaries(false))
	require.NoError(t, err)

	text := strings.Repeat("abcdefghij", 120) // 1200 chars, no boundaries
	chunks := s.SplitText(text)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 500)
	assert.Len(t, chunks[1], 500)
	assert.Len(t, chunks[2], 240)
	assert.Equal(t, chunks[0][480:], chunks[1][:20])
	assert.Equal(t, chunks[1][480:], chunks[2][:20])
	assert.Equal(t, text, reconstruct(chunks, 20))
}

func TestSplitText_BoundariesWithoutSeparatorsMatchHardCut(t *testing.T) {
	s, err := NewSplitter(500, 20)
	require.NoError(t, err)

	text := strings.Repeat("x", 1200)
	chunks := s.SplitText(text)
	assert.Len(t, chunks, 3)
	assert.Equal(t, text, reconstruct(chunks, 20))
}

func TestSplitText_PrefersBoundaries(t *testing.T) {
	s, err := NewSplitter(60, 5)
	require.NoError(t, err)

	text := "Aspirin reduces fever and mild pain.\n\nIbuprofen is an NSAID used for inflammation. " +
		"Paracetamol is gentle on the stomach but hard on the liver in overdose."
	chunks := s.SplitText(text)

	require.True(t, len(chunks) > 1)
	assert.True(t, strings.HasSuffix(chunks[0], "\n\n"), "first chunk should end at the paragraph break, got %q", chunks[0])
	for _, c := range chunks[:len(chunks)-1] {
		assert.LessOrEqual(t, len([]rune(c)), 60)
	}
	assert.Equal(t, text, reconstruct(chunks, 5))
}

func TestSplitText_CoverageProperty(t *testing.T) {
	texts := []string{
		"",
		"short",
		strings.Repeat("word ", 700),
		strings.Repeat("Sentence one. Sentence two? Line\n", 90),
		strings.Repeat("ünïcödé ", 300),
		strings.Repeat("x", 999) + " " + strings.Repeat("y", 999),
	}
	configs := [][2]int{{500, 20}, {100, 0}, {50, 49}, {7, 3}, {1000, 200}}

	for _, cfg := range configs {
		for _, boundaries := range []bool{true, false} {
			s, err := NewSplitter(cfg[0], cfg[1], WithBoundaries(boundaries))
			require.NoError(t, err)

			for _, text := range texts {
				chunks := s.SplitText(text)
				assert.Equal(t, text, reconstruct(chunks, cfg[1]), "size=%d overlap=%d", cfg[0], cfg[1])
				for i, c := range chunks {
					n := len([]rune(c))
					assert.LessOrEqual(t, n, cfg[0])
					if i > 0 {
						assert.Greater(t, n, cfg[1], "a chunk must add text beyond the overlap")
					}
				}
				if i := len(chunks) - 1; i > 0 {
					prev, cur := []rune(chunks[i-1]), []rune(chunks[i])
					assert.Equal(t, string(prev[len(prev)-cfg[1]:]), string(cur[:cfg[1]]))
				}
			}
		}
	}
}

func TestSplit_Documents(t *testing.T) {
	s, err := NewSplitter(10, 2, WithBoundaries(false))
	require.NoError(t, err)

	docs := []document.Document{
		{Text: "0123456789abcdef", Metadata: map[string]any{"source": "a.pdf"}},
		{Text: "short", Metadata: map[string]any{"source": "b.pdf"}},
		{Text: "", Metadata: map[string]any{"source": "c.pdf"}},
	}
	chunks := s.Split(docs)

	require.Len(t, chunks, 3)
	assert.Equal(t, Chunk{Text: "0123456789", SourcePath: "a.pdf", SequenceIndex: 0}, chunks[0])
	assert.Equal(t, Chunk{Text: "89abcdef", SourcePath: "a.pdf", SequenceIndex: 1}, chunks[1])
	assert.Equal(t, Chunk{Text: "short", SourcePath: "b.pdf", SequenceIndex: 0}, chunks[2])
}

func TestSplit_PagesOfOneSourceNumberedConsecutively(t *testing.T) {
	s, err := NewSplitter(10, 2, WithBoundaries(false))
	require.NoError(t, err)

	docs := []document.Document{
		{Text: "page one text", Metadata: map[string]any{"source": "book.pdf"}},
		{Text: "page two", Metadata: map[string]any{"source": "book.pdf"}},
	}
	chunks := s.Split(docs)

	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, "book.pdf", c.SourcePath)
		assert.Equal(t, i, c.SequenceIndex)
	}
}
