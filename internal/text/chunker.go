// Package text splits normalized documents into overlapping fixed-size chunks.
package text

import (
	"strings"

	"medichat/internal/apperr"
	"medichat/internal/document"
)

type Chunk struct {
	Text          string
	SourcePath    string
	SequenceIndex int
}

// separators are tried in order when pulling a window end back to a natural boundary.
var separators = []string{"\n\n", ". ", "? ", "! ", ".\n", "\n", " "}

type Splitter struct {
	size             int
	overlap          int
	preferBoundaries bool
}

type Option func(*Splitter)

// WithBoundaries toggles cutting at paragraph, sentence, line or word boundaries.
// With it off every window is cut at exactly size characters.
func WithBoundaries(enabled bool) Option {
	return func(s *Splitter) { s.preferBoundaries = enabled }
}

// NewSplitter validates the window. Sizes are counted in characters, not bytes.
func NewSplitter(size, overlap int, opts ...Option) (*Splitter, error) {
	if size <= 0 {
		return nil, apperr.Configuration("split", "chunk size must be positive, got %d", size)
	}
	if overlap < 0 {
		return nil, apperr.Configuration("split", "chunk overlap must not be negative, got %d", overlap)
	}
	if overlap >= size {
		return nil, apperr.Configuration("split", "chunk overlap %d must be smaller than chunk size %d", overlap, size)
	}

	s := &Splitter{size: size, overlap: overlap, preferBoundaries: true}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *Splitter) Size() int    { return s.size }
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks every document independently. Chunk i+1 of a document always starts
// Overlap characters before chunk i ends, so dropping the first Overlap characters of
// every chunk but the first and concatenating gives back the document text.
//
// SequenceIndex counts chunks per source path, so the pages of one PDF (one document
// each) get consecutive indexes and never share a record id.
func (s *Splitter) Split(docs []document.Document) []Chunk {
	var chunks []Chunk
	next := make(map[string]int)
	for _, d := range docs {
		src := d.Source()
		for _, t := range s.SplitText(d.Text) {
			chunks = append(chunks, Chunk{Text: t, SourcePath: src, SequenceIndex: next[src]})
			next[src]++
		}
	}
	return chunks
}

func (s *Splitter) SplitText(text string) []string {
	r := []rune(text)
	if len(r) == 0 {
		return nil
	}

	var out []string
	start := 0
	for {
		if len(r)-start <= s.size {
			out = append(out, string(r[start:]))
			return out
		}

		end := start + s.size
		if s.preferBoundaries {
			end = s.boundary(r, start, end)
		}
		out = append(out, string(r[start:end]))
		start = end - s.overlap
	}
}

// boundary returns the latest cut in (start, end] that falls right after a separator,
// trying separators in order. The cut never moves below half the window or into the
// overlap, otherwise the hard end is kept.
func (s *Splitter) boundary(r []rune, start, end int) int {
	lowest := start + max(s.overlap+1, s.size/2)
	window := string(r[lowest:end])

	for _, sep := range separators {
		i := strings.LastIndex(window, sep)
		if i < 0 {
			continue
		}
		// window is a string; convert the byte offset back to runes.
		return lowest + len([]rune(window[:i+len(sep)]))
	}
	return end
}
