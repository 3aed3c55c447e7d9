package document

import "strings"

type normalizeOptions struct {
	keepEmpty bool
}

type NormalizeOption func(*normalizeOptions)

// WithKeepEmpty keeps documents whose text is empty or whitespace only.
func WithKeepEmpty() NormalizeOption {
	return func(o *normalizeOptions) { o.keepEmpty = true }
}

// Normalize returns new documents whose metadata holds exactly the source key, copied from
// the input (nil when the input has none). Text is never modified. Whitespace-only
// documents are dropped unless WithKeepEmpty is given.
func Normalize(docs []Document, opts ...NormalizeOption) []Document {
	var o normalizeOptions
	for _, opt := range opts {
		opt(&o)
	}

	out := make([]Document, 0, len(docs))
	for _, d := range docs {
		if !o.keepEmpty && strings.TrimSpace(d.Text) == "" {
			continue
		}
		out = append(out, Document{
			Text:     d.Text,
			Metadata: map[string]any{MetadataSource: d.Metadata[MetadataSource]},
		})
	}
	return out
}
