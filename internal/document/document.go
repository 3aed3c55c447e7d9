// Package document loads PDF files into page documents and normalizes their metadata.
package document

import "fmt"

// MetadataSource is the only metadata key that survives normalization.
const MetadataSource = "source"

type Document struct {
	Text     string
	Metadata map[string]any
}

// Source returns the source metadata as a string, or "" when it is absent or nil.
func (d Document) Source() string {
	v, ok := d.Metadata[MetadataSource]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
