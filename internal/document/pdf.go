package document

import (
	"context"
	"fmt"
	"os"

	"github.com/tmc/langchaingo/documentloaders"
)

// Extractor turns one file into page documents carrying a source key.
type Extractor interface {
	Extract(ctx context.Context, path string) ([]Document, error)
}

// PDFExtractor extracts one document per PDF page with langchaingo's PDF loader.
type PDFExtractor struct{}

func (PDFExtractor) Extract(ctx context.Context, path string) (docs []Document, err error) {
	f, err := os.Open(path) // #nosec G304 -- path comes from directory enumeration or the upload dir
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	if info.Size() == 0 {
		return nil, fmt.Errorf("empty file")
	}

	// The underlying PDF reader panics on some malformed files.
	defer func() {
		if r := recover(); r != nil {
			docs = nil
			err = fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	pages, err := documentloaders.NewPDF(f, info.Size()).Load(ctx)
	if err != nil {
		return nil, err
	}

	docs = make([]Document, 0, len(pages))
	for _, p := range pages {
		md := make(map[string]any, len(p.Metadata)+1)
		for k, v := range p.Metadata {
			md[k] = v
		}
		md[MetadataSource] = path
		docs = append(docs, Document{Text: p.PageContent, Metadata: md})
	}
	return docs, nil
}
