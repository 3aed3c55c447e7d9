package document

import (
	"context"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"medichat/internal/apperr"
)

// FileFailure records a file that was skipped because it could not be extracted.
type FileFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

type LoadResult struct {
	Documents []Document
	Files     int
	Skipped   []FileFailure
}

// DirectorySource enumerates PDF files in a folder and extracts them one by one.
type DirectorySource struct {
	extractor Extractor
	recursive bool
	logger    *slog.Logger
}

func NewDirectorySource(e Extractor, recursive bool, logger *slog.Logger) *DirectorySource {
	return &DirectorySource{extractor: e, recursive: recursive, logger: logger}
}

func isPDF(name string) bool {
	return strings.EqualFold(filepath.Ext(name), ".pdf")
}

// Files lists the PDF files under dir in lexical order.
func (s *DirectorySource) Files(dir string) ([]string, error) {
	var files []string
	if !s.recursive {
		entries, err := os.ReadDir(dir)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type().IsRegular() && isPDF(e.Name()) {
				files = append(files, filepath.Join(dir, e.Name()))
			}
		}
		return files, nil
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() && isPDF(d.Name()) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Load extracts every file. A file that fails is logged and reported in Skipped; it never
// fails the whole load. label, when set, rewrites the source value of each page.
func (s *DirectorySource) Load(ctx context.Context, files []string, label func(string) string) LoadResult {
	res := LoadResult{Files: len(files)}
	for _, path := range files {
		if ctx.Err() != nil {
			res.Skipped = append(res.Skipped, FileFailure{Path: path, Reason: ctx.Err().Error()})
			continue
		}

		pages, err := s.extractor.Extract(ctx, path)
		if err != nil {
			xerr := apperr.Extraction(path, err)
			s.logger.WarnContext(ctx, "skipping unreadable file", "path", path, "error", xerr)
			res.Skipped = append(res.Skipped, FileFailure{Path: path, Reason: err.Error()})
			continue
		}

		if label != nil {
			src := label(path)
			for i := range pages {
				if pages[i].Metadata == nil {
					pages[i].Metadata = map[string]any{}
				}
				pages[i].Metadata[MetadataSource] = src
			}
		}
		res.Documents = append(res.Documents, pages...)
	}
	return res
}
