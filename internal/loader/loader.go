// Package loader reads source files into documents. Supported formats are
// plain UTF-8 text and PDF (one document per page).
package loader

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"docrag/internal/domain"
)

const (
	extPDF = ".pdf"
	extTXT = ".txt"
)

var _ domain.Loader = (*FileLoader)(nil)

// FileLoader loads .txt and .pdf files.
type FileLoader struct {
	logger *slog.Logger
}

func New(logger *slog.Logger) *FileLoader {
	if logger == nil {
		logger = slog.Default()
	}
	return &FileLoader{logger: logger}
}

// Supported reports whether the file extension can be loaded.
func Supported(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case extPDF, extTXT:
		return true
	}
	return false
}

// Load reads a single file. Unknown extensions fail with ErrUnsupportedFormat
// and files without extractable text fail with ErrEmptyContent.
func (l *FileLoader) Load(path string) ([]domain.Document, error) {
	var (
		docs []domain.Document
		err  error
	)
	switch strings.ToLower(filepath.Ext(path)) {
	case extTXT:
		docs, err = loadText(path)
	case extPDF:
		docs, err = loadPDF(path)
	default:
		return nil, fmt.Errorf("%w: %s", domain.ErrUnsupportedFormat, path)
	}
	if err != nil {
		return nil, err
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("%w: no extractable text in %s", domain.ErrEmptyContent, path)
	}
	l.logger.Debug("loaded file", "path", path, "documents", len(docs))
	return docs, nil
}

// LoadDirectory walks dir recursively and loads every PDF, then every text
// file, each group in lexical path order. Files that fail are reported in the
// returned slice and do not stop the walk.
func (l *FileLoader) LoadDirectory(dir string) ([]domain.Document, []*domain.FileError, error) {
	var pdfs, txts []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		switch strings.ToLower(filepath.Ext(path)) {
		case extPDF:
			pdfs = append(pdfs, path)
		case extTXT:
			txts = append(txts, path)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(pdfs)
	sort.Strings(txts)
	docs, failed := l.loadFiles(append(pdfs, txts...))
	return docs, failed, nil
}

// LoadPaths loads files, directories and glob patterns. Every failing path
// is collected as a FileError; the documents of all other paths are returned.
func (l *FileLoader) LoadPaths(paths []string) ([]domain.Document, []*domain.FileError) {
	var (
		docs   []domain.Document
		failed []*domain.FileError
	)
	for _, p := range paths {
		matches, _ := filepath.Glob(p)
		if matches == nil {
			matches = []string{p}
		}
		for _, m := range matches {
			info, err := os.Stat(m)
			if err != nil {
				failed = append(failed, &domain.FileError{Path: m, Err: err})
				continue
			}
			if info.IsDir() {
				d, f, err := l.LoadDirectory(m)
				if err != nil {
					failed = append(failed, &domain.FileError{Path: m, Err: err})
					continue
				}
				docs = append(docs, d...)
				failed = append(failed, f...)
				continue
			}
			d, f := l.loadFiles([]string{m})
			docs = append(docs, d...)
			failed = append(failed, f...)
		}
	}
	return docs, failed
}

func (l *FileLoader) loadFiles(paths []string) ([]domain.Document, []*domain.FileError) {
	var (
		docs   []domain.Document
		failed []*domain.FileError
	)
	for _, p := range paths {
		d, err := l.Load(p)
		if err != nil {
			l.logger.Warn("skipping file", "path", p, "error", err)
			failed = append(failed, &domain.FileError{Path: p, Err: err})
			continue
		}
		docs = append(docs, d...)
	}
	return docs, failed
}

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func loadText(path string) ([]domain.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not valid UTF-8 text", domain.ErrUnsupportedFormat, path)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	return []domain.Document{{
		Content:  string(data),
		Metadata: map[string]string{domain.MetaSource: path},
	}}, nil
}

// IsIngestError reports whether err only affects a single source.
func IsIngestError(err error) bool {
	return errors.Is(err, domain.ErrUnsupportedFormat) || errors.Is(err, domain.ErrEmptyContent)
}
