package loader

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"

	"docrag/internal/domain"
)

var pdfConfOnce sync.Once

func pdfConfiguration() *model.Configuration {
	// keep pdfcpu from creating a config dir in the user's home
	pdfConfOnce.Do(func() { model.ConfigPath = "disable" })
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}

// loadPDF returns one document per page that has text. Pages are numbered
// from 0 in the metadata. Image-only pages produce nothing.
//
// pdfcpu validates the file structure; page text is decoded by
// ledongthuc/pdf, which applies font encodings and ToUnicode maps.
func loadPDF(path string) ([]domain.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	pc, err := api.ReadValidateAndOptimize(f, pdfConfiguration())
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf %s: %v", domain.ErrUnsupportedFormat, path, err)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	r, err := pdf.NewReader(f, info.Size())
	if err != nil {
		return nil, fmt.Errorf("%w: read pdf %s: %v", domain.ErrUnsupportedFormat, path, err)
	}

	pages := min(pc.PageCount, r.NumPage())
	var docs []domain.Document
	for i := 1; i <= pages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		raw, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("extract page %d of %s: %w", i, path, err)
		}
		text := cleanText(raw)
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, domain.Document{
			Content: text,
			Metadata: map[string]string{
				domain.MetaSource: path,
				domain.MetaPage:   strconv.Itoa(i - 1),
			},
		})
	}
	return docs, nil
}

// cleanText drops control characters and undecodable runes. Glyph codes
// from fonts without a usable encoding otherwise show up as NULs.
func cleanText(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '\n' || r == '\t':
			return r
		case r == unicode.ReplacementChar, unicode.IsControl(r):
			return -1
		}
		return r
	}, s)
}
