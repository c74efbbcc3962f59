package extract

import (
	"bytes"
	"context"
	"fmt"
	"regexp"
	"strings"

	pdflib "github.com/ledongthuc/pdf"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/3N-VOY/neuropdfv2/internal/pkg/errors"
)

// PageText is the extracted text of one page, in document order.
type PageText struct {
	Number int
	Text   string
}

// Extractor turns uploaded document bytes into page-ordered plain text.
type Extractor interface {
	Extract(ctx context.Context, data []byte) ([]PageText, error)
}

type PDFExtractor struct {
	maxPages int
}

func NewPDFExtractor(maxPages int) *PDFExtractor {
	return &PDFExtractor{maxPages: maxPages}
}

// IsPDF checks the magic header; only real PDF bytes reach the parser.
func IsPDF(data []byte) bool {
	return len(data) >= 5 && string(data[:5]) == "%PDF-"
}

func (e *PDFExtractor) Extract(ctx context.Context, data []byte) (pages []PageText, err error) {
	// The pdf parser panics on some malformed inputs; surface those as
	// extraction failures instead of killing the request goroutine.
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = fmt.Errorf("%w: %v", appErr.ErrExtractionFailed, r)
		}
	}()
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty file", appErr.ErrUnsupportedFormat)
	}
	if !IsPDF(data) {
		return nil, fmt.Errorf("%w: not a pdf", appErr.ErrUnsupportedFormat)
	}
	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", appErr.ErrExtractionFailed, err)
	}
	total := reader.NumPage()
	if total == 0 {
		return nil, fmt.Errorf("%w: pdf has no pages", appErr.ErrExtractionFailed)
	}
	if e.maxPages > 0 && total > e.maxPages {
		return nil, fmt.Errorf("%w: pdf exceeds maximum page limit of %d", appErr.ErrInvalid, e.maxPages)
	}

	pages = make([]PageText, 0, total)
	empty := 0
	for num := 1; num <= total; num++ {
		page := reader.Page(num)
		if page.V.IsNull() {
			empty++
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			// A single broken page should not sink the document.
			logutil.GetLogger(ctx).Warn("page extraction failed", zap.Int("page", num), zap.Error(err))
			empty++
			continue
		}
		text := normalizeText(content)
		if text == "" {
			empty++
			continue
		}
		pages = append(pages, PageText{Number: num, Text: text})
	}
	if len(pages) == 0 {
		// Scanned-image PDFs with no text layer land here.
		return nil, fmt.Errorf("%w: no extractable text in %d pages", appErr.ErrExtractionFailed, total)
	}
	logutil.GetLogger(ctx).Info("pdf text extracted",
		zap.Int("pages", total),
		zap.Int("pages_with_text", len(pages)),
		zap.Int("pages_empty", empty),
	)
	return pages, nil
}

var (
	spaceRuns   = regexp.MustCompile(`[ \t\x{00a0}]+`)
	newlineRuns = regexp.MustCompile(`\n{3,}`)
)

// normalizeText collapses horizontal whitespace while keeping paragraph
// breaks, so the chunker can still split at them.
func normalizeText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = spaceRuns.ReplaceAllString(s, " ")
	s = newlineRuns.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
