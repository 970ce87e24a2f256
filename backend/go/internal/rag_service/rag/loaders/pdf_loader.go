package loaders

import (
	"bytes"
	"context"

	"github.com/ledongthuc/pdf"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

// PdfLoader implements the Loader interface for reading PDF files.
type PdfLoader struct{}

// NewPdfLoader creates a new PdfLoader.
func NewPdfLoader() *PdfLoader {
	return &PdfLoader{}
}

// Load extracts the plain text of each page. Page numbers follow the PDF.
func (l *PdfLoader) Load(ctx context.Context, doc *schema.Document) (pages []schema.Page, err error) {
	// The parser panics on some malformed object graphs.
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, apperr.New(apperr.KindInput, "malformed PDF: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(doc.Data), int64(len(doc.Data)))
	if err != nil {
		return nil, apperr.Wrap(apperr.KindInput, err, "open PDF")
	}

	numPages := reader.NumPage()
	pages = make([]schema.Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindInput, err, "extract text of page %d", i)
		}
		pages = append(pages, schema.Page{Number: i, Text: text})
	}
	if len(pages) == 0 {
		return nil, apperr.New(apperr.KindInput, "PDF has no pages")
	}
	return pages, nil
}

// compile-time check to ensure PdfLoader implements the Loader interface
var _ interfaces.Loader = (*PdfLoader)(nil)
