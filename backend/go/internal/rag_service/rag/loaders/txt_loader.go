package loaders

import (
	"context"
	"strings"
	"unicode/utf8"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

// pageBreak separates pages in plain-text uploads.
const pageBreak = "\f"

// TxtLoader implements the Loader interface for reading plain text files.
type TxtLoader struct{}

// NewTxtLoader creates a new TxtLoader.
func NewTxtLoader() *TxtLoader {
	return &TxtLoader{}
}

// Load splits the text into pages on form feeds. Text without form feeds is a single page.
func (l *TxtLoader) Load(ctx context.Context, doc *schema.Document) ([]schema.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !utf8.Valid(doc.Data) {
		return nil, apperr.New(apperr.KindInput, "text document is not valid UTF-8")
	}
	text := strings.ReplaceAll(string(doc.Data), "\r\n", "\n")
	parts := strings.Split(text, pageBreak)
	pages := make([]schema.Page, 0, len(parts))
	for i, part := range parts {
		pages = append(pages, schema.Page{Number: i + 1, Text: part})
	}
	return pages, nil
}

// compile-time check to ensure TxtLoader implements the Loader interface
var _ interfaces.Loader = (*TxtLoader)(nil)
