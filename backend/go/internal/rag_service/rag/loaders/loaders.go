package loaders

import (
	"context"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"ragcompare/backend/go/internal/apperr"
	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

// SupportedContentTypes lists the declared MIME types an upload may carry.
var SupportedContentTypes = []string{
	schema.ContentTypePDF,
	schema.ContentTypeText,
	schema.ContentTypeDocx,
}

// NormalizeContentType lowercases the declared type and strips its parameters.
func NormalizeContentType(declared string) (string, error) {
	mediaType, _, err := mime.ParseMediaType(strings.TrimSpace(declared))
	if err != nil {
		return "", apperr.Wrap(apperr.KindInput, err, "invalid content type %q", declared)
	}
	return mediaType, nil
}

// ForContentType returns the loader for a declared MIME type.
func ForContentType(declared string) (interfaces.Loader, error) {
	mediaType, err := NormalizeContentType(declared)
	if err != nil {
		return nil, err
	}
	switch mediaType {
	case schema.ContentTypePDF:
		return NewPdfLoader(), nil
	case schema.ContentTypeText:
		return NewTxtLoader(), nil
	case schema.ContentTypeDocx:
		return NewDocxLoader(), nil
	default:
		return nil, apperr.New(apperr.KindInput, "unsupported content type %q, expected one of %s",
			mediaType, strings.Join(SupportedContentTypes, ", "))
	}
}

// Validate rejects empty documents and documents whose bytes do not look like the declared type.
func Validate(doc *schema.Document) error {
	if doc == nil || len(doc.Data) == 0 {
		return apperr.New(apperr.KindInput, "document is empty")
	}
	declared, err := NormalizeContentType(doc.ContentType)
	if err != nil {
		return err
	}
	detected := mimetype.Detect(doc.Data)
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return nil
		}
	}
	// Some writers produce .docx archives that sniff as a plain zip; the loader decides.
	if declared == schema.ContentTypeDocx && detected.Is("application/zip") {
		return nil
	}
	return apperr.New(apperr.KindInput, "declared content type %s does not match detected %s", declared, detected.String())
}

// Load validates doc, extracts its pages and drops the ones without text.
func Load(ctx context.Context, doc *schema.Document) ([]schema.Page, error) {
	loader, err := ForContentType(doc.ContentType)
	if err != nil {
		return nil, err
	}
	if err := Validate(doc); err != nil {
		return nil, err
	}
	pages, err := loader.Load(ctx, doc)
	if err != nil {
		return nil, err
	}
	kept := pages[:0]
	for _, p := range pages {
		if strings.TrimSpace(p.Text) != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return nil, apperr.New(apperr.KindInput, "document has no extractable text")
	}
	return kept, nil
}
