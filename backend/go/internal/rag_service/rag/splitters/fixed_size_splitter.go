package splitters

import (
	"context"
	"fmt"
	"unicode"
	"unicode/utf8"

	"ragcompare/backend/go/internal/rag_service/rag/interfaces"
	"ragcompare/backend/go/internal/rag_service/rag/schema"
)

// FixedSizeSplitter cuts each page into windows of ChunkSize runes that overlap by
// ChunkOverlap runes. A window that would end mid-word is shortened to the last
// whitespace in its second half, if there is one. Chunks never cross pages, and
// windows without any letter or digit are dropped.
type FixedSizeSplitter struct {
	ChunkSize    int
	ChunkOverlap int
}

// NewFixedSizeSplitter creates a new FixedSizeSplitter.
func NewFixedSizeSplitter(chunkSize, chunkOverlap int) (*FixedSizeSplitter, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", chunkSize)
	}
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		return nil, fmt.Errorf("chunk overlap must be in [0, %d), got %d", chunkSize, chunkOverlap)
	}
	return &FixedSizeSplitter{ChunkSize: chunkSize, ChunkOverlap: chunkOverlap}, nil
}

// Split returns the chunks of all pages in reading order. Offsets are rune offsets into
// the page texts joined with schema.PageSeparator. IDs are left to the caller.
func (s *FixedSizeSplitter) Split(ctx context.Context, doc *schema.Document, pages []schema.Page) ([]*schema.Chunk, error) {
	var (
		chunks   []*schema.Chunk
		base     int
		sepRunes = utf8.RuneCountInString(schema.PageSeparator)
	)
	for i, page := range pages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if i > 0 {
			base += sepRunes
		}
		runes := []rune(page.Text)
		for _, w := range s.windows(runes) {
			start, end := trim(runes, w[0], w[1])
			if !hasWord(runes[start:end]) {
				continue
			}
			chunks = append(chunks, &schema.Chunk{
				DocumentID: doc.ID,
				Ordinal:    len(chunks),
				Offset:     base + start,
				Page:       page.Number,
				Text:       string(runes[start:end]),
			})
		}
		base += len(runes)
	}
	return chunks, nil
}

// windows returns the [start, end) rune ranges of one page.
func (s *FixedSizeSplitter) windows(runes []rune) [][2]int {
	var out [][2]int
	n := len(runes)
	for start := 0; start < n; {
		end := start + s.ChunkSize
		if end >= n {
			out = append(out, [2]int{start, n})
			break
		}
		end = snapToSpace(runes, start+s.ChunkSize/2, end)
		out = append(out, [2]int{start, end})

		next := end - s.ChunkOverlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// snapToSpace moves end back to just after the last whitespace in runes[min:end].
func snapToSpace(runes []rune, min, end int) int {
	for i := end - 1; i > min; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

func trim(runes []rune, start, end int) (int, int) {
	for start < end && unicode.IsSpace(runes[start]) {
		start++
	}
	for end > start && unicode.IsSpace(runes[end-1]) {
		end--
	}
	return start, end
}

func hasWord(runes []rune) bool {
	for _, r := range runes {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			return true
		}
	}
	return false
}

// compile-time check to ensure FixedSizeSplitter implements the Splitter interface
var _ interfaces.Splitter = (*FixedSizeSplitter)(nil)
