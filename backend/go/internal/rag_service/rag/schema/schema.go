package schema

import "strconv"

const (
	// ContentTypePDF is the declared MIME type of PDF uploads.
	ContentTypePDF = "application/pdf"
	// ContentTypeText is the declared MIME type of plain-text uploads.
	ContentTypeText = "text/plain"
	// ContentTypeDocx is the declared MIME type of Word (.docx) uploads.
	ContentTypeDocx = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"

	// MetricCosine is the only distance metric indices are created with.
	MetricCosine = "COSINE"

	// PageSeparator joins page texts when computing document offsets.
	PageSeparator = "\n\n"
)

// Document is an uploaded file as the pipeline receives it. It is not persisted
// beyond the session that uploaded it.
type Document struct {
	// ID identifies the document inside its index.
	ID string

	// Name is the original file name, if the collaborator supplied one.
	Name string

	// Data holds the raw bytes of the file.
	Data []byte

	// ContentType is the declared MIME type.
	ContentType string
}

// Page is the text of one page of a loaded document. Number starts at 1.
type Page struct {
	Number int
	Text   string
}

// Chunk is a contiguous span of document text and the unit of embedding and retrieval.
type Chunk struct {
	// ID is "<index>:<ordinal>".
	ID string `json:"id"`

	// IndexName is the index the chunk was written to.
	IndexName string `json:"index"`

	// DocumentID is the document the chunk was cut from.
	DocumentID string `json:"document_id"`

	// Ordinal is the position of the chunk in its document, starting at 0.
	Ordinal int `json:"ordinal"`

	// Offset is the rune offset of the first character within the whole document text.
	Offset int `json:"offset"`

	// Page is the page the chunk was cut from.
	Page int `json:"page"`

	// Text is the chunk content.
	Text string `json:"text"`

	// Embedding is set once by the embedder and never changed.
	Embedding []float32 `json:"-"`
}

// ChunkID returns the stable identifier of the chunk with the given ordinal.
func ChunkID(index string, ordinal int) string {
	return index + ":" + strconv.Itoa(ordinal)
}

// ScoredChunk is a retrieval hit. Score is the cosine similarity, higher is closer.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// IndexSchema describes the vectors stored under an index.
type IndexSchema struct {
	Name      string
	Dimension int
	Metric    string
	// Prefix is the key prefix of the chunks in stores that need one.
	Prefix string
}
