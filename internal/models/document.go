package models

import (
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
)

// Status values recorded on an IndexedDocument.
const (
	StatusIndexing = "INDEXING"
	StatusIndexed  = "INDEXED"
)

// ErrPageCountMismatch is returned when a document's images, texts and
// embeddings do not line up one entry per page.
var ErrPageCountMismatch = errors.New("page count mismatch")

// PDFDescriptor names a source PDF and where to fetch it from.
type PDFDescriptor struct {
	Title string `json:"title" yaml:"title"`
	URL   string `json:"url" yaml:"url"`
}

// ProcessedDocument is a descriptor enriched with its extracted pages and
// their embeddings. Index i of every slice refers to page i+1.
type ProcessedDocument struct {
	PDFDescriptor
	Images     [][]byte
	Texts      []string
	Embeddings [][]float32
}

// PageCount returns the number of rasterised pages.
func (d *ProcessedDocument) PageCount() int {
	return len(d.Images)
}

// Validate checks the one-entry-per-page invariant.
func (d *ProcessedDocument) Validate() error {
	if len(d.Images) == 0 {
		return fmt.Errorf("%w: document has no pages", ErrPageCountMismatch)
	}
	if len(d.Texts) != len(d.Images) || len(d.Embeddings) != len(d.Images) {
		return fmt.Errorf("%w: %d images, %d texts, %d embeddings",
			ErrPageCountMismatch, len(d.Images), len(d.Texts), len(d.Embeddings))
	}
	return nil
}

// IndexedDocument is the parent record for an indexed PDF in Firestore.
type IndexedDocument struct {
	ID             string        `firestore:"-"`
	Title          string        `firestore:"title"`
	SourceURL      string        `firestore:"sourceUrl"`
	PageCount      int           `firestore:"pageCount"`
	EmbeddingModel string        `firestore:"embeddingModel,omitempty"`
	Status         string        `firestore:"status,omitempty"`
	IndexedAt      time.Time     `firestore:"indexedAt,omitempty"`
	Pages          []IndexedPage `firestore:"-"`
}

// IndexedPage is a single page document in the pages sub-collection. The
// image bytes are uploaded to GCS and only the URI is persisted.
type IndexedPage struct {
	ID          string             `firestore:"-"`
	DocumentID  string             `firestore:"documentId"`
	Title       string             `firestore:"title"`
	SourceURL   string             `firestore:"sourceUrl"`
	PageNumber  int                `firestore:"pageNumber"`
	Text        string             `firestore:"text"`
	ImageURI    string             `firestore:"imageUri"`
	Embedding   firestore.Vector32 `firestore:"embedding"`
	ImageObject string             `firestore:"-"`
	Image       []byte             `firestore:"-"`
}
