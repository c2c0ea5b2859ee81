package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Lllllllleong/pagesearchflow/internal/models"
	"github.com/google/uuid"
)

// ErrNoDocumentsProcessed is returned by Run when every descriptor was skipped.
var ErrNoDocumentsProcessed = errors.New("no PDFs were successfully processed")

// Extractor turns a PDF location into ordered page images and page texts.
type Extractor interface {
	Extract(ctx context.Context, url string) (images [][]byte, texts []string, err error)
}

// Embedder turns images or strings into fixed-length vectors, one per input.
type Embedder interface {
	EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// SearchIndex is the search application documents are indexed into.
type SearchIndex interface {
	Deploy(ctx context.Context) error
	PrepareDocument(doc *models.ProcessedDocument) (*models.IndexedDocument, error)
	IndexDocuments(ctx context.Context, docs []*models.IndexedDocument) error
	Search(ctx context.Context, query string, embedding []float32) (*models.SearchResponse, error)
}

// Outcome is the result of processing one descriptor. Exactly one of
// Document and Err is set.
type Outcome struct {
	Descriptor models.PDFDescriptor
	Document   *models.ProcessedDocument
	Err        error
}

// Skipped reports whether the descriptor was dropped.
func (o Outcome) Skipped() bool { return o.Err != nil }

// Processed returns the documents of the successful outcomes, in order.
func Processed(outcomes []Outcome) []*models.ProcessedDocument {
	var docs []*models.ProcessedDocument
	for _, o := range outcomes {
		if !o.Skipped() {
			docs = append(docs, o.Document)
		}
	}
	return docs
}

// RunReport summarises a full pipeline run.
type RunReport struct {
	RunID     string
	Processed int
	Skipped   []Outcome
	Indexed   int
	Search    *models.SearchResponse
}

// Pipeline drives extraction, embedding, indexing and search over a list of PDFs.
type Pipeline struct {
	extractor   Extractor
	embedder    Embedder
	index       SearchIndex
	logger      *slog.Logger
	sampleQuery string
}

func NewPipeline(extractor Extractor, embedder Embedder, index SearchIndex, logger *slog.Logger, sampleQuery string) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	if sampleQuery == "" {
		sampleQuery = DefaultSampleQuery
	}
	return &Pipeline{
		extractor:   extractor,
		embedder:    embedder,
		index:       index,
		logger:      logger,
		sampleQuery: sampleQuery,
	}
}

// Run deploys the index, processes every descriptor, indexes the successes
// and issues the sample search. Item failures during processing are skipped;
// an empty result, a deploy failure, or any indexing or search failure ends the run.
func (p *Pipeline) Run(ctx context.Context, descriptors []models.PDFDescriptor) (*RunReport, error) {
	report := &RunReport{RunID: uuid.NewString()}
	run := p.withLogger(p.logger.With("runId", report.RunID))
	logCtx := run.logger

	logCtx.Info("Deploying search application.")
	if err := p.index.Deploy(ctx); err != nil {
		logCtx.Error("Failed to deploy search application", "error", err)
		return report, fmt.Errorf("deploy: %w", err)
	}

	outcomes := run.ProcessAll(ctx, descriptors)
	docs := Processed(outcomes)
	report.Processed = len(docs)
	for _, o := range outcomes {
		if o.Skipped() {
			report.Skipped = append(report.Skipped, o)
		}
	}
	if len(docs) == 0 {
		logCtx.Error("No PDFs were successfully processed. Exiting.", "skipped", len(report.Skipped))
		return report, ErrNoDocumentsProcessed
	}

	indexed, err := run.IndexAll(ctx, docs)
	report.Indexed = indexed
	if err != nil {
		return report, err
	}
	logCtx.Info("Successfully processed and indexed PDFs.", "indexed", indexed, "skipped", len(report.Skipped))

	results, err := run.SampleSearch(ctx, p.sampleQuery)
	if err != nil {
		return report, err
	}
	report.Search = results
	return report, nil
}

func (p *Pipeline) withLogger(logger *slog.Logger) *Pipeline {
	cp := *p
	cp.logger = logger
	return &cp
}

// ProcessAll processes descriptors in order. A failing descriptor is logged
// and recorded as skipped; it never stops the loop.
func (p *Pipeline) ProcessAll(ctx context.Context, descriptors []models.PDFDescriptor) []Outcome {
	outcomes := make([]Outcome, 0, len(descriptors))
	for _, d := range descriptors {
		doc, err := p.ProcessDocument(ctx, d)
		if err != nil {
			p.logger.Error("Failed to process PDF", "title", d.Title, "url", d.URL, "error", err)
			outcomes = append(outcomes, Outcome{Descriptor: d, Err: err})
			continue
		}
		outcomes = append(outcomes, Outcome{Descriptor: d, Document: doc})
	}
	return outcomes
}

// ProcessDocument extracts, embeds and merges a single descriptor.
func (p *Pipeline) ProcessDocument(ctx context.Context, d models.PDFDescriptor) (*models.ProcessedDocument, error) {
	logCtx := p.logger.With("title", d.Title)
	logCtx.Info("Processing PDF.", "url", d.URL)

	images, texts, err := p.extractor.Extract(ctx, d.URL)
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	logCtx.Info("Extracted pages.", "pageCount", len(images))

	embeddings, err := p.embedder.EmbedImages(ctx, images)
	if err != nil {
		return nil, fmt.Errorf("embed: %w", err)
	}
	logCtx.Info("Generated embeddings for all pages.")

	doc := &models.ProcessedDocument{
		PDFDescriptor: d,
		Images:        images,
		Texts:         texts,
		Embeddings:    embeddings,
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return doc, nil
}

// IndexAll prepares and submits documents one at a time. The first failure is
// returned and no later document is submitted. It reports how many were indexed.
func (p *Pipeline) IndexAll(ctx context.Context, docs []*models.ProcessedDocument) (int, error) {
	p.logger.Info("Indexing documents.", "count", len(docs))
	for i, doc := range docs {
		logCtx := p.logger.With("title", doc.Title)

		prepared, err := p.index.PrepareDocument(doc)
		if err != nil {
			logCtx.Error("Error preparing PDF for indexing", "error", err)
			return i, fmt.Errorf("prepare %q: %w", doc.Title, err)
		}
		if err := p.index.IndexDocuments(ctx, []*models.IndexedDocument{prepared}); err != nil {
			logCtx.Error("Error indexing PDF", "error", err)
			return i, fmt.Errorf("index %q: %w", doc.Title, err)
		}
		logCtx.Info("Successfully indexed.", "documentId", prepared.ID)
	}
	return len(docs), nil
}

// SampleSearch embeds query and runs one search with it.
func (p *Pipeline) SampleSearch(ctx context.Context, query string) (*models.SearchResponse, error) {
	p.logger.Info("Performing sample search.", "query", query)

	embeddings, err := p.embedder.EmbedTexts(ctx, []string{query})
	if err != nil {
		p.logger.Error("Error during sample search", "error", err)
		return nil, fmt.Errorf("embed query: %w", err)
	}
	if len(embeddings) != 1 || len(embeddings[0]) != p.embedder.Dimension() {
		err := fmt.Errorf("%w: query embedding does not have %d values", ErrEmbeddingDimension, p.embedder.Dimension())
		p.logger.Error("Error during sample search", "error", err)
		return nil, err
	}

	results, err := p.index.Search(ctx, query, embeddings[0])
	if err != nil {
		p.logger.Error("Error during sample search", "error", err)
		return nil, fmt.Errorf("search: %w", err)
	}
	p.logger.Info("Search results.", "query", query, "hits", len(results.Hits))
	for _, hit := range results.Hits {
		p.logger.Info("Search hit.", "title", hit.Title, "page", hit.PageNumber, "distance", hit.Distance, "imageUri", hit.ImageURI)
	}
	return results, nil
}
