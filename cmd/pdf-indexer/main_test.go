package main

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Lllllllleong/pagesearchflow/internal/models"
	"github.com/Lllllllleong/pagesearchflow/internal/services"
)

type stubExtractor struct{ fail bool }

func (s stubExtractor) Extract(context.Context, string) ([][]byte, []string, error) {
	if s.fail {
		return nil, nil, errors.New("404 not found")
	}
	return [][]byte{[]byte("png")}, []string{"text"}, nil
}

type stubEmbedder struct{}

func (stubEmbedder) EmbedImages(_ context.Context, images [][]byte) ([][]float32, error) {
	out := make([][]float32, len(images))
	for i := range out {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func (stubEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{0, 1}
	}
	return out, nil
}

func (stubEmbedder) Dimension() int { return 2 }

type stubIndex struct {
	indexErr error
	indexed  int
}

func (s *stubIndex) Deploy(context.Context) error { return nil }

func (s *stubIndex) PrepareDocument(doc *models.ProcessedDocument) (*models.IndexedDocument, error) {
	return &models.IndexedDocument{Title: doc.Title}, nil
}

func (s *stubIndex) IndexDocuments(_ context.Context, docs []*models.IndexedDocument) error {
	if s.indexErr != nil {
		return s.indexErr
	}
	s.indexed += len(docs)
	return nil
}

func (s *stubIndex) Search(_ context.Context, query string, _ []float32) (*models.SearchResponse, error) {
	return &models.SearchResponse{Query: query}, nil
}

var testDescriptors = []models.PDFDescriptor{
	{Title: "Doc A", URL: "https://example.com/a.pdf"},
	{Title: "Doc B", URL: "https://example.com/b.pdf"},
}

func TestRunPipeline_ExitCodes(t *testing.T) {
	tests := []struct {
		name      string
		extractor stubExtractor
		index     *stubIndex
		want      int
	}{
		{"all processed", stubExtractor{}, &stubIndex{}, 0},
		{"nothing processed", stubExtractor{fail: true}, &stubIndex{}, 1},
		{"indexing failed", stubExtractor{}, &stubIndex{indexErr: errors.New("write rejected")}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pipeline := services.NewPipeline(tt.extractor, stubEmbedder{}, tt.index, nil, "")

			assert.Equal(t, tt.want, runPipeline(context.Background(), pipeline, testDescriptors))
		})
	}
}

func TestRunPipeline_NothingProcessedIndexesNothing(t *testing.T) {
	index := &stubIndex{}
	pipeline := services.NewPipeline(stubExtractor{fail: true}, stubEmbedder{}, index, nil, "")

	assert.Equal(t, 1, runPipeline(context.Background(), pipeline, testDescriptors))
	assert.Zero(t, index.indexed)
}
