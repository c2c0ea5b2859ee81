package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Lllllllleong/pagesearchflow/internal/models"
)

const testDimension = 8

// fakeExtractor returns pagesPerDoc synthetic pages per URL unless the URL is in fail.
type fakeExtractor struct {
	pagesPerDoc int
	fail        map[string]error
	calls       []string
}

func (f *fakeExtractor) Extract(_ context.Context, url string) ([][]byte, []string, error) {
	f.calls = append(f.calls, url)
	if err, ok := f.fail[url]; ok {
		return nil, nil, err
	}
	n := f.pagesPerDoc
	if n == 0 {
		n = 2
	}
	images := make([][]byte, n)
	texts := make([]string, n)
	for i := range images {
		images[i] = []byte(fmt.Sprintf("%s#%d", url, i+1))
		texts[i] = fmt.Sprintf("page %d of %s", i+1, url)
	}
	return images, texts, nil
}

// fakeEmbedder returns constant vectors of length dim.
type fakeEmbedder struct {
	dim int
	// failURLs makes EmbedImages fail for pages produced from these URLs.
	failURLs map[string]bool
	// dropLast returns one image vector fewer than requested.
	dropLast  bool
	textErr   error
	wrongDim  bool
	textCalls [][]string
}

func (f *fakeEmbedder) EmbedImages(_ context.Context, images [][]byte) ([][]float32, error) {
	for url := range f.failURLs {
		if len(images) > 0 && strings.HasPrefix(string(images[0]), url+"#") {
			return nil, errors.New("model unavailable")
		}
	}
	n := len(images)
	if f.dropLast && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = f.vector(f.dim, float32(i))
	}
	return out, nil
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.textCalls = append(f.textCalls, texts)
	if f.textErr != nil {
		return nil, f.textErr
	}
	dim := f.dim
	if f.wrongDim {
		dim--
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = f.vector(dim, 0.5)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

func (f *fakeEmbedder) vector(dim int, v float32) []float32 {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = v
	}
	return vec
}

type searchCall struct {
	query     string
	embedding []float32
	limit     int
}

// fakeIndex records every call and can fail deploy, prepare or a given title's submission.
type fakeIndex struct {
	deployErr  error
	prepareErr error
	failTitle  string
	searchErr  error
	searchHits []models.SearchHit

	deployed    int
	submissions [][]string
	searches    []searchCall
}

func (f *fakeIndex) Deploy(context.Context) error {
	f.deployed++
	return f.deployErr
}

func (f *fakeIndex) PrepareDocument(doc *models.ProcessedDocument) (*models.IndexedDocument, error) {
	if f.prepareErr != nil {
		return nil, f.prepareErr
	}
	return &models.IndexedDocument{
		ID:        DocumentID(doc.URL),
		Title:     doc.Title,
		SourceURL: doc.URL,
		PageCount: doc.PageCount(),
	}, nil
}

func (f *fakeIndex) IndexDocuments(_ context.Context, docs []*models.IndexedDocument) error {
	titles := make([]string, len(docs))
	for i, d := range docs {
		titles[i] = d.Title
	}
	f.submissions = append(f.submissions, titles)
	for _, d := range docs {
		if d.Title == f.failTitle {
			return errors.New("write rejected")
		}
	}
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, query string, embedding []float32) (*models.SearchResponse, error) {
	return f.SearchWithLimit(ctx, query, embedding, 0)
}

func (f *fakeIndex) SearchWithLimit(_ context.Context, query string, embedding []float32, limit int) (*models.SearchResponse, error) {
	f.searches = append(f.searches, searchCall{query: query, embedding: embedding, limit: limit})
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return &models.SearchResponse{Query: query, Hits: f.searchHits}, nil
}

func (f *fakeIndex) submittedTitles() []string {
	var titles []string
	for _, s := range f.submissions {
		titles = append(titles, s...)
	}
	return titles
}

// newTestLogger returns a JSON logger writing into the returned buffer.
func newTestLogger() (*slog.Logger, *bytes.Buffer) {
	buf := new(bytes.Buffer)
	return slog.New(slog.NewJSONHandler(buf, nil)), buf
}
