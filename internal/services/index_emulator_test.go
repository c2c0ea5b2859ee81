package services

import (
	"context"
	"os"
	"strings"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lllllllleong/pagesearchflow/internal/gcp"
	"github.com/Lllllllleong/pagesearchflow/internal/models"
)

// Integration tests - only run against a Firestore emulator.
func newEmulatorIndex(t *testing.T) (*FirestoreIndex, *firestore.Client, *fakeGCS) {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set, skipping Firestore integration test")
	}

	ctx := context.Background()
	fs, err := firestore.NewClient(ctx, "pagesearch-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = fs.Close() })

	gcs, st := newFakeGCS(t, "page-images")

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")
	cfg := testIndexConfig()
	cfg.DocumentsCollection = "docs_" + suffix
	cfg.PagesCollection = "pages_" + suffix

	logger, _ := newTestLogger()
	x := NewFirestoreIndex(fs, st, cfg, logger)
	x.retryBackoff = time.Millisecond
	x.ensureIndex = func(context.Context, gcp.VectorIndexSpec) error { return nil }
	x.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return x, fs, gcs
}

// emulatorDoc prepares a document whose page i carries vectors[i] and image images[i].
func emulatorDoc(t *testing.T, x *FirestoreIndex, d models.PDFDescriptor, images [][]byte, vectors [][]float32) *models.IndexedDocument {
	t.Helper()
	doc := &models.ProcessedDocument{PDFDescriptor: d, Images: images, Embeddings: vectors}
	for i := range images {
		doc.Texts = append(doc.Texts, "page text "+string(rune('A'+i)))
	}
	indexed, err := x.PrepareDocument(doc)
	require.NoError(t, err)
	return indexed
}

func unitVector(axis int) []float32 {
	v := make([]float32, testDimension)
	v[axis] = 1
	return v
}

func pageIDs(t *testing.T, fs *firestore.Client, x *FirestoreIndex, docID string) []string {
	t.Helper()
	snaps, err := fs.Collection(x.config.DocumentsCollection).Doc(docID).
		Collection(x.config.PagesCollection).Documents(context.Background()).GetAll()
	require.NoError(t, err)
	ids := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		ids = append(ids, snap.Ref.ID)
	}
	return ids
}

func TestDeploy_RecordsDeployment(t *testing.T) {
	x, fs, _ := newEmulatorIndex(t)

	require.NoError(t, x.Deploy(context.Background()))

	snap, err := fs.Collection(deploymentsCollection).Doc(x.config.DocumentsCollection).Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, x.config.PagesCollection, snap.Data()["pagesCollection"])
	assert.EqualValues(t, testDimension, snap.Data()["embeddingDimension"])
}

func TestIndexDocuments_WritesDocumentPagesAndImages(t *testing.T) {
	x, fs, gcs := newEmulatorIndex(t)
	ctx := context.Background()

	images := [][]byte{[]byte("p1"), []byte("p2"), []byte("p3")}
	doc := emulatorDoc(t, x, docA, images, [][]float32{unitVector(0), unitVector(1), unitVector(2)})
	require.NoError(t, x.IndexDocuments(ctx, []*models.IndexedDocument{doc}))

	snap, err := fs.Collection(x.config.DocumentsCollection).Doc(doc.ID).Get(ctx)
	require.NoError(t, err)
	var stored models.IndexedDocument
	require.NoError(t, snap.DataTo(&stored))
	assert.Equal(t, models.StatusIndexed, stored.Status)
	assert.Equal(t, 3, stored.PageCount)
	assert.True(t, x.now().Equal(stored.IndexedAt))

	assert.ElementsMatch(t, []string{"00001", "00002", "00003"}, pageIDs(t, fs, x, doc.ID))
	assert.Len(t, gcs.objectNames(), 3)

	// A shorter, changed version replaces the pages and their images.
	changed := emulatorDoc(t, x, docA, [][]byte{[]byte("p1"), []byte("p2 v2")}, [][]float32{unitVector(0), unitVector(1)})
	require.NoError(t, x.IndexDocuments(ctx, []*models.IndexedDocument{changed}))

	assert.ElementsMatch(t, []string{"00001", "00002"}, pageIDs(t, fs, x, doc.ID))
	assert.ElementsMatch(t, []string{changed.Pages[0].ImageObject, changed.Pages[1].ImageObject}, gcs.objectNames())
	assert.ElementsMatch(t, []string{doc.Pages[1].ImageObject, doc.Pages[2].ImageObject}, gcs.deletedNames())
}

func TestWriteDocument_RejectedWriteFailsTheCall(t *testing.T) {
	x, _, _ := newEmulatorIndex(t)

	doc := emulatorDoc(t, x, docA, [][]byte{[]byte("p1")}, [][]float32{unitVector(0)})
	doc.Pages[0].ID = "__reserved__"

	err := x.writeDocument(context.Background(), doc)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to write document")
}

func TestSearchWithLimit_NearestPagesWithDistance(t *testing.T) {
	x, _, _ := newEmulatorIndex(t)
	ctx := context.Background()

	mixed := unitVector(0)
	mixed[1] = 1
	doc := emulatorDoc(t, x, docA,
		[][]byte{[]byte("p1"), []byte("p2"), []byte("p3")},
		[][]float32{unitVector(0), unitVector(1), mixed},
	)
	require.NoError(t, x.writeDocument(ctx, doc))

	resp, err := x.SearchWithLimit(ctx, "second page", unitVector(1), 2)
	require.NoError(t, err)

	assert.Equal(t, "second page", resp.Query)
	require.Len(t, resp.Hits, 2)
	assert.Equal(t, 2, resp.Hits[0].PageNumber)
	assert.InDelta(t, 0, resp.Hits[0].Distance, 1e-6)
	assert.Equal(t, 3, resp.Hits[1].PageNumber)
	assert.InDelta(t, 1-1/1.41421356, resp.Hits[1].Distance, 1e-4)
	assert.Equal(t, doc.ID, resp.Hits[0].DocumentID)
	assert.Equal(t, "Doc A", resp.Hits[0].Title)
	assert.Equal(t, doc.Pages[1].ImageURI, resp.Hits[0].ImageURI)
}

func TestSearch_RejectsBadInputBeforeQuerying(t *testing.T) {
	x := NewFirestoreIndex(nil, nil, testIndexConfig(), nil)

	_, err := x.Search(context.Background(), "", unitVector(0))
	assert.ErrorIs(t, err, ErrEmptyQuery)

	_, err = x.Search(context.Background(), "query", []float32{1})
	assert.ErrorIs(t, err, ErrEmbeddingDimension)
}
