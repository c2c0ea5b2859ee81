package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pagesearchflow/internal/gcp"
	"github.com/Lllllllleong/pagesearchflow/internal/models"
	"golang.org/x/sync/errgroup"
	"google.golang.org/api/iterator"
)

// ErrEmptyQuery is returned when a search is issued without query text.
var ErrEmptyQuery = errors.New("query must not be empty")

const (
	embeddingField        = "embedding"
	distanceField         = "distance"
	deploymentsCollection = "deployments"
	snippetLength         = 300
)

// FirestoreIndexConfig holds configuration for the Firestore-backed page index.
type FirestoreIndexConfig struct {
	ProjectID           string
	Database            string
	DocumentsCollection string
	PagesCollection     string
	PageImagesBucket    string
	EmbeddingModel      string
	EmbeddingDimension  int
	SearchLimit         int
	UploadConcurrency   int
}

// FirestoreIndex stores one Firestore document per PDF, one per page in a
// sub-collection, and the page images in GCS. Search is a nearest-neighbour
// query over the page embeddings.
type FirestoreIndex struct {
	firestoreClient *firestore.Client
	storageClient   *storage.Client
	config          FirestoreIndexConfig
	logger          *slog.Logger
	ensureIndex     func(ctx context.Context, spec gcp.VectorIndexSpec) error
	now             func() time.Time
	retryBackoff    time.Duration
}

func NewFirestoreIndex(firestoreClient *firestore.Client, storageClient *storage.Client, config FirestoreIndexConfig, logger *slog.Logger) *FirestoreIndex {
	if logger == nil {
		logger = slog.Default()
	}
	if config.UploadConcurrency <= 0 {
		config.UploadConcurrency = 8
	}
	return &FirestoreIndex{
		firestoreClient: firestoreClient,
		storageClient:   storageClient,
		config:          config,
		logger:          logger,
		ensureIndex: func(ctx context.Context, spec gcp.VectorIndexSpec) error {
			return gcp.EnsureVectorIndex(ctx, spec)
		},
		now:          time.Now,
		retryBackoff: time.Second,
	}
}

// Deploy makes sure the bucket is reachable, the vector index exists and the
// deployment record is current. It is safe to call on every run.
func (x *FirestoreIndex) Deploy(ctx context.Context) error {
	if _, err := x.storageClient.Bucket(x.config.PageImagesBucket).Attrs(ctx); err != nil {
		return fmt.Errorf("page images bucket %s is not reachable: %w", x.config.PageImagesBucket, err)
	}

	spec := gcp.VectorIndexSpec{
		ProjectID:       x.config.ProjectID,
		Database:        x.config.Database,
		CollectionGroup: x.config.PagesCollection,
		Field:           embeddingField,
		Dimension:       x.config.EmbeddingDimension,
	}
	if err := x.ensureIndex(ctx, spec); err != nil {
		return err
	}

	record := map[string]interface{}{
		"documentsCollection": x.config.DocumentsCollection,
		"pagesCollection":     x.config.PagesCollection,
		"pageImagesBucket":    x.config.PageImagesBucket,
		"embeddingModel":      x.config.EmbeddingModel,
		"embeddingDimension":  x.config.EmbeddingDimension,
		"deployedAt":          x.now(),
	}
	if _, err := x.firestoreClient.Collection(deploymentsCollection).Doc(x.config.DocumentsCollection).Set(ctx, record); err != nil {
		return fmt.Errorf("failed to record deployment: %w", err)
	}
	x.logger.Info("Search application deployed.", "collection", x.config.DocumentsCollection, "dimension", x.config.EmbeddingDimension)
	return nil
}

// PrepareDocument converts a processed document into its indexed form. It does no I/O.
func (x *FirestoreIndex) PrepareDocument(doc *models.ProcessedDocument) (*models.IndexedDocument, error) {
	return prepareDocument(doc, x.config)
}

func prepareDocument(doc *models.ProcessedDocument, config FirestoreIndexConfig) (*models.IndexedDocument, error) {
	if doc == nil {
		return nil, fmt.Errorf("cannot prepare a nil document")
	}
	if strings.TrimSpace(doc.Title) == "" || strings.TrimSpace(doc.URL) == "" {
		return nil, fmt.Errorf("document must have a title and a url")
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}

	id := DocumentID(doc.URL)
	indexed := &models.IndexedDocument{
		ID:             id,
		Title:          doc.Title,
		SourceURL:      doc.URL,
		PageCount:      doc.PageCount(),
		EmbeddingModel: config.EmbeddingModel,
		Status:         models.StatusIndexing,
		Pages:          make([]models.IndexedPage, doc.PageCount()),
	}
	for i := range doc.Images {
		if len(doc.Embeddings[i]) != config.EmbeddingDimension {
			return nil, fmt.Errorf("%w: page %d has %d values, want %d",
				ErrEmbeddingDimension, i+1, len(doc.Embeddings[i]), config.EmbeddingDimension)
		}
		object := pageObjectName(id, i+1, doc.Images[i])
		indexed.Pages[i] = models.IndexedPage{
			ID:          fmt.Sprintf("%05d", i+1),
			DocumentID:  id,
			Title:       doc.Title,
			SourceURL:   doc.URL,
			PageNumber:  i + 1,
			Text:        doc.Texts[i],
			ImageURI:    gcp.ObjectURI(config.PageImagesBucket, object),
			Embedding:   firestore.Vector32(doc.Embeddings[i]),
			ImageObject: object,
			Image:       doc.Images[i],
		}
	}
	return indexed, nil
}

// pageObjectName keys a page image by page number and content hash. A changed
// page image therefore never reuses the object of the previous version.
func pageObjectName(documentID string, pageNumber int, image []byte) string {
	sum := sha256.Sum256(image)
	return fmt.Sprintf("%s/%05d-%s.png", documentID, pageNumber, hex.EncodeToString(sum[:8]))
}

// DocumentID derives a stable document ID from the source URL, so indexing
// the same URL twice overwrites the earlier entry.
func DocumentID(url string) string {
	sum := sha256.Sum256([]byte(url))
	return hex.EncodeToString(sum[:])
}

// IndexDocuments uploads page images and writes every document with its pages.
// It stops at the first document that fails.
func (x *FirestoreIndex) IndexDocuments(ctx context.Context, docs []*models.IndexedDocument) error {
	for _, doc := range docs {
		logCtx := x.logger.With("documentId", doc.ID, "title", doc.Title)
		if err := x.uploadPageImages(ctx, logCtx, doc); err != nil {
			return err
		}
		if err := x.writeDocument(ctx, doc); err != nil {
			return err
		}
		logCtx.Info("Document written to Firestore.", "pageCount", doc.PageCount)

		// The document is already written; leftover images are unreferenced.
		if err := x.pruneImages(ctx, logCtx, doc); err != nil {
			logCtx.Warn("Failed to remove stale page images.", "error", err)
		}
	}
	return nil
}

func (x *FirestoreIndex) uploadPageImages(ctx context.Context, logCtx *slog.Logger, doc *models.IndexedDocument) error {
	logCtx.Info("Starting concurrent upload of page images.", "pageCount", len(doc.Pages))
	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(x.config.UploadConcurrency)

	for i := range doc.Pages {
		page := &doc.Pages[i]
		eg.Go(func() error {
			if err := x.uploadFile(gctx, logCtx, page.ImageObject, page.Image); err != nil {
				return fmt.Errorf("page %d: %w", page.PageNumber, err)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return fmt.Errorf("one or more page images failed to upload: %w", err)
	}
	return nil
}

func (x *FirestoreIndex) uploadFile(ctx context.Context, logCtx *slog.Logger, destObject string, content []byte) error {
	const maxRetries = 4
	var backoff = x.retryBackoff
	var lastErr error
	bucket := x.storageClient.Bucket(x.config.PageImagesBucket)

	for i := 0; i < maxRetries; i++ {
		err := func() error {
			writeCtx, cancel := context.WithTimeout(ctx, time.Second*50)
			defer cancel()
			return gcp.SaveToGCSAtomically(writeCtx, bucket, destObject, "image/png", content)
		}()
		if err == nil {
			return nil
		}

		lastErr = err
		logCtx.Warn(
			"Upload failed, will retry.",
			"gcsObject", destObject,
			"attempt", i+1,
			"maxRetries", maxRetries,
			"backoff", backoff.String(),
			"error", err,
		)

		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("upload for %s failed after all retries: %w", destObject, lastErr)
}

// pruneImages deletes the objects under the document's prefix that no current
// page references: images of pages that changed or no longer exist.
func (x *FirestoreIndex) pruneImages(ctx context.Context, logCtx *slog.Logger, doc *models.IndexedDocument) error {
	keep := make(map[string]bool, len(doc.Pages))
	for _, page := range doc.Pages {
		keep[page.ImageObject] = true
	}

	bucket := x.storageClient.Bucket(x.config.PageImagesBucket)
	it := bucket.Objects(ctx, &storage.Query{Prefix: doc.ID + "/"})
	removed := 0
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to list page images: %w", err)
		}
		if keep[attrs.Name] {
			continue
		}
		if err := bucket.Object(attrs.Name).Delete(ctx); err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
			return fmt.Errorf("failed to delete stale page image %s: %w", attrs.Name, err)
		}
		removed++
	}
	if removed > 0 {
		logCtx.Info("Removed stale page images.", "count", removed)
	}
	return nil
}

// writeDocument writes the parent document and its pages in one bulk write,
// and removes pages left over from a longer earlier version of the document.
func (x *FirestoreIndex) writeDocument(ctx context.Context, doc *models.IndexedDocument) error {
	docRef := x.firestoreClient.Collection(x.config.DocumentsCollection).Doc(doc.ID)
	pagesRef := docRef.Collection(x.config.PagesCollection)

	stale, err := x.stalePages(ctx, pagesRef, doc.PageCount)
	if err != nil {
		return err
	}

	record := *doc
	record.Status = models.StatusIndexed
	record.IndexedAt = x.now()

	bw := x.firestoreClient.BulkWriter(ctx)
	var jobs []*firestore.BulkWriterJob
	enqueue := func(job *firestore.BulkWriterJob, err error) error {
		if err != nil {
			return err
		}
		jobs = append(jobs, job)
		return nil
	}

	if err := enqueue(bw.Set(docRef, record)); err != nil {
		bw.End()
		return fmt.Errorf("failed to enqueue document write: %w", err)
	}
	for i := range doc.Pages {
		page := doc.Pages[i]
		if err := enqueue(bw.Set(pagesRef.Doc(page.ID), page)); err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue page %d write: %w", page.PageNumber, err)
		}
	}
	for _, ref := range stale {
		if err := enqueue(bw.Delete(ref)); err != nil {
			bw.End()
			return fmt.Errorf("failed to enqueue stale page delete: %w", err)
		}
	}
	bw.End()

	for _, job := range jobs {
		if _, err := job.Results(); err != nil {
			return fmt.Errorf("failed to write document %s: %w", doc.ID, err)
		}
	}
	return nil
}

func (x *FirestoreIndex) stalePages(ctx context.Context, pagesRef *firestore.CollectionRef, pageCount int) ([]*firestore.DocumentRef, error) {
	it := pagesRef.Where("pageNumber", ">", pageCount).Documents(ctx)
	defer it.Stop()

	var refs []*firestore.DocumentRef
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to list stale pages: %w", err)
		}
		refs = append(refs, snap.Ref)
	}
	return refs, nil
}

// Search returns the pages nearest to embedding, using the configured hit limit.
func (x *FirestoreIndex) Search(ctx context.Context, query string, embedding []float32) (*models.SearchResponse, error) {
	return x.SearchWithLimit(ctx, query, embedding, x.config.SearchLimit)
}

// SearchWithLimit runs a cosine nearest-neighbour query over every page.
func (x *FirestoreIndex) SearchWithLimit(ctx context.Context, query string, embedding []float32, limit int) (*models.SearchResponse, error) {
	if err := checkSearchInput(query, embedding, x.config.EmbeddingDimension); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = x.config.SearchLimit
	}

	vq := x.firestoreClient.CollectionGroup(x.config.PagesCollection).FindNearest(
		embeddingField,
		firestore.Vector32(embedding),
		limit,
		firestore.DistanceMeasureCosine,
		&firestore.FindNearestOptions{DistanceResultField: distanceField},
	)
	it := vq.Documents(ctx)
	defer it.Stop()

	resp := &models.SearchResponse{Query: query, Hits: []models.SearchHit{}}
	for {
		snap, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("vector query failed: %w", err)
		}
		var page models.IndexedPage
		if err := snap.DataTo(&page); err != nil {
			return nil, fmt.Errorf("failed to decode page %s: %w", snap.Ref.Path, err)
		}
		distance, _ := snap.Data()[distanceField].(float64)
		resp.Hits = append(resp.Hits, hitFromPage(page, distance))
	}
	return resp, nil
}

func checkSearchInput(query string, embedding []float32, dimension int) error {
	if strings.TrimSpace(query) == "" {
		return ErrEmptyQuery
	}
	if len(embedding) != dimension {
		return fmt.Errorf("%w: query embedding has %d values, want %d", ErrEmbeddingDimension, len(embedding), dimension)
	}
	return nil
}

func hitFromPage(page models.IndexedPage, distance float64) models.SearchHit {
	return models.SearchHit{
		DocumentID: page.DocumentID,
		Title:      page.Title,
		SourceURL:  page.SourceURL,
		PageNumber: page.PageNumber,
		Text:       snippet(page.Text, snippetLength),
		ImageURI:   page.ImageURI,
		Distance:   distance,
	}
}

func snippet(text string, max int) string {
	runes := []rune(strings.Join(strings.Fields(text), " "))
	if len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max]) + "…"
}
