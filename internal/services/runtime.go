package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/storage"
	"github.com/Lllllllleong/pagesearchflow/internal/gcp"
)

const downloadTimeout = 5 * time.Minute

// Runtime owns the cloud clients shared by the pipeline components. The
// caller that creates it is responsible for calling Close.
type Runtime struct {
	Config    *Config
	Storage   *storage.Client
	Firestore *firestore.Client
	Vertex    *gcp.VertexClient
	Extractor *PDFExtractor
	Embedder  *VertexEmbedder
	Index     *FirestoreIndex
}

// NewRuntime creates every client and wires the collaborators from config.
func NewRuntime(ctx context.Context, config *Config, logger *slog.Logger) (*Runtime, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Runtime{Config: config}

	var err error
	r.Storage, err = storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	r.Firestore, err = gcp.NewFirestoreClient(ctx, config.ProjectID, config.FirestoreDatabase)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create firestore client: %w", err)
	}
	r.Vertex, err = gcp.NewVertexClient(ctx, config.ProjectID, config.VertexAIRegion, config.TranscriberModel)
	if err != nil {
		r.Close()
		return nil, fmt.Errorf("failed to create vertex client: %w", err)
	}

	var transcriber Transcriber
	if r.Vertex.TranscriberModel != nil {
		transcriber = NewGeminiTranscriber(r.Vertex.TranscriberModel)
	}
	r.Extractor = NewPDFExtractor(ExtractorOptions{
		HTTPClient:  &http.Client{Timeout: downloadTimeout},
		Storage:     r.Storage,
		Runner:      ExecRunner{},
		Transcriber: transcriber,
		DPI:         config.RasterDPI,
		Logger:      logger,
	})
	r.Embedder = NewVertexEmbedder(
		r.Vertex.Predictions,
		r.Vertex.PublisherModel(config.EmbeddingModel),
		config.EmbeddingModel,
		config.EmbeddingDimension,
	)
	r.Index = NewFirestoreIndex(r.Firestore, r.Storage, FirestoreIndexConfig{
		ProjectID:           config.ProjectID,
		Database:            config.FirestoreDatabase,
		DocumentsCollection: config.DocumentsCollection,
		PagesCollection:     config.PagesCollection,
		PageImagesBucket:    config.PageImagesBucket,
		EmbeddingModel:      config.EmbeddingModel,
		EmbeddingDimension:  config.EmbeddingDimension,
		SearchLimit:         config.SearchLimit,
		UploadConcurrency:   config.UploadConcurrency,
	}, logger)

	logger.Info("Runtime initialized.", "projectId", config.ProjectID, "region", config.VertexAIRegion, "embeddingModel", config.EmbeddingModel)
	return r, nil
}

// Pipeline returns a pipeline over the runtime's collaborators.
func (r *Runtime) Pipeline(logger *slog.Logger) *Pipeline {
	return NewPipeline(r.Extractor, r.Embedder, r.Index, logger, r.Config.SampleQuery)
}

// Close releases every client that was created.
func (r *Runtime) Close() error {
	var errs []error
	if r.Vertex != nil {
		errs = append(errs, r.Vertex.Close())
	}
	if r.Firestore != nil {
		errs = append(errs, r.Firestore.Close())
	}
	if r.Storage != nil {
		errs = append(errs, r.Storage.Close())
	}
	return errors.Join(errs...)
}
