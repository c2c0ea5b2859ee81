package services

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/Lllllllleong/pagesearchflow/internal/gcp"
	"github.com/Lllllllleong/pagesearchflow/internal/models"
)

// GCSEvent is the payload of a GCS object finalize event.
type GCSEvent struct {
	Bucket string `json:"bucket"`
	Name   string `json:"name"`
}

type indexedNotifier interface {
	DocumentIndexed(ctx context.Context, arg models.IngestWorkflowArgument) (string, error)
}

// IngestorFunction indexes PDFs as they are uploaded to a bucket.
type IngestorFunction struct {
	pipeline *Pipeline
	notifier indexedNotifier
	logger   *slog.Logger
}

// NewIngestor builds the ingestor from environment configuration.
func NewIngestor(ctx context.Context) (*IngestorFunction, error) {
	config, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	rt, err := NewRuntime(ctx, config, slog.Default())
	if err != nil {
		return nil, err
	}

	var notifier indexedNotifier
	if config.WorkflowID != "" {
		n, err := NewWorkflowNotifier(ctx, config.ProjectID, config.WorkflowLocation, config.WorkflowID)
		if err != nil {
			rt.Close()
			return nil, err
		}
		notifier = n
	}
	slog.Info("PDF ingestor initialized.", "workflowId", config.WorkflowID)
	return newIngestor(rt.Pipeline(slog.Default()), notifier, slog.Default()), nil
}

func newIngestor(pipeline *Pipeline, notifier indexedNotifier, logger *slog.Logger) *IngestorFunction {
	return &IngestorFunction{pipeline: pipeline, notifier: notifier, logger: logger}
}

// DescriptorForObject names an uploaded PDF after its file name.
func DescriptorForObject(bucket, object string) models.PDFDescriptor {
	base := path.Base(object)
	return models.PDFDescriptor{
		Title: strings.TrimSuffix(base, path.Ext(base)),
		URL:   gcp.ObjectURI(bucket, object),
	}
}

// Process indexes the uploaded object if it is a PDF.
func (f *IngestorFunction) Process(ctx context.Context, e GCSEvent) error {
	logCtx := f.logger.With("gcsBucket", e.Bucket, "gcsObject", e.Name)
	if !strings.EqualFold(path.Ext(e.Name), ".pdf") {
		logCtx.Info("Object is not a PDF. Skipping.")
		return nil
	}

	d := DescriptorForObject(e.Bucket, e.Name)
	doc, err := f.pipeline.ProcessDocument(ctx, d)
	if err != nil {
		logCtx.Error("Failed to process PDF", "title", d.Title, "error", err)
		return err
	}
	if _, err := f.pipeline.IndexAll(ctx, []*models.ProcessedDocument{doc}); err != nil {
		return err
	}

	if f.notifier == nil {
		logCtx.Info("PDF indexed.", "pageCount", doc.PageCount())
		return nil
	}
	execution, err := f.notifier.DocumentIndexed(ctx, models.IngestWorkflowArgument{
		DocumentID: DocumentID(d.URL),
		PageCount:  doc.PageCount(),
		SourceURL:  d.URL,
	})
	if err != nil {
		logCtx.Error("Failed to hand off to workflow", "error", err)
		return err
	}
	logCtx.Info("PDF indexed. Hand-off to workflow complete.", "execution", execution)
	return nil
}
