package services

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"github.com/Lllllllleong/pagesearchflow/internal/gcp"
	"github.com/Lllllllleong/pagesearchflow/internal/models"
	"gopkg.in/yaml.v3"
)

const (
	DefaultSampleQuery = "Composition of the LoTTE benchmark"
	maxSearchLimit     = 50
)

// supportedDimensions are the output sizes multimodalembedding@001 accepts.
var supportedDimensions = []int{128, 256, 512, 1408}

// SamplePDFs is indexed when no manifest is configured.
var SamplePDFs = []models.PDFDescriptor{
	{
		Title: "ColBERTv2: Effective and Efficient Retrieval via Lightweight Late Interaction",
		URL:   "https://arxiv.org/pdf/2112.01488",
	},
	{
		Title: "ColPali: Efficient Document Retrieval with Vision Language Models",
		URL:   "https://arxiv.org/pdf/2407.01449",
	},
}

// Config holds all configuration shared by the indexer, the ingestor and the search function.
type Config struct {
	ProjectID           string
	VertexAIRegion      string
	PageImagesBucket    string
	DocumentsCollection string
	PagesCollection     string
	FirestoreDatabase   string
	EmbeddingModel      string
	EmbeddingDimension  int
	TranscriberModel    string
	RasterDPI           int
	SearchLimit         int
	UploadConcurrency   int
	ManifestPath        string
	SampleQuery         string
	WorkflowID          string
	WorkflowLocation    string
}

// LoadConfig loads and validates all necessary environment variables.
func LoadConfig() (*Config, error) {
	projectID := gcp.GetEnv("PROJECT_ID", "")
	if projectID == "" {
		return nil, fmt.Errorf("PROJECT_ID environment variable must be set")
	}
	bucket := gcp.GetEnv("PAGE_IMAGES_BUCKET", "")
	if bucket == "" {
		return nil, fmt.Errorf("PAGE_IMAGES_BUCKET environment variable must be set")
	}

	cfg := &Config{
		ProjectID:           projectID,
		VertexAIRegion:      gcp.GetEnv("VERTEX_AI_REGION", "us-central1"),
		PageImagesBucket:    bucket,
		DocumentsCollection: gcp.GetEnv("FIRESTORE_COLLECTION", "pdf_documents"),
		PagesCollection:     gcp.GetEnv("PAGES_COLLECTION", "pages"),
		FirestoreDatabase:   gcp.GetEnv("FIRESTORE_DATABASE", "(default)"),
		EmbeddingModel:      gcp.GetEnv("EMBEDDING_MODEL", "multimodalembedding@001"),
		TranscriberModel:    gcp.GetEnv("TRANSCRIBER_MODEL", "gemini-1.5-pro"),
		ManifestPath:        gcp.GetEnv("PDF_MANIFEST", ""),
		SampleQuery:         gcp.GetEnv("SAMPLE_QUERY", DefaultSampleQuery),
		WorkflowID:          gcp.GetEnv("WORKFLOW_ID", ""),
		WorkflowLocation:    gcp.GetEnv("WORKFLOW_LOCATION", "us-central1"),
	}

	ints := []struct {
		key      string
		fallback int
		dest     *int
	}{
		{"EMBEDDING_DIMENSION", 1408, &cfg.EmbeddingDimension},
		{"RASTER_DPI", 144, &cfg.RasterDPI},
		{"SEARCH_LIMIT", 3, &cfg.SearchLimit},
		{"UPLOAD_CONCURRENCY", 8, &cfg.UploadConcurrency},
	}
	for _, v := range ints {
		n, err := gcp.GetEnvInt(v.key, v.fallback)
		if err != nil {
			return nil, err
		}
		if n <= 0 {
			return nil, fmt.Errorf("%s must be positive, got %d", v.key, n)
		}
		*v.dest = n
	}

	if !slices.Contains(supportedDimensions, cfg.EmbeddingDimension) {
		return nil, fmt.Errorf("EMBEDDING_DIMENSION must be one of %v, got %d", supportedDimensions, cfg.EmbeddingDimension)
	}
	if cfg.SearchLimit > maxSearchLimit {
		cfg.SearchLimit = maxSearchLimit
	}
	return cfg, nil
}

// LoadDescriptors reads the PDF manifest at path, or returns SamplePDFs when path is empty.
// The manifest is a YAML (or JSON) list of {title, url} entries.
func LoadDescriptors(path string) ([]models.PDFDescriptor, error) {
	if path == "" {
		return slices.Clone(SamplePDFs), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest %s: %w", path, err)
	}
	return ParseDescriptors(data)
}

// ParseDescriptors decodes a manifest and checks every entry has a title and a URL.
func ParseDescriptors(data []byte) ([]models.PDFDescriptor, error) {
	var descriptors []models.PDFDescriptor
	if err := yaml.Unmarshal(data, &descriptors); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if len(descriptors) == 0 {
		return nil, fmt.Errorf("manifest lists no PDFs")
	}
	for i, d := range descriptors {
		if strings.TrimSpace(d.Title) == "" || strings.TrimSpace(d.URL) == "" {
			return nil, fmt.Errorf("manifest entry %d must have a title and a url", i+1)
		}
	}
	return descriptors, nil
}
