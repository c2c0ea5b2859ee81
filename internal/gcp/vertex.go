package gcp

import (
	"context"
	"errors"
	"fmt"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/vertexai/genai"
	"google.golang.org/api/option"
)

// --- Transcriber Model Prompts ---
const TranscriberSystemPrompt = "You are a document transcription tool. You receive a single rasterised page of a PDF document and return the text printed on it. Accuracy and completeness are of utmost importance."
const TranscriberUserPrompt = `You will be provided with an image of one PDF page.

Follow these instructions:

Text: Transcribe all readable text in natural reading order.
Tables: Transcribe each row on its own line, separating cells with " | ".
Figures: Transcribe any labels, captions and axis titles. Do not describe the figure.
Headers and Footers: Ignore page numbers, running headers and publisher boilerplate.

Return ONLY the transcribed text. Do not add a preamble and do not wrap the output in backtick fences.`

// DisabledModel turns the transcriber off when used as the model name.
const DisabledModel = "none"

// VertexClient holds the pre-configured Vertex AI clients used by the pipeline.
type VertexClient struct {
	// TranscriberModel is nil when transcription is disabled.
	TranscriberModel *genai.GenerativeModel
	Predictions      *aiplatform.PredictionClient
	projectID        string
	region           string
	baseClient       *genai.Client
}

// NewVertexClient creates the generative client and the prediction client for one region.
func NewVertexClient(ctx context.Context, projectID, region, transcriberModel string) (*VertexClient, error) {
	if projectID == "" || region == "" {
		return nil, fmt.Errorf("NewVertexClient: projectID and region cannot be empty")
	}

	predictions, err := aiplatform.NewPredictionClient(ctx,
		option.WithEndpoint(fmt.Sprintf("%s-aiplatform.googleapis.com:443", region)))
	if err != nil {
		return nil, fmt.Errorf("aiplatform.NewPredictionClient: %w", err)
	}

	c := &VertexClient{
		Predictions: predictions,
		projectID:   projectID,
		region:      region,
	}
	if transcriberModel == "" || transcriberModel == DisabledModel {
		return c, nil
	}

	baseClient, err := genai.NewClient(ctx, projectID, region)
	if err != nil {
		_ = predictions.Close()
		return nil, fmt.Errorf("genai.NewClient: %w", err)
	}

	model := baseClient.GenerativeModel(transcriberModel)
	model.SystemInstruction = &genai.Content{
		Parts: []genai.Part{genai.Text(TranscriberSystemPrompt)},
	}
	model.GenerationConfig = genai.GenerationConfig{
		Temperature: genai.Ptr[float32](0.0),
	}
	c.TranscriberModel = model
	c.baseClient = baseClient
	return c, nil
}

// PublisherModel returns the prediction endpoint of a Google publisher model.
func (c *VertexClient) PublisherModel(model string) string {
	return PublisherModelEndpoint(c.projectID, c.region, model)
}

// PublisherModelEndpoint formats the prediction endpoint of a Google publisher model.
func PublisherModelEndpoint(projectID, region, model string) string {
	return fmt.Sprintf("projects/%s/locations/%s/publishers/google/models/%s", projectID, region, model)
}

func (c *VertexClient) Close() error {
	var errs []error
	if c.Predictions != nil {
		errs = append(errs, c.Predictions.Close())
	}
	if c.baseClient != nil {
		errs = append(errs, c.baseClient.Close())
	}
	return errors.Join(errs...)
}
