package services

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/googleapis/gax-go/v2"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrEmbeddingDimension is returned when a vector does not have the configured length.
var ErrEmbeddingDimension = errors.New("embedding dimension mismatch")

const (
	imageEmbeddingKey = "imageEmbedding"
	textEmbeddingKey  = "textEmbedding"
)

type predictor interface {
	Predict(ctx context.Context, req *aiplatformpb.PredictRequest, opts ...gax.CallOption) (*aiplatformpb.PredictResponse, error)
}

// VertexEmbedder generates multimodal embeddings with a Vertex AI publisher
// model. The model takes one instance per request, so batches are sent item
// by item in input order.
type VertexEmbedder struct {
	predictor predictor
	endpoint  string
	model     string
	dimension int
}

func NewVertexEmbedder(p predictor, endpoint, model string, dimension int) *VertexEmbedder {
	return &VertexEmbedder{
		predictor: p,
		endpoint:  endpoint,
		model:     model,
		dimension: dimension,
	}
}

// Dimension returns the length of every vector this embedder produces.
func (e *VertexEmbedder) Dimension() int { return e.dimension }

// ModelName returns the publisher model the embedder calls.
func (e *VertexEmbedder) ModelName() string { return e.model }

// EmbedImages returns one vector per PNG image.
func (e *VertexEmbedder) EmbedImages(ctx context.Context, images [][]byte) ([][]float32, error) {
	vectors := make([][]float32, 0, len(images))
	for i, img := range images {
		instance := map[string]any{
			"image": map[string]any{
				"bytesBase64Encoded": base64.StdEncoding.EncodeToString(img),
			},
		}
		vec, err := e.embed(ctx, instance, imageEmbeddingKey)
		if err != nil {
			return nil, fmt.Errorf("image %d: %w", i+1, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

// EmbedTexts returns one vector per string.
func (e *VertexEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for i, text := range texts {
		vec, err := e.embed(ctx, map[string]any{"text": text}, textEmbeddingKey)
		if err != nil {
			return nil, fmt.Errorf("text %d: %w", i+1, err)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}

func (e *VertexEmbedder) embed(ctx context.Context, instance map[string]any, key string) ([]float32, error) {
	inst, err := structpb.NewValue(instance)
	if err != nil {
		return nil, fmt.Errorf("failed to encode instance: %w", err)
	}
	params, err := structpb.NewValue(map[string]any{"dimension": e.dimension})
	if err != nil {
		return nil, fmt.Errorf("failed to encode parameters: %w", err)
	}

	resp, err := e.predictor.Predict(ctx, &aiplatformpb.PredictRequest{
		Endpoint:   e.endpoint,
		Instances:  []*structpb.Value{inst},
		Parameters: params,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get embedding from %s: %w", e.model, err)
	}
	return parseEmbedding(resp, key, e.dimension)
}

// parseEmbedding reads the vector stored under key in the first prediction.
func parseEmbedding(resp *aiplatformpb.PredictResponse, key string, dimension int) ([]float32, error) {
	if resp == nil || len(resp.GetPredictions()) == 0 {
		return nil, fmt.Errorf("prediction response is empty")
	}
	field, ok := resp.GetPredictions()[0].GetStructValue().GetFields()[key]
	if !ok || field.GetListValue() == nil {
		return nil, fmt.Errorf("prediction has no %s", key)
	}

	values := field.GetListValue().GetValues()
	if len(values) != dimension {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrEmbeddingDimension, len(values), dimension)
	}
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v.GetNumberValue())
	}
	return vec, nil
}
