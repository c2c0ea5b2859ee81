package services

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/vertexai/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeGenerator struct {
	reply string
	err   error
	parts []genai.Part
}

func (f *fakeGenerator) GenerateContent(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.parts = parts
	if f.err != nil {
		return nil, f.err
	}
	return textResponse(f.reply), nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text(text)}},
		}},
	}
}

func TestTranscribePage(t *testing.T) {
	t.Run("strips code fences", func(t *testing.T) {
		gen := &fakeGenerator{reply: "```text\nTable 1: LoTTE statistics\n```"}
		tr := &GeminiTranscriber{model: gen}

		text, err := tr.TranscribePage(context.Background(), []byte("png"))
		require.NoError(t, err)
		assert.Equal(t, "Table 1: LoTTE statistics", text)

		require.Len(t, gen.parts, 2)
		img, ok := gen.parts[0].(genai.Blob)
		require.True(t, ok)
		assert.Equal(t, "image/png", img.MIMEType)
	})

	t.Run("refusal", func(t *testing.T) {
		tr := &GeminiTranscriber{model: &fakeGenerator{reply: "I am unable to read this image."}}

		_, err := tr.TranscribePage(context.Background(), []byte("png"))
		assert.ErrorIs(t, err, ErrModelRefusal)
	})

	t.Run("model error", func(t *testing.T) {
		tr := &GeminiTranscriber{model: &fakeGenerator{err: errors.New("resource exhausted")}}

		_, err := tr.TranscribePage(context.Background(), []byte("png"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "resource exhausted")
	})
}

func TestExtractResponseText_Empty(t *testing.T) {
	assert.Empty(t, extractResponseText(nil))
	assert.Empty(t, extractResponseText(&genai.GenerateContentResponse{}))
	assert.Empty(t, extractResponseText(&genai.GenerateContentResponse{Candidates: []*genai.Candidate{{}}}))
}
