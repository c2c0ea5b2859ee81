package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/Lllllllleong/pagesearchflow/internal/gcp"
)

// ErrModelRefusal is returned when the model declines to transcribe a page.
var ErrModelRefusal = errors.New("model refused to transcribe page")

var refusalPhrases = []string{
	"i am unable to",
	"i cannot fulfill",
	"i cannot answer",
	"i cannot provide",
	"as a large language model",
}

type contentGenerator interface {
	GenerateContent(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// GeminiTranscriber reads page text with a Gemini model. It is used for pages
// that carry no text layer, such as scans.
type GeminiTranscriber struct {
	model contentGenerator
}

func NewGeminiTranscriber(model *genai.GenerativeModel) *GeminiTranscriber {
	return &GeminiTranscriber{model: model}
}

func (t *GeminiTranscriber) TranscribePage(ctx context.Context, image []byte) (string, error) {
	resp, err := t.model.GenerateContent(ctx, genai.ImageData("png", image), genai.Text(gcp.TranscriberUserPrompt))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}

	text := extractResponseText(resp)
	lower := strings.ToLower(text)
	for _, phrase := range refusalPhrases {
		if strings.Contains(lower, phrase) {
			return "", ErrModelRefusal
		}
	}
	return text, nil
}

// extractResponseText concatenates the text parts of the first candidate and strips code fences.
func extractResponseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return ""
	}

	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}

	s := strings.TrimSpace(b.String())
	s = strings.TrimPrefix(s, "```text")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
