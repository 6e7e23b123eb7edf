package ai

import (
	"context"
	"strings"
)

// maxEmbedChars bounds embedding input to stay inside the model context
// window; longer text is truncated from the end.
const maxEmbedChars = 20000

// Embedder provides embeddings for text.
type Embedder interface {
	// EmbedText embeds one text, retrying transient provider failures.
	EmbedText(ctx context.Context, text string) ([]float32, error)
	// EmbedTexts embeds each text independently. The result always has one
	// entry per input; entries for texts that failed to embed are empty
	// vectors, so a partial failure never aborts the batch.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// GeminiEmbedder embeds through Gemini with a fixed model and retry policy.
type GeminiEmbedder struct {
	client *GeminiClient
	model  string
	retry  RetryPolicy
}

// NewGeminiEmbedder builds a Gemini-based embedder.
func NewGeminiEmbedder(client *GeminiClient, model string, retry RetryPolicy) *GeminiEmbedder {
	return &GeminiEmbedder{client: client, model: model, retry: retry.normalized()}
}

// EmbedText returns the embedding for text.
func (e *GeminiEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if len(text) > maxEmbedChars {
		text = text[:maxEmbedChars]
	}
	var vec []float32
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		out, err := e.client.EmbedText(ctx, e.model, text)
		if err != nil {
			return err
		}
		vec = out
		return nil
	})
	if err != nil {
		return nil, err
	}
	return vec, nil
}

// EmbedTexts embeds each input; failed items yield empty vectors.
func (e *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := e.EmbedText(ctx, text)
		if err != nil {
			out[i] = []float32{}
			continue
		}
		out[i] = vec
	}
	return out, nil
}
