package ai

import (
	"context"
	"strings"
	"time"
)

const (
	defaultGenerateAttempts = 3
	defaultGenerateTimeout  = 120 * time.Second
)

// TextGenerator generates text from a system prompt and user prompt.
type TextGenerator interface {
	GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// GeminiGenerator generates through Gemini with a fixed model, bounding each
// request with a timeout and retrying transient failures.
type GeminiGenerator struct {
	client  *GeminiClient
	model   string
	retry   RetryPolicy
	timeout time.Duration
}

// NewGeminiGenerator builds a Gemini-based generator.
func NewGeminiGenerator(client *GeminiClient, model string, retry RetryPolicy, timeout time.Duration) *GeminiGenerator {
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultGenerateAttempts
	}
	if timeout <= 0 {
		timeout = defaultGenerateTimeout
	}
	return &GeminiGenerator{client: client, model: model, retry: retry.normalized(), timeout: timeout}
}

// GenerateText returns the model response for the prompt pair.
func (g *GeminiGenerator) GenerateText(ctx context.Context, systemPrompt, userPrompt string) (string, error) {
	if strings.TrimSpace(userPrompt) == "" {
		return "", ErrEmptyInput
	}
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	var text string
	err := g.retry.Do(ctx, func(ctx context.Context) error {
		out, err := g.client.GenerateText(ctx, g.model, systemPrompt, userPrompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil {
		return "", err
	}
	return text, nil
}
