// Package openai implements the embedding gateway against the OpenAI
// embeddings API, or any OpenAI-compatible endpoint via a base URL override.
package openai

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	goopenai "github.com/sashabaranov/go-openai"

	"github.com/substratelabs/mnemo/embeddings"
)

const (
	embedTimeout  = 5 * time.Second
	healthTimeout = 2 * time.Second
)

// Embedder calls the OpenAI embeddings API with a single fail-fast attempt
// per text.
type Embedder struct {
	client *goopenai.Client
	model  string
	logger zerolog.Logger
}

// NewEmbedder creates an Embedder. baseURL may be empty to use the default
// OpenAI endpoint.
func NewEmbedder(apiKey, baseURL, model string, logger zerolog.Logger) *Embedder {
	cfg := goopenai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &Embedder{
		client: goopenai.NewClientWithConfig(cfg),
		model:  model,
		logger: logger.With().Str("component", "openai_embedder").Logger(),
	}
}

// Embed produces an embedding for text, prefixed per intent.
func (e *Embedder) Embed(ctx context.Context, text string, intent embeddings.Intent) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.CreateEmbeddings(ctx, goopenai.EmbeddingRequest{
		Model: goopenai.EmbeddingModel(e.model),
		Input: []string{intent.Prefix() + text},
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("openai embed: empty response for model %s", e.model)
	}

	e.logger.Debug().
		Str("model", e.model).
		Str("intent", string(intent)).
		Int("dims", len(resp.Data[0].Embedding)).
		Dur("duration", time.Since(start)).
		Msg("Embedded text")
	return resp.Data[0].Embedding, nil
}

// Healthy reports whether the API answers an authenticated request.
func (e *Embedder) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	_, err := e.client.ListModels(ctx)
	return err
}
