// Package ollama implements the embedding gateway against a local Ollama
// server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/embeddings"
)

const (
	// embedTimeout bounds a single embedding call. There is no retry: a slow
	// or down provider surfaces immediately rather than queueing work.
	embedTimeout = 5 * time.Second

	healthTimeout = 2 * time.Second
)

// Embedder calls Ollama's embed API with a single fail-fast attempt per text.
type Embedder struct {
	client *api.Client
	model  string
	logger zerolog.Logger

	// keepAlive -1 asks the server to keep the model resident between calls,
	// which keeps the 5s budget realistic after the first request.
	keepAlive *api.Duration
}

// NewEmbedder creates an Embedder for the given Ollama host and model.
func NewEmbedder(host, model string, logger zerolog.Logger) (*Embedder, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return &Embedder{
		client:    api.NewClient(base, http.DefaultClient),
		model:     model,
		logger:    logger.With().Str("component", "ollama_embedder").Logger(),
		keepAlive: &api.Duration{Duration: -1},
	}, nil
}

// Embed produces an embedding for text, prefixed per intent.
func (e *Embedder) Embed(ctx context.Context, text string, intent embeddings.Intent) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	start := time.Now()
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model:     e.model,
		Input:     intent.Prefix() + text,
		KeepAlive: e.keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0]) == 0 {
		return nil, fmt.Errorf("ollama embed: empty response for model %s", e.model)
	}

	e.logger.Debug().
		Str("model", e.model).
		Str("intent", string(intent)).
		Int("dims", len(resp.Embeddings[0])).
		Dur("duration", time.Since(start)).
		Msg("Embedded text")
	return resp.Embeddings[0], nil
}

// Healthy reports whether the Ollama server responds to a heartbeat.
func (e *Embedder) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	return e.client.Heartbeat(ctx)
}
