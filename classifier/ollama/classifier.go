// Package ollama implements the classifier against a local Ollama server.
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/classifier"
)

const (
	// classifyTimeout is generous: classification runs off the request path,
	// and a 13B-class model on CPU can take a while over a long snippet.
	classifyTimeout = 120 * time.Second
)

// Classifier runs the distillation prompt through Ollama's generate API.
type Classifier struct {
	client *api.Client
	model  string
	numCtx int
	logger zerolog.Logger

	// keepAlive of an hour keeps the classifier model warm across the gaps
	// between conversation turns without pinning it forever.
	keepAlive *api.Duration
}

// NewClassifier creates a Classifier for the given Ollama host and model.
func NewClassifier(host, model string, numCtx int, logger zerolog.Logger) (*Classifier, error) {
	base, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host: %w", err)
	}
	return &Classifier{
		client:    api.NewClient(base, http.DefaultClient),
		model:     model,
		numCtx:    numCtx,
		logger:    logger.With().Str("component", "ollama_classifier").Logger(),
		keepAlive: &api.Duration{Duration: time.Hour},
	}, nil
}

// Classify distills candidate notes from a conversation snippet.
func (c *Classifier) Classify(ctx context.Context, snippet string, prior []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, classifyTimeout)
	defer cancel()

	stream := false
	var sb strings.Builder
	start := time.Now()
	err := c.client.Generate(ctx, &api.GenerateRequest{
		Model:     c.model,
		System:    classifier.SystemPrompt,
		Prompt:    classifier.BuildPrompt(snippet, prior),
		Stream:    &stream,
		KeepAlive: c.keepAlive,
		Options: map[string]any{
			"num_ctx":     c.numCtx,
			"temperature": 0.2,
		},
	}, func(resp api.GenerateResponse) error {
		sb.WriteString(resp.Response)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("ollama generate: %w", err)
	}

	candidates := classifier.ParseCandidates(sb.String())
	c.logger.Debug().
		Str("model", c.model).
		Int("candidates", len(candidates)).
		Dur("duration", time.Since(start)).
		Msg("Classified snippet")
	return candidates, nil
}
