// Package anthropic implements the classifier against the Anthropic Messages
// API.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/classifier"
)

const (
	messagesURL = "https://api.anthropic.com/v1/messages"
	apiVersion  = "2023-06-01"

	requestTimeout = 60 * time.Second
	maxRetries     = 3
)

// Classifier runs the distillation prompt through the Messages API. Rate
// limits and server errors are retried with exponential backoff; other
// failures surface immediately.
type Classifier struct {
	httpClient *http.Client
	apiKey     string
	model      string
	maxTokens  int
	logger     zerolog.Logger
}

// NewClassifier creates a Classifier using the given API key and model.
func NewClassifier(apiKey, model string, maxTokens int, logger zerolog.Logger) *Classifier {
	return &Classifier{
		httpClient: &http.Client{Timeout: requestTimeout},
		apiKey:     apiKey,
		model:      model,
		maxTokens:  maxTokens,
		logger:     logger.With().Str("component", "anthropic_classifier").Logger(),
	}
}

type messagesRequest struct {
	Model     string    `json:"model"`
	MaxTokens int       `json:"max_tokens"`
	System    string    `json:"system"`
	Messages  []message `json:"messages"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// Classify distills candidate notes from a conversation snippet.
func (c *Classifier) Classify(ctx context.Context, snippet string, prior []string) ([]string, error) {
	body, err := json.Marshal(messagesRequest{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		System:    classifier.SystemPrompt,
		Messages: []message{
			{Role: "user", Content: classifier.BuildPrompt(snippet, prior)},
		},
	})
	if err != nil {
		return nil, err
	}

	var text string
	operation := func() error {
		text, err = c.send(ctx, body)
		return err
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), maxRetries), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}

	candidates := classifier.ParseCandidates(text)
	c.logger.Debug().
		Str("model", c.model).
		Int("candidates", len(candidates)).
		Msg("Classified snippet")
	return candidates, nil
}

func (c *Classifier) send(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, messagesURL, bytes.NewReader(body))
	if err != nil {
		return "", backoff.Permanent(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.apiKey)
	req.Header.Set("anthropic-version", apiVersion)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck // no remedy for body close error

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		// retryable
		return "", fmt.Errorf("anthropic status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	default:
		return "", backoff.Permanent(fmt.Errorf("anthropic status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody))))
	}

	var parsed messagesResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", backoff.Permanent(fmt.Errorf("decode response: %w", err))
	}

	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}
