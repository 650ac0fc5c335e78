// Package embeddings defines the embedding gateway contract and its
// provider implementations.
package embeddings

import "context"

// Intent tells the provider whether the text is being embedded for storage or
// for retrieval. Asymmetric embedding models are trained with distinct
// prefixes for the two sides; mixing them degrades similarity quality.
type Intent string

const (
	// IntentDocument marks text that will be stored and later retrieved.
	IntentDocument Intent = "document"
	// IntentQuery marks text used to retrieve stored documents.
	IntentQuery Intent = "query"
)

// Prefix returns the task prefix prepended to the text before embedding.
func (i Intent) Prefix() string {
	switch i {
	case IntentQuery:
		return "search_query: "
	default:
		return "search_document: "
	}
}

// Embedder produces a vector for a piece of text. Implementations fail fast:
// one bounded attempt, no retries, no queueing. A failure means the caller's
// operation fails as a whole.
type Embedder interface {
	Embed(ctx context.Context, text string, intent Intent) ([]float32, error)
}

// HealthChecker reports provider reachability for health endpoints.
type HealthChecker interface {
	Healthy(ctx context.Context) error
}
