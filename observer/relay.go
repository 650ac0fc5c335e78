// Package observer drives the passive capture path: conversation turns flow
// into the short-term buffer, get distilled into candidate notes, and the
// buffer is invalidated when a durable write lands.
package observer

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/substratelabs/mnemo/classifier"
	"github.com/substratelabs/mnemo/stm"
)

const exchangeSeparator = "\n\n---\n\n"

// Relay observes conversation turns. Each observed turn is appended to the
// short-term buffer and the buffered window is re-distilled into candidate
// notes. All failures past the initial append degrade capture quality, not
// correctness, so they surface to the caller but leave the buffer intact.
type Relay struct {
	buffer        *stm.Buffer
	classifier    classifier.Classifier
	snippetBudget int
	logger        zerolog.Logger
}

// NewRelay creates a Relay. snippetBudget caps the rendered snippet size in
// bytes.
func NewRelay(buffer *stm.Buffer, cls classifier.Classifier, snippetBudget int, logger zerolog.Logger) *Relay {
	return &Relay{
		buffer:        buffer,
		classifier:    cls,
		snippetBudget: snippetBudget,
		logger:        logger.With().Str("component", "observer_relay").Logger(),
	}
}

// ObserveTurn records an exchange and refreshes the candidate notes from the
// buffered window. Returns the merged candidate set.
func (r *Relay) ObserveTurn(ctx context.Context, ex stm.Exchange) ([]string, error) {
	if err := r.buffer.Append(ctx, ex); err != nil {
		return nil, err
	}

	exchanges, err := r.buffer.Exchanges(ctx)
	if err != nil {
		return nil, err
	}
	snippet := RenderSnippet(exchanges, r.snippetBudget)
	if snippet == "" {
		return nil, nil
	}

	// A stale or unreadable prior set is not worth failing the turn over;
	// the classifier just works without it.
	prior, err := r.buffer.Candidates(ctx)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Reading prior candidates failed")
		prior = nil
	}

	fresh, err := r.classifier.Classify(ctx, snippet, prior)
	if err != nil {
		return nil, err
	}

	merged, err := r.buffer.MergeCandidates(ctx, fresh)
	if err != nil {
		return nil, err
	}

	r.logger.Debug().
		Int("exchanges", len(exchanges)).
		Int("fresh", len(fresh)).
		Int("merged", len(merged)).
		Msg("Observed turn")
	return merged, nil
}

// Candidates returns the current candidate set without observing a turn.
func (r *Relay) Candidates(ctx context.Context) ([]string, error) {
	return r.buffer.Candidates(ctx)
}

// RenderSnippet formats buffered exchanges (most recent first, as the buffer
// returns them) into a chronological prompt snippet. When the window exceeds
// the byte budget the oldest exchanges are dropped first.
func RenderSnippet(exchanges []stm.Exchange, budget int) string {
	var kept []string
	used := 0
	for _, ex := range exchanges {
		block := renderExchange(ex)
		if block == "" {
			continue
		}
		cost := len(block) + len(exchangeSeparator)
		if used+cost > budget && len(kept) > 0 {
			break
		}
		kept = append(kept, block)
		used += cost
	}
	// kept is newest-first; the prompt reads top-down chronologically.
	kept = lo.Reverse(kept)
	return strings.Join(kept, exchangeSeparator)
}

func renderExchange(ex stm.Exchange) string {
	user := strings.TrimSpace(ex.UserText)
	if user == "" && len(ex.AssistantTexts) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("User: ")
	sb.WriteString(user)
	for _, text := range ex.AssistantTexts {
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		sb.WriteString("\n\nAssistant: ")
		sb.WriteString(text)
	}
	return sb.String()
}
