package stm

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

const (
	exchangesKey  = "stm:exchanges"
	candidatesKey = "stm:candidates"
)

// Exchange is one captured conversation turn: what the user said and the
// assistant texts that answered it.
type Exchange struct {
	UserText       string    `json:"user_text"`
	AssistantTexts []string  `json:"assistant_texts,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// Buffer is the short-term memory buffer. Exchanges accumulate in a
// TTL-bounded list; candidate notes distilled from them live under a sibling
// key. Both are cleared together, atomically, when a durable write lands.
type Buffer struct {
	store  TTLStore
	ttl    time.Duration
	logger zerolog.Logger
}

// NewBuffer creates a Buffer over the given TTL store.
func NewBuffer(store TTLStore, ttl time.Duration, logger zerolog.Logger) *Buffer {
	return &Buffer{
		store:  store,
		ttl:    ttl,
		logger: logger.With().Str("component", "stm_buffer").Logger(),
	}
}

// Append records an exchange. The push refreshes the exchange list's TTL, so
// an active conversation keeps its recent turns alive.
func (b *Buffer) Append(ctx context.Context, ex Exchange) error {
	if ex.CreatedAt.IsZero() {
		ex.CreatedAt = time.Now().UTC()
	}
	payload, err := json.Marshal(ex)
	if err != nil {
		return err
	}
	return b.store.ListPush(ctx, exchangesKey, string(payload), b.ttl)
}

// Exchanges returns the buffered exchanges, most recent first. Entries that
// fail to parse are skipped, not fatal: a single corrupt slot must not take
// down capture.
func (b *Buffer) Exchanges(ctx context.Context) ([]Exchange, error) {
	raw, err := b.store.ListRange(ctx, exchangesKey)
	if err != nil {
		return nil, err
	}
	out := make([]Exchange, 0, len(raw))
	for _, item := range raw {
		var ex Exchange
		if err := json.Unmarshal([]byte(item), &ex); err != nil {
			b.logger.Warn().Err(err).Msg("Skipping unparseable exchange")
			continue
		}
		out = append(out, ex)
	}
	return out, nil
}

// Candidates returns the current distilled candidate notes.
func (b *Buffer) Candidates(ctx context.Context) ([]string, error) {
	payload, ok, err := b.store.Get(ctx, candidatesKey)
	if err != nil || !ok {
		return nil, err
	}
	var candidates []string
	if err := json.Unmarshal([]byte(payload), &candidates); err != nil {
		b.logger.Warn().Err(err).Msg("Discarding unparseable candidates")
		return nil, nil
	}
	return candidates, nil
}

// MergeCandidates folds fresh candidates into the stored set. The merge is
// order-preserving and deduplicates byte-exact entries only, so replaying the
// same classifier output is idempotent. The write always refreshes the key's
// TTL. Returns the merged set.
//
// The read-merge-write is not atomic against a concurrent ClearAll: a merge
// that read the slot before the clear can reinstate pre-clear candidates.
// The TTL bounds how long such a remnant survives, and the next durable write
// clears it again.
func (b *Buffer) MergeCandidates(ctx context.Context, fresh []string) ([]string, error) {
	existing, err := b.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	merged := append(existing, lo.FilterMap(fresh, func(c string, _ int) (string, bool) {
		trimmed := strings.TrimSpace(c)
		return trimmed, trimmed != ""
	})...)
	merged = lo.Uniq(merged)

	payload, err := json.Marshal(merged)
	if err != nil {
		return nil, err
	}
	if err := b.store.Set(ctx, candidatesKey, string(payload), b.ttl); err != nil {
		return nil, err
	}
	return merged, nil
}

// ClearAll drops the exchange list and the candidate set in one atomic
// delete, so a reader never sees cleared exchanges with stale candidates.
func (b *Buffer) ClearAll(ctx context.Context) error {
	return b.store.Delete(ctx, exchangesKey, candidatesKey)
}

// Ping checks the underlying store.
func (b *Buffer) Ping(ctx context.Context) error {
	return b.store.Ping(ctx)
}

// RenderCandidates formats candidates as a bulleted list for prompt
// inclusion.
func RenderCandidates(candidates []string) string {
	if len(candidates) == 0 {
		return ""
	}
	lines := lo.Map(candidates, func(c string, _ int) string {
		return "- " + c
	})
	return strings.Join(lines, "\n")
}
