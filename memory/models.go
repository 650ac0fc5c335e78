package memory

import "time"

// Metadata carries the descriptive fields attached to a Memory at creation
// time. CreatedAt is the canonical UTC instant used for all ordering and
// range filtering. CapturedTZ records the client's local IANA zone purely for
// display reconstruction; it never participates in comparisons.
type Metadata struct {
	CreatedAt  time.Time `json:"created_at"`
	CapturedTZ string    `json:"captured_tz,omitempty"`
	Tags       []string  `json:"tags,omitempty"`
}

// Memory is the durable unit of long-term storage. Content is immutable after
// creation; the only mutation the store supports is the soft-delete flag.
type Memory struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding,omitempty"`
	Forgotten bool      `json:"forgotten"`
	Metadata  Metadata  `json:"metadata"`
}

// QueryFilter is the shared predicate applied by store read primitives.
// The time range is half-open: [After, Before).
type QueryFilter struct {
	IncludeForgotten bool
	After            *time.Time
	Before           *time.Time
}

// ScoredMemory pairs a memory with a raw relevance statistic from a single
// signal (FTS rank or cosine similarity). Scores are only comparable within
// the result set that produced them.
type ScoredMemory struct {
	Memory *Memory
	Score  float64
}

// SearchRequest describes one search operation against the ranking engine.
type SearchRequest struct {
	Query            string
	Limit            int
	Exact            bool
	IncludeForgotten bool
	After            *time.Time
	Before           *time.Time
}

// SearchResult is a ranked hit with a combined relevance score in [0,1].
type SearchResult struct {
	Memory *Memory
	Score  float64
}
