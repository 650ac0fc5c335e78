package memory

import (
	"context"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"github.com/substratelabs/mnemo/embeddings"
)

const (
	defaultSearchLimit = 10

	// overscanFactor widens each signal's candidate pull so that a memory
	// ranked low by one signal but high by the other still makes the blend.
	overscanFactor = 3
)

// Engine is the hybrid ranking engine. It blends lexical (FTS rank) and
// semantic (cosine similarity) relevance into a single [0,1] score per
// memory.
type Engine struct {
	store     *Store
	embedder  embeddings.Embedder
	lexWeight float64
	semWeight float64
	logger    zerolog.Logger
}

// NewEngine creates an Engine. Weights are normalized so they sum to 1; if
// both are zero the default even split is used.
func NewEngine(store *Store, embedder embeddings.Embedder, lexWeight, semWeight float64, logger zerolog.Logger) *Engine {
	if lexWeight <= 0 && semWeight <= 0 {
		lexWeight, semWeight = 0.5, 0.5
	}
	total := lexWeight + semWeight
	return &Engine{
		store:     store,
		embedder:  embedder,
		lexWeight: lexWeight / total,
		semWeight: semWeight / total,
		logger:    logger.With().Str("component", "ranking_engine").Logger(),
	}
}

// Search executes one search. Exact mode is purely lexical phrase matching;
// hybrid mode runs the lexical query and the query embedding concurrently,
// then blends both signals.
func (e *Engine) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, NewValidationError("query is empty")
	}
	limit := req.Limit
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	filter := QueryFilter{
		IncludeForgotten: req.IncludeForgotten,
		After:            req.After,
		Before:           req.Before,
	}

	if req.Exact {
		return e.exactSearch(ctx, req.Query, filter, limit)
	}
	return e.hybridSearch(ctx, req.Query, filter, limit)
}

// exactSearch matches the query as a contiguous phrase. Scores are each hit's
// raw rank divided by the set maximum, which preserves order and lands in
// (0,1].
func (e *Engine) exactSearch(ctx context.Context, query string, f QueryFilter, limit int) ([]SearchResult, error) {
	hits, err := e.store.LexicalQuery(ctx, query, true, f, limit*overscanFactor)
	if err != nil {
		return nil, NewDependencyError("store", "lexical query failed", err)
	}
	if len(hits) == 0 {
		return []SearchResult{}, nil
	}

	maxScore := lo.MaxBy(hits, func(a, b ScoredMemory) bool { return a.Score > b.Score }).Score
	results := lo.Map(hits, func(h ScoredMemory, _ int) SearchResult {
		return SearchResult{Memory: h.Memory, Score: h.Score / maxScore}
	})
	sortResultsDesc(results)
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

type embedResult struct {
	vec []float32
	err error
}

func (e *Engine) hybridSearch(ctx context.Context, query string, f QueryFilter, limit int) ([]SearchResult, error) {
	// The query embedding is on the critical path for the vector signal, so
	// it runs concurrently with the lexical query.
	embedCh := make(chan embedResult, 1)
	go func() {
		vec, err := e.embedder.Embed(ctx, query, embeddings.IntentQuery)
		embedCh <- embedResult{vec: vec, err: err}
	}()

	lexHits, lexErr := e.store.LexicalQuery(ctx, query, false, f, limit*overscanFactor)

	embedded := <-embedCh
	if embedded.err != nil {
		return nil, NewDependencyError("embeddings", "query embedding failed", embedded.err)
	}
	if lexErr != nil {
		return nil, NewDependencyError("store", "lexical query failed", lexErr)
	}

	semHits, err := e.store.VectorQuery(ctx, embedded.vec, f, limit*overscanFactor)
	if err != nil {
		return nil, NewDependencyError("store", "vector query failed", err)
	}

	results := blendSignals(lexHits, semHits, e.lexWeight, e.semWeight)
	if len(results) > limit {
		results = results[:limit]
	}

	e.logger.Debug().
		Int("lexical", len(lexHits)).
		Int("semantic", len(semHits)).
		Int("returned", len(results)).
		Msg("Hybrid search completed")
	return results, nil
}

// blendSignals min-max normalizes each signal to [0,1] independently, then
// combines them per memory as lexWeight*lex + semWeight*sem. A memory absent
// from a signal contributes 0 for it; a memory absent from both is excluded
// (it can never appear with score 0).
func blendSignals(lexHits, semHits []ScoredMemory, lexWeight, semWeight float64) []SearchResult {
	lexNorm := normalizeScores(lexHits)
	semNorm := normalizeScores(semHits)

	members := make(map[int64]*Memory, len(lexHits)+len(semHits))
	for _, h := range lexHits {
		members[h.Memory.ID] = h.Memory
	}
	for _, h := range semHits {
		members[h.Memory.ID] = h.Memory
	}

	results := make([]SearchResult, 0, len(members))
	for id, m := range members {
		results = append(results, SearchResult{
			Memory: m,
			Score:  lexWeight*lexNorm[id] + semWeight*semNorm[id],
		})
	}
	sortResultsDesc(results)
	return results
}

// normalizeScores rescales a signal's raw scores to [0,1] with min-max
// normalization. When all scores are equal the signal carries no ordering
// information, so every member gets 1.0.
func normalizeScores(hits []ScoredMemory) map[int64]float64 {
	norm := make(map[int64]float64, len(hits))
	if len(hits) == 0 {
		return norm
	}

	minScore, maxScore := hits[0].Score, hits[0].Score
	for _, h := range hits[1:] {
		if h.Score < minScore {
			minScore = h.Score
		}
		if h.Score > maxScore {
			maxScore = h.Score
		}
	}

	spread := maxScore - minScore
	for _, h := range hits {
		if spread == 0 {
			norm[h.Memory.ID] = 1.0
		} else {
			norm[h.Memory.ID] = (h.Score - minScore) / spread
		}
	}
	return norm
}

func sortResultsDesc(results []SearchResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID > results[j].Memory.ID
	})
}
