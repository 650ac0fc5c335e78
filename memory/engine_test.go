package memory

import (
	"context"
	"errors"
	"testing"

	"github.com/substratelabs/mnemo/embeddings"
)

// stubEmbedder returns canned vectors keyed by text, ignoring intent.
type stubEmbedder struct {
	vecs map[string][]float32
	err  error
}

func (s *stubEmbedder) Embed(_ context.Context, text string, _ embeddings.Intent) ([]float32, error) {
	if s.err != nil {
		return nil, s.err
	}
	if vec, ok := s.vecs[text]; ok {
		return vec, nil
	}
	return []float32{0, 0, 1}, nil
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	store := newTestStore(t)
	engine := NewEngine(store, &stubEmbedder{}, 0.5, 0.5, store.logger)

	_, err := engine.Search(context.Background(), SearchRequest{Query: "   "})
	if !IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestHybridSearchBlendsSignals(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// "both" matches lexically and semantically; "lexOnly" matches only the
	// words; "semOnly" matches only the vector.
	bothID := mustInsert(t, store, "favorite espresso roast is ethiopian espresso", []float32{1, 0, 0})
	lexOnlyID := mustInsert(t, store, "espresso machine descaled in july", []float32{0, 1, 0})
	semOnlyID := mustInsert(t, store, "morning caffeine ritual", []float32{0.9, 0.1, 0})
	mustInsert(t, store, "unrelated parking reminder", []float32{0, 0, 1})

	embedder := &stubEmbedder{vecs: map[string][]float32{
		"espresso": {1, 0, 0},
	}}
	engine := NewEngine(store, embedder, 0.5, 0.5, store.logger)

	results, err := engine.Search(ctx, SearchRequest{Query: "espresso", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	scores := make(map[int64]float64, len(results))
	for _, res := range results {
		if res.Score < 0 || res.Score > 1 {
			t.Errorf("score %f for id %d outside [0,1]", res.Score, res.Memory.ID)
		}
		scores[res.Memory.ID] = res.Score
	}

	if _, ok := scores[bothID]; !ok {
		t.Fatal("expected the doubly-matched memory in results")
	}
	if _, ok := scores[lexOnlyID]; !ok {
		t.Fatal("expected the lexical-only memory in results")
	}
	if _, ok := scores[semOnlyID]; !ok {
		t.Fatal("expected the semantic-only memory in results")
	}

	if results[0].Memory.ID != bothID {
		t.Errorf("expected the doubly-matched memory first, got id %d", results[0].Memory.ID)
	}
	if scores[bothID] <= scores[lexOnlyID] || scores[bothID] <= scores[semOnlyID] {
		t.Errorf("expected both-signal score to dominate: %v", scores)
	}
}

func TestHybridSearchExcludesUnmatched(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, "completely unrelated fact", []float32{0, 0, 1})

	embedder := &stubEmbedder{vecs: map[string][]float32{"quasar": {1, 0, 0}}}
	engine := NewEngine(store, embedder, 0.5, 0.5, store.logger)

	results, err := engine.Search(ctx, SearchRequest{Query: "quasar", Limit: 10})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	// A memory absent from both signals never appears with score 0.
	for _, res := range results {
		if res.Score == 0 {
			t.Errorf("id %d returned with zero score", res.Memory.ID)
		}
	}
}

func TestExactSearchRequiresPhrase(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	phraseID := mustInsert(t, store, "the project codename is blue heron", []float32{1, 0, 0})
	mustInsert(t, store, "heron photos from the blue lake trip", []float32{1, 0, 0})

	engine := NewEngine(store, &stubEmbedder{}, 0.5, 0.5, store.logger)

	results, err := engine.Search(ctx, SearchRequest{Query: "blue heron", Exact: true, Limit: 10})
	if err != nil {
		t.Fatalf("exact search: %v", err)
	}
	if len(results) != 1 || results[0].Memory.ID != phraseID {
		t.Fatalf("expected only the contiguous match, got %+v", results)
	}
	if results[0].Score != 1.0 {
		t.Errorf("expected the top exact hit normalized to 1.0, got %f", results[0].Score)
	}
}

func TestExactSearchSkipsEmbedding(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	mustInsert(t, store, "remembers the wifi password", nil)

	// A dead embedding provider fails hybrid search but not exact search.
	embedder := &stubEmbedder{err: errors.New("connection refused")}
	engine := NewEngine(store, embedder, 0.5, 0.5, store.logger)

	_, err := engine.Search(ctx, SearchRequest{Query: "wifi"})
	if !IsDependencyUnavailable(err) {
		t.Fatalf("expected a dependency error from hybrid search, got %v", err)
	}
	if dep := FailedDependency(err); dep != "embeddings" {
		t.Errorf("expected the embeddings dependency to be named, got %q", dep)
	}

	results, err := engine.Search(ctx, SearchRequest{Query: "wifi password", Exact: true})
	if err != nil {
		t.Fatalf("exact search: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("expected 1 exact hit, got %d", len(results))
	}
}

func TestSearchTieBreaksNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := mustInsert(t, store, "duplicate fact", nil)
	newer := mustInsert(t, store, "duplicate fact", nil)

	engine := NewEngine(store, &stubEmbedder{}, 0.5, 0.5, store.logger)

	results, err := engine.Search(ctx, SearchRequest{Query: "duplicate fact", Exact: true})
	if err != nil {
		t.Fatalf("exact search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(results))
	}
	if results[0].Memory.ID != newer || results[1].Memory.ID != older {
		t.Errorf("expected newest-first tie break, got [%d, %d]", results[0].Memory.ID, results[1].Memory.ID)
	}
}

func TestNormalizeScoresDegenerate(t *testing.T) {
	m := &Memory{ID: 1}
	hits := []ScoredMemory{{Memory: m, Score: 0.42}, {Memory: &Memory{ID: 2}, Score: 0.42}}

	norm := normalizeScores(hits)
	for id, score := range norm {
		if score != 1.0 {
			t.Errorf("expected 1.0 for id %d when all scores are equal, got %f", id, score)
		}
	}
}

func TestNormalizeScoresAffineInvariance(t *testing.T) {
	mems := []*Memory{{ID: 1}, {ID: 2}, {ID: 3}}
	raw := []float64{2.0, 5.0, 11.0}

	base := make([]ScoredMemory, len(raw))
	shifted := make([]ScoredMemory, len(raw))
	for i := range raw {
		base[i] = ScoredMemory{Memory: mems[i], Score: raw[i]}
		shifted[i] = ScoredMemory{Memory: mems[i], Score: raw[i]*3.5 + 100}
	}

	normBase := normalizeScores(base)
	normShifted := normalizeScores(shifted)
	for _, m := range mems {
		diff := normBase[m.ID] - normShifted[m.ID]
		if diff < -1e-9 || diff > 1e-9 {
			t.Errorf("id %d: normalization not affine-invariant: %f vs %f", m.ID, normBase[m.ID], normShifted[m.ID])
		}
	}
}
