package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/embeddings"
	"github.com/substratelabs/mnemo/memory"
	"github.com/substratelabs/mnemo/migrations"
	"github.com/substratelabs/mnemo/observer"
	"github.com/substratelabs/mnemo/stm"
)

const testAPIKey = "test-key"

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, _ string, _ embeddings.Intent) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubClassifier struct{}

func (stubClassifier) Classify(_ context.Context, _ string, _ []string) ([]string, error) {
	return []string{"noted fact"}, nil
}

func newTestServer(t *testing.T) (*Server, *stm.Buffer) {
	t.Helper()

	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := migrations.RunMigrations(db, "../migrations", zerolog.Nop()); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	store := memory.NewStore(db, zerolog.Nop())
	embedder := fixedEmbedder{}
	engine := memory.NewEngine(store, embedder, 0.5, 0.5, zerolog.Nop())
	buffer := stm.NewBuffer(stm.NewMemStore(), time.Hour, zerolog.Nop())
	coordinator := observer.NewCoordinator(buffer, zerolog.Nop())
	relay := observer.NewRelay(buffer, stubClassifier{}, 24576, zerolog.Nop())
	service := memory.NewService(store, engine, embedder, coordinator, buffer, zerolog.Nop())

	return New("127.0.0.1:0", testAPIKey, service, relay, zerolog.Nop()), buffer
}

func doRequest(t *testing.T, srv *Server, method, path string, body any, apiKey string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	if apiKey != "" {
		req.Header.Set("X-API-Key", apiKey)
	}
	rec := httptest.NewRecorder()
	srv.httpSrv.Handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
}

func TestAPIKeyRequired(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/store", map[string]string{"content": "x"}, "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key: status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodPost, "/store", map[string]string{"content": "x"}, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key: status = %d", rec.Code)
	}

	// Health never needs credentials.
	rec = doRequest(t, srv, http.MethodGet, "/health", nil, "")
	if rec.Code == http.StatusUnauthorized {
		t.Errorf("health demanded credentials: status = %d", rec.Code)
	}
}

func TestStoreSearchForgetFlow(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/store", map[string]any{
		"content": "the backup passphrase lives in the safe",
		"tags":    []string{"security"},
	}, testAPIKey)
	if rec.Code != http.StatusCreated {
		t.Fatalf("store: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var stored struct {
		ID        int64     `json:"id"`
		CreatedAt time.Time `json:"created_at"`
	}
	decodeBody(t, rec, &stored)
	if stored.ID == 0 || stored.CreatedAt.IsZero() {
		t.Fatalf("store response = %+v", stored)
	}

	rec = doRequest(t, srv, http.MethodPost, "/search", map[string]any{
		"query": "backup passphrase",
		"exact": true,
	}, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("search: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var searched struct {
		Results []struct {
			ID      int64   `json:"id"`
			Content string  `json:"content"`
			Score   float64 `json:"score"`
		} `json:"results"`
	}
	decodeBody(t, rec, &searched)
	if len(searched.Results) != 1 || searched.Results[0].ID != stored.ID {
		t.Fatalf("search results = %+v", searched.Results)
	}
	if searched.Results[0].Score <= 0 || searched.Results[0].Score > 1 {
		t.Errorf("score = %f", searched.Results[0].Score)
	}

	rec = doRequest(t, srv, http.MethodPost, "/forget", map[string]any{"id": stored.ID}, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("forget: status = %d body = %s", rec.Code, rec.Body.String())
	}

	// Forgetting again is a 404 with forgotten=false.
	rec = doRequest(t, srv, http.MethodPost, "/forget", map[string]any{"id": stored.ID}, testAPIKey)
	if rec.Code != http.StatusNotFound {
		t.Errorf("double forget: status = %d", rec.Code)
	}
	var forgot struct {
		Forgotten bool `json:"forgotten"`
	}
	decodeBody(t, rec, &forgot)
	if forgot.Forgotten {
		t.Error("expected forgotten=false on double forget")
	}

	// The forgotten memory disappears from search.
	rec = doRequest(t, srv, http.MethodPost, "/search", map[string]any{
		"query": "backup passphrase",
		"exact": true,
	}, testAPIKey)
	decodeBody(t, rec, &searched)
	if len(searched.Results) != 0 {
		t.Errorf("expected no results after forget, got %+v", searched.Results)
	}
}

func TestStoreRejectsEmptyContent(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/store", map[string]string{"content": ""}, testAPIKey)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d", rec.Code)
	}
}

func TestStoreClearsShortTermBuffer(t *testing.T) {
	srv, buffer := newTestServer(t)
	ctx := context.Background()

	if err := buffer.Append(ctx, stm.Exchange{UserText: "pending turn"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if _, err := buffer.MergeCandidates(ctx, []string{"pending candidate"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	rec := doRequest(t, srv, http.MethodPost, "/store", map[string]string{"content": "durable now"}, testAPIKey)
	if rec.Code != http.StatusCreated {
		t.Fatalf("store: status = %d", rec.Code)
	}

	exchanges, err := buffer.Exchanges(ctx)
	if err != nil {
		t.Fatalf("exchanges: %v", err)
	}
	candidates, err := buffer.Candidates(ctx)
	if err != nil {
		t.Fatalf("candidates: %v", err)
	}
	if len(exchanges) != 0 || len(candidates) != 0 {
		t.Fatalf("expected the buffer cleared by the durable write, got %d exchanges and %v", len(exchanges), candidates)
	}
}

func TestRecentEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	for _, content := range []string{"alpha", "beta"} {
		rec := doRequest(t, srv, http.MethodPost, "/store", map[string]string{"content": content}, testAPIKey)
		if rec.Code != http.StatusCreated {
			t.Fatalf("store %q: status = %d", content, rec.Code)
		}
	}

	rec := doRequest(t, srv, http.MethodGet, "/recent?limit=1", nil, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("recent: status = %d", rec.Code)
	}
	var recent struct {
		Memories []struct {
			Content string `json:"content"`
		} `json:"memories"`
	}
	decodeBody(t, rec, &recent)
	if len(recent.Memories) != 1 || recent.Memories[0].Content != "beta" {
		t.Fatalf("recent = %+v", recent.Memories)
	}
}

func TestGetAndVectorsEndpoints(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodPost, "/store", map[string]string{"content": "vectored"}, testAPIKey)
	var stored struct {
		ID int64 `json:"id"`
	}
	decodeBody(t, rec, &stored)

	rec = doRequest(t, srv, http.MethodGet, "/get/1", nil, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("get: status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/get/999", nil, testAPIKey)
	if rec.Code != http.StatusNotFound {
		t.Errorf("get unknown: status = %d", rec.Code)
	}

	rec = doRequest(t, srv, http.MethodGet, "/vectors", nil, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("vectors: status = %d", rec.Code)
	}
	var vectors struct {
		Vectors []struct {
			ID        int64     `json:"id"`
			Embedding []float32 `json:"embedding"`
		} `json:"vectors"`
	}
	decodeBody(t, rec, &vectors)
	if len(vectors.Vectors) != 1 || len(vectors.Vectors[0].Embedding) != 3 {
		t.Fatalf("vectors = %+v", vectors.Vectors)
	}
}

func TestCandidatesEndpoint(t *testing.T) {
	srv, buffer := newTestServer(t)

	if _, err := buffer.MergeCandidates(context.Background(), []string{"a fact"}); err != nil {
		t.Fatalf("merge: %v", err)
	}

	rec := doRequest(t, srv, http.MethodGet, "/candidates", nil, testAPIKey)
	if rec.Code != http.StatusOK {
		t.Fatalf("candidates: status = %d", rec.Code)
	}
	var got struct {
		Candidates []string `json:"candidates"`
	}
	decodeBody(t, rec, &got)
	if len(got.Candidates) != 1 || got.Candidates[0] != "a fact" {
		t.Fatalf("candidates = %v", got.Candidates)
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)

	rec := doRequest(t, srv, http.MethodGet, "/health", nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("health: status = %d body = %s", rec.Code, rec.Body.String())
	}
	var report struct {
		Store       string `json:"store"`
		Embeddings  string `json:"embeddings"`
		Cache       string `json:"cache"`
		MemoryCount int64  `json:"memory_count"`
	}
	decodeBody(t, rec, &report)
	if report.Store != "connected" {
		t.Errorf("store status = %q", report.Store)
	}
	if report.Cache != "connected" {
		t.Errorf("cache status = %q", report.Cache)
	}
}
