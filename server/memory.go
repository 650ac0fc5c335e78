package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/substratelabs/mnemo/memory"
	"github.com/substratelabs/mnemo/stm"
)

const (
	maxSearchLimit = 100
	maxRecentLimit = 100
	maxVectorLimit = 12000

	defaultRecentLimit = 20
	defaultRecentHours = 24

	// observeTimeout bounds background distillation of an observed turn.
	observeTimeout = 3 * time.Minute
)

type storeRequest struct {
	Content    string   `json:"content"`
	Tags       []string `json:"tags,omitempty"`
	CapturedTZ string   `json:"captured_tz,omitempty"`
}

type storeResponse struct {
	ID        int64     `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	var req storeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	id, createdAt, err := s.service.Store(r.Context(), req.Content, req.CapturedTZ, req.Tags)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, storeResponse{ID: id, CreatedAt: createdAt})
}

type searchRequest struct {
	Query            string `json:"query"`
	Limit            int    `json:"limit,omitempty"`
	Exact            bool   `json:"exact,omitempty"`
	IncludeForgotten bool   `json:"include_forgotten,omitempty"`
	After            string `json:"after,omitempty"`
	Before           string `json:"before,omitempty"`
}

type searchHit struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Score     float64   `json:"score"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags,omitempty"`
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	after, err := parseTimeParam(req.After)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid after timestamp")
		return
	}
	before, err := parseTimeParam(req.Before)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid before timestamp")
		return
	}

	results, err := s.service.Search(r.Context(), memory.SearchRequest{
		Query:            req.Query,
		Limit:            clampLimit(req.Limit, maxSearchLimit),
		Exact:            req.Exact,
		IncludeForgotten: req.IncludeForgotten,
		After:            after,
		Before:           before,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}

	hits := make([]searchHit, 0, len(results))
	for _, res := range results {
		hits = append(hits, searchHit{
			ID:        res.Memory.ID,
			Content:   res.Memory.Content,
			Score:     res.Score,
			CreatedAt: res.Memory.Metadata.CreatedAt,
			Tags:      res.Memory.Metadata.Tags,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": hits})
}

func (s *Server) handleRecent(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", defaultRecentLimit)
	if limit <= 0 {
		limit = defaultRecentLimit
	}
	hours := queryInt(r, "hours", defaultRecentHours)
	if hours <= 0 {
		hours = defaultRecentHours
	}

	items, err := s.service.Recent(r.Context(), clampLimit(limit, maxRecentLimit), hours)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"memories": toMemoryViews(items)})
}

type forgetRequest struct {
	ID int64 `json:"id"`
}

func (s *Server) handleForget(w http.ResponseWriter, r *http.Request) {
	var req forgetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if err := s.service.Forget(r.Context(), req.ID); err != nil {
		if memory.IsNotFound(err) {
			writeJSON(w, http.StatusNotFound, map[string]any{"forgotten": false})
			return
		}
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"forgotten": true})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}

	m, err := s.service.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toMemoryView(m))
}

type vectorView struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Embedding []float32 `json:"embedding"`
	CreatedAt time.Time `json:"created_at"`
}

func (s *Server) handleVectors(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", maxVectorLimit)
	if limit <= 0 {
		limit = maxVectorLimit
	}

	items, err := s.service.Vectors(r.Context(), clampLimit(limit, maxVectorLimit))
	if err != nil {
		writeServiceError(w, err)
		return
	}

	views := make([]vectorView, 0, len(items))
	for _, m := range items {
		views = append(views, vectorView{
			ID:        m.ID,
			Content:   m.Content,
			Embedding: m.Embedding,
			CreatedAt: m.Metadata.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"vectors": views})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	report := s.service.Health(r.Context())
	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, report)
}

type observeRequest struct {
	UserText       string   `json:"user_text"`
	AssistantTexts []string `json:"assistant_texts,omitempty"`
}

func (s *Server) handleObserve(w http.ResponseWriter, r *http.Request) {
	var req observeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.UserText == "" && len(req.AssistantTexts) == 0 {
		writeError(w, http.StatusBadRequest, "empty exchange")
		return
	}

	// Distillation can take as long as a classifier round trip, so it runs
	// detached from the request.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), observeTimeout)
		defer cancel()
		if _, err := s.relay.ObserveTurn(ctx, stm.Exchange{
			UserText:       req.UserText,
			AssistantTexts: req.AssistantTexts,
		}); err != nil {
			s.logger.Error().Err(err).Msg("Observing turn failed")
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{"accepted": true})
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.relay.Candidates(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "short-term cache unreachable")
		return
	}
	if candidates == nil {
		candidates = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"candidates": candidates,
		"rendered":   stm.RenderCandidates(candidates),
	})
}

type memoryView struct {
	ID        int64     `json:"id"`
	Content   string    `json:"content"`
	Forgotten bool      `json:"forgotten"`
	CreatedAt time.Time `json:"created_at"`
	Tags      []string  `json:"tags,omitempty"`
	TZ        string    `json:"captured_tz,omitempty"`
}

func toMemoryView(m *memory.Memory) memoryView {
	return memoryView{
		ID:        m.ID,
		Content:   m.Content,
		Forgotten: m.Forgotten,
		CreatedAt: m.Metadata.CreatedAt,
		Tags:      m.Metadata.Tags,
		TZ:        m.Metadata.CapturedTZ,
	}
}

func toMemoryViews(items []*memory.Memory) []memoryView {
	views := make([]memoryView, 0, len(items))
	for _, m := range items {
		views = append(views, toMemoryView(m))
	}
	return views
}

// clampLimit caps limit at ceiling. Non-positive limits pass through so the
// layer below applies its own default.
func clampLimit(limit, ceiling int) int {
	if limit > ceiling {
		return ceiling
	}
	return limit
}

func queryInt(r *http.Request, name string, fallback int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func parseTimeParam(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	utc := t.UTC()
	return &utc, nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case memory.IsValidation(err):
		writeError(w, http.StatusBadRequest, err.Error())
	case memory.IsNotFound(err):
		writeError(w, http.StatusNotFound, err.Error())
	case memory.IsDependencyUnavailable(err):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}
