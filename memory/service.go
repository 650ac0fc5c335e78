package memory

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/embeddings"
)

// StoreObserver is notified after a memory is durably written. The short-term
// coherence coordinator hangs off this hook.
type StoreObserver interface {
	OnStoreSuccess(ctx context.Context)
}

// CachePinger reports reachability of the short-term cache for health checks.
type CachePinger interface {
	Ping(ctx context.Context) error
}

// Service composes the store, the ranking engine, and the embedding gateway
// behind the operations the transport layers expose.
type Service struct {
	store       *Store
	engine      *Engine
	embedder    embeddings.Embedder
	coordinator StoreObserver // optional
	cache       CachePinger   // optional
	logger      zerolog.Logger
}

// NewService creates a Service. coordinator and cache may be nil when the
// short-term subsystem is not configured.
func NewService(store *Store, engine *Engine, embedder embeddings.Embedder, coordinator StoreObserver, cache CachePinger, logger zerolog.Logger) *Service {
	return &Service{
		store:       store,
		engine:      engine,
		embedder:    embedder,
		coordinator: coordinator,
		cache:       cache,
		logger:      logger.With().Str("component", "memory_service").Logger(),
	}
}

// Store durably writes a new memory. The embedding is computed first and is
// required: if the provider is down the write fails as a whole, so no row
// exists without a vector. On success the coordinator is notified so the
// short-term buffer can be invalidated.
func (s *Service) Store(ctx context.Context, content, capturedTZ string, tags []string) (int64, time.Time, error) {
	if strings.TrimSpace(content) == "" {
		return 0, time.Time{}, NewValidationError("content is empty")
	}

	vec, err := s.embedder.Embed(ctx, content, embeddings.IntentDocument)
	if err != nil {
		return 0, time.Time{}, NewDependencyError("embeddings", "document embedding failed", err)
	}

	id, createdAt, err := s.store.Insert(ctx, content, vec, capturedTZ, tags)
	if err != nil {
		if IsValidation(err) {
			return 0, time.Time{}, err
		}
		return 0, time.Time{}, NewDependencyError("store", "insert failed", err)
	}

	if s.coordinator != nil {
		s.coordinator.OnStoreSuccess(ctx)
	}
	return id, createdAt, nil
}

// Search runs a hybrid or exact search through the ranking engine.
func (s *Service) Search(ctx context.Context, req SearchRequest) ([]SearchResult, error) {
	return s.engine.Search(ctx, req)
}

// Recent returns unforgotten memories from the last `hours` hours, newest
// first.
func (s *Service) Recent(ctx context.Context, limit, hours int) ([]*Memory, error) {
	items, err := s.store.Recent(ctx, limit, hours)
	if err != nil {
		return nil, NewDependencyError("store", "recent query failed", err)
	}
	return items, nil
}

// Forget soft-deletes a memory by id.
func (s *Service) Forget(ctx context.Context, id int64) error {
	err := s.store.SoftDelete(ctx, id)
	if err != nil && !IsNotFound(err) {
		return NewDependencyError("store", "forget failed", err)
	}
	return err
}

// Get loads a single memory by id, including forgotten ones.
func (s *Service) Get(ctx context.Context, id int64) (*Memory, error) {
	m, err := s.store.Get(ctx, id)
	if err != nil && !IsNotFound(err) {
		return nil, NewDependencyError("store", "get failed", err)
	}
	return m, err
}

// Vectors returns unforgotten memories carrying embeddings, newest first.
func (s *Service) Vectors(ctx context.Context, limit int) ([]*Memory, error) {
	items, err := s.store.Vectors(ctx, limit)
	if err != nil {
		return nil, NewDependencyError("store", "vectors query failed", err)
	}
	return items, nil
}

// DependencyStatus is the reported state of one collaborator.
type DependencyStatus string

const (
	StatusConnected   DependencyStatus = "connected"
	StatusUnreachable DependencyStatus = "unreachable"
	StatusDisabled    DependencyStatus = "disabled"
)

// HealthReport summarizes dependency reachability and the active memory
// count.
type HealthReport struct {
	Store       DependencyStatus `json:"store"`
	Embeddings  DependencyStatus `json:"embeddings"`
	Cache       DependencyStatus `json:"cache"`
	MemoryCount int64            `json:"memory_count"`
}

// Healthy reports whether the report's required dependencies are all up. The
// cache is advisory: a down cache degrades capture, not the core store.
func (h HealthReport) Healthy() bool {
	return h.Store == StatusConnected && h.Embeddings == StatusConnected
}

// Health probes each dependency and returns a per-dependency report.
func (s *Service) Health(ctx context.Context) HealthReport {
	report := HealthReport{
		Store:      StatusConnected,
		Embeddings: StatusConnected,
		Cache:      StatusDisabled,
	}

	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Store unreachable")
		report.Store = StatusUnreachable
	} else {
		count, err := s.store.CountActive(ctx)
		if err != nil {
			s.logger.Warn().Err(err).Msg("Count query failed")
			report.Store = StatusUnreachable
		} else {
			report.MemoryCount = count
		}
	}

	if hc, ok := s.embedder.(embeddings.HealthChecker); ok {
		if err := hc.Healthy(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Embedding provider unreachable")
			report.Embeddings = StatusUnreachable
		}
	}

	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Cache unreachable")
			report.Cache = StatusUnreachable
		} else {
			report.Cache = StatusConnected
		}
	}

	return report
}
