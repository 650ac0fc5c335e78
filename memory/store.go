package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// candidateLimit bounds the number of rows scanned for in-process cosine
// scoring. Candidates are taken newest-first.
const candidateLimit = 500

// Store is the durable store adapter: insert, lexical and vector read
// primitives, soft delete, and the time-ordered read paths. All reads exclude
// forgotten rows unless the filter says otherwise.
type Store struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewStore creates and returns a Store.
func NewStore(db *sql.DB, logger zerolog.Logger) *Store {
	return &Store{
		db:     db,
		logger: logger.With().Str("component", "memory_store").Logger(),
	}
}

// storedMetadata is the shape persisted in the metadata JSON column. The
// creation instant lives in its own column; the JSON carries only the
// display-oriented fields.
type storedMetadata struct {
	CapturedTZ string   `json:"captured_tz,omitempty"`
	Tags       []string `json:"tags,omitempty"`
}

// Insert stores a new memory and indexes its content for lexical search.
// Returns the assigned id and the recorded creation instant (UTC).
func (s *Store) Insert(ctx context.Context, content string, embedding []float32, capturedTZ string, tags []string) (int64, time.Time, error) {
	if strings.TrimSpace(content) == "" {
		return 0, time.Time{}, NewValidationError("content is empty")
	}

	createdAt := time.Now().UTC()
	metaJSON, err := json.Marshal(storedMetadata{CapturedTZ: capturedTZ, Tags: tags})
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("marshal metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := StatementBuilder().
		Insert("memories").
		Columns("content", "embedding", "forgotten", "created_at", "metadata").
		Values(content, EncodeEmbedding(embedding), 0, createdAt.Unix(), string(metaJSON))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("build insert query: %w", err)
	}

	res, err := tx.ExecContext(ctx, queryStr, args...)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, time.Time{}, err
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO memories_fts (rowid, content) VALUES (?, ?)
`, id, content); err != nil {
		return 0, time.Time{}, fmt.Errorf("insert fts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, time.Time{}, fmt.Errorf("commit insert: %w", err)
	}

	s.logger.Info().
		Int64("id", id).
		Int("contentLen", len(content)).
		Bool("hasEmbedding", embedding != nil).
		Strs("tags", tags).
		Msg("Memory stored")

	return id, createdAt, nil
}

// LexicalQuery runs ranked full-text search. The returned scores are the
// negated bm25 rank statistic: higher is better, only comparable within this
// result set. When phrase is true the whole query must appear as one token
// sequence; otherwise all terms must appear somewhere in the document.
func (s *Store) LexicalQuery(ctx context.Context, query string, phrase bool, f QueryFilter, limit int) ([]ScoredMemory, error) {
	match := ftsMatchExpression(query, phrase)
	if match == "" {
		return nil, nil
	}

	rows, err := s.db.QueryContext(ctx, `
SELECT rowid, -bm25(memories_fts) AS score
FROM memories_fts
WHERE memories_fts MATCH ?
ORDER BY bm25(memories_fts)
LIMIT ?
`, match, limit)
	if err != nil {
		return nil, fmt.Errorf("fts query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var ids []int64
	scores := make(map[int64]float64)
	for rows.Next() {
		var id int64
		var score float64
		if err := rows.Scan(&id, &score); err != nil {
			return nil, err
		}
		if score <= 0 {
			continue
		}
		ids = append(ids, id)
		scores[id] = score
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	items, err := s.loadByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := lo.FilterMap(items, func(m *Memory, _ int) (ScoredMemory, bool) {
		if !matchesFilter(m, f) {
			return ScoredMemory{}, false
		}
		return ScoredMemory{Memory: m, Score: scores[m.ID]}, true
	})

	s.logger.Debug().
		Str("match", match).
		Int("matched", len(ids)).
		Int("afterFilters", len(results)).
		Msg("LexicalQuery completed")
	return results, nil
}

// VectorQuery scores the newest candidate rows against the query embedding
// with cosine similarity. Rows without embeddings and rows with non-positive
// similarity are dropped.
func (s *Store) VectorQuery(ctx context.Context, queryEmbedding []float32, f QueryFilter, limit int) ([]ScoredMemory, error) {
	query := StatementBuilder().
		Select(SelectMemoryColumns()...).
		From("memories").
		Where(sq.And{buildFilterWhere(f), sq.Expr("embedding IS NOT NULL")}).
		OrderBy("created_at DESC").
		Limit(uint64(candidateLimit))

	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("vector query: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var results []ScoredMemory
	for rows.Next() {
		m, err := loadMemoryFromRow(rows)
		if err != nil {
			return nil, err
		}
		if len(m.Embedding) == 0 {
			continue
		}
		score := CosineSimilarity(queryEmbedding, m.Embedding)
		if score <= 0 {
			continue
		}
		results = append(results, ScoredMemory{Memory: m, Score: score})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sortScoredDesc(results)
	if len(results) > limit {
		results = results[:limit]
	}
	s.logger.Debug().
		Int("numResults", len(results)).
		Msg("VectorQuery completed")
	return results, nil
}

// Recent returns unforgotten memories created within the last `hours` hours,
// newest first.
func (s *Store) Recent(ctx context.Context, limit, hours int) ([]*Memory, error) {
	cutoff := time.Now().UTC().Add(-time.Duration(hours) * time.Hour)

	query := StatementBuilder().
		Select(SelectMemoryColumns()...).
		From("memories").
		Where(sq.And{
			sq.Eq{"forgotten": 0},
			sq.GtOrEq{"created_at": cutoff.Unix()},
		}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)) //nolint:gosec // limit is validated by callers

	return s.queryMemories(ctx, query)
}

// Vectors returns unforgotten memories that carry embeddings, newest first.
func (s *Store) Vectors(ctx context.Context, limit int) ([]*Memory, error) {
	query := StatementBuilder().
		Select(SelectMemoryColumns()...).
		From("memories").
		Where(sq.And{
			sq.Eq{"forgotten": 0},
			sq.Expr("embedding IS NOT NULL"),
		}).
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit)) //nolint:gosec // limit is validated by callers

	return s.queryMemories(ctx, query)
}

// Get loads a single memory by id regardless of its forgotten flag.
func (s *Store) Get(ctx context.Context, id int64) (*Memory, error) {
	items, err := s.loadByIDs(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, NewNotFoundError(fmt.Sprintf("memory %d not found", id))
	}
	return items[0], nil
}

// SoftDelete marks a memory forgotten. Forgetting an unknown or already
// forgotten id reports not-found and mutates nothing.
func (s *Store) SoftDelete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `
UPDATE memories SET forgotten = 1 WHERE id = ? AND forgotten = 0
`, id)
	if err != nil {
		return fmt.Errorf("soft delete: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return NewNotFoundError(fmt.Sprintf("memory %d not found", id))
	}
	s.logger.Info().Int64("id", id).Msg("Memory forgotten")
	return nil
}

// CountActive returns the number of unforgotten memories.
func (s *Store) CountActive(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories WHERE forgotten = 0`).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count memories: %w", err)
	}
	return count, nil
}

// Ping checks database reachability.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) queryMemories(ctx context.Context, query sq.SelectBuilder) ([]*Memory, error) {
	queryStr, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, queryStr, args...)
	if err != nil {
		return nil, fmt.Errorf("query memories: %w", err)
	}
	defer rows.Close() //nolint:errcheck // no remedy for rows close error

	var items []*Memory
	for rows.Next() {
		m, err := loadMemoryFromRow(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, m)
	}
	return items, rows.Err()
}

func (s *Store) loadByIDs(ctx context.Context, ids []int64) ([]*Memory, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	query := StatementBuilder().
		Select(SelectMemoryColumns()...).
		From("memories").
		Where(sq.Eq{"id": ids})

	return s.queryMemories(ctx, query)
}

func loadMemoryFromRow(rows *sql.Rows) (*Memory, error) {
	var (
		id        int64
		content   string
		embBlob   []byte
		forgotten int
		createdAt int64
		metaJSON  sql.NullString
	)
	if err := rows.Scan(&id, &content, &embBlob, &forgotten, &createdAt, &metaJSON); err != nil {
		return nil, err
	}

	vec, err := DecodeEmbedding(embBlob)
	if err != nil {
		return nil, err
	}

	var stored storedMetadata
	if metaJSON.Valid && metaJSON.String != "" {
		_ = json.Unmarshal([]byte(metaJSON.String), &stored)
	}

	return &Memory{
		ID:        id,
		Content:   content,
		Embedding: vec,
		Forgotten: forgotten != 0,
		Metadata: Metadata{
			CreatedAt:  time.Unix(createdAt, 0).UTC(),
			CapturedTZ: stored.CapturedTZ,
			Tags:       stored.Tags,
		},
	}, nil
}

// buildFilterWhere builds Squirrel WHERE conditions for a QueryFilter.
// The time range is half-open on the stored UTC instant: [After, Before).
func buildFilterWhere(f QueryFilter) sq.Sqlizer {
	var conditions []sq.Sqlizer

	if !f.IncludeForgotten {
		conditions = append(conditions, sq.Eq{"forgotten": 0})
	}
	if f.After != nil {
		conditions = append(conditions, sq.GtOrEq{"created_at": f.After.Unix()})
	}
	if f.Before != nil {
		conditions = append(conditions, sq.Lt{"created_at": f.Before.Unix()})
	}

	if len(conditions) == 0 {
		return sq.Expr("1=1")
	}
	if len(conditions) == 1 {
		return conditions[0]
	}
	return sq.And(conditions)
}

// matchesFilter applies a QueryFilter to an already-loaded memory. Bounds
// compare at second precision, the resolution of the stored created_at
// column, so this path and the SQL filter in buildFilterWhere agree on every
// record regardless of sub-second components in the bounds.
func matchesFilter(m *Memory, f QueryFilter) bool {
	if m.Forgotten && !f.IncludeForgotten {
		return false
	}
	created := m.Metadata.CreatedAt.Unix()
	if f.After != nil && created < f.After.Unix() {
		return false
	}
	if f.Before != nil && created >= f.Before.Unix() {
		return false
	}
	return true
}

// ftsMatchExpression builds a safe FTS5 MATCH expression from free-form user
// text. Tokens are quoted so query syntax characters cannot leak through.
// With phrase=true the tokens form one phrase that must appear contiguously;
// otherwise every token must appear somewhere (implicit AND).
func ftsMatchExpression(query string, phrase bool) string {
	tokens := strings.FieldsFunc(query, func(r rune) bool {
		return !isWordRune(r)
	})
	if len(tokens) == 0 {
		return ""
	}
	if phrase {
		return `"` + strings.Join(tokens, " ") + `"`
	}
	quoted := lo.Map(tokens, func(tok string, _ int) string {
		return `"` + tok + `"`
	})
	return strings.Join(quoted, " ")
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r >= 0x80: // let unicode61 tokenize non-ASCII text itself
		return true
	default:
		return false
	}
}

// sortScoredDesc orders by score descending, breaking ties by id descending
// so equal-score results favor the newer memory.
func sortScoredDesc(results []ScoredMemory) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Memory.ID > results[j].Memory.ID
	})
}
