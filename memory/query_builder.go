package memory

import (
	sq "github.com/Masterminds/squirrel"
)

// StatementBuilder returns a Squirrel StatementBuilder configured for SQLite.
// SQLite uses '?' as placeholders, which is Squirrel's default.
func StatementBuilder() sq.StatementBuilderType {
	return sq.StatementBuilder
}

// SelectMemoryColumns returns the standard column list for memories SELECT queries.
func SelectMemoryColumns() []string {
	return []string{"id", "content", "embedding", "forgotten", "created_at", "metadata"}
}
