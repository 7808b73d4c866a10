package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"

	"github.com/cinequery/cinequery/internal/catalog"
	"github.com/cinequery/cinequery/internal/movies"
)

const similarityQuery = `
SELECT movieId, title, tagline, overview, genres, tags, embedding <-> $1 AS distance
FROM movies_full
WHERE embedding IS NOT NULL
ORDER BY embedding <-> $1`

type Store struct {
	db           *sql.DB
	queryTimeout time.Duration
}

var _ catalog.Store = (*Store)(nil)

func NewStore(db *sql.DB, queryTimeout time.Duration) *Store {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &Store{db: db, queryTimeout: queryTimeout}
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping store db: %w", err)
	}
	return nil
}

func (s *Store) Execute(ctx context.Context, sqlText string) (movies.ResultSet, error) {
	if catalog.Blank(sqlText) {
		return movies.EmptyResultSet(), nil
	}
	result, err := s.query(ctx, sqlText)
	if err != nil {
		return movies.ResultSet{}, &catalog.ExecutionError{SQL: sqlText, Err: err}
	}
	return result, nil
}

func (s *Store) Similar(ctx context.Context, vector []float32, k int) (movies.ResultSet, error) {
	if len(vector) != movies.EmbeddingDimensions {
		return movies.ResultSet{}, fmt.Errorf("query vector has %d dimensions, want %d", len(vector), movies.EmbeddingDimensions)
	}
	query := similarityQuery
	args := []any{pgvector.NewVector(vector)}
	if k > 0 {
		query += "\nLIMIT $2"
		args = append(args, int64(k))
	}
	result, err := s.query(ctx, query, args...)
	if err != nil {
		return movies.ResultSet{}, fmt.Errorf("similarity search: %w", err)
	}
	return result, nil
}

func (s *Store) query(ctx context.Context, query string, args ...any) (movies.ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	conn, err := s.db.Conn(ctx)
	if err != nil {
		return movies.ResultSet{}, fmt.Errorf("acquire connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return movies.ResultSet{}, err
	}
	defer func() { _ = rows.Close() }()

	return catalog.ScanRows(rows, normalizeValue)
}

func normalizeValue(column string, value any) (any, error) {
	switch column {
	case movies.ColumnEmbedding:
		if value == nil {
			return nil, nil
		}
		var vector pgvector.Vector
		if err := vector.Scan(value); err != nil {
			return nil, fmt.Errorf("parse vector: %w", err)
		}
		return vector.Slice(), nil
	case movies.ColumnDistance:
		if typed, ok := value.(float32); ok {
			return float64(typed), nil
		}
	}
	return movies.NormalizeValue(value), nil
}
