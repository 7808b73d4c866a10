package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/cinequery/cinequery/internal/movies"
)

type EmbeddingRepository struct {
	db *sql.DB
}

func NewEmbeddingRepository(db *sql.DB) *EmbeddingRepository {
	return &EmbeddingRepository{db: db}
}

func (r *EmbeddingRepository) ListMissingEmbeddings(ctx context.Context) ([]movies.Record, error) {
	query := `
SELECT movieId, title, tagline, overview
FROM movies_full
WHERE embedding IS NULL
ORDER BY movieId`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list movies without embedding: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []movies.Record
	for rows.Next() {
		var (
			record   movies.Record
			tagline  sql.NullString
			overview sql.NullString
		)
		if err := rows.Scan(&record.MovieID, &record.Title, &tagline, &overview); err != nil {
			return nil, fmt.Errorf("scan movie: %w", err)
		}
		if tagline.Valid {
			record.Tagline = &tagline.String
		}
		if overview.Valid {
			record.Overview = &overview.String
		}
		out = append(out, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return out, nil
}

func (r *EmbeddingRepository) SetEmbedding(ctx context.Context, movieID int64, embedding []float32) error {
	if len(embedding) != movies.EmbeddingDimensions {
		return fmt.Errorf("movie %d embedding has %d dimensions, want %d", movieID, len(embedding), movies.EmbeddingDimensions)
	}
	result, err := r.db.ExecContext(ctx, `UPDATE movies_full SET embedding = $1 WHERE movieId = $2`, pgvector.NewVector(embedding), movieID)
	if err != nil {
		return fmt.Errorf("update embedding for movie %d: %w", movieID, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update embedding rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("movie %d not found", movieID)
	}
	return nil
}
