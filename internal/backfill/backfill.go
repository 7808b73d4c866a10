package backfill

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cinequery/cinequery/internal/movies"
)

type Source interface {
	ListMissingEmbeddings(ctx context.Context) ([]movies.Record, error)
	SetEmbedding(ctx context.Context, movieID int64, embedding []float32) error
}

type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
}

type Result struct {
	Updated int
	Skipped int
}

type Job struct {
	source  Source
	encoder Encoder
	logger  *slog.Logger
}

func NewJob(source Source, encoder Encoder, logger *slog.Logger) (*Job, error) {
	if source == nil {
		return nil, fmt.Errorf("backfill source is required")
	}
	if encoder == nil {
		return nil, fmt.Errorf("encoder is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Job{source: source, encoder: encoder, logger: logger}, nil
}

// Run stops at the first failure; a rerun resumes where it stopped.
func (j *Job) Run(ctx context.Context) (Result, error) {
	pending, err := j.source.ListMissingEmbeddings(ctx)
	if err != nil {
		return Result{}, err
	}

	var result Result
	for _, record := range pending {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		text := EmbeddingText(record)
		if text == "" {
			result.Skipped++
			continue
		}
		vector, err := j.encoder.Encode(ctx, text)
		if err != nil {
			return result, fmt.Errorf("encode movie %d: %w", record.MovieID, err)
		}
		if err := j.source.SetEmbedding(ctx, record.MovieID, vector); err != nil {
			return result, err
		}
		result.Updated++
		j.logger.Debug("embedding stored", "movie_id", record.MovieID)
	}
	j.logger.Info("embedding backfill finished", "updated", result.Updated, "skipped", result.Skipped)
	return result, nil
}

func EmbeddingText(record movies.Record) string {
	parts := make([]string, 0, 2)
	for _, field := range []*string{record.Tagline, record.Overview} {
		if field != nil && *field != "" {
			parts = append(parts, *field)
		}
	}
	return strings.TrimSpace(strings.Join(parts, " "))
}
