package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/cinequery/cinequery/internal/movies"
)

type Executor interface {
	Execute(ctx context.Context, sqlText string) (movies.ResultSet, error)
}

// k <= 0 returns every embedded row, nearest first.
type SimilaritySearcher interface {
	Similar(ctx context.Context, vector []float32, k int) (movies.ResultSet, error)
}

type Store interface {
	Executor
	SimilaritySearcher
	Ping(ctx context.Context) error
}

type ExecutionError struct {
	SQL string
	Err error
}

func (e *ExecutionError) Error() string {
	if e.Err == nil {
		return "sql execution failed"
	}
	return e.Err.Error()
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

func Blank(sqlText string) bool {
	return strings.TrimSpace(sqlText) == ""
}

var SimilarityColumns = []string{
	movies.ColumnMovieID,
	movies.ColumnTitle,
	movies.ColumnTagline,
	movies.ColumnOverview,
	movies.ColumnGenres,
	movies.ColumnTags,
	movies.ColumnDistance,
}

type ValueNormalizer func(column string, value any) (any, error)

func ScanRows(rows *sql.Rows, normalize ValueNormalizer) (movies.ResultSet, error) {
	names, err := rows.Columns()
	if err != nil {
		return movies.ResultSet{}, fmt.Errorf("query columns: %w", err)
	}
	columns := make([]string, len(names))
	for i, name := range names {
		columns[i] = movies.CanonicalColumn(name)
	}

	result := movies.ResultSet{Columns: columns, Rows: []movies.Row{}}
	for rows.Next() {
		values := make([]any, len(columns))
		scanTargets := make([]any, len(columns))
		for i := range values {
			scanTargets[i] = &values[i]
		}
		if err := rows.Scan(scanTargets...); err != nil {
			return movies.ResultSet{}, fmt.Errorf("scan row: %w", err)
		}
		row := make(movies.Row, len(columns))
		for i, column := range columns {
			value := values[i]
			if normalize != nil {
				value, err = normalize(column, value)
				if err != nil {
					return movies.ResultSet{}, fmt.Errorf("column %s: %w", column, err)
				}
			}
			row[column] = value
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return movies.ResultSet{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}
