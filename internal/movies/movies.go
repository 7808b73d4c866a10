package movies

import (
	"fmt"
	"strings"
)

const (
	TableName = "movies_full"

	EmbeddingDimensions = 384
)

const (
	ColumnMovieID   = "movieId"
	ColumnTMDBID    = "tmdbId"
	ColumnTitle     = "title"
	ColumnGenres    = "genres"
	ColumnYear      = "year"
	ColumnTags      = "tags"
	ColumnTagline   = "tagline"
	ColumnOverview  = "overview"
	ColumnEmbedding = "embedding"
	ColumnDistance  = "distance"
)

// Columns excludes embedding, which only the similarity path reads.
var Columns = []string{
	ColumnMovieID,
	ColumnTMDBID,
	ColumnTitle,
	ColumnGenres,
	ColumnYear,
	ColumnTags,
	ColumnTagline,
	ColumnOverview,
}

var canonicalColumns = func() map[string]string {
	out := make(map[string]string, len(Columns)+2)
	for _, column := range append(append([]string{}, Columns...), ColumnEmbedding, ColumnDistance) {
		out[strings.ToLower(column)] = column
	}
	return out
}()

type Record struct {
	MovieID   int64     `json:"movieId" parquet:"movieId"`
	TMDBID    *int64    `json:"tmdbId,omitempty" parquet:"tmdbId,optional"`
	Title     string    `json:"title" parquet:"title"`
	Genres    string    `json:"genres" parquet:"genres"`
	Year      *int64    `json:"year,omitempty" parquet:"year,optional"`
	Tags      string    `json:"tags" parquet:"tags"`
	Tagline   *string   `json:"tagline,omitempty" parquet:"tagline,optional"`
	Overview  *string   `json:"overview,omitempty" parquet:"overview,optional"`
	Embedding []float32 `json:"embedding,omitempty" parquet:"embedding,list"`
}

type Row map[string]any

type ResultSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

func EmptyResultSet() ResultSet {
	return ResultSet{Columns: []string{}, Rows: []Row{}}
}

func (r ResultSet) Len() int {
	return len(r.Rows)
}

// Postgres folds unquoted identifiers to lower case.
func CanonicalColumn(name string) string {
	if canonical, ok := canonicalColumns[strings.ToLower(name)]; ok {
		return canonical
	}
	return name
}

func NormalizeValue(value any) any {
	switch typed := value.(type) {
	case []byte:
		return string(typed)
	case int32:
		return int64(typed)
	case int:
		return int64(typed)
	default:
		return typed
	}
}

func (r Record) Row() Row {
	row := Row{
		ColumnMovieID:  r.MovieID,
		ColumnTMDBID:   nil,
		ColumnTitle:    r.Title,
		ColumnGenres:   r.Genres,
		ColumnYear:     nil,
		ColumnTags:     r.Tags,
		ColumnTagline:  nil,
		ColumnOverview: nil,
	}
	if r.TMDBID != nil {
		row[ColumnTMDBID] = *r.TMDBID
	}
	if r.Year != nil {
		row[ColumnYear] = *r.Year
	}
	if r.Tagline != nil {
		row[ColumnTagline] = *r.Tagline
	}
	if r.Overview != nil {
		row[ColumnOverview] = *r.Overview
	}
	if len(r.Embedding) > 0 {
		row[ColumnEmbedding] = r.Embedding
	}
	return row
}

func RecordFromRow(row Row) (Record, error) {
	id, ok := asInt64(row[ColumnMovieID])
	if !ok {
		return Record{}, fmt.Errorf("row has no integer %s: %#v", ColumnMovieID, row[ColumnMovieID])
	}
	record := Record{
		MovieID:  id,
		Title:    asString(row[ColumnTitle]),
		Genres:   asString(row[ColumnGenres]),
		Tags:     asString(row[ColumnTags]),
		Tagline:  asOptionalString(row[ColumnTagline]),
		Overview: asOptionalString(row[ColumnOverview]),
	}
	if value, ok := asInt64(row[ColumnTMDBID]); ok {
		record.TMDBID = &value
	}
	if value, ok := asInt64(row[ColumnYear]); ok {
		record.Year = &value
	}
	if embedding, ok := row[ColumnEmbedding].([]float32); ok {
		if len(embedding) != EmbeddingDimensions {
			return Record{}, fmt.Errorf("movie %d embedding has %d dimensions, want %d", id, len(embedding), EmbeddingDimensions)
		}
		record.Embedding = embedding
	}
	return record, nil
}

func asInt64(value any) (int64, bool) {
	switch typed := value.(type) {
	case int64:
		return typed, true
	case int32:
		return int64(typed), true
	case int:
		return int64(typed), true
	default:
		return 0, false
	}
}

func asString(value any) string {
	switch typed := value.(type) {
	case string:
		return typed
	case []byte:
		return string(typed)
	default:
		return ""
	}
}

func asOptionalString(value any) *string {
	switch typed := value.(type) {
	case string:
		return &typed
	case []byte:
		text := string(typed)
		return &text
	default:
		return nil
	}
}
