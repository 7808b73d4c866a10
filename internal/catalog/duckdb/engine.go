package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	_ "github.com/marcboeker/go-duckdb/v2"

	"github.com/cinequery/cinequery/internal/catalog"
	"github.com/cinequery/cinequery/internal/movies"
	"github.com/cinequery/cinequery/internal/snapshot"
	"github.com/cinequery/cinequery/internal/storage"
)

type Engine struct {
	store        storage.ObjectStore
	manifestKey  string
	queryTimeout time.Duration
	workDir      string

	mu      sync.Mutex
	current *localSnapshot
}

// A superseded snapshot file is removed once its last reader releases it.
type localSnapshot struct {
	id         string
	path       string
	refs       int
	superseded bool
}

var _ catalog.Store = (*Engine)(nil)

func NewEngine(store storage.ObjectStore, manifestKey string, queryTimeout time.Duration) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(manifestKey) == "" {
		return nil, fmt.Errorf("manifest key is required")
	}
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	workDir, err := os.MkdirTemp("", "cinequery-snapshot-")
	if err != nil {
		return nil, fmt.Errorf("create snapshot temp dir: %w", err)
	}
	return &Engine{store: store, manifestKey: manifestKey, queryTimeout: queryTimeout, workDir: workDir}, nil
}

func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return os.RemoveAll(e.workDir)
}

func (e *Engine) Ping(ctx context.Context) error {
	manifest, err := snapshot.ReadManifest(ctx, e.store, e.manifestKey)
	if err != nil {
		return err
	}
	if _, err := e.store.Stat(ctx, manifest.ObjectKey); err != nil {
		return fmt.Errorf("stat snapshot %q: %w", manifest.ObjectKey, err)
	}
	return nil
}

func (e *Engine) Execute(ctx context.Context, sqlText string) (movies.ResultSet, error) {
	if catalog.Blank(sqlText) {
		return movies.EmptyResultSet(), nil
	}
	result, err := e.query(ctx, stripTrailingSemicolons(sqlText))
	if err != nil {
		return movies.ResultSet{}, &catalog.ExecutionError{SQL: sqlText, Err: err}
	}
	return result, nil
}

func (e *Engine) Similar(ctx context.Context, vector []float32, k int) (movies.ResultSet, error) {
	if len(vector) != movies.EmbeddingDimensions {
		return movies.ResultSet{}, fmt.Errorf("query vector has %d dimensions, want %d", len(vector), movies.EmbeddingDimensions)
	}
	arrayType := fmt.Sprintf("FLOAT[%d]", movies.EmbeddingDimensions)
	query := fmt.Sprintf(`
SELECT movieId, title, tagline, overview, genres, tags,
	array_distance(CAST(embedding AS %[1]s), CAST(? AS %[1]s)) AS distance
FROM movies_full
WHERE embedding IS NOT NULL AND len(embedding) = %[2]d
ORDER BY distance ASC`, arrayType, movies.EmbeddingDimensions)
	if k > 0 {
		query += fmt.Sprintf("\nLIMIT %d", k)
	}
	result, err := e.query(ctx, query, vectorLiteral(vector))
	if err != nil {
		return movies.ResultSet{}, fmt.Errorf("similarity search: %w", err)
	}
	return result, nil
}

func (e *Engine) query(ctx context.Context, query string, args ...any) (movies.ResultSet, error) {
	ctx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	local, err := e.acquire(ctx)
	if err != nil {
		return movies.ResultSet{}, err
	}
	defer e.release(local)

	db, err := sql.Open("duckdb", "")
	if err != nil {
		return movies.ResultSet{}, fmt.Errorf("open duckdb: %w", err)
	}
	defer func() { _ = db.Close() }()

	viewSQL := fmt.Sprintf(`CREATE OR REPLACE VIEW %s AS SELECT * FROM read_parquet(%s)`, quoteIdent(movies.TableName), quoteString(local.path))
	if _, err := db.ExecContext(ctx, viewSQL); err != nil {
		return movies.ResultSet{}, fmt.Errorf("create view for %s: %w", movies.TableName, err)
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return movies.ResultSet{}, err
	}
	defer func() { _ = rows.Close() }()

	return catalog.ScanRows(rows, normalizeValue)
}

func (e *Engine) acquire(ctx context.Context) (*localSnapshot, error) {
	manifest, err := snapshot.ReadManifest(ctx, e.store, e.manifestKey)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil || e.current.id != manifest.SnapshotID {
		path, err := e.download(ctx, manifest)
		if err != nil {
			return nil, err
		}
		previous := e.current
		e.current = &localSnapshot{id: manifest.SnapshotID, path: path}
		if previous != nil {
			previous.superseded = true
			removeIfUnused(previous)
		}
	}
	e.current.refs++
	return e.current, nil
}

func (e *Engine) release(local *localSnapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()
	local.refs--
	removeIfUnused(local)
}

func removeIfUnused(local *localSnapshot) {
	if local.superseded && local.refs == 0 {
		_ = os.Remove(local.path)
	}
}

func (e *Engine) download(ctx context.Context, manifest snapshot.Manifest) (string, error) {
	reader, err := e.store.Get(ctx, manifest.ObjectKey)
	if err != nil {
		return "", fmt.Errorf("get snapshot %q: %w", manifest.ObjectKey, err)
	}
	defer func() { _ = reader.Close() }()

	tmp, err := os.CreateTemp(e.workDir, "download-*.part")
	if err != nil {
		return "", fmt.Errorf("create snapshot file: %w", err)
	}
	written, err := io.Copy(tmp, reader)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil && manifest.SizeBytes > 0 && written != manifest.SizeBytes {
		err = fmt.Errorf("snapshot %q is %d bytes, manifest says %d", manifest.ObjectKey, written, manifest.SizeBytes)
	}
	if err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("download snapshot %q: %w", manifest.ObjectKey, err)
	}

	path := filepath.Join(e.workDir, fmt.Sprintf("%s_%s.parquet", movies.TableName, sanitizeFileComponent(manifest.SnapshotID)))
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("install snapshot %q: %w", path, err)
	}
	return path, nil
}

func normalizeValue(column string, value any) (any, error) {
	switch typed := value.(type) {
	case []any:
		if column != movies.ColumnEmbedding {
			return typed, nil
		}
		vector := make([]float32, len(typed))
		for i, item := range typed {
			switch number := item.(type) {
			case float32:
				vector[i] = number
			case float64:
				vector[i] = float32(number)
			default:
				return nil, fmt.Errorf("unexpected vector element %T", item)
			}
		}
		return vector, nil
	case float32:
		return float64(typed), nil
	}
	return movies.NormalizeValue(value), nil
}

func vectorLiteral(vector []float32) string {
	parts := make([]string, len(vector))
	for i, value := range vector {
		parts[i] = strconv.FormatFloat(float64(value), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func quoteIdent(value string) string {
	return `"` + strings.ReplaceAll(value, `"`, `""`) + `"`
}

func quoteString(value string) string {
	return `'` + strings.ReplaceAll(value, `'`, `''`) + `'`
}

func sanitizeFileComponent(value string) string {
	value = strings.ReplaceAll(value, "/", "_")
	value = strings.ReplaceAll(value, "..", "_")
	if value == "" {
		return "snapshot"
	}
	return value
}

func stripTrailingSemicolons(sqlText string) string {
	trimmed := strings.TrimSpace(sqlText)
	for strings.HasSuffix(trimmed, ";") {
		trimmed = strings.TrimSpace(strings.TrimSuffix(trimmed, ";"))
	}
	return trimmed
}
