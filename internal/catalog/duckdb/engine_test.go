package duckdb

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"testing"
	"time"

	"github.com/cinequery/cinequery/internal/catalog"
	"github.com/cinequery/cinequery/internal/movies"
	"github.com/cinequery/cinequery/internal/snapshot"
	"github.com/cinequery/cinequery/internal/storage"
)

const manifestKey = "movies_full/manifest.json"

func TestExecuteReadsSnapshotThroughObjectStore(t *testing.T) {
	engine := newTestEngine(t, fixtureRecords(10))

	result, err := engine.Execute(context.Background(), "SELECT movieId, title, year FROM movies_full WHERE year = 2003 ORDER BY movieId;")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Len() != 1 {
		t.Fatalf("rows = %d", result.Len())
	}
	row := result.Rows[0]
	if row[movies.ColumnMovieID] != int64(4) || row[movies.ColumnTitle] != "Movie 4" {
		t.Fatalf("row = %#v", row)
	}
	if result.Columns[0] != movies.ColumnMovieID {
		t.Fatalf("Columns = %v", result.Columns)
	}
}

func TestExecuteBlankSQLSkipsSnapshot(t *testing.T) {
	store := &memoryStore{objects: map[string][]byte{}}
	engine, err := NewEngine(store, manifestKey, time.Second)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	result, err := engine.Execute(context.Background(), "  ")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Len() != 0 || store.gets != 0 {
		t.Fatalf("result = %#v, gets = %d", result, store.gets)
	}
}

func TestExecuteReportsExecutionError(t *testing.T) {
	engine := newTestEngine(t, fixtureRecords(2))

	_, err := engine.Execute(context.Background(), "SELECT budget FROM movies_full")
	var execErr *catalog.ExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("Execute() error = %v, want ExecutionError", err)
	}
	if execErr.SQL != "SELECT budget FROM movies_full" {
		t.Fatalf("SQL = %q", execErr.SQL)
	}
}

func TestSimilarReturnsNearestFirst(t *testing.T) {
	engine := newTestEngine(t, fixtureRecords(10))

	result, err := engine.Similar(context.Background(), constantVector(0), 5)
	if err != nil {
		t.Fatalf("Similar() error = %v", err)
	}
	if result.Len() != 5 {
		t.Fatalf("rows = %d, want 5", result.Len())
	}
	previous := -1.0
	for i, row := range result.Rows {
		distance, ok := row[movies.ColumnDistance].(float64)
		if !ok {
			t.Fatalf("row %d distance = %#v", i, row[movies.ColumnDistance])
		}
		if distance < previous {
			t.Fatalf("distances not ascending at row %d: %v < %v", i, distance, previous)
		}
		previous = distance
		if row[movies.ColumnMovieID] != int64(i+1) {
			t.Fatalf("row %d movieId = %#v", i, row[movies.ColumnMovieID])
		}
	}
	for i, column := range catalog.SimilarityColumns {
		if result.Columns[i] != column {
			t.Fatalf("Columns = %v", result.Columns)
		}
	}
}

func TestSimilarWithoutLimitSkipsUnembeddedRows(t *testing.T) {
	records := fixtureRecords(3)
	records = append(records, movies.Record{MovieID: 99, Title: "No Vector", Genres: "Drama"})
	engine := newTestEngine(t, records)

	result, err := engine.Similar(context.Background(), constantVector(0), 0)
	if err != nil {
		t.Fatalf("Similar() error = %v", err)
	}
	if result.Len() != 3 {
		t.Fatalf("rows = %d, want 3", result.Len())
	}
}

func TestSnapshotDownloadedOncePerManifest(t *testing.T) {
	engine := newTestEngine(t, fixtureRecords(2))
	store := engine.store.(*memoryStore)

	for i := 0; i < 3; i++ {
		if _, err := engine.Execute(context.Background(), "SELECT COUNT(*) AS c FROM movies_full"); err != nil {
			t.Fatalf("Execute() error = %v", err)
		}
	}
	if store.snapshotGets != 1 {
		t.Fatalf("snapshot downloads = %d, want 1", store.snapshotGets)
	}
}

func TestSupersededSnapshotFileIsRemoved(t *testing.T) {
	engine := newTestEngine(t, fixtureRecords(2))
	ctx := context.Background()
	if _, err := engine.Execute(ctx, "SELECT COUNT(*) AS c FROM movies_full"); err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	oldPath := engine.current.path

	publishSnapshot(t, engine.store.(*memoryStore), "2", fixtureRecords(5))
	result, err := engine.Execute(ctx, "SELECT COUNT(*) AS c FROM movies_full")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result.Rows[0]["c"] != int64(5) {
		t.Fatalf("count = %#v, want 5", result.Rows[0]["c"])
	}
	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Fatalf("old snapshot still on disk: %v", err)
	}
	if files := workDirFiles(t, engine); len(files) != 1 || files[0] != "movies_full_2.parquet" {
		t.Fatalf("work dir = %v", files)
	}
}

func TestSnapshotInUseSurvivesManifestMove(t *testing.T) {
	engine := newTestEngine(t, fixtureRecords(2))
	ctx := context.Background()
	held, err := engine.acquire(ctx)
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}

	publishSnapshot(t, engine.store.(*memoryStore), "2", fixtureRecords(3))
	next, err := engine.acquire(ctx)
	if err != nil {
		t.Fatalf("acquire() error = %v", err)
	}
	engine.release(next)
	if _, err := os.Stat(held.path); err != nil {
		t.Fatalf("held snapshot removed early: %v", err)
	}

	engine.release(held)
	if _, err := os.Stat(held.path); !os.IsNotExist(err) {
		t.Fatalf("released snapshot still on disk: %v", err)
	}
	if _, err := os.Stat(next.path); err != nil {
		t.Fatalf("current snapshot missing: %v", err)
	}
}

func TestTruncatedSnapshotIsNotInstalled(t *testing.T) {
	engine := newTestEngine(t, fixtureRecords(2))
	store := engine.store.(*memoryStore)
	body := store.objects["movies_full/snapshot-1.parquet"]
	err := snapshot.WriteManifest(context.Background(), store, manifestKey, snapshot.Manifest{
		SnapshotID: "1",
		Table:      movies.TableName,
		ObjectKey:  "movies_full/snapshot-1.parquet",
		SizeBytes:  int64(len(body)) + 10,
	})
	if err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}

	if _, err := engine.Execute(context.Background(), "SELECT COUNT(*) AS c FROM movies_full"); err == nil {
		t.Fatal("Execute() error = nil, want size mismatch")
	}
	if files := workDirFiles(t, engine); len(files) != 0 {
		t.Fatalf("work dir = %v, want empty", files)
	}
	if engine.current != nil {
		t.Fatalf("current = %#v, want nil", engine.current)
	}
}

func TestPingRequiresManifest(t *testing.T) {
	engine, err := NewEngine(&memoryStore{objects: map[string][]byte{}}, manifestKey, time.Second)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	if err := engine.Ping(context.Background()); !errors.Is(err, storage.ErrObjectNotFound) {
		t.Fatalf("Ping() error = %v, want ErrObjectNotFound", err)
	}
}

func TestVectorLiteral(t *testing.T) {
	if got := vectorLiteral([]float32{1, 0.5, -2}); got != "[1,0.5,-2]" {
		t.Fatalf("vectorLiteral() = %q", got)
	}
}

func newTestEngine(t *testing.T, records []movies.Record) *Engine {
	t.Helper()
	body, err := snapshot.EncodeParquet(records)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	store := &memoryStore{objects: map[string][]byte{"movies_full/snapshot-1.parquet": body}}
	err = snapshot.WriteManifest(context.Background(), store, manifestKey, snapshot.Manifest{
		SnapshotID: "1",
		Table:      movies.TableName,
		ObjectKey:  "movies_full/snapshot-1.parquet",
		Rows:       len(records),
	})
	if err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}

	engine, err := NewEngine(store, manifestKey, 10*time.Second)
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })
	return engine
}

func publishSnapshot(t *testing.T, store *memoryStore, id string, records []movies.Record) {
	t.Helper()
	body, err := snapshot.EncodeParquet(records)
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	key := "movies_full/snapshot-" + id + ".parquet"
	store.objects[key] = body
	err = snapshot.WriteManifest(context.Background(), store, manifestKey, snapshot.Manifest{
		SnapshotID: id,
		Table:      movies.TableName,
		ObjectKey:  key,
		Rows:       len(records),
		SizeBytes:  int64(len(body)),
	})
	if err != nil {
		t.Fatalf("WriteManifest() error = %v", err)
	}
}

func workDirFiles(t *testing.T, engine *Engine) []string {
	t.Helper()
	entries, err := os.ReadDir(engine.workDir)
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	return names
}

func fixtureRecords(n int) []movies.Record {
	records := make([]movies.Record, 0, n)
	for i := 1; i <= n; i++ {
		year := int64(1999 + i)
		overview := "Overview"
		records = append(records, movies.Record{
			MovieID:   int64(i),
			Title:     "Movie " + string(rune('0'+i%10)),
			Genres:    "Drama",
			Year:      &year,
			Tags:      "",
			Overview:  &overview,
			Embedding: constantVector(float32(i) * 0.1),
		})
	}
	return records
}

func constantVector(value float32) []float32 {
	vector := make([]float32, movies.EmbeddingDimensions)
	for i := range vector {
		vector[i] = value
	}
	return vector
}

type memoryStore struct {
	objects      map[string][]byte
	gets         int
	snapshotGets int
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, _ storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	m.gets++
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	if key != manifestKey {
		m.snapshotGets++
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}
