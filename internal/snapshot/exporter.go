package snapshot

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/parquet-go/parquet-go"

	"github.com/cinequery/cinequery/internal/catalog"
	"github.com/cinequery/cinequery/internal/movies"
	"github.com/cinequery/cinequery/internal/storage"
)

const exportQuery = `SELECT movieId, tmdbId, title, genres, year, tags, tagline, overview, embedding FROM movies_full ORDER BY movieId`

type Exporter struct {
	source      catalog.Executor
	store       storage.ObjectStore
	manifestKey string
	logger      *slog.Logger
	now         func() time.Time
	newID       func() string
}

func NewExporter(source catalog.Executor, store storage.ObjectStore, manifestKey string, logger *slog.Logger) (*Exporter, error) {
	if source == nil {
		return nil, fmt.Errorf("snapshot source is required")
	}
	if store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	if strings.TrimSpace(manifestKey) == "" {
		return nil, fmt.Errorf("manifest key is required")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Exporter{
		source:      source,
		store:       store,
		manifestKey: manifestKey,
		logger:      logger,
		now:         time.Now,
		newID:       uuid.NewString,
	}, nil
}

func (e *Exporter) Export(ctx context.Context) (Manifest, error) {
	result, err := e.source.Execute(ctx, exportQuery)
	if err != nil {
		return Manifest{}, fmt.Errorf("read %s: %w", movies.TableName, err)
	}
	records := make([]movies.Record, 0, result.Len())
	for _, row := range result.Rows {
		record, err := movies.RecordFromRow(row)
		if err != nil {
			return Manifest{}, err
		}
		records = append(records, record)
	}

	body, err := EncodeParquet(records)
	if err != nil {
		return Manifest{}, err
	}

	exportedAt := e.now().UTC()
	snapshotID := e.newID()
	objectKey, err := storage.BuildSnapshotPath(movies.TableName, exportedAt, snapshotID)
	if err != nil {
		return Manifest{}, err
	}
	previous, err := ReadManifest(ctx, e.store, e.manifestKey)
	if err != nil && !errors.Is(err, storage.ErrObjectNotFound) {
		return Manifest{}, err
	}

	info, err := e.store.Put(ctx, objectKey, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: storage.ContentTypeParquet})
	if err != nil {
		return Manifest{}, fmt.Errorf("upload snapshot: %w", err)
	}

	manifest := Manifest{
		SnapshotID: snapshotID,
		Table:      movies.TableName,
		ObjectKey:  objectKey,
		Rows:       len(records),
		SizeBytes:  int64(len(body)),
		ExportedAt: exportedAt,
	}
	if info.Size > 0 {
		manifest.SizeBytes = info.Size
	}
	if err := WriteManifest(ctx, e.store, e.manifestKey, manifest); err != nil {
		if delErr := e.store.Delete(ctx, objectKey); delErr != nil {
			e.logger.Warn("delete unreferenced snapshot failed", "object_key", objectKey, "error", delErr)
		}
		return Manifest{}, err
	}

	if previous.ObjectKey != "" && previous.ObjectKey != objectKey {
		if err := e.store.Delete(ctx, previous.ObjectKey); err != nil {
			e.logger.Warn("delete previous snapshot failed", "object_key", previous.ObjectKey, "error", err)
		}
	}
	e.logger.Info("snapshot exported", "snapshot_id", snapshotID, "object_key", objectKey, "rows", len(records))
	return manifest, nil
}

func EncodeParquet(records []movies.Record) ([]byte, error) {
	buf := bytes.NewBuffer(nil)
	writer := parquet.NewGenericWriter[movies.Record](buf)
	if _, err := writer.Write(records); err != nil {
		return nil, fmt.Errorf("write parquet rows: %w", err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}
