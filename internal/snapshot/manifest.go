package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/cinequery/cinequery/internal/storage"
)

type Manifest struct {
	SnapshotID string    `json:"snapshot_id"`
	Table      string    `json:"table"`
	ObjectKey  string    `json:"object_key"`
	Rows       int       `json:"rows"`
	SizeBytes  int64     `json:"size_bytes"`
	ExportedAt time.Time `json:"exported_at"`
}

// ReadManifest wraps storage.ErrObjectNotFound when nothing has been exported.
func ReadManifest(ctx context.Context, store storage.ObjectStore, key string) (Manifest, error) {
	reader, err := store.Get(ctx, key)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", key, err)
	}
	defer func() { _ = reader.Close() }()

	body, err := io.ReadAll(reader)
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest %q: %w", key, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return Manifest{}, fmt.Errorf("decode manifest %q: %w", key, err)
	}
	if strings.TrimSpace(manifest.ObjectKey) == "" {
		return Manifest{}, fmt.Errorf("manifest %q has no object key", key)
	}
	return manifest, nil
}

func WriteManifest(ctx context.Context, store storage.ObjectStore, key string, manifest Manifest) error {
	body, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if _, err := store.Put(ctx, key, bytes.NewReader(body), int64(len(body)), storage.PutOptions{ContentType: storage.ContentTypeJSON}); err != nil {
		return fmt.Errorf("write manifest %q: %w", key, err)
	}
	return nil
}
