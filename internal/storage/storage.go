package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

var (
	ErrObjectNotFound      = errors.New("object not found")
	ErrUnsupportedObject   = errors.New("unsupported snapshot object")
	ErrContentTypeMismatch = errors.New("content type mismatch")
)

const (
	ContentTypeParquet = "application/vnd.apache.parquet"
	ContentTypeJSON    = "application/json"
)

type ObjectInfo struct {
	Key          string
	Size         int64
	ETag         string
	ContentType  string
	LastModified time.Time
}

type PutOptions struct {
	ContentType string
}

type ObjectStore interface {
	Put(ctx context.Context, key string, body io.Reader, size int64, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Stat(ctx context.Context, key string) (ObjectInfo, error)
	Delete(ctx context.Context, key string) error
}
