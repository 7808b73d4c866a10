// Package embedding turns free text into fixed-width semantic vectors.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

type Backend interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type Encoder struct {
	backend    Backend
	dimensions int
	timeout    time.Duration
}

func NewEncoder(backend Backend, dimensions int, timeout time.Duration) (*Encoder, error) {
	if backend == nil {
		return nil, fmt.Errorf("embedding backend is required")
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("dimensions must be positive")
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Encoder{backend: backend, dimensions: dimensions, timeout: timeout}, nil
}

func (e *Encoder) Dimensions() int {
	return e.dimensions
}

func (e *Encoder) Encode(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("text is required")
	}
	callCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	vector, err := e.backend.Embed(callCtx, text)
	if err != nil {
		return nil, fmt.Errorf("embed text: %w", err)
	}
	if len(vector) != e.dimensions {
		return nil, fmt.Errorf("%w: got %d, want %d", ErrDimensionMismatch, len(vector), e.dimensions)
	}
	return vector, nil
}
