package embedding

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GenAIBackend struct {
	client     *genai.Client
	model      string
	dimensions int32
}

func NewGenAIBackend(client *genai.Client, model string, dimensions int) (*GenAIBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &GenAIBackend{client: client, model: model, dimensions: int32(dimensions)}, nil
}

func (b *GenAIBackend) Embed(ctx context.Context, text string) ([]float32, error) {
	cfg := &genai.EmbedContentConfig{OutputDimensionality: genai.Ptr(b.dimensions)}
	res, err := b.client.Models.EmbedContent(ctx, b.model, genai.Text(text), cfg)
	if err != nil {
		return nil, fmt.Errorf("embed content: %w", err)
	}
	if res == nil || len(res.Embeddings) == 0 || res.Embeddings[0] == nil {
		return nil, fmt.Errorf("embed content returned no embeddings")
	}
	return res.Embeddings[0].Values, nil
}
