package embedding

import (
	"context"
	"fmt"

	"google.golang.org/genai"

	"github.com/cinequery/cinequery/internal/config"
)

func NewFromConfig(ctx context.Context, cfg config.EmbeddingConfig) (*Encoder, error) {
	var backend Backend
	switch cfg.Backend {
	case config.EmbeddingBackendOllama, "":
		backend = NewOllamaBackend(cfg.BaseURL, cfg.Model, nil)
	case config.EmbeddingBackendGenAI:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		sdk, err := NewGenAIBackend(client, cfg.Model, cfg.Dimensions)
		if err != nil {
			return nil, err
		}
		backend = sdk
	default:
		return nil, fmt.Errorf("unsupported embedding backend %q", cfg.Backend)
	}
	return NewEncoder(backend, cfg.Dimensions, cfg.Timeout)
}
