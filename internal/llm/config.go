package llm

import (
	"context"
	"fmt"
	"log/slog"

	"google.golang.org/genai"

	"github.com/cinequery/cinequery/internal/config"
)

func NewFromConfig(ctx context.Context, cfg config.CompletionConfig, logger *slog.Logger) (*Client, error) {
	var backend Backend
	switch cfg.Backend {
	case config.CompletionBackendREST, "":
		rest, err := NewRESTBackend(RESTConfig{
			Endpoint:    cfg.Endpoint,
			APIKey:      cfg.APIKey,
			Temperature: cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		backend = rest
	case config.CompletionBackendGenAI:
		client, err := genai.NewClient(ctx, &genai.ClientConfig{
			APIKey:  cfg.APIKey,
			Backend: genai.BackendGeminiAPI,
		})
		if err != nil {
			return nil, fmt.Errorf("create genai client: %w", err)
		}
		sdk, err := NewGenAIBackend(client, cfg.Model, cfg.Temperature)
		if err != nil {
			return nil, err
		}
		backend = sdk
	default:
		return nil, fmt.Errorf("unsupported completion backend %q", cfg.Backend)
	}
	return NewClient(backend, ClientConfig{Timeout: cfg.Timeout, Logger: logger})
}
