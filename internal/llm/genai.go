package llm

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

type GenAIBackend struct {
	client      *genai.Client
	model       string
	temperature float32
}

func NewGenAIBackend(client *genai.Client, model string, temperature float64) (*GenAIBackend, error) {
	if client == nil {
		return nil, fmt.Errorf("genai client is required")
	}
	model = strings.TrimSpace(model)
	if model == "" {
		return nil, fmt.Errorf("model is required")
	}
	return &GenAIBackend{client: client, model: model, temperature: float32(temperature)}, nil
}

func (b *GenAIBackend) Generate(ctx context.Context, req Request) (string, error) {
	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(b.temperature),
		ResponseMIMEType: mimeType(req.Structured),
	}
	if strings.TrimSpace(req.System) != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.System, genai.RoleUser)
	}

	resp, err := b.client.Models.GenerateContent(ctx, b.model, genai.Text(req.Prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("generate content: %w", err)
	}
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	content := resp.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 || content.Parts[0] == nil {
		return "", fmt.Errorf("%w: candidate has no parts", ErrMalformedResponse)
	}
	return content.Parts[0].Text, nil
}
