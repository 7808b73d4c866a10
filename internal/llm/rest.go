package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

type RESTConfig struct {
	Endpoint    string
	APIKey      string
	Temperature float64
	HTTPClient  *http.Client
}

type RESTBackend struct {
	endpoint    string
	apiKey      string
	temperature float64
	client      *http.Client
}

func NewRESTBackend(cfg RESTConfig) (*RESTBackend, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("completion endpoint is required")
	}
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("parse completion endpoint: %w", err)
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &RESTBackend{
		endpoint:    endpoint,
		apiKey:      strings.TrimSpace(cfg.APIKey),
		temperature: cfg.Temperature,
		client:      client,
	}, nil
}

type restPart struct {
	Text string `json:"text"`
}

type restContent struct {
	Role  string     `json:"role,omitempty"`
	Parts []restPart `json:"parts"`
}

type restGenerationConfig struct {
	ResponseMimeType string  `json:"responseMimeType"`
	Temperature      float64 `json:"temperature"`
}

type restRequest struct {
	Contents          []restContent        `json:"contents"`
	SystemInstruction *restContent         `json:"systemInstruction,omitempty"`
	GenerationConfig  restGenerationConfig `json:"generationConfig"`
}

type restResponse struct {
	Candidates []struct {
		Content *struct {
			Parts []struct {
				Text *string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (b *RESTBackend) Generate(ctx context.Context, req Request) (string, error) {
	body, err := json.Marshal(buildRESTPayload(req, b.temperature))
	if err != nil {
		return "", fmt.Errorf("marshal completion payload: %w", err)
	}

	endpoint, err := b.requestURL()
	if err != nil {
		return "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build completion request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := b.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("request completion: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	rawRespBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read completion response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("completion failed status=%d body=%s", resp.StatusCode, string(rawRespBody))
	}

	var parsed restResponse
	if err := json.Unmarshal(rawRespBody, &parsed); err != nil {
		return "", fmt.Errorf("decode completion response: %w", err)
	}
	if len(parsed.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", ErrMalformedResponse)
	}
	content := parsed.Candidates[0].Content
	if content == nil || len(content.Parts) == 0 {
		return "", fmt.Errorf("%w: candidate has no parts", ErrMalformedResponse)
	}
	if content.Parts[0].Text == nil {
		return "", fmt.Errorf("%w: first part has no text", ErrMalformedResponse)
	}
	return *content.Parts[0].Text, nil
}

func (b *RESTBackend) requestURL() (string, error) {
	parsed, err := url.Parse(b.endpoint)
	if err != nil {
		return "", fmt.Errorf("parse completion endpoint: %w", err)
	}
	query := parsed.Query()
	query.Set("key", b.apiKey)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}

func buildRESTPayload(req Request, temperature float64) restRequest {
	payload := restRequest{
		Contents: []restContent{{
			Role:  "user",
			Parts: []restPart{{Text: req.Prompt}},
		}},
		GenerationConfig: restGenerationConfig{
			ResponseMimeType: mimeType(req.Structured),
			Temperature:      temperature,
		},
	}
	if strings.TrimSpace(req.System) != "" {
		payload.SystemInstruction = &restContent{Parts: []restPart{{Text: req.System}}}
	}
	return payload
}
