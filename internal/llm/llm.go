package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cinequery/cinequery/internal/observability"
)

const APIError = "API_ERROR"

const (
	mimeJSON = "application/json"
	mimeText = "text/plain"
)

var ErrMalformedResponse = errors.New("malformed completion response")

type Request struct {
	Prompt     string
	System     string
	Structured bool
	Purpose    string
}

type Completion struct {
	Text   string
	Object map[string]any
	Err    error
}

func (c Completion) Failed() bool {
	return c.Err != nil
}

type Backend interface {
	Generate(ctx context.Context, req Request) (string, error)
}

type Completer interface {
	Complete(ctx context.Context, req Request) Completion
}

type ClientConfig struct {
	Timeout time.Duration
	Logger  *slog.Logger
}

type Client struct {
	backend Backend
	timeout time.Duration
	logger  *slog.Logger
}

func NewClient(backend Backend, cfg ClientConfig) (*Client, error) {
	if backend == nil {
		return nil, fmt.Errorf("completion backend is required")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{backend: backend, timeout: timeout, logger: logger}, nil
}

// Complete never fails; errors collapse into APIError or an empty Object.
func (c *Client) Complete(ctx context.Context, req Request) Completion {
	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	raw, err := c.backend.Generate(callCtx, req)
	observability.ObserveStage("completion_"+purposeLabel(req.Purpose), time.Since(start))
	if err != nil {
		return c.fail(ctx, req, err)
	}

	if !req.Structured {
		return Completion{Text: strings.TrimSpace(raw)}
	}
	object, err := decodeObject(raw)
	if err != nil {
		return c.fail(ctx, req, err)
	}
	return Completion{Object: object}
}

func (c *Client) Object(ctx context.Context, purpose, prompt, system string) map[string]any {
	return c.Complete(ctx, Request{Prompt: prompt, System: system, Structured: true, Purpose: purpose}).Object
}

func (c *Client) Text(ctx context.Context, purpose, prompt, system string) string {
	return c.Complete(ctx, Request{Prompt: prompt, System: system, Purpose: purpose}).Text
}

func (c *Client) fail(ctx context.Context, req Request, err error) Completion {
	observability.IncrementCompletionFailure(req.Purpose)
	c.logger.WarnContext(ctx, "completion failed",
		slog.String("purpose", purposeLabel(req.Purpose)),
		slog.Bool("structured", req.Structured),
		slog.Any("error", err),
	)
	if req.Structured {
		return Completion{Object: map[string]any{}, Err: err}
	}
	return Completion{Text: APIError, Err: err}
}

func decodeObject(raw string) (map[string]any, error) {
	body := stripJSONFence(raw)
	if body == "" {
		return nil, fmt.Errorf("%w: empty structured body", ErrMalformedResponse)
	}
	var object map[string]any
	if err := json.Unmarshal([]byte(body), &object); err != nil {
		return nil, fmt.Errorf("decode structured completion: %w", err)
	}
	if object == nil {
		return nil, fmt.Errorf("%w: structured body is not an object", ErrMalformedResponse)
	}
	return object, nil
}

func stripJSONFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

func purposeLabel(purpose string) string {
	if purpose == "" {
		return "unknown"
	}
	return purpose
}

func mimeType(structured bool) string {
	if structured {
		return mimeJSON
	}
	return mimeText
}
