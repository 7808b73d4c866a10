package observability

import (
	"context"
	"io"
	"log/slog"
	"sync"

	"github.com/cinequery/cinequery/internal/config"
)

type ctxKey string

const requestKey ctxKey = "request"

type requestState struct {
	traceID string

	mu    sync.Mutex
	attrs []slog.Attr
}

func NewLogger(cfg config.Config, writer io.Writer) *slog.Logger {
	if writer == nil {
		writer = io.Discard
	}
	opts := &slog.HandlerOptions{Level: cfg.Observability.LogLevel}
	var handler slog.Handler
	if cfg.Observability.LogJSON {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(traceHandler{Handler: handler}).With(
		slog.String("service", cfg.Service.Name),
		slog.String("profile", string(cfg.Profile)),
		slog.String("store_backend", cfg.Store.Backend),
		slog.String("completion_backend", cfg.Completion.Backend),
		slog.String("embedding_backend", cfg.Embedding.Backend),
	)
}

type traceHandler struct {
	slog.Handler
}

func (h traceHandler) Handle(ctx context.Context, record slog.Record) error {
	if traceID := TraceIDFromContext(ctx); traceID != "" {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, record)
}

func (h traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h traceHandler) WithGroup(name string) slog.Handler {
	return traceHandler{Handler: h.Handler.WithGroup(name)}
}

func ContextWithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, requestKey, &requestState{traceID: traceID})
}

func TraceIDFromContext(ctx context.Context) string {
	if state := stateFromContext(ctx); state != nil {
		return state.traceID
	}
	return ""
}

func AnnotateRequest(ctx context.Context, attrs ...slog.Attr) {
	state := stateFromContext(ctx)
	if state == nil {
		return
	}
	state.mu.Lock()
	state.attrs = append(state.attrs, attrs...)
	state.mu.Unlock()
}

func requestAttrs(ctx context.Context) []slog.Attr {
	state := stateFromContext(ctx)
	if state == nil {
		return nil
	}
	state.mu.Lock()
	defer state.mu.Unlock()
	return append([]slog.Attr(nil), state.attrs...)
}

func stateFromContext(ctx context.Context) *requestState {
	state, _ := ctx.Value(requestKey).(*requestState)
	return state
}
