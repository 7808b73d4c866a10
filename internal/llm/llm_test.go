package llm

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeBackend struct {
	requests []Request
	text     string
	err      error
	wait     time.Duration
}

func (f *fakeBackend) Generate(ctx context.Context, req Request) (string, error) {
	f.requests = append(f.requests, req)
	if f.wait > 0 {
		select {
		case <-time.After(f.wait):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestClient(t *testing.T, backend Backend, timeout time.Duration) *Client {
	t.Helper()
	client, err := NewClient(backend, ClientConfig{Timeout: timeout})
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	return client
}

func TestCompleteStructuredParsesObject(t *testing.T) {
	backend := &fakeBackend{text: `{"is_movie_question": true, "reason": "mentions a film"}`}
	client := newTestClient(t, backend, time.Second)

	got := client.Complete(context.Background(), Request{Prompt: "q", System: "s", Structured: true})
	if got.Failed() {
		t.Fatalf("Complete() failed: %v", got.Err)
	}
	if got.Object["is_movie_question"] != true {
		t.Fatalf("Object = %#v", got.Object)
	}
	if !backend.requests[0].Structured || backend.requests[0].System != "s" {
		t.Fatalf("request = %+v", backend.requests[0])
	}
}

func TestCompleteStructuredStripsFence(t *testing.T) {
	client := newTestClient(t, &fakeBackend{text: "```json\n{\"a\": 1}\n```"}, time.Second)
	got := client.Object(context.Background(), "classify", "q", "")
	if got["a"] != float64(1) {
		t.Fatalf("Object() = %#v", got)
	}
}

func TestCompleteStructuredFailuresReturnEmptyObject(t *testing.T) {
	cases := map[string]*fakeBackend{
		"transport": {err: errors.New("connection refused")},
		"garbage":   {text: "not json"},
		"array":     {text: `[1, 2]`},
		"null":      {text: `null`},
		"empty":     {text: "  "},
	}
	for name, backend := range cases {
		t.Run(name, func(t *testing.T) {
			client := newTestClient(t, backend, time.Second)
			got := client.Complete(context.Background(), Request{Prompt: "q", Structured: true})
			if !got.Failed() {
				t.Fatal("expected failure")
			}
			if got.Object == nil || len(got.Object) != 0 {
				t.Fatalf("Object = %#v, want empty map", got.Object)
			}
		})
	}
}

func TestCompleteTextTrimsAndFailsToSentinel(t *testing.T) {
	client := newTestClient(t, &fakeBackend{text: "  hello there \n"}, time.Second)
	if got := client.Text(context.Background(), "answer", "q", ""); got != "hello there" {
		t.Fatalf("Text() = %q", got)
	}

	failing := newTestClient(t, &fakeBackend{err: errors.New("503")}, time.Second)
	if got := failing.Text(context.Background(), "answer", "q", ""); got != APIError {
		t.Fatalf("Text() = %q, want %q", got, APIError)
	}
}

func TestCompleteTimesOut(t *testing.T) {
	client := newTestClient(t, &fakeBackend{text: "{}", wait: time.Second}, 20*time.Millisecond)
	got := client.Complete(context.Background(), Request{Prompt: "q", Structured: true})
	if !errors.Is(got.Err, context.DeadlineExceeded) {
		t.Fatalf("Err = %v, want deadline exceeded", got.Err)
	}
	if len(got.Object) != 0 {
		t.Fatalf("Object = %#v", got.Object)
	}
}

func TestNewClientRequiresBackend(t *testing.T) {
	if _, err := NewClient(nil, ClientConfig{}); err == nil {
		t.Fatal("expected error")
	}
}
