package answer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cinequery/cinequery/internal/llm"
)

type fakeCompleter struct {
	last   llm.Request
	result llm.Completion
}

func (f *fakeCompleter) Complete(_ context.Context, req llm.Request) llm.Completion {
	f.last = req
	return f.result
}

func TestAnswerReturnsModelText(t *testing.T) {
	completer := &fakeCompleter{result: llm.Completion{Object: map[string]any{
		"action":      "answer",
		"answer_text": " I can't check live weather. ",
	}}}
	got := NewSynthesizer(completer).Answer(context.Background(), "What's the weather today?")
	if got.AnswerText != "I can't check live weather." {
		t.Fatalf("AnswerText = %q", got.AnswerText)
	}
	if !completer.last.Structured || completer.last.Purpose != "answer" {
		t.Fatalf("request = %+v", completer.last)
	}
	if !strings.Contains(completer.last.System, "answer_text") {
		t.Fatal("system instruction does not request answer_text")
	}
}

func TestAnswerFallsBackToDefault(t *testing.T) {
	cases := []llm.Completion{
		{Object: map[string]any{}, Err: errors.New("timeout")},
		{Object: map[string]any{"answer_text": ""}},
		{Object: map[string]any{"answer_text": 12}},
		{Object: map[string]any{"action": "answer"}},
	}
	for _, result := range cases {
		got := NewSynthesizer(&fakeCompleter{result: result}).Answer(context.Background(), "q")
		if got.AnswerText != DefaultText {
			t.Fatalf("Answer with %#v = %q, want default", result.Object, got.AnswerText)
		}
	}
}
