package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinequery/cinequery/internal/llm"
)

const purpose = "classify"

type Classification struct {
	IsMovieQuestion bool
	Reason          string
	Raw             map[string]any
}

type Classifier struct {
	completer llm.Completer
}

func NewClassifier(completer llm.Completer) *Classifier {
	return &Classifier{completer: completer}
}

func (c *Classifier) Classify(ctx context.Context, question string) Classification {
	completion := c.completer.Complete(ctx, llm.Request{
		Prompt:     question,
		System:     systemInstruction(question),
		Structured: true,
		Purpose:    purpose,
	})
	return FromObject(completion.Object)
}

// Only a JSON boolean true counts as a movie question.
func FromObject(object map[string]any) Classification {
	if object == nil {
		object = map[string]any{}
	}
	isMovie, _ := object["is_movie_question"].(bool)
	reason, _ := object["reason"].(string)
	return Classification{
		IsMovieQuestion: isMovie,
		Reason:          strings.TrimSpace(reason),
		Raw:             object,
	}
}

func systemInstruction(question string) string {
	return fmt.Sprintf(`You are an assistant that determines whether a user's question is about movies.
Answer in JSON format ONLY.

Question: %q

Instructions:
- JSON format: { "is_movie_question": true/false, "reason": "Explain briefly why." }
`, question)
}
