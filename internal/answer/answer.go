package answer

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinequery/cinequery/internal/llm"
)

const DefaultText = "LLM did not provide an answer."

const purpose = "answer"

type Record struct {
	AnswerText string `json:"answer_text"`
}

type Synthesizer struct {
	completer llm.Completer
}

func NewSynthesizer(completer llm.Completer) *Synthesizer {
	return &Synthesizer{completer: completer}
}

func (s *Synthesizer) Answer(ctx context.Context, question string) Record {
	completion := s.completer.Complete(ctx, llm.Request{
		Prompt:     question,
		System:     systemInstruction(question),
		Structured: true,
		Purpose:    purpose,
	})
	return RecordFromObject(completion.Object)
}

func RecordFromObject(object map[string]any) Record {
	text, _ := object["answer_text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		text = DefaultText
	}
	return Record{AnswerText: text}
}

func systemInstruction(question string) string {
	return fmt.Sprintf(`You are a helpful assistant. Answer the user's question directly and concisely.

Question: %q

Respond in JSON format ONLY:
{ "action": "answer", "answer_text": "your answer here" }
`, question)
}
