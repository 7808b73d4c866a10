package router

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/cinequery/cinequery/internal/answer"
	"github.com/cinequery/cinequery/internal/catalog"
	"github.com/cinequery/cinequery/internal/intent"
	"github.com/cinequery/cinequery/internal/movies"
	"github.com/cinequery/cinequery/internal/nl2sql"
)

type stubClassifier struct {
	raw map[string]any
}

func (s stubClassifier) Classify(context.Context, string) intent.Classification {
	return intent.FromObject(s.raw)
}

type stubGenerator struct {
	plan nl2sql.Plan
}

func (s stubGenerator) Generate(context.Context, string) nl2sql.Plan {
	return s.plan
}

type stubExecutor struct {
	result movies.ResultSet
	err    error
	calls  int
}

func (s *stubExecutor) Execute(_ context.Context, sqlText string) (movies.ResultSet, error) {
	s.calls++
	if s.err != nil {
		return movies.ResultSet{}, &catalog.ExecutionError{SQL: sqlText, Err: s.err}
	}
	return s.result, nil
}

type stubAnswerer struct {
	record answer.Record
	calls  int
}

func (s *stubAnswerer) Answer(context.Context, string) answer.Record {
	s.calls++
	return s.record
}

type stubRetriever struct {
	result movies.ResultSet
	err    error
	lastK  int
	calls  int
}

func (s *stubRetriever) RetrieveBySimilarity(_ context.Context, _ string, k int) (movies.ResultSet, error) {
	s.calls++
	s.lastK = k
	return s.result, s.err
}

func movieClassification() map[string]any {
	return map[string]any{"is_movie_question": true, "reason": "asks about movies"}
}

func threeMovies() movies.ResultSet {
	return movies.ResultSet{
		Columns: []string{movies.ColumnTitle, movies.ColumnYear},
		Rows: []movies.Row{
			{movies.ColumnTitle: "Inception", movies.ColumnYear: int64(2010)},
			{movies.ColumnTitle: "Toy Story 3", movies.ColumnYear: int64(2010)},
			{movies.ColumnTitle: "Shutter Island", movies.ColumnYear: int64(2010)},
		},
	}
}

func newTestRouter(t *testing.T, deps Dependencies, opts Options) *Router {
	t.Helper()
	if deps.Synthesizer == nil {
		deps.Synthesizer = &stubAnswerer{}
	}
	if deps.Executor == nil {
		deps.Executor = &stubExecutor{}
	}
	r, err := New(deps, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return r
}

func TestHandleMovieQuestionReturnsRows(t *testing.T) {
	sqlText := "SELECT title, year FROM movies_full WHERE year = 2010;"
	executor := &stubExecutor{result: threeMovies()}
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{plan: nl2sql.Plan{SQL: sqlText, Reason: "year filter"}},
		Executor:   executor,
	}, Options{})

	envelope := r.Handle(context.Background(), "List all movies released in 2010")

	if envelope.ContentText != "Fetched 3 result(s)." {
		t.Fatalf("ContentText = %q", envelope.ContentText)
	}
	if envelope.Branch != BranchSQL {
		t.Fatalf("Branch = %q", envelope.Branch)
	}
	if envelope.ResultSet == nil || envelope.ResultSet.Len() != 3 {
		t.Fatalf("ResultSet = %#v", envelope.ResultSet)
	}
	wantTrace := "Classification JSON:\n```json\n{\n  \"is_movie_question\": true,\n  \"reason\": \"asks about movies\"\n}\n```" +
		"\n\nGenerated SQL:\n```sql\n" + sqlText + "\n```"
	if envelope.Trace != wantTrace {
		t.Fatalf("Trace = %q\nwant    %q", envelope.Trace, wantTrace)
	}
}

func TestHandleNonMovieQuestionAnswers(t *testing.T) {
	answerer := &stubAnswerer{record: answer.Record{AnswerText: "I can't check live weather."}}
	executor := &stubExecutor{}
	r := newTestRouter(t, Dependencies{
		Classifier:  stubClassifier{raw: map[string]any{"is_movie_question": false, "reason": "weather"}},
		Generator:   stubGenerator{},
		Executor:    executor,
		Synthesizer: answerer,
	}, Options{})

	envelope := r.Handle(context.Background(), "What's the weather today?")

	if envelope.ContentText != "I can't check live weather." {
		t.Fatalf("ContentText = %q", envelope.ContentText)
	}
	if envelope.ResultSet != nil {
		t.Fatalf("ResultSet = %#v, want nil", envelope.ResultSet)
	}
	if envelope.Branch != BranchAnswer {
		t.Fatalf("Branch = %q", envelope.Branch)
	}
	if strings.Contains(envelope.Trace, "Generated SQL") {
		t.Fatalf("answer branch trace mentions SQL: %q", envelope.Trace)
	}
	if executor.calls != 0 {
		t.Fatal("executor called on answer branch")
	}
}

func TestHandleExecutionErrorIsAbsorbed(t *testing.T) {
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{plan: nl2sql.Plan{SQL: "SELECT budget FROM movies_full"}},
		Executor:   &stubExecutor{err: errors.New(`column "budget" does not exist`)},
	}, Options{})

	envelope := r.Handle(context.Background(), "What was the budget of Titanic?")

	if envelope.ContentText != "No movies found." {
		t.Fatalf("ContentText = %q", envelope.ContentText)
	}
	if envelope.ResultSet == nil || envelope.ResultSet.Len() != 0 {
		t.Fatalf("ResultSet = %#v, want empty", envelope.ResultSet)
	}
	if !strings.HasSuffix(envelope.Trace, "\n\nSQL Error: column \"budget\" does not exist") {
		t.Fatalf("Trace = %q", envelope.Trace)
	}
}

func TestHandleEmptyPlanSkipsExecution(t *testing.T) {
	executor := &stubExecutor{}
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{plan: nl2sql.Plan{}},
		Executor:   executor,
	}, Options{})

	envelope := r.Handle(context.Background(), "Recommend a film for a rainy day")

	if executor.calls != 0 {
		t.Fatal("executor called for empty plan")
	}
	if !strings.Contains(envelope.Trace, "Generated SQL:\n```sql\n\n```") {
		t.Fatalf("Trace = %q", envelope.Trace)
	}
	if !strings.HasSuffix(envelope.Trace, "\n\n(SQL query was empty.)") {
		t.Fatalf("Trace = %q", envelope.Trace)
	}
	if envelope.ContentText != "No movies found." || envelope.ResultSet == nil {
		t.Fatalf("envelope = %#v", envelope)
	}
}

func TestHandleZeroRowsIsNotAnError(t *testing.T) {
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{plan: nl2sql.Plan{SQL: "SELECT * FROM movies_full WHERE title LIKE '%Zzzz%'"}},
		Executor:   &stubExecutor{result: movies.EmptyResultSet()},
	}, Options{})

	envelope := r.Handle(context.Background(), "Movies titled Zzzz")
	if envelope.ContentText != "No movies found." {
		t.Fatalf("ContentText = %q", envelope.ContentText)
	}
	if strings.Contains(envelope.Trace, "SQL Error") || strings.Contains(envelope.Trace, "was empty") {
		t.Fatalf("Trace = %q", envelope.Trace)
	}
}

func TestHandleClassifierFailureFallsToAnswer(t *testing.T) {
	answerer := &stubAnswerer{record: answer.Record{AnswerText: answer.DefaultText}}
	r := newTestRouter(t, Dependencies{
		Classifier:  stubClassifier{raw: map[string]any{}},
		Generator:   stubGenerator{},
		Synthesizer: answerer,
	}, Options{})

	envelope := r.Handle(context.Background(), "Who directed Alien?")
	if envelope.Branch != BranchAnswer || envelope.ContentText != answer.DefaultText {
		t.Fatalf("envelope = %#v", envelope)
	}
	if envelope.Trace != "Classification JSON:\n```json\n{}\n```" {
		t.Fatalf("Trace = %q", envelope.Trace)
	}
}

func TestHandleIsIdempotentForDeterministicComponents(t *testing.T) {
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{plan: nl2sql.Plan{SQL: "SELECT title FROM movies_full"}},
		Executor:   &stubExecutor{result: threeMovies()},
	}, Options{})

	first := r.Handle(context.Background(), "List movies")
	second := r.Handle(context.Background(), "List movies")
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("envelopes differ:\n%#v\n%#v", first, second)
	}
}

func TestSimilarityFallbackDisabledByDefault(t *testing.T) {
	retriever := &stubRetriever{result: threeMovies()}
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{},
		Retriever:  retriever,
	}, Options{})

	envelope := r.Handle(context.Background(), "Movies like a heist in dreams")
	if retriever.calls != 0 {
		t.Fatal("retriever consulted without fallback enabled")
	}
	if envelope.ContentText != "No movies found." {
		t.Fatalf("ContentText = %q", envelope.ContentText)
	}
}

func TestSimilarityFallbackOnEmptyPlan(t *testing.T) {
	retriever := &stubRetriever{result: threeMovies()}
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{},
		Retriever:  retriever,
	}, Options{SimilarityFallback: true, SimilarityK: 5})

	envelope := r.Handle(context.Background(), "Movies like a heist in dreams")
	if retriever.calls != 1 || retriever.lastK != 5 {
		t.Fatalf("retriever calls = %d, k = %d", retriever.calls, retriever.lastK)
	}
	if envelope.ContentText != "Fetched 3 result(s)." {
		t.Fatalf("ContentText = %q", envelope.ContentText)
	}
	if !strings.HasSuffix(envelope.Trace, "\n\nSimilarity fallback: 3 result(s) by embedding distance.") {
		t.Fatalf("Trace = %q", envelope.Trace)
	}
}

func TestSimilarityFallbackFailureStillResponds(t *testing.T) {
	retriever := &stubRetriever{err: errors.New("encoder unavailable")}
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{plan: nl2sql.Plan{SQL: "SELECT nope"}},
		Executor:   &stubExecutor{err: errors.New("syntax error")},
		Retriever:  retriever,
	}, Options{SimilarityFallback: true})

	envelope := r.Handle(context.Background(), "q")
	if envelope.ContentText != "No movies found." {
		t.Fatalf("ContentText = %q", envelope.ContentText)
	}
	if !strings.Contains(envelope.Trace, "SQL Error: syntax error") || !strings.Contains(envelope.Trace, "Similarity fallback failed: encoder unavailable") {
		t.Fatalf("Trace = %q", envelope.Trace)
	}
}

func TestSimilarityFallbackNotUsedWhenSQLSucceeds(t *testing.T) {
	retriever := &stubRetriever{result: threeMovies()}
	r := newTestRouter(t, Dependencies{
		Classifier: stubClassifier{raw: movieClassification()},
		Generator:  stubGenerator{plan: nl2sql.Plan{SQL: "SELECT title FROM movies_full WHERE 1 = 0"}},
		Executor:   &stubExecutor{result: movies.EmptyResultSet()},
		Retriever:  retriever,
	}, Options{SimilarityFallback: true})

	r.Handle(context.Background(), "q")
	if retriever.calls != 0 {
		t.Fatal("retriever consulted after successful execution")
	}
}

func TestNewValidatesDependencies(t *testing.T) {
	complete := Dependencies{
		Classifier:  stubClassifier{},
		Generator:   stubGenerator{},
		Executor:    &stubExecutor{},
		Synthesizer: &stubAnswerer{},
	}
	if _, err := New(complete, Options{}); err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if _, err := New(complete, Options{SimilarityFallback: true}); err == nil {
		t.Fatal("expected error for fallback without retriever")
	}
	missing := complete
	missing.Executor = nil
	if _, err := New(missing, Options{}); err == nil {
		t.Fatal("expected error for missing executor")
	}
}
