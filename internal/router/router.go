package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/cinequery/cinequery/internal/answer"
	"github.com/cinequery/cinequery/internal/catalog"
	"github.com/cinequery/cinequery/internal/intent"
	"github.com/cinequery/cinequery/internal/movies"
	"github.com/cinequery/cinequery/internal/nl2sql"
	"github.com/cinequery/cinequery/internal/observability"
)

const (
	BranchSQL    = observability.BranchSQL
	BranchAnswer = observability.BranchAnswer

	contentNoMovies = "No movies found."
)

// ResultSet is nil on the answer branch.
type Envelope struct {
	ContentText string            `json:"content_text"`
	ResultSet   *movies.ResultSet `json:"result_set"`
	Trace       string            `json:"trace"`
	Branch      string            `json:"branch"`
}

type Classifier interface {
	Classify(ctx context.Context, question string) intent.Classification
}

type Answerer interface {
	Answer(ctx context.Context, question string) answer.Record
}

type SimilarityRetriever interface {
	RetrieveBySimilarity(ctx context.Context, question string, k int) (movies.ResultSet, error)
}

type Dependencies struct {
	Classifier  Classifier
	Generator   nl2sql.Generator
	Executor    catalog.Executor
	Synthesizer Answerer
	Retriever   SimilarityRetriever
}

type Options struct {
	SimilarityFallback bool
	SimilarityK        int
	Logger             *slog.Logger
}

type Router struct {
	deps     Dependencies
	fallback bool
	k        int
	logger   *slog.Logger
}

func New(deps Dependencies, opts Options) (*Router, error) {
	switch {
	case deps.Classifier == nil:
		return nil, fmt.Errorf("classifier is required")
	case deps.Generator == nil:
		return nil, fmt.Errorf("sql generator is required")
	case deps.Executor == nil:
		return nil, fmt.Errorf("sql executor is required")
	case deps.Synthesizer == nil:
		return nil, fmt.Errorf("answer synthesizer is required")
	case opts.SimilarityFallback && deps.Retriever == nil:
		return nil, fmt.Errorf("similarity fallback requires a retriever")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Router{deps: deps, fallback: opts.SimilarityFallback, k: opts.SimilarityK, logger: logger}, nil
}

func (r *Router) Handle(ctx context.Context, question string) Envelope {
	start := time.Now()
	classification := r.deps.Classifier.Classify(ctx, question)
	observability.ObserveStage("classify", time.Since(start))

	var trace strings.Builder
	trace.WriteString("Classification JSON:\n```json\n")
	trace.WriteString(formatJSON(classification.Raw))
	trace.WriteString("\n```")

	if !classification.IsMovieQuestion {
		observability.ObserveQuestion(BranchAnswer)
		r.logger.DebugContext(ctx, "question routed", "branch", BranchAnswer, "reason", classification.Reason)

		start = time.Now()
		record := r.deps.Synthesizer.Answer(ctx, question)
		observability.ObserveStage("answer", time.Since(start))
		return Envelope{
			ContentText: record.AnswerText,
			Trace:       trace.String(),
			Branch:      BranchAnswer,
		}
	}

	observability.ObserveQuestion(BranchSQL)
	r.logger.DebugContext(ctx, "question routed", "branch", BranchSQL, "reason", classification.Reason)

	start = time.Now()
	plan := r.deps.Generator.Generate(ctx, question)
	observability.ObserveStage("generate_sql", time.Since(start))
	fmt.Fprintf(&trace, "\n\nGenerated SQL:\n```sql\n%s\n```", plan.SQL)

	result := movies.EmptyResultSet()
	degraded := false
	if plan.Empty() {
		observability.IncrementEmptySQLPlan()
		trace.WriteString("\n\n(SQL query was empty.)")
		degraded = true
	} else {
		start = time.Now()
		executed, err := r.deps.Executor.Execute(ctx, plan.SQL)
		observability.ObserveStage("execute_sql", time.Since(start))
		if err != nil {
			observability.IncrementSQLExecutionError()
			r.logger.WarnContext(ctx, "generated sql failed", "sql", plan.SQL, "error", err)
			fmt.Fprintf(&trace, "\n\nSQL Error: %s", executionDetail(err))
			degraded = true
		} else {
			result = executed
		}
	}

	if degraded && r.fallback {
		result = r.similarityFallback(ctx, logger, question, &trace)
	}
	observability.ObserveResultRows(result.Len())

	return Envelope{
		ContentText: contentText(result),
		ResultSet:   &result,
		Trace:       trace.String(),
		Branch:      BranchSQL,
	}
}

func (r *Router) similarityFallback(ctx context.Context, logger *slog.Logger, question string, trace *strings.Builder) movies.ResultSet {
	result, err := r.deps.Retriever.RetrieveBySimilarity(ctx, question, r.k)
	if err != nil {
		r.logger.WarnContext(ctx, "similarity fallback failed", "error", err)
		fmt.Fprintf(trace, "\n\nSimilarity fallback failed: %s", err)
		return movies.EmptyResultSet()
	}
	fmt.Fprintf(trace, "\n\nSimilarity fallback: %d result(s) by embedding distance.", result.Len())
	return result
}

func contentText(result movies.ResultSet) string {
	if result.Len() == 0 {
		return contentNoMovies
	}
	return fmt.Sprintf("Fetched %d result(s).", result.Len())
}

func executionDetail(err error) string {
	var execErr *catalog.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Error()
	}
	return err.Error()
}

func formatJSON(value map[string]any) string {
	if value == nil {
		value = map[string]any{}
	}
	body, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return "{}"
	}
	return string(body)
}
