package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	BranchSQL    = "sql"
	BranchAnswer = "answer"
)

var (
	questionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinequery_questions_total",
			Help: "Total number of routed questions by branch taken.",
		},
		[]string{"branch"},
	)
	completionFailuresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinequery_completion_failures_total",
			Help: "Completion calls that degraded to a sentinel value, by purpose.",
		},
		[]string{"purpose"},
	)
	sqlExecutionErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cinequery_sql_execution_errors_total",
			Help: "Generated SQL statements that failed to execute.",
		},
	)
	emptySQLPlansTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cinequery_empty_sql_plans_total",
			Help: "Catalog questions for which no SQL statement was generated.",
		},
	)
	similaritySearchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cinequery_similarity_searches_total",
			Help: "Embedding similarity searches by outcome.",
		},
		[]string{"outcome"},
	)
	stageLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cinequery_stage_latency_ms",
			Help:    "Pipeline stage latency in milliseconds.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000},
		},
		[]string{"stage"},
	)
	resultRows = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cinequery_result_rows",
			Help:    "Rows returned per executed SQL statement.",
			Buckets: []float64{0, 1, 5, 10, 25, 50, 100, 500, 1000},
		},
	)
)

func init() {
	prometheus.MustRegister(
		questionsTotal,
		completionFailuresTotal,
		sqlExecutionErrorsTotal,
		emptySQLPlansTotal,
		similaritySearchesTotal,
		stageLatencyMs,
		resultRows,
	)
}

func ObserveQuestion(branch string) {
	questionsTotal.WithLabelValues(branch).Inc()
}

func IncrementCompletionFailure(purpose string) {
	if purpose == "" {
		purpose = "unknown"
	}
	completionFailuresTotal.WithLabelValues(purpose).Inc()
}

func IncrementSQLExecutionError() {
	sqlExecutionErrorsTotal.Inc()
}

func IncrementEmptySQLPlan() {
	emptySQLPlansTotal.Inc()
}

func ObserveSimilaritySearch(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	similaritySearchesTotal.WithLabelValues(outcome).Inc()
}

func ObserveStage(stage string, elapsed time.Duration) {
	stageLatencyMs.WithLabelValues(stage).Observe(float64(elapsed.Milliseconds()))
}

func ObserveResultRows(rows int) {
	if rows < 0 {
		rows = 0
	}
	resultRows.Observe(float64(rows))
}
