package nl2sql

import (
	"context"
	"fmt"
	"strings"

	"github.com/cinequery/cinequery/internal/llm"
	"github.com/cinequery/cinequery/internal/movies"
)

const purpose = "sql"

// An empty SQL means no statement could be formed; it is not an error.
type Plan struct {
	SQL    string `json:"sql_query"`
	Reason string `json:"reason"`
}

func (p Plan) Empty() bool {
	return strings.TrimSpace(p.SQL) == ""
}

type Generator interface {
	Generate(ctx context.Context, question string) Plan
}

type CompletionGenerator struct {
	completer llm.Completer
	system    string
}

func NewCompletionGenerator(completer llm.Completer) *CompletionGenerator {
	return &CompletionGenerator{completer: completer, system: buildSystemInstruction()}
}

func (g *CompletionGenerator) Generate(ctx context.Context, question string) Plan {
	completion := g.completer.Complete(ctx, llm.Request{
		Prompt:     question,
		System:     g.system,
		Structured: true,
		Purpose:    purpose,
	})
	return PlanFromObject(completion.Object)
}

func PlanFromObject(object map[string]any) Plan {
	sqlText, _ := object["sql_query"].(string)
	reason, _ := object["reason"].(string)
	return Plan{
		SQL:    stripMarkdownSQL(sqlText),
		Reason: strings.TrimSpace(reason),
	}
}

func buildSystemInstruction() string {
	columnTypes := map[string]string{
		movies.ColumnMovieID:  "INT PRIMARY KEY",
		movies.ColumnTMDBID:   "INT",
		movies.ColumnTitle:    "TEXT",
		movies.ColumnGenres:   "TEXT",
		movies.ColumnYear:     "INT",
		movies.ColumnTags:     "TEXT",
		movies.ColumnTagline:  "TEXT",
		movies.ColumnOverview: "TEXT",
	}
	columns := make([]string, 0, len(movies.Columns))
	for _, column := range movies.Columns {
		columns = append(columns, fmt.Sprintf("    %s %s", column, columnTypes[column]))
	}

	return fmt.Sprintf(`You are an assistant that translates natural language movie-related questions into SQL queries.
The database schema is:

%s(
%s
)

Return JSON only in the following format:
{
  "sql_query": "SELECT ...",
  "reason": "Briefly explain how the query answers the question."
}

Rules:
- Only use the columns listed above.
- If filtering is unclear, return a broad query (e.g., ORDER BY year DESC LIMIT 10).
- Always output syntactically correct PostgreSQL SQL.
- When query by name use LIKE for partial matches.
- If the information is not in the schema, return a string explaining the limitation.
`, movies.TableName, strings.Join(columns, ",\n"))
}

func stripMarkdownSQL(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}
