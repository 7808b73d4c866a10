package migrations

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/cinequery/cinequery/internal/movies"
)

//go:embed sql/*.sql
var embeddedFS embed.FS

const versionTable = "cinequery_schema_migrations"

var scriptNamePattern = regexp.MustCompile(`^([0-9]+)_(.+)\.(up|down)\.sql$`)

var ErrSchemaMismatch = errors.New("movie schema mismatch")

type Migration struct {
	Version int64
	Name    string
	UpSQL   string
	DownSQL string
}

type Status struct {
	Applied []Migration
	Pending []Migration
}

type Runner struct {
	fsys fs.FS
	// verify runs once every migration is applied; nil skips the check.
	verify func(ctx context.Context, db *sql.DB) error
}

func NewRunner() *Runner {
	return &Runner{fsys: embeddedFS, verify: VerifyMoviesSchema}
}

func (r *Runner) Up(ctx context.Context, db *sql.DB, steps int) (int, error) {
	status, err := r.Status(ctx, db)
	if err != nil {
		return 0, err
	}

	todo := status.Pending
	if steps > 0 && steps < len(todo) {
		todo = todo[:steps]
	}
	for i, item := range todo {
		if err := inTx(ctx, db, item.UpSQL, `INSERT INTO `+versionTable+` (version) VALUES ($1)`, item.Version); err != nil {
			return i, fmt.Errorf("apply migration %d_%s: %w", item.Version, item.Name, err)
		}
	}

	if len(todo) == len(status.Pending) && r.verify != nil {
		if err := r.verify(ctx, db); err != nil {
			return len(todo), err
		}
	}
	return len(todo), nil
}

func (r *Runner) Down(ctx context.Context, db *sql.DB, steps int) (int, error) {
	if steps <= 0 {
		steps = 1
	}
	status, err := r.Status(ctx, db)
	if err != nil {
		return 0, err
	}

	rolledBack := 0
	for i := len(status.Applied) - 1; i >= 0 && rolledBack < steps; i-- {
		item := status.Applied[i]
		if err := inTx(ctx, db, item.DownSQL, `DELETE FROM `+versionTable+` WHERE version = $1`, item.Version); err != nil {
			return rolledBack, fmt.Errorf("roll back migration %d_%s: %w", item.Version, item.Name, err)
		}
		rolledBack++
	}
	return rolledBack, nil
}

func (r *Runner) Status(ctx context.Context, db *sql.DB) (Status, error) {
	all, err := loadMigrations(r.fsys)
	if err != nil {
		return Status{}, err
	}
	if _, err := db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS `+versionTable+` (
	version BIGINT PRIMARY KEY,
	applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`); err != nil {
		return Status{}, fmt.Errorf("ensure migration table: %w", err)
	}

	applied, err := appliedVersions(ctx, db)
	if err != nil {
		return Status{}, err
	}

	known := make(map[int64]bool, len(all))
	var status Status
	for _, item := range all {
		known[item.Version] = true
		if applied[item.Version] {
			status.Applied = append(status.Applied, item)
		} else {
			status.Pending = append(status.Pending, item)
		}
	}
	for version := range applied {
		if !known[version] {
			return Status{}, fmt.Errorf("applied migration %d is missing from source", version)
		}
	}
	return status, nil
}

const schemaQuery = `
SELECT a.attname, format_type(a.atttypid, a.atttypmod)
FROM pg_attribute a
WHERE a.attrelid = to_regclass($1) AND a.attnum > 0 AND NOT a.attisdropped`

func VerifyMoviesSchema(ctx context.Context, db *sql.DB) error {
	rows, err := db.QueryContext(ctx, schemaQuery, movies.TableName)
	if err != nil {
		return fmt.Errorf("inspect %s: %w", movies.TableName, err)
	}
	defer func() { _ = rows.Close() }()

	types := map[string]string{}
	for rows.Next() {
		var name, typ string
		if err := rows.Scan(&name, &typ); err != nil {
			return fmt.Errorf("scan %s column: %w", movies.TableName, err)
		}
		types[strings.ToLower(name)] = typ
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s: %w", movies.TableName, err)
	}
	if len(types) == 0 {
		return fmt.Errorf("%w: table %s does not exist", ErrSchemaMismatch, movies.TableName)
	}

	for _, column := range movies.Columns {
		if _, ok := types[strings.ToLower(column)]; !ok {
			return fmt.Errorf("%w: column %s is missing", ErrSchemaMismatch, column)
		}
	}
	want := fmt.Sprintf("vector(%d)", movies.EmbeddingDimensions)
	if got := types["embedding"]; got != want {
		return fmt.Errorf("%w: embedding is %q, want %q", ErrSchemaMismatch, got, want)
	}
	return nil
}

func inTx(ctx context.Context, db *sql.DB, script, bookkeeping string, version int64) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, script); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, version); err != nil {
		return fmt.Errorf("record version: %w", err)
	}
	return tx.Commit()
}

func appliedVersions(ctx context.Context, db *sql.DB) (map[int64]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM `+versionTable)
	if err != nil {
		return nil, fmt.Errorf("query applied versions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	applied := map[int64]bool{}
	for rows.Next() {
		var version int64
		if err := rows.Scan(&version); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

func loadMigrations(fsys fs.FS) ([]Migration, error) {
	entries, err := fs.ReadDir(fsys, "sql")
	if err != nil {
		return nil, fmt.Errorf("read migration dir: %w", err)
	}

	byVersion := map[int64]*Migration{}
	for _, entry := range entries {
		parts := scriptNamePattern.FindStringSubmatch(entry.Name())
		if entry.IsDir() || parts == nil {
			continue
		}
		version, err := strconv.ParseInt(parts[1], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse migration version for %q: %w", entry.Name(), err)
		}
		script, err := fs.ReadFile(fsys, path.Join("sql", entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", entry.Name(), err)
		}

		item, ok := byVersion[version]
		if !ok {
			item = &Migration{Version: version, Name: parts[2]}
			byVersion[version] = item
		} else if item.Name != parts[2] {
			return nil, fmt.Errorf("migration %d has conflicting names %q and %q", version, item.Name, parts[2])
		}
		if parts[3] == "up" {
			item.UpSQL = string(script)
		} else {
			item.DownSQL = string(script)
		}
	}

	out := make([]Migration, 0, len(byVersion))
	for version, item := range byVersion {
		switch {
		case strings.TrimSpace(item.UpSQL) == "":
			return nil, fmt.Errorf("migration %d missing up SQL", version)
		case strings.TrimSpace(item.DownSQL) == "":
			return nil, fmt.Errorf("migration %d missing down SQL", version)
		}
		out = append(out, *item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Version < out[j].Version })
	return out, nil
}
