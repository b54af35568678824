package store

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"slices"
	"strconv"
	"strings"

	"github.com/rendis/nodeflow/pkg/schema"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// migration is one versioned SQL script named NNN_name.sql.
type migration struct {
	Version int
	Name    string
	SQL     string
}

// loadMigrations reads every *.sql file under dir of fsys, ordered by version.
func loadMigrations(fsys fs.FS, dir string) ([]migration, error) {
	entries, err := fs.ReadDir(fsys, dir)
	if err != nil {
		return nil, fmt.Errorf("read migrations: %w", err)
	}
	var out []migration
	seen := make(map[int]string)
	for _, e := range entries {
		if e.IsDir() || path.Ext(e.Name()) != ".sql" {
			continue
		}
		base := strings.TrimSuffix(e.Name(), ".sql")
		num, name, ok := strings.Cut(base, "_")
		version, err := strconv.Atoi(num)
		if !ok || err != nil || version <= 0 || name == "" {
			return nil, fmt.Errorf("migration %q: want NNN_name.sql", e.Name())
		}
		if prev, dup := seen[version]; dup {
			return nil, fmt.Errorf("migration version %d used by %q and %q", version, prev, e.Name())
		}
		seen[version] = e.Name()
		body, err := fs.ReadFile(fsys, path.Join(dir, e.Name()))
		if err != nil {
			return nil, fmt.Errorf("read migration %q: %w", e.Name(), err)
		}
		out = append(out, migration{Version: version, Name: name, SQL: string(body)})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.Version - b.Version })
	return out, nil
}

// migrator brings the schema_version table up to the latest known script.
type migrator struct {
	db         *sql.DB
	log        *slog.Logger
	migrations []migration
}

func (m *migrator) latest() int {
	if len(m.migrations) == 0 {
		return 0
	}
	return m.migrations[len(m.migrations)-1].Version
}

// current returns the highest applied version, 0 for a fresh database.
func (m *migrator) current(ctx context.Context) (int, error) {
	if _, err := m.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		name TEXT NOT NULL,
		applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return 0, fmt.Errorf("create schema_version: %w", err)
	}
	var v int
	if err := m.db.QueryRowContext(ctx, `SELECT COALESCE(MAX(version), 0) FROM schema_version`).Scan(&v); err != nil {
		return 0, fmt.Errorf("read schema_version: %w", err)
	}
	return v, nil
}

// run applies pending migrations, each in its own transaction, and returns
// the versions it applied. A database written by a newer build is refused.
func (m *migrator) run(ctx context.Context) ([]int, error) {
	current, err := m.current(ctx)
	if err != nil {
		return nil, err
	}
	if current > m.latest() {
		return nil, schema.NewErrorf(schema.ErrCodeConflict,
			"database schema version %d is newer than supported version %d", current, m.latest())
	}

	var applied []int
	for _, mg := range m.migrations {
		if mg.Version <= current {
			continue
		}
		if err := m.apply(ctx, mg); err != nil {
			return applied, err
		}
		m.log.InfoContext(ctx, "applied migration", "version", mg.Version, "name", mg.Name)
		applied = append(applied, mg.Version)
	}
	if len(applied) == 0 {
		m.log.DebugContext(ctx, "schema up to date", "version", current)
	}
	return applied, nil
}

func (m *migrator) apply(ctx context.Context, mg migration) error {
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", mg.Version, err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, stmt := range splitStatements(mg.SQL) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migration %d (%s): %w", mg.Version, mg.Name, err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO schema_version (version, name) VALUES (?, ?)`, mg.Version, mg.Name); err != nil {
		return fmt.Errorf("record migration %d: %w", mg.Version, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migration %d: %w", mg.Version, err)
	}
	return nil
}

// splitStatements splits a script on semicolons and drops chunks holding
// only comments.
func splitStatements(script string) []string {
	var stmts []string
	for _, raw := range strings.Split(script, ";") {
		s := strings.TrimSpace(raw)
		if s == "" {
			continue
		}
		for _, l := range strings.Split(s, "\n") {
			if l = strings.TrimSpace(l); l != "" && !strings.HasPrefix(l, "--") {
				stmts = append(stmts, s)
				break
			}
		}
	}
	return stmts
}
