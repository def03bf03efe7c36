package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
	"time"
)

const (
	upSuffix   = ".up.sql"
	downSuffix = ".down.sql"
	seedSuffix = ".sql"
)

// ErrNothingApplied is returned by Down when no migration has been applied.
var ErrNothingApplied = errors.New("no migrations applied")

// Manager applies versioned schema migrations and one-shot seed scripts read
// from an fs.FS. Each script runs in its own transaction together with the
// bookkeeping row that records it.
type Manager struct {
	db              *sql.DB
	fsys            fs.FS
	migrationsDir   string
	seedsDir        string
	migrationsTable string
	seedsTable      string
	now             func() time.Time
}

// Option configures Manager.
type Option func(*Manager)

// WithMigrationsTable overrides the "schema_migrations" bookkeeping table.
func WithMigrationsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.migrationsTable = name
		}
	}
}

// WithSeedsTable overrides the "schema_seeds" bookkeeping table.
func WithSeedsTable(name string) Option {
	return func(m *Manager) {
		if name != "" {
			m.seedsTable = name
		}
	}
}

// NewManager constructs a Manager. Directory names are relative to fsys; the
// binaries pass the embedded ops/migrations tree, tests pass an fstest.MapFS.
func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string, opts ...Option) *Manager {
	m := &Manager{
		db:              db,
		fsys:            fsys,
		migrationsDir:   migrationsDir,
		seedsDir:        seedsDir,
		migrationsTable: "schema_migrations",
		seedsTable:      "schema_seeds",
		now:             time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Up applies every pending migration in name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, "migration", m.migrationsTable, m.migrationsDir, upSuffix)
}

// Seed applies every seed script not applied before.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, "seed", m.seedsTable, m.seedsDir, seedSuffix)
}

// Pending lists migrations present in fsys that have not been applied.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	todo, err := m.pending(ctx, m.migrationsTable, m.migrationsDir, upSuffix)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(todo))
	for _, s := range todo {
		names = append(names, s.name)
	}
	return names, nil
}

// Status returns applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrationsTable)
}

// Down reverts the most recently applied migration using its .down.sql twin.
func (m *Manager) Down(ctx context.Context) error {
	done, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(done) == 0 {
		return ErrNothingApplied
	}
	last := done[len(done)-1]
	down := path.Join(m.migrationsDir, strings.TrimSuffix(last, upSuffix)+downSuffix)
	if _, err := fs.Stat(m.fsys, down); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrationsTable)
	if err := m.run(ctx, down, forget, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return nil
}

func (m *Manager) applyPending(ctx context.Context, kind, table, dir, suffix string) error {
	todo, err := m.pending(ctx, table, dir, suffix)
	if err != nil {
		return err
	}
	record := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table)
	for _, s := range todo {
		if err := m.run(ctx, s.path, record, s.name, m.now().UTC()); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, s.name, err)
		}
	}
	return nil
}

func (m *Manager) pending(ctx context.Context, table, dir, suffix string) ([]script, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	done, err := m.applied(ctx, table)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(done))
	for _, name := range done {
		seen[name] = struct{}{}
	}
	all, err := scripts(m.fsys, dir, suffix)
	if err != nil {
		return nil, err
	}
	var todo []script
	for _, s := range all {
		if _, ok := seen[s.name]; !ok {
			todo = append(todo, s)
		}
	}
	return todo, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{m.migrationsTable, m.seedsTable} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("ensure %s: %w", table, err)
		}
	}
	return nil
}

// run executes the statements in file, then the bookkeeping statement, in one
// transaction.
func (m *Manager) run(ctx context.Context, file, bookkeeping string, args ...any) error {
	body, err := fs.ReadFile(m.fsys, file)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, bookkeeping, args...); err != nil {
		return err
	}
	return tx.Commit()
}

func (m *Manager) applied(ctx context.Context, table string) ([]string, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s order by applied_at, name`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

type script struct {
	name string
	path string
}

// scripts lists the files in dir ending in suffix, sorted by name. A missing
// directory holds no scripts.
func scripts(fsys fs.FS, dir, suffix string) ([]script, error) {
	if fsys == nil || dir == "" {
		return nil, nil
	}
	entries, err := fs.ReadDir(fsys, dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var out []script
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		// ReadDir sorts by name
		out = append(out, script{name: e.Name(), path: path.Join(dir, e.Name())})
	}
	return out, nil
}

// splitStatements cuts src after every semicolon that is outside a quoted
// string. "--" comments are dropped up to, not including, the newline.
// Dollar-quoted bodies are not supported.
func splitStatements(src string) []string {
	var (
		out     []string
		b       strings.Builder
		quoted  bool
		comment bool
	)
	for i := 0; i < len(src); i++ {
		c := src[i]
		if comment {
			if c != '\n' {
				continue
			}
			comment = false
		} else if !quoted && c == '-' && strings.HasPrefix(src[i:], "--") {
			comment = true
			i++
			continue
		}
		b.WriteByte(c)
		if c == '\'' {
			quoted = !quoted
		}
		if c == ';' && !quoted {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if strings.TrimSpace(b.String()) != "" {
		out = append(out, b.String())
	}
	return out
}
