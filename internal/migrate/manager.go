// Package migrate applies the relief schema and demo seeds from an fs.FS,
// normally the embedded ops.SQL, and records each script it runs.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strings"
	"time"
)

// journal pairs a script directory with the table that records its runs.
type journal struct {
	table  string
	dir    string
	suffix string
}

// Manager runs schema migrations and seed scripts. Each script and its
// journal row commit in one transaction.
type Manager struct {
	db         *sql.DB
	fsys       fs.FS
	migrations journal
	seeds      journal
	now        func() time.Time
}

func NewManager(db *sql.DB, fsys fs.FS, migrationsDir, seedsDir string) *Manager {
	return &Manager{
		db:         db,
		fsys:       fsys,
		migrations: journal{table: "schema_migrations", dir: migrationsDir, suffix: ".up.sql"},
		seeds:      journal{table: "schema_seeds", dir: seedsDir, suffix: ".sql"},
		now:        time.Now,
	}
}

// Up applies every migration not yet recorded, in file name order.
func (m *Manager) Up(ctx context.Context) error {
	return m.applyPending(ctx, m.migrations, "migration")
}

// Seed loads seed scripts not yet recorded.
func (m *Manager) Seed(ctx context.Context) error {
	return m.applyPending(ctx, m.seeds, "seed")
}

// Down reverts the newest applied migration using its .down.sql pair.
func (m *Manager) Down(ctx context.Context) error {
	applied, err := m.Status(ctx)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		return errors.New("no migrations applied")
	}
	last := applied[len(applied)-1]
	script := path.Join(m.migrations.dir, strings.TrimSuffix(last, ".up.sql")+".down.sql")
	if _, err := fs.Stat(m.fsys, script); err != nil {
		return fmt.Errorf("missing down migration for %s", last)
	}
	forget := fmt.Sprintf(`delete from %s where name = $1`, m.migrations.table)
	if err := m.run(ctx, script, forget, last); err != nil {
		return fmt.Errorf("rollback migration %s: %w", last, err)
	}
	return nil
}

// Status lists applied migrations, oldest first.
func (m *Manager) Status(ctx context.Context) ([]string, error) {
	if err := m.prepare(ctx); err != nil {
		return nil, err
	}
	return m.applied(ctx, m.migrations.table)
}

// Pending lists migrations Up would apply.
func (m *Manager) Pending(ctx context.Context) ([]string, error) {
	if err := m.prepare(ctx); err != nil {
		return nil, err
	}
	files, err := m.outstanding(ctx, m.migrations)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(files))
	for i, f := range files {
		names[i] = path.Base(f)
	}
	return names, nil
}

func (m *Manager) applyPending(ctx context.Context, j journal, kind string) error {
	if err := m.prepare(ctx); err != nil {
		return err
	}
	files, err := m.outstanding(ctx, j)
	if err != nil {
		return err
	}
	remember := fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, j.table)
	for _, f := range files {
		name := path.Base(f)
		if err := m.run(ctx, f, remember, name, m.now().UTC()); err != nil {
			return fmt.Errorf("apply %s %s: %w", kind, name, err)
		}
	}
	return nil
}

// prepare creates both journal tables.
func (m *Manager) prepare(ctx context.Context) error {
	for _, table := range []string{m.migrations.table, m.seeds.table} {
		ddl := fmt.Sprintf(`create table if not exists %s (
			name text primary key,
			applied_at timestamptz not null default now()
		)`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("create %s: %w", table, err)
		}
	}
	return nil
}

// outstanding returns script paths in j.dir that have no journal row.
func (m *Manager) outstanding(ctx context.Context, j journal) ([]string, error) {
	done, err := m.applied(ctx, j.table)
	if err != nil {
		return nil, err
	}
	files, err := scripts(m.fsys, j.dir, j.suffix)
	if err != nil {
		return nil, err
	}
	return slices.DeleteFunc(files, func(f string) bool {
		return slices.Contains(done, path.Base(f))
	}), nil
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

// run executes every statement of script followed by the journal statement
// in a single transaction.
func (m *Manager) run(ctx context.Context, script, journalSQL string, args ...any) error {
	body, err := fs.ReadFile(m.fsys, script)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(body)) {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, journalSQL, args...); err != nil {
		return err
	}
	return tx.Commit()
}

// scripts lists dir/*suffix sorted by base name. A missing dir yields none.
func scripts(fsys fs.FS, dir, suffix string) ([]string, error) {
	if fsys == nil || dir == "" {
		return nil, nil
	}
	files, err := fs.Glob(fsys, path.Join(dir, "*"+suffix))
	if err != nil {
		return nil, err
	}
	slices.SortFunc(files, func(a, b string) int { return strings.Compare(path.Base(a), path.Base(b)) })
	return files, nil
}

// splitStatements cuts script at semicolons that sit outside single quotes.
func splitStatements(script string) []string {
	var (
		out    []string
		start  int
		quoted bool
	)
	for i := 0; i < len(script); i++ {
		switch script[i] {
		case '\'':
			quoted = !quoted
		case ';':
			if quoted {
				continue
			}
			if stmt := strings.TrimSpace(script[start : i+1]); stmt != ";" {
				out = append(out, stmt)
			}
			start = i + 1
		}
	}
	if rest := strings.TrimSpace(script[start:]); rest != "" {
		out = append(out, rest)
	}
	return out
}
