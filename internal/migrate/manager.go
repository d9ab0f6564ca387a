// Package migrate applies the SQL schema and seed files that back the
// access registry and identity stores.
package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

const (
	migrationsTable = "schema_migrations"
	seedsTable      = "schema_seeds"
)

// Migration is one versioned schema step found on disk.
type Migration struct {
	Name     string // base name of the .up.sql file
	UpPath   string
	DownPath string // empty when no rollback file exists
}

// Status pairs a migration with whether it has been applied.
type Status struct {
	Name      string
	Applied   bool
	AppliedAt time.Time
}

// Manager runs migrations and seeds against a single database.
type Manager struct {
	db            *sql.DB
	migrationsDir string
	seedsDir      string
}

func NewManager(db *sql.DB, migrationsDir, seedsDir string) *Manager {
	return &Manager{db: db, migrationsDir: migrationsDir, seedsDir: seedsDir}
}

// Up applies every migration that has not been recorded yet, in name order.
func (m *Manager) Up(ctx context.Context) (int, error) {
	if err := m.ensureTables(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedSet(ctx, migrationsTable)
	if err != nil {
		return 0, err
	}
	migs, err := m.collect()
	if err != nil {
		return 0, err
	}
	var n int
	for _, mig := range migs {
		if _, ok := applied[mig.Name]; ok {
			continue
		}
		if err := m.execFile(ctx, mig.UpPath); err != nil {
			return n, fmt.Errorf("migrate: apply %s: %w", mig.Name, err)
		}
		if err := m.record(ctx, migrationsTable, mig.Name); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// Down rolls back the most recently applied migration. It refuses to run
// when the migration has no .down.sql counterpart.
func (m *Manager) Down(ctx context.Context) (string, error) {
	if err := m.ensureTables(ctx); err != nil {
		return "", err
	}
	var last string
	err := m.db.QueryRowContext(ctx,
		fmt.Sprintf(`select name from %s order by applied_at desc, name desc limit 1`, migrationsTable),
	).Scan(&last)
	if errors.Is(err, sql.ErrNoRows) {
		return "", errors.New("migrate: nothing to roll back")
	}
	if err != nil {
		return "", err
	}

	migs, err := m.collect()
	if err != nil {
		return "", err
	}
	var target *Migration
	for i := range migs {
		if migs[i].Name == last {
			target = &migs[i]
			break
		}
	}
	if target == nil || target.DownPath == "" {
		return "", fmt.Errorf("migrate: no rollback file for %s", last)
	}
	if err := m.execFile(ctx, target.DownPath); err != nil {
		return "", fmt.Errorf("migrate: roll back %s: %w", last, err)
	}
	_, err = m.db.ExecContext(ctx,
		fmt.Sprintf(`delete from %s where name = $1`, migrationsTable), last)
	return last, err
}

// Report lists every known migration and whether it has been applied.
func (m *Manager) Report(ctx context.Context) ([]Status, error) {
	if err := m.ensureTables(ctx); err != nil {
		return nil, err
	}
	rows, err := m.db.QueryContext(ctx,
		fmt.Sprintf(`select name, applied_at from %s`, migrationsTable))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	applied := make(map[string]time.Time)
	for rows.Next() {
		var name string
		var at time.Time
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		applied[name] = at
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	migs, err := m.collect()
	if err != nil {
		return nil, err
	}
	statuses := make([]Status, 0, len(migs))
	for _, mig := range migs {
		at, ok := applied[mig.Name]
		statuses = append(statuses, Status{Name: mig.Name, Applied: ok, AppliedAt: at})
	}
	return statuses, nil
}

// Seed applies every seed file exactly once, in name order.
func (m *Manager) Seed(ctx context.Context) (int, error) {
	if err := m.ensureTables(ctx); err != nil {
		return 0, err
	}
	applied, err := m.appliedSet(ctx, seedsTable)
	if err != nil {
		return 0, err
	}
	names, err := listSQL(m.seedsDir, ".sql")
	if err != nil {
		return 0, err
	}
	var n int
	for _, name := range names {
		if _, ok := applied[name]; ok {
			continue
		}
		if err := m.execFile(ctx, filepath.Join(m.seedsDir, name)); err != nil {
			return n, fmt.Errorf("migrate: apply seed %s: %w", name, err)
		}
		if err := m.record(ctx, seedsTable, name); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func (m *Manager) ensureTables(ctx context.Context) error {
	for _, table := range []string{migrationsTable, seedsTable} {
		ddl := fmt.Sprintf(`
			create table if not exists %s (
				name text primary key,
				applied_at timestamptz not null default now()
			);`, table)
		if _, err := m.db.ExecContext(ctx, ddl); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) collect() ([]Migration, error) {
	names, err := listSQL(m.migrationsDir, ".up.sql")
	if err != nil {
		return nil, err
	}
	migs := make([]Migration, 0, len(names))
	for _, name := range names {
		mig := Migration{
			Name:   name,
			UpPath: filepath.Join(m.migrationsDir, name),
		}
		down := strings.TrimSuffix(name, ".up.sql") + ".down.sql"
		if _, err := os.Stat(filepath.Join(m.migrationsDir, down)); err == nil {
			mig.DownPath = filepath.Join(m.migrationsDir, down)
		}
		migs = append(migs, mig)
	}
	return migs, nil
}

func (m *Manager) execFile(ctx context.Context, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	tx, err := m.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	for _, stmt := range splitStatements(string(raw)) {
		if strings.TrimSpace(stmt) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (m *Manager) record(ctx context.Context, table, name string) error {
	_, err := m.db.ExecContext(ctx,
		fmt.Sprintf(`insert into %s(name, applied_at) values ($1, $2)`, table),
		name, time.Now().UTC())
	return err
}

func (m *Manager) appliedSet(ctx context.Context, table string) (map[string]struct{}, error) {
	rows, err := m.db.QueryContext(ctx, fmt.Sprintf(`select name from %s`, table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	set := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		set[name] = struct{}{}
	}
	return set, rows.Err()
}

func listSQL(dir, suffix string) ([]string, error) {
	if dir == "" {
		return nil, nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), suffix) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// splitStatements breaks a script on semicolons outside single-quoted
// strings. Good enough for the DDL and seed files shipped with the service.
func splitStatements(script string) []string {
	var stmts []string
	var b strings.Builder
	inString := false
	for _, r := range script {
		switch r {
		case '\'':
			inString = !inString
			b.WriteRune(r)
		case ';':
			b.WriteRune(r)
			if !inString {
				stmts = append(stmts, b.String())
				b.Reset()
			}
		default:
			b.WriteRune(r)
		}
	}
	if strings.TrimSpace(b.String()) != "" {
		stmts = append(stmts, b.String())
	}
	return stmts
}
