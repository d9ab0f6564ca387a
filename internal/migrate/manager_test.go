package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	script := `
create table allowed_addresses (address text primary key);
insert into allowed_addresses(address) values ('10.0.0.1;2');
`
	stmts := splitStatements(script)
	if len(stmts) != 2 {
		t.Fatalf("got %d statements, want 2", len(stmts))
	}
	if !strings.Contains(stmts[1], "'10.0.0.1;2'") {
		t.Fatalf("semicolon inside string literal split the statement: %q", stmts[1])
	}
}

func TestCollectPairsUpAndDown(t *testing.T) {
	dir := t.TempDir()
	write := func(name string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	write("0002_addresses.up.sql")
	write("0001_init.up.sql")
	write("0001_init.down.sql")

	m := &Manager{migrationsDir: dir}
	migs, err := m.collect()
	if err != nil {
		t.Fatalf("collect: %v", err)
	}
	if len(migs) != 2 {
		t.Fatalf("got %d migrations, want 2", len(migs))
	}
	if migs[0].Name != "0001_init.up.sql" {
		t.Fatalf("migrations out of order: %v", migs)
	}
	if migs[0].DownPath == "" {
		t.Fatalf("0001 should have a rollback file")
	}
	if migs[1].DownPath != "" {
		t.Fatalf("0002 should not have a rollback file")
	}
}

func TestListSQLMissingDir(t *testing.T) {
	names, err := listSQL(filepath.Join(t.TempDir(), "nope"), ".sql")
	if err != nil {
		t.Fatalf("missing dir should not error: %v", err)
	}
	if names != nil {
		t.Fatalf("expected nil, got %v", names)
	}
}
