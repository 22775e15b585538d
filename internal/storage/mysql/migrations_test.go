package mysql

import (
	"context"
	"database/sql/driver"
	"testing"
	"testing/fstest"

	"SwapAgent-Chain/internal/testutil/sqlmock"
)

func TestSplitSQLStatements(t *testing.T) {
	content := `-- agents
CREATE TABLE a (id INT);

  -- history
CREATE TABLE b (id INT);
`
	statements := splitSQLStatements(content)
	if len(statements) != 2 {
		t.Fatalf("expected 2 statements, got %d: %q", len(statements), statements)
	}
	if statements[0] != "CREATE TABLE a (id INT)" || statements[1] != "CREATE TABLE b (id INT)" {
		t.Fatalf("unexpected statements: %q", statements)
	}
}

func TestParseMigrationVersion(t *testing.T) {
	cases := map[string]string{
		"0001_init.sql": "0001",
		"0002.sql":      "0002",
		"seed":          "seed",
	}
	for name, want := range cases {
		if got := parseMigrationVersion(name); got != want {
			t.Fatalf("parseMigrationVersion(%q) = %q, want %q", name, got, want)
		}
	}
}

func TestEmbeddedMigrationsCreateSchema(t *testing.T) {
	files, err := loadMigrationFiles(embeddedMigrations)
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(files) == 0 || files[0].version != "0001" {
		t.Fatalf("unexpected migrations: %+v", files)
	}
	if len(files[0].statements) != 2 {
		t.Fatalf("expected agents and task_history tables, got %d statements", len(files[0].statements))
	}
}

func TestMigrateSkipsAppliedVersions(t *testing.T) {
	source := fstest.MapFS{
		"0001_init.sql":  {Data: []byte("CREATE TABLE a (id INT);")},
		"0002_more.sql":  {Data: []byte("CREATE TABLE b (id INT);\nCREATE TABLE c (id INT);")},
		"README.md":      {Data: []byte("ignored")},
		"0003_empty.sql": {Data: []byte("-- nothing here\n")},
	}

	db, drv := sqlmock.New(t,
		sqlmock.Exec("", sqlmock.Result{}),
		sqlmock.Query(`SELECT version FROM schema_migrations`, sqlmock.Rows{Columns: []string{"version"}, Values: [][]driver.Value{{"0001"}}}),
		sqlmock.Begin(),
		sqlmock.Exec(`CREATE TABLE b (id INT)`, sqlmock.Result{}),
		sqlmock.Exec(`CREATE TABLE c (id INT)`, sqlmock.Result{}),
		sqlmock.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`, sqlmock.Result{RowsAffected: 1}),
		sqlmock.Commit(),
	)
	defer drv.AssertConsumed(t)
	defer db.Close()

	if err := migrate(context.Background(), db, source); err != nil {
		t.Fatalf("migrate: %v", err)
	}
}
