package migrate

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	src := `create table t (v text default 'a;b');
insert into t values ('x');`
	stmts := splitStatements(src)
	if len(stmts) != 2 {
		t.Fatalf("statements = %d, want 2: %q", len(stmts), stmts)
	}
	if !strings.Contains(stmts[0], "a;b") {
		t.Fatalf("quoted semicolon split: %q", stmts[0])
	}
}

func TestExpandParams(t *testing.T) {
	src := "insert into users (password_hash) values ({{bootstrap_password_hash}});"
	got, err := expandParams(src, map[string]string{"bootstrap_password_hash": "$2a$10$abc"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !strings.Contains(got, "values ('$2a$10$abc');") {
		t.Fatalf("substitution: %q", got)
	}
}

func TestExpandParamsEscapesQuotes(t *testing.T) {
	got, err := expandParams("select {{v}};", map[string]string{"v": "o'brien"})
	if err != nil {
		t.Fatalf("expand: %v", err)
	}
	if !strings.Contains(got, "'o''brien'") {
		t.Fatalf("quote escaping: %q", got)
	}
}

func TestExpandParamsRejectsUnresolvedToken(t *testing.T) {
	_, err := expandParams("select {{missing}};", nil)
	if err == nil {
		t.Fatal("expected an error for an unresolved token")
	}
	if !strings.Contains(err.Error(), "{{missing}}") {
		t.Fatalf("error should name the token: %v", err)
	}
}

func TestListSQLOrdersLexically(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("select 1;"), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}
	files, err := listSQL(dir, ".up.sql")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(files) != 2 {
		t.Fatalf("files = %d, want 2", len(files))
	}
	if files[0].name != "0001_a.up.sql" || files[1].name != "0002_b.up.sql" {
		t.Fatalf("order = %s, %s", files[0].name, files[1].name)
	}
}

func TestListSQLMissingDir(t *testing.T) {
	files, err := listSQL(filepath.Join(t.TempDir(), "absent"), ".sql")
	if err != nil {
		t.Fatalf("err = %v, want nil", err)
	}
	if files != nil {
		t.Fatalf("files = %v, want nil", files)
	}
}
