package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pavelanni/pastpaper/internal/handler"
)

const paperJSON = `{
  "id": "bio-2020",
  "title": "Biology 2020",
  "duration_sec": 600,
  "total_marks": 1,
  "questions": [
    {"id": "Q1", "prompt": "Powerhouse of the cell?", "options": [{"label": "A", "text": "Nucleus"}, {"label": "B", "text": "Mitochondrion"}], "answer": "B", "marks": 1}
  ]
}`

func run(t *testing.T, stdin string, args ...string) string {
	t.Helper()
	root := rootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		t.Fatalf("%v: %v\n%s", args, err, out.String())
	}
	return out.String()
}

func TestTokenCommand(t *testing.T) {
	out := run(t, "", "token", "--student", "alice", "--jwt-secret", "s3cret", "--log-level", "error")
	auth, _ := handler.NewAuth("s3cret", 0)
	st, err := auth.Parse(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if st.ID != "alice" {
		t.Errorf("subject = %q", st.ID)
	}
}

func TestHashPasswordCommand(t *testing.T) {
	out := run(t, "hunter2\n", "hash-password")
	if !strings.HasPrefix(out, "$2") {
		t.Errorf("not a bcrypt hash: %q", out)
	}
}

func TestImportAndExport(t *testing.T) {
	dir := t.TempDir()
	papers := filepath.Join(dir, "papers")
	if err := os.Mkdir(papers, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(papers, "bio-2020.json"), []byte(paperJSON), 0o644); err != nil {
		t.Fatal(err)
	}
	db := filepath.Join(dir, "test.db")

	out := run(t, "", "import", papers, "--db", db, "--log-level", "error")
	if !strings.Contains(out, "imported 1 paper(s)") {
		t.Errorf("import output %q", out)
	}
	out = run(t, "", "import", papers, "--db", db, "--log-level", "error")
	if !strings.Contains(out, "imported 0 paper(s)") {
		t.Errorf("second import output %q", out)
	}

	out = run(t, "", "export", "--db", db, "--paper", "bio-2020", "--log-level", "error")
	if !strings.Contains(out, `"count": 0`) {
		t.Errorf("export output %q", out)
	}
}
