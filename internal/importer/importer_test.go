package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/xuri/excelize/v2"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/store"
)

const paperJSON = `{
  "id": "chem-2021-2",
  "title": "Chemistry 2021 Paper 2",
  "subject": "Chemistry",
  "year": 2021,
  "duration_sec": 1800,
  "total_marks": 3,
  "questions": [
    {"id": "Q1", "prompt": "pH of water?", "options": [{"label": "A", "text": "7"}, {"label": "B", "text": "1"}], "answer": "A", "marks": 1},
    {"id": "Q2", "prompt": "Noble gas?", "options": [{"label": "A", "text": "Ne"}, {"label": "B", "text": "Na"}, {"label": "C", "text": "Cl"}], "answer": "A", "marks": 2, "topic": "periodic table"}
  ]
}`

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(context.Background(), store.DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestDecodeJSON(t *testing.T) {
	pi, err := DecodeJSON([]byte(paperJSON))
	if err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if pi.ID != "chem-2021-2" || len(pi.Questions) != 2 || pi.Questions[1].Topic != "periodic table" {
		t.Errorf("decoded %+v", pi)
	}

	_, err = DecodeJSON([]byte(`{"id": "x", "duration": 10}`))
	if err == nil {
		t.Error("expected unknown field error")
	}
}

func TestDecodeUnsupported(t *testing.T) {
	if _, err := Decode("paper.csv", nil); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestXLSXRoundTrip(t *testing.T) {
	want, _ := DecodeJSON([]byte(paperJSON))
	data, err := EncodeXLSX(want)
	if err != nil {
		t.Fatalf("EncodeXLSX: %v", err)
	}
	got, err := DecodeXLSX(data)
	if err != nil {
		t.Fatalf("DecodeXLSX: %v", err)
	}
	if got.ID != want.ID || got.Year != 2021 || got.DurationSec != 1800 || got.TotalMarks != 3 {
		t.Errorf("paper fields %+v", got)
	}
	if len(got.Questions) != 2 || len(got.Questions[1].Options) != 3 || got.Questions[1].Marks != 2 {
		t.Fatalf("questions %+v", got.Questions)
	}
	if _, err := bank.NewPaper(got); err != nil {
		t.Errorf("decoded workbook is not a valid paper: %v", err)
	}
}

func TestDecodeXLSXRowErrors(t *testing.T) {
	f := excelize.NewFile()
	f.NewSheet(PaperSheet)
	f.SetSheetRow(PaperSheet, "A1", &[]any{"id", "bad"})
	f.SetSheetRow(PaperSheet, "A2", &[]any{"duration_sec", 60})
	f.NewSheet(QuestionsSheet)
	f.SetSheetRow(QuestionsSheet, "A1", &[]any{"id", "prompt", "A", "B", "answer", "marks"})
	f.SetSheetRow(QuestionsSheet, "A2", &[]any{"Q1", "ok?", "yes", "no", "A", "one"})
	f.SetSheetRow(QuestionsSheet, "A3", &[]any{"", "no id", "yes", "no", "A", 1})
	buf, err := f.WriteToBuffer()
	if err != nil {
		t.Fatalf("WriteToBuffer: %v", err)
	}

	_, err = DecodeXLSX(buf.Bytes())
	var rowErrs RowErrors
	if !errors.As(err, &rowErrs) {
		t.Fatalf("expected RowErrors, got %v", err)
	}
	if len(rowErrs) != 2 || !strings.Contains(rowErrs[0], "row 2") || !strings.Contains(rowErrs[1], "row 3") {
		t.Errorf("row errors %v", rowErrs)
	}
}

func TestImportFileDedupe(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	dir := t.TempDir()
	path := writeFile(t, dir, "chem.json", []byte(paperJSON))

	var stored []string
	im := New(s)
	im.OnStored = func(id string) { stored = append(stored, id) }

	out, err := im.ImportFile(ctx, path)
	if err != nil {
		t.Fatalf("ImportFile: %v", err)
	}
	if out.Status != StatusImported || out.PaperID != "chem-2021-2" {
		t.Errorf("outcome %+v", out)
	}

	out, _ = im.ImportFile(ctx, path)
	if out.Status != StatusUnchanged {
		t.Errorf("second import status = %s, want unchanged", out.Status)
	}

	changed := strings.Replace(paperJSON, "Chemistry 2021 Paper 2", "Chemistry 2021 Paper 2 (revised)", 1)
	writeFile(t, dir, "chem.json", []byte(changed))
	out, _ = im.ImportFile(ctx, path)
	if out.Status != StatusChanged {
		t.Errorf("changed import status = %s, want changed", out.Status)
	}

	im.Force = true
	out, err = im.ImportFile(ctx, path)
	if err != nil || out.Status != StatusImported {
		t.Fatalf("forced import = %+v, %v", out, err)
	}
	pi, _ := s.LoadPaper(ctx, "chem-2021-2")
	if pi.Title != "Chemistry 2021 Paper 2 (revised)" {
		t.Errorf("title = %q", pi.Title)
	}
	if len(stored) != 2 {
		t.Errorf("OnStored called %d times, want 2", len(stored))
	}
}

func TestImportRejectsInvalidPaper(t *testing.T) {
	s := newTestStore(t)
	bad := strings.Replace(paperJSON, `"total_marks": 3`, `"total_marks": 5`, 1)
	_, err := New(s).Import(context.Background(), "bad.json", []byte(bad))
	if !errors.Is(err, bank.ErrInvariant) {
		t.Fatalf("expected ErrInvariant, got %v", err)
	}
	list, _ := s.ListPapers(context.Background())
	if len(list) != 0 {
		t.Error("invalid paper was stored")
	}
}

func TestDirSource(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chem-2021-2.json", []byte(paperJSON))
	pi, _ := DecodeJSON([]byte(paperJSON))
	pi.ID = "chem-2022-1"
	data, err := EncodeXLSX(pi)
	if err != nil {
		t.Fatalf("EncodeXLSX: %v", err)
	}
	writeFile(t, dir, "chem-2022-1.xlsx", data)
	writeFile(t, dir, "notes.txt", []byte("ignore me"))

	b := bank.New(Dir(dir))
	ctx := context.Background()
	for _, id := range []string{"chem-2021-2", "chem-2022-1"} {
		if _, err := b.Load(ctx, id); err != nil {
			t.Errorf("Load(%s): %v", id, err)
		}
	}
	for _, id := range []string{"missing", "../etc", ""} {
		if _, err := b.Load(ctx, id); !errors.Is(err, bank.ErrNotFound) {
			t.Errorf("Load(%q) = %v, want ErrNotFound", id, err)
		}
	}

	files, err := Dir(dir).Files()
	if err != nil {
		t.Fatalf("Files: %v", err)
	}
	if len(files) != 2 {
		t.Errorf("Files = %v", files)
	}
}
