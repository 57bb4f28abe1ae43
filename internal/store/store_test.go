package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/model"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("newTestStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testPaper(t *testing.T, id string, year int) *bank.Paper {
	t.Helper()
	opts := []model.OptionImport{{Label: "A", Text: "yes"}, {Label: "B", Text: "no"}, {Label: "C", Text: "maybe"}}
	p, err := bank.NewPaper(model.PaperImport{
		ID:          id,
		Title:       "Paper " + id,
		Subject:     "Physics",
		Year:        year,
		DurationSec: 900,
		TotalMarks:  3,
		Questions: []model.QuestionImport{
			{ID: "Q1", Prompt: "One?", Options: opts, Answer: "A", Marks: 1, Topic: "waves"},
			{ID: "Q2", Prompt: "Two?", Options: opts, Answer: "C", Marks: 2, Explanation: "Because C."},
		},
	})
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}
	return p
}

func TestPaperCRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	list, err := s.ListPapers(ctx)
	if err != nil {
		t.Fatalf("ListPapers: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %d", len(list))
	}

	if err := s.PutPaper(ctx, testPaper(t, "phys-2018", 2018)); err != nil {
		t.Fatalf("PutPaper: %v", err)
	}
	if err := s.PutPaper(ctx, testPaper(t, "phys-2020", 2020)); err != nil {
		t.Fatalf("PutPaper: %v", err)
	}

	pi, err := s.LoadPaper(ctx, "phys-2018")
	if err != nil {
		t.Fatalf("LoadPaper: %v", err)
	}
	p, err := bank.NewPaper(pi)
	if err != nil {
		t.Fatalf("stored paper no longer valid: %v", err)
	}
	q2, _ := p.Question("Q2")
	if q2.Answer() != "C" || q2.Explanation != "Because C." || len(q2.Options()) != 3 {
		t.Errorf("Q2 lost data: %+v", pi.Questions[1])
	}
	if p.At(0).ID != "Q1" {
		t.Errorf("question order lost")
	}

	list, _ = s.ListPapers(ctx)
	if len(list) != 2 || list[0].ID != "phys-2020" {
		t.Fatalf("expected newest first, got %+v", list)
	}
	if list[0].QuestionCount != 2 || list[0].TotalMarks != 3 {
		t.Errorf("summary %+v", list[0])
	}

	// Replacing a paper must not duplicate questions.
	if err := s.PutPaper(ctx, testPaper(t, "phys-2018", 2018)); err != nil {
		t.Fatalf("PutPaper again: %v", err)
	}
	pi, _ = s.LoadPaper(ctx, "phys-2018")
	if len(pi.Questions) != 2 {
		t.Errorf("expected 2 questions after replace, got %d", len(pi.Questions))
	}

	if _, err := s.LoadPaper(ctx, "nope"); !errors.Is(err, bank.ErrNotFound) {
		t.Errorf("expected bank.ErrNotFound, got %v", err)
	}
	if err := s.DeletePaper(ctx, "phys-2018"); err != nil {
		t.Fatalf("DeletePaper: %v", err)
	}
	if err := s.DeletePaper(ctx, "phys-2018"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second delete = %v, want ErrNotFound", err)
	}
	if _, err := s.LoadPaper(ctx, "phys-2018"); !errors.Is(err, bank.ErrNotFound) {
		t.Errorf("deleted paper still loads: %v", err)
	}
}

func TestStoreBacksBank(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	s.PutPaper(ctx, testPaper(t, "phys-2018", 2018))

	b := bank.New(s)
	p, err := b.Load(ctx, "phys-2018")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if p.TotalMarks() != 3 {
		t.Errorf("TotalMarks = %d", p.TotalMarks())
	}
}

func testResult(session, paper, student string, score int, at time.Time) model.Result {
	return model.Result{
		SessionID:   session,
		PaperID:     paper,
		StudentID:   student,
		Score:       score,
		TotalMarks:  3,
		Percentage:  score * 100 / 3,
		Grade:       model.GradeC,
		Trigger:     model.TriggerManual,
		SubmittedAt: at,
		Outcomes: []model.QuestionOutcome{
			{QuestionID: "Q1", Ordinal: 1, Selected: "A", Correct: "A", Verdict: model.VerdictCorrect, Marks: 1, Awarded: 1},
		},
	}
}

func testReview(session string) model.ReviewModel {
	return model.ReviewModel{
		SessionID: session,
		Title:     "Physics",
		Items: []model.ReviewItem{
			{QuestionID: "Q1", Prompt: "Frozen prompt?", Correct: "A", Verdict: model.VerdictCorrect},
		},
	}
}

func TestResults(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	if err := s.SaveResult(ctx, testResult("s1", "phys-2018", "alice", 2, base), testReview("s1")); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult(ctx, testResult("s2", "phys-2018", "bob", 1, base.Add(time.Hour)), testReview("s2")); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult(ctx, testResult("s3", "phys-2020", "alice", 3, base.Add(2*time.Hour)), testReview("s3")); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}

	// Saving again keeps the first copy.
	if err := s.SaveResult(ctx, testResult("s1", "phys-2018", "alice", 0, base), testReview("s1")); err != nil {
		t.Fatalf("SaveResult twice: %v", err)
	}
	got, err := s.GetResult(ctx, "s1")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Score != 2 || got.Result.Score != 2 {
		t.Errorf("expected first copy kept, got %+v", got)
	}
	if len(got.Result.Outcomes) != 1 || got.Result.Outcomes[0].Verdict != model.VerdictCorrect {
		t.Errorf("outcomes lost: %+v", got.Result.Outcomes)
	}
	if !got.Result.SubmittedAt.Equal(base) {
		t.Errorf("submitted at = %v", got.Result.SubmittedAt)
	}
	if got.Review == nil || len(got.Review.Items) != 1 || got.Review.Items[0].Prompt != "Frozen prompt?" {
		t.Errorf("review not stored: %+v", got.Review)
	}

	if _, err := s.GetResult(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	tests := []struct {
		name   string
		filter model.ResultFilter
		want   []string
	}{
		{"all", model.ResultFilter{}, []string{"s3", "s2", "s1"}},
		{"by paper", model.ResultFilter{PaperID: "phys-2018"}, []string{"s2", "s1"}},
		{"by student", model.ResultFilter{StudentID: "alice"}, []string{"s3", "s1"}},
		{"both", model.ResultFilter{PaperID: "phys-2018", StudentID: "bob"}, []string{"s2"}},
		{"limit", model.ResultFilter{Limit: 1}, []string{"s3"}},
		{"none", model.ResultFilter{StudentID: "carol"}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			list, err := s.ListResults(ctx, tt.filter)
			if err != nil {
				t.Fatalf("ListResults: %v", err)
			}
			if len(list) != len(tt.want) {
				t.Fatalf("got %d results, want %d", len(list), len(tt.want))
			}
			for i, r := range list {
				if r.SessionID != tt.want[i] {
					t.Errorf("result %d = %s, want %s", i, r.SessionID, tt.want[i])
				}
			}
		})
	}

	exp, err := s.ExportResults(ctx, "phys-2018")
	if err != nil {
		t.Fatalf("ExportResults: %v", err)
	}
	if exp.Count != 2 || exp.PaperID != "phys-2018" || len(exp.Results) != 2 {
		t.Errorf("export %+v", exp)
	}
}

func TestImportedFileHash(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	h, err := s.GetImportedFileHash(ctx, "papers/phys.json")
	if err != nil || h != "" {
		t.Fatalf("expected no hash, got %q, %v", h, err)
	}
	if err := s.SetImportedFileHash(ctx, "papers/phys.json", "abc", "phys-2018"); err != nil {
		t.Fatalf("SetImportedFileHash: %v", err)
	}
	if err := s.SetImportedFileHash(ctx, "papers/phys.json", "def", "phys-2018"); err != nil {
		t.Fatalf("SetImportedFileHash update: %v", err)
	}
	h, _ = s.GetImportedFileHash(ctx, "papers/phys.json")
	if h != "def" {
		t.Errorf("hash = %q, want def", h)
	}
}

func TestOpenUnsupportedDriver(t *testing.T) {
	if _, err := Open(context.Background(), Driver("oracle"), ""); err == nil {
		t.Error("expected error for unsupported driver")
	}
}

func TestMigrateAddsReviewColumn(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "old.db")

	old, err := sqlx.Open("sqlite", path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	_, err = old.Exec(`CREATE TABLE results (
		session_id TEXT PRIMARY KEY,
		paper_id TEXT NOT NULL,
		student_id TEXT NOT NULL DEFAULT '',
		score INTEGER NOT NULL,
		total_marks INTEGER NOT NULL,
		percentage INTEGER NOT NULL,
		grade TEXT NOT NULL,
		submitted_at BIGINT NOT NULL,
		result_json TEXT NOT NULL
	)`)
	if err != nil {
		t.Fatalf("create old table: %v", err)
	}
	_, err = old.Exec(`INSERT INTO results VALUES ('s0', 'phys-2018', 'alice', 1, 3, 33, 'F', 0, '{"session_id":"s0"}')`)
	if err != nil {
		t.Fatalf("insert old row: %v", err)
	}
	old.Close()

	s, err := Open(ctx, DriverSQLite, path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer s.Close()

	got, err := s.GetResult(ctx, "s0")
	if err != nil {
		t.Fatalf("GetResult: %v", err)
	}
	if got.Review != nil {
		t.Errorf("expected no review for old row, got %+v", got.Review)
	}
	if err := s.SaveResult(ctx, testResult("s1", "phys-2018", "alice", 2, time.Unix(0, 0)), testReview("s1")); err != nil {
		t.Fatalf("SaveResult after migrate: %v", err)
	}
}
