package bank

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pavelanni/pastpaper/internal/model"
)

func threeQuestionPaper() model.PaperImport {
	opts := []model.OptionImport{
		{Label: "A", Text: "alpha"},
		{Label: "B", Text: "beta"},
		{Label: "C", Text: "gamma"},
		{Label: "D", Text: "delta"},
	}
	return model.PaperImport{
		ID:          "math-2019-1",
		Title:       "Mathematics 2019 Paper 1",
		Subject:     "Mathematics",
		Year:        2019,
		DurationSec: 600,
		TotalMarks:  3,
		Questions: []model.QuestionImport{
			{ID: "Q1", Prompt: "First?", Options: opts, Answer: "A", Marks: 1, Topic: "algebra"},
			{ID: "Q2", Prompt: "Second?", Options: opts, Answer: "B", Marks: 1, Topic: "algebra"},
			{ID: "Q3", Prompt: "Third?", Options: opts, Answer: "D", Marks: 1, Topic: "geometry", Explanation: "Because."},
		},
	}
}

func TestNewPaper(t *testing.T) {
	p, err := NewPaper(threeQuestionPaper())
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}
	if p.Len() != 3 {
		t.Fatalf("expected 3 questions, got %d", p.Len())
	}
	for i, q := range p.Questions() {
		if q.Ordinal != i+1 {
			t.Errorf("question %s ordinal = %d, want %d", q.ID, q.Ordinal, i+1)
		}
	}
	q3, ok := p.Question("Q3")
	if !ok {
		t.Fatal("Q3 not found")
	}
	if q3.Answer() != "D" {
		t.Errorf("Q3 answer = %q, want D", q3.Answer())
	}
	if p.IndexOf("Q2") != 1 {
		t.Errorf("IndexOf(Q2) = %d, want 1", p.IndexOf("Q2"))
	}
	if p.IndexOf("Q9") != -1 {
		t.Errorf("IndexOf(Q9) = %d, want -1", p.IndexOf("Q9"))
	}
}

func TestNewPaperInvariants(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.PaperImport)
		reason string
	}{
		{"marks do not sum", func(p *model.PaperImport) { p.TotalMarks = 4 }, "sum to 3"},
		{"no questions", func(p *model.PaperImport) { p.Questions = nil }, "no questions"},
		{"zero duration", func(p *model.PaperImport) { p.DurationSec = 0 }, "duration"},
		{"empty id", func(p *model.PaperImport) { p.ID = " " }, "id is empty"},
		{"one option", func(p *model.PaperImport) {
			p.Questions[0].Options = p.Questions[0].Options[:1]
		}, "1 options"},
		{"six options", func(p *model.PaperImport) {
			p.Questions[0].Options = append(p.Questions[0].Options,
				model.OptionImport{Label: "E", Text: "e"}, model.OptionImport{Label: "F", Text: "f"})
		}, "6 options"},
		{"empty option text", func(p *model.PaperImport) {
			p.Questions[1].Options = []model.OptionImport{{Label: "A", Text: "x"}, {Label: "B", Text: "  "}}
		}, "option B is empty"},
		{"lowercase-invalid label", func(p *model.PaperImport) {
			p.Questions[1].Options = []model.OptionImport{{Label: "A", Text: "x"}, {Label: "AB", Text: "y"}}
		}, "invalid option label"},
		{"duplicate label", func(p *model.PaperImport) {
			p.Questions[1].Options = []model.OptionImport{{Label: "A", Text: "x"}, {Label: "A", Text: "y"}}
		}, "repeats option label"},
		{"answer not among options", func(p *model.PaperImport) { p.Questions[2].Answer = "E" }, "not one of its options"},
		{"missing answer", func(p *model.PaperImport) { p.Questions[2].Answer = "" }, "not one of its options"},
		{"duplicate question id", func(p *model.PaperImport) { p.Questions[2].ID = "Q1" }, "duplicate question id"},
		{"non-positive marks", func(p *model.PaperImport) {
			p.Questions[0].Marks = 0
			p.TotalMarks = 2
		}, "marks must be positive"},
		{"empty prompt", func(p *model.PaperImport) { p.Questions[0].Prompt = "" }, "empty prompt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pi := threeQuestionPaper()
			tt.mutate(&pi)
			_, err := NewPaper(pi)
			if err == nil {
				t.Fatal("expected error")
			}
			if !errors.Is(err, ErrInvariant) {
				t.Errorf("expected ErrInvariant, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.reason) {
				t.Errorf("error %q does not mention %q", err.Error(), tt.reason)
			}
		})
	}
}

func TestLabelsNormalized(t *testing.T) {
	pi := threeQuestionPaper()
	pi.Questions[0].Options = []model.OptionImport{{Label: "a", Text: "x"}, {Label: " b ", Text: "y"}}
	pi.Questions[0].Answer = "b"
	p, err := NewPaper(pi)
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}
	q := p.At(0)
	if !q.HasOption("B") || q.HasOption("b") {
		t.Errorf("labels not normalized: %+v", q.Options())
	}
	if q.Answer() != "B" {
		t.Errorf("answer = %q, want B", q.Answer())
	}
}

func TestPublicViewHidesAnswers(t *testing.T) {
	p, err := NewPaper(threeQuestionPaper())
	if err != nil {
		t.Fatalf("NewPaper: %v", err)
	}

	for name, v := range map[string]any{
		"public paper": p.Public(),
		"question":     p.At(2),
		"questions":    p.Questions(),
	} {
		data, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("%s: marshal: %v", name, err)
		}
		s := string(data)
		if strings.Contains(s, "answer") || strings.Contains(s, "Because.") {
			t.Errorf("%s leaks answer or explanation: %s", name, s)
		}
	}
}

func TestQuestionsReturnsCopy(t *testing.T) {
	p, _ := NewPaper(threeQuestionPaper())
	qs := p.Questions()
	qs[0].Marks = 100
	qs[0].Prompt = "changed"
	if p.At(0).Marks != 1 || p.At(0).Prompt != "First?" {
		t.Error("mutating the returned slice changed the paper")
	}
	opts := p.At(0).Options()
	opts[0].Text = "changed"
	if p.At(0).Options()[0].Text != "alpha" {
		t.Error("mutating returned options changed the paper")
	}
}

func TestImportRoundTrip(t *testing.T) {
	p, _ := NewPaper(threeQuestionPaper())
	again, err := NewPaper(p.Import())
	if err != nil {
		t.Fatalf("NewPaper(Import()): %v", err)
	}
	if again.At(2).Answer() != "D" || again.At(2).Explanation != "Because." {
		t.Errorf("round trip lost data: %+v", again.At(2))
	}
}

func TestBankLoad(t *testing.T) {
	var calls atomic.Int32
	src := SourceFunc(func(ctx context.Context, id string) (model.PaperImport, error) {
		calls.Add(1)
		switch id {
		case "math-2019-1":
			return threeQuestionPaper(), nil
		case "broken":
			return model.PaperImport{}, errors.New("connection reset")
		case "bad-marks":
			pi := threeQuestionPaper()
			pi.ID = "bad-marks"
			pi.TotalMarks = 10
			return pi, nil
		default:
			return model.PaperImport{}, ErrNotFound
		}
	})
	b := New(src)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := b.Load(ctx, "math-2019-1"); err != nil {
				t.Errorf("Load: %v", err)
			}
		}()
	}
	wg.Wait()
	p1, _ := b.Load(ctx, "math-2019-1")
	p2, _ := b.Load(ctx, "math-2019-1")
	if p1 != p2 {
		t.Error("expected the cached paper to be shared")
	}
	if n := calls.Load(); n < 1 || n > 8 {
		t.Errorf("unexpected source calls %d", n)
	}
	before := calls.Load()
	b.Load(ctx, "math-2019-1")
	if calls.Load() != before {
		t.Error("cached load hit the source")
	}

	b.Invalidate("math-2019-1")
	p3, err := b.Load(ctx, "math-2019-1")
	if err != nil {
		t.Fatalf("Load after Invalidate: %v", err)
	}
	if p3 == p1 {
		t.Error("expected a fresh paper after Invalidate")
	}

	if _, err := b.Load(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	_, err = b.Load(ctx, "broken")
	if !errors.Is(err, ErrLoad) {
		t.Errorf("expected ErrLoad, got %v", err)
	}
	var le *LoadError
	if !errors.As(err, &le) || le.PaperID != "broken" {
		t.Errorf("expected *LoadError for broken, got %v", err)
	}
	if _, err := b.Load(ctx, "bad-marks"); !errors.Is(err, ErrInvariant) {
		t.Errorf("expected ErrInvariant, got %v", err)
	}
}

func TestInvalidateDuringFetch(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	src := SourceFunc(func(ctx context.Context, id string) (model.PaperImport, error) {
		pi := threeQuestionPaper()
		if calls.Add(1) == 1 {
			close(started)
			<-release
			pi.Title = "Old title"
			return pi, nil
		}
		pi.Title = "New title"
		return pi, nil
	})
	b := New(src)
	ctx := context.Background()

	done := make(chan *Paper)
	go func() {
		p, err := b.Load(ctx, "math-2019-1")
		if err != nil {
			t.Errorf("Load: %v", err)
		}
		done <- p
	}()
	<-started
	b.Invalidate("math-2019-1")
	close(release)

	if old := <-done; old == nil || old.Title() != "Old title" {
		t.Fatalf("in-flight load returned %v", old)
	}
	p, err := b.Load(ctx, "math-2019-1")
	if err != nil {
		t.Fatalf("Load after Invalidate: %v", err)
	}
	if p.Title() != "New title" {
		t.Errorf("stale paper cached: title %q", p.Title())
	}
	if n := calls.Load(); n != 2 {
		t.Errorf("source calls = %d, want 2", n)
	}
}

func TestCancelledCallerDoesNotFailOthers(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32
	src := SourceFunc(func(ctx context.Context, id string) (model.PaperImport, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		select {
		case <-release:
		case <-ctx.Done():
			return model.PaperImport{}, ctx.Err()
		}
		return threeQuestionPaper(), nil
	})
	b := New(src)

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := b.Load(first, "math-2019-1")
		firstErr <- err
	}()
	<-started

	second := make(chan error, 1)
	go func() {
		_, err := b.Load(context.Background(), "math-2019-1")
		second <- err
	}()

	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller got %v, want context.Canceled", err)
	}
	close(release)

	select {
	case err := <-second:
		if err != nil {
			t.Fatalf("second caller failed: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not finish")
	}
	if _, err := b.Load(context.Background(), "math-2019-1"); err != nil {
		t.Fatalf("cached Load: %v", err)
	}
	if n := calls.Load(); n != 1 {
		t.Errorf("source calls = %d, want 1", n)
	}
}
