package attempts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/engine"
	"github.com/pavelanni/pastpaper/internal/model"
)

type memorySink struct {
	mu      sync.Mutex
	fail    bool
	results map[string]model.Result
	reviews map[string]model.ReviewModel
}

func (s *memorySink) SaveResult(_ context.Context, res model.Result, rm model.ReviewModel) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("database is locked")
	}
	if s.results == nil {
		s.results = map[string]model.Result{}
		s.reviews = map[string]model.ReviewModel{}
	}
	s.results[res.SessionID] = res
	s.reviews[res.SessionID] = rm
	return nil
}

func (s *memorySink) review(id string) model.ReviewModel {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reviews[id]
}

func (s *memorySink) get(id string) (model.Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.results[id]
	return r, ok
}

func (s *memorySink) setFail(v bool) {
	s.mu.Lock()
	s.fail = v
	s.mu.Unlock()
}

func testBank() *bank.Bank {
	opts := []model.OptionImport{{Label: "A", Text: "yes"}, {Label: "B", Text: "no"}}
	return bank.New(bank.SourceFunc(func(_ context.Context, id string) (model.PaperImport, error) {
		if id != "short" {
			return model.PaperImport{}, bank.ErrNotFound
		}
		return model.PaperImport{
			ID:          "short",
			Title:       "Short paper",
			DurationSec: 3,
			TotalMarks:  2,
			Questions: []model.QuestionImport{
				{ID: "Q1", Prompt: "One?", Options: opts, Answer: "A", Marks: 1},
				{ID: "Q2", Prompt: "Two?", Options: opts, Answer: "B", Marks: 1},
			},
		}, nil
	}))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestStartResumesOwnSession(t *testing.T) {
	m := New(testBank(), nil, &memorySink{})
	defer m.Close()
	ctx := context.Background()

	s1, resumed, err := m.Start(ctx, "alice", "short")
	if err != nil || resumed {
		t.Fatalf("Start = %v, resumed=%v", err, resumed)
	}
	s2, resumed, err := m.Start(ctx, "alice", "short")
	if err != nil || !resumed || s2 != s1 {
		t.Fatalf("expected to resume %s, got %v resumed=%v err=%v", s1.ID(), s2, resumed, err)
	}
	s3, resumed, _ := m.Start(ctx, "bob", "short")
	if resumed || s3 == s1 {
		t.Error("another student must get a new session")
	}

	if _, err := m.Get(s1.ID(), "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get by another owner = %v, want ErrNotFound", err)
	}
	if len(m.Active()) != 2 {
		t.Errorf("Active = %d, want 2", len(m.Active()))
	}
}

func TestStartUnknownPaper(t *testing.T) {
	m := New(testBank(), nil, &memorySink{})
	defer m.Close()
	if _, _, err := m.Start(context.Background(), "alice", "nope"); !errors.Is(err, bank.ErrNotFound) {
		t.Fatalf("Start = %v, want ErrNotFound", err)
	}
	waitFor(t, func() bool { return len(m.Active()) == 0 })
}

func TestTickExpiresAndSaves(t *testing.T) {
	sink := &memorySink{}
	m := New(testBank(), nil, sink)
	defer m.Close()

	s, _, err := m.Start(context.Background(), "alice", "short")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := s.Select("Q1", "A"); err != nil {
		t.Fatalf("Select: %v", err)
	}
	for i := 0; i < 3; i++ {
		m.tick()
	}

	waitFor(t, func() bool { _, ok := sink.get(s.ID()); return ok })
	res, _ := sink.get(s.ID())
	if res.Trigger != model.TriggerExpired || res.Score != 1 || res.StudentID != "alice" {
		t.Errorf("saved %+v", res)
	}
	if rm := sink.review(s.ID()); len(rm.Items) != 2 || rm.Items[0].Prompt != "One?" {
		t.Errorf("saved review %+v", rm)
	}
	waitFor(t, func() bool { _, err := m.Get(s.ID(), "alice"); return err != nil })
}

func TestSaveFailureIsRetried(t *testing.T) {
	sink := &memorySink{fail: true}
	m := New(testBank(), nil, sink)
	defer m.Close()

	s, _, _ := m.Start(context.Background(), "alice", "short")
	if _, err := s.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitFor(t, func() bool { _, _, ok := m.Unsaved(s.ID()); return ok })
	if _, rm, _ := m.Unsaved(s.ID()); len(rm.Items) != 2 {
		t.Errorf("pending review has %d items, want 2", len(rm.Items))
	}

	sink.setFail(false)
	m.tick()
	if _, ok := sink.get(s.ID()); !ok {
		t.Fatal("result was not saved on retry")
	}
	if rm := sink.review(s.ID()); rm.SessionID != s.ID() || len(rm.Items) != 2 {
		t.Errorf("review not saved with result: %+v", rm)
	}
	if _, _, ok := m.Unsaved(s.ID()); ok {
		t.Error("saved result still pending")
	}
}

func TestCancelDropsWithoutSaving(t *testing.T) {
	sink := &memorySink{}
	m := New(testBank(), nil, sink)
	defer m.Close()

	s, _, _ := m.Start(context.Background(), "alice", "short")
	if err := m.Cancel(s.ID(), "bob"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel by another owner = %v", err)
	}
	if err := m.Cancel(s.ID(), "alice"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	waitFor(t, func() bool { return len(m.Active()) == 0 })
	if _, ok := sink.get(s.ID()); ok {
		t.Error("cancelled session saved a result")
	}
	if s.State() != model.StateCancelled {
		t.Errorf("state = %s", s.State())
	}
}

func TestRunDrivesClock(t *testing.T) {
	m := New(testBank(), engine.LocalGrader{}, &memorySink{})
	if err := m.Run(); err != nil {
		t.Fatalf("Run: %v", err)
	}
	defer m.Close()

	s, _, _ := m.Start(context.Background(), "alice", "short")
	waitFor(t, func() bool { return s.Snapshot().Remaining < 3 })
}
