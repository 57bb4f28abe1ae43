// Package attempts keeps the live assessment sessions of a server and drives
// their clocks.
package attempts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/pavelanni/pastpaper/internal/engine"
	"github.com/pavelanni/pastpaper/internal/model"
)

// ErrNotFound is returned for unknown sessions and for sessions owned by
// another student.
var ErrNotFound = errors.New("attempt not found")

// ResultSink stores graded results along with the review captured when the
// session was graded.
type ResultSink interface {
	SaveResult(ctx context.Context, res model.Result, review model.ReviewModel) error
}

// Info describes a live session.
type Info struct {
	SessionID string             `json:"session_id"`
	PaperID   string             `json:"paper_id"`
	Owner     string             `json:"owner"`
	State     model.SessionState `json:"state"`
	Remaining int                `json:"remaining_sec"`
	StartedAt time.Time          `json:"started_at"`
}

type graded struct {
	result model.Result
	review model.ReviewModel
}

type entry struct {
	session   *engine.Session
	owner     string
	startedAt time.Time
}

// Manager owns live sessions. Sessions are dropped once they are done and
// their result, if any, has been handed to the sink.
type Manager struct {
	loader       engine.Loader
	grader       engine.Grader
	sink         ResultSink
	gradeTimeout time.Duration

	scheduler *gocron.Scheduler

	mu      sync.Mutex
	live    map[string]*entry
	unsaved map[string]graded
	wg      sync.WaitGroup
}

// Option configures a Manager.
type Option func(*Manager)

// WithGradeTimeout bounds each grading call.
func WithGradeTimeout(d time.Duration) Option {
	return func(m *Manager) { m.gradeTimeout = d }
}

// New creates a manager. Call Run to start ticking.
func New(loader engine.Loader, grader engine.Grader, sink ResultSink, opts ...Option) *Manager {
	m := &Manager{
		loader:    loader,
		grader:    grader,
		sink:      sink,
		scheduler: gocron.NewScheduler(time.UTC),
		live:      make(map[string]*entry),
		unsaved:   make(map[string]graded),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run schedules the once-a-second tick and returns immediately.
func (m *Manager) Run() error {
	m.scheduler.SingletonModeAll()
	if _, err := m.scheduler.Every(1).Second().Do(m.tick); err != nil {
		return fmt.Errorf("schedule tick: %w", err)
	}
	m.scheduler.StartAsync()
	slog.Info("attempt clock started")
	return nil
}

// Close stops the clock, cancels every live session and waits for pending
// result saves.
func (m *Manager) Close() {
	m.scheduler.Stop()
	for _, e := range m.entries() {
		if err := e.session.Cancel(); err != nil && !errors.Is(err, engine.ErrNotInProgress) {
			slog.Warn("cancel on shutdown", "session_id", e.session.ID(), "error", err)
		}
	}
	m.wg.Wait()
	m.retryUnsaved()
}

// Start returns the owner's live session on the paper, or creates and loads
// a new one. resumed reports whether an existing session was returned.
func (m *Manager) Start(ctx context.Context, owner, paperID string) (s *engine.Session, resumed bool, err error) {
	m.mu.Lock()
	for _, e := range m.live {
		if e.owner != owner || e.session.PaperID() != paperID {
			continue
		}
		switch e.session.State() {
		case model.StateLoading, model.StateInProgress, model.StateError:
			m.mu.Unlock()
			return e.session, true, nil
		}
	}
	opts := []engine.Option{engine.WithStudent(owner)}
	if m.gradeTimeout > 0 {
		opts = append(opts, engine.WithGradeTimeout(m.gradeTimeout))
	}
	s = engine.New(paperID, m.grader, opts...)
	e := &entry{session: s, owner: owner, startedAt: time.Now()}
	m.live[s.ID()] = e
	m.wg.Add(1)
	m.mu.Unlock()

	go m.watch(e)

	if err := s.Load(ctx, m.loader); err != nil {
		return nil, false, err
	}
	slog.Info("attempt started", "session_id", s.ID(), "paper_id", paperID, "owner", owner)
	return s, false, nil
}

// watch waits for the session to finish, saves its result and drops it.
func (m *Manager) watch(e *entry) {
	defer m.wg.Done()
	<-e.session.Done()

	if res, ok := e.session.Result(); ok {
		rm, _ := e.session.Review()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.sink.SaveResult(ctx, res, rm)
		cancel()
		if err != nil {
			slog.Error("save result failed, will retry", "session_id", res.SessionID, "error", err)
			m.mu.Lock()
			m.unsaved[res.SessionID] = graded{result: res, review: rm}
			m.mu.Unlock()
		}
	}

	m.mu.Lock()
	delete(m.live, e.session.ID())
	m.mu.Unlock()
}

// Get returns a live session owned by owner.
func (m *Manager) Get(id, owner string) (*engine.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.live[id]
	if !ok || e.owner != owner {
		return nil, ErrNotFound
	}
	return e.session, nil
}

// Unsaved returns a graded result, and its review, that the sink has not
// accepted yet.
func (m *Manager) Unsaved(id string) (model.Result, model.ReviewModel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	g, ok := m.unsaved[id]
	return g.result.Clone(), g.review, ok
}

// Cancel abandons a live session owned by owner.
func (m *Manager) Cancel(id, owner string) error {
	s, err := m.Get(id, owner)
	if err != nil {
		return err
	}
	return s.Cancel()
}

// Active lists live sessions, oldest first.
func (m *Manager) Active() []Info {
	out := []Info{}
	for _, e := range m.entries() {
		snap := e.session.Snapshot()
		out = append(out, Info{
			SessionID: snap.SessionID,
			PaperID:   snap.PaperID,
			Owner:     e.owner,
			State:     snap.State,
			Remaining: snap.Remaining,
			StartedAt: e.startedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

func (m *Manager) entries() []*entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*entry, 0, len(m.live))
	for _, e := range m.live {
		out = append(out, e)
	}
	return out
}

// tick advances every live clock by one second. Each session gets its own
// goroutine so one session grading does not hold up the others.
func (m *Manager) tick() {
	var wg sync.WaitGroup
	for _, e := range m.entries() {
		wg.Add(1)
		go func(s *engine.Session) {
			defer wg.Done()
			s.Tick()
		}(e.session)
	}
	wg.Wait()
	m.retryUnsaved()
}

func (m *Manager) retryUnsaved() {
	m.mu.Lock()
	pending := make([]graded, 0, len(m.unsaved))
	for _, g := range m.unsaved {
		pending = append(pending, g)
	}
	m.mu.Unlock()

	for _, g := range pending {
		res := g.result
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		err := m.sink.SaveResult(ctx, res, g.review)
		cancel()
		if err != nil {
			slog.Warn("retry save result", "session_id", res.SessionID, "error", err)
			continue
		}
		m.mu.Lock()
		delete(m.unsaved, res.SessionID)
		m.mu.Unlock()
		slog.Info("result saved after retry", "session_id", res.SessionID)
	}
}
