// Package engine runs timed multiple-choice assessment sessions.
//
// Every input to a session (user actions and clock ticks) is a command on one
// channel, drained by one goroutine. A command runs to completion before the
// next one starts, which is what makes a manual submit racing the clock's
// expiry resolve to exactly one graded result: whichever command the loop
// sees first moves the session out of in-progress and the other finds
// nothing to do.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/model"
)

var tracer = otel.Tracer("github.com/pavelanni/pastpaper/internal/engine")

// ErrCancelled is returned by operations on a cancelled session.
var ErrCancelled = errors.New("session cancelled")

// Loader fetches a validated paper. *bank.Bank implements it.
type Loader interface {
	Load(ctx context.Context, paperID string) (*bank.Paper, error)
}

// Option configures a Session.
type Option func(*Session)

// WithID sets the session identifier instead of a random UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithNow sets the clock used for submission timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithGradeTimeout bounds each grading call.
func WithGradeTimeout(d time.Duration) Option {
	return func(s *Session) { s.gradeTimeout = d }
}

// WithStudent records the owner on the produced result.
func WithStudent(id string) Option {
	return func(s *Session) { s.studentID = id }
}

type command struct {
	fn  func()
	ack chan struct{}
}

// Session is one attempt at one paper.
type Session struct {
	id           string
	paperID      string
	studentID    string
	grader       Grader
	now          func() time.Time
	gradeTimeout time.Duration
	log          *slog.Logger

	cmds chan command
	done chan struct{}

	// Owned by the loop goroutine.
	state      model.SessionState
	paper      *bank.Paper
	answers    *Answers
	marks      *Marks
	nav        *Navigator
	clock      *Clock
	trigger    model.Trigger
	err        error
	loadFailed bool
	result     *model.Result
	pending    []Event

	mu   sync.RWMutex
	snap Snapshot
	pub  struct {
		paper  *bank.Paper
		result *model.Result
		err    error
	}

	subMu   sync.Mutex
	subs    map[int]chan Event
	nextSub int
	closed  bool
}

// New creates a session in the loading state and starts its event loop.
// Call Load to move it to in-progress.
func New(paperID string, grader Grader, opts ...Option) *Session {
	s := &Session{
		paperID: paperID,
		grader:  grader,
		now:     time.Now,
		cmds:    make(chan command),
		done:    make(chan struct{}),
		state:   model.StateLoading,
		subs:    make(map[int]chan Event),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.id == "" {
		s.id = uuid.NewString()
	}
	if s.grader == nil {
		s.grader = LocalGrader{}
	}
	s.log = slog.With("session_id", s.id, "paper_id", paperID)
	s.publish()
	go s.run()
	return s
}

func (s *Session) run() {
	defer s.finish()
	for cmd := range s.cmds {
		cmd.fn()
		s.publish()
		s.flush()
		close(cmd.ack)
		if s.terminal() {
			return
		}
	}
}

// exec runs fn on the loop goroutine and waits until its effects are
// published. It reports false when the session has already finished.
func (s *Session) exec(fn func()) bool {
	cmd := command{fn: fn, ack: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-s.done:
		return false
	}
	<-cmd.ack
	return true
}

func (s *Session) terminal() bool {
	switch s.state {
	case model.StateGraded, model.StateCancelled:
		return true
	case model.StateError:
		return s.loadFailed
	}
	return false
}

func (s *Session) finish() {
	close(s.done)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	s.closed = true
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.log.Debug("session finished", "state", s.state)
}

func (s *Session) setState(st model.SessionState) {
	if s.state == st {
		return
	}
	s.log.Debug("session state", "from", s.state, "to", st)
	s.state = st
	s.emit(Event{Kind: EventState})
}

func (s *Session) emit(ev Event) {
	ev.SessionID = s.id
	ev.State = s.state
	if s.clock != nil {
		ev.Remaining = s.clock.Remaining()
	}
	s.pending = append(s.pending, ev)
}

func (s *Session) publish() {
	snap := Snapshot{
		SessionID: s.id,
		PaperID:   s.paperID,
		State:     s.state,
	}
	if s.paper != nil {
		snap.Total = s.paper.Len()
		snap.Cursor = s.nav.Cursor()
		snap.Answered = s.answers.AnsweredCount()
		snap.Remaining = s.clock.Remaining()
		snap.Duration = s.paper.Duration()
		snap.Selections = s.answers.Snapshot()
		snap.Bookmarks = s.marks.List(MarkBookmark)
		snap.Flags = s.marks.List(MarkFlag)
	}
	if s.err != nil {
		snap.Error = s.err.Error()
		snap.Retryable = !s.loadFailed
	}

	s.mu.Lock()
	s.snap = snap
	s.pub.paper = s.paper
	s.pub.result = s.result
	s.pub.err = s.err
	s.mu.Unlock()
}

func (s *Session) flush() {
	if len(s.pending) == 0 {
		return
	}
	s.subMu.Lock()
	for _, ev := range s.pending {
		for _, ch := range s.subs {
			select {
			case ch <- ev:
			default:
			}
		}
	}
	s.subMu.Unlock()
	s.pending = s.pending[:0]
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// PaperID returns the identifier of the paper being attempted.
func (s *Session) PaperID() string { return s.paperID }

// Done is closed once the session reaches a state it can never leave:
// graded, cancelled, or failed to load.
func (s *Session) Done() <-chan struct{} { return s.done }

// Subscribe returns a channel of events. Delivery does not block the session:
// a subscriber that falls behind by more than buf events misses events and
// should re-read Snapshot. The channel is closed when the session is done.
func (s *Session) Subscribe(buf int) (<-chan Event, func()) {
	if buf < 1 {
		buf = 1
	}
	ch := make(chan Event, buf)
	s.subMu.Lock()
	defer s.subMu.Unlock()
	if s.closed {
		close(ch)
		return ch, func() {}
	}
	id := s.nextSub
	s.nextSub++
	s.subs[id] = ch
	return ch, func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()
		if c, ok := s.subs[id]; ok {
			close(c)
			delete(s.subs, id)
		}
	}
}

// Load fetches the paper and moves the session to in-progress, or to the
// error state when the paper cannot be loaded. If the session is cancelled
// while the load is in flight the loaded paper is discarded.
func (s *Session) Load(ctx context.Context, l Loader) error {
	p, loadErr := l.Load(ctx, s.paperID)

	var err error
	ok := s.exec(func() {
		if s.state != model.StateLoading {
			err = ErrNotInProgress
			return
		}
		if loadErr != nil {
			s.err = loadErr
			s.loadFailed = true
			s.log.Warn("paper load failed", "error", loadErr)
			s.setState(model.StateError)
			s.emit(Event{Kind: EventError, Err: loadErr.Error()})
			err = loadErr
			return
		}
		s.paper = p
		s.answers = NewAnswers(p)
		s.marks = NewMarks(p)
		s.nav = NewNavigator(p.Len())
		s.clock = NewClock(p.Duration(), nil)
		s.clock.start()
		s.setState(model.StateInProgress)
		s.log.Info("session started", "questions", p.Len(), "duration_sec", p.Duration())
	})
	if !ok {
		if loadErr != nil {
			return loadErr
		}
		return ErrCancelled
	}
	return err
}

// Tick advances the session clock by one second. When the clock reaches
// zero the session is submitted as expired.
func (s *Session) Tick() {
	s.exec(func() {
		if s.state != model.StateInProgress {
			return
		}
		if !s.clock.Tick() {
			return
		}
		s.emit(Event{Kind: EventTick})
		if s.clock.Expired() {
			s.log.Info("time expired")
			s.emit(Event{Kind: EventExpired})
			if _, err := s.submit(context.Background(), model.TriggerExpired); err != nil {
				s.log.Error("grading after expiry failed", "error", err)
			}
		}
	})
}

// Submit grades the session. Only the first submission, manual or by
// expiry, grades; later calls return the same result. After a grading
// failure Submit may be called again to retry.
func (s *Session) Submit(ctx context.Context) (model.Result, error) {
	var (
		res model.Result
		err error
	)
	if !s.exec(func() { res, err = s.submit(ctx, model.TriggerManual) }) {
		return s.finalResult()
	}
	return res, err
}

func (s *Session) submit(ctx context.Context, trigger model.Trigger) (model.Result, error) {
	switch s.state {
	case model.StateGraded:
		return s.result.Clone(), nil
	case model.StateInProgress:
		s.trigger = trigger
	case model.StateError:
		if s.loadFailed {
			return model.Result{}, fmt.Errorf("%w: %v", ErrNotInProgress, s.err)
		}
	default:
		return model.Result{}, ErrNotInProgress
	}

	s.clock.stop()
	s.err = nil
	s.setState(model.StateSubmitting)

	res, err := s.grade(ctx)
	if err != nil {
		s.err = &GradingError{SessionID: s.id, Err: err}
		s.setState(model.StateError)
		s.emit(Event{Kind: EventError, Err: s.err.Error()})
		s.log.Error("grading failed", "trigger", s.trigger, "error", err)
		return model.Result{}, s.err
	}

	res.SessionID = s.id
	res.PaperID = s.paper.ID()
	res.StudentID = s.studentID
	res.Trigger = s.trigger
	res.TimeRemaining = s.clock.Remaining()
	res.TimeUsed = s.paper.Duration() - s.clock.Remaining()
	res.SubmittedAt = s.now().UTC()
	s.result = &res

	s.setState(model.StateGraded)
	out := res.Clone()
	s.emit(Event{Kind: EventGraded, Result: &out})
	s.log.Info("session graded",
		"trigger", res.Trigger,
		"score", res.Score,
		"total_marks", res.TotalMarks,
		"percentage", res.Percentage,
		"grade", res.Grade,
	)
	return res.Clone(), nil
}

func (s *Session) grade(ctx context.Context) (model.Result, error) {
	if s.gradeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.gradeTimeout)
		defer cancel()
	}
	ctx, span := tracer.Start(ctx, "engine.Grade")
	defer span.End()
	span.SetAttributes(
		attribute.String("session.id", s.id),
		attribute.String("paper.id", s.paper.ID()),
		attribute.String("submit.trigger", string(s.trigger)),
		attribute.Int("answers.count", s.answers.AnsweredCount()),
	)

	res, err := s.grader.Grade(ctx, s.paper, s.answers.Snapshot())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "grading failed")
		return model.Result{}, err
	}
	span.SetAttributes(attribute.Int("result.score", res.Score))
	return res, nil
}

func (s *Session) finalResult() (model.Result, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	switch s.snap.State {
	case model.StateGraded:
		return s.pub.result.Clone(), nil
	case model.StateCancelled:
		return model.Result{}, ErrCancelled
	default:
		return model.Result{}, fmt.Errorf("%w: %v", ErrNotInProgress, s.pub.err)
	}
}

// Cancel abandons the session without grading. It stops the clock and no
// result is produced.
func (s *Session) Cancel() error {
	var err error
	ok := s.exec(func() {
		switch s.state {
		case model.StateLoading, model.StateInProgress, model.StateError:
			if s.clock != nil {
				s.clock.stop()
			}
			s.setState(model.StateCancelled)
			s.emit(Event{Kind: EventCancelled})
			s.log.Info("session cancelled")
		default:
			err = ErrNotInProgress
		}
	})
	if !ok {
		return ErrNotInProgress
	}
	return err
}

// inProgress runs fn on the loop if the session is in progress.
func (s *Session) inProgress(fn func() error) error {
	var err error
	ok := s.exec(func() {
		if s.state != model.StateInProgress {
			err = ErrNotInProgress
			return
		}
		err = fn()
	})
	if !ok {
		return ErrNotInProgress
	}
	return err
}

// Select records an answer. Re-selecting replaces the previous answer.
func (s *Session) Select(questionID, label string) error {
	return s.inProgress(func() error {
		return s.answers.Select(questionID, label)
	})
}

// Clear removes the answer to a question.
func (s *Session) Clear(questionID string) error {
	return s.inProgress(func() error {
		return s.answers.Clear(questionID)
	})
}

// ToggleMark flips a bookmark or flag and returns the new membership.
func (s *Session) ToggleMark(kind MarkKind, questionID string) (bool, error) {
	var on bool
	err := s.inProgress(func() error {
		var err error
		on, err = s.marks.Toggle(kind, questionID)
		return err
	})
	return on, err
}

// Next moves the cursor forward and returns it.
func (s *Session) Next() (int, error) {
	return s.move(func() int { return s.nav.Next() })
}

// Previous moves the cursor back and returns it.
func (s *Session) Previous() (int, error) {
	return s.move(func() int { return s.nav.Previous() })
}

// JumpTo moves the cursor to index i, clamped to the paper, and returns it.
func (s *Session) JumpTo(i int) (int, error) {
	return s.move(func() int { return s.nav.JumpTo(i) })
}

func (s *Session) move(fn func() int) (int, error) {
	var cur int
	err := s.inProgress(func() error {
		cur = fn()
		return nil
	})
	return cur, err
}

// Snapshot returns the latest published state.
func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.clone()
}

// State returns the current lifecycle state.
func (s *Session) State() model.SessionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap.State
}

// Err returns the load or grading failure, if any.
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pub.err
}

// Paper returns the loaded paper, or nil while loading.
func (s *Session) Paper() *bank.Paper {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pub.paper
}

// Result returns the graded result once the session is graded.
func (s *Session) Result() (model.Result, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.pub.result == nil {
		return model.Result{}, false
	}
	return s.pub.result.Clone(), true
}

// Review projects the graded result for display.
func (s *Session) Review() (model.ReviewModel, error) {
	s.mu.RLock()
	p, res := s.pub.paper, s.pub.result
	s.mu.RUnlock()
	if res == nil {
		return model.ReviewModel{}, ErrNotGraded
	}
	return Project(p, *res), nil
}

// CurrentQuestion is the question under the cursor as the client sees it.
type CurrentQuestion struct {
	Index      int                 `json:"index"`
	Total      int                 `json:"total"`
	Question   bank.PublicQuestion `json:"question"`
	Selected   string              `json:"selected,omitempty"`
	Bookmarked bool                `json:"bookmarked"`
	Flagged    bool                `json:"flagged"`
	Remaining  int                 `json:"remaining_sec"`
}

// Current returns the question under the cursor.
func (s *Session) Current() (CurrentQuestion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snap.State != model.StateInProgress {
		return CurrentQuestion{}, ErrNotInProgress
	}
	q := s.pub.paper.At(s.snap.Cursor)
	return CurrentQuestion{
		Index:      s.snap.Cursor,
		Total:      s.snap.Total,
		Question:   q.Public(),
		Selected:   s.snap.Selections[q.ID],
		Bookmarked: contains(s.snap.Bookmarks, q.ID),
		Flagged:    contains(s.snap.Flags, q.ID),
		Remaining:  s.snap.Remaining,
	}, nil
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
