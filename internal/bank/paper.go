package bank

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pavelanni/pastpaper/internal/model"
)

const (
	minOptions = 2
	maxOptions = 5
)

// Option is one labeled choice of a question.
type Option struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// Question is a validated multiple-choice question. The correct label is
// unexported and is never marshaled.
type Question struct {
	ID          string
	Ordinal     int
	Prompt      string
	Marks       int
	Topic       string
	Explanation string

	options []Option
	answer  string
}

// Options returns a copy of the ordered options.
func (q Question) Options() []Option {
	return append([]Option(nil), q.options...)
}

// HasOption reports whether label is one of the question's options.
func (q Question) HasOption(label string) bool {
	for _, o := range q.options {
		if o.Label == label {
			return true
		}
	}
	return false
}

// Answer returns the correct option label. Only grading code may call it.
func (q Question) Answer() string { return q.answer }

// Public returns the client-facing view of the question.
func (q Question) Public() PublicQuestion {
	return PublicQuestion{
		ID:      q.ID,
		Ordinal: q.Ordinal,
		Prompt:  q.Prompt,
		Marks:   q.Marks,
		Topic:   q.Topic,
		Options: q.Options(),
	}
}

// MarshalJSON emits the public view so that a Question can never leak its answer.
func (q Question) MarshalJSON() ([]byte, error) {
	return json.Marshal(q.Public())
}

// PublicQuestion is a question without its answer or explanation.
type PublicQuestion struct {
	ID      string   `json:"id"`
	Ordinal int      `json:"ordinal"`
	Prompt  string   `json:"prompt"`
	Marks   int      `json:"marks"`
	Topic   string   `json:"topic,omitempty"`
	Options []Option `json:"options"`
}

// PublicPaper is the client-facing view of a paper.
type PublicPaper struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Subject     string           `json:"subject,omitempty"`
	Year        int              `json:"year,omitempty"`
	DurationSec int              `json:"duration_sec"`
	TotalMarks  int              `json:"total_marks"`
	Questions   []PublicQuestion `json:"questions"`
}

// Paper is an immutable, validated examination paper.
type Paper struct {
	id         string
	title      string
	subject    string
	year       int
	duration   int
	totalMarks int
	questions  []Question
	index      map[string]int
}

func (p *Paper) ID() string { return p.id }
func (p *Paper) Title() string { return p.title }
func (p *Paper) Subject() string { return p.subject }
func (p *Paper) Year() int { return p.year }
func (p *Paper) Duration() int { return p.duration }
func (p *Paper) TotalMarks() int { return p.totalMarks }
func (p *Paper) Len() int { return len(p.questions) }

// Questions returns a copy of the ordered questions.
func (p *Paper) Questions() []Question {
	return append([]Question(nil), p.questions...)
}

// At returns the question at a zero-based index.
func (p *Paper) At(i int) Question { return p.questions[i] }

// Question looks up a question by identifier.
func (p *Paper) Question(id string) (Question, bool) {
	i, ok := p.index[id]
	if !ok {
		return Question{}, false
	}
	return p.questions[i], true
}

// IndexOf returns the zero-based position of a question, or -1.
func (p *Paper) IndexOf(id string) int {
	i, ok := p.index[id]
	if !ok {
		return -1
	}
	return i
}

// Public returns the client-facing view of the paper.
func (p *Paper) Public() PublicPaper {
	qs := make([]PublicQuestion, len(p.questions))
	for i, q := range p.questions {
		qs[i] = q.Public()
	}
	return PublicPaper{
		ID:          p.id,
		Title:       p.title,
		Subject:     p.subject,
		Year:        p.year,
		DurationSec: p.duration,
		TotalMarks:  p.totalMarks,
		Questions:   qs,
	}
}

// Summary returns the catalog entry for the paper.
func (p *Paper) Summary() model.PaperSummary {
	return model.PaperSummary{
		ID:            p.id,
		Title:         p.title,
		Subject:       p.subject,
		Year:          p.year,
		DurationSec:   p.duration,
		TotalMarks:    p.totalMarks,
		QuestionCount: len(p.questions),
	}
}

// Import converts the paper back to its import shape, answers included.
// It is used when a paper is stored or re-exported by an administrator.
func (p *Paper) Import() model.PaperImport {
	pi := model.PaperImport{
		ID:          p.id,
		Title:       p.title,
		Subject:     p.subject,
		Year:        p.year,
		DurationSec: p.duration,
		TotalMarks:  p.totalMarks,
		Questions:   make([]model.QuestionImport, len(p.questions)),
	}
	for i, q := range p.questions {
		opts := make([]model.OptionImport, len(q.options))
		for j, o := range q.options {
			opts[j] = model.OptionImport{Label: o.Label, Text: o.Text}
		}
		pi.Questions[i] = model.QuestionImport{
			ID:          q.ID,
			Prompt:      q.Prompt,
			Options:     opts,
			Answer:      q.answer,
			Marks:       q.Marks,
			Topic:       q.Topic,
			Explanation: q.Explanation,
		}
	}
	return pi
}

// NewPaper validates an imported paper and builds its immutable form.
// Any structural problem is reported as an *InvariantError.
func NewPaper(pi model.PaperImport) (*Paper, error) {
	id := strings.TrimSpace(pi.ID)
	if id == "" {
		return nil, invariant(pi.ID, "paper id is empty")
	}
	if pi.DurationSec <= 0 {
		return nil, invariant(id, "duration must be positive, got %d", pi.DurationSec)
	}
	if len(pi.Questions) == 0 {
		return nil, invariant(id, "paper has no questions")
	}

	p := &Paper{
		id:         id,
		title:      strings.TrimSpace(pi.Title),
		subject:    strings.TrimSpace(pi.Subject),
		year:       pi.Year,
		duration:   pi.DurationSec,
		totalMarks: pi.TotalMarks,
		questions:  make([]Question, 0, len(pi.Questions)),
		index:      make(map[string]int, len(pi.Questions)),
	}

	sum := 0
	for i, qi := range pi.Questions {
		q, err := newQuestion(id, i+1, qi)
		if err != nil {
			return nil, err
		}
		if _, dup := p.index[q.ID]; dup {
			return nil, invariant(id, "duplicate question id %q", q.ID)
		}
		p.index[q.ID] = i
		p.questions = append(p.questions, q)
		sum += q.Marks
	}
	if sum != pi.TotalMarks {
		return nil, invariant(id, "question marks sum to %d but total marks is %d", sum, pi.TotalMarks)
	}
	return p, nil
}

func newQuestion(paperID string, ordinal int, qi model.QuestionImport) (Question, error) {
	qid := strings.TrimSpace(qi.ID)
	if qid == "" {
		return Question{}, invariant(paperID, "question %d has no id", ordinal)
	}
	if strings.TrimSpace(qi.Prompt) == "" {
		return Question{}, invariant(paperID, "question %s has an empty prompt", qid)
	}
	if qi.Marks <= 0 {
		return Question{}, invariant(paperID, "question %s marks must be positive, got %d", qid, qi.Marks)
	}
	if n := len(qi.Options); n < minOptions || n > maxOptions {
		return Question{}, invariant(paperID, "question %s has %d options, want %d-%d", qid, n, minOptions, maxOptions)
	}

	q := Question{
		ID:          qid,
		Ordinal:     ordinal,
		Prompt:      qi.Prompt,
		Marks:       qi.Marks,
		Topic:       strings.TrimSpace(qi.Topic),
		Explanation: strings.TrimSpace(qi.Explanation),
		options:     make([]Option, 0, len(qi.Options)),
	}
	seen := make(map[string]bool, len(qi.Options))
	for _, o := range qi.Options {
		label := strings.ToUpper(strings.TrimSpace(o.Label))
		if !validLabel(label) {
			return Question{}, invariant(paperID, "question %s has invalid option label %q", qid, o.Label)
		}
		if seen[label] {
			return Question{}, invariant(paperID, "question %s repeats option label %s", qid, label)
		}
		if strings.TrimSpace(o.Text) == "" {
			return Question{}, invariant(paperID, "question %s option %s is empty", qid, label)
		}
		seen[label] = true
		q.options = append(q.options, Option{Label: label, Text: o.Text})
	}

	answer := strings.ToUpper(strings.TrimSpace(qi.Answer))
	if !seen[answer] {
		return Question{}, invariant(paperID, "question %s answer %q is not one of its options", qid, qi.Answer)
	}
	q.answer = answer
	return q, nil
}

func validLabel(l string) bool {
	return len(l) == 1 && l[0] >= 'A' && l[0] <= 'E'
}

func invariant(paperID, format string, args ...any) error {
	return &InvariantError{PaperID: paperID, Reason: fmt.Sprintf(format, args...)}
}
