package engine

import (
	"fmt"

	"github.com/pavelanni/pastpaper/internal/bank"
)

// Answers maps question identifiers to the selected option label.
// At most one selection is kept per question; a new selection replaces the old one.
type Answers struct {
	paper    *bank.Paper
	selected map[string]string
}

// NewAnswers creates an empty answer store for a paper.
func NewAnswers(p *bank.Paper) *Answers {
	return &Answers{paper: p, selected: make(map[string]string, p.Len())}
}

// Select records label as the answer to a question.
func (a *Answers) Select(questionID, label string) error {
	q, ok := a.paper.Question(questionID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if !q.HasOption(label) {
		return fmt.Errorf("%w: %q for question %s", ErrUnknownOption, label, questionID)
	}
	a.selected[questionID] = label
	return nil
}

// Clear removes the answer to a question, if any.
func (a *Answers) Clear(questionID string) error {
	if _, ok := a.paper.Question(questionID); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	delete(a.selected, questionID)
	return nil
}

// Get returns the selection for a question; ok is false when unanswered.
func (a *Answers) Get(questionID string) (label string, ok bool) {
	label, ok = a.selected[questionID]
	return label, ok
}

// AnsweredCount returns the number of questions with a selection.
func (a *Answers) AnsweredCount() int { return len(a.selected) }

// Snapshot returns a copy of all selections.
func (a *Answers) Snapshot() map[string]string {
	out := make(map[string]string, len(a.selected))
	for k, v := range a.selected {
		out[k] = v
	}
	return out
}
