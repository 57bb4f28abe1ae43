package engine

import (
	"fmt"
	"sort"

	"github.com/pavelanni/pastpaper/internal/bank"
)

// MarkKind selects one of the two informational question sets.
type MarkKind string

const (
	MarkBookmark MarkKind = "bookmark"
	MarkFlag     MarkKind = "flag"
)

// Valid reports whether k names a known set.
func (k MarkKind) Valid() bool { return k == MarkBookmark || k == MarkFlag }

// Marks tracks bookmarked and flagged questions. Neither set affects grading
// or timing.
type Marks struct {
	paper *bank.Paper
	sets  map[MarkKind]map[string]bool
}

// NewMarks creates empty bookmark and flag sets for a paper.
func NewMarks(p *bank.Paper) *Marks {
	return &Marks{
		paper: p,
		sets: map[MarkKind]map[string]bool{
			MarkBookmark: {},
			MarkFlag:     {},
		},
	}
}

// Toggle flips membership of a question in a set and returns the new membership.
func (m *Marks) Toggle(kind MarkKind, questionID string) (bool, error) {
	set, ok := m.sets[kind]
	if !ok {
		return false, fmt.Errorf("unknown mark kind %q", kind)
	}
	if _, ok := m.paper.Question(questionID); !ok {
		return false, fmt.Errorf("%w: %s", ErrUnknownQuestion, questionID)
	}
	if set[questionID] {
		delete(set, questionID)
		return false, nil
	}
	set[questionID] = true
	return true, nil
}

// Has reports whether a question is in a set.
func (m *Marks) Has(kind MarkKind, questionID string) bool {
	return m.sets[kind][questionID]
}

// List returns the members of a set in paper order.
func (m *Marks) List(kind MarkKind) []string {
	out := make([]string, 0, len(m.sets[kind]))
	for id := range m.sets[kind] {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool {
		return m.paper.IndexOf(out[i]) < m.paper.IndexOf(out[j])
	})
	return out
}
