package engine

// Navigator is the current-question cursor. It is always inside [0, length-1].
type Navigator struct {
	cursor int
	length int
}

// NewNavigator creates a cursor at the first of length questions.
func NewNavigator(length int) *Navigator {
	return &Navigator{length: length}
}

// Cursor returns the zero-based index of the current question.
func (n *Navigator) Cursor() int { return n.cursor }

// Next moves forward one question; at the last question it does nothing.
func (n *Navigator) Next() int { return n.JumpTo(n.cursor + 1) }

// Previous moves back one question; at the first question it does nothing.
func (n *Navigator) Previous() int { return n.JumpTo(n.cursor - 1) }

// JumpTo moves to index i, clamped to the valid range.
func (n *Navigator) JumpTo(i int) int {
	switch {
	case i < 0:
		i = 0
	case i > n.length-1:
		i = n.length - 1
	}
	n.cursor = i
	return n.cursor
}
