package engine

import "github.com/pavelanni/pastpaper/internal/model"

// EventKind names a session notification.
type EventKind string

const (
	EventState     EventKind = "state"
	EventTick      EventKind = "tick"
	EventExpired   EventKind = "expired"
	EventGraded    EventKind = "graded"
	EventError     EventKind = "error"
	EventCancelled EventKind = "cancelled"
)

// Event is delivered to subscribers after the transition that caused it has
// been published, so a Snapshot taken on receipt is at least as new as the event.
type Event struct {
	Kind      EventKind          `json:"kind"`
	SessionID string             `json:"session_id"`
	State     model.SessionState `json:"state"`
	Remaining int                `json:"remaining_sec"`
	Result    *model.Result      `json:"result,omitempty"`
	Err       string             `json:"error,omitempty"`
}

// Snapshot is a read-only copy of the observable session state.
type Snapshot struct {
	SessionID  string             `json:"session_id"`
	PaperID    string             `json:"paper_id"`
	State      model.SessionState `json:"state"`
	Cursor     int                `json:"cursor"`
	Total      int                `json:"total"`
	Answered   int                `json:"answered"`
	Remaining  int                `json:"remaining_sec"`
	Duration   int                `json:"duration_sec"`
	Selections map[string]string  `json:"selections"`
	Bookmarks  []string           `json:"bookmarks"`
	Flags      []string           `json:"flags"`
	Error      string             `json:"error,omitempty"`
	Retryable  bool               `json:"retryable,omitempty"`
}

func (s Snapshot) clone() Snapshot {
	out := s
	out.Selections = make(map[string]string, len(s.Selections))
	for k, v := range s.Selections {
		out.Selections[k] = v
	}
	out.Bookmarks = append([]string(nil), s.Bookmarks...)
	out.Flags = append([]string(nil), s.Flags...)
	return out
}
