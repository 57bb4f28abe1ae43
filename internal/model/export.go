package model

import "time"

// ResultExport is the top-level JSON structure for result export.
type ResultExport struct {
	PaperID    string         `json:"paper_id,omitempty"`
	ExportedAt time.Time      `json:"exported_at"`
	Count      int            `json:"count"`
	Results    []StoredResult `json:"results"`
}

// StoredResult is a graded result as persisted by the result store.
type StoredResult struct {
	SessionID   string      `json:"session_id" db:"session_id"`
	PaperID     string      `json:"paper_id" db:"paper_id"`
	StudentID   string      `json:"student_id" db:"student_id"`
	Score       int         `json:"score" db:"score"`
	TotalMarks  int         `json:"total_marks" db:"total_marks"`
	Percentage  int         `json:"percentage" db:"percentage"`
	Grade       LetterGrade `json:"grade" db:"grade"`
	SubmittedAt int64       `json:"submitted_at" db:"submitted_at"`
	Result      Result      `json:"result" db:"-"`
	// Review is the results view captured at grading time. Nil for rows
	// saved before reviews were stored.
	Review *ReviewModel `json:"-" db:"-"`
}

// ResultFilter narrows result listings. Empty fields do not filter.
type ResultFilter struct {
	PaperID   string
	StudentID string
	Limit     int
}
