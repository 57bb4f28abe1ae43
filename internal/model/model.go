package model

import (
	"context"
	"time"
)

// Student identifies the owner of an attempt. It is taken from a verified token.
type Student struct {
	ID   string
	Name string
}

type studentCtxKey struct{}

// ContextWithStudent stores the authenticated student in the request context.
func ContextWithStudent(ctx context.Context, s *Student) context.Context {
	return context.WithValue(ctx, studentCtxKey{}, s)
}

// StudentFromContext retrieves the authenticated student from context, or nil.
func StudentFromContext(ctx context.Context) *Student {
	s, _ := ctx.Value(studentCtxKey{}).(*Student)
	return s
}

// SessionState is the lifecycle state of an assessment session.
type SessionState string

const (
	StateLoading    SessionState = "loading"
	StateInProgress SessionState = "in_progress"
	StateSubmitting SessionState = "submitting"
	StateGraded     SessionState = "graded"
	StateError      SessionState = "error"
	StateCancelled  SessionState = "cancelled"
)

// Terminal reports whether no further transition can leave the state.
// StateError is terminal only for load failures, so callers must also look at the error kind.
func (s SessionState) Terminal() bool {
	return s == StateGraded || s == StateCancelled
}

// Verdict is the per-question outcome of grading.
type Verdict string

const (
	VerdictCorrect    Verdict = "correct"
	VerdictIncorrect  Verdict = "incorrect"
	VerdictUnanswered Verdict = "unanswered"
)

// Trigger records what started the submission.
type Trigger string

const (
	TriggerManual  Trigger = "manual"
	TriggerExpired Trigger = "expired"
)

// LetterGrade is the band a percentage falls into.
type LetterGrade string

const (
	GradeA LetterGrade = "A"
	GradeB LetterGrade = "B"
	GradeC LetterGrade = "C"
	GradeD LetterGrade = "D"
	GradeF LetterGrade = "F"
)

// OptionImport is one labeled choice as it arrives from a paper source.
type OptionImport struct {
	Label string `json:"label"`
	Text  string `json:"text"`
}

// QuestionImport is used for loading questions from JSON, Excel or the database.
type QuestionImport struct {
	ID          string         `json:"id"`
	Prompt      string         `json:"prompt"`
	Options     []OptionImport `json:"options"`
	Answer      string         `json:"answer"`
	Marks       int            `json:"marks"`
	Topic       string         `json:"topic,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
}

// PaperImport is the untrusted shape of a paper before validation.
// Questions are in display order; ordinals are assigned from that order.
type PaperImport struct {
	ID          string           `json:"id"`
	Title       string           `json:"title"`
	Subject     string           `json:"subject,omitempty"`
	Year        int              `json:"year,omitempty"`
	DurationSec int              `json:"duration_sec"`
	TotalMarks  int              `json:"total_marks"`
	Questions   []QuestionImport `json:"questions"`
}

// PaperSummary is the catalog entry for a paper.
type PaperSummary struct {
	ID            string `json:"id" db:"id"`
	Title         string `json:"title" db:"title"`
	Subject       string `json:"subject" db:"subject"`
	Year          int    `json:"year" db:"year"`
	DurationSec   int    `json:"duration_sec" db:"duration_sec"`
	TotalMarks    int    `json:"total_marks" db:"total_marks"`
	QuestionCount int    `json:"question_count" db:"question_count"`
}

// QuestionOutcome is the graded breakdown for one question.
type QuestionOutcome struct {
	QuestionID  string  `json:"question_id"`
	Ordinal     int     `json:"ordinal"`
	Selected    string  `json:"selected,omitempty"`
	Correct     string  `json:"correct"`
	Verdict     Verdict `json:"verdict"`
	Marks       int     `json:"marks"`
	Awarded     int     `json:"awarded"`
	Explanation string  `json:"explanation,omitempty"`
}

// Result is produced once per session at submission.
type Result struct {
	SessionID     string            `json:"session_id"`
	PaperID       string            `json:"paper_id"`
	StudentID     string            `json:"student_id,omitempty"`
	Score         int               `json:"score"`
	TotalMarks    int               `json:"total_marks"`
	Percentage    int               `json:"percentage"`
	Grade         LetterGrade       `json:"grade"`
	Answered      int               `json:"answered"`
	Unanswered    int               `json:"unanswered"`
	Trigger       Trigger           `json:"trigger"`
	TimeRemaining int               `json:"time_remaining_sec"`
	TimeUsed      int               `json:"time_used_sec"`
	SubmittedAt   time.Time         `json:"submitted_at"`
	Outcomes      []QuestionOutcome `json:"outcomes"`
}

// Clone returns a copy that shares no slices with r.
func (r Result) Clone() Result {
	out := r
	out.Outcomes = append([]QuestionOutcome(nil), r.Outcomes...)
	return out
}

// ReviewOption is an option as shown on the results screen.
type ReviewOption struct {
	Label    string `json:"label"`
	Text     string `json:"text"`
	Selected bool   `json:"selected"`
	Correct  bool   `json:"correct"`
}

// ReviewItem pairs a question with its graded outcome.
type ReviewItem struct {
	QuestionID  string         `json:"question_id"`
	Ordinal     int            `json:"ordinal"`
	Prompt      string         `json:"prompt"`
	Topic       string         `json:"topic,omitempty"`
	Options     []ReviewOption `json:"options"`
	Selected    string         `json:"selected,omitempty"`
	Correct     string         `json:"correct"`
	Verdict     Verdict        `json:"verdict"`
	Marks       int            `json:"marks"`
	Awarded     int            `json:"awarded"`
	Explanation string         `json:"explanation,omitempty"`
}

// TopicSummary is the score within one topic tag of a single attempt.
type TopicSummary struct {
	Topic      string `json:"topic"`
	Score      int    `json:"score"`
	TotalMarks int    `json:"total_marks"`
	Questions  int    `json:"questions"`
}

// ReviewModel is the read-only results view of a graded session.
type ReviewModel struct {
	SessionID     string         `json:"session_id"`
	PaperID       string         `json:"paper_id"`
	Title         string         `json:"title"`
	Score         int            `json:"score"`
	TotalMarks    int            `json:"total_marks"`
	Percentage    int            `json:"percentage"`
	Grade         LetterGrade    `json:"grade"`
	Correct       int            `json:"correct"`
	Incorrect     int            `json:"incorrect"`
	Unanswered    int            `json:"unanswered"`
	Trigger       Trigger        `json:"trigger"`
	TimeUsed      int            `json:"time_used_sec"`
	TimeRemaining int            `json:"time_remaining_sec"`
	SubmittedAt   time.Time      `json:"submitted_at"`
	Items         []ReviewItem   `json:"items"`
	Topics        []TopicSummary `json:"topics,omitempty"`
}

// ServeConfig holds runtime server parameters set via CLI flags.
type ServeConfig struct {
	Addr              string
	Lang              string
	JWTSecret         string
	AdminUser         string
	AdminPasswordHash string   // bcrypt
	CORSOrigins       []string // empty disables CORS headers
	MaxUploadBytes    int64
}
