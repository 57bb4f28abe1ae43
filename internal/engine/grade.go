package engine

import (
	"context"
	"math"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/model"
)

// Grader turns a paper and the final selections into a Result. The engine
// fills in session bookkeeping (identifiers, trigger, timing) afterwards.
type Grader interface {
	Grade(ctx context.Context, p *bank.Paper, answers map[string]string) (model.Result, error)
}

// GraderFunc adapts a function to the Grader interface.
type GraderFunc func(ctx context.Context, p *bank.Paper, answers map[string]string) (model.Result, error)

func (f GraderFunc) Grade(ctx context.Context, p *bank.Paper, answers map[string]string) (model.Result, error) {
	return f(ctx, p, answers)
}

// LocalGrader grades against the correct labels held by the bank.
type LocalGrader struct{}

// Grade compares each selection with the correct label. Unanswered questions
// score nothing and are reported separately from incorrect ones.
func (LocalGrader) Grade(_ context.Context, p *bank.Paper, answers map[string]string) (model.Result, error) {
	res := model.Result{
		PaperID:    p.ID(),
		TotalMarks: p.TotalMarks(),
		Outcomes:   make([]model.QuestionOutcome, 0, p.Len()),
	}
	for _, q := range p.Questions() {
		out := model.QuestionOutcome{
			QuestionID:  q.ID,
			Ordinal:     q.Ordinal,
			Correct:     q.Answer(),
			Marks:       q.Marks,
			Explanation: q.Explanation,
		}
		sel, ok := answers[q.ID]
		switch {
		case !ok || sel == "":
			out.Verdict = model.VerdictUnanswered
			res.Unanswered++
		case sel == q.Answer():
			out.Selected = sel
			out.Verdict = model.VerdictCorrect
			out.Awarded = q.Marks
			res.Score += q.Marks
			res.Answered++
		default:
			out.Selected = sel
			out.Verdict = model.VerdictIncorrect
			res.Answered++
		}
		res.Outcomes = append(res.Outcomes, out)
	}
	res.Percentage = Percentage(res.Score, res.TotalMarks)
	res.Grade = LetterFor(res.Percentage)
	return res, nil
}

// Percentage returns round(100 * score / total), halves rounded away from zero.
func Percentage(score, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(score) / float64(total)))
}

// LetterFor maps a percentage to its grade band.
func LetterFor(pct int) model.LetterGrade {
	switch {
	case pct >= 80:
		return model.GradeA
	case pct >= 70:
		return model.GradeB
	case pct >= 60:
		return model.GradeC
	case pct >= 50:
		return model.GradeD
	default:
		return model.GradeF
	}
}
