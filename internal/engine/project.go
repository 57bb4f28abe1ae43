package engine

import (
	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/model"
)

// Project builds the review view of a graded result. It does not modify its
// inputs and returns the same view for the same arguments.
func Project(p *bank.Paper, res model.Result) model.ReviewModel {
	rm := model.ReviewModel{
		SessionID:     res.SessionID,
		PaperID:       p.ID(),
		Title:         p.Title(),
		Score:         res.Score,
		TotalMarks:    res.TotalMarks,
		Percentage:    res.Percentage,
		Grade:         res.Grade,
		Trigger:       res.Trigger,
		TimeUsed:      res.TimeUsed,
		TimeRemaining: res.TimeRemaining,
		SubmittedAt:   res.SubmittedAt,
		Items:         make([]model.ReviewItem, 0, p.Len()),
	}

	outcomes := make(map[string]model.QuestionOutcome, len(res.Outcomes))
	for _, o := range res.Outcomes {
		outcomes[o.QuestionID] = o
	}

	var topicOrder []string
	topics := map[string]*model.TopicSummary{}

	for _, q := range p.Questions() {
		o, ok := outcomes[q.ID]
		if !ok {
			o = model.QuestionOutcome{QuestionID: q.ID, Verdict: model.VerdictUnanswered, Correct: q.Answer()}
		}
		item := model.ReviewItem{
			QuestionID:  q.ID,
			Ordinal:     q.Ordinal,
			Prompt:      q.Prompt,
			Topic:       q.Topic,
			Selected:    o.Selected,
			Correct:     o.Correct,
			Verdict:     o.Verdict,
			Marks:       q.Marks,
			Awarded:     o.Awarded,
			Explanation: q.Explanation,
		}
		for _, opt := range q.Options() {
			item.Options = append(item.Options, model.ReviewOption{
				Label:    opt.Label,
				Text:     opt.Text,
				Selected: opt.Label == o.Selected,
				Correct:  opt.Label == o.Correct,
			})
		}
		rm.Items = append(rm.Items, item)

		switch o.Verdict {
		case model.VerdictCorrect:
			rm.Correct++
		case model.VerdictIncorrect:
			rm.Incorrect++
		default:
			rm.Unanswered++
		}

		if q.Topic == "" {
			continue
		}
		ts, ok := topics[q.Topic]
		if !ok {
			ts = &model.TopicSummary{Topic: q.Topic}
			topics[q.Topic] = ts
			topicOrder = append(topicOrder, q.Topic)
		}
		ts.Questions++
		ts.TotalMarks += q.Marks
		ts.Score += o.Awarded
	}

	for _, t := range topicOrder {
		rm.Topics = append(rm.Topics, *topics[t])
	}
	return rm
}
