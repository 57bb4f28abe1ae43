// Package views renders the HTML pages as templ components. Edit the .templ
// files and run `templ generate`; the _templ.go files are generated.
package views

import (
	"context"
	"fmt"

	appI18n "github.com/pavelanni/pastpaper/internal/i18n"
	"github.com/pavelanni/pastpaper/internal/model"
)

// Clock formats seconds as HH:MM:SS.
func Clock(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, sec/60%60, sec%60)
}

func reviewTitle(ctx context.Context, rm model.ReviewModel) string {
	return appI18n.Td(ctx, "ReviewTitle", map[string]any{"Title": rm.Title})
}

func questionHeading(ctx context.Context, item model.ReviewItem) string {
	return appI18n.Td(ctx, "QuestionN", map[string]any{"N": item.Ordinal})
}

func selectedLabel(ctx context.Context, item model.ReviewItem) string {
	if item.Selected == "" {
		return appI18n.T(ctx, "NoAnswer")
	}
	return item.Selected
}

func verdictLabel(ctx context.Context, v model.Verdict) string {
	switch v {
	case model.VerdictCorrect:
		return appI18n.T(ctx, "VerdictCorrect")
	case model.VerdictIncorrect:
		return appI18n.T(ctx, "VerdictIncorrect")
	default:
		return appI18n.T(ctx, "VerdictUnanswered")
	}
}

func triggerLabel(ctx context.Context, t model.Trigger) string {
	if t == model.TriggerExpired {
		return appI18n.T(ctx, "TriggerExpired")
	}
	return appI18n.T(ctx, "TriggerManual")
}
