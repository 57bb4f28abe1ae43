package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/pastpaper/internal/engine"
	"github.com/pavelanni/pastpaper/internal/handler/views"
	"github.com/pavelanni/pastpaper/internal/model"
)

// review builds the results view of one of the caller's graded sessions from
// the copy frozen at grading time. Only results stored without one are
// projected against the current copy of their paper.
func (h *Handler) review(ctx context.Context, sessionID, studentID string) (model.ReviewModel, error) {
	res, rm, err := h.graded(ctx, sessionID, studentID)
	if err != nil {
		return model.ReviewModel{}, err
	}
	if rm != nil {
		return *rm, nil
	}
	p, err := h.bank.Load(ctx, res.PaperID)
	if err != nil {
		return model.ReviewModel{}, err
	}
	return engine.Project(p, res), nil
}

func (h *Handler) handleReviewJSON(w http.ResponseWriter, r *http.Request) {
	rm, err := h.review(r.Context(), chi.URLParam(r, "sessionID"), student(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rm)
}

func (h *Handler) handleReviewPage(w http.ResponseWriter, r *http.Request) {
	rm, err := h.review(r.Context(), chi.URLParam(r, "sessionID"), student(r).ID)
	if err != nil {
		status, _ := classify(err)
		http.Error(w, http.StatusText(status), status)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := views.ReviewPage(rm).Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}
