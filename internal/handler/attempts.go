package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/pastpaper/internal/attempts"
	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/engine"
	appI18n "github.com/pavelanni/pastpaper/internal/i18n"
	"github.com/pavelanni/pastpaper/internal/model"
	"github.com/pavelanni/pastpaper/internal/store"
)

const (
	loadTimeout   = 30 * time.Second
	sseBuffer     = 16
	sseKeepAlive  = 15 * time.Second
	submitTimeout = time.Minute
)

// finishedAttempt is returned for sessions that were graded and released.
type finishedAttempt struct {
	SessionID string             `json:"session_id"`
	PaperID   string             `json:"paper_id"`
	State     model.SessionState `json:"state"`
	Result    model.Result       `json:"result"`
}

func student(r *http.Request) *model.Student {
	return model.StudentFromContext(r.Context())
}

// session returns the caller's live session named in the URL.
func (h *Handler) session(r *http.Request) (*engine.Session, error) {
	return h.attempts.Get(chi.URLParam(r, "sessionID"), student(r).ID)
}

// result finds the graded result of one of the caller's sessions, whether it
// is still live, already stored, or waiting to be stored.
func (h *Handler) result(ctx context.Context, sessionID, studentID string) (model.Result, error) {
	res, _, err := h.graded(ctx, sessionID, studentID)
	return res, err
}

// graded is result plus the review captured at grading time. The review is
// nil when the stored row predates review storage.
func (h *Handler) graded(ctx context.Context, sessionID, studentID string) (model.Result, *model.ReviewModel, error) {
	if s, err := h.attempts.Get(sessionID, studentID); err == nil {
		res, ok := s.Result()
		if !ok {
			return model.Result{}, nil, engine.ErrNotGraded
		}
		rm, err := s.Review()
		if err != nil {
			return model.Result{}, nil, err
		}
		return res, &rm, nil
	}
	stored, err := h.store.GetResult(ctx, sessionID)
	if err == nil {
		if stored.StudentID != studentID {
			return model.Result{}, nil, attempts.ErrNotFound
		}
		return stored.Result, stored.Review, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return model.Result{}, nil, err
	}
	if res, rm, ok := h.attempts.Unsaved(sessionID); ok && res.StudentID == studentID {
		return res, &rm, nil
	}
	return model.Result{}, nil, attempts.ErrNotFound
}

type startRequest struct {
	PaperID string `json:"paper_id"`
}

func (h *Handler) handleStartAttempt(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.PaperID == "" {
		h.writeError(w, r, fmt.Errorf("%w: paper_id is required", errBadRequest))
		return
	}

	// The load outlives a dropped connection so the student can resume.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), loadTimeout)
	defer cancel()
	s, resumed, err := h.attempts.Start(ctx, student(r).ID, req.PaperID)
	if err != nil {
		if errors.Is(err, bank.ErrInvariant) || errors.Is(err, bank.ErrLoad) {
			status, _ := classify(err)
			slog.Error("attempt could not start", "paper_id", req.PaperID, "error", err)
			writeJSON(w, status, errorBody{Error: err.Error(), Message: appI18n.T(r.Context(), "ErrCannotStart")})
			return
		}
		h.writeError(w, r, err)
		return
	}
	status := http.StatusCreated
	if resumed {
		status = http.StatusOK
	}
	writeJSON(w, status, s.Snapshot())
}

func (h *Handler) handleGetAttempt(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err == nil {
		writeJSON(w, http.StatusOK, s.Snapshot())
		return
	}
	res, err := h.result(r.Context(), chi.URLParam(r, "sessionID"), student(r).ID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, finishedAttempt{
		SessionID: res.SessionID,
		PaperID:   res.PaperID,
		State:     model.StateGraded,
		Result:    res,
	})
}

func (h *Handler) handleCancelAttempt(w http.ResponseWriter, r *http.Request) {
	if err := h.attempts.Cancel(chi.URLParam(r, "sessionID"), student(r).ID); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleCurrentQuestion(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cq, err := s.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cq)
}

type selectRequest struct {
	Option string `json:"option"`
}

func (h *Handler) handleSelect(w http.ResponseWriter, r *http.Request) {
	var req selectRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := s.Select(chi.URLParam(r, "questionID"), req.Option); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

func (h *Handler) handleClear(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := s.Clear(chi.URLParam(r, "questionID")); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Snapshot())
}

type navigateRequest struct {
	Action string `json:"action"`
	Index  int    `json:"index"`
}

func (h *Handler) handleNavigate(w http.ResponseWriter, r *http.Request) {
	var req navigateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	switch req.Action {
	case "next":
		_, err = s.Next()
	case "previous":
		_, err = s.Previous()
	case "jump":
		_, err = s.JumpTo(req.Index)
	default:
		err = fmt.Errorf("%w: unknown action %q", errBadRequest, req.Action)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	cq, err := s.Current()
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cq)
}

type markRequest struct {
	Kind       engine.MarkKind `json:"kind"`
	QuestionID string          `json:"question_id"`
}

type markResponse struct {
	Kind       engine.MarkKind `json:"kind"`
	QuestionID string          `json:"question_id"`
	On         bool            `json:"on"`
}

func (h *Handler) handleToggleMark(w http.ResponseWriter, r *http.Request) {
	var req markRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if !req.Kind.Valid() {
		h.writeError(w, r, fmt.Errorf("%w: unknown mark kind %q", errBadRequest, req.Kind))
		return
	}
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	on, err := s.ToggleMark(req.Kind, req.QuestionID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, markResponse{Kind: req.Kind, QuestionID: req.QuestionID, On: on})
}

func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "sessionID")
	s, err := h.session(r)
	if errors.Is(err, attempts.ErrNotFound) {
		// Already graded and released: submitting again returns the same result.
		res, err := h.result(r.Context(), sessionID, student(r).ID)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), submitTimeout)
	defer cancel()
	res, err := s.Submit(ctx)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleEvents streams session events as Server-Sent Events until the
// session finishes or the client goes away.
func (h *Handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	s, err := h.session(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		h.writeError(w, r, errors.New("streaming unsupported"))
		return
	}
	events, unsubscribe := s.Subscribe(sseBuffer)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	snap := s.Snapshot()
	first := engine.Event{Kind: engine.EventState, SessionID: snap.SessionID, State: snap.State, Remaining: snap.Remaining}
	if err := writeEvent(w, first); err != nil {
		return
	}
	flusher.Flush()

	keepAlive := time.NewTicker(sseKeepAlive)
	defer keepAlive.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(w, ev); err != nil {
				slog.Debug("event stream closed", "session_id", s.ID(), "error", err)
				return
			}
			flusher.Flush()
		}
	}
}

func writeEvent(w http.ResponseWriter, ev engine.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", ev.Kind, data)
	return err
}
