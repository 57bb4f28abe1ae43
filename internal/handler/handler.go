package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/pastpaper/internal/attempts"
	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/engine"
	appI18n "github.com/pavelanni/pastpaper/internal/i18n"
	"github.com/pavelanni/pastpaper/internal/importer"
	"github.com/pavelanni/pastpaper/internal/model"
	"github.com/pavelanni/pastpaper/internal/store"
)

const defaultMaxUpload = 8 << 20

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store    *store.Store
	bank     *bank.Bank
	attempts *attempts.Manager
	importer *importer.Importer
	auth     *Auth
	config   model.ServeConfig
}

// New creates a new Handler. Papers stored through the admin API evict the
// bank's cached copy.
func New(s *store.Store, b *bank.Bank, m *attempts.Manager, cfg model.ServeConfig) (*Handler, error) {
	auth, err := NewAuth(cfg.JWTSecret, 0)
	if err != nil {
		return nil, err
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = defaultMaxUpload
	}
	im := importer.New(s)
	im.OnStored = b.Invalidate
	return &Handler{store: s, bank: b, attempts: m, importer: im, auth: auth, config: cfg}, nil
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.handleHealth)
	r.Get("/api/papers", h.handleListPapers)
	r.Get("/api/papers/{paperID}", h.handleGetPaper)

	r.Route("/api/attempts", func(r chi.Router) {
		r.With(h.requireStudent).Post("/", h.handleStartAttempt)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.With(queryToken, h.requireStudent).Get("/events", h.handleEvents)
			r.Group(func(r chi.Router) {
				r.Use(h.requireStudent)
				r.Get("/", h.handleGetAttempt)
				r.Delete("/", h.handleCancelAttempt)
				r.Get("/question", h.handleCurrentQuestion)
				r.Put("/answers/{questionID}", h.handleSelect)
				r.Delete("/answers/{questionID}", h.handleClear)
				r.Post("/navigate", h.handleNavigate)
				r.Post("/marks", h.handleToggleMark)
				r.Post("/submit", h.handleSubmit)
			})
		})
	})
	r.With(h.requireStudent).Get("/api/results/{sessionID}/review", h.handleReviewJSON)
	r.With(queryToken, h.requireStudent).Get("/results/{sessionID}", h.handleReviewPage)

	r.Route("/api/admin", func(r chi.Router) {
		r.Use(h.requireAdmin)
		r.Post("/papers", h.handleUploadPaper)
		r.Delete("/papers/{paperID}", h.handleDeletePaper)
		r.Get("/results", h.handleListResults)
		r.Get("/attempts", h.handleListAttempts)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleListPapers(w http.ResponseWriter, r *http.Request) {
	papers, err := h.store.ListPapers(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, papers)
}

func (h *Handler) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	p, err := h.bank.Load(r.Context(), chi.URLParam(r, "paperID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p.Public())
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode response", "error", err)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// errBadRequest marks malformed requests.
var errBadRequest = errors.New("bad request")

// classify maps an error to a status code and a message id.
func classify(err error) (int, string) {
	var gradingErr *engine.GradingError
	var rowErrs importer.RowErrors
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest, "ErrBadRequest"
	case errors.Is(err, errUnauthorized):
		return http.StatusUnauthorized, "ErrUnauthorized"
	case errors.Is(err, engine.ErrValidation):
		return http.StatusUnprocessableEntity, "ErrValidation"
	case errors.Is(err, bank.ErrNotFound), errors.Is(err, store.ErrNotFound), errors.Is(err, attempts.ErrNotFound):
		return http.StatusNotFound, "ErrNotFound"
	case errors.Is(err, bank.ErrInvariant):
		return http.StatusUnprocessableEntity, "ErrInvalidPaper"
	case errors.As(err, &rowErrs), errors.Is(err, importer.ErrUnsupportedFormat):
		return http.StatusUnprocessableEntity, "ErrInvalidPaper"
	case errors.Is(err, bank.ErrLoad):
		return http.StatusBadGateway, "ErrCannotStart"
	case errors.As(err, &gradingErr):
		return http.StatusServiceUnavailable, "ErrCouldNotSubmit"
	case errors.Is(err, engine.ErrNotInProgress), errors.Is(err, engine.ErrNotGraded), errors.Is(err, engine.ErrCancelled):
		return http.StatusConflict, "ErrWrongState"
	default:
		return http.StatusInternalServerError, "ErrInternal"
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, msgID := classify(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	} else {
		slog.Debug("request rejected", "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Message: appI18n.T(r.Context(), msgID)})
}
