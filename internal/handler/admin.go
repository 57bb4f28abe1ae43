package handler

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/model"
)

// handleUploadPaper accepts a paper as a JSON body or as a multipart upload
// of a .json or .xlsx file in the "file" field.
func (h *Handler) handleUploadPaper(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes)

	var (
		p   *bank.Paper
		err error
	)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		p, err = h.uploadFile(r)
	default:
		var pi model.PaperImport
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err = dec.Decode(&pi); err != nil {
			err = fmt.Errorf("%w: %v", errBadRequest, err)
			break
		}
		p, err = h.importer.Store(r.Context(), pi)
	}
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	slog.Info("paper uploaded", "paper_id", p.ID(), "questions", p.Len())
	writeJSON(w, http.StatusCreated, p.Summary())
}

func (h *Handler) uploadFile(r *http.Request) (*bank.Paper, error) {
	if err := r.ParseMultipartForm(h.config.MaxUploadBytes); err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	f, header, err := r.FormFile("file")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return h.importer.Import(r.Context(), header.Filename, data)
}

func (h *Handler) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	paperID := chi.URLParam(r, "paperID")
	if err := h.store.DeletePaper(r.Context(), paperID); err != nil {
		h.writeError(w, r, err)
		return
	}
	h.bank.Invalidate(paperID)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListResults(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := model.ResultFilter{
		PaperID:   q.Get("paper_id"),
		StudentID: q.Get("student"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			h.writeError(w, r, fmt.Errorf("%w: invalid limit %q", errBadRequest, v))
			return
		}
		filter.Limit = n
	}
	results, err := h.store.ListResults(r.Context(), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (h *Handler) handleListAttempts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.attempts.Active())
}
