package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pavelanni/pastpaper/internal/model"
)

type resultRow struct {
	model.StoredResult
	ResultJSON string `db:"result_json"`
	ReviewJSON string `db:"review_json"`
}

func (r resultRow) decode() (model.StoredResult, error) {
	out := r.StoredResult
	if err := json.Unmarshal([]byte(r.ResultJSON), &out.Result); err != nil {
		return out, fmt.Errorf("decode result %s: %w", r.SessionID, err)
	}
	if r.ReviewJSON != "" {
		var rm model.ReviewModel
		if err := json.Unmarshal([]byte(r.ReviewJSON), &rm); err != nil {
			return out, fmt.Errorf("decode review %s: %w", r.SessionID, err)
		}
		out.Review = &rm
	}
	return out, nil
}

// SaveResult stores a graded result together with its review, which is
// frozen at grading time so later paper edits do not change it. Saving the
// same session twice keeps the first copy, so retries after a partial
// failure are safe.
func (s *Store) SaveResult(ctx context.Context, res model.Result, review model.ReviewModel) error {
	data, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("encode result: %w", err)
	}
	reviewData, err := json.Marshal(review)
	if err != nil {
		return fmt.Errorf("encode review: %w", err)
	}
	_, err = s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO results (session_id, paper_id, student_id, score, total_marks, percentage, grade, submitted_at, result_json, review_json)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (session_id) DO NOTHING`),
		res.SessionID, res.PaperID, res.StudentID, res.Score, res.TotalMarks, res.Percentage,
		string(res.Grade), res.SubmittedAt.Unix(), string(data), string(reviewData),
	)
	if err != nil {
		slog.Error("failed to save result", "session_id", res.SessionID, "error", err)
		return fmt.Errorf("save result %s: %w", res.SessionID, err)
	}
	slog.Info("saved result", "session_id", res.SessionID, "paper_id", res.PaperID, "score", res.Score)
	return nil
}

// GetResult returns the stored result of a session.
func (s *Store) GetResult(ctx context.Context, sessionID string) (model.StoredResult, error) {
	var row resultRow
	err := s.db.GetContext(ctx, &row, s.db.Rebind(
		`SELECT session_id, paper_id, student_id, score, total_marks, percentage, grade, submitted_at, result_json, review_json
		 FROM results WHERE session_id = ?`), sessionID)
	if errors.Is(err, sql.ErrNoRows) {
		return model.StoredResult{}, ErrNotFound
	}
	if err != nil {
		return model.StoredResult{}, err
	}
	return row.decode()
}

// ListResults returns results matching the filter, newest first.
// Empty filter fields mean no filtering on that field.
func (s *Store) ListResults(ctx context.Context, f model.ResultFilter) ([]model.StoredResult, error) {
	query := `SELECT session_id, paper_id, student_id, score, total_marks, percentage, grade, submitted_at, result_json, review_json
		FROM results WHERE 1=1`
	var args []any
	if f.PaperID != "" {
		query += ` AND paper_id = ?`
		args = append(args, f.PaperID)
	}
	if f.StudentID != "" {
		query += ` AND student_id = ?`
		args = append(args, f.StudentID)
	}
	query += ` ORDER BY submitted_at DESC, session_id`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	var rows []resultRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, err
	}
	out := make([]model.StoredResult, 0, len(rows))
	for _, r := range rows {
		sr, err := r.decode()
		if err != nil {
			return nil, err
		}
		out = append(out, sr)
	}
	return out, nil
}
