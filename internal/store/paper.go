package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/model"
)

type questionRow struct {
	ID          string `db:"id"`
	Ordinal     int    `db:"ordinal"`
	Prompt      string `db:"prompt"`
	OptionsJSON string `db:"options_json"`
	Answer      string `db:"answer"`
	Marks       int    `db:"marks"`
	Topic       string `db:"topic"`
	Explanation string `db:"explanation"`
}

// PutPaper stores a validated paper, replacing any paper with the same id.
func (s *Store) PutPaper(ctx context.Context, p *bank.Paper) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO papers (id, title, subject, year, duration_sec, total_marks, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
		   title = excluded.title, subject = excluded.subject, year = excluded.year,
		   duration_sec = excluded.duration_sec, total_marks = excluded.total_marks,
		   updated_at = excluded.updated_at`),
		p.ID(), p.Title(), p.Subject(), p.Year(), p.Duration(), p.TotalMarks(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("upsert paper %s: %w", p.ID(), err)
	}
	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM questions WHERE paper_id = ?`), p.ID()); err != nil {
		return fmt.Errorf("clear questions of %s: %w", p.ID(), err)
	}

	insert := s.db.Rebind(
		`INSERT INTO questions (paper_id, id, ordinal, prompt, options_json, answer, marks, topic, explanation)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, q := range p.Questions() {
		opts := make([]model.OptionImport, 0, len(q.Options()))
		for _, o := range q.Options() {
			opts = append(opts, model.OptionImport{Label: o.Label, Text: o.Text})
		}
		optsJSON, err := json.Marshal(opts)
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, insert,
			p.ID(), q.ID, q.Ordinal, q.Prompt, string(optsJSON), q.Answer(), q.Marks, q.Topic, q.Explanation)
		if err != nil {
			return fmt.Errorf("insert question %s/%s: %w", p.ID(), q.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("stored paper", "paper_id", p.ID(), "questions", p.Len())
	return nil
}

// LoadPaper reads a paper in import form. It returns bank.ErrNotFound for
// unknown ids, so a Store can back a bank.Bank directly.
func (s *Store) LoadPaper(ctx context.Context, paperID string) (model.PaperImport, error) {
	var pi model.PaperImport
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(
		`SELECT id, title, subject, year, duration_sec, total_marks FROM papers WHERE id = ?`), paperID,
	).Scan(&pi.ID, &pi.Title, &pi.Subject, &pi.Year, &pi.DurationSec, &pi.TotalMarks)
	if errors.Is(err, sql.ErrNoRows) {
		return pi, bank.ErrNotFound
	}
	if err != nil {
		return pi, fmt.Errorf("read paper %s: %w", paperID, err)
	}

	var rows []questionRow
	err = s.db.SelectContext(ctx, &rows, s.db.Rebind(
		`SELECT id, ordinal, prompt, options_json, answer, marks, topic, explanation
		 FROM questions WHERE paper_id = ? ORDER BY ordinal`), paperID)
	if err != nil {
		return pi, fmt.Errorf("read questions of %s: %w", paperID, err)
	}
	for _, r := range rows {
		q := model.QuestionImport{
			ID:          r.ID,
			Prompt:      r.Prompt,
			Answer:      r.Answer,
			Marks:       r.Marks,
			Topic:       r.Topic,
			Explanation: r.Explanation,
		}
		if err := json.Unmarshal([]byte(r.OptionsJSON), &q.Options); err != nil {
			return pi, fmt.Errorf("decode options of %s/%s: %w", paperID, r.ID, err)
		}
		pi.Questions = append(pi.Questions, q)
	}
	return pi, nil
}

// ListPapers returns catalog entries, newest year first.
func (s *Store) ListPapers(ctx context.Context) ([]model.PaperSummary, error) {
	papers := []model.PaperSummary{}
	err := s.db.SelectContext(ctx, &papers,
		`SELECT p.id, p.title, p.subject, p.year, p.duration_sec, p.total_marks,
		   (SELECT COUNT(*) FROM questions q WHERE q.paper_id = p.id) AS question_count
		 FROM papers p ORDER BY p.year DESC, p.id`)
	return papers, err
}

// DeletePaper removes a paper and its questions. Stored results are kept.
func (s *Store) DeletePaper(ctx context.Context, paperID string) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM questions WHERE paper_id = ?`), paperID); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx, s.db.Rebind(`DELETE FROM papers WHERE id = ?`), paperID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	slog.Info("deleted paper", "paper_id", paperID)
	return nil
}
