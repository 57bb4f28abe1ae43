package store

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// SetImportedFileHash records the content hash of an imported file.
func (s *Store) SetImportedFileHash(ctx context.Context, path, sha256, paperID string) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(
		`INSERT INTO imported_files (path, sha256, paper_id, imported_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT (path) DO UPDATE SET sha256 = excluded.sha256, paper_id = excluded.paper_id,
		   imported_at = excluded.imported_at`),
		path, sha256, paperID, time.Now().Unix(),
	)
	return err
}

// GetImportedFileHash returns the hash recorded for a file.
// Returns empty string and nil error if the file was never imported.
func (s *Store) GetImportedFileHash(ctx context.Context, path string) (string, error) {
	var hash string
	err := s.db.GetContext(ctx, &hash, s.db.Rebind(`SELECT sha256 FROM imported_files WHERE path = ?`), path)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	return hash, err
}
