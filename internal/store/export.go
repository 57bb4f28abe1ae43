package store

import (
	"context"
	"fmt"
	"time"

	"github.com/pavelanni/pastpaper/internal/model"
)

// ExportResults builds an export of every stored result, or of one paper's
// results when paperID is set.
func (s *Store) ExportResults(ctx context.Context, paperID string) (model.ResultExport, error) {
	results, err := s.ListResults(ctx, model.ResultFilter{PaperID: paperID})
	if err != nil {
		return model.ResultExport{}, fmt.Errorf("list results: %w", err)
	}
	return model.ResultExport{
		PaperID:    paperID,
		ExportedAt: time.Now().UTC(),
		Count:      len(results),
		Results:    results,
	}, nil
}
