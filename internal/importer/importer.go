package importer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/pavelanni/pastpaper/internal/bank"
	"github.com/pavelanni/pastpaper/internal/model"
)

// PaperStore is the part of the store the importer writes to.
type PaperStore interface {
	PutPaper(ctx context.Context, p *bank.Paper) error
	GetImportedFileHash(ctx context.Context, path string) (string, error)
	SetImportedFileHash(ctx context.Context, path, sha256, paperID string) error
}

// Status describes what happened to one imported file.
type Status string

const (
	StatusImported  Status = "imported"
	StatusUnchanged Status = "unchanged"
	StatusChanged   Status = "changed"
)

// Outcome is the result of importing one file.
type Outcome struct {
	Path    string
	PaperID string
	Status  Status
}

// Importer validates papers and stores them.
type Importer struct {
	store PaperStore
	// Force re-imports files whose content changed since the last import.
	Force bool
	// OnStored is called after a paper is stored, so caches can be dropped.
	OnStored func(paperID string)
}

func New(store PaperStore) *Importer {
	return &Importer{store: store}
}

// ImportFile imports one paper file. Unchanged files are skipped; changed
// files are skipped unless Force is set, so running attempts keep their paper.
func (im *Importer) ImportFile(ctx context.Context, path string) (Outcome, error) {
	out := Outcome{Path: path}
	data, err := os.ReadFile(path)
	if err != nil {
		return out, fmt.Errorf("read %s: %w", path, err)
	}

	hash := sha256sum(data)
	storedHash, err := im.store.GetImportedFileHash(ctx, path)
	if err != nil {
		return out, fmt.Errorf("check import status for %s: %w", path, err)
	}
	if storedHash == hash {
		slog.Info("paper file unchanged, skipping", "path", path)
		out.Status = StatusUnchanged
		return out, nil
	}
	if storedHash != "" && !im.Force {
		slog.Warn("paper file changed since last import, skipping (use --force to replace)", "path", path)
		out.Status = StatusChanged
		return out, nil
	}

	p, err := im.Import(ctx, filepath.Base(path), data)
	if err != nil {
		return out, fmt.Errorf("import %s: %w", path, err)
	}
	if err := im.store.SetImportedFileHash(ctx, path, hash, p.ID()); err != nil {
		return out, fmt.Errorf("record import for %s: %w", path, err)
	}
	out.PaperID = p.ID()
	out.Status = StatusImported
	return out, nil
}

// Import decodes, validates and stores a paper from raw file content.
func (im *Importer) Import(ctx context.Context, name string, data []byte) (*bank.Paper, error) {
	pi, err := Decode(name, data)
	if err != nil {
		return nil, err
	}
	return im.Store(ctx, pi)
}

// Store validates and stores a decoded paper.
func (im *Importer) Store(ctx context.Context, pi model.PaperImport) (*bank.Paper, error) {
	p, err := bank.NewPaper(pi)
	if err != nil {
		return nil, err
	}
	if err := im.store.PutPaper(ctx, p); err != nil {
		return nil, fmt.Errorf("store paper %s: %w", p.ID(), err)
	}
	if im.OnStored != nil {
		im.OnStored(p.ID())
	}
	slog.Info("imported paper", "paper_id", p.ID(), "questions", p.Len(), "total_marks", p.TotalMarks())
	return p, nil
}

func sha256sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// Dir is a read-only paper source backed by a directory holding
// <paper-id>.json or <paper-id>.xlsx files.
type Dir string

// LoadPaper implements bank.Source.
func (d Dir) LoadPaper(_ context.Context, paperID string) (model.PaperImport, error) {
	if paperID == "" || strings.ContainsAny(paperID, `/\`) || strings.HasPrefix(paperID, ".") {
		return model.PaperImport{}, bank.ErrNotFound
	}
	for _, ext := range []string{".json", ".xlsx"} {
		data, err := os.ReadFile(filepath.Join(string(d), paperID+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return model.PaperImport{}, err
		}
		return Decode(paperID+ext, data)
	}
	return model.PaperImport{}, bank.ErrNotFound
}

// Files lists the paper files in a directory, sorted by name.
func (d Dir) Files() ([]string, error) {
	entries, err := os.ReadDir(string(d))
	if err != nil {
		return nil, err
	}
	var out []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		switch strings.ToLower(filepath.Ext(e.Name())) {
		case ".json", ".xlsx":
			out = append(out, filepath.Join(string(d), e.Name()))
		}
	}
	return out, nil
}
