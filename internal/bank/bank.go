// Package bank loads examination papers, validates them once and keeps them
// as immutable values that any number of sessions may share.
package bank

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/singleflight"

	"github.com/pavelanni/pastpaper/internal/model"
)

var tracer = otel.Tracer("github.com/pavelanni/pastpaper/internal/bank")

var (
	// ErrNotFound means no paper matches the requested identifier.
	ErrNotFound = errors.New("paper not found")
	// ErrLoad matches every *LoadError.
	ErrLoad = errors.New("paper load failed")
	// ErrInvariant matches every *InvariantError.
	ErrInvariant = errors.New("paper invariant violated")
)

// LoadError wraps a transport or parse failure of a paper source.
type LoadError struct {
	PaperID string
	Err     error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load paper %s: %v", e.PaperID, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func (e *LoadError) Is(target error) bool { return target == ErrLoad }

// InvariantError reports a paper that failed structural validation.
type InvariantError struct {
	PaperID string
	Reason  string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("paper %s: %s", e.PaperID, e.Reason)
}

func (e *InvariantError) Is(target error) bool { return target == ErrInvariant }

// Source fetches the raw form of a paper, hidden answers included.
// Implementations return an error matching ErrNotFound for unknown papers.
type Source interface {
	LoadPaper(ctx context.Context, paperID string) (model.PaperImport, error)
}

// SourceFunc adapts a function to the Source interface.
type SourceFunc func(ctx context.Context, paperID string) (model.PaperImport, error)

func (f SourceFunc) LoadPaper(ctx context.Context, paperID string) (model.PaperImport, error) {
	return f(ctx, paperID)
}

// fetchTimeout bounds a shared source fetch. The fetch outlives the caller
// that started it, so it cannot use that caller's deadline.
const fetchTimeout = 30 * time.Second

// Bank loads papers from a Source and caches the validated result.
type Bank struct {
	src   Source
	group singleflight.Group

	mu     sync.RWMutex
	papers map[string]*Paper
	// gens counts invalidations per paper. A fetch only caches its paper
	// if no invalidation happened while it ran.
	gens map[string]uint64
}

// New creates a bank over the given source.
func New(src Source) *Bank {
	return &Bank{src: src, papers: make(map[string]*Paper), gens: make(map[string]uint64)}
}

// Load returns the validated paper with the given identifier. A paper is
// fetched from the source once; concurrent callers share that fetch. A
// caller whose ctx ends stops waiting without failing the others.
func (b *Bank) Load(ctx context.Context, paperID string) (*Paper, error) {
	b.mu.RLock()
	p, ok := b.papers[paperID]
	b.mu.RUnlock()
	if ok {
		return p, nil
	}

	ch := b.group.DoChan(paperID, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fetchTimeout)
		defer cancel()
		return b.fetch(fctx, paperID)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		return r.Val.(*Paper), nil
	}
}

func (b *Bank) fetch(ctx context.Context, paperID string) (*Paper, error) {
	b.mu.RLock()
	gen := b.gens[paperID]
	b.mu.RUnlock()

	ctx, span := tracer.Start(ctx, "bank.Load")
	defer span.End()
	span.SetAttributes(attribute.String("paper.id", paperID))

	raw, err := b.src.LoadPaper(ctx, paperID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "source failed")
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, paperID)
		}
		return nil, &LoadError{PaperID: paperID, Err: err}
	}

	p, err := NewPaper(raw)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid paper")
		slog.Warn("rejected paper", "paper_id", paperID, "error", err)
		return nil, err
	}
	if p.ID() != paperID {
		return nil, &InvariantError{PaperID: paperID, Reason: fmt.Sprintf("source returned paper %q", p.ID())}
	}

	b.mu.Lock()
	if b.gens[paperID] == gen {
		b.papers[paperID] = p
	}
	b.mu.Unlock()

	span.SetAttributes(attribute.Int("paper.questions", p.Len()))
	slog.Debug("loaded paper", "paper_id", paperID, "questions", p.Len(), "total_marks", p.TotalMarks())
	return p, nil
}

// Invalidate drops a cached paper so the next Load reads the source again.
// Sessions that already hold the old paper keep using it.
func (b *Bank) Invalidate(paperID string) {
	b.mu.Lock()
	delete(b.papers, paperID)
	b.gens[paperID]++
	b.mu.Unlock()
	b.group.Forget(paperID)
}
