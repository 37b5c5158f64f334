// Package resolve locates page elements from ordered selector candidates.
// Semantics over speed: a candidate is accepted only when it matches exactly
// one visible element, and ambiguity is never guessed through.
package resolve

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

// Querier runs one selector against the live page. The browser page satisfies
// it; tests substitute a scripted mock.
type Querier interface {
	QueryElements(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error)
}

// Result is a successful resolution.
type Result struct {
	Handle schemas.ElementHandle
	// CandidateIndex is the position of the accepted candidate in the list.
	CandidateIndex int
	// AmbiguityCount is how many earlier candidates were skipped for matching
	// more than one visible element.
	AmbiguityCount int
}

// Resolver tries selector candidates strictly in order, polling each for a
// bounded wait.
type Resolver struct {
	querier Querier
	cfg     config.ResolverConfig
	logger  *zap.Logger
}

// New creates a Resolver.
func New(querier Querier, cfg config.ResolverConfig, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{querier: querier, cfg: cfg, logger: logger}
}

// Resolve finds the element for target. Per candidate it polls until the
// per-candidate wait elapses: exactly one visible match wins; zero matches at
// the deadline move to the next candidate; more than one visible match is
// recorded as an ambiguity and skipped immediately. When every candidate is
// exhausted the error distinguishes Ambiguous (something matched, too much)
// from NotFound (nothing matched at all).
func (r *Resolver) Resolve(ctx context.Context, target string, candidates []schemas.Selector) (Result, error) {
	var ambiguities []string

	for i, cand := range candidates {
		handle, ambiguity, err := r.pollCandidate(ctx, cand)
		if err != nil {
			return Result{}, err
		}
		if ambiguity != "" {
			ambiguities = append(ambiguities, ambiguity)
			r.logger.Debug("candidate ambiguous, moving on",
				zap.String("target", target), zap.String("selector", cand.Query))
			continue
		}
		if handle != nil {
			r.logger.Debug("element resolved",
				zap.String("target", target),
				zap.String("selector", cand.Query),
				zap.Int("candidate", i))
			return Result{Handle: *handle, CandidateIndex: i, AmbiguityCount: len(ambiguities)}, nil
		}
	}

	if len(ambiguities) > 0 {
		return Result{}, &schemas.ResolutionError{
			Target:      target,
			Kind:        schemas.ResolutionAmbiguous,
			Candidates:  len(candidates),
			Ambiguities: ambiguities,
		}
	}
	return Result{}, &schemas.ResolutionError{
		Target:     target,
		Kind:       schemas.ResolutionNotFound,
		Candidates: len(candidates),
	}
}

// pollCandidate polls one selector until it produces a usable answer or the
// candidate wait runs out. Exactly one of the returns is meaningful: a handle
// on success, a non-empty ambiguity note, or neither when nothing appeared.
func (r *Resolver) pollCandidate(ctx context.Context, cand schemas.Selector) (*schemas.ElementHandle, string, error) {
	limiter := rate.NewLimiter(rate.Every(r.cfg.PollInterval), 1)
	start := time.Now()

	for {
		matches, err := r.querier.QueryElements(ctx, cand)
		if err != nil {
			return nil, "", fmt.Errorf("querying %q: %w", cand.Query, err)
		}

		visible := matches[:0:0]
		for _, m := range matches {
			if m.Visible && !m.Geometry.IsZero() {
				visible = append(visible, m)
			}
		}

		switch {
		case len(visible) == 1:
			h := visible[0]
			return &h, "", nil
		case len(visible) > 1:
			return nil, fmt.Sprintf("%s: %d visible matches", cand.Query, len(visible)), nil
		}

		if time.Since(start) >= r.cfg.CandidateWait {
			return nil, "", nil
		}
		if err := limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return nil, "", ctx.Err()
			}
			return nil, "", nil
		}
	}
}
