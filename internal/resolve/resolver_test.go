package resolve

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
)

func testResolverConfig() config.ResolverConfig {
	return config.ResolverConfig{
		CandidateWait: 40 * time.Millisecond,
		PollInterval:  5 * time.Millisecond,
	}
}

func candidates(queries ...string) []schemas.Selector {
	out := make([]schemas.Selector, 0, len(queries))
	for _, q := range queries {
		out = append(out, schemas.Selector{Query: q, Kind: schemas.GuessKind(q)})
	}
	return out
}

func TestResolveFirstCandidateWins(t *testing.T) {
	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		if sel.Query == "#primary" {
			return []schemas.ElementHandle{visibleElement("#primary", 0)}, nil
		}
		t.Errorf("later candidate %q queried although the first matched", sel.Query)
		return nil, nil
	}

	r := New(q, testResolverConfig(), zap.NewNop())
	res, err := r.Resolve(context.Background(), "collect button", candidates("#primary", "#fallback"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.CandidateIndex)
	assert.Equal(t, 0, res.AmbiguityCount)
	assert.Equal(t, "#primary", res.Handle.Selector.Query)
	assert.Equal(t, 1, q.callCount("#primary"))
}

func TestResolveFallsThroughInOrder(t *testing.T) {
	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		if sel.Query == "#second" {
			return []schemas.ElementHandle{visibleElement("#second", 0)}, nil
		}
		return nil, nil
	}

	r := New(q, testResolverConfig(), zap.NewNop())
	res, err := r.Resolve(context.Background(), "ship-to entry", candidates("#first", "#second"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.CandidateIndex)

	// The first candidate got its full polling budget before giving way.
	assert.GreaterOrEqual(t, q.callCount("#first"), 2)
	assert.Equal(t, 1, q.callCount("#second"))
}

func TestResolveAmbiguityMovesOnImmediately(t *testing.T) {
	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		if sel.Query == ".wide" {
			return []schemas.ElementHandle{visibleElement(".wide", 0), visibleElement(".wide", 1)}, nil
		}
		return []schemas.ElementHandle{visibleElement("#narrow", 0)}, nil
	}

	r := New(q, testResolverConfig(), zap.NewNop())
	res, err := r.Resolve(context.Background(), "login button", candidates(".wide", "#narrow"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.CandidateIndex)
	assert.Equal(t, 1, res.AmbiguityCount)

	// Ambiguity is decided on the first look, never polled at.
	assert.Equal(t, 1, q.callCount(".wide"))
}

func TestResolveAllAmbiguousReportsAmbiguity(t *testing.T) {
	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		return []schemas.ElementHandle{
			visibleElement(sel.Query, 0),
			visibleElement(sel.Query, 1),
			visibleElement(sel.Query, 2),
		}, nil
	}

	r := New(q, testResolverConfig(), zap.NewNop())
	_, err := r.Resolve(context.Background(), "save button", candidates(".a", ".b"))
	require.Error(t, err)

	var re *schemas.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, schemas.ResolutionAmbiguous, re.Kind)
	assert.Len(t, re.Ambiguities, 2)
	assert.Contains(t, re.Ambiguities[0], "3 visible matches")

	// Ambiguity still classifies as not-found for recovery cause purposes.
	assert.Equal(t, schemas.CauseNotFound, schemas.CauseOf(err))
}

func TestResolveNothingFound(t *testing.T) {
	q := newMockQuerier()

	r := New(q, testResolverConfig(), zap.NewNop())
	_, err := r.Resolve(context.Background(), "checkin marker", candidates("#a", "#b"))
	require.Error(t, err)

	var re *schemas.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, schemas.ResolutionNotFound, re.Kind)
	assert.Equal(t, 2, re.Candidates)
	assert.Empty(t, re.Ambiguities)
}

func TestResolveElementAppearsMidWait(t *testing.T) {
	cfg := config.ResolverConfig{CandidateWait: 300 * time.Millisecond, PollInterval: 5 * time.Millisecond}

	var polls atomic.Int32
	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		if polls.Add(1) >= 3 {
			return []schemas.ElementHandle{visibleElement(sel.Query, 0)}, nil
		}
		return nil, nil
	}

	r := New(q, cfg, zap.NewNop())
	res, err := r.Resolve(context.Background(), "late banner", candidates("#late"))
	require.NoError(t, err)
	assert.Equal(t, 0, res.CandidateIndex)
	assert.GreaterOrEqual(t, q.callCount("#late"), 3)
}

func TestResolveIgnoresInvisibleMatches(t *testing.T) {
	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		hidden := visibleElement(sel.Query, 0)
		hidden.Visible = false
		flat := visibleElement(sel.Query, 1)
		flat.Geometry.Height = 0
		return []schemas.ElementHandle{hidden, flat}, nil
	}

	r := New(q, testResolverConfig(), zap.NewNop())
	_, err := r.Resolve(context.Background(), "overlay", candidates("#masked"))
	require.Error(t, err)

	var re *schemas.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, schemas.ResolutionNotFound, re.Kind)
}

func TestResolveHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := config.ResolverConfig{CandidateWait: 10 * time.Second, PollInterval: 5 * time.Millisecond}

	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		if q.callCount(sel.Query) == 2 {
			cancel()
		}
		return nil, nil
	}

	r := New(q, cfg, zap.NewNop())
	start := time.Now()
	_, err := r.Resolve(ctx, "slow target", candidates("#never"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, time.Since(start), time.Second, "cancellation must cut the wait short")
}

func TestResolveQuerierErrorSurfaces(t *testing.T) {
	sentinel := errors.New("page detached")
	q := newMockQuerier()
	q.MockQuery = func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
		return nil, sentinel
	}

	r := New(q, testResolverConfig(), zap.NewNop())
	_, err := r.Resolve(context.Background(), "anything", candidates("#x"))
	require.ErrorIs(t, err, sentinel)
}

func TestResolveNoCandidates(t *testing.T) {
	r := New(newMockQuerier(), testResolverConfig(), zap.NewNop())
	_, err := r.Resolve(context.Background(), "empty", nil)
	require.Error(t, err)

	var re *schemas.ResolutionError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, schemas.ResolutionNotFound, re.Kind)
	assert.Zero(t, re.Candidates)
}
