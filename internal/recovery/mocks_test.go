package recovery

import (
	"context"
	"sync"

	"github.com/xkilldash9x/magpie-cli/internal/checkpoint"
)

// mockGate implements the Gate interface for testing. Consultations are
// recorded; the canned decision is returned unless MockAwait overrides it.
type mockGate struct {
	mu       sync.Mutex
	enabled  bool
	decision checkpoint.Decision
	err      error
	requests []checkpoint.Request

	MockAwait func(ctx context.Context, req checkpoint.Request) (checkpoint.Decision, error)
}

func newMockGate(enabled bool, decision checkpoint.Decision, err error) *mockGate {
	return &mockGate{enabled: enabled, decision: decision, err: err}
}

func (g *mockGate) Enabled() bool { return g.enabled }

func (g *mockGate) Await(ctx context.Context, req checkpoint.Request) (checkpoint.Decision, error) {
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.MockAwait != nil {
		return g.MockAwait(ctx, req)
	}
	return g.decision, g.err
}

func (g *mockGate) consultations() []checkpoint.Request {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]checkpoint.Request, len(g.requests))
	copy(out, g.requests)
	return out
}
