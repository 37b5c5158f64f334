package humanize

import (
	"context"
	"sync"
	"time"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// mockExecutor implements the Executor interface for testing. Centralized
// here so every test in the package shares one recording implementation.
//
// Mocks must not reach back into Simulator state; tests communicate through
// the recorded slices and context cancellation only.
type mockExecutor struct {
	mu      sync.Mutex
	touches []schemas.TouchEventData
	keys    []schemas.KeyEventData
	sleeps  []time.Duration

	// Function overrides for specific behaviors. When set they replace the
	// default; the override may call the corresponding Default* method if the
	// recording logic is still wanted.
	MockSleep         func(ctx context.Context, d time.Duration) error
	MockDispatchTouch func(ctx context.Context, ev schemas.TouchEventData) error
	MockDispatchKey   func(ctx context.Context, ev schemas.KeyEventData) error
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{}
}

func (m *mockExecutor) Sleep(ctx context.Context, d time.Duration) error {
	if m.MockSleep != nil {
		return m.MockSleep(ctx, d)
	}
	return m.DefaultSleep(ctx, d)
}

func (m *mockExecutor) DefaultSleep(ctx context.Context, d time.Duration) error {
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sleeps = append(m.sleeps, d)
	return nil
}

func (m *mockExecutor) DispatchTouch(ctx context.Context, ev schemas.TouchEventData) error {
	if m.MockDispatchTouch != nil {
		return m.MockDispatchTouch(ctx, ev)
	}
	return m.DefaultDispatchTouch(ctx, ev)
}

// DefaultDispatchTouch records the event before any error checks; cleanup
// events dispatched with context.Background() after a failure must still be
// visible to assertions.
func (m *mockExecutor) DefaultDispatchTouch(ctx context.Context, ev schemas.TouchEventData) error {
	m.mu.Lock()
	m.touches = append(m.touches, ev)
	m.mu.Unlock()

	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	return nil
}

func (m *mockExecutor) DispatchKey(ctx context.Context, ev schemas.KeyEventData) error {
	if m.MockDispatchKey != nil {
		return m.MockDispatchKey(ctx, ev)
	}
	return m.DefaultDispatchKey(ctx, ev)
}

func (m *mockExecutor) DefaultDispatchKey(ctx context.Context, ev schemas.KeyEventData) error {
	if ctx.Err() != nil && ctx != context.Background() {
		return ctx.Err()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = append(m.keys, ev)
	return nil
}

func (m *mockExecutor) recordedTouches() []schemas.TouchEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.TouchEventData, len(m.touches))
	copy(out, m.touches)
	return out
}

func (m *mockExecutor) recordedKeys() []schemas.KeyEventData {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]schemas.KeyEventData, len(m.keys))
	copy(out, m.keys)
	return out
}

func (m *mockExecutor) recordedSleeps() []time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]time.Duration, len(m.sleeps))
	copy(out, m.sleeps)
	return out
}

// typedText replays the recorded key stream with backspace semantics,
// reconstructing what the page's input field would contain.
func (m *mockExecutor) typedText() string {
	var out []rune
	for _, k := range m.recordedKeys() {
		switch {
		case k.Key == KeyBackspace:
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		case k.Rune != 0:
			out = append(out, k.Rune)
		}
	}
	return string(out)
}
