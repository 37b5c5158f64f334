package resolve

import (
	"context"
	"sync"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// mockQuerier implements Querier for testing. Call counts per selector are
// always recorded; behavior comes from the MockQuery override.
type mockQuerier struct {
	mu    sync.Mutex
	calls map[string]int

	MockQuery func(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error)
}

func newMockQuerier() *mockQuerier {
	return &mockQuerier{calls: make(map[string]int)}
}

func (m *mockQuerier) QueryElements(ctx context.Context, sel schemas.Selector) ([]schemas.ElementHandle, error) {
	m.mu.Lock()
	m.calls[sel.Query]++
	m.mu.Unlock()

	if m.MockQuery != nil {
		return m.MockQuery(ctx, sel)
	}
	return nil, nil
}

func (m *mockQuerier) callCount(query string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[query]
}

// visibleElement fabricates a handle with usable geometry.
func visibleElement(query string, index int) schemas.ElementHandle {
	return schemas.ElementHandle{
		Selector: schemas.CSS(query, ""),
		Index:    index,
		Geometry: schemas.ElementGeometry{X: 20, Y: 300, Width: 200, Height: 44},
		Visible:  true,
	}
}
