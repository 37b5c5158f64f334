// Package timing implements the shared human timing model: every pause the
// engine takes and every swipe trajectory it replays is sampled here, from a
// single seeded source, so a whole session is reproducible from one seed.
package timing

import (
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/aquilax/go-perlin"

	"github.com/xkilldash9x/magpie-cli/internal/config"
)

// Kind names one delay distribution. Interaction code asks for a kind and
// never hardcodes a duration.
type Kind string

const (
	PreClick       Kind = "pre_click"
	TapHold        Kind = "tap_hold"
	PostAction     Kind = "post_action"
	KeyPress       Kind = "key_press"
	PostNavigation Kind = "post_navigation"
	Thinking       Kind = "thinking"
	Correction     Kind = "correction"
)

// Model samples human-like delays and swipe paths. Safe for concurrent use;
// all randomness flows through one guarded source.
type Model struct {
	mu      sync.Mutex
	cfg     config.TimingConfig
	rng     *rand.Rand
	actions int
	noiseX  *perlin.Perlin
	noiseY  *perlin.Perlin
}

// New builds a model from the timing configuration. A non-zero cfg.Seed makes
// every sample reproducible; zero seeds from the clock.
func New(cfg config.TimingConfig) *Model {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	// Standard Perlin parameters.
	alpha, beta, n := 2.0, 2.0, int32(3)

	return &Model{
		cfg:    cfg,
		rng:    rand.New(rand.NewSource(seed)),
		noiseX: perlin.NewPerlin(alpha, beta, n, seed),
		noiseY: perlin.NewPerlin(alpha, beta, n, seed+1),
	}
}

// Delay samples one pause of the given kind. The sample is log-normal shaped
// around the geometric middle of the kind's range, drifts upward with
// fatigue, and is always strictly positive and inside [Min, Max].
func (m *Model) Delay(kind Kind) time.Duration {
	r := m.rangeFor(kind)

	m.mu.Lock()
	defer m.mu.Unlock()

	minMs := float64(r.Min) / float64(time.Millisecond)
	maxMs := float64(r.Max) / float64(time.Millisecond)
	if minMs < 1 {
		minMs = 1
	}
	if maxMs < minMs {
		maxMs = minMs
	}

	// Median at the geometric middle gives the long right tail of observed
	// human latencies; sigma spreads ~95% of mass across the range.
	median := math.Sqrt(minMs * maxMs)
	sigma := math.Log(maxMs/minMs) / 4.0
	if sigma <= 0 {
		sigma = 0.05
	}

	sample := median * math.Exp(m.rng.NormFloat64()*sigma)
	sample *= m.fatigueLocked()

	if sample < minMs {
		sample = minMs
	}
	if sample > maxMs {
		sample = maxMs
	}

	d := time.Duration(sample * float64(time.Millisecond))
	if d <= 0 {
		d = time.Millisecond
	}
	return d
}

// RecordAction advances the fatigue counter. Interaction code calls it once
// per dispatched gesture so sessions slow down the way a person does.
func (m *Model) RecordAction() {
	m.mu.Lock()
	m.actions++
	m.mu.Unlock()
}

// Reset clears accumulated fatigue, used at session start.
func (m *Model) Reset() {
	m.mu.Lock()
	m.actions = 0
	m.mu.Unlock()
}

// fatigueLocked returns the current delay multiplier. Callers hold m.mu.
func (m *Model) fatigueLocked() float64 {
	growth := m.cfg.FatigueGrowth
	if growth < 0 {
		growth = 0
	}
	f := 1.0 + growth*float64(m.actions)
	if limit := m.cfg.FatigueCap; limit > 1.0 && f > limit {
		f = limit
	}
	return f
}

func (m *Model) rangeFor(kind Kind) config.DelayRange {
	switch kind {
	case PreClick:
		return m.cfg.PreClick
	case TapHold:
		return m.cfg.TapHold
	case PostAction:
		return m.cfg.PostAction
	case KeyPress:
		return m.cfg.KeyPress
	case PostNavigation:
		return m.cfg.PostNavigation
	case Thinking:
		return m.cfg.Thinking
	case Correction:
		return m.cfg.Correction
	}
	// Unknown kinds behave like a generic action pause.
	return m.cfg.PostAction
}

// Float64 draws from the model's guarded source, for collaborators that need
// coin flips tied to the same seed.
func (m *Model) Float64() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64()
}

// Intn draws a uniform int in [0, n) from the model's guarded source.
func (m *Model) Intn(n int) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Intn(n)
}

// NormFloat64 draws a standard normal from the model's guarded source.
func (m *Model) NormFloat64() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.NormFloat64()
}
