// Package humanize turns abstract step intents (tap this, type that) into
// timed touch and key event sequences that read as human. It owns no browser
// code: everything goes through the Executor interface, which is the
// package's testability seam.
package humanize

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
	"github.com/xkilldash9x/magpie-cli/internal/config"
	"github.com/xkilldash9x/magpie-cli/internal/timing"
)

// Executor is the contract for dispatching low-level events to the page.
// The browser page satisfies it; tests substitute a recording mock.
type Executor interface {
	// Sleep pauses execution for a given duration (context-aware).
	Sleep(ctx context.Context, d time.Duration) error

	// DispatchTouch sends one raw touch event.
	DispatchTouch(ctx context.Context, ev schemas.TouchEventData) error

	// DispatchKey sends one logical keystroke.
	DispatchKey(ctx context.Context, ev schemas.KeyEventData) error
}

// Simulator sequences touch and key events with human timing. Errors from the
// executor are returned unchanged; retry policy belongs to the recovery
// coordinator, not here.
type Simulator struct {
	exec   Executor
	model  *timing.Model
	cfg    config.TimingConfig
	logger *zap.Logger
}

// New creates a Simulator. The model supplies all randomness so a seeded run
// replays the same gestures.
func New(exec Executor, model *timing.Model, cfg config.TimingConfig, logger *zap.Logger) *Simulator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Simulator{exec: exec, model: model, cfg: cfg, logger: logger}
}

// Tap performs a full tap gesture on the element: aim, pre-click pause,
// finger down, hold, finger up, post-action pause.
func (s *Simulator) Tap(ctx context.Context, el schemas.ElementHandle) error {
	return s.tapAt(ctx, s.aimPoint(el))
}

// TapAt taps an exact viewport point, used for neutral-area taps that dismiss
// overlays rather than hit an element.
func (s *Simulator) TapAt(ctx context.Context, p schemas.Point) error {
	return s.tapAt(ctx, p)
}

func (s *Simulator) tapAt(ctx context.Context, p schemas.Point) error {
	if err := s.sleep(ctx, timing.PreClick); err != nil {
		return err
	}

	touch := s.fingerAt(p)
	if err := s.exec.DispatchTouch(ctx, schemas.TouchEventData{
		Type:   schemas.TouchStart,
		Points: []schemas.TouchPoint{touch},
	}); err != nil {
		return err
	}

	if err := s.sleep(ctx, timing.TapHold); err != nil {
		// The finger is down; lift it before surfacing the cancellation so
		// the page never sees a stuck contact.
		s.releaseFinger()
		return err
	}

	if err := s.exec.DispatchTouch(ctx, schemas.TouchEventData{Type: schemas.TouchEnd}); err != nil {
		return err
	}

	s.model.RecordAction()
	s.logger.Debug("tap dispatched", zap.Float64("x", p.X), zap.Float64("y", p.Y))

	return s.sleep(ctx, timing.PostAction)
}

// Swipe drags a finger from the element's aim point along a curved path
// displaced by vector. The path replay dispatches one TouchMove per point
// with its micro-pause.
func (s *Simulator) Swipe(ctx context.Context, el schemas.ElementHandle, vector schemas.Point) error {
	from := s.aimPoint(el)
	to := schemas.Point{X: from.X + vector.X, Y: from.Y + vector.Y}
	path := s.model.SwipePath(from, to)

	if err := s.exec.DispatchTouch(ctx, schemas.TouchEventData{
		Type:   schemas.TouchStart,
		Points: []schemas.TouchPoint{s.fingerAt(from)},
	}); err != nil {
		return err
	}

	for _, pt := range path {
		if err := s.exec.DispatchTouch(ctx, schemas.TouchEventData{
			Type:   schemas.TouchMove,
			Points: []schemas.TouchPoint{s.fingerAt(schemas.Point{X: pt.X, Y: pt.Y})},
		}); err != nil {
			s.releaseFinger()
			return err
		}
		if err := s.exec.Sleep(ctx, pt.Pause); err != nil {
			s.releaseFinger()
			return err
		}
	}

	if err := s.exec.DispatchTouch(ctx, schemas.TouchEventData{Type: schemas.TouchEnd}); err != nil {
		return err
	}

	s.model.RecordAction()
	s.logger.Debug("swipe dispatched",
		zap.Float64("dx", vector.X), zap.Float64("dy", vector.Y), zap.Int("points", len(path)))
	return nil
}

// PressKey dispatches one named non-printing key such as "Escape" or "Enter".
func (s *Simulator) PressKey(ctx context.Context, key string) error {
	if err := s.sleep(ctx, timing.KeyPress); err != nil {
		return err
	}
	if err := s.exec.DispatchKey(ctx, schemas.KeyEventData{Key: key}); err != nil {
		return err
	}
	s.model.RecordAction()
	return nil
}

func (s *Simulator) sleep(ctx context.Context, kind timing.Kind) error {
	return s.exec.Sleep(ctx, s.model.Delay(kind))
}

// releaseFinger sends a best-effort TouchCancel after a failure mid-gesture.
// It runs outside the (likely cancelled) caller context and its own error is
// deliberately dropped; the original failure is what surfaces.
func (s *Simulator) releaseFinger() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.exec.DispatchTouch(ctx, schemas.TouchEventData{Type: schemas.TouchCancel}); err != nil {
		s.logger.Debug("touch cancel after aborted gesture failed", zap.Error(err))
	}
}

// aimPoint samples a target inside the inner 90% of the element box. Shots
// cluster near the center with gaussian spread; a wild sample is clamped
// inward rather than allowed to miss.
func (s *Simulator) aimPoint(el schemas.ElementHandle) schemas.Point {
	g := el.Geometry
	c := g.Center()

	x := c.X + s.model.NormFloat64()*g.Width/6
	y := c.Y + s.model.NormFloat64()*g.Height/6

	minX, maxX := g.X+0.05*g.Width, g.X+0.95*g.Width
	minY, maxY := g.Y+0.05*g.Height, g.Y+0.95*g.Height
	if x < minX {
		x = minX
	}
	if x > maxX {
		x = maxX
	}
	if y < minY {
		y = minY
	}
	if y > maxY {
		y = maxY
	}
	return schemas.Point{X: x, Y: y}
}

// fingerAt dresses a coordinate as a finger contact with plausible radius and
// pressure.
func (s *Simulator) fingerAt(p schemas.Point) schemas.TouchPoint {
	return schemas.TouchPoint{
		X:       p.X,
		Y:       p.Y,
		RadiusX: 9 + s.model.Float64()*4,
		RadiusY: 9 + s.model.Float64()*4,
		Force:   0.5 + s.model.Float64()*0.4,
	}
}
