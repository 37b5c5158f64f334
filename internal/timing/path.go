package timing

import (
	"math"
	"time"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// PathPoint is one sample of a swipe trajectory, with the micro-pause to take
// before advancing to the next point.
type PathPoint struct {
	X     float64
	Y     float64
	Pause time.Duration
}

// computeEaseInOutCubic maps linear progress to an accelerate/cruise/
// decelerate profile.
func computeEaseInOutCubic(t float64) float64 {
	if t < 0.5 {
		return 4 * t * t * t
	}
	return 1 - math.Pow(-2*t+2, 3)/2
}

// SwipePath generates a curved finger trajectory from one point to another.
// The path is a cubic Bezier bowed away from the straight line by two
// perpendicular control points, sampled on an eased clock so points bunch at
// the ends, with coherent sub-pixel jitter on the interior. Endpoints are
// exact; the path is never the straight line.
func (m *Model) SwipePath(from, to schemas.Point) []PathPoint {
	m.mu.Lock()
	defer m.mu.Unlock()

	dx := to.X - from.X
	dy := to.Y - from.Y
	dist := math.Hypot(dx, dy)
	if dist < 1.0 {
		return []PathPoint{{X: to.X, Y: to.Y, Pause: m.pauseLocked()}}
	}

	// Unit direction and its perpendicular.
	ux, uy := dx/dist, dy/dist
	px, py := -uy, ux

	// Both control points bow to the same side, the way a thumb arcs.
	side := 1.0
	if m.rng.Float64() < 0.5 {
		side = -1.0
	}
	bow1 := side * (20 + m.rng.Float64()*80)
	bow2 := side * (20 + m.rng.Float64()*80)

	c1x := from.X + ux*dist/3 + px*bow1
	c1y := from.Y + uy*dist/3 + py*bow1
	c2x := from.X + ux*dist*2/3 + px*bow2
	c2y := from.Y + uy*dist*2/3 + py*bow2

	steps := 15 + m.rng.Intn(16)
	path := make([]PathPoint, 0, steps)

	for i := 0; i < steps; i++ {
		t := computeEaseInOutCubic(float64(i) / float64(steps-1))

		// Cubic Bezier.
		omt := 1.0 - t
		omt2 := omt * omt
		omt3 := omt2 * omt
		t2 := t * t
		t3 := t2 * t

		x := omt3*from.X + 3*omt2*t*c1x + 3*omt*t2*c2x + t3*to.X
		y := omt3*from.Y + 3*omt2*t*c1y + 3*omt*t2*c2y + t3*to.Y

		// Interior points carry coherent drift; endpoints stay exact so the
		// gesture lands where the caller aimed.
		if i > 0 && i < steps-1 {
			x += m.noiseX.Noise1D(t * 0.8)
			y += m.noiseY.Noise1D(t * 0.8)
		}

		path = append(path, PathPoint{X: x, Y: y, Pause: m.pauseLocked()})
	}
	return path
}

// pauseLocked samples the 2-5ms inter-point pause. Callers hold m.mu.
func (m *Model) pauseLocked() time.Duration {
	return time.Duration(2+m.rng.Intn(4)) * time.Millisecond
}
