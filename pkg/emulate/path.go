package emulate

import "math/rand"

// Point is a pointer position in page coordinates.
type Point struct {
	X float64
	Y float64
}

// tracePath returns the intermediate pointer positions for a move from
// start to end: a quadratic Bézier curve whose control point is jittered
// off the midpoint, with per-step noise. Every returned point is clamped
// to the viewport so the pointer never leaves the page.
func tracePath(start, end Point, steps int, viewportW, viewportH float64, rng *rand.Rand) []Point {
	if steps < 2 {
		steps = 2
	}

	cpX := (start.X+end.X)/2 + (rng.Float64()-0.5)*40
	cpY := (start.Y+end.Y)/2 + (rng.Float64()-0.5)*20

	points := make([]Point, 0, steps)
	for i := 1; i <= steps; i++ {
		t := float64(i) / float64(steps)
		inv := 1 - t
		x := inv*inv*start.X + 2*inv*t*cpX + t*t*end.X + (rng.Float64()-0.5)*2
		y := inv*inv*start.Y + 2*inv*t*cpY + t*t*end.Y + (rng.Float64()-0.5)*2
		points = append(points, Point{
			X: clamp(x, 0, viewportW),
			Y: clamp(y, 0, viewportH),
		})
	}
	return points
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
