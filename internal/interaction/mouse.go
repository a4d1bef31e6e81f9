package interaction

import (
	"math"
	"time"
)

// Fitts's law coefficients.
const (
	fittsA     = 0.1
	fittsB     = 0.15
	fittsWidth = 50.0
)

// Point is a screen coordinate.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// MousePoint is one sample along a pointer path.
type MousePoint struct {
	X  float64       `json:"x"`
	Y  float64       `json:"y"`
	At time.Duration `json:"at_ns"`
}

// MovementTime is the Fitts's law time to cover distance, before any
// persona scaling.
func MovementTime(distance float64) float64 {
	if distance < 0 {
		distance = -distance
	}
	return fittsA + fittsB*math.Log2(distance/fittsWidth+1)
}

// MouseMovement produces a curved path from start to target. The total time
// follows Fitts's law divided by the persona speed.
func (s *Simulator) MouseMovement(start, target Point) []MousePoint {
	dx, dy := target.X-start.X, target.Y-start.Y
	dist := math.Hypot(dx, dy)
	total := MovementTime(dist) / s.session.Profile().Speed()

	if dist == 0 {
		return []MousePoint{
			{X: start.X, Y: start.Y},
			{X: target.X, Y: target.Y, At: seconds(total)},
		}
	}

	n := 10 + int(dist/25)
	if n > 80 {
		n = 80
	}
	// unit normal to the straight line
	nx, ny := -dy/dist, dx/dist
	amplitude := dist * s.sampler.Uniform(0.02, 0.1)
	if s.sampler.Chance(0.5) {
		amplitude = -amplitude
	}

	path := make([]MousePoint, 0, n+1)
	for i := 0; i <= n; i++ {
		t := float64(i) / float64(n)
		p := t * t * (3 - 2*t)
		lateral := amplitude * math.Sin(math.Pi*p)
		path = append(path, MousePoint{
			X:  start.X + dx*p + nx*lateral,
			Y:  start.Y + dy*p + ny*lateral,
			At: seconds(total * t),
		})
	}
	path[n].X, path[n].Y = target.X, target.Y
	return path
}
