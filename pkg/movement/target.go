// Package movement moves devices in groups: leaders random-walk across the
// area along the navigation oracle's way-points, followers chase their
// leader up to a fixed random offset.
package movement

import (
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/geom"
)

// Fallback reasons for using the raw target instead of the oracle way-point
const (
	FallbackNone        = ""
	FallbackNoPath      = "no_path"
	FallbackOutOfBounds = "out_of_bounds"
	FallbackArrived     = "waypoint_reached"
	FallbackStuck       = "stuck"
)

// Step reports the outcome of one round of movement
type Step struct {
	Waypoint  geom.Vec `json:"waypoint"`  // point the device moved towards
	Advanced  float64  `json:"advanced"`  // distance actually covered
	Remaining float64  `json:"remaining"` // distance left to the target
	Fallback  string   `json:"fallback,omitempty"`
}

// RandomRectangleTarget draws a uniform point in the rectangle [low, hi]
func RandomRectangleTarget(c *field.Context, low, hi geom.Vec) geom.Vec {
	rnd := c.Rand()
	return geom.Vec{
		X: low.X + rnd.Float64()*(hi.X-low.X),
		Y: low.Y + rnd.Float64()*(hi.Y-low.Y),
	}
}

// FollowTarget moves from pos straight towards target, covering at most
// maxV*period. It returns the new position; Remaining is the distance still
// separating it from target.
func FollowTarget(pos, target geom.Vec, maxV, period float64) (geom.Vec, Step) {
	step := Step{Waypoint: target}
	maxStep := maxV * period
	delta := target.Sub(pos)
	dist := delta.Norm()

	switch {
	case maxStep <= 0:
		step.Remaining = dist
		return pos, step
	case dist <= maxStep:
		step.Advanced = dist
		return target, step
	}

	step.Advanced = maxStep
	step.Remaining = dist - maxStep
	return pos.Add(delta.Scale(maxStep / dist)), step
}
