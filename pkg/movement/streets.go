package movement

import (
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/geom"
	"github.com/heitortanoue/swarmmon/pkg/navigation"
)

const (
	// Smoothing factor of the velocity estimate
	Smoothing = 0.75
	// ArrivalEpsilon is the way-point distance treated as already there
	ArrivalEpsilon = 0.01
	// StuckSpeed is the smoothed speed under which a device counts as still
	StuckSpeed = 0.1
	// StuckRounds is how many consecutive still rounds make a device stuck
	StuckRounds = 10
	// StuckAfter is the simulated time before which stuck recovery is off
	StuckAfter = 50.0
)

// ChooseWaypoint asks the oracle for the next way-point towards target and
// applies the straight-line fallback rules in order
func ChooseWaypoint(nav navigation.Navigator, area geom.Rect, pos, target geom.Vec, stuck bool) (geom.Vec, string) {
	t := nav.PathTo(pos, target)
	switch {
	case t.IsNaN():
		return target, FallbackNoPath
	case !area.Contains(target):
		return target, FallbackOutOfBounds
	case pos.Dist(t) < ArrivalEpsilon:
		return target, FallbackArrived
	case stuck:
		return target, FallbackStuck
	}
	return t, FallbackNone
}

// ReachOnStreets moves the device of c towards target along the oracle's
// way-points. The returned step reports the distance left to the snapped
// target.
func ReachOnStreets(c *field.Context, target geom.Vec, maxV, period float64) Step {
	d := c.Device()
	pos := d.Position

	prev := field.Old(c, "position", pos, pos)
	v := field.Rep(c, "velocity", geom.Vec{}, func(old geom.Vec) geom.Vec {
		return old.Scale(Smoothing).Add(pos.Sub(prev).Scale(1 - Smoothing))
	})
	still := field.Streak(c, "still", v.Norm() < StuckSpeed)
	stuck := still >= StuckRounds && c.Time() > StuckAfter

	nav := c.Navigator()
	target = nav.ClosestSpace(target)
	t, fallback := ChooseWaypoint(nav, c.Area(), pos, target, stuck)

	next, step := FollowTarget(pos, t, maxV, period)
	d.Position = next
	step.Remaining = next.Dist(target)
	step.Fallback = fallback
	return step
}
