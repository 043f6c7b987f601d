package movement

import (
	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/geom"
)

// GroupWalk moves the device of c one round. Speed and offset radius come
// from the device storage; the leader is the group member with the lowest id.
func GroupWalk(c *field.Context) Step {
	d := c.Device()
	nav := c.Navigator()
	area := c.Area()
	maxV := d.Storage.Speed
	radius := d.Storage.Offset
	period := c.Period()

	first := field.Old(c, "first_round", true, false)

	if device.IsLeader(d.ID) {
		if first {
			d.Position = nav.ClosestSpace(d.Position)
		}
		fresh := RandomRectangleTarget(c, area.Min, area.Max)
		var step Step
		field.Rep(c, "target", fresh, func(t geom.Vec) geom.Vec {
			step = ReachOnStreets(c.Scope("reach"), t, maxV, period)
			if step.Remaining > maxV*period {
				return t
			}
			return fresh
		})
		return step
	}

	offset := field.Once(c, "offset", func() geom.Vec {
		return RandomRectangleTarget(c, geom.Vec{X: -radius, Y: -radius}, geom.Vec{X: radius, Y: radius})
	})
	leader, ok := c.PositionOf(device.LeaderOf(d.ID))
	if !ok {
		leader = d.Position
	}
	t := area.Clamp(offset.Add(leader))

	if first {
		from := d.Position
		d.Position = nav.ClosestSpace(t)
		return Step{Waypoint: d.Position, Advanced: from.Dist(d.Position)}
	}
	return ReachOnStreets(c.Scope("reach"), t, maxV, period)
}
