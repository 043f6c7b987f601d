// Package navigation answers the two questions the movement engine asks the
// map: where is the closest navigable point, and which way-point comes next
// on the shortest path between two points.
package navigation

import (
	"github.com/heitortanoue/swarmmon/pkg/geom"
)

// Navigator is the navigation oracle. Implementations must be deterministic
// for a given map and safe for concurrent use.
type Navigator interface {
	// ClosestSpace returns the navigable point closest to p
	ClosestSpace(p geom.Vec) geom.Vec
	// PathTo returns the next way-point from `from` towards `to`, or
	// geom.NaN when no path exists
	PathTo(from, to geom.Vec) geom.Vec
}

// OpenArea is a map without obstacles
type OpenArea struct {
	Area geom.Rect
}

// NewOpenArea creates an obstacle-free navigator over area
func NewOpenArea(area geom.Rect) *OpenArea {
	return &OpenArea{Area: area}
}

// ClosestSpace clamps p into the area
func (o *OpenArea) ClosestSpace(p geom.Vec) geom.Vec {
	return o.Area.Clamp(p)
}

// PathTo goes straight to the target
func (o *OpenArea) PathTo(from, to geom.Vec) geom.Vec {
	return to
}
