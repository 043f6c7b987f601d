package geom

import (
	"fmt"
	"math"
)

// Vec is a point or displacement in the simulated plane
type Vec struct {
	X float64 `json:"x" yaml:"x"`
	Y float64 `json:"y" yaml:"y"`
}

// NaN is the undefined point returned by navigators when no path exists
var NaN = Vec{X: math.NaN(), Y: math.NaN()}

// Add returns v + o
func (v Vec) Add(o Vec) Vec {
	return Vec{X: v.X + o.X, Y: v.Y + o.Y}
}

// Sub returns v - o
func (v Vec) Sub(o Vec) Vec {
	return Vec{X: v.X - o.X, Y: v.Y - o.Y}
}

// Scale returns k·v
func (v Vec) Scale(k float64) Vec {
	return Vec{X: k * v.X, Y: k * v.Y}
}

// Norm returns the euclidean length of v
func (v Vec) Norm() float64 {
	return math.Hypot(v.X, v.Y)
}

// Dist returns the euclidean distance between v and o
func (v Vec) Dist(o Vec) float64 {
	return v.Sub(o).Norm()
}

// IsNaN reports whether any coordinate is NaN
func (v Vec) IsNaN() bool {
	return math.IsNaN(v.X) || math.IsNaN(v.Y)
}

func (v Vec) String() string {
	return fmt.Sprintf("(%.2f, %.2f)", v.X, v.Y)
}

// Rect is an axis-aligned rectangle [Min, Max]
type Rect struct {
	Min Vec `json:"min" yaml:"min"`
	Max Vec `json:"max" yaml:"max"`
}

// NewRect builds a rectangle from two corners in any order
func NewRect(x0, y0, x1, y1 float64) Rect {
	return Rect{
		Min: Vec{X: math.Min(x0, x1), Y: math.Min(y0, y1)},
		Max: Vec{X: math.Max(x0, x1), Y: math.Max(y0, y1)},
	}
}

// Contains reports whether p lies inside r, borders included
func (r Rect) Contains(p Vec) bool {
	return p.X >= r.Min.X && p.X <= r.Max.X && p.Y >= r.Min.Y && p.Y <= r.Max.Y
}

// Clamp projects p onto r coordinate by coordinate
func (r Rect) Clamp(p Vec) Vec {
	return Vec{
		X: math.Max(r.Min.X, math.Min(p.X, r.Max.X)),
		Y: math.Max(r.Min.Y, math.Min(p.Y, r.Max.Y)),
	}
}

// Width of the rectangle
func (r Rect) Width() float64 { return r.Max.X - r.Min.X }

// Height of the rectangle
func (r Rect) Height() float64 { return r.Max.Y - r.Min.Y }
