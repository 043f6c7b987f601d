// Package field is the aggregate programming layer every device program is
// written against. A Context carries the device round: its state round,
// neighbor metric, exchange and the call-site path of the evaluation point.
// Operators store state per path, so the same program text evaluated under
// different paths never shares memory.
package field

import (
	"fmt"
	"math/rand"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/geom"
	"github.com/heitortanoue/swarmmon/pkg/gossip"
	"github.com/heitortanoue/swarmmon/pkg/navigation"
	"github.com/heitortanoue/swarmmon/pkg/state"
	"github.com/heitortanoue/swarmmon/pkg/trace"
)

// Importer returns the neighbor values visible to a device on a path
type Importer interface {
	Import(id device.ID, path trace.Path, round int) map[device.ID]any
}

// Env is everything the simulator hands to one device round
type Env struct {
	Device    *device.Device        // working copy, written back after the round
	Round     int                   // round number
	Time      float64               // simulated time of the round
	Period    float64               // round period
	Neighbors map[device.ID]float64 // neighbor metric, self excluded
	State     *state.Round          // active state round of the device
	Exchange  Importer              // nil means no neighbor values
	Rand      *rand.Rand            // per-device random source
	Navigator navigation.Navigator
	Area      geom.Rect
	Positions map[device.ID]geom.Vec // position snapshot at round start
}

// Context is one evaluation point of a device round
type Context struct {
	env    *Env
	outbox map[trace.Path]any
	path   trace.Path
}

// New creates the root context of a device round
func New(env *Env) *Context {
	if env.Neighbors == nil {
		env.Neighbors = map[device.ID]float64{}
	}
	return &Context{
		env:    env,
		outbox: make(map[trace.Path]any),
		path:   trace.Root,
	}
}

// Scope returns a child context nested under a call-site
func (c *Context) Scope(site trace.Site) *Context {
	return &Context{env: c.env, outbox: c.outbox, path: c.path.Push(site)}
}

// Path returns the call-site path of the context
func (c *Context) Path() trace.Path { return c.path }

// ID returns the device id
func (c *Context) ID() device.ID { return c.env.Device.ID }

// Device returns the working copy of the device
func (c *Context) Device() *device.Device { return c.env.Device }

// Storage returns the device storage for writing round attributes
func (c *Context) Storage() *device.Storage { return &c.env.Device.Storage }

// Round returns the round number
func (c *Context) Round() int { return c.env.Round }

// Time returns the simulated time
func (c *Context) Time() float64 { return c.env.Time }

// Period returns the round period
func (c *Context) Period() float64 { return c.env.Period }

// Rand returns the per-device random source
func (c *Context) Rand() *rand.Rand { return c.env.Rand }

// Navigator returns the navigation oracle
func (c *Context) Navigator() navigation.Navigator { return c.env.Navigator }

// Area returns the simulated area
func (c *Context) Area() geom.Rect { return c.env.Area }

// PositionOf returns the position of a device at the start of the round
func (c *Context) PositionOf(id device.ID) (geom.Vec, bool) {
	p, ok := c.env.Positions[id]
	return p, ok
}

// NeighborCount returns the number of current neighbors, self excluded
func (c *Context) NeighborCount() int { return len(c.env.Neighbors) }

// Outbox returns the values exported by the round so far
func (c *Context) Outbox() map[trace.Path]any { return c.outbox }

// export stages a value for neighbors. Exporting twice on the same path in
// one round is a program error.
func (c *Context) export(path trace.Path, value any) {
	if _, dup := c.outbox[path]; dup {
		panic(fmt.Errorf("%w: device %d round %d path %s",
			gossip.ErrDuplicateExport, c.ID(), c.env.Round, path))
	}
	c.outbox[path] = value
}

// imports returns the neighbor values on a path
func (c *Context) imports(path trace.Path) map[device.ID]any {
	if c.env.Exchange == nil {
		return nil
	}
	return c.env.Exchange.Import(c.ID(), path, c.env.Round)
}
