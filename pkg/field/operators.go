package field

import (
	"cmp"
	"sort"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/trace"
)

// Number is the set of types the hood sums accept
type Number interface {
	~int | ~int32 | ~int64 | ~float32 | ~float64
}

// Old returns the value stored at the site in the previous round (init on
// the first one) and stores value for the next round
func Old[T any](c *Context, site trace.Site, init T, value T) T {
	path := c.path.Push(site)
	prev := c.env.State.ReadOrInit(path, init).(T)
	c.env.State.Commit(path, value)
	return prev
}

// Rep applies f to the value of the previous round (init on the first one),
// stores and returns the result
func Rep[T any](c *Context, site trace.Site, init T, f func(T) T) T {
	path := c.path.Push(site)
	next := f(c.env.State.ReadOrInit(path, init).(T))
	c.env.State.Commit(path, next)
	return next
}

// Once returns the value produced by gen the first time the site is
// evaluated and keeps returning it afterwards
func Once[T any](c *Context, site trace.Site, gen func() T) T {
	path := c.path.Push(site)
	var v T
	if prev := c.env.State.ReadOrInit(path, nil); prev != nil {
		v = prev.(T)
	} else {
		v = gen()
	}
	c.env.State.Commit(path, v)
	return v
}

// Streak counts the consecutive rounds, this one included, in which cond
// held. It resets to 0 when cond is false.
func Streak(c *Context, site trace.Site, cond bool) int {
	return Rep(c, site, 0, func(n int) int {
		if cond {
			return n + 1
		}
		return 0
	})
}

// Field is a value per neighbor plus the device's own value
type Field[T any] struct {
	Self T
	Nbrs map[device.ID]T
}

// Nbr exports v to neighbors and returns the field of the values neighbors
// exported at the same path in previous rounds
func Nbr[T any](c *Context, site trace.Site, v T) Field[T] {
	path := c.path.Push(site)
	c.export(path, v)

	f := Field[T]{Self: v, Nbrs: make(map[device.ID]T)}
	for id, raw := range c.imports(path) {
		if _, ok := c.env.Neighbors[id]; !ok {
			continue
		}
		if val, ok := raw.(T); ok {
			f.Nbrs[id] = val
		}
	}
	return f
}

// NbrDist returns the distance to every neighbor; the self entry is 0
func NbrDist(c *Context) Field[float64] {
	f := Field[float64]{Nbrs: make(map[device.ID]float64, len(c.env.Neighbors))}
	for id, d := range c.env.Neighbors {
		f.Nbrs[id] = d
	}
	return f
}

// Map applies fn to every value of the field
func Map[T, U any](f Field[T], fn func(T) U) Field[U] {
	out := Field[U]{Self: fn(f.Self), Nbrs: make(map[device.ID]U, len(f.Nbrs))}
	for id, v := range f.Nbrs {
		out.Nbrs[id] = fn(v)
	}
	return out
}

// ids returns the neighbor ids in ascending order
func (f Field[T]) ids() []device.ID {
	ids := make([]device.ID, 0, len(f.Nbrs))
	for id := range f.Nbrs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Len returns the number of values in the field, self included
func (f Field[T]) Len() int {
	return len(f.Nbrs) + 1
}

// FoldHood folds the field starting with the self value, then neighbors in
// ascending id order
func FoldHood[T, A any](f Field[T], init A, fn func(A, T) A) A {
	acc := fn(init, f.Self)
	for _, id := range f.ids() {
		acc = fn(acc, f.Nbrs[id])
	}
	return acc
}

// SumHood sums the field, self included
func SumHood[T Number](f Field[T]) T {
	return FoldHood(f, T(0), func(acc T, v T) T { return acc + v })
}

// CountHood counts the true values of the field, self included
func CountHood(f Field[bool]) int {
	return FoldHood(f, 0, func(n int, v bool) int {
		if v {
			return n + 1
		}
		return n
	})
}

// AnyHood reports whether some value of the field is true
func AnyHood(f Field[bool]) bool {
	return CountHood(f) > 0
}

// MaxHood returns the largest value of the field, self included
func MaxHood[T cmp.Ordered](f Field[T]) T {
	return FoldHood(f, f.Self, func(m T, v T) T { return max(m, v) })
}

// MinHood returns the smallest value of the field, self included
func MinHood[T cmp.Ordered](f Field[T]) T {
	return FoldHood(f, f.Self, func(m T, v T) T { return min(m, v) })
}
