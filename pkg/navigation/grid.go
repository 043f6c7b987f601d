package navigation

import (
	"container/heap"
	"fmt"
	"log"
	"math"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru"

	"github.com/heitortanoue/swarmmon/pkg/geom"
)

// lookahead bounds how many path cells are checked for a straight shortcut
const lookahead = 8

// GridMap rasterizes the area into square cells, marks the cells whose
// center falls inside an obstacle, and runs A* between cells. Paths are
// cached by (start cell, goal cell).
type GridMap struct {
	area    geom.Rect
	cell    float64
	cols    int
	rows    int
	blocked []bool
	cache   *lru.Cache

	// Metrics
	hits   int64
	misses int64
}

// NewGridMap builds a grid navigator. cacheSize bounds the number of cached
// paths.
func NewGridMap(area geom.Rect, cellSize float64, obstacles []geom.Rect, cacheSize int) (*GridMap, error) {
	if cellSize <= 0 {
		return nil, fmt.Errorf("cell size must be positive, got %f", cellSize)
	}
	if area.Width() <= 0 || area.Height() <= 0 {
		return nil, fmt.Errorf("empty navigation area %v-%v", area.Min, area.Max)
	}
	if cacheSize <= 0 {
		cacheSize = 4096
	}

	cache, err := lru.New(cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create path cache: %w", err)
	}

	g := &GridMap{
		area:  area,
		cell:  cellSize,
		cols:  int(math.Ceil(area.Width() / cellSize)),
		rows:  int(math.Ceil(area.Height() / cellSize)),
		cache: cache,
	}
	g.blocked = make([]bool, g.cols*g.rows)

	free := 0
	for idx := range g.blocked {
		c := g.center(idx)
		for _, o := range obstacles {
			if o.Contains(c) {
				g.blocked[idx] = true
				break
			}
		}
		if !g.blocked[idx] {
			free++
		}
	}

	log.Printf("[NAV] Grid %dx%d (cell %.1f): %d free cells, %d obstacles",
		g.cols, g.rows, cellSize, free, len(obstacles))
	return g, nil
}

func (g *GridMap) index(p geom.Vec) int {
	q := g.area.Clamp(p)
	i := int((q.X - g.area.Min.X) / g.cell)
	j := int((q.Y - g.area.Min.Y) / g.cell)
	if i >= g.cols {
		i = g.cols - 1
	}
	if j >= g.rows {
		j = g.rows - 1
	}
	return j*g.cols + i
}

func (g *GridMap) center(idx int) geom.Vec {
	i, j := idx%g.cols, idx/g.cols
	return g.area.Clamp(geom.Vec{
		X: g.area.Min.X + (float64(i)+0.5)*g.cell,
		Y: g.area.Min.Y + (float64(j)+0.5)*g.cell,
	})
}

// Blocked reports whether the point lies in an obstacle cell
func (g *GridMap) Blocked(p geom.Vec) bool {
	return g.blocked[g.index(p)]
}

// ClosestSpace returns p clamped into the area if it is free, otherwise
// the center of the nearest free cell
func (g *GridMap) ClosestSpace(p geom.Vec) geom.Vec {
	q := g.area.Clamp(p)
	start := g.index(q)
	if !g.blocked[start] {
		return q
	}

	best, bestDist := -1, math.Inf(1)
	seen := map[int]bool{start: true}
	frontier := []int{start}
	for len(frontier) > 0 && best < 0 {
		var next []int
		for _, idx := range frontier {
			for _, n := range g.adjacent(idx, true) {
				if seen[n] {
					continue
				}
				seen[n] = true
				if !g.blocked[n] {
					if d := g.center(n).Dist(q); d < bestDist || (d == bestDist && n < best) {
						best, bestDist = n, d
					}
					continue
				}
				next = append(next, n)
			}
		}
		frontier = next
	}

	if best < 0 {
		return q
	}
	return g.center(best)
}

// PathTo returns the farthest cell center on the A* path from `from` to `to`
// that can be reached in a straight line, or `to` itself when both points
// share a cell
func (g *GridMap) PathTo(from, to geom.Vec) geom.Vec {
	a, b := g.index(from), g.index(to)
	if a == b {
		return to
	}

	path, ok := g.path(a, b)
	if !ok {
		return geom.NaN
	}

	// path[0] is a; try shortcuts up to the lookahead horizon
	way := g.center(path[1])
	limit := len(path) - 1
	if limit > lookahead {
		limit = lookahead
	}
	for k := limit; k > 1; k-- {
		target := g.center(path[k])
		if k == len(path)-1 {
			target = to
		}
		if g.lineFree(from, target) {
			return target
		}
	}
	if len(path) == 2 {
		return to
	}
	return way
}

// path returns the cached or computed cell path from a to b
func (g *GridMap) path(a, b int) ([]int, bool) {
	key := [2]int{a, b}
	if v, ok := g.cache.Get(key); ok {
		atomic.AddInt64(&g.hits, 1)
		p := v.([]int)
		return p, p != nil
	}
	atomic.AddInt64(&g.misses, 1)

	p := g.astar(a, b)
	g.cache.Add(key, p)
	return p, p != nil
}

// lineFree samples the segment at half-cell steps
func (g *GridMap) lineFree(from, to geom.Vec) bool {
	d := from.Dist(to)
	steps := int(math.Ceil(d / (g.cell / 2)))
	for s := 1; s <= steps; s++ {
		p := from.Add(to.Sub(from).Scale(float64(s) / float64(steps)))
		if g.blocked[g.index(p)] {
			return false
		}
	}
	return true
}

// adjacent returns the 8-neighborhood of a cell; diagonal moves that cut
// a blocked corner are excluded unless cutCorners is set
func (g *GridMap) adjacent(idx int, cutCorners bool) []int {
	i, j := idx%g.cols, idx/g.cols
	out := make([]int, 0, 8)
	for dj := -1; dj <= 1; dj++ {
		for di := -1; di <= 1; di++ {
			if di == 0 && dj == 0 {
				continue
			}
			ni, nj := i+di, j+dj
			if ni < 0 || nj < 0 || ni >= g.cols || nj >= g.rows {
				continue
			}
			if !cutCorners && di != 0 && dj != 0 {
				if g.blocked[j*g.cols+ni] || g.blocked[nj*g.cols+i] {
					continue
				}
			}
			out = append(out, nj*g.cols+ni)
		}
	}
	return out
}

// astar searches the free cells; the start cell may be blocked (a device
// pushed into an obstacle by a straight-line fallback can still get out)
func (g *GridMap) astar(start, goal int) []int {
	if g.blocked[goal] {
		return nil
	}

	h := func(idx int) float64 {
		return g.center(idx).Dist(g.center(goal))
	}

	cost := map[int]float64{start: 0}
	parent := map[int]int{}
	open := &cellQueue{}
	heap.Push(open, &cellItem{idx: start, priority: h(start)})
	closed := map[int]bool{}

	for open.Len() > 0 {
		cur := heap.Pop(open).(*cellItem).idx
		if cur == goal {
			path := []int{goal}
			for cur != start {
				cur = parent[cur]
				path = append(path, cur)
			}
			for l, r := 0, len(path)-1; l < r; l, r = l+1, r-1 {
				path[l], path[r] = path[r], path[l]
			}
			return path
		}
		if closed[cur] {
			continue
		}
		closed[cur] = true

		for _, n := range g.adjacent(cur, false) {
			if g.blocked[n] || closed[n] {
				continue
			}
			c := cost[cur] + g.center(cur).Dist(g.center(n))
			if old, ok := cost[n]; ok && old <= c {
				continue
			}
			cost[n] = c
			parent[n] = cur
			heap.Push(open, &cellItem{idx: n, priority: c + h(n)})
		}
	}
	return nil
}

// GetStats returns grid and cache statistics
func (g *GridMap) GetStats() map[string]interface{} {
	blocked := 0
	for _, b := range g.blocked {
		if b {
			blocked++
		}
	}
	return map[string]interface{}{
		"cols":          g.cols,
		"rows":          g.rows,
		"cell_size":     g.cell,
		"blocked_cells": blocked,
		"cached_paths":  g.cache.Len(),
		"cache_hits":    atomic.LoadInt64(&g.hits),
		"cache_misses":  atomic.LoadInt64(&g.misses),
	}
}

// cellItem is an entry of the A* open set
type cellItem struct {
	idx      int
	priority float64
}

// cellQueue is a min-heap on priority, ties broken by cell index so the
// search is deterministic
type cellQueue []*cellItem

func (q cellQueue) Len() int { return len(q) }
func (q cellQueue) Less(i, j int) bool {
	if q[i].priority == q[j].priority {
		return q[i].idx < q[j].idx
	}
	return q[i].priority < q[j].priority
}
func (q cellQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }
func (q *cellQueue) Push(x any)   { *q = append(*q, x.(*cellItem)) }
func (q *cellQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}
