package network

import (
	"math"
	"sort"
	"sync"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/geom"
)

// Neighbor is another device within communication range
type Neighbor struct {
	ID       device.ID `json:"id"`
	Distance float64   `json:"distance"`
}

// NeighborTable keeps the one-hop neighborhood of every device, recomputed
// from a position snapshot at the start of each round
type NeighborTable struct {
	neighbors map[device.ID]map[device.ID]float64
	rng       float64
	round     int
	mutex     sync.RWMutex
}

// NewNeighborTable creates a table for a fixed communication range
func NewNeighborTable(communicationRange float64) *NeighborTable {
	return &NeighborTable{
		neighbors: make(map[device.ID]map[device.ID]float64),
		rng:       communicationRange,
		round:     -1,
	}
}

// Range returns the communication range
func (nt *NeighborTable) Range() float64 {
	return nt.rng
}

// Update rebuilds the table from the positions of the active devices. Devices
// are bucketed on a grid of cell size equal to the range, so only adjacent
// buckets are compared.
func (nt *NeighborTable) Update(round int, positions map[device.ID]geom.Vec) {
	type cell struct{ x, y int }

	buckets := make(map[cell][]device.ID)
	cellOf := func(p geom.Vec) cell {
		return cell{int(math.Floor(p.X / nt.rng)), int(math.Floor(p.Y / nt.rng))}
	}
	for id, p := range positions {
		c := cellOf(p)
		buckets[c] = append(buckets[c], id)
	}

	table := make(map[device.ID]map[device.ID]float64, len(positions))
	for id, p := range positions {
		nbrs := make(map[device.ID]float64)
		c := cellOf(p)
		for dx := -1; dx <= 1; dx++ {
			for dy := -1; dy <= 1; dy++ {
				for _, other := range buckets[cell{c.x + dx, c.y + dy}] {
					if other == id {
						continue
					}
					if d := p.Dist(positions[other]); d <= nt.rng {
						nbrs[other] = d
					}
				}
			}
		}
		table[id] = nbrs
	}

	nt.mutex.Lock()
	defer nt.mutex.Unlock()

	nt.neighbors = table
	nt.round = round
}

// Neighbors returns the distance to each current neighbor of the device
func (nt *NeighborTable) Neighbors(id device.ID) map[device.ID]float64 {
	nt.mutex.RLock()
	defer nt.mutex.RUnlock()

	src := nt.neighbors[id]
	out := make(map[device.ID]float64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

// IsNeighbor reports whether other is currently within range of id
func (nt *NeighborTable) IsNeighbor(id, other device.ID) bool {
	nt.mutex.RLock()
	defer nt.mutex.RUnlock()

	_, ok := nt.neighbors[id][other]
	return ok
}

// GetActiveNeighbors returns the neighbors of the device sorted by distance
func (nt *NeighborTable) GetActiveNeighbors(id device.ID) []Neighbor {
	nbrs := nt.Neighbors(id)
	active := make([]Neighbor, 0, len(nbrs))
	for other, d := range nbrs {
		active = append(active, Neighbor{ID: other, Distance: d})
	}
	sort.Slice(active, func(i, j int) bool {
		if active[i].Distance == active[j].Distance {
			return active[i].ID < active[j].ID
		}
		return active[i].Distance < active[j].Distance
	})
	return active
}

// Count returns the number of neighbors of the device
func (nt *NeighborTable) Count(id device.ID) int {
	nt.mutex.RLock()
	defer nt.mutex.RUnlock()

	return len(nt.neighbors[id])
}

// GetStats returns statistics about the neighbor table
func (nt *NeighborTable) GetStats() map[string]interface{} {
	nt.mutex.RLock()
	defer nt.mutex.RUnlock()

	links := 0
	for _, nbrs := range nt.neighbors {
		links += len(nbrs)
	}
	mean := 0.0
	if len(nt.neighbors) > 0 {
		mean = float64(links) / float64(len(nt.neighbors))
	}

	return map[string]interface{}{
		"round":               nt.round,
		"devices":             len(nt.neighbors),
		"links":               links / 2,
		"mean_degree":         mean,
		"communication_range": nt.rng,
	}
}
