package network

import (
	"math/rand"
	"testing"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/geom"
)

func TestNeighborTable_NewNeighborTable(t *testing.T) {
	nt := NewNeighborTable(100)

	if nt == nil {
		t.Fatal("NewNeighborTable should not return nil")
	}
	if nt.Range() != 100 {
		t.Errorf("expected range 100, got %f", nt.Range())
	}
	if count := nt.Count(1); count != 0 {
		t.Errorf("table should start empty, got %d neighbors", count)
	}
}

func TestNeighborTable_Update_Symmetric(t *testing.T) {
	nt := NewNeighborTable(100)
	nt.Update(0, map[device.ID]geom.Vec{
		1: {X: 0, Y: 0},
		2: {X: 60, Y: 80}, // exactly 100 away
		3: {X: 250, Y: 0},
	})

	if !nt.IsNeighbor(1, 2) || !nt.IsNeighbor(2, 1) {
		t.Error("1 and 2 are exactly at range and should be neighbors")
	}
	if nt.IsNeighbor(1, 3) || nt.IsNeighbor(3, 1) {
		t.Error("3 is out of range")
	}
	if nt.IsNeighbor(1, 1) {
		t.Error("a device is not its own neighbor")
	}

	nbrs := nt.Neighbors(1)
	if d := nbrs[2]; d != 100 {
		t.Errorf("expected distance 100, got %f", d)
	}
}

func TestNeighborTable_Update_ReplacesPreviousRound(t *testing.T) {
	nt := NewNeighborTable(10)
	nt.Update(0, map[device.ID]geom.Vec{1: {}, 2: {X: 5}})
	if nt.Count(1) != 1 {
		t.Fatalf("expected 1 neighbor, got %d", nt.Count(1))
	}

	nt.Update(1, map[device.ID]geom.Vec{1: {}, 2: {X: 50}})
	if nt.Count(1) != 0 {
		t.Errorf("device 2 moved away, expected 0 neighbors, got %d", nt.Count(1))
	}
}

func TestNeighborTable_MatchesBruteForce(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	positions := make(map[device.ID]geom.Vec)
	for i := 0; i < 200; i++ {
		positions[device.ID(i)] = geom.Vec{X: rnd.Float64() * 1200, Y: rnd.Float64() * 800}
	}

	nt := NewNeighborTable(100)
	nt.Update(0, positions)

	for a, pa := range positions {
		for b, pb := range positions {
			want := a != b && pa.Dist(pb) <= 100
			if got := nt.IsNeighbor(a, b); got != want {
				t.Fatalf("IsNeighbor(%d,%d)=%v, brute force says %v", a, b, got, want)
			}
		}
	}
}

func TestNeighborTable_GetActiveNeighbors_Sorted(t *testing.T) {
	nt := NewNeighborTable(100)
	nt.Update(0, map[device.ID]geom.Vec{
		1: {},
		2: {X: 30},
		3: {X: 10},
		4: {Y: 10},
	})

	active := nt.GetActiveNeighbors(1)
	if len(active) != 3 {
		t.Fatalf("expected 3 neighbors, got %d", len(active))
	}
	if active[0].ID != 3 || active[1].ID != 4 || active[2].ID != 2 {
		t.Errorf("unexpected order: %+v", active)
	}
}

func TestNeighborTable_NeighborsIsACopy(t *testing.T) {
	nt := NewNeighborTable(100)
	nt.Update(0, map[device.ID]geom.Vec{1: {}, 2: {X: 1}})

	nbrs := nt.Neighbors(1)
	delete(nbrs, 2)

	if !nt.IsNeighbor(1, 2) {
		t.Error("mutating the returned map changed the table")
	}
}

func TestNeighborTable_GetStats(t *testing.T) {
	nt := NewNeighborTable(100)
	nt.Update(3, map[device.ID]geom.Vec{1: {}, 2: {X: 1}, 3: {X: 500}})

	stats := nt.GetStats()
	if stats["round"] != 3 {
		t.Errorf("expected round 3, got %v", stats["round"])
	}
	if stats["links"] != 1 {
		t.Errorf("expected 1 link, got %v", stats["links"])
	}
	if stats["devices"] != 3 {
		t.Errorf("expected 3 devices, got %v", stats["devices"])
	}
}
