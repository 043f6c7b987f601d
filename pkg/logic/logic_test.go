package logic

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/geom"
	"github.com/heitortanoue/swarmmon/pkg/state"
)

// evaluate runs body once per round on a single device and collects results
func evaluate[T any](id device.ID, rounds int, body func(c *field.Context, r int) T) []T {
	store := state.NewStore()
	d := device.New(id, geom.Vec{}, 0, device.Storage{})
	out := make([]T, 0, rounds)
	for r := 0; r < rounds; r++ {
		sr := store.Begin(id, r)
		c := field.New(&field.Env{Device: d, Round: r, Time: float64(r), Period: 1, State: sr})
		out = append(out, body(c, r))
		sr.Close()
	}
	return out
}

func randomBools(rnd *rand.Rand, n int, bias float64) []bool {
	out := make([]bool, n)
	for i := range out {
		out[i] = rnd.Float64() < bias
	}
	return out
}

// sinceOracle is the direct definition: some r' <= r had q, and p held on (r', r]
func sinceOracle(p, q []bool, r int) bool {
	for start := r; start >= 0; start-- {
		if q[start] {
			return true
		}
		if !p[start] {
			return false
		}
	}
	return false
}

func globallyOracle(x []bool, r int) bool {
	for i := 0; i <= r; i++ {
		if !x[i] {
			return false
		}
	}
	return true
}

func TestYesterday(t *testing.T) {
	x := []bool{true, false, false, true}
	got := evaluate(1, len(x), func(c *field.Context, r int) bool {
		return Yesterday(c, "y", x[r], true)
	})
	assert.Equal(t, []bool{true, true, false, false}, got)
}

func TestSince_MatchesDefinition(t *testing.T) {
	rnd := rand.New(rand.NewSource(42))
	for trial := 0; trial < 200; trial++ {
		n := 20 + rnd.Intn(40)
		p := randomBools(rnd, n, 0.7)
		q := randomBools(rnd, n, 0.15)

		got := evaluate(1, n, func(c *field.Context, r int) bool {
			return Since(c, "s", p[r], q[r])
		})
		for r := 0; r < n; r++ {
			if got[r] != sinceOracle(p, q, r) {
				t.Fatalf("trial %d round %d: Since = %v, want %v (p=%v q=%v)",
					trial, r, got[r], !got[r], p[:r+1], q[:r+1])
			}
		}
	}
}

func TestSince_NeverQ(t *testing.T) {
	got := evaluate(1, 25, func(c *field.Context, r int) bool {
		return Since(c, "s", true, false)
	})
	for r, v := range got {
		assert.False(t, v, "round %d", r)
	}
}

func TestGlobally_Monotone(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for trial := 0; trial < 100; trial++ {
		n := 20 + rnd.Intn(20)
		x := randomBools(rnd, n, 0.9)

		got := evaluate(1, n, func(c *field.Context, r int) bool {
			return Globally(c, "g", x[r])
		})
		failed := false
		for r := 0; r < n; r++ {
			assert.Equal(t, globallyOracle(x, r), got[r])
			if failed {
				assert.False(t, got[r], "trial %d: Globally came back at round %d", trial, r)
			}
			failed = failed || !got[r]
		}
	}
}

func TestImplies(t *testing.T) {
	assert.True(t, Implies(false, false))
	assert.True(t, Implies(false, true))
	assert.False(t, Implies(true, false))
	assert.True(t, Implies(true, true))
}

// monitorOracle recomputes the monitor formulas from the whole history
func monitorOracle(cluster []bool) []Verdict {
	n := len(cluster)
	start := make([]bool, n)
	all := make([]bool, n)
	out := make([]Verdict, n)
	for r := 0; r < n; r++ {
		prev := false
		if r > 0 {
			prev = cluster[r-1]
		}
		calm := r > 0 && !prev
		start[r] = calm && cluster[r]
		all[r] = globallyOracle(cluster, r)

		notStart := make([]bool, n)
		for i := range notStart {
			notStart[i] = !start[i]
		}
		out[r].AlertStart = start[r]
		out[r].AlertEnd = prev && !cluster[r]
		out[r].AllAlerted = all[r]
		out[r].NoNewAfterAll = sinceOracle(notStart, all, r)
		out[r].Result = !out[r].AlertEnd || out[r].NoNewAfterAll
	}
	return out
}

func TestConsistencyMonitor_Scenario(t *testing.T) {
	cluster := []bool{false, false, true, true, false}

	got := evaluate(301, len(cluster), func(c *field.Context, r int) Verdict {
		return ConsistencyMonitor(c, device.GroupOf(c.ID()), cluster[r])
	})

	var starts, ends []bool
	for _, v := range got {
		starts = append(starts, v.AlertStart)
		ends = append(ends, v.AlertEnd)
	}
	assert.Equal(t, []bool{false, false, true, false, false}, starts)
	assert.Equal(t, []bool{false, false, false, false, true}, ends)
	assert.Equal(t, monitorOracle(cluster), got)

	// the group was never fully alerted since the start, so ending the
	// alert at the last round violates the property
	assert.False(t, got[4].Result)
	for r := 0; r < 4; r++ {
		assert.True(t, got[r].Result, "round %d", r)
	}
}

func TestConsistencyMonitor_AlwaysClustered(t *testing.T) {
	cluster := []bool{true, true, true, false, false, true}

	got := evaluate(5, len(cluster), func(c *field.Context, r int) Verdict {
		return ConsistencyMonitor(c, 0, cluster[r])
	})
	assert.Equal(t, monitorOracle(cluster), got)
	assert.True(t, got[3].AlertEnd)
	assert.True(t, got[3].Result, "no new alert since everyone was alerted")
}

func TestConsistencyMonitor_RandomMatchesOracle(t *testing.T) {
	rnd := rand.New(rand.NewSource(99))
	for trial := 0; trial < 50; trial++ {
		cluster := randomBools(rnd, 30, 0.6)
		got := evaluate(7, len(cluster), func(c *field.Context, r int) Verdict {
			return ConsistencyMonitor(c, 0, cluster[r])
		})
		assert.Equal(t, monitorOracle(cluster), got, "trial %d", trial)
	}
}

func TestConsistencyMonitor_GroupsIsolated(t *testing.T) {
	// the same device switching partition starts from fresh monitor state
	got := evaluate(1, 3, func(c *field.Context, r int) Verdict {
		group := 0
		if r == 2 {
			group = 1
		}
		return ConsistencyMonitor(c, group, r < 2)
	})
	assert.True(t, got[1].AllAlerted)
	assert.False(t, got[2].AlertEnd, "yesterday of a new partition uses the default")
}
