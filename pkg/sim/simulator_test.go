package sim

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/swarmmon/internal/config"
	"github.com/heitortanoue/swarmmon/logging"
	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/geom"
	"github.com/heitortanoue/swarmmon/pkg/gossip"
	"github.com/heitortanoue/swarmmon/pkg/logic"
	"github.com/heitortanoue/swarmmon/pkg/protocol"
	"github.com/heitortanoue/swarmmon/pkg/state"
	"github.com/heitortanoue/swarmmon/pkg/trace"
)

// recordingSink keeps every snapshot it receives
type recordingSink struct {
	snapshots []protocol.Snapshot
	mutex     sync.Mutex
}

func (r *recordingSink) Publish(s protocol.Snapshot) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.snapshots = append(r.snapshots, s)
}

func (r *recordingSink) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.snapshots)
}

func testConfig() *config.SimConfig {
	cfg := config.DefaultConfig()
	cfg.Seed = 42
	cfg.EndTime = 30
	cfg.LogEvery = 0
	return cfg
}

func newTestSimulator(t *testing.T, cfg *config.SimConfig, opts ...Option) *Simulator {
	t.Helper()
	opts = append([]Option{WithLogger(logging.NewSimLoggerTo(io.Discard, "test"))}, opts...)
	s, err := New(cfg, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_RejectsInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = append(cfg.Groups, config.GroupConfig{ID: 9, Size: 100})

	_, err := New(cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "size must be in [1,100)")
}

func TestSimulator_SpawnsGroups(t *testing.T) {
	s := newTestSimulator(t, testConfig())
	require.NoError(t, s.Step(context.Background()))

	assert.Equal(t, 81, s.DeviceCount())
	expected := []device.ID{0, 100, 119, 200, 209, 300, 309, 400, 439}
	for _, id := range expected {
		d, ok := s.Device(id)
		require.True(t, ok, "device %d", id)
		assert.True(t, geom.NewRect(0, 0, 1200, 800).Contains(d.Position))
	}
	_, ok := s.Device(120)
	assert.False(t, ok)

	biker, _ := s.Device(0)
	assert.InDelta(t, 5.5556, biker.Storage.Speed, 1e-4)
	crowd, _ := s.Device(105)
	assert.Equal(t, 50.0, crowd.Storage.Offset)
}

func TestSimulator_DelayedGroup(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = []config.GroupConfig{
		{ID: 0, Size: 2, SpeedKmh: 5},
		{ID: 1, Size: 3, SpeedKmh: 5, StartTime: 3},
	}
	s := newTestSimulator(t, cfg)

	for r := 0; r < 3; r++ {
		require.NoError(t, s.Step(context.Background()))
		assert.Equal(t, 2, s.DeviceCount(), "round %d", r)
	}
	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, 5, s.DeviceCount())

	d, _ := s.Device(101)
	assert.Equal(t, 3.0, d.SpawnTime)
}

func TestSimulator_Deterministic(t *testing.T) {
	run := func() protocol.Snapshot {
		s := newTestSimulator(t, testConfig(), WithRunID(uuid.Nil))
		for r := 0; r < 15; r++ {
			require.NoError(t, s.Step(context.Background()))
		}
		return s.Snapshot()
	}

	a, b := run(), run()
	require.Len(t, a.Devices, len(b.Devices))
	for i := range a.Devices {
		assert.Equal(t, a.Devices[i].Position, b.Devices[i].Position, "device %d", a.Devices[i].ID)
		assert.Equal(t, a.Devices[i].Storage, b.Devices[i].Storage)
	}
}

func TestSimulator_MovementBounds(t *testing.T) {
	s := newTestSimulator(t, testConfig())
	require.NoError(t, s.Step(context.Background()))
	prev := s.Snapshot()

	area := geom.NewRect(0, 0, 1200, 800)
	for r := 1; r < 40; r++ {
		require.NoError(t, s.Step(context.Background()))
		cur := s.Snapshot()
		for i, d := range cur.Devices {
			require.True(t, area.Contains(d.Position))
			moved := prev.Devices[i].Position.Dist(d.Position)
			require.LessOrEqual(t, moved, d.Storage.Speed*1+1e-9, "round %d device %d", r, d.ID)
		}
		prev = cur
	}
}

func TestSimulator_DenseGroupClusters(t *testing.T) {
	cfg := testConfig()
	// a standing, tightly packed group
	cfg.Groups = []config.GroupConfig{{ID: 3, Size: 30, Radius: 5, SpeedKmh: 0}}
	s := newTestSimulator(t, cfg)
	sink := &recordingSink{}
	s.AddSink(sink)

	for r := 0; r < 4; r++ {
		require.NoError(t, s.Step(context.Background()))
	}
	require.Equal(t, 4, sink.Len())

	// round 0 spreads devices randomly; from round 1 they stand around the leader
	last := sink.snapshots[3]
	assert.Equal(t, 30, last.Warnings)
	assert.Equal(t, 30, last.Clusters)
	assert.Equal(t, 1.0, last.Consistency)
	for _, d := range last.Devices {
		assert.Equal(t, device.Star, d.Storage.Shape)
		assert.Equal(t, 20.0, d.Storage.Size)
		assert.Equal(t, device.Green, d.Storage.Color)
		assert.Equal(t, 29, d.Neighbors)
	}
}

func TestSimulator_FailingProgramCommitsNothing(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = []config.GroupConfig{{ID: 0, Size: 5, SpeedKmh: 5}}

	fail := false
	program := func(c *field.Context) logic.Verdict {
		field.Rep(c, "count", 0, func(n int) int { return n + 1 })
		if fail && c.ID() == 3 {
			// same site twice in one scope
			field.Old(c, "count", 0, 1)
		}
		return logic.Verdict{Result: true}
	}
	s := newTestSimulator(t, cfg, WithProgram(program))

	require.NoError(t, s.Step(context.Background()))
	fail = true
	err := s.Step(context.Background())
	require.Error(t, err)

	var roundErr *RoundError
	require.True(t, errors.As(err, &roundErr))
	assert.Equal(t, 1, roundErr.Round)
	assert.Equal(t, device.ID(3), roundErr.Device)
	assert.True(t, errors.Is(err, state.ErrDuplicateSlot))

	assert.Equal(t, 1, s.Round(), "a failed step does not advance")
	assert.Equal(t, 0, s.Snapshot().Round)

	// the step can be retried once the program is fixed
	fail = false
	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, 2, s.Round())
}

func TestSimulator_RejectedOutboxAbortsEveryDevice(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = []config.GroupConfig{{ID: 0, Size: 5, SpeedKmh: 5}}

	program := func(c *field.Context) logic.Verdict {
		field.Rep(c, "count", 0, func(n int) int { return n + 1 })
		field.Nbr(c, "v", int(c.ID()))
		return logic.Verdict{Result: true}
	}
	s := newTestSimulator(t, cfg, WithProgram(program))
	require.NoError(t, s.Step(context.Background()))

	// a stray record makes device 3's export of round 1 a duplicate
	require.NoError(t, s.exchange.Export(3, trace.Root.Push("v"), 1, -1))

	for attempt := 0; attempt < 2; attempt++ {
		err := s.Step(context.Background())
		require.Error(t, err)
		var roundErr *RoundError
		require.True(t, errors.As(err, &roundErr))
		assert.Equal(t, device.ID(3), roundErr.Device)
		assert.True(t, errors.Is(err, gossip.ErrDuplicateExport))

		for id := device.ID(0); id < 5; id++ {
			last, ok := s.store.LastRound(id)
			require.True(t, ok)
			assert.Equal(t, 0, last, "device %d committed a rejected round", id)
		}
	}
	assert.Equal(t, 1, s.Round())
}

func TestSimulator_AbortedStepIsReplayable(t *testing.T) {
	cfg := testConfig()
	cfg.Groups = []config.GroupConfig{{ID: 0, Size: 5, Radius: 20, SpeedKmh: 5}}
	s := newTestSimulator(t, cfg)

	monitor := s.program
	fail := false
	var mutex sync.Mutex
	draws := map[device.ID]int64{}
	s.program = func(c *field.Context) logic.Verdict {
		mutex.Lock()
		draws[c.ID()] = c.Rand().Int63()
		mutex.Unlock()
		v := monitor(c)
		if fail && c.ID() == 4 {
			panic("sensor offline")
		}
		return v
	}

	require.NoError(t, s.Step(context.Background()))
	s.sensor.GetAndClearCounts()

	fail = true
	require.Error(t, s.Step(context.Background()))
	readings, warnings, clusters := s.sensor.GetAndClearCounts()
	assert.Zero(t, readings+warnings+clusters, "aborted readings must not be counted")

	failed := map[device.ID]int64{}
	for id, v := range draws {
		failed[id] = v
	}

	fail = false
	require.NoError(t, s.Step(context.Background()))
	assert.Equal(t, failed, draws, "a retried round draws the same random values")
	assert.Equal(t, 2, s.Round())
}

func TestSimulator_RunUntilEndTime(t *testing.T) {
	cfg := testConfig()
	cfg.EndTime = 20
	s := newTestSimulator(t, cfg)
	sink := &recordingSink{}
	s.AddSink(sink)

	require.NoError(t, s.Run(context.Background()))
	assert.Equal(t, 21, s.Round())
	assert.Equal(t, 21, sink.Len())
	assert.True(t, s.Done())

	for _, snap := range sink.snapshots {
		assert.GreaterOrEqual(t, snap.Consistency, 0.0)
		assert.LessOrEqual(t, snap.Consistency, 1.0)
	}
}

func TestSimulator_RunStopsOnCancel(t *testing.T) {
	cfg := testConfig()
	cfg.EndTime = 0 // forever
	cfg.Realtime = true
	cfg.Period = 0.01
	s := newTestSimulator(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not stop after cancellation")
	}
	assert.Greater(t, s.Round(), 0)
}

func TestSimulator_MessageLoss(t *testing.T) {
	cfg := testConfig()
	cfg.MessageLoss = 0.5
	s := newTestSimulator(t, cfg)

	for r := 0; r < 10; r++ {
		require.NoError(t, s.Step(context.Background()))
	}
	stats := s.GetStats()
	lost := stats["lost_rounds"].(int)
	assert.Greater(t, lost, 100)
	assert.Less(t, lost, 710)
}

func TestSimulator_WithObstacles(t *testing.T) {
	cfg := testConfig()
	cfg.Obstacles = []geom.Rect{geom.NewRect(500, 0, 520, 700)}
	s := newTestSimulator(t, cfg)

	for r := 0; r < 10; r++ {
		require.NoError(t, s.Step(context.Background()))
	}
	stats := s.GetStats()
	require.Contains(t, stats, "navigation")
	nav := stats["navigation"].(map[string]interface{})
	assert.Greater(t, nav["cache_misses"].(int64), int64(0))
}
