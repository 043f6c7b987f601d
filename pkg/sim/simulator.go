// Package sim runs the device program over a simulated network in
// synchronous rounds: it spawns groups, refreshes the neighbor table,
// evaluates every device in parallel and commits the round at the barrier.
package sim

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/heitortanoue/swarmmon/internal/config"
	"github.com/heitortanoue/swarmmon/logging"
	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/field"
	"github.com/heitortanoue/swarmmon/pkg/geom"
	"github.com/heitortanoue/swarmmon/pkg/gossip"
	"github.com/heitortanoue/swarmmon/pkg/logic"
	"github.com/heitortanoue/swarmmon/pkg/navigation"
	"github.com/heitortanoue/swarmmon/pkg/network"
	"github.com/heitortanoue/swarmmon/pkg/protocol"
	"github.com/heitortanoue/swarmmon/pkg/sensor"
	"github.com/heitortanoue/swarmmon/pkg/state"
	"github.com/heitortanoue/swarmmon/pkg/trace"
)

// Sink receives the snapshot of every completed round
type Sink interface {
	Publish(s protocol.Snapshot)
}

// Option customizes a Simulator
type Option func(*Simulator)

// WithProgram replaces the monitor program
func WithProgram(p Program) Option {
	return func(s *Simulator) { s.program = p }
}

// WithNavigator replaces the navigator built from the configuration
func WithNavigator(nav navigation.Navigator) Option {
	return func(s *Simulator) { s.nav = nav }
}

// WithLogger sets the event logger
func WithLogger(l *logging.SimLogger) Option {
	return func(s *Simulator) { s.logger = l }
}

// WithRunID sets the run id instead of a random one
func WithRunID(id uuid.UUID) Option {
	return func(s *Simulator) { s.runID = id }
}

// outcome is what one device round produced
type outcome struct {
	id      device.ID
	device  *device.Device
	outbox  map[trace.Path]any
	verdict logic.Verdict
	round   *state.Round
	err     *RoundError
}

// Simulator owns the devices and the shared round infrastructure
type Simulator struct {
	cfg      *config.SimConfig
	runID    uuid.UUID
	program  Program
	store    *state.Store
	exchange *gossip.Exchange
	table    *network.NeighborTable
	nav      navigation.Navigator
	sensor   *sensor.ProximitySensor
	logger   *logging.SimLogger
	rnd      *rand.Rand

	devices map[device.ID]*device.Device
	seeds   map[device.ID]int64
	pending []config.GroupConfig

	round int
	sinks []Sink
	last  protocol.Snapshot

	// Metrics
	stepCount      int
	warningsTotal  int
	clustersTotal  int
	violationCount int
	lostRounds     int
	lastStep       time.Duration

	mutex sync.RWMutex
}

// New creates a simulator from a validated configuration
func New(cfg *config.SimConfig, opts ...Option) (*Simulator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	table := network.NewNeighborTable(cfg.CommunicationRange)
	s := &Simulator{
		cfg:     cfg,
		runID:   uuid.New(),
		store:   state.NewStore(),
		table:   table,
		rnd:     rand.New(rand.NewSource(cfg.Seed)),
		devices: make(map[device.ID]*device.Device),
		seeds:   make(map[device.ID]int64),
		pending: cfg.SortedGroups(),
		sinks:   make([]Sink, 0),
	}

	var exOpts []gossip.Option
	if cfg.MessageLoss > 0 {
		exOpts = append(exOpts, gossip.WithLoss(cfg.MessageLoss, rand.New(rand.NewSource(cfg.Seed+1))))
	}
	s.exchange = gossip.NewExchange(cfg.Retain, table, exOpts...)

	s.sensor = sensor.NewProximitySensor(sensor.Thresholds{
		WarningRadius: cfg.EffectiveWarningRadius(),
		WarningCount:  cfg.WarningCount,
		ClusterCount:  cfg.ClusterCount,
	})
	s.program = MonitorProgram(s.sensor)

	for _, opt := range opts {
		opt(s)
	}

	if s.nav == nil {
		if len(cfg.Obstacles) > 0 {
			grid, err := navigation.NewGridMap(cfg.Area(), cfg.GridCell, cfg.Obstacles, cfg.PathCache)
			if err != nil {
				return nil, fmt.Errorf("failed to build navigation grid: %w", err)
			}
			s.nav = grid
		} else {
			s.nav = navigation.NewOpenArea(cfg.Area())
		}
	}
	if s.logger == nil {
		s.logger = logging.NewSimLogger(s.runID.String()[:8])
	}

	log.Printf("[SIM] Run %s: %d groups, %d devices, range %.1f, retain %d rounds",
		s.runID, len(cfg.Groups), cfg.Devices(), cfg.CommunicationRange, s.exchange.Retain())
	return s, nil
}

// RunID returns the id of the run
func (s *Simulator) RunID() uuid.UUID {
	return s.runID
}

// AddSink registers a snapshot sink
func (s *Simulator) AddSink(sink Sink) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.sinks = append(s.sinks, sink)
}

// Round returns the number of the next round to run
func (s *Simulator) Round() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.round
}

// Time returns the simulated time of the next round
func (s *Simulator) Time() float64 {
	return float64(s.Round()) * s.cfg.Period
}

// Snapshot returns the snapshot of the last completed round
func (s *Simulator) Snapshot() protocol.Snapshot {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.last
}

// Done reports whether the configured end time has been passed
func (s *Simulator) Done() bool {
	return s.cfg.EndTime > 0 && s.Time() > s.cfg.EndTime
}

// spawn creates the devices of every group whose start time has come
func (s *Simulator) spawn(now float64) {
	area := s.cfg.Area()
	for len(s.pending) > 0 && s.pending[0].StartTime <= now {
		g := s.pending[0]
		s.pending = s.pending[1:]

		for i := 0; i < g.Size; i++ {
			id := device.ID(g.ID*device.MaxGroupSize + i)
			pos := geom.Vec{
				X: area.Min.X + s.rnd.Float64()*area.Width(),
				Y: area.Min.Y + s.rnd.Float64()*area.Height(),
			}
			s.devices[id] = device.New(id, pos, now, device.Storage{
				Speed:       g.Speed(),
				Offset:      g.Radius,
				Color:       device.Green,
				Size:        10,
				Shape:       device.Sphere,
				Consistency: true,
			})
			s.seeds[id] = s.rnd.Int63()
		}
		s.logger.LogSpawn(g.ID, g.Size, g.Speed(), g.Radius, now)
	}
}

// Step runs one synchronous round. If any device program fails, nothing of
// the round is committed and a *RoundError is returned.
func (s *Simulator) Step(ctx context.Context) error {
	start := time.Now()

	s.mutex.Lock()
	defer s.mutex.Unlock()

	round := s.round
	now := float64(round) * s.cfg.Period
	s.spawn(now)

	ids := make([]device.ID, 0, len(s.devices))
	positions := make(map[device.ID]geom.Vec, len(s.devices))
	for id, d := range s.devices {
		ids = append(ids, id)
		positions[id] = d.Position
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	s.table.Update(round, positions)
	s.exchange.Expire(round)

	outcomes := s.evaluateAll(ctx, ids, round, now, positions)

	var failed *RoundError
	for _, o := range outcomes {
		if o.err != nil {
			failed = o.err
			break
		}
	}
	if failed == nil && ctx.Err() != nil {
		failed = &RoundError{Round: round, Device: -1, Cause: ctx.Err()}
	}
	if failed == nil {
		for _, o := range outcomes {
			if err := s.exchange.Validate(o.id, round, o.outbox); err != nil {
				failed = &RoundError{Round: round, Device: o.id, Cause: err}
				break
			}
		}
	}
	if failed != nil {
		for _, o := range outcomes {
			if o.round != nil {
				o.round.Abort()
			}
		}
		s.sensor.GetAndClearCounts()
		s.logger.LogError("step", failed)
		return failed
	}

	devices := make([]protocol.DeviceSnapshot, 0, len(outcomes))
	for _, o := range outcomes {
		o.round.Close()
		s.devices[o.id] = o.device

		// validated above and the exchange is only written here
		delivered, _ := s.exchange.Publish(o.id, round, o.outbox)
		if !delivered {
			s.lostRounds++
		}

		devices = append(devices, protocol.DeviceSnapshot{
			ID:        o.id,
			Group:     device.GroupOf(o.id),
			Leader:    device.IsLeader(o.id),
			Position:  o.device.Position,
			Storage:   o.device.Storage,
			Neighbors: s.table.Count(o.id),
			Monitor:   o.verdict,
		})
		if !o.verdict.Result {
			s.violationCount++
			s.logger.LogViolation(round, int(o.id), device.GroupOf(o.id))
		}
	}

	_, warnings, clusters := s.sensor.GetAndClearCounts()
	s.warningsTotal += warnings
	s.clustersTotal += clusters

	s.last = protocol.NewSnapshot(s.runID, round, now, devices)
	for _, sink := range s.sinks {
		sink.Publish(s.last)
	}

	s.round++
	s.stepCount++
	s.lastStep = time.Since(start)

	if s.cfg.LogEvery > 0 && round%s.cfg.LogEvery == 0 {
		s.logger.LogRound(round, now, len(devices), s.last.Consistency, s.last.Warnings, s.last.Clusters, s.lastStep)
	}
	return nil
}

// evaluateAll runs the program of every device on a bounded worker pool.
// Outcomes are returned in id order.
func (s *Simulator) evaluateAll(ctx context.Context, ids []device.ID, round int, now float64, positions map[device.ID]geom.Vec) []outcome {
	outcomes := make([]outcome, len(ids))
	jobs := make(chan int)

	workers := s.cfg.Workers
	if workers > len(ids) {
		workers = len(ids)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outcomes[i] = s.evaluate(ids[i], round, now, positions)
			}
		}()
	}

feed:
	for i := range ids {
		select {
		case jobs <- i:
		case <-ctx.Done():
			break feed
		}
	}
	close(jobs)
	wg.Wait()

	return outcomes
}

// evaluate runs one device round; a panic in the program becomes the
// outcome's error and the state round is left open for the caller to abort
func (s *Simulator) evaluate(id device.ID, round int, now float64, positions map[device.ID]geom.Vec) (o outcome) {
	o.id = id
	defer func() {
		if r := recover(); r != nil {
			o.err = &RoundError{Round: round, Device: id, Cause: asError(r)}
		}
	}()

	o.round = s.store.Begin(id, round)

	c := field.New(&field.Env{
		Device:    s.devices[id].Clone(),
		Round:     round,
		Time:      now,
		Period:    s.cfg.Period,
		Neighbors: s.table.Neighbors(id),
		State:     o.round,
		Exchange:  s.exchange,
		Rand:      s.deviceRand(id, round),
		Navigator: s.nav,
		Area:      s.cfg.Area(),
		Positions: positions,
	})
	o.verdict = s.program(c)
	o.device = c.Device()
	o.outbox = c.Outbox()
	return o
}

// deviceRand returns the random stream of a device round. It depends only on
// the device seed and the round, so a retried round draws the same values.
func (s *Simulator) deviceRand(id device.ID, round int) *rand.Rand {
	return rand.New(rand.NewSource(s.seeds[id] + int64(round)*1000003))
}

// Run steps until the end time or until ctx is cancelled. In realtime mode
// rounds are paced by the wall clock, one period per round.
func (s *Simulator) Run(ctx context.Context) error {
	var tick <-chan time.Time
	if s.cfg.Realtime {
		ticker := time.NewTicker(time.Duration(s.cfg.Period * float64(time.Second)))
		defer ticker.Stop()
		tick = ticker.C
	}

	log.Printf("[SIM] Running until t=%.1f (realtime=%v, workers=%d)", s.cfg.EndTime, s.cfg.Realtime, s.cfg.Workers)
	for !s.Done() {
		select {
		case <-ctx.Done():
			log.Printf("[SIM] Stopped at round %d", s.Round())
			return nil
		default:
		}

		if err := s.Step(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				log.Printf("[SIM] Stopped at round %d", s.Round())
				return nil
			}
			return err
		}

		if tick != nil {
			select {
			case <-tick:
			case <-ctx.Done():
			}
		}
	}

	log.Printf("[SIM] Finished after %d rounds, mean consistency of the last round %.3f",
		s.Round(), s.Snapshot().Consistency)
	return nil
}

// Device returns a copy of a device
func (s *Simulator) Device(id device.ID) (*device.Device, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	d, ok := s.devices[id]
	if !ok {
		return nil, false
	}
	return d.Clone(), true
}

// DeviceCount returns the number of spawned devices
func (s *Simulator) DeviceCount() int {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return len(s.devices)
}

// GetStats returns simulator statistics
func (s *Simulator) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	stats := map[string]interface{}{
		"run_id":           s.runID.String(),
		"round":            s.round,
		"sim_time":         float64(s.round) * s.cfg.Period,
		"devices":          len(s.devices),
		"pending_groups":   len(s.pending),
		"steps":            s.stepCount,
		"last_step_ms":     float64(s.lastStep.Microseconds()) / 1000.0,
		"violations":       s.violationCount,
		"warnings_total":   s.warningsTotal,
		"clusters_total":   s.clustersTotal,
		"lost_rounds":      s.lostRounds,
		"state":            s.store.GetStats(),
		"exchange":         s.exchange.GetStats(),
		"neighbors":        s.table.GetStats(),
		"sensor":           s.sensor.GetStats(),
		"last_consistency": s.last.Consistency,
	}
	if withStats, ok := s.nav.(interface{ GetStats() map[string]interface{} }); ok {
		stats["navigation"] = withStats.GetStats()
	}
	return stats
}
