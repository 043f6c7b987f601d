// Package aggregate turns per-round snapshots into network-wide time series:
// the mean of the monitor results plus proposition counts, mirrored into an
// in-memory go-metrics sink.
package aggregate

import (
	"fmt"
	"sync"
	"time"

	metrics "github.com/hashicorp/go-metrics"

	"github.com/heitortanoue/swarmmon/pkg/protocol"
)

// Point is one round of the series
type Point struct {
	Round       int     `json:"round"`
	Time        float64 `json:"time"`
	Devices     int     `json:"devices"`
	Consistency float64 `json:"consistency"`
	Warnings    int     `json:"warnings"`
	Clusters    int     `json:"clusters"`
	Violations  int     `json:"violations"`
}

// Aggregator keeps the series of the last rounds
type Aggregator struct {
	metrics   *metrics.Metrics
	sink      *metrics.InmemSink
	series    []Point
	maxPoints int
	total     int // rounds ever recorded
	mutex     sync.RWMutex
}

// NewAggregator creates an aggregator keeping at most maxPoints rounds
func NewAggregator(service string, maxPoints int) (*Aggregator, error) {
	if maxPoints <= 0 {
		maxPoints = 10000
	}

	sink := metrics.NewInmemSink(10*time.Second, time.Minute)
	conf := metrics.DefaultConfig(service)
	conf.EnableHostname = false
	conf.EnableRuntimeMetrics = false

	m, err := metrics.New(conf, sink)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics: %w", err)
	}

	return &Aggregator{
		metrics:   m,
		sink:      sink,
		series:    make([]Point, 0, 64),
		maxPoints: maxPoints,
	}, nil
}

// Publish records a snapshot; it lets the aggregator act as a snapshot sink
func (a *Aggregator) Publish(s protocol.Snapshot) {
	a.Record(s)
}

// Record appends the point of a snapshot to the series
func (a *Aggregator) Record(s protocol.Snapshot) Point {
	p := Point{
		Round:       s.Round,
		Time:        s.Time,
		Devices:     len(s.Devices),
		Consistency: s.Consistency,
		Warnings:    s.Warnings,
		Clusters:    s.Clusters,
		Violations:  s.Violations,
	}

	a.metrics.SetGauge([]string{"round", "consistency"}, float32(p.Consistency))
	a.metrics.SetGauge([]string{"round", "devices"}, float32(p.Devices))
	a.metrics.SetGauge([]string{"round", "warnings"}, float32(p.Warnings))
	a.metrics.SetGauge([]string{"round", "clusters"}, float32(p.Clusters))
	a.metrics.AddSample([]string{"consistency"}, float32(p.Consistency))
	a.metrics.IncrCounter([]string{"violations"}, float32(p.Violations))
	a.metrics.IncrCounter([]string{"rounds"}, 1)

	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.series = append(a.series, p)
	if len(a.series) > a.maxPoints {
		a.series = append(a.series[:0], a.series[len(a.series)-a.maxPoints:]...)
	}
	a.total++
	return p
}

// Series returns a copy of the retained points, oldest first
func (a *Aggregator) Series() []Point {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	out := make([]Point, len(a.series))
	copy(out, a.series)
	return out
}

// Since returns the retained points with round >= from
func (a *Aggregator) Since(from int) []Point {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	out := make([]Point, 0)
	for _, p := range a.series {
		if p.Round >= from {
			out = append(out, p)
		}
	}
	return out
}

// Last returns the most recent point
func (a *Aggregator) Last() (Point, bool) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if len(a.series) == 0 {
		return Point{}, false
	}
	return a.series[len(a.series)-1], true
}

// MeanConsistency averages the consistency over the retained points
func (a *Aggregator) MeanConsistency() float64 {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	if len(a.series) == 0 {
		return 1
	}
	sum := 0.0
	for _, p := range a.series {
		sum += p.Consistency
	}
	return sum / float64(len(a.series))
}

// Gauges returns the gauges of the current metrics interval
func (a *Aggregator) Gauges() map[string]float32 {
	out := make(map[string]float32)
	data := a.sink.Data()
	if len(data) == 0 {
		return out
	}

	current := data[len(data)-1]
	current.RLock()
	defer current.RUnlock()
	for name, g := range current.Gauges {
		out[name] = g.Value
	}
	return out
}

// GetStats returns aggregator statistics
func (a *Aggregator) GetStats() map[string]interface{} {
	last, ok := a.Last()
	mean := a.MeanConsistency()

	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := map[string]interface{}{
		"rounds_recorded":  a.total,
		"points_retained":  len(a.series),
		"mean_consistency": mean,
	}
	if ok {
		stats["last_round"] = last.Round
		stats["last_consistency"] = last.Consistency
		stats["last_violations"] = last.Violations
	}
	return stats
}
