package gossip

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/google/btree"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/trace"
)

var (
	// ErrDuplicateExport is returned when a device exports twice on the same
	// path in one round
	ErrDuplicateExport = errors.New("path exported twice in the same round")
	// ErrStaleExport is returned when a device exports for a round older than
	// one it already exported
	ErrStaleExport = errors.New("export older than the last one of the device")
)

// NeighborGetter tells whether two devices are currently one hop apart
type NeighborGetter interface {
	IsNeighbor(id, other device.ID) bool
}

// record is one exported value
type record struct {
	round int
	value any
}

// expiry indexes records by round for retention-window cleanup
type expiry struct {
	round  int
	device device.ID
	path   trace.Path
}

// Less orders by round, then device, then path
func (e expiry) Less(than btree.Item) bool {
	o := than.(expiry)
	if e.round != o.round {
		return e.round < o.round
	}
	if e.device != o.device {
		return e.device < o.device
	}
	return e.path < o.path
}

// Exchange is the neighbor exchange channel. Devices publish the values
// exported by their round; importers see, per neighbor, the freshest value
// exported in the window [round-retain, round-1]. Exports of the current
// round are never visible.
type Exchange struct {
	retain         int
	neighborGetter NeighborGetter

	// path -> exporter -> records in ascending round order
	streams map[trace.Path]map[device.ID][]record
	index   *btree.BTree

	lossRate float64
	rnd      *rand.Rand

	mutex sync.RWMutex

	// Metrics
	exportedCount int64
	importedCount int64 // updated atomically, Import only holds the read lock
	droppedCount  int64 // rounds lost to message loss
	expiredCount  int64
}

// Option configures an Exchange
type Option func(*Exchange)

// WithLoss makes each published device round be lost with the given
// probability, drawn from rnd
func WithLoss(rate float64, rnd *rand.Rand) Option {
	return func(ex *Exchange) {
		ex.lossRate = rate
		ex.rnd = rnd
	}
}

// NewExchange creates an exchange with a retention window of retain rounds
func NewExchange(retain int, neighborGetter NeighborGetter, opts ...Option) *Exchange {
	if retain < 1 {
		retain = 1
	}
	ex := &Exchange{
		retain:         retain,
		neighborGetter: neighborGetter,
		streams:        make(map[trace.Path]map[device.ID][]record),
		index:          btree.New(32),
	}
	for _, opt := range opts {
		opt(ex)
	}
	return ex
}

// Retain returns the retention window in rounds
func (ex *Exchange) Retain() int {
	return ex.retain
}

// Export records a single value exported by a device at a round
func (ex *Exchange) Export(id device.ID, path trace.Path, round int, value any) error {
	ex.mutex.Lock()
	defer ex.mutex.Unlock()

	if err := ex.check(id, path, round); err != nil {
		return err
	}
	ex.insert(id, path, round, value)
	return nil
}

// Publish records every value exported by one device round. Either all of
// them are recorded or none is. A lost round returns false.
func (ex *Exchange) Publish(id device.ID, round int, outbox map[trace.Path]any) (bool, error) {
	ex.mutex.Lock()
	defer ex.mutex.Unlock()

	for path := range outbox {
		if err := ex.check(id, path, round); err != nil {
			return false, err
		}
	}

	if ex.lossRate > 0 && ex.rnd != nil && ex.rnd.Float64() < ex.lossRate {
		ex.droppedCount++
		return false, nil
	}

	for path, value := range outbox {
		ex.insert(id, path, round, value)
	}
	return true, nil
}

// Validate reports whether Publish would accept the outbox of a device
// round, without recording anything
func (ex *Exchange) Validate(id device.ID, round int, outbox map[trace.Path]any) error {
	ex.mutex.RLock()
	defer ex.mutex.RUnlock()

	for path := range outbox {
		if err := ex.check(id, path, round); err != nil {
			return err
		}
	}
	return nil
}

// check validates that (id, path, round) can be appended. Caller holds the lock.
func (ex *Exchange) check(id device.ID, path trace.Path, round int) error {
	recs := ex.streams[path][id]
	if len(recs) == 0 {
		return nil
	}
	last := recs[len(recs)-1].round
	switch {
	case last == round:
		return fmt.Errorf("%w: device %d round %d path %s", ErrDuplicateExport, id, round, path)
	case last > round:
		return fmt.Errorf("%w: device %d round %d after %d", ErrStaleExport, id, round, last)
	}
	return nil
}

// insert appends a record. Caller holds the lock.
func (ex *Exchange) insert(id device.ID, path trace.Path, round int, value any) {
	byDevice, ok := ex.streams[path]
	if !ok {
		byDevice = make(map[device.ID][]record)
		ex.streams[path] = byDevice
	}
	byDevice[id] = append(byDevice[id], record{round: round, value: value})
	ex.index.ReplaceOrInsert(expiry{round: round, device: id, path: path})
	ex.exportedCount++
}

// Import returns, for each current neighbor of the device that exported on
// the path, its freshest value within the retention window
func (ex *Exchange) Import(id device.ID, path trace.Path, round int) map[device.ID]any {
	ex.mutex.RLock()
	defer ex.mutex.RUnlock()

	oldest := round - ex.retain
	out := make(map[device.ID]any)

	for exporter, recs := range ex.streams[path] {
		if exporter == id || !ex.neighborGetter.IsNeighbor(id, exporter) {
			continue
		}
		for i := len(recs) - 1; i >= 0; i-- {
			r := recs[i].round
			if r >= round {
				continue
			}
			if r >= oldest {
				out[exporter] = recs[i].value
			}
			break
		}
	}

	atomic.AddInt64(&ex.importedCount, int64(len(out)))
	return out
}

// Expire drops every record that can no longer be imported from round on
func (ex *Exchange) Expire(round int) int {
	ex.mutex.Lock()
	defer ex.mutex.Unlock()

	cutoff := round - ex.retain
	pivot := expiry{round: cutoff, device: device.ID(math.MinInt)}

	var stale []expiry
	ex.index.AscendLessThan(pivot, func(i btree.Item) bool {
		stale = append(stale, i.(expiry))
		return true
	})

	for _, e := range stale {
		ex.index.Delete(e)
		byDevice := ex.streams[e.path]
		recs := byDevice[e.device]
		if len(recs) > 0 && recs[0].round == e.round {
			recs = recs[1:]
		}
		if len(recs) == 0 {
			delete(byDevice, e.device)
			if len(byDevice) == 0 {
				delete(ex.streams, e.path)
			}
		} else {
			byDevice[e.device] = recs
		}
	}
	ex.expiredCount += int64(len(stale))
	return len(stale)
}

// Len returns the number of records currently retained
func (ex *Exchange) Len() int {
	ex.mutex.RLock()
	defer ex.mutex.RUnlock()
	return ex.index.Len()
}

// GetStats returns exchange statistics
func (ex *Exchange) GetStats() map[string]interface{} {
	ex.mutex.RLock()
	defer ex.mutex.RUnlock()

	return map[string]interface{}{
		"retain_rounds":  ex.retain,
		"records":        ex.index.Len(),
		"paths":          len(ex.streams),
		"exported_count": ex.exportedCount,
		"imported_count": atomic.LoadInt64(&ex.importedCount),
		"dropped_count":  ex.droppedCount,
		"expired_count":  ex.expiredCount,
		"loss_rate":      ex.lossRate,
	}
}
