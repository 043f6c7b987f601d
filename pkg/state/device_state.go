package state

import (
	"errors"
	"fmt"
	"sync"

	iradix "github.com/hashicorp/go-immutable-radix"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/trace"
)

var (
	// ErrNoActiveRound is raised when a slot is touched outside Begin/Close
	ErrNoActiveRound = errors.New("state accessed outside of an active round")
	// ErrDuplicateSlot is raised when a call-site commits twice in one round
	ErrDuplicateSlot = errors.New("slot committed twice in the same round")
	// ErrRoundOverlap is raised when a device opens a round while another is
	// still open, or opens a round that is not after its last one
	ErrRoundOverlap = errors.New("device round overlaps a previous round")
)

// Store keeps, for every device, the generation of slots committed by its
// last executed round. Each generation is an immutable radix tree keyed by
// the encoded call-site path, so a round installs all its slots at once.
type Store struct {
	generations map[device.ID]*generation
	open        map[device.ID]bool
	mutex       sync.RWMutex
}

// generation is the committed output of one device round
type generation struct {
	round int
	tree  *iradix.Tree
}

// NewStore creates an empty round state store
func NewStore() *Store {
	return &Store{
		generations: make(map[device.ID]*generation),
		open:        make(map[device.ID]bool),
	}
}

// Begin opens the given round for a device. Reads inside the round see the
// slots committed in round-1 only; anything older is dropped.
func (s *Store) Begin(id device.ID, round int) *Round {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.open[id] {
		panic(fmt.Errorf("%w: device %d round %d", ErrRoundOverlap, id, round))
	}

	prev := iradix.New()
	if gen, ok := s.generations[id]; ok {
		if round <= gen.round {
			panic(fmt.Errorf("%w: device %d round %d after round %d", ErrRoundOverlap, id, round, gen.round))
		}
		if gen.round == round-1 {
			prev = gen.tree
		}
	}

	s.open[id] = true

	return &Round{
		store:  s,
		id:     id,
		number: round,
		prev:   prev,
		txn:    iradix.New().Txn(),
		active: true,
	}
}

// install replaces the device generation with the one built by a round
func (s *Store) install(id device.ID, round int, tree *iradix.Tree) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.generations[id] = &generation{round: round, tree: tree}
	delete(s.open, id)
}

// release closes a round without touching the committed generation
func (s *Store) release(id device.ID) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	delete(s.open, id)
}

// Get returns the value committed by the device's last round for a path
func (s *Store) Get(id device.ID, path trace.Path) (any, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	gen, ok := s.generations[id]
	if !ok {
		return nil, false
	}
	return gen.tree.Get(path.Bytes())
}

// Slots returns every committed slot of the device below a path prefix
func (s *Store) Slots(id device.ID, prefix trace.Path) map[trace.Path]any {
	s.mutex.RLock()
	gen, ok := s.generations[id]
	s.mutex.RUnlock()

	slots := make(map[trace.Path]any)
	if !ok {
		return slots
	}

	gen.tree.Root().WalkPrefix(prefix.Bytes(), func(k []byte, v interface{}) bool {
		slots[trace.Path(k)] = v
		return false
	})
	return slots
}

// LastRound returns the last round committed by the device
func (s *Store) LastRound(id device.ID) (int, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	gen, ok := s.generations[id]
	if !ok {
		return 0, false
	}
	return gen.round, true
}

// GetStats returns statistics about the store
func (s *Store) GetStats() map[string]interface{} {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	slots := 0
	for _, gen := range s.generations {
		slots += gen.tree.Len()
	}

	return map[string]interface{}{
		"devices":     len(s.generations),
		"slots":       slots,
		"open_rounds": len(s.open),
	}
}

// Round is the active round of one device. It is owned by the goroutine
// evaluating that device and must not be shared.
type Round struct {
	store  *Store
	id     device.ID
	number int
	prev   *iradix.Tree
	txn    *iradix.Txn
	active bool
}

// Number returns the round number
func (r *Round) Number() int {
	return r.number
}

// Device returns the device owning the round
func (r *Round) Device() device.ID {
	return r.id
}

// ReadOrInit returns the value committed at the previous round for the path,
// or def when there is none.
func (r *Round) ReadOrInit(path trace.Path, def any) any {
	r.mustBeActive(path)

	if v, ok := r.prev.Get(path.Bytes()); ok {
		return v
	}
	return def
}

// Commit stages the value that the next round will read for the path
func (r *Round) Commit(path trace.Path, value any) {
	r.mustBeActive(path)

	if _, updated := r.txn.Insert(path.Bytes(), value); updated {
		panic(fmt.Errorf("%w: device %d round %d path %s", ErrDuplicateSlot, r.id, r.number, path))
	}
}

// Close installs every staged slot as the device's new generation
func (r *Round) Close() {
	r.mustBeActive(trace.Root)
	r.active = false
	r.store.install(r.id, r.number, r.txn.Commit())
}

// Abort discards the staged slots; the previous generation stays in place
// but will be considered stale by the next round.
func (r *Round) Abort() {
	if !r.active {
		return
	}
	r.active = false
	r.store.release(r.id)
}

func (r *Round) mustBeActive(path trace.Path) {
	if !r.active {
		panic(fmt.Errorf("%w: device %d round %d path %s", ErrNoActiveRound, r.id, r.number, path))
	}
}
