package device

import (
	"github.com/heitortanoue/swarmmon/pkg/geom"
)

// MaxGroupSize bounds the size of a spawn group and spaces the id ranges of groups
const MaxGroupSize = 100

// ID identifies a device for the whole simulation
type ID int

// GroupOf returns the group key of the device (uid div MaxGroupSize)
func GroupOf(id ID) int {
	return int(id) / MaxGroupSize
}

// LeaderOf returns the leader of the group the device belongs to
func LeaderOf(id ID) ID {
	return id - id%MaxGroupSize
}

// IsLeader reports whether the device leads its group
func IsLeader(id ID) bool {
	return LeaderOf(id) == id
}

// Device is a simulated mobile agent
type Device struct {
	ID        ID       `json:"id"`
	Position  geom.Vec `json:"position"`
	SpawnTime float64  `json:"spawn_time"`
	Storage   Storage  `json:"storage"`
}

// New creates a device at the given position
func New(id ID, pos geom.Vec, spawnTime float64, storage Storage) *Device {
	return &Device{
		ID:        id,
		Position:  pos,
		SpawnTime: spawnTime,
		Storage:   storage,
	}
}

// Clone returns a copy of the device that shares no mutable state
func (d *Device) Clone() *Device {
	c := *d
	return &c
}
