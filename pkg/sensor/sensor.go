// Package sensor computes the basic propositions the monitor consumes from
// the neighbor metric: whether a device is crowded (warning) and whether
// enough of its neighbors are crowded too (cluster).
package sensor

import (
	"sync"

	"github.com/heitortanoue/swarmmon/pkg/field"
)

// Thresholds configure the proximity propositions
type Thresholds struct {
	WarningRadius float64 // distance under which a neighbor counts as close
	WarningCount  int     // warning holds with strictly more close devices
	ClusterCount  int     // cluster holds with at least this many warned devices
}

// DefaultThresholds derives the thresholds from the communication range:
// more than 5 devices within a quarter of the range, at least 3 warned
func DefaultThresholds(communicationRange float64) Thresholds {
	return Thresholds{
		WarningRadius: 0.25 * communicationRange,
		WarningCount:  5,
		ClusterCount:  3,
	}
}

// Reading is what a device senses in one round. Counts include the device.
type Reading struct {
	Close   int  `json:"close"`
	Warned  int  `json:"warned"`
	Warning bool `json:"warning"`
	Cluster bool `json:"cluster"`
}

// ProximitySensor evaluates the propositions and counts how often they hold
type ProximitySensor struct {
	thresholds Thresholds
	readings   int
	warnings   int
	clusters   int
	mutex      sync.Mutex // Concurrency protection
}

// NewProximitySensor creates a sensor shared by every device program
func NewProximitySensor(thresholds Thresholds) *ProximitySensor {
	return &ProximitySensor{thresholds: thresholds}
}

// Sense evaluates warning and cluster for the device of c. Cluster needs the
// warning values neighbors exported in previous rounds.
func (ps *ProximitySensor) Sense(c *field.Context) Reading {
	var r Reading

	radius := ps.thresholds.WarningRadius
	r.Close = field.CountHood(field.Map(field.NbrDist(c), func(d float64) bool {
		return d < radius
	}))
	r.Warning = r.Close > ps.thresholds.WarningCount

	r.Warned = field.CountHood(field.Nbr(c, "warning", r.Warning))
	r.Cluster = r.Warned >= ps.thresholds.ClusterCount

	ps.mutex.Lock()
	ps.readings++
	if r.Warning {
		ps.warnings++
	}
	if r.Cluster {
		ps.clusters++
	}
	ps.mutex.Unlock()

	return r
}

// GetAndClearCounts returns the number of readings, warnings and clusters
// sensed since the last call and resets them
func (ps *ProximitySensor) GetAndClearCounts() (readings, warnings, clusters int) {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	readings, warnings, clusters = ps.readings, ps.warnings, ps.clusters
	ps.readings, ps.warnings, ps.clusters = 0, 0, 0
	return readings, warnings, clusters
}

// GetStats returns sensor statistics
func (ps *ProximitySensor) GetStats() map[string]interface{} {
	ps.mutex.Lock()
	defer ps.mutex.Unlock()

	return map[string]interface{}{
		"warning_radius":  ps.thresholds.WarningRadius,
		"warning_count":   ps.thresholds.WarningCount,
		"cluster_count":   ps.thresholds.ClusterCount,
		"pending_reads":   ps.readings,
		"pending_warns":   ps.warnings,
		"pending_cluster": ps.clusters,
	}
}
