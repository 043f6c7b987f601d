package logging

import (
	"fmt"
	"io"
	"log"
	"os"
	"time"
)

// SimLogger writes structured key=value simulation events
type SimLogger struct {
	runID  string
	logger *log.Logger
}

// NewSimLogger creates a logger writing to stdout
func NewSimLogger(runID string) *SimLogger {
	return NewSimLoggerTo(os.Stdout, runID)
}

// NewSimLoggerTo creates a logger writing to w
func NewSimLoggerTo(w io.Writer, runID string) *SimLogger {
	logger := log.New(w, fmt.Sprintf("[%s] ", runID), log.LstdFlags|log.Lmicroseconds)
	return &SimLogger{
		runID:  runID,
		logger: logger,
	}
}

// LogSpawn records a group entering the simulation
func (l *SimLogger) LogSpawn(group, size int, speed, radius, at float64) {
	l.logger.Printf("SPAWN: group=%d size=%d speed_ms=%.3f radius=%.1f sim_time=%.2f",
		group, size, speed, radius, at)
}

// LogRound records the totals of a round
func (l *SimLogger) LogRound(round int, simTime float64, devices int, consistency float64, warnings, clusters int, duration time.Duration) {
	l.logger.Printf("ROUND: round=%d sim_time=%.2f devices=%d consistency=%.3f warnings=%d clusters=%d duration_ms=%.2f",
		round, simTime, devices, consistency, warnings, clusters, float64(duration.Microseconds())/1000.0)
}

// LogViolation records a device whose monitor does not hold
func (l *SimLogger) LogViolation(round int, id int, group int) {
	l.logger.Printf("VIOLATION: round=%d device=%d group=%d detected_at=%d",
		round, id, group, time.Now().UnixMilli())
}

// LogConfigError records a rejected configuration
func (l *SimLogger) LogConfigError(err error) {
	l.logger.Printf("CONFIG_ERROR: error=%q", err.Error())
}

// LogPeerJoin records a peer joining the cluster
func (l *SimLogger) LogPeerJoin(peerID string) {
	l.logger.Printf("PEER_JOIN: peer=%s joined_at=%d",
		peerID, time.Now().UnixMilli())
}

// LogPeerLeave records a peer leaving the cluster
func (l *SimLogger) LogPeerLeave(peerID string) {
	l.logger.Printf("PEER_LEAVE: peer=%s left_at=%d",
		peerID, time.Now().UnixMilli())
}

// LogError records a failed operation
func (l *SimLogger) LogError(operation string, err error) {
	l.logger.Printf("ERROR: operation=%s error=%s occurred_at=%d",
		operation, err.Error(), time.Now().UnixMilli())
}

// LogMetrics records throughput of an operation
func (l *SimLogger) LogMetrics(operation string, duration time.Duration, count int) {
	rate := 0.0
	if duration > 0 {
		rate = float64(count) / duration.Seconds()
	}
	l.logger.Printf("METRICS: operation=%s duration_ms=%.2f count=%d ops_per_sec=%.2f measured_at=%d",
		operation, float64(duration.Microseconds())/1000.0, count, rate, time.Now().UnixMilli())
}
