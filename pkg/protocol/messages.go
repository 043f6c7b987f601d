package protocol

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-msgpack/v2/codec"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/geom"
	"github.com/heitortanoue/swarmmon/pkg/logic"
)

// MessageType is the kind of payload carried by a Message
type MessageType string

const (
	SnapshotType MessageType = "SNAPSHOT"
	SummaryType  MessageType = "SUMMARY"
)

// Message is the envelope pushed to observers
type Message struct {
	Type      MessageType `json:"type"`
	SenderID  string      `json:"sender_id"`
	Timestamp int64       `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// DeviceSnapshot is the state of one device at the end of a round
type DeviceSnapshot struct {
	ID        device.ID      `json:"id"`
	Group     int            `json:"group"`
	Leader    bool           `json:"leader"`
	Position  geom.Vec       `json:"position"`
	Storage   device.Storage `json:"storage"`
	Neighbors int            `json:"neighbors"`
	Monitor   logic.Verdict  `json:"monitor"`
}

// Snapshot is the state of the whole network at the end of a round
type Snapshot struct {
	ID          uuid.UUID        `json:"id"`
	RunID       uuid.UUID        `json:"run_id"`
	Round       int              `json:"round"`
	Time        float64          `json:"time"`
	Devices     []DeviceSnapshot `json:"devices"`
	Consistency float64          `json:"consistency"` // mean of the monitor results
	Warnings    int              `json:"warnings"`
	Clusters    int              `json:"clusters"`
	Violations  int              `json:"violations"`
}

// RoundSummary is the compact form of a snapshot exchanged between nodes
type RoundSummary struct {
	RunID       string  `json:"run_id" codec:"run_id"`
	Node        string  `json:"node" codec:"node"`
	Round       int     `json:"round" codec:"round"`
	Time        float64 `json:"time" codec:"time"`
	Devices     int     `json:"devices" codec:"devices"`
	Consistency float64 `json:"consistency" codec:"consistency"`
	Warnings    int     `json:"warnings" codec:"warnings"`
	Clusters    int     `json:"clusters" codec:"clusters"`
	Violations  int     `json:"violations" codec:"violations"`
}

// NewSnapshot builds the snapshot of a round and computes its totals. The
// mean consistency of an empty network is 1: nothing is violated.
func NewSnapshot(runID uuid.UUID, round int, t float64, devices []DeviceSnapshot) Snapshot {
	s := Snapshot{
		ID:          uuid.New(),
		RunID:       runID,
		Round:       round,
		Time:        t,
		Devices:     devices,
		Consistency: 1,
	}

	consistent := 0
	for _, d := range devices {
		if d.Storage.Consistency {
			consistent++
		} else {
			s.Violations++
		}
		if d.Storage.Warning {
			s.Warnings++
		}
		if d.Storage.Cluster {
			s.Clusters++
		}
	}
	if len(devices) > 0 {
		s.Consistency = float64(consistent) / float64(len(devices))
	}
	return s
}

// Summarize returns the compact summary of a snapshot produced by node
func Summarize(s Snapshot, node string) RoundSummary {
	return RoundSummary{
		RunID:       s.RunID.String(),
		Node:        node,
		Round:       s.Round,
		Time:        s.Time,
		Devices:     len(s.Devices),
		Consistency: s.Consistency,
		Warnings:    s.Warnings,
		Clusters:    s.Clusters,
		Violations:  s.Violations,
	}
}

// CreateSnapshotMessage wraps a snapshot for observers
func CreateSnapshotMessage(senderID string, s Snapshot) Message {
	return Message{
		Type:      SnapshotType,
		SenderID:  senderID,
		Timestamp: getCurrentTimestamp(),
		Data:      s,
	}
}

// CreateSummaryMessage wraps a summary for observers
func CreateSummaryMessage(senderID string, s RoundSummary) Message {
	return Message{
		Type:      SummaryType,
		SenderID:  senderID,
		Timestamp: getCurrentTimestamp(),
		Data:      s,
	}
}

// EncodeSummary serializes a summary with msgpack
func EncodeSummary(s RoundSummary) ([]byte, error) {
	var buf bytes.Buffer
	enc := codec.NewEncoder(&buf, &codec.MsgpackHandle{})
	if err := enc.Encode(&s); err != nil {
		return nil, fmt.Errorf("failed to encode summary: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeSummary parses a msgpack summary
func DecodeSummary(b []byte) (RoundSummary, error) {
	var s RoundSummary
	dec := codec.NewDecoder(bytes.NewReader(b), &codec.MsgpackHandle{})
	if err := dec.Decode(&s); err != nil {
		return RoundSummary{}, fmt.Errorf("failed to decode summary: %w", err)
	}
	return s, nil
}

// getCurrentTimestamp returns the current time in milliseconds
func getCurrentTimestamp() int64 {
	return time.Now().UnixMilli()
}
