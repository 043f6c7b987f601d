package swim

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/hashicorp/memberlist"

	"github.com/heitortanoue/swarmmon/logging"
	"github.com/heitortanoue/swarmmon/pkg/protocol"
)

// SwimEvents implements memberlist.EventDelegate for logging
type SwimEvents struct {
	nodeID   string
	logger   *logging.SimLogger
	delegate *SummaryDelegate
}

// NotifyJoin is invoked when a node joins the cluster
func (e *SwimEvents) NotifyJoin(n *memberlist.Node) {
	if n.Name != e.nodeID && e.logger != nil {
		e.logger.LogPeerJoin(n.Name)
	}
}

// NotifyLeave is invoked when a node leaves the cluster
func (e *SwimEvents) NotifyLeave(n *memberlist.Node) {
	if e.delegate != nil {
		e.delegate.Forget(n.Name)
	}
	if e.logger != nil {
		e.logger.LogPeerLeave(n.Name)
	}
}

// NotifyUpdate is invoked when the metadata of a node changes
func (e *SwimEvents) NotifyUpdate(n *memberlist.Node) {
	log.Printf("[SWIM] Node %s updated", n.Name)
}

// summaryBroadcast is a queued round summary
type summaryBroadcast struct {
	msg []byte
}

// Invalidates reports true for any older summary: only the latest round
// of this node is worth retransmitting
func (b *summaryBroadcast) Invalidates(other memberlist.Broadcast) bool {
	_, ok := other.(*summaryBroadcast)
	return ok
}

func (b *summaryBroadcast) Message() []byte {
	return b.msg
}

func (b *summaryBroadcast) Finished() {}

// SummaryDelegate implements memberlist.Delegate. It gossips the local round
// summary and keeps the latest summary received from every peer.
type SummaryDelegate struct {
	nodeID     string
	broadcasts *memberlist.TransmitLimitedQueue
	local      *protocol.RoundSummary
	peers      map[string]protocol.RoundSummary
	onSummary  func(protocol.RoundSummary)
	mutex      sync.RWMutex

	// Metrics
	publishedCount int64
	receivedCount  int64
	invalidCount   int64
}

// NewSummaryDelegate creates the delegate of a node. numNodes feeds the
// retransmission limit of the broadcast queue.
func NewSummaryDelegate(nodeID string, numNodes func() int, retransmitMult int) *SummaryDelegate {
	if retransmitMult <= 0 {
		retransmitMult = 3
	}
	return &SummaryDelegate{
		nodeID: nodeID,
		broadcasts: &memberlist.TransmitLimitedQueue{
			NumNodes:       numNodes,
			RetransmitMult: retransmitMult,
		},
		peers: make(map[string]protocol.RoundSummary),
	}
}

// Publish queues the summary of a snapshot for gossip
func (d *SummaryDelegate) Publish(s protocol.Snapshot) {
	summary := protocol.Summarize(s, d.nodeID)
	msg, err := protocol.EncodeSummary(summary)
	if err != nil {
		log.Printf("[SWIM] Failed to encode summary of round %d: %v", s.Round, err)
		return
	}

	d.mutex.Lock()
	d.local = &summary
	d.mutex.Unlock()

	d.broadcasts.QueueBroadcast(&summaryBroadcast{msg: msg})
	atomic.AddInt64(&d.publishedCount, 1)
}

// NodeMeta is unused: summaries travel as messages
func (d *SummaryDelegate) NodeMeta(limit int) []byte {
	return nil
}

// NotifyMsg receives a gossiped summary
func (d *SummaryDelegate) NotifyMsg(b []byte) {
	if len(b) == 0 {
		return
	}
	summary, err := protocol.DecodeSummary(b)
	if err != nil {
		atomic.AddInt64(&d.invalidCount, 1)
		return
	}
	d.store(summary)
}

// OnSummary registers a callback invoked with every newer peer summary
func (d *SummaryDelegate) OnSummary(fn func(protocol.RoundSummary)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSummary = fn
}

// store keeps a peer summary unless a newer one is already known
func (d *SummaryDelegate) store(summary protocol.RoundSummary) {
	if summary.Node == d.nodeID || summary.Node == "" {
		return
	}

	d.mutex.Lock()
	if prev, ok := d.peers[summary.Node]; ok && prev.RunID == summary.RunID && prev.Round >= summary.Round {
		d.mutex.Unlock()
		return
	}
	d.peers[summary.Node] = summary
	notify := d.onSummary
	d.mutex.Unlock()

	atomic.AddInt64(&d.receivedCount, 1)
	if notify != nil {
		notify(summary)
	}
}

// GetBroadcasts returns the queued summaries that fit the limit
func (d *SummaryDelegate) GetBroadcasts(overhead, limit int) [][]byte {
	return d.broadcasts.GetBroadcasts(overhead, limit)
}

// LocalState is sent during push/pull: the latest local summary
func (d *SummaryDelegate) LocalState(join bool) []byte {
	d.mutex.RLock()
	local := d.local
	d.mutex.RUnlock()

	if local == nil {
		return nil
	}
	msg, err := protocol.EncodeSummary(*local)
	if err != nil {
		return nil
	}
	return msg
}

// MergeRemoteState merges the summary of a push/pull exchange
func (d *SummaryDelegate) MergeRemoteState(buf []byte, join bool) {
	d.NotifyMsg(buf)
}

// Peers returns the latest summary of every peer
func (d *SummaryDelegate) Peers() map[string]protocol.RoundSummary {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	out := make(map[string]protocol.RoundSummary, len(d.peers))
	for k, v := range d.peers {
		out[k] = v
	}
	return out
}

// Forget drops the summary of a peer that left
func (d *SummaryDelegate) Forget(node string) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	delete(d.peers, node)
}

// GetStats returns delegate statistics
func (d *SummaryDelegate) GetStats() map[string]interface{} {
	d.mutex.RLock()
	peers := len(d.peers)
	d.mutex.RUnlock()

	return map[string]interface{}{
		"peers":           peers,
		"queued":          d.broadcasts.NumQueued(),
		"published_count": atomic.LoadInt64(&d.publishedCount),
		"received_count":  atomic.LoadInt64(&d.receivedCount),
		"invalid_count":   atomic.LoadInt64(&d.invalidCount),
	}
}
