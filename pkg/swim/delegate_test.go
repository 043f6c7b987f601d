package swim

import (
	"testing"

	"github.com/google/uuid"
	"github.com/hashicorp/memberlist"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/heitortanoue/swarmmon/pkg/device"
	"github.com/heitortanoue/swarmmon/pkg/protocol"
)

func one() int { return 1 }

func snapshot(run uuid.UUID, round int) protocol.Snapshot {
	devices := []protocol.DeviceSnapshot{
		{ID: 0, Storage: device.Storage{Consistency: true}},
		{ID: 1, Storage: device.Storage{Consistency: false}},
	}
	return protocol.NewSnapshot(run, round, float64(round), devices)
}

func encode(t *testing.T, s protocol.RoundSummary) []byte {
	t.Helper()
	b, err := protocol.EncodeSummary(s)
	require.NoError(t, err)
	return b
}

func TestSummaryDelegate_ImplementsMemberlist(t *testing.T) {
	var _ memberlist.Delegate = NewSummaryDelegate("a", one, 0)
	var _ memberlist.EventDelegate = &SwimEvents{}
}

func TestSummaryDelegate_PublishQueuesBroadcast(t *testing.T) {
	d := NewSummaryDelegate("node-a", one, 3)
	run := uuid.New()

	assert.Nil(t, d.LocalState(false))

	d.Publish(snapshot(run, 4))
	msgs := d.GetBroadcasts(0, 1400)
	require.Len(t, msgs, 1)

	got, err := protocol.DecodeSummary(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, "node-a", got.Node)
	assert.Equal(t, 4, got.Round)
	assert.Equal(t, 0.5, got.Consistency)
	assert.Equal(t, run.String(), got.RunID)

	state, err := protocol.DecodeSummary(d.LocalState(true))
	require.NoError(t, err)
	assert.Equal(t, got, state)
}

func TestSummaryDelegate_NewerSummaryInvalidatesOlder(t *testing.T) {
	d := NewSummaryDelegate("node-a", one, 3)
	run := uuid.New()

	d.Publish(snapshot(run, 1))
	d.Publish(snapshot(run, 2))
	assert.Equal(t, 1, d.GetStats()["queued"])

	msgs := d.GetBroadcasts(0, 1400)
	require.Len(t, msgs, 1)
	got, err := protocol.DecodeSummary(msgs[0])
	require.NoError(t, err)
	assert.Equal(t, 2, got.Round)
}

func TestSummaryDelegate_KeepsLatestPerPeer(t *testing.T) {
	d := NewSummaryDelegate("node-a", one, 3)
	run := uuid.NewString()

	d.NotifyMsg(encode(t, protocol.RoundSummary{RunID: run, Node: "node-b", Round: 5}))
	d.NotifyMsg(encode(t, protocol.RoundSummary{RunID: run, Node: "node-b", Round: 3}))
	d.MergeRemoteState(encode(t, protocol.RoundSummary{RunID: run, Node: "node-c", Round: 1}), true)
	d.NotifyMsg(encode(t, protocol.RoundSummary{RunID: run, Node: "node-a", Round: 9}))
	d.NotifyMsg([]byte{0xc1})
	d.NotifyMsg(nil)

	peers := d.Peers()
	require.Len(t, peers, 2)
	assert.Equal(t, 5, peers["node-b"].Round, "older rounds are ignored")
	assert.Equal(t, 1, peers["node-c"].Round)

	// a new run restarts from round 0
	d.NotifyMsg(encode(t, protocol.RoundSummary{RunID: uuid.NewString(), Node: "node-b", Round: 0}))
	assert.Equal(t, 0, d.Peers()["node-b"].Round)

	d.Forget("node-c")
	assert.Len(t, d.Peers(), 1)

	stats := d.GetStats()
	assert.Equal(t, int64(1), stats["invalid_count"])
	assert.Equal(t, int64(3), stats["received_count"])
}

func TestSummaryDelegate_NotifiesNewerSummaries(t *testing.T) {
	d := NewSummaryDelegate("node-a", one, 3)
	var got []int
	d.OnSummary(func(s protocol.RoundSummary) { got = append(got, s.Round) })

	for _, round := range []int{2, 1, 3, 3} {
		d.NotifyMsg(encode(t, protocol.RoundSummary{RunID: "r", Node: "node-b", Round: round}))
	}
	d.NotifyMsg(encode(t, protocol.RoundSummary{RunID: "r", Node: "node-a", Round: 9}))

	assert.Equal(t, []int{2, 3}, got)
}

func TestResolveBindAddr(t *testing.T) {
	assert.Equal(t, "127.0.0.1", resolveBindAddr("127.0.0.1"))
	assert.NotEmpty(t, resolveBindAddr(""))
}

func TestSwimEvents_LeaveForgetsPeer(t *testing.T) {
	d := NewSummaryDelegate("node-a", one, 3)
	d.NotifyMsg(encode(t, protocol.RoundSummary{RunID: "r", Node: "node-b", Round: 1}))
	require.Len(t, d.Peers(), 1)

	events := &SwimEvents{nodeID: "node-a", delegate: d}
	events.NotifyJoin(&memberlist.Node{Name: "node-b"})
	events.NotifyLeave(&memberlist.Node{Name: "node-b"})
	assert.Empty(t, d.Peers())
}
