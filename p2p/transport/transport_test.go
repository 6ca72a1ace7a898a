package transport

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/crypto"
	"github.com/CympleTech/TDN-sub000/p2p/content"
)

type recordingSink struct {
	pbftEvents   chan []byte
	gossipEvents chan []byte
	joins        chan []byte
	leaves       chan common.PeerId
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		pbftEvents:   make(chan []byte, 4),
		gossipEvents: make(chan []byte, 4),
		joins:        make(chan []byte, 4),
		leaves:       make(chan common.PeerId, 4),
	}
}

func (s *recordingSink) OnPBFTEvent(group common.GroupId, sender common.PeerId, payload []byte) {
	s.pbftEvents <- payload
}
func (s *recordingSink) OnGossipMessage(group common.GroupId, sender common.PeerId, payload []byte) {
	s.gossipEvents <- payload
}
func (s *recordingSink) OnJoin(group common.GroupId, sender common.PeerId, payload []byte) {
	s.joins <- payload
}
func (s *recordingSink) OnLeave(group common.GroupId, sender common.PeerId) {
	s.leaves <- sender
}

func newTestTransport(t *testing.T, sink EventSink) (*Transport, *crypto.KeyPair) {
	t.Helper()
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	tr, err := New(kp, "127.0.0.1:0", "none", sink)
	require.NoError(t, err)
	return tr, kp
}

func TestHeartBeatRoundTripConfirmsPeer(t *testing.T) {
	sinkA := newRecordingSink()
	sinkB := newRecordingSink()
	trA, kpA := newTestTransport(t, sinkA)
	trB, kpB := newTestTransport(t, sinkB)
	defer trA.Stop()
	defer trB.Stop()

	trA.Start()
	trB.Start()

	var group common.GroupId
	group[0] = 1

	trA.Join(group, nil)
	trB.Join(group, []Bootstrap{{Peer: kpA.PeerId(), Socket: trA.conn.LocalAddr().(*net.UDPAddr)}})

	assert.Eventually(t, func() bool {
		return trA.Table(group) != nil && trA.Table(group).Confirmed(kpB.PeerId())
	}, 2*time.Second, 20*time.Millisecond, "A should confirm B after the heartbeat/heartbeat-ok round trip")
}

// TestDHTDispatchPromotesSenderAndHolePunchesNewPeers covers spec.md §4.3's
// DHT handler: the sender is promoted to confirmed, and a hole-punch is
// initiated only for peers the table hasn't seen before.
func TestDHTDispatchPromotesSenderAndHolePunchesNewPeers(t *testing.T) {
	sink := newRecordingSink()
	tr, _ := newTestTransport(t, sink)
	defer tr.Stop()

	var group common.GroupId
	group[0] = 1
	tr.Join(group, nil)

	senderKp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	sender := senderKp.PeerId()
	from := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9101}

	newPeerKp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	newPeer := newPeerKp.PeerId()
	newPeerSocket := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9102}

	gs, ok := tr.groupState(group)
	require.True(t, ok)

	tr.dispatch(group, sender, from, content.DHT([]content.PeerSocket{
		{Peer: newPeer, Socket: newPeerSocket},
	}))

	assert.True(t, gs.table.Confirmed(sender), "DHT must promote the sender to confirmed")

	tr.mu.Lock()
	_, punching := tr.pendingPunch[newPeer]
	tr.mu.Unlock()
	assert.True(t, punching, "a newly-learned peer must have a hole-punch initiated")

	// A second DHT announcement of the same peer must not restart the
	// hole-punch clock.
	tr.mu.Lock()
	tr.pendingPunch[newPeer] = time.Unix(0, 0)
	tr.mu.Unlock()

	tr.dispatch(group, sender, from, content.DHT([]content.PeerSocket{
		{Peer: newPeer, Socket: newPeerSocket},
	}))

	tr.mu.Lock()
	startedAt := tr.pendingPunch[newPeer]
	tr.mu.Unlock()
	assert.True(t, startedAt.Equal(time.Unix(0, 0)), "re-announcing a known tentative peer must not restart its hole-punch")
}

func TestEventEnvelopeRoutesToCorrectSink(t *testing.T) {
	env := encodeEventEnvelope(categoryGossip, []byte("payload"))
	category, payload, ok := decodeEventEnvelope(env)
	require.True(t, ok)
	assert.Equal(t, categoryGossip, category)
	assert.Equal(t, []byte("payload"), payload)
}

func TestDecodeEventEnvelopeRejectsEmpty(t *testing.T) {
	_, _, ok := decodeEventEnvelope(nil)
	assert.False(t, ok)
}
