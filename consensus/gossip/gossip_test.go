package gossip

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/crypto"
)

type noopSender struct{}

func (noopSender) SendGossip(common.PeerId, GossipMessage) {}

func TestGossipNewIsIdempotent(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	confirm := make(chan Confirm, 1)
	e := New(kp, 2, 3, 1, noopSender{}, confirm)

	var eventId common.EventId
	eventId[0] = 1
	other, _ := crypto.GenerateKeyPair()
	peers := []common.PeerId{other.PeerId()}

	e.GossipNew(eventId, peers)
	require.Len(t, e.tracked, 1)
	e.GossipNew(eventId, peers) // second call is a no-op
	assert.Len(t, e.tracked, 1)
}

func TestTwoPeerEventConfirms(t *testing.T) {
	var eventId common.EventId
	eventId[0] = 7

	kpA, _ := crypto.GenerateKeyPair()
	kpB, _ := crypto.GenerateKeyPair()
	confirmA := make(chan Confirm, 1)
	confirmB := make(chan Confirm, 1)

	engA := New(kpA, 2, 3, 1, noopSender{}, confirmA)
	engB := New(kpB, 2, 3, 1, noopSender{}, confirmB)

	peers := []common.PeerId{kpA.PeerId(), kpB.PeerId()}
	engA.GossipNew(eventId, peers)
	engB.GossipNew(eventId, peers)

	// Exchange each side's SeeMap once; two participants only need to see
	// each other's self-signature to reach the 2/3 supermajority.
	engA.mu.Lock()
	snapA := engA.tracked[eventId].seeMap
	engA.mu.Unlock()

	engB.OnGossipMessage(GossipMessage{From: kpA.PeerId(), EventId: eventId, SeeMap: snapA})

	select {
	case c := <-confirmB:
		assert.Equal(t, eventId, c.EventId)
	default:
		t.Fatal("expected B to confirm after receiving A's SeeMap")
	}
}

func TestUnverifiableSignatureIsDropped(t *testing.T) {
	var eventId common.EventId
	eventId[0] = 9

	kpA, _ := crypto.GenerateKeyPair()
	kpB, _ := crypto.GenerateKeyPair()
	kpMallory, _ := crypto.GenerateKeyPair()

	confirm := make(chan Confirm, 1)
	engA := New(kpA, 2, 3, 1, noopSender{}, confirm)
	peers := []common.PeerId{kpA.PeerId(), kpB.PeerId()}
	engA.GossipNew(eventId, peers)

	// Keep the tracked state itself: the message can satisfy the
	// confirmation predicate, after which the engine stops tracking eventId.
	engA.mu.Lock()
	te := engA.tracked[eventId]
	engA.mu.Unlock()

	badSig := kpMallory.Sign([]byte("wrong message entirely"))
	forged := SeeMap{
		kpB.PeerId(): {
			kpB.PeerId(): {
				kpMallory.PeerId(): badSig,
			},
		},
	}
	engA.OnGossipMessage(GossipMessage{From: kpB.PeerId(), EventId: eventId, SeeMap: forged})

	engA.mu.Lock()
	_, hasMallory := te.seeMap[kpB.PeerId()][kpB.PeerId()][kpMallory.PeerId()]
	engA.mu.Unlock()
	assert.False(t, hasMallory)
}

func TestPeerLeaveRemovesFromSeeMap(t *testing.T) {
	var eventId common.EventId
	eventId[0] = 3

	kpA, _ := crypto.GenerateKeyPair()
	kpB, _ := crypto.GenerateKeyPair()
	confirm := make(chan Confirm, 1)
	e := New(kpA, 2, 3, 1, noopSender{}, confirm)
	e.GossipNew(eventId, []common.PeerId{kpA.PeerId(), kpB.PeerId()})

	// Keep the tracked state itself: the leave re-evaluates confirmation,
	// and a confirmed event is no longer tracked.
	e.mu.Lock()
	te := e.tracked[eventId]
	e.mu.Unlock()

	e.OnPeerLeave(kpB.PeerId())

	e.mu.Lock()
	_, stillTracked := te.seeMap[kpB.PeerId()]
	e.mu.Unlock()
	assert.False(t, stillTracked)
}
