package discover

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/CympleTech/TDN-sub000/common"
)

func peerWith(b byte) common.PeerId {
	var p common.PeerId
	p[0] = b
	return p
}

func TestInsertSearchRemove(t *testing.T) {
	self := peerWith(0)
	tbl := NewTable(self)

	p1 := peerWith(1)
	addr := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 9001}

	assert.True(t, tbl.Insert(p1, addr))
	assert.False(t, tbl.Insert(p1, addr)) // collision, not new

	got, exact := tbl.Search(p1)
	assert.True(t, exact)
	assert.Equal(t, addr, got)

	assert.True(t, tbl.Remove(p1))
	_, exact = tbl.Search(p1)
	assert.False(t, exact)
}

func TestSearchMissReturnsNeighborNotExact(t *testing.T) {
	self := peerWith(0)
	tbl := NewTable(self)
	tbl.Insert(peerWith(5), &net.UDPAddr{Port: 1})

	_, exact := tbl.Search(peerWith(9))
	assert.False(t, exact)
}

func TestTentativeLifecycle(t *testing.T) {
	self := peerWith(0)
	tbl := NewTable(self)
	p := peerWith(3)

	assert.True(t, tbl.AddTmpPeer(p, nil), "first sighting of a peer must be reported as new")
	assert.False(t, tbl.AddTmpPeer(p, nil), "re-announcing an already-tentative peer is not new")
	assert.False(t, tbl.Confirmed(p))

	addr := &net.UDPAddr{Port: 2222}
	assert.True(t, tbl.FixedTmpPeer(p, addr))
	assert.True(t, tbl.Confirmed(p))

	got, exact := tbl.Search(p)
	assert.True(t, exact)
	assert.Equal(t, addr, got)
}

func TestNextHBPeersRefillsWhenEmpty(t *testing.T) {
	self := peerWith(0)
	tbl := NewTable(self)
	addr := &net.UDPAddr{Port: 1}
	tbl.Insert(peerWith(1), addr)

	peer, socket, dead := tbl.NextHBPeers()
	assert.NotNil(t, peer)
	assert.Equal(t, addr, socket)
	assert.Empty(t, dead)

	// pending set now empty for that peer; next call should refill from
	// confirmed peers rather than return nothing.
	peer2, _, _ := tbl.NextHBPeers()
	assert.NotNil(t, peer2)
}

func TestRemovePurgesAllAuxiliaryMaps(t *testing.T) {
	self := peerWith(0)
	tbl := NewTable(self)
	p := peerWith(7)
	tbl.Insert(p, &net.UDPAddr{Port: 1})
	tbl.NextHBPeers() // move into inflight

	tbl.Remove(p)
	assert.False(t, tbl.Confirmed(p))
	_, _, dead := tbl.NextHBPeers()
	assert.NotContains(t, dead, p)
}
