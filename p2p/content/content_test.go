package content

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CympleTech/TDN-sub000/common"
)

func TestHeartBeatRoundTrip(t *testing.T) {
	raw := Encode(HeartBeat())
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindHeartBeat, got.Kind)
}

func TestDHTRoundTrip(t *testing.T) {
	var p1, p2 common.PeerId
	p1[0], p2[0] = 1, 2
	peers := []PeerSocket{
		{Peer: p1, Socket: &net.UDPAddr{IP: net.ParseIP("10.0.0.1"), Port: 7364}},
		{Peer: p2, Socket: &net.UDPAddr{IP: net.ParseIP("::1"), Port: 9000}},
	}

	raw := Encode(DHT(peers))
	got, err := Decode(raw)
	require.NoError(t, err)
	require.Len(t, got.Peers, 2)
	assert.Equal(t, p1, got.Peers[0].Peer)
	assert.Equal(t, 7364, got.Peers[0].Socket.Port)
	assert.Equal(t, 9000, got.Peers[1].Socket.Port)
}

func TestHoleRoundTrip(t *testing.T) {
	var p common.PeerId
	p[5] = 0x42
	addr := &net.UDPAddr{IP: net.ParseIP("203.0.113.9"), Port: 4444}

	raw := Encode(Hole(p, addr))
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindHole, got.Kind)
	assert.Equal(t, p, got.HolePeer)
	assert.Equal(t, 4444, got.HoleSocket.Port)
}

func TestJoinEventRoundTrip(t *testing.T) {
	raw := Encode(Join([]byte("hello")))
	got, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got.Payload)

	raw = Encode(Event([]byte("evt-bytes")))
	got, err = Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, KindEvent, got.Kind)
	assert.Equal(t, []byte("evt-bytes"), got.Payload)
}
