// Package content defines the BODY tagged union carried inside every wire
// message once its HEAD has been stripped and verified: heartbeats, DHT
// gossip, hole-punch negotiation, and group join/leave/event notifications
// (spec.md §4.3).
package content

import (
	"net"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/wire"
)

// Kind tags which variant a Content value holds.
type Kind byte

const (
	KindHeartBeat Kind = iota
	KindHeartBeatOk
	KindDHT
	KindHole
	KindHolePunching
	KindHolePunchingOk
	KindJoin
	KindLeave
	KindEvent
)

// PeerSocket pairs a PeerId with the socket address it was last reachable
// at, the unit DHT gossip exchanges (spec.md §4.3's DHT variant).
type PeerSocket struct {
	Peer   common.PeerId
	Socket *net.UDPAddr
}

// Content is the decoded form of a message BODY. Exactly one field group is
// meaningful per Kind; Encode/Decode only look at the fields relevant to Kind.
type Content struct {
	Kind Kind

	// DHT
	Peers []PeerSocket

	// Hole target
	HolePeer   common.PeerId
	HoleSocket *net.UDPAddr

	// Join, Event
	Payload []byte
}

func HeartBeat() Content          { return Content{Kind: KindHeartBeat} }
func HeartBeatOk() Content        { return Content{Kind: KindHeartBeatOk} }
func DHT(peers []PeerSocket) Content {
	return Content{Kind: KindDHT, Peers: peers}
}
func Hole(peer common.PeerId, socket *net.UDPAddr) Content {
	return Content{Kind: KindHole, HolePeer: peer, HoleSocket: socket}
}
func HolePunching() Content   { return Content{Kind: KindHolePunching} }
func HolePunchingOk() Content { return Content{Kind: KindHolePunchingOk} }
func Join(payload []byte) Content {
	return Content{Kind: KindJoin, Payload: payload}
}
func Leave() Content { return Content{Kind: KindLeave} }
func Event(payload []byte) Content {
	return Content{Kind: KindEvent, Payload: payload}
}

// Encode canonically serializes a Content for inclusion as a message BODY.
func Encode(c Content) []byte {
	e := wire.NewEncoder()
	e.Byte(byte(c.Kind))
	switch c.Kind {
	case KindDHT:
		e.Slice(len(c.Peers), func(e *wire.Encoder, i int) {
			p := c.Peers[i]
			e.Fixed(p.Peer[:])
			encodeAddr(e, p.Socket)
		})
	case KindHole:
		e.Fixed(c.HolePeer[:])
		encodeAddr(e, c.HoleSocket)
	case KindJoin, KindEvent:
		e.VarBytes(c.Payload)
	case KindHeartBeat, KindHeartBeatOk, KindHolePunching, KindHolePunchingOk, KindLeave:
		// no payload
	}
	return e.Bytes()
}

// Decode parses a message BODY produced by Encode.
func Decode(b []byte) (Content, error) {
	d := wire.NewDecoder(b)
	kindByte, err := d.Byte()
	if err != nil {
		return Content{}, err
	}
	c := Content{Kind: Kind(kindByte)}

	switch c.Kind {
	case KindDHT:
		err = d.Slice(func(d *wire.Decoder, i int) error {
			var id common.PeerId
			raw, err := d.Fixed(common.HashLength)
			if err != nil {
				return err
			}
			copy(id[:], raw)
			addr, err := decodeAddr(d)
			if err != nil {
				return err
			}
			c.Peers = append(c.Peers, PeerSocket{Peer: id, Socket: addr})
			return nil
		})
	case KindHole:
		raw, ferr := d.Fixed(common.HashLength)
		if ferr != nil {
			return Content{}, ferr
		}
		copy(c.HolePeer[:], raw)
		c.HoleSocket, err = decodeAddr(d)
	case KindJoin, KindEvent:
		c.Payload, err = d.VarBytes()
	case KindHeartBeat, KindHeartBeatOk, KindHolePunching, KindHolePunchingOk, KindLeave:
		// no payload
	}
	if err != nil {
		return Content{}, err
	}
	if rerr := d.ReadFull(); rerr != nil {
		return Content{}, rerr
	}
	return c, nil
}

// encodeAddr canonically writes a UDP socket address as a 16-byte IPv6 form
// (IPv4 addresses are encoded as their v4-in-v6 representation) plus a
// 32-bit port field, so DHT and Hole payloads have a single fixed-width shape
// regardless of address family.
func encodeAddr(e *wire.Encoder, addr *net.UDPAddr) {
	var ip [16]byte
	var port uint32
	if addr != nil {
		copy(ip[:], addr.IP.To16())
		port = uint32(addr.Port)
	}
	e.Fixed(ip[:])
	e.Uint32(port)
}

func decodeAddr(d *wire.Decoder) (*net.UDPAddr, error) {
	ipBytes, err := d.Fixed(16)
	if err != nil {
		return nil, err
	}
	port, err := d.Uint32()
	if err != nil {
		return nil, err
	}
	ip := make(net.IP, 16)
	copy(ip, ipBytes)
	if ip.IsUnspecified() && port == 0 {
		return nil, nil
	}
	return &net.UDPAddr{IP: ip, Port: int(port)}, nil
}
