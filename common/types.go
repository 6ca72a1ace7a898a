package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the byte length of every content-addressed identifier in
// this engine: SHA3-256 digests, ed25519 public keys, and group identifiers
// are all exactly 32 bytes.
const HashLength = 32

// SignatureLength is the byte length of an ed25519 signature.
const SignatureLength = 64

// Hash is a 32-byte content digest. PeerId, GroupId, EventId and BlockId are
// all Hash-shaped but kept as distinct types so the compiler catches a
// PeerId accidentally passed where a BlockId is expected.
type Hash [HashLength]byte

func (h Hash) Bytes() []byte   { return h[:] }
func (h Hash) Hex() string     { return "0x" + hex.EncodeToString(h[:]) }
func (h Hash) String() string  { return h.Hex() }
func (h Hash) IsZero() bool    { return h == Hash{} }
func (h Hash) Compare(o Hash) int {
	for i := range h {
		if h[i] != o[i] {
			if h[i] < o[i] {
				return -1
			}
			return 1
		}
	}
	return 0
}

// BytesToHash left-pads or truncates b to HashLength bytes.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

func HexToHash(s string) (Hash, error) {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return Hash{}, err
	}
	if len(b) != HashLength {
		return Hash{}, fmt.Errorf("common: hex string decodes to %d bytes, want %d", len(b), HashLength)
	}
	var h Hash
	copy(h[:], b)
	return h, nil
}

// PeerId is a node's ed25519 public key. It compares by lexicographic byte
// order and doubles as the node's DHT coordinate (spec.md §3).
type PeerId Hash

func (p PeerId) Bytes() []byte       { return p[:] }
func (p PeerId) Hex() string         { return Hash(p).Hex() }
func (p PeerId) String() string      { return p.Hex() }
func (p PeerId) IsZero() bool        { return p == PeerId{} }
func (p PeerId) Compare(o PeerId) int { return Hash(p).Compare(Hash(o)) }

func BytesToPeerId(b []byte) PeerId { return PeerId(BytesToHash(b)) }

// GroupId is an opaque 32-byte tag. All P2P traffic carries one; a node
// drops any datagram for a group it hasn't joined (spec.md §3, §4.1).
type GroupId Hash

func (g GroupId) Bytes() []byte  { return g[:] }
func (g GroupId) Hex() string    { return Hash(g).Hex() }
func (g GroupId) String() string { return g.Hex() }
func (g GroupId) IsZero() bool   { return g == GroupId{} }

func BytesToGroupId(b []byte) GroupId { return GroupId(BytesToHash(b)) }

// EventId is the SHA3-256 hash of a consensus Event's canonical bytes plus
// creator plus signature (spec.md §3).
type EventId Hash

func (e EventId) Bytes() []byte  { return e[:] }
func (e EventId) Hex() string    { return Hash(e).Hex() }
func (e EventId) String() string { return e.Hex() }
func (e EventId) IsZero() bool   { return e == EventId{} }

func BytesToEventId(b []byte) EventId { return EventId(BytesToHash(b)) }

// BlockId is the SHA3-256 hash of a Block's canonical bytes (spec.md §3).
type BlockId Hash

func (b BlockId) Bytes() []byte  { return b[:] }
func (b BlockId) Hex() string    { return Hash(b).Hex() }
func (b BlockId) String() string { return b.Hex() }
func (b BlockId) IsZero() bool   { return b == BlockId{} }

func BytesToBlockId(b []byte) BlockId { return BlockId(BytesToHash(b)) }

// Signature is a raw ed25519 signature.
type Signature [SignatureLength]byte

func (s Signature) Bytes() []byte { return s[:] }
func (s Signature) IsZero() bool  { return s == Signature{} }

func BytesToSignature(b []byte) (Signature, error) {
	var s Signature
	if len(b) != SignatureLength {
		return s, fmt.Errorf("common: signature must be %d bytes, got %d", SignatureLength, len(b))
	}
	copy(s[:], b)
	return s, nil
}
