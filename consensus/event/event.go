// Package event defines the consensus-layer data model shared by the
// gossip and PBFT engines: Event, its message variants, and Block
// (spec.md §3). Both EventId and BlockId are SHA3-256 hashes over each
// entity's canonical byte encoding, produced through wire's canonical
// encoder the same way HEAD/BODY hashing is, so the bytes a peer hashes to
// verify a signature are always the bytes the signer actually signed.
package event

import (
	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/crypto"
	"github.com/CympleTech/TDN-sub000/wire"
)

// Kind tags which variant of the consensus message union an Event carries.
type Kind byte

const (
	KindTx Kind = iota
	KindBlock
	KindVerify
	KindCommit
	KindSync
	KindBlockReq
	KindBlockRes
	KindLeader
	KindHeartBeat
)

// Event is one immutable consensus-layer message (spec.md §3).
type Event struct {
	Id        common.EventId
	Creator   common.PeerId
	Signature common.Signature

	Kind Kind

	// KindTx
	Tx []byte

	// KindBlock
	Block *Block

	// KindVerify, KindCommit, KindBlockReq
	BlockId common.BlockId

	// KindSync
	Height uint64

	// KindBlockRes
	BlockRes *Block // nil means None

	// KindLeader
	LeaderCandidate common.PeerId
	LeaderIndex     uint64
}

// Block is one committed unit of ordered events (spec.md §3).
type Block struct {
	Id        common.BlockId
	Blocker   common.PeerId
	Signature common.Signature
	Events    []Event
	Previous  common.BlockId
	Height    uint64
	Timestamp int64
}

// IsEffective reports whether an Event's message is application data that
// belongs inside a block - only Tx events are (spec.md §4.6: "only events
// whose message is 'effective' ... are included").
func (e Event) IsEffective() bool { return e.Kind == KindTx }

// canonicalBytes encodes the fields of a message variant that participate
// in its signature, excluding Id/Creator/Signature themselves.
func (e Event) canonicalBytes() []byte {
	enc := wire.NewEncoder()
	enc.Byte(byte(e.Kind))
	switch e.Kind {
	case KindTx:
		enc.VarBytes(e.Tx)
	case KindBlock:
		enc.Fixed(e.Block.canonicalBytes())
	case KindVerify, KindCommit, KindBlockReq:
		enc.Fixed(e.BlockId[:])
	case KindSync:
		enc.Uint64(e.Height)
	case KindBlockRes:
		if e.BlockRes == nil {
			enc.Byte(0)
		} else {
			enc.Byte(1)
			enc.Fixed(e.BlockRes.canonicalBytes())
		}
	case KindLeader:
		enc.Fixed(e.LeaderCandidate[:])
		enc.Uint64(e.LeaderIndex)
	case KindHeartBeat:
		// no payload
	}
	return enc.Bytes()
}

// newEvent builds and signs an Event of the given shape, deriving its Id
// from the creator's signature over the canonical message bytes.
func newEvent(kp *crypto.KeyPair, build func(*Event)) Event {
	var e Event
	build(&e)
	e.Creator = kp.PeerId()
	body := e.canonicalBytes()
	digest := crypto.Sum256(body, e.Creator[:])
	e.Signature = kp.Sign(digest[:])
	e.Id = common.EventId(crypto.Sum256(digest[:], e.Signature[:]))
	return e
}

func NewTx(kp *crypto.KeyPair, data []byte) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindTx; e.Tx = data })
}

func NewBlockEvent(kp *crypto.KeyPair, b *Block) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindBlock; e.Block = b })
}

func NewVerify(kp *crypto.KeyPair, id common.BlockId) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindVerify; e.BlockId = id })
}

func NewCommit(kp *crypto.KeyPair, id common.BlockId) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindCommit; e.BlockId = id })
}

func NewSync(kp *crypto.KeyPair, height uint64) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindSync; e.Height = height })
}

func NewBlockReq(kp *crypto.KeyPair, id common.BlockId) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindBlockReq; e.BlockId = id })
}

func NewBlockRes(kp *crypto.KeyPair, b *Block) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindBlockRes; e.BlockRes = b })
}

func NewLeader(kp *crypto.KeyPair, candidate common.PeerId, index uint64) Event {
	return newEvent(kp, func(e *Event) {
		e.Kind = KindLeader
		e.LeaderCandidate = candidate
		e.LeaderIndex = index
	})
}

func NewHeartBeat(kp *crypto.KeyPair) Event {
	return newEvent(kp, func(e *Event) { e.Kind = KindHeartBeat })
}

// Verify checks an Event's signature and recomputes its Id, rejecting any
// Event whose Id doesn't match its own canonical bytes.
func Verify(e Event) bool {
	digest := crypto.Sum256(e.canonicalBytes(), e.Creator[:])
	if !crypto.Verify(e.Creator, digest[:], e.Signature) {
		return false
	}
	want := common.EventId(crypto.Sum256(digest[:], e.Signature[:]))
	return want == e.Id
}

// canonicalBytes encodes the fields of a Block that participate in its Id
// and signature (spec.md §3: id == H(events || blocker || previous ||
// height || signature || timestamp); signature itself is computed first
// and folded into the Id hash, matching the spec's stated composition).
func (b *Block) canonicalBytes() []byte {
	enc := wire.NewEncoder()
	enc.Slice(len(b.Events), func(e *wire.Encoder, i int) {
		e.VarBytes(b.Events[i].canonicalBytes())
		e.Fixed(b.Events[i].Creator[:])
		e.Fixed(b.Events[i].Signature[:])
	})
	enc.Fixed(b.Blocker[:])
	enc.Fixed(b.Previous[:])
	enc.Uint64(b.Height)
	enc.Uint64(uint64(b.Timestamp))
	return enc.Bytes()
}

// NewBlock builds, signs, and hashes a Block.
func NewBlock(kp *crypto.KeyPair, events []Event, previous common.BlockId, height uint64, timestamp int64) *Block {
	b := &Block{
		Blocker:   kp.PeerId(),
		Events:    events,
		Previous:  previous,
		Height:    height,
		Timestamp: timestamp,
	}
	body := b.canonicalBytes()
	digest := crypto.Sum256(body)
	b.Signature = kp.Sign(digest[:])
	b.Id = common.BlockId(crypto.Sum256(digest[:], b.Signature[:]))
	return b
}

// VerifyBlock checks a Block's blocker signature and recomputed Id.
func VerifyBlock(b *Block) bool {
	digest := crypto.Sum256(b.canonicalBytes())
	if !crypto.Verify(b.Blocker, digest[:], b.Signature) {
		return false
	}
	want := common.BlockId(crypto.Sum256(digest[:], b.Signature[:]))
	return want == b.Id
}
