package wire

import (
	"encoding/binary"
	"errors"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/crypto"
)

// HeadLen is the fixed size of the HEAD section that precedes every
// reassembled message's BODY (spec.md §4.1). Unlike BODY, HEAD is a
// fixed-offset binary layout, not a generic-serialization problem, so it is
// hand-coded with encoding/binary rather than routed through the canonical
// encoder below.
const HeadLen = 4 + 2 + 32 + 32 + 32 + 64

// ProtocolVersion is the only wire version this engine emits or accepts.
// spec.md §6: unknown versions are silently dropped.
const ProtocolVersion uint16 = 1

var (
	ErrHeadTooShort      = errors.New("wire: message shorter than HEAD")
	ErrBodyLengthMismatch = errors.New("wire: body_len does not match trailing bytes")
	ErrUnsupportedVersion = errors.New("wire: unsupported protocol version")
)

// Head is the fixed 166-byte (HeadLen) preamble of a reassembled logical
// message.
type Head struct {
	BodyLen   uint32
	Version   uint16
	GroupId   common.GroupId
	From      common.PeerId
	To        common.PeerId
	Signature common.Signature
}

// Message is a complete authenticated datagram: HEAD plus the BODY bytes it
// describes.
type Message struct {
	Head Head
	Body []byte
}

// Encode lays out HEAD followed by BODY, computing BodyLen from len(body).
// It does not sign; callers use Sign to produce a Message ready to encode.
func Encode(group common.GroupId, from, to common.PeerId, sig common.Signature, body []byte) []byte {
	buf := make([]byte, HeadLen+len(body))
	binary.BigEndian.PutUint32(buf[0:4], uint32(len(body)))
	binary.BigEndian.PutUint16(buf[4:6], ProtocolVersion)
	copy(buf[6:38], group[:])
	copy(buf[38:70], from[:])
	copy(buf[70:102], to[:])
	copy(buf[102:166], sig[:])
	copy(buf[166:], body)
	return buf
}

// Sign computes the BODY hash and signs it with kp, then encodes the full
// message (spec.md §4.1: "signature is an ed25519 signature by from_pubkey
// over the SHA3-256 hash of the serialized BODY").
func Sign(kp *crypto.KeyPair, group common.GroupId, to common.PeerId, body []byte) []byte {
	h := crypto.Sum256(body)
	sig := kp.Sign(h[:])
	return Encode(group, kp.PeerId(), to, sig, body)
}

// Decode parses and authenticates a reassembled message. self is the
// receiving node's own PeerId and joined reports whether the node has
// joined a given group; both checks implement spec.md §4.1's delivery
// guarantees (b)-(c) and group membership (a). The signature check (d) is
// always performed.
func Decode(raw []byte, self common.PeerId, joined func(common.GroupId) bool) (Message, error) {
	if len(raw) < HeadLen {
		return Message{}, ErrHeadTooShort
	}
	bodyLen := binary.BigEndian.Uint32(raw[0:4])
	version := binary.BigEndian.Uint16(raw[4:6])
	if int(bodyLen) != len(raw)-HeadLen {
		return Message{}, ErrBodyLengthMismatch
	}
	if version != ProtocolVersion {
		return Message{}, ErrUnsupportedVersion
	}

	var head Head
	head.BodyLen = bodyLen
	head.Version = version
	copy(head.GroupId[:], raw[6:38])
	copy(head.From[:], raw[38:70])
	copy(head.To[:], raw[70:102])
	copy(head.Signature[:], raw[102:166])
	body := append([]byte(nil), raw[166:]...)

	if joined != nil && !joined(head.GroupId) {
		return Message{}, errGroupNotJoined
	}
	if head.To != self {
		return Message{}, errNotAddressedToSelf
	}
	if head.From == self {
		return Message{}, errSelfOriginated
	}
	digest := crypto.Sum256(body)
	if !crypto.Verify(head.From, digest[:], head.Signature) {
		return Message{}, errBadSignature
	}

	return Message{Head: head, Body: body}, nil
}

var (
	errGroupNotJoined      = errors.New("wire: message group not joined")
	errNotAddressedToSelf  = errors.New("wire: message not addressed to this peer")
	errSelfOriginated      = errors.New("wire: message claims to originate from self")
	errBadSignature        = errors.New("wire: body signature does not verify")
)
