package event

import (
	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/wire"
)

// Encode serializes a full Event - including the Id/Creator/Signature
// fields canonicalBytes excludes - for wire transport and for persistence
// inside a committed Block.
func Encode(e Event) []byte {
	enc := wire.NewEncoder()
	enc.Fixed(e.Id[:])
	enc.Fixed(e.Creator[:])
	enc.Fixed(e.Signature[:])
	enc.Byte(byte(e.Kind))
	switch e.Kind {
	case KindTx:
		enc.VarBytes(e.Tx)
	case KindBlock:
		if e.Block == nil {
			enc.Byte(0)
		} else {
			enc.Byte(1)
			enc.VarBytes(EncodeBlock(e.Block))
		}
	case KindVerify, KindCommit, KindBlockReq:
		enc.Fixed(e.BlockId[:])
	case KindSync:
		enc.Uint64(e.Height)
	case KindBlockRes:
		if e.BlockRes == nil {
			enc.Byte(0)
		} else {
			enc.Byte(1)
			enc.VarBytes(EncodeBlock(e.BlockRes))
		}
	case KindLeader:
		enc.Fixed(e.LeaderCandidate[:])
		enc.Uint64(e.LeaderIndex)
	case KindHeartBeat:
		// no payload
	}
	return enc.Bytes()
}

// Decode parses an Event produced by Encode. It does not verify the
// signature - callers that need authentication call Verify separately.
func Decode(raw []byte) (Event, error) {
	dec := wire.NewDecoder(raw)
	var e Event

	idBytes, err := dec.Fixed(common.HashLength)
	if err != nil {
		return e, err
	}
	copy(e.Id[:], idBytes)

	creatorBytes, err := dec.Fixed(common.HashLength)
	if err != nil {
		return e, err
	}
	copy(e.Creator[:], creatorBytes)

	sigBytes, err := dec.Fixed(common.SignatureLength)
	if err != nil {
		return e, err
	}
	copy(e.Signature[:], sigBytes)

	kindByte, err := dec.Byte()
	if err != nil {
		return e, err
	}
	e.Kind = Kind(kindByte)

	switch e.Kind {
	case KindTx:
		e.Tx, err = dec.VarBytes()
	case KindBlock:
		e.Block, err = decodeOptionalBlock(dec)
	case KindVerify, KindCommit, KindBlockReq:
		var raw []byte
		raw, err = dec.Fixed(common.HashLength)
		if err == nil {
			copy(e.BlockId[:], raw)
		}
	case KindSync:
		e.Height, err = dec.Uint64()
	case KindBlockRes:
		e.BlockRes, err = decodeOptionalBlock(dec)
	case KindLeader:
		var raw []byte
		raw, err = dec.Fixed(common.HashLength)
		if err == nil {
			copy(e.LeaderCandidate[:], raw)
			e.LeaderIndex, err = dec.Uint64()
		}
	case KindHeartBeat:
		// no payload
	}
	if err != nil {
		return Event{}, err
	}
	return e, nil
}

func decodeOptionalBlock(dec *wire.Decoder) (*Block, error) {
	present, err := dec.Byte()
	if err != nil {
		return nil, err
	}
	if present == 0 {
		return nil, nil
	}
	raw, err := dec.VarBytes()
	if err != nil {
		return nil, err
	}
	return DecodeBlock(raw)
}

// EncodeBlock/DecodeBlock persist a full Block including its Events, unlike
// canonicalBytes which only covers the signature-relevant fields. raw is
// unframed - callers needing a length prefix (an enclosing Event, or a
// storage key's value) add one with VarBytes themselves.
func EncodeBlock(b *Block) []byte {
	enc := wire.NewEncoder()
	enc.Fixed(b.Id[:])
	enc.Fixed(b.Blocker[:])
	enc.Fixed(b.Signature[:])
	enc.Fixed(b.Previous[:])
	enc.Uint64(b.Height)
	enc.Uint64(uint64(b.Timestamp))
	enc.Slice(len(b.Events), func(e *wire.Encoder, i int) {
		e.VarBytes(Encode(b.Events[i]))
	})
	return enc.Bytes()
}

func DecodeBlock(raw []byte) (*Block, error) {
	dec := wire.NewDecoder(raw)
	b := &Block{}

	idBytes, err := dec.Fixed(common.HashLength)
	if err != nil {
		return nil, err
	}
	copy(b.Id[:], idBytes)

	blockerBytes, err := dec.Fixed(common.HashLength)
	if err != nil {
		return nil, err
	}
	copy(b.Blocker[:], blockerBytes)

	sigBytes, err := dec.Fixed(common.SignatureLength)
	if err != nil {
		return nil, err
	}
	copy(b.Signature[:], sigBytes)

	prevBytes, err := dec.Fixed(common.HashLength)
	if err != nil {
		return nil, err
	}
	copy(b.Previous[:], prevBytes)

	b.Height, err = dec.Uint64()
	if err != nil {
		return nil, err
	}
	ts, err := dec.Uint64()
	if err != nil {
		return nil, err
	}
	b.Timestamp = int64(ts)

	err = dec.Slice(func(d *wire.Decoder, i int) error {
		evtRaw, err := d.VarBytes()
		if err != nil {
			return err
		}
		evt, err := Decode(evtRaw)
		if err != nil {
			return err
		}
		b.Events = append(b.Events, evt)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return b, nil
}
