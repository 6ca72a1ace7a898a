package pbft

import (
	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/consensus/event"
	"github.com/CympleTech/TDN-sub000/wire"
)

// encodeBlock/decodeBlock persist a full Block (including its Events) to
// storage - delegates to event.EncodeBlock/DecodeBlock, the same codec the
// wire transport uses for KindBlock/KindBlockRes payloads, so a block's
// on-disk representation and its wire representation never drift apart.
func encodeBlock(b *event.Block) []byte {
	return event.EncodeBlock(b)
}

func decodeBlock(raw []byte) (*event.Block, bool) {
	b, err := event.DecodeBlock(raw)
	if err != nil {
		return nil, false
	}
	return b, true
}

// encodeBlockIdList/decodeBlockIdList persist the per-owner chain index:
// an ordered list of committed BlockIds, oldest first.
func encodeBlockIdList(ids []common.BlockId) []byte {
	enc := wire.NewEncoder()
	enc.Slice(len(ids), func(e *wire.Encoder, i int) {
		e.Fixed(ids[i][:])
	})
	return enc.Bytes()
}

func decodeBlockIdList(raw []byte) []common.BlockId {
	dec := wire.NewDecoder(raw)
	var ids []common.BlockId
	err := dec.Slice(func(d *wire.Decoder, i int) error {
		b, err := d.Fixed(common.HashLength)
		if err != nil {
			return err
		}
		var id common.BlockId
		copy(id[:], b)
		ids = append(ids, id)
		return nil
	})
	if err != nil {
		return nil
	}
	return ids
}
