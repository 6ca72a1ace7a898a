package gossip

import (
	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/wire"
)

// EncodeMessage serializes a GossipMessage for wire transport, mirroring
// consensus/event's canonical length-prefixed encoding so the two codecs
// share one decoding discipline across the module.
func EncodeMessage(msg GossipMessage) []byte {
	enc := wire.NewEncoder()
	enc.Fixed(msg.From[:])
	enc.Fixed(msg.EventId[:])
	encodeSeeMap(enc, msg.SeeMap)
	return enc.Bytes()
}

// DecodeMessage parses a GossipMessage produced by EncodeMessage.
func DecodeMessage(raw []byte) (GossipMessage, error) {
	dec := wire.NewDecoder(raw)
	var msg GossipMessage

	fromBytes, err := dec.Fixed(common.HashLength)
	if err != nil {
		return msg, err
	}
	copy(msg.From[:], fromBytes)

	idBytes, err := dec.Fixed(common.HashLength)
	if err != nil {
		return msg, err
	}
	copy(msg.EventId[:], idBytes)

	seeMap, err := decodeSeeMap(dec)
	if err != nil {
		return msg, err
	}
	msg.SeeMap = seeMap
	return msg, nil
}

func encodeSeeMap(enc *wire.Encoder, m SeeMap) {
	witnesses := make([]common.PeerId, 0, len(m))
	for w := range m {
		witnesses = append(witnesses, w)
	}
	enc.Slice(len(witnesses), func(e *wire.Encoder, i int) {
		w := witnesses[i]
		e.Fixed(w[:])
		inner := m[w]
		observed := make([]common.PeerId, 0, len(inner))
		for p := range inner {
			observed = append(observed, p)
		}
		e.Slice(len(observed), func(e *wire.Encoder, j int) {
			p := observed[j]
			e.Fixed(p[:])
			sigs := inner[p]
			signers := make([]common.PeerId, 0, len(sigs))
			for s := range sigs {
				signers = append(signers, s)
			}
			e.Slice(len(signers), func(e *wire.Encoder, k int) {
				s := signers[k]
				e.Fixed(s[:])
				e.Fixed(sigs[s][:])
			})
		})
	})
}

func decodeSeeMap(dec *wire.Decoder) (SeeMap, error) {
	m := newSeeMap()
	err := dec.Slice(func(d *wire.Decoder, i int) error {
		wBytes, err := d.Fixed(common.HashLength)
		if err != nil {
			return err
		}
		var w common.PeerId
		copy(w[:], wBytes)

		return d.Slice(func(d *wire.Decoder, j int) error {
			pBytes, err := d.Fixed(common.HashLength)
			if err != nil {
				return err
			}
			var p common.PeerId
			copy(p[:], pBytes)

			return d.Slice(func(d *wire.Decoder, k int) error {
				sBytes, err := d.Fixed(common.HashLength)
				if err != nil {
					return err
				}
				var s common.PeerId
				copy(s[:], sBytes)

				sigBytes, err := d.Fixed(common.SignatureLength)
				if err != nil {
					return err
				}
				var sig common.Signature
				copy(sig[:], sigBytes)

				m.insert(w, p, s, sig)
				return nil
			})
		})
	})
	if err != nil {
		return nil, err
	}
	return m, nil
}
