package wire

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/crypto"
)

func TestFragmentReassembleRoundTrip(t *testing.T) {
	// FragmentMessage snappy-compresses first, so the message must be
	// incompressible to still span several fragments afterwards.
	msg := make([]byte, 200000)
	rand.New(rand.NewSource(1)).Read(msg)

	frags, err := FragmentMessage(msg)
	require.NoError(t, err)
	require.True(t, len(frags) > 1, "expected message to span multiple fragments")

	r, err := NewReassembler(10000, 0.001)
	require.NoError(t, err)

	var got []byte
	var ok bool
	for _, f := range frags {
		raw := f.Encode()
		decoded, derr := DecodeFragment(raw)
		require.NoError(t, derr)

		got, ok, err = r.Feed(decoded)
		require.NoError(t, err)
	}
	assert.True(t, ok)
	assert.Equal(t, msg, got)
}

func TestReassemblerDropsDuplicateChain(t *testing.T) {
	msg := []byte("heartbeat")
	frags, err := FragmentMessage(msg)
	require.NoError(t, err)

	r, err := NewReassembler(1000, 0.01)
	require.NoError(t, err)

	_, ok, err := r.Feed(frags[0])
	require.NoError(t, err)
	assert.True(t, ok)

	// Feeding the identical completed single-fragment chain again must be
	// recognized as a duplicate rather than re-delivered.
	_, ok, err = r.Feed(frags[0])
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestHeadEncodeDecodeRoundTrip(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)
	to, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	var group common.GroupId
	group[0] = 0x42

	body := []byte("join-request-payload")
	raw := Sign(kp, group, to.PeerId(), body)

	msg, err := Decode(raw, to.PeerId(), func(g common.GroupId) bool { return g == group })
	require.NoError(t, err)
	assert.Equal(t, body, msg.Body)
	assert.Equal(t, kp.PeerId(), msg.Head.From)
	assert.Equal(t, to.PeerId(), msg.Head.To)
}

func TestDecodeRejectsWrongRecipient(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	to, _ := crypto.GenerateKeyPair()
	other, _ := crypto.GenerateKeyPair()

	var group common.GroupId
	raw := Sign(kp, group, to.PeerId(), []byte("data"))

	_, err := Decode(raw, other.PeerId(), func(common.GroupId) bool { return true })
	assert.Error(t, err)
}

func TestDecodeRejectsUnjoinedGroup(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	to, _ := crypto.GenerateKeyPair()

	var group common.GroupId
	raw := Sign(kp, group, to.PeerId(), []byte("data"))

	_, err := Decode(raw, to.PeerId(), func(common.GroupId) bool { return false })
	assert.Error(t, err)
}

func TestCanonicalEncodingRoundTrip(t *testing.T) {
	e := NewEncoder()
	e.Byte(7).Uint32(42).VarBytes([]byte("hello")).Slice(3, func(e *Encoder, i int) {
		e.Uint32(uint32(i))
	})

	d := NewDecoder(e.Bytes())
	tag, err := d.Byte()
	require.NoError(t, err)
	assert.Equal(t, byte(7), tag)

	n, err := d.Uint32()
	require.NoError(t, err)
	assert.Equal(t, uint32(42), n)

	vb, err := d.VarBytes()
	require.NoError(t, err)
	assert.Equal(t, "hello", string(vb))

	var elems []uint32
	err = d.Slice(func(d *Decoder, i int) error {
		v, err := d.Uint32()
		elems = append(elems, v)
		return err
	})
	require.NoError(t, err)
	assert.Equal(t, []uint32{0, 1, 2}, elems)
	assert.NoError(t, d.ReadFull())
}
