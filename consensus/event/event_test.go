package event

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/CympleTech/TDN-sub000/crypto"
)

func TestTxEventVerifies(t *testing.T) {
	kp, err := crypto.GenerateKeyPair()
	require.NoError(t, err)

	e := NewTx(kp, []byte("payload"))
	assert.True(t, Verify(e))
	assert.True(t, e.IsEffective())
}

func TestTamperedEventFailsVerify(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	e := NewTx(kp, []byte("payload"))
	e.Tx = []byte("tampered")
	assert.False(t, Verify(e))
}

func TestNonTxEventIsNotEffective(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	e := NewHeartBeat(kp)
	assert.False(t, e.IsEffective())
}

func TestBlockRoundTrip(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	tx := NewTx(kp, []byte("a"))

	var previous [32]byte
	b := NewBlock(kp, []Event{tx}, previous, 1, time.Now().Unix())
	assert.True(t, VerifyBlock(b))
}

func TestTamperedBlockFailsVerify(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	var previous [32]byte
	b := NewBlock(kp, nil, previous, 1, time.Now().Unix())
	b.Height = 2
	assert.False(t, VerifyBlock(b))
}

func TestEventEncodeDecodeRoundTrip(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	tx := NewTx(kp, []byte("payload"))

	raw := Encode(tx)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, tx.Id, decoded.Id)
	assert.Equal(t, tx.Tx, decoded.Tx)
	assert.True(t, Verify(decoded))
}

func TestBlockEventEncodeDecodeRoundTrip(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	tx := NewTx(kp, []byte("a"))
	var previous [32]byte
	b := NewBlock(kp, []Event{tx}, previous, 1, time.Now().Unix())
	blockEvt := NewBlockEvent(kp, b)

	raw := Encode(blockEvt)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.NotNil(t, decoded.Block)
	assert.Equal(t, b.Id, decoded.Block.Id)
	assert.Len(t, decoded.Block.Events, 1)
	assert.True(t, VerifyBlock(decoded.Block))
}

func TestLeaderEventEncodeDecodeRoundTrip(t *testing.T) {
	kp, _ := crypto.GenerateKeyPair()
	candidate, _ := crypto.GenerateKeyPair()
	evt := NewLeader(kp, candidate.PeerId(), 42)

	raw := Encode(evt)
	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, candidate.PeerId(), decoded.LeaderCandidate)
	assert.Equal(t, uint64(42), decoded.LeaderIndex)
}
