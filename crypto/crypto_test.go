package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	assert.NoError(t, err)

	msg := []byte("hole punching request")
	sig := kp.Sign(msg)

	assert.True(t, Verify(kp.PeerId(), msg, sig))
	assert.False(t, Verify(kp.PeerId(), []byte("tampered"), sig))
}

func TestVerifyRejectsWrongSigner(t *testing.T) {
	kp1, _ := GenerateKeyPair()
	kp2, _ := GenerateKeyPair()

	msg := []byte("heartbeat")
	sig := kp1.Sign(msg)

	assert.False(t, Verify(kp2.PeerId(), msg, sig))
}

func TestSum256Deterministic(t *testing.T) {
	a := Sum256([]byte("a"), []byte("b"))
	b := Sum256([]byte("ab"))
	assert.Equal(t, a, b)

	c := Sum256([]byte("ac"))
	assert.NotEqual(t, a, c)
}

func TestKeyPairFromPrivateKeyRoundTrip(t *testing.T) {
	kp, err := GenerateKeyPair()
	assert.NoError(t, err)

	restored, err := KeyPairFromPrivateKey(kp.Private)
	assert.NoError(t, err)
	assert.Equal(t, kp.PeerId(), restored.PeerId())
}
