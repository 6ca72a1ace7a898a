// Package crypto wraps the ed25519 signing and SHA3-256 hashing primitives
// used to authenticate every reassembled wire message and to derive event and
// block identifiers. It is kept to the small, hard-to-misuse surface spec.md
// §9 calls for: generate, sign, verify, hash.
package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"io"

	"golang.org/x/crypto/sha3"

	"github.com/CympleTech/TDN-sub000/common"
)

var (
	ErrInvalidSignatureLen = errors.New("crypto: invalid signature length")
	ErrInvalidPublicKeyLen = errors.New("crypto: invalid public key length")
	ErrInvalidPrivateKeyLen = errors.New("crypto: invalid private key length")
)

// Sum256 returns the SHA3-256 digest of data, the canonical hash used to
// derive EventId, BlockId, and the BODY-authentication hash signed over the
// wire (spec.md §3, §4.1).
func Sum256(data ...[]byte) common.Hash {
	h := sha3.New256()
	for _, d := range data {
		h.Write(d)
	}
	var out common.Hash
	h.Sum(out[:0])
	return out
}

// Sum512 returns the SHA3-512 digest, used where a wider digest is wanted
// (e.g. deriving a deterministic seed that shouldn't collide with Sum256
// outputs used elsewhere).
func Sum512(data ...[]byte) []byte {
	h := sha3.New512()
	for _, d := range data {
		h.Write(d)
	}
	return h.Sum(nil)
}

// KeyPair is an ed25519 identity: PeerId is derived directly from the public
// key (spec.md §3 - a PeerId IS the node's public key).
type KeyPair struct {
	Public  ed25519.PublicKey
	Private ed25519.PrivateKey
}

// GenerateKeyPair creates a fresh random identity.
func GenerateKeyPair() (*KeyPair, error) {
	return GenerateKeyPairFrom(rand.Reader)
}

// GenerateKeyPairFrom creates an identity from an arbitrary entropy source,
// so tests can build deterministic fixtures.
func GenerateKeyPairFrom(r io.Reader) (*KeyPair, error) {
	pub, priv, err := ed25519.GenerateKey(r)
	if err != nil {
		return nil, err
	}
	return &KeyPair{Public: pub, Private: priv}, nil
}

// PeerId returns the PeerId this key pair authenticates as.
func (k *KeyPair) PeerId() common.PeerId {
	return common.BytesToPeerId(k.Public)
}

// Sign signs msg and returns a fixed-width Signature.
func (k *KeyPair) Sign(msg []byte) common.Signature {
	sig := ed25519.Sign(k.Private, msg)
	var out common.Signature
	copy(out[:], sig)
	return out
}

// Verify checks that sig is a valid ed25519 signature of msg under pub.
func Verify(pub common.PeerId, msg []byte, sig common.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// PublicKeyFromBytes validates and wraps a raw ed25519 public key.
func PublicKeyFromBytes(b []byte) (ed25519.PublicKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, ErrInvalidPublicKeyLen
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, b)
	return pub, nil
}

// PrivateKeyFromBytes validates and wraps a raw ed25519 private key, used
// when restoring an identity persisted by storage.Store.
func PrivateKeyFromBytes(b []byte) (ed25519.PrivateKey, error) {
	if len(b) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKeyLen
	}
	priv := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(priv, b)
	return priv, nil
}

// KeyPairFromPrivateKey rebuilds a KeyPair from a raw private key, deriving
// the public half from it.
func KeyPairFromPrivateKey(priv ed25519.PrivateKey) (*KeyPair, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return nil, ErrInvalidPrivateKeyLen
	}
	pub := make(ed25519.PublicKey, ed25519.PublicKeySize)
	copy(pub, priv[32:])
	return &KeyPair{Public: pub, Private: priv}, nil
}
