package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutGetHasDelete(t *testing.T) {
	s := NewMemoryStore()

	ok, err := s.Has(NamespaceBlock, []byte("k1"))
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.Put(NamespaceBlock, []byte("k1"), []byte("v1")))

	ok, err = s.Has(NamespaceBlock, []byte("k1"))
	require.NoError(t, err)
	assert.True(t, ok)

	v, err := s.Get(NamespaceBlock, []byte("k1"))
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), v)

	require.NoError(t, s.Delete(NamespaceBlock, []byte("k1")))
	_, err = s.Get(NamespaceBlock, []byte("k1"))
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreNamespacesDoNotCollide(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(NamespaceChain, []byte("x"), []byte("chain")))
	require.NoError(t, s.Put(NamespaceData, []byte("x"), []byte("data")))

	v, err := s.Get(NamespaceChain, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("chain"), v)

	v, err = s.Get(NamespaceData, []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, []byte("data"), v)
}

func TestMemoryStoreIteratePrefix(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.Put(NamespaceDHT, []byte("group1/peerA"), []byte("1")))
	require.NoError(t, s.Put(NamespaceDHT, []byte("group1/peerB"), []byte("2")))
	require.NoError(t, s.Put(NamespaceDHT, []byte("group2/peerA"), []byte("3")))

	seen := map[string]bool{}
	err := s.Iterate(NamespaceDHT, []byte("group1/"), func(k, v []byte) bool {
		seen[string(k)] = true
		return true
	})
	require.NoError(t, err)
	assert.Len(t, seen, 2)
	assert.False(t, seen["group2/peerA"])
}
