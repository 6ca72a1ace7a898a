// Package storage defines the persistence contract this engine's
// components share: a namespaced key/value Store with leveldb, badger, and
// in-memory backends. Grounded on the teacher's
// `storage/database/{leveldb_database,badger_database}.go` Put/Get/Delete/
// Has shape, pared down from the teacher's enormous blockchain-specific
// DBManager interface to the four keyspaces this engine's spec actually
// needs (spec.md §6): chain state, block bodies, the DHT routing table
// snapshot, and opaque application data.
package storage

import (
	"errors"
)

// ErrNotFound is returned by Get when the key does not exist.
var ErrNotFound = errors.New("storage: key not found")

// Namespace partitions the shared keyspace so unrelated components never
// collide on a key, the same role the teacher's DBEntryType constants play
// in front of its DBManager.
type Namespace byte

const (
	// NamespaceChain stores this node's identity private key and the PBFT
	// engine's chain state, keyed by the node's PeerId in hex.
	NamespaceChain Namespace = iota
	// NamespaceBlock stores committed PBFT blocks, keyed by BlockId.
	NamespaceBlock
	// NamespaceDHT is the keyspace for routing-table snapshots. No package in
	// this module writes or reads it: routing tables live in memory only, and
	// a restarted node starts again from its bootstrap peers.
	NamespaceDHT
	// NamespaceData is the keyspace for opaque application payloads; no
	// package in this module writes it.
	NamespaceData
)

// Store is the persistence surface every component programs against.
// Implementations must be safe for concurrent use.
type Store interface {
	Put(ns Namespace, key, value []byte) error
	Get(ns Namespace, key []byte) ([]byte, error)
	Has(ns Namespace, key []byte) (bool, error)
	Delete(ns Namespace, key []byte) error
	// Iterate calls fn for every key/value pair in ns whose key has the
	// given prefix, stopping early if fn returns false.
	Iterate(ns Namespace, prefix []byte, fn func(key, value []byte) bool) error
	Close() error
}

// namespacedKey prefixes key with its namespace tag, the same
// one-byte-prefix keyspace partitioning the teacher's DBEntryType does for
// LevelDB/Badger tables that don't support native column families.
func namespacedKey(ns Namespace, key []byte) []byte {
	out := make([]byte, 1+len(key))
	out[0] = byte(ns)
	copy(out[1:], key)
	return out
}
