// Package discover implements the per-group routing table: an XOR-distance
// binary tree over confirmed peers, plus the tentative/pending-heartbeat
// peer lifecycle and hole-punch bookkeeping that sits in front of it
// (spec.md §4.2). The background heartbeat scheduling and mutex-guarded
// table shape follow the teacher's own `networks/p2p/discover.Table`
// (`jeongkyun-oh-klaytn/networks/p2p/discover/table.go`), scaled down from
// Kademlia k-buckets to the spec's simpler binary tree.
package discover

import (
	"net"
	"sync"
	"time"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/log"
)

// heartbeatDeadline is how long an in-flight heartbeat may go unanswered
// before its target is declared dead (spec.md §4.2).
const heartbeatDeadline = 20 * time.Second

var logger = log.NewModuleLogger(log.ModuleDiscover)

// node is one binary-tree entry: a confirmed, reachable peer.
type node struct {
	peer   common.PeerId
	socket *net.UDPAddr
	left   *node
	right  *node
}

// tentativePeer is a peer the table has learned about (via DHT gossip) but
// has not yet exchanged an authenticated datagram with.
type tentativePeer struct {
	socket *net.UDPAddr // nil until a hole-punch reports one
}

// Table is one group's routing table: the confirmed binary tree plus the
// tentative, pending-heartbeat and in-flight-heartbeat auxiliary sets
// spec.md §4.2 requires.
type Table struct {
	mu   sync.Mutex
	self common.PeerId
	root *node

	tentative map[common.PeerId]*tentativePeer

	pendingHB  map[common.PeerId]struct{}   // confirmed peers due for a heartbeat
	inflightHB map[common.PeerId]time.Time  // heartbeat sent, awaiting HeartBeatOk
}

// NewTable constructs an empty table for the owning peer.
func NewTable(self common.PeerId) *Table {
	return &Table{
		self:       self,
		tentative:  make(map[common.PeerId]*tentativePeer),
		pendingHB:  make(map[common.PeerId]struct{}),
		inflightHB: make(map[common.PeerId]time.Time),
	}
}

// distance is the byte-wise XOR of two PeerIds, the 32-byte metric spec.md
// §4.2 specifies (the spec's "truncated/zero-padded to 20 bytes" wording
// describes a legacy DHT metric width; since both ids here are already
// fixed 32-byte keys, using the full XOR preserves the same big-endian
// lexicographic ordering without discarding distinguishing bits).
func distance(a, b common.PeerId) [common.HashLength]byte {
	var d [common.HashLength]byte
	for i := range d {
		d[i] = a[i] ^ b[i]
	}
	return d
}

func less(a, b [common.HashLength]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// Insert places a confirmed peer into the binary tree keyed by distance
// from self, reports whether it was newly added, and updates the socket on
// a PeerId collision.
func (t *Table) Insert(peer common.PeerId, socket *net.UDPAddr) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := distance(t.self, peer)
	cur := &t.root
	for *cur != nil {
		if (*cur).peer == peer {
			(*cur).socket = socket
			return false
		}
		if less(d, distance(t.self, (*cur).peer)) {
			cur = &(*cur).left
		} else {
			cur = &(*cur).right
		}
	}
	*cur = &node{peer: peer, socket: socket}
	t.pendingHB[peer] = struct{}{}
	return true
}

// Search walks the tree looking for peer, falling left before right. It
// returns the socket and exact_match=true on a hit; on a miss it returns the
// last node visited (a nearby neighbor by distance) with exact_match=false,
// used for DHT forwarding (spec.md §4.2).
func (t *Table) Search(peer common.PeerId) (socket *net.UDPAddr, exactMatch bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := distance(t.self, peer)
	cur := t.root
	var last *node
	for cur != nil {
		last = cur
		if cur.peer == peer {
			return cur.socket, true
		}
		if less(d, distance(t.self, cur.peer)) {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	if last == nil {
		return nil, false
	}
	return last.socket, false
}

// Remove deletes peer's tree node, re-inserting the peers below it, and
// clears peer from every auxiliary set (spec.md §4.2 invariant iii).
func (t *Table) Remove(peer common.PeerId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	removed := removeNode(&t.root, t.self, peer)
	delete(t.tentative, peer)
	delete(t.pendingHB, peer)
	delete(t.inflightHB, peer)
	return removed
}

func removeNode(cur **node, self, peer common.PeerId) bool {
	d := distance(self, peer)
	for *cur != nil {
		if (*cur).peer == peer {
			n := *cur
			*cur = nil
			// Re-insert the removed subtree's children so confirmed peers
			// under it aren't silently lost.
			reinsertSubtree(cur, self, n.left)
			reinsertSubtree(cur, self, n.right)
			return true
		}
		if less(d, distance(self, (*cur).peer)) {
			cur = &(*cur).left
		} else {
			cur = &(*cur).right
		}
	}
	return false
}

func reinsertSubtree(root **node, self common.PeerId, n *node) {
	if n == nil {
		return
	}
	reinsertSubtree(root, self, n.left)
	reinsertSubtree(root, self, n.right)
	n.left, n.right = nil, nil
	insertNode(root, self, n)
}

func insertNode(cur **node, self common.PeerId, n *node) {
	d := distance(self, n.peer)
	for *cur != nil {
		if (*cur).peer == n.peer {
			(*cur).socket = n.socket
			return
		}
		if less(d, distance(self, (*cur).peer)) {
			cur = &(*cur).left
		} else {
			cur = &(*cur).right
		}
	}
	*cur = n
}

// AddTmpPeer records a tentatively-known peer learned via DHT gossip,
// without a confirmed socket until hole-punching succeeds. isNew reports
// whether peer was previously unknown to this table (neither confirmed nor
// already tentative) - callers use this to decide whether to initiate a
// hole-punch, since re-announcing an already-known peer shouldn't restart
// one (spec.md §4.2/§4.3's DHT handler).
func (t *Table) AddTmpPeer(peer common.PeerId, socket *net.UDPAddr) (isNew bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, confirmed := t.findLocked(peer); confirmed {
		return false
	}
	if _, ok := t.tentative[peer]; ok {
		if socket == nil {
			return false
		}
		t.tentative[peer] = &tentativePeer{socket: socket}
		return false
	}
	t.tentative[peer] = &tentativePeer{socket: socket}
	return true
}

// FixedPeer promotes a tentative peer to confirmed, e.g. on receipt of the
// first authenticated datagram from it.
func (t *Table) FixedPeer(peer common.PeerId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	tp, ok := t.tentative[peer]
	if !ok {
		return false
	}
	delete(t.tentative, peer)
	socket := tp.socket
	insertNode(&t.root, t.self, &node{peer: peer, socket: socket})
	t.pendingHB[peer] = struct{}{}
	return true
}

// FixedTmpPeer records the socket learned for a tentative peer via a
// successful hole-punch, and promotes it to confirmed.
func (t *Table) FixedTmpPeer(peer common.PeerId, socket *net.UDPAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.tentative[peer]; !ok {
		t.tentative[peer] = &tentativePeer{}
	}
	delete(t.tentative, peer)
	insertNode(&t.root, t.self, &node{peer: peer, socket: socket})
	t.pendingHB[peer] = struct{}{}
	return true
}

func (t *Table) findLocked(peer common.PeerId) (*net.UDPAddr, bool) {
	cur := t.root
	for cur != nil {
		if cur.peer == peer {
			return cur.socket, true
		}
		d := distance(t.self, peer)
		if less(d, distance(t.self, cur.peer)) {
			cur = cur.left
		} else {
			cur = cur.right
		}
	}
	return nil, false
}

// NextHBPeers returns up to one confirmed peer due for a heartbeat plus the
// list of peers whose in-flight heartbeat has exceeded heartbeatDeadline
// and are now considered dead. When the pending set is empty it is refilled
// from every confirmed peer (spec.md §4.2).
func (t *Table) NextHBPeers() (hb *common.PeerId, hbSocket *net.UDPAddr, dead []common.PeerId) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	for peer, sentAt := range t.inflightHB {
		if now.Sub(sentAt) > heartbeatDeadline {
			dead = append(dead, peer)
			delete(t.inflightHB, peer)
			removeNode(&t.root, t.self, peer)
			delete(t.tentative, peer)
			delete(t.pendingHB, peer)
		}
	}

	if len(t.pendingHB) == 0 {
		t.refillPendingLocked()
	}

	for peer := range t.pendingHB {
		socket, ok := t.findLocked(peer)
		if !ok {
			delete(t.pendingHB, peer)
			continue
		}
		delete(t.pendingHB, peer)
		t.inflightHB[peer] = now
		p := peer
		return &p, socket, dead
	}
	return nil, nil, dead
}

func (t *Table) refillPendingLocked() {
	var walk func(n *node)
	walk = func(n *node) {
		if n == nil {
			return
		}
		t.pendingHB[n.peer] = struct{}{}
		walk(n.left)
		walk(n.right)
	}
	walk(t.root)
}

// MarkHeartBeatOk clears a peer's in-flight heartbeat on reply, so it isn't
// later declared dead.
func (t *Table) MarkHeartBeatOk(peer common.PeerId) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.inflightHB, peer)
}

// Confirmed reports whether peer currently has a confirmed tree entry.
func (t *Table) Confirmed(peer common.PeerId) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.findLocked(peer)
	return ok
}

// Len returns the number of confirmed peers, for tests and diagnostics.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	var walk func(*node)
	walk = func(nd *node) {
		if nd == nil {
			return
		}
		n++
		walk(nd.left)
		walk(nd.right)
	}
	walk(t.root)
	return n
}

// Peers returns every confirmed peer, in no particular order. Used by
// callers (the PBFT/gossip peer lists, the bridge's broadcast fan-out) that
// need the full confirmed membership rather than a single routing lookup.
func (t *Table) Peers() []common.PeerId {
	t.mu.Lock()
	defer t.mu.Unlock()
	var peers []common.PeerId
	var walk func(*node)
	walk = func(nd *node) {
		if nd == nil {
			return
		}
		peers = append(peers, nd.peer)
		walk(nd.left)
		walk(nd.right)
	}
	walk(t.root)
	return peers
}
