// Package gossip implements the witness-matrix convergence engine: for each
// in-flight EventId, nodes exchange SeeMaps until every node has witnessed a
// quorum-of-quorums of signatures, at which point the event is confirmed
// (spec.md §4.5). One Engine instance serves one group (its Sender is
// group-scoped; node.JoinGroup builds one per joined group); gossip state
// is keyed per EventId.
//
// Grounded on the teacher's istanbul `consensus/istanbul/core` message-
// handler shape (one method per inbound message kind, a single mutex-
// guarded state struct, a logger scoped per call) adapted from a leader-
// driven 3-phase protocol to this spec's leaderless witness-matrix
// protocol.
package gossip

import (
	"sync"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/crypto"
	"github.com/CympleTech/TDN-sub000/internal/mailbox"
	"github.com/CympleTech/TDN-sub000/log"
)

var logger = log.NewModuleLogger(log.ModuleGossip)

// SeeMap is the three-level witness matrix, spec.md §3: outer key is the
// witness peer w, middle key is the observed peer p, inner map is signer s
// to that signer's signature.
type SeeMap map[common.PeerId]map[common.PeerId]map[common.PeerId]common.Signature

func newSeeMap() SeeMap { return make(SeeMap) }

func (m SeeMap) ensure(w, p common.PeerId) map[common.PeerId]common.Signature {
	inner, ok := m[w]
	if !ok {
		inner = make(map[common.PeerId]map[common.PeerId]common.Signature)
		m[w] = inner
	}
	sigs, ok := inner[p]
	if !ok {
		sigs = make(map[common.PeerId]common.Signature)
		inner[p] = sigs
	}
	return sigs
}

// insert merges σ into SeeMap[w][p][s], insert-if-absent (monotonic,
// idempotent per spec.md §4.5 failure semantics).
func (m SeeMap) insert(w, p, s common.PeerId, sig common.Signature) {
	sigs := m.ensure(w, p)
	if _, exists := sigs[s]; !exists {
		sigs[s] = sig
	}
}

// GossipMessage is the wire payload exchanged between gossip peers.
type GossipMessage struct {
	From    common.PeerId
	EventId common.EventId
	SeeMap  SeeMap
}

// Confirm is emitted to the subscriber when an EventId reaches quorum.
type Confirm struct {
	EventId common.EventId
	SeeMap  SeeMap
}

// Sender delivers a GossipMessage to a specific peer; supplied by the
// transport/bridge layer so this package stays free of socket concerns.
type Sender interface {
	SendGossip(to common.PeerId, msg GossipMessage)
}

type trackedEvent struct {
	seeMap SeeMap
	peers  []common.PeerId
}

// Engine runs the gossip convergence protocol. Safe for concurrent use;
// every exported method is guarded by a single mutex, matching the "one
// cooperative task per component" model of spec.md §5 collapsed onto a
// lock since Go gives us real concurrency for free.
type Engine struct {
	mu sync.Mutex

	self common.PeerId
	kp   *crypto.KeyPair

	numerator   int
	denominator int
	fanOutK     int

	sender  Sender
	confirm chan<- Confirm

	tracked map[common.EventId]*trackedEvent
}

// New constructs a gossip Engine. confirm receives a Confirm for every
// EventId that reaches quorum; sends use mailbox's bounded retry.
func New(kp *crypto.KeyPair, numerator, denominator, fanOutK int, sender Sender, confirm chan<- Confirm) *Engine {
	return &Engine{
		self:        kp.PeerId(),
		kp:          kp,
		numerator:   numerator,
		denominator: denominator,
		fanOutK:     fanOutK,
		sender:      sender,
		confirm:     confirm,
		tracked:     make(map[common.EventId]*trackedEvent),
	}
}

// GossipNew begins tracking eventId among peerList (spec.md §4.5,
// "On GossipNew"). A no-op if the event is already tracked.
func (e *Engine) GossipNew(eventId common.EventId, peerList []common.PeerId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.tracked[eventId]; ok {
		return
	}

	peers := ensureSelf(peerList, e.self)
	te := &trackedEvent{seeMap: newSeeMap(), peers: peers}
	for _, p := range peers {
		te.seeMap.ensure(p, p) // SeeMap[p][p] initialized to an empty signer map
	}
	e.tracked[eventId] = te

	sig := e.kp.Sign(eventId[:])
	te.seeMap.insert(e.self, e.self, e.self, sig)

	e.fanOut(eventId, te, common.PeerId{})
}

// ensureSelf guarantees self appears in peerList exactly once.
func ensureSelf(peerList []common.PeerId, self common.PeerId) []common.PeerId {
	for _, p := range peerList {
		if p == self {
			return peerList
		}
	}
	return append(append([]common.PeerId{}, peerList...), self)
}

// OnGossipMessage processes an inbound GossipMessage (spec.md §4.5).
func (e *Engine) OnGossipMessage(msg GossipMessage) {
	e.mu.Lock()
	defer e.mu.Unlock()

	te, ok := e.tracked[msg.EventId]
	if !ok {
		return
	}

	for p, remoteSees := range msg.SeeMap {
		if p == e.self {
			continue
		}
		for q, remoteSigs := range remoteSees {
			for s, sig := range remoteSigs {
				if !crypto.Verify(s, msg.EventId[:], sig) {
					continue // silently drop unverifiable entry
				}
				te.seeMap.insert(p, q, s, sig)
				te.seeMap.insert(e.self, q, s, sig)
				te.seeMap.insert(e.self, e.self, s, sig)
			}
		}
	}

	e.fanOut(msg.EventId, te, msg.From)

	if confirmed, snapshot := e.testConfirmationLocked(te); confirmed {
		delete(e.tracked, msg.EventId)
		if e.confirm != nil {
			mailbox.Try(func() bool {
				select {
				case e.confirm <- Confirm{EventId: msg.EventId, SeeMap: snapshot}:
					return true
				default:
					return false
				}
			})
		}
	}
}

// OnPeerLeave removes p from every tracked SeeMap and re-evaluates
// confirmation for every event, since a shrinking denominator can newly
// satisfy the predicate (spec.md §4.5 "On GossipPeerLeave").
func (e *Engine) OnPeerLeave(p common.PeerId) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var confirmedIds []common.EventId
	var snapshots []SeeMap
	for id, te := range e.tracked {
		delete(te.seeMap, p)
		for _, inner := range te.seeMap {
			delete(inner, p)
			for _, sigs := range inner {
				delete(sigs, p)
			}
		}
		te.peers = removePeer(te.peers, p)

		if confirmed, snapshot := e.testConfirmationLocked(te); confirmed {
			confirmedIds = append(confirmedIds, id)
			snapshots = append(snapshots, snapshot)
		}
	}
	for i, id := range confirmedIds {
		delete(e.tracked, id)
		if e.confirm != nil {
			snap := snapshots[i]
			eid := id
			mailbox.Try(func() bool {
				select {
				case e.confirm <- Confirm{EventId: eid, SeeMap: snap}:
					return true
				default:
					return false
				}
			})
		}
	}
}

func removePeer(peers []common.PeerId, p common.PeerId) []common.PeerId {
	out := peers[:0]
	for _, q := range peers {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

// testConfirmationLocked implements spec.md §4.5's confirmation predicate:
// SeeMap[self] confirmed when every inner map SeeMap[self][p] has
// cardinality >= |SeeMap[self]| * numerator/denominator.
func (e *Engine) testConfirmationLocked(te *trackedEvent) (bool, SeeMap) {
	self := te.seeMap[e.self]
	if len(self) == 0 {
		return false, nil
	}
	threshold := len(self) * e.numerator / e.denominator
	for _, sigs := range self {
		if len(sigs) < threshold {
			return false, nil
		}
	}
	return true, te.seeMap
}

// fanOut selects up to fanOutK slowest peers and sends them the full
// SeeMap, skipping the peer we just received from when choosing among ties
// (spec.md §4.5 "Slowest-peer selection").
func (e *Engine) fanOut(eventId common.EventId, te *trackedEvent, justReceivedFrom common.PeerId) {
	if e.sender == nil {
		return
	}
	targets := e.slowestPeersLocked(te, justReceivedFrom)
	for _, p := range targets {
		e.sender.SendGossip(p, GossipMessage{From: e.self, EventId: eventId, SeeMap: te.seeMap})
	}
}

type peerCount struct {
	peer  common.PeerId
	count int
}

func (e *Engine) slowestPeersLocked(te *trackedEvent, justReceivedFrom common.PeerId) []common.PeerId {
	minCount := len(te.peers)*e.numerator/e.denominator + 1

	var candidates []peerCount
	for _, p := range te.peers {
		if p == e.self {
			continue
		}
		below := 0
		for _, sigs := range te.seeMap[p] {
			if len(sigs) < minCount {
				below++
			}
		}
		candidates = append(candidates, peerCount{peer: p, count: below})
	}

	sortByCountDesc(candidates, justReceivedFrom)

	k := e.fanOutK
	if k > len(candidates) {
		k = len(candidates)
	}
	out := make([]common.PeerId, 0, k)
	for i := 0; i < k; i++ {
		out = append(out, candidates[i].peer)
	}
	return out
}

// sortByCountDesc orders candidates by descending slowness count, pushing
// justReceivedFrom to the back as a tie-break preference against
// re-sending to the peer we just heard from.
func sortByCountDesc(candidates []peerCount, justReceivedFrom common.PeerId) {
	for i := 1; i < len(candidates); i++ {
		j := i
		for j > 0 && less(candidates[j], candidates[j-1], justReceivedFrom) {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
			j--
		}
	}
}

func less(a, b peerCount, justReceivedFrom common.PeerId) bool {
	if a.count != b.count {
		return a.count > b.count
	}
	aIsSender := a.peer == justReceivedFrom
	bIsSender := b.peer == justReceivedFrom
	if aIsSender != bIsSender {
		return bIsSender // a sorts before b when b is the one to avoid
	}
	return false
}
