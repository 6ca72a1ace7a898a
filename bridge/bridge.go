// Package bridge is the per-group demultiplexer standing between the
// transport layer and this node's gossip/PBFT engine instances (spec.md
// §4.4). Grounded on the teacher's `node/sc/subbridge.go` registration
// pattern and on `original_source/core/src/network_bridge.rs`'s
// `NetworkBridgeActor`: a map keyed by group id, idempotent registration
// (`contains_key` check before insert), and a silent-drop-or-synthetic-
// denial response for a group with no registered handler.
package bridge

import (
	"sync"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/consensus/event"
	"github.com/CympleTech/TDN-sub000/consensus/gossip"
	"github.com/CympleTech/TDN-sub000/consensus/pbft"
	"github.com/CympleTech/TDN-sub000/log"
)

var logger = log.NewModuleLogger(log.ModuleBridge)

// Sender is the subset of transport.Transport the bridge needs to emit
// wire traffic, kept as an interface so this package doesn't import
// p2p/transport (transport depends on bridge's EventSink shape the other
// way around - the two are wired together by node, not by importing each
// other).
type Sender interface {
	SendPBFT(group common.GroupId, peer common.PeerId, payload []byte)
	SendGossip(group common.GroupId, peer common.PeerId, payload []byte)
}

// Registration is one group's pair of consensus engines. A group may run
// PBFT, gossip, or both; a nil field means that engine isn't wired for
// this group.
type Registration struct {
	PBFT   *pbft.Engine
	Gossip *gossip.Engine
}

// Bridge demultiplexes inbound transport traffic to the registered engine
// for its group, and gives each engine's outbound sends a group-scoped
// Broadcaster/Sender back toward the transport.
type Bridge struct {
	mu     sync.RWMutex
	sender Sender
	groups map[common.GroupId]*Registration
}

// New constructs a Bridge that sends outbound traffic through sender.
func New(sender Sender) *Bridge {
	return &Bridge{
		sender: sender,
		groups: make(map[common.GroupId]*Registration),
	}
}

// Register adds group's engine pair, reporting false (idempotent, matching
// the teacher's `contains_key` check) if the group is already registered.
func (b *Bridge) Register(group common.GroupId, reg *Registration) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.groups[group]; exists {
		return false
	}
	b.groups[group] = reg
	return true
}

// Unregister removes group's engine pair, e.g. when this node leaves it.
func (b *Bridge) Unregister(group common.GroupId) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.groups, group)
}

func (b *Bridge) registration(group common.GroupId) (*Registration, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	reg, ok := b.groups[group]
	return reg, ok
}

// OnPBFTEvent implements transport.EventSink: routes a decoded PBFT payload
// to group's Engine, silently dropping it if group has no registration
// (spec.md §4.4: unregistered groups never reach an engine).
func (b *Bridge) OnPBFTEvent(group common.GroupId, sender common.PeerId, payload []byte) {
	reg, ok := b.registration(group)
	if !ok || reg.PBFT == nil {
		logger.Debug("dropping PBFT event for unregistered group", "group", group.Hex())
		return
	}
	evt, err := event.Decode(payload)
	if err != nil {
		logger.Debug("dropping malformed PBFT event", "err", err)
		return
	}
	reg.PBFT.HandleEvent(sender, evt)
}

// OnGossipMessage implements transport.EventSink for gossip-layer traffic.
func (b *Bridge) OnGossipMessage(group common.GroupId, sender common.PeerId, payload []byte) {
	reg, ok := b.registration(group)
	if !ok || reg.Gossip == nil {
		logger.Debug("dropping gossip message for unregistered group", "group", group.Hex())
		return
	}
	msg, err := gossip.DecodeMessage(payload)
	if err != nil {
		logger.Debug("dropping malformed gossip message", "err", err)
		return
	}
	reg.Gossip.OnGossipMessage(msg)
}

// OnJoin implements transport.EventSink. A join announcement for an
// unregistered group is dropped; this bridge has no RPC/permission layer
// of its own to synthesize a denial response the way
// original_source/core/src/network_bridge.rs's ReceiveLevelPermissionResponseMessage(false) does,
// so the drop is silent (spec.md §4.4's Non-goals exclude an RPC surface).
func (b *Bridge) OnJoin(group common.GroupId, sender common.PeerId, payload []byte) {
	if _, ok := b.registration(group); !ok {
		logger.Debug("dropping join for unregistered group", "group", group.Hex())
	}
}

// OnLeave implements transport.EventSink: forwards a peer departure to
// group's gossip Engine, so it can re-evaluate pending confirmations. The
// PBFT Engine is not notified; its peer set stays as it was constructed.
func (b *Bridge) OnLeave(group common.GroupId, sender common.PeerId) {
	reg, ok := b.registration(group)
	if !ok {
		return
	}
	if reg.Gossip != nil {
		reg.Gossip.OnPeerLeave(sender)
	}
}

// broadcaster adapts the Bridge's Sender plus a fixed group and peer list
// into the pbft.Broadcaster interface a group's Engine is constructed with.
type broadcaster struct {
	group  common.GroupId
	sender Sender
	peers  func() []common.PeerId
}

// NewBroadcaster returns a pbft.Broadcaster scoped to one group, fanning
// Broadcast out to every peer peers() currently reports.
func NewBroadcaster(sender Sender, group common.GroupId, peers func() []common.PeerId) pbft.Broadcaster {
	return &broadcaster{group: group, sender: sender, peers: peers}
}

func (a *broadcaster) Broadcast(evt event.Event) {
	payload := event.Encode(evt)
	for _, p := range a.peers() {
		a.sender.SendPBFT(a.group, p, payload)
	}
}

func (a *broadcaster) SendTo(peer common.PeerId, evt event.Event) {
	a.sender.SendPBFT(a.group, peer, event.Encode(evt))
}

// gossipSender adapts the Bridge's Sender plus a fixed group into the
// gossip.Sender interface a group's gossip Engine is constructed with.
type gossipSender struct {
	group  common.GroupId
	sender Sender
}

// NewGossipSender returns a gossip.Sender scoped to one group.
func NewGossipSender(sender Sender, group common.GroupId) gossip.Sender {
	return &gossipSender{group: group, sender: sender}
}

func (g *gossipSender) SendGossip(to common.PeerId, msg gossip.GossipMessage) {
	g.sender.SendGossip(g.group, to, gossip.EncodeMessage(msg))
}
