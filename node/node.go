// Package node is the top-level engine-wiring entry point: it owns the
// identity, the Store, the Transport, and the Bridge, and binds a group's
// pbft.Engine/gossip.Engine pair to the transport the way spec.md §5
// describes task spawning - construct both ends of a channel before
// spawning anything that uses it, then start the loops. Grounded on the
// teacher's `node.New`/`node.Start` service-registry lifecycle
// (`node/service.go`), pared down from its reflect-based multi-service
// registry (this engine only ever runs one kind of service) to a fixed set
// of components built in dependency order.
package node

import (
	"path/filepath"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/CympleTech/TDN-sub000/bridge"
	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/config"
	"github.com/CympleTech/TDN-sub000/consensus/gossip"
	"github.com/CympleTech/TDN-sub000/consensus/pbft"
	"github.com/CympleTech/TDN-sub000/crypto"
	"github.com/CympleTech/TDN-sub000/log"
	"github.com/CympleTech/TDN-sub000/p2p/transport"
	"github.com/CympleTech/TDN-sub000/storage"
)

var logger = log.NewModuleLogger(log.ModuleNode)

// identityKey is the fixed storage key this node's private key is kept
// under in NamespaceChain - there is exactly one identity per data
// directory.
var identityKey = []byte("identity")

// ErrAlreadyJoined is returned by JoinGroup for a group this node has
// already joined.
var ErrAlreadyJoined = errors.New("node: group already joined")

// Layer is the stub extension point for cross-group federation mentioned
// in spec.md §1 - "the repo has a stub layer mechanism but it is not the
// hard part" (original_source/src/layer.rs is an empty five-line trait).
// No component implements it; it exists so a future federation layer has
// somewhere to attach without every existing component needing to change.
type Layer interface{}

// groupRuntime bundles the per-group state a joined group keeps alive:
// its consensus engines and the gossip confirmation channel a caller can
// drain via Confirmations.
type groupRuntime struct {
	pbft       *pbft.Engine
	gossip     *gossip.Engine
	confirm    chan gossip.Confirm
}

// Node is one running instance of this engine: one identity, one socket,
// and zero or more joined groups each running their own PBFT/gossip pair
// over the shared transport.
type Node struct {
	cfg    *config.Config
	kp     *crypto.KeyPair
	store  storage.Store
	bridge *bridge.Bridge
	tr     *transport.Transport

	groups map[common.GroupId]*groupRuntime
}

// transportSender closes over a *Node so bridge.New can be constructed
// before the Transport it will eventually forward to exists - the
// two-phase bind spec.md §5 describes (build both ends, then spawn).
type transportSender struct {
	n *Node
}

func (s *transportSender) SendPBFT(group common.GroupId, peer common.PeerId, payload []byte) {
	s.n.tr.SendPBFT(group, peer, payload)
}

func (s *transportSender) SendGossip(group common.GroupId, peer common.PeerId, payload []byte) {
	s.n.tr.SendGossip(group, peer, payload)
}

// Start brings up a Node from cfg: opens (or seeds, then opens) the Store,
// loads or generates this node's identity, and starts the Transport. If
// cfg.GroupId is non-zero it then joins that group, seeded from
// cfg.BootstrapPeers; any further group is joined with JoinGroup.
func Start(cfg *config.Config) (*Node, error) {
	if err := storage.Bootstrap(cfg.DataDir, cfg.TemplateDir); err != nil {
		return nil, errors.Wrap(err, "node: seeding data directory from template")
	}

	store, err := openStore(cfg.DataDir)
	if err != nil {
		return nil, errors.Wrap(err, "node: opening store")
	}

	kp, err := loadOrGenerateIdentity(store)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "node: loading identity")
	}

	n := &Node{
		cfg:    cfg,
		kp:     kp,
		store:  store,
		groups: make(map[common.GroupId]*groupRuntime),
	}
	n.bridge = bridge.New(&transportSender{n: n})

	tr, err := transport.New(kp, cfg.P2PAddress, cfg.NAT, n.bridge)
	if err != nil {
		store.Close()
		return nil, errors.Wrap(err, "node: starting transport")
	}
	n.tr = tr
	n.tr.Start()

	logger.Info("node started", "peer", kp.PeerId().Hex(), "address", cfg.P2PAddress)

	if cfg.GroupId != (common.GroupId{}) {
		bootstraps := make([]transport.Bootstrap, 0, len(cfg.BootstrapPeers))
		for _, b := range cfg.BootstrapPeers {
			bootstraps = append(bootstraps, transport.Bootstrap{Peer: b.Peer, Socket: b.Socket})
		}
		if err := n.JoinGroup(cfg.GroupId, bootstraps); err != nil {
			n.Stop()
			return nil, err
		}
	}

	return n, nil
}

// JoinGroup joins group, seeding its routing table from bootstraps, and
// wires a fresh pbft.Engine/gossip.Engine pair into the bridge for it.
// Both engines reach the network exclusively through the bridge's
// group-scoped Broadcaster/Sender adapters, never the Transport directly.
func (n *Node) JoinGroup(group common.GroupId, bootstraps []transport.Bootstrap) error {
	if _, exists := n.groups[group]; exists {
		return ErrAlreadyJoined
	}

	n.tr.Join(group, bootstraps)
	table := n.tr.Table(group)

	peers := func() []common.PeerId { return table.Peers() }
	broadcaster := bridge.NewBroadcaster(n.bridge, group, peers)
	gossipSender := bridge.NewGossipSender(n.bridge, group)

	pbftEngine := pbft.New(n.kp, peers(), n.cfg.PBFTRateNumerator, n.cfg.PBFTRateDenominator, n.store, broadcaster)

	confirm := make(chan gossip.Confirm, n.cfg.GossipEventCacheCapacity)
	gossipEngine := gossip.New(n.kp, n.cfg.GossipRatioNumerator, n.cfg.GossipRatioDenominator, n.cfg.GossipK, gossipSender, confirm)

	n.groups[group] = &groupRuntime{pbft: pbftEngine, gossip: gossipEngine, confirm: confirm}
	n.bridge.Register(group, &bridge.Registration{PBFT: pbftEngine, Gossip: gossipEngine})

	logger.Info("joined group", "group", group.Hex())
	return nil
}

// LeaveGroup leaves group: unregisters its engines from the bridge and
// tells the transport to stop maintaining its routing table.
func (n *Node) LeaveGroup(group common.GroupId) {
	if rt, ok := n.groups[group]; ok {
		close(rt.confirm)
		delete(n.groups, group)
	}
	n.bridge.Unregister(group)
	n.tr.Leave(group)
}

// PBFT returns group's PBFT engine, or nil if this node hasn't joined it.
func (n *Node) PBFT(group common.GroupId) *pbft.Engine {
	if rt, ok := n.groups[group]; ok {
		return rt.pbft
	}
	return nil
}

// GossipNew begins tracking eventId for confirmation within group
// (spec.md §4.5's "On GossipNew"), fanning out to peerList.
func (n *Node) GossipNew(group common.GroupId, eventId common.EventId, peerList []common.PeerId) {
	if rt, ok := n.groups[group]; ok {
		rt.gossip.GossipNew(eventId, peerList)
	}
}

// Confirmations returns the channel group's gossip confirmations arrive
// on, or nil if group isn't joined.
func (n *Node) Confirmations(group common.GroupId) <-chan gossip.Confirm {
	if rt, ok := n.groups[group]; ok {
		return rt.confirm
	}
	return nil
}

// PeerId returns this node's own identity.
func (n *Node) PeerId() common.PeerId { return n.kp.PeerId() }

// Stop tears the node down: stops the transport loop and closes the Store,
// reporting both failures together rather than letting a transport error
// shadow a store error or vice versa.
func (n *Node) Stop() error {
	var trErr error
	if n.tr != nil {
		trErr = n.tr.Stop()
	}
	for group, rt := range n.groups {
		close(rt.confirm)
		delete(n.groups, group)
	}
	return multierr.Combine(trErr, n.store.Close())
}

func openStore(dataDir string) (storage.Store, error) {
	if dataDir == "" {
		return storage.NewMemoryStore(), nil
	}
	return storage.OpenLevelDB(filepath.Join(dataDir, "db"))
}

func loadOrGenerateIdentity(store storage.Store) (*crypto.KeyPair, error) {
	raw, err := store.Get(storage.NamespaceChain, identityKey)
	if err == nil {
		priv, err := crypto.PrivateKeyFromBytes(raw)
		if err != nil {
			return nil, err
		}
		return crypto.KeyPairFromPrivateKey(priv)
	}
	if err != storage.ErrNotFound {
		return nil, err
	}

	kp, err := crypto.GenerateKeyPair()
	if err != nil {
		return nil, err
	}
	if err := store.Put(storage.NamespaceChain, identityKey, kp.Private); err != nil {
		return nil, err
	}
	return kp, nil
}
