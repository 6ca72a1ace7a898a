// Package pbft implements the Quick-PBFT engine: deterministic leader
// election, a three-phase (preprepare/verify/commit) Byzantine quorum,
// block-height chain sync, and leader-expiry recovery (spec.md §4.6).
//
// Grounded on the teacher's istanbul core (`consensus/istanbul/core`):
// one struct holding peer/validator set, round state, and quorum vote
// sets; one handler method per inbound message kind
// (`consensus/istanbul/core/{preprepare,commit}.go`); quorum-size checks
// against a validator-set fault count, generalized here to this spec's
// `2(n+1) <= 3v` threshold with its small-cluster exception.
package pbft

import (
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/CympleTech/TDN-sub000/common"
	"github.com/CympleTech/TDN-sub000/consensus/event"
	"github.com/CympleTech/TDN-sub000/crypto"
	"github.com/CympleTech/TDN-sub000/log"
	"github.com/CympleTech/TDN-sub000/storage"
)

var logger = log.NewModuleLogger(log.ModulePBFT)

const (
	minBlockSeconds = 5
	maxBlockSeconds = 20

	chainCacheCapacity = 100
)

// Broadcaster fans an Event out to some or all peers; supplied by the
// bridge/transport layer.
type Broadcaster interface {
	Broadcast(evt event.Event)
	SendTo(peer common.PeerId, evt event.Event)
}

// Engine runs one group's Quick-PBFT state machine.
type Engine struct {
	mu sync.Mutex

	self common.PeerId
	kp   *crypto.KeyPair
	peers []common.PeerId // sorted

	rateNumerator   int
	rateDenominator int

	store       storage.Store
	broadcaster Broadcaster

	blocker           common.PeerId
	chain             []common.BlockId // FIFO, capacity chainCacheCapacity, head = latest
	lastBlockHeight   uint64
	lastBlockTime     time.Time

	pool         map[common.EventId]event.Event // pending effective events
	pendingBlock *event.Block                    // at most one

	verify map[common.BlockId]map[common.PeerId]struct{}
	commit map[common.BlockId]map[common.PeerId]struct{}
	blocks map[common.BlockId]*event.Block

	leaderConfirm map[common.PeerId]map[common.PeerId]struct{}

	syncActive bool
	syncChain  []common.BlockId
	syncHeight uint64
	// syncErr accumulates any per-block persist failure across a sync run,
	// reported as one combined log line when the run flushes rather than
	// logged (and risking the run aborting) on every step.
	syncErr error
}

// New constructs a PBFT Engine for a fixed peer set. peers must include
// self; it is sorted on entry (spec.md §4.6: "peer set (sorted)").
func New(kp *crypto.KeyPair, peers []common.PeerId, rateNumerator, rateDenominator int, store storage.Store, b Broadcaster) *Engine {
	sorted := append([]common.PeerId(nil), peers...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Compare(sorted[j]) < 0 })

	e := &Engine{
		self:            kp.PeerId(),
		kp:              kp,
		peers:           sorted,
		rateNumerator:   rateNumerator,
		rateDenominator: rateDenominator,
		store:           store,
		broadcaster:     b,
		pool:            make(map[common.EventId]event.Event),
		verify:          make(map[common.BlockId]map[common.PeerId]struct{}),
		commit:          make(map[common.BlockId]map[common.PeerId]struct{}),
		blocks:          make(map[common.BlockId]*event.Block),
		leaderConfirm:   make(map[common.PeerId]map[common.PeerId]struct{}),
		lastBlockTime:   time.Now(),
	}
	e.restore()
	e.syncHeight = e.lastBlockHeight
	e.blocker = e.calculateLeaderLocked()
	return e
}

// restore reloads chain and last-height from the store at startup
// (spec.md §4.6 persistence contract).
func (e *Engine) restore() {
	raw, err := e.store.Get(storage.NamespaceChain, []byte(e.self.Hex()))
	if err != nil {
		return // fresh node, nothing persisted yet
	}
	ids := decodeBlockIdList(raw)
	e.chain = ids
	if len(ids) > 0 {
		if b, ok := e.loadBlock(ids[len(ids)-1]); ok {
			e.lastBlockHeight = b.Height
			e.lastBlockTime = time.Unix(b.Timestamp, 0)
		}
	}
}

func (e *Engine) loadBlock(id common.BlockId) (*event.Block, bool) {
	raw, err := e.store.Get(storage.NamespaceBlock, id[:])
	if err != nil {
		return nil, false
	}
	b, ok := decodeBlock(raw)
	return b, ok
}

func (e *Engine) persistBlock(b *event.Block) error {
	return e.store.Put(storage.NamespaceBlock, b.Id[:], encodeBlock(b))
}

func (e *Engine) persistChain() error {
	raw := encodeBlockIdList(e.chain)
	return e.store.Put(storage.NamespaceChain, []byte(e.self.Hex()), raw)
}

// calculateLeaderLocked implements spec.md §4.6's deterministic election.
func (e *Engine) calculateLeaderLocked() common.PeerId {
	var lastIds []common.BlockId
	if len(e.chain) > 0 {
		lastIds = []common.BlockId{e.chain[len(e.chain)-1]}
	}
	refer := crypto.Sum256(encodeBlockIdList(lastIds))

	best := e.peers[0]
	var bestDist [32]byte
	first := true
	for _, p := range e.peers {
		pkHash := crypto.Sum256(p[:])
		var dist [32]byte
		for i := range dist {
			dist[i] = absDiff(refer[i], pkHash[i])
		}
		if first || lessBytes(dist, bestDist) {
			best = p
			bestDist = dist
			first = false
		}
	}
	return best
}

func absDiff(a, b byte) byte {
	if a > b {
		return a - b
	}
	return b - a
}

func lessBytes(a, b [32]byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// quorumMet implements spec.md §4.6's quorum thresholds: 2(n+1) <= 3v, with
// the small-cluster exception (n<3 and all n peers responded).
func (e *Engine) quorumMetLocked(votes int) bool {
	n := len(e.peers)
	if n < 3 && votes >= n {
		return true
	}
	return 2*(n+1) <= 3*votes
}

// HandleEvent dispatches one inbound Event by its Kind (spec.md §4.6's
// main handler). sender is who relayed it to us.
func (e *Engine) HandleEvent(sender common.PeerId, evt event.Event) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !event.Verify(evt) {
		return // silently dropped: invalid signature
	}

	switch evt.Kind {
	case event.KindTx:
		e.handleTxLocked(sender, evt)
	case event.KindBlock:
		e.handleBlockLocked(sender, evt)
	case event.KindVerify:
		e.handleVerifyLocked(sender, evt.BlockId)
	case event.KindCommit:
		e.handleCommitLocked(sender, evt.BlockId)
	case event.KindSync:
		e.handleSyncLocked(sender, evt.Height)
	case event.KindBlockReq:
		e.handleBlockReqLocked(sender, evt.BlockId)
	case event.KindBlockRes:
		e.handleBlockResLocked(sender, evt.BlockRes)
	case event.KindLeader:
		e.handleLeaderLocked(sender, evt.LeaderCandidate, evt.LeaderIndex)
	case event.KindHeartBeat:
		e.handleHeartBeatLocked(sender)
	}
}

func (e *Engine) handleTxLocked(sender common.PeerId, evt event.Event) {
	if _, seen := e.pool[evt.Id]; seen {
		return
	}
	e.pool[evt.Id] = evt
	for _, p := range e.peers {
		if p == evt.Creator || p == sender || p == e.self {
			continue
		}
		e.sendTo(p, evt)
	}
	e.tryBuildBlockLocked()
}

func (e *Engine) handleBlockLocked(sender common.PeerId, evt event.Event) {
	b := evt.Block
	if b == nil {
		return
	}
	if _, seen := e.blocks[b.Id]; seen {
		return
	}
	if b.Height <= e.lastBlockHeight {
		return
	}
	if len(e.chain) > 0 && b.Previous != e.chain[len(e.chain)-1] {
		return
	}
	if b.Blocker != e.blocker {
		return
	}
	if !event.VerifyBlock(b) {
		return
	}

	e.blocks[b.Id] = b
	e.pendingBlock = b
	// The blocker's proposal counts as its Verify, matching the self-vote
	// tryBuildBlockLocked records on the blocker's side.
	e.addVoteLocked(e.verify, b.Id, b.Blocker)
	e.addVoteLocked(e.verify, b.Id, e.self)
	e.broadcast(event.NewVerify(e.kp, b.Id))

	if e.quorumMetLocked(len(e.verify[b.Id])) {
		e.addVoteLocked(e.commit, b.Id, e.self)
		e.broadcast(event.NewCommit(e.kp, b.Id))
	}
}

func (e *Engine) handleVerifyLocked(sender common.PeerId, id common.BlockId) {
	e.addVoteLocked(e.verify, id, sender)
	if e.quorumMetLocked(len(e.verify[id])) {
		if _, already := e.commit[id][e.self]; !already {
			e.addVoteLocked(e.commit, id, e.self)
			e.broadcast(event.NewCommit(e.kp, id))
		}
	}
}

func (e *Engine) handleCommitLocked(sender common.PeerId, id common.BlockId) {
	e.addVoteLocked(e.commit, id, sender)
	if !e.quorumMetLocked(len(e.commit[id])) {
		return
	}
	e.confirmBlockLocked(id)
}

// confirmBlockLocked commits a quorate block: first-committed-wins, a
// second arrival finds the block already absent and is a no-op (spec.md
// §5 ordering guarantees).
func (e *Engine) confirmBlockLocked(id common.BlockId) {
	b, ok := e.blocks[id]
	if !ok {
		return
	}
	delete(e.blocks, id)
	delete(e.verify, id)
	delete(e.commit, id)
	if e.pendingBlock != nil && e.pendingBlock.Id == id {
		e.pendingBlock = nil
	}
	for _, evt := range b.Events {
		delete(e.pool, evt.Id)
	}

	e.chain = append(e.chain, id)
	if len(e.chain) > chainCacheCapacity {
		e.chain = e.chain[len(e.chain)-chainCacheCapacity:]
	}
	if err := multierr.Combine(e.persistBlock(b), e.persistChain()); err != nil {
		logger.Warn("failed to flush committed block", "block", id.Hex(), "err", err)
	}

	e.lastBlockHeight = b.Height
	e.lastBlockTime = time.Unix(b.Timestamp, 0)
	e.syncHeight = e.lastBlockHeight
	e.blocker = e.calculateLeaderLocked()
	delete(e.leaderConfirm, e.blocker)
}

func (e *Engine) handleSyncLocked(sender common.PeerId, height uint64) {
	if height >= e.lastBlockHeight {
		e.sendTo(sender, event.NewBlockRes(e.kp, nil))
		return
	}
	if len(e.chain) == 0 {
		e.sendTo(sender, event.NewBlockRes(e.kp, nil))
		return
	}
	b, ok := e.loadBlock(e.chain[len(e.chain)-1])
	if !ok {
		e.sendTo(sender, event.NewBlockRes(e.kp, nil))
		return
	}
	e.sendTo(sender, event.NewBlockRes(e.kp, b))
}

func (e *Engine) handleBlockReqLocked(sender common.PeerId, id common.BlockId) {
	b, ok := e.loadBlock(id)
	if !ok {
		e.sendTo(sender, event.NewBlockRes(e.kp, nil))
		return
	}
	e.sendTo(sender, event.NewBlockRes(e.kp, b))
}

func (e *Engine) handleBlockResLocked(sender common.PeerId, b *event.Block) {
	if b == nil {
		e.flushSyncLocked()
		return
	}
	if b.Height <= e.syncHeight {
		return
	}
	e.syncActive = true
	e.syncChain = append(e.syncChain, b.Id)
	e.syncErr = multierr.Append(e.syncErr, e.persistBlock(b))
	if b.Height > e.lastBlockHeight {
		e.lastBlockHeight = b.Height
	}

	var zero common.BlockId
	if b.Height == e.syncHeight+1 || b.Previous == zero {
		e.flushSyncLocked()
		return
	}
	e.sendTo(sender, event.NewBlockReq(e.kp, b.Previous))
}

// flushSyncLocked terminates a sync run and flushes any accumulated sync
// chain into the main chain (spec.md §4.6 "BlockRes(None)").
func (e *Engine) flushSyncLocked() {
	if !e.syncActive {
		return
	}
	e.syncActive = false
	if len(e.syncChain) == 0 {
		return
	}
	// syncChain accumulated newest-first (each step walked to .previous);
	// reverse to append oldest-first onto the main chain.
	for i, j := 0, len(e.syncChain)-1; i < j; i, j = i+1, j-1 {
		e.syncChain[i], e.syncChain[j] = e.syncChain[j], e.syncChain[i]
	}
	e.chain = append(e.chain, e.syncChain...)
	if len(e.chain) > chainCacheCapacity {
		e.chain = e.chain[len(e.chain)-chainCacheCapacity:]
	}
	if last, ok := e.loadBlock(e.syncChain[len(e.syncChain)-1]); ok {
		e.lastBlockHeight = last.Height
		e.lastBlockTime = time.Unix(last.Timestamp, 0)
	}
	e.syncChain = nil
	if err := multierr.Append(e.syncErr, e.persistChain()); err != nil {
		logger.Warn("sync run flushed with partial persist failures", "err", err)
	}
	e.syncErr = nil
}

func (e *Engine) handleLeaderLocked(sender common.PeerId, candidate common.PeerId, index uint64) {
	endorsers, ok := e.leaderConfirm[candidate]
	if !ok {
		endorsers = make(map[common.PeerId]struct{})
		e.leaderConfirm[candidate] = endorsers
	}
	endorsers[sender] = struct{}{}

	if e.quorumMetLocked(len(endorsers)) {
		e.blocker = candidate
		delete(e.leaderConfirm, candidate)
		e.tryBuildBlockLocked()
	}
}

func (e *Engine) handleHeartBeatLocked(sender common.PeerId) {
	if e.pendingBlock != nil {
		e.sendTo(sender, event.NewBlockEvent(e.kp, e.pendingBlock))
		return
	}
	e.tryBuildBlockLocked()
}

// tryBuildBlockLocked implements spec.md §4.6's block creation conditions.
func (e *Engine) tryBuildBlockLocked() {
	if e.blocker != e.self || e.syncActive || e.pendingBlock != nil {
		return
	}
	elapsed := time.Since(e.lastBlockTime)
	havePool := len(e.pool) > 0
	if !((havePool && elapsed > minBlockSeconds*time.Second) || elapsed > maxBlockSeconds*time.Second) {
		return
	}

	var events []event.Event
	for _, evt := range e.pool {
		if evt.IsEffective() {
			events = append(events, evt)
		}
	}

	var previous common.BlockId
	if len(e.chain) > 0 {
		previous = e.chain[len(e.chain)-1]
	}
	b := event.NewBlock(e.kp, events, previous, e.lastBlockHeight+1, time.Now().Unix())

	e.blocks[b.Id] = b
	e.pendingBlock = b
	e.addVoteLocked(e.verify, b.Id, e.self)
	e.broadcast(event.NewBlockEvent(e.kp, b))
}

// Tick re-evaluates block creation conditions; callers invoke this on a
// periodic timer alongside CheckLeaderExpiry (spec.md §4.6's 20s loop).
func (e *Engine) Tick() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tryBuildBlockLocked()
}

// CheckLeaderExpiry implements spec.md §4.6's leader-expiry recovery,
// called on every heartbeat tick (MAX_BLOCK_SECOND interval).
func (e *Engine) CheckLeaderExpiry() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.peerInSetLocked(e.blocker) {
		newLeader := e.calculateLeaderLocked()
		e.proposeLeaderLocked(newLeader)
		return
	}

	expired := time.Since(e.lastBlockTime) > 2*maxBlockSeconds*time.Second
	if !expired {
		return
	}

	candidates := e.peers
	if time.Since(e.lastBlockTime) > 6*maxBlockSeconds*time.Second {
		candidates = excludePeer(e.peers, e.blocker)
	}
	newLeader := e.calculateLeaderAmongLocked(candidates)
	e.proposeLeaderLocked(newLeader)
}

func (e *Engine) peerInSetLocked(p common.PeerId) bool {
	for _, q := range e.peers {
		if q == p {
			return true
		}
	}
	return false
}

func excludePeer(peers []common.PeerId, p common.PeerId) []common.PeerId {
	out := make([]common.PeerId, 0, len(peers))
	for _, q := range peers {
		if q != p {
			out = append(out, q)
		}
	}
	return out
}

func (e *Engine) calculateLeaderAmongLocked(candidates []common.PeerId) common.PeerId {
	saved := e.peers
	e.peers = candidates
	leader := e.calculateLeaderLocked()
	e.peers = saved
	return leader
}

func (e *Engine) proposeLeaderLocked(candidate common.PeerId) {
	e.broadcast(event.NewLeader(e.kp, candidate, e.lastBlockHeight))
}

func (e *Engine) addVoteLocked(set map[common.BlockId]map[common.PeerId]struct{}, id common.BlockId, p common.PeerId) {
	votes, ok := set[id]
	if !ok {
		votes = make(map[common.PeerId]struct{})
		set[id] = votes
	}
	votes[p] = struct{}{}
}

func (e *Engine) broadcast(evt event.Event) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.Broadcast(evt)
}

func (e *Engine) sendTo(p common.PeerId, evt event.Event) {
	if e.broadcaster == nil {
		return
	}
	e.broadcaster.SendTo(p, evt)
}

// SubmitTx injects a locally originated Tx event, the application
// submission path from spec.md §3's Event lifecycle.
func (e *Engine) SubmitTx(data []byte) event.Event {
	evt := event.NewTx(e.kp, data)
	e.mu.Lock()
	e.pool[evt.Id] = evt
	e.mu.Unlock()
	e.broadcast(evt)
	e.mu.Lock()
	e.tryBuildBlockLocked()
	e.mu.Unlock()
	return evt
}

// Height returns the last committed block height, for diagnostics and
// sync-initiation decisions by the caller.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastBlockHeight
}

// Blocker returns the current leader.
func (e *Engine) Blocker() common.PeerId {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.blocker
}
