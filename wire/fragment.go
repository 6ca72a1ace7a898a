// Package wire implements the UDP fragmentation framing and the canonical
// HEAD/BODY encoding shared by every component that puts bytes on the
// network: transport, bridge, gossip and pbft all hash and sign through this
// package so the bytes a peer verifies are exactly the bytes another peer
// produced.
package wire

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"hash"
	"hash/fnv"
	"sync"
	"time"

	"github.com/golang/snappy"
	"github.com/steakknife/bloomfilter"

	"github.com/CympleTech/TDN-sub000/log"
)

// FragmentHeaderLen is the size of the 24-byte chaining header prefixed to
// every UDP datagram (spec.md §4.1).
const FragmentHeaderLen = 24

// MaxFragmentPayload is the largest number of logical-message bytes carried
// by a single fragment; with the 24-byte header a datagram stays under the
// 65,507-byte maximum UDP payload over IPv4.
const MaxFragmentPayload = 65400

var (
	ErrFragmentTooShort = errors.New("wire: fragment shorter than header")
	ErrChainBroken      = errors.New("wire: fragment chain prev/next mismatch")
)

// Fragment is one `[ prev_sign | self_sign | next_sign | payload ]` datagram.
type Fragment struct {
	PrevSign uint64
	SelfSign uint64
	NextSign uint64
	Payload  []byte
}

// Encode serializes the fragment to its wire form.
func (f Fragment) Encode() []byte {
	buf := make([]byte, FragmentHeaderLen+len(f.Payload))
	binary.BigEndian.PutUint64(buf[0:8], f.PrevSign)
	binary.BigEndian.PutUint64(buf[8:16], f.SelfSign)
	binary.BigEndian.PutUint64(buf[16:24], f.NextSign)
	copy(buf[24:], f.Payload)
	return buf
}

// DecodeFragment parses a single received UDP datagram.
func DecodeFragment(b []byte) (Fragment, error) {
	if len(b) < FragmentHeaderLen {
		return Fragment{}, ErrFragmentTooShort
	}
	return Fragment{
		PrevSign: binary.BigEndian.Uint64(b[0:8]),
		SelfSign: binary.BigEndian.Uint64(b[8:16]),
		NextSign: binary.BigEndian.Uint64(b[16:24]),
		Payload:  append([]byte(nil), b[24:]...),
	}, nil
}

// FragmentMessage splits a snappy-compressed logical message into a chain of
// fragments no larger than MaxFragmentPayload, linking each one's
// prev_sign/next_sign to its neighbors as spec.md §4.1 describes. The first
// fragment's prev_sign equals its own self_sign; the last fragment's
// next_sign equals its own self_sign.
func FragmentMessage(msg []byte) ([]Fragment, error) {
	compressed := snappy.Encode(nil, msg)

	chunks := chunk(compressed, MaxFragmentPayload)
	signs := make([]uint64, len(chunks))
	for i := range signs {
		s, err := randomSign()
		if err != nil {
			return nil, err
		}
		signs[i] = s
	}

	frags := make([]Fragment, len(chunks))
	for i, c := range chunks {
		prev := signs[i]
		if i > 0 {
			prev = signs[i-1]
		}
		next := signs[i]
		if i < len(chunks)-1 {
			next = signs[i+1]
		}
		frags[i] = Fragment{PrevSign: prev, SelfSign: signs[i], NextSign: next, Payload: c}
	}
	return frags, nil
}

func chunk(b []byte, size int) [][]byte {
	if len(b) == 0 {
		return [][]byte{{}}
	}
	var out [][]byte
	for len(b) > 0 {
		n := size
		if n > len(b) {
			n = len(b)
		}
		out = append(out, b[:n])
		b = b[n:]
	}
	return out
}

func randomSign() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b[:]), nil
}

var logger = log.NewModuleLogger(log.ModuleWire)

// reassemblyTTL is the lifetime of an in-progress fragment chain before it
// is dropped as orphaned. spec.md §9 flags the unbounded buffer as a
// simplification and suggests exactly this value.
const reassemblyTTL = 30 * time.Second

// Reassembler joins fragment chains back into logical messages, deduping
// completed chains against a bloom filter the way a membership cache
// precedes an expensive exact lookup, then confirming with a map of exact
// chain keys (entries expire after reassemblyTTL) to keep the
// false-positive rate from ever surfacing as a dropped message.
type Reassembler struct {
	mu      sync.Mutex
	pending map[uint64]*chain // keyed by the chain's first self_sign
	seen    *dedupCache
}

type chain struct {
	bySelf    map[uint64]Fragment
	headSign  uint64
	firstSeen time.Time
}

// NewReassembler builds a Reassembler whose completed-chain dedup cache can
// hold approximately capacity entries at the given false-positive rate.
func NewReassembler(capacity uint64, falsePositiveRate float64) (*Reassembler, error) {
	cache, err := newDedupCache(capacity, falsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &Reassembler{
		pending: make(map[uint64]*chain),
		seen:    cache,
	}, nil
}

// Feed adds a fragment to its chain and returns the reassembled, decompressed
// logical message once the chain is complete. ok is false while the chain is
// still incomplete or the fragment was a duplicate of an already-completed
// chain.
func (r *Reassembler) Feed(f Fragment) (msg []byte, ok bool, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.evictExpiredLocked()

	headSign := f.PrevSign
	if existing, found := r.findChainLocked(f); found {
		headSign = existing
	}

	c, exists := r.pending[headSign]
	if !exists {
		c = &chain{bySelf: make(map[uint64]Fragment), headSign: headSign, firstSeen: time.Now()}
		r.pending[headSign] = c
	}
	c.bySelf[f.SelfSign] = f
	// A run of later fragments that arrived before f is keyed by f's
	// self_sign; fold it into f's chain so out-of-order delivery completes.
	if later, ok := r.pending[f.SelfSign]; ok && later != c {
		for s, lf := range later.bySelf {
			c.bySelf[s] = lf
		}
		delete(r.pending, f.SelfSign)
	}

	complete, ordered := tryAssemble(c)
	if !complete {
		return nil, false, nil
	}
	delete(r.pending, headSign)

	dedupeKey := dedupeKeyFor(ordered[0].SelfSign, ordered[len(ordered)-1].SelfSign, len(ordered))
	if r.seen.Contains(dedupeKey) {
		return nil, false, nil
	}
	r.seen.Add(dedupeKey)

	var compressed []byte
	for _, frag := range ordered {
		compressed = append(compressed, frag.Payload...)
	}
	msg, err = snappy.Decode(nil, compressed)
	if err != nil {
		return nil, false, err
	}
	return msg, true, nil
}

// findChainLocked locates the pending chain a fragment belongs to: the chain
// that already holds the fragment its prev_sign names, or the chain keyed by
// that prev_sign. It looks one link back only; Feed merges runs that meet.
func (r *Reassembler) findChainLocked(f Fragment) (uint64, bool) {
	for head, c := range r.pending {
		if _, ok := c.bySelf[f.PrevSign]; ok {
			return head, true
		}
		if head == f.PrevSign {
			return head, true
		}
	}
	return 0, false
}

func tryAssemble(c *chain) (bool, []Fragment) {
	first, ok := c.bySelf[c.headSign]
	if !ok {
		return false, nil
	}
	var ordered []Fragment
	cur := first
	for {
		ordered = append(ordered, cur)
		if cur.NextSign == cur.SelfSign {
			return true, ordered
		}
		next, ok := c.bySelf[cur.NextSign]
		if !ok {
			return false, nil
		}
		cur = next
	}
}

func (r *Reassembler) evictExpiredLocked() {
	now := time.Now()
	for head, c := range r.pending {
		if now.Sub(c.firstSeen) > reassemblyTTL {
			logger.Debug("dropping expired fragment chain", "head", head, "fragments", len(c.bySelf))
			delete(r.pending, head)
		}
	}
}

func dedupeKeyFor(first, last uint64, count int) []byte {
	b := make([]byte, 20)
	binary.BigEndian.PutUint64(b[0:8], first)
	binary.BigEndian.PutUint64(b[8:16], last)
	binary.BigEndian.PutUint32(b[16:20], uint32(count))
	return b
}

// dedupCache puts a bloom filter in front of an exact-match map the way
// klaytn's devp2p code precedes an expensive lookup with a cheap membership
// test: the bloom filter answers "definitely not seen" in O(1) without a map
// lookup, and only a possible hit falls through to the map for a precise
// answer. Map entries expire after ttl; both checks run under one mutex.
type dedupCache struct {
	mu     sync.Mutex
	filter *bloomfilter.Filter
	lru    map[string]time.Time
	ttl    time.Duration
}

func newDedupCache(capacity uint64, falsePositiveRate float64) (*dedupCache, error) {
	f, err := bloomfilter.NewOptimal(capacity, falsePositiveRate)
	if err != nil {
		return nil, err
	}
	return &dedupCache{filter: f, lru: make(map[string]time.Time), ttl: reassemblyTTL}, nil
}

func (d *dedupCache) Contains(key []byte) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.filter.Contains(hash64(key)) {
		return false
	}
	seenAt, ok := d.lru[string(key)]
	return ok && time.Since(seenAt) < d.ttl
}

func (d *dedupCache) Add(key []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.filter.Add(hash64(key))
	d.lru[string(key)] = time.Now()
	d.evictLocked()
}

// hash64 adapts a raw byte key to the hash.Hash64 the bloom filter consumes.
func hash64(key []byte) hash.Hash64 {
	h := fnv.New64a()
	h.Write(key)
	return h
}

func (d *dedupCache) evictLocked() {
	now := time.Now()
	for k, t := range d.lru {
		if now.Sub(t) > d.ttl {
			delete(d.lru, k)
		}
	}
}
