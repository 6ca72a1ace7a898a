// Package config defines the Config this engine is started with, and the
// defaults spec.md §6 specifies. Cache-size defaults scale with live system
// memory via pbnjay/memory, mirroring the teacher's own memory-aware
// cache-sizing philosophy.
package config

import (
	"net"
	"time"

	"github.com/alecthomas/units"
	"github.com/pbnjay/memory"

	"github.com/CympleTech/TDN-sub000/common"
)

// BootstrapPeer is one entry in the Config's bootstrap list.
type BootstrapPeer struct {
	Peer   common.PeerId
	Socket *net.UDPAddr
}

// Config holds every startup-time setting spec.md §6 names.
type Config struct {
	// P2PAddress is the local UDP socket this node listens on.
	P2PAddress string

	// GroupId is the default group this node joins at startup.
	GroupId common.GroupId

	// BootstrapPeers seeds the routing table before any DHT gossip arrives.
	BootstrapPeers []BootstrapPeer

	// PBFT quorum rate numerator/denominator (spec.md §4.6), passed to
	// pbft.New. The engine's quorum check uses the fixed 2(n+1) <= 3v
	// threshold and does not read these values.
	PBFTRateNumerator   int
	PBFTRateDenominator int

	// GossipK is the fan-out width per round (spec.md §4.5).
	GossipK int
	// GossipRatio is the quorum-of-quorums confirmation threshold.
	GossipRatioNumerator   int
	GossipRatioDenominator int

	// Block timing bounds, in seconds (spec.md §4.6).
	BlockMinSeconds int
	BlockMaxSeconds int

	// ChainCacheCapacity is not read by any component; the PBFT engine's
	// chain length is its own fixed constant.
	ChainCacheCapacity int

	// FragmentBufferCapacity is not read by any component; the transport
	// sizes the wire reassembly dedup cache with its own fixed constant.
	FragmentBufferCapacity uint64
	// GossipEventCacheCapacity sizes the buffer of each group's gossip
	// Confirm channel (node.JoinGroup).
	GossipEventCacheCapacity int
	// RoutingRecentSeenCapacity is not read by any component.
	RoutingRecentSeenCapacity int

	// DataDir is where the Store persists chain/block/dht/data keyspaces.
	DataDir string
	// TemplateDir, if set, seeds DataDir via storage.Bootstrap on first run.
	TemplateDir string

	// NAT is a nat.Parse-compatible mechanism spec ("none", "upnp", "pmp",
	// "extip:<ip>"); empty means "none".
	NAT string
}

// Default returns the spec.md §6 default configuration, with cache
// capacities scaled to the host's available memory.
func Default() *Config {
	scale := memoryScale()
	return &Config{
		P2PAddress:                "0.0.0.0:7364",
		PBFTRateNumerator:         2,
		PBFTRateDenominator:       3,
		GossipK:                   1,
		GossipRatioNumerator:      2,
		GossipRatioDenominator:    3,
		BlockMinSeconds:           5,
		BlockMaxSeconds:           20,
		ChainCacheCapacity:        100,
		FragmentBufferCapacity:    scaleU64(10_000, scale),
		GossipEventCacheCapacity:  scaleInt(4096, scale),
		RoutingRecentSeenCapacity: scaleInt(1024, scale),
		NAT:                       "none",
	}
}

// BlockMin/BlockMax as time.Duration, for components that want a Duration
// rather than a raw second count.
func (c *Config) BlockMin() time.Duration { return time.Duration(c.BlockMinSeconds) * time.Second }
func (c *Config) BlockMax() time.Duration { return time.Duration(c.BlockMaxSeconds) * time.Second }

// ParseSize parses a human-readable byte size ("64MiB", "512KB") the way an
// operator-facing cache-size flag would, via alecthomas/units - matching the
// teacher's own flag parsing idiom for size-valued CLI options.
func ParseSize(s string) (int64, error) {
	return units.ParseStrictBytes(s)
}

// memoryScale tiers live system memory into a fraction in [0,1] so cache-
// capacity defaults shrink on a memory-constrained host, the teacher's own
// memory-aware cache-sizing philosophy computed live via pbnjay/memory
// instead of a static operator-set value.
func memoryScale() float64 {
	total := memory.TotalMemory()
	switch {
	case total == 0:
		return 1.0
	case total < 1<<30:
		return 0.25
	case total < 4<<30:
		return 0.60
	default:
		return 1.0
	}
}

func scaleInt(base int, scale float64) int {
	v := int(float64(base) * scale)
	if v < 1 {
		v = 1
	}
	return v
}

func scaleU64(base uint64, scale float64) uint64 {
	v := uint64(float64(base) * scale)
	if v < 1 {
		v = 1
	}
	return v
}
