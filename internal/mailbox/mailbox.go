// Package mailbox implements a bounded-retry send: a failed attempt is
// retried a few times before the message is dropped rather than blocking the
// sender indefinitely (spec.md §5, §4.3's send-failure semantics). Its
// callers are the gossip engine's non-blocking Confirm channel send and the
// transport's outbound UDP writes; the bridge and the PBFT engine do not use
// it. Grounded
// on the teacher's goroutine+channel actor shape in
// `networks/p2p/peer.go`/`consensus/istanbul/core/handler.go`, which never
// blocks a caller on a full queue either.
package mailbox

import (
	"time"

	"github.com/CympleTech/TDN-sub000/log"
)

// Capacity is a channel buffer size of 100. No channel in this module is
// sized from it; node.JoinGroup sizes the gossip Confirm channel from
// config.GossipEventCacheCapacity.
const Capacity = 100

const (
	maxAttempts   = 3
	retryInterval = 100 * time.Millisecond
)

var logger = log.NewModuleLogger(log.ModuleCommon)

// Send attempts to deliver msg to ch up to maxAttempts times, sleeping
// retryInterval between attempts, and logs-and-drops on final failure. It
// never blocks the caller past the last attempt.
func Send(ch chan<- interface{}, msg interface{}) {
	Try(func() bool {
		select {
		case ch <- msg:
			return true
		default:
			return false
		}
	})
}

// Try runs attempt up to maxAttempts times, sleeping retryInterval between
// tries, and logs-and-drops if every attempt reports failure. Callers with a
// concretely typed channel pass a closure wrapping their own select so the
// channel keeps its static type instead of going through interface{}.
func Try(attempt func() bool) {
	for i := 1; i <= maxAttempts; i++ {
		if attempt() {
			return
		}
		if i < maxAttempts {
			time.Sleep(retryInterval)
		}
	}
	logger.Warn("mailbox full, dropping message", "attempts", maxAttempts)
}
