// Package hlc implements the hybrid logical clock used to order causal
// deltas across the replication subsystem. A single Clock is owned per
// node identity; Now advances it lock-free under concurrent callers.
package hlc

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Timestamp is a single HLC reading: physical wall-clock time in
// milliseconds since the Unix epoch (sub-millisecond resolution is not
// kept), a
// logical counter that breaks ties within the same physical tick, and the
// node that produced it (the final tie-breaker for total ordering across
// nodes).
type Timestamp struct {
	Physical int64  `json:"physical"`
	Counter  uint32 `json:"counter"`
	NodeID   string `json:"node_id"`
}

// Compare implements the total order: physical, then counter, then
// node_id lexicographically. Returns -1, 0, or 1.
func (t Timestamp) Compare(o Timestamp) int {
	if t.Physical != o.Physical {
		if t.Physical < o.Physical {
			return -1
		}
		return 1
	}
	if t.Counter != o.Counter {
		if t.Counter < o.Counter {
			return -1
		}
		return 1
	}
	if t.NodeID == o.NodeID {
		return 0
	}
	if t.NodeID < o.NodeID {
		return -1
	}
	return 1
}

// Before reports whether t strictly precedes o in the total order.
func (t Timestamp) Before(o Timestamp) bool { return t.Compare(o) < 0 }

func (t Timestamp) String() string {
	return fmt.Sprintf("%d.%d@%s", t.Physical, t.Counter, t.NodeID)
}

// packed bit-layout of the atomic word: high 48 bits physical
// milliseconds, low 16 bits counter. Milliseconds give ~8900
// years of range, comfortably outliving the node_id side-channel.
const counterBits = 16
const counterMask = (uint64(1) << counterBits) - 1

func pack(physicalMs int64, counter uint32) uint64 {
	return uint64(physicalMs)<<counterBits | (uint64(counter) & counterMask)
}

func unpack(word uint64) (physicalMs int64, counter uint32) {
	return int64(word >> counterBits), uint32(word & counterMask)
}

// Clock is a per-node hybrid logical clock. The zero value is not usable;
// construct with New. Now and Observe are safe for concurrent use and
// never block.
type Clock struct {
	nodeID string
	word   atomic.Uint64
}

// New returns a Clock for the given node identity, seeded at the current
// wall-clock time.
func New(nodeID string) *Clock {
	c := &Clock{nodeID: nodeID}
	c.word.Store(pack(time.Now().UnixMilli(), 0))
	return c
}

// Now advances the clock past both its previous value and wall-clock time
// and returns the new Timestamp. CAS-retries under contention instead of
// taking a lock.
func (c *Clock) Now() Timestamp {
	for {
		old := c.word.Load()
		oldPhys, oldCounter := unpack(old)
		wallMs := time.Now().UnixMilli()

		var newPhys int64
		var newCounter uint32
		if wallMs > oldPhys {
			newPhys, newCounter = wallMs, 0
		} else {
			newPhys, newCounter = oldPhys, oldCounter+1
		}
		next := pack(newPhys, newCounter)
		if c.word.CompareAndSwap(old, next) {
			return Timestamp{Physical: newPhys, Counter: newCounter, NodeID: c.nodeID}
		}
	}
}

// Observe folds a remote Timestamp into the clock (the HLC "receive"
// rule), ensuring any subsequent local Now() sorts after remote. Returns
// the resulting local Timestamp.
func (c *Clock) Observe(remote Timestamp) Timestamp {
	for {
		old := c.word.Load()
		oldPhys, oldCounter := unpack(old)
		wallMs := time.Now().UnixMilli()

		maxPhys := oldPhys
		if wallMs > maxPhys {
			maxPhys = wallMs
		}
		if remote.Physical > maxPhys {
			maxPhys = remote.Physical
		}

		var newCounter uint32
		switch {
		case maxPhys == oldPhys && maxPhys == remote.Physical:
			if oldCounter > remote.Counter {
				newCounter = oldCounter + 1
			} else {
				newCounter = remote.Counter + 1
			}
		case maxPhys == oldPhys:
			newCounter = oldCounter + 1
		case maxPhys == remote.Physical:
			newCounter = remote.Counter + 1
		default:
			newCounter = 0
		}

		next := pack(maxPhys, newCounter)
		if c.word.CompareAndSwap(old, next) {
			return Timestamp{Physical: maxPhys, Counter: newCounter, NodeID: c.nodeID}
		}
	}
}

// NodeID returns the identity this clock stamps timestamps with.
func (c *Clock) NodeID() string { return c.nodeID }
