/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"sync"

	"github.com/iqyx/umeshfw/pkg/wire"
)

// NeighbourState is a 1-hop neighbour's lifecycle state (§3).
type NeighbourState int

const (
	NeighbourEmpty NeighbourState = iota
	NeighbourNew
	NeighbourValid
	NeighbourGuard
	NeighbourOld
)

func (s NeighbourState) String() string {
	switch s {
	case NeighbourEmpty:
		return "EMPTY"
	case NeighbourNew:
		return "NEW"
	case NeighbourValid:
		return "VALID"
	case NeighbourGuard:
		return "GUARD"
	case NeighbourOld:
		return "OLD"
	default:
		return "UNKNOWN"
	}
}

// Neighbour state-timeout defaults, in milliseconds. Not stated as fixed
// numbers in spec.md beyond the transition shapes, so picked here in the
// spirit of the key manager's own timeout table (§3) and documented as an
// Open Question resolution in DESIGN.md.
const (
	NeighbourTimeoutNewMS         = 5_000
	NeighbourTimeoutValidMS       = 60_000
	NeighbourTimeoutGuardMS       = 10_000
	NeighbourUnreachableThreshold = 300_000
)

// Neighbour is one 1-hop peer record (C3), keyed by TID in the Stack's
// NeighbourTable. Mutex granularity matches the teacher's per-Peer lock
// discipline (see Peer.endpoint, Peer.timers in the teacher).
type Neighbour struct {
	mu sync.Mutex

	TID   wire.TID
	State NeighbourState

	stateTimeoutMS     int64
	unreachableTimeMS  int64

	LastRSSITenthsDBm int16
	LastFEIHz         int32
	LQIPercent        uint8

	txCounter uint16 // per-neighbour monotone nonce counter, current key epoch

	RXPackets, RXBytes, RXDropped uint64
	TXPackets, TXBytes            uint64

	bestKeySession Ref // weak reference into the Stack's KeySessionTable
}

// NeighbourTable is the fixed-size, TID-indexed neighbour arena (C3).
type NeighbourTable struct {
	mu    sync.RWMutex
	arena *Arena[Neighbour]
	byTID map[wire.TID]Ref
}

func NewNeighbourTable(capacity int) *NeighbourTable {
	return &NeighbourTable{
		arena: NewArena[Neighbour](capacity),
		byTID: make(map[wire.TID]Ref, capacity),
	}
}

// Lookup finds the neighbour record for tid, if any.
func (t *NeighbourTable) Lookup(tid wire.TID) (*Neighbour, bool) {
	t.mu.RLock()
	ref, ok := t.byTID[tid]
	t.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return t.arena.Get(ref)
}

// Touch updates (inserting if absent) the neighbour record for tid with a
// fresh advertisement/data-frame observation, per §4.3's receive handling:
// "update or insert a neighbour record... set unreachable-time to 0; if
// inserting, enter NEW state." Returns the record and whether it was newly
// inserted.
func (t *NeighbourTable) Touch(tid wire.TID, rssi int16, fei int32) (*Neighbour, bool, error) {
	t.mu.Lock()
	ref, ok := t.byTID[tid]
	if ok {
		t.mu.Unlock()
		n, ok := t.arena.Get(ref)
		if !ok {
			return nil, false, ErrNoFreeSlot
		}
		n.mu.Lock()
		n.LastRSSITenthsDBm = rssi
		n.LastFEIHz = fei
		n.unreachableTimeMS = 0
		if n.State == NeighbourGuard {
			n.State = NeighbourNew
			n.stateTimeoutMS = NeighbourTimeoutNewMS
		}
		n.mu.Unlock()
		return n, false, nil
	}

	ref, slot, ok := t.arena.Alloc()
	if !ok {
		t.mu.Unlock()
		return nil, false, ErrNoFreeSlot
	}
	slot.TID = tid
	slot.State = NeighbourNew
	slot.stateTimeoutMS = NeighbourTimeoutNewMS
	slot.LastRSSITenthsDBm = rssi
	slot.LastFEIHz = fei
	t.byTID[tid] = ref
	t.mu.Unlock()
	return slot, true, nil
}

// LookupRef finds the arena reference for tid, if any, for callers that
// need to store a back-reference (the key manager's neighbour field)
// without holding onto the *Neighbour itself.
func (t *NeighbourTable) LookupRef(tid wire.TID) (Ref, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ref, ok := t.byTID[tid]
	return ref, ok
}

// MarkManaged transitions a NEW neighbour to VALID once the key manager
// has been asked to manage it (§3 lifecycle: "NEW→VALID once key manager
// is asked to manage the peer").
func (t *NeighbourTable) MarkManaged(n *Neighbour, keySession Ref) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.State == NeighbourNew {
		n.State = NeighbourValid
		n.stateTimeoutMS = NeighbourTimeoutValidMS
	}
	n.bestKeySession = keySession
}

// Step advances every neighbour record's timers by elapsedMS, applying
// state-timeout and unreachable-timeout transitions (§3), and reclaims OLD
// records to EMPTY.
func (t *NeighbourTable) Step(elapsedMS int64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	toFree := make([]Ref, 0)
	t.arena.Each(func(ref Ref, n *Neighbour) {
		n.mu.Lock()
		defer n.mu.Unlock()

		n.unreachableTimeMS += elapsedMS
		if n.State != NeighbourEmpty && n.unreachableTimeMS > NeighbourUnreachableThreshold {
			n.State = NeighbourOld
			n.stateTimeoutMS = 0
		}

		switch n.State {
		case NeighbourOld:
			toFree = append(toFree, ref)
		case NeighbourValid:
			n.stateTimeoutMS -= elapsedMS
			if n.stateTimeoutMS <= 0 {
				n.State = NeighbourNew
				n.stateTimeoutMS = NeighbourTimeoutNewMS
			}
		case NeighbourNew:
			n.stateTimeoutMS -= elapsedMS
			if n.stateTimeoutMS <= 0 {
				n.State = NeighbourGuard
				n.stateTimeoutMS = NeighbourTimeoutGuardMS
			}
		case NeighbourGuard:
			n.stateTimeoutMS -= elapsedMS
			if n.stateTimeoutMS <= 0 {
				n.State = NeighbourOld // reclaimed on the next Step
				n.stateTimeoutMS = 0
			}
		}
	})

	for _, ref := range toFree {
		n, ok := t.arena.Get(ref)
		if !ok {
			continue
		}
		delete(t.byTID, n.TID)
		t.arena.Free(ref)
	}
}

// NextTXNonce returns the next nonce to use for an outbound frame to this
// neighbour, strictly monotone across successful sends within a key
// epoch (§5/§8's nonce-uniqueness invariant).
func (n *Neighbour) NextTXNonce() uint16 {
	n.mu.Lock()
	defer n.mu.Unlock()
	v := n.txCounter
	n.txCounter++
	return v
}

// NearingNonceExhaustion reports whether the per-neighbour counter is
// close enough to wrapping that a rekey should be forced regardless of the
// MANAGED timeout (Design Notes §9: "implementations must rekey on counter
// exhaustion regardless of timeout").
func (n *Neighbour) NearingNonceExhaustion() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.txCounter >= 65_000
}

func (n *Neighbour) recordRXSuccess(payloadLen int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.RXPackets++
	n.RXBytes += uint64(payloadLen)
}

func (n *Neighbour) recordRXDropped() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.RXDropped++
}

func (n *Neighbour) recordTX(payloadLen int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.TXPackets++
	n.TXBytes += uint64(payloadLen)
}

// KeySessionRef returns the neighbour's best known key-management session
// reference, which the L2 send and receive paths use to pick their keys.
func (n *Neighbour) KeySessionRef() Ref {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.bestKeySession
}
