/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package mesh implements the uMesh neighbour table, key manager, 3DH
// engine, file-transfer engine, and L2/L3 send/receive paths: everything
// the teacher keeps in its single device package (Device/Peer/Handshake/
// Keypair plus the send/receive routines), adapted from an IP-host Noise
// tunnel onto a TID-addressed radio mesh.
package mesh

// Ref is a generation-checked reference into an Arena slot, guarding
// against stale cross-references when a slot is recycled — the arena +
// index scheme Design Notes §9 asks for in place of the teacher's
// map[NoisePublicKey]*Peer and raw pointers between Peer and Handshake.
type Ref struct {
	index int
	gen   uint32
}

// Valid reports whether r was ever populated by Arena.Alloc (the zero Ref
// is never valid, since generations start at 1).
func (r Ref) Valid() bool { return r.gen != 0 }

type arenaSlot[T any] struct {
	gen   uint32
	value T
	used  bool
}

// Arena is a fixed-capacity, pre-allocated table of T indexed by Ref.
// There is no dynamic growth: Alloc fails once every slot is in use,
// matching §5's "all session tables are pre-allocated fixed-size arrays;
// no dynamic growth".
type Arena[T any] struct {
	slots []arenaSlot[T]
}

// NewArena allocates an Arena with room for exactly capacity elements.
func NewArena[T any](capacity int) *Arena[T] {
	return &Arena[T]{slots: make([]arenaSlot[T], capacity)}
}

// Cap returns the arena's fixed capacity.
func (a *Arena[T]) Cap() int { return len(a.slots) }

// Alloc claims the first free slot, bumping its generation, and returns a
// Ref plus a pointer to the zero-valued slot for the caller to populate.
// The second return is false if every slot is in use.
func (a *Arena[T]) Alloc() (Ref, *T, bool) {
	for i := range a.slots {
		if !a.slots[i].used {
			a.slots[i].used = true
			a.slots[i].gen++
			var zero T
			a.slots[i].value = zero
			return Ref{index: i, gen: a.slots[i].gen}, &a.slots[i].value, true
		}
	}
	return Ref{}, nil, false
}

// Get resolves ref to its slot, returning false if ref is stale (the slot
// was freed and possibly reused) or out of range.
func (a *Arena[T]) Get(ref Ref) (*T, bool) {
	if ref.index < 0 || ref.index >= len(a.slots) {
		return nil, false
	}
	s := &a.slots[ref.index]
	if !s.used || s.gen != ref.gen {
		return nil, false
	}
	return &s.value, true
}

// Free releases ref's slot back to the pool, if ref is still current.
func (a *Arena[T]) Free(ref Ref) {
	if ref.index < 0 || ref.index >= len(a.slots) {
		return
	}
	s := &a.slots[ref.index]
	if s.gen == ref.gen {
		s.used = false
		var zero T
		s.value = zero
	}
}

// Each calls fn for every currently-used slot, in index order.
func (a *Arena[T]) Each(fn func(Ref, *T)) {
	for i := range a.slots {
		if a.slots[i].used {
			fn(Ref{index: i, gen: a.slots[i].gen}, &a.slots[i].value)
		}
	}
}
