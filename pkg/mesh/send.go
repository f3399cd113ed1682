/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import "github.com/iqyx/umeshfw/pkg/wire"

// Send is the L2 send path (C9, §4.1): picks the destination's best
// MANAGED key session (or sends unsecured, for discovery and broadcast
// traffic that predates any key agreement), assigns the next nonce, and
// hands a fully-assembled frame to the Radio. Mirrors the teacher's
// SendBuffers, generalized from a fixed Noise transport mode to uMesh's
// selectable per-frame SecurityMode.
func (s *Stack) Send(dst wire.TID, broadcast bool, proto uint8, class wire.SecurityClass, payload []byte) error {
	if !broadcast && dst == 0 {
		return ErrNoDestination
	}

	f := wire.Frame{
		Src:       s.discovery.LocalTID(),
		Dst:       dst,
		Broadcast: broadcast,
		Proto:     proto,
		Payload:   payload,
	}

	var key []byte
	var n *Neighbour

	if !broadcast {
		var ok bool
		n, ok = s.neighbours.Lookup(dst)
		if !ok {
			return ErrNoNeighbour
		}
	}

	if class != wire.ClassNone {
		if n == nil {
			return ErrNoDestination // broadcast frames can't be secured to a single key
		}
		ref := n.KeySessionRef()
		sess, ok := s.keySessions.arena.Get(ref)
		if !ok || !sess.IsManaged() {
			return ErrNotManaged
		}
		f.Algo = securityModeFor(class, sess.Algo)
		k := sess.TXKeyCopy()
		key = k[:]
		f.Nonce = n.NextTXNonce()
		if n.NearingNonceExhaustion() {
			// Force a rekey ahead of the 16-bit counter wrapping,
			// regardless of how much MANAGED lifetime remains (Design
			// Notes §9).
			s.keySessions.ForceExpire(ref)
		}
	} else {
		f.Algo = wire.SecurityNone
	}

	buf, err := f.Encode(nil, key)
	if err != nil {
		return err
	}
	if err := s.radio.Send(buf); err != nil {
		return err
	}
	if n != nil {
		n.recordTX(len(payload))
	}
	return nil
}

// securityModeFor maps a caller's requested SecurityClass onto a concrete
// wire.SecurityMode, preferring the session's already-agreed algorithm
// family where the class allows more than one encoding (§4.1's
// class-to-mode mapping).
func securityModeFor(class wire.SecurityClass, agreed wire.SecurityMode) wire.SecurityMode {
	switch class {
	case wire.ClassVerify:
		if agreed == wire.SecurityCRC32 {
			return wire.SecurityCRC32
		}
		return wire.SecurityCRC16CCITT
	case wire.ClassAuthenticatedEncrypted:
		return agreed
	default:
		return wire.SecurityNone
	}
}
