/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import "github.com/iqyx/umeshfw/pkg/wire"

// receive is the L2 receive path (C8, §4.1): strictly serial per §5 (the
// radio is half-duplex, so there is never more than one frame in flight),
// demultiplexing by destination TID or the broadcast flag, decrypting via
// the neighbour's best key session, and handing the payload to the L3
// registry. Mirrors the teacher's RoutineReceiveIncoming/RoutineDecryption
// pipeline collapsed into one synchronous call, since there is no socket
// fan-in here to justify separate goroutines.
func (s *Stack) receive(raw []byte, meta RxMeta) {
	src, algo, err := wire.PeekHeader(raw)
	if err != nil {
		// Can't even read the control/TID fields; nothing to key off of.
		s.log.Verbosef("recv: malformed frame: %v", err)
		return
	}

	n, _, err := s.neighbours.Touch(src, meta.RSSITenthsDBm, meta.FEIHz)
	if err != nil {
		s.log.Verbosef("recv: neighbour table full, dropping from %d", src)
		return
	}

	var key []byte
	if algo != wire.SecurityNone && algo != wire.SecurityCRC16CCITT && algo != wire.SecurityCRC32 {
		ref := n.KeySessionRef()
		sess, ok := s.keySessions.arena.Get(ref)
		if !ok || !sess.IsManaged() {
			n.recordRXDropped()
			s.log.Verbosef("recv: no managed key session for %d, dropping secured frame", src)
			return
		}
		k := sess.RXKeyCopy()
		key = k[:]
	}

	frame, err := wire.Decode(raw, key)
	if err != nil {
		n.recordRXDropped()
		s.log.Verbosef("recv: decode failed from %d: %v", src, err)
		return
	}

	if !frame.Broadcast && frame.Dst != s.discovery.LocalTID() {
		return // not for us, and we don't forward (§1 Non-goal: no routing)
	}

	n.recordRXSuccess(len(frame.Payload))

	if frame.Proto == ProtoDiscovery {
		if _, err := DecodeAdvBasic(frame.Payload); err != nil {
			n.recordRXDropped()
		}
		return
	}

	if !s.registry.Dispatch(frame.Proto, frame.Src, frame.Broadcast, frame.Payload) {
		n.recordRXDropped()
	}
}
