/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"encoding/binary"
	"sync"
)

// ProtoStatus is the reserved L3 protocol id for status broadcasts (C11,
// new in the expanded design: a periodic broadcast beacon distinct from
// discovery's ADV_BASIC, carrying coarse health counters so
// neighbours can distinguish "alive but quiet" from "gone" without waiting
// out the full unreachable-time threshold).
const ProtoStatus uint8 = 2

const statusIntervalMS = 5_000

// StatusBroadcaster periodically emits a small health summary payload
// (§4.12 of the expanded design). Stack.Step broadcasts it with
// wire.ClassNone, so the frame carries no CRC or other integrity trailer;
// Stack.Send does not accept a verify class on broadcast frames.
type StatusBroadcaster struct {
	mu          sync.Mutex
	sinceLastMS int64
}

// StatusPayload is the small counters snapshot carried on the wire.
type StatusPayload struct {
	UptimeSeconds  uint32
	NeighbourCount uint8
	FreeKeySlots   uint8
}

func (p StatusPayload) Encode() []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint32(buf[0:4], p.UptimeSeconds)
	buf[4] = p.NeighbourCount
	buf[5] = p.FreeKeySlots
	return buf
}

func DecodeStatusPayload(b []byte) (StatusPayload, error) {
	if len(b) < 6 {
		return StatusPayload{}, ErrUnknownProto
	}
	return StatusPayload{
		UptimeSeconds:  binary.BigEndian.Uint32(b[0:4]),
		NeighbourCount: b[4],
		FreeKeySlots:   b[5],
	}, nil
}

// Step advances the broadcaster's timer, returning a payload to send when
// the 5-second cadence is due.
func (b *StatusBroadcaster) Step(elapsedMS int64, snapshot func() StatusPayload) ([]byte, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sinceLastMS += elapsedMS
	if b.sinceLastMS < statusIntervalMS {
		return nil, false
	}
	b.sinceLastMS = 0
	return snapshot().Encode(), true
}
