/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"sync"

	"github.com/iqyx/umeshfw/pkg/wire"
)

// ProtoDiscovery is the reserved L3 protocol id for neighbour-discovery
// frames (ADV_BASIC), per §6's reserved protocol-id range.
const ProtoDiscovery uint8 = 0

const discoveryIntervalMS = 100

// Discovery owns TID rotation and periodic ADV_BASIC broadcasts (C4).
type Discovery struct {
	mu sync.Mutex

	localTID    wire.TID
	rng         RNG
	sinceLastMS int64

	rotationIntervalMS int64
	sinceRotationMS    int64
}

// NewDiscovery picks an initial random TID and sets the default rotation
// interval (§4.3: "local TID rotates on a timer to bound tracking by
// passive observers").
func NewDiscovery(rng RNG, rotationIntervalMS int64) (*Discovery, error) {
	d := &Discovery{rng: rng, rotationIntervalMS: rotationIntervalMS}
	tid, err := d.randomTID()
	if err != nil {
		return nil, err
	}
	d.localTID = tid
	return d, nil
}

func (d *Discovery) randomTID() (wire.TID, error) {
	var buf [4]byte
	if err := d.rng.Read(buf[:]); err != nil {
		return 0, err
	}
	v := uint32(buf[0]) | uint32(buf[1])<<8 | uint32(buf[2])<<16 | uint32(buf[3])<<24
	return wire.TID(v), nil
}

// LocalTID returns the currently active local TID.
func (d *Discovery) LocalTID() wire.TID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.localTID
}

// AdvBasic is the neighbour-discovery advertisement payload (§4.3):
// just enough for a receiver to learn of the sender's existence and link
// quality, with no key material.
type AdvBasic struct {
	TxPowerDBm int8
	Capability uint8
}

func (a AdvBasic) Encode() []byte {
	return []byte{byte(a.TxPowerDBm), a.Capability}
}

func DecodeAdvBasic(b []byte) (AdvBasic, error) {
	if len(b) < 2 {
		return AdvBasic{}, ErrUnknownProto
	}
	return AdvBasic{TxPowerDBm: int8(b[0]), Capability: b[1]}, nil
}

// Step advances the broadcast and rotation timers, returning a frame to
// broadcast when due (caller is responsible for handing it to the L2 send
// path) and whether the local TID just rotated.
func (d *Discovery) Step(elapsedMS int64, adv AdvBasic) (toSend []byte, rotated bool, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.sinceLastMS += elapsedMS
	d.sinceRotationMS += elapsedMS

	if d.rotationIntervalMS > 0 && d.sinceRotationMS >= d.rotationIntervalMS {
		tid, err := d.randomTID()
		if err != nil {
			return nil, false, err
		}
		d.localTID = tid
		d.sinceRotationMS = 0
		rotated = true
	}

	if d.sinceLastMS >= discoveryIntervalMS {
		d.sinceLastMS = 0
		toSend = adv.Encode()
	}
	return toSend, rotated, nil
}
