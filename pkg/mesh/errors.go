/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import "errors"

var (
	ErrRadioBusy     = errors.New("mesh: radio busy")
	ErrNoFreeSlot    = errors.New("mesh: no free session slot")
	ErrNoNeighbour   = errors.New("mesh: unknown neighbour")
	ErrNoLocalTID    = errors.New("mesh: no local tid assigned")
	ErrNoDestination = errors.New("mesh: frame needs a destination tid or the broadcast flag")
	ErrNotManaged    = errors.New("mesh: no managed key session for peer")
	ErrUnknownProto  = errors.New("mesh: no handler registered for l3 protocol")

	ErrSessionTimedOut = errors.New("mesh: file-transfer session exceeded its running timeout")
)
