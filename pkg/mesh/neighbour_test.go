/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iqyx/umeshfw/pkg/wire"
)

func TestNeighbourTableTouchInsertsNew(t *testing.T) {
	tbl := NewNeighbourTable(4)

	n, inserted, err := tbl.Touch(wire.TID(100), -500, 10)
	require.NoError(t, err)
	require.True(t, inserted)
	require.Equal(t, NeighbourNew, n.State)

	n2, inserted2, err := tbl.Touch(wire.TID(100), -480, 12)
	require.NoError(t, err)
	require.False(t, inserted2)
	require.Same(t, n, n2)
}

func TestNeighbourTableFullReturnsErrNoFreeSlot(t *testing.T) {
	tbl := NewNeighbourTable(1)

	_, _, err := tbl.Touch(wire.TID(1), 0, 0)
	require.NoError(t, err)

	_, _, err = tbl.Touch(wire.TID(2), 0, 0)
	require.ErrorIs(t, err, ErrNoFreeSlot)
}

func TestNeighbourUnreachableTimeoutReclaimsSlot(t *testing.T) {
	tbl := NewNeighbourTable(2)
	_, _, err := tbl.Touch(wire.TID(7), 0, 0)
	require.NoError(t, err)

	tbl.Step(NeighbourUnreachableThreshold + 1)

	_, ok := tbl.Lookup(wire.TID(7))
	require.False(t, ok, "neighbour should have been reclaimed once unreachable-time exceeded the threshold")
}

func TestNeighbourNewStateTimesOutToGuardThenBackToNewOnRetouch(t *testing.T) {
	tbl := NewNeighbourTable(2)
	_, _, err := tbl.Touch(wire.TID(7), 0, 0)
	require.NoError(t, err)

	tbl.Step(NeighbourTimeoutNewMS + 1)
	n, ok := tbl.Lookup(wire.TID(7))
	require.True(t, ok)
	require.Equal(t, NeighbourGuard, n.State)

	_, _, err = tbl.Touch(wire.TID(7), 0, 0)
	require.NoError(t, err)
	require.Equal(t, NeighbourNew, n.State)
}

func TestNextTXNonceIsMonotone(t *testing.T) {
	n := &Neighbour{}
	a := n.NextTXNonce()
	b := n.NextTXNonce()
	c := n.NextTXNonce()
	require.Equal(t, uint16(0), a)
	require.Equal(t, uint16(1), b)
	require.Equal(t, uint16(2), c)
}
