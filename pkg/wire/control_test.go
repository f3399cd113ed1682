/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeControlVectors(t *testing.T) {
	c, n, err := DecodeControl([]byte{0x68})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.True(t, c.Broadcast)
	require.EqualValues(t, 2, c.Proto)
	require.EqualValues(t, 2, c.Algo)

	c, n, err = DecodeControl([]byte{0xff, 0x7f})
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.True(t, c.Broadcast)
	require.EqualValues(t, 15, c.Proto)
	require.EqualValues(t, 7, c.Algo)

	_, _, err = DecodeControl([]byte{0xff, 0xff})
	require.ErrorIs(t, err, ErrParseControlUnfinished)
}

func TestControlRoundTrip(t *testing.T) {
	for algo := SecurityMode(0); algo <= 7; algo++ {
		for proto := uint8(0); proto <= 15; proto++ {
			for _, bc := range []bool{true, false} {
				c := Control{Broadcast: bc, Algo: algo, Proto: proto}
				enc := c.Encode(nil)
				got, n, err := DecodeControl(enc)
				require.NoError(t, err)
				require.Equal(t, len(enc), n)
				require.Equal(t, c, got)
				if algo <= 3 && proto <= 3 {
					require.Len(t, enc, 1)
				} else {
					require.Len(t, enc, 2)
				}
			}
		}
	}
}
