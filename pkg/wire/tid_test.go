/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeTIDVectors(t *testing.T) {
	cases := []struct {
		in   TID
		want []byte
	}{
		{35, []byte{0x23}},
		{2356, []byte{0x92, 0x34}},
		{3675869435, []byte{0x8d, 0xd8, 0xe5, 0xa1, 0x7b}},
		{0, []byte{0x00}},
	}
	for _, c := range cases {
		got := AppendTID(nil, c.in)
		require.Equal(t, c.want, got, "encode %d", c.in)
	}
}

func TestTIDRoundTrip(t *testing.T) {
	values := []TID{0, 1, 35, 127, 128, 2356, 16384, 1 << 20, 1<<32 - 1, 3675869435}
	for _, v := range values {
		enc := AppendTID(nil, v)
		require.LessOrEqual(t, len(enc), MaxTIDLen)
		got, n, err := DecodeTID(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestDecodeTIDTruncated(t *testing.T) {
	// A byte with the continuation bit set and nothing following is truncated.
	_, _, err := DecodeTID([]byte{0x80})
	require.ErrorIs(t, err, ErrParseTidNoData)
}

func TestDecodeTIDTooBig(t *testing.T) {
	// Six bytes, all with the continuation bit set: a hard error.
	_, _, err := DecodeTID([]byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff})
	require.ErrorIs(t, err, ErrParseTidTooBig)
}
