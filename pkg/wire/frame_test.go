/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package wire

import (
	"testing"

	"github.com/iqyx/umeshfw/pkg/ucrypto"
	"github.com/stretchr/testify/require"
)

func TestCRC16Vector(t *testing.T) {
	// §8 scenario 2: control [0xff, 0x7f], payload 12 34 56 78 90 -> trailer 6d 08.
	header := []byte{0xff, 0x7f}
	payload := []byte{0x12, 0x34, 0x56, 0x78, 0x90}
	full := append(append([]byte(nil), header...), payload...)
	sum := ucrypto.CRC16CCITT(full)
	require.Equal(t, uint16(0x6d08), sum)

	// Flipping any single byte must change the checksum.
	for i := range full {
		corrupt := append([]byte(nil), full...)
		corrupt[i] ^= 0xff
		require.NotEqual(t, sum, ucrypto.CRC16CCITT(corrupt), "byte %d", i)
	}
}

func TestFrameNoneRoundTrip(t *testing.T) {
	f := Frame{Src: 7, Dst: 99, Algo: SecurityNone, Proto: 2, Payload: []byte("hi")}
	raw, err := f.Encode(nil, nil)
	require.NoError(t, err)
	got, err := Decode(raw, nil)
	require.NoError(t, err)
	require.Equal(t, f.Src, got.Src)
	require.Equal(t, f.Dst, got.Dst)
	require.Equal(t, f.Payload, got.Payload)
}

func TestFrameCRC16RoundTripAndCorruption(t *testing.T) {
	f := Frame{Src: 1234, Dst: 5, Algo: SecurityCRC16CCITT, Proto: 1, Payload: []byte("hello")}
	raw, err := f.Encode(nil, nil)
	require.NoError(t, err)

	got, err := Decode(raw, nil)
	require.NoError(t, err)
	require.Equal(t, f.Payload, got.Payload)

	for i := range raw {
		corrupt := append([]byte(nil), raw...)
		corrupt[i] ^= 0xff
		_, err := Decode(corrupt, nil)
		require.Error(t, err, "byte %d should be detected as corrupt", i)
	}
}

func TestFrameChaCha20RoundTripAndCorruption(t *testing.T) {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	f := Frame{Src: 42, Dst: 43, Algo: SecurityChaCha20Poly1305_4, Proto: 1, Nonce: 7, Payload: []byte("secret payload")}
	raw, err := f.Encode(nil, key)
	require.NoError(t, err)

	got, err := Decode(raw, key)
	require.NoError(t, err)
	require.Equal(t, f.Payload, got.Payload)

	for i := range raw {
		corrupt := append([]byte(nil), raw...)
		corrupt[i] ^= 0xff
		_, err := Decode(corrupt, key)
		require.Error(t, err)
	}

	wrongKey := make([]byte, 32)
	_, err = Decode(raw, wrongKey)
	require.ErrorIs(t, err, ErrParseDataAEFailed)
}

func TestFrameAESHMACRoundTrip(t *testing.T) {
	key := make([]byte, 16)
	for i := range key {
		key[i] = byte(2 * i)
	}
	f := Frame{Src: 1, Dst: 2, Algo: SecurityAES128HMACSHA256_4, Proto: 1, Nonce: 99, Payload: []byte("m")}
	raw, err := f.Encode(nil, key)
	require.NoError(t, err)
	got, err := Decode(raw, key)
	require.NoError(t, err)
	require.Equal(t, f.Payload, got.Payload)
}

func TestFramePayloadTooBig(t *testing.T) {
	f := Frame{Src: 1, Algo: SecurityNone, Payload: make([]byte, MaxPayloadSize+1)}
	_, err := f.Encode(nil, nil)
	require.ErrorIs(t, err, ErrParseDataTooBig)
}

func TestFrameBroadcastNeverNeedsDestTID(t *testing.T) {
	f := Frame{Src: 7, Broadcast: true, Algo: SecurityNone, Payload: []byte("x")}
	raw, err := f.Encode(nil, nil)
	require.NoError(t, err)
	got, err := Decode(raw, nil)
	require.NoError(t, err)
	require.True(t, got.Broadcast)
	require.EqualValues(t, 0, got.Dst)
}
