/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package wire

// TID is a Temporary Identifier: an unsigned integer in [1, 2^32-1]
// identifying a node to its 1-hop neighbours. Zero means "none".
type TID uint32

// MaxTIDLen is the largest number of bytes a TID can encode to.
const MaxTIDLen = 5

// AppendTID appends the base-128 big-endian encoding of t to dst (a
// continuation bit set on every byte but the last) and returns the
// extended slice.
func AppendTID(dst []byte, t TID) []byte {
	if t == 0 {
		return append(dst, 0x00)
	}
	var tmp [MaxTIDLen]byte
	n := 0
	v := uint32(t)
	for v > 0 {
		tmp[n] = byte(v & 0x7f)
		v >>= 7
		n++
	}
	start := len(dst)
	dst = append(dst, make([]byte, n)...)
	for i := 0; i < n; i++ {
		dst[start+i] = tmp[n-1-i]
	}
	for i := 0; i < n-1; i++ {
		dst[start+i] |= 0x80
	}
	return dst
}

// DecodeTID decodes a base-128 big-endian TID from the front of b,
// returning the value and the number of bytes consumed.
func DecodeTID(b []byte) (TID, int, error) {
	var v uint32
	for i := 0; i < MaxTIDLen; i++ {
		if i >= len(b) {
			return 0, 0, ErrParseTidNoData
		}
		v = (v << 7) | uint32(b[i]&0x7f)
		if b[i]&0x80 == 0 {
			return TID(v), i + 1, nil
		}
	}
	return 0, 0, ErrParseTidTooBig
}
