/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package wire

// SecurityMode is the concrete, on-the-wire security algorithm id (0-7).
type SecurityMode uint8

const (
	SecurityNone              SecurityMode = 0
	SecurityCRC16CCITT        SecurityMode = 1
	SecurityChaCha20Poly1305_2 SecurityMode = 2
	SecurityAES128HMACSHA256_2 SecurityMode = 3
	SecurityCRC32             SecurityMode = 4
	SecurityChaCha20Poly1305_4 SecurityMode = 5
	SecurityAES128HMACSHA256_4 SecurityMode = 6
)

// SecurityClass is the security class a sender requests; the send path
// (C9) maps it onto a concrete SecurityMode.
type SecurityClass uint8

const (
	ClassNone SecurityClass = iota
	ClassVerify
	ClassAuthenticatedEncrypted
)

// Control is the decoded form of the 1-2 byte control field.
type Control struct {
	Broadcast bool
	Algo      SecurityMode
	Proto     uint8 // L3 protocol id, 0-15
}

// Encode appends the smallest control-field encoding representing c to dst.
func (c Control) Encode(dst []byte) []byte {
	algo := byte(c.Algo)
	proto := c.Proto
	b0 := byte(0)
	if c.Broadcast {
		b0 |= 1 << 6
	}
	b0 |= (algo & 0x3) << 4
	b0 |= (proto & 0x3) << 2

	if algo <= 3 && proto <= 3 {
		return append(dst, b0)
	}

	b0 |= 1 << 7 // ext
	b1 := byte(0)
	b1 |= ((algo >> 2) & 0x1) << 6
	b1 |= (proto >> 2) & 0x3
	return append(dst, b0, b1)
}

// DecodeControl parses the control field from the front of b, returning
// the decoded value and the number of bytes consumed.
func DecodeControl(b []byte) (Control, int, error) {
	if len(b) == 0 {
		return Control{}, 0, ErrParseControlNoData
	}
	b0 := b[0]
	ext := b0&0x80 != 0
	c := Control{
		Broadcast: b0&0x40 != 0,
		Algo:      SecurityMode((b0 >> 4) & 0x3),
		Proto:     (b0 >> 2) & 0x3,
	}
	if !ext {
		return c, 1, nil
	}
	if len(b) < 2 {
		return Control{}, 0, ErrParseControlNoData
	}
	b1 := b[1]
	if b1&0x80 != 0 {
		return Control{}, 0, ErrParseControlUnfinished
	}
	c.Algo |= SecurityMode((b1 >> 6) & 0x1 << 2)
	c.Proto |= (b1 & 0x3) << 2
	return c, 2, nil
}
