/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ucrypto

import (
	"crypto/sha256"
	"crypto/sha512"
)

// SHA256 hashes the concatenation of parts, matching the teacher's own
// mixHash/mixKey pattern of hashing several byte slices one after another
// without a separate concatenation buffer.
func SHA256(parts ...[]byte) [sha256.Size]byte {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [sha256.Size]byte
	h.Sum(out[:0])
	return out
}

// SHA512 hashes the concatenation of parts.
func SHA512(parts ...[]byte) [sha512.Size]byte {
	h := sha512.New()
	for _, p := range parts {
		h.Write(p)
	}
	var out [sha512.Size]byte
	h.Sum(out[:0])
	return out
}
