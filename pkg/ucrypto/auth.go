/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ucrypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"

	"golang.org/x/crypto/poly1305"
)

// Poly1305KeyFromChaCha20 derives the one-time Poly1305 key from ChaCha20
// block 0 under key/nonce16, per §4.1: "Poly1305 key derived from the same
// ChaCha20 with block=0". Grounded directly on the teacher's own
// golang.org/x/crypto/poly1305 import in device/noise-protocol.go, unbundled
// from chacha20poly1305's combined AEAD since uMesh needs the raw key.
func Poly1305KeyFromChaCha20(key []byte, nonce16 uint16) ([32]byte, error) {
	var polyKey [32]byte
	if err := CTRKeystream(polyKey[:], key, nonce16, 0, AlgoChaCha20); err != nil {
		return polyKey, err
	}
	return polyKey, nil
}

// AuthenticatePoly1305 computes the Poly1305 tag over data under key
// (already the one-time 32-byte Poly1305 key, e.g. from
// Poly1305KeyFromChaCha20) and compares it in constant time against the
// first len(tag) bytes, for tag lengths of 2 or 4 per security modes
// 2/5/CHACHA20_POLY1305_*.
func AuthenticatePoly1305(data []byte, polyKey [32]byte, tag []byte) bool {
	var full [poly1305.TagSize]byte
	poly1305.Sum(&full, data, &polyKey)
	return subtle.ConstantTimeCompare(full[:len(tag)], tag) == 1
}

// TagPoly1305 writes the truncated Poly1305 tag (len(dst) bytes, 2 or 4)
// into dst.
func TagPoly1305(dst []byte, data []byte, polyKey [32]byte) {
	var full [poly1305.TagSize]byte
	poly1305.Sum(&full, data, &polyKey)
	copy(dst, full[:len(dst)])
}

// AuthenticateHMACSHA256 computes HMAC-SHA-256 over data under key and
// compares it in constant time against the first len(tag) bytes (2 or 4),
// for security modes 3/6/AES128_HMAC_SHA256_*.
func AuthenticateHMACSHA256(data, key, tag []byte) bool {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	full := mac.Sum(nil)
	return subtle.ConstantTimeCompare(full[:len(tag)], tag) == 1
}

// TagHMACSHA256 writes the truncated HMAC-SHA-256 tag (len(dst) bytes)
// into dst.
func TagHMACSHA256(dst []byte, data, key []byte) {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	full := mac.Sum(nil)
	copy(dst, full[:len(dst)])
}
