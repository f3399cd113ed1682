/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ucrypto

import (
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/curve25519"
)

const KeySize = 32

// PrivateKey is a clamped Curve25519 scalar.
type PrivateKey [KeySize]byte

// PublicKey is a Curve25519 point.
type PublicKey [KeySize]byte

// NewPrivateKey generates and clamps a new random private key, the X25519
// adapter's analogue of the teacher's newPrivateKey helper referenced from
// device/noise-protocol.go (CreateMessageInitiation/CreateMessageResponse).
// It reads directly from crypto/rand and is meant for ambient, non-core
// code (CLI identity generation and the like); core code that must honour
// the injected RNG capability boundary (§6) uses NewPrivateKeyFrom instead.
func NewPrivateKey() (PrivateKey, error) {
	var sk PrivateKey
	if _, err := rand.Read(sk[:]); err != nil {
		return sk, err
	}
	clamp(&sk)
	return sk, nil
}

// RandReader is satisfied by any capability that can fill a buffer with
// cryptographically adequate random bytes, matching mesh.RNG's shape
// structurally so the core's ephemeral key generation goes through the
// caller-supplied RNG rather than hard-coding crypto/rand (§6's RNG
// boundary: "used for ... ephemeral secret keys").
type RandReader interface {
	Read(buf []byte) error
}

// NewPrivateKeyFrom generates and clamps a new private key using r instead
// of the package-global crypto/rand source.
func NewPrivateKeyFrom(r RandReader) (PrivateKey, error) {
	var sk PrivateKey
	if err := r.Read(sk[:]); err != nil {
		return sk, err
	}
	clamp(&sk)
	return sk, nil
}

func clamp(sk *PrivateKey) {
	sk[0] &= 248
	sk[31] = (sk[31] & 127) | 64
}

// Public returns the Curve25519 public key for sk.
func (sk PrivateKey) Public() PublicKey {
	var pk PublicKey
	curve25519.ScalarBaseMult((*[32]byte)(&pk), (*[32]byte)(&sk))
	return pk
}

var errECDHFailed = errors.New("ucrypto: x25519 produced a low-order point")

// X25519 performs the Curve25519 scalar multiplication sk*bp, rejecting
// all-zero results (a low-order point, per the X25519 contract a
// constant-time implementation must still check for).
func X25519(sk PrivateKey, bp PublicKey) ([KeySize]byte, error) {
	var out [KeySize]byte
	curve25519.ScalarMult((*[32]byte)(&out), (*[32]byte)(&sk), (*[32]byte)(&bp))
	var zero [KeySize]byte
	if out == zero {
		return out, errECDHFailed
	}
	return out, nil
}
