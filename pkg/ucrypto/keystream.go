/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package ucrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/chacha20"
)

// Algo identifies a symmetric keystream/authentication family. It is
// distinct from wire.SecurityMode: a mode picks both an algo and a tag
// length, this only picks the cipher.
type Algo int

const (
	AlgoChaCha20 Algo = iota
	AlgoAES128CTR
)

var ErrUnsupportedAlgo = errors.New("ucrypto: unsupported algorithm")

// CTRKeystream fills out with len(out) bytes of keystream derived from key
// and the 16-bit nonce, starting at the given counter block. For
// AlgoChaCha20 this is the raw ChaCha20 block function (RFC 8439) seeded
// with a zero-extended 12-byte nonce, matching the teacher's own use of
// golang.org/x/crypto's ChaCha20 family for all symmetric traffic
// encryption. For AlgoAES128CTR it is AES-128 in CTR mode.
func CTRKeystream(out, key []byte, nonce16 uint16, counter uint32, algo Algo) error {
	switch algo {
	case AlgoChaCha20:
		if len(key) != chacha20.KeySize {
			return errors.New("ucrypto: bad chacha20 key size")
		}
		var nonce [chacha20.NonceSize]byte
		binary.LittleEndian.PutUint16(nonce[:2], nonce16)
		c, err := chacha20.NewUnauthenticatedCipher(key, nonce[:])
		if err != nil {
			return err
		}
		c.SetCounter(counter)
		for i := range out {
			out[i] = 0
		}
		c.XORKeyStream(out, out)
		return nil
	case AlgoAES128CTR:
		if len(key) != 16 {
			return errors.New("ucrypto: bad aes-128 key size")
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return err
		}
		var iv [aes.BlockSize]byte
		binary.BigEndian.PutUint16(iv[0:2], nonce16)
		binary.BigEndian.PutUint32(iv[12:16], counter)
		stream := cipher.NewCTR(block, iv[:])
		for i := range out {
			out[i] = 0
		}
		stream.XORKeyStream(out, out)
		return nil
	default:
		return ErrUnsupportedAlgo
	}
}

// Decrypt XORs src's keystream (per CTRKeystream, counter starting at the
// mode-specific initial block) into dst; encryption and decryption are the
// same XOR operation for a counter-mode stream cipher.
func Decrypt(dst, src, key []byte, nonce16 uint16, counter uint32, algo Algo) error {
	ks := make([]byte, len(src))
	if err := CTRKeystream(ks, key, nonce16, counter, algo); err != nil {
		return err
	}
	for i := range src {
		dst[i] = src[i] ^ ks[i]
	}
	return nil
}
