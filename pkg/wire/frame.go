/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package wire

import (
	"github.com/iqyx/umeshfw/pkg/ucrypto"
)

// Frame is the decoded form of one uMesh L2 frame:
//
//	control(1-2B)  [dest-TID(1-5B)]  src-TID(1-5B)  [nonce(2B)]  payload(0-N)  [trailer]
type Frame struct {
	Src       TID
	Dst       TID // zero/unused when Broadcast
	Broadcast bool
	Algo      SecurityMode
	Proto     uint8
	Nonce     uint16 // sequence counter; also the symmetric nonce for modes 2/3/5/6
	Payload   []byte
}

func trailerSize(algo SecurityMode) int {
	switch algo {
	case SecurityNone:
		return 0
	case SecurityCRC16CCITT:
		return 2
	case SecurityCRC32:
		return 4
	case SecurityChaCha20Poly1305_2, SecurityChaCha20Poly1305_4:
		return 4 // §9 open question: the current firmware uses a 4-byte tag for both.
	case SecurityAES128HMACSHA256_2:
		return 2
	case SecurityAES128HMACSHA256_4:
		return 4
	default:
		return -1
	}
}

func nonceCarried(algo SecurityMode) bool {
	switch algo {
	case SecurityChaCha20Poly1305_2, SecurityChaCha20Poly1305_4,
		SecurityAES128HMACSHA256_2, SecurityAES128HMACSHA256_4:
		return true
	default:
		return false
	}
}

// Encode serialises f, appending the result to dst. key is required (and
// must be 16 or 32 bytes matching the mode) for every mode but
// SecurityNone/SecurityCRC16CCITT/SecurityCRC32, which need none.
func (f Frame) Encode(dst []byte, key []byte) ([]byte, error) {
	if len(f.Payload) > MaxPayloadSize {
		return nil, ErrParseDataTooBig
	}
	ts := trailerSize(f.Algo)
	if ts < 0 {
		return nil, ErrParseDataUnsupported
	}

	start := len(dst)
	ctrl := Control{Broadcast: f.Broadcast, Algo: f.Algo, Proto: f.Proto}
	dst = ctrl.Encode(dst)
	if !f.Broadcast {
		dst = AppendTID(dst, f.Dst)
	}
	dst = AppendTID(dst, f.Src)

	switch f.Algo {
	case SecurityNone:
		dst = append(dst, f.Payload...)
	case SecurityCRC16CCITT:
		dst = append(dst, f.Payload...)
		sum := ucrypto.CRC16CCITT(dst[start:])
		dst = append(dst, byte(sum>>8), byte(sum))
	case SecurityCRC32:
		dst = append(dst, f.Payload...)
		sum := ucrypto.CRC32(dst[start:])
		dst = append(dst, byte(sum>>24), byte(sum>>16), byte(sum>>8), byte(sum))
	case SecurityChaCha20Poly1305_2, SecurityChaCha20Poly1305_4:
		dst = append(dst, byte(f.Nonce>>8), byte(f.Nonce))
		ctStart := len(dst)
		ct := make([]byte, len(f.Payload))
		if err := ucrypto.Decrypt(ct, f.Payload, key, f.Nonce, 1, ucrypto.AlgoChaCha20); err != nil {
			return nil, err
		}
		dst = append(dst, ct...)
		polyKey, err := ucrypto.Poly1305KeyFromChaCha20(key, f.Nonce)
		if err != nil {
			return nil, err
		}
		tag := make([]byte, ts)
		ucrypto.TagPoly1305(tag, dst[start:ctStart+len(ct)], polyKey)
		dst = append(dst, tag...)
	case SecurityAES128HMACSHA256_2, SecurityAES128HMACSHA256_4:
		dst = append(dst, byte(f.Nonce>>8), byte(f.Nonce))
		ct := make([]byte, len(f.Payload))
		if err := ucrypto.Decrypt(ct, f.Payload, key, f.Nonce, 0, ucrypto.AlgoAES128CTR); err != nil {
			return nil, err
		}
		dst = append(dst, ct...)
		tag := make([]byte, ts)
		ucrypto.TagHMACSHA256(tag, dst[start:], key)
		dst = append(dst, tag...)
	default:
		return nil, ErrParseDataUnsupported
	}

	if len(dst)-start > MaxFrameSize {
		return nil, ErrBufferTooSmall
	}
	return dst, nil
}

// PeekHeader parses just enough of raw to identify the sender and the
// security mode in use, without needing a key — so a receiver can look up
// the right key session before doing the real, authenticating Decode.
func PeekHeader(raw []byte) (src TID, algo SecurityMode, err error) {
	if len(raw) < 2 {
		return 0, 0, ErrParseControlNoData
	}
	ctrl, n, err := DecodeControl(raw)
	if err != nil {
		return 0, 0, err
	}
	rest := raw[n:]
	if !ctrl.Broadcast {
		_, consumed, err := DecodeTID(rest)
		if err != nil {
			return 0, 0, err
		}
		rest = rest[consumed:]
	}
	src, _, err = DecodeTID(rest)
	if err != nil {
		return 0, 0, err
	}
	return src, ctrl.Algo, nil
}

// Decode parses a frame from raw. key is the neighbour's RX key, required
// for the AEAD modes; it may be nil for SecurityNone/CRC modes.
func Decode(raw []byte, key []byte) (*Frame, error) {
	if len(raw) < 2 {
		return nil, ErrParseControlNoData
	}
	ctrl, n, err := DecodeControl(raw)
	if err != nil {
		return nil, err
	}
	rest := raw[n:]

	f := &Frame{Broadcast: ctrl.Broadcast, Algo: ctrl.Algo, Proto: ctrl.Proto}

	if !ctrl.Broadcast {
		dst, consumed, err := DecodeTID(rest)
		if err != nil {
			return nil, err
		}
		f.Dst = dst
		rest = rest[consumed:]
	}
	src, consumed, err := DecodeTID(rest)
	if err != nil {
		return nil, err
	}
	f.Src = src
	rest = rest[consumed:]

	headerLen := len(raw) - len(rest)
	header := raw[:headerLen]

	ts := trailerSize(ctrl.Algo)
	if ts < 0 {
		return nil, ErrParseDataUnsupported
	}

	nonceLen := 0
	if nonceCarried(ctrl.Algo) {
		nonceLen = 2
	}
	if len(rest) < nonceLen+ts {
		return nil, ErrParseDataTooBig
	}
	if nonceLen > 0 {
		f.Nonce = uint16(rest[0])<<8 | uint16(rest[1])
		rest = rest[2:]
	}
	body := rest[:len(rest)-ts]
	trailer := rest[len(rest)-ts:]
	if len(body) > MaxPayloadSize {
		return nil, ErrParseDataTooBig
	}

	switch ctrl.Algo {
	case SecurityNone:
		f.Payload = append([]byte(nil), body...)
	case SecurityCRC16CCITT:
		got := ucrypto.CRC16CCITT(append(append([]byte(nil), header...), body...))
		want := uint16(trailer[0])<<8 | uint16(trailer[1])
		if got != want {
			return nil, ErrParseDataAEFailed
		}
		f.Payload = append([]byte(nil), body...)
	case SecurityCRC32:
		got := ucrypto.CRC32(append(append([]byte(nil), header...), body...))
		want := uint32(trailer[0])<<24 | uint32(trailer[1])<<16 | uint32(trailer[2])<<8 | uint32(trailer[3])
		if got != want {
			return nil, ErrParseDataAEFailed
		}
		f.Payload = append([]byte(nil), body...)
	case SecurityChaCha20Poly1305_2, SecurityChaCha20Poly1305_4:
		if key == nil {
			return nil, ErrParseDataAEFailed
		}
		covered := raw[:headerLen+2+len(body)]
		polyKey, err := ucrypto.Poly1305KeyFromChaCha20(key, f.Nonce)
		if err != nil {
			return nil, err
		}
		if !ucrypto.AuthenticatePoly1305(covered, polyKey, trailer) {
			return nil, ErrParseDataAEFailed
		}
		pt := make([]byte, len(body))
		if err := ucrypto.Decrypt(pt, body, key, f.Nonce, 1, ucrypto.AlgoChaCha20); err != nil {
			return nil, err
		}
		f.Payload = pt
	case SecurityAES128HMACSHA256_2, SecurityAES128HMACSHA256_4:
		if key == nil {
			return nil, ErrParseDataAEFailed
		}
		covered := raw[:headerLen+2+len(body)]
		if !ucrypto.AuthenticateHMACSHA256(covered, key, trailer) {
			return nil, ErrParseDataAEFailed
		}
		pt := make([]byte, len(body))
		if err := ucrypto.Decrypt(pt, body, key, f.Nonce, 0, ucrypto.AlgoAES128CTR); err != nil {
			return nil, err
		}
		f.Payload = pt
	default:
		return nil, ErrParseDataUnsupported
	}

	return f, nil
}
