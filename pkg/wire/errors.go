/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

// Package wire implements the uMesh L2 frame layout: the variable-length
// control field, the base-128 temporary-identifier encoding, and the
// selectable integrity/encryption trailers. It mirrors the teacher's own
// device/noise-protocol.go in spirit (fixed marshal/unmarshal pairs plus a
// handful of named sentinel errors) but generalizes the teacher's one
// fixed message layout into the variable layout §4.1 describes.
package wire

import "errors"

var (
	ErrParseControlNoData     = errors.New("wire: no data for control field")
	ErrParseControlUnfinished = errors.New("wire: control ext byte has ext bit set")
	ErrParseTidTooBig         = errors.New("wire: tid exceeds 5 bytes")
	ErrParseTidNoData         = errors.New("wire: truncated tid")
	ErrParseDataTooBig        = errors.New("wire: payload exceeds 120 bytes")
	ErrParseDataUnsupported   = errors.New("wire: unsupported security algorithm")
	ErrParseDataAEFailed      = errors.New("wire: integrity or authentication check failed")
	ErrBufferTooSmall         = errors.New("wire: frame would not fit the 140-byte sandbox buffer")
)

const (
	MaxPayloadSize = 120
	MaxFrameSize   = 140
)
