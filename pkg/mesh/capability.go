/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import "context"

// RxMeta is the receive-side metadata the MAC attaches to every inbound
// frame, per §6's MAC boundary and §3's packet-buffer record.
type RxMeta struct {
	RSSITenthsDBm int16
	FEIHz         int32
	BitErrors     int16
}

// Radio is the MAC capability boundary (§6): a best-effort datagram pipe,
// modeled as an injected capability interface rather than the teacher's
// concrete conn.Bind/tun.Device (a UDP socket and an OS TUN device — board
// and radio driver behaviour are out of scope per spec §1). This is the
// "virtual method tables... model as capability interfaces" rewrite
// Design Notes §9 calls for.
type Radio interface {
	// Recv blocks until a frame arrives, ctx is cancelled, or the radio
	// reports no frame is ready (ok=false, err=nil).
	Recv(ctx context.Context, out []byte) (n int, meta RxMeta, ok bool, err error)
	// Send hands a fully-framed buffer to the MAC. A busy MAC returns
	// ErrRadioBusy rather than queuing.
	Send(frame []byte) error
}

// RNG is the randomness capability boundary (§6): TID/session-id
// allocation, ephemeral secret keys, and seeding all read from it.
type RNG interface {
	Read(buf []byte) error
}

// FileBackend is the per-file-transfer-session capability boundary (§6 and
// §4.8): the engine never touches a filesystem directly, only these five
// callbacks plus the opaque per-session context they return/accept.
type FileBackend interface {
	Open(name string) (ctx any, size uint32, err error)
	Read(ctx any, pos uint32, out []byte) (int, error)
	Write(ctx any, pos uint32, data []byte) (int, error)
	Close(ctx any) error
	Progress(ctx any, transferred, total uint32)
}
