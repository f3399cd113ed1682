/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import "github.com/iqyx/umeshfw/pkg/wire"

// MaxProtoHandlers is the fixed size of the L3 protocol handler registry
// (C10, §3): a small, pre-allocated array rather than a map, matching the
// "no dynamic growth" rule applied everywhere else in the stack.
const MaxProtoHandlers = 16

// ProtoHandler processes one decoded, authenticated inbound frame for a
// single L3 protocol id.
type ProtoHandler func(src wire.TID, broadcast bool, payload []byte)

// Registry is the fixed-slot L3 protocol dispatch table (C10).
type Registry struct {
	handlers [MaxProtoHandlers]ProtoHandler
}

func NewRegistry() *Registry {
	return &Registry{}
}

// Register installs fn as the handler for proto, replacing any previous
// handler. Returns ErrUnknownProto if proto is out of range.
func (r *Registry) Register(proto uint8, fn ProtoHandler) error {
	if int(proto) >= MaxProtoHandlers {
		return ErrUnknownProto
	}
	r.handlers[proto] = fn
	return nil
}

// Dispatch invokes the registered handler for proto, if any. A missing
// handler is not an error at this layer: §4.1 treats an unrecognised L3
// proto id as a silent drop, counted at the neighbour level by the caller.
func (r *Registry) Dispatch(proto uint8, src wire.TID, broadcast bool, payload []byte) bool {
	if int(proto) >= MaxProtoHandlers {
		return false
	}
	h := r.handlers[proto]
	if h == nil {
		return false
	}
	h(src, broadcast, payload)
	return true
}
