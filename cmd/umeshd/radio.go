/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"net"
	"time"

	"github.com/iqyx/umeshfw/pkg/mesh"
	"github.com/iqyx/umeshfw/pkg/nodeconfig"
)

// udpBroadcastRadio simulates the half-duplex radio MAC over a UDP
// broadcast socket, standing in for the real board/driver (out of scope
// per §1) during development and testing. One socket serves both
// directions, serialized the same way a real half-duplex radio would be.
type udpBroadcastRadio struct {
	conn      *net.UDPConn
	broadcast *net.UDPAddr
}

// openRadio opens the configured radio backend. cfg.Device of the form
// "udp:<broadcast-host>:<port>" selects the UDP simulation backend, and an
// empty value selects it on 255.255.255.255:47500; any other value is
// rejected, since a concrete hardware driver is outside this module's
// scope.
func openRadio(cfg nodeconfig.RadioConfig) (mesh.Radio, error) {
	host, port, err := parseUDPDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	laddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp4", laddr)
	if err != nil {
		return nil, err
	}

	baddr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf("%s:%d", host, port))
	if err != nil {
		conn.Close()
		return nil, err
	}

	return &udpBroadcastRadio{conn: conn, broadcast: baddr}, nil
}

func parseUDPDevice(device string) (host string, port int, err error) {
	if device == "" {
		return "255.255.255.255", 47_500, nil
	}
	unsupported := fmt.Errorf("radio: unsupported device %q, want \"udp:<host>:<port>\"", device)
	const scheme = "udp:"
	if len(device) <= len(scheme) || device[:len(scheme)] != scheme {
		return "", 0, unsupported
	}
	host, portStr, err := net.SplitHostPort(device[len(scheme):])
	if err != nil || host == "" {
		return "", 0, unsupported
	}
	if n, err := fmt.Sscanf(portStr, "%d", &port); err != nil || n != 1 {
		return "", 0, unsupported
	}
	return host, port, nil
}

func (r *udpBroadcastRadio) Send(frame []byte) error {
	_, err := r.conn.WriteToUDP(frame, r.broadcast)
	return err
}

func (r *udpBroadcastRadio) Recv(ctx context.Context, out []byte) (int, mesh.RxMeta, bool, error) {
	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(15 * time.Millisecond)
	}
	if err := r.conn.SetReadDeadline(deadline); err != nil {
		return 0, mesh.RxMeta{}, false, err
	}
	n, _, err := r.conn.ReadFromUDP(out)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, mesh.RxMeta{}, false, nil
		}
		return 0, mesh.RxMeta{}, false, err
	}
	return n, mesh.RxMeta{}, true, nil
}

// systemRNG reads randomness from the OS CSPRNG, used for TID allocation
// and ephemeral key generation (§6).
type systemRNG struct{}

func (systemRNG) Read(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}
