/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"crypto/rand"
	"sync"

	"github.com/iqyx/umeshfw/pkg/ratelimit"
	"github.com/iqyx/umeshfw/pkg/ucrypto"
	"github.com/iqyx/umeshfw/pkg/wire"
)

// KeySessionState is one key-management session's lifecycle state (§3, §4.6).
type KeySessionState int

const (
	KeyNew KeySessionState = iota
	KeyInitialAKE
	KeyAuth
	KeyNAuth
	KeyAuthz
	KeyNAuthz
	KeyManaged
	KeyExpired
	KeyOld
)

func (s KeySessionState) String() string {
	switch s {
	case KeyNew:
		return "NEW"
	case KeyInitialAKE:
		return "INITIAL_AKE"
	case KeyAuth:
		return "AUTH"
	case KeyNAuth:
		return "NAUTH"
	case KeyAuthz:
		return "AUTZ"
	case KeyNAuthz:
		return "NAUTZ"
	case KeyManaged:
		return "MANAGED"
	case KeyExpired:
		return "EXPIRED"
	case KeyOld:
		return "OLD"
	default:
		return "UNKNOWN"
	}
}

// Key-manager state timeouts, in milliseconds, taken directly from
// spec.md's state-timeout table (§3).
const (
	KeyTimeoutNewMS        = 5_000
	KeyTimeoutInitialAKEMS = 20_000
	KeyTimeoutAuthMS       = 5_000
	KeyTimeoutAuthzMS      = 5_000
	KeyTimeoutManagedMS    = 600_000
	KeyTimeoutExpiredMS    = 5_000
	KeyTimeoutOldMS        = 5_000
)

// KeySession is a single key-management session for one neighbour (§4.6,
// C5): exactly one 3DH exchange plus the derived symmetric keys it
// produced. Mirrors the teacher's Keypair/Handshake split, collapsed into
// one record since uMesh keeps at most one active exchange per neighbour
// at a time.
type KeySession struct {
	mu sync.Mutex

	PeerTID wire.TID
	State   KeySessionState

	// SessionID is the 3DH session-id this slot is keyed by. Inbound AKE
	// messages are matched against it first; a miss triggers the §4.6
	// reseed-and-refeed allocation of a fresh slot.
	SessionID    [4]byte
	sessionIDSet bool

	stateTimeoutMS int64

	Algo wire.SecurityMode

	TXKey [32]byte
	RXKey [32]byte

	// ake holds the in-progress 3DH exchange state; nil once MANAGED or
	// when no exchange has started.
	ake *ake3dhState

	authorized bool // decision last passed to Authorize
	neighbour  Ref  // back-reference to the owning Neighbour slot
}

func (k *KeySession) TXKeyCopy() [32]byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.TXKey
}

func (k *KeySession) RXKeyCopy() [32]byte {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.RXKey
}

func (k *KeySession) IsManaged() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.State == KeyManaged
}

// IsTerminal reports whether this session has fallen out of useful
// service (failed or aged out of MANAGED) and a fresh exchange should be
// started for the neighbour it belongs to.
func (k *KeySession) IsTerminal() bool {
	k.mu.Lock()
	defer k.mu.Unlock()
	switch k.State {
	case KeyNAuth, KeyNAuthz, KeyExpired, KeyOld:
		return true
	default:
		return false
	}
}

// KeySessionTable is the fixed-size key-manager session arena (C5).
type KeySessionTable struct {
	mu    sync.RWMutex
	arena *Arena[KeySession]
}

func NewKeySessionTable(capacity int) *KeySessionTable {
	return &KeySessionTable{arena: NewArena[KeySession](capacity)}
}

// FindSession returns the best MANAGED session for peerTID — the one with
// the greatest remaining state timeout, per C5's find_session(peer_tid)
// contract. Sessions in any other state are never returned; the third
// result is false if peerTID has no MANAGED session.
func (t *KeySessionTable) FindSession(peerTID wire.TID) (Ref, *KeySession, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var bestRef Ref
	var best *KeySession
	var bestRemaining int64 = -1

	t.arena.Each(func(ref Ref, k *KeySession) {
		k.mu.Lock()
		defer k.mu.Unlock()
		if k.PeerTID != peerTID || k.State != KeyManaged {
			return
		}
		if k.stateTimeoutMS > bestRemaining {
			bestRemaining = k.stateTimeoutMS
			bestRef = ref
			best = k
		}
	})
	return bestRef, best, best != nil
}

// StartSession allocates a fresh NEW session for peerTID, used when a
// neighbour is first promoted to VALID and the key manager is asked to
// manage it, or when an existing session has gone terminal and a
// replacement exchange is started.
func (t *KeySessionTable) StartSession(peerTID wire.TID, neighbour Ref) (Ref, *KeySession, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	ref, slot, ok := t.arena.Alloc()
	if !ok {
		return Ref{}, nil, ErrNoFreeSlot
	}
	slot.PeerTID = peerTID
	slot.State = KeyNew
	slot.stateTimeoutMS = KeyTimeoutNewMS
	slot.neighbour = neighbour
	slot.sessionIDSet = false
	return ref, slot, nil
}

// ForceExpire short-circuits a MANAGED session straight to EXPIRED,
// bypassing the remainder of its MANAGED timeout. Used when a neighbour's
// TX nonce counter nears exhaustion and a rekey must happen regardless of
// the MANAGED lifetime remaining (Design Notes §9).
func (t *KeySessionTable) ForceExpire(ref Ref) {
	t.mu.RLock()
	k, ok := t.arena.Get(ref)
	t.mu.RUnlock()
	if !ok {
		return
	}
	k.mu.Lock()
	defer k.mu.Unlock()
	if k.State == KeyManaged {
		k.State = KeyExpired
		k.stateTimeoutMS = KeyTimeoutExpiredMS
	}
}

// PendingAKEMessage pairs an outbound AKE wire message with the neighbour
// it's addressed to, for the caller to encode and hand to the L2 send
// path.
type PendingAKEMessage struct {
	PeerTID wire.TID
	Msg     AKEMessage
}

func randomSessionID(rng RNG) ([4]byte, error) {
	var id [4]byte
	if err := rng.Read(id[:]); err != nil {
		return id, err
	}
	return id, nil
}

// Step advances every session's state-timeout, driving the NEW ->
// INITIAL_AKE -> AUTH/NAUTH -> MANAGED -> EXPIRED -> OLD progression (§3,
// §4.6; AUTH moves to MANAGED on the next Step, while AUTZ/NAUTZ are
// entered only through Authorize and time out to OLD like NAUTH), and
// returns any AKE flights that are due to be
// (re)sent this tick. The 3DH key-material logic itself lives in
// ake3dh.go; Step owns timeout bookkeeping, terminal transitions, and the
// retry schedule.
func (t *KeySessionTable) Step(elapsedMS int64, rng RNG, identity ucrypto.PrivateKey, limiter *ratelimit.Limiter) []PendingAKEMessage {
	t.mu.Lock()
	defer t.mu.Unlock()

	toFree := make([]Ref, 0)
	var pending []PendingAKEMessage
	t.arena.Each(func(ref Ref, k *KeySession) {
		k.mu.Lock()
		defer k.mu.Unlock()

		switch k.State {
		case KeyNew:
			k.stateTimeoutMS -= elapsedMS
			if k.stateTimeoutMS <= 0 {
				k.State = KeyOld
				k.stateTimeoutMS = KeyTimeoutOldMS
				return
			}
			if limiter != nil && !limiter.Allow(k.PeerTID) {
				return // back off: too many fresh exchanges with this peer recently
			}
			sessionID, err := randomSessionID(rng)
			if err != nil {
				// No RNG available: stay in NEW until the state-timeout
				// above eventually frees the slot (§8 scenario 5).
				return
			}
			ake, err := newAKE3DHSession(sessionID, rng, identity)
			if err != nil {
				return
			}
			k.ake = ake
			k.SessionID = sessionID
			k.sessionIDSet = true
			k.State = KeyInitialAKE
			k.stateTimeoutMS = KeyTimeoutInitialAKEMS
		case KeyInitialAKE:
			k.stateTimeoutMS -= elapsedMS
			if k.ake != nil {
				pending = append(pending, flightsFor(k.PeerTID, k.ake.Step(elapsedMS))...)
				if k.ake.Done() {
					finishAKELocked(k)
					return
				}
			}
			if k.stateTimeoutMS <= 0 {
				k.State = KeyNAuth
				k.stateTimeoutMS = KeyTimeoutAuthMS
				k.ake = nil
			}
		case KeyAuth:
			// "For AUTH, ... advance directly to MANAGED copying master
			// TX/RX keys from the 3DH session, then stop the 3DH
			// session" (§4.6). Keys are already copied by
			// finishAKELocked, so this state is transient.
			k.State = KeyManaged
			k.stateTimeoutMS = KeyTimeoutManagedMS
		case KeyNAuth, KeyAuthz, KeyNAuthz:
			k.stateTimeoutMS -= elapsedMS
			if k.stateTimeoutMS <= 0 {
				k.State = KeyOld
				k.stateTimeoutMS = KeyTimeoutOldMS
			}
		case KeyManaged:
			k.stateTimeoutMS -= elapsedMS
			if k.stateTimeoutMS <= 0 {
				k.State = KeyExpired
				k.stateTimeoutMS = KeyTimeoutExpiredMS
			}
		case KeyExpired:
			k.stateTimeoutMS -= elapsedMS
			if k.stateTimeoutMS <= 0 {
				k.State = KeyOld
				k.stateTimeoutMS = KeyTimeoutOldMS
			}
		case KeyOld:
			k.stateTimeoutMS -= elapsedMS
			if k.stateTimeoutMS <= 0 {
				toFree = append(toFree, ref)
			}
		}
	})

	for _, ref := range toFree {
		t.arena.Free(ref)
	}
	return pending
}

func flightsFor(peerTID wire.TID, msgs []AKEMessage) []PendingAKEMessage {
	out := make([]PendingAKEMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, PendingAKEMessage{PeerTID: peerTID, Msg: m})
	}
	return out
}

// finishAKELocked copies the derived keys from a completed 3DH exchange
// into the session and moves it to AUTH/NAUTH, per §4.6's "record peer
// identity hash is intentionally skipped (policy placeholder)" note: any
// successful key agreement is treated as AUTH, with NAUTH reserved for a
// failed crypto result (§7). Caller must hold k.mu.
func finishAKELocked(k *KeySession) {
	tx, rx := k.ake.Keys()
	k.TXKey = tx
	k.RXKey = rx
	k.Algo = wire.SecurityChaCha20Poly1305_4
	if k.ake.OK() {
		k.State = KeyAuth
	} else {
		k.State = KeyNAuth
	}
	k.stateTimeoutMS = KeyTimeoutAuthMS
	k.ake = nil
}

// findBySessionIDLocked returns the session matching sessionID, if any.
// Caller must hold t.mu (at least RLock).
func (t *KeySessionTable) findBySessionIDLocked(sessionID [4]byte) (Ref, *KeySession) {
	var foundRef Ref
	var found *KeySession
	t.arena.Each(func(ref Ref, k *KeySession) {
		if found != nil {
			return
		}
		k.mu.Lock()
		match := k.sessionIDSet && k.SessionID == sessionID
		k.mu.Unlock()
		if match {
			foundRef, found = ref, k
		}
	})
	return foundRef, found
}

// HandleMessage routes an inbound AKE wire message to the session whose
// 3DH session-id matches it. If none matches, §4.6's reseed rule applies:
// a fresh slot is allocated, seeded with the peer's session-id, and the
// message is re-fed into the new session so an inbound EPKRequest can
// bootstrap a responder-side exchange with no prior StartSession call.
func (t *KeySessionTable) HandleMessage(peerTID wire.TID, neighbour Ref, msg AKEMessage, identity ucrypto.PrivateKey) (*AKEMessage, error) {
	t.mu.Lock()
	_, target := t.findBySessionIDLocked(msg.SessionID)
	if target == nil {
		allocRef, slot, ok := t.arena.Alloc()
		if !ok {
			t.mu.Unlock()
			return nil, ErrNoFreeSlot
		}
		ake, err := newAKE3DHSession(msg.SessionID, cryptoRandRNGFallback{}, identity)
		if err != nil {
			t.arena.Free(allocRef)
			t.mu.Unlock()
			return nil, err
		}
		slot.PeerTID = peerTID
		slot.neighbour = neighbour
		slot.SessionID = msg.SessionID
		slot.sessionIDSet = true
		slot.ake = ake
		slot.State = KeyInitialAKE
		slot.stateTimeoutMS = KeyTimeoutInitialAKEMS
		target = slot
	}
	t.mu.Unlock()

	target.mu.Lock()
	defer target.mu.Unlock()
	if target.ake == nil {
		return nil, ErrNotManaged
	}
	reply := target.ake.HandleMessage(msg)
	if target.ake.Done() {
		finishAKELocked(target)
	}
	return reply, nil
}

// cryptoRandRNGFallback satisfies the RNG capability for the reseed path,
// where no caller-supplied RNG is threaded through (HandleMessage is
// called from the L2 receive path, not the scheduler tick that owns the
// injected RNG).
type cryptoRandRNGFallback struct{}

func (cryptoRandRNGFallback) Read(buf []byte) error {
	_, err := rand.Read(buf)
	return err
}

// Authorize moves an AUTH/NAUTH session to AUTZ/NAUTZ once the upper-layer
// authorization hook (Design Notes §9: "AUTZ/NAUTZ... left as an explicit
// extension hook") has made its decision.
func (k *KeySession) Authorize(ok bool) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.authorized = ok
	switch k.State {
	case KeyAuth:
		k.State = KeyAuthz
	case KeyNAuth:
		k.State = KeyNAuthz
	default:
		return
	}
	k.stateTimeoutMS = KeyTimeoutAuthzMS
}
