/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"bytes"

	"github.com/iqyx/umeshfw/pkg/ucrypto"
)

// ProtoAKE is the reserved L3 protocol id for 3DH request/response
// traffic (C6).
const ProtoAKE uint8 = 3

// ake3dhRole is a session's ALICE/BOB role, settled once both ephemeral
// public keys are known by comparing them as byte strings: the lesser is
// ALICE, the greater is BOB (§4.7 step 7, glossary).
type ake3dhRole int

const (
	roleUnknown ake3dhRole = iota
	roleAlice
	roleBob
)

type ake3dhResult int

const (
	akeResultNone ake3dhResult = iota
	akeResultOK
	akeResultFailed
)

// akeBackoff is the per-request exponential-backoff timer §4.7 requires
// for each of the EPKRequest/IPKRequest flights: initial 200ms, doubling
// on every retransmit, capped at 2000ms.
type akeBackoff struct {
	thresholdMS int64
	elapsedMS   int64
}

const (
	akeBackoffInitialMS = 200
	akeBackoffCapMS     = 2_000
)

func newAKEBackoff() akeBackoff {
	return akeBackoff{thresholdMS: akeBackoffInitialMS}
}

// due reports whether elapsedMS has pushed this timer past its current
// threshold; if so it resets the counter and doubles the threshold
// (capped) ready for the next retransmit.
func (b *akeBackoff) due(elapsedMS int64) bool {
	b.elapsedMS += elapsedMS
	if b.elapsedMS < b.thresholdMS {
		return false
	}
	b.elapsedMS = 0
	b.thresholdMS *= 2
	if b.thresholdMS > akeBackoffCapMS {
		b.thresholdMS = akeBackoffCapMS
	}
	return true
}

// ake3dhState is one in-progress Triple Diffie-Hellman exchange (C6,
// §4.7). It plays the role the teacher's Handshake struct plays for
// Noise: ephemeral key material that exists only until the exchange
// finishes or times out, at which point the owning KeySession discards
// it and keeps only the derived TX/RX keys.
type ake3dhState struct {
	sessionID [4]byte

	identity  ucrypto.PrivateKey // local long-term static key
	ephemeral ucrypto.PrivateKey // local per-exchange key

	peerEphemeralPK ucrypto.PublicKey
	havePeerEPK     bool
	peerIdentityPK  ucrypto.PublicKey
	havePeerIPK     bool

	role ake3dhRole

	sh1, sh2, sh3             [32]byte
	haveSh1, haveSh2, haveSh3 bool

	txKey, rxKey [32]byte
	result       ake3dhResult

	epkBackoff akeBackoff
	ipkBackoff akeBackoff
}

// newAKE3DHSession begins a 3DH exchange under sessionID (freshly
// generated by the caller, or, per §4.6's reseed rule, copied from a
// peer's inbound message). The local ephemeral key is drawn from rng
// rather than read directly from crypto/rand, honouring the injected RNG
// capability boundary (§6).
func newAKE3DHSession(sessionID [4]byte, rng RNG, identity ucrypto.PrivateKey) (*ake3dhState, error) {
	eph, err := ucrypto.NewPrivateKeyFrom(rng)
	if err != nil {
		return nil, err
	}
	return &ake3dhState{
		sessionID:  sessionID,
		identity:   identity,
		ephemeral:  eph,
		epkBackoff: newAKEBackoff(),
		ipkBackoff: newAKEBackoff(),
	}, nil
}

// akeMsgKind tags the four message subtypes of the 3DH tagged union
// (§4.7): two requests carrying no key material, two responses each
// carrying the single key that was asked for.
type akeMsgKind uint8

const (
	akeMsgEPKRequest akeMsgKind = iota
	akeMsgEPKResponse
	akeMsgIPKRequest
	akeMsgIPKResponse
)

// AKEMessage is one wire-level 3DH message: {session_id, oneof}, per §6's
// "session-id, oneof content with the subtypes" framing requirement.
// Exactly one of Ephemeral/Identity is meaningful, depending on Kind.
type AKEMessage struct {
	SessionID [4]byte
	Kind      akeMsgKind
	Ephemeral ucrypto.PublicKey
	Identity  ucrypto.PublicKey
}

// EncodeAKEMessage serialises msg: kind(1) | session_id(4) | key(32), the
// key field present only for the two response kinds.
func EncodeAKEMessage(msg AKEMessage) []byte {
	switch msg.Kind {
	case akeMsgEPKRequest, akeMsgIPKRequest:
		buf := make([]byte, 5)
		buf[0] = byte(msg.Kind)
		copy(buf[1:5], msg.SessionID[:])
		return buf
	case akeMsgEPKResponse:
		buf := make([]byte, 37)
		buf[0] = byte(msg.Kind)
		copy(buf[1:5], msg.SessionID[:])
		copy(buf[5:37], msg.Ephemeral[:])
		return buf
	case akeMsgIPKResponse:
		buf := make([]byte, 37)
		buf[0] = byte(msg.Kind)
		copy(buf[1:5], msg.SessionID[:])
		// The identity-public-key response is sent in the clear here; §9
		// flags an encrypted_identity_pk variant as never implemented
		// upstream, so this core doesn't invent one either.
		copy(buf[5:37], msg.Identity[:])
		return buf
	default:
		return nil
	}
}

// DecodeAKEMessage parses a proto-AKE payload.
func DecodeAKEMessage(payload []byte) (AKEMessage, error) {
	if len(payload) < 5 {
		return AKEMessage{}, ErrUnknownProto
	}
	var msg AKEMessage
	msg.Kind = akeMsgKind(payload[0])
	copy(msg.SessionID[:], payload[1:5])
	switch msg.Kind {
	case akeMsgEPKRequest, akeMsgIPKRequest:
		return msg, nil
	case akeMsgEPKResponse:
		if len(payload) < 37 {
			return AKEMessage{}, ErrUnknownProto
		}
		copy(msg.Ephemeral[:], payload[5:37])
		return msg, nil
	case akeMsgIPKResponse:
		if len(payload) < 37 {
			return AKEMessage{}, ErrUnknownProto
		}
		copy(msg.Identity[:], payload[5:37])
		return msg, nil
	default:
		return AKEMessage{}, ErrUnknownProto
	}
}

// Done reports whether the exchange has reached a terminal result.
func (a *ake3dhState) Done() bool { return a.result != akeResultNone }

// OK reports whether a terminal exchange succeeded.
func (a *ake3dhState) OK() bool { return a.result == akeResultOK }

// Keys returns the derived TX/RX keys once OK reports true.
func (a *ake3dhState) Keys() (tx, rx [32]byte) { return a.txKey, a.rxKey }

// Step advances the tick algorithm (§4.7 steps 4-5): it emits a
// (re)transmission of whichever request flights are still outstanding
// and due under their own backoff timer. Responses are produced
// reactively by HandleMessage, not from Step.
func (a *ake3dhState) Step(elapsedMS int64) []AKEMessage {
	var out []AKEMessage
	if !a.havePeerEPK && a.epkBackoff.due(elapsedMS) {
		out = append(out, AKEMessage{SessionID: a.sessionID, Kind: akeMsgEPKRequest})
	}
	if !a.havePeerIPK && a.ipkBackoff.due(elapsedMS) {
		out = append(out, AKEMessage{SessionID: a.sessionID, Kind: akeMsgIPKRequest})
	}
	return out
}

// HandleMessage consumes one inbound AKE message, recording any
// newly-learned peer key material and returning the response to send
// back when msg was a request (§4.7 step 6).
func (a *ake3dhState) HandleMessage(msg AKEMessage) *AKEMessage {
	switch msg.Kind {
	case akeMsgEPKRequest:
		return &AKEMessage{SessionID: a.sessionID, Kind: akeMsgEPKResponse, Ephemeral: a.ephemeral.Public()}
	case akeMsgIPKRequest:
		return &AKEMessage{SessionID: a.sessionID, Kind: akeMsgIPKResponse, Identity: a.identity.Public()}
	case akeMsgEPKResponse:
		a.peerEphemeralPK = msg.Ephemeral
		a.havePeerEPK = true
		a.advance()
	case akeMsgIPKResponse:
		a.peerIdentityPK = msg.Identity
		a.havePeerIPK = true
		a.advance()
	}
	return nil
}

// advance recomputes whichever of the three shared secrets have become
// derivable and, once all three are known, the master/TX/RX keys (§4.7
// steps 7-10). Idempotent: safe to call repeatedly as peer key material
// trickles in.
func (a *ake3dhState) advance() {
	if a.role == roleUnknown && a.havePeerEPK {
		myEPK := a.ephemeral.Public()
		switch bytes.Compare(myEPK[:], a.peerEphemeralPK[:]) {
		case -1:
			a.role = roleAlice
		case 1:
			a.role = roleBob
		default:
			// "Equal keys are an error (ALICE assumed temporarily for
			// progress)" (glossary); record the §7 crypto-result failure
			// but keep advancing so the state machine doesn't wedge.
			a.role = roleAlice
			a.result = akeResultFailed
		}
		if sh1, err := ucrypto.X25519(a.ephemeral, a.peerEphemeralPK); err == nil {
			a.sh1, a.haveSh1 = sh1, true
		} else if a.result == akeResultNone {
			a.result = akeResultFailed
		}
	}
	if a.role == roleUnknown {
		return
	}

	// Role-differentiated pairings (§4.7 step 8): ALICE and BOB use
	// swapped (identity, ephemeral) pairings so both sides land on the
	// same (sh2, sh3) pair in the same hash-input slot.
	if !a.haveSh2 {
		switch a.role {
		case roleAlice:
			if a.havePeerEPK {
				if sh2, err := ucrypto.X25519(a.identity, a.peerEphemeralPK); err == nil {
					a.sh2, a.haveSh2 = sh2, true
				}
			}
		case roleBob:
			if a.havePeerIPK {
				if sh2, err := ucrypto.X25519(a.ephemeral, a.peerIdentityPK); err == nil {
					a.sh2, a.haveSh2 = sh2, true
				}
			}
		}
	}
	if !a.haveSh3 {
		switch a.role {
		case roleAlice:
			if a.havePeerIPK {
				if sh3, err := ucrypto.X25519(a.ephemeral, a.peerIdentityPK); err == nil {
					a.sh3, a.haveSh3 = sh3, true
				}
			}
		case roleBob:
			if a.havePeerEPK {
				if sh3, err := ucrypto.X25519(a.identity, a.peerEphemeralPK); err == nil {
					a.sh3, a.haveSh3 = sh3, true
				}
			}
		}
	}

	if a.haveSh1 && a.haveSh2 && a.haveSh3 && a.result == akeResultNone {
		master := ucrypto.SHA256(a.sh1[:], a.sh2[:], a.sh3[:])
		k1 := ucrypto.SHA256(master[:], []byte("first"))
		k2 := ucrypto.SHA256(master[:], []byte("second"))
		if a.role == roleAlice {
			a.txKey, a.rxKey = k1, k2
		} else {
			a.rxKey, a.txKey = k1, k2
		}
		a.result = akeResultOK
	}
}
