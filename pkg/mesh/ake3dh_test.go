/* SPDX-License-Identifier: MIT
 *
 * Copyright (C) 2017-2025 WireGuard LLC. All Rights Reserved.
 */

package mesh

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iqyx/umeshfw/pkg/ucrypto"
)

// stubRNG fills buffers with the deterministic sequence seed, seed+1, ...;
// two sessions that must hold distinct keys need distinct seeds.
type stubRNG struct {
	seed byte
}

func (r stubRNG) Read(buf []byte) error {
	for i := range buf {
		buf[i] = r.seed + byte(i)
	}
	return nil
}

// TestAKE3DHBothSidesAgree runs a full two-party 3DH exchange by ticking
// both sides and exchanging whatever messages each Step/HandleMessage
// call produces, until both converge, then checks that each side's
// derived TX key equals the other's derived RX key.
func TestAKE3DHBothSidesAgree(t *testing.T) {
	aIdentity, err := ucrypto.NewPrivateKey()
	require.NoError(t, err)
	bIdentity, err := ucrypto.NewPrivateKey()
	require.NoError(t, err)

	var sessionID [4]byte
	copy(sessionID[:], []byte{1, 2, 3, 4})

	a, err := newAKE3DHSession(sessionID, stubRNG{}, aIdentity)
	require.NoError(t, err)
	b, err := newAKE3DHSession(sessionID, stubRNG{seed: 1}, bIdentity)
	require.NoError(t, err)

	var toB, toA []AKEMessage
	for tick := 0; tick < 50 && !(a.Done() && b.Done()); tick++ {
		toB = append(toB, a.Step(250)...)
		toA = append(toA, b.Step(250)...)

		var nextToB, nextToA []AKEMessage
		for _, msg := range toA {
			if reply := a.HandleMessage(msg); reply != nil {
				nextToB = append(nextToB, *reply)
			}
		}
		for _, msg := range toB {
			if reply := b.HandleMessage(msg); reply != nil {
				nextToA = append(nextToA, *reply)
			}
		}
		toA, toB = nextToA, nextToB
	}

	require.True(t, a.Done(), "A's exchange did not converge")
	require.True(t, b.Done(), "B's exchange did not converge")
	require.True(t, a.OK(), "A's exchange did not succeed")
	require.True(t, b.OK(), "B's exchange did not succeed")

	aTX, aRX := a.Keys()
	bTX, bRX := b.Keys()
	require.Equal(t, aTX, bRX, "A's TX key must equal B's RX key")
	require.Equal(t, aRX, bTX, "A's RX key must equal B's TX key")
}

// TestAKE3DHRoleDeterminedByEphemeralKeyComparison checks that role
// assignment follows the byte-comparison of the two ephemeral public
// keys, not any other ordering.
func TestAKE3DHRoleDeterminedByEphemeralKeyComparison(t *testing.T) {
	aIdentity, err := ucrypto.NewPrivateKey()
	require.NoError(t, err)
	bIdentity, err := ucrypto.NewPrivateKey()
	require.NoError(t, err)

	var sessionID [4]byte
	a, err := newAKE3DHSession(sessionID, stubRNG{}, aIdentity)
	require.NoError(t, err)
	b, err := newAKE3DHSession(sessionID, stubRNG{seed: 1}, bIdentity)
	require.NoError(t, err)

	aEPK := a.ephemeral.Public()
	bEPK := b.ephemeral.Public()
	require.NotEqual(t, aEPK, bEPK, "test fixture requires distinct ephemeral keys")

	a.peerEphemeralPK, a.havePeerEPK = bEPK, true
	a.advance()
	b.peerEphemeralPK, b.havePeerEPK = aEPK, true
	b.advance()

	if bytes.Compare(aEPK[:], bEPK[:]) < 0 {
		require.Equal(t, roleAlice, a.role)
		require.Equal(t, roleBob, b.role)
	} else {
		require.Equal(t, roleBob, a.role)
		require.Equal(t, roleAlice, b.role)
	}
}

// TestAKE3DHEqualEphemeralKeysIsAnError checks the degenerate
// equal-ephemeral-keys case is treated as an error, per the glossary's
// "Equal keys are an error (ALICE assumed temporarily for progress)".
func TestAKE3DHEqualEphemeralKeysIsAnError(t *testing.T) {
	identity, err := ucrypto.NewPrivateKey()
	require.NoError(t, err)

	var sessionID [4]byte
	a, err := newAKE3DHSession(sessionID, stubRNG{}, identity)
	require.NoError(t, err)

	a.peerEphemeralPK = a.ephemeral.Public()
	a.havePeerEPK = true
	a.advance()

	require.Equal(t, roleAlice, a.role)
	require.True(t, a.Done())
	require.False(t, a.OK())
}
